package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/config"
	"github.com/Aman-CERP/repoindex/internal/store"
	"github.com/Aman-CERP/repoindex/internal/ui"
	"github.com/Aman-CERP/repoindex/internal/watcher"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index, graph and spool state",
		Long: `Display the document count and size of the search index, the node count and
membership generation of the graph, and the spool backlog.

The index is not opened while another process holds the lock; its document
count is then reported as unavailable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := collectStatus(cmd)
			if err != nil {
				return err
			}
			r := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)
			if jsonOutput {
				return r.RenderJSON(info)
			}
			return r.Render(info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func collectStatus(cmd *cobra.Command) (ui.StatusInfo, error) {
	ctx := cmd.Context()
	dir, err := resolvedDataDir()
	if err != nil {
		return ui.StatusInfo{}, err
	}
	cfg := loadedConfig

	info := ui.StatusInfo{
		DataDir:   dir,
		IndexPath: config.Resolve(dir, cfg.Index.Path),
		GraphPath: config.Resolve(dir, cfg.Graph.Path),
		SpoolDir:  config.Resolve(dir, cfg.Spool.Dir),
	}

	info.Locked, err = store.IsLocked(dir)
	if err != nil {
		return info, err
	}

	if exists(info.IndexPath) {
		info.IndexSize, info.LastModified, err = dirSize(info.IndexPath)
		if err != nil {
			return info, err
		}
		if !info.Locked {
			idx, err := store.NewSearchIndex(store.SearchIndexConfig{Path: info.IndexPath})
			if err != nil {
				return info, err
			}
			info.Documents, err = idx.Count()
			_ = idx.Close()
			if err != nil {
				return info, err
			}
			info.IndexAvailable = true
		}
	}

	if exists(info.GraphPath) {
		g, err := store.NewGraphStore(info.GraphPath)
		if err != nil {
			return info, err
		}
		defer func() { _ = g.Close() }()
		if info.Nodes, err = g.Count(ctx); err != nil {
			return info, err
		}
		if info.GraphVersion, err = g.Generation(ctx); err != nil {
			return info, err
		}
	}

	info.SpoolQueued, info.SpoolRejected, err = watcher.Backlog(info.SpoolDir)
	if err != nil {
		return info, err
	}

	slog.Debug("status collected",
		slog.String("data_dir", dir),
		slog.Bool("locked", info.Locked),
		slog.Uint64("documents", info.Documents))
	return info, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
