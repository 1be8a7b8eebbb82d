package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/repoindex/internal/config"
	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/indexing"
	"github.com/Aman-CERP/repoindex/internal/output"
	"github.com/Aman-CERP/repoindex/internal/store"
	"github.com/Aman-CERP/repoindex/internal/ui"
	"github.com/Aman-CERP/repoindex/internal/watcher"
)

// fixtureNode is one node of a graph import file. Members nest.
type fixtureNode struct {
	ID      string        `yaml:"id"`
	Title   string        `yaml:"title,omitempty"`
	Content string        `yaml:"content,omitempty"`
	Types   []string      `yaml:"types"`
	Members []fixtureNode `yaml:"members,omitempty"`
}

// fixture is a graph import file. Top-level nodes attach under Parent when
// it is set.
type fixture struct {
	Parent string        `yaml:"parent,omitempty"`
	Nodes  []fixtureNode `yaml:"nodes"`
}

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Inspect and edit the content graph",
		Long: `The content graph is the source of truth the index is built from: nodes,
their types and single-parent membership, stored in SQLite.`,
	}

	cmd.AddCommand(newGraphImportCmd())
	cmd.AddCommand(newGraphShowCmd())
	cmd.AddCommand(newGraphMoveCmd())
	cmd.AddCommand(newGraphTombstoneCmd())
	return cmd
}

// openGraph opens the graph store without taking the index lock.
func openGraph() (*store.GraphStore, error) {
	dir, err := resolvedDataDir()
	if err != nil {
		return nil, err
	}
	return store.NewGraphStore(config.Resolve(dir, loadedConfig.Graph.Path))
}

func newGraphImportCmd() *cobra.Command {
	var reindex bool

	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Load a node tree from a YAML file",
		Example: `  # tree.yaml
  nodes:
    - id: collections
      types: [ContentRoot]
      members:
        - id: unitA
          title: Unit A
          types: [AdminUnit]
          members:
            - {id: file1, types: [File], content: "hello"}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fx, err := readFixture(args[0])
			if err != nil {
				return err
			}

			var (
				g  *store.GraphStore
				rt *runtime
			)
			if reindex {
				rt, err = openRuntime(loadedConfig, cmd.OutOrStdout())
				if err != nil {
					return err
				}
				defer func() { _ = rt.Close() }()
				g = rt.graph
			} else {
				g, err = openGraph()
				if err != nil {
					return err
				}
				defer func() { _ = g.Close() }()
			}

			n, err := importFixture(cmd.Context(), g, fx)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout(), ui.PlainOutput(cmd.OutOrStdout(), noColor))
			out.Successf("imported %d nodes from %s", n, args[0])

			if rt == nil {
				return nil
			}
			reqs := make([]*indexing.Request, 0, len(fx.Nodes))
			for _, node := range fx.Nodes {
				req, err := indexing.NewRequest(node.ID, indexing.ActionRecursiveReindex)
				if err != nil {
					return err
				}
				reqs = append(reqs, req)
			}
			return rt.execute(cmd.Context(), "import "+args[0], reqs...)
		},
	}

	cmd.Flags().BoolVar(&reindex, "reindex", false, "Reindex each imported top-level node afterwards")
	return cmd
}

func readFixture(path string) (*fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	var fx fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, apperrors.ArgumentError(apperrors.ErrCodeInvalidInput, "",
			"fixture is not valid YAML: "+err.Error()).WithDetail("path", path)
	}
	if len(fx.Nodes) == 0 {
		return nil, apperrors.ArgumentError(apperrors.ErrCodeInvalidInput, "", "fixture has no nodes").
			WithDetail("path", path)
	}
	return &fx, nil
}

// importFixture writes nodes parent-first and returns how many were written.
func importFixture(ctx context.Context, g *store.GraphStore, fx *fixture) (int, error) {
	count := 0
	var put func(n fixtureNode, parent string) error
	put = func(n fixtureNode, parent string) error {
		err := g.PutNode(ctx, store.Node{
			ID:      n.ID,
			Title:   n.Title,
			Content: n.Content,
			Types:   n.Types,
		}, parent)
		if err != nil {
			return err
		}
		count++
		for _, m := range n.Members {
			if err := put(m, n.ID); err != nil {
				return err
			}
		}
		return nil
	}

	for _, n := range fx.Nodes {
		if err := put(n, fx.Parent); err != nil {
			return count, err
		}
	}
	return count, nil
}

func newGraphShowCmd() *cobra.Command {
	var indexed bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a node, its ancestry and members",
		Long: `Show a node, its ancestry and members. With --indexed the records indexed
beneath the node are listed too; this takes the index lock, so it fails while
the daemon is running.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			g, err := openGraph()
			if err != nil {
				return err
			}
			defer func() { _ = g.Close() }()

			node, err := g.Node(ctx, args[0])
			if err != nil {
				return err
			}
			parent, err := g.Parent(ctx, node.ID)
			if err != nil {
				return err
			}
			builder := store.NewDocumentBuilder(g, loadedConfig.Classification(), 0)
			path, err := builder.AncestorPath(ctx, node.ID)
			if err != nil {
				return err
			}
			members, err := g.QueryMembers(ctx, node.ID)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout(), ui.PlainOutput(cmd.OutOrStdout(), noColor))
			out.Statusf(">", "%s", node.ID)
			out.KeyValue("title", node.Title)
			out.KeyValue("types", strings.Join(node.Types, ", "))
			out.KeyValue("parent", parent)
			out.KeyValue("path", path)
			out.KeyValue("updated", node.UpdatedAt.Format("2006-01-02 15:04:05"))
			out.KeyValue("members", len(members))
			for _, m := range members {
				out.Status("", fmt.Sprintf("  %s [%s]", m.ID, strings.Join(m.Types, ", ")))
			}
			if !indexed {
				return nil
			}

			rt, err := openRuntime(loadedConfig, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			recs, err := rt.index.Find(ctx, indexing.Query{AncestorPath: path})
			if err != nil {
				return err
			}
			out.KeyValue("indexed", len(recs))
			for _, r := range recs {
				out.Status("", fmt.Sprintf("  %s [%s] %s", r.ID, r.ResourceType, r.AncestorPath))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&indexed, "indexed", false, "Also list the records indexed beneath the node")
	return cmd
}

func newGraphMoveCmd() *cobra.Command {
	var opts submitOptions

	cmd := &cobra.Command{
		Use:   "move <id> <new-parent>",
		Short: "Move a node and reindex it with its descendants",
		Long: `Reattach a node under a new parent in the graph, then dispatch MOVE: the node
is re-added and every descendant gets its ancestor path rewritten.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, parent := args[0], args[1]
			req, err := indexing.NewRequest(id, indexing.ActionMove, indexing.WithUser(opts.user))
			if err != nil {
				return err
			}

			if opts.spool {
				g, err := openGraph()
				if err != nil {
					return err
				}
				err = g.Move(cmd.Context(), id, parent)
				_ = g.Close()
				if err != nil {
					return err
				}
				return submit(cmd, opts, "", req)
			}

			rt, err := openRuntime(loadedConfig, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			if err := rt.graph.Move(cmd.Context(), id, parent); err != nil {
				return err
			}
			return rt.execute(cmd.Context(), fmt.Sprintf("move %s -> %s", id, parent), req)
		},
	}

	opts.register(cmd)
	return cmd
}

func newGraphTombstoneCmd() *cobra.Command {
	var opts submitOptions

	cmd := &cobra.Command{
		Use:   "tombstone <id>",
		Short: "Mark a node deleted and remove its subtree from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			g, err := openGraph()
			if err != nil {
				return err
			}
			node, err := g.Node(ctx, args[0])
			if err == nil {
				parent, perr := g.Parent(ctx, node.ID)
				err = perr
				if err == nil && !slices.Contains(node.Types, loadedConfig.Types.Tombstone) {
					node.Types = append(node.Types, loadedConfig.Types.Tombstone)
					node.UpdatedAt = time.Time{}
					err = g.PutNode(ctx, *node, parent)
				}
			}
			_ = g.Close()
			if err != nil {
				return err
			}

			req, err := indexing.NewRequest(args[0], indexing.ActionDeleteTree, indexing.WithUser(opts.user))
			if err != nil {
				return err
			}
			return submit(cmd, opts, "tombstone "+args[0], req)
		},
	}

	opts.register(cmd)
	return cmd
}
