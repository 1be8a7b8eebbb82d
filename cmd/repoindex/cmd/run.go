package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/config"
	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/indexing"
	"github.com/Aman-CERP/repoindex/internal/output"
	"github.com/Aman-CERP/repoindex/internal/ui"
	"github.com/Aman-CERP/repoindex/internal/watcher"
)

// submitOptions are shared by every command that issues requests.
type submitOptions struct {
	user  string
	spool bool
}

func (o *submitOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.user, "user", "", "User recorded on the request")
	cmd.Flags().BoolVar(&o.spool, "spool", false, "Hand the request to a running daemon through its spool directory")
}

func newRunCmd() *cobra.Command {
	var (
		opts     submitOptions
		children []string
		params   []string
	)

	cmd := &cobra.Command{
		Use:   "run <action> [target]",
		Short: "Run one indexing operation",
		Long: `Dispatch a single operation by action tag and wait for it and everything it
spawns to finish. Pending writes are committed at the end.

Run 'repoindex actions' for the list of tags.`,
		Example: `  repoindex run RECURSIVE_REINDEX collections
  repoindex run RECURSIVE_ADD_SET unitA --child folder1 --child folder2
  repoindex run DELETE_CHILDREN_PRIOR_TO_TIMESTAMP unitA --param staleTimestamp=2026-01-02T15:04:05Z
  repoindex run COMMIT`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := indexing.ActionType(strings.ToUpper(args[0]))
			target := ""
			if len(args) == 2 {
				target = args[1]
			}

			reqOpts := []indexing.RequestOption{indexing.WithUser(opts.user)}
			if cmd.Flags().Changed("child") {
				reqOpts = append(reqOpts, indexing.WithChildren(children...))
			}
			for _, p := range params {
				key, value, ok := strings.Cut(p, "=")
				if !ok || key == "" {
					return apperrors.ArgumentError(apperrors.ErrCodeInvalidParam, target,
						fmt.Sprintf("parameter %q is not key=value", p))
				}
				reqOpts = append(reqOpts, indexing.WithParam(key, value))
			}

			req, err := indexing.NewRequest(target, action, reqOpts...)
			if err != nil {
				return err
			}
			return submit(cmd, opts, fmt.Sprintf("%s %s", action, target), req)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringArrayVar(&children, "child", nil, "Explicit child id (repeatable)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Action parameter as key=value (repeatable)")
	return cmd
}

// submit executes reqs in-process, or writes them to the spool with --spool.
func submit(cmd *cobra.Command, opts submitOptions, title string, reqs ...*indexing.Request) error {
	if opts.spool {
		dir, err := resolvedDataDir()
		if err != nil {
			return err
		}
		path, err := watcher.Submit(config.Resolve(dir, loadedConfig.Spool.Dir), reqs...)
		if err != nil {
			return err
		}
		output.New(cmd.OutOrStdout(), ui.PlainOutput(cmd.OutOrStdout(), noColor)).
			Successf("queued %d request(s) in %s", len(reqs), path)
		return nil
	}

	rt, err := openRuntime(loadedConfig, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	return rt.execute(cmd.Context(), strings.TrimSpace(title), reqs...)
}
