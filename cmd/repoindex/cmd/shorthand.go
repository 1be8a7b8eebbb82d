package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/indexing"
)

func newReindexCmd() *cobra.Command {
	var (
		opts            submitOptions
		clean           bool
		noCleanup       bool
		descendantsOnly bool
	)

	cmd := &cobra.Command{
		Use:   "reindex <id>",
		Short: "Reindex a node and its subtree",
		Long: `Reindex a node and everything beneath it.

By default the subtree is refreshed in place and records under it that were
not rewritten during the run are deleted afterwards. --clean deletes the
subtree first and rebuilds it; --no-cleanup only adds; --descendants-only
skips the node itself.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := indexing.ActionRecursiveReindex
			switch {
			case clean:
				action = indexing.ActionCleanReindex
			case noCleanup:
				action = indexing.ActionRecursiveAdd
			case descendantsOnly:
				action = indexing.ActionRecursiveDescendants
			}
			return submitOne(cmd, opts, args[0], action)
		},
	}

	opts.register(cmd)
	cmd.Flags().BoolVar(&clean, "clean", false, "Delete the subtree from the index before rebuilding it")
	cmd.Flags().BoolVar(&noCleanup, "no-cleanup", false, "Add the subtree without removing stale records")
	cmd.Flags().BoolVar(&descendantsOnly, "descendants-only", false, "Index descendants but not the node itself")
	cmd.MarkFlagsMutuallyExclusive("clean", "no-cleanup", "descendants-only")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var (
		opts submitOptions
		tree bool
	)

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a node's record from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := indexing.ActionDelete
			if tree {
				action = indexing.ActionDeleteTree
			}
			return submitOne(cmd, opts, args[0], action)
		},
	}

	opts.register(cmd)
	cmd.Flags().BoolVar(&tree, "tree", false, "Also remove every record beneath the node")
	return cmd
}

func newClearCmd() *cobra.Command {
	var (
		opts submitOptions
		yes  bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every record in the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the index without --yes")
			}
			return submitOne(cmd, opts, "", indexing.ActionClearIndex)
		},
	}

	opts.register(cmd)
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm clearing the whole index")
	return cmd
}

func newCommitCmd() *cobra.Command {
	var opts submitOptions

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Make pending index writes visible",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return submitOne(cmd, opts, "", indexing.ActionCommit)
		},
	}

	opts.register(cmd)
	return cmd
}

func submitOne(cmd *cobra.Command, opts submitOptions, target string, action indexing.ActionType) error {
	req, err := indexing.NewRequest(target, action, indexing.WithUser(opts.user))
	if err != nil {
		return err
	}
	return submit(cmd, opts, cmd.Name()+" "+target, req)
}
