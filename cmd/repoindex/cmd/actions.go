package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/indexing"
)

// actionSummaries describe each action tag for 'repoindex actions'.
var actionSummaries = map[indexing.ActionType]string{
	indexing.ActionAdd:                  "Build the target's document and add it (or update, per index.add_mode)",
	indexing.ActionUpdate:               "Rebuild the target's document and update it in place",
	indexing.ActionUpdatePath:           "Rewrite only the target's ancestor path and parent",
	indexing.ActionDelete:               "Delete the target's record",
	indexing.ActionDeleteTree:           "Delete the target and every record under it",
	indexing.ActionDeleteStaleChildren:  "Delete records under the target older than staleTimestamp",
	indexing.ActionClearIndex:           "Delete every record",
	indexing.ActionCommit:               "Flush pending index writes",
	indexing.ActionRecursiveAdd:         "Add the target and its whole subtree",
	indexing.ActionRecursiveDescendants: "Add the target's subtree without the target",
	indexing.ActionRecursiveReindex:     "Re-add a subtree, then delete records it no longer contains",
	indexing.ActionCleanReindex:         "Delete a subtree's records, then add it again",
	indexing.ActionRecursiveAddSet:      "Add the target and the subtrees of the listed children",
	indexing.ActionMove:                 "Re-add a moved node and rewrite its descendants' paths",
}

func newActionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List registered action tags",
		Args:  cobra.NoArgs,
		Annotations: map[string]string{
			skipConfigAnnotation: "true",
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, t := range indexing.NewDefaultRegistry(indexing.Deps{}).Types() {
				_, _ = fmt.Fprintf(tw, "%s\t%s\n", t, actionSummaries[t])
			}
			return tw.Flush()
		},
	}
}
