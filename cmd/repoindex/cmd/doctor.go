package cmd

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/config"
	"github.com/Aman-CERP/repoindex/internal/preflight"
)

// errPreflightFailed is returned when a required check fails.
var errPreflightFailed = errors.New("preflight checks failed")

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the data directory can host an index",
		Long: `Run the preflight checks the daemon runs on startup: write access and free
space in the data directory, the open file limit, the index lock, the graph
database and rejected spool files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := preflightPaths()
			if err != nil {
				return err
			}
			checker := preflight.New(preflight.WithOutput(cmd.OutOrStdout()), preflight.WithVerbose(verbose))
			results := checker.RunAll(cmd.Context(), paths)

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}
			if checker.HasCriticalFailures(results) {
				return errPreflightFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for each check")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func preflightPaths() (preflight.Paths, error) {
	dir, err := resolvedDataDir()
	if err != nil {
		return preflight.Paths{}, err
	}
	return preflight.Paths{
		DataDir:   dir,
		GraphPath: config.Resolve(dir, loadedConfig.Graph.Path),
		SpoolDir:  config.Resolve(dir, loadedConfig.Spool.Dir),
	}, nil
}
