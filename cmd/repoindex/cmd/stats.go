package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/telemetry"
)

// StatsOutput is the JSON output format for operation stats.
type StatsOutput struct {
	From           string                    `json:"from"`
	To             string                    `json:"to"`
	Total          int64                     `json:"total"`
	Failed         int64                     `json:"failed"`
	Actions        []telemetry.ActionCounts  `json:"actions"`
	Latency        map[string]int64          `json:"latency_distribution"`
	RecentFailures []telemetry.FailureRecord `json:"recent_failures"`
}

var bucketLabels = map[telemetry.LatencyBucket]string{
	telemetry.BucketP10:   "<10ms",
	telemetry.BucketP50:   "10-50ms",
	telemetry.BucketP100:  "50-100ms",
	telemetry.BucketP500:  "100-500ms",
	telemetry.BucketP1000: ">500ms",
}

func newStatsCmd() *cobra.Command {
	var jsonOutput bool
	var days int
	var failures int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show operation statistics",
		Long: `Display per-action operation counts, the latency distribution and the most
recent failures recorded by earlier runs and the daemon.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 1 {
				return apperrors.ArgumentError(apperrors.ErrCodeInvalidInput, "--days", "must be at least 1")
			}
			out, err := collectStats(days, failures)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			printStats(cmd, out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")
	cmd.Flags().IntVar(&failures, "failures", 10, "Number of recent failures to show")
	return cmd
}

func collectStats(days, failures int) (*StatsOutput, error) {
	dir, err := resolvedDataDir()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := &StatsOutput{
		From:           now.AddDate(0, 0, -(days - 1)).Format(time.DateOnly),
		To:             now.Format(time.DateOnly),
		Actions:        []telemetry.ActionCounts{},
		Latency:        make(map[string]int64),
		RecentFailures: []telemetry.FailureRecord{},
	}

	path := filepath.Join(dir, telemetry.DBFileName)
	if !exists(path) {
		return out, nil
	}
	ms, err := telemetry.OpenSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ms.Close() }()

	actions, err := ms.ActionCounts(out.From, out.To)
	if err != nil {
		return nil, err
	}
	out.Actions = append(out.Actions, actions...)
	for _, a := range actions {
		out.Total += a.Completed + a.Failed
		out.Failed += a.Failed
	}

	latency, err := ms.LatencyCounts(out.From, out.To)
	if err != nil {
		return nil, err
	}
	for b, n := range latency {
		out.Latency[string(b)] = n
	}

	recent, err := ms.RecentFailures(failures)
	if err != nil {
		return nil, err
	}
	out.RecentFailures = append(out.RecentFailures, recent...)
	return out, nil
}

func printStats(cmd *cobra.Command, s *StatsOutput) {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Operation Statistics")
	fmt.Fprintln(w, "====================")
	fmt.Fprintf(w, "Period:     %s to %s\n", s.From, s.To)
	fmt.Fprintf(w, "Operations: %d\n", s.Total)
	fmt.Fprintf(w, "Failed:     %d\n", s.Failed)
	fmt.Fprintln(w)

	if len(s.Actions) == 0 {
		fmt.Fprintln(w, "Actions: (none recorded yet)")
		return
	}

	fmt.Fprintln(w, "Actions:")
	for _, a := range s.Actions {
		fmt.Fprintf(w, "  %-28s %6d ok %4d failed %4d retried\n", a.Action, a.Completed, a.Failed, a.Retried)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Latency Distribution:")
	for _, b := range telemetry.Buckets {
		if n, ok := s.Latency[string(b)]; ok {
			fmt.Fprintf(w, "  %-10s %d\n", bucketLabels[b], n)
		}
	}

	if len(s.RecentFailures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Recent Failures:")
		for _, f := range s.RecentFailures {
			fmt.Fprintf(w, "  %s %s %s: %s\n", f.Time.Local().Format(time.DateTime), f.Action, f.TargetID, f.Error)
		}
	}
}
