package cmd

import (
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/daemon"
	"github.com/Aman-CERP/repoindex/internal/output"
	"github.com/Aman-CERP/repoindex/internal/preflight"
	"github.com/Aman-CERP/repoindex/internal/ui"
	"github.com/Aman-CERP/repoindex/internal/watcher"
)

func newDaemonCmd() *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Process spooled requests until stopped",
		Long: `Run the indexing service in the foreground. The daemon holds the index lock,
watches the spool directory for request files, executes them on the worker
pool and commits pending writes periodically.

Other commands reach a running daemon with --spool. SIGINT or SIGTERM stops
intake, lets queued work finish within --grace and commits once more.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := preflightPaths()
			if err != nil {
				return err
			}
			checker := preflight.New(preflight.WithOutput(cmd.ErrOrStderr()))
			if results := checker.RunAll(cmd.Context(), paths); checker.HasCriticalFailures(results) {
				checker.PrintResults(results)
				return errPreflightFailed
			}

			rt, err := openRuntime(loadedConfig, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			spool := watcher.NewSpool(rt.spoolDir(), rt.queue, watcher.WithPollInterval(loadedConfig.SpoolPollInterval()))
			svc, err := daemon.New(daemon.Config{
				PIDPath:             filepath.Join(rt.dataDir, daemon.PIDFileName),
				CommitInterval:      rt.cfg.CommitInterval(),
				ShutdownGracePeriod: grace,
			}, rt.queue, rt.registry, spool, rt.index)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout(), ui.PlainOutput(cmd.OutOrStdout(), noColor))
			out.Successf("daemon started, watching %s", spool.Dir())
			if err := svc.Run(cmd.Context()); err != nil {
				return err
			}

			stats := spool.Stats()
			out.Successf("daemon stopped: %d files, %d requests, %d rejected, %d commits",
				stats.Files, stats.Dispatched, stats.Rejected, svc.Commits())
			return nil
		},
	}

	cmd.Flags().DurationVar(&grace, "grace", 30*time.Second, "How long queued work may run after a stop signal")

	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())
	return cmd
}

// daemonPIDFile returns the PID file of the daemon for the data directory.
func daemonPIDFile() (*daemon.PIDFile, error) {
	dir, err := resolvedDataDir()
	if err != nil {
		return nil, err
	}
	return daemon.NewPIDFile(filepath.Join(dir, daemon.PIDFileName)), nil
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask a running daemon to shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pid, err := daemonPIDFile()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout(), ui.PlainOutput(cmd.OutOrStdout(), noColor))
			if !pid.IsRunning() {
				out.Warningf("daemon is not running")
				return nil
			}
			if err := pid.Signal(syscall.SIGTERM); err != nil {
				return err
			}
			out.Successf("sent SIGTERM to daemon")
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether a daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pid, err := daemonPIDFile()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout(), ui.PlainOutput(cmd.OutOrStdout(), noColor))
			n, state, err := pid.Probe()
			if err != nil {
				return err
			}
			switch state {
			case daemon.ProcessAbsent:
				out.Warningf("daemon is not running")
				return nil
			case daemon.ProcessStale:
				out.Warningf("daemon is not running (stale PID file %s)", pid.Path())
				return nil
			}
			out.Successf("daemon is running")
			out.KeyValue("pid", n)
			out.KeyValue("pid file", pid.Path())
			return nil
		},
	}
}
