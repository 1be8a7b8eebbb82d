// Package cmd provides the CLI commands for repoindex.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/config"
	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/logging"
	"github.com/Aman-CERP/repoindex/internal/profiling"
	"github.com/Aman-CERP/repoindex/pkg/version"
)

// DefaultDataDirName is the data directory created inside the config
// directory when --data-dir is not given.
const DefaultDataDirName = ".repoindex"

// skipConfigAnnotation marks commands that must work without a valid config.
const skipConfigAnnotation = "repoindex/skip-config"

// Global flags
var (
	configDir string
	dataDir   string
	debugMode bool
	noColor   bool
)

// Profiling flags
var (
	profileOpts    profiling.Options
	profileSession *profiling.Session
)

var (
	loadedConfig   *config.Config
	loggingCleanup func()
)

// NewRootCmd creates the root command for the repoindex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repoindex",
		Short: "Keep a search index in sync with a content graph",
		Long: `repoindex maintains a bleve search index over a hierarchical content graph.

Operations are dispatched to an in-process queue and executed by a worker
pool: single-node adds, updates and deletes, whole-subtree reindexes with
stale-record cleanup, and moves.

Run 'repoindex daemon' to process request files dropped into the spool
directory, or use 'repoindex run' for one-off operations.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("repoindex version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory containing .repoindex.yaml and .env")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for the index, graph and spool (default <config-dir>/.repoindex)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr and ~/.repoindex/logs/")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = setup
	cmd.PersistentPostRunE = teardown

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newCommitCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newGraphCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newActionsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads configuration, then starts logging and profiling.
func setup(cmd *cobra.Command, _ []string) error {
	loadedConfig = nil
	if cmd.Annotations[skipConfigAnnotation] != "true" {
		cfg, err := config.Load(configDir)
		if err != nil {
			return err
		}
		loadedConfig = cfg
	}

	logCfg := loggingConfig(loadedConfig)
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	if debugMode {
		slog.Debug("debug logging enabled",
			slog.String("log_file", logCfg.FilePath),
			slog.String("version", version.Version),
			slog.String("command", cmd.CommandPath()))
	}

	if profileOpts.Enabled() {
		s, err := profiling.Start(profileOpts)
		if err != nil {
			return err
		}
		profileSession = s
	}
	return nil
}

// teardown stops profiling and flushes the log file.
func teardown(_ *cobra.Command, _ []string) error {
	var err error
	if profileSession != nil {
		err = profileSession.Stop()
		profileSession = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// loggingConfig derives logging settings. File logging follows the config
// unless --debug forces it; stderr receives logs only with --debug or when
// there is no log file.
func loggingConfig(cfg *config.Config) logging.Config {
	lc := logging.DefaultConfig()
	lc.Stderr = nil
	fileLogging := true
	if cfg != nil {
		lc.Level = cfg.Logging.Level
		lc.MaxSizeMB = cfg.Logging.MaxSizeMB
		lc.MaxFiles = cfg.Logging.MaxFiles
		fileLogging = cfg.Logging.File
	}
	if debugMode {
		lc.Level = "debug"
		fileLogging = true
		lc.Stderr = os.Stderr
	}
	if !fileLogging {
		lc.FilePath = ""
		lc.Stderr = os.Stderr
	}
	return lc
}

// resolvedDataDir returns --data-dir, defaulting to <config-dir>/.repoindex.
func resolvedDataDir() (string, error) {
	dir := dataDir
	if dir == "" {
		dir = filepath.Join(configDir, DefaultDataDirName)
	}
	return filepath.Abs(dir)
}

// Execute runs the root command, cancelling its context on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	switch {
	case err == nil:
	case apperrors.GetCode(err) != "":
		_, _ = fmt.Fprint(os.Stderr, apperrors.FormatForCLI(err))
	default:
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}
