package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/indexing"
)

// Config represents the complete repoindex configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Index   IndexConfig   `yaml:"index" json:"index"`
	Graph   GraphConfig   `yaml:"graph" json:"graph"`
	Types   TypesConfig   `yaml:"types" json:"types"`
	Queue   QueueConfig   `yaml:"queue" json:"queue"`
	Cache   CacheConfig   `yaml:"cache" json:"cache"`
	Spool   SpoolConfig   `yaml:"spool" json:"spool"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// IndexConfig configures the search index.
type IndexConfig struct {
	// Path is the bleve index directory. Relative paths resolve against the
	// data directory.
	Path string `yaml:"path" json:"path"`

	// AutoCommitDocs commits once this many writes are pending.
	AutoCommitDocs int `yaml:"auto_commit_docs" json:"auto_commit_docs"`

	// AddMode selects how ADD writes: "add" replaces the record, "update"
	// merges into it.
	AddMode string `yaml:"add_mode" json:"add_mode"`

	// CommitInterval is how often the daemon commits pending writes.
	CommitInterval string `yaml:"commit_interval" json:"commit_interval"`
}

// GraphConfig configures the content graph store.
type GraphConfig struct {
	Path string `yaml:"path" json:"path"`
}

// TypesConfig is the node type model used to classify graph nodes.
type TypesConfig struct {
	RootID     string   `yaml:"root_id" json:"root_id"`
	Containers []string `yaml:"containers" json:"containers"`
	Leaves     []string `yaml:"leaves" json:"leaves"`
	Tombstone  string   `yaml:"tombstone" json:"tombstone"`
}

// QueueConfig configures the operation queue.
type QueueConfig struct {
	Workers         int     `yaml:"workers" json:"workers"`
	MaxOpsPerSecond float64 `yaml:"max_ops_per_second" json:"max_ops_per_second"`

	MaxRetries        int    `yaml:"max_retries" json:"max_retries"`
	RetryInitialDelay string `yaml:"retry_initial_delay" json:"retry_initial_delay"`
	RetryMaxDelay     string `yaml:"retry_max_delay" json:"retry_max_delay"`

	// BreakerMaxFailures consecutive index failures open the circuit.
	BreakerMaxFailures  int    `yaml:"breaker_max_failures" json:"breaker_max_failures"`
	BreakerResetTimeout string `yaml:"breaker_reset_timeout" json:"breaker_reset_timeout"`
}

// CacheConfig configures in-memory caches.
type CacheConfig struct {
	PathCacheSize int `yaml:"path_cache_size" json:"path_cache_size"`
}

// SpoolConfig configures request file intake.
type SpoolConfig struct {
	Dir string `yaml:"dir" json:"dir"`
	// PollInterval is how often the directory is rescanned for files the
	// watcher missed, and the only intake when file events are unavailable.
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      bool   `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// Default relative locations inside the data directory.
const (
	DefaultIndexDir  = "index.bleve"
	DefaultGraphFile = "graph.db"
	DefaultSpoolDir  = "spool"
)

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Index: IndexConfig{
			Path:           DefaultIndexDir,
			AutoCommitDocs: 1000,
			AddMode:        string(indexing.AddModeAdd),
			CommitInterval: "5s",
		},
		Graph: GraphConfig{
			Path: DefaultGraphFile,
		},
		Types: TypesConfig{
			RootID: indexing.DefaultRootID,
			Containers: []string{
				indexing.TypeContentRoot,
				indexing.TypeAdminUnit,
				indexing.TypeCollection,
				indexing.TypeFolder,
				indexing.TypeWork,
			},
			Leaves:    []string{indexing.TypeFile},
			Tombstone: indexing.TypeTombstone,
		},
		Queue: QueueConfig{
			Workers:             4,
			MaxRetries:          3,
			RetryInitialDelay:   "500ms",
			RetryMaxDelay:       "8s",
			BreakerMaxFailures:  5,
			BreakerResetTimeout: "30s",
		},
		Cache: CacheConfig{
			PathCacheSize: 10000,
		},
		Spool: SpoolConfig{
			Dir:          DefaultSpoolDir,
			PollInterval: "30s",
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      true,
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/repoindex/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/repoindex/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "repoindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "repoindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "repoindex", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load loads configuration for the project in dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/repoindex/config.yaml)
//  3. Project config (.repoindex.yaml in dir)
//  4. .env in dir (never overrides variables already set)
//  5. Environment variables (REPOINDEX_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	if envPath := filepath.Join(dir, ".env"); fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, apperrors.ConfigError("failed to load .env", err).WithDetail("path", envPath)
		}
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile attempts to load configuration from .repoindex.yaml or .repoindex.yml.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".repoindex.yaml", ".repoindex.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeConfigNotFound, "failed to read config file", err).
			WithDetail("path", path)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return apperrors.ConfigError("failed to parse config file", err).WithDetail("path", path)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	mergeString(&c.Index.Path, other.Index.Path)
	mergeInt(&c.Index.AutoCommitDocs, other.Index.AutoCommitDocs)
	mergeString(&c.Index.AddMode, other.Index.AddMode)
	mergeString(&c.Index.CommitInterval, other.Index.CommitInterval)

	mergeString(&c.Graph.Path, other.Graph.Path)

	mergeString(&c.Types.RootID, other.Types.RootID)
	if len(other.Types.Containers) > 0 {
		c.Types.Containers = other.Types.Containers
	}
	if len(other.Types.Leaves) > 0 {
		c.Types.Leaves = other.Types.Leaves
	}
	mergeString(&c.Types.Tombstone, other.Types.Tombstone)

	mergeInt(&c.Queue.Workers, other.Queue.Workers)
	if other.Queue.MaxOpsPerSecond != 0 {
		c.Queue.MaxOpsPerSecond = other.Queue.MaxOpsPerSecond
	}
	mergeInt(&c.Queue.MaxRetries, other.Queue.MaxRetries)
	mergeString(&c.Queue.RetryInitialDelay, other.Queue.RetryInitialDelay)
	mergeString(&c.Queue.RetryMaxDelay, other.Queue.RetryMaxDelay)
	mergeInt(&c.Queue.BreakerMaxFailures, other.Queue.BreakerMaxFailures)
	mergeString(&c.Queue.BreakerResetTimeout, other.Queue.BreakerResetTimeout)

	mergeInt(&c.Cache.PathCacheSize, other.Cache.PathCacheSize)
	mergeString(&c.Spool.Dir, other.Spool.Dir)
	mergeString(&c.Spool.PollInterval, other.Spool.PollInterval)

	mergeString(&c.Logging.Level, other.Logging.Level)
	mergeInt(&c.Logging.MaxSizeMB, other.Logging.MaxSizeMB)
	mergeInt(&c.Logging.MaxFiles, other.Logging.MaxFiles)
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies REPOINDEX_* environment variable overrides.
// Unparseable numbers are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("REPOINDEX_INDEX_PATH"); v != "" {
		c.Index.Path = v
	}
	if v := os.Getenv("REPOINDEX_ADD_MODE"); v != "" {
		c.Index.AddMode = v
	}
	if v := os.Getenv("REPOINDEX_GRAPH_PATH"); v != "" {
		c.Graph.Path = v
	}
	if v := os.Getenv("REPOINDEX_ROOT_ID"); v != "" {
		c.Types.RootID = v
	}
	if v := os.Getenv("REPOINDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.Workers = n
		}
	}
	if v := os.Getenv("REPOINDEX_MAX_OPS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.Queue.MaxOpsPerSecond = f
		}
	}
	if v := os.Getenv("REPOINDEX_SPOOL_DIR"); v != "" {
		c.Spool.Dir = v
	}
	if v := os.Getenv("REPOINDEX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("REPOINDEX_LOG_FILE"); v != "" {
		c.Logging.File = strings.ToLower(v) == "true" || v == "1"
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Types.RootID) == "" {
		return invalid("types.root_id must not be empty")
	}
	if len(c.Types.Containers) == 0 {
		return invalid("types.containers must list at least one type")
	}
	if c.Types.Tombstone == "" {
		return invalid("types.tombstone must not be empty")
	}

	seen := make(map[string]string)
	claim := func(t, set string) error {
		if prev, ok := seen[t]; ok && prev != set {
			return invalid(fmt.Sprintf("type %q is listed in both %s and %s", t, prev, set))
		}
		seen[t] = set
		return nil
	}
	for _, t := range c.Types.Containers {
		if err := claim(t, "types.containers"); err != nil {
			return err
		}
	}
	for _, t := range c.Types.Leaves {
		if err := claim(t, "types.leaves"); err != nil {
			return err
		}
	}
	if err := claim(c.Types.Tombstone, "types.tombstone"); err != nil {
		return err
	}

	if c.Queue.Workers < 1 {
		return invalid(fmt.Sprintf("queue.workers must be at least 1, got %d", c.Queue.Workers))
	}
	if c.Queue.MaxOpsPerSecond < 0 {
		return invalid(fmt.Sprintf("queue.max_ops_per_second must be non-negative, got %g", c.Queue.MaxOpsPerSecond))
	}
	if c.Queue.MaxRetries < 0 {
		return invalid(fmt.Sprintf("queue.max_retries must be non-negative, got %d", c.Queue.MaxRetries))
	}
	if _, err := indexing.ParseAddMode(c.Index.AddMode); err != nil {
		return invalid(fmt.Sprintf("index.add_mode must be 'add' or 'update', got %s", c.Index.AddMode))
	}

	for name, v := range map[string]string{
		"index.commit_interval":       c.Index.CommitInterval,
		"queue.retry_initial_delay":   c.Queue.RetryInitialDelay,
		"queue.retry_max_delay":       c.Queue.RetryMaxDelay,
		"queue.breaker_reset_timeout": c.Queue.BreakerResetTimeout,
		"spool.poll_interval":         c.Spool.PollInterval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return invalid(fmt.Sprintf("%s is not a duration: %s", name, v))
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return invalid(fmt.Sprintf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level))
	}
	return nil
}

func invalid(msg string) error {
	return apperrors.ConfigError(msg, nil).
		WithSuggestion("fix the value in .repoindex.yaml or run 'repoindex config show'")
}

// Classification returns the configured node type model.
func (c *Config) Classification() indexing.Classification {
	return indexing.NewClassification(c.Types.RootID, c.Types.Containers, c.Types.Leaves, c.Types.Tombstone)
}

// AddMode returns the parsed add mode. Validate has already checked it.
func (c *Config) AddMode() indexing.AddMode {
	mode, _ := indexing.ParseAddMode(c.Index.AddMode)
	return mode
}

// RetryConfig returns the queue retry policy.
func (c *Config) RetryConfig() apperrors.RetryConfig {
	rc := apperrors.DefaultRetryConfig()
	rc.MaxRetries = c.Queue.MaxRetries
	rc.InitialDelay = durationOr(c.Queue.RetryInitialDelay, rc.InitialDelay)
	rc.MaxDelay = durationOr(c.Queue.RetryMaxDelay, rc.MaxDelay)
	rc.Jitter = true
	return rc
}

// BreakerResetTimeout returns the circuit breaker reset timeout.
func (c *Config) BreakerResetTimeout() time.Duration {
	return durationOr(c.Queue.BreakerResetTimeout, 30*time.Second)
}

// CommitInterval returns the daemon commit interval.
func (c *Config) CommitInterval() time.Duration {
	return durationOr(c.Index.CommitInterval, 5*time.Second)
}

// SpoolPollInterval returns the spool rescan interval.
func (c *Config) SpoolPollInterval() time.Duration {
	return durationOr(c.Spool.PollInterval, 30*time.Second)
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Resolve returns path anchored at dataDir unless it is already absolute.
func Resolve(dataDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dataDir, path)
}

// WriteYAML writes the configuration to a YAML file, creating parent
// directories. An existing file is kept as path.bak.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if fileExists(path) {
		if err := os.Rename(path, path+".bak"); err != nil {
			return fmt.Errorf("failed to back up existing config: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
