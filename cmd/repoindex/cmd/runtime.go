package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/repoindex/internal/config"
	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/indexing"
	"github.com/Aman-CERP/repoindex/internal/queue"
	"github.com/Aman-CERP/repoindex/internal/store"
	"github.com/Aman-CERP/repoindex/internal/telemetry"
	"github.com/Aman-CERP/repoindex/internal/ui"
)

// runtime is the wired set of collaborators behind the indexing actions.
type runtime struct {
	cfg      *config.Config
	dataDir  string
	lock     *store.IndexLock
	index    *store.SearchIndex
	guarded  *store.GuardedIndex
	graph    *store.GraphStore
	builder  *store.DocumentBuilder
	queue    *queue.Queue
	registry *indexing.Registry
	metrics  *telemetry.Metrics
	mstore   *telemetry.SQLiteStore
	reporter *ui.Reporter
	out      io.Writer
}

// openRuntime takes the index lock and opens the index and graph under the
// data directory. Failures are reported to out as they happen.
func openRuntime(cfg *config.Config, out io.Writer) (*runtime, error) {
	dir, err := resolvedDataDir()
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		dataDir:  dir,
		lock:     store.NewIndexLock(dir),
		reporter: ui.NewReporter(out, noColor),
		out:      out,
	}
	if err := rt.lock.Acquire(); err != nil {
		return nil, err
	}

	rt.index, err = store.NewSearchIndex(store.SearchIndexConfig{
		Path:           config.Resolve(dir, cfg.Index.Path),
		AutoCommitDocs: cfg.Index.AutoCommitDocs,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	rt.graph, err = store.NewGraphStore(config.Resolve(dir, cfg.Graph.Path))
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	rt.mstore, err = telemetry.OpenSQLiteStore(filepath.Join(dir, telemetry.DBFileName))
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.metrics = telemetry.New(rt.mstore, telemetry.DefaultConfig())

	types := cfg.Classification()
	breaker := apperrors.NewCircuitBreaker("search-index",
		apperrors.WithMaxFailures(cfg.Queue.BreakerMaxFailures),
		apperrors.WithResetTimeout(cfg.BreakerResetTimeout()))
	rt.guarded = store.NewGuardedIndex(rt.index, breaker)
	rt.builder = store.NewDocumentBuilder(rt.graph, types, cfg.Cache.PathCacheSize)

	rt.queue = queue.New(queue.Config{
		Workers:         cfg.Queue.Workers,
		MaxOpsPerSecond: cfg.Queue.MaxOpsPerSecond,
		Retry:           cfg.RetryConfig(),
		OnFailure: func(req *indexing.Request, err error) {
			rt.reporter.Fail(ui.Failure{
				RequestID: req.ID,
				Action:    req.Action.String(),
				TargetID:  req.TargetID,
				Err:       err,
			})
		},
		OnDone: func(o queue.Outcome) {
			rt.metrics.Record(telemetry.OperationEvent{
				Action:   o.Request.Action.String(),
				TargetID: o.Request.TargetID,
				Duration: o.Duration,
				Retries:  max(o.Attempts-1, 0),
				Err:      o.Err,
			})
		},
	})

	rt.registry = indexing.NewDefaultRegistry(indexing.Deps{
		Graph:      rt.graph,
		Builder:    rt.builder,
		Index:      rt.guarded,
		Records:    rt.index,
		Paths:      rt.builder,
		Dispatcher: rt.queue,
		Types:      types,
		AddMode:    cfg.AddMode(),
		Scopes:     indexing.NewScopeLocker(),
	})

	slog.Debug("runtime opened",
		slog.String("data_dir", dir),
		slog.Int("workers", cfg.Queue.Workers),
		slog.String("add_mode", string(cfg.AddMode())))
	return rt, nil
}

// Close releases everything openRuntime acquired.
func (rt *runtime) Close() error {
	var errs []error
	if rt.builder != nil {
		hits, misses := rt.builder.CacheStats()
		slog.Debug("path cache", slog.Int64("hits", hits), slog.Int64("misses", misses))
	}
	if rt.metrics != nil {
		if err := rt.metrics.Close(); err != nil {
			slog.Warn("failed to flush metrics", slog.String("error", err.Error()))
		}
	}
	if rt.mstore != nil {
		errs = append(errs, rt.mstore.Close())
	}
	if rt.index != nil {
		errs = append(errs, rt.index.Close())
	}
	if rt.graph != nil {
		errs = append(errs, rt.graph.Close())
	}
	errs = append(errs, rt.lock.Release())
	return errors.Join(errs...)
}

// spoolDir returns the configured spool directory.
func (rt *runtime) spoolDir() string {
	return config.Resolve(rt.dataDir, rt.cfg.Spool.Dir)
}

// execute dispatches reqs, runs the worker pool until everything they
// spawned has finished, commits and prints a summary. It returns an error
// when any operation failed.
func (rt *runtime) execute(ctx context.Context, title string, reqs ...*indexing.Request) error {
	for _, req := range reqs {
		if _, err := rt.registry.Lookup(req.Action); err != nil {
			return err
		}
	}

	start := time.Now()
	view := ui.StartProgress(rt.out, title, rt.progress, noColor)
	defer view.Stop()

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	workersDone := make(chan error, 1)
	go func() { workersDone <- rt.queue.Run(workersCtx, rt.registry) }()

	for _, req := range reqs {
		if err := rt.queue.Dispatch(ctx, req); err != nil {
			return err
		}
	}

	drainErr := rt.queue.Drain(ctx)
	rt.queue.Close()
	stopWorkers()
	<-workersDone
	view.Stop()

	commitErr := rt.commit(context.WithoutCancel(ctx))

	stats := rt.queue.Stats()
	docs, _ := rt.index.Count()
	rt.reporter.Summary(ui.RunSummary{
		Title:      title,
		Duration:   time.Since(start),
		Dispatched: stats.Dispatched,
		Completed:  stats.Completed,
		Failed:     stats.Failed,
		Retried:    stats.Retried,
		Documents:  docs,
	})

	switch {
	case drainErr != nil:
		return fmt.Errorf("interrupted with %d operations outstanding: %w", stats.Pending+stats.InFlight, drainErr)
	case commitErr != nil:
		return commitErr
	case stats.Failed > 0:
		return fmt.Errorf("%d of %d operations failed", stats.Failed, stats.Dispatched)
	}
	return nil
}

// progress adapts queue counters for the live view.
func (rt *runtime) progress() ui.ProgressStats {
	s := rt.queue.Stats()
	return ui.ProgressStats{
		Dispatched: s.Dispatched,
		Completed:  s.Completed,
		Failed:     s.Failed,
		Retried:    s.Retried,
		Pending:    s.Pending,
		InFlight:   s.InFlight,
	}
}

// commit flushes pending writes through the registry.
func (rt *runtime) commit(ctx context.Context) error {
	req, err := indexing.NewRequest("", indexing.ActionCommit)
	if err != nil {
		return err
	}
	return rt.registry.Perform(ctx, req)
}

// dirSize sums the sizes of regular files under path.
func dirSize(path string) (int64, time.Time, error) {
	var size int64
	var modified time.Time
	err := filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		if info.ModTime().After(modified) {
			modified = info.ModTime()
		}
		return nil
	})
	return size, modified, err
}
