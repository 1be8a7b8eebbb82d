package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/repoindex/internal/indexing"
	"github.com/Aman-CERP/repoindex/internal/queue"
)

// ErrAlreadyRunning is returned when another live process owns the PID file.
var ErrAlreadyRunning = errors.New("daemon already running")

// finalCommitTimeout bounds the commit issued after the queue is drained.
const finalCommitTimeout = 10 * time.Second

// Intake feeds requests into the queue until ctx is cancelled.
// *watcher.Spool satisfies it.
type Intake interface {
	Run(ctx context.Context) error
}

// PendingCounter reports index writes not yet committed.
type PendingCounter interface {
	Pending() int
}

// Service runs queue workers alongside an intake and a commit ticker.
type Service struct {
	cfg       Config
	queue     *queue.Queue
	performer queue.Performer
	intake    Intake
	pending   PendingCounter
	pid       *PIDFile

	commits atomic.Uint64
}

// New creates a service. intake and pending may be nil; without a
// PendingCounter every tick commits.
func New(cfg Config, q *queue.Queue, p queue.Performer, intake Intake, pending PendingCounter) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon config: %w", err)
	}
	return &Service{
		cfg:       cfg,
		queue:     q,
		performer: p,
		intake:    intake,
		pending:   pending,
		pid:       NewPIDFile(cfg.PIDPath),
	}, nil
}

// PIDFile returns the service's PID file.
func (s *Service) PIDFile() *PIDFile {
	return s.pid
}

// Commits returns how many periodic commits have been dispatched.
func (s *Service) Commits() uint64 {
	return s.commits.Load()
}

// Run blocks until ctx is cancelled or the intake fails. On the way out it
// stops intake, lets queued work finish within the grace period, commits
// once more and removes the PID file.
func (s *Service) Run(ctx context.Context) error {
	if s.pid.IsRunning() {
		return fmt.Errorf("%w (pid file %s)", ErrAlreadyRunning, s.pid.Path())
	}
	if err := s.pid.Write(); err != nil {
		return err
	}
	defer func() {
		if err := s.pid.Remove(); err != nil {
			slog.Warn("failed to remove pid file", slog.String("error", err.Error()))
		}
	}()

	// Workers outlive ctx so queued work can drain after a stop signal.
	workCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()
	workersDone := make(chan error, 1)
	go func() { workersDone <- s.queue.Run(workCtx, s.performer) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if s.intake != nil {
		g.Go(func() error { return s.intake.Run(gctx) })
	}
	if s.cfg.CommitInterval > 0 {
		g.Go(func() error {
			s.commitLoop(gctx)
			return nil
		})
	}

	slog.Info("daemon started",
		slog.String("pid_file", s.pid.Path()),
		slog.Duration("commit_interval", s.cfg.CommitInterval))

	runErr := g.Wait()
	if runErr != nil {
		slog.Error("daemon intake failed", slog.String("error", runErr.Error()))
	}

	s.shutdown(ctx, stopWorkers, workersDone)
	return runErr
}

func (s *Service) shutdown(ctx context.Context, stopWorkers context.CancelFunc, workersDone <-chan error) {
	stats := s.queue.Stats()
	slog.Info("daemon stopping",
		slog.Int("pending", stats.Pending),
		slog.Int("in_flight", stats.InFlight))

	base := context.WithoutCancel(ctx)
	drainCtx, cancel := context.WithTimeout(base, s.cfg.ShutdownGracePeriod)
	defer cancel()
	if err := s.queue.Drain(drainCtx); err != nil {
		stats = s.queue.Stats()
		slog.Warn("shutdown grace period exceeded, abandoning queued work",
			slog.Int("pending", stats.Pending),
			slog.Int("in_flight", stats.InFlight))
	}
	s.queue.Close()
	stopWorkers()
	<-workersDone

	commitCtx, cancelCommit := context.WithTimeout(base, finalCommitTimeout)
	defer cancelCommit()
	if err := s.commitNow(commitCtx); err != nil {
		slog.Error("final commit failed", slog.String("error", err.Error()))
	}

	stats = s.queue.Stats()
	slog.Info("daemon stopped",
		slog.Uint64("completed", stats.Completed),
		slog.Uint64("failed", stats.Failed),
		slog.Uint64("retried", stats.Retried))
}

func (s *Service) commitLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CommitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.pending != nil && s.pending.Pending() == 0 {
				continue
			}
			req, err := indexing.NewRequest("", indexing.ActionCommit)
			if err == nil {
				err = s.queue.Dispatch(ctx, req)
			}
			if err != nil {
				slog.Warn("periodic commit not dispatched", slog.String("error", err.Error()))
				continue
			}
			s.commits.Add(1)
		}
	}
}

func (s *Service) commitNow(ctx context.Context) error {
	req, err := indexing.NewRequest("", indexing.ActionCommit)
	if err != nil {
		return err
	}
	req.MarkStarted(time.Now())
	return s.performer.Perform(ctx, req)
}
