// Package queue is the in-process operation dispatcher. Requests are held in
// an unbounded FIFO and performed by a pool of workers, so a tree walk
// running on a worker can dispatch any number of follow-up operations
// without waiting for them.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/indexing"
)

// Performer executes one request. *indexing.Registry satisfies it.
type Performer interface {
	Perform(ctx context.Context, req *indexing.Request) error
}

// FailureFunc receives requests that failed for good.
type FailureFunc func(req *indexing.Request, err error)

// Outcome describes a request that reached a final state. Err is nil on
// success. Attempts is zero when the request never ran.
type Outcome struct {
	Request  *indexing.Request
	Duration time.Duration
	Attempts int
	Err      error
}

// DoneFunc receives every finished request.
type DoneFunc func(Outcome)

// Config configures a Queue.
type Config struct {
	// Workers is the number of concurrent consumers. Values below 1 mean 1.
	Workers int

	// MaxOpsPerSecond throttles execution. Zero disables throttling.
	MaxOpsPerSecond float64

	// Burst is the limiter burst size. Zero means Workers.
	Burst int

	// Retry governs re-attempts of retryable failures.
	Retry apperrors.RetryConfig

	// OnFailure is called for every dead-lettered request.
	OnFailure FailureFunc

	// OnDone is called once per request after it completes or fails.
	OnDone DoneFunc
}

// DefaultConfig returns a four-worker, unthrottled queue with the default
// retry policy.
func DefaultConfig() Config {
	return Config{
		Workers: 4,
		Retry:   apperrors.DefaultRetryConfig(),
	}
}

// Stats is a snapshot of queue activity.
type Stats struct {
	Dispatched uint64
	Completed  uint64
	Failed     uint64
	Retried    uint64
	Pending    int
	InFlight   int
}

type item struct {
	seq uint64
	req *indexing.Request
}

// Queue implements indexing.Dispatcher.
type Queue struct {
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time

	mu       sync.Mutex
	items    []item
	nextSeq  uint64
	inFlight map[uint64]struct{}
	closed   bool
	// changed is closed and replaced on every state change.
	changed chan struct{}

	dispatched atomic.Uint64
	completed  atomic.Uint64
	failed     atomic.Uint64
	retried    atomic.Uint64
}

var _ indexing.Dispatcher = (*Queue)(nil)

// New creates an empty queue.
func New(cfg Config) *Queue {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Retry.ShouldRetry == nil {
		cfg.Retry.ShouldRetry = apperrors.IsRetryable
	}

	q := &Queue{
		cfg:      cfg,
		now:      time.Now,
		inFlight: make(map[uint64]struct{}),
		changed:  make(chan struct{}),
	}
	if cfg.MaxOpsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.Workers
		}
		q.limiter = rate.NewLimiter(rate.Limit(cfg.MaxOpsPerSecond), burst)
	}
	return q
}

// notify wakes every waiter. Must be called with mu held.
func (q *Queue) notify() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Dispatch appends req to the queue. It never waits for consumption.
func (q *Queue) Dispatch(_ context.Context, req *indexing.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return apperrors.Indexing(apperrors.ErrCodeDispatchFailed, req.TargetID, "queue is closed", nil)
	}
	q.nextSeq++
	q.items = append(q.items, item{seq: q.nextSeq, req: req})
	q.notify()
	q.mu.Unlock()

	q.dispatched.Add(1)
	slog.Debug("operation dispatched",
		slog.String("request_id", req.ID),
		slog.String("action", req.Action.String()),
		slog.String("target_id", req.TargetID),
		slog.Bool("await_prior", req.AwaitPrior))
	return nil
}

// Run consumes the queue with the configured number of workers until ctx
// is cancelled, or until the queue is closed and empty.
func (q *Queue) Run(ctx context.Context, p Performer) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range q.cfg.Workers {
		g.Go(func() error {
			q.work(gctx, i, p)
			return nil
		})
	}
	return g.Wait()
}

func (q *Queue) work(ctx context.Context, worker int, p Performer) {
	for {
		it, ok := q.next(ctx)
		if !ok {
			slog.Debug("queue worker stopped", slog.Int("worker", worker))
			return
		}
		q.execute(ctx, p, it)
	}
}

// next pops the head of the queue, waiting while it is empty.
func (q *Queue) next(ctx context.Context) (item, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items[0] = item{}
			q.items = q.items[1:]
			q.inFlight[it.seq] = struct{}{}
			q.mu.Unlock()
			return it, true
		}
		if q.closed {
			q.mu.Unlock()
			return item{}, false
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return item{}, false
		case <-changed:
		}
	}
}

func (q *Queue) finish(seq uint64) {
	q.mu.Lock()
	delete(q.inFlight, seq)
	q.notify()
	q.mu.Unlock()
}

// awaitPrior blocks until nothing dispatched before seq is still running.
// Pending items all have higher sequence numbers than a popped one.
func (q *Queue) awaitPrior(ctx context.Context, seq uint64) error {
	for {
		q.mu.Lock()
		blocked := false
		for s := range q.inFlight {
			if s < seq {
				blocked = true
				break
			}
		}
		if !blocked {
			q.mu.Unlock()
			return nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func (q *Queue) execute(ctx context.Context, p Performer, it item) {
	defer q.finish(it.seq)
	req := it.req

	if req.AwaitPrior {
		if err := q.awaitPrior(ctx, it.seq); err != nil {
			q.deadLetter(req, err)
			q.done(Outcome{Request: req, Err: err})
			return
		}
	}
	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			q.deadLetter(req, err)
			q.done(Outcome{Request: req, Err: err})
			return
		}
	}

	started := req.MarkStarted(q.now())
	attempt := 0
	err := apperrors.Retry(ctx, q.cfg.Retry, func() error {
		attempt++
		if attempt > 1 {
			q.retried.Add(1)
			slog.Info("retrying operation",
				slog.String("request_id", req.ID),
				slog.String("action", req.Action.String()),
				slog.String("target_id", req.TargetID),
				slog.Int("attempt", attempt))
		}
		return perform(ctx, p, req)
	})
	duration := q.now().Sub(started)
	if err != nil {
		q.deadLetter(req, err)
		q.done(Outcome{Request: req, Duration: duration, Attempts: attempt, Err: err})
		return
	}

	q.completed.Add(1)
	slog.Debug("operation completed",
		slog.String("request_id", req.ID),
		slog.String("action", req.Action.String()),
		slog.String("target_id", req.TargetID),
		slog.Duration("duration", duration))
	q.done(Outcome{Request: req, Duration: duration, Attempts: attempt})
}

func (q *Queue) done(o Outcome) {
	if q.cfg.OnDone != nil {
		q.cfg.OnDone(o)
	}
}

func (q *Queue) deadLetter(req *indexing.Request, err error) {
	q.failed.Add(1)
	attrs := []any{
		slog.String("request_id", req.ID),
		slog.String("action", req.Action.String()),
		slog.String("target_id", req.TargetID),
	}
	// A walk reports the node it stopped at, which may lie below the target.
	if at := apperrors.GetTarget(err); at != "" && at != req.TargetID {
		attrs = append(attrs, slog.String("failed_at", at))
	}
	slog.Error("operation failed", append(attrs, apperrors.LogAttrs(err)...)...)
	if q.cfg.OnFailure != nil {
		q.cfg.OnFailure(req, err)
	}
}

// Drain waits until the queue is empty and no operation is running.
func (q *Queue) Drain(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.items) == 0 && len(q.inFlight) == 0 {
			q.mu.Unlock()
			return nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Close stops accepting new requests. Workers finish what is queued and
// then return.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notify()
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	pending, inFlight := len(q.items), len(q.inFlight)
	q.mu.Unlock()
	return Stats{
		Dispatched: q.dispatched.Load(),
		Completed:  q.completed.Load(),
		Failed:     q.failed.Load(),
		Retried:    q.retried.Load(),
		Pending:    pending,
		InFlight:   inFlight,
	}
}

// perform runs p and turns a panic into a non-retryable internal error so
// one bad operation cannot take the worker pool down.
func perform(ctx context.Context, p Performer, req *indexing.Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.InternalError(fmt.Sprintf("operation panicked: %v", r), nil).
				WithTarget(req.TargetID).
				WithDetail("action", req.Action.String())
		}
	}()
	return p.Perform(ctx, req)
}
