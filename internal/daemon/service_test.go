package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/repoindex/internal/indexing"
	"github.com/Aman-CERP/repoindex/internal/queue"
)

type countingPerformer struct {
	mu      sync.Mutex
	actions []indexing.ActionType
	delay   time.Duration
}

func (p *countingPerformer) Perform(ctx context.Context, req *indexing.Request) error {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, req.Action)
	return nil
}

func (p *countingPerformer) count(action indexing.ActionType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, a := range p.actions {
		if a == action {
			n++
		}
	}
	return n
}

// dispatchIntake dispatches its targets once, then waits for cancellation.
type dispatchIntake struct {
	q       *queue.Queue
	targets []string
	err     error
}

func (i *dispatchIntake) Run(ctx context.Context) error {
	for _, id := range i.targets {
		req, err := indexing.NewRequest(id, indexing.ActionAdd)
		if err != nil {
			return err
		}
		if err := i.q.Dispatch(ctx, req); err != nil {
			return err
		}
	}
	if i.err != nil {
		return i.err
	}
	<-ctx.Done()
	return nil
}

type fixedPending int

func (f fixedPending) Pending() int { return int(f) }

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig(t.TempDir())
	cfg.CommitInterval = 0
	cfg.ShutdownGracePeriod = 5 * time.Second
	return cfg
}

func TestService_RunProcessesIntakeAndCommitsOnStop(t *testing.T) {
	// Given
	q := queue.New(queue.DefaultConfig())
	perf := &countingPerformer{}
	intake := &dispatchIntake{q: q, targets: []string{"A", "B", "C"}}
	svc, err := New(testConfig(t), q, perf, intake, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	// When
	require.Eventually(t, func() bool { return perf.count(indexing.ActionAdd) == 3 },
		5*time.Second, 5*time.Millisecond)
	assert.FileExists(t, svc.PIDFile().Path())
	cancel()

	// Then
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.Equal(t, 1, perf.count(indexing.ActionCommit), "final commit")
	assert.NoFileExists(t, svc.PIDFile().Path())
}

func TestService_DrainsQueuedWorkAfterStop(t *testing.T) {
	q := queue.New(queue.Config{Workers: 1})
	perf := &countingPerformer{delay: 20 * time.Millisecond}
	svc, err := New(testConfig(t), q, perf, nil, nil)
	require.NoError(t, err)

	for _, id := range []string{"A", "B", "C", "D"} {
		req, err := indexing.NewRequest(id, indexing.ActionAdd)
		require.NoError(t, err)
		require.NoError(t, q.Dispatch(context.Background(), req))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, svc.Run(ctx))

	assert.Equal(t, 4, perf.count(indexing.ActionAdd))
	assert.Equal(t, 1, perf.count(indexing.ActionCommit))
}

func TestService_RefusesSecondInstance(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, NewPIDFile(cfg.PIDPath).Write())

	svc, err := New(cfg, queue.New(queue.DefaultConfig()), &countingPerformer{}, nil, nil)
	require.NoError(t, err)

	err = svc.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.FileExists(t, cfg.PIDPath, "the live owner's pid file is left alone")
}

func TestService_PeriodicCommit(t *testing.T) {
	cfg := testConfig(t)
	cfg.CommitInterval = 10 * time.Millisecond
	perf := &countingPerformer{}
	svc, err := New(cfg, queue.New(queue.DefaultConfig()), perf, nil, fixedPending(3))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return perf.count(indexing.ActionCommit) >= 2 },
		5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, svc.Commits(), uint64(2))
}

func TestService_SkipsCommitWhenNothingPending(t *testing.T) {
	cfg := testConfig(t)
	cfg.CommitInterval = 5 * time.Millisecond
	perf := &countingPerformer{}
	svc, err := New(cfg, queue.New(queue.DefaultConfig()), perf, nil, fixedPending(0))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, svc.Run(ctx))

	assert.Zero(t, svc.Commits())
	assert.Equal(t, 1, perf.count(indexing.ActionCommit), "only the final commit")
}

func TestService_IntakeFailureStopsService(t *testing.T) {
	q := queue.New(queue.DefaultConfig())
	perf := &countingPerformer{}
	boom := errors.New("spool directory vanished")
	svc, err := New(testConfig(t), q, perf, &dispatchIntake{q: q, targets: []string{"A"}, err: boom}, nil)
	require.NoError(t, err)

	err = svc.Run(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, perf.count(indexing.ActionAdd), "work dispatched before the failure still runs")
	assert.NoFileExists(t, svc.PIDFile().Path())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{}, queue.New(queue.DefaultConfig()), &countingPerformer{}, nil, nil)
	assert.Error(t, err)
}
