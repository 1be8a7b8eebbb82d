// Package telemetry records per-action operation outcomes and latencies.
// All telemetry data is stored locally - no external reporting.
package telemetry

import (
	"sort"
	"sync"
	"time"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// Buckets lists the histogram buckets in ascending order.
var Buckets = []LatencyBucket{BucketP10, BucketP50, BucketP100, BucketP500, BucketP1000}

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// OperationEvent is one operation that reached a final state.
type OperationEvent struct {
	Action   string
	TargetID string
	Duration time.Duration
	Retries  int
	Err      error
	Time     time.Time
}

// ActionCounts aggregates outcomes for one action tag.
type ActionCounts struct {
	Action    string `json:"action"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Retried   int64  `json:"retried"`
}

func (c *ActionCounts) add(o ActionCounts) {
	c.Completed += o.Completed
	c.Failed += o.Failed
	c.Retried += o.Retried
}

// FailureRecord is a failed operation kept for inspection.
type FailureRecord struct {
	Action   string    `json:"action"`
	TargetID string    `json:"target_id"`
	Error    string    `json:"error"`
	Time     time.Time `json:"time"`
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // Next write position
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in the buffer in FIFO order (oldest first).
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Snapshot is a point-in-time view of the metrics.
type Snapshot struct {
	Actions        []ActionCounts          `json:"actions"`
	Latency        map[LatencyBucket]int64 `json:"latency"`
	RecentFailures []FailureRecord         `json:"recent_failures"`
	Total          int64                   `json:"total"`
	Since          time.Time               `json:"since,omitzero"`
}

// Store persists aggregated metrics. Add methods accumulate into what is
// already stored.
type Store interface {
	AddActionCounts(date string, counts []ActionCounts) error
	AddLatencyCounts(date string, counts map[LatencyBucket]int64) error
	AddFailures(failures []FailureRecord) error
	ActionCounts(from, to string) ([]ActionCounts, error)
	LatencyCounts(from, to string) (map[LatencyBucket]int64, error)
	RecentFailures(limit int) ([]FailureRecord, error)
}

// Config configures the collector.
type Config struct {
	FailuresCapacity int           // Recent failures kept in memory (default: 100)
	FlushInterval    time.Duration // Auto-flush period; 0 disables it
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailuresCapacity: 100,
		FlushInterval:    60 * time.Second,
	}
}

// Metrics collects operation telemetry. Safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	actions  map[string]*ActionCounts
	latency  map[LatencyBucket]int64
	failures *CircularBuffer[FailureRecord]
	total    int64
	start    time.Time

	// Not yet flushed.
	pendingActions  map[string]*ActionCounts
	pendingLatency  map[LatencyBucket]int64
	pendingFailures []FailureRecord

	store  Store
	now    func() time.Time
	stopCh chan struct{}
	doneCh chan struct{}
	closed bool
}

// New creates a collector. A nil store keeps metrics in memory only.
func New(store Store, cfg Config) *Metrics {
	if cfg.FailuresCapacity <= 0 {
		cfg.FailuresCapacity = 100
	}

	m := &Metrics{
		actions:        make(map[string]*ActionCounts),
		latency:        make(map[LatencyBucket]int64),
		failures:       NewCircularBuffer[FailureRecord](cfg.FailuresCapacity),
		start:          time.Now(),
		pendingActions: make(map[string]*ActionCounts),
		pendingLatency: make(map[LatencyBucket]int64),
		store:          store,
		now:            time.Now,
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.stopCh = make(chan struct{})
		m.doneCh = make(chan struct{})
		go m.flushLoop(cfg.FlushInterval)
	}
	return m
}

func (m *Metrics) flushLoop(interval time.Duration) {
	defer close(m.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one finished operation.
func (m *Metrics) Record(e OperationEvent) {
	if e.Time.IsZero() {
		e.Time = m.now()
	}

	delta := ActionCounts{Action: e.Action, Retried: int64(e.Retries)}
	if e.Err != nil {
		delta.Failed = 1
	} else {
		delta.Completed = 1
	}
	bucket := LatencyToBucket(e.Duration)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	counts(m.actions, e.Action).add(delta)
	counts(m.pendingActions, e.Action).add(delta)
	m.latency[bucket]++
	m.pendingLatency[bucket]++
	m.total++

	if e.Err != nil {
		f := FailureRecord{Action: e.Action, TargetID: e.TargetID, Error: e.Err.Error(), Time: e.Time}
		m.failures.Add(f)
		m.pendingFailures = append(m.pendingFailures, f)
	}
}

func counts(m map[string]*ActionCounts, action string) *ActionCounts {
	c, ok := m[action]
	if !ok {
		c = &ActionCounts{Action: action}
		m[action] = c
	}
	return c
}

// Snapshot returns what has been recorded since the collector started.
func (m *Metrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	latency := make(map[LatencyBucket]int64, len(m.latency))
	for k, v := range m.latency {
		latency[k] = v
	}
	return &Snapshot{
		Actions:        sortedCounts(m.actions),
		Latency:        latency,
		RecentFailures: m.failures.Items(),
		Total:          m.total,
		Since:          m.start,
	}
}

func sortedCounts(m map[string]*ActionCounts) []ActionCounts {
	out := make([]ActionCounts, 0, len(m))
	for _, c := range m {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}

// Flush writes everything recorded since the last flush to the store.
// Safe to call even if no store is configured. On failure the unflushed
// data is kept for the next attempt.
func (m *Metrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	actions, latency, failures := m.pendingActions, m.pendingLatency, m.pendingFailures
	m.pendingActions = make(map[string]*ActionCounts)
	m.pendingLatency = make(map[LatencyBucket]int64)
	m.pendingFailures = nil
	today := m.now().Format(time.DateOnly)
	m.mu.Unlock()

	if len(actions) == 0 && len(failures) == 0 {
		return nil
	}

	err := m.store.AddActionCounts(today, sortedCounts(actions))
	if err == nil {
		err = m.store.AddLatencyCounts(today, latency)
	}
	if err == nil {
		err = m.store.AddFailures(failures)
	}
	if err != nil {
		m.restore(actions, latency, failures)
	}
	return err
}

// restore puts unflushed data back in front of anything recorded since.
func (m *Metrics) restore(actions map[string]*ActionCounts, latency map[LatencyBucket]int64, failures []FailureRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for a, c := range actions {
		counts(m.pendingActions, a).add(*c)
	}
	for b, n := range latency {
		m.pendingLatency[b] += n
	}
	m.pendingFailures = append(failures, m.pendingFailures...)
}

// Close stops auto-flush and flushes once more.
func (m *Metrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.stopCh != nil {
		close(m.stopCh)
		<-m.doneCh
	}
	return m.Flush()
}
