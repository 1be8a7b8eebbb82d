package indexing

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// ScopeLocker serializes work on overlapping subtrees. Scopes are ancestor
// paths; two scopes overlap when they are equal or one lies beneath the
// other.
type ScopeLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewScopeLocker creates an empty ScopeLocker.
func NewScopeLocker() *ScopeLocker {
	return &ScopeLocker{held: make(map[string]chan struct{})}
}

// Acquire blocks until no overlapping scope is held, then holds scope until
// the returned release func is called.
func (l *ScopeLocker) Acquire(ctx context.Context, scope string) (func(), error) {
	for {
		l.mu.Lock()
		wait := l.conflict(scope)
		if wait == nil {
			done := make(chan struct{})
			l.held[scope] = done
			l.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, scope)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Held returns the number of scopes currently held.
func (l *ScopeLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// conflict must be called with mu held.
func (l *ScopeLocker) conflict(scope string) chan struct{} {
	for s, done := range l.held {
		if ScopesOverlap(s, scope) {
			return done
		}
	}
	return nil
}

// ScopesOverlap reports whether a and b are equal or nested.
func ScopesOverlap(a, b string) bool {
	return a == b ||
		strings.HasPrefix(a, b+PathSeparator) ||
		strings.HasPrefix(b, a+PathSeparator)
}

// acquireScope resolves id to its ancestor path and holds it. A nil locker
// holds nothing. When the path cannot be resolved the bare id is used.
func acquireScope(ctx context.Context, l *ScopeLocker, paths PathResolver, id string) (func(), error) {
	if l == nil {
		return func() {}, nil
	}
	scope := id
	if paths != nil {
		p, err := paths.AncestorPath(ctx, id)
		if err != nil {
			slog.Debug("scope path unresolved, locking by id",
				slog.String("target_id", id),
				slog.String("error", err.Error()))
		} else if p != "" {
			scope = p
		}
	}
	return l.Acquire(ctx, scope)
}
