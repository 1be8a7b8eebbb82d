package indexing

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopesOverlap(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"1,r/2,a", "1,r/2,a", true},
		{"1,r/2,a", "1,r/2,a/3,b", true},
		{"1,r/2,a/3,b", "1,r", true},
		{"1,r/2,a", "1,r/2,ab", false},
		{"1,r/2,a", "1,r/2,b", false},
	}

	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, ScopesOverlap(tt.a, tt.b))
		})
	}
}

func TestScopeLocker_SerializesOverlappingScopes(t *testing.T) {
	// Given: a held parent scope
	l := NewScopeLocker()
	release, err := l.Acquire(context.Background(), "1,r/2,a")
	require.NoError(t, err)

	// When: a nested scope is requested concurrently
	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		rel, err := l.Acquire(context.Background(), "1,r/2,a/3,b")
		if err == nil {
			acquired.Store(true)
			rel()
		}
	}()

	// Then: it waits until the parent is released
	time.Sleep(20 * time.Millisecond)
	assert.False(t, acquired.Load())

	release()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested scope never acquired")
	}
	assert.True(t, acquired.Load())
	assert.Zero(t, l.Held())
}

func TestScopeLocker_DisjointScopesRunTogether(t *testing.T) {
	l := NewScopeLocker()

	relA, err := l.Acquire(context.Background(), "1,r/2,a")
	require.NoError(t, err)
	relB, err := l.Acquire(context.Background(), "1,r/2,b")
	require.NoError(t, err)

	assert.Equal(t, 2, l.Held())
	relA()
	relB()
	relB() // release is idempotent
	assert.Zero(t, l.Held())
}

func TestScopeLocker_AcquireHonorsContext(t *testing.T) {
	l := NewScopeLocker()
	release, err := l.Acquire(context.Background(), "1,r")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx, "1,r/2,a")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.Held())
}

func TestAcquireScope_NilLockerAndFallback(t *testing.T) {
	release, err := acquireScope(context.Background(), nil, nil, "x")
	require.NoError(t, err)
	release()

	// An unresolvable id locks on the id itself.
	l := NewScopeLocker()
	release, err = acquireScope(context.Background(), l, newFakeGraph(), "missing")
	require.NoError(t, err)
	_, held := l.held["missing"]
	assert.True(t, held)
	release()
}
