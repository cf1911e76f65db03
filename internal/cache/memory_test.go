package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/berri-graph/internal/model"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func result(names ...string) *model.MutualResult {
	r := &model.MutualResult{}
	for _, n := range names {
		r.Mutuals = append(r.Mutuals, model.User{ID: n, Username: n})
	}
	return r
}

func mustGet(t *testing.T, c MutualCache, a, b string) *model.MutualResult {
	t.Helper()
	r, err := c.Get(context.Background(), a, b)
	require.NoError(t, err)
	return r
}

func TestMemory_TTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemory(10, 5*time.Minute, WithClock(clock.Now))

	want := result("x")
	require.NoError(t, c.Set(ctx, "alice", "bob", want))
	assert.Same(t, want, mustGet(t, c, "alice", "bob"))

	clock.Advance(4*time.Minute + 59*time.Second)
	assert.Same(t, want, mustGet(t, c, "alice", "bob"))

	clock.Advance(time.Second)
	assert.Nil(t, mustGet(t, c, "alice", "bob"))

	n, _ := c.Len(ctx)
	assert.Zero(t, n, "expired entry is evicted on read")
}

func TestMemory_CapacityEvictsFirstInserted(t *testing.T) {
	ctx := context.Background()
	const size = 1000
	c := NewMemory(size, time.Hour)

	for i := 0; i <= size; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("u%d", i), "target", result()))
		if i == 10 {
			// reads must not protect an entry from eviction
			mustGet(t, c, "u0", "target")
		}
	}

	n, _ := c.Len(ctx)
	assert.Equal(t, size, n)
	assert.Nil(t, mustGet(t, c, "u0", "target"))
	assert.NotNil(t, mustGet(t, c, "u1", "target"))
	assert.NotNil(t, mustGet(t, c, fmt.Sprintf("u%d", size), "target"))
}

func TestMemory_KeyIsOrderedAndCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0, 0)

	require.NoError(t, c.Set(ctx, "Alice", "@Bob", result("x")))
	assert.NotNil(t, mustGet(t, c, "alice", "bob"))
	assert.Nil(t, mustGet(t, c, "bob", "alice"))
}

func TestMemory_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0, 0)

	require.NoError(t, c.Set(ctx, "alice", "bob", result()))
	require.NoError(t, c.Set(ctx, "carol", "alice", result()))
	require.NoError(t, c.Set(ctx, "carol", "dave", result()))

	require.NoError(t, c.Invalidate(ctx, "ALICE", "bob"))
	assert.Nil(t, mustGet(t, c, "alice", "bob"))
	assert.NotNil(t, mustGet(t, c, "carol", "alice"))

	require.NoError(t, c.Set(ctx, "alice", "bob", result()))
	require.NoError(t, c.InvalidateUser(ctx, "Alice"))
	assert.Nil(t, mustGet(t, c, "alice", "bob"))
	assert.Nil(t, mustGet(t, c, "carol", "alice"))
	assert.NotNil(t, mustGet(t, c, "carol", "dave"))
}

func TestMemory_ResetRefreshesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(2, time.Hour)

	require.NoError(t, c.Set(ctx, "a", "x", result()))
	require.NoError(t, c.Set(ctx, "b", "x", result()))
	require.NoError(t, c.Set(ctx, "a", "x", result()))
	require.NoError(t, c.Set(ctx, "c", "x", result()))

	assert.NotNil(t, mustGet(t, c, "a", "x"))
	assert.Nil(t, mustGet(t, c, "b", "x"))
}

func TestMemory_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(50, time.Hour)
	done := make(chan struct{})

	for w := 0; w < 8; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				a := fmt.Sprintf("u%d", (w*200+i)%75)
				_ = c.Set(ctx, a, "t", result())
				_, _ = c.Get(ctx, a, "t")
				if i%17 == 0 {
					_ = c.InvalidateUser(ctx, a)
				}
			}
		}(w)
	}
	for w := 0; w < 8; w++ {
		<-done
	}

	n, _ := c.Len(ctx)
	assert.LessOrEqual(t, n, 50)
}
