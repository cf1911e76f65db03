package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/sakif/berri-graph/internal/model"
)

var _ MutualCache = (*Memory)(nil)

type entry struct {
	result   *model.MutualResult
	storedAt time.Time
}

// Memory is an in-process MutualCache. Entries expire after a TTL, and when
// the capacity is reached the oldest inserted entry is evicted. Reads use
// Peek so they never change eviction order.
type Memory struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, entry]
	ttl time.Duration
	now func() time.Time
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates a cache holding at most capacity entries for ttl each.
// Non-positive values select DefaultCapacity and DefaultTTL.
func NewMemory(capacity int, ttl time.Duration, opts ...MemoryOption) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	// only fails for size <= 0
	l, _ := simplelru.NewLRU[string, entry](capacity, nil)

	m := &Memory{lru: l, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the cached result for the ordered pair (a, b), or nil when
// there is none or it has expired. Reads never change eviction order.
func (m *Memory) Get(_ context.Context, a, b string) (*model.MutualResult, error) {
	key := Key(a, b)

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lru.Peek(key)
	if !ok {
		return nil, nil
	}
	if m.now().Sub(e.storedAt) >= m.ttl {
		m.lru.Remove(key)
		return nil, nil
	}
	return e.result, nil
}

// Set stores result. Re-setting an existing key counts as a fresh insert.
func (m *Memory) Set(_ context.Context, a, b string, result *model.MutualResult) error {
	key := Key(a, b)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lru.Remove(key)
	m.lru.Add(key, entry{result: result, storedAt: m.now()})
	return nil
}

// Invalidate drops the entry for (a, b).
func (m *Memory) Invalidate(_ context.Context, a, b string) error {
	m.mu.Lock()
	m.lru.Remove(Key(a, b))
	m.mu.Unlock()
	return nil
}

// InvalidateUser drops every entry that has username on either side.
func (m *Memory) InvalidateUser(_ context.Context, username string) error {
	username = model.NormalizeUsername(username)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range m.lru.Keys() {
		if involves(key, username) {
			m.lru.Remove(key)
		}
	}
	return nil
}

// Len counts stored entries, expired ones included until they are read.
func (m *Memory) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len(), nil
}
