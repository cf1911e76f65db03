package neo4j

import (
	"context"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/berri-graph/internal/model"
)

// These tests need a running Neo4j, e.g.
//
//	docker run -p 7687:7687 -e NEO4J_AUTH=neo4j/testpassword neo4j:5
//	NEO4J_URI=neo4j://localhost:7687 NEO4J_PASSWORD=testpassword go test ./internal/repository/neo4j/
func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		t.Skip("NEO4J_URI not set")
	}
	user := os.Getenv("NEO4J_USER")
	if user == "" {
		user = "neo4j"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := New(ctx, Config{URI: uri, Username: user, Password: os.Getenv("NEO4J_PASSWORD")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// uniq prefixes ids so parallel runs against one server don't collide.
func uniq(t *testing.T) func(string) string {
	prefix := xid.New().String() + "-"
	return func(id string) string { return prefix + id }
}

func neighbours(id func(string) string, names ...string) []model.User {
	out := make([]model.User, len(names))
	for i, n := range names {
		out[i] = model.User{ID: id(n), Username: id(n)}
	}
	return out
}

func TestStore_ApplyEdgesAndMutuals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uniq(t)

	require.NoError(t, s.UpsertUser(ctx, &model.User{ID: id("A"), Username: id("Alice")}))
	require.NoError(t, s.UpsertUser(ctx, &model.User{ID: id("B"), Username: id("Bob")}))

	delta, err := s.ApplyEdges(ctx, id("A"), model.Following, neighbours(id, "X", "Y", "Z"))
	require.NoError(t, err)
	assert.Equal(t, model.EdgeDelta{Added: 3, Total: 3}, delta)

	_, err = s.ApplyEdges(ctx, id("B"), model.Followers, neighbours(id, "X", "W"))
	require.NoError(t, err)

	// idempotent
	delta, err = s.ApplyEdges(ctx, id("A"), model.Following, neighbours(id, "X", "Y", "Z"))
	require.NoError(t, err)
	assert.False(t, delta.Changed())

	mutuals, err := s.FindMutuals(ctx, id("A"), id("B"))
	require.NoError(t, err)
	require.Len(t, mutuals, 1)
	assert.Equal(t, id("X"), mutuals[0].ID)

	// shrink and check set equality
	_, err = s.ApplyEdges(ctx, id("A"), model.Following, neighbours(id, "Y"))
	require.NoError(t, err)
	stored, err := s.StoredEdges(ctx, id("A"), model.Following)
	require.NoError(t, err)
	sort.Strings(stored)
	assert.Equal(t, []string{id("Y")}, stored)

	rec, err := s.LastSync(ctx, id("A"), model.Following)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.EdgeCount)
	assert.Equal(t, 2, rec.Removed)

	found, err := s.GetUserByUsername(ctx, id("ALICE"))
	require.NoError(t, err)
	assert.Equal(t, id("A"), found.ID)
}
