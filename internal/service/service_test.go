package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sakif/berri-graph/internal/apperror"
	"github.com/sakif/berri-graph/internal/model"
	"github.com/sakif/berri-graph/internal/repository/sqlite"
	"github.com/sakif/berri-graph/internal/socialapi"
)

// fakeUpstream serves profiles and edge lists from memory and counts calls.
type fakeUpstream struct {
	mu       sync.Mutex
	profiles map[string]*model.User  // by lowercase handle
	lists    map[string][]model.User // by "id/direction"
	failList map[string]error        // by "id/direction"
	calls    map[string]int          // "profile:<handle>" or "list:<id>/<dir>"

	// when gate is set, FetchAll reports on entered and then waits for
	// gate to close or its ctx to end
	gate    chan struct{}
	entered chan string
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		profiles: map[string]*model.User{},
		lists:    map[string][]model.User{},
		failList: map[string]error{},
		calls:    map[string]int{},
	}
}

func (f *fakeUpstream) addProfile(id, username string, followers, following int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[model.NormalizeUsername(username)] = &model.User{
		ID: id, Username: username, FollowersCount: followers, FollowingCount: following,
	}
}

func (f *fakeUpstream) setList(id string, dir model.Direction, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[id+"/"+dir.String()] = neighbours(ids...)
}

func (f *fakeUpstream) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeUpstream) GetProfile(_ context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	handle := model.NormalizeUsername(username)
	f.calls["profile:"+handle]++
	p, ok := f.profiles[handle]
	if !ok {
		return nil, apperror.UserNotFound(username)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeUpstream) FetchAll(ctx context.Context, ref socialapi.UserRef, dir model.Direction) ([]model.User, error) {
	f.mu.Lock()
	key := ref.ID + "/" + dir.String()
	f.calls["list:"+key]++
	err := f.failList[key]
	list := append([]model.User(nil), f.lists[key]...)
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if gate != nil {
		entered <- key
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return list, nil
}

var _ Upstream = (*fakeUpstream)(nil)

func neighbours(ids ...string) []model.User {
	out := make([]model.User, len(ids))
	for i, id := range ids {
		out[i] = model.User{ID: id, Username: "user_" + id}
	}
	return out
}

func idRange(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestConnections(t *testing.T) (*ConnectionService, *fakeUpstream, *sqlite.DB) {
	t.Helper()
	store := newTestStore(t)
	api := newFakeUpstream()
	svc := NewConnectionService(store, api, DefaultPolicy(), nil, testLogger())
	return svc, api, store
}
