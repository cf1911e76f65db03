package sqlite

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sakif/berri-graph/internal/model"
)

func users(ids ...string) []model.User {
	out := make([]model.User, len(ids))
	for i, id := range ids {
		out[i] = model.User{ID: id, Username: "user_" + id}
	}
	return out
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func applyEdges(t *testing.T, db *DB, userID string, dir model.Direction, ids ...string) model.EdgeDelta {
	t.Helper()
	delta, err := db.ApplyEdges(context.Background(), userID, dir, users(ids...))
	if err != nil {
		t.Fatalf("ApplyEdges(%s, %s) error = %v", userID, dir, err)
	}
	return delta
}

func storedSet(t *testing.T, db *DB, userID string, dir model.Direction) []string {
	t.Helper()
	ids, err := db.StoredEdges(context.Background(), userID, dir)
	if err != nil {
		t.Fatalf("StoredEdges() error = %v", err)
	}
	return sorted(ids)
}

func TestApplyEdges_FreshInsert(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "A", "alice")

	delta := applyEdges(t, db, "A", model.Following, "X", "Y", "Z")

	if delta != (model.EdgeDelta{Added: 3, Removed: 0, Total: 3}) {
		t.Errorf("delta = %+v, want 3 added, 0 removed", delta)
	}
	if diff := cmp.Diff([]string{"X", "Y", "Z"}, storedSet(t, db, "A", model.Following)); diff != "" {
		t.Errorf("stored following mismatch (-want +got):\n%s", diff)
	}

	// Neighbour nodes are created on first observation.
	if _, err := db.GetUserByUsername(context.Background(), "user_Y"); err != nil {
		t.Errorf("neighbour node not upserted: %v", err)
	}
}

func TestApplyEdges_IncrementalDelta(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "A", "alice")
	applyEdges(t, db, "A", model.Following, "X", "Y", "Z")

	delta := applyEdges(t, db, "A", model.Following, "Y", "Z", "W")

	if delta.Added != 1 || delta.Removed != 1 || delta.Total != 3 {
		t.Errorf("delta = %+v, want 1 added, 1 removed, total 3", delta)
	}
	if diff := cmp.Diff([]string{"W", "Y", "Z"}, storedSet(t, db, "A", model.Following)); diff != "" {
		t.Errorf("stored following mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyEdges_Idempotent(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "A", "alice")

	applyEdges(t, db, "A", model.Followers, "1", "2", "3")
	second := applyEdges(t, db, "A", model.Followers, "1", "2", "3")

	if second.Added != 0 || second.Removed != 0 {
		t.Errorf("second apply delta = %+v, want no changes", second)
	}
}

func TestApplyEdges_SetEquality(t *testing.T) {
	steps := [][]string{
		{"a", "b", "c", "d"},
		{},
		{"e"},
		{"a", "e", "f", "a"}, // duplicate entry from upstream
		{"b", "c", "d", "e", "f", "g"},
	}

	for _, dir := range []model.Direction{model.Following, model.Followers} {
		t.Run(string(dir), func(t *testing.T) {
			db := newTestDB(t)
			createTestUser(t, db, "U", "u")

			for i, step := range steps {
				applyEdges(t, db, "U", dir, step...)

				want := uniqueSorted(step)
				if diff := cmp.Diff(want, storedSet(t, db, "U", dir)); diff != "" {
					t.Errorf("step %d: stored set mismatch (-want +got):\n%s", i, diff)
				}
				n, err := db.EdgeCount(context.Background(), "U", dir)
				if err != nil {
					t.Fatalf("EdgeCount() error = %v", err)
				}
				if n != len(want) {
					t.Errorf("step %d: EdgeCount = %d, want %d", i, n, len(want))
				}
			}
		})
	}
}

func uniqueSorted(ids []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return sorted(out)
}

func TestApplyEdges_DirectionsAreIndependent(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "A", "alice")

	applyEdges(t, db, "A", model.Following, "X", "Y")
	applyEdges(t, db, "A", model.Followers, "P")

	if got := storedSet(t, db, "A", model.Following); len(got) != 2 {
		t.Errorf("following = %v, want 2 entries", got)
	}
	if diff := cmp.Diff([]string{"P"}, storedSet(t, db, "A", model.Followers)); diff != "" {
		t.Errorf("followers mismatch (-want +got):\n%s", diff)
	}

	// A follower edge P -> A is visible from P's following side.
	if diff := cmp.Diff([]string{"A"}, storedSet(t, db, "P", model.Following)); diff != "" {
		t.Errorf("P following mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyEdges_WritesSyncRecord(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "A", "alice")

	rec, err := db.LastSync(context.Background(), "A", model.Following)
	if err != nil {
		t.Fatalf("LastSync() error = %v", err)
	}
	if rec != nil {
		t.Fatalf("LastSync() = %+v before any sync, want nil", rec)
	}

	applyEdges(t, db, "A", model.Following, "X", "Y")
	applyEdges(t, db, "A", model.Following, "X")

	rec, err = db.LastSync(context.Background(), "A", model.Following)
	if err != nil {
		t.Fatalf("LastSync() error = %v", err)
	}
	if rec == nil {
		t.Fatal("LastSync() = nil after sync")
	}
	if rec.EdgeCount != 1 || rec.Removed != 1 || rec.Direction != model.Following {
		t.Errorf("LastSync() = %+v, want edge_count 1, removed 1, following", rec)
	}
	if rec.FetchedAt.IsZero() {
		t.Error("LastSync().FetchedAt is zero")
	}

	if other, _ := db.LastSync(context.Background(), "A", model.Followers); other != nil {
		t.Errorf("followers LastSync = %+v, want nil", other)
	}

	u, err := db.GetUserByID(context.Background(), "A")
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if u.LastFetchedAt == nil {
		t.Error("LastFetchedAt not stamped")
	}
}

func TestApplyEdges_UnknownOwnerFails(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.ApplyEdges(context.Background(), "missing", model.Following, users("X")); err == nil {
		t.Fatal("ApplyEdges() for an unknown owner should fail the foreign key")
	}
	// Nothing from the failed transaction is visible.
	if _, err := db.GetUserByID(context.Background(), "X"); err == nil {
		t.Error("neighbour node from rolled back transaction is visible")
	}
}

func TestApplyEdges_LargeList(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "big", "big")

	ids := make([]string, 2000)
	for i := range ids {
		ids[i] = fmt.Sprintf("%d", 100000+i)
	}
	delta := applyEdges(t, db, "big", model.Followers, ids...)
	if delta.Added != 2000 {
		t.Fatalf("Added = %d, want 2000", delta.Added)
	}

	delta = applyEdges(t, db, "big", model.Followers, ids[10:]...)
	if delta.Added != 0 || delta.Removed != 10 {
		t.Errorf("delta = %+v, want 0 added, 10 removed", delta)
	}
}

func TestFindMutuals(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "A", "alice")
	createTestUser(t, db, "B", "bob")

	// A follows X, Y, Z. B is followed by X and W.
	applyEdges(t, db, "A", model.Following, "X", "Y", "Z")
	applyEdges(t, db, "B", model.Followers, "X", "W")

	mutuals, err := db.FindMutuals(context.Background(), "A", "B")
	if err != nil {
		t.Fatalf("FindMutuals() error = %v", err)
	}
	if len(mutuals) != 1 || mutuals[0].ID != "X" {
		t.Fatalf("FindMutuals() = %+v, want [X]", mutuals)
	}
	if mutuals[0].Username != "user_X" {
		t.Errorf("mutual username = %q, want %q", mutuals[0].Username, "user_X")
	}
}

func TestFindMutuals_StoreOrder(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "A", "alice")
	createTestUser(t, db, "B", "bob")

	applyEdges(t, db, "A", model.Following, "Z", "X", "Y")
	applyEdges(t, db, "B", model.Followers, "X", "Y", "Z")

	mutuals, err := db.FindMutuals(context.Background(), "A", "B")
	if err != nil {
		t.Fatalf("FindMutuals() error = %v", err)
	}
	got := make([]string, len(mutuals))
	for i, m := range mutuals {
		got[i] = m.ID
	}
	if diff := cmp.Diff([]string{"Z", "X", "Y"}, got); diff != "" {
		t.Errorf("mutual order mismatch (-want +got):\n%s", diff)
	}
}

func TestFindMutuals_Empty(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "A", "alice")
	createTestUser(t, db, "B", "bob")

	mutuals, err := db.FindMutuals(context.Background(), "A", "B")
	if err != nil {
		t.Fatalf("FindMutuals() error = %v", err)
	}
	if mutuals == nil || len(mutuals) != 0 {
		t.Errorf("FindMutuals() = %#v, want empty non-nil slice", mutuals)
	}
}

func TestApplyEdges_CountlessEntryKeepsStoredCounts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestUser(t, db, "A", "alice")

	full := &model.User{ID: "X", Username: "xena", Name: "Xena", FollowersCount: 500, FollowingCount: 40}
	if err := db.UpsertUser(ctx, full); err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}

	entry := model.User{ID: "X", Username: "Xena_", Name: "Xena", CountsMissing: true}
	if _, err := db.ApplyEdges(ctx, "A", model.Following, []model.User{entry}); err != nil {
		t.Fatalf("ApplyEdges() error = %v", err)
	}

	got, err := db.GetUserByID(ctx, "X")
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if got.FollowersCount != 500 || got.FollowingCount != 40 {
		t.Errorf("counts = %d/%d, want 500/40", got.FollowersCount, got.FollowingCount)
	}
	if got.Username != "Xena_" {
		t.Errorf("Username = %q, want the list entry's %q", got.Username, "Xena_")
	}

	// An entry that does carry counts still overwrites them.
	if _, err := db.ApplyEdges(ctx, "A", model.Followers, []model.User{{ID: "X", Username: "Xena_"}}); err != nil {
		t.Fatalf("ApplyEdges() error = %v", err)
	}
	got, err = db.GetUserByID(ctx, "X")
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if got.FollowersCount != 0 {
		t.Errorf("FollowersCount = %d, want 0 from a payload with counts", got.FollowersCount)
	}
}
