// Package repository defines the storage contract for the follow graph.
// Implementations live in subpackages (sqlite, neo4j).
package repository

import (
	"context"

	"github.com/sakif/berri-graph/internal/model"
)

// GraphStore persists user nodes and directional follow edges.
//
// ApplyEdges is the only way edges change. It must reconcile the stored set
// for (userID, dir) against fresh atomically: readers see either the old set
// or the new one, never a partial state. On success the stored set equals
// fresh, and a SyncRecord is written in the same transaction.
type GraphStore interface {
	UpsertUser(ctx context.Context, user *model.User) error
	UpsertUsers(ctx context.Context, users []model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)

	EdgeCount(ctx context.Context, userID string, dir model.Direction) (int, error)
	StoredEdges(ctx context.Context, userID string, dir model.Direction) ([]string, error)
	ApplyEdges(ctx context.Context, userID string, dir model.Direction, fresh []model.User) (model.EdgeDelta, error)
	LastSync(ctx context.Context, userID string, dir model.Direction) (*model.SyncRecord, error)

	// FindMutuals returns users X with requester -> X and X -> target.
	FindMutuals(ctx context.Context, requesterID, targetID string) ([]model.User, error)

	Ping(ctx context.Context) error
	Close() error
}

// DiffEdges computes the set difference between the stored and freshly
// fetched neighbour IDs. Duplicates in either input are ignored; output order
// follows first appearance in the respective input.
func DiffEdges(stored, fresh []string) (added, removed []string) {
	storedSet := make(map[string]struct{}, len(stored))
	for _, id := range stored {
		storedSet[id] = struct{}{}
	}
	freshSet := make(map[string]struct{}, len(fresh))
	for _, id := range fresh {
		if _, seen := freshSet[id]; seen {
			continue
		}
		freshSet[id] = struct{}{}
		if _, ok := storedSet[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range stored {
		if _, ok := freshSet[id]; ok {
			continue
		}
		// mark so a duplicate in stored is reported once
		freshSet[id] = struct{}{}
		removed = append(removed, id)
	}
	return added, removed
}

// UniqueUsers drops repeated IDs and entries without an ID, keeping the
// first occurrence.
func UniqueUsers(users []model.User) []model.User {
	seen := make(map[string]struct{}, len(users))
	out := make([]model.User, 0, len(users))
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		if _, ok := seen[u.ID]; ok {
			continue
		}
		seen[u.ID] = struct{}{}
		out = append(out, u)
	}
	return out
}
