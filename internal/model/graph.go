package model

import (
	"fmt"
	"time"
)

// Direction selects which edge list of a user is synchronised.
//
//	Following: edges  user -> X  (accounts the user follows)
//	Followers: edges  X -> user  (accounts following the user)
type Direction string

const (
	Followers Direction = "followers"
	Following Direction = "following"
)

// ParseDirection accepts "followers" or "following" (also "followings",
// "friends" as upstream calls them).
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "followers":
		return Followers, nil
	case "following", "followings", "friends":
		return Following, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

func (d Direction) String() string { return string(d) }

// EdgeDelta reports what an incremental edge update changed.
type EdgeDelta struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Total   int `json:"total"` // size of the stored set after the update
}

// Changed reports whether the update touched any edge.
func (d EdgeDelta) Changed() bool { return d.Added > 0 || d.Removed > 0 }

// SyncRecord is written every time a full edge list is fetched and applied.
// The staleness policy reads the latest one per (user, direction).
type SyncRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Direction Direction `json:"direction"`
	EdgeCount int       `json:"edgeCount"`
	Added     int       `json:"added"`
	Removed   int       `json:"removed"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// MutualResult is the answer to one find-mutuals request.
type MutualResult struct {
	Requester  User      `json:"requester"`
	Target     User      `json:"target"`
	Mutuals    []User    `json:"mutuals"`
	ComputedAt time.Time `json:"computedAt"`
}
