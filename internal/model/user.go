// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// Classification tags set on a User by downstream analysis.
const (
	ClassIndividual   = "individual"
	ClassOrganization = "organization"
	ClassSpam         = "spam"
)

// User is a node in the follow graph: one Twitter/X account.
//
// ID is the upstream numeric identifier (kept as a string, IDs exceed 2^53)
// and is the primary key. Username is mutable because accounts rename, so
// lookups go through UsernameLower, which every write path keeps in sync.
// Counts of zero in a payload that omitted them are not trusted over
// stored ones; see CountsMissing.
type User struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	UsernameLower   string     `json:"-"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	ProfileImageURL string     `json:"profileImageUrl,omitempty"`
	Verified        bool       `json:"verified"`
	FollowersCount  int        `json:"followersCount"`
	FollowingCount  int        `json:"followingCount"`
	Classification  string     `json:"classification,omitempty"`
	Subtype         string     `json:"subtype,omitempty"`
	LastFetchedAt   *time.Time `json:"lastFetchedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`

	// CountsMissing marks a payload that carried no follower or following
	// counts, such as a trimmed list entry. Stores keep the counts they
	// already have for such a user.
	CountsMissing bool `json:"-"`
}

// NormalizeUsername trims whitespace and a leading "@" and lowercases the
// result. It is the only place the lookup form of a handle is derived.
func NormalizeUsername(username string) string {
	username = strings.TrimSpace(username)
	username = strings.TrimPrefix(username, "@")
	return strings.ToLower(username)
}

// CountFor returns the upstream-reported size of the edge list in dir.
func (u *User) CountFor(dir Direction) int {
	if dir == Followers {
		return u.FollowersCount
	}
	return u.FollowingCount
}
