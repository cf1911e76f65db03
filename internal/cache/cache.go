// Package cache memoizes find-mutuals results per ordered username pair.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/sakif/berri-graph/internal/model"
)

const (
	DefaultTTL      = 5 * time.Minute
	DefaultCapacity = 1000
)

// MutualCache stores MutualResults keyed by (requester, target). The pair is
// ordered: (a, b) and (b, a) are different entries. Usernames are compared
// case-insensitively.
//
// Get returns nil, nil on a miss, including when the entry has expired.
type MutualCache interface {
	Get(ctx context.Context, a, b string) (*model.MutualResult, error)
	Set(ctx context.Context, a, b string, result *model.MutualResult) error
	Invalidate(ctx context.Context, a, b string) error
	InvalidateUser(ctx context.Context, username string) error
	Len(ctx context.Context) (int, error)
}

// Key builds the cache key for an ordered pair.
func Key(a, b string) string {
	return model.NormalizeUsername(a) + "|" + model.NormalizeUsername(b)
}

// involves reports whether key has username on either side.
func involves(key, username string) bool {
	a, b, ok := strings.Cut(key, "|")
	if !ok {
		return false
	}
	return a == username || b == username
}
