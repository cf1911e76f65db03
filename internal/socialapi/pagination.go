package socialapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/sakif/berri-graph/internal/apperror"
	"github.com/sakif/berri-graph/internal/model"
)

// endCursor is the upstream's "no more pages" sentinel. An absent cursor
// means the same.
const endCursor = "0"

// UserRef names a user by ID, username, or both. ID wins when set.
type UserRef struct {
	ID       string
	Username string
}

type listPage struct {
	Users         []RawProfile `json:"users"`
	NextCursorStr string       `json:"next_cursor_str"`
}

type listEndpoint struct {
	name      string // metrics label
	path      string
	sizeParam string
}

var listEndpoints = map[model.Direction]listEndpoint{
	model.Following: {name: "friends", path: "/twitter/friends/list", sizeParam: "count"},
	model.Followers: {name: "followers", path: "/twitter/followers/list", sizeParam: "limit"},
}

// FetchAll retrieves the complete edge list of ref in dir, following
// cursors until the upstream signals the end. Entries are returned in
// upstream order without deduplication. Any failed page aborts the whole
// fetch and nothing partial is returned.
func (c *Client) FetchAll(ctx context.Context, ref UserRef, dir model.Direction) ([]model.User, error) {
	ep, ok := listEndpoints[dir]
	if !ok {
		return nil, apperror.ValidationFailed("direction", fmt.Sprintf("unknown direction %q", dir))
	}

	userID := ref.ID
	if userID == "" {
		profile, err := c.GetProfile(ctx, ref.Username)
		if err != nil {
			return nil, err
		}
		userID = profile.ID
	}

	var (
		users  []model.User
		cursor = "-1"
	)
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("user_id", userID)
		q.Set("cursor", cursor)
		q.Set(ep.sizeParam, strconv.Itoa(c.pageSize))

		var resp listPage
		if err := c.getJSON(ctx, ep.name, ep.path, q, &resp); err != nil {
			if errors.Is(err, apperror.ErrMisconfigured) {
				return nil, err
			}
			return nil, apperror.Upstream(
				fmt.Sprintf("fetching %s page %d for user %s failed", dir, page, userID), err)
		}

		for _, raw := range resp.Users {
			users = append(users, NormalizeProfile(raw))
		}

		c.logger.Debug("fetched page",
			slog.String("user_id", userID),
			slog.String("direction", dir.String()),
			slog.Int("page", page),
			slog.Int("page_size", len(resp.Users)),
			slog.Int("total", len(users)),
		)

		if resp.NextCursorStr == "" || resp.NextCursorStr == endCursor {
			return users, nil
		}
		cursor = resp.NextCursorStr
	}
}
