package socialapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sakif/berri-graph/internal/apperror"
	"github.com/sakif/berri-graph/internal/model"
)

// RawProfile is a user object as the upstream returns it, both from the
// profile endpoint and inside list pages. Several fields come under two
// names depending on endpoint version.
type RawProfile struct {
	ID                   json.Number `json:"id"`
	IDStr                string      `json:"id_str"`
	ScreenName           string      `json:"screen_name"`
	Username             string      `json:"username"`
	Name                 string      `json:"name"`
	Description          string      `json:"description"`
	ProfileImageURL      string      `json:"profile_image_url"`
	ProfileImageURLHTTPS string      `json:"profile_image_url_https"`
	Verified             bool        `json:"verified"`
	FollowersCount       *int        `json:"followers_count"`
	FriendsCount         *int        `json:"friends_count"`
	FollowingCount       *int        `json:"following_count"`
}

// NormalizeProfile converts a raw payload into a model.User. It is the only
// place the upstream field fallbacks are applied.
func NormalizeProfile(raw RawProfile) model.User {
	u := model.User{
		ID:              raw.IDStr,
		Username:        raw.ScreenName,
		Name:            raw.Name,
		Description:     raw.Description,
		ProfileImageURL: raw.ProfileImageURLHTTPS,
		Verified:        raw.Verified,
		FollowersCount:  deref(raw.FollowersCount),
		FollowingCount:  deref(raw.FriendsCount),
	}
	if u.ID == "" {
		u.ID = raw.ID.String()
	}
	if u.Username == "" {
		u.Username = raw.Username
	}
	if u.ProfileImageURL == "" {
		u.ProfileImageURL = raw.ProfileImageURL
	}
	if raw.FriendsCount == nil {
		u.FollowingCount = deref(raw.FollowingCount)
	}
	u.CountsMissing = raw.FollowersCount == nil && raw.FriendsCount == nil && raw.FollowingCount == nil
	u.UsernameLower = model.NormalizeUsername(u.Username)
	return u
}

func deref(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

// GetProfile fetches the live profile for username.
func (c *Client) GetProfile(ctx context.Context, username string) (*model.User, error) {
	handle := model.NormalizeUsername(username)
	if handle == "" {
		return nil, apperror.ValidationFailed("username", "username is required")
	}

	var raw RawProfile
	err := c.getJSON(ctx, "profile", "/twitter/user/"+url.PathEscape(handle), nil, &raw)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			if se.Status == http.StatusNotFound {
				return nil, apperror.UserNotFound(username)
			}
			return nil, apperror.Upstream(fmt.Sprintf("fetching profile for %s failed with status %d", username, se.Status), err)
		}
		if errors.Is(err, apperror.ErrMisconfigured) {
			return nil, err
		}
		return nil, apperror.Upstream("fetching profile for "+username+" failed", err)
	}

	user := NormalizeProfile(raw)
	if user.ID == "" {
		return nil, apperror.UserNotFound(username)
	}
	return &user, nil
}
