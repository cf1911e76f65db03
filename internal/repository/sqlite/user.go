package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/berri-graph/internal/apperror"
	"github.com/sakif/berri-graph/internal/model"
	"github.com/sakif/berri-graph/internal/repository"
)

// compile-time check that *DB implements repository.GraphStore
var _ repository.GraphStore = (*DB)(nil)

const userColumns = `u.id, u.username, u.username_lower, u.name, u.description,
	u.profile_image_url, u.verified, u.followers_count, u.following_count,
	u.classification, u.subtype, u.last_fetched_at, u.created_at, u.updated_at`

// upsertUserSQL refreshes the upstream-owned columns of an existing row and
// leaves classification, subtype and last_fetched_at alone; those are owned
// by this service. The last parameter is User.CountsMissing: when set, the
// stored counts survive.
const upsertUserSQL = `
	INSERT INTO users (id, username, username_lower, name, description, profile_image_url,
		verified, followers_count, following_count, created_at, updated_at)
	VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11)
	ON CONFLICT(id) DO UPDATE SET
		username          = excluded.username,
		username_lower    = excluded.username_lower,
		name              = excluded.name,
		description       = excluded.description,
		profile_image_url = excluded.profile_image_url,
		verified          = excluded.verified,
		followers_count   = CASE WHEN ?12 THEN users.followers_count ELSE excluded.followers_count END,
		following_count   = CASE WHEN ?12 THEN users.following_count ELSE excluded.following_count END,
		updated_at        = excluded.updated_at`

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertUser inserts the user or refreshes its profile fields, keyed by ID.
// On return user.UsernameLower, CreatedAt (for new rows) and UpdatedAt are set.
func (db *DB) UpsertUser(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		return apperror.ValidationFailed("id", "user id is required")
	}
	if err := upsertUser(ctx, db.conn, user, time.Now().UTC()); err != nil {
		return fmt.Errorf("sqlite: upserting user %s: %w", user.ID, err)
	}
	return nil
}

// UpsertUsers upserts a batch of users inside one transaction.
func (db *DB) UpsertUsers(ctx context.Context, users []model.User) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning user batch: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i := range users {
		if users[i].ID == "" {
			continue
		}
		if err := upsertUser(ctx, tx, &users[i], now); err != nil {
			return fmt.Errorf("sqlite: upserting user %s: %w", users[i].ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing user batch: %w", err)
	}
	return nil
}

func upsertUser(ctx context.Context, ex execer, user *model.User, now time.Time) error {
	user.UsernameLower = model.NormalizeUsername(user.Username)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := ex.ExecContext(ctx, upsertUserSQL,
		user.ID,
		user.Username,
		user.UsernameLower,
		user.Name,
		user.Description,
		user.ProfileImageURL,
		user.Verified,
		user.FollowersCount,
		user.FollowingCount,
		user.CreatedAt,
		user.UpdatedAt,
		user.CountsMissing,
	)
	return err
}

// GetUserByID retrieves a user by upstream ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.id = ?`, id)

	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByUsername looks a user up case-insensitively. If a handle moved
// between accounts, the most recently updated row wins.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	lower := model.NormalizeUsername(username)
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users u
		 WHERE u.username_lower = ?
		 ORDER BY u.updated_at DESC
		 LIMIT 1`, lower)

	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: getting user %q: %w", username, err)
	}
	return u, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*model.User, error) {
	var (
		u           model.User
		lastFetched sql.NullTime
	)
	err := s.Scan(
		&u.ID,
		&u.Username,
		&u.UsernameLower,
		&u.Name,
		&u.Description,
		&u.ProfileImageURL,
		&u.Verified,
		&u.FollowersCount,
		&u.FollowingCount,
		&u.Classification,
		&u.Subtype,
		&lastFetched,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastFetched.Valid {
		t := lastFetched.Time
		u.LastFetchedAt = &t
	}
	return &u, nil
}
