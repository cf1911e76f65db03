// Package neo4j implements repository.GraphStore on Neo4j.
//
// Graph shape:
//
//	(:User {id, username, username_lower, ...})-[:FOLLOWS]->(:User)
//	(:SyncRecord {id, user_id, direction, edge_count, added, removed, fetched_at})
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/sakif/berri-graph/internal/apperror"
	"github.com/sakif/berri-graph/internal/model"
	"github.com/sakif/berri-graph/internal/repository"
)

var _ repository.GraphStore = (*Store)(nil)

// Config holds connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string // empty selects the server default
}

// Store is a GraphStore backed by a Neo4j driver.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// New connects, verifies connectivity and ensures constraints exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j: creating driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verifying connectivity: %w", err)
	}

	s := &Store{driver: driver, database: cfg.Database}
	if err := s.migrate(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: creating constraints: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE CONSTRAINT user_id IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`,
		`CREATE INDEX user_username_lower IF NOT EXISTS FOR (u:User) ON (u.username_lower)`,
		`CREATE INDEX sync_record_user IF NOT EXISTS FOR (s:SyncRecord) ON (s.user_id, s.direction)`,
	}
	for _, stmt := range stmts {
		if _, err := s.run(ctx, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the driver's connection pool.
func (s *Store) Close() error {
	return s.driver.Close(context.Background())
}

// Ping verifies the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

func (s *Store) run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, s.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
	)
}

func (s *Store) read(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, s.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithReadersRouting(),
	)
}

const setUserProps = `
	n.username = row.username,
	n.username_lower = row.username_lower,
	n.name = row.name,
	n.description = row.description,
	n.profile_image_url = row.profile_image_url,
	n.verified = row.verified,
	n.followers_count = CASE WHEN row.counts_missing AND n.followers_count IS NOT NULL
		THEN n.followers_count ELSE row.followers_count END,
	n.following_count = CASE WHEN row.counts_missing AND n.following_count IS NOT NULL
		THEN n.following_count ELSE row.following_count END,
	n.updated_at = $now`

func userRow(u *model.User) map[string]any {
	return map[string]any{
		"id":                u.ID,
		"username":          u.Username,
		"username_lower":    model.NormalizeUsername(u.Username),
		"name":              u.Name,
		"description":       u.Description,
		"profile_image_url": u.ProfileImageURL,
		"verified":          u.Verified,
		"followers_count":   int64(u.FollowersCount),
		"following_count":   int64(u.FollowingCount),
		"counts_missing":    u.CountsMissing,
	}
}

// UpsertUser merges the user node by id.
func (s *Store) UpsertUser(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		return apperror.ValidationFailed("id", "user id is required")
	}
	if err := s.UpsertUsers(ctx, []model.User{*user}); err != nil {
		return err
	}
	now := time.Now().UTC()
	user.UsernameLower = model.NormalizeUsername(user.Username)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	return nil
}

// UpsertUsers merges a batch of user nodes in one query.
func (s *Store) UpsertUsers(ctx context.Context, users []model.User) error {
	rows := make([]map[string]any, 0, len(users))
	for i := range users {
		if users[i].ID == "" {
			continue
		}
		rows = append(rows, userRow(&users[i]))
	}
	if len(rows) == 0 {
		return nil
	}

	_, err := s.run(ctx, `
		UNWIND $rows AS row
		MERGE (n:User {id: row.id})
		ON CREATE SET n.created_at = $now
		SET `+setUserProps,
		map[string]any{"rows": rows, "now": time.Now().UTC()},
	)
	if err != nil {
		return fmt.Errorf("neo4j: upserting %d users: %w", len(rows), err)
	}
	return nil
}

// GetUserByID retrieves a user node by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	res, err := s.read(ctx, `MATCH (n:User {id: $id}) RETURN n`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("neo4j: getting user %s: %w", id, err)
	}
	if len(res.Records) == 0 {
		return nil, apperror.NotFound("user", id)
	}
	return userFromRecord(res.Records[0], "n")
}

// GetUserByUsername looks a user up through the lowercase shadow property.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	res, err := s.read(ctx, `
		MATCH (n:User {username_lower: $lower})
		RETURN n ORDER BY n.updated_at DESC LIMIT 1`,
		map[string]any{"lower": model.NormalizeUsername(username)},
	)
	if err != nil {
		return nil, fmt.Errorf("neo4j: getting user %q: %w", username, err)
	}
	if len(res.Records) == 0 {
		return nil, apperror.NotFound("user", username)
	}
	return userFromRecord(res.Records[0], "n")
}

func userFromRecord(rec *neo4j.Record, key string) (*model.User, error) {
	node, _, err := neo4j.GetRecordValue[neo4j.Node](rec, key)
	if err != nil {
		return nil, fmt.Errorf("neo4j: reading node %q: %w", key, err)
	}
	p := node.Props
	u := &model.User{
		ID:              str(p["id"]),
		Username:        str(p["username"]),
		UsernameLower:   str(p["username_lower"]),
		Name:            str(p["name"]),
		Description:     str(p["description"]),
		ProfileImageURL: str(p["profile_image_url"]),
		Classification:  str(p["classification"]),
		Subtype:         str(p["subtype"]),
		FollowersCount:  int(num(p["followers_count"])),
		FollowingCount:  int(num(p["following_count"])),
	}
	if v, ok := p["verified"].(bool); ok {
		u.Verified = v
	}
	if t, ok := p["created_at"].(time.Time); ok {
		u.CreatedAt = t
	}
	if t, ok := p["updated_at"].(time.Time); ok {
		u.UpdatedAt = t
	}
	if t, ok := p["last_fetched_at"].(time.Time); ok {
		u.LastFetchedAt = &t
	}
	return u, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) int64 {
	n, _ := v.(int64)
	return n
}
