package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/berri-graph/internal/model"
	"github.com/sakif/berri-graph/internal/repository"
)

// edgeQueries holds the direction-specific SQL for one edge list.
// For Following the user is the source column; for Followers it is the target.
type edgeQueries struct {
	count  string
	list   string
	insert string
	delete string
}

var (
	followingQueries = edgeQueries{
		count:  `SELECT COUNT(*) FROM follows WHERE source_id = ?`,
		list:   `SELECT target_id FROM follows WHERE source_id = ? ORDER BY rowid`,
		insert: `INSERT OR IGNORE INTO follows (source_id, target_id, created_at) VALUES (?, ?, ?)`,
		delete: `DELETE FROM follows WHERE source_id = ? AND target_id = ?`,
	}
	followersQueries = edgeQueries{
		count:  `SELECT COUNT(*) FROM follows WHERE target_id = ?`,
		list:   `SELECT source_id FROM follows WHERE target_id = ? ORDER BY rowid`,
		insert: `INSERT OR IGNORE INTO follows (target_id, source_id, created_at) VALUES (?, ?, ?)`,
		delete: `DELETE FROM follows WHERE target_id = ? AND source_id = ?`,
	}
)

func queriesFor(dir model.Direction) edgeQueries {
	if dir == model.Followers {
		return followersQueries
	}
	return followingQueries
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// EdgeCount returns the number of stored edges in dir for userID.
func (db *DB) EdgeCount(ctx context.Context, userID string, dir model.Direction) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, queriesFor(dir).count, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting %s of %s: %w", dir, userID, err)
	}
	return n, nil
}

// StoredEdges returns the neighbour IDs stored for userID in dir, in
// insertion order.
func (db *DB) StoredEdges(ctx context.Context, userID string, dir model.Direction) ([]string, error) {
	ids, err := storedEdges(ctx, db.conn, userID, dir)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing %s of %s: %w", dir, userID, err)
	}
	return ids, nil
}

func storedEdges(ctx context.Context, q queryer, userID string, dir model.Direction) ([]string, error) {
	rows, err := q.QueryContext(ctx, queriesFor(dir).list, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ApplyEdges reconciles the stored edge list of userID in dir with fresh.
//
// The read, the diff and both write sets run in a single IMMEDIATE
// transaction (see _txlock in dsn), so concurrent readers see the old set
// until commit and two concurrent updates of the same list serialise.
// Only the delta is written; unchanged edges are not touched. Nodes are
// upserted only for newly added neighbours.
func (db *DB) ApplyEdges(ctx context.Context, userID string, dir model.Direction, fresh []model.User) (model.EdgeDelta, error) {
	fresh = repository.UniqueUsers(fresh)
	freshIDs := make([]string, len(fresh))
	byID := make(map[string]*model.User, len(fresh))
	for i := range fresh {
		freshIDs[i] = fresh[i].ID
		byID[fresh[i].ID] = &fresh[i]
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return model.EdgeDelta{}, fmt.Errorf("sqlite: beginning edge update: %w", err)
	}
	defer tx.Rollback()

	stored, err := storedEdges(ctx, tx, userID, dir)
	if err != nil {
		return model.EdgeDelta{}, fmt.Errorf("sqlite: reading %s of %s: %w", dir, userID, err)
	}

	added, removed := repository.DiffEdges(stored, freshIDs)
	now := time.Now().UTC()
	q := queriesFor(dir)

	if len(added) > 0 {
		insert, err := tx.PrepareContext(ctx, q.insert)
		if err != nil {
			return model.EdgeDelta{}, fmt.Errorf("sqlite: preparing edge insert: %w", err)
		}
		defer insert.Close()

		for _, id := range added {
			if err := upsertUser(ctx, tx, byID[id], now); err != nil {
				return model.EdgeDelta{}, fmt.Errorf("sqlite: upserting neighbour %s: %w", id, err)
			}
			if _, err := insert.ExecContext(ctx, userID, id, now); err != nil {
				return model.EdgeDelta{}, fmt.Errorf("sqlite: inserting edge %s/%s: %w", userID, id, err)
			}
		}
	}

	if len(removed) > 0 {
		del, err := tx.PrepareContext(ctx, q.delete)
		if err != nil {
			return model.EdgeDelta{}, fmt.Errorf("sqlite: preparing edge delete: %w", err)
		}
		defer del.Close()

		for _, id := range removed {
			if _, err := del.ExecContext(ctx, userID, id); err != nil {
				return model.EdgeDelta{}, fmt.Errorf("sqlite: deleting edge %s/%s: %w", userID, id, err)
			}
		}
	}

	delta := model.EdgeDelta{
		Added:   len(added),
		Removed: len(removed),
		Total:   len(freshIDs),
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET last_fetched_at = ? WHERE id = ?`, now, userID,
	); err != nil {
		return model.EdgeDelta{}, fmt.Errorf("sqlite: stamping %s: %w", userID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_records (id, user_id, direction, edge_count, added, removed, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		xid.New().String(), userID, string(dir), delta.Total, delta.Added, delta.Removed, now,
	); err != nil {
		return model.EdgeDelta{}, fmt.Errorf("sqlite: recording sync of %s: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return model.EdgeDelta{}, fmt.Errorf("sqlite: committing edge update: %w", err)
	}

	return delta, nil
}

// LastSync returns the most recent sync record for (userID, dir), or nil if
// the list was never fetched.
func (db *DB) LastSync(ctx context.Context, userID string, dir model.Direction) (*model.SyncRecord, error) {
	var (
		rec       model.SyncRecord
		direction string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, direction, edge_count, added, removed, fetched_at
		 FROM sync_records
		 WHERE user_id = ? AND direction = ?
		 ORDER BY fetched_at DESC, rowid DESC
		 LIMIT 1`,
		userID, string(dir),
	).Scan(&rec.ID, &rec.UserID, &direction, &rec.EdgeCount, &rec.Added, &rec.Removed, &rec.FetchedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: reading last sync of %s: %w", userID, err)
	}
	rec.Direction = model.Direction(direction)
	return &rec, nil
}

// FindMutuals returns users X such that requester follows X and X follows
// target, in the order the requester's edges were stored.
func (db *DB) FindMutuals(ctx context.Context, requesterID, targetID string) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+`
		 FROM follows a
		 JOIN follows b ON b.source_id = a.target_id
		 JOIN users u   ON u.id = a.target_id
		 WHERE a.source_id = ? AND b.target_id = ?
		 ORDER BY a.rowid`,
		requesterID, targetID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding mutuals %s/%s: %w", requesterID, targetID, err)
	}
	defer rows.Close()

	mutuals := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning mutual row: %w", err)
		}
		mutuals = append(mutuals, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating mutuals: %w", err)
	}
	return mutuals, nil
}
