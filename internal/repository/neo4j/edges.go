package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/xid"

	"github.com/sakif/berri-graph/internal/apperror"
	"github.com/sakif/berri-graph/internal/model"
	"github.com/sakif/berri-graph/internal/repository"
)

// edgePattern returns the MATCH pattern binding the owner as u and the
// neighbour as n for the given direction.
func edgePattern(dir model.Direction) string {
	if dir == model.Followers {
		return `(n:User)-[r:FOLLOWS]->(u:User {id: $id})`
	}
	return `(u:User {id: $id})-[r:FOLLOWS]->(n:User)`
}

func mergePattern(dir model.Direction) string {
	if dir == model.Followers {
		return `MERGE (n)-[:FOLLOWS]->(u)`
	}
	return `MERGE (u)-[:FOLLOWS]->(n)`
}

// EdgeCount returns the number of stored edges in dir for userID.
func (s *Store) EdgeCount(ctx context.Context, userID string, dir model.Direction) (int, error) {
	res, err := s.read(ctx, `MATCH `+edgePattern(dir)+` RETURN count(r) AS c`,
		map[string]any{"id": userID})
	if err != nil {
		return 0, fmt.Errorf("neo4j: counting %s of %s: %w", dir, userID, err)
	}
	if len(res.Records) == 0 {
		return 0, nil
	}
	c, _, err := neo4j.GetRecordValue[int64](res.Records[0], "c")
	if err != nil {
		return 0, fmt.Errorf("neo4j: reading count: %w", err)
	}
	return int(c), nil
}

// StoredEdges returns the neighbour IDs stored for userID in dir.
func (s *Store) StoredEdges(ctx context.Context, userID string, dir model.Direction) ([]string, error) {
	res, err := s.read(ctx, `MATCH `+edgePattern(dir)+` RETURN n.id AS id`,
		map[string]any{"id": userID})
	if err != nil {
		return nil, fmt.Errorf("neo4j: listing %s of %s: %w", dir, userID, err)
	}
	return idsFromRecords(res.Records)
}

func idsFromRecords(records []*neo4j.Record) ([]string, error) {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		id, _, err := neo4j.GetRecordValue[string](rec, "id")
		if err != nil {
			return nil, fmt.Errorf("neo4j: reading id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ApplyEdges reconciles the stored edge list inside one write transaction.
// The driver may replay the function on transient errors; each replay
// re-reads the stored set, so the outcome is the same.
func (s *Store) ApplyEdges(ctx context.Context, userID string, dir model.Direction, fresh []model.User) (model.EdgeDelta, error) {
	fresh = repository.UniqueUsers(fresh)
	freshIDs := make([]string, len(fresh))
	byID := make(map[string]*model.User, len(fresh))
	for i := range fresh {
		freshIDs[i] = fresh[i].ID
		byID[fresh[i].ID] = &fresh[i]
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		params := map[string]any{"id": userID}

		owner, err := tx.Run(ctx, `MATCH (u:User {id: $id}) RETURN u.id AS id`, params)
		if err != nil {
			return nil, err
		}
		if !owner.Next(ctx) {
			return nil, apperror.NotFound("user", userID)
		}

		res, err := tx.Run(ctx, `MATCH `+edgePattern(dir)+` RETURN n.id AS id`, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		stored, err := idsFromRecords(records)
		if err != nil {
			return nil, err
		}

		added, removed := repository.DiffEdges(stored, freshIDs)
		now := time.Now().UTC()

		if len(added) > 0 {
			rows := make([]map[string]any, len(added))
			for i, id := range added {
				rows[i] = userRow(byID[id])
			}
			if _, err := tx.Run(ctx, `
				MATCH (u:User {id: $id})
				UNWIND $rows AS row
				MERGE (n:User {id: row.id})
				ON CREATE SET n.created_at = $now
				SET `+setUserProps+`
				`+mergePattern(dir),
				map[string]any{"id": userID, "rows": rows, "now": now},
			); err != nil {
				return nil, err
			}
		}

		if len(removed) > 0 {
			if _, err := tx.Run(ctx, `
				MATCH `+edgePattern(dir)+`
				WHERE n.id IN $removed
				DELETE r`,
				map[string]any{"id": userID, "removed": removed},
			); err != nil {
				return nil, err
			}
		}

		delta := model.EdgeDelta{Added: len(added), Removed: len(removed), Total: len(freshIDs)}

		if _, err := tx.Run(ctx, `
			MATCH (u:User {id: $id})
			SET u.last_fetched_at = $now
			CREATE (:SyncRecord {
				id: $recordID, user_id: $id, direction: $direction,
				edge_count: $total, added: $added, removed: $removed, fetched_at: $now
			})`,
			map[string]any{
				"id":        userID,
				"now":       now,
				"recordID":  xid.New().String(),
				"direction": string(dir),
				"total":     int64(delta.Total),
				"added":     int64(delta.Added),
				"removed":   int64(delta.Removed),
			},
		); err != nil {
			return nil, err
		}

		return delta, nil
	})
	if err != nil {
		return model.EdgeDelta{}, fmt.Errorf("neo4j: applying %s of %s: %w", dir, userID, err)
	}
	return out.(model.EdgeDelta), nil
}

// LastSync returns the most recent sync record for (userID, dir), or nil.
func (s *Store) LastSync(ctx context.Context, userID string, dir model.Direction) (*model.SyncRecord, error) {
	res, err := s.read(ctx, `
		MATCH (s:SyncRecord {user_id: $id, direction: $direction})
		RETURN s ORDER BY s.fetched_at DESC LIMIT 1`,
		map[string]any{"id": userID, "direction": string(dir)},
	)
	if err != nil {
		return nil, fmt.Errorf("neo4j: reading last sync of %s: %w", userID, err)
	}
	if len(res.Records) == 0 {
		return nil, nil
	}

	node, _, err := neo4j.GetRecordValue[neo4j.Node](res.Records[0], "s")
	if err != nil {
		return nil, fmt.Errorf("neo4j: reading sync record: %w", err)
	}
	p := node.Props
	rec := &model.SyncRecord{
		ID:        str(p["id"]),
		UserID:    str(p["user_id"]),
		Direction: model.Direction(str(p["direction"])),
		EdgeCount: int(num(p["edge_count"])),
		Added:     int(num(p["added"])),
		Removed:   int(num(p["removed"])),
	}
	if t, ok := p["fetched_at"].(time.Time); ok {
		rec.FetchedAt = t
	}
	return rec, nil
}

// FindMutuals returns users m with requester -> m -> target in query order.
func (s *Store) FindMutuals(ctx context.Context, requesterID, targetID string) ([]model.User, error) {
	res, err := s.read(ctx, `
		MATCH (:User {id: $requester})-[:FOLLOWS]->(m:User)-[:FOLLOWS]->(:User {id: $target})
		RETURN DISTINCT m`,
		map[string]any{"requester": requesterID, "target": targetID},
	)
	if err != nil {
		return nil, fmt.Errorf("neo4j: finding mutuals %s/%s: %w", requesterID, targetID, err)
	}

	mutuals := make([]model.User, 0, len(res.Records))
	for _, rec := range res.Records {
		u, err := userFromRecord(rec, "m")
		if err != nil {
			return nil, err
		}
		mutuals = append(mutuals, *u)
	}
	return mutuals, nil
}
