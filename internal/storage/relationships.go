package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/daybook/internal/graph"
)

const relationshipColumns = `id, type, confidence, evidence, from_entity_id, to_entity_id, source_entry_id, created_at`

// CreateRelationship stores a directed edge between two existing entities.
// Input is validated before anything is written. An edge with the same
// endpoints and type is stored once: a repeat returns the existing edge with
// the higher of the two confidences.
func (s *Store) CreateRelationship(ctx context.Context, fromID, toID string, typ graph.RelationshipType, confidence float64, evidence, sourceEntryID string) (graph.Relationship, error) {
	switch {
	case !typ.Valid():
		return graph.Relationship{}, graph.NewValidationError("type", "unknown relationship type %q", typ)
	case confidence < 0 || confidence > 1:
		return graph.Relationship{}, graph.NewValidationError("confidence", "must be within [0,1], got %.2f", confidence)
	case strings.TrimSpace(evidence) == "":
		return graph.Relationship{}, graph.NewValidationError("evidence", "must not be empty")
	case fromID == "" || toID == "":
		return graph.Relationship{}, graph.NewValidationError("endpoint", "both entity IDs are required")
	case fromID == toID:
		return graph.Relationship{}, graph.NewValidationError("endpoint", "entity %s cannot relate to itself", fromID)
	}

	var result graph.Relationship
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range []string{fromID, toID} {
			ok, err := exists(ctx, tx, `SELECT COUNT(*) FROM entities WHERE id = ?`, id)
			if err != nil {
				return err
			}
			if !ok {
				return graph.NewValidationError("endpoint", "entity %s does not exist", id)
			}
		}
		if sourceEntryID != "" {
			ok, err := exists(ctx, tx, `SELECT COUNT(*) FROM entries WHERE id = ?`, sourceEntryID)
			if err != nil {
				return err
			}
			if !ok {
				return graph.NewValidationError("source_entry_id", "entry %s does not exist", sourceEntryID)
			}
		}

		row := tx.QueryRowContext(ctx,
			`SELECT `+relationshipColumns+` FROM entity_relationships
			 WHERE from_entity_id = ? AND to_entity_id = ? AND type = ?`,
			fromID, toID, string(typ))
		existing, err := scanRelationship(row)
		switch {
		case err == nil:
			result = existing
			if confidence > existing.Confidence {
				result.Confidence = confidence
				if _, err := tx.ExecContext(ctx,
					`UPDATE entity_relationships SET confidence = ? WHERE id = ?`,
					confidence, existing.ID); err != nil {
					return fmt.Errorf("updating relationship %s: %w", existing.ID, err)
				}
			}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("looking up relationship: %w", err)
		}

		result = graph.Relationship{
			ID:            uuid.New().String(),
			Type:          typ,
			Confidence:    confidence,
			Evidence:      evidence,
			FromEntityID:  fromID,
			ToEntityID:    toID,
			SourceEntryID: sourceEntryID,
			CreatedAt:     s.now(),
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entity_relationships
				(id, type, confidence, evidence, from_entity_id, to_entity_id, source_entry_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			result.ID, string(result.Type), result.Confidence, result.Evidence,
			result.FromEntityID, result.ToEntityID, nullString(result.SourceEntryID), formatTime(result.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting relationship: %w", err)
		}
		return nil
	})
	if err != nil {
		return graph.Relationship{}, err
	}
	return result, nil
}

// RelationshipsForEntity returns every edge where the entity is either endpoint.
func (s *Store) RelationshipsForEntity(ctx context.Context, entityID string) ([]graph.Relationship, error) {
	return s.RelationshipsTouching(ctx, []string{entityID})
}

// RelationshipsTouching returns every edge with at least one endpoint in
// entityIDs. Each edge appears once.
func (s *Store) RelationshipsTouching(ctx context.Context, entityIDs []string) ([]graph.Relationship, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	ph := placeholders(len(entityIDs))
	args := append(stringArgs(entityIDs), stringArgs(entityIDs)...)
	return s.queryRelationships(ctx, `
		SELECT `+relationshipColumns+` FROM entity_relationships
		WHERE from_entity_id IN (`+ph+`) OR to_entity_id IN (`+ph+`)
		ORDER BY rowid ASC`, args...)
}

// RelationshipsForEntry returns the edges discovered from an entry.
func (s *Store) RelationshipsForEntry(ctx context.Context, entryID string) ([]graph.Relationship, error) {
	return s.queryRelationships(ctx, `
		SELECT `+relationshipColumns+` FROM entity_relationships
		WHERE source_entry_id = ?
		ORDER BY rowid ASC`, entryID)
}

// RelatedEntities returns the distinct neighbours of an entity over outgoing
// and incoming edges.
func (s *Store) RelatedEntities(ctx context.Context, entityID string) ([]graph.Entity, error) {
	return s.queryEntities(ctx, s.db, `
		SELECT `+entityColumns+` FROM entities
		WHERE id IN (
			SELECT to_entity_id FROM entity_relationships WHERE from_entity_id = ?
			UNION
			SELECT from_entity_id FROM entity_relationships WHERE to_entity_id = ?
		)
		ORDER BY rowid ASC`, entityID, entityID)
}

// RelationshipCount returns the number of outgoing plus incoming edges of an entity.
func (s *Store) RelationshipCount(ctx context.Context, entityID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM entity_relationships WHERE from_entity_id = ?) +
			(SELECT COUNT(*) FROM entity_relationships WHERE to_entity_id = ?)`,
		entityID, entityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting relationships for %s: %w", entityID, err)
	}
	return n, nil
}

// RelationshipCounts returns the number of edges per type. Every type is present.
func (s *Store) RelationshipCounts(ctx context.Context) (map[graph.RelationshipType]int, error) {
	out := make(map[graph.RelationshipType]int, len(graph.RelationshipTypes))
	for _, t := range graph.RelationshipTypes {
		out[t] = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM entity_relationships GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("counting relationships: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		out[graph.RelationshipType(t)] = n
	}
	return out, rows.Err()
}

func (s *Store) queryRelationships(ctx context.Context, query string, args ...any) ([]graph.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying relationships: %w", err)
	}
	defer rows.Close()

	var out []graph.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRelationship(sc scanner) (graph.Relationship, error) {
	var (
		r       graph.Relationship
		typ     string
		source  sql.NullString
		created string
	)
	err := sc.Scan(&r.ID, &typ, &r.Confidence, &r.Evidence, &r.FromEntityID, &r.ToEntityID, &source, &created)
	if err != nil {
		return graph.Relationship{}, err
	}
	r.Type = graph.RelationshipType(typ)
	r.SourceEntryID = source.String
	if r.CreatedAt, err = parseTime(created); err != nil {
		return graph.Relationship{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return r, nil
}

func exists(ctx context.Context, q querier, query string, args ...any) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("checking existence: %w", err)
	}
	return n > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
