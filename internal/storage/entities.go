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

const entityColumns = `id, type, value, confidence, aliases, metadata, created_at, updated_at`

// EntryLinks is an entry together with the subset of queried entity IDs it is linked to.
type EntryLinks struct {
	Entry     graph.Entry
	EntityIDs []string
}

// FindOrCreateEntity returns the stored entity of the same type that matches
// value or any of aliases, creating one when nothing matches. Exact matches win
// over substring matches; among equals the oldest entity wins. On a match the
// incoming names are merged into the alias list and the higher confidence is
// kept. The lookup and the write happen in one transaction.
func (s *Store) FindOrCreateEntity(ctx context.Context, typ graph.EntityType, value string, aliases []string, confidence float64) (graph.Entity, error) {
	value = strings.TrimSpace(value)
	if !typ.Valid() {
		return graph.Entity{}, graph.NewValidationError("type", "unknown entity type %q", typ)
	}
	if value == "" {
		return graph.Entity{}, graph.NewValidationError("value", "must not be empty")
	}
	if confidence < 0 || confidence > 1 {
		return graph.Entity{}, graph.NewValidationError("confidence", "must be within [0,1], got %.2f", confidence)
	}

	var result graph.Entity
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.queryEntities(ctx, tx,
			`SELECT `+entityColumns+` FROM entities WHERE type = ? ORDER BY rowid ASC`, string(typ))
		if err != nil {
			return err
		}

		names := append([]string{value}, aliases...)
		match := pickMatch(existing, names)
		now := s.now()

		if match == nil {
			result = graph.Entity{
				ID:         uuid.New().String(),
				Type:       typ,
				Value:      value,
				Confidence: confidence,
				Aliases:    graph.MergeAliases(value, nil, aliases...),
				Metadata:   graph.Metadata{},
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO entities (id, type, value, confidence, aliases, metadata, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				result.ID, string(result.Type), result.Value, result.Confidence,
				graph.Aliases(result.Aliases), result.Metadata,
				formatTime(result.CreatedAt), formatTime(result.UpdatedAt),
			)
			if err != nil {
				return fmt.Errorf("inserting entity: %w", err)
			}
			return nil
		}

		result = *match
		merged := graph.MergeAliases(match.Value, match.Aliases, names...)
		conf := max(match.Confidence, confidence)
		if len(merged) == len(match.Aliases) && conf == match.Confidence {
			return nil
		}
		result.Aliases = merged
		result.Confidence = conf
		result.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`UPDATE entities SET aliases = ?, confidence = ?, updated_at = ? WHERE id = ?`,
			graph.Aliases(result.Aliases), result.Confidence, formatTime(result.UpdatedAt), result.ID,
		)
		if err != nil {
			return fmt.Errorf("updating entity %s: %w", result.ID, err)
		}
		return nil
	})
	if err != nil {
		return graph.Entity{}, err
	}
	return result, nil
}

func pickMatch(existing []graph.Entity, names []string) *graph.Entity {
	for i := range existing {
		for _, n := range names {
			if existing[i].MatchesExactly(n) {
				return &existing[i]
			}
		}
	}
	for i := range existing {
		if existing[i].Matches(names...) {
			return &existing[i]
		}
	}
	return nil
}

// GetEntity returns the entity with the given ID, or ErrNotFound.
func (s *Store) GetEntity(ctx context.Context, id string) (graph.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Entity{}, ErrNotFound
	}
	if err != nil {
		return graph.Entity{}, fmt.Errorf("getting entity %s: %w", id, err)
	}
	return e, nil
}

// GetEntities loads the entities with the given IDs, keyed by ID. Unknown IDs
// are absent from the result.
func (s *Store) GetEntities(ctx context.Context, ids []string) (map[string]graph.Entity, error) {
	out := make(map[string]graph.Entity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	list, err := s.queryEntities(ctx, s.db,
		`SELECT `+entityColumns+` FROM entities WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	for _, e := range list {
		out[e.ID] = e
	}
	return out, nil
}

// ListEntities returns all entities, optionally restricted to one type, oldest first.
func (s *Store) ListEntities(ctx context.Context, typ graph.EntityType) ([]graph.Entity, error) {
	if typ == "" {
		return s.queryEntities(ctx, s.db, `SELECT `+entityColumns+` FROM entities ORDER BY rowid ASC`)
	}
	return s.queryEntities(ctx, s.db,
		`SELECT `+entityColumns+` FROM entities WHERE type = ? ORDER BY rowid ASC`, string(typ))
}

// LinkEntities adds entry→entity links. Existing links are kept, so repeated
// calls accumulate the union of all linked entities.
func (s *Store) LinkEntities(ctx context.Context, entryID string, entityIDs []string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	now := formatTime(s.now())
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range entityIDs {
			_, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO entry_entities (entry_id, entity_id, linked_at) VALUES (?, ?, ?)`,
				entryID, id, now)
			if err != nil {
				return fmt.Errorf("linking entity %s to entry %s: %w", id, entryID, err)
			}
		}
		return nil
	})
}

// EntitiesForEntry returns the entities linked to an entry in link order.
func (s *Store) EntitiesForEntry(ctx context.Context, entryID string) ([]graph.Entity, error) {
	return s.queryEntities(ctx, s.db, `
		SELECT e.id, e.type, e.value, e.confidence, e.aliases, e.metadata, e.created_at, e.updated_at
		FROM entities e
		JOIN entry_entities ee ON ee.entity_id = e.id
		WHERE ee.entry_id = ?
		ORDER BY ee.rowid ASC`, entryID)
}

// EntriesForEntity returns the entries an entity is linked to, newest first.
func (s *Store) EntriesForEntity(ctx context.Context, entityID string) ([]graph.Entry, error) {
	return s.queryEntries(ctx, s.db, `
		SELECT `+prefixed("en", entryColumns)+`
		FROM entries en
		JOIN entry_entities ee ON ee.entry_id = en.id
		WHERE ee.entity_id = ?
		ORDER BY en.entry_date DESC, en.rowid ASC`, entityID)
}

// EntriesLinkedTo returns every entry linked to at least one of entityIDs,
// each with the subset of entityIDs it carries.
func (s *Store) EntriesLinkedTo(ctx context.Context, entityIDs []string) ([]EntryLinks, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ee.entity_id, `+prefixed("en", entryColumns)+`
		FROM entry_entities ee
		JOIN entries en ON en.id = ee.entry_id
		WHERE ee.entity_id IN (`+placeholders(len(entityIDs))+`)
		ORDER BY en.rowid ASC, ee.rowid ASC`, stringArgs(entityIDs)...)
	if err != nil {
		return nil, fmt.Errorf("querying linked entries: %w", err)
	}
	defer rows.Close()

	var out []EntryLinks
	index := make(map[string]int)
	for rows.Next() {
		var entityID string
		e, err := scanEntry(prefixScanner{rows: rows, first: &entityID})
		if err != nil {
			return nil, err
		}
		i, ok := index[e.ID]
		if !ok {
			i = len(out)
			index[e.ID] = i
			out = append(out, EntryLinks{Entry: e})
		}
		out[i].EntityIDs = append(out[i].EntityIDs, entityID)
	}
	return out, rows.Err()
}

// DeleteEntity removes an entity, its entry links and every edge touching it.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting entity %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneOrphanEntities deletes entities that are linked to no entry and take
// part in no relationship. It returns the number of entities removed.
func (s *Store) PruneOrphanEntities(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM entities
		WHERE id NOT IN (SELECT entity_id FROM entry_entities)
		  AND id NOT IN (SELECT from_entity_id FROM entity_relationships)
		  AND id NOT IN (SELECT to_entity_id FROM entity_relationships)`)
	if err != nil {
		return 0, fmt.Errorf("pruning orphan entities: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// EntityCounts returns the number of entities per type. Every type is present.
func (s *Store) EntityCounts(ctx context.Context) (map[graph.EntityType]int, error) {
	out := make(map[graph.EntityType]int, len(graph.EntityTypes))
	for _, t := range graph.EntityTypes {
		out[t] = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM entities GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("counting entities: %w", err)
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
		out[graph.EntityType(t)] = n
	}
	return out, rows.Err()
}

func (s *Store) queryEntities(ctx context.Context, q querier, query string, args ...any) ([]graph.Entity, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var out []graph.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntity(sc scanner) (graph.Entity, error) {
	var (
		e                graph.Entity
		typ              string
		aliases          graph.Aliases
		created, updated string
	)
	if err := sc.Scan(&e.ID, &typ, &e.Value, &e.Confidence, &aliases, &e.Metadata, &created, &updated); err != nil {
		return graph.Entity{}, err
	}
	e.Type = graph.EntityType(typ)
	e.Aliases = []string(aliases)

	var err error
	if e.CreatedAt, err = parseTime(created); err != nil {
		return graph.Entity{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return graph.Entity{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return e, nil
}

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// prefixScanner scans one leading column into first, then the rest into dest.
type prefixScanner struct {
	rows  *sql.Rows
	first *string
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.rows.Scan(append([]any{p.first}, dest...)...)
}
