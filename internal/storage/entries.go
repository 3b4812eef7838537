package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/daybook/internal/graph"
)

const entryColumns = `id, entry_date, content,
	is_entities_extracted, entities_extracted_at, entities_extraction_model,
	is_relationships_discovered, relationships_discovered_at, relationships_discovery_model,
	created_at, updated_at`

// EntryFilter narrows ListEntries. Zero values mean "no constraint".
type EntryFilter struct {
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// SaveEntry inserts a new entry or updates the date and content of an existing
// one. The entry date is normalized to its calendar day. Updating content does
// not reset processing state; use ResetProcessing for that.
func (s *Store) SaveEntry(ctx context.Context, e *graph.Entry) error {
	if strings.TrimSpace(e.Content) == "" {
		return graph.NewValidationError("content", "must not be empty")
	}
	if e.Date.IsZero() {
		return graph.NewValidationError("date", "must be set")
	}
	now := s.now()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Date = graph.NormalizeDate(e.Date)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (id, entry_date, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entry_date = excluded.entry_date,
			content = excluded.content,
			updated_at = excluded.updated_at`,
		e.ID, e.Date.Format(graph.DateLayout), e.Content, formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving entry %s: %w", e.ID, err)
	}
	return nil
}

// GetEntry returns the entry with the given ID, or ErrNotFound.
func (s *Store) GetEntry(ctx context.Context, id string) (graph.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Entry{}, ErrNotFound
	}
	if err != nil {
		return graph.Entry{}, fmt.Errorf("getting entry %s: %w", id, err)
	}
	return e, nil
}

// DeleteEntry removes an entry and its entity links. Relationships sourced
// from it keep existing with an empty source entry.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting entry %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEntries returns entries newest first, ties broken by insertion order.
func (s *Store) ListEntries(ctx context.Context, f EntryFilter) ([]graph.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE 1=1`
	var args []any
	if !f.From.IsZero() {
		query += ` AND entry_date >= ?`
		args = append(args, graph.NormalizeDate(f.From).Format(graph.DateLayout))
	}
	if !f.To.IsZero() {
		query += ` AND entry_date <= ?`
		args = append(args, graph.NormalizeDate(f.To).Format(graph.DateLayout))
	}
	query += ` ORDER BY entry_date DESC, rowid ASC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, max(f.Offset, 0))
	}
	return s.queryEntries(ctx, s.db, query, args...)
}

// EntryOnDate returns the first-inserted entry whose date falls on the same
// calendar day as date, or ErrNotFound.
func (s *Store) EntryOnDate(ctx context.Context, date time.Time) (graph.Entry, error) {
	day := graph.NormalizeDate(date).Format(graph.DateLayout)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE entry_date = ? ORDER BY rowid ASC LIMIT 1`, day)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Entry{}, ErrNotFound
	}
	if err != nil {
		return graph.Entry{}, fmt.Errorf("getting entry on %s: %w", day, err)
	}
	return e, nil
}

func (s *Store) queryEntries(ctx context.Context, q querier, query string, args ...any) ([]graph.Entry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var out []graph.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (graph.Entry, error) {
	var (
		e                           graph.Entry
		date, created, updated      string
		extracted, discovered       int
		extractedAt, discoveredAt   sql.NullString
		extractModel, discoverModel sql.NullString
	)
	err := sc.Scan(&e.ID, &date, &e.Content,
		&extracted, &extractedAt, &extractModel,
		&discovered, &discoveredAt, &discoverModel,
		&created, &updated)
	if err != nil {
		return graph.Entry{}, err
	}

	if e.Date, err = graph.ParseDate(date); err != nil {
		return graph.Entry{}, fmt.Errorf("parsing entry date %q: %w", date, err)
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return graph.Entry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return graph.Entry{}, fmt.Errorf("parsing updated_at: %w", err)
	}

	e.State.IsEntitiesExtracted = extracted != 0
	e.State.EntitiesExtractionModel = extractModel.String
	if e.State.EntitiesExtractedAt, err = parseNullTime(extractedAt); err != nil {
		return graph.Entry{}, fmt.Errorf("parsing entities_extracted_at: %w", err)
	}
	e.State.IsRelationshipsDiscovered = discovered != 0
	e.State.RelationshipsDiscoveryModel = discoverModel.String
	if e.State.RelationshipsDiscoveredAt, err = parseNullTime(discoveredAt); err != nil {
		return graph.Entry{}, fmt.Errorf("parsing relationships_discovered_at: %w", err)
	}
	return e, nil
}
