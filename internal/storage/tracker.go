package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/daybook/internal/graph"
)

// PendingCounts summarizes how much work each batch stage has left.
type PendingCounts struct {
	Total      int `json:"total"`
	Extraction int `json:"pending_extraction"`
	Discovery  int `json:"pending_discovery"`
}

// EntriesPendingExtraction returns entries whose entities have not been
// extracted yet, in insertion order.
func (s *Store) EntriesPendingExtraction(ctx context.Context) ([]graph.Entry, error) {
	return s.queryEntries(ctx, s.db,
		`SELECT `+entryColumns+` FROM entries WHERE is_entities_extracted = 0 ORDER BY rowid ASC`)
}

// EntriesPendingDiscovery returns extracted entries whose relationships have
// not been discovered yet, in insertion order.
func (s *Store) EntriesPendingDiscovery(ctx context.Context) ([]graph.Entry, error) {
	return s.queryEntries(ctx, s.db, `
		SELECT `+entryColumns+` FROM entries
		WHERE is_entities_extracted = 1 AND is_relationships_discovered = 0
		ORDER BY rowid ASC`)
}

// ProcessingState re-reads the tracker flags of a single entry.
func (s *Store) ProcessingState(ctx context.Context, entryID string) (graph.ProcessingState, error) {
	e, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return graph.ProcessingState{}, err
	}
	return e.State, nil
}

// MarkExtracted records a completed extraction. Flag, time and model are set
// by a single statement.
func (s *Store) MarkExtracted(ctx context.Context, entryID, model string, at time.Time) error {
	return s.mark(ctx, `
		UPDATE entries SET
			is_entities_extracted = 1,
			entities_extracted_at = ?,
			entities_extraction_model = ?,
			updated_at = ?
		WHERE id = ?`, entryID, model, at)
}

// MarkDiscovered records a completed relationship discovery. Flag, time and
// model are set by a single statement.
func (s *Store) MarkDiscovered(ctx context.Context, entryID, model string, at time.Time) error {
	return s.mark(ctx, `
		UPDATE entries SET
			is_relationships_discovered = 1,
			relationships_discovered_at = ?,
			relationships_discovery_model = ?,
			updated_at = ?
		WHERE id = ?`, entryID, model, at)
}

func (s *Store) mark(ctx context.Context, query, entryID, model string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, query, formatTime(at), model, formatTime(s.now()), entryID)
	if err != nil {
		return fmt.Errorf("marking entry %s: %w", entryID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetProcessing clears a stage so the next batch picks the entry up again.
// Resetting extraction also resets discovery, since discovery depends on the
// extracted entities.
func (s *Store) ResetProcessing(ctx context.Context, entryID string, stage graph.Stage) error {
	var query string
	switch stage {
	case graph.StageExtraction:
		query = `
			UPDATE entries SET
				is_entities_extracted = 0,
				entities_extracted_at = NULL,
				entities_extraction_model = NULL,
				is_relationships_discovered = 0,
				relationships_discovered_at = NULL,
				relationships_discovery_model = NULL,
				updated_at = ?
			WHERE id = ?`
	case graph.StageDiscovery:
		query = `
			UPDATE entries SET
				is_relationships_discovered = 0,
				relationships_discovered_at = NULL,
				relationships_discovery_model = NULL,
				updated_at = ?
			WHERE id = ?`
	default:
		return graph.NewValidationError("stage", "unknown stage %q", stage)
	}

	res, err := s.db.ExecContext(ctx, query, formatTime(s.now()), entryID)
	if err != nil {
		return fmt.Errorf("resetting %s for entry %s: %w", stage, entryID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingCounts returns the total entry count and the per-stage backlog.
func (s *Store) PendingCounts(ctx context.Context) (PendingCounts, error) {
	var c PendingCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_entities_extracted = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_entities_extracted = 1 AND is_relationships_discovered = 0 THEN 1 ELSE 0 END), 0)
		FROM entries`).Scan(&c.Total, &c.Extraction, &c.Discovery)
	if err != nil {
		return PendingCounts{}, fmt.Errorf("counting pending entries: %w", err)
	}
	return c, nil
}
