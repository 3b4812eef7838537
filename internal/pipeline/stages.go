package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/daybook/internal/extract"
	"github.com/kalambet/daybook/internal/graph"
)

// extractEntry asks the service for entities, stores or merges each one,
// links them to the entry and marks the entry extracted. It returns the
// number of entities linked.
func (c *Controller) extractEntry(ctx context.Context, entry graph.Entry) (int, error) {
	candidates, err := c.service.ExtractEntities(ctx, entry.Content)
	if err != nil {
		return 0, tagEntry(err, entry.ID)
	}

	ids := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		ent, err := c.store.FindOrCreateEntity(ctx, cand.Type, cand.Value, cand.Aliases, cand.Confidence)
		var ve *graph.ValidationError
		if errors.As(err, &ve) {
			c.logger.Debug("dropping invalid entity", "entry_id", entry.ID, "value", cand.Value, "error", err)
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("storing entity %q: %w", cand.Value, err)
		}
		ids = append(ids, ent.ID)
	}

	if err := c.store.LinkEntities(ctx, entry.ID, ids); err != nil {
		return 0, err
	}
	if err := c.store.MarkExtracted(ctx, entry.ID, c.service.Model(), c.now()); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// discoverEntry asks the service how the entry's entities relate and stores
// every candidate whose endpoints resolve to known entities. Entries with
// fewer than two entities are marked discovered without a service call. It
// returns the number of relationships stored.
func (c *Controller) discoverEntry(ctx context.Context, entry graph.Entry) (int, error) {
	linked, err := c.store.EntitiesForEntry(ctx, entry.ID)
	if err != nil {
		return 0, err
	}

	created := 0
	if len(linked) >= 2 {
		candidates, err := c.service.DiscoverRelationships(ctx, entry.Content, extract.RefsFor(linked))
		if err != nil {
			return 0, tagEntry(err, entry.ID)
		}

		r := &resolver{store: c.store, linked: linked}
		for _, cand := range candidates {
			from, err := r.resolve(ctx, entry.ID, cand.From)
			if err == nil {
				var to graph.Entity
				to, err = r.resolve(ctx, entry.ID, cand.To)
				if err == nil {
					_, err = c.store.CreateRelationship(ctx, from.ID, to.ID, cand.Type, cand.Confidence, cand.Evidence, entry.ID)
				}
			}

			var unresolved *graph.UnresolvedReferenceError
			var ve *graph.ValidationError
			switch {
			case err == nil:
				created++
			case errors.As(err, &unresolved):
				c.logger.Info("dropping relationship with unknown endpoint", "entry_id", entry.ID, "error", err)
			case errors.As(err, &ve):
				c.logger.Debug("dropping invalid relationship", "entry_id", entry.ID, "from", cand.From, "to", cand.To, "error", err)
			default:
				return 0, fmt.Errorf("storing relationship: %w", err)
			}
		}
	}

	if err := c.store.MarkDiscovered(ctx, entry.ID, c.service.Model(), c.now()); err != nil {
		return 0, err
	}
	return created, nil
}

// resolver maps entity names written by the model back to stored entities,
// preferring the entry's own entities over the rest of the store.
type resolver struct {
	store  GraphStore
	linked []graph.Entity
	all    []graph.Entity
	loaded bool
}

func (r *resolver) resolve(ctx context.Context, entryID, name string) (graph.Entity, error) {
	for _, e := range r.linked {
		if e.MatchesExactly(name) {
			return e, nil
		}
	}
	if !r.loaded {
		all, err := r.store.ListEntities(ctx, "")
		if err != nil {
			return graph.Entity{}, fmt.Errorf("loading entities: %w", err)
		}
		r.all, r.loaded = all, true
	}
	for _, e := range r.all {
		if e.MatchesExactly(name) {
			return e, nil
		}
	}
	return graph.Entity{}, &graph.UnresolvedReferenceError{EntryID: entryID, Value: name}
}

// tagEntry stamps the entry ID onto a recoverable service error.
func tagEntry(err error, entryID string) error {
	var rec *graph.RecoverableExtractionError
	if errors.As(err, &rec) && rec.EntryID == "" {
		rec.EntryID = entryID
	}
	return err
}

// ExtractionStats summarizes the entity side of the graph.
type ExtractionStats struct {
	TotalEntities int                      `json:"total_entities"`
	ByType        map[graph.EntityType]int `json:"by_type"`
	Pending       int                      `json:"pending_entries"`
}

// DiscoveryStats summarizes the relationship side of the graph.
type DiscoveryStats struct {
	TotalRelationships int                            `json:"total_relationships"`
	ByType             map[graph.RelationshipType]int `json:"by_type"`
	Pending            int                            `json:"pending_entries"`
}

// ExtractionStats returns entity counts per type and the extraction backlog.
func (c *Controller) ExtractionStats(ctx context.Context) (ExtractionStats, error) {
	counts, err := c.store.EntityCounts(ctx)
	if err != nil {
		return ExtractionStats{}, err
	}
	pending, err := c.store.PendingCounts(ctx)
	if err != nil {
		return ExtractionStats{}, err
	}
	st := ExtractionStats{ByType: counts, Pending: pending.Extraction}
	for _, n := range counts {
		st.TotalEntities += n
	}
	return st, nil
}

// DiscoveryStats returns relationship counts per type and the discovery backlog.
func (c *Controller) DiscoveryStats(ctx context.Context) (DiscoveryStats, error) {
	counts, err := c.store.RelationshipCounts(ctx)
	if err != nil {
		return DiscoveryStats{}, err
	}
	pending, err := c.store.PendingCounts(ctx)
	if err != nil {
		return DiscoveryStats{}, err
	}
	st := DiscoveryStats{ByType: counts, Pending: pending.Discovery}
	for _, n := range counts {
		st.TotalRelationships += n
	}
	return st, nil
}
