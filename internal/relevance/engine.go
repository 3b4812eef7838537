// Package relevance finds journal entries related to the entry written on a
// given day, scoring shared entities and graph edges and decaying by age.
package relevance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kalambet/daybook/internal/graph"
	"github.com/kalambet/daybook/internal/storage"
)

// Store is the read side of the graph the engine needs.
type Store interface {
	EntryOnDate(ctx context.Context, date time.Time) (graph.Entry, error)
	EntitiesForEntry(ctx context.Context, entryID string) ([]graph.Entity, error)
	RelationshipsTouching(ctx context.Context, entityIDs []string) ([]graph.Relationship, error)
	EntriesLinkedTo(ctx context.Context, entityIDs []string) ([]storage.EntryLinks, error)
	GetEntities(ctx context.Context, ids []string) (map[string]graph.Entity, error)
}

// RelatedEntry is an entry scored against the anchor entry.
type RelatedEntry struct {
	Entry  graph.Entry `json:"entry"`
	Score  float64     `json:"score"`
	Reason string      `json:"reason"`
}

// Level buckets the score for display.
func (r RelatedEntry) Level() Level {
	return LevelFor(r.Score)
}

// Config tunes the engine. Zero values select the defaults.
type Config struct {
	HalfLifeDays float64
	DefaultLimit int
}

// Engine computes related entries. It only reads from the store.
type Engine struct {
	store        Store
	halfLife     float64
	defaultLimit int
	logger       *slog.Logger
}

// NewEngine creates an Engine reading from store.
func NewEngine(store Store, cfg Config) *Engine {
	if cfg.HalfLifeDays <= 0 {
		cfg.HalfLifeDays = DefaultHalfLifeDays
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	return &Engine{
		store:        store,
		halfLife:     cfg.HalfLifeDays,
		defaultLimit: cfg.DefaultLimit,
		logger:       slog.Default(),
	}
}

// contribution is one term of a candidate's score, before recency.
type contribution struct {
	value  float64
	reason string
}

// FindRelatedEntries returns up to limit entries related to the entry written
// on date, best first. The anchor is the first entry stored for that calendar
// day. An empty result means nothing is related; only store failures are
// returned as errors.
func (e *Engine) FindRelatedEntries(ctx context.Context, date time.Time, limit int) ([]RelatedEntry, error) {
	if limit <= 0 {
		limit = e.defaultLimit
	}

	anchor, err := e.store.EntryOnDate(ctx, date)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading anchor entry: %w", err)
	}

	anchorEntities, err := e.store.EntitiesForEntry(ctx, anchor.ID)
	if err != nil {
		return nil, fmt.Errorf("loading anchor entities: %w", err)
	}
	if len(anchorEntities) == 0 {
		return nil, nil
	}

	inAnchor := make(map[string]graph.Entity, len(anchorEntities))
	anchorIDs := make([]string, 0, len(anchorEntities))
	for _, ent := range anchorEntities {
		inAnchor[ent.ID] = ent
		anchorIDs = append(anchorIDs, ent.ID)
	}

	rels, err := e.store.RelationshipsTouching(ctx, anchorIDs)
	if err != nil {
		return nil, fmt.Errorf("loading anchor relationships: %w", err)
	}

	var neighbourIDs []string
	seen := make(map[string]bool)
	for _, r := range rels {
		for _, id := range []string{r.FromEntityID, r.ToEntityID} {
			if _, ok := inAnchor[id]; ok || seen[id] {
				continue
			}
			seen[id] = true
			neighbourIDs = append(neighbourIDs, id)
		}
	}
	neighbours, err := e.store.GetEntities(ctx, neighbourIDs)
	if err != nil {
		return nil, fmt.Errorf("loading neighbour entities: %w", err)
	}

	links, err := e.store.EntriesLinkedTo(ctx, append(anchorIDs, neighbourIDs...))
	if err != nil {
		return nil, fmt.Errorf("loading candidate entries: %w", err)
	}

	name := func(id string) string {
		if ent, ok := inAnchor[id]; ok {
			return ent.Value
		}
		return neighbours[id].Value
	}

	var out []RelatedEntry
	for _, link := range links {
		if link.Entry.ID == anchor.ID {
			continue
		}

		inCandidate := make(map[string]bool, len(link.EntityIDs))
		var terms []contribution
		for _, id := range link.EntityIDs {
			inCandidate[id] = true
			if ent, ok := inAnchor[id]; ok {
				terms = append(terms, contribution{
					value:  EntityWeight(ent.Type) * ent.Confidence,
					reason: fmt.Sprintf("both mention %s (%s)", ent.Value, ent.Type),
				})
			}
		}
		for _, r := range rels {
			_, fromAnchor := inAnchor[r.FromEntityID]
			_, toAnchor := inAnchor[r.ToEntityID]
			if (fromAnchor && inCandidate[r.ToEntityID]) || (toAnchor && inCandidate[r.FromEntityID]) {
				terms = append(terms, contribution{
					value:  RelationshipWeight(r.Type) * r.Confidence,
					reason: fmt.Sprintf("%s is %s-linked to %s", name(r.FromEntityID), r.Type, name(r.ToEntityID)),
				})
			}
		}

		score, reason := combine(terms)
		score *= Recency(daysBetween(anchor.Date, link.Entry.Date), e.halfLife)
		if score <= 0 {
			continue
		}
		out = append(out, RelatedEntry{Entry: link.Entry, Score: score, Reason: reason})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Entry.Date.Equal(b.Entry.Date) {
			return a.Entry.Date.After(b.Entry.Date)
		}
		return a.Entry.ID < b.Entry.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}

	e.logger.Debug("related entries computed", "anchor_id", anchor.ID, "candidates", len(links), "returned", len(out))
	return out, nil
}

// combine sums the terms and names the largest one as the reason.
func combine(terms []contribution) (float64, string) {
	var (
		total float64
		best  contribution
	)
	for _, t := range terms {
		total += t.value
		if t.value > best.value {
			best = t
		}
	}
	if len(terms) > 1 && best.reason != "" {
		return total, fmt.Sprintf("%s, plus %d more connection(s)", best.reason, len(terms)-1)
	}
	return total, best.reason
}

func daysBetween(a, b time.Time) float64 {
	return b.Sub(a).Hours() / 24
}
