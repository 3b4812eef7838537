package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/daybook/internal/graph"
	"github.com/kalambet/daybook/internal/pipeline"
	"github.com/kalambet/daybook/internal/relevance"
	"github.com/kalambet/daybook/internal/storage"
)

// Stats is the combined view of the graph and the processing backlog.
type Stats struct {
	Entries    int                      `json:"entries"`
	Pending    storage.PendingCounts    `json:"pending"`
	Extraction pipeline.ExtractionStats `json:"extraction"`
	Discovery  pipeline.DiscoveryStats  `json:"discovery"`
}

// RelatedResult is one related entry as returned by the API.
type RelatedResult struct {
	Entry  graph.Entry     `json:"entry"`
	Score  float64         `json:"score"`
	Level  relevance.Level `json:"level"`
	Reason string          `json:"reason"`
}

// EntityNeighbourhood is an entity with its edges, neighbours and the
// entries mentioning it.
type EntityNeighbourhood struct {
	Entity        graph.Entity         `json:"entity"`
	Related       []graph.Entity       `json:"related"`
	Relationships []graph.Relationship `json:"relationships"`
	Entries       []graph.Entry        `json:"entries"`
}

func handleStartBatch(deps Deps, stage graph.Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queued, err := deps.Controller.Start(r.Context(), stage)
		if err != nil {
			writeError(w, err, "start batch")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"stage": stage, "queued": queued})
	}
}

func handleCancelBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": deps.Controller.Cancel()})
	}
}

func handleBatchStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Controller.Status())
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := collectStats(r.Context(), deps)
		if err != nil {
			writeError(w, err, "collect stats")
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func collectStats(ctx context.Context, deps Deps) (Stats, error) {
	var (
		st  Stats
		err error
	)
	if st.Pending, err = deps.Store.PendingCounts(ctx); err != nil {
		return Stats{}, err
	}
	st.Entries = st.Pending.Total
	if st.Extraction, err = deps.Controller.ExtractionStats(ctx); err != nil {
		return Stats{}, err
	}
	if st.Discovery, err = deps.Controller.DiscoveryStats(ctx); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func handleRelated(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := graph.NormalizeDate(time.Now())
		if s := r.URL.Query().Get("date"); s != "" {
			d, err := graph.ParseDate(s)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "date must be YYYY-MM-DD")
				return
			}
			date = d
		}
		limit := parseIntParam(r, "limit", 0, 50)

		related, err := deps.Relevance.FindRelatedEntries(r.Context(), date, limit)
		if err != nil {
			writeError(w, err, "find related entries")
			return
		}
		writeJSON(w, http.StatusOK, relatedResults(related))
	}
}

func relatedResults(related []relevance.RelatedEntry) []RelatedResult {
	out := make([]RelatedResult, len(related))
	for i, r := range related {
		out[i] = RelatedResult{Entry: r.Entry, Score: r.Score, Level: r.Level(), Reason: r.Reason}
	}
	return out
}

func handleEntityRelated(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")

		ent, err := deps.Store.GetEntity(ctx, id)
		if err != nil {
			writeError(w, err, "get entity")
			return
		}
		out := EntityNeighbourhood{Entity: ent}
		if out.Related, err = deps.Store.RelatedEntities(ctx, id); err != nil {
			writeError(w, err, "list related entities")
			return
		}
		if out.Relationships, err = deps.Store.RelationshipsForEntity(ctx, id); err != nil {
			writeError(w, err, "list relationships")
			return
		}
		if out.Entries, err = deps.Store.EntriesForEntity(ctx, id); err != nil {
			writeError(w, err, "list entries")
			return
		}
		if out.Related == nil {
			out.Related = []graph.Entity{}
		}
		if out.Relationships == nil {
			out.Relationships = []graph.Relationship{}
		}
		if out.Entries == nil {
			out.Entries = []graph.Entry{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDeleteEntity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteEntity(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err, "delete entity")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handlePruneEntities(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Store.PruneOrphanEntities(r.Context())
		if err != nil {
			writeError(w, err, "prune entities")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"pruned": n})
	}
}
