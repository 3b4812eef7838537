package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/daybook/internal/composer"
	"github.com/kalambet/daybook/internal/graph"
	"github.com/kalambet/daybook/internal/pipeline"
	"github.com/kalambet/daybook/internal/relevance"
	"github.com/kalambet/daybook/internal/storage"
)

// maxUploadBodySize bounds entry uploads, base64 PDFs included.
const maxUploadBodySize = 20 << 20

// Deps holds everything the HTTP and MCP handlers need.
type Deps struct {
	Store      *storage.Store
	Controller *pipeline.Controller
	Relevance  *relevance.Engine
	Composer   *composer.Composer
	Token      string
	// MCP is mounted at /mcp behind bearer auth when non-nil.
	MCP http.Handler
}

// NewHandler returns the daybook REST API. Everything except /health requires
// the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/entries", handleSaveEntry(deps))
		r.Get("/entries", handleListEntries(deps))
		r.Get("/entries/{id}", handleGetEntry(deps))
		r.Delete("/entries/{id}", handleDeleteEntry(deps))
		r.Post("/entries/{id}/reset", handleResetEntry(deps))

		r.Post("/batches/extraction", handleStartBatch(deps, graph.StageExtraction))
		r.Post("/batches/discovery", handleStartBatch(deps, graph.StageDiscovery))
		r.Post("/batches/cancel", handleCancelBatch(deps))
		r.Get("/batches/status", handleBatchStatus(deps))

		r.Get("/stats", handleStats(deps))
		r.Get("/related", handleRelated(deps))
		r.Get("/entities/{id}/related", handleEntityRelated(deps))
		r.Delete("/entities/{id}", handleDeleteEntity(deps))
		r.Post("/entities/prune", handlePruneEntities(deps))

		if deps.MCP != nil {
			r.Handle("/mcp", deps.MCP)
		}
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
