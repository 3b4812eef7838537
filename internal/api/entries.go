package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/daybook/internal/graph"
	"github.com/kalambet/daybook/internal/storage"
)

// EntryRequest creates or updates an entry. Type "pdf" expects Content to be
// a base64-encoded PDF whose text becomes the entry content.
type EntryRequest struct {
	ID      string `json:"id"`
	Date    string `json:"date"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// EntryDetail is an entry with its linked entities and the relationships
// discovered from it.
type EntryDetail struct {
	Entry         graph.Entry          `json:"entry"`
	Entities      []graph.Entity       `json:"entities"`
	Relationships []graph.Relationship `json:"relationships"`
}

func handleSaveEntry(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		var req EntryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		date := graph.NormalizeDate(time.Now())
		if req.Date != "" {
			d, err := graph.ParseDate(req.Date)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "date must be YYYY-MM-DD")
				return
			}
			date = d
		}

		content := req.Content
		switch req.Type {
		case "", "text":
		case "pdf":
			text, err := pdfText(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "reading pdf: %v", err)
				return
			}
			content = text
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "type must be text or pdf")
			return
		}

		status := http.StatusCreated
		if req.ID != "" {
			if _, err := deps.Store.GetEntry(r.Context(), req.ID); err != nil {
				writeError(w, err, "get entry")
				return
			}
			status = http.StatusOK
		}

		entry := graph.Entry{ID: req.ID, Date: date, Content: content}
		if err := deps.Store.SaveEntry(r.Context(), &entry); err != nil {
			writeError(w, err, "save entry")
			return
		}
		saved, err := deps.Store.GetEntry(r.Context(), entry.ID)
		if err != nil {
			writeError(w, err, "get entry")
			return
		}
		writeJSON(w, status, saved)
	}
}

func handleListEntries(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := storage.EntryFilter{
			Limit:  parseIntParam(r, "limit", 20, 200),
			Offset: parseIntParam(r, "offset", 0, 0),
		}
		for key, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
			if s := r.URL.Query().Get(key); s != "" {
				d, err := graph.ParseDate(s)
				if err != nil {
					httpError(w, http.StatusBadRequest, "invalid_request_error", "%s must be YYYY-MM-DD", key)
					return
				}
				*dst = d
			}
		}

		entries, err := deps.Store.ListEntries(r.Context(), f)
		if err != nil {
			writeError(w, err, "list entries")
			return
		}
		if entries == nil {
			entries = []graph.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleGetEntry(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")

		entry, err := deps.Store.GetEntry(ctx, id)
		if err != nil {
			writeError(w, err, "get entry")
			return
		}
		entities, err := deps.Store.EntitiesForEntry(ctx, id)
		if err != nil {
			writeError(w, err, "list entry entities")
			return
		}
		rels, err := deps.Store.RelationshipsForEntry(ctx, id)
		if err != nil {
			writeError(w, err, "list entry relationships")
			return
		}
		if entities == nil {
			entities = []graph.Entity{}
		}
		if rels == nil {
			rels = []graph.Relationship{}
		}
		writeJSON(w, http.StatusOK, EntryDetail{Entry: entry, Entities: entities, Relationships: rels})
	}
}

func handleDeleteEntry(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteEntry(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err, "delete entry")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleResetEntry(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stage := graph.Stage(r.URL.Query().Get("stage"))
		if stage == "" {
			stage = graph.StageExtraction
		}
		if err := deps.Store.ResetProcessing(r.Context(), chi.URLParam(r, "id"), stage); err != nil {
			writeError(w, err, "reset entry")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "stage": string(stage)})
	}
}
