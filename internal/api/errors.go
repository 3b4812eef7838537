package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/daybook/internal/graph"
	"github.com/kalambet/daybook/internal/pipeline"
	"github.com/kalambet/daybook/internal/storage"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeError maps domain errors to status codes. what names the failed
// operation for 500 responses.
func writeError(w http.ResponseWriter, err error, what string) {
	var ve *graph.ValidationError
	switch {
	case errors.As(err, &ve):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", ve.Error())
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%s", "not found")
	case errors.Is(err, pipeline.ErrBatchInProgress):
		httpError(w, http.StatusConflict, "conflict", "%s", err.Error())
	default:
		slog.Error("request failed", "op", what, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to %s: %v", what, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
