package engine

import (
	"context"
	"fmt"
	"io"
)

// Engine abstracts a chat-completion backend (a local Ollama server or any
// OpenAI-compatible endpoint). Entity extraction and relationship discovery
// talk to this interface instead of a concrete client.
type Engine interface {
	// Name identifies the backend in logs and status output.
	Name() string

	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool
}

// ModelManager is implemented by backends that host models locally and can
// download missing ones.
type ModelManager interface {
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// Warmer is implemented by backends that benefit from loading a model
// before the first real request.
type Warmer interface {
	Warm(ctx context.Context, model string, w io.Writer)
}

// StatusError is a non-success HTTP answer from a backend, normalized across
// providers so callers can tell credential problems from transient failures.
type StatusError struct {
	Backend string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Backend, e.Code, e.Message)
}

// Unauthorized reports whether the backend rejected the credentials.
func (e *StatusError) Unauthorized() bool {
	return e.Code == 401 || e.Code == 403
}

// ModelMissing reports whether the backend does not know the requested model.
func (e *StatusError) ModelMissing() bool {
	return e.Code == 404
}
