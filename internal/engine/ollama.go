package engine

import (
	"context"
	"errors"
	"io"

	"github.com/kalambet/daybook/internal/ollama"
)

// OllamaEngine adapts the internal/ollama.Client to the Engine interface.
type OllamaEngine struct {
	client *ollama.Client
}

// ollamaNumCtx fits a long journal entry plus the entity list of a discovery prompt.
const ollamaNumCtx = 8192

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL).WithOptions(ollama.Options{NumCtx: ollamaNumCtx})}
}

// Client returns the underlying Ollama client.
func (e *OllamaEngine) Client() *ollama.Client {
	return e.client
}

func (e *OllamaEngine) Name() string { return "ollama" }

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	// Ollama accepts a JSON schema object directly as the "format" field.
	var format any
	if jsonSchema != nil {
		format = jsonSchema
	}

	out, err := e.client.Chat(ctx, model, msgs, format)
	if err != nil {
		var se *ollama.StatusError
		if errors.As(err, &se) {
			return "", &StatusError{Backend: e.Name(), Code: se.Code, Message: se.Body}
		}
		return "", err
	}
	return out, nil
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{Status: p.Status, Total: p.Total, Completed: p.Completed})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}

func (e *OllamaEngine) Warm(ctx context.Context, model string, w io.Writer) {
	ollama.Warm(ctx, e.client, model, w)
}
