package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/daybook/internal/engine"
	"github.com/kalambet/daybook/internal/graph"
)

// DefaultCallTimeout bounds a single chat call when no timeout is configured.
const DefaultCallTimeout = 60 * time.Second

// LLMService implements Service on top of a chat engine.
type LLMService struct {
	engine  engine.Engine
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewLLMService creates a service that sends every call to model on eng.
// A timeout of zero uses DefaultCallTimeout.
func NewLLMService(eng engine.Engine, model string, timeout time.Duration) *LLMService {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &LLMService{engine: eng, model: model, timeout: timeout, logger: slog.Default()}
}

func (s *LLMService) Model() string {
	return s.model
}

// ExtractEntities asks the model for the entities mentioned in text. Invalid
// candidates are dropped; duplicates within one answer are folded together.
func (s *LLMService) ExtractEntities(ctx context.Context, text string) ([]EntityCandidate, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	raw, err := s.chat(ctx, "extract entities", BuildEntityPrompt(text), entitySchema())
	if err != nil {
		return nil, err
	}

	var resp struct {
		Entities []rawEntity `json:"entities"`
	}
	if err := decodeObject(raw, &resp); err != nil {
		s.logger.Warn("entity extraction returned malformed JSON", "error", err, "response", raw)
		return nil, &graph.RecoverableExtractionError{Op: "extract entities", Err: err}
	}

	out := make([]EntityCandidate, 0, len(resp.Entities))
	for _, r := range resp.Entities {
		c, err := validateEntity(r)
		if err != nil {
			s.logger.Debug("dropping entity candidate", "value", r.Value, "type", r.Type, "error", err)
			continue
		}
		out = foldEntity(out, c)
	}
	return out, nil
}

// DiscoverRelationships asks the model how the given entities relate in text.
// Candidates that fail validation are dropped.
func (s *LLMService) DiscoverRelationships(ctx context.Context, text string, entities []EntityRef) ([]RelationshipCandidate, error) {
	if strings.TrimSpace(text) == "" || len(entities) < 2 {
		return nil, nil
	}

	raw, err := s.chat(ctx, "discover relationships", BuildRelationshipPrompt(text, entities), relationshipSchema())
	if err != nil {
		return nil, err
	}

	var resp struct {
		Relationships []rawRelationship `json:"relationships"`
	}
	if err := decodeObject(raw, &resp); err != nil {
		s.logger.Warn("relationship discovery returned malformed JSON", "error", err, "response", raw)
		return nil, &graph.RecoverableExtractionError{Op: "discover relationships", Err: err}
	}

	out := make([]RelationshipCandidate, 0, len(resp.Relationships))
	for _, r := range resp.Relationships {
		c, err := validateRelationship(r)
		if err != nil {
			s.logger.Debug("dropping relationship candidate", "from", r.From, "to", r.To, "error", err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *LLMService) chat(ctx context.Context, op string, msgs []engine.Message, schema *engine.Schema) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.engine.Chat(callCtx, s.model, msgs, schema)
	if err != nil {
		return "", classify(op, err)
	}
	return raw, nil
}

// classify sorts backend errors into batch-fatal configuration problems and
// per-entry recoverable failures.
func classify(op string, err error) error {
	var se *engine.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Unauthorized():
			return &graph.FatalConfigurationError{Reason: se.Backend + " rejected the credentials", Err: err}
		case se.ModelMissing():
			return &graph.FatalConfigurationError{Reason: se.Backend + " does not serve the configured model", Err: err}
		}
	}
	var fatal *graph.FatalConfigurationError
	if errors.As(err, &fatal) {
		return err
	}
	return &graph.RecoverableExtractionError{Op: op, Err: err}
}

// decodeObject extracts the JSON object from a model response and decodes it
// into v. Small local models often wrap JSON in markdown code fences or add
// conversational filler around it.
func decodeObject(resp string, v any) error {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
