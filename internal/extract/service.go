// Package extract turns journal text into entity and relationship candidates
// by asking a chat model for structured JSON.
package extract

import (
	"context"

	"github.com/kalambet/daybook/internal/graph"
)

// EntityCandidate is one entity proposed by the AI service for a text.
type EntityCandidate struct {
	Type       graph.EntityType `json:"type"`
	Value      string           `json:"value"`
	Aliases    []string         `json:"aliases,omitempty"`
	Confidence float64          `json:"confidence"`
}

// EntityRef describes a known entity to the discovery call.
type EntityRef struct {
	Type    graph.EntityType `json:"type"`
	Value   string           `json:"value"`
	Aliases []string         `json:"aliases,omitempty"`
}

// RelationshipCandidate is one edge proposed by the AI service. From and To
// are entity values (or aliases) as the model wrote them.
type RelationshipCandidate struct {
	From       string                 `json:"from"`
	To         string                 `json:"to"`
	Type       graph.RelationshipType `json:"type"`
	Confidence float64                `json:"confidence"`
	Evidence   string                 `json:"evidence"`
}

// Service is the contract with the external AI service. Implementations
// return *graph.RecoverableExtractionError for failures limited to one text
// and *graph.FatalConfigurationError when no further call can succeed.
type Service interface {
	// Model identifies the model that produced the results, for provenance.
	Model() string

	ExtractEntities(ctx context.Context, text string) ([]EntityCandidate, error)

	DiscoverRelationships(ctx context.Context, text string, entities []EntityRef) ([]RelationshipCandidate, error)
}

// RefsFor builds discovery references from stored entities.
func RefsFor(entities []graph.Entity) []EntityRef {
	refs := make([]EntityRef, len(entities))
	for i, e := range entities {
		refs[i] = EntityRef{Type: e.Type, Value: e.Value, Aliases: e.Aliases}
	}
	return refs
}

// Unavailable returns a Service whose every call fails with err. It stands in
// when the AI backend cannot be configured, so the failure surfaces when a
// batch starts rather than at startup.
func Unavailable(err error) Service {
	return unavailable{err: err}
}

type unavailable struct{ err error }

func (u unavailable) Model() string { return "" }

func (u unavailable) ExtractEntities(context.Context, string) ([]EntityCandidate, error) {
	return nil, u.err
}

func (u unavailable) DiscoverRelationships(context.Context, string, []EntityRef) ([]RelationshipCandidate, error) {
	return nil, u.err
}
