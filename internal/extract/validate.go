package extract

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/daybook/internal/graph"
)

const (
	// defaultConfidence is used when the model omits a confidence.
	defaultConfidence = 0.5

	maxValueRunes = 120
)

// rawEntity is the JSON shape returned by the model. Confidence is a pointer
// so a missing value can be told apart from an explicit zero.
type rawEntity struct {
	Type       string   `json:"type"`
	Value      string   `json:"value"`
	Aliases    []string `json:"aliases"`
	Confidence *float64 `json:"confidence"`
}

type rawRelationship struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	Type       string   `json:"type"`
	Confidence *float64 `json:"confidence"`
	Evidence   string   `json:"evidence"`
}

// validateEntity checks a candidate for obvious garbage and returns a
// sanitized copy.
func validateEntity(r rawEntity) (EntityCandidate, error) {
	typ := graph.EntityType(strings.ToLower(strings.TrimSpace(r.Type)))
	if !typ.Valid() {
		return EntityCandidate{}, fmt.Errorf("invalid entity type %q", r.Type)
	}

	value := strings.TrimSpace(r.Value)
	if value == "" {
		return EntityCandidate{}, fmt.Errorf("empty value")
	}
	if utf8.RuneCountInString(value) > maxValueRunes {
		return EntityCandidate{}, fmt.Errorf("value too long (%d runes)", utf8.RuneCountInString(value))
	}

	return EntityCandidate{
		Type:       typ,
		Value:      value,
		Aliases:    graph.MergeAliases(value, nil, r.Aliases...),
		Confidence: clampConfidence(r.Confidence),
	}, nil
}

func validateRelationship(r rawRelationship) (RelationshipCandidate, error) {
	typ := graph.RelationshipType(strings.ToLower(strings.TrimSpace(r.Type)))
	if !typ.Valid() {
		return RelationshipCandidate{}, fmt.Errorf("invalid relationship type %q", r.Type)
	}

	from, to := strings.TrimSpace(r.From), strings.TrimSpace(r.To)
	if from == "" || to == "" {
		return RelationshipCandidate{}, fmt.Errorf("missing endpoint")
	}
	if graph.NormalizeName(from) == graph.NormalizeName(to) {
		return RelationshipCandidate{}, fmt.Errorf("self relationship on %q", from)
	}

	evidence := strings.TrimSpace(r.Evidence)
	if evidence == "" {
		return RelationshipCandidate{}, fmt.Errorf("empty evidence")
	}

	return RelationshipCandidate{
		From:       from,
		To:         to,
		Type:       typ,
		Confidence: clampConfidence(r.Confidence),
		Evidence:   evidence,
	}, nil
}

func clampConfidence(c *float64) float64 {
	if c == nil || math.IsNaN(*c) {
		return defaultConfidence
	}
	return min(max(*c, 0), 1)
}

// foldEntity appends c unless a candidate of the same type already names the
// same thing, in which case the two are merged.
func foldEntity(list []EntityCandidate, c EntityCandidate) []EntityCandidate {
	for i := range list {
		if list[i].Type != c.Type {
			continue
		}
		existing := graph.Entity{Value: list[i].Value, Aliases: list[i].Aliases}
		if existing.MatchesExactly(c.Value) {
			list[i].Aliases = graph.MergeAliases(list[i].Value, list[i].Aliases, c.Aliases...)
			list[i].Confidence = max(list[i].Confidence, c.Confidence)
			return list
		}
	}
	return append(list, c)
}
