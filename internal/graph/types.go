package graph

import (
	"time"
)

// EntityType is the closed set of things an entity can represent.
type EntityType string

const (
	EntityPerson  EntityType = "person"
	EntityPlace   EntityType = "place"
	EntityEvent   EntityType = "event"
	EntityEmotion EntityType = "emotion"
	EntityTopic   EntityType = "topic"
)

// EntityTypes lists every entity type in display order.
var EntityTypes = []EntityType{EntityPerson, EntityPlace, EntityEvent, EntityEmotion, EntityTopic}

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityPerson, EntityPlace, EntityEvent, EntityEmotion, EntityTopic:
		return true
	}
	return false
}

// RelationshipType is the closed set of edge kinds.
type RelationshipType string

const (
	RelationTemporal  RelationshipType = "temporal"
	RelationCausal    RelationshipType = "causal"
	RelationEmotional RelationshipType = "emotional"
	RelationTopical   RelationshipType = "topical"
)

// RelationshipTypes lists every relationship type in display order.
var RelationshipTypes = []RelationshipType{RelationTemporal, RelationCausal, RelationEmotional, RelationTopical}

func (t RelationshipType) Valid() bool {
	switch t {
	case RelationTemporal, RelationCausal, RelationEmotional, RelationTopical:
		return true
	}
	return false
}

// Stage selects one of the two processing groups tracked on an entry.
type Stage string

const (
	StageExtraction Stage = "extraction"
	StageDiscovery  Stage = "discovery"
)

func (s Stage) Valid() bool {
	return s == StageExtraction || s == StageDiscovery
}

// ProcessingState records which batch operations have completed for an entry.
// The zero value means "not yet processed".
type ProcessingState struct {
	IsEntitiesExtracted     bool       `json:"is_entities_extracted"`
	EntitiesExtractedAt     *time.Time `json:"entities_extracted_at,omitempty"`
	EntitiesExtractionModel string     `json:"entities_extraction_model,omitempty"`

	IsRelationshipsDiscovered   bool       `json:"is_relationships_discovered"`
	RelationshipsDiscoveredAt   *time.Time `json:"relationships_discovered_at,omitempty"`
	RelationshipsDiscoveryModel string     `json:"relationships_discovery_model,omitempty"`
}

// Entry is a single journal entry, already decrypted.
type Entry struct {
	ID        string          `json:"id"`
	Date      time.Time       `json:"date"`
	Content   string          `json:"content"`
	State     ProcessingState `json:"processing"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Excerpt returns at most n runes of the entry content, on a single line.
func (e Entry) Excerpt(n int) string {
	return excerpt(e.Content, n)
}

// Entity is a deduplicated node in the knowledge graph.
type Entity struct {
	ID         string     `json:"id"`
	Type       EntityType `json:"type"`
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"`
	Aliases    []string   `json:"aliases"`
	Metadata   Metadata   `json:"metadata,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Relationship is a directed, typed, evidence-backed edge between two entities.
type Relationship struct {
	ID            string           `json:"id"`
	Type          RelationshipType `json:"type"`
	Confidence    float64          `json:"confidence"`
	Evidence      string           `json:"evidence"`
	FromEntityID  string           `json:"from_entity_id"`
	ToEntityID    string           `json:"to_entity_id"`
	SourceEntryID string           `json:"source_entry_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Connects reports whether the edge joins a and b, in either direction.
func (r Relationship) Connects(a, b string) bool {
	return (r.FromEntityID == a && r.ToEntityID == b) || (r.FromEntityID == b && r.ToEntityID == a)
}

// Other returns the endpoint opposite id, or "" if id is not an endpoint.
func (r Relationship) Other(id string) string {
	switch id {
	case r.FromEntityID:
		return r.ToEntityID
	case r.ToEntityID:
		return r.FromEntityID
	}
	return ""
}

// NormalizeDate truncates t to its calendar day and expresses it as midnight UTC.
// The calendar day is taken in t's own location.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateLayout is the storage and wire format for entry dates.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string into a normalized date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return NormalizeDate(t), nil
}
