package extract

import (
	"fmt"
	"strings"

	"github.com/kalambet/daybook/internal/engine"
)

const entitySystemPrompt = `You are an entity extraction engine for a private journal. Read the journal entry and list the entities it mentions. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Entity types:
- "person": a specific person, by name or by role ("my sister", "Dr. Lee")
- "place": a location, venue, city or address
- "event": something that happened or is planned (a trip, an interview, a birthday)
- "emotion": a feeling the writer expresses ("anxious", "relieved")
- "topic": a recurring subject or theme (work, health, running)

Rules:
- Use the most complete name in "value"; put other spellings or nicknames from the text in "aliases".
- List each entity once.
- "confidence" is a number between 0.0 and 1.0 saying how sure you are.
- Return {"entities": []} when nothing qualifies.`

const relationshipSystemPrompt = `You are a relationship discovery engine for a private journal. You are given a journal entry and the entities already found in it. Describe how those entities relate according to the text. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Relationship types:
- "causal": one entity caused or led to the other
- "temporal": the entities happened together or one after the other
- "emotional": an entity evoked a feeling or emotional reaction
- "topical": the entities are discussed together or belong to the same subject

Rules:
- "from" and "to" must be copied exactly from the entity list (value or alias).
- "evidence" must quote or closely paraphrase the sentence that supports the relationship.
- "confidence" is a number between 0.0 and 1.0.
- Return {"relationships": []} when the text does not support any relationship.`

// BuildEntityPrompt constructs the chat messages for entity extraction.
func BuildEntityPrompt(text string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: entitySystemPrompt},
		{Role: "user", Content: text},
	}
}

// BuildRelationshipPrompt constructs the chat messages for relationship
// discovery over the given entities.
func BuildRelationshipPrompt(text string, entities []EntityRef) []engine.Message {
	var sb strings.Builder
	sb.WriteString("[Entities]\n")
	for _, e := range entities {
		fmt.Fprintf(&sb, "- %s (%s)", e.Value, e.Type)
		if len(e.Aliases) > 0 {
			fmt.Fprintf(&sb, ", also called: %s", strings.Join(e.Aliases, ", "))
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("\n[Entry]\n")
	sb.WriteString(text)

	return []engine.Message{
		{Role: "system", Content: relationshipSystemPrompt},
		{Role: "user", Content: sb.String()},
	}
}

func entitySchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"entities": {
				Type: "array",
				Items: &engine.Schema{
					Type: "object",
					Properties: map[string]engine.SchemaProperty{
						"type":       {Type: "string", Enum: []string{"person", "place", "event", "emotion", "topic"}},
						"value":      {Type: "string", Description: "Canonical name of the entity"},
						"aliases":    {Type: "array", Description: "Other names used in the text"},
						"confidence": {Type: "number", Description: "0.0 to 1.0"},
					},
					Required: []string{"type", "value", "confidence"},
				},
			},
		},
		Required: []string{"entities"},
	}
}

func relationshipSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"relationships": {
				Type: "array",
				Items: &engine.Schema{
					Type: "object",
					Properties: map[string]engine.SchemaProperty{
						"from":       {Type: "string"},
						"to":         {Type: "string"},
						"type":       {Type: "string", Enum: []string{"temporal", "causal", "emotional", "topical"}},
						"confidence": {Type: "number", Description: "0.0 to 1.0"},
						"evidence":   {Type: "string", Description: "Supporting text from the entry"},
					},
					Required: []string{"from", "to", "type", "confidence", "evidence"},
				},
			},
		},
		Required: []string{"relationships"},
	}
}
