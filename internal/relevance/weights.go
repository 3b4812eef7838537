package relevance

import (
	"math"

	"github.com/kalambet/daybook/internal/graph"
)

// DefaultHalfLifeDays is the age at which a match counts half as much.
const DefaultHalfLifeDays = 14.0

// DefaultLimit is used when a caller asks for zero or fewer results.
const DefaultLimit = 5

// EntityWeight is how much sharing an entity of type t says about two entries.
func EntityWeight(t graph.EntityType) float64 {
	switch t {
	case graph.EntityPerson:
		return 3.0
	case graph.EntityEvent:
		return 2.5
	case graph.EntityPlace:
		return 2.0
	case graph.EntityTopic:
		return 1.0
	case graph.EntityEmotion:
		return 0.8
	}
	return 0
}

// RelationshipWeight is how much an edge of type t between the two entries'
// entities says about them.
func RelationshipWeight(t graph.RelationshipType) float64 {
	switch t {
	case graph.RelationCausal:
		return 2.0
	case graph.RelationTemporal:
		return 1.5
	case graph.RelationEmotional:
		return 1.2
	case graph.RelationTopical:
		return 0.8
	}
	return 0
}

// Recency decays from 1.0 at zero days, halving every halfLife days.
func Recency(days, halfLife float64) float64 {
	if halfLife <= 0 {
		halfLife = DefaultHalfLifeDays
	}
	return math.Pow(0.5, math.Abs(days)/halfLife)
}

// Level buckets a relevance score for display.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// LevelFor returns High for scores of 8 and above, Medium from 4 up to 8,
// and Low below 4.
func LevelFor(score float64) Level {
	switch {
	case score >= 8:
		return LevelHigh
	case score >= 4:
		return LevelMedium
	default:
		return LevelLow
	}
}
