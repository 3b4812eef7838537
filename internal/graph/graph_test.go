package graph

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityMatches(t *testing.T) {
	sarah := Entity{Type: EntityPerson, Value: "Sarah Johnson", Aliases: []string{"Sari"}}

	t.Run("exact match ignores case and spacing", func(t *testing.T) {
		assert.True(t, sarah.Matches("  sarah   JOHNSON "))
		assert.True(t, sarah.MatchesExactly("SARI"))
	})

	t.Run("substring match in either direction", func(t *testing.T) {
		assert.True(t, sarah.Matches("Sarah"), "candidate contained in value")
		assert.True(t, sarah.Matches("Dr. Sarah Johnson"), "value contained in candidate")
	})

	t.Run("short names only match exactly", func(t *testing.T) {
		al := Entity{Type: EntityPerson, Value: "Al"}
		assert.False(t, al.Matches("Alice"))
		assert.True(t, al.Matches("al"))
	})

	t.Run("exact match does not fall back to substring", func(t *testing.T) {
		assert.False(t, sarah.MatchesExactly("Sarah"))
	})

	t.Run("empty names never match", func(t *testing.T) {
		assert.False(t, sarah.Matches("", "   "))
		assert.False(t, sarah.MatchesExactly(""))
	})
}

func TestMergeAliases(t *testing.T) {
	got := MergeAliases("Sarah", []string{"Sari"}, "sari", "SARAH", "Sarah J.", " ", "Sarah J.")
	assert.Equal(t, []string{"Sari", "Sarah J."}, got)
}

func TestRelationshipConnects(t *testing.T) {
	r := Relationship{FromEntityID: "a", ToEntityID: "b"}
	assert.True(t, r.Connects("a", "b"))
	assert.True(t, r.Connects("b", "a"))
	assert.False(t, r.Connects("a", "c"))
	assert.Equal(t, "b", r.Other("a"))
	assert.Equal(t, "a", r.Other("b"))
	assert.Equal(t, "", r.Other("c"))
}

func TestEnumsValid(t *testing.T) {
	for _, et := range EntityTypes {
		assert.True(t, et.Valid(), string(et))
	}
	for _, rt := range RelationshipTypes {
		assert.True(t, rt.Valid(), string(rt))
	}
	assert.False(t, EntityType("organization").Valid())
	assert.False(t, RelationshipType("spouse").Valid())
	assert.True(t, StageDiscovery.Valid())
	assert.False(t, Stage("both").Valid())
}

func TestNormalizeDate(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	late := time.Date(2024, 3, 14, 23, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), NormalizeDate(late))

	parsed, err := ParseDate("2024-03-14")
	require.NoError(t, err)
	assert.Equal(t, NormalizeDate(late), parsed)

	_, err = ParseDate("14/03/2024")
	assert.Error(t, err)
}

func TestEntryExcerpt(t *testing.T) {
	e := Entry{Content: "Lunch with Sarah\n\nwe talked about   the move"}
	assert.Equal(t, "Lunch with Sarah we talked about the move", e.Excerpt(0))
	assert.Equal(t, "Lunch with…", e.Excerpt(11))
}

func TestMetadataRoundTrip(t *testing.T) {
	m := Metadata{"source": "journal", "mentions": float64(2)}
	v, err := m.Value()
	require.NoError(t, err)

	var out Metadata
	require.NoError(t, out.Scan(v))
	assert.Equal(t, m, out)

	var empty Metadata
	require.NoError(t, empty.Scan(nil))
	assert.NotNil(t, empty)

	assert.Error(t, out.Scan(42))
}

func TestAliasesScanDefaults(t *testing.T) {
	var a Aliases
	require.NoError(t, a.Scan([]byte("")))
	assert.Equal(t, Aliases{}, a)

	v, err := Aliases(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("timeout")
	rec := &RecoverableExtractionError{EntryID: "e1", Op: "extract entities", Err: cause}
	wrapped := fmt.Errorf("batch: %w", rec)

	var target *RecoverableExtractionError
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, "e1", target.EntryID)
	assert.ErrorIs(t, wrapped, cause)

	fatal := &FatalConfigurationError{Reason: "missing API key"}
	assert.Equal(t, "configuration error: missing API key", fatal.Error())

	ve := NewValidationError("confidence", "must be within [0,1], got %.2f", 1.5)
	assert.Contains(t, ve.Error(), "confidence")
}
