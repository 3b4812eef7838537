package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/daybook/internal/graph"
)

func TestFindOrCreateEntityDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first, err := s.FindOrCreateEntity(ctx, graph.EntityPerson, "Sarah", nil, 0.7)
	require.NoError(t, err)

	again, err := s.FindOrCreateEntity(ctx, graph.EntityPerson, "sarah", nil, 0.5)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 0.7, again.Confidence, "confidence keeps the maximum")

	full, err := s.FindOrCreateEntity(ctx, graph.EntityPerson, "Sarah Johnson", []string{"Sari"}, 0.9)
	require.NoError(t, err)
	assert.Equal(t, first.ID, full.ID, "substring match joins the existing entity")
	assert.Equal(t, 0.9, full.Confidence)
	assert.Equal(t, []string{"Sarah Johnson", "Sari"}, full.Aliases)

	byAlias, err := s.FindOrCreateEntity(ctx, graph.EntityPerson, "SARI", nil, 0.1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, byAlias.ID)

	stored, err := s.GetEntity(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sarah", stored.Value)
	assert.Equal(t, []string{"Sarah Johnson", "Sari"}, stored.Aliases)

	all, err := s.ListEntities(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFindOrCreateEntityScoping(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	place, err := s.FindOrCreateEntity(ctx, graph.EntityPlace, "Paris", nil, 0.8)
	require.NoError(t, err)
	person, err := s.FindOrCreateEntity(ctx, graph.EntityPerson, "Paris", nil, 0.8)
	require.NoError(t, err)
	assert.NotEqual(t, place.ID, person.ID, "types never merge")

	al, err := s.FindOrCreateEntity(ctx, graph.EntityPerson, "Al", nil, 0.8)
	require.NoError(t, err)
	alice, err := s.FindOrCreateEntity(ctx, graph.EntityPerson, "Alice", nil, 0.8)
	require.NoError(t, err)
	assert.NotEqual(t, al.ID, alice.ID, "short names only match exactly")

	counts, err := s.EntityCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[graph.EntityPerson])
	assert.Equal(t, 1, counts[graph.EntityPlace])
	assert.Equal(t, 0, counts[graph.EntityEmotion])
}

func TestFindOrCreateEntityValidation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	cases := []struct {
		name  string
		typ   graph.EntityType
		value string
		conf  float64
		field string
	}{
		{"unknown type", "organization", "ACME", 0.5, "type"},
		{"empty value", graph.EntityTopic, "  ", 0.5, "value"},
		{"confidence above one", graph.EntityTopic, "work", 1.2, "confidence"},
		{"negative confidence", graph.EntityTopic, "work", -0.1, "confidence"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.FindOrCreateEntity(ctx, tc.typ, tc.value, nil, tc.conf)
			var ve *graph.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestLinkEntitiesUnion(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	entry := addEntry(t, s, "2024-03-01", "coffee with Sarah at Blue Bottle")
	sarah, err := s.FindOrCreateEntity(ctx, graph.EntityPerson, "Sarah", nil, 0.9)
	require.NoError(t, err)
	cafe, err := s.FindOrCreateEntity(ctx, graph.EntityPlace, "Blue Bottle", nil, 0.8)
	require.NoError(t, err)

	require.NoError(t, s.LinkEntities(ctx, entry.ID, []string{sarah.ID}))
	require.NoError(t, s.LinkEntities(ctx, entry.ID, []string{cafe.ID, sarah.ID}))

	linked, err := s.EntitiesForEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, linked, 2)
	assert.Equal(t, sarah.ID, linked[0].ID)
	assert.Equal(t, cafe.ID, linked[1].ID)

	entries, err := s.EntriesForEntity(ctx, cafe.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
}

func TestEntriesLinkedTo(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	e1 := addEntry(t, s, "2024-03-01", "one")
	e2 := addEntry(t, s, "2024-03-02", "two")
	e3 := addEntry(t, s, "2024-03-03", "three")

	a, _ := s.FindOrCreateEntity(ctx, graph.EntityTopic, "running", nil, 0.5)
	b, _ := s.FindOrCreateEntity(ctx, graph.EntityTopic, "cooking", nil, 0.5)
	c, _ := s.FindOrCreateEntity(ctx, graph.EntityTopic, "reading", nil, 0.5)
	require.NoError(t, s.LinkEntities(ctx, e1.ID, []string{a.ID, b.ID}))
	require.NoError(t, s.LinkEntities(ctx, e2.ID, []string{b.ID, c.ID}))
	require.NoError(t, s.LinkEntities(ctx, e3.ID, []string{c.ID}))

	links, err := s.EntriesLinkedTo(ctx, []string{a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, e1.ID, links[0].Entry.ID)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, links[0].EntityIDs)
	assert.Equal(t, e2.ID, links[1].Entry.ID)
	assert.Equal(t, []string{b.ID}, links[1].EntityIDs)

	none, err := s.EntriesLinkedTo(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCreateRelationshipValidation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a, _ := s.FindOrCreateEntity(ctx, graph.EntityPerson, "Sarah", nil, 0.9)
	b, _ := s.FindOrCreateEntity(ctx, graph.EntityEmotion, "anxious", nil, 0.6)

	cases := []struct {
		name     string
		from, to string
		typ      graph.RelationshipType
		conf     float64
		evidence string
		source   string
	}{
		{"confidence out of range", a.ID, b.ID, graph.RelationEmotional, 1.5, "felt anxious", ""},
		{"empty evidence", a.ID, b.ID, graph.RelationEmotional, 0.5, " ", ""},
		{"unknown type", a.ID, b.ID, "spouse", 0.5, "x", ""},
		{"self edge", a.ID, a.ID, graph.RelationTopical, 0.5, "x", ""},
		{"missing endpoint", a.ID, "ghost", graph.RelationTopical, 0.5, "x", ""},
		{"missing source entry", a.ID, b.ID, graph.RelationTopical, 0.5, "x", "ghost"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.CreateRelationship(ctx, tc.from, tc.to, tc.typ, tc.conf, tc.evidence, tc.source)
			var ve *graph.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}

	n, err := s.RelationshipCount(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "rejected input must not be written")
}

func TestRelationshipsGraph(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	entry := addEntry(t, s, "2024-04-01", "the deadline made me anxious, Sarah helped")
	sarah, _ := s.FindOrCreateEntity(ctx, graph.EntityPerson, "Sarah", nil, 0.9)
	anxious, _ := s.FindOrCreateEntity(ctx, graph.EntityEmotion, "anxious", nil, 0.7)
	deadline, _ := s.FindOrCreateEntity(ctx, graph.EntityEvent, "deadline", nil, 0.8)

	r1, err := s.CreateRelationship(ctx, deadline.ID, anxious.ID, graph.RelationCausal, 0.6, "the deadline made me anxious", entry.ID)
	require.NoError(t, err)
	assert.True(t, r1.Connects(anxious.ID, deadline.ID))
	assert.Equal(t, entry.ID, r1.SourceEntryID)

	_, err = s.CreateRelationship(ctx, sarah.ID, deadline.ID, graph.RelationTopical, 0.5, "Sarah helped", "")
	require.NoError(t, err)

	t.Run("repeat edge keeps max confidence", func(t *testing.T) {
		dup, err := s.CreateRelationship(ctx, deadline.ID, anxious.ID, graph.RelationCausal, 0.9, "again", entry.ID)
		require.NoError(t, err)
		assert.Equal(t, r1.ID, dup.ID)
		assert.Equal(t, 0.9, dup.Confidence)
		assert.Equal(t, "the deadline made me anxious", dup.Evidence)
	})

	t.Run("related entities span both directions", func(t *testing.T) {
		related, err := s.RelatedEntities(ctx, deadline.ID)
		require.NoError(t, err)
		var ids []string
		for _, e := range related {
			ids = append(ids, e.ID)
		}
		assert.ElementsMatch(t, []string{sarah.ID, anxious.ID}, ids)

		n, err := s.RelationshipCount(ctx, deadline.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("counts by type", func(t *testing.T) {
		counts, err := s.RelationshipCounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[graph.RelationCausal])
		assert.Equal(t, 1, counts[graph.RelationTopical])
		assert.Equal(t, 0, counts[graph.RelationTemporal])
	})

	t.Run("deleting the source entry keeps the edge", func(t *testing.T) {
		require.NoError(t, s.DeleteEntry(ctx, entry.ID))
		rels, err := s.RelationshipsForEntity(ctx, anxious.ID)
		require.NoError(t, err)
		require.Len(t, rels, 1)
		assert.Empty(t, rels[0].SourceEntryID)
	})

	t.Run("deleting an endpoint removes its edges", func(t *testing.T) {
		require.NoError(t, s.DeleteEntity(ctx, deadline.ID))
		n, err := s.RelationshipCount(ctx, sarah.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestRelationshipKeepsFullEvidence(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	entry := addEntry(t, s, "2024-04-02", "a long day")
	sarah, _ := s.FindOrCreateEntity(ctx, graph.EntityPerson, "Sarah", nil, 0.9)
	walk, _ := s.FindOrCreateEntity(ctx, graph.EntityEvent, "walk", nil, 0.8)

	evidence := strings.Repeat("Sarah and I walked along the river for hours. ", 60)
	require.Greater(t, len([]rune(evidence)), 2000)
	_, err := s.CreateRelationship(ctx, sarah.ID, walk.ID, graph.RelationTemporal, 0.7, evidence, entry.ID)
	require.NoError(t, err)

	rels, err := s.RelationshipsForEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, evidence, rels[0].Evidence)
}

func TestPruneOrphanEntities(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	entry := addEntry(t, s, "2024-04-02", "walk")
	linked, _ := s.FindOrCreateEntity(ctx, graph.EntityTopic, "walking", nil, 0.5)
	edgeA, _ := s.FindOrCreateEntity(ctx, graph.EntityTopic, "health", nil, 0.5)
	edgeB, _ := s.FindOrCreateEntity(ctx, graph.EntityTopic, "sleep", nil, 0.5)
	_, _ = s.FindOrCreateEntity(ctx, graph.EntityTopic, "orphan", nil, 0.5)

	require.NoError(t, s.LinkEntities(ctx, entry.ID, []string{linked.ID}))
	_, err := s.CreateRelationship(ctx, edgeA.ID, edgeB.ID, graph.RelationCausal, 0.4, "sleep affects health", "")
	require.NoError(t, err)

	n, err := s.PruneOrphanEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := s.ListEntities(ctx, graph.EntityTopic)
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestTracker(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	e1 := addEntry(t, s, "2024-06-01", "one")
	e2 := addEntry(t, s, "2024-06-02", "two")

	pending, err := s.EntriesPendingExtraction(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	discovery, err := s.EntriesPendingDiscovery(ctx)
	require.NoError(t, err)
	assert.Empty(t, discovery, "discovery requires extraction")

	at := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkExtracted(ctx, e1.ID, "llama3.2", at))

	state, err := s.ProcessingState(ctx, e1.ID)
	require.NoError(t, err)
	assert.True(t, state.IsEntitiesExtracted)
	require.NotNil(t, state.EntitiesExtractedAt)
	assert.True(t, at.Equal(*state.EntitiesExtractedAt))
	assert.Equal(t, "llama3.2", state.EntitiesExtractionModel)

	pending, err = s.EntriesPendingExtraction(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, e2.ID, pending[0].ID)

	discovery, err = s.EntriesPendingDiscovery(ctx)
	require.NoError(t, err)
	require.Len(t, discovery, 1)
	assert.Equal(t, e1.ID, discovery[0].ID)

	require.NoError(t, s.MarkDiscovered(ctx, e1.ID, "llama3.2", at))
	counts, err := s.PendingCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, PendingCounts{Total: 2, Extraction: 1, Discovery: 0}, counts)

	t.Run("reset discovery only", func(t *testing.T) {
		require.NoError(t, s.ResetProcessing(ctx, e1.ID, graph.StageDiscovery))
		state, err := s.ProcessingState(ctx, e1.ID)
		require.NoError(t, err)
		assert.True(t, state.IsEntitiesExtracted)
		assert.False(t, state.IsRelationshipsDiscovered)
		assert.Nil(t, state.RelationshipsDiscoveredAt)
		assert.Empty(t, state.RelationshipsDiscoveryModel)
	})

	t.Run("reset extraction clears both stages", func(t *testing.T) {
		require.NoError(t, s.MarkDiscovered(ctx, e1.ID, "llama3.2", at))
		require.NoError(t, s.ResetProcessing(ctx, e1.ID, graph.StageExtraction))
		state, err := s.ProcessingState(ctx, e1.ID)
		require.NoError(t, err)
		assert.Equal(t, graph.ProcessingState{}, state)
	})

	t.Run("errors", func(t *testing.T) {
		var ve *graph.ValidationError
		assert.ErrorAs(t, s.ResetProcessing(ctx, e1.ID, "both"), &ve)
		assert.ErrorIs(t, s.ResetProcessing(ctx, "ghost", graph.StageDiscovery), ErrNotFound)
		assert.ErrorIs(t, s.MarkExtracted(ctx, "ghost", "m", at), ErrNotFound)
	})
}
