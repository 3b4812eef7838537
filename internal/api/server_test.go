package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/daybook/internal/composer"
	"github.com/kalambet/daybook/internal/extract"
	"github.com/kalambet/daybook/internal/graph"
	"github.com/kalambet/daybook/internal/pipeline"
	"github.com/kalambet/daybook/internal/relevance"
	"github.com/kalambet/daybook/internal/storage"
)

const testToken = "test-token-12345"

// stubService tags every capitalized word as a person and proposes no edges.
type stubService struct{}

func (stubService) Model() string { return "stub" }

func (stubService) ExtractEntities(_ context.Context, text string) ([]extract.EntityCandidate, error) {
	var out []extract.EntityCandidate
	for _, w := range strings.Fields(text) {
		w = strings.Trim(w, ".,!")
		if w != "" && w[0] >= 'A' && w[0] <= 'Z' {
			out = append(out, extract.EntityCandidate{Type: graph.EntityPerson, Value: w, Confidence: 0.9})
		}
	}
	return out, nil
}

func (stubService) DiscoverRelationships(context.Context, string, []extract.EntityRef) ([]extract.RelationshipCandidate, error) {
	return nil, nil
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return Deps{
		Store:      store,
		Controller: pipeline.NewController(store, stubService{}),
		Relevance:  relevance.NewEngine(store, relevance.Config{}),
		Composer:   composer.New(0),
		Token:      testToken,
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[map[string]map[string]string](t, rec)
	return body["error"]["type"]
}

func TestHealthIsPublic(t *testing.T) {
	h := NewHandler(newTestDeps(t))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	for _, auth := range []string{"", "Bearer wrong", "Basic " + testToken} {
		req := httptest.NewRequest(http.MethodGet, "/entries", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "auth %q", auth)
		assert.Equal(t, "authentication_error", errorType(t, rec))
		assert.Equal(t, `Bearer realm="daybook"`, rec.Header().Get("WWW-Authenticate"))
	}

	req := httptest.NewRequest(http.MethodGet, "/entries", nil)
	req.Header.Set("Authorization", "bearer "+testToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "scheme is case-insensitive")
}

func TestEntryLifecycle(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	rec := do(t, h, http.MethodPost, "/entries", `{"date":"2026-03-01","content":"Hiking with Sarah"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[graph.Entry](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "2026-03-01", created.Date.Format(graph.DateLayout))
	assert.False(t, created.State.IsEntitiesExtracted)

	rec = do(t, h, http.MethodPost, "/entries", `{"id":"`+created.ID+`","date":"2026-03-01","content":"Hiking with Sarah and Tom"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Hiking with Sarah and Tom", decode[graph.Entry](t, rec).Content)

	rec = do(t, h, http.MethodGet, "/entries/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[EntryDetail](t, rec)
	assert.Equal(t, created.ID, detail.Entry.ID)
	assert.Empty(t, detail.Entities)

	rec = do(t, h, http.MethodGet, "/entries?from=2026-02-01&to=2026-03-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]graph.Entry](t, rec), 1)

	rec = do(t, h, http.MethodDelete, "/entries/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/entries/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorType(t, rec))
}

func TestSaveEntryValidation(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	cases := map[string]string{
		"bad json":      `{`,
		"bad date":      `{"date":"03/01/2026","content":"x"}`,
		"empty content": `{"date":"2026-03-01","content":"   "}`,
		"bad type":      `{"content":"x","type":"docx"}`,
		"bad base64":    `{"content":"%%%","type":"pdf"}`,
		"not a pdf":     `{"content":"` + base64.StdEncoding.EncodeToString([]byte("this is plain text, not a pdf")) + `","type":"pdf"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/entries", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "invalid_request_error", errorType(t, rec))
		})
	}

	rec := do(t, h, http.MethodPost, "/entries", `{"id":"missing","content":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetEntry(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)
	ctx := context.Background()

	e := graph.Entry{Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Content: "Sarah"}
	require.NoError(t, deps.Store.SaveEntry(ctx, &e))
	require.NoError(t, deps.Store.MarkExtracted(ctx, e.ID, "m", time.Now()))

	rec := do(t, h, http.MethodPost, "/entries/"+e.ID+"/reset?stage=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/entries/"+e.ID+"/reset?stage=extraction", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st, err := deps.Store.ProcessingState(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, st.IsEntitiesExtracted)

	rec = do(t, h, http.MethodPost, "/entries/nope/reset", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchesStatsAndRelated(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	for _, body := range []string{
		`{"date":"2026-03-10","content":"dinner with Sarah"}`,
		`{"date":"2026-03-08","content":"Sarah called"}`,
		`{"date":"2026-03-01","content":"Tom visited"}`,
	} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/entries", body).Code)
	}

	rec := do(t, h, http.MethodPost, "/batches/extraction", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.EqualValues(t, 3, decode[map[string]any](t, rec)["queued"])

	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, deps.Controller.Wait(waitCtx))

	rec = do(t, h, http.MethodGet, "/batches/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[pipeline.Status](t, rec)
	assert.False(t, status.Running)
	require.NotNil(t, status.Last)
	assert.Equal(t, 3, status.Last.Succeeded)

	rec = do(t, h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[Stats](t, rec)
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, 0, stats.Pending.Extraction)
	assert.Equal(t, 3, stats.Pending.Discovery)
	assert.Equal(t, 2, stats.Extraction.TotalEntities)

	rec = do(t, h, http.MethodGet, "/related?date=2026-03-10&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	related := decode[[]RelatedResult](t, rec)
	require.Len(t, related, 1)
	assert.Equal(t, "Sarah called", related[0].Entry.Content)
	assert.Equal(t, relevance.LevelLow, related[0].Level)

	rec = do(t, h, http.MethodGet, "/related?date=tomorrow", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/batches/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"cancelled": false}, decode[map[string]bool](t, rec))
}

func TestStartBatchConflict(t *testing.T) {
	deps := newTestDeps(t)
	release := make(chan struct{})
	deps.Controller = pipeline.NewController(deps.Store, blockingService{release: release})
	h := NewHandler(deps)

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/entries", `{"content":"Sarah"}`).Code)
	require.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/batches/extraction", "").Code)

	rec := do(t, h, http.MethodPost, "/batches/discovery", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errorType(t, rec))

	close(release)
	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, deps.Controller.Wait(waitCtx))
}

func TestCancelJustStartedBatch(t *testing.T) {
	deps := newTestDeps(t)
	release := make(chan struct{})
	deps.Controller = pipeline.NewController(deps.Store, blockingService{release: release})
	h := NewHandler(deps)

	for _, content := range []string{"Sarah", "Tom", "Ann"} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/entries", `{"content":"`+content+`"}`).Code)
	}
	require.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/batches/extraction", "").Code)

	rec := do(t, h, http.MethodPost, "/batches/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"cancelled": true}, decode[map[string]bool](t, rec))

	close(release)
	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, deps.Controller.Wait(waitCtx))

	st := deps.Controller.Status()
	require.NotNil(t, st.Last)
	assert.True(t, st.Last.Cancelled)
	assert.Less(t, st.Last.Processed, st.Last.Total)
}

// blockingService holds every extraction call until release is closed.
type blockingService struct {
	stubService
	release chan struct{}
}

func (b blockingService) ExtractEntities(ctx context.Context, text string) ([]extract.EntityCandidate, error) {
	<-b.release
	return b.stubService.ExtractEntities(ctx, text)
}

func TestEntityEndpoints(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)
	ctx := context.Background()

	e := graph.Entry{Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Content: "Sarah and the deadline"}
	require.NoError(t, deps.Store.SaveEntry(ctx, &e))
	sarah, err := deps.Store.FindOrCreateEntity(ctx, graph.EntityPerson, "Sarah", nil, 0.9)
	require.NoError(t, err)
	deadline, err := deps.Store.FindOrCreateEntity(ctx, graph.EntityEvent, "deadline", nil, 0.8)
	require.NoError(t, err)
	_, err = deps.Store.FindOrCreateEntity(ctx, graph.EntityPlace, "Lisbon", nil, 0.5)
	require.NoError(t, err)
	require.NoError(t, deps.Store.LinkEntities(ctx, e.ID, []string{sarah.ID, deadline.ID}))
	_, err = deps.Store.CreateRelationship(ctx, deadline.ID, sarah.ID, graph.RelationEmotional, 0.7, "Sarah worried about the deadline", e.ID)
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/entities/"+sarah.ID+"/related", "")
	require.Equal(t, http.StatusOK, rec.Code)
	nb := decode[EntityNeighbourhood](t, rec)
	assert.Equal(t, "Sarah", nb.Entity.Value)
	require.Len(t, nb.Related, 1)
	assert.Equal(t, deadline.ID, nb.Related[0].ID)
	assert.Len(t, nb.Relationships, 1)
	assert.Len(t, nb.Entries, 1)

	rec = do(t, h, http.MethodPost, "/entities/prune", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"pruned": 1}, decode[map[string]int](t, rec))

	rec = do(t, h, http.MethodDelete, "/entities/"+deadline.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rels, err := deps.Store.RelationshipsForEntity(ctx, sarah.ID)
	require.NoError(t, err)
	assert.Empty(t, rels)

	rec = do(t, h, http.MethodDelete, "/entities/"+deadline.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, "/entities/nope/related", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
