// Package pipeline runs entity extraction and relationship discovery over
// journal entries, one entry at a time, recording progress in the store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kalambet/daybook/internal/extract"
	"github.com/kalambet/daybook/internal/graph"
	"github.com/kalambet/daybook/internal/storage"
)

// ErrBatchInProgress is returned when a batch is started while another is running.
var ErrBatchInProgress = errors.New("a batch is already in progress")

const excerptRunes = 80

// GraphStore is the slice of the store the controller needs.
type GraphStore interface {
	EntriesPendingExtraction(ctx context.Context) ([]graph.Entry, error)
	EntriesPendingDiscovery(ctx context.Context) ([]graph.Entry, error)
	ProcessingState(ctx context.Context, entryID string) (graph.ProcessingState, error)
	MarkExtracted(ctx context.Context, entryID, model string, at time.Time) error
	MarkDiscovered(ctx context.Context, entryID, model string, at time.Time) error

	FindOrCreateEntity(ctx context.Context, typ graph.EntityType, value string, aliases []string, confidence float64) (graph.Entity, error)
	LinkEntities(ctx context.Context, entryID string, entityIDs []string) error
	EntitiesForEntry(ctx context.Context, entryID string) ([]graph.Entity, error)
	ListEntities(ctx context.Context, typ graph.EntityType) ([]graph.Entity, error)
	CreateRelationship(ctx context.Context, fromID, toID string, typ graph.RelationshipType, confidence float64, evidence, sourceEntryID string) (graph.Relationship, error)

	EntityCounts(ctx context.Context) (map[graph.EntityType]int, error)
	RelationshipCounts(ctx context.Context) (map[graph.RelationshipType]int, error)
	PendingCounts(ctx context.Context) (storage.PendingCounts, error)
}

// Progress is reported after every entry of a batch.
type Progress struct {
	Stage     graph.Stage `json:"stage"`
	Processed int         `json:"processed"`
	Total     int         `json:"total"`
	Fraction  float64     `json:"fraction"`
	EntryID   string      `json:"entry_id"`
	Excerpt   string      `json:"excerpt"`
	Err       error       `json:"-"`
}

// EntryFailure records an entry skipped because of a recoverable error.
type EntryFailure struct {
	EntryID string `json:"entry_id"`
	Error   string `json:"error"`
}

// BatchResult summarizes a finished, cancelled or aborted batch.
type BatchResult struct {
	Stage     graph.Stage    `json:"stage"`
	Total     int            `json:"total"`
	Processed int            `json:"processed"`
	Succeeded int            `json:"succeeded"`
	Skipped   int            `json:"skipped"`
	Created   int            `json:"created"`
	Failures  []EntryFailure `json:"failures,omitempty"`
	Cancelled bool           `json:"cancelled"`
	Duration  time.Duration  `json:"duration_ns"`
}

// Status is a snapshot of the controller for status endpoints.
type Status struct {
	Running   bool         `json:"running"`
	Progress  *Progress    `json:"progress,omitempty"`
	Last      *BatchResult `json:"last,omitempty"`
	LastError string       `json:"last_error,omitempty"`
}

// Controller runs at most one batch at a time.
type Controller struct {
	store   GraphStore
	service extract.Service
	sem     *semaphore.Weighted
	now     func() time.Time
	logger  *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	progress *Progress
	last     *BatchResult
	lastErr  error
}

// NewController creates a Controller that writes to store and asks service
// for entities and relationships.
func NewController(store GraphStore, service extract.Service) *Controller {
	return &Controller{
		store:   store,
		service: service,
		sem:     semaphore.NewWeighted(1),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default(),
	}
}

// RunExtractionBatch extracts entities from entries in order. Entries whose
// extraction is already recorded are skipped.
func (c *Controller) RunExtractionBatch(ctx context.Context, entries []graph.Entry, onProgress func(Progress)) (BatchResult, error) {
	if !c.sem.TryAcquire(1) {
		return BatchResult{}, ErrBatchInProgress
	}
	defer c.sem.Release(1)
	token := c.begin(ctx, graph.StageExtraction, len(entries))
	return c.run(ctx, token, graph.StageExtraction, entries, onProgress)
}

// RunDiscoveryBatch discovers relationships between the entities of entries
// in order. Entries that are not extracted yet, or already discovered, are skipped.
func (c *Controller) RunDiscoveryBatch(ctx context.Context, entries []graph.Entry, onProgress func(Progress)) (BatchResult, error) {
	if !c.sem.TryAcquire(1) {
		return BatchResult{}, ErrBatchInProgress
	}
	defer c.sem.Release(1)
	token := c.begin(ctx, graph.StageDiscovery, len(entries))
	return c.run(ctx, token, graph.StageDiscovery, entries, onProgress)
}

// RunPending runs stage over every entry the tracker reports as pending.
func (c *Controller) RunPending(ctx context.Context, stage graph.Stage, onProgress func(Progress)) (BatchResult, error) {
	if !stage.Valid() {
		return BatchResult{}, graph.NewValidationError("stage", "unknown stage %q", stage)
	}
	if !c.sem.TryAcquire(1) {
		return BatchResult{}, ErrBatchInProgress
	}
	defer c.sem.Release(1)

	entries, err := c.pending(ctx, stage)
	if err != nil {
		return BatchResult{}, err
	}
	token := c.begin(ctx, stage, len(entries))
	return c.run(ctx, token, stage, entries, onProgress)
}

// Start runs stage over the pending entries in the background and returns
// the number of entries queued. The batch is registered as running before
// Start returns, so an immediate Cancel or Status sees it. The batch outlives
// ctx's cancellation; stop it with Cancel.
func (c *Controller) Start(ctx context.Context, stage graph.Stage) (int, error) {
	if !stage.Valid() {
		return 0, graph.NewValidationError("stage", "unknown stage %q", stage)
	}
	if !c.sem.TryAcquire(1) {
		return 0, ErrBatchInProgress
	}

	entries, err := c.pending(ctx, stage)
	if err != nil {
		c.sem.Release(1)
		return 0, err
	}

	bg := context.WithoutCancel(ctx)
	token := c.begin(bg, stage, len(entries))
	go func() {
		defer c.sem.Release(1)
		res, err := c.run(bg, token, stage, entries, nil)
		if err != nil {
			c.logger.Error("background batch aborted", "stage", stage, "error", err)
			return
		}
		c.logger.Info("background batch finished", "stage", stage,
			"processed", res.Processed, "succeeded", res.Succeeded, "failed", len(res.Failures), "cancelled", res.Cancelled)
	}()
	return len(entries), nil
}

// Cancel asks the running batch to stop before its next entry and reports
// whether a batch was running. The entry in flight completes. Calling Cancel
// with no batch running, or more than once, has no further effect.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

// Wait blocks until no batch is running or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	c.sem.Release(1)
	return nil
}

// Status returns a snapshot of the running or last batch.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{Running: c.cancel != nil}
	if c.progress != nil {
		p := *c.progress
		st.Progress = &p
	}
	if c.last != nil {
		r := *c.last
		st.Last = &r
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

func (c *Controller) pending(ctx context.Context, stage graph.Stage) ([]graph.Entry, error) {
	var (
		entries []graph.Entry
		err     error
	)
	switch stage {
	case graph.StageExtraction:
		entries, err = c.store.EntriesPendingExtraction(ctx)
	case graph.StageDiscovery:
		entries, err = c.store.EntriesPendingDiscovery(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("loading pending %s entries: %w", stage, err)
	}
	return entries, nil
}

// begin registers a batch as running and returns its cancellation token.
// The caller holds the semaphore.
func (c *Controller) begin(ctx context.Context, stage graph.Stage, total int) context.Context {
	token, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.progress = &Progress{Stage: stage, Total: total}
	c.lastErr = nil
	c.mu.Unlock()
	return token
}

// run processes entries sequentially after begin registered the batch.
// Cancellation is observed on token between entries only; AI calls use ctx so
// an in-flight call is never interrupted by Cancel.
func (c *Controller) run(ctx, token context.Context, stage graph.Stage, entries []graph.Entry, onProgress func(Progress)) (BatchResult, error) {
	started := time.Now()
	result := BatchResult{Stage: stage, Total: len(entries)}
	defer func() {
		result.Duration = time.Since(started)
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		c.last = &result
		c.mu.Unlock()
	}()

	c.logger.Info("batch started", "stage", stage, "entries", len(entries), "model", c.service.Model())

	for _, entry := range entries {
		if token.Err() != nil {
			result.Cancelled = true
			c.logger.Info("batch cancelled", "stage", stage, "processed", result.Processed, "total", result.Total)
			break
		}

		created, skipped, err := c.process(ctx, stage, entry)

		var entryErr error
		var fatal *graph.FatalConfigurationError
		var rec *graph.RecoverableExtractionError
		switch {
		case err == nil && skipped:
			result.Skipped++
		case err == nil:
			result.Succeeded++
			result.Created += created
		case errors.As(err, &fatal):
			c.logger.Error("batch aborted", "stage", stage, "entry_id", entry.ID, "error", err)
			c.setErr(err)
			return result, err
		case errors.As(err, &rec):
			if rec.EntryID == "" {
				rec.EntryID = entry.ID
			}
			c.logger.Warn("entry skipped", "stage", stage, "entry_id", entry.ID, "error", err)
			entryErr = err
			result.Failures = append(result.Failures, EntryFailure{EntryID: entry.ID, Error: err.Error()})
		default:
			err = fmt.Errorf("%s of entry %s: %w", stage, entry.ID, err)
			c.logger.Error("batch aborted", "stage", stage, "entry_id", entry.ID, "error", err)
			c.setErr(err)
			return result, err
		}

		result.Processed++
		p := Progress{
			Stage:     stage,
			Processed: result.Processed,
			Total:     result.Total,
			Fraction:  float64(result.Processed) / float64(result.Total),
			EntryID:   entry.ID,
			Excerpt:   entry.Excerpt(excerptRunes),
			Err:       entryErr,
		}
		c.mu.Lock()
		c.progress = &p
		c.mu.Unlock()
		if onProgress != nil {
			onProgress(p)
		}
	}

	c.logger.Info("batch finished", "stage", stage,
		"processed", result.Processed, "succeeded", result.Succeeded,
		"skipped", result.Skipped, "failed", len(result.Failures), "created", result.Created)
	return result, nil
}

func (c *Controller) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// process handles one entry. It re-reads the tracker flags first so work
// recorded by an earlier batch is never repeated.
func (c *Controller) process(ctx context.Context, stage graph.Stage, entry graph.Entry) (created int, skipped bool, err error) {
	state, err := c.store.ProcessingState(ctx, entry.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading processing state: %w", err)
	}

	switch stage {
	case graph.StageExtraction:
		if state.IsEntitiesExtracted {
			return 0, true, nil
		}
		created, err = c.extractEntry(ctx, entry)
	case graph.StageDiscovery:
		if !state.IsEntitiesExtracted || state.IsRelationshipsDiscovered {
			return 0, true, nil
		}
		created, err = c.discoverEntry(ctx, entry)
	}
	return created, false, err
}
