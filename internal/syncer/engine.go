// Package syncer orchestrates queue drains against the live network. One
// drain runs at a time; concurrent callers share the in-flight outcome.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"masterok/internal/database"
	"masterok/internal/metrics"
	"masterok/internal/models"
	"masterok/internal/queue"
	"masterok/internal/remote"

	"github.com/rs/zerolog"
)

// ErrOffline is returned by ForceSync when the device is not connected.
// A plain SyncPending call in the same situation is a silent no-op instead.
var ErrOffline = errors.New("cannot sync while offline")

// RemoteAPI is the slice of the marketplace client the engine replays
// mutations through. Satisfied by *remote.Client.
type RemoteAPI interface {
	CreateBooking(ctx context.Context, payload *models.CreateBookingPayload) (*models.Booking, error)
	UpdateBooking(ctx context.Context, bookingID string, fields map[string]interface{}) error
	TransitionStatus(ctx context.Context, bookingID, verb, localID string) error
	CreateReview(ctx context.Context, payload *models.CreateReviewPayload) error
}

type inflightDrain struct {
	done    chan struct{}
	results []models.SyncResult
	err     error
}

type Engine struct {
	queue  *queue.Queue
	db     *database.DB
	client RemoteAPI
	logger *zerolog.Logger

	online    atomic.Bool
	isSyncing atomic.Bool

	mu         sync.Mutex
	inflight   *inflightDrain
	lastSyncAt time.Time
	syncError  string
}

func NewEngine(q *queue.Queue, db *database.DB, client RemoteAPI, logger *zerolog.Logger) *Engine {
	return &Engine{queue: q, db: db, client: client, logger: logger}
}

// SetOnline records the committed connectivity state. The connectivity
// monitor is the only caller outside of tests.
func (e *Engine) SetOnline(online bool) {
	e.online.Store(online)
	metrics.SetOnline(online)
}

func (e *Engine) IsOnline() bool  { return e.online.Load() }
func (e *Engine) IsSyncing() bool { return e.isSyncing.Load() }

// LastSyncAt returns when the most recent drain finished (zero before the
// first one).
func (e *Engine) LastSyncAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSyncAt
}

// SyncError returns a summary of the most recent drain's failures, empty
// when it was clean.
func (e *Engine) SyncError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncError
}

// PendingCount reports the queue depth for UI badges.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.queue.PendingCount(ctx)
}

// SyncPending drains the queue once. Offline it returns an empty result set
// without touching the network. While a drain is in flight, additional
// callers block until it completes and receive the same results rather than
// starting a second pass.
func (e *Engine) SyncPending(ctx context.Context) ([]models.SyncResult, error) {
	e.mu.Lock()
	if current := e.inflight; current != nil {
		e.mu.Unlock()
		select {
		case <-current.done:
			return current.results, current.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !e.online.Load() {
		e.mu.Unlock()
		return nil, nil
	}

	drain := &inflightDrain{done: make(chan struct{})}
	e.inflight = drain
	e.mu.Unlock()

	e.isSyncing.Store(true)
	started := time.Now()
	// Once started, a pass runs to completion: the leading caller giving up
	// must not abort mutations the joiners are waiting on.
	results, err := e.queue.Drain(context.WithoutCancel(ctx), e.applyMutation)
	elapsed := time.Since(started)
	e.isSyncing.Store(false)
	metrics.ObserveDrain(elapsed.Seconds())

	drain.results = results
	drain.err = err

	e.mu.Lock()
	e.inflight = nil
	e.lastSyncAt = time.Now()
	e.syncError = summarize(results, err)
	e.mu.Unlock()
	close(drain.done)

	e.logger.Info().
		Int("total", len(results)).
		Dur("elapsed", elapsed).
		Str("sync_error", summarize(results, err)).
		Msg("Drain pass finished")

	return results, err
}

// ForceSync is SyncPending that refuses to pretend: invoked while offline it
// fails with ErrOffline so the caller can tell "nothing to do" from "no
// network".
func (e *Engine) ForceSync(ctx context.Context) ([]models.SyncResult, error) {
	if !e.online.Load() {
		return nil, ErrOffline
	}
	return e.SyncPending(ctx)
}

func summarize(results []models.SyncResult, err error) string {
	if err != nil {
		return err.Error()
	}
	failed := 0
	var first string
	for _, r := range results {
		if r.Status == models.SyncStatusFailed {
			failed++
			if first == "" {
				first = r.Error
			}
		}
	}
	if failed == 0 {
		return ""
	}
	return fmt.Sprintf("%d mutation(s) failed: %s", failed, first)
}

// applyMutation replays one queued mutation against the server. Payloads are
// validated before any network call so an obviously malformed queue entry
// never costs a round trip.
func (e *Engine) applyMutation(ctx context.Context, mutation *models.QueuedMutation) (queue.ApplyResult, error) {
	payload, err := models.DecodePayload(mutation.Kind, []byte(mutation.Payload))
	if err != nil {
		return queue.ApplyResult{}, queue.Permanent(err)
	}
	if err := payload.Validate(); err != nil {
		return queue.ApplyResult{}, queue.Permanent(err)
	}

	switch p := payload.(type) {
	case *models.CreateBookingPayload:
		return e.applyCreateBooking(ctx, p)
	case *models.UpdateBookingPayload:
		if err := e.client.UpdateBooking(ctx, p.BookingID, p.Fields); err != nil {
			return queue.ApplyResult{}, err
		}
		e.mergeCachedBooking(ctx, p.BookingID, p.Fields)
		return queue.ApplyResult{ServerID: p.BookingID}, nil
	case *models.UpdateStatusPayload:
		verb := models.StatusVerbs[p.Status]
		if err := e.client.TransitionStatus(ctx, p.BookingID, verb, p.LocalID); err != nil {
			return queue.ApplyResult{}, err
		}
		e.mergeCachedBooking(ctx, p.BookingID, map[string]interface{}{"status": p.Status})
		return queue.ApplyResult{ServerID: p.BookingID}, nil
	case *models.CreateReviewPayload:
		if err := e.client.CreateReview(ctx, p); err != nil {
			return queue.ApplyResult{}, err
		}
		return queue.ApplyResult{ServerID: p.BookingID}, nil
	default:
		return queue.ApplyResult{}, queue.Permanent(fmt.Errorf("unhandled mutation kind: %s", mutation.Kind))
	}
}

func (e *Engine) applyCreateBooking(ctx context.Context, p *models.CreateBookingPayload) (queue.ApplyResult, error) {
	booking, err := e.client.CreateBooking(ctx, p)
	alreadySynced := errors.Is(err, remote.ErrAlreadyExists)
	if err != nil && !alreadySynced {
		return queue.ApplyResult{}, err
	}

	data, encodeErr := json.Marshal(booking)
	if encodeErr != nil {
		return queue.ApplyResult{}, fmt.Errorf("encode booking for cache: %w", encodeErr)
	}

	// The optimistic local copy was keyed by the local ID; swap it for the
	// server record atomically so readers always see exactly one booking.
	if err := e.db.RekeyBooking(ctx, p.LocalID, booking.ID, data); err != nil {
		return queue.ApplyResult{}, err
	}

	return queue.ApplyResult{
		ServerID:      booking.ID,
		Data:          data,
		AlreadySynced: alreadySynced,
	}, nil
}

// mergeCachedBooking folds confirmed fields into the cached booking copy.
// Cache maintenance failures are logged, not fatal: the server already
// accepted the write.
func (e *Engine) mergeCachedBooking(ctx context.Context, bookingID string, fields map[string]interface{}) {
	entry, err := e.db.GetCached(ctx, models.CollectionBookings, bookingID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			e.logger.Warn().Err(err).Str("booking_id", bookingID).Msg("Failed to read cached booking")
		}
		return
	}

	var snapshot map[string]interface{}
	if err := json.Unmarshal(entry.Data, &snapshot); err != nil {
		e.logger.Warn().Err(err).Str("booking_id", bookingID).Msg("Cached booking is not valid JSON")
		return
	}
	for key, value := range fields {
		snapshot[key] = value
	}
	snapshot["updated_at"] = time.Now().Format(time.RFC3339)

	data, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	if err := e.db.UpsertCached(ctx, models.CollectionBookings, []models.CacheEntry{
		{ID: bookingID, Data: data, Synced: true},
	}); err != nil {
		e.logger.Warn().Err(err).Str("booking_id", bookingID).Msg("Failed to update cached booking")
	}
}
