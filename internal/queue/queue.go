// Package queue is the durable FIFO of write-intents: the single source of
// truth for what the server does not yet know about.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"masterok/internal/database"
	"masterok/internal/localid"
	"masterok/internal/metrics"
	"masterok/internal/models"

	"github.com/rs/zerolog"
)

// ApplyResult reports what the server answered for one mutation.
type ApplyResult struct {
	ServerID      string
	Data          json.RawMessage
	AlreadySynced bool
}

// ApplyFunc replays one mutation against the server.
type ApplyFunc func(ctx context.Context, mutation *models.QueuedMutation) (ApplyResult, error)

// DeadLetterSink mirrors abandoned mutations to an external store for
// diagnostics. Optional; the sqlite dead_letters table is the record of
// truth.
type DeadLetterSink interface {
	Push(ctx context.Context, data []byte) error
}

type Queue struct {
	db         *database.DB
	maxRetries int
	sink       DeadLetterSink
	logger     *zerolog.Logger
}

func New(db *database.DB, maxRetries int, logger *zerolog.Logger) *Queue {
	if maxRetries <= 0 {
		maxRetries = models.MaxSyncRetries
	}
	return &Queue{db: db, maxRetries: maxRetries, logger: logger}
}

// SetDeadLetterSink enables best-effort mirroring of abandoned mutations.
func (q *Queue) SetDeadLetterSink(sink DeadLetterSink) {
	q.sink = sink
}

// Enqueue normalizes the payload's local ID (trimming it, generating a fresh
// one when missing or blank), persists the mutation and returns the resolved
// local ID. It is the only entry point that creates queue records.
func (q *Queue) Enqueue(ctx context.Context, payload models.MutationPayload) (string, error) {
	resolvedID := localid.Normalize(payload.GetLocalID())
	payload.SetLocalID(resolvedID)

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	mutation := &models.QueuedMutation{
		Kind:    payload.Kind(),
		LocalID: resolvedID,
		Payload: string(encoded),
	}
	if err := q.db.EnqueueMutation(ctx, mutation); err != nil {
		return "", err
	}

	metrics.IncEnqueued(mutation.Kind)
	q.updatePendingGauge(ctx)
	q.logger.Debug().Str("kind", mutation.Kind).Str("local_id", resolvedID).Int64("id", mutation.ID).Msg("Mutation enqueued")

	return resolvedID, nil
}

// PendingCount reports the queue depth.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	return q.db.PendingMutationCount(ctx)
}

// Drain replays every pending mutation in enqueue order through apply.
// One bad mutation never blocks the rest of the pass: failures are captured
// per mutation and the pass continues. Retriable failures stay queued with
// their retry count bumped until maxRetries, at which point the mutation is
// abandoned and dead-lettered.
func (q *Queue) Drain(ctx context.Context, apply ApplyFunc) ([]models.SyncResult, error) {
	pending, err := q.db.ListPendingMutations(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]models.SyncResult, 0, len(pending))
	for i := range pending {
		mutation := &pending[i]
		result := q.applyOne(ctx, mutation, apply)
		metrics.IncSyncResult(result.Status)
		results = append(results, result)
	}

	q.updatePendingGauge(ctx)
	return results, nil
}

func (q *Queue) applyOne(ctx context.Context, mutation *models.QueuedMutation, apply ApplyFunc) models.SyncResult {
	outcome, applyErr := apply(ctx, mutation)
	if applyErr == nil {
		status := models.SyncStatusSynced
		if outcome.AlreadySynced {
			status = models.SyncStatusAlreadySynced
		}
		if err := q.db.RemoveMutation(ctx, mutation.ID); err != nil {
			q.logger.Error().Err(err).Int64("id", mutation.ID).Msg("Failed to remove synced mutation")
		}
		return models.SyncResult{
			LocalID:  mutation.LocalID,
			ServerID: outcome.ServerID,
			Status:   status,
			Data:     outcome.Data,
		}
	}

	if !ShouldRetry(applyErr) {
		q.abandon(ctx, mutation, applyErr.Error())
		return models.SyncResult{
			LocalID: mutation.LocalID,
			Status:  models.SyncStatusFailed,
			Error:   applyErr.Error(),
		}
	}

	mutation.RetryCount++
	if mutation.RetryCount >= q.maxRetries {
		terminal := fmt.Sprintf("max retries reached: %v", applyErr)
		q.abandon(ctx, mutation, terminal)
		return models.SyncResult{
			LocalID: mutation.LocalID,
			Status:  models.SyncStatusFailed,
			Error:   terminal,
		}
	}

	if err := q.db.UpdateMutationRetry(ctx, mutation.ID, mutation.RetryCount, applyErr.Error()); err != nil {
		q.logger.Error().Err(err).Int64("id", mutation.ID).Msg("Failed to persist retry count")
	}
	q.logger.Warn().
		Err(applyErr).
		Str("kind", mutation.Kind).
		Str("local_id", mutation.LocalID).
		Int("retry_count", mutation.RetryCount).
		Msg("Mutation failed, will retry")

	return models.SyncResult{
		LocalID: mutation.LocalID,
		Status:  models.SyncStatusFailed,
		Error:   applyErr.Error(),
	}
}

// abandon removes a terminally failed mutation and records it for
// inspection.
func (q *Queue) abandon(ctx context.Context, mutation *models.QueuedMutation, cause string) {
	if err := q.db.RemoveMutation(ctx, mutation.ID); err != nil {
		q.logger.Error().Err(err).Int64("id", mutation.ID).Msg("Failed to remove abandoned mutation")
	}
	if err := q.db.RecordDeadLetter(ctx, mutation, cause); err != nil {
		q.logger.Error().Err(err).Int64("id", mutation.ID).Msg("Failed to record dead letter")
	}
	q.mirrorDeadLetter(ctx, mutation, cause)
	q.logger.Error().
		Str("kind", mutation.Kind).
		Str("local_id", mutation.LocalID).
		Str("cause", cause).
		Msg("Mutation abandoned")
}

func (q *Queue) mirrorDeadLetter(ctx context.Context, mutation *models.QueuedMutation, cause string) {
	if q.sink == nil {
		return
	}
	record := struct {
		*models.QueuedMutation
		Cause string `json:"cause"`
	}{mutation, cause}

	data, err := json.Marshal(record)
	if err != nil {
		q.logger.Warn().Err(err).Int64("id", mutation.ID).Msg("Failed to encode dead letter mirror")
		return
	}
	if err := q.sink.Push(ctx, data); err != nil {
		q.logger.Warn().Err(err).Int64("id", mutation.ID).Msg("Failed to mirror dead letter")
	}
}

func (q *Queue) updatePendingGauge(ctx context.Context) {
	if count, err := q.db.PendingMutationCount(ctx); err == nil {
		metrics.SetPending(count)
	}
}
