package database

import (
	"context"
	"fmt"
	"time"

	"masterok/internal/models"
)

// EnqueueMutation appends a mutation to the queue and fills in its
// store-assigned ID and creation time.
func (db *DB) EnqueueMutation(ctx context.Context, mutation *models.QueuedMutation) error {
	query := `INSERT INTO mutation_queue (kind, local_id, payload, retry_count, last_error, created_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		mutation.Kind,
		mutation.LocalID,
		mutation.Payload,
		mutation.RetryCount,
		mutation.LastError,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue mutation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	mutation.ID = id
	mutation.CreatedAt = now

	return nil
}

// ListPendingMutations returns every queued mutation in enqueue order.
func (db *DB) ListPendingMutations(ctx context.Context) ([]models.QueuedMutation, error) {
	query := `SELECT id, kind, local_id, payload, retry_count, last_error, created_at
              FROM mutation_queue ORDER BY id ASC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending mutations: %w", err)
	}
	defer rows.Close()

	var mutations []models.QueuedMutation
	for rows.Next() {
		var m models.QueuedMutation
		err := rows.Scan(&m.ID, &m.Kind, &m.LocalID, &m.Payload, &m.RetryCount, &m.LastError, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		mutations = append(mutations, m)
	}
	return mutations, rows.Err()
}

// RemoveMutation deletes a queue entry. Removing an unknown ID is a no-op.
func (db *DB) RemoveMutation(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `DELETE FROM mutation_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove mutation %d: %w", id, err)
	}
	return nil
}

// UpdateMutationRetry persists the retry count and last error for a queued
// mutation without touching any other field. The count survives restarts.
func (db *DB) UpdateMutationRetry(ctx context.Context, id int64, retryCount int, lastError string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE mutation_queue SET retry_count = ?, last_error = ? WHERE id = ?`,
		retryCount, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update mutation retry %d: %w", id, err)
	}
	return nil
}

// PendingMutationCount reports the queue depth for UI badges.
func (db *DB) PendingMutationCount(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutation_queue`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending mutations: %w", err)
	}
	return count, nil
}

// RecordDeadLetter stores a terminally failed mutation for diagnostics.
func (db *DB) RecordDeadLetter(ctx context.Context, mutation *models.QueuedMutation, cause string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO dead_letters (kind, local_id, payload, retry_count, error, failed_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		mutation.Kind, mutation.LocalID, mutation.Payload, mutation.RetryCount, cause, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record dead letter: %w", err)
	}
	return nil
}

// DeadLetter is a terminally failed mutation kept for inspection.
type DeadLetter struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	LocalID    string    `json:"local_id"`
	Payload    string    `json:"payload"`
	RetryCount int       `json:"retry_count"`
	Error      string    `json:"error"`
	FailedAt   time.Time `json:"failed_at"`
}

// ListDeadLetters returns terminal failures, newest first.
func (db *DB) ListDeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, kind, local_id, payload, retry_count, error, failed_at
         FROM dead_letters ORDER BY failed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var d DeadLetter
		if err := rows.Scan(&d.ID, &d.Kind, &d.LocalID, &d.Payload, &d.RetryCount, &d.Error, &d.FailedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		letters = append(letters, d)
	}
	return letters, rows.Err()
}
