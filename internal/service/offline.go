package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"masterok/internal/database"
	"masterok/internal/domain"
	"masterok/internal/models"
	"masterok/internal/queue"

	"github.com/rs/zerolog"
)

// OfflineService is the UI-facing write path: it enqueues mutations and
// mirrors each one optimistically into the local booking cache so the UI
// reflects the intent immediately, long before the server confirms it.
type OfflineService struct {
	db     *database.DB
	queue  *queue.Queue
	cache  domain.CatalogCache
	logger *zerolog.Logger
}

func NewOfflineService(db *database.DB, q *queue.Queue, cache domain.CatalogCache, logger *zerolog.Logger) *OfflineService {
	return &OfflineService{db: db, queue: q, cache: cache, logger: logger}
}

// EnqueueMutation decodes the payload for its kind, persists the mutation
// and applies the optimistic local write. Payload field validation is
// deliberately deferred to drain time; only unparseable input is rejected
// here.
func (s *OfflineService) EnqueueMutation(ctx context.Context, kind string, payload []byte) (string, error) {
	decoded, err := models.DecodePayload(kind, payload)
	if err != nil {
		return "", err
	}

	localID, err := s.queue.Enqueue(ctx, decoded)
	if err != nil {
		return "", err
	}

	if err := s.applyOptimistic(ctx, decoded); err != nil {
		// The mutation is durable; a failed optimistic write only delays
		// what the UI sees until the next sync.
		s.logger.Warn().Err(err).Str("kind", kind).Str("local_id", localID).Msg("Optimistic cache write failed")
	}

	return localID, nil
}

func (s *OfflineService) applyOptimistic(ctx context.Context, payload models.MutationPayload) error {
	now := time.Now()

	switch p := payload.(type) {
	case *models.CreateBookingPayload:
		scheduledAt, _ := time.Parse(time.RFC3339, p.ScheduledAt)
		booking := models.Booking{
			ID:               p.LocalID,
			ServiceID:        p.ServiceID,
			ProviderID:       p.ProviderID,
			ScheduledAt:      scheduledAt,
			Address:          p.Address,
			Notes:            p.Notes,
			Status:           models.StatusPending,
			QuotedAmount:     p.QuotedAmount,
			CommissionAmount: p.CommissionAmount,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		data, err := json.Marshal(booking)
		if err != nil {
			return err
		}
		return s.db.UpsertCached(ctx, models.CollectionBookings, []models.CacheEntry{
			{ID: p.LocalID, Data: data, Synced: false},
		})

	case *models.UpdateBookingPayload:
		return s.mergeOptimistic(ctx, p.BookingID, p.Fields)

	case *models.UpdateStatusPayload:
		return s.mergeOptimistic(ctx, p.BookingID, map[string]interface{}{"status": p.Status})

	case *models.CreateReviewPayload:
		// Reviews have no local cache representation.
		return nil

	default:
		return fmt.Errorf("no optimistic write for kind %s", payload.Kind())
	}
}

// mergeOptimistic folds unconfirmed fields into a cached booking and marks
// it unsynced until the server accepts the change.
func (s *OfflineService) mergeOptimistic(ctx context.Context, bookingID string, fields map[string]interface{}) error {
	if bookingID == "" {
		// Field validation happens at drain time; nothing to mirror yet.
		return nil
	}

	entry, err := s.db.GetCached(ctx, models.CollectionBookings, bookingID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return err
	}

	var snapshot map[string]interface{}
	if err := json.Unmarshal(entry.Data, &snapshot); err != nil {
		return fmt.Errorf("cached booking %s is not valid JSON: %w", bookingID, err)
	}
	for key, value := range fields {
		snapshot[key] = value
	}
	snapshot["updated_at"] = time.Now().Format(time.RFC3339)

	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.db.UpsertCached(ctx, models.CollectionBookings, []models.CacheEntry{
		{ID: bookingID, Data: data, Synced: false},
	})
}

// Bookings lists the cached bookings, optimistic entries included.
func (s *OfflineService) Bookings(ctx context.Context) ([]models.CacheEntry, error) {
	return s.db.ListCached(ctx, models.CollectionBookings)
}

// DeadLetters lists terminally failed mutations for inspection.
func (s *OfflineService) DeadLetters(ctx context.Context) ([]database.DeadLetter, error) {
	return s.db.ListDeadLetters(ctx)
}

// ClearOfflineData wipes every durable collection and the hot cache.
// Invoked on logout.
func (s *OfflineService) ClearOfflineData(ctx context.Context) error {
	if err := s.db.ClearAll(ctx); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Clear(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to clear hot catalog cache")
		}
	}
	return nil
}

// CleanupCache sweeps expired reference data. Bookings are never swept.
func (s *OfflineService) CleanupCache(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = models.DefaultCacheMaxAge
	}

	var total int64
	for _, collection := range []string{models.CollectionProviders, models.CollectionServices} {
		deleted, err := s.db.ClearExpired(ctx, collection, maxAge)
		if err != nil {
			return total, err
		}
		total += deleted
	}
	if total > 0 {
		s.logger.Info().Int64("deleted", total).Msg("Expired cache entries removed")
	}
	return total, nil
}
