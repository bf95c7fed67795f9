package service

import (
	"context"
	"encoding/json"
	"time"

	"masterok/internal/database"
	"masterok/internal/domain"
	"masterok/internal/models"

	"github.com/rs/zerolog"
)

// CatalogFetcher is the slice of the remote client the catalog service needs.
type CatalogFetcher interface {
	ListProviders(ctx context.Context) ([]models.Provider, error)
	ListServices(ctx context.Context) ([]models.Service, error)
}

// CatalogService keeps the provider/service reference data fresh. Reads go
// hot cache first, then sqlite; a refresh rewrites both.
type CatalogService struct {
	db     *database.DB
	remote CatalogFetcher
	cache  domain.CatalogCache
	logger *zerolog.Logger
}

func NewCatalogService(db *database.DB, remote CatalogFetcher, cache domain.CatalogCache, logger *zerolog.Logger) *CatalogService {
	return &CatalogService{db: db, remote: remote, cache: cache, logger: logger}
}

// Refresh pulls the full catalog from the remote API and rewrites the
// durable and hot caches. Called on connectivity regain and on demand.
func (s *CatalogService) Refresh(ctx context.Context) error {
	providers, err := s.remote.ListProviders(ctx)
	if err != nil {
		return err
	}
	services, err := s.remote.ListServices(ctx)
	if err != nil {
		return err
	}

	if err := s.storeProviders(ctx, providers); err != nil {
		return err
	}
	if err := s.storeServices(ctx, services); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.SetProviders(ctx, providers); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to warm providers hot cache")
		}
		if err := s.cache.SetServices(ctx, services); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to warm services hot cache")
		}
	}

	s.logger.Info().
		Int("providers", len(providers)).
		Int("services", len(services)).
		Msg("Catalog refreshed")
	return nil
}

func (s *CatalogService) storeProviders(ctx context.Context, providers []models.Provider) error {
	entries := make([]models.CacheEntry, 0, len(providers))
	for _, p := range providers {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		entries = append(entries, models.CacheEntry{ID: p.ID, Data: data, Synced: true})
	}
	return s.db.UpsertCached(ctx, models.CollectionProviders, entries)
}

func (s *CatalogService) storeServices(ctx context.Context, services []models.Service) error {
	entries := make([]models.CacheEntry, 0, len(services))
	for _, svc := range services {
		data, err := json.Marshal(svc)
		if err != nil {
			return err
		}
		entries = append(entries, models.CacheEntry{ID: svc.ID, Data: data, Synced: true})
	}
	return s.db.UpsertCached(ctx, models.CollectionServices, entries)
}

// Providers returns the cached provider list without touching the network.
func (s *CatalogService) Providers(ctx context.Context) ([]models.Provider, error) {
	if s.cache != nil {
		providers, err := s.cache.GetProviders(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Hot cache read failed, falling back to sqlite")
		} else if providers != nil {
			return providers, nil
		}
	}

	entries, err := s.db.ListCached(ctx, models.CollectionProviders)
	if err != nil {
		return nil, err
	}
	providers := make([]models.Provider, 0, len(entries))
	for _, entry := range entries {
		var p models.Provider
		if err := json.Unmarshal(entry.Data, &p); err != nil {
			s.logger.Warn().Err(err).Str("id", entry.ID).Msg("Skipping corrupt provider entry")
			continue
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// Services returns the cached service list without touching the network.
func (s *CatalogService) Services(ctx context.Context) ([]models.Service, error) {
	if s.cache != nil {
		services, err := s.cache.GetServices(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Hot cache read failed, falling back to sqlite")
		} else if services != nil {
			return services, nil
		}
	}

	entries, err := s.db.ListCached(ctx, models.CollectionServices)
	if err != nil {
		return nil, err
	}
	services := make([]models.Service, 0, len(entries))
	for _, entry := range entries {
		var svc models.Service
		if err := json.Unmarshal(entry.Data, &svc); err != nil {
			s.logger.Warn().Err(err).Str("id", entry.ID).Msg("Skipping corrupt service entry")
			continue
		}
		services = append(services, svc)
	}
	return services, nil
}

// RunPeriodicRefresh refreshes the catalog on a schedule until ctx is done.
// Refresh failures are logged and retried on the next tick.
func (s *CatalogService) RunPeriodicRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("Scheduled catalog refresh failed")
			}
		}
	}
}
