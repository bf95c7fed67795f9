package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"masterok/internal/domain"
	"masterok/internal/models"

	"github.com/rs/zerolog"
)

// FailoverCatalogCache prefers the primary (redis) cache and drops to the
// in-memory fallback when it misbehaves, re-probing the primary after a
// cooldown. Losing the hot cache only costs latency: durable catalog data
// lives in sqlite.
type FailoverCatalogCache struct {
	primary  domain.CatalogCache
	fallback domain.CatalogCache
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

const recoveryInterval = time.Minute

func NewFailoverCatalogCache(primary, fallback domain.CatalogCache, logger *zerolog.Logger) *FailoverCatalogCache {
	return &FailoverCatalogCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (f *FailoverCatalogCache) markDown(err error) {
	f.logger.Error().Err(err).Msg("Primary catalog cache failed, falling back to memory")
	f.isDown.Store(true)
	f.mu.Lock()
	f.lastCheck = time.Now()
	f.mu.Unlock()
}

// shouldProbe reports whether enough time has passed to try the primary
// again.
func (f *FailoverCatalogCache) shouldProbe() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.lastCheck) <= recoveryInterval {
		return false
	}
	f.lastCheck = time.Now()
	return true
}

func (f *FailoverCatalogCache) GetProviders(ctx context.Context) ([]models.Provider, error) {
	if !f.isDown.Load() || f.shouldProbe() {
		providers, err := f.primary.GetProviders(ctx)
		if err == nil {
			f.isDown.Store(false)
			return providers, nil
		}
		f.markDown(err)
	}
	return f.fallback.GetProviders(ctx)
}

func (f *FailoverCatalogCache) SetProviders(ctx context.Context, providers []models.Provider) error {
	if !f.isDown.Load() {
		if err := f.primary.SetProviders(ctx, providers); err != nil {
			f.markDown(err)
		}
	}
	return f.fallback.SetProviders(ctx, providers)
}

func (f *FailoverCatalogCache) GetServices(ctx context.Context) ([]models.Service, error) {
	if !f.isDown.Load() || f.shouldProbe() {
		services, err := f.primary.GetServices(ctx)
		if err == nil {
			f.isDown.Store(false)
			return services, nil
		}
		f.markDown(err)
	}
	return f.fallback.GetServices(ctx)
}

func (f *FailoverCatalogCache) SetServices(ctx context.Context, services []models.Service) error {
	if !f.isDown.Load() {
		if err := f.primary.SetServices(ctx, services); err != nil {
			f.markDown(err)
		}
	}
	return f.fallback.SetServices(ctx, services)
}

func (f *FailoverCatalogCache) Clear(ctx context.Context) error {
	if !f.isDown.Load() {
		if err := f.primary.Clear(ctx); err != nil {
			f.markDown(err)
		}
	}
	return f.fallback.Clear(ctx)
}
