package repository

import (
	"context"
	"sync"
	"time"

	"masterok/internal/models"
)

type MemoryCatalogCache struct {
	mu          sync.RWMutex
	providers   []models.Provider
	providersAt time.Time
	services    []models.Service
	servicesAt  time.Time
	ttl         time.Duration
}

func NewMemoryCatalogCache(ttl time.Duration) *MemoryCatalogCache {
	return &MemoryCatalogCache{ttl: ttl}
}

func (m *MemoryCatalogCache) expired(at time.Time) bool {
	return m.ttl > 0 && !at.IsZero() && time.Since(at) > m.ttl
}

func (m *MemoryCatalogCache) GetProviders(ctx context.Context) ([]models.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.expired(m.providersAt) {
		return nil, nil
	}
	return append([]models.Provider(nil), m.providers...), nil
}

func (m *MemoryCatalogCache) SetProviders(ctx context.Context, providers []models.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append([]models.Provider(nil), providers...)
	m.providersAt = time.Now()
	return nil
}

func (m *MemoryCatalogCache) GetServices(ctx context.Context) ([]models.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.expired(m.servicesAt) {
		return nil, nil
	}
	return append([]models.Service(nil), m.services...), nil
}

func (m *MemoryCatalogCache) SetServices(ctx context.Context, services []models.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append([]models.Service(nil), services...)
	m.servicesAt = time.Now()
	return nil
}

func (m *MemoryCatalogCache) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = nil
	m.services = nil
	m.providersAt = time.Time{}
	m.servicesAt = time.Time{}
	return nil
}
