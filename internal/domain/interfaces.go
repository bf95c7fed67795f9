package domain

import (
	"context"

	"masterok/internal/models"
)

// CatalogCache is the hot cache for read-only reference data. It sits in
// front of the sqlite store; losing it costs latency, never data.
type CatalogCache interface {
	GetProviders(ctx context.Context) ([]models.Provider, error)
	SetProviders(ctx context.Context, providers []models.Provider) error
	GetServices(ctx context.Context) ([]models.Service, error)
	SetServices(ctx context.Context, services []models.Service) error
	Clear(ctx context.Context) error
}
