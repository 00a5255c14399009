package cache

import (
	"context"
	"time"

	"ultrapos/backend/internal/domain"
)

// CatalogCache holds one serialized catalog snapshot per tenant. It is a
// read-through accelerator only; the repository stays the source of truth
// and every catalog or stock mutation invalidates the tenant's entry.
type CatalogCache interface {
	Get(ctx context.Context, tenantID string) ([]domain.Product, bool, error)
	Set(ctx context.Context, tenantID string, products []domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context, tenantID string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ []domain.Product, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
