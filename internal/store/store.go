package store

import (
	"context"
	"errors"
	"fmt"

	"ultrapos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("conflict")
	ErrPersistence       = errors.New("persistence failure")
)

// InsufficientStockError carries the full shortfall list so callers can
// report every failing leaf product, not just the first one.
type InsufficientStockError struct {
	Shortfalls []domain.StockShortfall
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %d product(s)", len(e.Shortfalls))
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Repository is the durable per-tenant store. Every method operates within
// a single tenant; implementations must never let one tenant's data leak
// into another's results.
type Repository interface {
	CreateTenant(ctx context.Context, tenant domain.Tenant) (*domain.Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)

	ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error)
	GetProduct(ctx context.Context, tenantID string, productID string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, tenantID string, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, tenantID string, productID string) error

	// CreateBatch stores the lot and raises the product's tracked quantity
	// in the same durable step.
	CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error)
	// ListBatches returns the product's lots in ascending creation order,
	// drained lots included.
	ListBatches(ctx context.Context, tenantID string, productID string) ([]domain.Batch, error)

	// CommitSale applies the deduction plan and persists the sale as one
	// atomic step. It re-verifies availability against current state and
	// returns *InsufficientStockError without mutating anything when the
	// plan no longer fits.
	CommitSale(ctx context.Context, sale domain.Sale, deductions []domain.StockDeduction) (*domain.Sale, error)
	ListSales(ctx context.Context, tenantID string, limit int) ([]domain.Sale, error)
	GetSale(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error)
	DeleteSales(ctx context.Context, tenantID string) (int, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context, tenantID string) ([]domain.UserAccount, error)
}
