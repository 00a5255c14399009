package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"ultrapos/backend/internal/domain"
	"ultrapos/backend/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	_, err := s.CreateTenant(context.Background(), domain.Tenant{ID: "t1", Name: "Tenant One", Plan: domain.PlanUltra, CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return s
}

func mustCreateProduct(t *testing.T, s *Store, p domain.Product) domain.Product {
	t.Helper()
	if p.TenantID == "" {
		p.TenantID = "t1"
	}
	created, err := s.CreateProduct(context.Background(), p)
	if err != nil {
		t.Fatalf("create product %s: %v", p.ID, err)
	}
	return *created
}

func TestCreateBatchRaisesTrackedStock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateProduct(t, s, domain.Product{ID: "flour", Name: "Flour", Quantity: 0})

	_, err := s.CreateBatch(ctx, domain.Batch{ID: "b1", TenantID: "t1", ProductID: "flour", Quantity: 5, OriginalQuantity: 5, UnitCost: 10, CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}

	product, err := s.GetProduct(ctx, "t1", "flour")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Quantity != 5 {
		t.Fatalf("expected quantity 5 after receipt, got %v", product.Quantity)
	}
}

func TestListBatchesAscendingCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateProduct(t, s, domain.Product{ID: "flour", Name: "Flour"})

	t2 := time.Now().UTC()
	t1 := t2.Add(-time.Hour)
	// Insert newest first to prove ListBatches sorts by creation time.
	for _, b := range []domain.Batch{
		{ID: "b2", TenantID: "t1", ProductID: "flour", Quantity: 10, OriginalQuantity: 10, UnitCost: 12, CreatedAt: t2},
		{ID: "b1", TenantID: "t1", ProductID: "flour", Quantity: 5, OriginalQuantity: 5, UnitCost: 10, CreatedAt: t1},
	} {
		if _, err := s.CreateBatch(ctx, b); err != nil {
			t.Fatalf("create batch %s: %v", b.ID, err)
		}
	}

	batches, err := s.ListBatches(ctx, "t1", "flour")
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 2 || batches[0].ID != "b1" || batches[1].ID != "b2" {
		t.Fatalf("expected b1 then b2, got %+v", batches)
	}
}

func TestCommitSaleAppliesDeductionsAndDraws(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateProduct(t, s, domain.Product{ID: "flour", Name: "Flour"})

	now := time.Now().UTC()
	for _, b := range []domain.Batch{
		{ID: "b1", TenantID: "t1", ProductID: "flour", Quantity: 5, OriginalQuantity: 5, UnitCost: 10, CreatedAt: now.Add(-time.Hour)},
		{ID: "b2", TenantID: "t1", ProductID: "flour", Quantity: 10, OriginalQuantity: 10, UnitCost: 12, CreatedAt: now},
	} {
		if _, err := s.CreateBatch(ctx, b); err != nil {
			t.Fatalf("create batch: %v", err)
		}
	}

	sale := domain.Sale{ID: "s1", TenantID: "t1", Items: []domain.SaleItem{{ProductID: "flour", Quantity: 8}}, Total: 100, COGS: 86, Profit: 14, CreatedAt: now}
	_, err := s.CommitSale(ctx, sale, []domain.StockDeduction{{
		ProductID: "flour",
		Quantity:  8,
		Draws: []domain.BatchDraw{
			{BatchID: "b1", Quantity: 5, UnitCost: 10},
			{BatchID: "b2", Quantity: 3, UnitCost: 12},
		},
	}})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}

	product, _ := s.GetProduct(ctx, "t1", "flour")
	if product.Quantity != 7 {
		t.Fatalf("expected 7 remaining, got %v", product.Quantity)
	}
	batches, _ := s.ListBatches(ctx, "t1", "flour")
	if batches[0].Quantity != 0 || batches[1].Quantity != 7 {
		t.Fatalf("expected drained b1 and 7 left in b2, got %+v", batches)
	}
}

func TestCommitSaleShortfallLeavesNothingMutated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateProduct(t, s, domain.Product{ID: "syrup", Name: "Syrup", Quantity: 100})
	mustCreateProduct(t, s, domain.Product{ID: "cup", Name: "Cup", Quantity: 2})

	sale := domain.Sale{ID: "s1", TenantID: "t1", CreatedAt: time.Now().UTC()}
	_, err := s.CommitSale(ctx, sale, []domain.StockDeduction{
		{ProductID: "syrup", Quantity: 50},
		{ProductID: "cup", Quantity: 3},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var detailed *store.InsufficientStockError
	if !errors.As(err, &detailed) || len(detailed.Shortfalls) != 1 || detailed.Shortfalls[0].ProductID != "cup" {
		t.Fatalf("expected cup shortfall detail, got %v", err)
	}

	syrup, _ := s.GetProduct(ctx, "t1", "syrup")
	if syrup.Quantity != 100 {
		t.Fatalf("failed settlement must not touch syrup, got %v", syrup.Quantity)
	}
	sales, _ := s.ListSales(ctx, "t1", 0)
	if len(sales) != 0 {
		t.Fatalf("failed settlement must not persist a sale, got %d", len(sales))
	}
}

func TestTenantIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateTenant(ctx, domain.Tenant{ID: "t2", Name: "Tenant Two", Plan: domain.PlanBasic, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	mustCreateProduct(t, s, domain.Product{ID: "p1", TenantID: "t1", Name: "Only T1", Quantity: 3})

	if _, err := s.GetProduct(ctx, "t2", "p1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("tenant t2 must not see t1 products, got %v", err)
	}
	products, err := s.ListProducts(ctx, "t2")
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) != 0 {
		t.Fatalf("tenant t2 catalog should be empty, got %d", len(products))
	}

	sale := domain.Sale{ID: "x", TenantID: "t2", CreatedAt: time.Now().UTC()}
	if _, err := s.CommitSale(ctx, sale, []domain.StockDeduction{{ProductID: "p1", Quantity: 1}}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("t2 settlement must not deduct t1 stock, got %v", err)
	}
	p1, _ := s.GetProduct(ctx, "t1", "p1")
	if p1.Quantity != 3 {
		t.Fatalf("t1 stock changed by t2 operation: %v", p1.Quantity)
	}
}

func TestDeleteSalesCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateProduct(t, s, domain.Product{ID: "p1", Name: "P1", Quantity: 10})

	for i := 0; i < 3; i++ {
		sale := domain.Sale{ID: string(rune('a' + i)), TenantID: "t1", CreatedAt: time.Now().UTC()}
		if _, err := s.CommitSale(ctx, sale, []domain.StockDeduction{{ProductID: "p1", Quantity: 1}}); err != nil {
			t.Fatalf("commit sale: %v", err)
		}
	}

	count, err := s.DeleteSales(ctx, "t1")
	if err != nil || count != 3 {
		t.Fatalf("expected 3 deleted, got %d (%v)", count, err)
	}
	sales, _ := s.ListSales(ctx, "t1", 0)
	if len(sales) != 0 {
		t.Fatalf("sales should be empty after reset")
	}
}
