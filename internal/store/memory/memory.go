package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ultrapos/backend/internal/domain"
	"ultrapos/backend/internal/store"
	"ultrapos/backend/internal/xid"
)

// Store keeps every collection partitioned by tenant id under one mutex.
// A single lock is enough here: CommitSale must observe and mutate products,
// batches and sales in one step, and the in-memory store is the dev/demo
// backend, not the contended production path.
type Store struct {
	mu       sync.RWMutex
	tenants  map[string]domain.Tenant
	products map[string]map[string]domain.Product
	batches  map[string]map[string][]domain.Batch
	sales    map[string][]domain.Sale
	users    map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		tenants:  make(map[string]domain.Tenant),
		products: make(map[string]map[string]domain.Product),
		batches:  make(map[string]map[string][]domain.Batch),
		sales:    make(map[string][]domain.Sale),
		users:    make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with a demo tenant, an admin account and a
// small cafe catalog, for running the backend without Postgres.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	tenant := domain.Tenant{ID: "demo", Name: "Demo Cafe", Plan: domain.PlanUltra, CreatedAt: now}
	s.tenants[tenant.ID] = tenant

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD to override.")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPwd), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}
	s.users["admin"] = domain.UserAccount{
		ID:           xid.New("usr"),
		TenantID:     tenant.ID,
		Username:     "admin",
		Name:         "Demo Admin",
		Role:         domain.RoleAdmin,
		PasswordHash: string(hash),
		CreatedAt:    now,
	}

	cost := func(v float64) *float64 { return &v }
	leaves := []domain.Product{
		{ID: "prd-espresso", Name: "Espresso Shot", Category: "ingredient", Unit: "shot", Price: 0, Cost: cost(1.5), Quantity: 200},
		{ID: "prd-milk", Name: "Milk", Category: "ingredient", Unit: "ml", Price: 0, Cost: cost(0.01), Quantity: 5000},
		{ID: "prd-syrup", Name: "Vanilla Syrup", Category: "ingredient", Unit: "ml", Price: 0, Cost: cost(0.05), Quantity: 1000},
		{ID: "prd-cup", Name: "Paper Cup", Category: "packaging", Unit: "pc", Price: 0, Cost: cost(0.2), Quantity: 500},
		{ID: "prd-croissant", Name: "Croissant", Category: "bakery", Unit: "pc", Price: 4.5, Cost: cost(1.8), Quantity: 30},
	}
	composites := []domain.Product{
		{ID: "prd-latte", Name: "Cafe Latte", Category: "beverage", Unit: "cup", Price: 5.5, IsComposite: true, Recipe: []domain.RecipeComponent{
			{ProductID: "prd-espresso", QuantityPerUnit: 2},
			{ProductID: "prd-milk", QuantityPerUnit: 200},
			{ProductID: "prd-cup", QuantityPerUnit: 1},
		}},
		{ID: "prd-vanilla-latte", Name: "Vanilla Latte", Category: "beverage", Unit: "cup", Price: 6, IsComposite: true, Recipe: []domain.RecipeComponent{
			{ProductID: "prd-espresso", QuantityPerUnit: 2},
			{ProductID: "prd-milk", QuantityPerUnit: 180},
			{ProductID: "prd-syrup", QuantityPerUnit: 20},
			{ProductID: "prd-cup", QuantityPerUnit: 1},
		}},
	}

	s.products[tenant.ID] = make(map[string]domain.Product)
	for _, p := range append(leaves, composites...) {
		p.TenantID = tenant.ID
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[tenant.ID][p.ID] = p
	}
	s.batches[tenant.ID] = make(map[string][]domain.Batch)
	s.sales[tenant.ID] = make([]domain.Sale, 0)

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) CreateTenant(_ context.Context, tenant domain.Tenant) (*domain.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tenant.ID == "" {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.tenants[tenant.ID]; exists {
		return nil, store.ErrConflict
	}

	s.tenants[tenant.ID] = tenant
	s.products[tenant.ID] = make(map[string]domain.Product)
	s.batches[tenant.ID] = make(map[string][]domain.Batch)
	s.sales[tenant.ID] = make([]domain.Sale, 0)

	created := tenant
	return &created, nil
}

func (s *Store) GetTenant(_ context.Context, tenantID string) (*domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant, ok := s.tenants[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := tenant
	return &found, nil
}

func (s *Store) ListProducts(_ context.Context, tenantID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products[tenantID]))
	for _, p := range s.products[tenantID] {
		products = append(products, cloneProduct(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) GetProduct(_ context.Context, tenantID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[tenantID][productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneProduct(p)
	return &found, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, tenantID string, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[tenantID][id]; ok {
			result[id] = cloneProduct(p)
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.TenantID == "" {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.products[product.TenantID][product.ID]; exists {
		return nil, store.ErrConflict
	}

	if s.products[product.TenantID] == nil {
		s.products[product.TenantID] = make(map[string]domain.Product)
	}
	s.products[product.TenantID][product.ID] = cloneProduct(product)

	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.TenantID][product.ID]; !exists {
		return nil, store.ErrNotFound
	}
	s.products[product.TenantID][product.ID] = cloneProduct(product)

	updated := cloneProduct(product)
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, tenantID string, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[tenantID][productID]; !exists {
		return store.ErrNotFound
	}
	delete(s.products[tenantID], productID)
	delete(s.batches[tenantID], productID)
	return nil
}

func (s *Store) CreateBatch(_ context.Context, batch domain.Batch) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[batch.TenantID][batch.ProductID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if batch.ID == "" || batch.Quantity <= 0 {
		return nil, store.ErrInvalidInput
	}

	if s.batches[batch.TenantID] == nil {
		s.batches[batch.TenantID] = make(map[string][]domain.Batch)
	}
	s.batches[batch.TenantID][batch.ProductID] = append(s.batches[batch.TenantID][batch.ProductID], cloneBatch(batch))

	product.Quantity += batch.Quantity
	product.UpdatedAt = batch.CreatedAt
	s.products[batch.TenantID][batch.ProductID] = product

	created := cloneBatch(batch)
	return &created, nil
}

func (s *Store) ListBatches(_ context.Context, tenantID string, productID string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[tenantID][productID]; !ok {
		return nil, store.ErrNotFound
	}

	lots := s.batches[tenantID][productID]
	result := make([]domain.Batch, 0, len(lots))
	for _, lot := range lots {
		result = append(result, cloneBatch(lot))
	}

	slices.SortFunc(result, func(a, b domain.Batch) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})

	return result, nil
}

// CommitSale re-verifies the deduction plan against current state and, only
// if every line still fits, applies all mutations and appends the sale. On
// any verification failure nothing is touched.
func (s *Store) CommitSale(_ context.Context, sale domain.Sale, deductions []domain.StockDeduction) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenantID := sale.TenantID
	shortfalls := make([]domain.StockShortfall, 0)
	for _, d := range deductions {
		product, ok := s.products[tenantID][d.ProductID]
		if !ok {
			shortfalls = append(shortfalls, domain.StockShortfall{ProductID: d.ProductID, Needed: d.Quantity, Missing: true})
			continue
		}
		if product.IsComposite {
			return nil, store.ErrInvalidInput
		}
		if d.Quantity > product.Quantity {
			shortfalls = append(shortfalls, domain.StockShortfall{
				ProductID: d.ProductID,
				Name:      product.Name,
				Needed:    d.Quantity,
				Available: product.Quantity,
			})
			continue
		}
		for _, draw := range d.Draws {
			if remaining(s.batches[tenantID][d.ProductID], draw.BatchID) < draw.Quantity {
				shortfalls = append(shortfalls, domain.StockShortfall{
					ProductID: d.ProductID,
					Name:      product.Name,
					Needed:    d.Quantity,
					Available: product.Quantity,
				})
				break
			}
		}
	}
	if len(shortfalls) > 0 {
		return nil, &store.InsufficientStockError{Shortfalls: shortfalls}
	}

	for _, d := range deductions {
		product := s.products[tenantID][d.ProductID]
		product.Quantity -= d.Quantity
		product.UpdatedAt = sale.CreatedAt
		s.products[tenantID][d.ProductID] = product

		lots := s.batches[tenantID][d.ProductID]
		for _, draw := range d.Draws {
			for i := range lots {
				if lots[i].ID == draw.BatchID {
					lots[i].Quantity -= draw.Quantity
					break
				}
			}
		}
	}

	s.sales[tenantID] = append(s.sales[tenantID], cloneSale(sale))

	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) ListSales(_ context.Context, tenantID string, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sales[tenantID]
	result := make([]domain.Sale, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		result = append(result, cloneSale(all[i]))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) GetSale(_ context.Context, tenantID string, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sale := range s.sales[tenantID] {
		if sale.ID == saleID {
			found := cloneSale(sale)
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) DeleteSales(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.sales[tenantID])
	s.sales[tenantID] = make([]domain.Sale, 0)
	return count, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Username)
	if key == "" || user.TenantID == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.users[key]; exists {
		return store.ErrConflict
	}
	s.users[key] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[strings.ToLower(username)]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := user
	return &found, nil
}

func (s *Store) ListUsers(_ context.Context, tenantID string) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0)
	for _, user := range s.users {
		if user.TenantID == tenantID {
			users = append(users, user)
		}
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func remaining(lots []domain.Batch, batchID string) float64 {
	for _, lot := range lots {
		if lot.ID == batchID {
			return lot.Quantity
		}
	}
	return 0
}

func cloneProduct(p domain.Product) domain.Product {
	clone := p
	if p.Cost != nil {
		cost := *p.Cost
		clone.Cost = &cost
	}
	if p.Recipe != nil {
		clone.Recipe = append([]domain.RecipeComponent(nil), p.Recipe...)
	}
	return clone
}

func cloneBatch(b domain.Batch) domain.Batch {
	clone := b
	if b.ExpiryDate != nil {
		expiry := *b.ExpiryDate
		clone.ExpiryDate = &expiry
	}
	return clone
}

func cloneSale(sale domain.Sale) domain.Sale {
	clone := sale
	clone.Items = append([]domain.SaleItem(nil), sale.Items...)
	return clone
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
