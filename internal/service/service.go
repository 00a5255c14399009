package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"ultrapos/backend/internal/availability"
	"ultrapos/backend/internal/cache"
	"ultrapos/backend/internal/domain"
	"ultrapos/backend/internal/notifier"
	"ultrapos/backend/internal/store"
	"ultrapos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Policy is consulted for plan-gated capabilities. The stock and settlement
// core never inspects plans itself; whoever wires the service decides what
// each plan may do.
type Policy interface {
	CanCreateComposite(plan string) bool
	CanManageUsers(plan string) bool
}

type PlanPolicy struct {
	composite   map[string]bool
	manageUsers map[string]bool
}

func NewPlanPolicy(compositePlans []string, manageUserPlans []string) *PlanPolicy {
	toSet := func(plans []string) map[string]bool {
		set := make(map[string]bool, len(plans))
		for _, plan := range plans {
			set[strings.ToLower(strings.TrimSpace(plan))] = true
		}
		return set
	}
	return &PlanPolicy{composite: toSet(compositePlans), manageUsers: toSet(manageUserPlans)}
}

func (p *PlanPolicy) CanCreateComposite(plan string) bool {
	return p.composite[strings.ToLower(plan)]
}

func (p *PlanPolicy) CanManageUsers(plan string) bool {
	return p.manageUsers[strings.ToLower(plan)]
}

type Service struct {
	repo       store.Repository
	hub        *notifier.Hub
	catalog    cache.CatalogCache
	policy     Policy
	cacheTTL   time.Duration
	settleWait time.Duration

	gateMu sync.Mutex
	gates  map[string]chan struct{}
}

func New(repo store.Repository, hub *notifier.Hub, catalog cache.CatalogCache, policy Policy, cacheTTL time.Duration, settleWait time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 20 * time.Second
	}
	if settleWait <= 0 {
		settleWait = 5 * time.Second
	}

	return &Service{
		repo:       repo,
		hub:        hub,
		catalog:    catalog,
		policy:     policy,
		cacheTTL:   cacheTTL,
		settleWait: settleWait,
		gates:      make(map[string]chan struct{}),
	}
}

// tenantGate returns the tenant's settlement gate. One token per tenant
// serializes every check-then-act mutation within that tenant; different
// tenants never contend.
func (s *Service) tenantGate(tenantID string) chan struct{} {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()

	gate, ok := s.gates[tenantID]
	if !ok {
		gate = make(chan struct{}, 1)
		s.gates[tenantID] = gate
	}
	return gate
}

// acquireGate takes the tenant gate within a bounded interval. Timing out
// is a retryable conflict, never a hang.
func (s *Service) acquireGate(ctx context.Context, tenantID string) (release func(), err error) {
	gate := s.tenantGate(tenantID)
	timer := time.NewTimer(s.settleWait)
	defer timer.Stop()

	select {
	case gate <- struct{}{}:
		return func() { <-gate }, nil
	case <-timer.C:
		return nil, fmt.Errorf("tenant busy, retry: %w", store.ErrConflict)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.TenantID == "" {
		return domain.Actor{}, fmt.Errorf("tenant context required: %w", store.ErrInvalidInput)
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.Actor{}, fmt.Errorf("admin role required: %w", store.ErrForbidden)
	}
	return actor, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	if cached, ok, err := s.catalog.Get(ctx, actor.TenantID); err == nil && ok {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: catalog cache read failed tenant=%s: %v", actor.TenantID, err)
	}

	products, err := s.repo.ListProducts(ctx, actor.TenantID)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.Set(ctx, actor.TenantID, products, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: catalog cache write failed tenant=%s: %v", actor.TenantID, err)
	}
	return products, nil
}

func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	product, err := s.repo.GetProduct(ctx, actor.TenantID, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" {
		return domain.Product{}, fmt.Errorf("name required: %w", store.ErrInvalidInput)
	}
	if req.Price < 0 || req.Quantity < 0 {
		return domain.Product{}, fmt.Errorf("price and quantity must not be negative: %w", store.ErrInvalidInput)
	}

	product := domain.Product{
		ID:          xid.New("prd"),
		TenantID:    actor.TenantID,
		Name:        req.Name,
		Category:    req.Category,
		Unit:        strings.TrimSpace(req.Unit),
		Price:       req.Price,
		Cost:        req.Cost,
		Quantity:    req.Quantity,
		IsComposite: len(req.Recipe) > 0,
		Recipe:      req.Recipe,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	release, err := s.acquireGate(ctx, actor.TenantID)
	if err != nil {
		return domain.Product{}, err
	}

	created, err := func() (*domain.Product, error) {
		defer release()

		if product.IsComposite {
			tenant, err := s.repo.GetTenant(ctx, actor.TenantID)
			if err != nil {
				return nil, err
			}
			if !s.policy.CanCreateComposite(tenant.Plan) {
				return nil, fmt.Errorf("plan %q cannot create composite products: %w", tenant.Plan, store.ErrForbidden)
			}
			if err := s.validateRecipe(ctx, actor.TenantID, product); err != nil {
				return nil, err
			}
			// Composite stock is derived from components.
			product.Quantity = 0
			product.Cost = nil
		}

		return s.repo.CreateProduct(ctx, product)
	}()
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateCatalog(ctx, actor.TenantID)
	s.publish(actor.TenantID, domain.EventProductCreated, created)
	log.Printf("[audit] tenant=%s actor=%s product_create id=%s name=%q", actor.TenantID, actor.UserID, created.ID, created.Name)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	release, err := s.acquireGate(ctx, actor.TenantID)
	if err != nil {
		return domain.Product{}, err
	}

	updated, err := func() (*domain.Product, error) {
		defer release()

		existing, err := s.repo.GetProduct(ctx, actor.TenantID, productID)
		if err != nil {
			return nil, err
		}
		next := *existing

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return nil, fmt.Errorf("name required: %w", store.ErrInvalidInput)
			}
			next.Name = name
		}
		if req.Category != nil {
			next.Category = strings.TrimSpace(*req.Category)
		}
		if req.Unit != nil {
			next.Unit = strings.TrimSpace(*req.Unit)
		}
		if req.Price != nil {
			if *req.Price < 0 {
				return nil, fmt.Errorf("price must not be negative: %w", store.ErrInvalidInput)
			}
			next.Price = *req.Price
		}
		if req.Cost != nil {
			next.Cost = req.Cost
		}
		if req.Recipe != nil {
			next.Recipe = *req.Recipe
			next.IsComposite = len(next.Recipe) > 0
		}
		if req.Quantity != nil {
			if next.IsComposite {
				return nil, fmt.Errorf("composite stock is derived and cannot be set directly: %w", store.ErrInvalidInput)
			}
			if *req.Quantity < 0 {
				return nil, fmt.Errorf("quantity must not be negative: %w", store.ErrInvalidInput)
			}
			next.Quantity = *req.Quantity
		}

		if next.IsComposite {
			if !existing.IsComposite {
				tenant, err := s.repo.GetTenant(ctx, actor.TenantID)
				if err != nil {
					return nil, err
				}
				if !s.policy.CanCreateComposite(tenant.Plan) {
					return nil, fmt.Errorf("plan %q cannot create composite products: %w", tenant.Plan, store.ErrForbidden)
				}
			}
			if err := s.validateRecipe(ctx, actor.TenantID, next); err != nil {
				return nil, err
			}
			next.Quantity = 0
			next.Cost = nil
		}

		next.UpdatedAt = time.Now().UTC()
		return s.repo.UpdateProduct(ctx, next)
	}()
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateCatalog(ctx, actor.TenantID)
	s.publish(actor.TenantID, domain.EventProductUpdated, updated)
	return *updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, productID string) error {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return err
	}

	release, err := s.acquireGate(ctx, actor.TenantID)
	if err != nil {
		return err
	}
	err = func() error {
		defer release()
		// Dangling recipe references are tolerated: a later resolution
		// reports the missing component instead of crashing.
		return s.repo.DeleteProduct(ctx, actor.TenantID, productID)
	}()
	if err != nil {
		return err
	}

	s.invalidateCatalog(ctx, actor.TenantID)
	s.publish(actor.TenantID, domain.EventProductDeleted, map[string]string{"id": productID})
	log.Printf("[audit] tenant=%s actor=%s product_delete id=%s", actor.TenantID, actor.UserID, productID)
	return nil
}

// validateRecipe checks that every component resolves within the tenant
// with a positive per-unit quantity and that the candidate product does not
// close a cycle through existing recipes.
func (s *Service) validateRecipe(ctx context.Context, tenantID string, candidate domain.Product) error {
	if len(candidate.Recipe) == 0 {
		return fmt.Errorf("composite product requires a recipe: %w", store.ErrInvalidInput)
	}
	for _, component := range candidate.Recipe {
		if component.ProductID == "" || component.QuantityPerUnit <= 0 {
			return fmt.Errorf("recipe component must name a product with a positive quantity: %w", store.ErrInvalidInput)
		}
		if component.ProductID == candidate.ID {
			return fmt.Errorf("recipe references the product itself: %w", store.ErrInvalidInput)
		}
		if _, err := s.repo.GetProduct(ctx, tenantID, component.ProductID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("recipe component %s not found: %w", component.ProductID, store.ErrInvalidInput)
			}
			return err
		}
	}

	catalog, err := s.catalogMap(ctx, tenantID)
	if err != nil {
		return err
	}
	catalog[candidate.ID] = candidate
	if _, _, err := availability.Expand(catalog, []domain.CartLine{{ProductID: candidate.ID, Quantity: 1}}); err != nil {
		return fmt.Errorf("%v: %w", err, store.ErrInvalidInput)
	}
	return nil
}

func (s *Service) ReceiveBatch(ctx context.Context, productID string, req domain.BatchReceiveRequest) (domain.Batch, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Batch{}, err
	}

	if req.Quantity <= 0 {
		return domain.Batch{}, fmt.Errorf("batch quantity must be positive: %w", store.ErrInvalidInput)
	}
	if req.UnitCost < 0 {
		return domain.Batch{}, fmt.Errorf("unit cost must not be negative: %w", store.ErrInvalidInput)
	}

	release, err := s.acquireGate(ctx, actor.TenantID)
	if err != nil {
		return domain.Batch{}, err
	}

	created, err := func() (*domain.Batch, error) {
		defer release()

		product, err := s.repo.GetProduct(ctx, actor.TenantID, productID)
		if err != nil {
			return nil, err
		}
		if product.IsComposite {
			return nil, fmt.Errorf("composite products hold no stock of their own: %w", store.ErrInvalidInput)
		}

		batch := domain.Batch{
			ID:               xid.New("bat"),
			TenantID:         actor.TenantID,
			ProductID:        productID,
			Quantity:         req.Quantity,
			OriginalQuantity: req.Quantity,
			UnitCost:         req.UnitCost,
			ExpiryDate:       req.ExpiryDate,
			CreatedAt:        time.Now().UTC(),
		}
		return s.repo.CreateBatch(ctx, batch)
	}()
	if err != nil {
		return domain.Batch{}, err
	}

	s.invalidateCatalog(ctx, actor.TenantID)
	if product, err := s.repo.GetProduct(ctx, actor.TenantID, productID); err == nil {
		s.publish(actor.TenantID, domain.EventStockUpdated, domain.StockUpdate{ProductID: productID, Quantity: product.Quantity})
	}
	return *created, nil
}

func (s *Service) ListBatches(ctx context.Context, productID string) ([]domain.Batch, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListBatches(ctx, actor.TenantID, productID)
}

func (s *Service) CheckAvailability(ctx context.Context, req domain.AvailabilityCheckRequest) (domain.AvailabilityCheckResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.AvailabilityCheckResponse{}, err
	}
	if err := validateCart(req.Items); err != nil {
		return domain.AvailabilityCheckResponse{}, err
	}

	catalog, err := s.catalogMap(ctx, actor.TenantID)
	if err != nil {
		return domain.AvailabilityCheckResponse{}, err
	}

	shortfalls, err := availability.Check(catalog, req.Items)
	if err != nil {
		return domain.AvailabilityCheckResponse{}, fmt.Errorf("%v: %w", err, store.ErrInvalidInput)
	}
	return domain.AvailabilityCheckResponse{Available: len(shortfalls) == 0, Shortfalls: shortfalls}, nil
}

// MaxProducible reports the derived stock of a composite: how many units
// its components can currently assemble. Leaf products report ordinary
// tracked stock instead.
func (s *Service) MaxProducible(ctx context.Context, productID string) (domain.ProducibleReport, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.ProducibleReport{}, err
	}

	product, err := s.repo.GetProduct(ctx, actor.TenantID, productID)
	if err != nil {
		return domain.ProducibleReport{}, err
	}
	if !product.IsComposite {
		return domain.ProducibleReport{ProductID: productID, MaxUnits: product.Quantity}, nil
	}

	catalog, err := s.catalogMap(ctx, actor.TenantID)
	if err != nil {
		return domain.ProducibleReport{}, err
	}
	units, limiting, err := availability.MaxProducible(catalog, productID)
	if err != nil {
		return domain.ProducibleReport{}, fmt.Errorf("%v: %w", err, store.ErrInvalidInput)
	}
	return domain.ProducibleReport{ProductID: productID, MaxUnits: units, LimitingIngredient: limiting}, nil
}

// Settle runs the full validate, deduct, cost, persist sequence for one
// cart. The tenant gate spans the availability check and the commit so two
// concurrent settlements can never both pass the check and jointly overdraw
// shared stock. Events go out after the commit, outside the gate.
func (s *Service) Settle(ctx context.Context, req domain.SettleRequest) (domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := validateCart(req.Items); err != nil {
		return domain.Sale{}, err
	}
	if req.Total < 0 {
		return domain.Sale{}, fmt.Errorf("total must not be negative: %w", store.ErrInvalidInput)
	}
	paymentMethod := strings.TrimSpace(req.PaymentMethod)
	if paymentMethod == "" {
		paymentMethod = "cash"
	}

	release, err := s.acquireGate(ctx, actor.TenantID)
	if err != nil {
		return domain.Sale{}, err
	}

	sale, stockLevels, err := func() (*domain.Sale, []domain.StockUpdate, error) {
		defer release()

		catalog, err := s.repo.ListProducts(ctx, actor.TenantID)
		if err != nil {
			return nil, nil, err
		}
		products := make(map[string]domain.Product, len(catalog))
		for _, p := range catalog {
			products[p.ID] = p
		}

		required, missing, err := availability.Expand(products, req.Items)
		if err != nil {
			return nil, nil, fmt.Errorf("%v: %w", err, store.ErrInvalidInput)
		}
		shortfalls := append([]domain.StockShortfall(nil), missing...)

		leafIDs := make([]string, 0, len(required))
		for id := range required {
			leafIDs = append(leafIDs, id)
		}
		sort.Strings(leafIDs)

		for _, id := range leafIDs {
			need := required[id]
			product := products[id]
			if need.Quantity > product.Quantity {
				shortfalls = append(shortfalls, domain.StockShortfall{
					ProductID:  id,
					Name:       product.Name,
					Needed:     need.Quantity,
					Available:  product.Quantity,
					Ingredient: !need.Direct,
				})
			}
		}
		if len(shortfalls) > 0 {
			return nil, nil, &store.InsufficientStockError{Shortfalls: shortfalls}
		}

		deductions := make([]domain.StockDeduction, 0, len(leafIDs))
		cogs := 0.0
		for _, id := range leafIDs {
			product := products[id]
			deduction, cost, err := s.planDeduction(ctx, actor.TenantID, product, required[id].Quantity)
			if err != nil {
				return nil, nil, err
			}
			deductions = append(deductions, deduction)
			cogs += cost
		}

		items := make([]domain.SaleItem, 0, len(req.Items))
		for _, line := range req.Items {
			product := products[line.ProductID]
			items = append(items, domain.SaleItem{
				ProductID: line.ProductID,
				Name:      product.Name,
				Quantity:  line.Quantity,
				UnitPrice: product.Price,
			})
		}

		sale := domain.Sale{
			ID:            xid.New("sale"),
			TenantID:      actor.TenantID,
			Items:         items,
			Total:         req.Total,
			COGS:          cogs,
			Profit:        req.Total - cogs,
			CashierID:     actor.UserID,
			CashierName:   actor.Name,
			PaymentMethod: paymentMethod,
			CreatedAt:     time.Now().UTC(),
		}

		committed, err := s.repo.CommitSale(ctx, sale, deductions)
		if err != nil {
			return nil, nil, err
		}

		levels := make([]domain.StockUpdate, 0, len(deductions))
		for _, d := range deductions {
			levels = append(levels, domain.StockUpdate{
				ProductID: d.ProductID,
				Quantity:  products[d.ProductID].Quantity - d.Quantity,
			})
		}
		return committed, levels, nil
	}()
	if err != nil {
		return domain.Sale{}, err
	}

	s.invalidateCatalog(ctx, actor.TenantID)
	for _, level := range stockLevels {
		s.publish(actor.TenantID, domain.EventStockUpdated, level)
	}
	s.publish(actor.TenantID, domain.EventSaleCreated, sale)
	log.Printf("[audit] tenant=%s cashier=%s sale id=%s total=%.2f cogs=%.2f", actor.TenantID, actor.UserID, sale.ID, sale.Total, sale.COGS)
	return *sale, nil
}

// planDeduction decides how one leaf requirement is taken: FIFO draws while
// live batches cover it, flat product cost for any remainder. Batch draws
// carry their lot's cost basis so COGS reflects the stock actually
// consumed.
func (s *Service) planDeduction(ctx context.Context, tenantID string, product domain.Product, qty float64) (domain.StockDeduction, float64, error) {
	deduction := domain.StockDeduction{ProductID: product.ID, Quantity: qty, UnitCost: product.UnitCost()}

	lots, err := s.repo.ListBatches(ctx, tenantID, product.ID)
	if err != nil {
		return domain.StockDeduction{}, 0, err
	}

	cogs := 0.0
	left := qty
	for _, lot := range lots {
		if left <= 0 {
			break
		}
		if lot.Quantity <= 0 {
			continue
		}
		take := lot.Quantity
		if take > left {
			take = left
		}
		deduction.Draws = append(deduction.Draws, domain.BatchDraw{BatchID: lot.ID, Quantity: take, UnitCost: lot.UnitCost})
		cogs += take * lot.UnitCost
		left -= take
	}
	if left > 0 {
		cogs += left * product.UnitCost()
	}
	return deduction, cogs, nil
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, actor.TenantID, limit)
}

// ResetSales wipes the tenant's sales history. Administrative escape
// hatch, deliberately outside the settlement path.
func (s *Service) ResetSales(ctx context.Context) (int, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return 0, err
	}

	count, err := s.repo.DeleteSales(ctx, actor.TenantID)
	if err != nil {
		return 0, err
	}
	log.Printf("[audit] tenant=%s actor=%s sales_reset count=%d", actor.TenantID, actor.UserID, count)
	return count, nil
}

// Subscribe opens a live event stream for the caller's tenant. The catalog
// snapshot is taken atomically with stream registration, so subscribers
// never see an event that predates their snapshot.
func (s *Service) Subscribe(ctx context.Context) (*notifier.Subscription, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	return s.hub.Subscribe(actor.TenantID, func() (domain.Event, error) {
		products, err := s.repo.ListProducts(ctx, actor.TenantID)
		if err != nil {
			return domain.Event{}, err
		}
		return notifier.Envelope(domain.EventSnapshot, products), nil
	})
}

func (s *Service) catalogMap(ctx context.Context, tenantID string) (map[string]domain.Product, error) {
	catalog, err := s.repo.ListProducts(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	products := make(map[string]domain.Product, len(catalog))
	for _, p := range catalog {
		products[p.ID] = p
	}
	return products, nil
}

func (s *Service) invalidateCatalog(ctx context.Context, tenantID string) {
	if err := s.catalog.Invalidate(ctx, tenantID); err != nil {
		log.Printf("[service] WARN: catalog cache invalidate failed tenant=%s: %v", tenantID, err)
	}
}

func (s *Service) publish(tenantID string, eventType string, payload any) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(tenantID, notifier.Envelope(eventType, payload))
}

func validateCart(items []domain.CartLine) error {
	if len(items) == 0 {
		return fmt.Errorf("cart is empty: %w", store.ErrInvalidInput)
	}
	for _, line := range items {
		if strings.TrimSpace(line.ProductID) == "" {
			return fmt.Errorf("cart line missing product id: %w", store.ErrInvalidInput)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("cart line quantity must be positive: %w", store.ErrInvalidInput)
		}
	}
	return nil
}
