package domain

import "time"

type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Plan      string    `json:"plan"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	PlanBasic = "basic"
	PlanPro   = "pro"
	PlanUltra = "ultra"
)

type RecipeComponent struct {
	ProductID       string  `json:"productId"`
	QuantityPerUnit float64 `json:"quantityPerUnit"`
}

type Product struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenantId"`
	Name        string            `json:"name"`
	Category    string            `json:"category,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	Price       float64           `json:"price"`
	Cost        *float64          `json:"cost,omitempty"`
	Quantity    float64           `json:"quantity"`
	IsComposite bool              `json:"isComposite"`
	Recipe      []RecipeComponent `json:"recipe,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// UnitCost is the flat cost basis used when the product has no batches.
// Composites have no cost of their own; their cost derives from components.
func (p Product) UnitCost() float64 {
	if p.Cost == nil {
		return 0
	}
	return *p.Cost
}

type ProductCreateRequest struct {
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Unit     string            `json:"unit"`
	Price    float64           `json:"price"`
	Cost     *float64          `json:"cost,omitempty"`
	Quantity float64           `json:"quantity"`
	Recipe   []RecipeComponent `json:"recipe,omitempty"`
}

type ProductUpdateRequest struct {
	Name     *string            `json:"name,omitempty"`
	Category *string            `json:"category,omitempty"`
	Unit     *string            `json:"unit,omitempty"`
	Price    *float64           `json:"price,omitempty"`
	Cost     *float64           `json:"cost,omitempty"`
	Quantity *float64           `json:"quantity,omitempty"`
	Recipe   *[]RecipeComponent `json:"recipe,omitempty"`
}

type Batch struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenantId"`
	ProductID        string     `json:"productId"`
	Quantity         float64    `json:"quantity"`
	OriginalQuantity float64    `json:"originalQuantity"`
	UnitCost         float64    `json:"unitCost"`
	ExpiryDate       *time.Time `json:"expiryDate,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

type BatchReceiveRequest struct {
	Quantity   float64    `json:"quantity"`
	UnitCost   float64    `json:"unitCost"`
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
}

type CartLine struct {
	ProductID string  `json:"productId"`
	Quantity  float64 `json:"quantity"`
}

type SaleItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

type Sale struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId"`
	Items         []SaleItem `json:"items"`
	Total         float64    `json:"total"`
	COGS          float64    `json:"cogs"`
	Profit        float64    `json:"profit"`
	CashierID     string     `json:"cashierId"`
	CashierName   string     `json:"cashierName"`
	PaymentMethod string     `json:"paymentMethod"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type SettleRequest struct {
	Items         []CartLine `json:"items"`
	Total         float64    `json:"total"`
	PaymentMethod string     `json:"paymentMethod"`
}

type AvailabilityCheckRequest struct {
	Items []CartLine `json:"items"`
}

type AvailabilityCheckResponse struct {
	Available  bool             `json:"available"`
	Shortfalls []StockShortfall `json:"shortfalls,omitempty"`
}

// ProducibleReport is the derived-stock projection for a composite: how
// many whole units current component stock can assemble and which
// ingredient runs out first.
type ProducibleReport struct {
	ProductID          string  `json:"productId"`
	MaxUnits           float64 `json:"maxUnits"`
	LimitingIngredient string  `json:"limitingIngredient,omitempty"`
}

// StockShortfall names one leaf product that cannot cover the cart's
// aggregated requirement. Ingredient marks a shortfall reached through a
// recipe rather than a direct cart line; Missing marks an id that did not
// resolve at all.
type StockShortfall struct {
	ProductID  string  `json:"productId"`
	Name       string  `json:"name,omitempty"`
	Needed     float64 `json:"needed"`
	Available  float64 `json:"available"`
	Ingredient bool    `json:"ingredient"`
	Missing    bool    `json:"missing,omitempty"`
}

// BatchDraw records a FIFO take from one batch during settlement.
type BatchDraw struct {
	BatchID  string  `json:"batchId"`
	Quantity float64 `json:"quantity"`
	UnitCost float64 `json:"unitCost"`
}

// StockDeduction is the planned mutation for one leaf product in a
// settlement. Draws is empty when the product uses flat costing.
type StockDeduction struct {
	ProductID string      `json:"productId"`
	Quantity  float64     `json:"quantity"`
	UnitCost  float64     `json:"unitCost"`
	Draws     []BatchDraw `json:"draws,omitempty"`
}

const (
	EventProductCreated = "product_created"
	EventProductUpdated = "product_updated"
	EventProductDeleted = "product_deleted"
	EventStockUpdated   = "stock_updated"
	EventSaleCreated    = "sale_created"
	EventSnapshot       = "snapshot"
)

type Event struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type StockUpdate struct {
	ProductID string  `json:"productId"`
	Quantity  float64 `json:"quantity"`
}

type UserAccount struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenantId"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type SignupRequest struct {
	TenantName string `json:"tenantName"`
	Plan       string `json:"plan"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	Name       string `json:"name"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	TenantID    string `json:"tenantId"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// Actor is the verified caller attached to a request context. Every
// repository access the service performs is scoped to Actor.TenantID.
type Actor struct {
	TenantID string
	UserID   string
	Name     string
	Role     string
}
