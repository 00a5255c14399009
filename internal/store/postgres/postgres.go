package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ultrapos/backend/internal/domain"
	"ultrapos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ensureSchema creates the tables on first run. The composite_no_stock
// check enforces at the database level that composite products never hold
// tracked stock.
func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			plan       TEXT NOT NULL DEFAULT 'basic',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			tenant_id     TEXT NOT NULL REFERENCES tenants(id),
			username      TEXT NOT NULL UNIQUE,
			name          TEXT NOT NULL DEFAULT '',
			role          TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS products (
			id           TEXT PRIMARY KEY,
			tenant_id    TEXT NOT NULL REFERENCES tenants(id),
			name         TEXT NOT NULL,
			category     TEXT NOT NULL DEFAULT '',
			unit         TEXT NOT NULL DEFAULT '',
			price        DOUBLE PRECISION NOT NULL DEFAULT 0,
			cost         DOUBLE PRECISION,
			quantity     DOUBLE PRECISION NOT NULL DEFAULT 0,
			is_composite BOOLEAN NOT NULL DEFAULT false,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT composite_no_stock CHECK (NOT is_composite OR quantity = 0)
		);
		CREATE TABLE IF NOT EXISTS recipe_components (
			product_id        TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			position          INT NOT NULL,
			component_id      TEXT NOT NULL,
			quantity_per_unit DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (product_id, position)
		);
		CREATE TABLE IF NOT EXISTS batches (
			id                TEXT PRIMARY KEY,
			tenant_id         TEXT NOT NULL,
			product_id        TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			quantity          DOUBLE PRECISION NOT NULL,
			original_quantity DOUBLE PRECISION NOT NULL,
			unit_cost         DOUBLE PRECISION NOT NULL,
			expiry_date       TIMESTAMPTZ,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS sales (
			id             TEXT PRIMARY KEY,
			tenant_id      TEXT NOT NULL REFERENCES tenants(id),
			items          JSONB NOT NULL,
			total          DOUBLE PRECISION NOT NULL,
			cogs           DOUBLE PRECISION NOT NULL,
			profit         DOUBLE PRECISION NOT NULL,
			cashier_id     TEXT NOT NULL DEFAULT '',
			cashier_name   TEXT NOT NULL DEFAULT '',
			payment_method TEXT NOT NULL DEFAULT 'cash',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_products_tenant ON products (tenant_id);
		CREATE INDEX IF NOT EXISTS idx_batches_product ON batches (tenant_id, product_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_sales_tenant ON sales (tenant_id, created_at DESC);
	`)
	return err
}

func (s *Store) CreateTenant(ctx context.Context, tenant domain.Tenant) (*domain.Tenant, error) {
	if tenant.ID == "" || tenant.Name == "" {
		return nil, store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, plan, created_at)
		VALUES ($1,$2,$3,$4)
	`, tenant.ID, tenant.Name, tenant.Plan, tenant.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := tenant
	return &created, nil
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, plan, created_at
		FROM tenants
		WHERE id = $1
	`, tenantID).Scan(&tenant.ID, &tenant.Name, &tenant.Plan, &tenant.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

type rowQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanProducts(rows *sql.Rows) ([]domain.Product, error) {
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		var cost sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Category, &p.Unit, &p.Price, &cost, &p.Quantity, &p.IsComposite, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if cost.Valid {
			c := cost.Float64
			p.Cost = &c
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func loadRecipes(ctx context.Context, q rowQuerier, products []domain.Product) error {
	ids := make([]string, 0, len(products))
	byID := make(map[string]int, len(products))
	for i, p := range products {
		if p.IsComposite {
			ids = append(ids, p.ID)
			byID[p.ID] = i
		}
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, component_id, quantity_per_unit
		FROM recipe_components
		WHERE product_id = ANY($1)
		ORDER BY product_id, position
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var productID string
		var component domain.RecipeComponent
		if err := rows.Scan(&productID, &component.ProductID, &component.QuantityPerUnit); err != nil {
			return err
		}
		if i, ok := byID[productID]; ok {
			products[i].Recipe = append(products[i].Recipe, component)
		}
	}
	return rows.Err()
}

const productColumns = `id, tenant_id, name, category, unit, price, cost, quantity, is_composite, created_at, updated_at`

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1
		ORDER BY category, name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	products, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	if err := loadRecipes(ctx, s.db, products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, tenantID string, productID string) (*domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, productID)
	if err != nil {
		return nil, err
	}
	products, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, store.ErrNotFound
	}
	if err := loadRecipes(ctx, s.db, products); err != nil {
		return nil, err
	}
	return &products[0], nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, tenantID string, ids []string) (map[string]domain.Product, error) {
	if len(ids) == 0 {
		return map[string]domain.Product{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1 AND id = ANY($2)
	`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	products, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	if err := loadRecipes(ctx, s.db, products); err != nil {
		return nil, err
	}
	result := make(map[string]domain.Product, len(products))
	for _, p := range products {
		result[p.ID] = p
	}
	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.TenantID == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, tenant_id, name, category, unit, price, cost, quantity, is_composite, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, product.ID, product.TenantID, product.Name, product.Category, product.Unit, product.Price, nullFloat(product.Cost), product.Quantity, product.IsComposite, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	if err := replaceRecipe(ctx, tx, product.ID, product.Recipe); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET name = $3, category = $4, unit = $5, price = $6, cost = $7, quantity = $8, is_composite = $9, updated_at = $10
		WHERE tenant_id = $1 AND id = $2
	`, product.TenantID, product.ID, product.Name, product.Category, product.Unit, product.Price, nullFloat(product.Cost), product.Quantity, product.IsComposite, product.UpdatedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM recipe_components WHERE product_id = $1`, product.ID); err != nil {
		return nil, err
	}
	if err := replaceRecipe(ctx, tx, product.ID, product.Recipe); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}

	updated := product
	return &updated, nil
}

func replaceRecipe(ctx context.Context, tx *sql.Tx, productID string, recipe []domain.RecipeComponent) error {
	for i, component := range recipe {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recipe_components (product_id, position, component_id, quantity_per_unit)
			VALUES ($1,$2,$3,$4)
		`, productID, i, component.ProductID, component.QuantityPerUnit)
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteProduct removes the product, its recipe rows and its batches.
// Recipes of other products that reference the deleted id are left alone;
// the resolver reports such components as missing.
func (s *Store) DeleteProduct(ctx context.Context, tenantID string, productID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM products
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, productID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error) {
	if batch.ID == "" || batch.Quantity <= 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var isComposite bool
	err = tx.QueryRowContext(ctx, `
		SELECT is_composite
		FROM products
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, batch.TenantID, batch.ProductID).Scan(&isComposite)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if isComposite {
		return nil, store.ErrInvalidInput
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (id, tenant_id, product_id, quantity, original_quantity, unit_cost, expiry_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, batch.ID, batch.TenantID, batch.ProductID, batch.Quantity, batch.OriginalQuantity, batch.UnitCost, nullTime(batch.ExpiryDate), batch.CreatedAt)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity + $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, batch.TenantID, batch.ProductID, batch.Quantity)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}

	created := batch
	return &created, nil
}

func (s *Store) ListBatches(ctx context.Context, tenantID string, productID string) ([]domain.Batch, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT true FROM products WHERE tenant_id = $1 AND id = $2
	`, tenantID, productID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, product_id, quantity, original_quantity, unit_cost, expiry_date, created_at
		FROM batches
		WHERE tenant_id = $1 AND product_id = $2
		ORDER BY created_at ASC, id ASC
	`, tenantID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.Batch, 0, 16)
	for rows.Next() {
		var b domain.Batch
		var expiry sql.NullTime
		if err := rows.Scan(&b.ID, &b.TenantID, &b.ProductID, &b.Quantity, &b.OriginalQuantity, &b.UnitCost, &expiry, &b.CreatedAt); err != nil {
			return nil, err
		}
		if expiry.Valid {
			e := expiry.Time.UTC()
			b.ExpiryDate = &e
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

// CommitSale locks every touched product row, re-verifies the plan against
// current quantities and applies all deductions plus the sale insert in one
// serializable transaction. Any shortfall rolls the whole thing back.
func (s *Store) CommitSale(ctx context.Context, sale domain.Sale, deductions []domain.StockDeduction) (*domain.Sale, error) {
	if sale.ID == "" || sale.TenantID == "" {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]string, 0, len(deductions))
	for _, d := range deductions {
		ids = append(ids, d.ProductID)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, quantity, is_composite
		FROM products
		WHERE tenant_id = $1 AND id = ANY($2)
		ORDER BY id
		FOR UPDATE
	`, sale.TenantID, ids)
	if err != nil {
		return nil, err
	}
	type productState struct {
		name        string
		quantity    float64
		isComposite bool
	}
	current := make(map[string]productState, len(ids))
	for rows.Next() {
		var id string
		var state productState
		if err := rows.Scan(&id, &state.name, &state.quantity, &state.isComposite); err != nil {
			_ = rows.Close()
			return nil, err
		}
		current[id] = state
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	shortfalls := make([]domain.StockShortfall, 0)
	for _, d := range deductions {
		state, ok := current[d.ProductID]
		if !ok {
			shortfalls = append(shortfalls, domain.StockShortfall{ProductID: d.ProductID, Needed: d.Quantity, Missing: true})
			continue
		}
		if state.isComposite {
			return nil, store.ErrInvalidInput
		}
		if d.Quantity > state.quantity {
			shortfalls = append(shortfalls, domain.StockShortfall{
				ProductID: d.ProductID,
				Name:      state.name,
				Needed:    d.Quantity,
				Available: state.quantity,
			})
		}
	}
	if len(shortfalls) > 0 {
		return nil, &store.InsufficientStockError{Shortfalls: shortfalls}
	}

	for _, d := range deductions {
		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET quantity = quantity - $3, updated_at = now()
			WHERE tenant_id = $1 AND id = $2
		`, sale.TenantID, d.ProductID, d.Quantity)
		if err != nil {
			return nil, err
		}
		for _, draw := range d.Draws {
			res, err := tx.ExecContext(ctx, `
				UPDATE batches
				SET quantity = quantity - $2
				WHERE id = $1 AND quantity >= $2
			`, draw.BatchID, draw.Quantity)
			if err != nil {
				return nil, err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return nil, err
			}
			if affected == 0 {
				state := current[d.ProductID]
				return nil, &store.InsufficientStockError{Shortfalls: []domain.StockShortfall{{
					ProductID: d.ProductID,
					Name:      state.name,
					Needed:    d.Quantity,
					Available: state.quantity,
				}}}
			}
		}
	}

	items, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, tenant_id, items, total, cogs, profit, cashier_id, cashier_name, payment_method, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, sale.ID, sale.TenantID, items, sale.Total, sale.COGS, sale.Profit, sale.CashierID, sale.CashierName, sale.PaymentMethod, sale.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return nil, fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
		return nil, fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}

	committed := sale
	return &committed, nil
}

func (s *Store) ListSales(ctx context.Context, tenantID string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, items, total, cogs, profit, cashier_id, cashier_name, payment_method, created_at
		FROM sales
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, items, total, cogs, profit, cashier_id, cashier_name, payment_method, created_at
		FROM sales
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, store.ErrNotFound
	}
	sale, err := scanSale(rows)
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func scanSale(rows *sql.Rows) (domain.Sale, error) {
	var sale domain.Sale
	var items []byte
	if err := rows.Scan(&sale.ID, &sale.TenantID, &items, &sale.Total, &sale.COGS, &sale.Profit, &sale.CashierID, &sale.CashierName, &sale.PaymentMethod, &sale.CreatedAt); err != nil {
		return domain.Sale{}, err
	}
	if err := json.Unmarshal(items, &sale.Items); err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

func (s *Store) DeleteSales(ctx context.Context, tenantID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sales
		WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.ID == "" || user.TenantID == "" || user.Username == "" {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, username, name, role, password_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, user.ID, user.TenantID, strings.ToLower(user.Username), user.Name, user.Role, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, username, name, role, password_hash, created_at
		FROM users
		WHERE username = $1
	`, strings.ToLower(username)).Scan(&user.ID, &user.TenantID, &user.Username, &user.Name, &user.Role, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context, tenantID string) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, username, name, role, password_hash, created_at
		FROM users
		WHERE tenant_id = $1
		ORDER BY username
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.TenantID, &user.Username, &user.Name, &user.Role, &user.PasswordHash, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}
