package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ultrapos/backend/internal/cache"
	"ultrapos/backend/internal/domain"
	"ultrapos/backend/internal/notifier"
	"ultrapos/backend/internal/service"
	"ultrapos/backend/internal/store/memory"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	repo := memory.New()
	hub := notifier.NewHub()
	t.Cleanup(func() { hub.Close() })
	policy := service.NewPlanPolicy([]string{domain.PlanPro, domain.PlanUltra}, []string{domain.PlanUltra})
	svc := service.New(repo, hub, cache.NoopCatalogCache{}, policy, time.Second, time.Second)
	auth := NewAuthManager(testSecret, time.Hour, repo, policy)
	return New(svc, auth, "*").Handler()
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func signupToken(t *testing.T, handler http.Handler, plan string, username string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/signup", "", domain.SignupRequest{
		TenantName: "Shop " + username,
		Plan:       plan,
		Username:   username,
		Password:   "s3cret-pass",
		Name:       "Owner " + username,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	return resp.AccessToken
}

func createProductHTTP(t *testing.T, handler http.Handler, token string, req domain.ProductCreateRequest) domain.Product {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", token, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Product domain.Product `json:"product"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	return resp.Product
}

func TestProductEndpointsRequireAuth(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products", "bogus-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestProductLifecycleOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	token := signupToken(t, handler, domain.PlanUltra, "owner1")

	cost := 2.0
	syrup := createProductHTTP(t, handler, token, domain.ProductCreateRequest{Name: "Syrup", Unit: "ml", Cost: &cost, Quantity: 100})
	if syrup.Quantity != 100 || syrup.IsComposite {
		t.Fatalf("unexpected leaf product: %+v", syrup)
	}

	mix := createProductHTTP(t, handler, token, domain.ProductCreateRequest{
		Name:   "Drink Mix",
		Price:  300,
		Recipe: []domain.RecipeComponent{{ProductID: syrup.ID, QuantityPerUnit: 50}},
	})
	if !mix.IsComposite || mix.Quantity != 0 {
		t.Fatalf("composite must carry zero stock: %+v", mix)
	}

	newPrice := 320.0
	rec := doJSON(t, handler, http.MethodPatch, "/api/v1/products/"+mix.ID, token, domain.ProductUpdateRequest{Price: &newPrice})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/products/"+mix.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete returned %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products/"+mix.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestSettleOverHTTPWithShortfallDetails(t *testing.T) {
	handler := newTestHandler(t)
	token := signupToken(t, handler, domain.PlanUltra, "owner2")

	cost := 2.0
	syrup := createProductHTTP(t, handler, token, domain.ProductCreateRequest{Name: "Syrup", Cost: &cost, Quantity: 100})
	mix := createProductHTTP(t, handler, token, domain.ProductCreateRequest{
		Name:   "Drink Mix",
		Price:  300,
		Recipe: []domain.RecipeComponent{{ProductID: syrup.ID, QuantityPerUnit: 50}},
	})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, domain.SettleRequest{
		Items: []domain.CartLine{{ProductID: mix.ID, Quantity: 1}},
		Total: 300,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("settle returned %d: %s", rec.Code, rec.Body.String())
	}
	var settled struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &settled); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if settled.Sale.COGS != 100 || settled.Sale.Profit != 200 {
		t.Fatalf("unexpected sale costing: %+v", settled.Sale)
	}

	// 2 more mixes need 100ml, only 50ml remain.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, domain.SettleRequest{
		Items: []domain.CartLine{{ProductID: mix.ID, Quantity: 2}},
		Total: 600,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for insufficient stock, got %d: %s", rec.Code, rec.Body.String())
	}
	var failure struct {
		Error      string                  `json:"error"`
		Shortfalls []domain.StockShortfall `json:"shortfalls"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &failure); err != nil {
		t.Fatalf("decode failure: %v", err)
	}
	if len(failure.Shortfalls) != 1 || failure.Shortfalls[0].ProductID != syrup.ID {
		t.Fatalf("shortfall details missing: %+v", failure)
	}
}

func TestBatchEndpointsOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	token := signupToken(t, handler, domain.PlanUltra, "owner3")

	flour := createProductHTTP(t, handler, token, domain.ProductCreateRequest{Name: "Flour", Price: 1})
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products/"+flour.ID+"/batches", token, domain.BatchReceiveRequest{Quantity: 5, UnitCost: 10})
	if rec.Code != http.StatusCreated {
		t.Fatalf("receive batch returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products/"+flour.ID+"/batches", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list batches returned %d", rec.Code)
	}
	var listed struct {
		Batches []domain.Batch `json:"batches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode batches: %v", err)
	}
	if len(listed.Batches) != 1 || listed.Batches[0].Quantity != 5 {
		t.Fatalf("unexpected batches: %+v", listed.Batches)
	}
}

func TestTenantIsolationOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	tokenA := signupToken(t, handler, domain.PlanUltra, "tenant-a-owner")
	tokenB := signupToken(t, handler, domain.PlanUltra, "tenant-b-owner")

	product := createProductHTTP(t, handler, tokenA, domain.ProductCreateRequest{Name: "Private", Price: 1, Quantity: 5})

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products/"+product.ID, tokenB, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("tenant B must not see tenant A products, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products", tokenB, nil)
	var listed struct {
		Products []domain.Product `json:"products"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode products: %v", err)
	}
	if len(listed.Products) != 0 {
		t.Fatalf("tenant B catalog should be empty, got %d", len(listed.Products))
	}
}

func TestCashierRoleCannotManageCatalog(t *testing.T) {
	handler := newTestHandler(t)
	token := signupToken(t, handler, domain.PlanUltra, "owner4")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users", token, domain.UserCreateRequest{Username: "cashier1", Password: "s3cret-pass"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cashier returned %d: %s", rec.Code, rec.Body.String())
	}
	login := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "cashier1", Password: "s3cret-pass"})
	if login.Code != http.StatusOK {
		t.Fatalf("cashier login returned %d", login.Code)
	}
	var session domain.LoginResponse
	if err := json.Unmarshal(login.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/products", session.AccessToken, domain.ProductCreateRequest{Name: "Nope", Price: 1})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cashier product creation should fail with 403, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales/reset", session.AccessToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cashier reset should be forbidden, got %d", rec.Code)
	}
}

func TestPlanGateMapsToForbidden(t *testing.T) {
	handler := newTestHandler(t)
	token := signupToken(t, handler, domain.PlanBasic, "basicowner")

	water := createProductHTTP(t, handler, token, domain.ProductCreateRequest{Name: "Water", Price: 1, Quantity: 10})
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", token, domain.ProductCreateRequest{
		Name:   "Mix",
		Price:  2,
		Recipe: []domain.RecipeComponent{{ProductID: water.ID, QuantityPerUnit: 1}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("basic plan composite creation should fail with 403, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/users", token, domain.UserCreateRequest{Username: "helper01", Password: "s3cret-pass"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("basic plan sub-user creation should fail with 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMaxProducibleOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	token := signupToken(t, handler, domain.PlanUltra, "owner6")

	cost := 2.0
	syrup := createProductHTTP(t, handler, token, domain.ProductCreateRequest{Name: "Syrup", Cost: &cost, Quantity: 100})
	mix := createProductHTTP(t, handler, token, domain.ProductCreateRequest{
		Name:   "Drink Mix",
		Price:  300,
		Recipe: []domain.RecipeComponent{{ProductID: syrup.ID, QuantityPerUnit: 30}},
	})

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products/"+mix.ID+"/max-producible", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("max-producible returned %d: %s", rec.Code, rec.Body.String())
	}
	var report domain.ProducibleReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.MaxUnits != 3 || report.LimitingIngredient != "Syrup" {
		t.Fatalf("100ml at 30 per unit should yield 3 limited by Syrup, got %+v", report)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products/nope/max-producible", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown product should be 404, got %d", rec.Code)
	}
}

func TestStreamDeliversSnapshotAndEvents(t *testing.T) {
	handler := newTestHandler(t)
	token := signupToken(t, handler, domain.PlanUltra, "owner5")
	createProductHTTP(t, handler, token, domain.ProductCreateRequest{Name: "Water", Price: 1, Quantity: 10})

	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/stream?token=" + token)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream returned %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	createProductHTTP(t, handler, token, domain.ProductCreateRequest{Name: "Juice", Price: 2, Quantity: 4})

	events := make(chan domain.Event, 8)
	go func() {
		defer close(events)
		buf := make([]byte, 32*1024)
		pending := ""
		for len(events) < cap(events) {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				pending += string(buf[:n])
				for {
					idx := indexDoubleNewline(pending)
					if idx < 0 {
						break
					}
					frame := pending[:idx]
					pending = pending[idx+2:]
					if len(frame) < 6 || frame[:6] != "data: " {
						continue
					}
					var event domain.Event
					if json.Unmarshal([]byte(frame[6:]), &event) == nil {
						events <- event
						if event.Type == domain.EventProductCreated {
							return
						}
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()

	var seen []string
	deadline := time.After(3 * time.Second)
	for {
		select {
		case event, open := <-events:
			if !open {
				if len(seen) < 2 {
					t.Fatalf("stream closed early, saw %v", seen)
				}
				return
			}
			seen = append(seen, event.Type)
			if len(seen) == 1 && event.Type != domain.EventSnapshot {
				t.Fatalf("first stream event must be the snapshot, got %s", event.Type)
			}
			if event.Type == domain.EventProductCreated {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for stream events, saw %v", seen)
		}
	}
}

func indexDoubleNewline(s string) int {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '\n' && s[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func TestHealthz(t *testing.T) {
	handler := newTestHandler(t)
	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("ok")) {
		t.Fatalf("unexpected health body: %s", rec.Body.String())
	}
}
