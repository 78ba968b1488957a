package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vendify/internal/branch"
	"vendify/internal/cart"
	"vendify/internal/checkout"
	"vendify/internal/gateway"
	"vendify/internal/notify"
	"vendify/internal/receipt"
	"vendify/internal/recommendation"
	"vendify/internal/report"
	"vendify/internal/store/memory"
	"vendify/internal/users"
)

// newTestAPI wires every service against one in-memory store so handler
// tests exercise the full request path.
func newTestAPI(t *testing.T) http.Handler {
	t.Helper()

	ctx := context.Background()
	mem := memory.New()
	branches := branch.New(mem, nil, mem, nil)
	branches.Initialize(ctx)

	gw := gateway.New(mem, gateway.Options{})
	notices := notify.NewRecorder(50, nil)
	issuer := receipt.NewIssuer("test-secret", "")
	svc := checkout.New(gw, checkout.Options{Issuer: issuer, Sink: notices})

	api := New(Deps{
		Branches:      branches,
		Gateway:       gw,
		Checkout:      svc,
		SaleCart:      cart.NewSaleCart(notices),
		WholesaleCart: cart.NewWholesaleCart(cart.DefaultWholesalePolicy(), notices),
		Reports:       report.NewBuilder(gw),
		Users:         users.NewService(gw, nil),
		Reorder:       recommendation.NewEngine(gw, 0, 0),
		Issuer:        issuer,
		Notices:       notices,
	})
	t.Cleanup(api.Close)
	api.reloadCarts(ctx)
	return api.Handler()
}

func do(t *testing.T, h http.Handler, method string, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (status %d)", err, rec.Code)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d (body: %s)", want, rec.Code, rec.Body.String())
	}
}

func createItem(t *testing.T, h http.Handler, name string, price float64, qty int) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/inventory", map[string]any{
		"name": name, "price": price, "cost": price / 2, "quantity": qty, "reorderLevel": 2,
	})
	expectStatus(t, rec, http.StatusCreated)
	return decode(t, rec)["id"].(string)
}

func TestHandleHealth(t *testing.T) {
	h := newTestAPI(t)
	rec := do(t, h, http.MethodGet, "/healthz", nil)
	expectStatus(t, rec, http.StatusOK)

	body := decode(t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers on every response")
	}
}

func TestBranchLifecycle(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodPost, "/api/v1/branches", map[string]any{"name": "North"})
	expectStatus(t, rec, http.StatusCreated)
	north := decode(t, rec)
	if north["code"] != "BR002" {
		t.Fatalf("expected first branch code BR002, got %v", north["code"])
	}
	northID := north["id"].(string)

	rec = do(t, h, http.MethodPost, "/api/v1/branches/"+northID+"/switch", nil)
	expectStatus(t, rec, http.StatusOK)
	current := decode(t, rec)["current"].(map[string]any)
	if current["id"] != northID {
		t.Fatalf("expected current branch %s, got %v", northID, current["id"])
	}

	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/branches/missing/switch", nil), http.StatusNotFound)
	expectStatus(t, do(t, h, http.MethodDelete, "/api/v1/branches/branch-main", nil), http.StatusForbidden)
	expectStatus(t, do(t, h, http.MethodGet, "/api/v1/inventory?branchId=missing", nil), http.StatusNotFound)

	rec = do(t, h, http.MethodPost, "/api/v1/branches/view-all", nil)
	expectStatus(t, rec, http.StatusOK)
	if decode(t, rec)["allView"] != true {
		t.Fatalf("expected all-branches view")
	}
}

func TestPOSCheckoutFlow(t *testing.T) {
	h := newTestAPI(t)
	itemID := createItem(t, h, "Tea", 5, 10)

	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/cart/pos/lines", map[string]any{"itemId": itemID}), http.StatusOK)
	expectStatus(t, do(t, h, http.MethodPut, "/api/v1/cart/pos/lines/0", map[string]any{"quantity": 3}), http.StatusOK)
	rec := do(t, h, http.MethodPut, "/api/v1/cart/pos/discount", map[string]any{"value": 10, "type": "percent"})
	expectStatus(t, rec, http.StatusOK)
	totals := decode(t, rec)["totals"].(map[string]any)
	if totals["total"] != 13.5 {
		t.Fatalf("expected total 13.5, got %v", totals["total"])
	}

	rec = do(t, h, http.MethodPost, "/api/v1/cart/pos/complete", nil)
	expectStatus(t, rec, http.StatusCreated)
	result := decode(t, rec)
	sale := result["sale"].(map[string]any)
	if !strings.HasPrefix(sale["saleNumber"].(string), "MAIN-") {
		t.Fatalf("unexpected sale number %v", sale["saleNumber"])
	}
	token := result["receipt"].(map[string]any)["token"].(string)

	rec = do(t, h, http.MethodPost, "/api/v1/receipts/verify", map[string]any{"token": token})
	expectStatus(t, rec, http.StatusOK)
	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/receipts/verify", map[string]any{"token": "bogus"}), http.StatusUnprocessableEntity)

	rec = do(t, h, http.MethodGet, "/api/v1/inventory/"+itemID, nil)
	expectStatus(t, rec, http.StatusOK)
	if qty := decode(t, rec)["quantity"]; qty != 7.0 {
		t.Fatalf("expected stock 7 after sale, got %v", qty)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/dashboard", nil)
	expectStatus(t, rec, http.StatusOK)
	stats := decode(t, rec)
	if stats["totalRevenue"] != 13.5 || stats["activeBranches"] != 1.0 {
		t.Fatalf("unexpected dashboard %v", stats)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/cart/pos", nil)
	expectStatus(t, rec, http.StatusOK)
	if decode(t, rec)["phase"] != string(cart.PhaseCompleted) {
		t.Fatalf("expected completed cart after checkout")
	}

	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/cart/pos/complete", nil), http.StatusUnprocessableEntity)
}

func TestCartRejectsBadInput(t *testing.T) {
	h := newTestAPI(t)
	createItem(t, h, "Tea", 5, 10)

	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/cart/pos/lines", map[string]any{"itemId": "nope"}), http.StatusBadRequest)
	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/cart/pos/lines", map[string]any{"sku": "x"}), http.StatusBadRequest)
	expectStatus(t, do(t, h, http.MethodPut, "/api/v1/cart/pos/lines/abc", map[string]any{"quantity": 1}), http.StatusBadRequest)
	expectStatus(t, do(t, h, http.MethodPut, "/api/v1/cart/pos/discount", map[string]any{"value": 120, "type": "percent"}), http.StatusBadRequest)

	empty := createItem(t, h, "Ghost", 5, 0)
	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/cart/pos/lines", map[string]any{"itemId": empty}), http.StatusUnprocessableEntity)

	rec := do(t, h, http.MethodGet, "/api/v1/notifications", nil)
	expectStatus(t, rec, http.StatusOK)
	if n := decode(t, rec)["notifications"].([]any); len(n) == 0 {
		t.Fatalf("expected user-facing notifications for rejected input")
	}
}

func TestWholesaleCheckoutNeedsCustomer(t *testing.T) {
	h := newTestAPI(t)
	itemID := createItem(t, h, "Rice", 100, 50)

	rec := do(t, h, http.MethodPost, "/api/v1/cart/b2b/lines", map[string]any{"itemId": itemID})
	expectStatus(t, rec, http.StatusOK)
	line := decode(t, rec)["lines"].([]any)[0].(map[string]any)
	if line["quantity"] != 10.0 || line["price"] != 85.0 {
		t.Fatalf("expected MOQ line at wholesale price, got %v", line)
	}

	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/cart/b2b/complete", nil), http.StatusUnprocessableEntity)

	rec = do(t, h, http.MethodPost, "/api/v1/customers", map[string]any{"name": "Acme"})
	expectStatus(t, rec, http.StatusCreated)
	customerID := decode(t, rec)["id"].(string)

	expectStatus(t, do(t, h, http.MethodPut, "/api/v1/cart/b2b/customer", map[string]any{"customerId": customerID}), http.StatusOK)
	expectStatus(t, do(t, h, http.MethodPut, "/api/v1/cart/b2b/credit-term", map[string]any{"term": "net30"}), http.StatusOK)
	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/cart/b2b/quote", nil), http.StatusCreated)

	rec = do(t, h, http.MethodPost, "/api/v1/cart/b2b/complete", nil)
	expectStatus(t, rec, http.StatusCreated)
	sale := decode(t, rec)["sale"].(map[string]any)
	if sale["status"] != "pending" || sale["total"] != 850.0 {
		t.Fatalf("unexpected wholesale sale %v", sale)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/quotes", nil)
	expectStatus(t, rec, http.StatusOK)
	if q := decode(t, rec)["quotes"].([]any); len(q) != 1 {
		t.Fatalf("expected one quote, got %d", len(q))
	}
}

func TestHoldAndResume(t *testing.T) {
	h := newTestAPI(t)
	itemID := createItem(t, h, "Tea", 5, 10)

	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/cart/pos/lines", map[string]any{"itemId": itemID}), http.StatusOK)
	rec := do(t, h, http.MethodPost, "/api/v1/cart/pos/hold", map[string]any{"note": "table 4"})
	expectStatus(t, rec, http.StatusCreated)
	heldID := decode(t, rec)["id"].(string)

	rec = do(t, h, http.MethodGet, "/api/v1/cart/pos", nil)
	if lines := decode(t, rec)["lines"]; lines != nil && len(lines.([]any)) != 0 {
		t.Fatalf("expected empty cart after hold, got %v", lines)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/held-sales?type=pos", nil)
	expectStatus(t, rec, http.StatusOK)
	if held := decode(t, rec)["heldSales"].([]any); len(held) != 1 {
		t.Fatalf("expected one held sale, got %d", len(held))
	}

	rec = do(t, h, http.MethodPost, "/api/v1/held-sales/"+heldID+"/resume", nil)
	expectStatus(t, rec, http.StatusOK)
	if lines := decode(t, rec)["lines"].([]any); len(lines) != 1 {
		t.Fatalf("expected resumed line, got %d", len(lines))
	}
	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/held-sales/"+heldID+"/resume", nil), http.StatusNotFound)
}

func TestUsersEndpoints(t *testing.T) {
	h := newTestAPI(t)
	input := map[string]any{"name": "Ana", "email": "ana@example.com", "role": "cashier", "password": "long-enough"}

	rec := do(t, h, http.MethodPost, "/api/v1/users", input)
	expectStatus(t, rec, http.StatusCreated)
	if _, leaked := decode(t, rec)["passwordHash"]; leaked {
		t.Fatalf("password hash must not be returned")
	}
	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/users", input), http.StatusConflict)

	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/users/authenticate", map[string]any{"email": "ana@example.com", "password": "long-enough"}), http.StatusOK)
	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/users/authenticate", map[string]any{"email": "ana@example.com", "password": "nope"}), http.StatusUnauthorized)
}

func TestSalesReportExports(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodGet, "/api/v1/reports/sales.csv", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(rec.Body.String(), "sale_number,") {
		t.Fatalf("expected csv header, got %q", rec.Body.String())
	}

	expectStatus(t, do(t, h, http.MethodGet, "/api/v1/reports/sales.xlsx", nil), http.StatusOK)
	expectStatus(t, do(t, h, http.MethodGet, "/api/v1/reports/sales?from=not-a-date", nil), http.StatusBadRequest)
}

func TestAttemptLimiter(t *testing.T) {
	limiter := newAttemptLimiter(2, 0)
	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatalf("expected first two attempts to pass")
	}
	if limiter.Allow("a") {
		t.Fatalf("expected third attempt to be limited")
	}
	if !limiter.Allow("b") {
		t.Fatalf("expected other clients to be unaffected")
	}
}

func TestBranchSwitchClearsCartOfOtherBranchStock(t *testing.T) {
	h := newTestAPI(t)
	itemID := createItem(t, h, "Tea", 5, 10)
	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/cart/pos/lines", map[string]any{"itemId": itemID}), http.StatusOK)

	rec := do(t, h, http.MethodPost, "/api/v1/branches", map[string]any{"name": "North"})
	expectStatus(t, rec, http.StatusCreated)
	northID := decode(t, rec)["id"].(string)
	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/branches/"+northID+"/switch", nil), http.StatusOK)

	rec = do(t, h, http.MethodGet, "/api/v1/cart/pos", nil)
	expectStatus(t, rec, http.StatusOK)
	if lines := decode(t, rec)["lines"]; lines != nil && len(lines.([]any)) != 0 {
		t.Fatalf("expected main branch line to leave the cart, got %v", lines)
	}
	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/cart/pos/complete", nil), http.StatusUnprocessableEntity)
}
