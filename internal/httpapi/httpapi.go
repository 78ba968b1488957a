// Package httpapi exposes the POS core to the terminal screen over a local
// JSON API. Handlers translate requests into calls on the branch context,
// the gateway, the carts and the checkout service; they hold no business
// rules of their own.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"vendify/internal/branch"
	"vendify/internal/cart"
	"vendify/internal/checkout"
	"vendify/internal/domain"
	"vendify/internal/gateway"
	"vendify/internal/notify"
	"vendify/internal/outbox"
	"vendify/internal/receipt"
	"vendify/internal/recommendation"
	"vendify/internal/report"
	"vendify/internal/store"
	"vendify/internal/users"
)

// Deps are the services behind the API. Outbox may be nil.
type Deps struct {
	Branches       *branch.Context
	Gateway        *gateway.Gateway
	Checkout       *checkout.Service
	SaleCart       *cart.SaleCart
	WholesaleCart  *cart.WholesaleCart
	Reports        *report.Builder
	Users          *users.Service
	Reorder        *recommendation.Engine
	Issuer         *receipt.Issuer
	Notices        *notify.Recorder
	Outbox         *outbox.Outbox
	Logger         *zap.Logger
	AllowedOrigin  string
	RequestTimeout time.Duration
}

type API struct {
	Deps
	logger      *zap.Logger
	authLimiter *attemptLimiter
	unsubscribe func()
}

func New(d Deps) *API {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 15 * time.Second
	}
	if d.AllowedOrigin == "" {
		d.AllowedOrigin = "*"
	}
	a := &API{
		Deps:        d,
		logger:      d.Logger.Named("http"),
		authLimiter: newAttemptLimiter(5, time.Minute),
	}
	a.unsubscribe = d.Branches.OnBranchesUpdated(a.onBranchEvent)
	return a
}

// Close detaches the API from branch events.
func (a *API) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}

// onBranchEvent reloads both carts whenever the selection changes so they
// never price or validate against another branch's stock.
func (a *API) onBranchEvent(evt branch.Event) {
	if evt.Kind != branch.BranchChanged {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.RequestTimeout)
	defer cancel()
	a.reloadCarts(ctx)
}

func (a *API) reloadCarts(ctx context.Context) {
	scope := a.Branches.Snapshot()
	a.Checkout.LoadInventory(ctx, a.SaleCart, scope)
	a.Checkout.LoadInventory(ctx, a.WholesaleCart, scope)
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(a.recoverer)
	r.Use(a.securityHeaders)
	r.Use(middleware.Timeout(a.RequestTimeout))

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/branches", func(r chi.Router) {
			r.Get("/", a.handleListBranches)
			r.Post("/", a.handleCreateBranch)
			r.Get("/current", a.handleCurrentBranch)
			r.Post("/view-all", a.handleViewAll)
			r.Patch("/{id}", a.handleUpdateBranch)
			r.Delete("/{id}", a.handleDeleteBranch)
			r.Post("/{id}/switch", a.handleSwitchBranch)
		})

		inventory := records(a, a.Gateway.Inventory)
		inventory.Get("/search", a.handleSearchInventory)
		inventory.Get("/low-stock", a.handleLowStock)
		inventory.Get("/reorder-suggestions", a.handleReorderSuggestions)
		r.Mount("/inventory", inventory)
		r.Mount("/customers", records(a, a.Gateway.Customers))
		r.Mount("/expenses", records(a, a.Gateway.Expenses))
		r.Mount("/orders", records(a, a.Gateway.Orders))
		r.Mount("/suppliers", records(a, a.Gateway.Suppliers))
		r.Mount("/sales", readRecords(a, a.Gateway.Sales))

		r.Get("/dashboard", a.handleDashboard)
		r.Get("/reconciliation", a.handleReconciliation)

		r.Route("/cart/pos", func(r chi.Router) {
			a.cartRoutes(r, a.SaleCart)
			r.Put("/tax", a.handleSetTax)
		})
		r.Route("/cart/b2b", func(r chi.Router) {
			a.cartRoutes(r, a.WholesaleCart)
			r.Put("/customer", a.handleSetCustomer)
			r.Put("/credit-term", a.handleSetCreditTerm)
			r.Post("/quote", a.handleCreateQuote)
		})

		r.Get("/held-sales", a.handleListHeldSales)
		r.Post("/held-sales/{id}/resume", a.handleResumeHeldSale)
		r.Delete("/held-sales/{id}", a.handleDiscardHeldSale)
		r.Get("/quotes", a.handleListQuotes)

		r.Get("/reports/sales", a.handleSalesReport)
		r.Get("/reports/sales.csv", a.handleSalesReportCSV)
		r.Get("/reports/sales.xlsx", a.handleSalesReportXLSX)
		r.Get("/reports/inventory", a.handleInventoryReport)
		r.Get("/reports/inventory.csv", a.handleInventoryReportCSV)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", a.handleListUsers)
			r.Post("/", a.handleCreateUser)
			r.Post("/authenticate", a.handleAuthenticateUser)
			r.Get("/{id}", a.handleGetUser)
			r.Patch("/{id}", a.handleUpdateUser)
			r.Delete("/{id}", a.handleDeleteUser)
		})

		r.Post("/receipts/verify", a.handleVerifyReceipt)
		r.Get("/notifications", a.handleNotifications)
		r.Get("/sync/status", a.handleSyncStatus)
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"mode": a.Gateway.Mode(),
		"at":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	pending := 0
	if a.Outbox != nil {
		n, err := a.Outbox.Pending(r.Context())
		if err != nil {
			a.writeError(w, err)
			return
		}
		pending = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           a.Gateway.Mode(),
		"pendingMirrors": pending,
	})
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	messages := []notify.Message{}
	if a.Notices != nil {
		if r.URL.Query().Get("peek") == "true" {
			messages = a.Notices.Messages()
		} else {
			messages = a.Notices.Drain()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": messages})
}

// scope resolves the branch a request reads from. An explicit branchId
// query parameter overrides the terminal's selection for that request only.
func (a *API) scope(r *http.Request) (domain.BranchScope, error) {
	id := strings.TrimSpace(r.URL.Query().Get("branchId"))
	if id == "" {
		return a.Branches.Snapshot(), nil
	}
	s, ok := a.Branches.ScopeFor(id)
	if !ok {
		return domain.BranchScope{}, errBranchNotFound
	}
	return s, nil
}

// activeBranches counts branches that are not marked inactive.
func (a *API) activeBranches() int {
	n := 0
	for _, b := range a.Branches.GetAllBranches() {
		if b.Status != domain.BranchStatusInactive {
			n++
		}
	}
	return n
}

var errBranchNotFound = errors.New("branch not found")

type errorBody struct {
	Error       string   `json:"error"`
	SaleID      string   `json:"saleId,omitempty"`
	FailedLines []string `json:"failedLines,omitempty"`
}

func statusFor(err error) int {
	var partial *checkout.PartialCompletionError
	switch {
	case errors.As(err, &partial):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound), errors.Is(err, errBranchNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrProtectedEntity):
		return http.StatusForbidden
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, cart.ErrCompletionInProgress),
		errors.Is(err, users.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, domain.ErrValidation), errors.Is(err, store.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrMissingCustomer),
		errors.Is(err, domain.ErrOutOfStock),
		errors.Is(err, domain.ErrStockCeiling),
		errors.Is(err, domain.ErrBelowMinimumOrder),
		errors.Is(err, receipt.ErrInvalidToken):
		return http.StatusUnprocessableEntity
	case errors.Is(err, users.ErrInvalidCredentials), errors.Is(err, users.ErrInactive):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	a.writeStatus(w, statusFor(err), err)
}

// writeStatus hides internal details behind a generic message for 5xx
// responses; 4xx messages are user-facing.
func (a *API) writeStatus(w http.ResponseWriter, status int, err error) {
	body := errorBody{Error: err.Error()}
	if status >= 500 {
		a.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
		body.Error = http.StatusText(status)
	}
	var partial *checkout.PartialCompletionError
	if errors.As(err, &partial) {
		body.SaleID = partial.SaleID
		body.FailedLines = partial.FailedLines
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func parsePositiveInt(raw string, fallback int, max int) int {
	value := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			value = parsed
		}
	}
	if max > 0 && value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(startedAt)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.logger.Error("panic recovered", zap.Any("panic", rec), zap.Stack("stack"))
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: http.StatusText(http.StatusInternalServerError)})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		switch r.Method {
		case http.MethodPost, http.MethodPatch, http.MethodPut:
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// attemptLimiter caps credential checks per client within a sliding window.
type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[key][:0]
	for _, ts := range l.entries[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}
