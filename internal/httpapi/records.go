package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vendify/internal/domain"
	"vendify/internal/gateway"
	"vendify/internal/report"
	"vendify/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// records mounts list/create/get/update/delete for one collection.
func records[T any](a *API, col func() *gateway.Collection[T]) chi.Router {
	r := readRecords(a, col)
	r.Post("/", func(w http.ResponseWriter, req *http.Request) {
		scope, err := a.scope(req)
		if err != nil {
			a.writeError(w, err)
			return
		}
		var rec T
		if err := decodeJSON(req, &rec); err != nil {
			a.writeError(w, err)
			return
		}
		c := col()
		created, err := c.Create(req.Context(), scope, rec)
		if err != nil {
			a.writeError(w, err)
			return
		}
		a.afterWrite(req.Context(), scope, c.Name())
		writeJSON(w, http.StatusCreated, created)
	})
	r.Delete("/{id}", func(w http.ResponseWriter, req *http.Request) {
		scope, err := a.scope(req)
		if err != nil {
			a.writeError(w, err)
			return
		}
		c := col()
		if err := c.Delete(req.Context(), scope, chi.URLParam(req, "id")); err != nil {
			a.writeError(w, err)
			return
		}
		a.afterWrite(req.Context(), scope, c.Name())
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	return r
}

// readRecords mounts list/get/update only. Sales use it: they are created by
// checkout, never posted directly.
func readRecords[T any](a *API, col func() *gateway.Collection[T]) chi.Router {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		scope, err := a.scope(req)
		if err != nil {
			a.writeError(w, err)
			return
		}
		f, err := listFilters(req)
		if err != nil {
			a.writeError(w, err)
			return
		}
		rows := col().List(req.Context(), scope, f)
		q := req.URL.Query()
		page := parsePositiveInt(q.Get("page"), 1, 0)
		size := parsePositiveInt(q.Get("pageSize"), defaultPageSize, maxPageSize)
		writeJSON(w, http.StatusOK, gateway.Paginate(rows, page, size))
	})
	r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
		rec, err := col().Get(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})
	r.Patch("/{id}", func(w http.ResponseWriter, req *http.Request) {
		scope, err := a.scope(req)
		if err != nil {
			a.writeError(w, err)
			return
		}
		var patch map[string]any
		if err := decodeJSON(req, &patch); err != nil {
			a.writeError(w, err)
			return
		}
		delete(patch, "version")
		c := col()
		updated, err := c.Update(req.Context(), scope, chi.URLParam(req, "id"), patch)
		if err != nil {
			a.writeError(w, err)
			return
		}
		a.afterWrite(req.Context(), scope, c.Name())
		writeJSON(w, http.StatusOK, updated)
	})
	return r
}

// listFilters reads from/to (yyyy-mm-dd) and exact-match field filters of
// the form field=value for the fields in filterable.
func listFilters(r *http.Request) (gateway.Filters, error) {
	q := r.URL.Query()
	f := gateway.Filters{}
	from, to := q.Get("from"), q.Get("to")
	if from != "" || to != "" {
		start, end, err := report.ParseRange(from, to, time.Now())
		if err != nil {
			return gateway.Filters{}, err
		}
		f.From, f.To = start, end
	}
	for _, field := range filterable {
		if v := strings.TrimSpace(q.Get(field)); v != "" {
			if f.Where == nil {
				f.Where = map[string]string{}
			}
			f.Where[field] = v
		}
	}
	return f, nil
}

var filterable = []string{"status", "type", "category", "customerId", "settlement"}

// afterWrite drops cached aggregates for the written branch and refreshes
// the carts when stock may have changed.
func (a *API) afterWrite(ctx context.Context, scope domain.BranchScope, collection string) {
	a.Gateway.InvalidateStats(ctx, scope.Tag().BranchID)
	if collection == store.Inventory {
		a.reloadCarts(ctx)
	}
}

func (a *API) handleSearchInventory(w http.ResponseWriter, r *http.Request) {
	scope, err := a.scope(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	items := a.Gateway.SearchInventory(r.Context(), scope, r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	scope, err := a.scope(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": a.Gateway.LowStock(r.Context(), scope)})
}

func (a *API) handleReorderSuggestions(w http.ResponseWriter, r *http.Request) {
	scope, err := a.scope(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	suggestions, err := a.Reorder.Suggest(r.Context(), scope)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	scope, err := a.scope(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Gateway.GetDashboardStats(r.Context(), scope, a.activeBranches()))
}

func (a *API) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	scope, err := a.scope(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	rep, err := a.Checkout.Reconcile(r.Context(), scope)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clean": rep.Clean(), "report": rep})
}
