package gateway

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vendify/internal/cache"
	"vendify/internal/domain"
)

// GetDashboardStats derives the dashboard aggregates from five concurrent
// reads. If any read fails the result is all zeros with Degraded set, so
// callers can tell a failed fetch from an empty branch.
func (g *Gateway) GetDashboardStats(ctx context.Context, scope domain.BranchScope, activeBranches int) domain.DashboardStats {
	now := g.now()
	scopeID := scope.Branch.ID
	if scope.All() || scopeID == "" {
		scopeID = domain.AllBranchesID
	}
	key := cache.StatsKey(scopeID, now)
	if cached, ok, err := g.cache.Get(ctx, key); err == nil && ok {
		cached.ActiveBranches = activeBranches
		return *cached
	}

	today := Filters{From: domain.StartOfDay(now), To: now}

	var (
		sales     []domain.Sale
		expenses  []domain.Expense
		customers []domain.Customer
		inventory []domain.InventoryItem
		pending   []domain.Sale
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		sales, err = g.Sales().Find(egCtx, scope, today)
		return err
	})
	eg.Go(func() (err error) {
		expenses, err = g.Expenses().Find(egCtx, scope, today)
		return err
	})
	eg.Go(func() (err error) {
		customers, err = g.Customers().Find(egCtx, scope, Filters{})
		return err
	})
	eg.Go(func() (err error) {
		inventory, err = g.Inventory().Find(egCtx, scope, Filters{})
		return err
	})
	eg.Go(func() (err error) {
		pending, err = g.Sales().Find(egCtx, scope, Filters{Where: map[string]string{"status": domain.SaleStatusPending}})
		return err
	})
	if err := eg.Wait(); err != nil {
		g.logger.Warn("dashboard aggregation failed", zap.String("branch_id", scopeID), zap.Error(err))
		return domain.DashboardStats{Degraded: true, Error: "dashboard data is temporarily unavailable"}
	}

	stats := domain.DashboardStats{
		ActiveBranches: activeBranches,
		TotalCustomers: len(customers),
	}
	for _, s := range sales {
		// Flagged sales had their stock decrements reversed.
		if s.Status == domain.SaleStatusNeedsReconciliation {
			continue
		}
		stats.SalesCount++
		stats.TotalRevenue += s.Total
		stats.GrossProfit += s.Profit
	}
	for _, e := range expenses {
		stats.TotalExpenses += e.Amount
	}
	stats.NetProfit = stats.TotalRevenue - stats.TotalExpenses
	for _, item := range inventory {
		stats.InventoryValue += float64(item.Quantity) * item.Price
		if item.Quantity <= 0 {
			stats.OutOfStock++
		} else if item.Quantity <= item.ReorderLevel {
			stats.LowStock++
		}
	}
	for _, s := range pending {
		if s.Type == domain.SaleTypeB2B {
			stats.PendingOrders++
		}
	}
	stats.TotalRevenue = roundCents(stats.TotalRevenue)
	stats.TotalExpenses = roundCents(stats.TotalExpenses)
	stats.NetProfit = roundCents(stats.NetProfit)
	stats.GrossProfit = roundCents(stats.GrossProfit)
	stats.InventoryValue = roundCents(stats.InventoryValue)

	if err := g.cache.Set(ctx, key, &stats, g.cacheTTL); err != nil {
		g.logger.Warn("failed to cache dashboard stats", zap.Error(err))
	}
	return stats
}

// Reconcile reports records left inconsistent by interrupted completions.
func (g *Gateway) Reconcile(ctx context.Context, scope domain.BranchScope) (domain.ReconciliationReport, error) {
	report := domain.ReconciliationReport{CheckedAt: g.now().UTC()}

	inventory, err := g.Inventory().Find(ctx, scope, Filters{})
	if err != nil {
		return report, err
	}
	for _, item := range inventory {
		if item.Quantity < 0 {
			report.NegativeStock = append(report.NegativeStock, item)
		}
	}

	unsettled, err := g.Sales().Find(ctx, scope, Filters{Where: map[string]string{"status": domain.SaleStatusNeedsReconciliation}})
	if err != nil {
		return report, err
	}
	report.UnsettledSales = unsettled

	if !report.Clean() {
		g.logger.Warn("reconciliation found inconsistencies",
			zap.Int("negative_stock", len(report.NegativeStock)),
			zap.Int("unsettled_sales", len(report.UnsettledSales)),
		)
	}
	return report, nil
}

// LowStock lists items at or below their reorder level.
func (g *Gateway) LowStock(ctx context.Context, scope domain.BranchScope) []domain.InventoryItem {
	items := g.Inventory().List(ctx, scope, Filters{})
	out := make([]domain.InventoryItem, 0)
	for _, item := range items {
		if item.Quantity <= item.ReorderLevel {
			out = append(out, item)
		}
	}
	return out
}

// SearchInventory matches name, sku or category case-insensitively.
func (g *Gateway) SearchInventory(ctx context.Context, scope domain.BranchScope, term string) []domain.InventoryItem {
	items := g.Inventory().List(ctx, scope, Filters{})
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return items
	}
	out := make([]domain.InventoryItem, 0)
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.Name), term) ||
			strings.Contains(strings.ToLower(item.SKU), term) ||
			strings.Contains(strings.ToLower(item.Category), term) {
			out = append(out, item)
		}
	}
	return out
}

// Page is one slice of a list result.
type Page[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
}

// Paginate slices rows into 1-based pages. Out-of-range pages are empty.
func Paginate[T any](rows []T, page int, pageSize int) Page[T] {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	p := Page[T]{Items: []T{}, Page: page, PageSize: pageSize, Total: len(rows)}
	start := (page - 1) * pageSize
	if start >= len(rows) {
		return p
	}
	end := min(start+pageSize, len(rows))
	p.Items = rows[start:end]
	return p
}

func roundCents(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
