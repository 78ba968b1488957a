// Package recommendation derives reorder suggestions from stock levels and
// recent sales velocity.
package recommendation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"vendify/internal/domain"
	"vendify/internal/gateway"
)

const (
	ReasonOutOfStock   = "out_of_stock"
	ReasonBelowLevel   = "below_reorder_level"
	ReasonLowCover     = "low_cover"
	velocityWindowDays = 30
)

type Engine struct {
	gw        *gateway.Gateway
	leadDays  int
	coverDays int
	now       func() time.Time
}

// NewEngine returns an engine that reorders when stock will not last
// leadDays and tops items up to coverDays of sales.
func NewEngine(gw *gateway.Gateway, leadDays int, coverDays int) *Engine {
	if leadDays <= 0 {
		leadDays = 7
	}
	if coverDays <= 0 {
		coverDays = 30
	}
	return &Engine{gw: gw, leadDays: leadDays, coverDays: coverDays, now: time.Now}
}

func (e *Engine) Suggest(ctx context.Context, scope domain.BranchScope) ([]domain.ReorderSuggestion, error) {
	items, err := e.gw.Inventory().Find(ctx, scope, gateway.Filters{})
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	sold, err := e.unitsSold(ctx, scope)
	if err != nil {
		return nil, err
	}

	suggestions := make([]domain.ReorderSuggestion, 0, 16)
	for _, item := range items {
		if s, ok := e.evaluate(item, sold[item.ID]); ok {
			suggestions = append(suggestions, s)
		}
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Quantity == suggestions[j].Quantity {
			return suggestions[i].SuggestedQty > suggestions[j].SuggestedQty
		}
		return suggestions[i].Quantity < suggestions[j].Quantity
	})
	return suggestions, nil
}

// unitsSold totals catalog units per item over the velocity window.
// Sales flagged for reconciliation had their stock restored and do not count.
func (e *Engine) unitsSold(ctx context.Context, scope domain.BranchScope) (map[string]int, error) {
	now := e.now()
	sales, err := e.gw.Sales().Find(ctx, scope, gateway.Filters{
		From: now.AddDate(0, 0, -velocityWindowDays),
		To:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("load sales: %w", err)
	}

	sold := make(map[string]int)
	for _, sale := range sales {
		if sale.Status == domain.SaleStatusNeedsReconciliation {
			continue
		}
		for _, line := range sale.Items {
			if line.Manual || line.ID == "" {
				continue
			}
			sold[line.ID] += line.Quantity
		}
	}
	return sold, nil
}

func (e *Engine) evaluate(item domain.InventoryItem, sold int) (domain.ReorderSuggestion, bool) {
	velocity := float64(max(sold, 0)) / velocityWindowDays
	reorderPoint := max(item.ReorderLevel, int(math.Ceil(velocity*float64(e.leadDays))))
	if reorderPoint == 0 && item.Quantity > 0 {
		return domain.ReorderSuggestion{}, false
	}
	if item.Quantity > reorderPoint {
		return domain.ReorderSuggestion{}, false
	}

	target := max(reorderPoint*2, int(math.Ceil(velocity*float64(e.coverDays))))
	suggested := target - max(item.Quantity, 0)
	if suggested < 1 {
		return domain.ReorderSuggestion{}, false
	}

	cover := 0.0
	if velocity > 0 && item.Quantity > 0 {
		cover = round2(float64(item.Quantity) / velocity)
	}

	reason := ReasonLowCover
	switch {
	case item.Quantity <= 0:
		reason = ReasonOutOfStock
	case item.Quantity <= item.ReorderLevel:
		reason = ReasonBelowLevel
	}

	return domain.ReorderSuggestion{
		ItemID:        item.ID,
		Name:          item.Name,
		SKU:           item.SKU,
		Quantity:      item.Quantity,
		ReorderLevel:  item.ReorderLevel,
		DailyVelocity: round2(velocity),
		DaysOfCover:   cover,
		SuggestedQty:  suggested,
		Reason:        reason,
	}, true
}

func round2(val float64) float64 {
	return math.Round(val*100) / 100
}
