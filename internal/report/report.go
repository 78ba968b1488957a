// Package report builds sales summaries and inventory valuations for a
// branch scope and exports them as CSV or XLSX.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"vendify/internal/domain"
	"vendify/internal/gateway"
)

const dateLayout = "2006-01-02"

type MethodTotal struct {
	Method string  `json:"method"`
	Count  int     `json:"count"`
	Total  float64 `json:"total"`
}

type ItemTotal struct {
	ItemID   string  `json:"itemId"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Revenue  float64 `json:"revenue"`
}

type SalesSummary struct {
	From            time.Time     `json:"from"`
	To              time.Time     `json:"to"`
	SalesCount      int           `json:"salesCount"`
	Revenue         float64       `json:"revenue"`
	Discounts       float64       `json:"discounts"`
	Tax             float64       `json:"tax"`
	Profit          float64       `json:"profit"`
	AverageSale     float64       `json:"averageSale"`
	ByPaymentMethod []MethodTotal `json:"byPaymentMethod"`
	TopItems        []ItemTotal   `json:"topItems"`
	Sales           []domain.Sale `json:"-"`
}

type ValuationRow struct {
	ItemID      string  `json:"itemId"`
	Name        string  `json:"name"`
	SKU         string  `json:"sku,omitempty"`
	Category    string  `json:"category,omitempty"`
	BranchCode  string  `json:"branchCode,omitempty"`
	Quantity    int     `json:"quantity"`
	Cost        float64 `json:"cost"`
	Price       float64 `json:"price"`
	CostValue   float64 `json:"costValue"`
	RetailValue float64 `json:"retailValue"`
}

type InventoryValuation struct {
	GeneratedAt time.Time      `json:"generatedAt"`
	ItemCount   int            `json:"itemCount"`
	TotalUnits  int            `json:"totalUnits"`
	CostValue   float64        `json:"costValue"`
	RetailValue float64        `json:"retailValue"`
	Rows        []ValuationRow `json:"rows"`
}

type Builder struct {
	gw  *gateway.Gateway
	now func() time.Time
}

func NewBuilder(gw *gateway.Gateway) *Builder {
	return &Builder{gw: gw, now: time.Now}
}

// ParseRange reads yyyy-mm-dd bounds. Missing bounds default to today; the
// upper bound covers the whole day.
func ParseRange(from string, to string, now time.Time) (time.Time, time.Time, error) {
	today := domain.StartOfDay(now)
	start, end := today, today

	if s := strings.TrimSpace(from); s != "" {
		parsed, err := time.Parse(dateLayout, s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid from date %q", domain.ErrValidation, s)
		}
		start = parsed
		end = parsed
	}
	if s := strings.TrimSpace(to); s != "" {
		parsed, err := time.Parse(dateLayout, s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid to date %q", domain.ErrValidation, s)
		}
		end = parsed
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date range ends before it starts", domain.ErrValidation)
	}
	return start, end.Add(24*time.Hour - time.Nanosecond), nil
}

// SalesSummary aggregates settled and pending sales in [from, to]. Sales
// flagged for reconciliation are left out of the totals.
func (b *Builder) SalesSummary(ctx context.Context, scope domain.BranchScope, from time.Time, to time.Time, topN int) (SalesSummary, error) {
	if topN <= 0 {
		topN = 10
	}
	sales, err := b.gw.Sales().Find(ctx, scope, gateway.Filters{From: from, To: to})
	if err != nil {
		return SalesSummary{}, fmt.Errorf("load sales: %w", err)
	}

	summary := SalesSummary{From: from, To: to}
	var revenue, discounts, tax, profit decimal.Decimal
	methods := map[string]*MethodTotal{}
	items := map[string]*ItemTotal{}

	for _, sale := range sales {
		if sale.Status == domain.SaleStatusNeedsReconciliation {
			continue
		}
		summary.Sales = append(summary.Sales, sale)
		summary.SalesCount++
		total := decimal.NewFromFloat(sale.Total)
		revenue = revenue.Add(total)
		discounts = discounts.Add(decimal.NewFromFloat(sale.DiscountAmount))
		tax = tax.Add(decimal.NewFromFloat(sale.TaxAmount))
		profit = profit.Add(decimal.NewFromFloat(sale.Profit))

		method := strings.ToLower(strings.TrimSpace(sale.PaymentMethod))
		if method == "" {
			method = "unknown"
		}
		mt, ok := methods[method]
		if !ok {
			mt = &MethodTotal{Method: method}
			methods[method] = mt
		}
		mt.Count++
		mt.Total = money(decimal.NewFromFloat(mt.Total).Add(total))

		for _, line := range sale.Items {
			key := line.ID
			if line.Manual || key == "" {
				key = "manual:" + line.Name
			}
			it, ok := items[key]
			if !ok {
				it = &ItemTotal{ItemID: line.ID, Name: line.Name}
				items[key] = it
			}
			it.Quantity += line.Quantity
			it.Revenue = money(decimal.NewFromFloat(it.Revenue).Add(decimal.NewFromFloat(line.Total)))
		}
	}

	summary.Revenue = money(revenue)
	summary.Discounts = money(discounts)
	summary.Tax = money(tax)
	summary.Profit = money(profit)
	if summary.SalesCount > 0 {
		summary.AverageSale = money(revenue.Div(decimal.NewFromInt(int64(summary.SalesCount))))
	}

	summary.ByPaymentMethod = make([]MethodTotal, 0, len(methods))
	for _, mt := range methods {
		summary.ByPaymentMethod = append(summary.ByPaymentMethod, *mt)
	}
	sort.Slice(summary.ByPaymentMethod, func(i, j int) bool {
		if summary.ByPaymentMethod[i].Total == summary.ByPaymentMethod[j].Total {
			return summary.ByPaymentMethod[i].Method < summary.ByPaymentMethod[j].Method
		}
		return summary.ByPaymentMethod[i].Total > summary.ByPaymentMethod[j].Total
	})

	summary.TopItems = make([]ItemTotal, 0, len(items))
	for _, it := range items {
		summary.TopItems = append(summary.TopItems, *it)
	}
	sort.Slice(summary.TopItems, func(i, j int) bool {
		if summary.TopItems[i].Quantity == summary.TopItems[j].Quantity {
			return summary.TopItems[i].Name < summary.TopItems[j].Name
		}
		return summary.TopItems[i].Quantity > summary.TopItems[j].Quantity
	})
	if len(summary.TopItems) > topN {
		summary.TopItems = summary.TopItems[:topN]
	}
	return summary, nil
}

// InventoryValuation values on-hand stock at cost and at retail.
func (b *Builder) InventoryValuation(ctx context.Context, scope domain.BranchScope) (InventoryValuation, error) {
	inventory, err := b.gw.Inventory().Find(ctx, scope, gateway.Filters{})
	if err != nil {
		return InventoryValuation{}, fmt.Errorf("load inventory: %w", err)
	}

	v := InventoryValuation{GeneratedAt: b.now().UTC(), Rows: make([]ValuationRow, 0, len(inventory))}
	var costTotal, retailTotal decimal.Decimal
	for _, item := range inventory {
		qty := decimal.NewFromInt(int64(max(item.Quantity, 0)))
		costValue := decimal.NewFromFloat(item.Cost).Mul(qty)
		retailValue := decimal.NewFromFloat(item.Price).Mul(qty)
		costTotal = costTotal.Add(costValue)
		retailTotal = retailTotal.Add(retailValue)

		v.ItemCount++
		v.TotalUnits += max(item.Quantity, 0)
		v.Rows = append(v.Rows, ValuationRow{
			ItemID:      item.ID,
			Name:        item.Name,
			SKU:         item.SKU,
			Category:    item.Category,
			BranchCode:  item.BranchCode,
			Quantity:    item.Quantity,
			Cost:        item.Cost,
			Price:       item.Price,
			CostValue:   money(costValue),
			RetailValue: money(retailValue),
		})
	}
	sort.Slice(v.Rows, func(i, j int) bool {
		if v.Rows[i].RetailValue == v.Rows[j].RetailValue {
			return v.Rows[i].Name < v.Rows[j].Name
		}
		return v.Rows[i].RetailValue > v.Rows[j].RetailValue
	})
	v.CostValue = money(costTotal)
	v.RetailValue = money(retailTotal)
	return v, nil
}

func money(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}
