package cart

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vendify/internal/domain"
	"vendify/internal/notify"
)

var testScope = domain.BranchScope{
	Branch:  domain.Branch{ID: "b-main", Code: "MAIN", Name: "Main", IsCentral: true},
	Central: domain.Branch{ID: "b-main", Code: "MAIN", Name: "Main", IsCentral: true},
}

func catalog() []domain.InventoryItem {
	return []domain.InventoryItem{
		{ID: "widget", Name: "Widget", Price: 100, Cost: 60, Quantity: 5},
		{ID: "gadget", Name: "Gadget", Price: 200, Cost: 120, Quantity: 50},
		{ID: "empty", Name: "Sold Out", Price: 10, Cost: 4, Quantity: 0},
		{ID: "few", Name: "Few Left", Price: 30, Cost: 10, Quantity: 4},
	}
}

func newSaleCart(t *testing.T) (*SaleCart, *notify.Recorder) {
	t.Helper()
	rec := notify.NewRecorder(10, nil)
	c := NewSaleCart(rec)
	c.SetSnapshot(testScope, catalog())
	return c, rec
}

func TestSaleCartTotalsWithPercentDiscountAndTax(t *testing.T) {
	c, _ := newSaleCart(t)
	for range 3 {
		require.NoError(t, c.AddLine("widget"))
	}
	require.NoError(t, c.SetDiscount(10, domain.AdjustPercent))
	require.NoError(t, c.SetTax(5, domain.AdjustPercent))

	got := c.Totals()
	assert.Equal(t, 300.0, got.Subtotal)
	assert.Equal(t, 30.0, got.DiscountAmount)
	assert.Equal(t, 13.5, got.TaxAmount)
	assert.Equal(t, 283.5, got.Total)
	assert.Equal(t, 103.5, got.Profit)

	assert.Equal(t, got, c.Totals(), "totals are stable across calls")
}

func TestSaleCartRejectsOutOfStockWithoutChange(t *testing.T) {
	c, rec := newSaleCart(t)

	err := c.AddLine("empty")
	assert.ErrorIs(t, err, domain.ErrOutOfStock)
	assert.Empty(t, c.Lines())
	assert.Equal(t, PhaseEmpty, c.Phase())

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.Warning, msgs[0].Severity)
}

func TestSaleCartStockCeiling(t *testing.T) {
	c, rec := newSaleCart(t)
	for range 4 {
		require.NoError(t, c.AddLine("few"))
	}

	err := c.AddLine("few")
	assert.ErrorIs(t, err, domain.ErrStockCeiling)
	assert.Equal(t, 4, c.Lines()[0].Quantity)
	assert.Len(t, rec.Messages(), 1)
}

func TestSetQuantityZeroRemovesLine(t *testing.T) {
	c, _ := newSaleCart(t)
	require.NoError(t, c.AddLine("widget"))
	require.NoError(t, c.AddLine("gadget"))
	require.Len(t, c.Lines(), 2)

	require.NoError(t, c.SetQuantity(0, 0))
	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "gadget", lines[0].ItemID)
}

func TestSetQuantityClampsToStock(t *testing.T) {
	c, _ := newSaleCart(t)
	require.NoError(t, c.AddLine("widget"))

	require.NoError(t, c.SetQuantity(0, 99))
	assert.Equal(t, 5, c.Lines()[0].Quantity)

	assert.ErrorIs(t, c.SetQuantity(3, 1), domain.ErrValidation)
}

func TestManualLinesHaveNoCeiling(t *testing.T) {
	c, _ := newSaleCart(t)

	assert.ErrorIs(t, c.AddManualLine("Gift wrap", 0, 1), domain.ErrValidation)
	assert.ErrorIs(t, c.AddManualLine("", 2, 1), domain.ErrValidation)
	require.NoError(t, c.AddManualLine("Gift wrap", 2.5, 2))
	require.NoError(t, c.SetQuantity(0, 500))

	line := c.Lines()[0]
	assert.True(t, line.Manual)
	assert.Equal(t, 500, line.Quantity)
	assert.Equal(t, 1250.0, c.Totals().Total)
}

func TestFixedDiscountIsCappedAtSubtotal(t *testing.T) {
	c, _ := newSaleCart(t)
	require.NoError(t, c.AddLine("widget"))
	require.NoError(t, c.SetDiscount(500, domain.AdjustFixed))

	got := c.Totals()
	assert.Equal(t, 100.0, got.DiscountAmount)
	assert.Zero(t, got.Total)

	assert.ErrorIs(t, c.SetDiscount(120, domain.AdjustPercent), domain.ErrValidation)
	assert.ErrorIs(t, c.SetTax(1, "bogus"), domain.ErrValidation)
}

func TestBuildSaleTotalsInvariant(t *testing.T) {
	c, _ := newSaleCart(t)
	_, err := c.BuildSale()
	assert.ErrorIs(t, err, domain.ErrEmptyCart)

	require.NoError(t, c.AddLine("widget"))
	require.NoError(t, c.AddLine("gadget"))
	require.NoError(t, c.AddManualLine("Service", 19.99, 3))
	require.NoError(t, c.SetDiscount(7.5, domain.AdjustPercent))
	require.NoError(t, c.SetTax(11, domain.AdjustPercent))

	sale, err := c.BuildSale()
	require.NoError(t, err)
	assert.Equal(t, domain.SaleTypePOS, sale.Type)
	assert.Equal(t, domain.SettlementPending, sale.Settlement)
	require.Len(t, sale.Items, 3)
	assert.True(t, sale.Items[2].Manual)

	assert.InDelta(t, sale.Subtotal-sale.DiscountAmount+sale.TaxAmount, sale.Total, 1e-9)
	cost := 0.0
	for _, it := range sale.Items {
		cost += it.Cost * float64(it.Quantity)
	}
	assert.InDelta(t, sale.Total-cost, sale.Profit, 0.005)
	assert.Equal(t, sale.Total, math.Round(sale.Total*100)/100)
}

func TestBeginFinishAndFailTransitions(t *testing.T) {
	c, _ := newSaleCart(t)
	assert.ErrorIs(t, c.Begin(), domain.ErrEmptyCart)

	require.NoError(t, c.AddLine("widget"))
	require.NoError(t, c.SetTax(5, domain.AdjustPercent))
	require.NoError(t, c.Begin())
	assert.Equal(t, PhaseCompleting, c.Phase())
	assert.ErrorIs(t, c.Begin(), ErrCompletionInProgress)
	assert.ErrorIs(t, c.AddLine("widget"), ErrCompletionInProgress)

	c.Fail()
	assert.Equal(t, PhaseFailed, c.Phase())
	assert.Len(t, c.Lines(), 1, "a failed completion keeps the cart")

	require.NoError(t, c.Begin())
	c.Finish()
	assert.Equal(t, PhaseCompleted, c.Phase())
	assert.Empty(t, c.Lines())
	assert.Zero(t, c.View().Tax.Value)
}

func TestSnapshotRefreshUpdatesCeilings(t *testing.T) {
	c, _ := newSaleCart(t)
	require.NoError(t, c.AddLine("widget"))

	items := catalog()
	items[0].Quantity = 1
	c.SetSnapshot(testScope, items)

	assert.Equal(t, 1, c.Lines()[0].MaxStock)
	assert.ErrorIs(t, c.AddLine("widget"), domain.ErrStockCeiling)
}

func TestHoldAndRestoreSaleCart(t *testing.T) {
	c, _ := newSaleCart(t)
	require.NoError(t, c.AddLine("widget"))
	require.NoError(t, c.AddLine("widget"))
	require.NoError(t, c.SetDiscount(5, domain.AdjustFixed))

	held, err := c.Hold("customer went to ATM")
	require.NoError(t, err)
	before := c.Totals()
	require.NoError(t, c.Clear())
	assert.Empty(t, c.Lines())

	require.NoError(t, c.Restore(held))
	assert.Equal(t, before, c.Totals())
	assert.Equal(t, 5, c.Lines()[0].MaxStock)
}

func newWholesaleCart(t *testing.T) (*WholesaleCart, *notify.Recorder) {
	t.Helper()
	rec := notify.NewRecorder(10, nil)
	c := NewWholesaleCart(DefaultWholesalePolicy(), rec)
	c.SetSnapshot(testScope, catalog())
	return c, rec
}

func TestWholesalePricingAndCreditTerms(t *testing.T) {
	c, _ := newWholesaleCart(t)
	now := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.AddLine("gadget"))
	line := c.Lines()[0]
	assert.Equal(t, 170.0, line.Price)
	assert.Equal(t, 10, line.Quantity)

	_, err := c.BuildSale()
	assert.ErrorIs(t, err, domain.ErrMissingCustomer)

	require.NoError(t, c.SetCustomer(domain.Customer{ID: "c1", Name: "Acme"}))
	require.NoError(t, c.SetCreditTerm(TermNet30))

	sale, err := c.BuildSale()
	require.NoError(t, err)
	assert.Equal(t, domain.SaleTypeB2B, sale.Type)
	assert.Equal(t, domain.SaleStatusPending, sale.Status)
	assert.Equal(t, "c1", sale.CustomerID)
	require.NotNil(t, sale.DueDate)
	assert.Equal(t, now.AddDate(0, 0, 30), *sale.DueDate)
	assert.Zero(t, sale.TaxAmount)
	assert.Equal(t, 1700.0, sale.Total)
	assert.Equal(t, 500.0, sale.Profit)

	require.NoError(t, c.SetCreditTerm(TermImmediate))
	sale, err = c.BuildSale()
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCompleted, sale.Status)
	assert.Nil(t, sale.DueDate)

	assert.ErrorIs(t, c.SetCreditTerm("net45"), domain.ErrValidation)
}

func TestWholesaleMinimumOrderQuantity(t *testing.T) {
	c, rec := newWholesaleCart(t)

	err := c.AddLine("widget")
	assert.ErrorIs(t, err, domain.ErrBelowMinimumOrder)
	assert.Empty(t, c.Lines())
	assert.Len(t, rec.Messages(), 1)

	require.NoError(t, c.AddLine("gadget"))
	require.NoError(t, c.SetQuantity(0, 3))
	assert.Equal(t, 10, c.Lines()[0].Quantity, "clamped up to the minimum")
	require.NoError(t, c.SetQuantity(0, 80))
	assert.Equal(t, 50, c.Lines()[0].Quantity, "clamped down to stock")
	require.NoError(t, c.SetQuantity(0, -1))
	assert.Empty(t, c.Lines())
}

func TestWholesalePolicyIsConfigurable(t *testing.T) {
	c := NewWholesaleCart(WholesalePolicy{DiscountPercent: 20, MinOrderQty: 2}, nil)
	c.SetSnapshot(testScope, catalog())

	require.NoError(t, c.AddLine("widget"))
	line := c.Lines()[0]
	assert.Equal(t, 80.0, line.Price)
	assert.Equal(t, 2, line.Quantity)
}

func TestWholesaleQuoteAndReset(t *testing.T) {
	c, _ := newWholesaleCart(t)
	require.NoError(t, c.AddLine("gadget"))
	require.NoError(t, c.SetCustomer(domain.Customer{ID: "c9", Name: "Shop"}))
	require.NoError(t, c.SetDiscount(100, domain.AdjustFixed))

	until := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	q, err := c.BuildQuote(until)
	require.NoError(t, err)
	assert.Equal(t, 1600.0, q.Total)
	assert.Equal(t, until, q.ValidUntil)

	require.NoError(t, c.Begin())
	c.Finish()
	_, ok := c.Customer()
	assert.False(t, ok)
	assert.Equal(t, TermImmediate, c.View().CreditTerm)
}

func TestSoldOutLineLeavesTheCart(t *testing.T) {
	c, rec := newSaleCart(t)
	require.NoError(t, c.AddLine("widget"))
	require.NoError(t, c.AddLine("gadget"))

	items := catalog()
	items[0].Quantity = 0
	c.SetSnapshot(testScope, items)

	require.Len(t, c.Lines(), 1)
	assert.Equal(t, "gadget", c.Lines()[0].ItemID)
	assert.True(t, notified(rec, "Widget is out of stock"))

	assert.ErrorIs(t, c.SetQuantity(1, 500), domain.ErrValidation)
	require.NoError(t, c.SetQuantity(0, 500))
	assert.Equal(t, 50, c.Lines()[0].Quantity)
}

func TestSnapshotShrinksLinesToStock(t *testing.T) {
	c, _ := newSaleCart(t)
	for range 4 {
		require.NoError(t, c.AddLine("widget"))
	}

	items := catalog()
	items[0].Quantity = 2
	c.SetSnapshot(testScope, items)

	line := c.Lines()[0]
	assert.Equal(t, 2, line.Quantity)
	assert.Equal(t, 2, line.MaxStock)
	assert.Equal(t, PhaseBuilding, c.Phase())
}

func TestBranchSwitchDropsLinesOfTheOldBranch(t *testing.T) {
	c, rec := newSaleCart(t)
	require.NoError(t, c.AddLine("widget"))
	require.NoError(t, c.AddManualLine("Delivery", 5, 1))

	other := domain.BranchScope{
		Branch:  domain.Branch{ID: "b-two", Code: "BR002", Name: "Two"},
		Central: testScope.Central,
	}
	c.SetSnapshot(other, []domain.InventoryItem{{ID: "widget-two", Name: "Widget", Price: 100, Quantity: 9}})

	require.Len(t, c.Lines(), 1)
	assert.True(t, c.Lines()[0].Manual)
	assert.Equal(t, "b-two", c.Scope().Branch.ID)
	assert.True(t, notified(rec, "Widget is not available"))
}

func TestRestoreDropsItemsNoLongerStocked(t *testing.T) {
	c, _ := newSaleCart(t)
	held := domain.HeldSale{
		Type: domain.SaleTypePOS,
		Items: []domain.LineItem{
			{ID: "widget", Name: "Widget", Price: 100, Quantity: 9},
			{ID: "retired", Name: "Retired", Price: 3, Quantity: 1},
		},
	}

	require.NoError(t, c.Restore(held))
	require.Len(t, c.Lines(), 1)
	assert.Equal(t, 5, c.Lines()[0].Quantity, "restored quantity bounded by stock")
	assert.Equal(t, 5, c.Lines()[0].MaxStock)
}

func notified(rec *notify.Recorder, prefix string) bool {
	for _, m := range rec.Messages() {
		if strings.HasPrefix(m.Text, prefix) {
			return true
		}
	}
	return false
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 3, clamp(3, 1, 5))
	assert.Equal(t, 1, clamp(0, 1, 5))
	assert.Equal(t, 5, clamp(9, 1, 5))
	assert.Equal(t, 4, clamp(3, 10, 4), "ceiling wins over the floor")
}
