package recommendation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vendify/internal/domain"
	"vendify/internal/gateway"
	"vendify/internal/store/memory"
)

func TestSuggest(t *testing.T) {
	central := domain.Branch{ID: "b-main", Code: "MAIN", Name: "Main", IsCentral: true}
	north := domain.Branch{ID: "b-north", Code: "BR002", Name: "North"}
	mainScope := domain.BranchScope{Branch: central, Central: central}
	northScope := domain.BranchScope{Branch: north, Central: central}

	gw := gateway.New(memory.New(), gateway.Options{})
	ctx := context.Background()
	seed := func(scope domain.BranchScope, item domain.InventoryItem) domain.InventoryItem {
		created, err := gw.Inventory().Create(ctx, scope, item)
		require.NoError(t, err)
		return created
	}
	sell := func(item domain.InventoryItem, qty int, status string, at time.Time) {
		_, err := gw.Sales().Create(ctx, mainScope, domain.Sale{
			Type:      domain.SaleTypePOS,
			Items:     []domain.LineItem{{ID: item.ID, Name: item.Name, Price: 1, Quantity: qty, Total: float64(qty)}},
			Total:     float64(qty),
			Status:    status,
			CreatedAt: at,
		})
		require.NoError(t, err)
	}

	milk := seed(mainScope, domain.InventoryItem{Name: "Milk", Quantity: 0, ReorderLevel: 5})
	seed(mainScope, domain.InventoryItem{Name: "Bread", Quantity: 4, ReorderLevel: 5})
	rice := seed(mainScope, domain.InventoryItem{Name: "Rice", Quantity: 10, ReorderLevel: 2})
	soap := seed(mainScope, domain.InventoryItem{Name: "Soap", Quantity: 50, ReorderLevel: 5})
	seed(mainScope, domain.InventoryItem{Name: "Dust", Quantity: 3})
	seed(northScope, domain.InventoryItem{Name: "Salt", Quantity: 0, ReorderLevel: 3})

	now := time.Now().UTC()
	sell(milk, 40, domain.SaleStatusCompleted, now.Add(-48*time.Hour))
	sell(milk, 20, domain.SaleStatusCompleted, now.Add(-time.Hour))
	sell(milk, 90, domain.SaleStatusCompleted, now.AddDate(0, 0, -45))
	sell(rice, 45, domain.SaleStatusCompleted, now.Add(-72*time.Hour))
	sell(rice, 300, domain.SaleStatusNeedsReconciliation, now.Add(-time.Hour))
	sell(soap, 30, domain.SaleStatusCompleted, now.Add(-time.Hour))

	e := NewEngine(gw, 7, 30)
	got, err := e.Suggest(ctx, mainScope)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "Milk", got[0].Name)
	assert.Equal(t, ReasonOutOfStock, got[0].Reason)
	assert.Equal(t, 60, got[0].SuggestedQty)
	assert.Equal(t, 2.0, got[0].DailyVelocity, "sales older than the window are ignored")

	assert.Equal(t, "Bread", got[1].Name)
	assert.Equal(t, ReasonBelowLevel, got[1].Reason)
	assert.Equal(t, 6, got[1].SuggestedQty)

	assert.Equal(t, "Rice", got[2].Name)
	assert.Equal(t, ReasonLowCover, got[2].Reason)
	assert.Equal(t, 35, got[2].SuggestedQty)
	assert.Equal(t, 6.67, got[2].DaysOfCover, "flagged sales are ignored")

	all, err := e.Suggest(ctx, domain.BranchScope{Branch: domain.AllBranches(), Central: central})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSuggestWithoutSalesUsesReorderLevel(t *testing.T) {
	central := domain.Branch{ID: "b-main", Code: "MAIN", Name: "Main", IsCentral: true}
	scope := domain.BranchScope{Branch: central, Central: central}
	gw := gateway.New(memory.New(), gateway.Options{})

	_, err := gw.Inventory().Create(context.Background(), scope, domain.InventoryItem{Name: "Tea", Quantity: 1, ReorderLevel: 2})
	require.NoError(t, err)

	got, err := NewEngine(gw, 7, 30).Suggest(context.Background(), scope)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.0, got[0].DailyVelocity)
	assert.Equal(t, 3, got[0].SuggestedQty)
}
