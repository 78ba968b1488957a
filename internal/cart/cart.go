// Package cart holds the in-progress POS and wholesale transactions of a
// terminal session. Carts only mutate memory; persisting a completed cart is
// the job of the checkout service.
package cart

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"vendify/internal/domain"
	"vendify/internal/notify"
	"vendify/internal/xid"
)

type Phase string

const (
	PhaseEmpty      Phase = "empty"
	PhaseBuilding   Phase = "building"
	PhaseCompleting Phase = "completing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

var ErrCompletionInProgress = errors.New("sale completion already in progress")

const (
	PaymentCash   = "cash"
	defaultMethod = PaymentCash
)

// Line is one cart entry. MaxStock is the on-hand quantity seen in the
// inventory snapshot; zero on manual lines means unbounded.
type Line struct {
	ItemID   string  `json:"itemId"`
	Name     string  `json:"name"`
	SKU      string  `json:"sku,omitempty"`
	Price    float64 `json:"price"`
	Cost     float64 `json:"cost"`
	Quantity int     `json:"quantity"`
	MaxStock int     `json:"maxStock"`
	Manual   bool    `json:"manual,omitempty"`
}

type Totals struct {
	Subtotal       float64 `json:"subtotal"`
	DiscountAmount float64 `json:"discountAmount"`
	TaxAmount      float64 `json:"taxAmount"`
	Total          float64 `json:"total"`
	Profit         float64 `json:"profit"`
}

// Modifier is a discount or tax setting.
type Modifier struct {
	Value float64 `json:"value"`
	Type  string  `json:"type"`
}

// View is a read-only copy of cart state for rendering.
type View struct {
	Phase         Phase            `json:"phase"`
	Branch        domain.BranchTag `json:"branch"`
	Lines         []Line           `json:"lines"`
	Discount      Modifier         `json:"discount"`
	Tax           *Modifier        `json:"tax,omitempty"`
	PaymentMethod string           `json:"paymentMethod"`
	Totals        Totals           `json:"totals"`
	Customer      *domain.Customer `json:"customer,omitempty"`
	CreditTerm    string           `json:"creditTerm,omitempty"`
	DueDate       *time.Time       `json:"dueDate,omitempty"`
}

// base carries the state shared by both cart kinds. Callers hold mu.
type base struct {
	mu            sync.Mutex
	phase         Phase
	scope         domain.BranchScope
	lines         []Line
	snapshot      map[string]domain.InventoryItem
	discount      Modifier
	paymentMethod string
	sink          notify.Sink
	now           func() time.Time
}

func (b *base) init(sink notify.Sink) {
	if sink == nil {
		sink = notify.NewLogSink(nil)
	}
	b.phase = PhaseEmpty
	b.snapshot = map[string]domain.InventoryItem{}
	b.discount = Modifier{Type: domain.AdjustPercent}
	b.paymentMethod = defaultMethod
	b.sink = sink
	b.now = time.Now
}

// SetSnapshot replaces the inventory the cart checks stock against. Lines
// already in the cart follow the new snapshot: quantities shrink to the new
// stock, and lines whose item is gone or sold out are dropped.
func (b *base) SetSnapshot(scope domain.BranchScope, items []domain.InventoryItem) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.scope = scope
	b.snapshot = make(map[string]domain.InventoryItem, len(items))
	for _, item := range items {
		b.snapshot[item.ID] = item
	}
	if b.phase != PhaseCompleting {
		b.fitLinesLocked()
	}
}

// fitLinesLocked bounds every catalog line by the snapshot. A failed cart
// stays failed while it still has lines.
func (b *base) fitLinesLocked() {
	changed := false
	kept := b.lines[:0]
	for _, l := range b.lines {
		if l.Manual {
			kept = append(kept, l)
			continue
		}
		item, ok := b.snapshot[l.ItemID]
		if !ok {
			b.sink.Notify(l.Name+" is not available in this branch and was removed", notify.Warning)
			changed = true
			continue
		}
		if item.Quantity <= 0 {
			b.sink.Notify(l.Name+" is out of stock and was removed", notify.Warning)
			changed = true
			continue
		}
		l.MaxStock = item.Quantity
		if l.Quantity > l.MaxStock {
			l.Quantity = l.MaxStock
			b.sink.Notify(l.Name+" was reduced to the stock on hand", notify.Warning)
			changed = true
		}
		kept = append(kept, l)
	}
	b.lines = kept
	if !changed || (b.phase == PhaseFailed && len(b.lines) > 0) {
		return
	}
	b.touch()
}

func (b *base) Scope() domain.BranchScope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scope
}

func (b *base) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

func (b *base) Lines() []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Line(nil), b.lines...)
}

// RemoveLine drops the line at index.
func (b *base) RemoveLine(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.mutable(); err != nil {
		return err
	}
	if index < 0 || index >= len(b.lines) {
		return fmt.Errorf("%w: no cart line at index %d", domain.ErrValidation, index)
	}
	b.removeLocked(index)
	return nil
}

func (b *base) SetDiscount(value float64, kind string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.mutable(); err != nil {
		return err
	}
	m, err := parseModifier(value, kind)
	if err != nil {
		b.sink.Notify("Invalid discount", notify.Warning)
		return err
	}
	b.discount = m
	return nil
}

func (b *base) SetPaymentMethod(method string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return fmt.Errorf("%w: payment method is required", domain.ErrValidation)
	}
	b.paymentMethod = method
	return nil
}

// Begin moves a non-empty cart into the completing phase. Only one
// completion may run at a time.
func (b *base) Begin() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase == PhaseCompleting {
		return ErrCompletionInProgress
	}
	if len(b.lines) == 0 {
		b.sink.Notify("Cart is empty", notify.Warning)
		return domain.ErrEmptyCart
	}
	b.phase = PhaseCompleting
	return nil
}

// Fail returns a completing cart to an editable state with its lines intact.
func (b *base) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase == PhaseCompleting {
		b.phase = PhaseFailed
	}
}

func (b *base) mutable() error {
	if b.phase == PhaseCompleting {
		return ErrCompletionInProgress
	}
	return nil
}

// touch records a mutation: the cart is building when it has lines and
// empty otherwise.
func (b *base) touch() {
	if len(b.lines) == 0 {
		b.phase = PhaseEmpty
		return
	}
	b.phase = PhaseBuilding
}

func (b *base) removeLocked(index int) {
	b.lines = append(b.lines[:index], b.lines[index+1:]...)
	b.touch()
}

func (b *base) findLine(itemID string) int {
	for i, l := range b.lines {
		if !l.Manual && l.ItemID == itemID {
			return i
		}
	}
	return -1
}

func (b *base) lookup(itemID string) (domain.InventoryItem, error) {
	item, ok := b.snapshot[itemID]
	if !ok {
		b.sink.Notify("Item not found in inventory", notify.Error)
		return domain.InventoryItem{}, fmt.Errorf("%w: item %s not in inventory snapshot", domain.ErrValidation, itemID)
	}
	if item.Quantity <= 0 {
		b.sink.Notify(item.Name+" is out of stock", notify.Warning)
		return domain.InventoryItem{}, fmt.Errorf("%w: %s", domain.ErrOutOfStock, item.Name)
	}
	return item, nil
}

func (b *base) addManualLocked(name string, price float64, qty int) error {
	if err := b.mutable(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" || price <= 0 || qty <= 0 {
		b.sink.Notify("Manual items need a name, a positive price and a positive quantity", notify.Warning)
		return fmt.Errorf("%w: manual line needs a name, price > 0 and quantity > 0", domain.ErrValidation)
	}
	b.lines = append(b.lines, Line{
		ItemID:   "manual-" + xid.New(),
		Name:     name,
		Price:    price,
		Quantity: qty,
		Manual:   true,
	})
	b.touch()
	return nil
}

// resetLocked clears lines and every modifier after a completed sale.
func (b *base) resetLocked() {
	b.lines = nil
	b.discount = Modifier{Type: domain.AdjustPercent}
	b.paymentMethod = defaultMethod
}

func (b *base) lineItems() []domain.LineItem {
	items := make([]domain.LineItem, 0, len(b.lines))
	for _, l := range b.lines {
		items = append(items, domain.LineItem{
			ID:       l.ItemID,
			Name:     l.Name,
			SKU:      l.SKU,
			Price:    l.Price,
			Cost:     l.Cost,
			Quantity: l.Quantity,
			Total:    money(lineTotal(l)),
			Manual:   l.Manual,
		})
	}
	return items
}

// restoreLines rebuilds cart lines from persisted line items, bounded by
// the current snapshot.
func (b *base) restoreLines(items []domain.LineItem) {
	b.lines = make([]Line, 0, len(items))
	for _, it := range items {
		b.lines = append(b.lines, Line{
			ItemID:   it.ID,
			Name:     it.Name,
			SKU:      it.SKU,
			Price:    it.Price,
			Cost:     it.Cost,
			Quantity: it.Quantity,
			Manual:   it.Manual,
		})
	}
	b.fitLinesLocked()
	b.touch()
}

func parseModifier(value float64, kind string) (Modifier, error) {
	if kind == "" {
		kind = domain.AdjustPercent
	}
	if kind != domain.AdjustPercent && kind != domain.AdjustFixed {
		return Modifier{}, fmt.Errorf("%w: unknown adjustment type %q", domain.ErrValidation, kind)
	}
	if value < 0 || (kind == domain.AdjustPercent && value > 100) {
		return Modifier{}, fmt.Errorf("%w: adjustment %.2f out of range", domain.ErrValidation, value)
	}
	return Modifier{Value: value, Type: kind}, nil
}

func lineTotal(l Line) decimal.Decimal {
	return decimal.NewFromFloat(l.Price).Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func subtotalOf(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(lineTotal(l))
	}
	return sum
}

func costOf(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(decimal.NewFromFloat(l.Cost).Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

// applyModifier returns the amount m takes from (or adds to) base, rounded
// to cents and never more than base.
func applyModifier(m Modifier, base decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	if m.Type == domain.AdjustFixed {
		amount = decimal.NewFromFloat(m.Value)
	} else {
		amount = base.Mul(decimal.NewFromFloat(m.Value)).Div(decimal.NewFromInt(100))
	}
	return amount.Round(2)
}

func clampDiscount(amount decimal.Decimal, subtotal decimal.Decimal) decimal.Decimal {
	if amount.GreaterThan(subtotal) {
		return subtotal
	}
	return amount
}

func money(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

// clamp bounds qty to [lo, hi]; hi wins when lo > hi.
func clamp(qty int, lo int, hi int) int {
	return min(max(qty, lo), hi)
}

// soldOutLocked drops a catalog line whose stock ceiling reached zero.
func (b *base) soldOutLocked(index int) error {
	name := b.lines[index].Name
	b.removeLocked(index)
	b.sink.Notify(name+" is out of stock and was removed", notify.Warning)
	return fmt.Errorf("%w: %s", domain.ErrOutOfStock, name)
}

// Cancel backs out of a completion that never started writing, leaving the
// cart as it was.
func (b *base) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase == PhaseCompleting {
		b.touch()
	}
}
