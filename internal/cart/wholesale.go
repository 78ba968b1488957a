package cart

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"vendify/internal/domain"
	"vendify/internal/notify"
)

const (
	TermImmediate = "immediate"
	TermNet30     = "net30"
	TermNet60     = "net60"
	TermNet90     = "net90"
)

var termDays = map[string]int{
	TermImmediate: 0,
	TermNet30:     30,
	TermNet60:     60,
	TermNet90:     90,
}

// WholesalePolicy holds the trade discount taken off retail prices and the
// minimum units per catalog line.
type WholesalePolicy struct {
	DiscountPercent float64
	MinOrderQty     int
}

func DefaultWholesalePolicy() WholesalePolicy {
	return WholesalePolicy{DiscountPercent: 15, MinOrderQty: 10}
}

// WholesaleCart is the B2B cart. Catalog prices are converted to wholesale
// prices when a line is added and are not recomputed afterwards.
type WholesaleCart struct {
	base
	policy     WholesalePolicy
	customer   *domain.Customer
	creditTerm string
}

func NewWholesaleCart(policy WholesalePolicy, sink notify.Sink) *WholesaleCart {
	if policy.DiscountPercent < 0 || policy.DiscountPercent >= 100 {
		policy.DiscountPercent = DefaultWholesalePolicy().DiscountPercent
	}
	if policy.MinOrderQty < 1 {
		policy.MinOrderQty = 1
	}
	c := &WholesaleCart{policy: policy, creditTerm: TermImmediate}
	c.init(sink)
	return c
}

func (c *WholesaleCart) Policy() WholesalePolicy {
	return c.policy
}

// WholesalePrice derives the trade price from a retail price.
func (c *WholesaleCart) WholesalePrice(retail float64) float64 {
	factor := decimal.NewFromInt(100).Sub(decimal.NewFromFloat(c.policy.DiscountPercent)).Div(decimal.NewFromInt(100))
	return money(decimal.NewFromFloat(retail).Mul(factor))
}

func (c *WholesaleCart) SetCustomer(customer domain.Customer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.mutable(); err != nil {
		return err
	}
	if strings.TrimSpace(customer.ID) == "" {
		return fmt.Errorf("%w: customer id is required", domain.ErrValidation)
	}
	c.customer = &customer
	return nil
}

func (c *WholesaleCart) Customer() (domain.Customer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.customer == nil {
		return domain.Customer{}, false
	}
	return *c.customer, true
}

func (c *WholesaleCart) SetCreditTerm(term string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.mutable(); err != nil {
		return err
	}
	term = strings.ToLower(strings.TrimSpace(term))
	if _, ok := termDays[term]; !ok {
		return fmt.Errorf("%w: unknown credit term %q", domain.ErrValidation, term)
	}
	c.creditTerm = term
	return nil
}

// DueDate is createdAt plus the credit term. Immediate terms have no due
// date.
func (c *WholesaleCart) DueDate(createdAt time.Time) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return dueDate(c.creditTerm, createdAt)
}

func dueDate(term string, createdAt time.Time) (time.Time, bool) {
	days := termDays[term]
	if days == 0 {
		return time.Time{}, false
	}
	return createdAt.AddDate(0, 0, days), true
}

// AddLine adds a catalog item. A new line starts at the minimum order
// quantity, which the on-hand stock must cover; an existing line grows by
// one unit up to the stock ceiling.
func (c *WholesaleCart) AddLine(itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.mutable(); err != nil {
		return err
	}
	item, err := c.lookup(itemID)
	if err != nil {
		return err
	}

	if i := c.findLine(itemID); i >= 0 {
		line := &c.lines[i]
		if line.Quantity >= line.MaxStock {
			c.sink.Notify(fmt.Sprintf("Only %d %s in stock", line.MaxStock, item.Name), notify.Warning)
			return fmt.Errorf("%w: %s", domain.ErrStockCeiling, item.Name)
		}
		line.Quantity++
		c.touch()
		return nil
	}

	if item.Quantity < c.policy.MinOrderQty {
		c.sink.Notify(fmt.Sprintf("%s has %d in stock, minimum order is %d", item.Name, item.Quantity, c.policy.MinOrderQty), notify.Warning)
		return fmt.Errorf("%w: %s", domain.ErrBelowMinimumOrder, item.Name)
	}
	c.lines = append(c.lines, Line{
		ItemID:   item.ID,
		Name:     item.Name,
		SKU:      item.SKU,
		Price:    c.WholesalePrice(item.Price),
		Cost:     item.Cost,
		Quantity: c.policy.MinOrderQty,
		MaxStock: item.Quantity,
	})
	c.touch()
	return nil
}

func (c *WholesaleCart) AddManualLine(name string, price float64, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addManualLocked(name, price, qty)
}

// SetQuantity clamps catalog lines to [minimum order, stock]; zero or less
// removes the line.
func (c *WholesaleCart) SetQuantity(index int, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.mutable(); err != nil {
		return err
	}
	if index < 0 || index >= len(c.lines) {
		return fmt.Errorf("%w: no cart line at index %d", domain.ErrValidation, index)
	}
	if qty <= 0 {
		c.removeLocked(index)
		return nil
	}
	line := &c.lines[index]
	if line.Manual {
		line.Quantity = qty
		c.touch()
		return nil
	}
	if line.MaxStock <= 0 {
		return c.soldOutLocked(index)
	}
	line.Quantity = clamp(qty, max(c.policy.MinOrderQty, 1), line.MaxStock)
	c.touch()
	return nil
}

func (c *WholesaleCart) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.mutable(); err != nil {
		return err
	}
	c.resetLocked()
	c.customer = nil
	c.creditTerm = TermImmediate
	c.touch()
	return nil
}

func (c *WholesaleCart) Totals() Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalsLocked()
}

// Wholesale orders carry no tax.
func (c *WholesaleCart) totalsLocked() Totals {
	subtotal := subtotalOf(c.lines).Round(2)
	discount := clampDiscount(applyModifier(c.discount, subtotal), subtotal)
	total := subtotal.Sub(discount)
	return Totals{
		Subtotal:       money(subtotal),
		DiscountAmount: money(discount),
		Total:          money(total),
		Profit:         money(total.Sub(costOf(c.lines))),
	}
}

func (c *WholesaleCart) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		Phase:         c.phase,
		Branch:        c.scope.Tag(),
		Lines:         append([]Line{}, c.lines...),
		Discount:      c.discount,
		PaymentMethod: c.paymentMethod,
		Totals:        c.totalsLocked(),
		CreditTerm:    c.creditTerm,
	}
	if c.customer != nil {
		cust := *c.customer
		v.Customer = &cust
	}
	if due, ok := dueDate(c.creditTerm, c.now()); ok {
		v.DueDate = &due
	}
	return v
}

// BuildSale renders the order as a sale record. Immediate terms complete
// the sale; credit terms leave it pending with a due date.
func (c *WholesaleCart) BuildSale() (domain.Sale, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.lines) == 0 {
		return domain.Sale{}, domain.ErrEmptyCart
	}
	if c.customer == nil {
		c.sink.Notify("Select a customer first", notify.Warning)
		return domain.Sale{}, domain.ErrMissingCustomer
	}

	t := c.totalsLocked()
	now := c.now().UTC()
	sale := domain.Sale{
		Type:           domain.SaleTypeB2B,
		Items:          c.lineItems(),
		Subtotal:       t.Subtotal,
		Discount:       c.discount.Value,
		DiscountType:   c.discount.Type,
		DiscountAmount: t.DiscountAmount,
		Total:          t.Total,
		Profit:         t.Profit,
		PaymentMethod:  c.paymentMethod,
		CreditTerm:     c.creditTerm,
		CustomerID:     c.customer.ID,
		CustomerName:   c.customer.Name,
		Status:         domain.SaleStatusCompleted,
		Settlement:     domain.SettlementPending,
		CreatedAt:      now,
	}
	if due, ok := dueDate(c.creditTerm, now); ok {
		sale.Status = domain.SaleStatusPending
		sale.DueDate = &due
	}
	return sale, nil
}

// BuildQuote renders the order as a quote valid until validUntil.
func (c *WholesaleCart) BuildQuote(validUntil time.Time) (domain.Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.lines) == 0 {
		return domain.Quote{}, domain.ErrEmptyCart
	}
	if c.customer == nil {
		return domain.Quote{}, domain.ErrMissingCustomer
	}
	t := c.totalsLocked()
	return domain.Quote{
		CustomerID:   c.customer.ID,
		CustomerName: c.customer.Name,
		Items:        c.lineItems(),
		Subtotal:     t.Subtotal,
		Discount:     c.discount.Value,
		DiscountType: c.discount.Type,
		Total:        t.Total,
		CreditTerm:   c.creditTerm,
		ValidUntil:   validUntil.UTC(),
		Status:       "open",
	}, nil
}

func (c *WholesaleCart) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	c.customer = nil
	c.creditTerm = TermImmediate
	c.phase = PhaseCompleted
}

func (c *WholesaleCart) Hold(note string) (domain.HeldSale, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.lines) == 0 {
		return domain.HeldSale{}, domain.ErrEmptyCart
	}
	h := domain.HeldSale{
		Type:         domain.SaleTypeB2B,
		Items:        c.lineItems(),
		Discount:     c.discount.Value,
		DiscountType: c.discount.Type,
		CreditTerm:   c.creditTerm,
		Note:         note,
		HeldAt:       c.now().UTC(),
	}
	if c.customer != nil {
		h.CustomerID = c.customer.ID
	}
	return h, nil
}

// Restore replaces the cart contents with a parked order. The customer is
// bound separately because the held record only keeps its id.
func (c *WholesaleCart) Restore(h domain.HeldSale) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.mutable(); err != nil {
		return err
	}
	discount, err := parseModifier(h.Discount, h.DiscountType)
	if err != nil {
		return err
	}
	term := h.CreditTerm
	if _, ok := termDays[term]; !ok {
		term = TermImmediate
	}
	c.discount = discount
	c.creditTerm = term
	c.customer = nil
	c.restoreLines(h.Items)
	return nil
}
