package cart

import (
	"fmt"

	"vendify/internal/domain"
	"vendify/internal/notify"
)

// SaleCart is the retail POS cart.
type SaleCart struct {
	base
	tax Modifier
}

func NewSaleCart(sink notify.Sink) *SaleCart {
	c := &SaleCart{tax: Modifier{Type: domain.AdjustPercent}}
	c.init(sink)
	return c
}

// AddLine adds one unit of a catalog item. Out-of-stock items and lines
// already at their stock ceiling are rejected without changing the cart.
func (c *SaleCart) AddLine(itemID string) error {
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

	c.lines = append(c.lines, Line{
		ItemID:   item.ID,
		Name:     item.Name,
		SKU:      item.SKU,
		Price:    item.Price,
		Cost:     item.Cost,
		Quantity: 1,
		MaxStock: item.Quantity,
	})
	c.touch()
	return nil
}

func (c *SaleCart) AddManualLine(name string, price float64, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addManualLocked(name, price, qty)
}

// SetQuantity clamps qty to [1, stock]; zero or less removes the line.
func (c *SaleCart) SetQuantity(index int, qty int) error {
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
	switch {
	case line.Manual:
		line.Quantity = qty
	case line.MaxStock <= 0:
		return c.soldOutLocked(index)
	default:
		line.Quantity = clamp(qty, 1, line.MaxStock)
	}
	c.touch()
	return nil
}

func (c *SaleCart) SetTax(value float64, kind string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.mutable(); err != nil {
		return err
	}
	m, err := parseModifier(value, kind)
	if err != nil {
		c.sink.Notify("Invalid tax", notify.Warning)
		return err
	}
	c.tax = m
	return nil
}

// Clear empties the cart and resets every modifier.
func (c *SaleCart) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.mutable(); err != nil {
		return err
	}
	c.resetLocked()
	c.tax = Modifier{Type: domain.AdjustPercent}
	c.touch()
	return nil
}

func (c *SaleCart) Totals() Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalsLocked()
}

// totalsLocked applies the discount to the subtotal and the tax to what
// remains. Each component is rounded to cents before the total is formed,
// so total = subtotal - discount + tax holds exactly.
func (c *SaleCart) totalsLocked() Totals {
	subtotal := subtotalOf(c.lines).Round(2)
	discount := clampDiscount(applyModifier(c.discount, subtotal), subtotal)
	tax := applyModifier(c.tax, subtotal.Sub(discount))
	total := subtotal.Sub(discount).Add(tax)
	return Totals{
		Subtotal:       money(subtotal),
		DiscountAmount: money(discount),
		TaxAmount:      money(tax),
		Total:          money(total),
		Profit:         money(total.Sub(costOf(c.lines))),
	}
}

func (c *SaleCart) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	tax := c.tax
	return View{
		Phase:         c.phase,
		Branch:        c.scope.Tag(),
		Lines:         append([]Line{}, c.lines...),
		Discount:      c.discount,
		Tax:           &tax,
		PaymentMethod: c.paymentMethod,
		Totals:        c.totalsLocked(),
	}
}

// BuildSale renders the cart as a sale record ready to persist.
func (c *SaleCart) BuildSale() (domain.Sale, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.lines) == 0 {
		return domain.Sale{}, domain.ErrEmptyCart
	}
	t := c.totalsLocked()
	return domain.Sale{
		Type:           domain.SaleTypePOS,
		Items:          c.lineItems(),
		Subtotal:       t.Subtotal,
		Discount:       c.discount.Value,
		DiscountType:   c.discount.Type,
		DiscountAmount: t.DiscountAmount,
		Tax:            c.tax.Value,
		TaxType:        c.tax.Type,
		TaxAmount:      t.TaxAmount,
		Total:          t.Total,
		Profit:         t.Profit,
		PaymentMethod:  c.paymentMethod,
		Status:         domain.SaleStatusCompleted,
		Settlement:     domain.SettlementPending,
	}, nil
}

// Finish clears a cart whose sale was recorded.
func (c *SaleCart) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	c.tax = Modifier{Type: domain.AdjustPercent}
	c.phase = PhaseCompleted
}

// Hold captures the cart for parking. The cart itself is left unchanged.
func (c *SaleCart) Hold(note string) (domain.HeldSale, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.lines) == 0 {
		return domain.HeldSale{}, domain.ErrEmptyCart
	}
	return domain.HeldSale{
		Type:         domain.SaleTypePOS,
		Items:        c.lineItems(),
		Discount:     c.discount.Value,
		DiscountType: c.discount.Type,
		Tax:          c.tax.Value,
		TaxType:      c.tax.Type,
		Note:         note,
		HeldAt:       c.now().UTC(),
	}, nil
}

// Restore replaces the cart contents with a parked sale.
func (c *SaleCart) Restore(h domain.HeldSale) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.mutable(); err != nil {
		return err
	}
	discount, err := parseModifier(h.Discount, h.DiscountType)
	if err != nil {
		return err
	}
	tax, err := parseModifier(h.Tax, h.TaxType)
	if err != nil {
		return err
	}
	c.discount = discount
	c.tax = tax
	c.restoreLines(h.Items)
	return nil
}
