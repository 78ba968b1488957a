package checkout

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"vendify/internal/cart"
	"vendify/internal/domain"
	"vendify/internal/gateway"
	"vendify/internal/notify"
)

// Holdable is a cart that can be parked and restored.
type Holdable interface {
	Scope() domain.BranchScope
	Hold(note string) (domain.HeldSale, error)
	Restore(h domain.HeldSale) error
	Clear() error
}

// HoldSale parks the cart's contents and clears it.
func (s *Service) HoldSale(ctx context.Context, c Holdable, note string) (domain.HeldSale, error) {
	held, err := c.Hold(strings.TrimSpace(note))
	if err != nil {
		return domain.HeldSale{}, err
	}
	saved, err := s.gw.HeldSales().Create(ctx, c.Scope(), held)
	if err != nil {
		s.sink.Notify("Could not hold the sale", notify.Error)
		return domain.HeldSale{}, err
	}
	if err := c.Clear(); err != nil {
		return saved, err
	}
	s.logger.Info("sale held", zap.String("held_id", saved.ID), zap.Int("items", len(saved.Items)))
	s.sink.Notify("Sale held", notify.Info)
	return saved, nil
}

// ListHeldSales returns parked sales of kind (pos or b2b); an empty kind
// returns both.
func (s *Service) ListHeldSales(ctx context.Context, scope domain.BranchScope, kind string) []domain.HeldSale {
	f := gateway.Filters{}
	if kind != "" {
		f.Where = map[string]string{"type": kind}
	}
	return s.gw.HeldSales().List(ctx, scope, f)
}

// ResumeHeldSale loads a parked sale into c and removes it from the parked
// list. Wholesale carts get their customer re-bound.
func (s *Service) ResumeHeldSale(ctx context.Context, c Holdable, id string) (domain.HeldSale, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.HeldSale{}, fmt.Errorf("%w: held sale id is required", domain.ErrValidation)
	}
	held, err := s.gw.HeldSales().Get(ctx, id)
	if err != nil {
		return domain.HeldSale{}, err
	}
	if err := c.Restore(held); err != nil {
		return domain.HeldSale{}, err
	}

	if wc, ok := c.(*cart.WholesaleCart); ok && held.CustomerID != "" {
		customer, err := s.gw.Customers().Get(ctx, held.CustomerID)
		if err != nil {
			s.logger.Warn("held sale customer not found", zap.String("customer_id", held.CustomerID), zap.Error(err))
		} else if err := wc.SetCustomer(customer); err != nil {
			return domain.HeldSale{}, err
		}
	}

	if err := s.gw.HeldSales().Delete(ctx, c.Scope(), id); err != nil {
		s.logger.Warn("resumed held sale could not be removed", zap.String("held_id", id), zap.Error(err))
	}
	return held, nil
}

func (s *Service) DiscardHeldSale(ctx context.Context, scope domain.BranchScope, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: held sale id is required", domain.ErrValidation)
	}
	if err := s.gw.HeldSales().Delete(ctx, scope, id); err != nil {
		return err
	}
	s.logger.Info("held sale discarded", zap.String("held_id", id))
	return nil
}

// CreateQuote saves the wholesale cart as a quote. The cart keeps its
// contents so the quote can still be converted into an order.
func (s *Service) CreateQuote(ctx context.Context, c *cart.WholesaleCart) (domain.Quote, error) {
	q, err := c.BuildQuote(s.now().Add(s.quoteValidity))
	if err != nil {
		return domain.Quote{}, err
	}
	saved, err := s.gw.Quotes().Create(ctx, c.Scope(), q)
	if err != nil {
		s.sink.Notify("Could not save the quote", notify.Error)
		return domain.Quote{}, err
	}
	s.sink.Notify("Quote saved for "+saved.CustomerName, notify.Success)
	return saved, nil
}

func (s *Service) ListQuotes(ctx context.Context, scope domain.BranchScope) []domain.Quote {
	return s.gw.Quotes().List(ctx, scope, gateway.Filters{})
}
