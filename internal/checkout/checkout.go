// Package checkout records completed carts. A sale is written first with a
// pending settlement, stock is then decremented line by line under version
// checks, and the sale is settled only when every decrement landed.
// Decrements that did land are reversed when a later line fails.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"vendify/internal/domain"
	"vendify/internal/gateway"
	"vendify/internal/notify"
	"vendify/internal/receipt"
	"vendify/internal/store"
)

const defaultMaxAttempts = 3

// Snapshotter receives inventory reloads.
type Snapshotter interface {
	SetSnapshot(scope domain.BranchScope, items []domain.InventoryItem)
}

// Cart is the part of a POS or wholesale cart the completion protocol drives.
type Cart interface {
	Snapshotter
	Scope() domain.BranchScope
	Begin() error
	Cancel()
	BuildSale() (domain.Sale, error)
	Finish()
	Fail()
}

// PartialCompletionError reports a sale whose stock decrements did not all
// land. The sale is kept with status needs-reconciliation.
type PartialCompletionError struct {
	SaleID      string
	FailedLines []string
	Compensated bool
	Cause       error
}

func (e *PartialCompletionError) Error() string {
	return fmt.Sprintf("sale %s needs reconciliation: stock update failed for %s: %v",
		e.SaleID, strings.Join(e.FailedLines, ", "), e.Cause)
}

func (e *PartialCompletionError) Unwrap() error {
	return e.Cause
}

type Result struct {
	Sale    domain.Sale     `json:"sale"`
	Receipt receipt.Receipt `json:"receipt"`
}

type Service struct {
	gw            *gateway.Gateway
	issuer        *receipt.Issuer
	sink          notify.Sink
	logger        *zap.Logger
	now           func() time.Time
	quoteValidity time.Duration
	maxAttempts   int
}

type Options struct {
	Issuer        *receipt.Issuer
	Sink          notify.Sink
	Logger        *zap.Logger
	QuoteValidity time.Duration
}

func New(gw *gateway.Gateway, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = notify.NewLogSink(opts.Logger)
	}
	if opts.Issuer == nil {
		opts.Issuer = receipt.NewIssuer("", "")
	}
	if opts.QuoteValidity <= 0 {
		opts.QuoteValidity = 30 * 24 * time.Hour
	}
	return &Service{
		gw:            gw,
		issuer:        opts.Issuer,
		sink:          opts.Sink,
		logger:        opts.Logger.Named("checkout"),
		now:           time.Now,
		quoteValidity: opts.QuoteValidity,
		maxAttempts:   defaultMaxAttempts,
	}
}

type appliedDecrement struct {
	itemID string
	qty    int
}

// Complete records the cart as a sale. Validation failures leave the cart
// untouched. A failed stock update leaves the cart intact for retry and
// returns a *PartialCompletionError.
func (s *Service) Complete(ctx context.Context, c Cart) (Result, error) {
	if err := c.Begin(); err != nil {
		return Result{}, err
	}
	sale, err := c.BuildSale()
	if err != nil {
		c.Cancel()
		return Result{}, err
	}
	scope := c.Scope()
	finalStatus := sale.Status
	sale.Settlement = domain.SettlementPending
	sale.SaleNumber = s.saleNumber(ctx, scope)

	created, err := s.gw.Sales().Create(ctx, scope, sale)
	if err != nil {
		c.Fail()
		s.logger.Error("failed to record sale", zap.String("branch_id", scope.Branch.ID), zap.Error(err))
		s.sink.Notify("Could not record the sale, please try again", notify.Error)
		return Result{}, fmt.Errorf("record sale: %w", err)
	}

	applied := make([]appliedDecrement, 0, len(created.Items))
	for _, line := range created.Items {
		if line.Manual {
			continue
		}
		if err := s.decrement(ctx, scope, line.ID, line.Quantity); err != nil {
			return Result{}, s.abandon(ctx, c, scope, created, applied, line, err)
		}
		applied = append(applied, appliedDecrement{itemID: line.ID, qty: line.Quantity})
	}

	settled, err := s.gw.Sales().Update(ctx, scope, created.ID, map[string]any{
		"settlement": domain.SettlementSettled,
		"status":     finalStatus,
	})
	if err != nil {
		s.logger.Warn("sale recorded but settlement flag not saved", zap.String("sale_id", created.ID), zap.Error(err))
		settled = created
		settled.Settlement = domain.SettlementSettled
	}

	c.Finish()
	s.gw.InvalidateStats(ctx, settled.BranchID)
	s.LoadInventory(ctx, c, scope)

	rcpt, err := s.issuer.Issue(settled)
	if err != nil {
		s.logger.Warn("failed to issue receipt", zap.String("sale_id", settled.ID), zap.Error(err))
	}
	s.logger.Info("sale completed",
		zap.String("sale_id", settled.ID),
		zap.String("sale_number", settled.SaleNumber),
		zap.String("type", settled.Type),
		zap.Float64("total", settled.Total),
	)
	s.sink.Notify(fmt.Sprintf("Sale %s completed", defaultString(settled.SaleNumber, settled.ID)), notify.Success)
	return Result{Sale: settled, Receipt: rcpt}, nil
}

// decrement takes qty units off an item under a version check, re-reading
// and retrying when another writer got there first.
func (s *Service) decrement(ctx context.Context, scope domain.BranchScope, itemID string, qty int) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		var item domain.InventoryItem
		item, err = s.gw.Inventory().Get(ctx, itemID)
		if err != nil {
			return err
		}
		if !scope.All() && scope.Branch.ID != "" && item.BranchID != "" && item.BranchID != scope.Branch.ID {
			return fmt.Errorf("%w: %s is stocked by branch %s", domain.ErrValidation, item.Name, defaultString(item.BranchCode, item.BranchID))
		}
		if item.Quantity < qty {
			return fmt.Errorf("%w: %s has %d, needs %d", store.ErrInsufficientStock, item.Name, item.Quantity, qty)
		}
		_, err = s.gw.AdjustStock(ctx, scope, itemID, -qty, item.Version)
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		s.logger.Debug("stock version conflict, retrying", zap.String("item_id", itemID), zap.Int("attempt", attempt))
	}
	return err
}

// abandon reverses the decrements that landed, flags the sale for
// reconciliation and hands the cart back for retry.
func (s *Service) abandon(
	ctx context.Context,
	c Cart,
	scope domain.BranchScope,
	sale domain.Sale,
	applied []appliedDecrement,
	failed domain.LineItem,
	cause error,
) error {
	compensated := true
	for i := len(applied) - 1; i >= 0; i-- {
		d := applied[i]
		if _, err := s.gw.AdjustStock(ctx, scope, d.itemID, d.qty, store.NoVersionCheck); err != nil {
			compensated = false
			s.logger.Error("failed to restore stock",
				zap.String("sale_id", sale.ID),
				zap.String("item_id", d.itemID),
				zap.Int("qty", d.qty),
				zap.Error(err),
			)
		}
	}

	failedLines := []string{failed.Name}
	if _, err := s.gw.Sales().Update(ctx, scope, sale.ID, map[string]any{
		"status":      domain.SaleStatusNeedsReconciliation,
		"settlement":  domain.SettlementFailed,
		"failedLines": failedLines,
	}); err != nil {
		s.logger.Error("failed to flag sale for reconciliation", zap.String("sale_id", sale.ID), zap.Error(err))
	}

	c.Fail()
	s.gw.InvalidateStats(ctx, sale.BranchID)
	s.LoadInventory(ctx, c, scope)
	s.logger.Warn("sale left for reconciliation",
		zap.String("sale_id", sale.ID),
		zap.String("item_id", failed.ID),
		zap.Bool("compensated", compensated),
		zap.Error(cause),
	)

	msg := "Stock update failed for " + failed.Name
	if errors.Is(cause, store.ErrInsufficientStock) {
		msg = "Not enough stock left for " + failed.Name
	}
	s.sink.Notify(msg, notify.Error)
	return &PartialCompletionError{
		SaleID:      sale.ID,
		FailedLines: failedLines,
		Compensated: compensated,
		Cause:       cause,
	}
}

// saleNumber allocates <branch code>-<yyyymmdd>-<seq>. Numbering is
// cosmetic, so a failed allocation only leaves the number empty.
func (s *Service) saleNumber(ctx context.Context, scope domain.BranchScope) string {
	tag := scope.Tag()
	day := s.now().UTC().Format("20060102")
	seq, err := s.gw.NextSequence(ctx, "sale:"+tag.BranchID+":"+day)
	if err != nil {
		s.logger.Warn("failed to allocate sale number", zap.Error(err))
		return ""
	}
	return fmt.Sprintf("%s-%s-%04d", defaultString(tag.BranchCode, "POS"), day, seq)
}

// LoadInventory refreshes the cart's stock snapshot for scope.
func (s *Service) LoadInventory(ctx context.Context, c Snapshotter, scope domain.BranchScope) {
	items := s.gw.Inventory().List(ctx, scope, gateway.Filters{})
	c.SetSnapshot(scope, items)
}

// Reconcile lists negative stock and sales flagged for reconciliation.
func (s *Service) Reconcile(ctx context.Context, scope domain.BranchScope) (domain.ReconciliationReport, error) {
	return s.gw.Reconcile(ctx, scope)
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
