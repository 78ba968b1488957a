// Package gateway is the single branch-aware entry point to persistence.
// It stamps branch identity on writes, scopes reads to the active branch,
// mirrors branch writes to the central collections and derives dashboard
// aggregates.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vendify/internal/cache"
	"vendify/internal/domain"
	"vendify/internal/store"
)

type Mode string

const (
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
)

// Mirror receives copies of branch writes and deletes destined for the
// central collections.
type Mirror interface {
	Enqueue(ctx context.Context, collection string, doc store.Document) error
	EnqueueDelete(ctx context.Context, collection string, docID string) error
}

type Gateway struct {
	store    store.DocumentStore
	local    store.DocumentStore
	mode     Mode
	mirror   Mirror
	cache    cache.StatsCache
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

type Options struct {
	// Local is used for per-call fallback of held sales, quotes and users.
	// When nil, the primary store is used.
	Local    store.DocumentStore
	Mode     Mode
	Mirror   Mirror
	Cache    cache.StatsCache
	CacheTTL time.Duration
	Logger   *zap.Logger
}

func New(docs store.DocumentStore, opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopStatsCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.Mode == "" {
		opts.Mode = ModeLocal
	}
	if opts.Local == nil {
		opts.Local = docs
	}
	return &Gateway{
		store:    docs,
		local:    opts.Local,
		mode:     opts.Mode,
		mirror:   opts.Mirror,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		logger:   opts.Logger.Named("gateway"),
		now:      time.Now,
	}
}

// Mode is fixed for the lifetime of the process.
func (g *Gateway) Mode() Mode {
	return g.mode
}

func (g *Gateway) Store() store.DocumentStore {
	return g.store
}

func (g *Gateway) Sales() *Collection[domain.Sale] {
	return newCollection[domain.Sale](g, store.Sales, false)
}

func (g *Gateway) Inventory() *Collection[domain.InventoryItem] {
	return newCollection[domain.InventoryItem](g, store.Inventory, false)
}

func (g *Gateway) Customers() *Collection[domain.Customer] {
	return newCollection[domain.Customer](g, store.Customers, false)
}

func (g *Gateway) Expenses() *Collection[domain.Expense] {
	return newCollection[domain.Expense](g, store.Expenses, false)
}

func (g *Gateway) Orders() *Collection[domain.Order] {
	return newCollection[domain.Order](g, store.Orders, false)
}

func (g *Gateway) Suppliers() *Collection[domain.Supplier] {
	return newCollection[domain.Supplier](g, store.Suppliers, false)
}

func (g *Gateway) HeldSales() *Collection[domain.HeldSale] {
	return newCollection[domain.HeldSale](g, store.HeldSales, true)
}

func (g *Gateway) Quotes() *Collection[domain.Quote] {
	return newCollection[domain.Quote](g, store.Quotes, true)
}

func (g *Gateway) Users() *Collection[domain.User] {
	return newCollection[domain.User](g, store.Users, true)
}

// AdjustStock applies a conditional quantity change to an inventory record
// and mirrors the result when the record belongs to a non-central branch.
func (g *Gateway) AdjustStock(ctx context.Context, scope domain.BranchScope, id string, delta int, expectedVersion int64) (domain.InventoryItem, error) {
	doc, err := g.store.AdjustQuantity(ctx, store.Inventory, id, delta, expectedVersion)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	item, err := store.Decode[domain.InventoryItem](doc)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	if item.BranchID != "" && item.BranchID != scope.Central.ID {
		g.enqueueMirror(ctx, store.Inventory, doc)
	}
	return item, nil
}

// NextSequence exposes the store's atomic counter for human-facing numbers.
func (g *Gateway) NextSequence(ctx context.Context, name string) (int64, error) {
	return g.store.NextSequence(ctx, name)
}

// InvalidateStats drops cached aggregates for the branch and for the
// all-branches view.
func (g *Gateway) InvalidateStats(ctx context.Context, branchID string) {
	day := g.now()
	keys := []string{cache.StatsKey(domain.AllBranchesID, day)}
	if branchID != "" {
		keys = append(keys, cache.StatsKey(branchID, day))
	}
	if err := g.cache.Delete(ctx, keys...); err != nil {
		g.logger.Warn("failed to invalidate dashboard cache", zap.Error(err))
	}
}

func (g *Gateway) enqueueMirror(ctx context.Context, collection string, doc store.Document) {
	if g.mirror == nil {
		return
	}
	if err := g.mirror.Enqueue(ctx, collection, doc); err != nil {
		g.logger.Warn("central mirror enqueue failed",
			zap.String("collection", collection),
			zap.String("doc_id", doc.ID()),
			zap.Error(err),
		)
	}
}

func (g *Gateway) enqueueMirrorDelete(ctx context.Context, collection string, docID string) {
	if g.mirror == nil {
		return
	}
	if err := g.mirror.EnqueueDelete(ctx, collection, docID); err != nil {
		g.logger.Warn("central mirror delete enqueue failed",
			zap.String("collection", collection),
			zap.String("doc_id", docID),
			zap.Error(err),
		)
	}
}

func isRecordError(err error) bool {
	return errors.Is(err, domain.ErrValidation) || errors.Is(err, store.ErrInvalidRecord) || errors.Is(err, store.ErrNotFound)
}

func wrapOp(op string, collection string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s %s: %w", op, collection, err)
}
