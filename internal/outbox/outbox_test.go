package outbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vendify/internal/store"
	"vendify/internal/store/memory"
)

// flakyStore fails writes to central collections until healed.
type flakyStore struct {
	*memory.Store
	broken bool
}

func (f *flakyStore) Put(ctx context.Context, collection string, id string, doc store.Document) error {
	if f.broken && strings.HasPrefix(collection, store.CentralPref) {
		return errors.New("central collection unreachable")
	}
	return f.Store.Put(ctx, collection, id, doc)
}

func TestDrainDeliversToCentralCollection(t *testing.T) {
	mem := memory.New()
	o := New(mem, nil)
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, store.Sales, store.Document{"id": "s1", "total": 12.5, "branchId": "b2"}))
	require.NoError(t, o.Enqueue(ctx, store.Inventory, store.Document{"id": "i1", "quantity": 3}))
	assert.Error(t, o.Enqueue(ctx, store.Sales, store.Document{"total": 1}))

	res, err := o.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 0, res.Pending)

	mirrored, err := mem.Get(ctx, "central_sales", "s1")
	require.NoError(t, err)
	assert.Equal(t, "b2", mirrored.String("branchId"))
	assert.NotEmpty(t, mirrored.String("syncedAt"))

	pending, err := o.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestDrainRetriesWithBackoff(t *testing.T) {
	fs := &flakyStore{Store: memory.New(), broken: true}
	o := New(fs, nil)
	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, store.Inventory, store.Document{"id": "i1", "quantity": 4}))

	res, err := o.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	records, err := o.list(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Attempts)
	assert.Equal(t, clock.Add(time.Second), records[0].NextAttemptAt)
	assert.Contains(t, records[0].LastError, "unreachable")

	res, err = o.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Failed, "record is not due yet")
	assert.Equal(t, 1, res.Pending)

	fs.broken = false
	clock = clock.Add(2 * time.Second)
	res, err = o.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)

	_, err = fs.Get(ctx, "central_inventory", "i1")
	assert.NoError(t, err)
}

func TestBackoffIsCapped(t *testing.T) {
	o := New(memory.New(), nil)
	assert.Equal(t, time.Second, o.backoff(1))
	assert.Equal(t, 4*time.Second, o.backoff(3))
	assert.Equal(t, 5*time.Minute, o.backoff(40))
}

func TestDrainNeverReplaysAnOlderCopy(t *testing.T) {
	fs := &flakyStore{Store: memory.New(), broken: true}
	o := New(fs, nil)
	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, store.Inventory, store.Document{"id": "i1", "quantity": 10}))
	res, err := o.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	fs.broken = false
	require.NoError(t, o.Enqueue(ctx, store.Inventory, store.Document{"id": "i1", "quantity": 7}))
	res, err = o.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Superseded)

	clock = clock.Add(time.Minute)
	res, err = o.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Delivered)

	mirrored, err := fs.Get(ctx, "central_inventory", "i1")
	require.NoError(t, err)
	assert.EqualValues(t, 7, mirrored.Int("quantity"))

	pending, err := o.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestDrainDeletesCentralCopy(t *testing.T) {
	mem := memory.New()
	o := New(mem, nil)
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, store.HeldSales, store.Document{"id": "h1", "note": "table 2"}))
	_, err := o.Drain(ctx)
	require.NoError(t, err)
	_, err = mem.Get(ctx, "central_heldSales", "h1")
	require.NoError(t, err)

	require.NoError(t, o.EnqueueDelete(ctx, store.HeldSales, "h1"))
	require.NoError(t, o.EnqueueDelete(ctx, store.HeldSales, "never-mirrored"))
	res, err := o.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)

	_, err = mem.Get(ctx, "central_heldSales", "h1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Error(t, o.EnqueueDelete(ctx, store.HeldSales, ""))
}

func TestPutAfterDeleteWins(t *testing.T) {
	mem := memory.New()
	o := New(mem, nil)
	ctx := context.Background()

	require.NoError(t, o.EnqueueDelete(ctx, store.Customers, "c1"))
	require.NoError(t, o.Enqueue(ctx, store.Customers, store.Document{"id": "c1", "name": "Acme"}))
	res, err := o.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Superseded)

	mirrored, err := mem.Get(ctx, "central_customers", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", mirrored.String("name"))
}
