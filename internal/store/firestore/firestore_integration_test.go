package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vendify/internal/store"
)

func TestStoreAgainstEmulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("set FIRESTORE_EMULATOR_HOST to run firestore integration test")
	}
	ctx := context.Background()
	s, err := New(ctx, Config{ProjectID: "vendify-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	collection := fmt.Sprintf("it_inventory_%d", time.Now().UnixNano())
	require.NoError(t, s.Put(ctx, collection, "i1", store.Document{"quantity": 1, "version": 0, "branchId": "b1"}))

	doc, err := s.AdjustQuantity(ctx, collection, "i1", -1, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, doc.Int("quantity"))

	_, err = s.AdjustQuantity(ctx, collection, "i1", -1, 1)
	assert.True(t, errors.Is(err, store.ErrInsufficientStock), "got %v", err)

	docs, err := s.List(ctx, collection, store.Where("branchId", "b1"))
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	require.NoError(t, s.Delete(ctx, collection, "i1"))
	_, err = s.Get(ctx, collection, "i1")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	seq := fmt.Sprintf("it_seq_%d", time.Now().UnixNano())
	first, err := s.NextSequence(ctx, seq)
	require.NoError(t, err)
	assert.EqualValues(t, 1, first)
}
