package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"vendify/internal/store"
)

func TestNormalizeFlattensDriverTypes(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	doc := toDocument(map[string]any{
		"_id":      "s1",
		"quantity": int32(4),
		"items":    primitive.A{primitive.D{{Key: "name", Value: "Widget"}}},
		"paidAt":   primitive.NewDateTimeFromTime(at),
	})

	assert.Equal(t, "s1", doc.ID())
	assert.EqualValues(t, 4, doc.Int("quantity"))
	items, ok := doc["items"].([]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "Widget"}, items[0])
	assert.Equal(t, "2024-05-01T10:00:00Z", doc["paidAt"])
}

func TestConditionalDecrementAgainstServer(t *testing.T) {
	uri := os.Getenv("VENDIFY_TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("set VENDIFY_TEST_MONGODB_URI to run mongo integration test")
	}
	ctx := context.Background()
	s, err := New(ctx, uri, "vendify_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	collection := fmt.Sprintf("it_inventory_%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = s.db.Collection(collection).Drop(ctx) })
	require.NoError(t, s.Put(ctx, collection, "i1", store.Document{"quantity": 1, "version": 0}))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AdjustQuantity(ctx, collection, "i1", -1, store.NoVersionCheck)
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var ok, short int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrInsufficientStock):
			short++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
}
