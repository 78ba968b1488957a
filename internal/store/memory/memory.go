package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"vendify/internal/store"
)

type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]store.Document
	sequences   map[string]int64
	values      map[string]string
	now         func() time.Time
}

// State is a point-in-time copy of everything the store holds.
type State struct {
	Collections map[string][]store.Document
	Sequences   map[string]int64
	Values      map[string]string
}

func New() *Store {
	return &Store{
		collections: make(map[string]map[string]store.Document),
		sequences:   make(map[string]int64),
		values:      make(map[string]string),
		now:         time.Now,
	}
}

func FromState(state State) *Store {
	s := New()
	for collection, docs := range state.Collections {
		bucket := make(map[string]store.Document, len(docs))
		for _, doc := range docs {
			if id := doc.ID(); id != "" {
				bucket[id] = doc.Clone()
			}
		}
		s.collections[collection] = bucket
	}
	for k, v := range state.Sequences {
		s.sequences[k] = v
	}
	for k, v := range state.Values {
		s.values[k] = v
	}
	return s
}

// NewSeeded returns a store holding a central branch and a handful of
// inventory items for local demos.
func NewSeeded() *Store {
	s := New()
	now := s.now().UTC().Format(time.RFC3339Nano)
	central := store.Document{
		"id":        "branch-main",
		"code":      "MAIN",
		"name":      "Main Branch",
		"isCentral": true,
		"status":    "active",
		"createdAt": now,
		"updatedAt": now,
	}
	s.collections[store.Branches] = map[string]store.Document{"branch-main": central}

	items := []struct {
		id, name, sku, category string
		price, cost             float64
		qty, reorder            int
	}{
		{"item-coffee", "Ground Coffee 250g", "COF-250", "Beverages", 9.5, 6.25, 40, 10},
		{"item-tea", "Green Tea 20 bags", "TEA-020", "Beverages", 4.75, 2.9, 60, 15},
		{"item-sugar", "Cane Sugar 1kg", "SUG-001", "Pantry", 3.2, 2.1, 25, 10},
		{"item-cups", "Paper Cups x50", "CUP-050", "Supplies", 6, 3.5, 8, 12},
	}
	bucket := make(map[string]store.Document, len(items))
	for _, it := range items {
		bucket[it.id] = store.Document{
			"id":           it.id,
			"name":         it.name,
			"sku":          it.sku,
			"category":     it.category,
			"price":        it.price,
			"cost":         it.cost,
			"quantity":     int64(it.qty),
			"reorderLevel": int64(it.reorder),
			"version":      int64(0),
			"branchId":     "branch-main",
			"branchCode":   "MAIN",
			"branchName":   "Main Branch",
			"dateAdded":    now,
			"createdAt":    now,
			"updatedAt":    now,
		}
	}
	s.collections[store.Inventory] = bucket
	return s
}

func (s *Store) Get(_ context.Context, collection string, id string) (store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *Store) List(_ context.Context, collection string, q store.Query) ([]store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Document, 0, len(s.collections[collection]))
	for _, doc := range s.collections[collection] {
		if doc.Matches(q) {
			out = append(out, doc.Clone())
		}
	}
	slices.SortFunc(out, func(a, b store.Document) int {
		if c := strings.Compare(a.String("createdAt"), b.String("createdAt")); c != 0 {
			return c
		}
		return strings.Compare(a.ID(), b.ID())
	})
	return out, nil
}

func (s *Store) Put(_ context.Context, collection string, id string, doc store.Document) error {
	if id == "" {
		return store.ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := doc.Clone()
	saved["id"] = id
	bucket, ok := s.collections[collection]
	if !ok {
		bucket = make(map[string]store.Document)
		s.collections[collection] = bucket
	}
	bucket[id] = saved
	return nil
}

func (s *Store) Delete(_ context.Context, collection string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection][id]; !ok {
		return store.ErrNotFound
	}
	delete(s.collections[collection], id)
	return nil
}

func (s *Store) AdjustQuantity(_ context.Context, collection string, id string, delta int, expectedVersion int64) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	updated, err := store.ApplyAdjustment(doc, delta, expectedVersion, s.now())
	if err != nil {
		return nil, err
	}
	s.collections[collection][id] = updated
	return updated.Clone(), nil
}

func (s *Store) NextSequence(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequences[name]++
	return s.sequences[name], nil
}

func (s *Store) LoadValue(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (s *Store) SaveValue(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// Snapshot copies the full contents, sorted by id within each collection.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := State{
		Collections: make(map[string][]store.Document, len(s.collections)),
		Sequences:   make(map[string]int64, len(s.sequences)),
		Values:      make(map[string]string, len(s.values)),
	}
	for collection, bucket := range s.collections {
		docs := make([]store.Document, 0, len(bucket))
		for _, doc := range bucket {
			docs = append(docs, doc.Clone())
		}
		slices.SortFunc(docs, func(a, b store.Document) int {
			return strings.Compare(a.ID(), b.ID())
		})
		state.Collections[collection] = docs
	}
	for k, v := range s.sequences {
		state.Sequences[k] = v
	}
	for k, v := range s.values {
		state.Values[k] = v
	}
	return state
}

func (s *Store) Close() error {
	return nil
}
