// Package local persists the document store to a single JSON file laid out
// like the browser storage keys the terminal app has always used.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"vendify/internal/store"
	"vendify/internal/store/memory"
)

const (
	keyCurrentBranch = "currentBranch"
	keyBranches      = "vendify_branches"
	keyData          = "vendify_data"
	keyHeldSales     = "heldSales"
	keyQuotes        = "quotes"
	keyUsers         = "vendify_users"
	keyOutbox        = "mirror_outbox"
	keySequences     = "sequences"
)

// Collections stored under their own top-level key. Everything else lives
// inside vendify_data.
var topLevel = map[string]string{
	store.Branches:  keyBranches,
	store.HeldSales: keyHeldSales,
	store.Quotes:    keyQuotes,
	store.Users:     keyUsers,
	store.Outbox:    keyOutbox,
}

type file struct {
	CurrentBranch json.RawMessage             `json:"currentBranch,omitempty"`
	Branches      []store.Document            `json:"vendify_branches"`
	Data          map[string][]store.Document `json:"vendify_data"`
	HeldSales     []store.Document            `json:"heldSales"`
	Quotes        []store.Document            `json:"quotes"`
	Users         []store.Document            `json:"vendify_users"`
	Outbox        []store.Document            `json:"mirror_outbox"`
	Sequences     map[string]int64            `json:"sequences"`
	Values        map[string]string           `json:"values,omitempty"`
}

// Store is the in-memory store with every mutation flushed to disk.
type Store struct {
	path  string
	mem   *memory.Store
	flush sync.Mutex
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("local store path is empty")
	}
	state, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, mem: memory.FromState(state)}, nil
}

func readFile(path string) (memory.State, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return memory.State{}, nil
	}
	if err != nil {
		return memory.State{}, fmt.Errorf("read local store: %w", err)
	}
	if len(raw) == 0 {
		return memory.State{}, nil
	}

	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return memory.State{}, fmt.Errorf("decode local store: %w", err)
	}

	state := memory.State{
		Collections: make(map[string][]store.Document),
		Sequences:   f.Sequences,
		Values:      f.Values,
	}
	if state.Values == nil {
		state.Values = make(map[string]string)
	}
	if current := decodeSelection(f.CurrentBranch); current != "" {
		state.Values[keyCurrentBranch] = current
	}
	state.Collections[store.Branches] = f.Branches
	state.Collections[store.HeldSales] = f.HeldSales
	state.Collections[store.Quotes] = f.Quotes
	state.Collections[store.Users] = f.Users
	state.Collections[store.Outbox] = f.Outbox
	for collection, docs := range f.Data {
		state.Collections[collection] = docs
	}
	return state, nil
}

func (s *Store) persist() error {
	s.flush.Lock()
	defer s.flush.Unlock()

	state := s.mem.Snapshot()
	f := file{
		Data:      make(map[string][]store.Document),
		Sequences: state.Sequences,
		Values:    make(map[string]string),
	}
	for k, v := range state.Values {
		if k == keyCurrentBranch {
			f.CurrentBranch = encodeSelection(v)
			continue
		}
		f.Values[k] = v
	}
	for collection, docs := range state.Collections {
		switch topLevel[collection] {
		case keyBranches:
			f.Branches = docs
		case keyHeldSales:
			f.HeldSales = docs
		case keyQuotes:
			f.Quotes = docs
		case keyUsers:
			f.Users = docs
		case keyOutbox:
			f.Outbox = docs
		default:
			f.Data[collection] = docs
		}
	}

	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode local store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create local store dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write local store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace local store: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection string, id string) (store.Document, error) {
	return s.mem.Get(ctx, collection, id)
}

func (s *Store) List(ctx context.Context, collection string, q store.Query) ([]store.Document, error) {
	return s.mem.List(ctx, collection, q)
}

func (s *Store) Put(ctx context.Context, collection string, id string, doc store.Document) error {
	if err := s.mem.Put(ctx, collection, id, doc); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) Delete(ctx context.Context, collection string, id string) error {
	if err := s.mem.Delete(ctx, collection, id); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) AdjustQuantity(ctx context.Context, collection string, id string, delta int, expectedVersion int64) (store.Document, error) {
	doc, err := s.mem.AdjustQuantity(ctx, collection, id, delta, expectedVersion)
	if err != nil {
		return nil, err
	}
	return doc, s.persist()
}

func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	n, err := s.mem.NextSequence(ctx, name)
	if err != nil {
		return 0, err
	}
	return n, s.persist()
}

func (s *Store) LoadValue(ctx context.Context, key string) (string, error) {
	return s.mem.LoadValue(ctx, key)
}

func (s *Store) SaveValue(ctx context.Context, key string, value string) error {
	if err := s.mem.SaveValue(ctx, key, value); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) Close() error {
	return s.persist()
}

// The selection is a branch object, written inline. Files from older
// terminals hold a bare id string instead.
func decodeSelection(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if json.Unmarshal(raw, &id) == nil {
		return id
	}
	return string(raw)
}

func encodeSelection(value string) json.RawMessage {
	if json.Valid([]byte(value)) && len(value) > 0 && value[0] == '{' {
		return json.RawMessage(value)
	}
	raw, _ := json.Marshal(value)
	return raw
}
