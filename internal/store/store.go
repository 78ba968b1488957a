package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidRecord     = errors.New("invalid record")
	ErrConflict          = errors.New("concurrent modification")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

// Collection names shared by every backend.
const (
	Branches    = "branches"
	Sales       = "sales"
	Inventory   = "inventory"
	Customers   = "customers"
	Expenses    = "expenses"
	Orders      = "orders"
	Suppliers   = "suppliers"
	HeldSales   = "heldSales"
	Quotes      = "quotes"
	Users       = "users"
	Outbox      = "mirror_outbox"
	Sequences   = "sequences"
	CentralPref = "central_"
)

// NoVersionCheck disables the optimistic concurrency check in AdjustQuantity.
const NoVersionCheck int64 = -1

// Document is the schemaless wire form of a record. Every document carries
// its own "id" field.
type Document map[string]any

type Filter struct {
	Field string
	Value string
}

type Query struct {
	Filters []Filter
}

func Where(field string, value string) Query {
	return Query{Filters: []Filter{{Field: field, Value: value}}}
}

func (q Query) And(field string, value string) Query {
	filters := make([]Filter, 0, len(q.Filters)+1)
	filters = append(filters, q.Filters...)
	q.Filters = append(filters, Filter{Field: field, Value: value})
	return q
}

// DocumentStore is the single persistence abstraction behind the gateway.
// Remote and local backends implement it identically.
type DocumentStore interface {
	Get(ctx context.Context, collection string, id string) (Document, error)
	List(ctx context.Context, collection string, q Query) ([]Document, error)
	Put(ctx context.Context, collection string, id string, doc Document) error
	Delete(ctx context.Context, collection string, id string) error
	// AdjustQuantity applies delta to the document's "quantity" field and
	// bumps "version". It fails with ErrInsufficientStock instead of going
	// below zero and with ErrConflict when expectedVersion is stale.
	AdjustQuantity(ctx context.Context, collection string, id string, delta int, expectedVersion int64) (Document, error)
	NextSequence(ctx context.Context, name string) (int64, error)
	Close() error
}

// ValueStore holds small device-local values such as the selected branch.
type ValueStore interface {
	LoadValue(ctx context.Context, key string) (string, error)
	SaveValue(ctx context.Context, key string, value string) error
}

func CentralCollection(collection string) string {
	return CentralPref + collection
}

func Encode(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return doc, nil
}

func Decode[T any](doc Document) (T, error) {
	var out T
	raw, err := json.Marshal(doc)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return out, nil
}

func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		out := make(Document, len(d))
		for k, v := range d {
			out[k] = v
		}
		return out
	}
	var out Document
	_ = json.Unmarshal(raw, &out)
	return out
}

func (d Document) ID() string {
	return d.String("id")
}

func (d Document) String(field string) string {
	v, ok := d[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int reads a numeric field regardless of how the backend decoded it.
func (d Document) Int(field string) int64 {
	switch v := d[field].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float32:
		return int64(math.Round(float64(v)))
	case float64:
		return int64(math.Round(v))
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

// Matches reports whether every filter holds for the document.
func (d Document) Matches(q Query) bool {
	for _, f := range q.Filters {
		if d.String(f.Field) != f.Value {
			return false
		}
	}
	return true
}

// ApplyAdjustment is the shared quantity/version rule used by backends that
// do the check in application code.
func ApplyAdjustment(doc Document, delta int, expectedVersion int64, now time.Time) (Document, error) {
	version := doc.Int("version")
	if expectedVersion != NoVersionCheck && version != expectedVersion {
		return nil, ErrConflict
	}
	qty := doc.Int("quantity") + int64(delta)
	if delta < 0 && qty < 0 {
		return nil, ErrInsufficientStock
	}
	updated := doc.Clone()
	updated["quantity"] = qty
	updated["version"] = version + 1
	updated["updatedAt"] = now.UTC().Format(time.RFC3339Nano)
	return updated, nil
}
