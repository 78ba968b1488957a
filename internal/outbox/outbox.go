// Package outbox delivers the central-branch mirror copies of branch writes.
// Writes are recorded first and delivered by a background drain, so a
// failed mirror is retried instead of lost.
package outbox

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"vendify/internal/store"
	"vendify/internal/xid"
)

type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

type Record struct {
	ID            string         `json:"id"`
	Seq           int64          `json:"seq"`
	Collection    string         `json:"collection"`
	DocID         string         `json:"docId"`
	Op            Op             `json:"op"`
	Payload       store.Document `json:"payload,omitempty"`
	Attempts      int            `json:"attempts"`
	NextAttemptAt time.Time      `json:"nextAttemptAt"`
	LastError     string         `json:"lastError,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

type Result struct {
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
	Pending    int `json:"pending"`
	Superseded int `json:"superseded"`
}

type Outbox struct {
	store     store.DocumentStore
	logger    *zap.Logger
	now       func() time.Time
	baseDelay time.Duration
	maxDelay  time.Duration
}

func New(docs store.DocumentStore, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{
		store:     docs,
		logger:    logger.Named("outbox"),
		now:       time.Now,
		baseDelay: time.Second,
		maxDelay:  5 * time.Minute,
	}
}

// Enqueue records a put of doc into the central mirror of collection.
func (o *Outbox) Enqueue(ctx context.Context, collection string, doc store.Document) error {
	return o.enqueue(ctx, Record{Collection: collection, DocID: doc.ID(), Op: OpPut, Payload: doc.Clone()})
}

// EnqueueDelete records the removal of docID from the central mirror of
// collection.
func (o *Outbox) EnqueueDelete(ctx context.Context, collection string, docID string) error {
	return o.enqueue(ctx, Record{Collection: collection, DocID: docID, Op: OpDelete})
}

func (o *Outbox) enqueue(ctx context.Context, rec Record) error {
	if rec.DocID == "" {
		return fmt.Errorf("%w: mirror record without document id", store.ErrInvalidRecord)
	}
	seq, err := o.store.NextSequence(ctx, store.Outbox)
	if err != nil {
		return fmt.Errorf("enqueue mirror of %s/%s: %w", rec.Collection, rec.DocID, err)
	}
	now := o.now().UTC()
	rec.Seq = seq
	rec.ID = xid.New()
	rec.CreatedAt = now
	rec.NextAttemptAt = now
	doc, err := store.Encode(rec)
	if err != nil {
		return err
	}
	if err := o.store.Put(ctx, store.Outbox, rec.ID, doc); err != nil {
		return fmt.Errorf("enqueue mirror of %s/%s: %w", rec.Collection, rec.DocID, err)
	}
	return nil
}

// Drain delivers every due record once. Only the newest record per
// document is delivered; older ones are dropped so a retried record never
// overwrites a newer copy. Failed records are rescheduled with exponential
// backoff.
func (o *Outbox) Drain(ctx context.Context) (Result, error) {
	var res Result
	records, err := o.list(ctx)
	if err != nil {
		return res, err
	}

	latest := make(map[string]int64, len(records))
	for _, rec := range records {
		latest[rec.key()] = max(latest[rec.key()], rec.Seq)
	}

	now := o.now().UTC()
	for _, rec := range records {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if rec.Seq < latest[rec.key()] {
			o.clear(ctx, rec)
			res.Superseded++
			continue
		}
		if rec.NextAttemptAt.After(now) {
			res.Pending++
			continue
		}

		if err := o.deliver(ctx, rec); err != nil {
			res.Failed++
			res.Pending++
			o.reschedule(ctx, rec, err)
			continue
		}
		o.clear(ctx, rec)
		res.Delivered++
	}
	return res, nil
}

func (r Record) key() string {
	return r.Collection + "/" + r.DocID
}

func (o *Outbox) clear(ctx context.Context, rec Record) {
	if err := o.store.Delete(ctx, store.Outbox, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		o.logger.Warn("mirror record could not be cleared", zap.String("record_id", rec.ID), zap.Error(err))
	}
}

func (o *Outbox) list(ctx context.Context) ([]Record, error) {
	docs, err := o.store.List(ctx, store.Outbox, store.Query{})
	if err != nil {
		return nil, fmt.Errorf("list mirror outbox: %w", err)
	}
	records := make([]Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := store.Decode[Record](doc)
		if err != nil {
			o.logger.Warn("dropping malformed mirror record", zap.String("record_id", doc.ID()), zap.Error(err))
			_ = o.store.Delete(ctx, store.Outbox, doc.ID())
			continue
		}
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b Record) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return records, nil
}

func (o *Outbox) deliver(ctx context.Context, rec Record) error {
	central := store.CentralCollection(rec.Collection)
	if rec.Op == OpDelete {
		if err := o.store.Delete(ctx, central, rec.DocID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	}
	payload := rec.Payload.Clone()
	if payload == nil {
		payload = store.Document{}
	}
	payload["syncedAt"] = o.now().UTC().Format(time.RFC3339Nano)
	return o.store.Put(ctx, central, rec.DocID, payload)
}

func (o *Outbox) reschedule(ctx context.Context, rec Record, cause error) {
	rec.Attempts++
	rec.LastError = cause.Error()
	rec.NextAttemptAt = o.now().UTC().Add(o.backoff(rec.Attempts))

	o.logger.Warn("central mirror delivery failed",
		zap.String("collection", rec.Collection),
		zap.String("doc_id", rec.DocID),
		zap.Int("attempts", rec.Attempts),
		zap.Error(cause),
	)

	doc, err := store.Encode(rec)
	if err != nil {
		return
	}
	if err := o.store.Put(ctx, store.Outbox, rec.ID, doc); err != nil {
		o.logger.Warn("failed to reschedule mirror record", zap.String("record_id", rec.ID), zap.Error(err))
	}
}

func (o *Outbox) backoff(attempts int) time.Duration {
	delay := o.baseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= o.maxDelay {
			return o.maxDelay
		}
	}
	return delay
}

// Pending counts records still waiting for delivery.
func (o *Outbox) Pending(ctx context.Context) (int, error) {
	records, err := o.list(ctx)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Run drains on every tick until ctx is cancelled.
func (o *Outbox) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.logger.Info("starting central mirror drain", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("stopping central mirror drain")
			return
		case <-ticker.C:
			res, err := o.Drain(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				o.logger.Error("central mirror drain failed", zap.Error(err))
				continue
			}
			if res.Delivered > 0 || res.Failed > 0 {
				o.logger.Info("central mirror drained",
					zap.Int("delivered", res.Delivered),
					zap.Int("failed", res.Failed),
					zap.Int("pending", res.Pending),
				)
			}
		}
	}
}
