package gateway

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"vendify/internal/domain"
	"vendify/internal/store"
	"vendify/internal/xid"
)

// Filters narrow a list read. From and To bound createdAt inclusively; a
// zero value leaves that side open.
type Filters struct {
	From  time.Time
	To    time.Time
	Where map[string]string
}

// Collection implements create/list/get/update/delete once for every
// record type.
type Collection[T any] struct {
	g        *Gateway
	name     string
	fallback bool
	scoped   bool
}

func newCollection[T any](g *Gateway, name string, fallback bool) *Collection[T] {
	return &Collection[T]{g: g, name: name, fallback: fallback, scoped: name != store.Users}
}

func (c *Collection[T]) Name() string {
	return c.name
}

// Create validates rec, assigns an id when missing, stamps branch identity
// and timestamps, persists it and mirrors it to the central collection when
// the branch is not central.
func (c *Collection[T]) Create(ctx context.Context, scope domain.BranchScope, rec T) (T, error) {
	var zero T
	if err := domain.Validate(rec); err != nil {
		return zero, err
	}
	doc, err := store.Encode(rec)
	if err != nil {
		return zero, err
	}

	id := doc.ID()
	if id == "" {
		id = xid.New()
	}
	now := c.g.now().UTC().Format(time.RFC3339Nano)
	doc["id"] = id
	if isZeroTime(doc.String("createdAt")) {
		doc["createdAt"] = now
	}
	doc["updatedAt"] = now
	if c.name == store.Inventory {
		doc["version"] = int64(0)
	}
	if c.scoped {
		tag := scope.Tag()
		doc["branchId"] = tag.BranchID
		doc["branchCode"] = tag.BranchCode
		doc["branchName"] = tag.BranchName
	}

	if err := c.put(ctx, id, doc); err != nil {
		return zero, wrapOp("create", c.name, err)
	}
	c.mirror(ctx, scope, doc)
	return store.Decode[T](doc)
}

// List returns the records visible in scope. Read failures are logged and
// yield an empty result.
func (c *Collection[T]) List(ctx context.Context, scope domain.BranchScope, f Filters) []T {
	out, err := c.Find(ctx, scope, f)
	if err != nil {
		c.g.logger.Warn("list failed, returning empty result",
			zap.String("collection", c.name),
			zap.String("branch_id", scope.Branch.ID),
			zap.Error(err),
		)
		return []T{}
	}
	return out
}

// Find is List with the read error surfaced, newest records first.
func (c *Collection[T]) Find(ctx context.Context, scope domain.BranchScope, f Filters) ([]T, error) {
	q := store.Query{}
	if c.scoped && !scope.All() && scope.Branch.ID != "" {
		q = q.And("branchId", scope.Branch.ID)
	}
	keys := make([]string, 0, len(f.Where))
	for k := range f.Where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q = q.And(k, f.Where[k])
	}
	ranged := !f.From.IsZero() || !f.To.IsZero()

	docs, err := c.g.store.List(ctx, c.name, q)
	if c.fallback && c.g.local != c.g.store {
		if err != nil {
			c.g.logger.Warn("remote read failed, using local copy", zap.String("collection", c.name), zap.Error(err))
			docs, err = c.g.local.List(ctx, c.name, q)
		} else {
			docs = c.mergeLocal(ctx, q, docs)
		}
	}
	if err != nil {
		return nil, err
	}

	type dated struct {
		at  time.Time
		rec T
	}
	rows := make([]dated, 0, len(docs))
	for _, doc := range docs {
		at, _ := time.Parse(time.RFC3339Nano, doc.String("createdAt"))
		if ranged && !inRange(at, f.From, f.To) {
			continue
		}
		rec, err := store.Decode[T](doc)
		if err != nil {
			c.g.logger.Warn("skipping malformed record", zap.String("collection", c.name), zap.String("doc_id", doc.ID()), zap.Error(err))
			continue
		}
		rows = append(rows, dated{at: at, rec: rec})
	}
	slices.SortStableFunc(rows, func(a, b dated) int {
		return b.at.Compare(a.at)
	})

	out := make([]T, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.rec)
	}
	return out, nil
}

func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	doc, err := c.getDoc(ctx, id)
	if err != nil {
		return zero, wrapOp("get", c.name, err)
	}
	return store.Decode[T](doc)
}

// mergeLocal adds records saved locally while the remote store was
// unreachable and pushes each of them back to the remote store.
func (c *Collection[T]) mergeLocal(ctx context.Context, q store.Query, remote []store.Document) []store.Document {
	localDocs, err := c.g.local.List(ctx, c.name, q)
	if err != nil || len(localDocs) == 0 {
		return remote
	}
	seen := make(map[string]struct{}, len(remote))
	for _, doc := range remote {
		seen[doc.ID()] = struct{}{}
	}
	for _, doc := range localDocs {
		id := doc.ID()
		if _, ok := seen[id]; ok {
			continue
		}
		remote = append(remote, doc)
		if err := c.g.store.Put(ctx, c.name, id, doc); err != nil {
			c.g.logger.Warn("local record not yet pushed to remote", zap.String("collection", c.name), zap.String("doc_id", id), zap.Error(err))
			continue
		}
		if err := c.g.local.Delete(ctx, c.name, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			c.g.logger.Warn("pushed local record could not be cleared", zap.String("collection", c.name), zap.String("doc_id", id), zap.Error(err))
		}
	}
	return remote
}

// Update merges patch into the stored record. The id, creation time,
// branch identity and stock version of a record never change through a
// patch; inventory versions advance on every write.
func (c *Collection[T]) Update(ctx context.Context, scope domain.BranchScope, id string, patch map[string]any) (T, error) {
	var zero T
	doc, err := c.getDoc(ctx, id)
	if err != nil {
		return zero, wrapOp("update", c.name, err)
	}

	encoded, err := store.Encode(patch)
	if err != nil {
		return zero, err
	}
	for k, v := range encoded {
		switch k {
		case "id", "createdAt", "branchId", "branchCode", "branchName", "version":
			continue
		}
		doc[k] = v
	}
	if c.name == store.Inventory {
		doc["version"] = doc.Int("version") + 1
	}
	doc["updatedAt"] = c.g.now().UTC().Format(time.RFC3339Nano)

	rec, err := store.Decode[T](doc)
	if err != nil {
		return zero, err
	}
	if err := domain.Validate(rec); err != nil {
		return zero, err
	}
	if err := c.put(ctx, id, doc); err != nil {
		return zero, wrapOp("update", c.name, err)
	}
	c.mirror(ctx, scope, doc)
	return rec, nil
}

// Delete hard-deletes the record and removes its central mirror copy.
func (c *Collection[T]) Delete(ctx context.Context, scope domain.BranchScope, id string) error {
	doc, _ := c.getDoc(ctx, id)
	err := c.g.store.Delete(ctx, c.name, id)
	if c.fallback && c.g.local != c.g.store {
		localErr := c.g.local.Delete(ctx, c.name, id)
		if err != nil && localErr == nil {
			err = nil
		}
	}
	if err != nil {
		return wrapOp("delete", c.name, err)
	}
	if doc != nil && c.mirrored(scope, doc) {
		c.g.enqueueMirrorDelete(ctx, c.name, id)
	}
	return nil
}

func (c *Collection[T]) getDoc(ctx context.Context, id string) (store.Document, error) {
	doc, err := c.g.store.Get(ctx, c.name, id)
	if err != nil && c.fallback && c.g.local != c.g.store {
		if localDoc, localErr := c.g.local.Get(ctx, c.name, id); localErr == nil {
			return localDoc, nil
		}
	}
	return doc, err
}

func (c *Collection[T]) put(ctx context.Context, id string, doc store.Document) error {
	err := c.g.store.Put(ctx, c.name, id, doc)
	if err == nil || !c.fallback || c.g.local == c.g.store || isRecordError(err) {
		return err
	}
	c.g.logger.Warn("remote write failed, saving locally",
		zap.String("collection", c.name),
		zap.String("doc_id", id),
		zap.Error(err),
	)
	return c.g.local.Put(ctx, c.name, id, doc)
}

func (c *Collection[T]) mirror(ctx context.Context, scope domain.BranchScope, doc store.Document) {
	if c.mirrored(scope, doc) {
		c.g.enqueueMirror(ctx, c.name, doc)
	}
}

// mirrored reports whether doc belongs to a non-central branch.
func (c *Collection[T]) mirrored(scope domain.BranchScope, doc store.Document) bool {
	if !c.scoped || scope.Central.ID == "" {
		return false
	}
	branchID := doc.String("branchId")
	return branchID != "" && branchID != scope.Central.ID
}

func isZeroTime(s string) bool {
	return s == "" || strings.HasPrefix(s, "0001-01-01")
}

func inRange(at time.Time, from time.Time, to time.Time) bool {
	if at.IsZero() {
		return false
	}
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && at.After(to) {
		return false
	}
	return true
}
