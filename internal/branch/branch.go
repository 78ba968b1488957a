// Package branch tracks the branch roster and the terminal's active branch
// selection, and tells subscribers whenever either changes.
package branch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"vendify/internal/domain"
	"vendify/internal/store"
	"vendify/internal/xid"
)

const (
	selectionKey     = "currentBranch"
	codeSequence     = "branch_code"
	defaultCentralID = "branch-main"
)

type EventKind string

const (
	BranchesUpdated EventKind = "branchesUpdated"
	BranchChanged   EventKind = "branchChanged"
)

// Event always carries the full roster and the selection, never a delta.
type Event struct {
	Kind     EventKind       `json:"kind"`
	Branches []domain.Branch `json:"branches"`
	Current  domain.Branch   `json:"current"`
}

type Context struct {
	mu       sync.RWMutex
	store    store.DocumentStore
	fallback store.DocumentStore
	values   store.ValueStore
	logger   *zap.Logger
	now      func() time.Time

	branches []domain.Branch
	current  domain.Branch

	listenerMu sync.Mutex
	nextID     int
	callbacks  map[int]func(Event)
	channels   map[int]chan Event
}

// New wires the context to the active store. fallback holds the local copy
// of the roster used when the store cannot be read; values persists the
// selection on this device. Either may be nil.
func New(docs store.DocumentStore, fallback store.DocumentStore, values store.ValueStore, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		store:     docs,
		fallback:  fallback,
		values:    values,
		logger:    logger.Named("branch"),
		now:       time.Now,
		callbacks: make(map[int]func(Event)),
		channels:  make(map[int]chan Event),
	}
}

// Initialize loads the roster, creates the default central branch when the
// roster is empty and restores the persisted selection. It never fails: on
// store errors it falls back to the local roster and, failing that, to an
// in-memory default central branch.
func (c *Context) Initialize(ctx context.Context) {
	branches, err := c.loadRoster(ctx, c.store)
	switch {
	case err != nil:
		c.logger.Warn("branch roster unavailable, using local copy", zap.Error(err))
		branches = c.loadFallback(ctx)
		if len(branches) == 0 {
			branches = []domain.Branch{c.defaultCentral()}
		}
	case len(branches) == 0:
		central := c.defaultCentral()
		if err := c.putBranch(ctx, central); err != nil {
			c.logger.Warn("failed to persist default central branch", zap.Error(err))
		}
		branches = []domain.Branch{central}
	default:
		c.mirrorRoster(ctx, branches)
	}

	selected := c.restoreSelection(ctx, branches)

	c.mu.Lock()
	c.branches = branches
	c.current = selected
	c.mu.Unlock()

	c.emit(BranchesUpdated)
}

func (c *Context) defaultCentral() domain.Branch {
	now := c.now().UTC()
	return domain.Branch{
		ID:        defaultCentralID,
		Code:      "MAIN",
		Name:      "Main Branch",
		IsCentral: true,
		Status:    domain.BranchStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *Context) loadRoster(ctx context.Context, docs store.DocumentStore) ([]domain.Branch, error) {
	if docs == nil {
		return nil, store.ErrStoreUnavailable
	}
	raw, err := docs.List(ctx, store.Branches, store.Query{})
	if err != nil {
		return nil, err
	}
	branches := make([]domain.Branch, 0, len(raw))
	for _, doc := range raw {
		b, err := store.Decode[domain.Branch](doc)
		if err != nil {
			c.logger.Warn("skipping malformed branch record", zap.String("branch_id", doc.ID()), zap.Error(err))
			continue
		}
		branches = append(branches, b)
	}
	sortRoster(branches)
	return branches, nil
}

func (c *Context) loadFallback(ctx context.Context) []domain.Branch {
	if c.fallback == nil || c.fallback == c.store {
		return nil
	}
	branches, err := c.loadRoster(ctx, c.fallback)
	if err != nil {
		c.logger.Warn("local branch roster unavailable", zap.Error(err))
		return nil
	}
	return branches
}

func (c *Context) mirrorRoster(ctx context.Context, branches []domain.Branch) {
	if c.fallback == nil || c.fallback == c.store {
		return
	}
	for _, b := range branches {
		doc, err := store.Encode(b)
		if err != nil {
			continue
		}
		if err := c.fallback.Put(ctx, store.Branches, b.ID, doc); err != nil {
			c.logger.Warn("failed to mirror branch locally", zap.String("branch_id", b.ID), zap.Error(err))
			return
		}
	}
}

// restoreSelection reads the saved branch back. Older terminals saved a
// bare id, so a value that is not a JSON object is taken as the id. The
// roster copy wins over the saved one when both exist.
func (c *Context) restoreSelection(ctx context.Context, branches []domain.Branch) domain.Branch {
	if c.values != nil {
		raw, err := c.values.LoadValue(ctx, selectionKey)
		if err == nil && raw != "" {
			id := raw
			var saved domain.Branch
			if json.Unmarshal([]byte(raw), &saved) == nil && saved.ID != "" {
				id = saved.ID
			}
			if id == domain.AllBranchesID {
				return domain.AllBranches()
			}
			if b, ok := findBranch(branches, id); ok {
				return b
			}
		}
	}
	if len(branches) == 0 {
		return domain.Branch{}
	}
	return branches[0]
}

// persistSelection saves the whole branch record as JSON under currentBranch.
func (c *Context) persistSelection(ctx context.Context, b domain.Branch) {
	if c.values == nil {
		return
	}
	raw, err := json.Marshal(b)
	if err == nil {
		err = c.values.SaveValue(ctx, selectionKey, string(raw))
	}
	if err != nil {
		c.logger.Warn("failed to persist branch selection", zap.String("branch_id", b.ID), zap.Error(err))
	}
}

// SwitchBranch selects the branch with the given id. It reports false, and
// changes nothing, when no such branch exists.
func (c *Context) SwitchBranch(ctx context.Context, id string) bool {
	c.mu.Lock()
	b, ok := findBranch(c.branches, id)
	if ok {
		c.current = b
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	c.persistSelection(ctx, b)
	c.logger.Info("branch switched", zap.String("branch_id", b.ID), zap.String("branch_code", b.Code))
	c.emit(BranchChanged)
	return true
}

func (c *Context) SetViewAllBranches(ctx context.Context) {
	c.mu.Lock()
	c.current = domain.AllBranches()
	c.mu.Unlock()

	c.persistSelection(ctx, domain.AllBranches())
	c.emit(BranchChanged)
}

func (c *Context) CurrentBranch() (domain.Branch, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.current, c.current.ID != ""
}

func (c *Context) IsAllBranches() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.current.IsAll()
}

func (c *Context) CentralBranch() (domain.Branch, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return centralOf(c.branches)
}

func (c *Context) GetAllBranches() []domain.Branch {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.branches)
}

func (c *Context) GetBranchByID(id string) (domain.Branch, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return findBranch(c.branches, id)
}

// Snapshot captures the selection for a single operation so a concurrent
// switch cannot change the branch mid-write.
func (c *Context) Snapshot() domain.BranchScope {
	c.mu.RLock()
	defer c.mu.RUnlock()

	central, _ := centralOf(c.branches)
	return domain.BranchScope{Branch: c.current, Central: central}
}

// ScopeFor builds a scope for an explicit branch id, or the pseudo-branch
// for "all". Unknown ids report false.
func (c *Context) ScopeFor(id string) (domain.BranchScope, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	central, _ := centralOf(c.branches)
	if id == domain.AllBranchesID {
		return domain.BranchScope{Branch: domain.AllBranches(), Central: central}, true
	}
	b, ok := findBranch(c.branches, id)
	if !ok {
		return domain.BranchScope{}, false
	}
	return domain.BranchScope{Branch: b, Central: central}, true
}

func (c *Context) CreateBranch(ctx context.Context, input domain.BranchInput) (domain.Branch, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := domain.Validate(input); err != nil {
		return domain.Branch{}, err
	}

	if _, hasCentral := c.CentralBranch(); input.IsCentral && hasCentral {
		return domain.Branch{}, fmt.Errorf("%w: a central branch already exists", domain.ErrValidation)
	}

	code := strings.TrimSpace(input.Code)
	if !input.IsCentral || code == "" {
		if input.IsCentral {
			code = "MAIN"
		} else {
			seq, err := c.store.NextSequence(ctx, codeSequence)
			if err != nil {
				return domain.Branch{}, fmt.Errorf("allocate branch code: %w", err)
			}
			// The central branch holds the first slot.
			code = xid.Code("BR", seq+1)
		}
	}

	now := c.now().UTC()
	status := input.Status
	if status == "" {
		status = domain.BranchStatusActive
	}
	b := domain.Branch{
		ID:        xid.New(),
		Code:      code,
		Name:      input.Name,
		IsCentral: input.IsCentral,
		Address:   input.Address,
		Phone:     input.Phone,
		Manager:   input.Manager,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := domain.Validate(b); err != nil {
		return domain.Branch{}, err
	}
	if err := c.putBranch(ctx, b); err != nil {
		return domain.Branch{}, err
	}

	c.reload(ctx)
	return b, nil
}

func (c *Context) UpdateBranch(ctx context.Context, id string, patch domain.BranchPatch) (domain.Branch, error) {
	if err := domain.Validate(patch); err != nil {
		return domain.Branch{}, err
	}
	b, ok := c.GetBranchByID(id)
	if !ok {
		return domain.Branch{}, store.ErrNotFound
	}
	if patch.IsCentral != nil && *patch.IsCentral != b.IsCentral {
		return domain.Branch{}, fmt.Errorf("%w: the central flag cannot be moved", domain.ErrProtectedEntity)
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return domain.Branch{}, fmt.Errorf("%w: name is required", domain.ErrValidation)
		}
		b.Name = name
	}
	if patch.Address != nil {
		b.Address = *patch.Address
	}
	if patch.Phone != nil {
		b.Phone = *patch.Phone
	}
	if patch.Manager != nil {
		b.Manager = *patch.Manager
	}
	if patch.Status != nil {
		b.Status = *patch.Status
	}
	b.UpdatedAt = c.now().UTC()

	if err := c.putBranch(ctx, b); err != nil {
		return domain.Branch{}, err
	}
	c.reload(ctx)
	return b, nil
}

func (c *Context) DeleteBranch(ctx context.Context, id string) error {
	b, ok := c.GetBranchByID(id)
	if !ok {
		return store.ErrNotFound
	}
	if b.IsCentral {
		return domain.ErrProtectedEntity
	}
	if err := c.store.Delete(ctx, store.Branches, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if c.fallback != nil && c.fallback != c.store {
		if err := c.fallback.Delete(ctx, store.Branches, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("failed to delete local branch copy", zap.String("branch_id", id), zap.Error(err))
		}
	}

	c.reload(ctx)

	if current, _ := c.CurrentBranch(); current.ID == id {
		if central, ok := c.CentralBranch(); ok {
			c.SwitchBranch(ctx, central.ID)
		}
	}
	return nil
}

func (c *Context) putBranch(ctx context.Context, b domain.Branch) error {
	doc, err := store.Encode(b)
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, store.Branches, b.ID, doc); err != nil {
		return err
	}
	if c.fallback != nil && c.fallback != c.store {
		if err := c.fallback.Put(ctx, store.Branches, b.ID, doc); err != nil {
			c.logger.Warn("failed to mirror branch locally", zap.String("branch_id", b.ID), zap.Error(err))
		}
	}
	return nil
}

// reload re-reads the roster after an admin change and refreshes the
// selection so it never points at stale branch data.
func (c *Context) reload(ctx context.Context) {
	branches, err := c.loadRoster(ctx, c.store)
	if err != nil {
		c.logger.Warn("failed to reload branch roster", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.branches = branches
	if !c.current.IsAll() {
		if b, ok := findBranch(branches, c.current.ID); ok {
			c.current = b
		}
	}
	c.mu.Unlock()

	c.emit(BranchesUpdated)
}

// OnBranchesUpdated registers a callback for every roster or selection
// change. The returned func unregisters it.
func (c *Context) OnBranchesUpdated(fn func(Event)) func() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	id := c.nextID
	c.nextID++
	c.callbacks[id] = fn
	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		delete(c.callbacks, id)
	}
}

// Subscribe returns a buffered channel of events. Slow subscribers miss
// events rather than block the sender; every event carries full state so a
// later one supersedes what was missed.
func (c *Context) Subscribe() (<-chan Event, func()) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan Event, 8)
	c.channels[id] = ch
	return ch, func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		if existing, ok := c.channels[id]; ok {
			delete(c.channels, id)
			close(existing)
		}
	}
}

func (c *Context) emit(kind EventKind) {
	c.mu.RLock()
	evt := Event{Kind: kind, Branches: slices.Clone(c.branches), Current: c.current}
	c.mu.RUnlock()

	c.listenerMu.Lock()
	callbacks := make([]func(Event), 0, len(c.callbacks))
	for _, fn := range c.callbacks {
		callbacks = append(callbacks, fn)
	}
	for _, ch := range c.channels {
		select {
		case ch <- evt:
		default:
		}
	}
	c.listenerMu.Unlock()

	for _, fn := range callbacks {
		fn(evt)
	}
}

func findBranch(branches []domain.Branch, id string) (domain.Branch, bool) {
	for _, b := range branches {
		if b.ID == id {
			return b, true
		}
	}
	return domain.Branch{}, false
}

func centralOf(branches []domain.Branch) (domain.Branch, bool) {
	for _, b := range branches {
		if b.IsCentral {
			return b, true
		}
	}
	return domain.Branch{}, false
}

// sortRoster puts the central branch first, then orders by code.
func sortRoster(branches []domain.Branch) {
	slices.SortFunc(branches, func(a, b domain.Branch) int {
		if a.IsCentral != b.IsCentral {
			if a.IsCentral {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Code, b.Code)
	})
}
