// Package coordinator owns the local working copy of one record and keeps it
// in step with the remote document: snapshots replace it, saves merge it back.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wellfed/api/internal/form"
	"wellfed/api/internal/schema"
	"wellfed/api/internal/session"
	"wellfed/api/internal/store"
)

var ErrUnknownField = errors.New("unknown field")

// Policy decides what a remote snapshot does to unsaved local edits.
type Policy string

const (
	// PolicyOverwrite replaces the working copy with every snapshot, even
	// when that discards edits not yet saved.
	PolicyOverwrite Policy = "overwrite"
	// PolicyDropWhileDirty ignores snapshots while local edits are unsaved.
	PolicyDropWhileDirty Policy = "drop-while-dirty"
)

func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyOverwrite:
		return PolicyOverwrite, nil
	case PolicyDropWhileDirty:
		return PolicyDropWhileDirty, nil
	default:
		return "", fmt.Errorf("unknown snapshot policy %q", value)
	}
}

// SaveHook observes successful saves. Hooks run after Save returns and their
// errors are only logged.
type SaveHook interface {
	RecordSaved(ctx context.Context, path store.Path, formData map[string]any, savedAt time.Time) error
}

type SaveHookFunc func(ctx context.Context, path store.Path, formData map[string]any, savedAt time.Time) error

func (f SaveHookFunc) RecordSaved(ctx context.Context, path store.Path, formData map[string]any, savedAt time.Time) error {
	return f(ctx, path, formData, savedAt)
}

type Options struct {
	Policy Policy
	Hooks  []SaveHook
	Logger *zap.Logger
	Now    func() time.Time
}

type Coordinator struct {
	schema *schema.Schema
	store  store.DocumentStore
	policy Policy
	hooks  []SaveHook
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	working     form.WorkingCopy
	path        store.Path
	hasPath     bool
	generation  int
	unsubscribe func()
	hydrated    chan struct{}
	editSeq     uint64
	savedSeq    uint64

	saving atomic.Int32
	hookWG sync.WaitGroup
}

func New(s *schema.Schema, docs store.DocumentStore, opts Options) *Coordinator {
	if opts.Policy == "" {
		opts.Policy = PolicyOverwrite
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		schema:  s,
		store:   docs,
		policy:  opts.Policy,
		hooks:   opts.Hooks,
		logger:  opts.Logger,
		now:     opts.Now,
		working: form.WorkingCopy{},
	}
}

// Subscribe points the coordinator at path and opens a live subscription,
// tearing down any previous one. It returns once the first snapshot has been
// applied, so edits made afterwards are never replaced by the initial state.
// ctx bounds the store's setup and that wait, not the subscription's life.
func (c *Coordinator) Subscribe(ctx context.Context, path store.Path) error {
	c.mu.Lock()
	previous := c.unsubscribe
	c.unsubscribe = nil
	c.markHydratedLocked()
	c.generation++
	gen := c.generation
	c.path = path
	c.hasPath = true
	hydrated := make(chan struct{})
	c.hydrated = hydrated
	c.mu.Unlock()

	if previous != nil {
		previous()
	}

	unsubscribe, err := c.store.Subscribe(ctx, path,
		func(s store.Snapshot) { c.applySnapshot(gen, s) },
		func(err error) {
			c.logger.Warn("record subscription error", zap.String("path", path.String()), zap.Error(err))
		},
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", path, err)
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		unsubscribe()
		return nil
	}
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	select {
	case <-hydrated:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("subscribe %s: waiting for first snapshot: %w", path, ctx.Err())
	}
}

// Hydrated is closed once the current subscription's first snapshot has been
// applied, or when that subscription is replaced or closed.
func (c *Coordinator) Hydrated() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hydrated == nil {
		c.hydrated = make(chan struct{})
	}
	return c.hydrated
}

func (c *Coordinator) markHydratedLocked() {
	if c.hydrated == nil {
		return
	}
	select {
	case <-c.hydrated:
	default:
		close(c.hydrated)
	}
}

func (c *Coordinator) applySnapshot(gen int, s store.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	defer c.markHydratedLocked()
	if !s.Exists {
		return
	}
	if c.policy == PolicyDropWhileDirty && c.editSeq != c.savedSeq {
		c.logger.Debug("snapshot dropped while local edits are unsaved", zap.String("path", s.Path.String()))
		return
	}
	c.working = form.DecodeFormData(s.Record.FormData)
	c.savedSeq = c.editSeq
}

// Edit applies op to the field's local value. The remote document is not
// touched until the next save.
func (c *Coordinator) Edit(fieldID string, op form.Edit) (form.Value, error) {
	field, ok := c.schema.Field(fieldID)
	if !ok {
		return form.Value{}, fmt.Errorf("%w: %q", ErrUnknownField, fieldID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasPath {
		return form.Value{}, session.ErrNotBound
	}
	next, err := form.Apply(field.Shape, c.working[fieldID], op)
	if err != nil {
		return form.Value{}, fmt.Errorf("edit %q: %w", fieldID, err)
	}
	c.working[fieldID] = next
	c.editSeq++
	return next.Clone(), nil
}

// Save merge-writes the whole working copy with status saved. Overlapping
// saves are not serialized; the store keeps whichever lands last.
func (c *Coordinator) Save(ctx context.Context) error {
	c.mu.Lock()
	if !c.hasPath {
		c.mu.Unlock()
		return session.ErrNotBound
	}
	path := c.path
	formData := c.working.Encode()
	seq := c.editSeq
	c.mu.Unlock()

	c.saving.Add(1)
	defer c.saving.Add(-1)

	savedAt := c.now().UTC()
	err := c.store.WriteRecord(ctx, path, store.Write{
		FormData:  formData,
		Status:    store.StatusSaved,
		UpdatedAt: savedAt,
	})
	if err != nil {
		c.logger.Error("save failed", zap.String("path", path.String()), zap.Error(err))
		return fmt.Errorf("save %s: %w", path, err)
	}

	c.mu.Lock()
	if seq > c.savedSeq {
		c.savedSeq = seq
	}
	c.mu.Unlock()

	c.logger.Debug("record saved", zap.String("path", path.String()), zap.Int("fields", len(formData)))
	c.runHooks(path, formData, savedAt)
	return nil
}

// SaveAsync starts a save and returns at once. The channel yields the save's
// result and is then closed.
func (c *Coordinator) SaveAsync(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- c.Save(ctx)
		close(done)
	}()
	return done
}

// Saving reports whether any save is in flight.
func (c *Coordinator) Saving() bool {
	return c.saving.Load() > 0
}

func (c *Coordinator) runHooks(path store.Path, formData map[string]any, savedAt time.Time) {
	if len(c.hooks) == 0 {
		return
	}
	c.hookWG.Add(1)
	go func() {
		defer c.hookWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var g errgroup.Group
		for _, hook := range c.hooks {
			g.Go(func() error {
				return hook.RecordSaved(ctx, path, formData, savedAt)
			})
		}
		if err := g.Wait(); err != nil {
			c.logger.Warn("save hook failed", zap.String("path", path.String()), zap.Error(err))
		}
	}()
}

// Value returns a copy of the field's current local value.
func (c *Coordinator) Value(fieldID string) (form.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.working[fieldID]
	return v.Clone(), ok
}

// WorkingCopy returns a deep copy of the local state.
func (c *Coordinator) WorkingCopy() form.WorkingCopy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.working.Clone()
}

// OtherVisible reports whether the "Other" companion of fieldID should be
// shown.
func (c *Coordinator) OtherVisible(fieldID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return form.OtherSelected(c.working[fieldID])
}

// Dirty reports whether local edits exist that neither a completed save nor
// a later snapshot covers.
func (c *Coordinator) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.editSeq != c.savedSeq
}

func (c *Coordinator) Path() (store.Path, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path, c.hasPath
}

// Close tears down the subscription and waits for running save hooks.
// In-flight saves finish on their own.
func (c *Coordinator) Close() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.markHydratedLocked()
	c.generation++
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	c.hookWG.Wait()
}
