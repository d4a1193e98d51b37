// Package session binds an authenticated session identity to exactly one
// site-analysis record.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"wellfed/api/internal/auth"
	"wellfed/api/internal/store"
)

// ErrNotBound is returned by operations that need a record before one exists
// or after binding failed.
var ErrNotBound = errors.New("session is not bound to a record")

type State int

const (
	StateUnbound State = iota
	StateCreating
	StateBound
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateCreating:
		return "creating"
	case StateBound:
		return "bound"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IdentitySource is the identity collaborator. auth.Provider implements it.
type IdentitySource interface {
	OnIdentityChange(listener func(auth.Identity)) (unsubscribe func())
	Current() (auth.Identity, bool)
	SignInAnonymous(ctx context.Context) (auth.Identity, error)
	SignInWithToken(ctx context.Context, token string) (auth.Identity, error)
}

type RecordCreator interface {
	CreateRecord(ctx context.Context, path store.Path, initial store.Record) (store.Path, error)
}

type Binder struct {
	identities   IdentitySource
	records      RecordCreator
	namespace    string
	initialToken string
	logger       *zap.Logger
	now          func() time.Time

	mu          sync.Mutex
	ctx         context.Context
	state       State
	identity    auth.Identity
	path        store.Path
	err         error
	unsubscribe func()

	bound     chan struct{}
	boundOnce sync.Once
}

// NewBinder returns an unbound binder. namespace is the application id that
// prefixes every record path; initialToken, when set, is tried before
// anonymous sign-in.
func NewBinder(identities IdentitySource, records RecordCreator, namespace, initialToken string, logger *zap.Logger) *Binder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binder{
		identities:   identities,
		records:      records,
		namespace:    namespace,
		initialToken: initialToken,
		logger:       logger,
		now:          time.Now,
		bound:        make(chan struct{}),
	}
}

// Start registers for identity changes and signs in when no identity is
// present yet. Sign-in failures are logged; the binder then stays unbound.
func (b *Binder) Start(ctx context.Context) {
	b.mu.Lock()
	if b.unsubscribe != nil {
		b.mu.Unlock()
		return
	}
	b.ctx = context.WithoutCancel(ctx)
	b.unsubscribe = func() {}
	b.mu.Unlock()

	unsubscribe := b.identities.OnIdentityChange(b.onIdentity)
	b.mu.Lock()
	b.unsubscribe = unsubscribe
	b.mu.Unlock()

	if _, ok := b.identities.Current(); ok {
		return
	}
	if b.initialToken != "" {
		if _, err := b.identities.SignInWithToken(ctx, b.initialToken); err != nil {
			b.logger.Error("custom token sign-in failed", zap.Error(err))
		}
		return
	}
	if _, err := b.identities.SignInAnonymous(ctx); err != nil {
		b.logger.Error("anonymous sign-in failed", zap.Error(err))
	}
}

func (b *Binder) onIdentity(identity auth.Identity) {
	if identity.SessionID == "" {
		return
	}
	b.mu.Lock()
	if b.state != StateUnbound {
		b.mu.Unlock()
		return
	}
	b.state = StateCreating
	b.identity = identity
	ctx := b.ctx
	b.mu.Unlock()

	go b.create(ctx, identity)
}

func (b *Binder) create(ctx context.Context, identity auth.Identity) {
	collection := store.Path{Namespace: b.namespace, SessionID: identity.SessionID}
	path, err := b.records.CreateRecord(ctx, collection, store.Record{
		FormData:  map[string]any{},
		Status:    store.StatusInProgress,
		CreatedAt: b.now().UTC(),
	})

	b.mu.Lock()
	if err != nil {
		b.state = StateFailed
		b.err = fmt.Errorf("create record: %w", err)
	} else {
		b.state = StateBound
		b.path = path
	}
	b.mu.Unlock()

	if err != nil {
		b.logger.Error("record creation failed", zap.String("session_id", identity.SessionID), zap.Error(err))
	} else {
		b.logger.Info("session bound to record", zap.String("session_id", identity.SessionID), zap.String("path", path.String()))
	}
	b.boundOnce.Do(func() { close(b.bound) })
}

// Bound is closed once the binder reaches StateBound or StateFailed.
func (b *Binder) Bound() <-chan struct{} {
	return b.bound
}

// Wait blocks until the binder settles or ctx is done and returns the bound
// record path.
func (b *Binder) Wait(ctx context.Context) (store.Path, error) {
	select {
	case <-b.bound:
	case <-ctx.Done():
		return store.Path{}, ctx.Err()
	}
	if path, ok := b.Path(); ok {
		return path, nil
	}
	if err := b.Err(); err != nil {
		return store.Path{}, fmt.Errorf("%w: %w", ErrNotBound, err)
	}
	return store.Path{}, ErrNotBound
}

func (b *Binder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Binder) Path() (store.Path, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path, b.state == StateBound
}

func (b *Binder) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Binder) Identity() (auth.Identity, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.identity, b.identity.SessionID != ""
}

// Close stops listening for identity changes.
func (b *Binder) Close() {
	b.mu.Lock()
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}
