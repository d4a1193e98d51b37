// Package auth issues and verifies session tokens and tracks the current
// session identity.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"wellfed/api/internal/util"
)

// Identity is the opaque session identity. It never changes once a session
// has signed in.
type Identity struct {
	SessionID string
	Anonymous bool
}

// Provider is the in-process identity collaborator: it signs sessions in
// anonymously or from a signed custom token and notifies listeners when the
// identity changes.
type Provider struct {
	secret []byte
	ttl    time.Duration
	logger *zap.Logger

	mu        sync.Mutex
	current   *Identity
	listeners map[int]func(Identity)
	nextID    int

	// held while listeners run so notifications never interleave
	notifyMu sync.Mutex
}

func NewProvider(secret []byte, ttl time.Duration, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		secret:    secret,
		ttl:       ttl,
		logger:    logger,
		listeners: make(map[int]func(Identity)),
	}
}

// OnIdentityChange registers listener. If an identity is already present the
// listener is called with it before OnIdentityChange returns. Listeners must
// not sign in from inside the callback.
func (p *Provider) OnIdentityChange(listener func(Identity)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = listener
	current := p.current
	p.mu.Unlock()

	if current != nil {
		p.notifyMu.Lock()
		listener(*current)
		p.notifyMu.Unlock()
	}

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Provider) Current() (Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Identity{}, false
	}
	return *p.current, true
}

func (p *Provider) SignInAnonymous(ctx context.Context) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	identity := Identity{SessionID: util.NewID("anon"), Anonymous: true}
	p.setCurrent(identity)
	p.logger.Info("signed in anonymously", zap.String("session_id", identity.SessionID))
	return identity, nil
}

func (p *Provider) SignInWithToken(ctx context.Context, token string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	claims, err := ParseToken(p.secret, token)
	if err != nil {
		return Identity{}, fmt.Errorf("sign in with token: %w", err)
	}
	identity := Identity{SessionID: claims.Sub, Anonymous: claims.Anonymous}
	p.setCurrent(identity)
	p.logger.Info("signed in with token", zap.String("session_id", identity.SessionID))
	return identity, nil
}

// IssueToken returns a token that signs the same identity back in later.
func (p *Provider) IssueToken(identity Identity) (string, error) {
	return IssueToken(p.secret, Claims{
		Sub:       identity.SessionID,
		Anonymous: identity.Anonymous,
		JTI:       util.NewID("jti"),
		Exp:       time.Now().Add(p.ttl).Unix(),
	})
}

func (p *Provider) setCurrent(identity Identity) {
	p.mu.Lock()
	p.current = &identity
	listeners := make([]func(Identity), 0, len(p.listeners))
	for _, listener := range p.listeners {
		listeners = append(listeners, listener)
	}
	p.mu.Unlock()

	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	for _, listener := range listeners {
		listener(identity)
	}
}
