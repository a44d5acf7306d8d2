// Package session gates a dashboard view on a verified identity.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/creditlens/internal/identity"
	"github.com/mbd888/creditlens/internal/metrics"
	"github.com/mbd888/creditlens/internal/syncutil"
)

// ErrClosed is returned by operations on a closed gate.
var ErrClosed = errors.New("session: gate closed")

// DefaultRecheckInterval is the minimum spacing between Refresh lookups.
const DefaultRecheckInterval = 5 * time.Second

// Decision is the outcome of an authorization check.
type Decision int

const (
	// Pending means identity resolution has not reported yet.
	Pending Decision = iota
	Allowed
	Denied
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "pending"
	}
}

// Session is a gate snapshot. A nil Identity means no one is signed in.
type Session struct {
	Identity  *identity.Identity `json:"identity"`
	Resolving bool               `json:"resolving"`
}

// Authenticated reports whether the session has a resolved identity.
func (s Session) Authenticated() bool {
	return !s.Resolving && s.Identity != nil
}

// Provider is the identity surface the gate depends on.
// *identity.Service satisfies it.
type Provider interface {
	Watch(token string, fn func(*identity.Identity)) (stop func())
	Resolve(ctx context.Context, token string) (*identity.Identity, error)
	SignOut(ctx context.Context, token string) error
}

// Gate tracks the identity behind one session token.
type Gate struct {
	provider Provider
	token    string
	logger   *slog.Logger
	viewID   string
	recheck  time.Duration
	now      func() time.Time

	mu         sync.Mutex
	sess       Session
	redirected bool // onUnauthorized already fired for the current absence
	closed     bool
	resolved   chan struct{}
	stop       func()
	checkedAt  time.Time

	changes syncutil.Notifier[Session]
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate's logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithViewID tags gate logs with the owning view.
func WithViewID(id string) Option {
	return func(g *Gate) { g.viewID = id }
}

// WithRecheckInterval sets how stale the last identity check may get before
// Refresh asks the provider again. Zero rechecks on every call.
func WithRecheckInterval(d time.Duration) Option {
	return func(g *Gate) {
		if d >= 0 {
			g.recheck = d
		}
	}
}

// NewGate starts resolving token through p. The gate is Resolving until the
// provider's first report.
func NewGate(p Provider, token string, opts ...Option) *Gate {
	g := &Gate{
		provider: p,
		token:    token,
		logger:   slog.Default(),
		recheck:  DefaultRecheckInterval,
		now:      time.Now,
		sess:     Session{Resolving: true},
		resolved: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.viewID != "" {
		g.logger = g.logger.With("view_id", g.viewID)
	}

	stop := p.Watch(token, g.update)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		stop()
		return g
	}
	g.stop = stop
	g.mu.Unlock()
	return g
}

func (g *Gate) update(id *identity.Identity) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	wasResolving := g.sess.Resolving
	g.sess = Session{Identity: id}
	g.checkedAt = g.now()
	if id != nil {
		g.redirected = false
	}
	if wasResolving {
		close(g.resolved)
	}
	g.changes.Enqueue(g.sess)
	g.mu.Unlock()

	if id == nil {
		g.logger.Debug("session identity absent")
	} else {
		g.logger.Debug("session identity resolved", "user_id", id.UserID)
	}
	g.changes.Flush()
}

// Current returns the latest snapshot without blocking.
func (g *Gate) Current() Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sess
}

// Resolved reports whether the provider has reported at least once.
func (g *Gate) Resolved() bool {
	select {
	case <-g.resolved:
		return true
	default:
		return false
	}
}

// Wait blocks until the first report or until ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.resolved:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh re-resolves the token through the provider so that an expired or
// revoked session loses its identity even when no watch report arrives. It
// is a no-op while resolving and when the last check is newer than the
// recheck interval. A lookup failure other than a missing session leaves the
// session unchanged and is returned.
func (g *Gate) Refresh(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	now := g.now()
	if g.sess.Resolving || now.Sub(g.checkedAt) < g.recheck {
		g.mu.Unlock()
		return nil
	}
	g.checkedAt = now
	g.mu.Unlock()

	id, err := g.provider.Resolve(ctx, g.token)
	if err != nil {
		if !errors.Is(err, identity.ErrSessionNotFound) && !errors.Is(err, identity.ErrNoToken) {
			return fmt.Errorf("session: refresh: %w", err)
		}
		id = nil
	}

	if !sameIdentity(g.Current().Identity, id) {
		if id == nil {
			g.logger.Info("session no longer valid")
		}
		g.update(id)
	}
	return nil
}

func sameIdentity(a, b *identity.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// RequireAuthenticated decides whether the view may proceed. While resolving
// it returns Pending and does nothing else. Once resolved with no identity,
// onUnauthorized runs once per absence and Denied is returned; later calls
// during the same absence return Denied without running it again.
func (g *Gate) RequireAuthenticated(onUnauthorized func()) Decision {
	g.mu.Lock()
	if g.sess.Resolving {
		g.mu.Unlock()
		return Pending
	}
	if g.sess.Identity != nil {
		g.mu.Unlock()
		return Allowed
	}
	fire := !g.redirected
	g.redirected = true
	g.mu.Unlock()

	if fire {
		metrics.RedirectsTotal.Inc()
		g.logger.Info("redirecting unauthenticated view")
		if onUnauthorized != nil {
			onUnauthorized()
		}
	}
	return Denied
}

// SignOut revokes the session through the provider. On failure the session
// is unchanged and an *identity.AuthError is returned.
func (g *Gate) SignOut(ctx context.Context) error {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := g.provider.SignOut(ctx, g.token); err != nil {
		var authErr *identity.AuthError
		if !errors.As(err, &authErr) {
			authErr = &identity.AuthError{Code: identity.CodeUnknown, Err: err}
		}
		g.logger.Warn("sign-out failed", "code", authErr.Code, "error", err)
		return authErr
	}

	// The provider usually reports the absence itself; this covers providers
	// that do not.
	if g.Current().Identity != nil {
		g.update(nil)
	}
	return nil
}

// Subscribe registers fn for every session change.
func (g *Gate) Subscribe(fn func(Session)) (unsubscribe func()) {
	return g.changes.Subscribe(fn)
}

// Close stops identity delivery and drops subscribers.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	stop := g.stop
	g.stop = nil
	g.mu.Unlock()

	g.changes.Close()
	if stop != nil {
		stop()
	}
}
