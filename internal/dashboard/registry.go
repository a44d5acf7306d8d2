// Package dashboard binds one session gate and one analysis controller per
// session token and serves their combined state over HTTP.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/creditlens/internal/analysis"
	"github.com/mbd888/creditlens/internal/identity"
	"github.com/mbd888/creditlens/internal/idgen"
	"github.com/mbd888/creditlens/internal/metrics"
	"github.com/mbd888/creditlens/internal/realtime"
	"github.com/mbd888/creditlens/internal/session"
	"github.com/mbd888/creditlens/internal/syncutil"
)

// ErrNoToken is returned when a view is requested without a session token.
var ErrNoToken = errors.New("dashboard: no session token")

const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Registry owns the live views, one per session token.
type Registry struct {
	provider        session.Provider
	analyzer        analysis.Analyzer
	publisher       Publisher
	logger          *slog.Logger
	analysisTimeout time.Duration
	idleTimeout     time.Duration
	sweepInterval   time.Duration
	sessionRecheck  time.Duration

	locks *syncutil.KeyedMutex

	mu    sync.RWMutex
	views map[string]*View // by token hash

	stop    chan struct{}
	running atomic.Bool
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithPublisher streams view events through p.
func WithPublisher(p Publisher) Option {
	return func(r *Registry) { r.publisher = p }
}

// WithLogger sets the registry's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithAnalysisTimeout bounds each view's outbound analysis call.
func WithAnalysisTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.analysisTimeout = d
		}
	}
}

// WithIdleTimeout sets how long an untouched view survives.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// WithSweepInterval sets how often the janitor looks for idle views.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sweepInterval = d
		}
	}
}

// WithSessionRecheck sets how often a view re-verifies its session token
// with the identity provider.
func WithSessionRecheck(d time.Duration) Option {
	return func(r *Registry) {
		if d >= 0 {
			r.sessionRecheck = d
		}
	}
}

// NewRegistry creates an empty registry. Call Start to run the janitor.
func NewRegistry(provider session.Provider, analyzer analysis.Analyzer, opts ...Option) *Registry {
	r := &Registry{
		provider:        provider,
		analyzer:        analyzer,
		logger:          slog.Default(),
		analysisTimeout: analysis.DefaultTimeout,
		idleTimeout:     DefaultIdleTimeout,
		sweepInterval:   DefaultSweepInterval,
		sessionRecheck:  session.DefaultRecheckInterval,
		locks:           syncutil.NewKeyedMutex(),
		views:           make(map[string]*View),
		stop:            make(chan struct{}),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open returns the view bound to token, creating it on first use.
func (r *Registry) Open(ctx context.Context, token string) (*View, error) {
	token = identity.CleanToken(token)
	if token == "" {
		return nil, ErrNoToken
	}
	hash := identity.HashToken(token)

	if v := r.lookup(hash); v != nil {
		return v, nil
	}

	unlock, err := r.locks.Lock(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("dashboard: open view: %w", err)
	}
	defer unlock()

	if v := r.lookup(hash); v != nil {
		return v, nil
	}

	id := idgen.WithPrefix("view_")
	gate := session.NewGate(r.provider, token,
		session.WithViewID(id),
		session.WithLogger(r.logger),
		session.WithRecheckInterval(r.sessionRecheck),
	)
	controller := analysis.NewController(r.analyzer,
		analysis.WithTimeout(r.analysisTimeout),
		analysis.WithViewID(id),
		analysis.WithLogger(r.logger),
	)
	v := newView(id, hash, gate, controller, r.publisher)

	r.mu.Lock()
	r.views[hash] = v
	n := len(r.views)
	r.mu.Unlock()

	metrics.ActiveViews.Set(float64(n))
	r.logger.Debug("dashboard view opened", "view_id", id)
	return v, nil
}

func (r *Registry) lookup(hash string) *View {
	r.mu.RLock()
	v := r.views[hash]
	r.mu.RUnlock()
	if v == nil || v.Closed() {
		return nil
	}
	v.touch(r.now())
	return v
}

// Authorize runs the view's gate check. The first denial after an absence
// publishes a redirect and closes the view.
func (r *Registry) Authorize(v *View) session.Decision {
	return v.gate.RequireAuthenticated(func() {
		if r.publisher != nil {
			r.publisher.Publish(v.ID, realtime.EventRedirect, map[string]string{"location": identity.LoginPath})
		}
		r.Close(v)
	})
}

// Close removes v and releases its gate and controller.
func (r *Registry) Close(v *View) {
	r.mu.Lock()
	if cur, ok := r.views[v.tokenHash]; ok && cur == v {
		delete(r.views, v.tokenHash)
	}
	n := len(r.views)
	r.mu.Unlock()

	v.close()
	metrics.ActiveViews.Set(float64(n))
}

// Len reports the number of open views.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.views)
}

// Running reports whether the janitor loop is active.
func (r *Registry) Running() bool {
	return r.running.Load()
}

// Start runs the idle-view janitor until ctx ends or Stop is called.
// Call in a goroutine.
func (r *Registry) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.safeSweep()
		}
	}
}

// Stop signals the janitor to stop.
func (r *Registry) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
}

func (r *Registry) safeSweep() {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic in dashboard janitor", "panic", fmt.Sprint(p))
		}
	}()
	r.Sweep()
}

// Sweep closes views idle for longer than the idle timeout and returns how
// many it closed.
func (r *Registry) Sweep() int {
	now := r.now()
	r.mu.RLock()
	var idle []*View
	for _, v := range r.views {
		if v.idleSince(now) > r.idleTimeout {
			idle = append(idle, v)
		}
	}
	r.mu.RUnlock()

	for _, v := range idle {
		r.Close(v)
	}
	if len(idle) > 0 {
		r.logger.Info("evicted idle dashboard views", "count", len(idle))
	}
	return len(idle)
}

// CloseAll closes every view. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	views := make([]*View, 0, len(r.views))
	for _, v := range r.views {
		views = append(views, v)
	}
	r.views = make(map[string]*View)
	r.mu.Unlock()

	for _, v := range views {
		v.close()
	}
	metrics.ActiveViews.Set(0)
}
