package dashboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/creditlens/internal/analysis"
	"github.com/mbd888/creditlens/internal/identity"
	"github.com/mbd888/creditlens/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticProvider reports a fixed identity for every token.
type staticProvider struct {
	ident *identity.Identity
}

func (p staticProvider) Watch(_ string, fn func(*identity.Identity)) func() {
	go fn(p.ident)
	return func() {}
}

func (p staticProvider) Resolve(context.Context, string) (*identity.Identity, error) {
	if p.ident == nil {
		return nil, identity.ErrSessionNotFound
	}
	return p.ident, nil
}

func (p staticProvider) SignOut(context.Context, string) error { return nil }

func idleAnalyzer() analysis.Analyzer {
	return analysis.AnalyzerFunc(func(context.Context, string) (*analysis.Result, error) {
		return &analysis.Result{Ticker: "AAPL", RiskLevel: "Low"}, nil
	})
}

func TestRegistry_OpenRejectsEmptyToken(t *testing.T) {
	r := NewRegistry(staticProvider{}, idleAnalyzer())
	_, err := r.Open(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestRegistry_OneViewPerToken(t *testing.T) {
	r := NewRegistry(staticProvider{ident: &identity.Identity{UserID: "usr_1"}}, idleAnalyzer())
	defer r.CloseAll()

	var wg sync.WaitGroup
	views := make([]*View, 20)
	for i := range views {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := r.Open(context.Background(), "Bearer cl_same")
			if err == nil {
				views[i] = v
			}
		}(i)
	}
	wg.Wait()

	for _, v := range views {
		require.NotNil(t, v)
		assert.Same(t, views[0], v)
	}
	assert.Equal(t, 1, r.Len())

	other, err := r.Open(context.Background(), "cl_other")
	require.NoError(t, err)
	assert.NotEqual(t, views[0].ID, other.ID)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_AuthorizeAllowed(t *testing.T) {
	r := NewRegistry(staticProvider{ident: &identity.Identity{UserID: "usr_1"}}, idleAnalyzer())
	defer r.CloseAll()

	v, err := r.Open(context.Background(), "cl_tok")
	require.NoError(t, err)
	require.NoError(t, v.Gate().Wait(context.Background()))
	assert.Equal(t, session.Allowed, r.Authorize(v))
	assert.False(t, v.Closed())
}

func TestRegistry_AuthorizeDeniedClosesView(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewRegistry(staticProvider{}, idleAnalyzer(), WithPublisher(pub))

	v, err := r.Open(context.Background(), "cl_tok")
	require.NoError(t, err)
	require.NoError(t, v.Gate().Wait(context.Background()))

	assert.Equal(t, session.Denied, r.Authorize(v))
	assert.Equal(t, session.Denied, r.Authorize(v))
	assert.True(t, v.Closed())
	assert.Zero(t, r.Len())
	assert.Equal(t, 1, pub.count("redirect"))
	assert.Equal(t, []string{v.ID}, pub.disconnected)
}

func TestRegistry_SweepEvictsIdleViews(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRegistry(staticProvider{ident: &identity.Identity{UserID: "usr_1"}}, idleAnalyzer(),
		WithIdleTimeout(10*time.Minute))
	r.now = func() time.Time { return now }
	defer r.CloseAll()

	stale, err := r.Open(context.Background(), "cl_stale")
	require.NoError(t, err)
	stale.touch(now.Add(-11 * time.Minute))

	fresh, err := r.Open(context.Background(), "cl_fresh")
	require.NoError(t, err)
	fresh.touch(now.Add(-time.Minute))

	assert.Equal(t, 1, r.Sweep())
	assert.True(t, stale.Closed())
	assert.False(t, fresh.Closed())
	assert.Equal(t, 1, r.Len())

	// Using a view refreshes it.
	now = now.Add(20 * time.Minute)
	_, err = r.Open(context.Background(), "cl_fresh")
	require.NoError(t, err)
	assert.Zero(t, r.Sweep())
}

func TestRegistry_JanitorStartStop(t *testing.T) {
	r := NewRegistry(staticProvider{}, idleAnalyzer(), WithSweepInterval(5*time.Millisecond))

	done := make(chan struct{})
	go func() {
		r.Start(context.Background())
		close(done)
	}()
	require.Eventually(t, r.Running, time.Second, time.Millisecond)

	r.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
	assert.False(t, r.Running())
}

func TestRegistry_JanitorStopsOnContext(t *testing.T) {
	r := NewRegistry(staticProvider{}, idleAnalyzer(), WithSweepInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor ignored context cancellation")
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry(staticProvider{ident: &identity.Identity{UserID: "usr_1"}}, idleAnalyzer())
	a, _ := r.Open(context.Background(), "cl_a")
	b, _ := r.Open(context.Background(), "cl_b")

	r.CloseAll()
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.Zero(t, r.Len())
}
