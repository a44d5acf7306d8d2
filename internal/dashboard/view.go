package dashboard

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/creditlens/internal/analysis"
	"github.com/mbd888/creditlens/internal/realtime"
	"github.com/mbd888/creditlens/internal/session"
)

// Publisher pushes view events to connected clients. *realtime.Hub
// satisfies it.
type Publisher interface {
	Publish(viewID string, typ realtime.EventType, data interface{})
	DisconnectView(viewID string)
}

// View is one dashboard instance bound to a session token. It owns a gate
// and a controller and shares no mutable state with other views.
type View struct {
	ID         string
	tokenHash  string
	gate       *session.Gate
	controller *analysis.Controller
	publisher  Publisher

	mu     sync.Mutex
	ticker string

	lastSeen  atomic.Int64 // unix nanos
	closed    atomic.Bool
	closeOnce sync.Once
	unsubs    []func()
}

func newView(id, tokenHash string, gate *session.Gate, controller *analysis.Controller, pub Publisher) *View {
	v := &View{
		ID:         id,
		tokenHash:  tokenHash,
		gate:       gate,
		controller: controller,
		publisher:  pub,
		ticker:     DefaultTicker,
	}
	v.touch(time.Now())

	if pub != nil {
		v.unsubs = append(v.unsubs,
			gate.Subscribe(func(s session.Session) {
				pub.Publish(id, realtime.EventSession, s)
			}),
			controller.Subscribe(func(r analysis.Request) {
				pub.Publish(id, realtime.EventAnalysis, RenderRequest(r))
			}),
		)
	}
	return v
}

// Gate returns the view's session gate.
func (v *View) Gate() *session.Gate { return v.gate }

// Controller returns the view's analysis controller.
func (v *View) Controller() *analysis.Controller { return v.controller }

// Submit records ticker as the view's input and starts an analysis.
func (v *View) Submit(ticker string) error {
	if err := v.controller.Submit(ticker); err != nil {
		return err
	}
	v.mu.Lock()
	v.ticker = v.controller.Snapshot().Ticker
	v.mu.Unlock()
	return nil
}

// State returns the view's current display state.
func (v *View) State() State {
	v.mu.Lock()
	ticker := v.ticker
	v.mu.Unlock()
	return State{
		ViewID:  v.ID,
		Session: v.gate.Current(),
		Ticker:  ticker,
		Request: RenderRequest(v.controller.Snapshot()),
	}
}

// Closed reports whether the view has been closed.
func (v *View) Closed() bool { return v.closed.Load() }

func (v *View) touch(now time.Time) { v.lastSeen.Store(now.UnixNano()) }

func (v *View) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, v.lastSeen.Load()))
}

// close detaches the gate and controller. A pending analysis keeps running
// and its response is discarded.
func (v *View) close() {
	v.closeOnce.Do(func() {
		v.closed.Store(true)
		for _, unsub := range v.unsubs {
			unsub()
		}
		v.gate.Close()
		v.controller.Close()
		if v.publisher != nil {
			v.publisher.DisconnectView(v.ID)
		}
	})
}
