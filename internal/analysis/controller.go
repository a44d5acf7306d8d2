package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/creditlens/internal/logging"
	"github.com/mbd888/creditlens/internal/metrics"
	"github.com/mbd888/creditlens/internal/syncutil"
	"github.com/mbd888/creditlens/internal/traces"
)

// Controller owns the request lifecycle for one dashboard view. At most one
// request is pending at a time; a submission while pending is rejected.
//
// Each submission mints a token. A response is applied only while the
// controller is open and its token is still current, so a response that
// outlives its view is dropped.
type Controller struct {
	analyzer Analyzer
	timeout  time.Duration
	logger   *slog.Logger // scoped to the view
	base     *slog.Logger
	viewID   string

	mu     sync.Mutex
	req    Request
	token  uint64
	closed bool

	changes  syncutil.Notifier[Request]
	inflight sync.WaitGroup
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithTimeout bounds each outbound call. The default is DefaultTimeout.
func WithTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithViewID tags logs and spans with the owning view.
func WithViewID(id string) ControllerOption {
	return func(c *Controller) { c.viewID = id }
}

// NewController creates an idle controller.
func NewController(analyzer Analyzer, opts ...ControllerOption) *Controller {
	c := &Controller{
		analyzer: analyzer,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
		req:      Request{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.base = c.logger
	if c.viewID != "" {
		c.logger = c.logger.With("view_id", c.viewID)
	}
	return c
}

// Submit starts an analysis of ticker. It returns ErrRequestPending while a
// request is in flight and ErrEmptyTicker when ticker is blank. Prior results
// and errors are cleared. The call itself runs on its own goroutine.
func (c *Controller) Submit(ticker string) error {
	ticker = strings.TrimSpace(ticker)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.req.Status == StatusPending {
		c.mu.Unlock()
		metrics.AnalysisRequestsTotal.WithLabelValues("rejected").Inc()
		return ErrRequestPending
	}
	if ticker == "" {
		c.mu.Unlock()
		return ErrEmptyTicker
	}

	c.token++
	token := c.token
	c.req = Request{
		Ticker:      ticker,
		Status:      StatusPending,
		SubmittedAt: time.Now().UTC(),
	}
	c.inflight.Add(1)
	c.changes.Enqueue(c.req)
	c.mu.Unlock()

	c.logger.Info("analysis submitted", "ticker", ticker)
	c.changes.Flush()

	go c.run(token, ticker)
	return nil
}

// Snapshot returns the current request state.
func (c *Controller) Snapshot() Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.req
}

// Subscribe registers fn to receive every state transition. The returned
// function removes the subscription.
func (c *Controller) Subscribe(fn func(Request)) (unsubscribe func()) {
	return c.changes.Subscribe(fn)
}

// Close detaches the controller from its view. An in-flight call is not
// cancelled; its response is discarded when it arrives.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.changes.Close()
}

// Wait blocks until every outbound call started by this controller has
// returned, or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) run(token uint64, ticker string) {
	defer c.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	ctx = logging.WithViewID(logging.WithLogger(ctx, c.base), c.viewID)
	ctx, span := traces.StartSpan(ctx, "analysis.Analyze", traces.Ticker(ticker), traces.ViewID(c.viewID))
	defer span.End()

	start := time.Now()
	result, err := c.call(ctx, ticker)
	elapsed := time.Since(start)

	outcome := Outcome(err)
	metrics.AnalysisDuration.Observe(elapsed.Seconds())
	metrics.AnalysisRequestsTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(traces.Outcome(outcome))
	traces.Fail(span, err)

	if err != nil {
		logging.L(ctx).Warn("analysis failed", "ticker", ticker, "outcome", outcome, "duration", elapsed, "error", err)
	} else {
		logging.L(ctx).Info("analysis completed", "ticker", ticker, "risk_level", result.RiskLevel, "duration", elapsed)
	}

	c.complete(token, result, err)
}

// call invokes the analyzer, converting a panic into a failure.
func (c *Controller) call(ctx context.Context, ticker string) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("analysis failed: internal error: %v", r)
		}
	}()
	result, err = c.analyzer.Analyze(ctx, ticker)
	if err == nil && result == nil {
		err = &PayloadError{Reason: "empty response"}
	}
	return result, err
}

func (c *Controller) complete(token uint64, result *Result, err error) {
	c.mu.Lock()
	if c.closed || token != c.token {
		c.mu.Unlock()
		metrics.AnalysisDiscardedTotal.Inc()
		c.logger.Debug("discarding stale analysis response", "token", token)
		return
	}

	c.req.CompletedAt = time.Now().UTC()
	if err != nil {
		c.req.Status = StatusFailed
		c.req.Result = nil
		c.req.ErrorMessage = err.Error()
	} else {
		c.req.Status = StatusSucceeded
		c.req.Result = result
		c.req.ErrorMessage = ""
	}
	c.changes.Enqueue(c.req)
	c.mu.Unlock()

	c.changes.Flush()
}
