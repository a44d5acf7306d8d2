package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/creditlens/internal/analysis"
	"github.com/mbd888/creditlens/internal/identity"
	"github.com/mbd888/creditlens/internal/logging"
	"github.com/mbd888/creditlens/internal/realtime"
	"github.com/mbd888/creditlens/internal/session"
	"github.com/mbd888/creditlens/internal/validation"
)

// DefaultResolveWait bounds how long a request waits for a fresh view's
// identity to resolve.
const DefaultResolveWait = 5 * time.Second

// Handler serves dashboard views over HTTP.
type Handler struct {
	registry    *Registry
	hub         *realtime.Hub
	resolveWait time.Duration
}

// NewHandler creates a dashboard handler. hub may be nil, in which case the
// event stream route is not registered.
func NewHandler(registry *Registry, hub *realtime.Hub, resolveWait time.Duration) *Handler {
	if resolveWait <= 0 {
		resolveWait = DefaultResolveWait
	}
	return &Handler{registry: registry, hub: hub, resolveWait: resolveWait}
}

// RegisterRoutes sets up dashboard routes. Authorization is decided by each
// view's gate, not by a router middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/dashboard", h.GetState)
	r.POST("/dashboard/analyze", h.Analyze)
	r.POST("/dashboard/signout", h.SignOut)
	if h.hub != nil {
		r.GET("/dashboard/ws", h.Stream)
	}
}

// GetState handles GET /v1/dashboard
func (h *Handler) GetState(c *gin.Context) {
	v, ok := h.authorizedView(c, identity.TokenFromRequest(c))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, v.State())
}

type analyzeRequest struct {
	Ticker string `json:"ticker"`
}

// Analyze handles POST /v1/dashboard/analyze
func (h *Handler) Analyze(c *gin.Context) {
	v, ok := h.authorizedView(c, identity.TokenFromRequest(c))
	if !ok {
		return
	}

	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must be JSON with a ticker.",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidTicker("ticker", req.Ticker),
		validation.MaxLength("ticker", strings.TrimSpace(req.Ticker), validation.MaxTickerLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_ticker",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	if err := v.Submit(req.Ticker); err != nil {
		switch {
		case errors.Is(err, analysis.ErrRequestPending):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "request_pending",
				"message": "An analysis is already running for this view.",
			})
		case errors.Is(err, analysis.ErrEmptyTicker):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "empty_ticker",
				"message": "Enter a ticker to analyze.",
			})
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "view_closed",
				"message": "The view was closed; retry to open a new one.",
			})
		}
		return
	}
	c.JSON(http.StatusAccepted, v.State())
}

// SignOut handles POST /v1/dashboard/signout
func (h *Handler) SignOut(c *gin.Context) {
	v, ok := h.authorizedView(c, identity.TokenFromRequest(c))
	if !ok {
		return
	}

	if err := v.gate.SignOut(c.Request.Context()); err != nil {
		logging.L(c.Request.Context()).Warn("dashboard sign-out failed", "error", err)
		var ae *identity.AuthError
		code, message := identity.CodeUnknown, err.Error()
		if errors.As(err, &ae) {
			code, message = ae.Code, ae.Message()
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   code,
			"message": message,
		})
		return
	}

	h.registry.Authorize(v)
	c.JSON(http.StatusOK, gin.H{
		"signed_out": true,
		"redirect":   identity.LoginPath,
	})
}

// Stream handles GET /v1/dashboard/ws. Browsers cannot set headers on a
// WebSocket upgrade, so the token may also come from the query string.
func (h *Handler) Stream(c *gin.Context) {
	token := identity.TokenFromRequest(c)
	if token == "" {
		token = identity.CleanToken(c.Query("token"))
	}
	v, ok := h.authorizedView(c, token)
	if !ok {
		return
	}
	h.hub.HandleWebSocket(c.Writer, c.Request, v.ID)
}

// authorizedView opens the token's view and runs its gate. It writes the
// response itself when the view may not proceed.
func (h *Handler) authorizedView(c *gin.Context, token string) (*View, bool) {
	if token == "" {
		identity.Unauthorized(c)
		return nil, false
	}

	v, err := h.registry.Open(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "view_unavailable",
			"message": "Could not open the dashboard view.",
		})
		return nil, false
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.resolveWait)
	_ = v.gate.Wait(ctx)
	if err := v.gate.Refresh(ctx); err != nil && !errors.Is(err, session.ErrClosed) {
		logging.L(c.Request.Context()).Warn("session re-verification failed", "view_id", v.ID, "error", err)
	}
	cancel()

	switch h.registry.Authorize(v) {
	case session.Allowed:
		c.Request = c.Request.WithContext(logging.WithViewID(c.Request.Context(), v.ID))
		return v, true
	case session.Denied:
		identity.Unauthorized(c)
		return nil, false
	default:
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "session_resolving",
			"message": "Session is still being verified.",
		})
		return nil, false
	}
}
