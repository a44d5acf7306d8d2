package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbd888/creditlens/internal/analysis"
	"github.com/mbd888/creditlens/internal/apiclient"
	"github.com/mbd888/creditlens/internal/dashboard"
	"github.com/mbd888/creditlens/internal/identity"
	"github.com/mbd888/creditlens/internal/insight"
	"github.com/mbd888/creditlens/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler, cfg Config) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg.APIURL = ts.URL
	cfg.PollInterval = 5 * time.Millisecond
	client := apiclient.New(cfg.APIURL, apiclient.WithToken(cfg.Token))
	return NewHandlers(client, cfg), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func succeededState() dashboard.State {
	return dashboard.State{
		ViewID:  "view_1",
		Session: session.Session{Identity: &identity.Identity{UserID: "usr_1", Email: "ada@example.com"}},
		Ticker:  "AAPL",
		Request: dashboard.RequestState{
			Status: analysis.StatusSucceeded,
			Ticker: "AAPL",
			Result: &dashboard.ResultView{
				Ticker:               "AAPL",
				RiskLevel:            "High",
				HighRisk:             true,
				ProbabilityOfDefault: 0.4213,
				PDPercent:            "42.13%",
				Drivers: []insight.RankedDriver{
					{Name: "debt to equity", Value: 0.31, Direction: insight.IncreasingRisk},
				},
				Metrics: []insight.Metric{
					{Name: "current_ratio", Label: "current ratio", DisplayValue: "0.99"},
				},
				Evidences:      []string{},
				EvidenceNotice: dashboard.NoEvidenceNotice,
			},
		},
	}
}

// --- analyze_credit_risk ---

func TestAnalyzeCreditRisk_MissingTicker(t *testing.T) {
	h, done := newTestSetup(http.NotFoundHandler(), Config{Token: "tok"})
	defer done()

	res, err := h.HandleAnalyzeCreditRisk(context.Background(), makeRequest(map[string]any{"ticker": "  "}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "ticker is required")
}

func TestAnalyzeCreditRisk_WaitsForResult(t *testing.T) {
	var polls atomic.Int32
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/dashboard/analyze":
			writeJSON(w, http.StatusAccepted, dashboard.State{
				Ticker:  "AAPL",
				Request: dashboard.RequestState{Status: analysis.StatusPending, Ticker: "AAPL", Notice: dashboard.PendingNotice},
			})
		case "/v1/dashboard":
			if polls.Add(1) < 2 {
				writeJSON(w, http.StatusOK, dashboard.State{Request: dashboard.RequestState{Status: analysis.StatusPending}})
				return
			}
			writeJSON(w, http.StatusOK, succeededState())
		default:
			http.NotFound(w, r)
		}
	}), Config{Token: "tok"})
	defer done()

	res, err := h.HandleAnalyzeCreditRisk(context.Background(), makeRequest(map[string]any{"ticker": "AAPL"}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	text := resultText(t, res)
	assert.Contains(t, text, "Signed in as: ada@example.com")
	assert.Contains(t, text, "Risk level: High (HIGH RISK)")
	assert.Contains(t, text, "Probability of default: 42.13%")
	assert.Contains(t, text, "debt to equity: 0.3100 (Increasing Risk)")
	assert.Contains(t, text, "current ratio: 0.99")
	assert.Contains(t, text, dashboard.NoEvidenceNotice)
	assert.Equal(t, int32(2), polls.Load())
}

func TestAnalyzeCreditRisk_NoWait(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/dashboard/analyze", r.URL.Path)
		writeJSON(w, http.StatusAccepted, dashboard.State{
			Ticker:  "MSFT",
			Request: dashboard.RequestState{Status: analysis.StatusPending, Ticker: "MSFT", Notice: dashboard.PendingNotice},
		})
	}), Config{Token: "tok"})
	defer done()

	res, err := h.HandleAnalyzeCreditRisk(context.Background(), makeRequest(map[string]any{"ticker": "MSFT", "wait": false}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "Status: analyzing MSFT")
	assert.Contains(t, text, dashboard.PendingNotice)
}

func TestAnalyzeCreditRisk_RequestPending(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "request_pending", "message": "busy"})
	}), Config{Token: "tok"})
	defer done()

	res, err := h.HandleAnalyzeCreditRisk(context.Background(), makeRequest(map[string]any{"ticker": "AAPL"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "already running")
}

func TestAnalyzeCreditRisk_FailedAnalysis(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, dashboard.State{
			Ticker:  "ZZZZ",
			Request: dashboard.RequestState{Status: analysis.StatusFailed, Ticker: "ZZZZ", Error: "analysis service returned 404"},
		})
	}), Config{Token: "tok"})
	defer done()

	res, err := h.HandleAnalyzeCreditRisk(context.Background(), makeRequest(map[string]any{"ticker": "ZZZZ"}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "Status: failed for ZZZZ")
	assert.Contains(t, text, "analysis service returned 404")
}

// --- sign-in ---

func TestSignsInOnceWithCredentials(t *testing.T) {
	var signins atomic.Int32
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/signin":
			signins.Add(1)
			writeJSON(w, http.StatusOK, identity.Session{Token: "fresh", Identity: &identity.Identity{UserID: "usr_1"}})
		case "/v1/dashboard":
			assert.Equal(t, "Bearer fresh", r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, dashboard.State{Ticker: "AAPL", Request: dashboard.RequestState{Status: analysis.StatusIdle}})
		default:
			http.NotFound(w, r)
		}
	}), Config{Email: "ada@example.com", Password: "hunter22"})
	defer done()

	for i := 0; i < 2; i++ {
		res, err := h.HandleGetDashboard(context.Background(), makeRequest(nil))
		require.NoError(t, err)
		assert.Contains(t, resultText(t, res), "no analysis submitted yet")
	}
	assert.Equal(t, int32(1), signins.Load())
}

func TestNoTokenNoCredentials(t *testing.T) {
	h, done := newTestSetup(http.NotFoundHandler(), Config{})
	defer done()

	res, err := h.HandleGetDashboard(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "Sign-in failed")
}

func TestGetDashboard_Unauthorized(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized", "redirect": "/login"})
	}), Config{Token: "expired"})
	defer done()

	res, err := h.HandleGetDashboard(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "not signed in")
}

func TestToolDefinitions(t *testing.T) {
	assert.Equal(t, "analyze_credit_risk", ToolAnalyzeCreditRisk.Name)
	assert.Contains(t, ToolAnalyzeCreditRisk.InputSchema.Required, "ticker")
	assert.Equal(t, "get_dashboard", ToolGetDashboard.Name)
	assert.NotNil(t, NewMCPServer(Config{APIURL: "http://127.0.0.1:1", Token: "tok"}))
}
