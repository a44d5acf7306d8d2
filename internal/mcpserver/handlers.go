package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbd888/creditlens/internal/analysis"
	"github.com/mbd888/creditlens/internal/apiclient"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client   *apiclient.Client
	email    string
	password string
	interval time.Duration

	mu sync.Mutex
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *apiclient.Client, cfg Config) *Handlers {
	return &Handlers{
		client:   client,
		email:    cfg.Email,
		password: cfg.Password,
		interval: cfg.PollInterval,
	}
}

// HandleAnalyzeCreditRisk submits a ticker and, unless told not to, waits
// for the analysis to settle.
func (h *Handlers) HandleAnalyzeCreditRisk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ticker := strings.TrimSpace(req.GetString("ticker", ""))
	if ticker == "" {
		return mcp.NewToolResultError("ticker is required"), nil
	}
	if err := h.ensureSignedIn(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Sign-in failed: %v", err)), nil
	}

	var (
		st  *apiclient.State
		err error
	)
	if req.GetBool("wait", true) {
		st, err = h.client.AnalyzeAndWait(ctx, ticker, h.interval, nil)
	} else {
		st, err = h.client.Analyze(ctx, ticker)
	}
	if err != nil {
		return mcp.NewToolResultError(describeError("Analysis failed", err)), nil
	}
	return mcp.NewToolResultText(formatState(st)), nil
}

// HandleGetDashboard returns the current dashboard state.
func (h *Handlers) HandleGetDashboard(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.ensureSignedIn(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Sign-in failed: %v", err)), nil
	}
	st, err := h.client.Dashboard(ctx)
	if err != nil {
		return mcp.NewToolResultError(describeError("Failed to load dashboard", err)), nil
	}
	return mcp.NewToolResultText(formatState(st)), nil
}

func (h *Handlers) ensureSignedIn(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client.Token() != "" {
		return nil
	}
	if h.email == "" || h.password == "" {
		return apiclient.ErrNotSignedIn
	}
	_, err := h.client.SignIn(ctx, h.email, h.password)
	return err
}

func describeError(prefix string, err error) string {
	var apiErr *apiclient.APIError
	switch {
	case errors.Is(err, apiclient.ErrNotSignedIn):
		return prefix + ": not signed in. Configure a token or credentials for the MCP server."
	case errors.As(err, &apiErr) && apiErr.Code == "request_pending":
		return prefix + ": an analysis is already running. Call get_dashboard to follow it."
	default:
		return fmt.Sprintf("%s: %v", prefix, err)
	}
}

func formatState(st *apiclient.State) string {
	var sb strings.Builder
	if id := st.Session.Identity; id != nil {
		fmt.Fprintf(&sb, "Signed in as: %s\n", id.Email)
	}
	fmt.Fprintf(&sb, "Ticker: %s\n", st.Ticker)

	req := st.Request
	switch req.Status {
	case analysis.StatusIdle, "":
		sb.WriteString("Status: no analysis submitted yet\n")
		return sb.String()
	case analysis.StatusPending:
		fmt.Fprintf(&sb, "Status: analyzing %s\n", req.Ticker)
		if req.Notice != "" {
			fmt.Fprintf(&sb, "Note: %s\n", req.Notice)
		}
		return sb.String()
	case analysis.StatusFailed:
		fmt.Fprintf(&sb, "Status: failed for %s\nError: %s\n", req.Ticker, req.Error)
		return sb.String()
	}

	res := req.Result
	if res == nil {
		fmt.Fprintf(&sb, "Status: %s\n", req.Status)
		return sb.String()
	}
	fmt.Fprintf(&sb, "\nCredit risk for %s\n", res.Ticker)
	fmt.Fprintf(&sb, "Risk level: %s", res.RiskLevel)
	if res.HighRisk {
		sb.WriteString(" (HIGH RISK)")
	}
	fmt.Fprintf(&sb, "\nProbability of default: %s\n", res.PDPercent)

	if len(res.Drivers) > 0 {
		sb.WriteString("\nRisk drivers:\n")
		for _, d := range res.Drivers {
			fmt.Fprintf(&sb, "  - %s: %.4f (%s)\n", d.Name, d.Value, d.Direction)
		}
	}
	if len(res.Metrics) > 0 {
		sb.WriteString("\nFinancial metrics:\n")
		for _, m := range res.Metrics {
			fmt.Fprintf(&sb, "  - %s: %s\n", m.Label, m.DisplayValue)
		}
	}
	sb.WriteString("\nEvidence from filings:\n")
	if len(res.Evidences) == 0 {
		fmt.Fprintf(&sb, "  %s\n", res.EvidenceNotice)
	}
	for i, e := range res.Evidences {
		fmt.Fprintf(&sb, "  [%d] %s\n", i+1, e)
	}
	return sb.String()
}
