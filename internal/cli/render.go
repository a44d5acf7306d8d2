package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mbd888/creditlens/internal/analysis"
	"github.com/mbd888/creditlens/internal/apiclient"
	"github.com/mbd888/creditlens/internal/insight"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6")).
			MarginTop(1)

	highRiskBadge = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#EF4444")).
			Padding(0, 1)

	normalRiskBadge = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#10B981")).
			Padding(0, 1)

	increasingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	decreasingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	evidenceStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			BorderForeground(lipgloss.Color("#6B7280")).
			PaddingLeft(1).
			Width(78)
)

// RenderState formats a dashboard state for the terminal.
func RenderState(st *apiclient.State) string {
	var sb strings.Builder
	if id := st.Session.Identity; id != nil {
		sb.WriteString(mutedStyle.Render("Signed in as " + id.Email))
		sb.WriteString("\n")
	}

	req := st.Request
	switch req.Status {
	case analysis.StatusPending:
		sb.WriteString(pendingStyle.Render("Analyzing " + req.Ticker + "..."))
		sb.WriteString("\n")
		if req.Notice != "" {
			sb.WriteString(mutedStyle.Render(req.Notice))
			sb.WriteString("\n")
		}
	case analysis.StatusFailed:
		sb.WriteString(errorStyle.Render(fmt.Sprintf("Analysis of %s failed: %s", req.Ticker, req.Error)))
		sb.WriteString("\n")
	case analysis.StatusSucceeded:
		if req.Result != nil {
			sb.WriteString(RenderResult(req.Result))
		}
	default:
		fmt.Fprintf(&sb, "No analysis yet. Try: creditctl analyze %s\n", st.Ticker)
	}
	return sb.String()
}

// RenderResult formats a completed analysis.
func RenderResult(res *apiclient.ResultView) string {
	var sb strings.Builder

	badge := normalRiskBadge
	if res.HighRisk {
		badge = highRiskBadge
	}
	sb.WriteString(titleStyle.Render("Credit risk: " + res.Ticker))
	sb.WriteString("  ")
	sb.WriteString(badge.Render(res.RiskLevel))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Probability of default: %s\n", res.PDPercent)

	if len(res.Drivers) > 0 {
		sb.WriteString(sectionStyle.Render("Top risk drivers"))
		sb.WriteString("\n")
		for _, d := range res.Drivers {
			style := decreasingStyle
			arrow := "v"
			if d.Direction == insight.IncreasingRisk {
				style = increasingStyle
				arrow = "^"
			}
			fmt.Fprintf(&sb, "  %s %-32s %8.4f  %s\n", style.Render(arrow), d.Name, d.Value, style.Render(string(d.Direction)))
		}
	}

	if len(res.Metrics) > 0 {
		sb.WriteString(sectionStyle.Render("Financial metrics"))
		sb.WriteString("\n")
		for _, m := range res.Metrics {
			fmt.Fprintf(&sb, "  %-32s %s\n", m.Label, m.DisplayValue)
		}
	}

	sb.WriteString(sectionStyle.Render("Evidence from filings"))
	sb.WriteString("\n")
	if len(res.Evidences) == 0 {
		sb.WriteString(mutedStyle.Render("  " + res.EvidenceNotice))
		sb.WriteString("\n")
	}
	for _, e := range res.Evidences {
		sb.WriteString(evidenceStyle.Render(e))
		sb.WriteString("\n")
	}
	return sb.String()
}
