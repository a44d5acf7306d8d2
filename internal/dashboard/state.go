package dashboard

import (
	"time"

	"github.com/mbd888/creditlens/internal/analysis"
	"github.com/mbd888/creditlens/internal/insight"
	"github.com/mbd888/creditlens/internal/session"
)

const (
	// DefaultTicker pre-fills a fresh view's ticker input.
	DefaultTicker = "AAPL"

	// PendingNotice is shown while an analysis is in flight.
	PendingNotice = "First-time analysis for a new company may take up to 20-30 seconds to download filings."

	// NoEvidenceNotice replaces an empty evidence list.
	NoEvidenceNotice = "No specific filings found to cite."
)

// State is everything a client needs to draw a view.
type State struct {
	ViewID  string          `json:"view_id"`
	Session session.Session `json:"session"`
	Ticker  string          `json:"ticker"`
	Request RequestState    `json:"request"`
}

// RequestState is the display form of an analysis request.
type RequestState struct {
	Status      analysis.Status `json:"status"`
	Ticker      string          `json:"ticker,omitempty"`
	Notice      string          `json:"notice,omitempty"`
	Error       string          `json:"error,omitempty"`
	SubmittedAt *time.Time      `json:"submitted_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      *ResultView     `json:"result,omitempty"`
}

// ResultView is a result reduced to what the dashboard shows.
type ResultView struct {
	Ticker               string                 `json:"ticker"`
	RiskLevel            string                 `json:"risk_level"`
	HighRisk             bool                   `json:"high_risk"`
	ProbabilityOfDefault float64                `json:"probability_of_default"`
	PDPercent            string                 `json:"pd_percent"`
	Drivers              []insight.RankedDriver `json:"drivers"`
	Metrics              []insight.Metric       `json:"metrics"`
	Evidences            []string               `json:"evidences"`
	EvidenceNotice       string                 `json:"evidence_notice,omitempty"`
}

// RenderRequest converts a controller snapshot into its display form.
func RenderRequest(req analysis.Request) RequestState {
	rs := RequestState{
		Status: req.Status,
		Ticker: req.Ticker,
	}
	if !req.SubmittedAt.IsZero() {
		t := req.SubmittedAt
		rs.SubmittedAt = &t
	}
	if !req.CompletedAt.IsZero() {
		t := req.CompletedAt
		rs.CompletedAt = &t
	}

	switch req.Status {
	case analysis.StatusPending:
		rs.Notice = PendingNotice
	case analysis.StatusFailed:
		rs.Error = req.ErrorMessage
	case analysis.StatusSucceeded:
		rs.Result = RenderResult(req.Result)
	}
	return rs
}

// RenderResult ranks drivers and projects metrics for display.
func RenderResult(r *analysis.Result) *ResultView {
	if r == nil {
		return nil
	}
	rv := &ResultView{
		Ticker:               r.Ticker,
		RiskLevel:            r.RiskLevel,
		HighRisk:             r.IsHighRisk(),
		ProbabilityOfDefault: r.ProbabilityOfDefault,
		PDPercent:            insight.Percent(r.ProbabilityOfDefault),
		Drivers:              insight.Rank(r.RiskFactors, insight.DriverLimit),
		Metrics:              insight.Project(r.FinancialMetrics, insight.MetricLimit),
		Evidences:            r.Evidences,
	}
	if rv.Evidences == nil {
		rv.Evidences = []string{}
	}
	if len(rv.Evidences) == 0 {
		rv.EvidenceNotice = NoEvidenceNotice
	}
	return rv
}
