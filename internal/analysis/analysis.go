// Package analysis owns the lifecycle of credit-risk analysis requests: the
// client for the remote analysis service and the per-view controller that
// allows at most one request in flight.
package analysis

import (
	"context"
	"errors"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	ErrRequestPending = errors.New("analysis: a request is already pending")
	ErrEmptyTicker    = errors.New("analysis: ticker is required")
	ErrClosed         = errors.New("analysis: controller is closed")
)

// Status is the lifecycle state of an analysis request.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition happens without a new submission.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// RiskLevelHigh is the only risk level the dashboard distinguishes. The
// backend documents no closed set of levels, so everything else is non-high.
const RiskLevelHigh = "High"

// Result is a successful analysis response. It is never mutated after decoding.
type Result struct {
	Ticker               string                                  `json:"ticker"`
	ProbabilityOfDefault float64                                 `json:"probability_of_default"`
	RiskLevel            string                                  `json:"risk_level"`
	FinancialMetrics     *orderedmap.OrderedMap[string, any]     `json:"financial_metrics"`
	RiskFactors          *orderedmap.OrderedMap[string, float64] `json:"risk_factors"`
	Evidences            []string                                `json:"rag_evidences"`
}

// IsHighRisk applies the dashboard's binary classification.
func (r *Result) IsHighRisk() bool {
	return r != nil && r.RiskLevel == RiskLevelHigh
}

// Request is a snapshot of a controller's current request.
// Result is set only when Succeeded and ErrorMessage only when Failed.
type Request struct {
	Ticker       string    `json:"ticker,omitempty"`
	Status       Status    `json:"status"`
	Result       *Result   `json:"result,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at,omitempty"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
}

// Analyzer performs one remote analysis call.
type Analyzer interface {
	Analyze(ctx context.Context, ticker string) (*Result, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, ticker string) (*Result, error)

// Analyze calls f(ctx, ticker).
func (f AnalyzerFunc) Analyze(ctx context.Context, ticker string) (*Result, error) {
	return f(ctx, ticker)
}
