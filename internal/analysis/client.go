package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultTimeout bounds one analysis call. A first-time ticker can spend
// 20-30 seconds downloading filings before the model runs.
const DefaultTimeout = 60 * time.Second

// Client calls the remote analysis service. It never retries; every call is
// exactly one POST /analyze.
type Client struct {
	http    *resty.Client
	timeout time.Duration
}

type analyzeRequest struct {
	Ticker      string `json:"ticker"`
	UseLiveData bool   `json:"use_live_data"`
}

// wireResult mirrors the service response. Pointers distinguish absent
// fields from zero values.
type wireResult struct {
	Ticker               *string                             `json:"ticker"`
	ProbabilityOfDefault *float64                            `json:"probability_of_default"`
	RiskLevel            *string                             `json:"risk_level"`
	FinancialMetrics     *orderedmap.OrderedMap[string, any] `json:"financial_metrics"`
	RagEvidences         []string                            `json:"rag_evidences"`
	RiskFactors          *orderedmap.OrderedMap[string, any] `json:"risk_factors"`
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{logger.With("component", "analysis_client")})
	return &Client{http: h, timeout: timeout}
}

// Analyze submits ticker for analysis with live data enabled.
func (c *Client) Analyze(ctx context.Context, ticker string) (*Result, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(analyzeRequest{Ticker: ticker, UseLiveData: true}).
		Post("/analyze")
	if err != nil {
		return nil, c.transportError(err)
	}
	if !resp.IsSuccess() {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode(),
			Status:     resp.Status(),
			Body:       resp.String(),
		}
	}
	return decodeResult(resp.Body())
}

// Ping checks that the service answers at its root.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/")
	if err != nil {
		return c.transportError(err)
	}
	if !resp.IsSuccess() {
		return &HTTPError{StatusCode: resp.StatusCode(), Status: resp.Status()}
	}
	return nil
}

func (c *Client) transportError(err error) error {
	te := &TransportError{Err: err}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		te.Timeout = c.timeout
	}
	return te
}

func decodeResult(body []byte) (*Result, error) {
	var w wireResult
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&w); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &PayloadError{Field: typeErr.Field, Reason: "expected " + typeErr.Type.String(), Err: err}
		}
		return nil, &PayloadError{Reason: "invalid JSON", Err: err}
	}

	switch {
	case w.Ticker == nil:
		return nil, &PayloadError{Field: "ticker", Reason: "missing"}
	case w.ProbabilityOfDefault == nil:
		return nil, &PayloadError{Field: "probability_of_default", Reason: "missing"}
	case w.RiskLevel == nil:
		return nil, &PayloadError{Field: "risk_level", Reason: "missing"}
	}
	pd := *w.ProbabilityOfDefault
	if math.IsNaN(pd) || pd < 0 || pd > 1 {
		return nil, &PayloadError{Field: "probability_of_default", Reason: fmt.Sprintf("%v is outside [0, 1]", pd)}
	}

	factors, err := coerceFactors(w.RiskFactors)
	if err != nil {
		return nil, err
	}

	metrics := w.FinancialMetrics
	if metrics == nil {
		metrics = orderedmap.New[string, any]()
	}
	evidences := w.RagEvidences
	if evidences == nil {
		evidences = []string{}
	}

	return &Result{
		Ticker:               *w.Ticker,
		ProbabilityOfDefault: pd,
		RiskLevel:            *w.RiskLevel,
		FinancialMetrics:     metrics,
		RiskFactors:          factors,
		Evidences:            evidences,
	}, nil
}

// coerceFactors accepts numbers and numeric strings; anything else is malformed.
func coerceFactors(raw *orderedmap.OrderedMap[string, any]) (*orderedmap.OrderedMap[string, float64], error) {
	out := orderedmap.New[string, float64]()
	if raw == nil {
		return out, nil
	}
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		switch v := pair.Value.(type) {
		case float64:
			out.Set(pair.Key, v)
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return nil, &PayloadError{Field: "risk_factors." + pair.Key, Reason: "not a number", Err: err}
			}
			out.Set(pair.Key, f)
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, &PayloadError{Field: "risk_factors." + pair.Key, Reason: fmt.Sprintf("%q is not a number", v), Err: err}
			}
			out.Set(pair.Key, f)
		default:
			return nil, &PayloadError{Field: "risk_factors." + pair.Key, Reason: fmt.Sprintf("unexpected %T", v)}
		}
	}
	return out, nil
}

// restyLogger routes resty's internal logging through slog.
type restyLogger struct {
	l *slog.Logger
}

func (r restyLogger) Errorf(format string, v ...interface{}) { r.l.Error(fmt.Sprintf(format, v...)) }
func (r restyLogger) Warnf(format string, v ...interface{})  { r.l.Warn(fmt.Sprintf(format, v...)) }
func (r restyLogger) Debugf(format string, v ...interface{}) { r.l.Debug(fmt.Sprintf(format, v...)) }
