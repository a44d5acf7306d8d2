package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const maxBodySnippet = 200

// HTTPError is a non-2xx response from the analysis service.
type HTTPError struct {
	StatusCode int
	Status     string // e.g. "500 Internal Server Error"
	Body       string
}

func (e *HTTPError) Error() string {
	status := e.Status
	if status == "" {
		status = strings.TrimSpace(fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode)))
	}
	if detail := e.Detail(); detail != "" {
		return fmt.Sprintf("analysis failed: %s: %s", status, detail)
	}
	return "analysis failed: " + status
}

// Detail returns the service's explanation: the "detail" field of a JSON
// error body, or a bounded snippet of a text body.
func (e *HTTPError) Detail() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return ""
	}
	var payload struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal([]byte(body), &payload) == nil && payload.Detail != nil {
		if s, ok := payload.Detail.(string); ok {
			return truncate(s)
		}
		if b, err := json.Marshal(payload.Detail); err == nil {
			return truncate(string(b))
		}
	}
	return truncate(body)
}

// TransportError means no response was received from the analysis service.
type TransportError struct {
	Err     error
	Timeout time.Duration // non-zero when the call timed out
}

func (e *TransportError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("analysis service timed out after %s", e.Timeout)
	}
	return fmt.Sprintf("analysis service unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PayloadError means a response arrived but could not be used.
type PayloadError struct {
	Field  string
	Reason string
	Err    error
}

func (e *PayloadError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed analysis response: %s: %s", e.Field, e.Reason)
	}
	return "malformed analysis response: " + e.Reason
}

func (e *PayloadError) Unwrap() error { return e.Err }

// Outcome classifies err for metrics and spans.
func Outcome(err error) string {
	if err == nil {
		return "succeeded"
	}
	var httpErr *HTTPError
	var transportErr *TransportError
	var payloadErr *PayloadError
	switch {
	case errors.As(err, &httpErr):
		return "http_error"
	case errors.As(err, &transportErr):
		return "transport_error"
	case errors.As(err, &payloadErr):
		return "payload_error"
	case errors.Is(err, ErrRequestPending):
		return "rejected"
	default:
		return "error"
	}
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxBodySnippet {
		return s
	}
	return s[:maxBodySnippet] + "..."
}
