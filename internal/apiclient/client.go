// Package apiclient talks to the creditlens HTTP API on behalf of the CLI
// and the MCP server.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mbd888/creditlens/internal/analysis"
	"github.com/mbd888/creditlens/internal/dashboard"
	"github.com/mbd888/creditlens/internal/identity"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = time.Second
)

var (
	ErrNotSignedIn = errors.New("apiclient: not signed in")
	ErrNoRequest   = errors.New("apiclient: no analysis has been submitted")
)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Redirect   string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, msg)
}

// Is reports 401 responses as ErrNotSignedIn.
func (e *APIError) Is(target error) bool {
	return target == ErrNotSignedIn && e.StatusCode == http.StatusUnauthorized
}

// Transient reports whether retrying the same call later may succeed.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusServiceUnavailable && e.Code == "session_resolving"
}

type errorBody struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Redirect string `json:"redirect"`
}

// State is the dashboard state as served by the API.
type State = dashboard.State

// ResultView is a completed analysis prepared for display.
type ResultView = dashboard.ResultView

// SignOutResult is the body of a successful dashboard sign-out.
type SignOutResult struct {
	SignedOut bool   `json:"signed_out"`
	Redirect  string `json:"redirect"`
}

// Client is safe for concurrent use once configured.
type Client struct {
	http *resty.Client

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithToken authenticates every request with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.http.SetHeader("User-Agent", ua) }
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(DefaultTimeout).
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", "creditlens-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token used by later requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SignUp creates an account and adopts the returned session token.
func (c *Client) SignUp(ctx context.Context, email, password string) (*identity.Session, error) {
	return c.authenticate(ctx, "/v1/auth/signup", email, password)
}

// SignIn adopts the session token for an existing account.
func (c *Client) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	return c.authenticate(ctx, "/v1/auth/signin", email, password)
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) (*identity.Session, error) {
	var sess identity.Session
	err := c.do(ctx, http.MethodPost, path, identity.Credential{Email: email, Password: password}, &sess)
	if err != nil {
		return nil, err
	}
	c.SetToken(sess.Token)
	return &sess, nil
}

// SignOut ends the session through the dashboard so the server-side view
// is redirected and closed as well. The token is dropped on success.
func (c *Client) SignOut(ctx context.Context) (*SignOutResult, error) {
	var out SignOutResult
	if err := c.do(ctx, http.MethodPost, "/v1/dashboard/signout", nil, &out); err != nil {
		return nil, err
	}
	c.SetToken("")
	return &out, nil
}

// Me returns the identity behind the current token.
func (c *Client) Me(ctx context.Context) (*identity.Identity, error) {
	var out struct {
		Identity *identity.Identity `json:"identity"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/auth/me", nil, &out); err != nil {
		return nil, err
	}
	if out.Identity == nil {
		return nil, ErrNotSignedIn
	}
	return out.Identity, nil
}

// Dashboard returns the current dashboard state.
func (c *Client) Dashboard(ctx context.Context) (*State, error) {
	var st State
	if err := c.do(ctx, http.MethodGet, "/v1/dashboard", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Analyze submits ticker and returns the state right after submission.
func (c *Client) Analyze(ctx context.Context, ticker string) (*State, error) {
	var st State
	body := map[string]string{"ticker": ticker}
	if err := c.do(ctx, http.MethodPost, "/v1/dashboard/analyze", body, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// WaitForResult polls the dashboard until the request reaches a terminal
// status. A dashboard with no submitted request yields ErrNoRequest.
func (c *Client) WaitForResult(ctx context.Context, interval time.Duration, onPoll func(*State)) (*State, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := c.Dashboard(ctx)
		switch {
		case err == nil:
			if onPoll != nil {
				onPoll(st)
			}
			if st.Request.Status.Terminal() {
				return st, nil
			}
			if st.Request.Status == "" || st.Request.Status == analysis.StatusIdle {
				return st, ErrNoRequest
			}
		case isTransient(err):
		default:
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// AnalyzeAndWait submits ticker and polls until the analysis settles.
func (c *Client) AnalyzeAndWait(ctx context.Context, ticker string, interval time.Duration, onPoll func(*State)) (*State, error) {
	st, err := c.Analyze(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if st.Request.Status.Terminal() {
		return st, nil
	}
	return c.WaitForResult(ctx, interval, onPoll)
}

func isTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Transient()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().SetContext(ctx)
	if token := c.Token(); token != "" {
		req.SetAuthToken(token)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: request failed: %w", method, path, err)
	}
	if !resp.IsSuccess() {
		return decodeError(resp)
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *resty.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	var body errorBody
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
		apiErr.Redirect = body.Redirect
	} else if s := strings.TrimSpace(resp.String()); s != "" {
		apiErr.Message = s
	}
	return apiErr
}
