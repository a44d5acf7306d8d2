package identity

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, _, _ := newTestService(t)
	h := NewHandler(svc)

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(Middleware(svc))
	h.RegisterRoutes(v1)
	protected := v1.Group("")
	protected.Use(RequireAuth())
	h.RegisterProtectedRoutes(protected)
	return r, svc
}

func doJSON(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_SignUpSignInMeSignOut(t *testing.T) {
	r, _ := setupTestRouter(t)
	cred := Credential{Email: "a@example.com", Password: "hunter22"}

	w := doJSON(r, "POST", "/v1/auth/signup", "", cred)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(r, "POST", "/v1/auth/signin", "", cred)
	require.Equal(t, http.StatusOK, w.Code)
	var sess Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	require.NotEmpty(t, sess.Token)

	w = doJSON(r, "GET", "/v1/auth/me", sess.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "a@example.com")

	w = doJSON(r, "POST", "/v1/auth/signout", sess.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, "GET", "/v1/auth/me", sess.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, LoginPath, w.Header().Get("Location"))
}

func TestHandler_ErrorCodes(t *testing.T) {
	r, _ := setupTestRouter(t)
	require.Equal(t, http.StatusCreated,
		doJSON(r, "POST", "/v1/auth/signup", "", Credential{Email: "a@example.com", Password: "hunter22"}).Code)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"weak password", "/v1/auth/signup", Credential{Email: "b@example.com", Password: "123"}, 400, CodeWeakPassword},
		{"duplicate", "/v1/auth/signup", Credential{Email: "a@example.com", Password: "hunter22"}, 409, CodeEmailInUse},
		{"bad email", "/v1/auth/signup", Credential{Email: "nope", Password: "hunter22"}, 400, CodeInvalidCredential},
		{"missing password", "/v1/auth/signin", Credential{Email: "a@example.com"}, 400, CodeInvalidCredential},
		{"unknown user", "/v1/auth/signin", Credential{Email: "z@example.com", Password: "hunter22"}, 401, CodeUserNotFound},
		{"wrong password", "/v1/auth/signin", Credential{Email: "a@example.com", Password: "hunter23"}, 401, CodeWrongPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, "POST", tt.path, "", tt.body)
			assert.Equal(t, tt.status, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestHandler_MalformedBody(t *testing.T) {
	r, _ := setupTestRouter(t)
	req := httptest.NewRequest("POST", "/v1/auth/signin", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")
}

func TestRequireAuth_NoToken(t *testing.T) {
	r, _ := setupTestRouter(t)
	w := doJSON(r, "GET", "/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"unauthorized","redirect":"/login"}`, w.Body.String())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, StatusFor(CodeTooManyRequests))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(CodeUnknown))
	assert.Equal(t, http.StatusInternalServerError, StatusFor("something_else"))
}
