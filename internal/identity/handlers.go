package identity

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/creditlens/internal/validation"
)

// Handler provides HTTP endpoints for account and session management
type Handler struct {
	service *Service
}

// NewHandler creates a new identity handler
func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// RegisterRoutes sets up public auth routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/signup", h.SignUp)
	r.POST("/auth/signin", h.SignIn)
}

// RegisterProtectedRoutes sets up routes that need a session token.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/auth/signout", h.SignOut)
	r.GET("/auth/me", h.Me)
}

// SignUp handles POST /v1/auth/signup
func (h *Handler) SignUp(c *gin.Context) {
	cred, ok := bindCredential(c)
	if !ok {
		return
	}
	sess, err := h.service.SignUp(c.Request.Context(), cred)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// SignIn handles POST /v1/auth/signin
func (h *Handler) SignIn(c *gin.Context) {
	cred, ok := bindCredential(c)
	if !ok {
		return
	}
	sess, err := h.service.SignIn(c.Request.Context(), cred)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// SignOut handles POST /v1/auth/signout
func (h *Handler) SignOut(c *gin.Context) {
	if err := h.service.SignOut(c.Request.Context(), GetToken(c)); err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signed_out": true})
}

// Me handles GET /v1/auth/me
func (h *Handler) Me(c *gin.Context) {
	ident, _ := GetIdentity(c)
	c.JSON(http.StatusOK, gin.H{"identity": ident})
}

func bindCredential(c *gin.Context) (Credential, bool) {
	var cred Credential
	if err := c.ShouldBindJSON(&cred); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must be JSON with email and password.",
		})
		return cred, false
	}
	if errs := validation.Validate(
		validation.Required("email", cred.Email),
		validation.Required("password", cred.Password),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   CodeInvalidCredential,
			"message": errs.Error(),
			"details": errs,
		})
		return cred, false
	}
	return cred, true
}

// StatusFor maps an AuthError code to an HTTP status.
func StatusFor(code string) int {
	switch code {
	case CodeInvalidCredential, CodeWeakPassword:
		return http.StatusBadRequest
	case CodeUserNotFound, CodeWrongPassword:
		return http.StatusUnauthorized
	case CodeEmailInUse:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondAuthError(c *gin.Context, err error) {
	var ae *AuthError
	if !errors.As(err, &ae) {
		ae = authErr(CodeUnknown, err)
	}
	c.JSON(StatusFor(ae.Code), gin.H{
		"error":   ae.Code,
		"message": ae.Message(),
	})
}
