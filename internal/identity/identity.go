// Package identity is the identity provider for creditlens: email/password
// accounts, opaque session tokens, and change notifications for watchers.
//
// Session model:
//   - SignUp and SignIn issue a random bearer token ("cl_...")
//   - only the SHA-256 hash of a token is stored, with a TTL
//   - Watch reports the identity behind a token, then every later change
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/creditlens/internal/idgen"
)

// Errors returned by stores.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrEmailTaken      = errors.New("email already registered")
	ErrSessionNotFound = errors.New("session not found or expired")
	ErrNoToken         = errors.New("session token required")
)

// AuthError codes. These are the only codes surfaced to clients.
const (
	CodeInvalidCredential = "invalid_credential"
	CodeUserNotFound      = "user_not_found"
	CodeWrongPassword     = "wrong_password"
	CodeEmailInUse        = "email_already_in_use"
	CodeWeakPassword      = "weak_password"
	CodeTooManyRequests   = "too_many_requests"
	CodeUnknown           = "unknown"
)

// AuthError is a classified identity failure.
type AuthError struct {
	Code string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth/%s: %v", e.Code, e.Err)
	}
	return "auth/" + e.Code
}

func (e *AuthError) Unwrap() error { return e.Err }

// Message is a short user-facing description of the code.
func (e *AuthError) Message() string {
	switch e.Code {
	case CodeInvalidCredential:
		return "Invalid email or password."
	case CodeUserNotFound:
		return "No account found with this email."
	case CodeWrongPassword:
		return "Incorrect password."
	case CodeEmailInUse:
		return "An account with this email already exists."
	case CodeWeakPassword:
		return "Password should be at least 6 characters."
	case CodeTooManyRequests:
		return "Too many attempts. Try again later."
	default:
		return "Authentication failed. Please try again."
	}
}

func authErr(code string, err error) *AuthError {
	return &AuthError{Code: code, Err: err}
}

// CodeOf returns the AuthError code of err, or CodeUnknown.
func CodeOf(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// Identity is a verified user attached to a session.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// User is a stored account.
type User struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

// Identity returns the public view of u.
func (u *User) Identity() *Identity {
	return &Identity{UserID: u.ID, Email: u.Email}
}

// Credential is an email/password pair.
type Credential struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is the result of a successful sign-in or sign-up.
type Session struct {
	Token     string    `json:"token"`
	Identity  *Identity `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserStore persists accounts.
type UserStore interface {
	Create(ctx context.Context, user *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
}

// TokenStore maps token hashes to user IDs.
type TokenStore interface {
	Put(ctx context.Context, tokenHash, userID string, ttl time.Duration) error
	Lookup(ctx context.Context, tokenHash string) (string, error)
	Delete(ctx context.Context, tokenHash string) error
}

const tokenPrefix = "cl_"

func newToken() string {
	return tokenPrefix + idgen.Hex(32)
}

// HashToken returns the storage key for a raw token.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// CleanToken strips an optional "Bearer " prefix and surrounding space.
func CleanToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = raw[7:]
	}
	return strings.TrimSpace(raw)
}
