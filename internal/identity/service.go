package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mbd888/creditlens/internal/idgen"
	"github.com/mbd888/creditlens/internal/metrics"
	"github.com/mbd888/creditlens/internal/ratelimit"
	"github.com/mbd888/creditlens/internal/traces"
	"github.com/mbd888/creditlens/internal/validation"
	"golang.org/x/crypto/bcrypt"
)

// Defaults for Service options.
const (
	DefaultSessionTTL     = 7 * 24 * time.Hour
	DefaultResolveTimeout = 5 * time.Second
	DefaultSignInPerMin   = 10
)

// Service implements sign-up, sign-in, sign-out, and identity watching.
type Service struct {
	users          UserStore
	tokens         TokenStore
	throttle       *ratelimit.Limiter
	logger         *slog.Logger
	ttl            time.Duration
	resolveTimeout time.Duration
	bcryptCost     int

	mu       sync.Mutex
	watchers map[string]map[uint64]*watcher // by token hash
	nextID   uint64
}

// Option configures a Service.
type Option func(*Service)

// WithSessionTTL sets how long issued tokens stay valid.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithResolveTimeout bounds the lookup behind a Watch report.
func WithResolveTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.resolveTimeout = d
		}
	}
}

// WithSignInRate limits sign-in attempts per email per minute.
func WithSignInRate(perMinute int) Option {
	return func(s *Service) {
		if perMinute > 0 {
			s.throttle.Stop()
			s.throttle = newThrottle(perMinute)
		}
	}
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func newThrottle(perMinute int) *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		RequestsPerMinute: perMinute,
		BurstSize:         perMinute,
		CleanupInterval:   5 * time.Minute,
	})
}

// NewService creates an identity service.
func NewService(users UserStore, tokens TokenStore, opts ...Option) *Service {
	s := &Service{
		users:          users,
		tokens:         tokens,
		throttle:       newThrottle(DefaultSignInPerMin),
		logger:         slog.Default(),
		ttl:            DefaultSessionTTL,
		resolveTimeout: DefaultResolveTimeout,
		bcryptCost:     bcrypt.DefaultCost,
		watchers:       make(map[string]map[uint64]*watcher),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close stops background work.
func (s *Service) Close() {
	s.throttle.Stop()
}

// SignUp creates an account and signs it in.
func (s *Service) SignUp(ctx context.Context, cred Credential) (sess *Session, err error) {
	ctx, span := traces.StartSpan(ctx, "identity.SignUp", traces.AuthOperation("signup"))
	defer span.End()
	defer func() { s.record("signup", err); traces.Fail(span, err) }()

	email := validation.NormalizeEmail(cred.Email)
	if !validation.IsValidEmail(email) {
		return nil, authErr(CodeInvalidCredential, errors.New("malformed email"))
	}
	if utf8.RuneCountInString(cred.Password) < validation.MinPasswordLength {
		return nil, authErr(CodeWeakPassword, nil)
	}
	if len(cred.Password) > validation.MaxPasswordBytes {
		return nil, authErr(CodeInvalidCredential, errors.New("password too long"))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cred.Password), s.bcryptCost)
	if err != nil {
		return nil, authErr(CodeUnknown, err)
	}

	user := &User{
		ID:           idgen.WithPrefix("usr_"),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, authErr(CodeEmailInUse, nil)
		}
		return nil, authErr(CodeUnknown, err)
	}

	s.logger.Info("user signed up", "user_id", user.ID)
	return s.issue(ctx, user)
}

// SignIn verifies a credential and issues a session token.
func (s *Service) SignIn(ctx context.Context, cred Credential) (sess *Session, err error) {
	ctx, span := traces.StartSpan(ctx, "identity.SignIn", traces.AuthOperation("signin"))
	defer span.End()
	defer func() { s.record("signin", err); traces.Fail(span, err) }()

	email := validation.NormalizeEmail(cred.Email)
	if !validation.IsValidEmail(email) || cred.Password == "" {
		return nil, authErr(CodeInvalidCredential, nil)
	}
	if !s.throttle.Allow(email) {
		return nil, authErr(CodeTooManyRequests, nil)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, authErr(CodeUserNotFound, nil)
		}
		return nil, authErr(CodeUnknown, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(cred.Password)); err != nil {
		return nil, authErr(CodeWrongPassword, nil)
	}

	span.SetAttributes(traces.UserID(user.ID))
	return s.issue(ctx, user)
}

// SignOut revokes token and reports an absent identity to its watchers.
// On failure the token stays valid.
func (s *Service) SignOut(ctx context.Context, token string) (err error) {
	ctx, span := traces.StartSpan(ctx, "identity.SignOut", traces.AuthOperation("signout"))
	defer span.End()
	defer func() { s.record("signout", err); traces.Fail(span, err) }()

	token = CleanToken(token)
	if token == "" {
		return authErr(CodeInvalidCredential, ErrNoToken)
	}
	hash := HashToken(token)
	if err := s.tokens.Delete(ctx, hash); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return authErr(CodeUnknown, err)
	}

	s.broadcast(hash, nil)
	return nil
}

// Resolve returns the identity behind token.
func (s *Service) Resolve(ctx context.Context, token string) (*Identity, error) {
	token = CleanToken(token)
	if token == "" {
		return nil, ErrNoToken
	}
	userID, err := s.tokens.Lookup(ctx, HashToken(token))
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return user.Identity(), nil
}

func (s *Service) issue(ctx context.Context, user *User) (*Session, error) {
	token := newToken()
	if err := s.tokens.Put(ctx, HashToken(token), user.ID, s.ttl); err != nil {
		return nil, authErr(CodeUnknown, err)
	}
	return &Session{
		Token:     token,
		Identity:  user.Identity(),
		ExpiresAt: time.Now().UTC().Add(s.ttl),
	}, nil
}

func (s *Service) record(op string, err error) {
	result := "ok"
	if err != nil {
		result = CodeOf(err)
	}
	metrics.AuthAttemptsTotal.WithLabelValues(op, result).Inc()
}
