package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *MemoryUserStore, *MemoryTokenStore) {
	t.Helper()
	users := NewMemoryUserStore()
	tokens := NewMemoryTokenStore()
	opts = append([]Option{WithBcryptCost(bcrypt.MinCost), WithResolveTimeout(time.Second)}, opts...)
	svc := NewService(users, tokens, opts...)
	t.Cleanup(svc.Close)
	return svc, users, tokens
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var ae *AuthError
	require.True(t, errors.As(err, &ae), "expected *AuthError, got %T: %v", err, err)
	assert.Equal(t, code, ae.Code)
}

func TestSignUpAndSignIn(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.SignUp(ctx, Credential{Email: " Analyst@Example.com ", Password: "hunter22"})
	require.NoError(t, err)
	assert.Contains(t, sess.Token, tokenPrefix)
	assert.Equal(t, "analyst@example.com", sess.Identity.Email)
	assert.True(t, sess.ExpiresAt.After(time.Now()))

	again, err := svc.SignIn(ctx, Credential{Email: "analyst@example.com", Password: "hunter22"})
	require.NoError(t, err)
	assert.NotEqual(t, sess.Token, again.Token)
	assert.Equal(t, sess.Identity.UserID, again.Identity.UserID)

	ident, err := svc.Resolve(ctx, "Bearer "+again.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.Identity, ident)
}

func TestSignUpErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, Credential{Email: "not-an-email", Password: "hunter22"})
	requireCode(t, err, CodeInvalidCredential)

	_, err = svc.SignUp(ctx, Credential{Email: "a@example.com", Password: "12345"})
	requireCode(t, err, CodeWeakPassword)

	_, err = svc.SignUp(ctx, Credential{Email: "a@example.com", Password: "123456"})
	require.NoError(t, err)

	_, err = svc.SignUp(ctx, Credential{Email: "A@example.com", Password: "123456"})
	requireCode(t, err, CodeEmailInUse)
}

func TestSignInErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.SignUp(ctx, Credential{Email: "a@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	_, err = svc.SignIn(ctx, Credential{Email: "nobody@example.com", Password: "whatever"})
	requireCode(t, err, CodeUserNotFound)

	_, err = svc.SignIn(ctx, Credential{Email: "a@example.com", Password: "battery-staple"})
	requireCode(t, err, CodeWrongPassword)

	_, err = svc.SignIn(ctx, Credential{Email: "a@example.com", Password: ""})
	requireCode(t, err, CodeInvalidCredential)
}

func TestSignInThrottledPerEmail(t *testing.T) {
	svc, _, _ := newTestService(t, WithSignInRate(2))
	ctx := context.Background()
	_, err := svc.SignUp(ctx, Credential{Email: "a@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = svc.SignIn(ctx, Credential{Email: "a@example.com", Password: "wrong-pass"})
		requireCode(t, err, CodeWrongPassword)
	}
	_, err = svc.SignIn(ctx, Credential{Email: "a@example.com", Password: "correct-horse"})
	requireCode(t, err, CodeTooManyRequests)

	_, err = svc.SignIn(ctx, Credential{Email: "other@example.com", Password: "x-x-x-x"})
	requireCode(t, err, CodeUserNotFound)
}

func TestSignOut(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sess, err := svc.SignUp(ctx, Credential{Email: "a@example.com", Password: "hunter22"})
	require.NoError(t, err)

	require.NoError(t, svc.SignOut(ctx, sess.Token))
	_, err = svc.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// idempotent
	assert.NoError(t, svc.SignOut(ctx, sess.Token))

	requireCode(t, svc.SignOut(ctx, "  "), CodeInvalidCredential)
}

type failingTokens struct {
	*MemoryTokenStore
}

func (f failingTokens) Delete(context.Context, string) error {
	return errors.New("redis: connection refused")
}

func TestSignOutStoreFailureKeepsSession(t *testing.T) {
	users := NewMemoryUserStore()
	tokens := failingTokens{NewMemoryTokenStore()}
	svc := NewService(users, tokens, WithBcryptCost(bcrypt.MinCost))
	defer svc.Close()
	ctx := context.Background()

	sess, err := svc.SignUp(ctx, Credential{Email: "a@example.com", Password: "hunter22"})
	require.NoError(t, err)

	err = svc.SignOut(ctx, sess.Token)
	requireCode(t, err, CodeUnknown)

	ident, err := svc.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.Identity, ident)
}

func TestResolveExpiredToken(t *testing.T) {
	svc, _, tokens := newTestService(t, WithSessionTTL(time.Minute))
	ctx := context.Background()
	sess, err := svc.SignUp(ctx, Credential{Email: "a@example.com", Password: "hunter22"})
	require.NoError(t, err)

	tokens.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = svc.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestWatchReportsCurrentThenChanges(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sess, err := svc.SignUp(ctx, Credential{Email: "a@example.com", Password: "hunter22"})
	require.NoError(t, err)

	reports := make(chan *Identity, 4)
	stop := svc.Watch(sess.Token, func(id *Identity) { reports <- id })
	defer stop()

	select {
	case id := <-reports:
		require.NotNil(t, id)
		assert.Equal(t, sess.Identity.UserID, id.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial report")
	}

	require.NoError(t, svc.SignOut(ctx, sess.Token))
	select {
	case id := <-reports:
		assert.Nil(t, id)
	case <-time.After(2 * time.Second):
		t.Fatal("no sign-out report")
	}
}

func TestWatchUnknownTokenReportsAbsent(t *testing.T) {
	svc, _, _ := newTestService(t)

	reports := make(chan *Identity, 1)
	stop := svc.Watch("cl_doesnotexist", func(id *Identity) { reports <- id })
	defer stop()

	select {
	case id := <-reports:
		assert.Nil(t, id)
	case <-time.After(2 * time.Second):
		t.Fatal("no report")
	}
}

func TestWatchStopEndsDelivery(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sess, err := svc.SignUp(ctx, Credential{Email: "a@example.com", Password: "hunter22"})
	require.NoError(t, err)

	var mu sync.Mutex
	var count int
	stop := svc.Watch(sess.Token, func(*Identity) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, 2*time.Second, 5*time.Millisecond)

	stop()
	require.NoError(t, svc.SignOut(ctx, sess.Token))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestAuthErrorFormatting(t *testing.T) {
	err := &AuthError{Code: CodeWeakPassword}
	assert.Equal(t, "auth/weak_password", err.Error())
	assert.Contains(t, err.Message(), "6 characters")
	assert.Equal(t, CodeWeakPassword, CodeOf(err))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("x")))

	wrapped := &AuthError{Code: CodeUnknown, Err: errors.New("db down")}
	assert.Equal(t, "auth/unknown: db down", wrapped.Error())
}

func TestCleanToken(t *testing.T) {
	assert.Equal(t, "cl_abc", CleanToken("Bearer cl_abc"))
	assert.Equal(t, "cl_abc", CleanToken("bearer   cl_abc "))
	assert.Equal(t, "cl_abc", CleanToken("cl_abc"))
	assert.Equal(t, "", CleanToken("  "))
}
