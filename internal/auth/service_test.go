package auth

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type serviceFixture struct {
	svc   *Service
	store *MemoryStore
	clock *fakeClock
}

func newServiceFixture(t *testing.T, opts ...ServiceOption) serviceFixture {
	t.Helper()
	clock := &fakeClock{now: time.Now().UTC()}
	store := NewMemoryStore()
	codec := newTestCodec(t, clock)
	opts = append([]ServiceOption{
		WithPasswordHasher(NewBcryptHasher(WithBcryptCost(bcrypt.MinCost))),
		WithAccessTTL(15 * time.Minute),
		WithRefreshTTL(24 * time.Hour),
	}, opts...)
	svc, err := NewService(store, codec, opts...)
	require.NoError(t, err)
	return serviceFixture{svc: svc, store: store, clock: clock}
}

func registerInput(email string) RegisterInput {
	return RegisterInput{Email: email, Password: "correct horse", FirstName: "Ada", LastName: "Lovelace"}
}

func TestRegisterIssuesSession(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Register(ctx, registerInput("  Ada@Example.com "))
	require.NoError(t, err)
	assert.Equal(t, "Bearer", sess.TokenType)
	assert.EqualValues(t, 900, sess.ExpiresIn)
	assert.Equal(t, "ada@example.com", sess.User.Email)
	assert.Equal(t, "USER", sess.User.Role)
	assert.NotEmpty(t, sess.User.ID)

	p, err := f.svc.Authenticate(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, p.ID)
	assert.True(t, p.Enabled)
	assert.NotEqual(t, "correct horse", p.PasswordHash)
}

func TestRegisterDuplicateIsCaseInsensitive(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first, err := f.svc.Register(ctx, registerInput("ada@example.com"))
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, registerInput("ADA@Example.COM"))
	require.ErrorIs(t, err, ErrDuplicateIdentifier)

	p, err := f.store.FindPrincipalByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, p.ID)
	assert.Len(t, f.store.byID, 1)
}

func TestRegisterConcurrentDuplicatesCreateOnePrincipal(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(ctx, registerInput("race@example.com"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			assert.ErrorIs(t, err, ErrDuplicateIdentifier)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
	assert.Len(t, f.store.byID, 1)
}

func TestRegisterValidatesInput(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	cases := map[string]RegisterInput{
		"missing email":  {Password: "correct horse", FirstName: "A", LastName: "B"},
		"bad email":      {Email: "not-an-email", Password: "correct horse", FirstName: "A", LastName: "B"},
		"short password": {Email: "a@example.com", Password: "short", FirstName: "A", LastName: "B"},
		"missing name":   {Email: "a@example.com", Password: "correct horse", LastName: "B"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Empty(t, f.store.byID)
}

func TestLogin(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, registerInput("ada@example.com"))
	require.NoError(t, err)

	sess, err := f.svc.Login(ctx, "ADA@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, sess.User.ID)
	assert.NotEqual(t, reg.AccessToken, sess.AccessToken)
	assert.NotEqual(t, reg.RefreshToken, sess.RefreshToken)

	_, err = f.svc.Login(ctx, "ada@example.com", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginRejectsDisabledPrincipal(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, registerInput("ada@example.com"))
	require.NoError(t, err)

	p, err := f.store.FindPrincipal(ctx, reg.User.ID)
	require.NoError(t, err)
	p.Enabled = false
	require.NoError(t, f.store.UpdatePrincipal(ctx, p))

	_, err = f.svc.Login(ctx, "ada@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Authenticate(ctx, reg.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = f.svc.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLoginTimingDoesNotRevealUnknownEmail(t *testing.T) {
	f := newServiceFixture(t, WithPasswordHasher(NewBcryptHasher(WithBcryptCost(8))))
	ctx := context.Background()
	_, err := f.svc.Register(ctx, registerInput("ada@example.com"))
	require.NoError(t, err)

	const rounds = 9
	var wrongPassword, unknownEmail []time.Duration
	for i := 0; i < rounds; i++ {
		start := time.Now()
		_, err := f.svc.Login(ctx, "ada@example.com", "wrong password")
		wrongPassword = append(wrongPassword, time.Since(start))
		require.ErrorIs(t, err, ErrInvalidCredentials)

		start = time.Now()
		_, err = f.svc.Login(ctx, "nobody@example.com", "wrong password")
		unknownEmail = append(unknownEmail, time.Since(start))
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	a, b := median(wrongPassword), median(unknownEmail)
	ratio := float64(a) / float64(b)
	assert.Greater(t, ratio, 0.5, "wrong password %s vs unknown email %s", a, b)
	assert.Less(t, ratio, 2.0, "wrong password %s vs unknown email %s", a, b)
}

func median(ds []time.Duration) time.Duration {
	sorted := append([]time.Duration(nil), ds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}

func TestRefreshRotationKeepsOldTokenValid(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	first, err := f.svc.Register(ctx, registerInput("ada@example.com"))
	require.NoError(t, err)

	second, err := f.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, first.User, second.User)

	_, err = f.svc.Authenticate(ctx, second.AccessToken)
	require.NoError(t, err)

	// no revocation: R1 still works after rotation, as does R2
	third, err := f.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, second.RefreshToken, third.RefreshToken)
	_, err = f.svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshFailures(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Register(ctx, registerInput("ada@example.com"))
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, ErrTokenKindMismatch)

	_, err = f.svc.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, ErrMalformedToken)

	f.clock.Advance(25 * time.Hour)
	_, err = f.svc.Refresh(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestRefreshWithForeignSignature(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Register(ctx, registerInput("ada@example.com"))
	require.NoError(t, err)

	forger, err := NewTokenCodec([]byte("attacker-secret"))
	require.NoError(t, err)
	forged, _, err := forger.Issue(sess.User.ID, KindRefresh, time.Hour)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestAuthenticateRejectsRefreshAndExpiredTokens(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Register(ctx, registerInput("ada@example.com"))
	require.NoError(t, err)

	_, err = f.svc.Authenticate(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenKindMismatch)

	f.clock.Advance(16 * time.Minute)
	_, err = f.svc.Authenticate(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDeletedPrincipalTokensStopResolving(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Register(ctx, registerInput("ada@example.com"))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteAccount(ctx, sess.User.ID))

	_, err = f.svc.Authenticate(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = f.svc.Refresh(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, f.svc.DeleteAccount(ctx, sess.User.ID), ErrNotFound)

	// email is free again
	_, err = f.svc.Register(ctx, registerInput("ada@example.com"))
	require.NoError(t, err)
}

func TestProfileOperations(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Register(ctx, registerInput("ada@example.com"))
	require.NoError(t, err)
	id := sess.User.ID

	first := "Augusta"
	p, err := f.svc.UpdateProfile(ctx, id, ProfileUpdate{FirstName: &first})
	require.NoError(t, err)
	assert.Equal(t, "Augusta", p.FirstName)
	assert.Equal(t, "Lovelace", p.LastName)

	blank := "  "
	_, err = f.svc.UpdateProfile(ctx, id, ProfileUpdate{LastName: &blank})
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, id, "wrong password", "new password 1"), ErrInvalidCredentials)
	assert.ErrorIs(t, f.svc.ChangePassword(ctx, id, "correct horse", "short"), ErrInvalidInput)
	require.NoError(t, f.svc.ChangePassword(ctx, id, "correct horse", "new password 1"))

	_, err = f.svc.Login(ctx, "ada@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "ada@example.com", "new password 1")
	require.NoError(t, err)

	_, err = f.svc.Principal(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

type countingThrottle struct {
	mu       sync.Mutex
	limit    int
	failures map[string]int
	resets   int
}

func (c *countingThrottle) Allow(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures[id] >= c.limit {
		return ErrTooManyAttempts
	}
	return nil
}

func (c *countingThrottle) Failure(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[id]++
	return nil
}

func (c *countingThrottle) Reset(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, id)
	c.resets++
	return nil
}

func TestLoginThrottle(t *testing.T) {
	throttle := &countingThrottle{limit: 2, failures: map[string]int{}}
	f := newServiceFixture(t, WithLoginThrottle(throttle))
	ctx := context.Background()
	_, err := f.svc.Register(ctx, registerInput("ada@example.com"))
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, 1, throttle.resets)

	for i := 0; i < 2; i++ {
		_, err = f.svc.Login(ctx, "Ada@example.com", "wrong password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err = f.svc.Login(ctx, "ada@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrTooManyAttempts)
}

type brokenThrottle struct{}

func (brokenThrottle) Allow(context.Context, string) error   { return errors.New("redis down") }
func (brokenThrottle) Failure(context.Context, string) error { return errors.New("redis down") }
func (brokenThrottle) Reset(context.Context, string) error   { return errors.New("redis down") }

func TestLoginThrottleFailsOpen(t *testing.T) {
	f := newServiceFixture(t, WithLoginThrottle(brokenThrottle{}))
	ctx := context.Background()
	_, err := f.svc.Register(ctx, registerInput("ada@example.com"))
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
}

func TestNewServiceRejectsBadOptions(t *testing.T) {
	codec := newTestCodec(t, &fakeClock{now: time.Now()})
	_, err := NewService(NewMemoryStore(), codec, WithAccessTTL(0))
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = NewService(NewMemoryStore(), codec, WithRefreshTTL(-time.Second))
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = NewService(nil, codec)
	assert.Error(t, err)
}
