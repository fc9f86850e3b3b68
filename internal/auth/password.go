package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// PasswordHasher is a one-way, salted, deliberately slow hash.
type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	// Verify returns nil on match and ErrInvalidCredentials on mismatch.
	Verify(ctx context.Context, hash, password string) error
}

// BcryptHasher hashes with bcrypt. At most `limit` hashes run at once; callers beyond
// that wait on ctx.
type BcryptHasher struct {
	cost int
	sem  *semaphore.Weighted
}

// BcryptOption configures a BcryptHasher.
type BcryptOption func(*BcryptHasher)

// WithBcryptCost overrides bcrypt.DefaultCost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) BcryptOption {
	return func(h *BcryptHasher) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			h.cost = cost
		}
	}
}

// WithHashConcurrency bounds the number of concurrent hash computations.
func WithHashConcurrency(n int) BcryptOption {
	return func(h *BcryptHasher) {
		if n > 0 {
			h.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewBcryptHasher constructs a hasher. Concurrency defaults to GOMAXPROCS.
func NewBcryptHasher(opts ...BcryptOption) *BcryptHasher {
	h := &BcryptHasher{cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(h)
	}
	if h.sem == nil {
		h.sem = semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0)))
	}
	return h
}

// Hash hashes plaintext password using bcrypt.
func (h *BcryptHasher) Hash(ctx context.Context, password string) (string, error) {
	if len(password) == 0 {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password is too long", ErrInvalidInput)
		}
		return "", err
	}
	return string(hash), nil
}

// Verify compares plaintext password with stored hash in constant time.
func (h *BcryptHasher) Verify(ctx context.Context, hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer h.sem.Release(1)
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidCredentials
	}
	return err
}

// dummyHash produces a hash of random bytes at the hasher's cost. Login verifies
// against it when the email is unknown so both failure paths cost the same.
func dummyHash(ctx context.Context, h PasswordHasher) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return h.Hash(ctx, base64.RawStdEncoding.EncodeToString(buf))
}
