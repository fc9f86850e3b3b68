package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(WithBcryptCost(bcrypt.MinCost), WithHashConcurrency(2))
	ctx := context.Background()

	hash, err := h.Hash(ctx, "correct horse")
	require.NoError(t, err)
	assert.NotContains(t, hash, "correct horse")

	again, err := h.Hash(ctx, "correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "hashes must be salted")

	require.NoError(t, h.Verify(ctx, hash, "correct horse"))
	assert.ErrorIs(t, h.Verify(ctx, hash, "wrong"), ErrInvalidCredentials)
	assert.Error(t, h.Verify(ctx, "", "correct horse"))

	_, err = h.Hash(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = h.Hash(ctx, strings.Repeat("x", 73))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBcryptHasherHonoursContextWhenSaturated(t *testing.T) {
	h := NewBcryptHasher(WithBcryptCost(bcrypt.MinCost), WithHashConcurrency(1))
	require.NoError(t, h.sem.Acquire(context.Background(), 1))
	defer h.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.Hash(ctx, "correct horse")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
