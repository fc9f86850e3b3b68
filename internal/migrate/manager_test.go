package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreAnnotated(t *testing.T) {
	entries, err := fs.ReadDir(Migrations(), ".")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for _, e := range entries {
		raw, err := fs.ReadFile(Migrations(), e.Name())
		require.NoError(t, err)
		body := string(raw)
		assert.True(t, strings.HasPrefix(body, "-- +goose Up"), e.Name())
		assert.Contains(t, body, "-- +goose Down", e.Name())
	}

	users, err := fs.ReadFile(Migrations(), "00001_users.sql")
	require.NoError(t, err)
	assert.Contains(t, string(users), "on users (lower(email))")
}

func TestNewManager(t *testing.T) {
	_, err := NewManager(nil)
	assert.Error(t, err)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m, err := NewManager(db, WithMigrationsTable("taskflow_migrations"))
	require.NoError(t, err)
	assert.NotNil(t, m)
}
