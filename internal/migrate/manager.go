package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations returns the embedded schema files.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Status describes one migration.
type Status struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Manager applies the embedded PostgreSQL migrations with goose.
type Manager struct {
	provider *goose.Provider
}

// Option configures Manager.
type Option func(*options)

type options struct {
	table string
	fsys  fs.FS
}

// WithMigrationsTable overrides the goose bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.table = name
		}
	}
}

// WithMigrations replaces the embedded files (tests).
func WithMigrations(fsys fs.FS) Option {
	return func(o *options) {
		if fsys != nil {
			o.fsys = fsys
		}
	}
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, opts ...Option) (*Manager, error) {
	if db == nil {
		return nil, errors.New("migrate: database handle is required")
	}
	o := options{table: "schema_migrations", fsys: Migrations()}
	for _, opt := range opts {
		opt(&o)
	}
	store, err := database.NewStore(database.DialectPostgres, o.table)
	if err != nil {
		return nil, fmt.Errorf("goose store: %w", err)
	}
	// dialect stays empty when a store is supplied
	provider, err := goose.NewProvider("", db, o.fsys, goose.WithStore(store))
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Manager{provider: provider}, nil
}

// Up applies all pending migrations and returns the versions applied.
func (m *Manager) Up(ctx context.Context) ([]int64, error) {
	results, err := m.provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose up: %w", err)
	}
	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
	}
	return applied, nil
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) (int64, error) {
	result, err := m.provider.Down(ctx)
	if err != nil {
		return 0, fmt.Errorf("goose down: %w", err)
	}
	return result.Source.Version, nil
}

// Status lists every known migration in version order.
func (m *Manager) Status(ctx context.Context) ([]Status, error) {
	rows, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	out := make([]Status, 0, len(rows))
	for _, r := range rows {
		out = append(out, Status{
			Version:   r.Source.Version,
			Name:      path.Base(r.Source.Path),
			Applied:   r.State == goose.StateApplied,
			AppliedAt: r.AppliedAt,
		})
	}
	return out, nil
}

// Version reports the current schema version.
func (m *Manager) Version(ctx context.Context) (int64, error) {
	return m.provider.GetDBVersion(ctx)
}
