package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgerrcode"

	"taskflow.dev/internal/auth"
	"taskflow.dev/internal/ids"
)

var _ auth.CredentialStore = (*Store)(nil)

const principalColumns = `id, email, password_hash, first_name, last_name, role, enabled, created_at, updated_at`

// CreatePrincipal inserts p. The unique index on lower(email) makes concurrent
// registrations of one address fail with auth.ErrDuplicateIdentifier.
func (s *Store) CreatePrincipal(ctx context.Context, p *auth.Principal) error {
	if s.db == nil {
		return errUnavailable
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	p.Email = auth.NormalizeEmail(p.Email)
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, password_hash, first_name, last_name, role, enabled)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at, updated_at
	`, p.ID, p.Email, p.PasswordHash, p.FirstName, p.LastName, string(p.Role), p.Enabled)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgerrcode.UniqueViolation {
			return auth.ErrDuplicateIdentifier
		}
		return err
	}
	return nil
}

func (s *Store) FindPrincipal(ctx context.Context, id string) (*auth.Principal, error) {
	return s.principalWhere(ctx, `id = $1`, id)
}

func (s *Store) FindPrincipalByEmail(ctx context.Context, email string) (*auth.Principal, error) {
	return s.principalWhere(ctx, `lower(email) = $1`, auth.NormalizeEmail(email))
}

func (s *Store) principalWhere(ctx context.Context, cond string, arg any) (*auth.Principal, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	var (
		p    auth.Principal
		role string
	)
	err := s.db.QueryRowContext(ctx, `select `+principalColumns+` from users where `+cond, arg).
		Scan(&p.ID, &p.Email, &p.PasswordHash, &p.FirstName, &p.LastName, &role, &p.Enabled, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Role = auth.Role(role)
	return &p, nil
}

// UpdatePrincipal writes the mutable fields and refreshes p from the row.
func (s *Store) UpdatePrincipal(ctx context.Context, p *auth.Principal) error {
	if s.db == nil {
		return errUnavailable
	}
	var role string
	err := s.db.QueryRowContext(ctx, `
		update users
		set first_name = $2, last_name = $3, password_hash = $4, role = $5, enabled = $6, updated_at = now()
		where id = $1
		returning `+principalColumns,
		p.ID, p.FirstName, p.LastName, p.PasswordHash, string(p.Role), p.Enabled,
	).Scan(&p.ID, &p.Email, &p.PasswordHash, &p.FirstName, &p.LastName, &role, &p.Enabled, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if err != nil {
		return err
	}
	p.Role = auth.Role(role)
	return nil
}

// DeletePrincipal removes the user; owned projects and their tasks go with it.
func (s *Store) DeletePrincipal(ctx context.Context, id string) error {
	if s.db == nil {
		return errUnavailable
	}
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	return affectedOne(res, auth.ErrNotFound)
}
