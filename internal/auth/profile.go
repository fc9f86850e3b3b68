package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/oops"

	"taskflow.dev/internal/obs"
)

// ProfileUpdate carries optional display name changes. Nil fields are left untouched.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
}

// Principal loads a principal by id.
func (s *Service) Principal(ctx context.Context, id string) (*Principal, error) {
	p, err := s.store.FindPrincipal(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, oops.In("auth").Code("AUTH_PRINCIPAL_LOOKUP_FAILED").With("principal_id", id).Wrap(err)
	}
	return p, nil
}

// UpdateProfile changes the display name of principal id.
func (s *Service) UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (*Principal, error) {
	p, err := s.Principal(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.FirstName != nil {
		name := strings.TrimSpace(*in.FirstName)
		if err := validateName("first name", name); err != nil {
			return nil, err
		}
		p.FirstName = name
	}
	if in.LastName != nil {
		name := strings.TrimSpace(*in.LastName)
		if err := validateName("last name", name); err != nil {
			return nil, err
		}
		p.LastName = name
	}
	if err := s.store.UpdatePrincipal(ctx, p); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, oops.In("auth").Code("AUTH_PROFILE_UPDATE_FAILED").With("principal_id", id).Wrap(err)
	}
	return p, nil
}

// ChangePassword replaces the password after checking the current one. A wrong current
// password returns ErrInvalidCredentials. Issued tokens are not affected.
func (s *Service) ChangePassword(ctx context.Context, id, current, next string) error {
	p, err := s.Principal(ctx, id)
	if err != nil {
		return err
	}
	if err := validatePassword(next); err != nil {
		return err
	}
	if err := s.hasher.Verify(ctx, p.PasswordHash, current); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			obs.RecordAuthEvent("change_password", "invalid_credentials")
			return ErrInvalidCredentials
		}
		return oops.In("auth").Code("AUTH_PASSWORD_CHANGE_FAILED").With("operation", "verify password").Wrap(err)
	}
	hash, err := s.hasher.Hash(ctx, next)
	if err != nil {
		return err
	}
	p.PasswordHash = hash
	if err := s.store.UpdatePrincipal(ctx, p); err != nil {
		return oops.In("auth").Code("AUTH_PASSWORD_CHANGE_FAILED").With("operation", "update principal").Wrap(err)
	}
	obs.RecordAuthEvent("change_password", "success")
	obs.Logger().InfoContext(ctx, "password changed", "principal_id", p.ID)
	return nil
}

// DeleteAccount removes principal id. Tokens already issued stay structurally valid but
// stop resolving, so Authenticate and Refresh reject them from then on.
func (s *Service) DeleteAccount(ctx context.Context, id string) error {
	if err := s.store.DeletePrincipal(ctx, strings.TrimSpace(id)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return oops.In("auth").Code("AUTH_DELETE_FAILED").With("principal_id", id).Wrap(err)
	}
	obs.RecordAuthEvent("delete_account", "success")
	obs.Logger().InfoContext(ctx, "principal deleted", "principal_id", id)
	return nil
}
