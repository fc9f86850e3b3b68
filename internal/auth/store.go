package auth

import "context"

// CredentialStore persists principals. Create must reject a second principal with the
// same normalized email atomically, returning ErrDuplicateIdentifier; lookups return
// ErrNotFound when nothing matches.
type CredentialStore interface {
	CreatePrincipal(ctx context.Context, p *Principal) error
	FindPrincipal(ctx context.Context, id string) (*Principal, error)
	FindPrincipalByEmail(ctx context.Context, email string) (*Principal, error)
	UpdatePrincipal(ctx context.Context, p *Principal) error
	DeletePrincipal(ctx context.Context, id string) error
}

// LoginThrottle counts failed logins per identifier. Implementations live outside the
// package (see internal/throttle); a nil throttle disables the check.
type LoginThrottle interface {
	Allow(ctx context.Context, identifier string) error
	Failure(ctx context.Context, identifier string) error
	Reset(ctx context.Context, identifier string) error
}
