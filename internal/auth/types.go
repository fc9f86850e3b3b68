package auth

import (
	"strings"
	"time"
)

// Role is the coarse role tag carried by a principal. It is informational; access to
// projects and tasks is decided by ownership alone.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Principal is an account able to authenticate.
type Principal struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         Role
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FullName joins the display name parts.
func (p Principal) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Summary snapshots the fields exposed in session bundles and profile responses.
func (p Principal) Summary() PrincipalSummary {
	return PrincipalSummary{
		ID:        p.ID,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Role:      string(p.Role),
	}
}

// PrincipalSummary is the public projection of a Principal.
type PrincipalSummary struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

// Session is returned once per register, login and refresh. It is never persisted and
// its user summary goes stale as soon as the profile changes.
type Session struct {
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
	TokenType    string           `json:"tokenType"`
	ExpiresIn    int64            `json:"expiresIn"`
	User         PrincipalSummary `json:"user"`
}

// NormalizeEmail is the canonical form used for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
