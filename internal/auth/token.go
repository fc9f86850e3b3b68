package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer  = "taskflow"
	maxTokenLength = 4096
)

// TokenKind separates short-lived access tokens from refresh tokens.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

func (k TokenKind) valid() bool {
	return k == KindAccess || k == KindRefresh
}

// Claims are the verified fields of a token.
type Claims struct {
	Subject   string
	Kind      TokenKind
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	Kind TokenKind `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenCodec issues and verifies HS256 tokens. It holds no mutable state after
// construction; rotating the key means building a new codec.
type TokenCodec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// TokenCodecOption configures a TokenCodec.
type TokenCodecOption func(*TokenCodec)

// WithIssuer overrides the iss claim written and required by the codec.
func WithIssuer(issuer string) TokenCodecOption {
	return func(c *TokenCodec) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenCodecOption {
	return func(c *TokenCodec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewTokenCodec constructs a codec signing with secret.
func NewTokenCodec(secret []byte, opts ...TokenCodecOption) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	c := &TokenCodec{
		secret: append([]byte(nil), secret...),
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token for subject. TTLs are whole seconds; anything shorter than a
// second is rejected.
func (c *TokenCodec) Issue(subject string, kind TokenKind, ttl time.Duration) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if !kind.valid() {
		return "", time.Time{}, fmt.Errorf("%w: unknown token kind %q", ErrInvalidInput, kind)
	}
	ttl = ttl.Truncate(time.Second)
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: ttl must be at least one second", ErrInvalidInput)
	}

	issuedAt := c.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)
	claims := tokenClaims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate checks, in order: shape, signature, claims, expiry, kind. The signature is
// verified over the raw segments before anything is decoded.
func (c *TokenCodec) Validate(token string, kind TokenKind) (Claims, error) {
	parts, err := splitToken(token)
	if err != nil {
		return Claims{}, err
	}
	signature, err := base64.RawURLEncoding.Strict().DecodeString(parts[2])
	if err != nil {
		return Claims{}, ErrInvalidSignature
	}
	if err := jwt.SigningMethodHS256.Verify(parts[0]+"."+parts[1], signature, c.secret); err != nil {
		return Claims{}, ErrInvalidSignature
	}

	var raw tokenClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
		jwt.WithStrictDecoding(),
	)
	if _, err := parser.ParseWithClaims(token, &raw, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}); err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, ErrInvalidSignature
		default:
			return Claims{}, ErrMalformedToken
		}
	}
	if strings.TrimSpace(raw.Subject) == "" || !raw.Kind.valid() || raw.IssuedAt == nil {
		return Claims{}, ErrMalformedToken
	}
	if raw.Kind != kind {
		return Claims{}, ErrTokenKindMismatch
	}
	return Claims{
		Subject:   raw.Subject,
		Kind:      raw.Kind,
		ID:        raw.ID,
		IssuedAt:  raw.IssuedAt.Time,
		ExpiresAt: raw.ExpiresAt.Time,
	}, nil
}

// ExtractSubjectUnsafe reads the subject without checking the signature. The result
// only selects which principal to load; it proves nothing.
func (c *TokenCodec) ExtractSubjectUnsafe(token string) (string, error) {
	if _, err := splitToken(token); err != nil {
		return "", err
	}
	var raw tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &raw); err != nil {
		return "", ErrMalformedToken
	}
	subject := strings.TrimSpace(raw.Subject)
	if subject == "" {
		return "", ErrMalformedToken
	}
	return subject, nil
}

func splitToken(token string) ([]string, error) {
	if token == "" || len(token) > maxTokenLength {
		return nil, ErrMalformedToken
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}
	for _, p := range parts {
		if p == "" {
			return nil, ErrMalformedToken
		}
	}
	return parts, nil
}
