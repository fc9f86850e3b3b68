package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskflow.dev/internal/obs"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14

	tokenTypeBearer = "Bearer"

	minPasswordLength = 8
	maxPasswordLength = 72
	maxNameLength     = 50
	maxEmailLength    = 254
)

var errPrincipalDisabled = errors.New("principal disabled")

// Service orchestrates registration, login and token refresh.
type Service struct {
	store      CredentialStore
	hasher     PasswordHasher
	codec      *TokenCodec
	throttle   LoginThrottle
	accessTTL  time.Duration
	refreshTTL time.Duration
	tracer     trace.Tracer

	// verified in place of a real hash when the email is unknown
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl < time.Second {
			return fmt.Errorf("%w: access ttl must be at least one second", ErrInvalidInput)
		}
		s.accessTTL = ttl
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl < time.Second {
			return fmt.Errorf("%w: refresh ttl must be at least one second", ErrInvalidInput)
		}
		s.refreshTTL = ttl
		return nil
	}
}

// WithPasswordHasher replaces the default bcrypt hasher.
func WithPasswordHasher(h PasswordHasher) ServiceOption {
	return func(s *Service) error {
		if h != nil {
			s.hasher = h
		}
		return nil
	}
}

// WithLoginThrottle enables failed-login throttling.
func WithLoginThrottle(t LoginThrottle) ServiceOption {
	return func(s *Service) error {
		s.throttle = t
		return nil
	}
}

// NewService constructs Service. It computes the dummy hash up front, so construction
// costs one hash.
func NewService(store CredentialStore, codec *TokenCodec, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: credential store is required")
	}
	if codec == nil {
		return nil, errors.New("auth: token codec is required")
	}
	svc := &Service{
		store:      store,
		codec:      codec,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		tracer:     otel.Tracer("taskflow.dev/internal/auth"),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.hasher == nil {
		svc.hasher = NewBcryptHasher()
	}
	dummy, err := dummyHash(context.Background(), svc.hasher)
	if err != nil {
		return nil, fmt.Errorf("auth: prepare dummy hash: %w", err)
	}
	svc.dummyHash = dummy
	return svc, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RegisterInput carries the registration form.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

func (in *RegisterInput) normalize() error {
	in.Email = NormalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := validateEmail(in.Email); err != nil {
		return err
	}
	if err := validatePassword(in.Password); err != nil {
		return err
	}
	if err := validateName("first name", in.FirstName); err != nil {
		return err
	}
	return validateName("last name", in.LastName)
}

// Register creates a principal and returns its first session.
func (s *Service) Register(ctx context.Context, in RegisterInput) (sess Session, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Register")
	defer func() { endSpan(span, err) }()

	if err := in.normalize(); err != nil {
		return Session{}, err
	}
	if _, err := s.store.FindPrincipalByEmail(ctx, in.Email); err == nil {
		obs.RecordAuthEvent("register", "duplicate")
		return Session{}, ErrDuplicateIdentifier
	} else if !errors.Is(err, ErrNotFound) {
		return Session{}, oops.In("auth").Code("AUTH_REGISTER_FAILED").With("operation", "find principal by email").Wrap(err)
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return Session{}, err
	}
	p := &Principal{
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         RoleUser,
		Enabled:      true,
	}
	if err := s.store.CreatePrincipal(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicateIdentifier) {
			obs.RecordAuthEvent("register", "duplicate")
			return Session{}, ErrDuplicateIdentifier
		}
		return Session{}, oops.In("auth").Code("AUTH_REGISTER_FAILED").With("operation", "create principal").Wrap(err)
	}
	span.SetAttributes(attribute.String("principal.id", p.ID))
	obs.Logger().InfoContext(ctx, "principal registered", "principal_id", p.ID)
	obs.RecordAuthEvent("register", "success")
	return s.issueSession(*p)
}

// Login authenticates email and password. Unknown email, wrong password and disabled
// account all return ErrInvalidCredentials after the same amount of hashing work.
func (s *Service) Login(ctx context.Context, email, password string) (sess Session, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer func() { endSpan(span, err) }()

	email = NormalizeEmail(email)
	if email == "" || password == "" {
		obs.RecordAuthEvent("login", "invalid_credentials")
		return Session{}, ErrInvalidCredentials
	}
	if err := s.throttleAllow(ctx, email); err != nil {
		obs.RecordAuthEvent("login", "throttled")
		return Session{}, err
	}

	principal, lookupErr := s.store.FindPrincipalByEmail(ctx, email)
	target := s.dummyHash
	switch {
	case lookupErr == nil:
		target = principal.PasswordHash
	case !errors.Is(lookupErr, ErrNotFound):
		return Session{}, oops.In("auth").Code("AUTH_LOGIN_FAILED").With("operation", "find principal by email").Wrap(lookupErr)
	}

	verifyErr := s.hasher.Verify(ctx, target, password)
	if verifyErr != nil && !errors.Is(verifyErr, ErrInvalidCredentials) && lookupErr == nil {
		return Session{}, oops.In("auth").Code("AUTH_LOGIN_FAILED").With("operation", "verify password").Wrap(verifyErr)
	}
	if lookupErr != nil || verifyErr != nil || !principal.Enabled {
		s.throttleFailure(ctx, email)
		obs.RecordAuthEvent("login", "invalid_credentials")
		return Session{}, ErrInvalidCredentials
	}

	s.throttleReset(ctx, email)
	obs.Logger().InfoContext(ctx, "principal logged in", "principal_id", principal.ID)
	obs.RecordAuthEvent("login", "success")
	return s.issueSession(*principal)
}

// Refresh exchanges a refresh token for a new access and refresh token. The presented
// token is not revoked and stays usable until its own expiry.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (sess Session, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Refresh")
	defer func() { endSpan(span, err) }()

	refreshToken = strings.TrimSpace(refreshToken)
	subject, err := s.codec.ExtractSubjectUnsafe(refreshToken)
	if err != nil {
		return Session{}, s.rejectToken("refresh", err)
	}
	principal, err := s.store.FindPrincipal(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, s.rejectToken("refresh", err)
		}
		return Session{}, oops.In("auth").Code("AUTH_REFRESH_FAILED").With("operation", "find principal").Wrap(err)
	}
	if _, err := s.codec.Validate(refreshToken, KindRefresh); err != nil {
		return Session{}, s.rejectToken("refresh", err)
	}
	if !principal.Enabled {
		return Session{}, s.rejectToken("refresh", errPrincipalDisabled)
	}
	obs.RecordAuthEvent("refresh", "success")
	return s.issueSession(*principal)
}

// Authenticate resolves the principal behind an access token. Errors wrap both
// ErrInvalidToken and the precise validation failure.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.codec.Validate(strings.TrimSpace(accessToken), KindAccess)
	if err != nil {
		return Principal{}, s.rejectToken("authenticate", err)
	}
	principal, err := s.store.FindPrincipal(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, s.rejectToken("authenticate", err)
		}
		return Principal{}, oops.In("auth").Code("AUTH_AUTHENTICATE_FAILED").With("operation", "find principal").Wrap(err)
	}
	if !principal.Enabled {
		return Principal{}, s.rejectToken("authenticate", errPrincipalDisabled)
	}
	return *principal, nil
}

func (s *Service) issueSession(p Principal) (Session, error) {
	access, _, err := s.codec.Issue(p.ID, KindAccess, s.accessTTL)
	if err != nil {
		return Session{}, err
	}
	refresh, _, err := s.codec.Issue(p.ID, KindRefresh, s.refreshTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(s.accessTTL.Truncate(time.Second) / time.Second),
		User:         p.Summary(),
	}, nil
}

func (s *Service) rejectToken(operation string, cause error) error {
	reason := TokenFailureReason(cause)
	if reason == "" {
		reason = "principal"
	}
	obs.RecordTokenFailure(reason)
	obs.RecordAuthEvent(operation, "invalid_token")
	return fmt.Errorf("%w: %w", ErrInvalidToken, cause)
}

// Throttle failures fail open: an unreachable counter store must not lock everyone out.
func (s *Service) throttleAllow(ctx context.Context, email string) error {
	if s.throttle == nil {
		return nil
	}
	err := s.throttle.Allow(ctx, email)
	if err == nil || errors.Is(err, ErrTooManyAttempts) {
		return err
	}
	obs.Logger().WarnContext(ctx, "login throttle unavailable", "error", err)
	return nil
}

func (s *Service) throttleFailure(ctx context.Context, email string) {
	if s.throttle == nil {
		return
	}
	if err := s.throttle.Failure(ctx, email); err != nil && !errors.Is(err, ErrTooManyAttempts) {
		obs.Logger().WarnContext(ctx, "login throttle unavailable", "error", err)
	}
}

func (s *Service) throttleReset(ctx context.Context, email string) {
	if s.throttle == nil {
		return
	}
	if err := s.throttle.Reset(ctx, email); err != nil {
		obs.Logger().WarnContext(ctx, "login throttle unavailable", "error", err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if len(email) > maxEmailLength {
		return fmt.Errorf("%w: email is too long", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordLength)
	}
	return nil
}

func validateName(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	if len(value) > maxNameLength {
		return fmt.Errorf("%w: %s must be at most %d characters", ErrInvalidInput, field, maxNameLength)
	}
	return nil
}
