// Package service contains the authentication gate: login, per-request
// authentication, logout and the account operations around them.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/tvkeeper/internal/crypto"
	"github.com/and161185/tvkeeper/internal/errs"
	"github.com/and161185/tvkeeper/internal/metrics"
	"github.com/and161185/tvkeeper/internal/model"
	"github.com/and161185/tvkeeper/internal/repository"
	"github.com/and161185/tvkeeper/internal/token"
)

// DefaultRehashTimeout bounds a background digest upgrade.
const DefaultRehashTimeout = 10 * time.Second

// AuthService defines authentication and account operations.
type AuthService interface {
	// Register creates a user with a fresh password digest.
	Register(ctx context.Context, email, password string, role model.Role) (model.User, error)
	// Login verifies credentials and issues an access token.
	Login(ctx context.Context, email, password string) (model.Tokens, error)
	// Authenticate checks the Authorization header value of a guarded request.
	Authenticate(ctx context.Context, header string) (token.Claims, error)
	// Logout revokes the token carried in the Authorization header value.
	Logout(ctx context.Context, header string) error
	// CurrentUser loads the identity behind an authenticated subject.
	CurrentUser(ctx context.Context, id uuid.UUID) (model.User, error)
}

// Revoker is the revocation set consulted on every guarded request.
type Revoker interface {
	Add(tok string, expiresAt time.Time)
	IsRevoked(tok string) bool
}

type AuthServiceImpl struct {
	users   repository.UserRepository
	hasher  *pkgcrypto.Hasher
	codec   *token.Codec
	revoked Revoker

	log           *zap.Logger
	metrics       *metrics.Metrics
	rehashTimeout time.Duration

	// dummyHash is verified for unknown emails so timing does not reveal them.
	dummyHash string
	rehashes  sync.WaitGroup
}

var _ AuthService = (*AuthServiceImpl)(nil)

// Option configures AuthServiceImpl.
type Option func(*AuthServiceImpl)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *AuthServiceImpl) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the outcome counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *AuthServiceImpl) { s.metrics = m }
}

// WithRehashTimeout bounds the background rehash persistence.
func WithRehashTimeout(d time.Duration) Option {
	return func(s *AuthServiceImpl) {
		if d > 0 {
			s.rehashTimeout = d
		}
	}
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(
	users repository.UserRepository,
	hasher *pkgcrypto.Hasher,
	codec *token.Codec,
	revoked Revoker,
	opts ...Option,
) (*AuthServiceImpl, error) {
	if users == nil || hasher == nil || codec == nil || revoked == nil {
		return nil, errors.New("auth service: missing dependency")
	}
	s := &AuthServiceImpl{
		users:         users,
		hasher:        hasher,
		codec:         codec,
		revoked:       revoked,
		log:           zap.NewNop(),
		rehashTimeout: DefaultRehashTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named("auth")

	seed, err := pkgcrypto.RandBytes(16)
	if err != nil {
		return nil, fmt.Errorf("dummy seed: %w", err)
	}
	if s.dummyHash, err = hasher.Hash(string(seed)); err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}
	return s, nil
}

// Register creates a new user. An empty role means USER.
func (s *AuthServiceImpl) Register(ctx context.Context, email, password string, role model.Role) (model.User, error) {
	email = model.NormalizeEmail(email)
	if email == "" || password == "" {
		return model.User{}, fmt.Errorf("%w: empty email/password", errs.ErrValidation)
	}
	if role == "" {
		role = model.RoleUser
	}
	if !role.Valid() {
		return model.User{}, fmt.Errorf("%w: unknown role %q", errs.ErrValidation, role)
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		s.log.Error("hash password", zap.Error(err))
		return model.User{}, errs.ErrInternal
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return model.User{}, errs.ErrInternal
	}

	u := &model.User{
		ID:       uid,
		Email:    email,
		PwdHash:  digest,
		Role:     role,
		HashAlgo: pkgcrypto.AlgArgon2id,
		HashMeta: s.hasher.Params().Meta(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return model.User{}, fmt.Errorf("register %s: %w", email, errs.ErrAlreadyExists)
		}
		s.log.Error("create user", zap.Error(err))
		return model.User{}, errs.ErrInternal
	}
	s.log.Info("user registered", zap.String("user_id", uid.String()), zap.String("role", string(role)))
	return *u, nil
}

// Login verifies email/password. Unknown email and wrong password produce the
// same error.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password string) (model.Tokens, error) {
	email = model.NormalizeEmail(email)

	u, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		s.hasher.Verify(s.dummyHash, password)
		s.metrics.Login(metrics.ResultInvalidCredentials)
		return model.Tokens{}, errs.ErrInvalidCredentials
	case err != nil:
		s.log.Error("load user", zap.Error(err))
		s.metrics.Login(metrics.ResultError)
		return model.Tokens{}, errs.ErrInternal
	}

	res := s.hasher.Verify(u.PwdHash, password)
	if !res.OK {
		s.metrics.Login(metrics.ResultInvalidCredentials)
		return model.Tokens{}, errs.ErrInvalidCredentials
	}

	access, exp, err := s.codec.Issue(token.Payload{
		Subject:  token.Subject{ID: u.ID.String(), Role: u.Role},
		Username: u.Email,
	})
	if err != nil {
		s.log.Error("sign token", zap.Error(err))
		s.metrics.Login(metrics.ResultError)
		return model.Tokens{}, errs.ErrInternal
	}

	if res.NeedsRehash {
		s.rehash(ctx, u.ID, password)
	}
	s.metrics.Login(metrics.ResultOK)
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, nil
}

// rehash upgrades the stored digest in the background. Failures are logged
// only; the login has already succeeded.
func (s *AuthServiceImpl) rehash(ctx context.Context, id uuid.UUID, password string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.rehashTimeout)
	s.rehashes.Add(1)
	go func() {
		defer s.rehashes.Done()
		defer cancel()

		digest, err := s.hasher.Hash(password)
		if err == nil {
			err = s.users.UpdatePasswordHash(ctx, id, digest, pkgcrypto.AlgArgon2id, s.hasher.Params().Meta())
		}
		if err != nil {
			s.log.Warn("rehash failed", zap.String("user_id", id.String()), zap.Error(err))
			s.metrics.Rehash(metrics.ResultError)
			return
		}
		s.log.Info("password rehashed", zap.String("user_id", id.String()))
		s.metrics.Rehash(metrics.ResultOK)
	}()
}

// Wait blocks until in-flight background rehashes finish.
func (s *AuthServiceImpl) Wait() { s.rehashes.Wait() }

// Authenticate verifies signature, expiry and revocation, in that order.
func (s *AuthServiceImpl) Authenticate(_ context.Context, header string) (token.Claims, error) {
	raw, err := token.FromHeader(header)
	if err != nil {
		s.metrics.Authenticate(metrics.ResultUnauthenticated)
		return token.Claims{}, fmt.Errorf("%w: %w", errs.ErrUnauthenticated, err)
	}
	claims, err := s.codec.Verify(raw)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			s.metrics.Authenticate(metrics.ResultExpired)
		} else {
			s.metrics.Authenticate(metrics.ResultUnauthenticated)
			s.log.Debug("token rejected", zap.String("token", token.Fingerprint(raw)), zap.Error(err))
		}
		return token.Claims{}, fmt.Errorf("%w: %w", errs.ErrUnauthenticated, err)
	}
	if s.revoked.IsRevoked(raw) {
		s.metrics.Authenticate(metrics.ResultRevoked)
		s.log.Debug("revoked token presented", zap.String("token", token.Fingerprint(raw)), zap.String("user_id", claims.Sub.ID))
		return token.Claims{}, errs.ErrRevoked
	}
	s.metrics.Authenticate(metrics.ResultOK)
	return claims, nil
}

// Logout revokes a valid token until its natural expiry. Tokens that fail the
// signature or shape check are refused and never stored; an already expired
// token needs no revocation and succeeds.
func (s *AuthServiceImpl) Logout(_ context.Context, header string) error {
	raw, err := token.FromHeader(header)
	if err != nil {
		s.metrics.Logout(metrics.ResultUnauthenticated)
		return fmt.Errorf("%w: %w", errs.ErrUnauthenticated, err)
	}
	claims, err := s.codec.Verify(raw)
	switch {
	case errors.Is(err, token.ErrExpired):
		s.metrics.Logout(metrics.ResultExpired)
		return nil
	case err != nil:
		s.metrics.Logout(metrics.ResultUnauthenticated)
		return fmt.Errorf("%w: %w", errs.ErrUnauthenticated, err)
	}

	s.revoked.Add(raw, claims.Expiry())
	s.metrics.Logout(metrics.ResultOK)
	s.log.Info("logout", zap.String("user_id", claims.Sub.ID), zap.String("token", token.Fingerprint(raw)))
	return nil
}

// CurrentUser returns the stored identity for id.
func (s *AuthServiceImpl) CurrentUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.User{}, errs.ErrNotFound
		}
		s.log.Error("load user", zap.Error(err))
		return model.User{}, errs.ErrInternal
	}
	return *u, nil
}

// EnsureAdmin creates an ADMIN account for email unless one already exists.
// An empty email disables seeding.
func (s *AuthServiceImpl) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" {
		return nil
	}
	u, err := s.users.GetByEmail(ctx, model.NormalizeEmail(email))
	switch {
	case err == nil:
		if u.Role != model.RoleAdmin {
			s.log.Warn("bootstrap account exists without ADMIN role", zap.String("user_id", u.ID.String()))
		}
		return nil
	case !errors.Is(err, errs.ErrNotFound):
		return fmt.Errorf("lookup bootstrap admin: %w", err)
	}

	if _, err := s.Register(ctx, email, password, model.RoleAdmin); err != nil && !errors.Is(err, errs.ErrAlreadyExists) {
		return fmt.Errorf("seed admin: %w", err)
	}
	return nil
}
