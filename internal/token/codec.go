// Package token issues and verifies stateless HS256 session tokens.
//
// A token is a JWT whose payload is {sub:{id, role}, username, jti, iat, exp}.
// jti is random per issuance, so two tokens signed in the same second differ.
// Verification checks the signature first, then expiry, then the payload
// shape; no claim is used before the signature has been checked.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/tvkeeper/internal/model"
)

// DefaultTTL is the lifetime of an access token when none is configured.
const DefaultTTL = 2 * time.Hour

// Subject identifies the token holder.
type Subject struct {
	ID   string     `json:"id"`
	Role model.Role `json:"role"`
}

// Payload is what the caller asks to be signed.
type Payload struct {
	Subject  Subject
	Username string
}

// Claims is the decoded token payload. It implements jwt.Claims.
type Claims struct {
	Sub       Subject          `json:"sub"`
	Username  string           `json:"username"`
	ID        string           `json:"jti,omitempty"`
	IssuedAt  *jwt.NumericDate `json:"iat,omitempty"`
	ExpiresAt *jwt.NumericDate `json:"exp,omitempty"`
}

var _ jwt.Claims = (*Claims)(nil)

func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) { return c.ExpiresAt, nil }
func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error)       { return c.IssuedAt, nil }
func (c *Claims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c *Claims) GetIssuer() (string, error)                   { return "", nil }
func (c *Claims) GetSubject() (string, error)                  { return c.Sub.ID, nil }
func (c *Claims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

// UserID parses the subject id.
func (c Claims) UserID() (uuid.UUID, error) {
	return uuid.FromString(c.Sub.ID)
}

// Expiry returns exp as time.Time (zero when absent).
func (c Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Codec signs and verifies tokens with a process-wide symmetric secret.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source used for iat/exp and for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec constructs a Codec. ttl <= 0 selects DefaultTTL.
func NewCodec(secret []byte, ttl time.Duration, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: empty signing secret")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Codec{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// TTL returns the configured token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue signs p with the configured TTL.
func (c *Codec) Issue(p Payload) (string, time.Time, error) {
	return c.Sign(p, c.ttl)
}

// Sign creates a signed HS256 token for p that expires ttl from now.
func (c *Codec) Sign(p Payload, ttl time.Duration) (string, time.Time, error) {
	if p.Subject.ID == "" || p.Username == "" || !p.Subject.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("sign: %w", ErrMalformed)
	}
	jti, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign: token id: %w", err)
	}
	now := c.now()
	exp := now.Add(ttl)
	claims := &Claims{
		Sub:       p.Subject,
		Username:  p.Username,
		ID:        jti.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, expiry and payload shape, in that order.
func (c *Codec) Verify(tok string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tok, &claims, c.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return Claims{}, classify(err)
	}

	if claims.IssuedAt == nil || claims.Username == "" || !claims.Sub.Role.Valid() {
		return Claims{}, ErrMalformed
	}
	if _, err := claims.UserID(); err != nil {
		return Claims{}, ErrMalformed
	}
	return claims, nil
}

func (c *Codec) keyFunc(t *jwt.Token) (any, error) {
	if t.Method != jwt.SigningMethodHS256 {
		return nil, errors.New("unexpected signing method")
	}
	return c.secret, nil
}

// classify maps parser errors onto the package sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}

// Fingerprint returns a short, non-reversible label for logging a token.
func Fingerprint(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:4])
}
