// Package model defines domain entities used by services and repositories.
package model

import (
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role is the authorisation tier carried in tokens.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// Valid reports whether r is a recognised role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser:
		return true
	}
	return false
}

// ParseRole maps a case-insensitive string onto a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.Valid()
}

// HashParams is the snapshot of password hash cost stored next to the digest.
type HashParams struct {
	MemoryCost  uint32 `json:"memoryCost"`
	TimeCost    uint32 `json:"timeCost"`
	Parallelism uint8  `json:"parallelism"`
}

// User represents an account stored on the server. Passwords are never stored in plaintext.
type User struct {
	ID        uuid.UUID  // PK
	Email     string     // unique, normalized lower-case
	PwdHash   string     // PHC-encoded argon2id digest
	Role      Role       // ADMIN or USER
	HashAlgo  string     // e.g. "argon2id"
	HashMeta  HashParams // cost parameters PwdHash was produced with
	CreatedAt time.Time
}

// Tokens is the login result handed to the client.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// NormalizeEmail trims and lower-cases an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
