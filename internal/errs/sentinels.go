// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates malformed input rejected before any work is done.
	ErrValidation = errors.New("validation")

	// ErrInvalidCredentials is the single login failure; it never says which factor was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnauthenticated indicates a missing, malformed, expired or forged bearer token.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrRevoked indicates a structurally valid token that was logged out.
	ErrRevoked = errors.New("token revoked")

	// ErrForbidden indicates an authenticated caller without the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrInternal indicates a hashing, signing or storage failure. Causes stay server-side.
	ErrInternal = errors.New("internal error")
)
