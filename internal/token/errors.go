package token

import "errors"

// Verification failures. All of them mean the bearer is not authenticated.
var (
	ErrNoBearer     = errors.New("no bearer token")
	ErrBadSignature = errors.New("token signature invalid")
	ErrExpired      = errors.New("token expired")
	ErrMalformed    = errors.New("token malformed")
)
