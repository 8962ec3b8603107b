package token

import "strings"

const bearerPrefix = "bearer "

// FromHeader extracts the token from an "Authorization: Bearer <token>" value.
// The scheme is matched case-insensitively.
func FromHeader(v string) (string, error) {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrNoBearer
	}
	t := strings.TrimSpace(v[len(bearerPrefix):])
	if t == "" || strings.ContainsAny(t, " \t") {
		return "", ErrNoBearer
	}
	return t, nil
}
