package authstore

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LooksLikeJWT reports whether s has the shape of a signed token: three
// non-empty base64url segments.
func LooksLikeJWT(s string) bool {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		if _, err := base64.RawURLEncoding.DecodeString(part); err != nil {
			return false
		}
	}
	return true
}

// DecodeExpiry extracts the expiry claim from a JWT without verifying its
// signature. Returns the zero time when the token has no usable expiry.
func DecodeExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// TokenExpired reports whether a JWT-shaped token carries an expiry in the
// past. Tokens without a decodable expiry are treated as unexpired.
func TokenExpired(token string, now time.Time) bool {
	expiry, ok := DecodeExpiry(token)
	if !ok {
		return false
	}
	return !expiry.After(now)
}
