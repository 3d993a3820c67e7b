package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields of a backend-issued token the site cares about. The
// backend signs tokens with its own secret, so the site never verifies them;
// it only reads the expiry to know when to ask for a new one.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// ParseClaims decodes a token without verifying its signature.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// Usable reports whether token can still be sent at now. Opaque (non-JWT)
// tokens and tokens without an exp claim are assumed usable. leeway shortens
// the lifetime so a token is not sent moments before it lapses.
func Usable(token string, now time.Time, leeway time.Duration) bool {
	if token == "" {
		return false
	}
	claims, err := ParseClaims(token)
	if err != nil || claims.ExpiresAt == nil {
		return true
	}
	return now.Add(leeway).Before(claims.ExpiresAt.Time)
}
