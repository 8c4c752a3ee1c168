package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MaxSessionSeconds is the default session length measured from the token's iat claim
const MaxSessionSeconds int64 = 28800

// DecodeClaims parses a JWT without verifying its signature. The edge proxy has
// already validated the token; only the claims are needed here.
func DecodeClaims(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return claims, nil
}

// SessionExpiresAt returns the unix time at which the caller's session ends:
// the token's iat plus maxSeconds, or now plus maxSeconds when no token or no
// iat claim is available.
func SessionExpiresAt(h http.Header, now time.Time, maxSeconds int64) int64 {
	if maxSeconds <= 0 {
		maxSeconds = MaxSessionSeconds
	}
	fallback := now.Unix() + maxSeconds

	token := TokenFromHeaders(h)
	if token == "" {
		return fallback
	}

	claims, err := DecodeClaims(token)
	if err != nil {
		return fallback
	}

	issuedAt, err := claims.GetIssuedAt()
	if err != nil || issuedAt == nil {
		return fallback
	}

	return issuedAt.Unix() + maxSeconds
}
