// Package authenticator provides the credential strategies the API client
// applies to outbound requests.
//
// Every strategy offers the same three capabilities: Authenticate adds
// credentials to outbound headers, RefreshToken attempts credential renewal
// after a 401, and AccessToken reports the current bearer token. StaticKey,
// ForwardedIdentity and None are immutable after construction and safe for
// concurrent use. ClientCredentials caches its token behind a mutex.
package authenticator

import (
	"context"
	"net/http"
	"strings"

	"github.com/kamiwaza-ai/appgarden/internal/auth"
)

// Authenticator applies credentials to outbound requests
type Authenticator interface {
	// Authenticate adds credentials to the outbound headers
	Authenticate(ctx context.Context, h http.Header) error

	// RefreshToken attempts to renew the credential after a 401
	RefreshToken(ctx context.Context) error

	// AccessToken returns the current bearer token, if any
	AccessToken() (string, bool)
}

// None applies no credentials. Used for public-only clients.
type None struct{}

// NewNone returns the no-auth strategy
func NewNone() None {
	return None{}
}

func (None) Authenticate(context.Context, http.Header) error { return nil }

func (None) RefreshToken(context.Context) error { return nil }

func (None) AccessToken() (string, bool) { return "", false }

// StaticKey sends a fixed API key as a bearer token. Keys cannot be rotated,
// so RefreshToken does nothing.
type StaticKey struct {
	key string
}

// NewStaticKey returns a strategy that always sends key
func NewStaticKey(key string) StaticKey {
	return StaticKey{key: key}
}

func (s StaticKey) Authenticate(_ context.Context, h http.Header) error {
	h.Set("Authorization", "Bearer "+s.key)
	return nil
}

func (StaticKey) RefreshToken(context.Context) error { return nil }

func (s StaticKey) AccessToken() (string, bool) {
	return s.key, s.key != ""
}

// ForwardedIdentity replays the caller's captured auth headers verbatim. The
// edge proxy owns the credential lifetime, so RefreshToken does nothing.
type ForwardedIdentity struct {
	headers http.Header
}

// NewForwardedIdentity captures a copy of headers; later changes to the
// original do not leak into outbound requests
func NewForwardedIdentity(headers http.Header) ForwardedIdentity {
	return ForwardedIdentity{headers: headers.Clone()}
}

// FromRequest captures the auth-relevant headers of an inbound request
func FromRequest(r *http.Request) ForwardedIdentity {
	return ForwardedIdentity{headers: auth.ForwardAuthHeaders(r.Header, auth.ForwardOptions{})}
}

func (f ForwardedIdentity) Authenticate(_ context.Context, h http.Header) error {
	for key, values := range f.headers {
		h[key] = append([]string(nil), values...)
	}
	return nil
}

func (ForwardedIdentity) RefreshToken(context.Context) error { return nil }

func (f ForwardedIdentity) AccessToken() (string, bool) {
	value := f.headers.Get("Authorization")
	if value == "" {
		for key, values := range f.headers {
			if strings.EqualFold(key, "authorization") && len(values) > 0 {
				value = values[0]
				break
			}
		}
	}

	token, err := auth.ExtractBearerToken(value)
	if err != nil {
		return "", false
	}
	return token, true
}
