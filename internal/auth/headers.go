package auth

import (
	"errors"
	"net/http"
	"strings"
)

const (
	bearerPrefix = "Bearer "

	// AccessTokenCookie carries the platform bearer token when no Authorization header is sent
	AccessTokenCookie = "access_token"
)

var (
	ErrMissingAuthHeader = errors.New("missing authorization header")
	ErrInvalidAuthFormat = errors.New("invalid authorization header format")
	ErrEmptyToken        = errors.New("empty token")
)

// forwardedHeaders are relayed upstream for routing and logging
var forwardedHeaders = []string{
	"X-Forwarded-For",
	"X-Forwarded-Proto",
	"X-Forwarded-Host",
	"X-Forwarded-Uri",
	"X-Forwarded-Prefix",
	"X-Forwarded-Port",
	"X-Real-Ip",
	"X-Original-Url",
	HeaderRequestID,
}

// ForwardOptions controls which header groups ForwardAuthHeaders keeps
type ForwardOptions struct {
	SkipForwarded   bool
	SkipUserHeaders bool
}

// ForwardAuthHeaders builds the header snapshot relayed to platform APIs so the
// user's authentication context survives the hop. Authorization and cookies are
// always kept; an access_token cookie becomes a bearer header when no
// Authorization header was sent.
func ForwardAuthHeaders(in http.Header, opts ForwardOptions) http.Header {
	out := make(http.Header)

	for _, key := range []string{"Authorization", "Cookie"} {
		if v := headerValue(in, key); v != "" {
			out.Set(key, v)
		}
	}

	if !opts.SkipForwarded {
		for _, key := range forwardedHeaders {
			if v := headerValue(in, key); v != "" {
				out.Set(key, v)
			}
		}
	}

	if !opts.SkipUserHeaders {
		for key, value := range Attributes(in) {
			out.Set(key, value)
		}
	}

	if out.Get("Authorization") == "" {
		if token := CookieValue(out.Get("Cookie"), AccessTokenCookie); token != "" {
			out.Set("Authorization", bearerPrefix+token)
		}
	}

	return out
}

// CookieValue returns the named cookie from a raw Cookie header value
func CookieValue(rawCookies, name string) string {
	if rawCookies == "" {
		return ""
	}
	header := http.Header{"Cookie": {rawCookies}}
	for _, c := range (&http.Request{Header: header}).Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// ExtractBearerToken returns the token from an Authorization header value
func ExtractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}

	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", ErrInvalidAuthFormat
	}

	token := strings.TrimPrefix(authHeader, bearerPrefix)
	if token == "" {
		return "", ErrEmptyToken
	}

	return token, nil
}

// TokenFromHeaders returns the platform token, preferring the access_token
// cookie and falling back to a bearer Authorization header.
func TokenFromHeaders(h http.Header) string {
	if token := CookieValue(headerValue(h, "Cookie"), AccessTokenCookie); token != "" {
		return token
	}
	token, err := ExtractBearerToken(headerValue(h, "Authorization"))
	if err != nil {
		return ""
	}
	return token
}
