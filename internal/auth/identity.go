package auth

import (
	"net/http"
	"strings"
)

// Forwarded identity headers injected by the edge proxy after it validates the user
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
	HeaderUserRoles = "X-User-Roles"
	HeaderRequestID = "X-Request-Id"

	userHeaderPrefix = "x-user-"
)

// Identity represents the user an inbound request was authenticated as.
// It is built per request and never persisted.
type Identity struct {
	UserID    string   `json:"user_id"`
	Email     string   `json:"email,omitempty"`
	Name      string   `json:"name,omitempty"`
	Roles     []string `json:"roles"`
	RequestID string   `json:"request_id,omitempty"`
}

// IsAuthenticated reports whether the identity carries both a user id and an email
func (i *Identity) IsAuthenticated() bool {
	return i != nil && i.UserID != "" && i.Email != ""
}

// HasRole reports whether the identity holds the given role
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the identity holds the admin role
func (i *Identity) IsAdmin() bool {
	return i.HasRole("admin")
}

// Anonymous returns the identity used when platform auth is disabled
func Anonymous(requestID string) *Identity {
	return &Identity{
		UserID:    "anonymous",
		Email:     "anonymous@local",
		Name:      "Anonymous",
		Roles:     []string{},
		RequestID: requestID,
	}
}

// FromHeaders extracts the forwarded identity from inbound headers.
// Returns nil when no user id header is present.
func FromHeaders(h http.Header) *Identity {
	userID := headerValue(h, HeaderUserID)
	if userID == "" {
		return nil
	}

	return &Identity{
		UserID:    userID,
		Email:     headerValue(h, HeaderUserEmail),
		Name:      headerValue(h, HeaderUserName),
		Roles:     SplitRoles(headerValue(h, HeaderUserRoles)),
		RequestID: headerValue(h, HeaderRequestID),
	}
}

// Attributes returns every x-user-* header keyed by its lower-cased name
func Attributes(h http.Header) map[string]string {
	attrs := make(map[string]string)
	for key, values := range h {
		lower := strings.ToLower(key)
		if !strings.HasPrefix(lower, userHeaderPrefix) || len(values) == 0 || values[0] == "" {
			continue
		}
		attrs[lower] = values[0]
	}
	return attrs
}

// SplitRoles parses a comma-separated roles value, trimming each element and
// dropping empty ones. The result is never nil.
func SplitRoles(raw string) []string {
	roles := []string{}
	for _, part := range strings.Split(raw, ",") {
		if role := strings.TrimSpace(part); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

// headerValue looks a header up case-insensitively, including keys that were
// stored without canonicalization.
func headerValue(h http.Header, name string) string {
	if v := h.Get(name); v != "" {
		return v
	}
	for key, values := range h {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}
