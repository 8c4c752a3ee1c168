package session

import (
	"errors"
	"time"
)

// SessionData is the body of GET /api/session
type SessionData struct {
	UserID           string   `json:"user_id"`
	Email            string   `json:"email"`
	Name             string   `json:"name,omitempty"`
	Roles            []string `json:"roles"`
	RequestID        string   `json:"request_id,omitempty"`
	AuthEnabled      bool     `json:"auth_enabled"`
	SessionExpiresAt *int64   `json:"session_expires_at,omitempty"`
}

// LogoutRequest is the body of POST /api/auth/logout
type LogoutRequest struct {
	PostLogoutRedirectURI string `json:"post_logout_redirect_uri,omitempty"`
}

// LogoutResponse is returned by logout, including when the platform call failed
type LogoutResponse struct {
	Success               bool   `json:"success"`
	Message               string `json:"message"`
	RedirectURL           string `json:"redirect_url,omitempty"`
	FrontChannelLogoutURL string `json:"front_channel_logout_url,omitempty"`
}

// LoginURLResponse is the body of GET /api/auth/login-url
type LoginURLResponse struct {
	LoginURL string `json:"login_url"`
}

// Status is the lifecycle state of a Manager
type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// State is a snapshot of a Manager. Session is nil when the user is signed
// out; Err is set only in StatusError.
type State struct {
	Status  Status
	Session *SessionData
	Err     error
}

// SessionExpired reports whether the last fetch failed because the platform
// session ended, as opposed to a network or decoding failure
func (s State) SessionExpired() bool {
	return s.Err != nil && errors.Is(s.Err, ErrSessionExpired)
}

// AuthEnabled reports whether the loaded session has platform auth enabled.
// Unknown (no session) counts as enabled.
func (s State) AuthEnabled() bool {
	return s.Session == nil || s.Session.AuthEnabled
}

// ErrSessionExpired matches every *ExpiredError
var ErrSessionExpired = errors.New("session expired")

// ExpiredError is returned when the session endpoint answers 401 with
// {"detail":{"error":"session_expired"}}
type ExpiredError struct {
	Message string
}

func (e *ExpiredError) Error() string {
	if e.Message == "" {
		return ErrSessionExpired.Error()
	}
	return "session expired: " + e.Message
}

func (e *ExpiredError) Is(target error) bool {
	return target == ErrSessionExpired
}

// CalculateTimeRemaining returns the whole seconds until expiresAt, floored at
// zero. ok is false when no expiry is known.
func CalculateTimeRemaining(expiresAt *int64, now time.Time) (remaining int64, ok bool) {
	if expiresAt == nil {
		return 0, false
	}
	remaining = *expiresAt - now.Unix()
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}
