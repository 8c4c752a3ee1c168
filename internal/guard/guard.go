// Package guard decides whether a UI route may render for the current session.
package guard

import (
	"net/url"
	"strings"

	"github.com/kamiwaza-ai/appgarden/internal/config"
	"github.com/kamiwaza-ai/appgarden/internal/session"
)

// Action is what the UI should do for a route
type Action string

const (
	ActionRender   Action = "render"
	ActionLoading  Action = "loading"
	ActionRedirect Action = "redirect"
)

// Reason explains a Decision
type Reason string

const (
	ReasonPublicRoute  Reason = "public_route"
	ReasonSessionError Reason = "session_error"
	ReasonLoading      Reason = "loading"
	ReasonAuthDisabled Reason = "auth_disabled"
	ReasonNoSession    Reason = "no_session"
	ReasonAuthorized   Reason = "authorized"
)

// Decision is the outcome of Decide
type Decision struct {
	Action Action
	Reason Reason
}

// Guard holds the route allow-list of one deployment
type Guard struct {
	// BasePath is the path-routing prefix; empty for port routing
	BasePath string

	// PublicRoutes are path prefixes, relative to BasePath, that never require a session
	PublicRoutes []string
}

// New creates a guard with a normalized base path
func New(basePath string, publicRoutes []string) *Guard {
	return &Guard{BasePath: config.NormalizeBasePath(basePath), PublicRoutes: publicRoutes}
}

// Decide applies, in order: public route, fetch error, loading, auth
// disabled, missing session, and finally render
func (g *Guard) Decide(path string, state session.State) Decision {
	if g.IsPublic(path) {
		return Decision{ActionRender, ReasonPublicRoute}
	}

	switch {
	case state.Status == session.StatusError:
		return Decision{ActionRedirect, ReasonSessionError}
	case state.Status == session.StatusLoading:
		return Decision{ActionLoading, ReasonLoading}
	case state.Session != nil && !state.Session.AuthEnabled:
		return Decision{ActionRender, ReasonAuthDisabled}
	case state.Session == nil:
		return Decision{ActionRedirect, ReasonNoSession}
	default:
		return Decision{ActionRender, ReasonAuthorized}
	}
}

// IsPublic reports whether path, after stripping the base path, starts with a
// public route prefix
func (g *Guard) IsPublic(path string) bool {
	path = g.StripBasePath(path)
	for _, prefix := range g.PublicRoutes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// StripBasePath removes the base path from path. The result always starts with "/".
func (g *Guard) StripBasePath(path string) string {
	if g.BasePath != "" {
		if path == g.BasePath {
			return "/"
		}
		if strings.HasPrefix(path, g.BasePath+"/") {
			path = strings.TrimPrefix(path, g.BasePath)
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// RedirectTarget is where login should send the user back to. With path
// routing it is basePath + path + query; with port routing it is the full
// current URL so the port survives the login round trip.
func (g *Guard) RedirectTarget(current *url.URL) string {
	if g.BasePath == "" {
		u := *current
		u.Fragment = ""
		return u.String()
	}

	target := g.BasePath + g.StripBasePath(current.Path)
	if current.RawQuery != "" {
		target += "?" + current.RawQuery
	}
	return target
}
