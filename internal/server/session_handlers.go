package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kamiwaza-ai/appgarden/internal/apiclient"
	"github.com/kamiwaza-ai/appgarden/internal/auth"
	"github.com/kamiwaza-ai/appgarden/internal/authenticator"
	"github.com/kamiwaza-ai/appgarden/internal/session"
)

const (
	defaultPublicAPIURL  = "https://localhost/api"
	defaultPublicOrigin  = "https://localhost"
	logoutFailedMessage  = "Kamiwaza logout failed, but local session cleared"
	logoutSuccessMessage = "Logged out successfully"
	redirectURIRequired  = "redirect_uri is required"
)

// validatedIdentity is the body returned by the platform's validate endpoint
type validatedIdentity struct {
	UserID string   `json:"user_id"`
	ID     string   `json:"id"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	Roles  []string `json:"roles"`
}

// platformLogoutResponse is the body returned by the platform's logout endpoint
type platformLogoutResponse struct {
	Message               string `json:"message"`
	PostLogoutRedirectURI string `json:"post_logout_redirect_uri"`
	FrontChannelLogoutURL string `json:"front_channel_logout_url"`
}

// identityResolver trusts complete forwarded identity headers and otherwise
// asks the platform to validate the caller's token or cookies
func (s *Server) identityResolver() auth.Resolver {
	return auth.ResolverFunc(func(ctx context.Context, h http.Header) (*auth.Identity, error) {
		if id := auth.FromHeaders(h); id.IsAuthenticated() {
			return id, nil
		}
		if s.api == nil || !s.config.Kamiwaza.AuthEnabled() {
			return auth.FromHeaders(h), nil
		}
		if auth.TokenFromHeaders(h) == "" && h.Get("Cookie") == "" {
			return nil, nil
		}

		forwarded := authenticator.NewForwardedIdentity(auth.ForwardAuthHeaders(h, auth.ForwardOptions{}))

		var out validatedIdentity
		err := s.api.WithAuthenticator(forwarded).Get(ctx, s.config.Kamiwaza.EffectiveValidateURL(), &out)
		if err != nil {
			// Any non-2xx answer means the platform does not recognise the caller
			var apiErr *apiclient.APIError
			var authErr *apiclient.AuthenticationError
			if errors.As(err, &apiErr) || errors.As(err, &authErr) {
				return nil, nil
			}
			return nil, fmt.Errorf("identity validation failed: %w", err)
		}

		userID := out.UserID
		if userID == "" {
			userID = out.ID
		}
		roles := out.Roles
		if roles == nil {
			roles = []string{}
		}

		return &auth.Identity{
			UserID:    userID,
			Email:     out.Email,
			Name:      out.Name,
			Roles:     roles,
			RequestID: h.Get(auth.HeaderRequestID),
		}, nil
	})
}

// currentSession builds the session for the request, or returns nil when the
// caller is not signed in
func (s *Server) currentSession(c *gin.Context, id *auth.Identity) *session.SessionData {
	requestID := c.GetHeader(auth.HeaderRequestID)

	if !s.config.Kamiwaza.AuthEnabled() {
		anon := auth.Anonymous(requestID)
		return &session.SessionData{
			UserID:      anon.UserID,
			Email:       anon.Email,
			Name:        anon.Name,
			Roles:       anon.Roles,
			RequestID:   anon.RequestID,
			AuthEnabled: false,
		}
	}

	if !id.IsAuthenticated() {
		return nil
	}

	expiresAt := auth.SessionExpiresAt(c.Request.Header, s.clock.Now(), s.config.Auth.MaxSessionSeconds)
	return &session.SessionData{
		UserID:           id.UserID,
		Email:            id.Email,
		Name:             id.Name,
		Roles:            id.Roles,
		RequestID:        id.RequestID,
		AuthEnabled:      true,
		SessionExpiresAt: &expiresAt,
	}
}

// @Summary Get current session
// @Description Returns the caller's identity, auth mode and session expiry
// @Tags session
// @Produce json
// @Success 200 {object} session.SessionData
// @Failure 401 {object} auth.ErrorResponse
// @Router /api/session [get]
func (s *Server) getSession(c *gin.Context) {
	id, _ := auth.GetIdentity(c)

	data := s.currentSession(c, id)
	if data == nil {
		c.JSON(http.StatusUnauthorized, auth.SessionExpired(""))
		return
	}

	c.JSON(http.StatusOK, data)
}

// @Summary Build login URL
// @Description Returns the platform login URL that sends the user back to redirect_uri
// @Tags session
// @Produce json
// @Param redirect_uri query string true "App URL to return to"
// @Success 200 {object} session.LoginURLResponse
// @Failure 422 {object} map[string]interface{}
// @Router /api/auth/login-url [get]
func (s *Server) getLoginURL(c *gin.Context) {
	redirectURI := c.Query("redirect_uri")
	if redirectURI == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": redirectURIRequired})
		return
	}

	c.JSON(http.StatusOK, session.LoginURLResponse{LoginURL: s.buildLoginURL(redirectURI)})
}

// buildLoginURL points at the browser-facing platform login, echoing the
// return URL as state
func (s *Server) buildLoginURL(redirectURI string) string {
	base := s.config.Kamiwaza.EffectivePublicAPIURL()
	if base == "" {
		base = defaultPublicAPIURL
	}

	params := url.Values{"redirect_uri": {redirectURI}, "state": {redirectURI}}
	return strings.TrimRight(base, "/") + "/auth/login?" + params.Encode()
}

// defaultLogoutRedirect is the platform login page
func (s *Server) defaultLogoutRedirect() string {
	origin := s.config.Kamiwaza.PublicAPIURL
	if origin == "" {
		origin = defaultPublicOrigin
	}
	return strings.ReplaceAll(strings.TrimRight(origin, "/"), "/api", "") + "/login"
}

// @Summary Logout
// @Description Ends the platform session. Local state is cleared even when the platform call fails.
// @Tags session
// @Accept json
// @Produce json
// @Param request body session.LogoutRequest false "Logout request"
// @Success 200 {object} session.LogoutResponse
// @Router /api/auth/logout [post]
func (s *Server) logout(c *gin.Context) {
	var req session.LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Debug().Err(err).Msg("Ignoring malformed logout body")
	}

	redirect := req.PostLogoutRedirectURI
	if redirect == "" {
		redirect = s.defaultLogoutRedirect()
	}

	failed := session.LogoutResponse{
		Success:     false,
		Message:     logoutFailedMessage,
		RedirectURL: redirect,
	}

	if s.api == nil {
		s.logger.Warn().Msg("Logout requested but no Kamiwaza API is configured")
		c.JSON(http.StatusOK, failed)
		return
	}

	headers := auth.ForwardAuthHeaders(c.Request.Header, auth.ForwardOptions{SkipUserHeaders: true})
	s.logger.Info().
		Bool("cookie", headers.Get("Cookie") != "").
		Bool("authorization", headers.Get("Authorization") != "").
		Msg("Calling Kamiwaza logout")

	var out platformLogoutResponse
	err := s.api.
		WithAuthenticator(authenticator.NewForwardedIdentity(headers)).
		Post(c.Request.Context(), "auth/logout", session.LogoutRequest{PostLogoutRedirectURI: redirect}, &out)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Kamiwaza logout failed")
		c.JSON(http.StatusOK, failed)
		return
	}

	resp := session.LogoutResponse{
		Success:               true,
		Message:               out.Message,
		RedirectURL:           out.PostLogoutRedirectURI,
		FrontChannelLogoutURL: out.FrontChannelLogoutURL,
	}
	if resp.Message == "" {
		resp.Message = logoutSuccessMessage
	}
	if resp.RedirectURL == "" {
		resp.RedirectURL = redirect
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Get current user
// @Tags session
// @Produce json
// @Success 200 {object} auth.Identity
// @Failure 401 {object} auth.ErrorResponse
// @Router /api/auth/me [get]
func (s *Server) getCurrentUser(c *gin.Context) {
	id, _ := auth.GetIdentity(c)
	c.JSON(http.StatusOK, id)
}

// sessionState resolves the server-side view of the session for the route guard
func (s *Server) sessionState(c *gin.Context) session.State {
	id, err := s.identityResolver().Resolve(c.Request.Context(), c.Request.Header)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("Failed to resolve identity for UI route")
		return session.State{Status: session.StatusError, Err: err}
	}

	data := s.currentSession(c, id)
	if data != nil {
		c.Set(sessionKey, data)
	}
	return session.State{Status: session.StatusReady, Session: data}
}

func (s *Server) loginURLForGuard(_ *gin.Context, redirectURI string) (string, error) {
	return s.buildLoginURL(redirectURI), nil
}
