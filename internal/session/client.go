package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"

	"github.com/kamiwaza-ai/appgarden/internal/apiclient"
	"github.com/kamiwaza-ai/appgarden/internal/auth"
	"github.com/kamiwaza-ai/appgarden/internal/config"
)

// BasePathCookie carries the base path the gateway resolved for the app. It is
// consulted when no base path is configured on the client.
const BasePathCookie = "appgarden_base_path"

// ClientOptions configures a Client
type ClientOptions struct {
	// BasePath overrides the base path cookie. Empty means port routing.
	BasePath string

	// Token is sent as a bearer token. Without it the access_token cookie is used.
	Token string

	// Cookies are seeded into the jar for the app URL
	Cookies []*http.Cookie

	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client talks to the session endpoints of an App Garden gateway
type Client struct {
	api      *apiclient.Client
	appURL   *url.URL
	jar      http.CookieJar
	basePath string
	token    string
}

// NewClient creates a session client for the app served at appURL
func NewClient(appURL string, opts ClientOptions) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(appURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &apiclient.ConfigurationError{Message: fmt.Sprintf("invalid app URL %q", appURL)}
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if len(opts.Cookies) > 0 {
		jar.SetCookies(u, opts.Cookies)
	}

	httpClient := &http.Client{Jar: jar}
	if opts.HTTPClient != nil {
		clone := *opts.HTTPClient
		clone.Jar = jar
		httpClient = &clone
	}

	api, err := apiclient.New(apiclient.Options{
		BaseURL:    u.Scheme + "://" + u.Host,
		HTTPClient: httpClient,
		Logger:     opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		api:      api,
		appURL:   u,
		jar:      jar,
		basePath: config.NormalizeBasePath(opts.BasePath),
		token:    opts.Token,
	}, nil
}

// BasePath returns the configured base path, falling back to the base path
// cookie and then the path of the app URL
func (c *Client) BasePath() string {
	if c.basePath != "" {
		return c.basePath
	}
	if v := c.cookie(BasePathCookie); v != "" {
		if unescaped, err := url.PathUnescape(v); err == nil {
			v = unescaped
		}
		return config.NormalizeBasePath(v)
	}
	return config.NormalizeBasePath(c.appURL.Path)
}

// AppURL returns the origin the client talks to, including the base path
func (c *Client) AppURL() string {
	return c.appURL.Scheme + "://" + c.appURL.Host + c.BasePath()
}

// FetchSession loads the current session. A 401 carrying the session_expired
// payload yields an *ExpiredError.
func (c *Client) FetchSession(ctx context.Context) (*SessionData, error) {
	resp, err := c.api.Do(ctx, apiclient.Request{
		Method:   http.MethodGet,
		Path:     c.path("session"),
		Headers:  c.headers(),
		SkipAuth: true,
	})
	if err != nil {
		return nil, mapError(err, "failed to fetch session")
	}

	var data SessionData
	if err := resp.Decode(&data); err != nil {
		return nil, err
	}
	if data.Roles == nil {
		data.Roles = []string{}
	}
	return &data, nil
}

// Logout asks the gateway to end the platform session
func (c *Client) Logout(ctx context.Context, redirectURI string) (*LogoutResponse, error) {
	resp, err := c.api.Do(ctx, apiclient.Request{
		Method:   http.MethodPost,
		Path:     c.path("auth/logout"),
		Body:     LogoutRequest{PostLogoutRedirectURI: redirectURI},
		Headers:  c.headers(),
		SkipAuth: true,
	})
	if err != nil {
		return nil, mapError(err, "logout request failed")
	}

	var out LogoutResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoginURL returns the platform login URL that sends the user back to redirectURI
func (c *Client) LoginURL(ctx context.Context, redirectURI string) (string, error) {
	resp, err := c.api.Do(ctx, apiclient.Request{
		Method:   http.MethodGet,
		Path:     c.path("auth/login-url"),
		Query:    url.Values{"redirect_uri": {redirectURI}},
		Headers:  c.headers(),
		SkipAuth: true,
	})
	if err != nil {
		return "", mapError(err, "failed to build login URL")
	}

	var out LoginURLResponse
	if err := resp.Decode(&out); err != nil {
		return "", err
	}
	if out.LoginURL == "" {
		return "", errors.New("login URL missing from response")
	}
	return out.LoginURL, nil
}

func (c *Client) path(endpoint string) string {
	return c.BasePath() + "/api/" + endpoint
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	token := c.token
	if token == "" {
		token = c.cookie(auth.AccessTokenCookie)
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

func (c *Client) cookie(name string) string {
	for _, ck := range c.jar.Cookies(c.appURL) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func mapError(err error, message string) error {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		var body auth.ErrorResponse
		if json.Unmarshal([]byte(apiErr.Body), &body) == nil && body.Detail.Error == auth.ErrorSessionExpired {
			return &ExpiredError{Message: body.Detail.Message}
		}
	}
	return fmt.Errorf("%s: %w", message, err)
}
