// Package apiclient issues authenticated HTTP calls against the Kamiwaza
// platform. A request rejected with 401 gets exactly one token refresh and one
// retry before failing with an AuthenticationError.
package apiclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kamiwaza-ai/appgarden/internal/authenticator"
	"github.com/kamiwaza-ai/appgarden/internal/config"
)

// Options configures a Client
type Options struct {
	BaseURL       string
	Authenticator authenticator.Authenticator
	HTTPClient    *http.Client
	Logger        zerolog.Logger
}

// Client represents an HTTP client for the Kamiwaza API
type Client struct {
	baseURL    string
	auth       authenticator.Authenticator
	httpClient *http.Client
	logger     zerolog.Logger
}

// Request describes one logical API call. Path may be relative to the base URL
// or an absolute URL. Body is sent as-is when it is []byte or string and JSON
// encoded otherwise.
type Request struct {
	Method   string
	Path     string
	Query    url.Values
	Body     any
	Headers  http.Header
	SkipAuth bool
}

// New creates a new API client. A nil Authenticator sends no credentials.
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, &ConfigurationError{Message: "base URL is required (set KAMIWAZA_API_URL or KAMIWAZA_BASE_URL)"}
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, &ConfigurationError{Message: fmt.Sprintf("invalid base URL %q: %v", baseURL, err)}
	}

	auth := opts.Authenticator
	if auth == nil {
		auth = authenticator.NewNone()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		auth:       auth,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// NewFromEnv creates a client whose base URL comes from KAMIWAZA_API_URL,
// falling back to KAMIWAZA_BASE_URL
func NewFromEnv(auth authenticator.Authenticator) (*Client, error) {
	baseURL := os.Getenv("KAMIWAZA_API_URL")
	if baseURL == "" {
		baseURL = os.Getenv("KAMIWAZA_BASE_URL")
	}
	return New(Options{BaseURL: baseURL, Authenticator: auth})
}

// NewFromConfig creates a client for the configured platform API, honouring
// KAMIWAZA_TLS_REJECT_UNAUTHORIZED
func NewFromConfig(cfg config.KamiwazaConfig, auth authenticator.Authenticator, logger zerolog.Logger) (*Client, error) {
	return New(Options{
		BaseURL:       cfg.EffectiveAPIURL(),
		Authenticator: auth,
		HTTPClient:    HTTPClient(cfg.TLSVerifyEnabled()),
		Logger:        logger,
	})
}

// HTTPClient returns a client without a timeout; callers bound requests with
// their context. verifyTLS=false accepts self-signed platform certificates.
func HTTPClient(verifyTLS bool) *http.Client {
	if verifyTLS {
		return &http.Client{}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed platform certs
	return &http.Client{Transport: transport}
}

// BaseURL returns the normalized base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WithAuthenticator returns a copy of c that applies auth instead
func (c *Client) WithAuthenticator(auth authenticator.Authenticator) *Client {
	clone := *c
	clone.auth = auth
	return &clone
}

// Do performs req. Non-2xx responses are returned as *APIError, and a 401 that
// survives the refresh-and-retry as *AuthenticationError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	payload, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, req, payload, contentType)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && !req.SkipAuth {
		c.logger.Debug().
			Str("method", req.Method).
			Str("path", req.Path).
			Msg("Received 401, refreshing credentials")

		if err := c.auth.RefreshToken(ctx); err != nil {
			return nil, &AuthenticationError{Message: "token refresh failed", Err: err}
		}

		resp, err = c.send(ctx, req, payload, contentType)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, &AuthenticationError{
				Message: "request rejected after token refresh",
				Err:     newAPIError(resp),
			}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp)
	}

	return resp, nil
}

func (c *Client) send(ctx context.Context, req Request, payload []byte, contentType string) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.resolve(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	if !req.SkipAuth {
		if err := c.auth.Authenticate(ctx, httpReq.Header); err != nil {
			return nil, &AuthenticationError{Message: "failed to apply credentials", Err: err}
		}
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer httpResp.Body.Close()

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header}
	if httpResp.StatusCode == http.StatusNoContent {
		return resp, nil
	}

	resp.Body, err = io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, nil
}

func (c *Client) resolve(path string, query url.Values) (string, error) {
	var target string
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		target = path
	} else {
		target = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}

	if len(query) == 0 {
		return target, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid request URL %q: %w", target, err)
	}
	merged := u.Query()
	for key, values := range query {
		for _, v := range values {
			merged.Add(key, v)
		}
	}
	u.RawQuery = merged.Encode()
	return u.String(), nil
}

// encodeBody marshals once so the retry resends identical bytes
func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case string:
		return []byte(b), "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal request: %w", err)
		}
		return data, "application/json", nil
	}
}

func newAPIError(resp *Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	var parsed any
	if len(resp.Body) > 0 && json.Unmarshal(resp.Body, &parsed) == nil {
		apiErr.JSON = parsed
	}
	return apiErr
}

// Response is a fully read API response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsJSON reports whether the response declares a JSON content type
func (r *Response) IsJSON() bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// Decode unmarshals the JSON body into out. An empty body leaves out untouched.
func (r *Response) Decode(out any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Text returns the raw body
func (r *Response) Text() string {
	return string(r.Body)
}

// Value returns the parsed JSON body for JSON responses, the raw text for
// anything else, and nil for an empty body
func (r *Response) Value() (any, error) {
	if len(r.Body) == 0 {
		return nil, nil
	}
	if !r.IsJSON() {
		return r.Text(), nil
	}
	var v any
	if err := r.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Get issues a GET and decodes the response into out when out is non-nil
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.call(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST with a JSON body
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPost, path, body, out)
}

// Put issues a PUT with a JSON body
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPut, path, body, out)
}

// Patch issues a PATCH with a JSON body
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPatch, path, body, out)
}

// Delete issues a DELETE
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.call(ctx, http.MethodDelete, path, nil, out)
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.Do(ctx, Request{Method: method, Path: path, Body: body})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}
