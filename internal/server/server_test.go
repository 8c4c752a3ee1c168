package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/kamiwaza-ai/appgarden/internal/auth"
	"github.com/kamiwaza-ai/appgarden/internal/config"
	"github.com/kamiwaza-ai/appgarden/internal/session"
)

var testNow = time.Unix(1_700_000_000, 0)

type platform struct {
	*httptest.Server
	validations int32
	logouts     int32
	failLogout  bool

	mu         sync.Mutex
	lastLogout http.Header
	lastBody   map[string]any
}

func (p *platform) lastLogoutRequest() (http.Header, map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLogout, p.lastBody
}

func newPlatform(t *testing.T) *platform {
	t.Helper()
	p := &platform{}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/auth/validate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&p.validations, 1)
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer valid-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"invalid token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"u-9","email":"val@example.com","name":"Val","roles":["viewer"]}`))
	})

	mux.HandleFunc("/api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&p.logouts, 1)
		p.mu.Lock()
		p.lastLogout = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&p.lastBody)
		p.mu.Unlock()
		if p.failLogout {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"bye","front_channel_logout_url":"https://idp.example.com/logout"}`))
	})

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)
	return p
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"path":    r.URL.Path,
			"query":   r.URL.RawQuery,
			"user_id": r.Header.Get("X-User-Id"),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(p *platform, backendURL string) *config.Config {
	return &config.Config{
		HTTP:  config.HTTPConfig{Addr: ":0", AllowedOrigins: []string{"*"}},
		Proxy: config.ProxyConfig{BackendURL: backendURL},
		Kamiwaza: config.KamiwazaConfig{
			APIURL:       p.URL + "/api",
			PublicAPIURL: "https://kamiwaza.example.com/api",
			UseAuth:      "true",
			TLSVerify:    "true",
		},
		Auth: config.AuthConfig{MaxSessionSeconds: auth.MaxSessionSeconds, PublicRoutes: []string{"/public"}},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv, err := New(cfg, zerolog.Nop(), "test", WithClock(clocktesting.NewFakeClock(testNow)))
	require.NoError(t, err)
	return srv.Handler()
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func signedToken(t *testing.T, iat int64) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u-1", "iat": iat}).SignedString([]byte("test"))
	require.NoError(t, err)
	return token
}

func TestNew_RequiresAPIURLWhenAuthEnabled(t *testing.T) {
	cfg := testConfig(newPlatform(t), "http://backend:8000")
	cfg.Kamiwaza.APIURL = ""

	_, err := New(cfg, zerolog.Nop(), "test")
	require.Error(t, err)

	cfg.Kamiwaza.UseAuth = "off"
	_, err = New(cfg, zerolog.Nop(), "test")
	require.NoError(t, err)
}

func TestGetSession(t *testing.T) {
	p := newPlatform(t)
	h := newTestServer(t, testConfig(p, newBackend(t).URL))

	t.Run("forwarded headers with token iat", func(t *testing.T) {
		iat := testNow.Unix() - 600
		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		req.Header.Set("X-User-Id", "u-1")
		req.Header.Set("X-User-Email", "jane@example.com")
		req.Header.Set("X-User-Roles", "admin, editor")
		req.Header.Set("X-Request-Id", "req-1")
		req.AddCookie(&http.Cookie{Name: auth.AccessTokenCookie, Value: signedToken(t, iat)})

		w := do(h, req)
		require.Equal(t, http.StatusOK, w.Code)

		var data session.SessionData
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data))
		assert.Equal(t, "u-1", data.UserID)
		assert.Equal(t, []string{"admin", "editor"}, data.Roles)
		assert.Equal(t, "req-1", data.RequestID)
		assert.True(t, data.AuthEnabled)
		require.NotNil(t, data.SessionExpiresAt)
		assert.Equal(t, iat+auth.MaxSessionSeconds, *data.SessionExpiresAt)
		assert.Zero(t, atomic.LoadInt32(&p.validations))
	})

	t.Run("no token falls back to now plus max", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		req.Header.Set("X-User-Id", "u-1")
		req.Header.Set("X-User-Email", "jane@example.com")

		w := do(h, req)
		require.Equal(t, http.StatusOK, w.Code)

		var data session.SessionData
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data))
		assert.Equal(t, testNow.Unix()+auth.MaxSessionSeconds, *data.SessionExpiresAt)
	})

	t.Run("validated through the platform", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		req.Header.Set("Authorization", "Bearer valid-token")

		w := do(h, req)
		require.Equal(t, http.StatusOK, w.Code)

		var data session.SessionData
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data))
		assert.Equal(t, "u-9", data.UserID)
		assert.Equal(t, "val@example.com", data.Email)
		assert.Equal(t, []string{"viewer"}, data.Roles)
	})

	t.Run("rejected token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		req.AddCookie(&http.Cookie{Name: auth.AccessTokenCookie, Value: "stale"})

		w := do(h, req)
		require.Equal(t, http.StatusUnauthorized, w.Code)

		var body auth.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, auth.ErrorSessionExpired, body.Detail.Error)
		assert.NotEmpty(t, body.Detail.Message)
	})

	t.Run("user id without email", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		req.Header.Set("X-User-Id", "u-1")

		w := do(h, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestGetSession_AuthDisabled(t *testing.T) {
	cfg := testConfig(newPlatform(t), newBackend(t).URL)
	cfg.Kamiwaza.UseAuth = "no"
	h := newTestServer(t, cfg)

	w := do(h, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, "anonymous", raw["user_id"])
	assert.Equal(t, "anonymous@local", raw["email"])
	assert.Equal(t, false, raw["auth_enabled"])
	assert.NotContains(t, raw, "session_expires_at")
}

func TestGetLoginURL(t *testing.T) {
	h := newTestServer(t, testConfig(newPlatform(t), newBackend(t).URL))

	w := do(h, httptest.NewRequest(http.MethodGet, "/api/auth/login-url?redirect_uri="+url.QueryEscape("https://app.example.com:61107/x?y=1"), nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body session.LoginURLResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	loginURL, err := url.Parse(body.LoginURL)
	require.NoError(t, err)
	assert.Equal(t, "kamiwaza.example.com", loginURL.Host)
	assert.Equal(t, "/api/auth/login", loginURL.Path)
	assert.Equal(t, "https://app.example.com:61107/x?y=1", loginURL.Query().Get("redirect_uri"))
	assert.Equal(t, "https://app.example.com:61107/x?y=1", loginURL.Query().Get("state"))

	w = do(h, httptest.NewRequest(http.MethodGet, "/api/auth/login-url", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestLogout(t *testing.T) {
	t.Run("success forwards cookies and forwarded headers", func(t *testing.T) {
		p := newPlatform(t)
		h := newTestServer(t, testConfig(p, newBackend(t).URL))

		req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", strings.NewReader(`{"post_logout_redirect_uri":"https://app.example.com/bye"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Cookie", "access_token=abc; session=xyz")
		req.Header.Set("X-Forwarded-Host", "kamiwaza.example.com")

		w := do(h, req)
		require.Equal(t, http.StatusOK, w.Code)

		var resp session.LogoutResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "bye", resp.Message)
		assert.Equal(t, "https://app.example.com/bye", resp.RedirectURL)
		assert.Equal(t, "https://idp.example.com/logout", resp.FrontChannelLogoutURL)

		headers, body := p.lastLogoutRequest()
		assert.Equal(t, "access_token=abc; session=xyz", headers.Get("Cookie"))
		assert.Equal(t, "Bearer abc", headers.Get("Authorization"))
		assert.Equal(t, "kamiwaza.example.com", headers.Get("X-Forwarded-Host"))
		assert.Equal(t, "https://app.example.com/bye", body["post_logout_redirect_uri"])
		assert.Equal(t, int32(1), atomic.LoadInt32(&p.logouts))
	})

	t.Run("platform failure still returns a usable response", func(t *testing.T) {
		p := newPlatform(t)
		p.failLogout = true
		h := newTestServer(t, testConfig(p, newBackend(t).URL))

		w := do(h, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp session.LogoutResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, logoutFailedMessage, resp.Message)
		assert.Equal(t, "https://kamiwaza.example.com/login", resp.RedirectURL)
	})
}

func TestProxyRelay(t *testing.T) {
	backend := newBackend(t)
	h := newTestServer(t, testConfig(newPlatform(t), backend.URL))

	req := httptest.NewRequest(http.MethodGet, "/api/models?limit=5", nil)
	req.Header.Set("X-User-Id", "u-1")
	w := do(h, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"path":"/api/models","query":"limit=5","user_id":"u-1"}`, w.Body.String())

	w = do(h, httptest.NewRequest(http.MethodOptions, "/api/models", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
}

func TestBasePathRouting(t *testing.T) {
	backend := newBackend(t)
	cfg := testConfig(newPlatform(t), backend.URL)
	cfg.BasePath = "/runtime/apps/abc"
	h := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/runtime/apps/abc/api/session", nil)
	req.Header.Set("X-User-Id", "u-1")
	req.Header.Set("X-User-Email", "jane@example.com")
	assert.Equal(t, http.StatusOK, do(h, req).Code)

	w := do(h, httptest.NewRequest(http.MethodGet, "/runtime/apps/abc/api/items/7", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"path":"/api/items/7"`)

	w = do(h, httptest.NewRequest(http.MethodGet, "/elsewhere", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGuardedUI(t *testing.T) {
	p := newPlatform(t)
	cfg := testConfig(p, newBackend(t).URL)
	cfg.BasePath = "/runtime/apps/abc"
	h := newTestServer(t, cfg)

	t.Run("signed out redirects to login", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runtime/apps/abc/dashboard?tab=2", nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		req.Header.Set("X-Forwarded-Host", "kamiwaza.example.com")

		w := do(h, req)
		require.Equal(t, http.StatusFound, w.Code)

		location, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "https://kamiwaza.example.com/runtime/apps/abc/dashboard?tab=2", location.Query().Get("redirect_uri"))
	})

	t.Run("signed in renders", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runtime/apps/abc/dashboard", nil)
		req.Header.Set("X-User-Id", "u-1")
		req.Header.Set("X-User-Email", "jane@example.com")

		w := do(h, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "jane@example.com")
		assert.Contains(t, w.Header().Get("Set-Cookie"), session.BasePathCookie+"=")
	})

	t.Run("public route skips the session", func(t *testing.T) {
		before := atomic.LoadInt32(&p.validations)

		req := httptest.NewRequest(http.MethodGet, "/runtime/apps/abc/public/about", nil)
		req.Header.Set("Cookie", "access_token=stale")
		w := do(h, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Public page")
		assert.Equal(t, before, atomic.LoadInt32(&p.validations))
	})
}

func TestHealthAndRequestID(t *testing.T) {
	h := newTestServer(t, testConfig(newPlatform(t), newBackend(t).URL))

	w := do(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(auth.HeaderRequestID))

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"status":"online"`)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(auth.HeaderRequestID, "edge-123")
	w = do(h, req)
	assert.Equal(t, "edge-123", w.Header().Get(auth.HeaderRequestID))
}
