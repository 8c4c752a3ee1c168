package guard

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamiwaza-ai/appgarden/internal/session"
)

func newRouter(g *Guard, state session.State, loginErr error) (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	var returnTo string

	r := gin.New()
	r.Use(g.Middleware(
		func(*gin.Context) session.State { return state },
		func(_ *gin.Context, redirectURI string) (string, error) {
			returnTo = redirectURI
			if loginErr != nil {
				return "", loginErr
			}
			return "https://k.example.com/api/auth/login?redirect_uri=" + redirectURI, nil
		},
		zerolog.Nop(),
	))
	r.NoRoute(func(c *gin.Context) {
		c.String(http.StatusOK, "app content")
	})
	return r, &returnTo
}

func TestMiddleware_Render(t *testing.T) {
	r, _ := newRouter(New("", nil), signedIn, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "app content", w.Body.String())
}

func TestMiddleware_Loading(t *testing.T) {
	r, _ := newRouter(New("", nil), loading, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Loading...")
	assert.NotContains(t, w.Body.String(), "app content")
}

func TestMiddleware_RedirectPortRouting(t *testing.T) {
	r, returnTo := newRouter(New("", nil), loggedOut, nil)

	req := httptest.NewRequest(http.MethodGet, "/dashboard?tab=1", nil)
	req.Host = "internal:3000"
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "kamiwaza.example.com")
	req.Header.Set("X-Forwarded-Port", "61107")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://kamiwaza.example.com:61107/dashboard?tab=1", *returnTo)
	assert.Equal(t, "https://k.example.com/api/auth/login?redirect_uri=https://kamiwaza.example.com:61107/dashboard?tab=1", w.Header().Get("Location"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Body.String(), "Redirecting to login")
}

func TestMiddleware_RedirectPathRouting(t *testing.T) {
	r, returnTo := newRouter(New("/runtime/apps/abc", nil), errored, nil)

	req := httptest.NewRequest(http.MethodGet, "/runtime/apps/abc/models?x=1", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "kamiwaza.example.com")
	req.Header.Set("X-Forwarded-Port", "443")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://kamiwaza.example.com/runtime/apps/abc/models?x=1", *returnTo)
}

func TestMiddleware_LoginURLFailure(t *testing.T) {
	r, _ := newRouter(New("", nil), loggedOut, errors.New("platform down"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, w.Header().Get("Location"))
}

func TestMiddleware_PublicRouteSkipsSession(t *testing.T) {
	r, _ := newRouter(New("", []string{"/docs"}), errored, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/docs/getting-started", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "app content", w.Body.String())
}
