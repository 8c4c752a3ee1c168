package guard

import (
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/rs/zerolog"

	"github.com/kamiwaza-ai/appgarden/internal/session"
)

// DecisionKey is the gin context key holding the Decision for the request
const DecisionKey = "guard_decision"

// StateSource resolves the session state for a request
type StateSource func(c *gin.Context) session.State

// LoginURLFunc builds the platform login URL for an absolute return URL
type LoginURLFunc func(c *gin.Context, redirectURI string) (string, error)

var placeholder = template.Must(template.New("placeholder").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
{{if .Refresh}}<meta http-equiv="refresh" content="{{.Refresh}}">{{end}}
<title>{{.Title}}</title>
</head>
<body>
<p>{{.Message}}</p>
{{if .LoginURL}}<p><a href="{{.LoginURL}}">Continue to login</a></p>{{end}}
</body>
</html>
`))

type placeholderData struct {
	Title    string
	Message  string
	Refresh  string
	LoginURL string
}

// Middleware gates UI routes. Render decisions continue the chain; loading
// renders a self-refreshing placeholder; redirect sends the user to login.
func (g *Guard) Middleware(state StateSource, loginURL LoginURLFunc, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Public routes never need the session, so skip resolving it
		decision := Decision{ActionRender, ReasonPublicRoute}
		if !g.IsPublic(c.Request.URL.Path) {
			decision = g.Decide(c.Request.URL.Path, state(c))
		}
		c.Set(DecisionKey, decision)

		switch decision.Action {
		case ActionRender:
			c.Next()

		case ActionLoading:
			c.Render(http.StatusOK, render.HTML{
				Template: placeholder,
				Data:     placeholderData{Title: "Loading", Message: "Loading...", Refresh: "1"},
			})
			c.Abort()

		case ActionRedirect:
			returnTo := g.ReturnURL(c.Request)
			target, err := loginURL(c, returnTo)
			if err != nil {
				log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Failed to build login URL")
				c.Render(http.StatusServiceUnavailable, render.HTML{
					Template: placeholder,
					Data:     placeholderData{Title: "Redirecting", Message: "Unable to reach the login service. Retrying...", Refresh: "5"},
				})
				c.Abort()
				return
			}

			log.Debug().
				Str("path", c.Request.URL.Path).
				Str("reason", string(decision.Reason)).
				Msg("Redirecting to login")

			c.Header("Cache-Control", "no-store")
			c.Header("Location", target)
			c.Render(http.StatusFound, render.HTML{
				Template: placeholder,
				Data:     placeholderData{Title: "Redirecting", Message: "Redirecting to login...", LoginURL: target},
			})
			c.Abort()
		}
	}
}

// ReturnURL is the absolute URL login should return to for r. The origin comes
// from the X-Forwarded-* headers set by the edge proxy when present.
func (g *Guard) ReturnURL(r *http.Request) string {
	return g.ReturnURLFor(requestURL(r, g.BasePath == ""))
}

// ReturnURLFor is ReturnURL for an already absolute URL
func (g *Guard) ReturnURLFor(current *url.URL) string {
	target := g.RedirectTarget(current)
	if g.BasePath == "" {
		return target
	}
	return current.Scheme + "://" + current.Host + target
}

func requestURL(r *http.Request, keepPort bool) *url.URL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := firstValue(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		scheme = proto
	}

	host := r.Host
	if fwd := firstValue(r.Header.Get("X-Forwarded-Host")); fwd != "" {
		host = fwd
	}
	if keepPort {
		if port := firstValue(r.Header.Get("X-Forwarded-Port")); port != "" && !hasPort(host) && !isDefaultPort(scheme, port) {
			host = net.JoinHostPort(host, port)
		}
	}

	return &url.URL{Scheme: scheme, Host: host, Path: r.URL.Path, RawQuery: r.URL.RawQuery}
}

func firstValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

func hasPort(host string) bool {
	_, port, err := net.SplitHostPort(host)
	return err == nil && port != ""
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "https" && port == "443") || (scheme == "http" && port == "80")
}
