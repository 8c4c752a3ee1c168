package server

import (
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"

	"github.com/kamiwaza-ai/appgarden/internal/session"
)

const sessionKey = "appgarden_session"

var homePage = template.Must(template.New("home").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>App Garden</title>
</head>
<body>
{{with .Session}}
<p>Signed in as {{if .Name}}{{.Name}} ({{.Email}}){{else}}{{.Email}}{{end}}</p>
{{if .Roles}}<p>Roles: {{range $i, $r := .Roles}}{{if $i}}, {{end}}{{$r}}{{end}}</p>{{end}}
{{if not .AuthEnabled}}<p>Platform authentication is disabled.</p>{{end}}
{{else}}
<p>Public page</p>
{{end}}
</body>
</html>
`))

// uiHandler serves the guarded frontend: a static build directory with
// single-page fallback, or a built-in page when none is configured
type uiHandler struct {
	staticDir string
	basePath  string
}

func newUIHandler(staticDir, basePath string) (*uiHandler, error) {
	if staticDir != "" {
		info, err := os.Stat(staticDir)
		if err != nil {
			return nil, fmt.Errorf("invalid UI_STATIC_DIR: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("invalid UI_STATIC_DIR: %s is not a directory", staticDir)
		}
	}
	return &uiHandler{staticDir: staticDir, basePath: basePath}, nil
}

func (u *uiHandler) serve(c *gin.Context) {
	if u.basePath != "" {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(session.BasePathCookie, u.basePath, 0, "/", "", false, false)
	}

	if u.staticDir == "" {
		data, _ := c.Get(sessionKey)
		sess, _ := data.(*session.SessionData)
		c.Render(http.StatusOK, render.HTML{
			Template: homePage,
			Data:     struct{ Session *session.SessionData }{sess},
		})
		return
	}

	rel := strings.TrimPrefix(c.Request.URL.Path, u.basePath)
	file := filepath.Join(u.staticDir, filepath.FromSlash(path.Clean("/"+rel)))
	if info, err := os.Stat(file); err == nil && !info.IsDir() {
		c.File(file)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.File(filepath.Join(u.staticDir, "index.html"))
}
