// Package edge renders and installs a Caddy configuration that plays the role
// of the platform edge proxy in front of an App Garden gateway.
package edge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"text/template"

	"github.com/rs/zerolog"
)

// DefaultCaddyfilePath is where a system Caddy reads its configuration
const DefaultCaddyfilePath = "/etc/caddy/Caddyfile"

// CaddyfileTemplate forward-authenticates every non-public request against the
// platform and relays the X-User-* response headers to the gateway
const CaddyfileTemplate = `# App Garden edge proxy
{
    admin localhost:2019
}

{{.Address}} {
{{- if .TLSInternal}}
    tls internal
{{- end}}

    log {
        format json
    }

    # Identity headers may only come from forward auth
{{- range .IdentityHeaders}}
    request_header -{{.}}
{{- end}}

    handle /health {
        reverse_proxy {{.Gateway}}
    }
{{- if .PublicPaths}}

    @public path{{range .PublicPaths}} {{.}}{{end}}
    handle @public {
        reverse_proxy {{.Gateway}} {
            flush_interval -1
        }
    }
{{- end}}

    handle{{with .Match}} {{.}}{{end}} {
        forward_auth {{.AuthUpstream}} {
            uri {{.AuthURI}}
            copy_headers{{range .IdentityHeaders}} {{.}}{{end}}
        }
        reverse_proxy {{.Gateway}} {
            flush_interval -1
        }
    }
}
`

// IdentityHeaders are the headers the platform sets on a successful validation
var IdentityHeaders = []string{"X-User-Id", "X-User-Email", "X-User-Name", "X-User-Roles"}

// Config describes one edge site
type Config struct {
	Address      string // Site address, e.g. "localhost:8443" or "apps.example.com"
	TLSInternal  bool   // Use Caddy's internal CA
	Gateway      string // Gateway upstream, e.g. "localhost:3000"
	ValidateURL  string // Platform validation endpoint
	BasePath     string // Path-routing prefix; empty for port routing
	PublicRoutes []string
}

type templateData struct {
	Config
	Match           string
	AuthUpstream    string
	AuthURI         string
	PublicPaths     []string
	IdentityHeaders []string
}

// CommandRunner runs an external command and returns its combined output
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Service handles Caddyfile generation and reload operations
type Service struct {
	logger zerolog.Logger
	tmpl   *template.Template
	run    CommandRunner
}

// NewService creates a new edge service. A nil runner executes the caddy binary.
func NewService(logger zerolog.Logger, run CommandRunner) (*Service, error) {
	tmpl, err := template.New("caddyfile").Parse(CaddyfileTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Caddyfile template: %w", err)
	}
	if run == nil {
		run = execRunner
	}

	return &Service{
		logger: logger,
		tmpl:   tmpl,
		run:    run,
	}, nil
}

// Render writes the Caddyfile for cfg to w
func (s *Service) Render(w io.Writer, cfg Config) error {
	data, err := prepare(cfg)
	if err != nil {
		return err
	}
	if err := s.tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to generate Caddyfile: %w", err)
	}
	return nil
}

// Install writes the Caddyfile to path atomically after `caddy validate`
// accepts it, then optionally reloads Caddy
func (s *Service) Install(ctx context.Context, cfg Config, path string, reload bool) error {
	var buf bytes.Buffer
	if err := s.Render(&buf, cfg); err != nil {
		return err
	}

	// Write to temporary file first (atomic write)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write temporary Caddyfile: %w", err)
	}

	if out, err := s.run(ctx, "caddy", "validate", "--adapter", "caddyfile", "--config", tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("generated Caddyfile is invalid: %w\nOutput: %s", err, out)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move Caddyfile to final location: %w", err)
	}

	s.logger.Info().
		Str("address", cfg.Address).
		Str("path", path).
		Msg("Caddyfile generated successfully")

	if !reload {
		return nil
	}

	if out, err := s.run(ctx, "caddy", "reload", "--adapter", "caddyfile", "--config", path); err != nil {
		return fmt.Errorf("failed to reload Caddy: %w\nOutput: %s", err, out)
	}

	s.logger.Info().Msg("Caddy reloaded successfully")
	return nil
}

func prepare(cfg Config) (templateData, error) {
	if cfg.Address == "" {
		return templateData{}, fmt.Errorf("address is required")
	}
	if cfg.Gateway == "" {
		return templateData{}, fmt.Errorf("gateway upstream is required")
	}

	validate, err := url.Parse(cfg.ValidateURL)
	if err != nil || validate.Scheme == "" || validate.Host == "" {
		return templateData{}, fmt.Errorf("invalid validate URL %q", cfg.ValidateURL)
	}

	uri := validate.EscapedPath()
	if uri == "" {
		uri = "/"
	}
	if validate.RawQuery != "" {
		uri += "?" + validate.RawQuery
	}

	base := strings.TrimRight(cfg.BasePath, "/")
	match := ""
	if base != "" {
		match = base + "*"
	}

	var public []string
	for _, route := range cfg.PublicRoutes {
		route = strings.TrimSpace(route)
		if route == "" {
			continue
		}
		if !strings.HasPrefix(route, "/") {
			route = "/" + route
		}
		public = append(public, base+route+"*")
	}

	return templateData{
		Config:          cfg,
		Match:           match,
		AuthUpstream:    validate.Scheme + "://" + validate.Host,
		AuthURI:         uri,
		PublicPaths:     public,
		IdentityHeaders: IdentityHeaders,
	}, nil
}
