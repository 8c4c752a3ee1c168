package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/kamiwaza-ai/appgarden/internal/authenticator"
	"github.com/kamiwaza-ai/appgarden/internal/config"
	"github.com/kamiwaza-ai/appgarden/internal/logger"
	"github.com/kamiwaza-ai/appgarden/internal/session"
)

// Globals holds the persistent flags and shared dependencies of every command
type Globals struct {
	AppURL   string
	Token    string
	BasePath string
	LogLevel string

	// Store holds saved API keys; defaults to the OS keyring
	Store authenticator.TokenStore

	// Clock drives the session countdown; defaults to the wall clock
	Clock clock.Clock

	cfg    *config.Config
	logger *zerolog.Logger
}

// NewGlobals returns globals backed by the OS keyring and the wall clock
func NewGlobals() *Globals {
	return &Globals{
		Store: authenticator.Default,
		Clock: clock.RealClock{},
	}
}

// Config loads the environment configuration once and applies flag overrides
func (g *Globals) Config() (*config.Config, error) {
	if g.cfg != nil {
		return g.cfg, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if g.AppURL != "" {
		cfg.Client.AppURL = g.AppURL
	}
	if g.Token != "" {
		cfg.Client.Token = g.Token
	}
	if g.BasePath != "" {
		cfg.BasePath = config.NormalizeBasePath(g.BasePath)
	}

	g.cfg = cfg
	return cfg, nil
}

// Logger writes to stderr so command output on stdout stays parseable
func (g *Globals) Logger() zerolog.Logger {
	if g.logger == nil {
		level := g.LogLevel
		if level == "" {
			level = "warn"
		}
		logger.InitWithWriter(os.Stderr, level, "console")
		l := logger.GetLogger()
		g.logger = &l
	}
	return *g.logger
}

// SessionClient builds the session client for the configured app
func (g *Globals) SessionClient() (*session.Client, error) {
	cfg, err := g.Config()
	if err != nil {
		return nil, err
	}

	return session.NewClient(cfg.Client.AppURL, session.ClientOptions{
		BasePath: cfg.BasePath,
		Token:    cfg.Client.Token,
		Logger:   g.Logger(),
	})
}

// NewManager builds a session manager on top of client
func (g *Globals) NewManager(client session.Fetcher, opts ...session.Option) *session.Manager {
	opts = append([]session.Option{
		session.WithClock(g.clock()),
		session.WithLogger(g.Logger()),
	}, opts...)
	return session.NewManager(client, opts...)
}

func (g *Globals) store() authenticator.TokenStore {
	if g.Store == nil {
		return authenticator.Default
	}
	return g.Store
}

func (g *Globals) clock() clock.Clock {
	if g.Clock == nil {
		return clock.RealClock{}
	}
	return g.Clock
}

// formatRemaining renders seconds as 1h02m03s, 4m05s or 6s
func formatRemaining(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	h := int64(d / time.Hour)
	m := int64(d%time.Hour) / int64(time.Minute)
	s := int64(d%time.Minute) / int64(time.Second)

	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func joinRoles(roles []string) string {
	if len(roles) == 0 {
		return "-"
	}
	return strings.Join(roles, ", ")
}
