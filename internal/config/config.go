package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// BasePath is the path-routing prefix. Empty means port-based routing.
	BasePath string `env:"NEXT_PUBLIC_APP_BASE_PATH"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Proxy configuration
	Proxy ProxyConfig

	// Kamiwaza platform configuration
	Kamiwaza KamiwazaConfig

	// Session and route guard configuration
	Auth AuthConfig

	// UI configuration
	UI UIConfig

	// CLI configuration
	Client ClientConfig

	// Logging configuration
	Logging LoggingConfig
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Addr           string   `env:"HTTP_ADDR"            envDefault:":3000"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"     envSeparator:","`
}

// ProxyConfig holds the backend relay configuration
type ProxyConfig struct {
	BackendURL string `env:"BACKEND_URL" envDefault:"http://backend:8000" validate:"required,url"`
}

// OAuthConfig holds client-credentials settings for machine clients
type OAuthConfig struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	TokenURL     string   `env:"TOKEN_URL"     validate:"omitempty,url"`
	Scopes       []string `env:"SCOPES"        envSeparator:","`
}

// Enabled reports whether client credentials are fully configured
func (o OAuthConfig) Enabled() bool {
	return o.ClientID != "" && o.ClientSecret != "" && o.TokenURL != ""
}

// KamiwazaConfig holds Kamiwaza platform configuration
type KamiwazaConfig struct {
	APIURL        string `env:"KAMIWAZA_API_URL"        validate:"omitempty,url"`
	BaseURL       string `env:"KAMIWAZA_BASE_URL"       validate:"omitempty,url"`
	PublicAPIURL  string `env:"KAMIWAZA_PUBLIC_API_URL" validate:"omitempty,url"`
	PublicAPIBase string `env:"NEXT_PUBLIC_API_BASE"    validate:"omitempty,url"`
	APIKey        string `env:"KAMIWAZA_API_KEY"`
	ValidateURL   string `env:"AUTH_VALIDATE_URL"       validate:"omitempty,url"`

	// UseAuth is kept as a string so "no"/"off" are understood, which strconv.ParseBool rejects
	UseAuth   string `env:"KAMIWAZA_USE_AUTH"                envDefault:"true"`
	TLSVerify string `env:"KAMIWAZA_TLS_REJECT_UNAUTHORIZED" envDefault:"true"`

	OAuth OAuthConfig `envPrefix:"KAMIWAZA_"`
}

// AuthConfig holds session and route guard configuration
type AuthConfig struct {
	MaxSessionSeconds int64    `env:"KAMIWAZA_MAX_SESSION_SECONDS" envDefault:"28800" validate:"gt=0"`
	PublicRoutes      []string `env:"PUBLIC_ROUTES"                envSeparator:","`
}

// UIConfig holds settings for the guarded UI
type UIConfig struct {
	StaticDir string `env:"UI_STATIC_DIR"`
}

// ClientConfig holds settings used by the CLI
type ClientConfig struct {
	AppURL string `env:"APPGARDEN_URL"   envDefault:"http://localhost:3000" validate:"required,url"`
	Token  string `env:"APPGARDEN_TOKEN"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"  envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json console"` // json, console
}

var falsey = map[string]bool{"0": true, "false": true, "no": true, "off": true}

// IsFalsey reports whether an env value represents a disabled flag
func IsFalsey(value string) bool {
	return falsey[strings.ToLower(strings.TrimSpace(value))]
}

// AuthEnabled reports whether platform authentication is enabled
func (k KamiwazaConfig) AuthEnabled() bool {
	return !IsFalsey(k.UseAuth)
}

// TLSVerifyEnabled reports whether upstream TLS certificates are verified
func (k KamiwazaConfig) TLSVerifyEnabled() bool {
	return !IsFalsey(k.TLSVerify)
}

// EffectiveAPIURL returns the API base URL, preferring KAMIWAZA_API_URL over KAMIWAZA_BASE_URL
func (k KamiwazaConfig) EffectiveAPIURL() string {
	if k.APIURL != "" {
		return strings.TrimRight(k.APIURL, "/")
	}
	return strings.TrimRight(k.BaseURL, "/")
}

// EffectivePublicAPIURL returns the browser-facing API URL, falling back to the API base URL
func (k KamiwazaConfig) EffectivePublicAPIURL() string {
	for _, candidate := range []string{k.PublicAPIURL, k.PublicAPIBase} {
		if candidate != "" {
			return strings.TrimRight(candidate, "/")
		}
	}
	return k.EffectiveAPIURL()
}

// EffectiveValidateURL returns the identity validation endpoint
func (k KamiwazaConfig) EffectiveValidateURL() string {
	if k.ValidateURL != "" {
		return k.ValidateURL
	}
	return k.EffectiveAPIURL() + "/auth/validate"
}

// NormalizeBasePath returns the base path with a leading slash and no trailing slash
func NormalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	return Parse()
}

// Parse reads configuration from the process environment without touching .env files
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.BasePath = NormalizeBasePath(cfg.BasePath)
	cfg.Auth.PublicRoutes = compact(cfg.Auth.PublicRoutes)
	cfg.HTTP.AllowedOrigins = compact(cfg.HTTP.AllowedOrigins)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
