package authenticator

import (
	"net/http"

	"github.com/kamiwaza-ai/appgarden/internal/config"
)

// Strategy names reported by FromConfig
const (
	StrategyStaticKey         = "static-key"
	StrategyClientCredentials = "client-credentials"
	StrategyNone              = "none"
)

// FromConfig picks the strategy for a machine client: an API key from the
// environment, then one saved in store, then client credentials, and finally
// no auth. store may be nil.
func FromConfig(cfg config.KamiwazaConfig, store TokenStore, httpClient *http.Client) (Authenticator, string) {
	if cfg.APIKey != "" {
		return NewStaticKey(cfg.APIKey), StrategyStaticKey
	}

	// An unavailable keyring (e.g. headless hosts) is treated like a missing key
	if store != nil {
		if key, err := store.LoadKey(cfg.EffectiveAPIURL()); err == nil && key != "" {
			return NewStaticKey(key), StrategyStaticKey
		}
	}

	if cfg.OAuth.Enabled() {
		return NewClientCredentials(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.OAuth.TokenURL, cfg.OAuth.Scopes, httpClient), StrategyClientCredentials
	}

	return NewNone(), StrategyNone
}
