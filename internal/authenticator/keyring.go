package authenticator

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/zalando/go-keyring"
)

const keyringService = "appgarden-cli"

// ErrNoStoredKey is returned when no API key has been saved for a host
var ErrNoStoredKey = errors.New("no API key stored. Please run 'appgarden login' first")

// TokenStore defines the interface for API key storage operations.
// This allows us to mock the keyring in tests.
type TokenStore interface {
	SaveKey(apiURL, key string) error
	LoadKey(apiURL string) (string, error)
	DeleteKey(apiURL string) error
}

// KeyringStore persists API keys in the OS keychain/credential manager
type KeyringStore struct{}

// Default is the keyring-backed store used outside tests
var Default TokenStore = KeyringStore{}

// keyringKey returns a unique key per API host so several platforms can coexist
func keyringKey(apiURL string) string {
	host := apiURL
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return fmt.Sprintf("api-key-%s", host)
}

// SaveKey persists the API key securely
func (KeyringStore) SaveKey(apiURL, key string) error {
	if err := keyring.Set(keyringService, keyringKey(apiURL), key); err != nil {
		return fmt.Errorf("failed to save API key: %w", err)
	}
	return nil
}

// LoadKey retrieves the API key for apiURL
func (KeyringStore) LoadKey(apiURL string) (string, error) {
	key, err := keyring.Get(keyringService, keyringKey(apiURL))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNoStoredKey
		}
		return "", fmt.Errorf("failed to load API key: %w", err)
	}
	return key, nil
}

// DeleteKey removes the API key for apiURL
func (KeyringStore) DeleteKey(apiURL string) error {
	if err := keyring.Delete(keyringService, keyringKey(apiURL)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete API key: %w", err)
	}
	return nil
}
