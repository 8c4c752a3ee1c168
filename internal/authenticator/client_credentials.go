package authenticator

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCredentials obtains bearer tokens from an OAuth2 token endpoint using
// the client-credentials grant. Unlike the other strategies it can actually
// renew its credential: RefreshToken always fetches a new token.
type ClientCredentials struct {
	config     *clientcredentials.Config
	httpClient *http.Client

	mu    sync.Mutex
	token *oauth2.Token
}

// NewClientCredentials builds the strategy. httpClient may be nil.
func NewClientCredentials(clientID, clientSecret, tokenURL string, scopes []string, httpClient *http.Client) *ClientCredentials {
	return &ClientCredentials{
		config: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
		},
		httpClient: httpClient,
	}
}

func (c *ClientCredentials) Authenticate(ctx context.Context, h http.Header) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.token.Valid() {
		if err := c.fetchLocked(ctx); err != nil {
			return err
		}
	}

	h.Set("Authorization", c.token.Type()+" "+c.token.AccessToken)
	return nil
}

func (c *ClientCredentials) RefreshToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fetchLocked(ctx)
}

func (c *ClientCredentials) AccessToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.token.Valid() {
		return "", false
	}
	return c.token.AccessToken, true
}

func (c *ClientCredentials) fetchLocked(ctx context.Context) error {
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}

	token, err := c.config.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain client credentials token: %w", err)
	}

	c.token = token
	return nil
}
