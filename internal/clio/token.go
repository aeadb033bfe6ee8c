package clio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/clearbrief/datahub/internal/secrets"
)

// expirySkew is subtracted from the provider-reported expiry so a token
// is refreshed before it can expire mid-request (clock skew plus in-flight
// latency).
const expirySkew = 60 * time.Second

// CredentialSource resolves the OAuth2 client triple for a principal.
// *secrets.Resolver is the production implementation.
type CredentialSource interface {
	CredentialsFor(principal string) (secrets.Credentials, error)
}

// cachedToken is one principal's access token. Entries are replaced
// wholesale on refresh, never partially mutated.
type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// TokenCache holds one provider access token per principal and refreshes
// on expiry or on demand. Refreshes are single-flight per principal:
// concurrent callers share one exchange rather than racing, which matters
// because the provider invalidates the previous refresh token on each use.
type TokenCache struct {
	tokenURL   string
	creds      CredentialSource
	httpClient *http.Client
	logger     *slog.Logger

	// now is the clock, overridable in tests.
	now func() time.Time

	group singleflight.Group

	mu     sync.Mutex
	tokens map[string]cachedToken
}

// NewTokenCache creates a TokenCache exchanging tokens at tokenURL.
func NewTokenCache(tokenURL string, creds CredentialSource, httpClient *http.Client, logger *slog.Logger) *TokenCache {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &TokenCache{
		tokenURL:   tokenURL,
		creds:      creds,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
		tokens:     make(map[string]cachedToken),
	}
}

// GetToken returns a valid access token for the principal. A cached,
// unexpired token is returned with no network call unless forceRefresh is
// set. forceRefresh evicts the cache entry before the exchange so a failed
// retry cannot resurrect a token the provider already rejected.
func (c *TokenCache) GetToken(ctx context.Context, principal string, forceRefresh bool) (string, error) {
	if forceRefresh {
		c.Evict(principal)
	} else if tok, ok := c.cached(principal); ok {
		return tok, nil
	}

	// Single-flight per principal: the flight key is the principal, so
	// unrelated principals never serialize behind each other.
	v, err, shared := c.group.Do(principal, func() (any, error) {
		// A concurrent flight may have refreshed while we waited.
		if !forceRefresh {
			if tok, ok := c.cached(principal); ok {
				return tok, nil
			}
		}

		return c.exchange(ctx, principal)
	})
	if err != nil {
		return "", err
	}

	if shared {
		c.logger.Debug("token exchange shared with concurrent caller",
			slog.String("principal", principal),
		)
	}

	return v.(string), nil
}

// Evict drops the cached token for a principal, if any.
func (c *TokenCache) Evict(principal string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tokens, principal)
}

// cached returns the principal's token if present and not yet within the
// expiry skew window.
func (c *TokenCache) cached(principal string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, ok := c.tokens[principal]
	if !ok || !c.now().Before(tok.expiresAt) {
		return "", false
	}

	return tok.accessToken, true
}

// exchange performs a refresh-token grant for the principal and replaces
// the cache entry on success. On failure the cache is left untouched: a
// stale-but-valid token is not evicted by a failed refresh attempt.
func (c *TokenCache) exchange(ctx context.Context, principal string) (string, error) {
	creds, err := c.creds.CredentialsFor(principal)
	if err != nil {
		return "", fmt.Errorf("clio: resolving credentials for %s: %w", principal, err)
	}

	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: c.tokenURL,
			// The provider takes client credentials in the form body.
			// Pinning the style also keeps oauth2 from probing both styles,
			// which would turn one failed exchange into two requests.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	// Route the oauth2 exchange through our HTTP client.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken}).Token()
	if err != nil {
		return "", tokenExchangeError(principal, err)
	}

	expiresAt := tok.Expiry.Add(-expirySkew)

	c.mu.Lock()
	c.tokens[principal] = cachedToken{accessToken: tok.AccessToken, expiresAt: expiresAt}
	c.mu.Unlock()

	c.logger.Info("token exchanged",
		slog.String("principal", principal),
		slog.Time("expires_at", expiresAt),
	)

	return tok.AccessToken, nil
}

// tokenExchangeError converts an oauth2 failure into ErrTokenExchangeFailed,
// preserving the provider's response body when available.
func tokenExchangeError(principal string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}

		return fmt.Errorf("%w for %s: %w", ErrTokenExchangeFailed, principal, &ProviderError{
			StatusCode: status,
			Body:       string(retrieveErr.Body),
			Err:        ErrTokenExchangeFailed,
		})
	}

	return fmt.Errorf("%w for %s: %w", ErrTokenExchangeFailed, principal, err)
}
