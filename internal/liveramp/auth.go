package liveramp

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ignite/signals-agent/internal/config"
	"github.com/ignite/signals-agent/internal/pkg/logger"
	"golang.org/x/oauth2"
)

// tokenExpiryMargin treats tokens as expired this long before their real
// expiry so a token cannot lapse between page fetches mid-sync.
const tokenExpiryMargin = 5 * time.Minute

// authenticator obtains and caches OAuth2 access tokens via LiveRamp's
// password-grant token endpoint. Safe for use from a single sync worker.
type authenticator struct {
	oauthCfg  *oauth2.Config
	accountID string
	secretKey string
	timeout   time.Duration

	mu    sync.Mutex
	token *oauth2.Token
}

func newAuthenticator(cfg config.LiveRampConfig) *authenticator {
	return &authenticator{
		oauthCfg: &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{TokenURL: cfg.TokenURL},
		},
		accountID: cfg.AccountID,
		secretKey: cfg.SecretKey,
		timeout:   cfg.Timeout(),
	}
}

// Token returns a valid access token, fetching a new one when the cached
// token is absent or within the expiry margin.
func (a *authenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tokenValid() {
		return a.token.AccessToken, nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: a.timeout})
	tok, err := a.oauthCfg.PasswordCredentialsToken(ctx, a.accountID, a.secretKey)
	if err != nil {
		return "", fmt.Errorf("liveramp authentication failed: %w", err)
	}

	a.token = tok
	logger.Info("authenticated with liveramp",
		"account_id", a.accountID,
		"expires", tok.Expiry.UTC().Format(time.RFC3339))
	return tok.AccessToken, nil
}

// Invalidate discards the cached token so the next Token call re-authenticates.
// Called when the API rejects a request with an auth-expiry signal.
func (a *authenticator) Invalidate() {
	a.mu.Lock()
	a.token = nil
	a.mu.Unlock()
}

func (a *authenticator) tokenValid() bool {
	if a.token == nil || a.token.AccessToken == "" {
		return false
	}
	if a.token.Expiry.IsZero() {
		return true
	}
	return time.Until(a.token.Expiry) > tokenExpiryMargin
}
