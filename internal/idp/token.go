package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/signin-gate/internal/log"
	"golang.org/x/oauth2"
)

// ErrTokenExchangeFailed is returned when the provider does not hand back an
// access token for the authorization code
var ErrTokenExchangeFailed = errors.New("token exchange failed")

// Token is the provider's answer to a code exchange. It lives only for the
// duration of a callback.
type Token struct {
	AccessToken string
	TokenType   string
	// ExpiresIn is zero when the provider did not say
	ExpiresIn time.Duration
}

// ExchangeConfig configures a TokenExchangeClient
type ExchangeConfig struct {
	ClientID              string
	ClientSecret          string
	AuthorizationEndpoint string
	TokenEndpoint         string
	RedirectURL           string
	Scopes                []string
	Timeout               time.Duration
	HTTPClient            *http.Client
}

// TokenExchangeClient builds authorization URLs and trades authorization
// codes for access tokens.
type TokenExchangeClient struct {
	config     oauth2.Config
	httpClient *http.Client
	timeout    time.Duration
}

// NewTokenExchangeClient creates a client. Credentials are sent in the form
// body, which every provider accepts.
func NewTokenExchangeClient(cfg ExchangeConfig) (*TokenExchangeClient, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client credentials are required")
	}
	if cfg.AuthorizationEndpoint == "" || cfg.TokenEndpoint == "" {
		return nil, fmt.Errorf("authorization and token endpoints are required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}

	return &TokenExchangeClient{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizationEndpoint,
				TokenURL:  cfg.TokenEndpoint,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: cfg.HTTPClient,
		timeout:    cfg.Timeout,
	}, nil
}

// AuthURL generates the authorization URL carrying client_id, redirect_uri,
// response_type=code, scope and state.
func (c *TokenExchangeClient) AuthURL(state string) string {
	return c.config.AuthCodeURL(state)
}

// Exchange exchanges an authorization code for an access token.
func (c *TokenExchangeClient) Exchange(ctx context.Context, code string) (*Token, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrTokenExchangeFailed)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}

	tok, err := c.config.Exchange(ctx, code)
	if err != nil {
		// RetrieveError.Error() embeds the response body; keep it out of errors and logs
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) {
			status := 0
			if rErr.Response != nil {
				status = rErr.Response.StatusCode
			}
			log.LogWarnWithFields("idp", "Token endpoint rejected code", map[string]any{
				"status":     status,
				"error_code": rErr.ErrorCode,
			})
			return nil, fmt.Errorf("%w: status %d %s", ErrTokenExchangeFailed, status, rErr.ErrorCode)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: response missing access_token", ErrTokenExchangeFailed)
	}

	token := &Token{
		AccessToken: tok.AccessToken,
		TokenType:   tok.Type(),
	}
	if !tok.Expiry.IsZero() {
		token.ExpiresIn = time.Until(tok.Expiry).Round(time.Second)
	}

	log.LogDebugWithFields("idp", "Exchanged authorization code", map[string]any{
		"token_type": token.TokenType,
		"expires_in": token.ExpiresIn.String(),
	})
	return token, nil
}
