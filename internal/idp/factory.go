package idp

import (
	"fmt"
	"net/http"

	"github.com/dgellow/signin-gate/internal/config"
)

// Provider bundles the components that talk to one identity provider
type Provider struct {
	Name     string
	Exchange *TokenExchangeClient
	UserInfo *UserInfoFetcher
	Claims   *ClaimsMapper
}

// NewProvider creates the provider components from config. redirectURL is the
// absolute callback URL registered with the provider.
func NewProvider(cfg config.ProviderConfig, redirectURL string, httpClient *http.Client) (*Provider, error) {
	exchange, err := NewTokenExchangeClient(ExchangeConfig{
		ClientID:              cfg.ClientID,
		ClientSecret:          string(cfg.ClientSecret),
		AuthorizationEndpoint: cfg.AuthorizationEndpoint,
		TokenEndpoint:         cfg.TokenEndpoint,
		RedirectURL:           redirectURL,
		Scopes:                cfg.Scopes,
		Timeout:               cfg.Timeout,
		HTTPClient:            httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("creating token exchange client: %w", err)
	}

	claims, err := NewClaimsMapper(ClaimPaths{
		Subject:     cfg.Claims.Subject,
		DisplayName: cfg.Claims.DisplayName,
		ProfileURL:  cfg.Claims.ProfileURL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating claims mapper: %w", err)
	}

	return &Provider{
		Name:     cfg.Name,
		Exchange: exchange,
		UserInfo: NewUserInfoFetcher(cfg.UserInfoEndpoint, httpClient, cfg.Timeout),
		Claims:   claims,
	}, nil
}
