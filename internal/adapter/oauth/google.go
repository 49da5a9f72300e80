// Package oauth adapts external identity providers to ports.OAuthProvider.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"wallet-service/config"
	"wallet-service/internal/core/ports"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// GoogleProvider runs the Google authorization-code flow.
type GoogleProvider struct {
	cfg         *oauth2.Config
	userInfoURL string
}

// Option customizes a GoogleProvider.
type Option func(*GoogleProvider)

// WithEndpoint points the token exchange and profile lookup elsewhere.
func WithEndpoint(endpoint oauth2.Endpoint, userInfoURL string) Option {
	return func(p *GoogleProvider) {
		p.cfg.Endpoint = endpoint
		p.userInfoURL = userInfoURL
	}
}

// NewGoogleProvider creates a provider from the oauth section of the config.
func NewGoogleProvider(cfg config.OAuthConfig, opts ...Option) *GoogleProvider {
	p := &GoogleProvider{
		cfg: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AuthCodeURL returns the consent page URL carrying state.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// Exchange trades the callback code for a token and fetches the profile.
// Accounts whose email Google has not verified are rejected.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*ports.OAuthIdentity, error) {
	token, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building userinfo request: %w", err)
	}

	resp, err := p.cfg.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("userinfo returned %d: %s", resp.StatusCode, body)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding userinfo: %w", err)
	}
	if info.Sub == "" || info.Email == "" {
		return nil, fmt.Errorf("userinfo missing subject or email")
	}
	if !info.EmailVerified {
		return nil, fmt.Errorf("google email %s is not verified", info.Email)
	}

	return &ports.OAuthIdentity{
		Subject:       info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
	}, nil
}
