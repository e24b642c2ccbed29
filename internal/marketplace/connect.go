package marketplace

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/l0p7/influencehub/internal/config"
)

// Social providers an account can be connected to.
const (
	ProviderInstagram = "instagram"
	ProviderYouTube   = "youtube"
)

var (
	// ErrUnknownProvider is returned for providers with no connect flow.
	ErrUnknownProvider = errors.New("marketplace: unknown provider")
	// ErrProviderDisabled is returned when the provider has no client id.
	ErrProviderDisabled = errors.New("marketplace: provider not configured")
)

var instagramEndpoint = oauth2.Endpoint{
	AuthURL:  "https://api.instagram.com/oauth/authorize",
	TokenURL: "https://api.instagram.com/oauth/access_token",
}

var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

func oauthConfig(provider string, cfg config.OAuthConfig) (*oauth2.Config, []oauth2.AuthCodeOption, error) {
	switch provider {
	case ProviderInstagram:
		return &oauth2.Config{
			ClientID:    cfg.Instagram.ClientID,
			RedirectURL: cfg.Instagram.RedirectURL,
			Endpoint:    instagramEndpoint,
			Scopes:      []string{"user_profile,user_media"},
		}, nil, nil
	case ProviderYouTube:
		return &oauth2.Config{
			ClientID:    cfg.YouTube.ClientID,
			RedirectURL: cfg.YouTube.RedirectURL,
			Endpoint:    googleEndpoint,
			Scopes:      []string{"https://www.googleapis.com/auth/youtube.readonly"},
		}, []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
}

// ConnectURL builds the authorization URL that starts a provider connect
// flow. An empty state is replaced by a random one; the state used is
// returned so the callback can be matched.
func (m *Marketplace) ConnectURL(provider, state string) (string, string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	cfg, opts, err := oauthConfig(provider, m.oauth)
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return "", "", fmt.Errorf("%w: %s", ErrProviderDisabled, provider)
	}
	if state == "" {
		state = uuid.NewString()
	}
	return cfg.AuthCodeURL(state, opts...), state, nil
}
