package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/weiawesome/friendlychat/internal/domain"
)

// ErrInvalidCode is returned when the provider rejects an authorization code.
var ErrInvalidCode = errors.New("invalid authorization code")

// Provider drivers.
const (
	ProviderGoogle = "google"
	ProviderDev    = "dev"
)

// Provider is a third-party sign-in flow.
type Provider interface {
	Name() string
	// AuthCodeURL returns the URL the sign-in popup opens.
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for the user's profile.
	Exchange(ctx context.Context, code string) (*domain.Profile, error)
}

// ProviderConfig holds configuration for the identity provider.
type ProviderConfig struct {
	Driver       string   `mapstructure:"driver"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	UserInfoURL  string   `mapstructure:"userinfo_url"`
	Scopes       []string `mapstructure:"scopes"`
	// DevLoginPath is the page the dev provider sends the popup to.
	DevLoginPath string `mapstructure:"dev_login_path"`
}

// NewProvider creates the provider named by cfg.Driver.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Driver {
	case ProviderGoogle:
		if cfg.ClientID == "" {
			return nil, fmt.Errorf("google provider requires a client id")
		}
		return NewOAuthProvider(cfg), nil
	case ProviderDev, "":
		return NewDevProvider(cfg.DevLoginPath), nil
	default:
		return nil, fmt.Errorf("unsupported identity provider: %s", cfg.Driver)
	}
}

// OAuthProvider runs the OAuth 2.0 authorization-code flow and reads the
// profile from an OpenID userinfo endpoint.
type OAuthProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewOAuthProvider creates an OAuth provider. Endpoints default to Google.
func NewOAuthProvider(cfg ProviderConfig) *OAuthProvider {
	endpoint := google.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	}
	userInfo := cfg.UserInfoURL
	if userInfo == "" {
		userInfo = "https://openidconnect.googleapis.com/v1/userinfo"
	}

	return &OAuthProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		userInfoURL: userInfo,
	}
}

func (p *OAuthProvider) Name() string { return ProviderGoogle }

func (p *OAuthProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

type userInfo struct {
	Sub     string `json:"sub"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Email   string `json:"email"`
}

func (p *OAuthProvider) Exchange(ctx context.Context, code string) (*domain.Profile, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.config.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info returned status %d", resp.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("user info has no subject")
	}

	name := info.Name
	if name == "" {
		name = info.Email
	}
	return &domain.Profile{
		UID:         info.Sub,
		DisplayName: name,
		PhotoURL:    info.Picture,
		Email:       info.Email,
	}, nil
}

// DevProvider signs anyone in under the name they type. The code is the
// display name and the user id is derived from it.
type DevProvider struct {
	loginPath string
}

// NewDevProvider creates a dev provider whose popup opens loginPath.
func NewDevProvider(loginPath string) *DevProvider {
	if loginPath == "" {
		loginPath = "/auth/dev"
	}
	return &DevProvider{loginPath: loginPath}
}

func (p *DevProvider) Name() string { return ProviderDev }

func (p *DevProvider) AuthCodeURL(state string) string {
	return p.loginPath + "?" + url.Values{"state": {state}}.Encode()
}

func (p *DevProvider) Exchange(_ context.Context, code string) (*domain.Profile, error) {
	name := strings.TrimSpace(code)
	if name == "" {
		return nil, ErrInvalidCode
	}
	return &domain.Profile{
		UID:         uuid.NewSHA1(uuid.NameSpaceURL, []byte("friendlychat:dev:"+name)).String(),
		DisplayName: name,
	}, nil
}
