package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/markbates/goth"

	"github.com/rmendes/go-sso-identity/internal/types"
)

// Provider identifies a supported OAuth identity provider.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderGitHub Provider = "github"
)

// ParseProvider validates a provider name from the request path.
func ParseProvider(name string) (Provider, error) {
	switch Provider(name) {
	case ProviderGoogle, ProviderGitHub:
		return Provider(name), nil
	default:
		return "", fmt.Errorf("unsupported provider %q: %w", name, types.ErrMalformedInput)
	}
}

// GitHubEmail is one entry from the GitHub user emails endpoint.
type GitHubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubEmailClient fetches the email list GitHub keeps off the main
// profile. GitHub profiles routinely hide the email field, so the
// profile alone cannot anchor an identity.
type GitHubEmailClient interface {
	ListEmails(ctx context.Context, accessToken string) ([]GitHubEmail, error)
}

const githubEmailsURL = "https://api.github.com/user/emails"

// HTTPGitHubEmailClient talks to the real GitHub API.
type HTTPGitHubEmailClient struct {
	client *http.Client
}

func NewHTTPGitHubEmailClient() *HTTPGitHubEmailClient {
	return &HTTPGitHubEmailClient{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPGitHubEmailClient) ListEmails(ctx context.Context, accessToken string) ([]GitHubEmail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, githubEmailsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build emails request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch emails: %w", types.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch emails: status %d: %w", resp.StatusCode, types.ErrProviderUnavailable)
	}

	var emails []GitHubEmail
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return nil, fmt.Errorf("decode emails: %w", types.ErrProviderUnavailable)
	}
	return emails, nil
}

// normalizer turns a raw provider profile into the canonical draft used to
// resolve or create an identity. Each provider anchors the email address
// differently.
type normalizer struct {
	logger       *slog.Logger
	githubEmails GitHubEmailClient
}

// Normalize maps a provider profile onto a draft user. The draft carries
// types.UnpersistedID until the store assigns a real id on insert.
func (n *normalizer) Normalize(ctx context.Context, provider Provider, profile goth.User) (*types.User, error) {
	switch provider {
	case ProviderGoogle:
		return n.normalizeGoogle(profile)
	case ProviderGitHub:
		return n.normalizeGitHub(ctx, profile)
	default:
		return nil, fmt.Errorf("unsupported provider %q: %w", provider, types.ErrMalformedInput)
	}
}

// normalizeGoogle reads the userinfo fields directly. Google always returns
// the account email there.
func (n *normalizer) normalizeGoogle(profile goth.User) (*types.User, error) {
	if profile.Email == "" {
		return nil, fmt.Errorf("google profile missing email: %w", types.ErrMalformedInput)
	}

	verified := false
	if v, ok := profile.RawData["email_verified"].(bool); ok {
		verified = v
	}

	draft := &types.User{
		ID:           types.UnpersistedID,
		Email:        profile.Email,
		FullName:     profile.Name,
		AuthProvider: string(ProviderGoogle),
		IsVerified:   verified,
	}
	if profile.AvatarURL != "" {
		draft.ProfilePictureURL = &profile.AvatarURL
	}
	return draft, nil
}

// normalizeGitHub resolves the address from the emails endpoint rather than
// the profile: only a primary, verified address may anchor an identity.
func (n *normalizer) normalizeGitHub(ctx context.Context, profile goth.User) (*types.User, error) {
	emails, err := n.githubEmails.ListEmails(ctx, profile.AccessToken)
	if err != nil {
		n.logger.WarnContext(ctx, "GitHub emails endpoint failed", slog.Any("error", err))
		return nil, err
	}

	var email string
	for _, e := range emails {
		if e.Primary && e.Verified {
			email = e.Email
			break
		}
	}
	if email == "" {
		return nil, fmt.Errorf("github account has no primary verified email: %w", types.ErrMalformedInput)
	}

	draft := &types.User{
		ID:           types.UnpersistedID,
		Email:        email,
		FullName:     profile.Name,
		AuthProvider: string(ProviderGitHub),
		IsVerified:   true,
	}
	if profile.NickName != "" {
		draft.Username = &profile.NickName
	}
	if profile.AvatarURL != "" {
		draft.ProfilePictureURL = &profile.AvatarURL
	}
	return draft, nil
}
