package auth

import (
	"context"
	"log/slog"
	"testing"

	"github.com/markbates/goth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmendes/go-sso-identity/internal/types"
)

func TestParseProvider(t *testing.T) {
	for _, name := range []string{"google", "github"} {
		p, err := ParseProvider(name)
		require.NoError(t, err)
		assert.Equal(t, Provider(name), p)
	}

	_, err := ParseProvider("gitlab")
	assert.ErrorIs(t, err, types.ErrMalformedInput)
	_, err = ParseProvider("")
	assert.ErrorIs(t, err, types.ErrMalformedInput)
}

func TestNormalizeGoogle(t *testing.T) {
	n := &normalizer{logger: slog.Default()}

	t.Run("CarriesVerificationFlag", func(t *testing.T) {
		draft, err := n.Normalize(context.Background(), ProviderGoogle, goth.User{
			Email:     "ada@example.com",
			Name:      "Ada Lovelace",
			AvatarURL: "https://example.com/ada.png",
			RawData:   map[string]interface{}{"email_verified": true},
		})
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", draft.Email)
		assert.Equal(t, "Ada Lovelace", draft.FullName)
		assert.Equal(t, "google", draft.AuthProvider)
		assert.True(t, draft.IsVerified)
	})

	t.Run("DraftIsUnpersisted", func(t *testing.T) {
		draft, err := n.Normalize(context.Background(), ProviderGoogle, goth.User{
			Email:   "ada@example.com",
			RawData: map[string]interface{}{"email_verified": true},
		})
		require.NoError(t, err)
		assert.Equal(t, types.UnpersistedID, draft.ID)
	})

	t.Run("UnverifiedEmailStaysUnverified", func(t *testing.T) {
		draft, err := n.Normalize(context.Background(), ProviderGoogle, goth.User{
			Email:   "ada@example.com",
			RawData: map[string]interface{}{"email_verified": false},
		})
		require.NoError(t, err)
		assert.False(t, draft.IsVerified)
	})

	t.Run("MissingVerificationClaimDefaultsToUnverified", func(t *testing.T) {
		draft, err := n.Normalize(context.Background(), ProviderGoogle, goth.User{Email: "ada@example.com"})
		require.NoError(t, err)
		assert.False(t, draft.IsVerified)
	})
}

func TestGothUserFromProfile(t *testing.T) {
	user := gothUserFromProfile(map[string]interface{}{
		"email":        "ada@example.com",
		"name":         "Ada Lovelace",
		"login":        "ada",
		"avatar_url":   "https://example.com/ada.png",
		"access_token": "gh-token",
		"company":      "Analytical Engines Ltd",
	})

	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "Ada Lovelace", user.Name)
	assert.Equal(t, "ada", user.NickName)
	assert.Equal(t, "gh-token", user.AccessToken)
	assert.Equal(t, "Analytical Engines Ltd", user.RawData["company"])
}
