package auth

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/markbates/goth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rmendes/go-sso-identity/config"
	"github.com/rmendes/go-sso-identity/internal/types"
)

// MockIdentityRepo is a mock implementation of the identity.Repo interface
type MockIdentityRepo struct {
	mock.Mock
}

func (m *MockIdentityRepo) GetUserByID(ctx context.Context, id int64) (*types.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func (m *MockIdentityRepo) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func (m *MockIdentityRepo) GetUserByEmailAndProvider(ctx context.Context, email, provider string) (*types.User, error) {
	args := m.Called(ctx, email, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func (m *MockIdentityRepo) CreateUser(ctx context.Context, params types.UserCreateParams) (*types.User, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func (m *MockIdentityRepo) DeleteUser(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockIdentityRepo) UpdateLastSeen(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockIdentityRepo) GetUserRoles(ctx context.Context, id int64) ([]string, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockIdentityRepo) AssignRole(ctx context.Context, userID int64, roleName string) error {
	args := m.Called(ctx, userID, roleName)
	return args.Error(0)
}

func (m *MockIdentityRepo) CreateGroup(ctx context.Context, name string) (*types.Group, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Group), args.Error(1)
}

func (m *MockIdentityRepo) GetGroupByID(ctx context.Context, id int64) (*types.Group, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Group), args.Error(1)
}

func (m *MockIdentityRepo) GetGroupByName(ctx context.Context, name string) (*types.Group, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Group), args.Error(1)
}

func (m *MockIdentityRepo) DeleteGroup(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockIdentityRepo) AddUserToGroup(ctx context.Context, userID, groupID int64) error {
	args := m.Called(ctx, userID, groupID)
	return args.Error(0)
}

func (m *MockIdentityRepo) RemoveUserFromGroup(ctx context.Context, userID, groupID int64) error {
	args := m.Called(ctx, userID, groupID)
	return args.Error(0)
}

func (m *MockIdentityRepo) GetUserGroupIDs(ctx context.Context, userID int64) ([]int64, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockIdentityRepo) GetGroupUserIDs(ctx context.Context, groupID int64) ([]int64, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

// MockTokenRepo is a mock implementation of the TokenRepo interface
type MockTokenRepo struct {
	mock.Mock
}

func (m *MockTokenRepo) StoreRefreshToken(ctx context.Context, token types.RefreshToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokenRepo) RotateRefreshToken(ctx context.Context, presented, replacement string, replacementExpiry time.Time) (int64, error) {
	args := m.Called(ctx, presented, replacement, replacementExpiry)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTokenRepo) DeleteRefreshToken(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokenRepo) DeleteAllUserRefreshTokens(ctx context.Context, userID int64) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockTokenRepo) DeleteExpiredRefreshTokens(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// MockGitHubEmailClient is a mock implementation of GitHubEmailClient
type MockGitHubEmailClient struct {
	mock.Mock
}

func (m *MockGitHubEmailClient) ListEmails(ctx context.Context, accessToken string) ([]GitHubEmail, error) {
	args := m.Called(ctx, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]GitHubEmail), args.Error(1)
}

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		SecretKey:       "test-access-secret",
		Issuer:          "test-issuer",
		Audience:        "test-audience",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 30 * 24 * time.Hour,
	}
}

func newTestService(identityRepo *MockIdentityRepo, tokenRepo *MockTokenRepo, emails *MockGitHubEmailClient) *AuthServiceImpl {
	return NewAuthService(identityRepo, tokenRepo, emails, testJWTConfig(),
		config.SweepConfig{Interval: time.Hour}, slog.Default())
}

func TestGetOrCreateUserFromProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("ExistingUserResolvesToSameIdentity", func(t *testing.T) {
		identityRepo := new(MockIdentityRepo)
		tokenRepo := new(MockTokenRepo)
		service := newTestService(identityRepo, tokenRepo, new(MockGitHubEmailClient))

		existing := &types.User{ID: 42, Email: "ada@example.com", AuthProvider: "google"}
		identityRepo.On("GetUserByEmailAndProvider", mock.Anything, "ada@example.com", "google").Return(existing, nil)
		identityRepo.On("UpdateLastSeen", mock.Anything, int64(42)).Return(nil)

		profile := goth.User{
			Email:   "ada@example.com",
			Name:    "Ada Lovelace",
			RawData: map[string]interface{}{"email_verified": true},
		}

		user, err := service.GetOrCreateUserFromProvider(ctx, "google", profile)
		require.NoError(t, err)
		assert.Equal(t, int64(42), user.ID)

		// A second login with the same profile lands on the same user.
		user2, err := service.GetOrCreateUserFromProvider(ctx, "google", profile)
		require.NoError(t, err)
		assert.Equal(t, user.ID, user2.ID)

		identityRepo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
	})

	t.Run("FirstLoginCreatesUserWithDefaultRole", func(t *testing.T) {
		identityRepo := new(MockIdentityRepo)
		tokenRepo := new(MockTokenRepo)
		service := newTestService(identityRepo, tokenRepo, new(MockGitHubEmailClient))

		identityRepo.On("GetUserByEmailAndProvider", mock.Anything, "ada@example.com", "google").
			Return(nil, types.ErrNotFound)
		created := &types.User{ID: 7, Email: "ada@example.com", AuthProvider: "google", IsVerified: true}
		identityRepo.On("CreateUser", mock.Anything, mock.MatchedBy(func(p types.UserCreateParams) bool {
			return p.Email == "ada@example.com" && p.AuthProvider == "google" && p.IsVerified
		})).Return(created, nil)
		identityRepo.On("AssignRole", mock.Anything, int64(7), types.RoleUser).Return(nil)

		user, err := service.GetOrCreateUserFromProvider(ctx, "google", goth.User{
			Email:   "ada@example.com",
			Name:    "Ada Lovelace",
			RawData: map[string]interface{}{"email_verified": true},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(7), user.ID)
		identityRepo.AssertExpectations(t)
	})

	t.Run("CreateRaceRetriesLookupOnce", func(t *testing.T) {
		identityRepo := new(MockIdentityRepo)
		tokenRepo := new(MockTokenRepo)
		service := newTestService(identityRepo, tokenRepo, new(MockGitHubEmailClient))

		winner := &types.User{ID: 9, Email: "ada@example.com", AuthProvider: "google"}
		identityRepo.On("GetUserByEmailAndProvider", mock.Anything, "ada@example.com", "google").
			Return(nil, types.ErrNotFound).Once()
		identityRepo.On("CreateUser", mock.Anything, mock.Anything).Return(nil, types.ErrConflict)
		identityRepo.On("GetUserByEmailAndProvider", mock.Anything, "ada@example.com", "google").
			Return(winner, nil).Once()

		user, err := service.GetOrCreateUserFromProvider(ctx, "google", goth.User{
			Email:   "ada@example.com",
			RawData: map[string]interface{}{"email_verified": true},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(9), user.ID)
	})

	t.Run("GitHubAnchorsOnPrimaryVerifiedEmail", func(t *testing.T) {
		identityRepo := new(MockIdentityRepo)
		tokenRepo := new(MockTokenRepo)
		emails := new(MockGitHubEmailClient)
		service := newTestService(identityRepo, tokenRepo, emails)

		// The profile email differs from the primary verified address; the
		// latter anchors the identity.
		emails.On("ListEmails", mock.Anything, "gh-token").Return([]GitHubEmail{
			{Email: "old@example.com", Primary: false, Verified: true},
			{Email: "b@x.com", Primary: true, Verified: true},
		}, nil)

		existing := &types.User{ID: 3, Email: "b@x.com", AuthProvider: "github"}
		identityRepo.On("GetUserByEmailAndProvider", mock.Anything, "b@x.com", "github").Return(existing, nil)
		identityRepo.On("UpdateLastSeen", mock.Anything, int64(3)).Return(nil)

		user, err := service.GetOrCreateUserFromProvider(ctx, "github", goth.User{
			Email:       "a@x.com",
			Name:        "Ada",
			NickName:    "ada",
			AccessToken: "gh-token",
		})
		require.NoError(t, err)
		assert.Equal(t, "b@x.com", user.Email)
	})

	t.Run("GitHubWithoutVerifiedPrimaryEmailFails", func(t *testing.T) {
		identityRepo := new(MockIdentityRepo)
		emails := new(MockGitHubEmailClient)
		service := newTestService(identityRepo, new(MockTokenRepo), emails)

		emails.On("ListEmails", mock.Anything, "gh-token").Return([]GitHubEmail{
			{Email: "a@x.com", Primary: true, Verified: false},
		}, nil)

		_, err := service.GetOrCreateUserFromProvider(ctx, "github", goth.User{AccessToken: "gh-token"})
		assert.ErrorIs(t, err, types.ErrMalformedInput)
		identityRepo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
	})

	t.Run("GitHubEmailEndpointOutage", func(t *testing.T) {
		emails := new(MockGitHubEmailClient)
		service := newTestService(new(MockIdentityRepo), new(MockTokenRepo), emails)

		emails.On("ListEmails", mock.Anything, "gh-token").Return(nil, types.ErrProviderUnavailable)

		_, err := service.GetOrCreateUserFromProvider(ctx, "github", goth.User{AccessToken: "gh-token"})
		assert.ErrorIs(t, err, types.ErrProviderUnavailable)
	})

	t.Run("UnknownProvider", func(t *testing.T) {
		service := newTestService(new(MockIdentityRepo), new(MockTokenRepo), new(MockGitHubEmailClient))

		_, err := service.GetOrCreateUserFromProvider(ctx, "gitlab", goth.User{Email: "a@x.com"})
		assert.ErrorIs(t, err, types.ErrMalformedInput)
	})

	t.Run("GoogleProfileWithoutEmail", func(t *testing.T) {
		service := newTestService(new(MockIdentityRepo), new(MockTokenRepo), new(MockGitHubEmailClient))

		_, err := service.GetOrCreateUserFromProvider(ctx, "google", goth.User{Name: "No Email"})
		assert.ErrorIs(t, err, types.ErrMalformedInput)
	})

	t.Run("StoreOutageIsNotNotFound", func(t *testing.T) {
		identityRepo := new(MockIdentityRepo)
		service := newTestService(identityRepo, new(MockTokenRepo), new(MockGitHubEmailClient))

		identityRepo.On("GetUserByEmailAndProvider", mock.Anything, "ada@example.com", "google").
			Return(nil, types.ErrStorageUnavailable)

		_, err := service.GetOrCreateUserFromProvider(ctx, "google", goth.User{
			Email:   "ada@example.com",
			RawData: map[string]interface{}{"email_verified": true},
		})
		assert.ErrorIs(t, err, types.ErrStorageUnavailable)
		identityRepo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
	})
}

func TestGenerateAndVerifyTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		identityRepo := new(MockIdentityRepo)
		tokenRepo := new(MockTokenRepo)
		service := newTestService(identityRepo, tokenRepo, new(MockGitHubEmailClient))

		user := &types.User{ID: 42, FullName: "Ada Lovelace", IsVerified: true}
		identityRepo.On("GetUserRoles", mock.Anything, int64(42)).Return([]string{types.RoleUser, types.RoleAdmin}, nil)
		tokenRepo.On("StoreRefreshToken", mock.Anything, mock.MatchedBy(func(rt types.RefreshToken) bool {
			return rt.UserID == 42 && rt.Token != "" && rt.ExpiresAt.After(time.Now())
		})).Return(nil)

		pair, err := service.GenerateTokens(ctx, user)
		require.NoError(t, err)
		require.NotEmpty(t, pair.AccessToken)
		require.NotEmpty(t, pair.RefreshToken)

		claims, err := service.VerifyAccessToken(ctx, pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, int64(42), claims.UserID)
		assert.Equal(t, "Ada Lovelace", claims.DisplayName)
		assert.ElementsMatch(t, []string{types.RoleUser, types.RoleAdmin}, claims.Roles)
		assert.True(t, claims.IsVerified)
		assert.Equal(t, "test-issuer", claims.Issuer)
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		identityRepo := new(MockIdentityRepo)
		tokenRepo := new(MockTokenRepo)
		cfg := testJWTConfig()
		cfg.AccessTokenTTL = -time.Minute
		service := NewAuthService(identityRepo, tokenRepo, new(MockGitHubEmailClient),
			cfg, config.SweepConfig{Interval: time.Hour}, slog.Default())

		identityRepo.On("GetUserRoles", mock.Anything, int64(1)).Return([]string{types.RoleUser}, nil)
		tokenRepo.On("StoreRefreshToken", mock.Anything, mock.Anything).Return(nil)

		pair, err := service.GenerateTokens(ctx, &types.User{ID: 1})
		require.NoError(t, err)

		_, err = service.VerifyAccessToken(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, types.ErrExpiredCredential)
	})

	t.Run("TamperedToken", func(t *testing.T) {
		identityRepo := new(MockIdentityRepo)
		tokenRepo := new(MockTokenRepo)
		service := newTestService(identityRepo, tokenRepo, new(MockGitHubEmailClient))

		identityRepo.On("GetUserRoles", mock.Anything, int64(1)).Return([]string{types.RoleUser}, nil)
		tokenRepo.On("StoreRefreshToken", mock.Anything, mock.Anything).Return(nil)

		pair, err := service.GenerateTokens(ctx, &types.User{ID: 1})
		require.NoError(t, err)

		_, err = service.VerifyAccessToken(ctx, pair.AccessToken+"x")
		assert.ErrorIs(t, err, types.ErrInvalidCredential)
	})

	t.Run("GarbageToken", func(t *testing.T) {
		service := newTestService(new(MockIdentityRepo), new(MockTokenRepo), new(MockGitHubEmailClient))

		_, err := service.VerifyAccessToken(ctx, "not-a-jwt")
		assert.ErrorIs(t, err, types.ErrInvalidCredential)
	})
}

func TestRefreshSession(t *testing.T) {
	ctx := context.Background()

	t.Run("RotationIssuesNewPair", func(t *testing.T) {
		identityRepo := new(MockIdentityRepo)
		tokenRepo := new(MockTokenRepo)
		service := newTestService(identityRepo, tokenRepo, new(MockGitHubEmailClient))

		tokenRepo.On("RotateRefreshToken", mock.Anything, "old-token", mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
			Return(int64(42), nil)
		user := &types.User{ID: 42, FullName: "Ada Lovelace"}
		identityRepo.On("GetUserByID", mock.Anything, int64(42)).Return(user, nil)
		identityRepo.On("GetUserRoles", mock.Anything, int64(42)).Return([]string{types.RoleUser}, nil)

		pair, err := service.RefreshSession(ctx, "old-token")
		require.NoError(t, err)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEqual(t, "old-token", pair.RefreshToken)
	})

	t.Run("UnknownToken", func(t *testing.T) {
		tokenRepo := new(MockTokenRepo)
		service := newTestService(new(MockIdentityRepo), tokenRepo, new(MockGitHubEmailClient))

		tokenRepo.On("RotateRefreshToken", mock.Anything, "bogus", mock.Anything, mock.Anything).
			Return(int64(0), types.ErrInvalidCredential)

		_, err := service.RefreshSession(ctx, "bogus")
		assert.ErrorIs(t, err, types.ErrInvalidCredential)
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		tokenRepo := new(MockTokenRepo)
		service := newTestService(new(MockIdentityRepo), tokenRepo, new(MockGitHubEmailClient))

		tokenRepo.On("RotateRefreshToken", mock.Anything, "stale", mock.Anything, mock.Anything).
			Return(int64(0), types.ErrExpiredCredential)

		_, err := service.RefreshSession(ctx, "stale")
		assert.ErrorIs(t, err, types.ErrExpiredCredential)
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("RevokesToken", func(t *testing.T) {
		tokenRepo := new(MockTokenRepo)
		service := newTestService(new(MockIdentityRepo), tokenRepo, new(MockGitHubEmailClient))

		tokenRepo.On("DeleteRefreshToken", mock.Anything, "session-token").Return(nil)

		err := service.Logout(ctx, "session-token")
		assert.NoError(t, err)
		tokenRepo.AssertExpectations(t)
	})

	t.Run("UnknownTokenSurfacesInvalidCredential", func(t *testing.T) {
		tokenRepo := new(MockTokenRepo)
		service := newTestService(new(MockIdentityRepo), tokenRepo, new(MockGitHubEmailClient))

		tokenRepo.On("DeleteRefreshToken", mock.Anything, "gone").Return(types.ErrInvalidCredential)

		err := service.Logout(ctx, "gone")
		assert.ErrorIs(t, err, types.ErrInvalidCredential)
	})
}

func TestLogoutAll(t *testing.T) {
	ctx := context.Background()

	t.Run("RevokesEverySession", func(t *testing.T) {
		tokenRepo := new(MockTokenRepo)
		service := newTestService(new(MockIdentityRepo), tokenRepo, new(MockGitHubEmailClient))

		tokenRepo.On("DeleteAllUserRefreshTokens", mock.Anything, int64(42)).Return(nil)

		err := service.LogoutAll(ctx, 42)
		assert.NoError(t, err)
		tokenRepo.AssertExpectations(t)
	})

	t.Run("StoreFailureSurfaces", func(t *testing.T) {
		tokenRepo := new(MockTokenRepo)
		service := newTestService(new(MockIdentityRepo), tokenRepo, new(MockGitHubEmailClient))

		tokenRepo.On("DeleteAllUserRefreshTokens", mock.Anything, int64(42)).Return(types.ErrStorageUnavailable)

		err := service.LogoutAll(ctx, 42)
		assert.ErrorIs(t, err, types.ErrStorageUnavailable)
	})
}
