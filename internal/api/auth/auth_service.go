package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/markbates/goth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rmendes/go-sso-identity/app/observability/metrics"
	"github.com/rmendes/go-sso-identity/config"
	"github.com/rmendes/go-sso-identity/internal/api"
	"github.com/rmendes/go-sso-identity/internal/api/identity"
	"github.com/rmendes/go-sso-identity/internal/types"
)

// Ensure implementation satisfies the interface
var _ AuthService = (*AuthServiceImpl)(nil)

// AuthService defines the business logic contract for authentication.
type AuthService interface {
	// GetOrCreateUserFromProvider resolves a provider login to exactly one
	// local user, creating it on first login.
	GetOrCreateUserFromProvider(ctx context.Context, provider string, providerUser goth.User) (*types.User, error)

	// GenerateTokens mints an access/refresh pair for a resolved user.
	GenerateTokens(ctx context.Context, user *types.User) (*TokenPair, error)

	// RefreshSession redeems a refresh token for a fresh pair. The
	// presented token is consumed whether or not the exchange succeeds.
	RefreshSession(ctx context.Context, refreshToken string) (*TokenPair, error)

	// VerifyAccessToken validates signature, expiry, issuer and audience
	// and returns the embedded claims.
	VerifyAccessToken(ctx context.Context, tokenString string) (*types.Claims, error)

	// Logout revokes a single refresh token.
	Logout(ctx context.Context, refreshToken string) error

	// LogoutAll revokes every refresh token a user holds.
	LogoutAll(ctx context.Context, userID int64) error

	// RunTokenSweeper periodically deletes expired refresh tokens until
	// the context is cancelled.
	RunTokenSweeper(ctx context.Context) error
}

// TokenPair is a freshly minted access token plus its rotating refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AuthServiceImpl provides the implementation for AuthService.
type AuthServiceImpl struct {
	logger       *slog.Logger
	identityRepo identity.Repo
	tokenRepo    TokenRepo
	normalizer   *normalizer
	jwtCfg       config.JWTConfig
	sweepCfg     config.SweepConfig
}

// NewAuthService creates a new auth service instance.
func NewAuthService(identityRepo identity.Repo, tokenRepo TokenRepo, githubEmails GitHubEmailClient,
	jwtCfg config.JWTConfig, sweepCfg config.SweepConfig, logger *slog.Logger) *AuthServiceImpl {
	return &AuthServiceImpl{
		logger:       logger,
		identityRepo: identityRepo,
		tokenRepo:    tokenRepo,
		normalizer:   &normalizer{logger: logger, githubEmails: githubEmails},
		jwtCfg:       jwtCfg,
		sweepCfg:     sweepCfg,
	}
}

// GetOrCreateUserFromProvider normalizes the provider profile to the
// (email, provider) identity key, then resolves it against the store.
// Logging in twice with the same provider account always lands on the same
// user; the same email through a different provider is a distinct user.
func (s *AuthServiceImpl) GetOrCreateUserFromProvider(ctx context.Context, provider string, providerUser goth.User) (*types.User, error) {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "GetOrCreateUserFromProvider", trace.WithAttributes(
		attribute.String("auth.provider", provider),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "GetOrCreateUserFromProvider"), slog.String("provider", provider))
	metrics.App().LoginRequestsTotal.Add(ctx, 1)

	p, err := ParseProvider(provider)
	if err != nil {
		l.WarnContext(ctx, "Unknown provider", slog.Any("error", err))
		span.SetStatus(codes.Error, "unknown provider")
		return nil, err
	}

	draft, err := s.normalizer.Normalize(ctx, p, providerUser)
	if err != nil {
		l.WarnContext(ctx, "Failed to normalize provider profile", slog.Any("error", err))
		span.SetStatus(codes.Error, "profile normalization failed")
		return nil, err
	}

	user, err := s.identityRepo.GetUserByEmailAndProvider(ctx, draft.Email, draft.AuthProvider)
	if err == nil {
		if err := s.identityRepo.UpdateLastSeen(ctx, user.ID); err != nil {
			l.WarnContext(ctx, "Failed to update last seen", slog.Any("error", err))
		}
		span.SetAttributes(attribute.Int64("user.id", user.ID))
		return user, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		l.ErrorContext(ctx, "Identity lookup failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "identity lookup failed")
		return nil, fmt.Errorf("error resolving identity: %w", err)
	}

	user, err = s.createUser(ctx, draft)
	if err != nil {
		l.ErrorContext(ctx, "Failed to create user", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "user creation failed")
		return nil, err
	}

	l.InfoContext(ctx, "New user provisioned from provider login",
		slog.Int64("userID", user.ID), slog.String("provider", draft.AuthProvider))
	span.SetAttributes(attribute.Int64("user.id", user.ID))
	return user, nil
}

// createUser inserts the draft and seeds the default role. When a
// concurrent first login wins the insert race, the store reports a
// conflict and the loser re-resolves with one retry lookup.
func (s *AuthServiceImpl) createUser(ctx context.Context, draft *types.User) (*types.User, error) {
	user, err := s.identityRepo.CreateUser(ctx, types.UserCreateParams{
		Username:          draft.Username,
		Email:             draft.Email,
		FullName:          draft.FullName,
		ProfilePictureURL: draft.ProfilePictureURL,
		IsVerified:        draft.IsVerified,
		AuthProvider:      draft.AuthProvider,
	})
	if err != nil {
		if errors.Is(err, types.ErrConflict) {
			return s.identityRepo.GetUserByEmailAndProvider(ctx, draft.Email, draft.AuthProvider)
		}
		return nil, err
	}

	if err := s.identityRepo.AssignRole(ctx, user.ID, types.RoleUser); err != nil {
		return nil, fmt.Errorf("error assigning default role: %w", err)
	}
	return user, nil
}

// GenerateTokens mints a signed access token carrying the user's current
// roles, plus a stored refresh token.
func (s *AuthServiceImpl) GenerateTokens(ctx context.Context, user *types.User) (*TokenPair, error) {
	l := s.logger.With(slog.String("method", "GenerateTokens"), slog.Int64("userID", user.ID))

	roles, err := s.identityRepo.GetUserRoles(ctx, user.ID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to fetch roles for token", slog.Any("error", err))
		return nil, fmt.Errorf("error fetching roles: %w", err)
	}

	accessToken, err := s.signAccessToken(user, roles)
	if err != nil {
		l.ErrorContext(ctx, "Failed to sign access token", slog.Any("error", err))
		return nil, fmt.Errorf("error signing access token: %w", err)
	}

	refresh := s.mintRefreshToken(user.ID)
	if err := s.tokenRepo.StoreRefreshToken(ctx, refresh); err != nil {
		l.ErrorContext(ctx, "Failed to store refresh token", slog.Any("error", err))
		return nil, fmt.Errorf("error storing refresh token: %w", err)
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refresh.Token}, nil
}

// mintRefreshToken draws a fresh opaque token with the configured expiry.
func (s *AuthServiceImpl) mintRefreshToken(userID int64) types.RefreshToken {
	return types.RefreshToken{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(s.jwtCfg.RefreshTokenTTL),
	}
}

func (s *AuthServiceImpl) signAccessToken(user *types.User, roles []string) (string, error) {
	now := time.Now()
	displayName := user.FullName
	if displayName == "" && user.Username != nil {
		displayName = *user.Username
	}

	claims := types.Claims{
		UserID:      user.ID,
		DisplayName: displayName,
		Roles:       roles,
		IsVerified:  user.IsVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    s.jwtCfg.Issuer,
			Audience:  jwt.ClaimStrings{s.jwtCfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtCfg.AccessTokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtCfg.SecretKey))
}

// RefreshSession rotates the refresh token and mints a new pair. Roles are
// re-read from the store, so revocations take effect at the next refresh.
func (s *AuthServiceImpl) RefreshSession(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "RefreshSession")
	defer span.End()

	l := s.logger.With(slog.String("method", "RefreshSession"))
	metrics.App().TokenRefreshesTotal.Add(ctx, 1)

	replacement := uuid.NewString()
	replacementExpiry := time.Now().Add(s.jwtCfg.RefreshTokenTTL)

	userID, err := s.tokenRepo.RotateRefreshToken(ctx, refreshToken, replacement, replacementExpiry)
	if err != nil {
		l.WarnContext(ctx, "Refresh token rotation failed", slog.Any("error", err))
		span.SetStatus(codes.Error, "rotation failed")
		return nil, err
	}

	user, err := s.identityRepo.GetUserByID(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to load user during refresh", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "user load failed")
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	roles, err := s.identityRepo.GetUserRoles(ctx, user.ID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to fetch roles during refresh", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "role fetch failed")
		return nil, fmt.Errorf("error fetching roles: %w", err)
	}

	accessToken, err := s.signAccessToken(user, roles)
	if err != nil {
		l.ErrorContext(ctx, "Failed to sign access token", slog.Any("error", err))
		return nil, fmt.Errorf("error signing access token: %w", err)
	}

	span.SetAttributes(attribute.Int64("user.id", user.ID))
	return &TokenPair{AccessToken: accessToken, RefreshToken: replacement}, nil
}

// VerifyAccessToken checks the token against local key material only; no
// store access is involved.
func (s *AuthServiceImpl) VerifyAccessToken(ctx context.Context, tokenString string) (*types.Claims, error) {
	claims := &types.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtCfg.SecretKey), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("verify access token: %w", types.ErrExpiredCredential)
		}
		return nil, fmt.Errorf("verify access token: %w", types.ErrInvalidCredential)
	}
	if !token.Valid {
		return nil, fmt.Errorf("verify access token: %w", types.ErrInvalidCredential)
	}
	if claims.Issuer != s.jwtCfg.Issuer {
		return nil, fmt.Errorf("verify access token issuer: %w", types.ErrInvalidCredential)
	}
	if s.jwtCfg.Audience != "" && !api.VerifyAudience(claims.Audience, s.jwtCfg.Audience) {
		return nil, fmt.Errorf("verify access token audience: %w", types.ErrInvalidCredential)
	}
	return claims, nil
}

// Logout revokes the presented refresh token. The paired access token
// stays valid until its own expiry.
func (s *AuthServiceImpl) Logout(ctx context.Context, refreshToken string) error {
	l := s.logger.With(slog.String("method", "Logout"))
	l.DebugContext(ctx, "Revoking refresh token")

	if err := s.tokenRepo.DeleteRefreshToken(ctx, refreshToken); err != nil {
		l.WarnContext(ctx, "Failed to revoke refresh token", slog.Any("error", err))
		return err
	}

	l.InfoContext(ctx, "Refresh token revoked")
	return nil
}

// LogoutAll revokes every session a user holds.
func (s *AuthServiceImpl) LogoutAll(ctx context.Context, userID int64) error {
	l := s.logger.With(slog.String("method", "LogoutAll"), slog.Int64("userID", userID))

	if err := s.tokenRepo.DeleteAllUserRefreshTokens(ctx, userID); err != nil {
		l.ErrorContext(ctx, "Failed to revoke user sessions", slog.Any("error", err))
		return err
	}

	l.InfoContext(ctx, "All user sessions revoked")
	return nil
}

// RunTokenSweeper deletes expired refresh tokens on a fixed interval so
// abandoned sessions do not pile up in the table.
func (s *AuthServiceImpl) RunTokenSweeper(ctx context.Context) error {
	interval := s.sweepCfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l := s.logger.With(slog.String("method", "RunTokenSweeper"))
	l.InfoContext(ctx, "Token sweeper started", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			l.InfoContext(ctx, "Token sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			swept, err := s.tokenRepo.DeleteExpiredRefreshTokens(ctx)
			if err != nil {
				l.ErrorContext(ctx, "Expired token sweep failed", slog.Any("error", err))
				continue
			}
			if swept > 0 {
				metrics.App().TokensSweptTotal.Add(ctx, swept)
				l.InfoContext(ctx, "Swept expired refresh tokens", slog.Int64("count", swept))
			}
		}
	}
}
