package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmendes/go-sso-identity/internal/types"
)

func signTestToken(t *testing.T, cfg jwt.MapClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, cfg)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthenticateMiddleware(t *testing.T) {
	jwtCfg := testJWTConfig()
	middleware := Authenticate(slog.Default(), jwtCfg)

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserIDFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, int64(42), userID)

		roles, ok := GetUserRolesFromContext(r.Context())
		require.True(t, ok)
		assert.Contains(t, roles, types.RoleUser)

		w.WriteHeader(http.StatusOK)
	})

	validToken := func() string {
		now := time.Now()
		return signTestToken(t, jwt.MapClaims{
			"user_id":      int64(42),
			"display_name": "Ada Lovelace",
			"roles":        []string{types.RoleUser},
			"is_verified":  true,
			"sub":          "42",
			"iss":          jwtCfg.Issuer,
			"aud":          jwtCfg.Audience,
			"iat":          now.Unix(),
			"exp":          now.Add(time.Minute).Unix(),
		}, jwtCfg.SecretKey)
	}

	t.Run("ValidTokenPasses", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+validToken())
		rec := httptest.NewRecorder()

		middleware(okHandler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("MissingHeader", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		rec := httptest.NewRecorder()

		middleware(okHandler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("MalformedHeader", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		req.Header.Set("Authorization", "Token abc")
		rec := httptest.NewRecorder()

		middleware(okHandler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		now := time.Now()
		expired := signTestToken(t, jwt.MapClaims{
			"user_id": int64(42),
			"iss":     jwtCfg.Issuer,
			"aud":     jwtCfg.Audience,
			"exp":     now.Add(-time.Minute).Unix(),
		}, jwtCfg.SecretKey)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+expired)
		rec := httptest.NewRecorder()

		middleware(okHandler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("WrongIssuer", func(t *testing.T) {
		now := time.Now()
		wrongIssuer := signTestToken(t, jwt.MapClaims{
			"user_id": int64(42),
			"iss":     "someone-else",
			"aud":     jwtCfg.Audience,
			"exp":     now.Add(time.Minute).Unix(),
		}, jwtCfg.SecretKey)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+wrongIssuer)
		rec := httptest.NewRecorder()

		middleware(okHandler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("WrongSignature", func(t *testing.T) {
		now := time.Now()
		forged := signTestToken(t, jwt.MapClaims{
			"user_id": int64(42),
			"iss":     jwtCfg.Issuer,
			"aud":     jwtCfg.Audience,
			"exp":     now.Add(time.Minute).Unix(),
		}, "some-other-secret")

		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+forged)
		rec := httptest.NewRecorder()

		middleware(okHandler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRoleMiddleware(t *testing.T) {
	jwtCfg := testJWTConfig()
	authenticate := Authenticate(slog.Default(), jwtCfg)
	requireAdmin := RequireRole(slog.Default(), types.RoleAdmin)

	handler := authenticate(requireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	tokenWithRoles := func(roles []string) string {
		now := time.Now()
		return signTestToken(t, jwt.MapClaims{
			"user_id": int64(42),
			"roles":   roles,
			"iss":     jwtCfg.Issuer,
			"aud":     jwtCfg.Audience,
			"exp":     now.Add(time.Minute).Unix(),
		}, jwtCfg.SecretKey)
	}

	t.Run("AdminAllowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/1", nil)
		req.Header.Set("Authorization", "Bearer "+tokenWithRoles([]string{types.RoleUser, types.RoleAdmin}))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("PlainUserForbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/1", nil)
		req.Header.Set("Authorization", "Bearer "+tokenWithRoles([]string{types.RoleUser}))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
