package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/markbates/goth"

	"github.com/rmendes/go-sso-identity/internal/api"
	"github.com/rmendes/go-sso-identity/internal/api/identity"
	"github.com/rmendes/go-sso-identity/internal/types"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	ProviderCallback(w http.ResponseWriter, r *http.Request)
	RefreshSession(w http.ResponseWriter, r *http.Request)
	Logout(w http.ResponseWriter, r *http.Request)
	LogoutAll(w http.ResponseWriter, r *http.Request)
	Me(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	authService     AuthService
	identityService identity.Service
	logger          *slog.Logger
}

// NewHandlerImpl creates a new auth HandlerImpl instance.
func NewHandlerImpl(authService AuthService, identityService identity.Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		authService:     authService,
		identityService: identityService,
		logger:          logger,
	}
}

func stringField(profile map[string]interface{}, key string) string {
	if v, ok := profile[key].(string); ok {
		return v
	}
	return ""
}

// gothUserFromProfile maps the raw callback payload onto the provider user
// shape the service consumes. Unknown keys stay reachable through RawData.
func gothUserFromProfile(profile map[string]interface{}) goth.User {
	return goth.User{
		Email:       stringField(profile, "email"),
		Name:        stringField(profile, "name"),
		NickName:    stringField(profile, "login"),
		AvatarURL:   stringField(profile, "avatar_url"),
		AccessToken: stringField(profile, "access_token"),
		RawData:     profile,
	}
}

// ProviderCallback godoc
// @Summary      Provider Callback
// @Description  Exchanges a completed OAuth provider profile for a local session.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        provider path string true "Provider name (google, github)"
// @Param        callback body api.CallbackRequest true "Raw provider profile"
// @Success      200 {object} api.TokenResponse "Session Tokens"
// @Failure      400 {object} api.Response "Invalid Input"
// @Failure      502 {object} api.Response "Provider Unavailable"
// @Failure      500 {object} api.Response "Internal Server Error"
// @Router       /auth/{provider}/callback [post]
func (h *HandlerImpl) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "ProviderCallback"))

	provider := chi.URLParam(r, "provider")

	var req api.CallbackRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if req.Profile == nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Provider profile is required")
		return
	}

	user, err := h.authService.GetOrCreateUserFromProvider(ctx, provider, gothUserFromProfile(req.Profile))
	if err != nil {
		l.ErrorContext(ctx, "Provider login failed", slog.Any("error", err))
		switch {
		case errors.Is(err, types.ErrMalformedInput):
			api.ErrorResponse(w, r, http.StatusBadRequest, "Could not resolve an identity from the provider profile")
		case errors.Is(err, types.ErrProviderUnavailable):
			api.ErrorResponse(w, r, http.StatusBadGateway, "Identity provider is unavailable")
		default:
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Login failed")
		}
		return
	}

	tokens, err := h.authService.GenerateTokens(ctx, user)
	if err != nil {
		l.ErrorContext(ctx, "Failed to generate tokens", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Login failed")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, api.TokenResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	})
}

// RefreshSession godoc
// @Summary      Refresh Session
// @Description  Redeems a refresh token for a new access/refresh pair.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        refresh body api.RefreshTokenRequest true "Refresh token"
// @Success      200 {object} api.TokenResponse "Session Tokens"
// @Failure      400 {object} api.Response "Invalid Input"
// @Failure      401 {object} api.Response "Invalid or Expired Token"
// @Failure      500 {object} api.Response "Internal Server Error"
// @Router       /auth/refresh [post]
func (h *HandlerImpl) RefreshSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "RefreshSession"))

	var req api.RefreshTokenRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if req.RefreshToken == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Refresh token is required")
		return
	}

	tokens, err := h.authService.RefreshSession(ctx, req.RefreshToken)
	if err != nil {
		l.WarnContext(ctx, "Session refresh failed", slog.Any("error", err))
		if errors.Is(err, types.ErrInvalidCredential) || errors.Is(err, types.ErrExpiredCredential) {
			// Same response for unknown and expired: no oracle for token probing.
			api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid refresh token")
		} else {
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Session refresh failed")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, api.TokenResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	})
}

// Logout godoc
// @Summary      Logout
// @Description  Revokes a refresh token, ending that session.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        logout body api.LogoutRequest true "Refresh token to revoke"
// @Success      200 {object} api.Response "Logged Out"
// @Failure      400 {object} api.Response "Invalid Input"
// @Failure      500 {object} api.Response "Internal Server Error"
// @Router       /auth/logout [post]
func (h *HandlerImpl) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "Logout"))

	var req api.LogoutRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.authService.Logout(ctx, req.RefreshToken); err != nil {
		if !errors.Is(err, types.ErrInvalidCredential) {
			l.ErrorContext(ctx, "Logout failed", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Logout failed")
			return
		}
		// Revoking an already revoked token is indistinguishable from success.
	}

	api.WriteJSONResponse(w, r, http.StatusOK, api.Response{
		Success: true,
		Message: "Logged out successfully",
	})
}

// LogoutAll godoc
// @Summary      Logout Everywhere
// @Description  Revokes every refresh token the authenticated user holds.
// @Tags         Auth
// @Produce      json
// @Success      200 {object} api.Response "Logged Out"
// @Failure      401 {object} api.Response "Unauthorized"
// @Failure      500 {object} api.Response "Internal Server Error"
// @Security     BearerAuth
// @Router       /auth/logout-all [post]
func (h *HandlerImpl) LogoutAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "LogoutAll"))

	userID, ok := GetUserIDFromContext(ctx)
	if !ok {
		l.ErrorContext(ctx, "User ID not found in context")
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.authService.LogoutAll(ctx, userID); err != nil {
		l.ErrorContext(ctx, "Failed to revoke user sessions", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Logout failed")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, api.Response{
		Success: true,
		Message: "All sessions revoked",
	})
}

// Me godoc
// @Summary      Current User
// @Description  Returns the authenticated user's record.
// @Tags         Auth
// @Produce      json
// @Success      200 {object} types.User "User"
// @Failure      401 {object} api.Response "Unauthorized"
// @Failure      500 {object} api.Response "Internal Server Error"
// @Security     BearerAuth
// @Router       /auth/me [get]
func (h *HandlerImpl) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "Me"))

	userID, ok := GetUserIDFromContext(ctx)
	if !ok {
		l.ErrorContext(ctx, "User ID not found in context")
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	user, err := h.identityService.GetUser(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to load current user", slog.Any("error", err))
		if errors.Is(err, types.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "User not found")
		} else {
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to retrieve user")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, user)
}
