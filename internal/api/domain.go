package api

// CallbackRequest is the payload the OAuth exchange hands over after it has
// completed the authorization-code dance: the raw provider profile. The
// provider name arrives in the URL.
type CallbackRequest struct {
	Profile map[string]interface{} `json:"profile"` // Raw provider payload, shape varies per provider.
}

// TokenResponse represents the successful JSON response after authentication
// or refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token" example:"eyJhbGciOiJI..."` // Short-lived JWT access token.
	RefreshToken string `json:"refresh_token" example:"9a8b7c..."`      // Rotating long-lived refresh token.
}

// RefreshTokenRequest represents the expected JSON body for refreshing tokens.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required" example:"4f1trt8s..."`
}

// LogoutRequest represents the expected JSON body for logout.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"` // Refresh token to invalidate.
}

// CreateGroupRequest represents the expected JSON body for creating a group.
type CreateGroupRequest struct {
	Name string `json:"name" binding:"required" example:"engineering"`
}

// Response represents a generic API response for success or error messages.
type Response struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message,omitempty" example:"Operation successful"`
	Error   string `json:"error,omitempty" example:"Resource not found"`
}
