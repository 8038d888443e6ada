package types

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UnpersistedID marks a user draft that has not been written to the store
// yet. Store-assigned ids are positive, so the sentinel can never collide.
const UnpersistedID int64 = -1

// Seed roles provisioned by the schema migrations.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// DefaultMemberRole is the membership role recorded when a user joins a group.
const DefaultMemberRole = "member"

// User represents the canonical identity record in the domain.
// A user is unique per (email, auth_provider) pair, so the same email may
// exist once per identity provider.
type User struct {
	ID                int64      `json:"id" example:"42"`                                    // Store-assigned identifier, immutable.
	Username          *string    `json:"username,omitempty" example:"adalovelace"`           // Optional unique username.
	Email             string     `json:"email" example:"ada@example.com"`                    // Email resolved from the provider payload.
	FullName          string     `json:"full_name" example:"Ada Lovelace"`                   // Display name.
	Bio               *string    `json:"bio,omitempty"`                                      // Background/bio text.
	ProfilePictureURL *string    `json:"profile_picture_url,omitempty"`                      // Avatar URL, if the provider supplied one.
	PhoneNumber       *string    `json:"phone_number,omitempty"`                             //
	Status            string     `json:"status" example:"offline"`                           // Free-text presence indicator.
	IsActive          bool       `json:"is_active"`                                          //
	IsVerified        bool       `json:"is_verified"`                                        // Whether the provider vouched for the email.
	AuthProvider      string     `json:"auth_provider" example:"github"`                     // Which identity provider created this record.
	PasswordHash      *string    `json:"-"`                                                  // Absent for provider-only identities.
	LastSeen          time.Time  `json:"last_seen"`                                          //
	CreatedAt         time.Time  `json:"created_at"`                                         //
	UpdatedAt         time.Time  `json:"updated_at"`                                         //
}

// UserCreateParams carries the fields needed to persist a new user. The
// store assigns the id, status, activity flags and timestamps.
type UserCreateParams struct {
	Username          *string
	Email             string
	FullName          string
	Bio               *string
	ProfilePictureURL *string
	PhoneNumber       *string
	IsVerified        bool
	AuthProvider      string
}

// Group is an organizational grouping of users.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name" example:"engineering"`
}

// RefreshToken is the stored server-side half of a session: an opaque
// single-use credential redeemable for a new access/refresh pair.
type RefreshToken struct {
	Token     string    `json:"-"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Claims are the access-token claims. Callers verify signature and expiry
// and trust the embedded claims without a store round trip.
type Claims struct {
	UserID      int64    `json:"user_id"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
	IsVerified  bool     `json:"is_verified"`
	jwt.RegisteredClaims
}
