package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rmendes/go-sso-identity/internal/types"
)

// Ensure implementation satisfies the interface
var _ Service = (*ServiceImpl)(nil)

// Service defines the business logic contract for identity operations.
type Service interface {
	// Users
	GetUser(ctx context.Context, id int64) (*types.User, error)
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)
	DeleteUser(ctx context.Context, id int64) error

	// Groups
	CreateGroup(ctx context.Context, name string) (*types.Group, error)
	GetGroup(ctx context.Context, id int64) (*types.Group, error)
	GetGroupByName(ctx context.Context, name string) (*types.Group, error)
	DeleteGroup(ctx context.Context, id int64) error

	// Membership
	AddUserToGroup(ctx context.Context, userID, groupID int64) error
	RemoveUserFromGroup(ctx context.Context, userID, groupID int64) error
	GetUserGroups(ctx context.Context, userID int64) ([]types.Group, error)
	GetGroupUsers(ctx context.Context, groupID int64) ([]*types.User, error)
}

// ServiceImpl provides the implementation for Service.
type ServiceImpl struct {
	logger *slog.Logger
	repo   *CachedRepo
}

// NewService creates a new identity service instance.
func NewService(repo *CachedRepo, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger: logger,
		repo:   repo,
	}
}

// GetUser retrieves a user record by its id.
func (s *ServiceImpl) GetUser(ctx context.Context, id int64) (*types.User, error) {
	l := s.logger.With(slog.String("method", "GetUser"), slog.Int64("userID", id))
	l.DebugContext(ctx, "Fetching user")

	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		l.ErrorContext(ctx, "Failed to fetch user", slog.Any("error", err))
		return nil, fmt.Errorf("error fetching user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user record by its unique username.
func (s *ServiceImpl) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	l := s.logger.With(slog.String("method", "GetUserByUsername"), slog.String("username", username))
	l.DebugContext(ctx, "Fetching user by username")

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		l.ErrorContext(ctx, "Failed to fetch user by username", slog.Any("error", err))
		return nil, fmt.Errorf("error fetching user by username: %w", err)
	}
	return user, nil
}

// DeleteUser removes a user and everything hanging off it.
func (s *ServiceImpl) DeleteUser(ctx context.Context, id int64) error {
	ctx, span := otel.Tracer("IdentityService").Start(ctx, "DeleteUser", trace.WithAttributes(
		attribute.Int64("user.id", id),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "DeleteUser"), slog.Int64("userID", id))
	l.DebugContext(ctx, "Deleting user")

	err := s.repo.DeleteUser(ctx, id)
	if err != nil {
		l.ErrorContext(ctx, "Failed to delete user", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to delete user")
		return fmt.Errorf("error deleting user: %w", err)
	}

	l.InfoContext(ctx, "User deleted successfully")
	span.SetStatus(codes.Ok, "User deleted successfully")
	return nil
}

// CreateGroup creates a new named group.
func (s *ServiceImpl) CreateGroup(ctx context.Context, name string) (*types.Group, error) {
	l := s.logger.With(slog.String("method", "CreateGroup"), slog.String("groupName", name))
	l.DebugContext(ctx, "Creating group")

	name = strings.TrimSpace(name)
	if name == "" {
		l.WarnContext(ctx, "Rejected empty group name")
		return nil, fmt.Errorf("group name is required: %w", types.ErrMalformedInput)
	}

	group, err := s.repo.CreateGroup(ctx, name)
	if err != nil {
		l.ErrorContext(ctx, "Failed to create group", slog.Any("error", err))
		return nil, fmt.Errorf("error creating group: %w", err)
	}

	l.InfoContext(ctx, "Group created successfully", slog.Int64("groupID", group.ID))
	return group, nil
}

// GetGroup retrieves a group record by its id.
func (s *ServiceImpl) GetGroup(ctx context.Context, id int64) (*types.Group, error) {
	l := s.logger.With(slog.String("method", "GetGroup"), slog.Int64("groupID", id))
	l.DebugContext(ctx, "Fetching group")

	group, err := s.repo.GetGroupByID(ctx, id)
	if err != nil {
		l.ErrorContext(ctx, "Failed to fetch group", slog.Any("error", err))
		return nil, fmt.Errorf("error fetching group: %w", err)
	}
	return group, nil
}

// GetGroupByName retrieves a group record by its unique name.
func (s *ServiceImpl) GetGroupByName(ctx context.Context, name string) (*types.Group, error) {
	l := s.logger.With(slog.String("method", "GetGroupByName"), slog.String("groupName", name))
	l.DebugContext(ctx, "Fetching group by name")

	group, err := s.repo.GetGroupByName(ctx, name)
	if err != nil {
		l.ErrorContext(ctx, "Failed to fetch group by name", slog.Any("error", err))
		return nil, fmt.Errorf("error fetching group by name: %w", err)
	}
	return group, nil
}

// DeleteGroup removes a group and its membership edges.
func (s *ServiceImpl) DeleteGroup(ctx context.Context, id int64) error {
	ctx, span := otel.Tracer("IdentityService").Start(ctx, "DeleteGroup", trace.WithAttributes(
		attribute.Int64("group.id", id),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "DeleteGroup"), slog.Int64("groupID", id))
	l.DebugContext(ctx, "Deleting group")

	err := s.repo.DeleteGroup(ctx, id)
	if err != nil {
		l.ErrorContext(ctx, "Failed to delete group", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to delete group")
		return fmt.Errorf("error deleting group: %w", err)
	}

	l.InfoContext(ctx, "Group deleted successfully")
	span.SetStatus(codes.Ok, "Group deleted successfully")
	return nil
}

// AddUserToGroup adds a user to a group. Adding twice is a no-op.
func (s *ServiceImpl) AddUserToGroup(ctx context.Context, userID, groupID int64) error {
	l := s.logger.With(slog.String("method", "AddUserToGroup"), slog.Int64("userID", userID), slog.Int64("groupID", groupID))
	l.DebugContext(ctx, "Adding user to group")

	err := s.repo.AddUserToGroup(ctx, userID, groupID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to add user to group", slog.Any("error", err))
		return fmt.Errorf("error adding user to group: %w", err)
	}

	l.InfoContext(ctx, "User added to group successfully")
	return nil
}

// RemoveUserFromGroup removes a user from a group.
func (s *ServiceImpl) RemoveUserFromGroup(ctx context.Context, userID, groupID int64) error {
	l := s.logger.With(slog.String("method", "RemoveUserFromGroup"), slog.Int64("userID", userID), slog.Int64("groupID", groupID))
	l.DebugContext(ctx, "Removing user from group")

	err := s.repo.RemoveUserFromGroup(ctx, userID, groupID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to remove user from group", slog.Any("error", err))
		return fmt.Errorf("error removing user from group: %w", err)
	}

	l.InfoContext(ctx, "User removed from group successfully")
	return nil
}

// GetUserGroups lists the groups a user belongs to.
func (s *ServiceImpl) GetUserGroups(ctx context.Context, userID int64) ([]types.Group, error) {
	l := s.logger.With(slog.String("method", "GetUserGroups"), slog.Int64("userID", userID))
	l.DebugContext(ctx, "Fetching user groups")

	groups, err := s.repo.GetUserGroups(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to fetch user groups", slog.Any("error", err))
		return nil, fmt.Errorf("error fetching user groups: %w", err)
	}

	l.DebugContext(ctx, "User groups fetched", slog.Int("count", len(groups)))
	return groups, nil
}

// GetGroupUsers lists the members of a group.
func (s *ServiceImpl) GetGroupUsers(ctx context.Context, groupID int64) ([]*types.User, error) {
	l := s.logger.With(slog.String("method", "GetGroupUsers"), slog.Int64("groupID", groupID))
	l.DebugContext(ctx, "Fetching group members")

	users, err := s.repo.GetGroupUsers(ctx, groupID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to fetch group members", slog.Any("error", err))
		return nil, fmt.Errorf("error fetching group members: %w", err)
	}

	l.DebugContext(ctx, "Group members fetched", slog.Int("count", len(users)))
	return users, nil
}
