package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rmendes/go-sso-identity/internal/api"
	"github.com/rmendes/go-sso-identity/internal/types"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	GetUser(w http.ResponseWriter, r *http.Request)
	DeleteUser(w http.ResponseWriter, r *http.Request)
	GetUserGroups(w http.ResponseWriter, r *http.Request)
	CreateGroup(w http.ResponseWriter, r *http.Request)
	GetGroup(w http.ResponseWriter, r *http.Request)
	DeleteGroup(w http.ResponseWriter, r *http.Request)
	GetGroupUsers(w http.ResponseWriter, r *http.Request)
	AddUserToGroup(w http.ResponseWriter, r *http.Request)
	RemoveUserFromGroup(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	identityService Service
	logger          *slog.Logger
}

// NewHandlerImpl creates a new identity HandlerImpl instance.
func NewHandlerImpl(identityService Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		identityService: identityService,
		logger:          logger,
	}
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

// GetUser godoc
// @Summary      Get User
// @Description  Retrieves a user record by id.
// @Tags         Identity
// @Produce      json
// @Success      200 {object} types.User "User"
// @Failure      400 {object} api.Response "Invalid ID"
// @Failure      404 {object} api.Response "User Not Found"
// @Failure      500 {object} api.Response "Internal Server Error"
// @Security     BearerAuth
// @Router       /users/{userID} [get]
func (h *HandlerImpl) GetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "GetUser"))

	userID, err := parseIDParam(r, "userID")
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	user, err := h.identityService.GetUser(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to get user", slog.Any("error", err))
		if errors.Is(err, types.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "User not found")
		} else {
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to retrieve user")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, user)
}

// DeleteUser godoc
// @Summary      Delete User
// @Description  Removes a user along with roles, memberships and refresh tokens.
// @Tags         Identity
// @Produce      json
// @Success      200 {object} api.Response "User Deleted"
// @Failure      404 {object} api.Response "User Not Found"
// @Failure      500 {object} api.Response "Internal Server Error"
// @Security     BearerAuth
// @Router       /users/{userID} [delete]
func (h *HandlerImpl) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "DeleteUser"))

	userID, err := parseIDParam(r, "userID")
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	if err := h.identityService.DeleteUser(ctx, userID); err != nil {
		l.ErrorContext(ctx, "Failed to delete user", slog.Any("error", err))
		if errors.Is(err, types.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "User not found")
		} else {
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to delete user")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, api.Response{
		Success: true,
		Message: "User deleted successfully",
	})
}

// GetUserGroups godoc
// @Summary      Get User Groups
// @Description  Lists the groups a user belongs to.
// @Tags         Identity
// @Produce      json
// @Success      200 {array} types.Group "Groups"
// @Failure      500 {object} api.Response "Internal Server Error"
// @Security     BearerAuth
// @Router       /users/{userID}/groups [get]
func (h *HandlerImpl) GetUserGroups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "GetUserGroups"))

	userID, err := parseIDParam(r, "userID")
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	groups, err := h.identityService.GetUserGroups(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to get user groups", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to retrieve user groups")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, groups)
}

// CreateGroup godoc
// @Summary      Create Group
// @Description  Creates a new named group.
// @Tags         Identity
// @Accept       json
// @Produce      json
// @Param        group body api.CreateGroupRequest true "Group Parameters"
// @Success      201 {object} types.Group "Group Created"
// @Failure      400 {object} api.Response "Invalid Input"
// @Failure      409 {object} api.Response "Name Already Taken"
// @Failure      500 {object} api.Response "Internal Server Error"
// @Security     BearerAuth
// @Router       /groups [post]
func (h *HandlerImpl) CreateGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "CreateGroup"))

	var req api.CreateGroupRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode request", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	group, err := h.identityService.CreateGroup(ctx, req.Name)
	if err != nil {
		l.ErrorContext(ctx, "Failed to create group", slog.Any("error", err))
		switch {
		case errors.Is(err, types.ErrConflict):
			api.ErrorResponse(w, r, http.StatusConflict, "Group name already taken")
		case errors.Is(err, types.ErrMalformedInput):
			api.ErrorResponse(w, r, http.StatusBadRequest, "Group name is required")
		default:
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to create group")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusCreated, group)
}

// GetGroup godoc
// @Summary      Get Group
// @Description  Retrieves a group record by id.
// @Tags         Identity
// @Produce      json
// @Success      200 {object} types.Group "Group"
// @Failure      404 {object} api.Response "Group Not Found"
// @Failure      500 {object} api.Response "Internal Server Error"
// @Security     BearerAuth
// @Router       /groups/{groupID} [get]
func (h *HandlerImpl) GetGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "GetGroup"))

	groupID, err := parseIDParam(r, "groupID")
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid group ID format")
		return
	}

	group, err := h.identityService.GetGroup(ctx, groupID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to get group", slog.Any("error", err))
		if errors.Is(err, types.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "Group not found")
		} else {
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to retrieve group")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, group)
}

// DeleteGroup godoc
// @Summary      Delete Group
// @Description  Removes a group and its memberships.
// @Tags         Identity
// @Produce      json
// @Success      200 {object} api.Response "Group Deleted"
// @Failure      404 {object} api.Response "Group Not Found"
// @Failure      500 {object} api.Response "Internal Server Error"
// @Security     BearerAuth
// @Router       /groups/{groupID} [delete]
func (h *HandlerImpl) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "DeleteGroup"))

	groupID, err := parseIDParam(r, "groupID")
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid group ID format")
		return
	}

	if err := h.identityService.DeleteGroup(ctx, groupID); err != nil {
		l.ErrorContext(ctx, "Failed to delete group", slog.Any("error", err))
		if errors.Is(err, types.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "Group not found")
		} else {
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to delete group")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, api.Response{
		Success: true,
		Message: "Group deleted successfully",
	})
}

// GetGroupUsers godoc
// @Summary      Get Group Members
// @Description  Lists the users belonging to a group.
// @Tags         Identity
// @Produce      json
// @Success      200 {array} types.User "Users"
// @Failure      500 {object} api.Response "Internal Server Error"
// @Security     BearerAuth
// @Router       /groups/{groupID}/users [get]
func (h *HandlerImpl) GetGroupUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "GetGroupUsers"))

	groupID, err := parseIDParam(r, "groupID")
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid group ID format")
		return
	}

	users, err := h.identityService.GetGroupUsers(ctx, groupID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to get group members", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to retrieve group members")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, users)
}

// AddUserToGroup godoc
// @Summary      Add Group Member
// @Description  Adds a user to a group. Adding an existing member is a no-op.
// @Tags         Identity
// @Produce      json
// @Success      200 {object} api.Response "Member Added"
// @Failure      404 {object} api.Response "User or Group Not Found"
// @Failure      500 {object} api.Response "Internal Server Error"
// @Security     BearerAuth
// @Router       /groups/{groupID}/users/{userID} [put]
func (h *HandlerImpl) AddUserToGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "AddUserToGroup"))

	groupID, err := parseIDParam(r, "groupID")
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid group ID format")
		return
	}
	userID, err := parseIDParam(r, "userID")
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	if err := h.identityService.AddUserToGroup(ctx, userID, groupID); err != nil {
		l.ErrorContext(ctx, "Failed to add user to group", slog.Any("error", err))
		if errors.Is(err, types.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "User or group not found")
		} else {
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to add user to group")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, api.Response{
		Success: true,
		Message: "User added to group",
	})
}

// RemoveUserFromGroup godoc
// @Summary      Remove Group Member
// @Description  Removes a user from a group.
// @Tags         Identity
// @Produce      json
// @Success      200 {object} api.Response "Member Removed"
// @Failure      404 {object} api.Response "Membership Not Found"
// @Failure      500 {object} api.Response "Internal Server Error"
// @Security     BearerAuth
// @Router       /groups/{groupID}/users/{userID} [delete]
func (h *HandlerImpl) RemoveUserFromGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "RemoveUserFromGroup"))

	groupID, err := parseIDParam(r, "groupID")
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid group ID format")
		return
	}
	userID, err := parseIDParam(r, "userID")
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	if err := h.identityService.RemoveUserFromGroup(ctx, userID, groupID); err != nil {
		l.ErrorContext(ctx, "Failed to remove user from group", slog.Any("error", err))
		if errors.Is(err, types.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, "Membership not found")
		} else {
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to remove user from group")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, api.Response{
		Success: true,
		Message: "User removed from group",
	})
}
