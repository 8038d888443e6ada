package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rmendes/go-sso-identity/internal/types"
)

// MockService is a mock implementation of the Service interface
type MockService struct {
	mock.Mock
}

func (m *MockService) GetUser(ctx context.Context, id int64) (*types.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func (m *MockService) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func (m *MockService) DeleteUser(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockService) CreateGroup(ctx context.Context, name string) (*types.Group, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Group), args.Error(1)
}

func (m *MockService) GetGroup(ctx context.Context, id int64) (*types.Group, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Group), args.Error(1)
}

func (m *MockService) GetGroupByName(ctx context.Context, name string) (*types.Group, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Group), args.Error(1)
}

func (m *MockService) DeleteGroup(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockService) AddUserToGroup(ctx context.Context, userID, groupID int64) error {
	args := m.Called(ctx, userID, groupID)
	return args.Error(0)
}

func (m *MockService) RemoveUserFromGroup(ctx context.Context, userID, groupID int64) error {
	args := m.Called(ctx, userID, groupID)
	return args.Error(0)
}

func (m *MockService) GetUserGroups(ctx context.Context, userID int64) ([]types.Group, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Group), args.Error(1)
}

func (m *MockService) GetGroupUsers(ctx context.Context, groupID int64) ([]*types.User, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.User), args.Error(1)
}

func newTestRouter(service Service) chi.Router {
	h := NewHandlerImpl(service, slog.Default())
	r := chi.NewRouter()
	r.Get("/users/{userID}", h.GetUser)
	r.Delete("/users/{userID}", h.DeleteUser)
	r.Get("/users/{userID}/groups", h.GetUserGroups)
	r.Post("/groups", h.CreateGroup)
	r.Get("/groups/{groupID}", h.GetGroup)
	r.Delete("/groups/{groupID}", h.DeleteGroup)
	r.Get("/groups/{groupID}/users", h.GetGroupUsers)
	r.Put("/groups/{groupID}/users/{userID}", h.AddUserToGroup)
	r.Delete("/groups/{groupID}/users/{userID}", h.RemoveUserFromGroup)
	return r
}

func TestGetUserHandler(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		service := new(MockService)
		service.On("GetUser", mock.Anything, int64(42)).
			Return(&types.User{ID: 42, Email: "ada@example.com"}, nil)

		req := httptest.NewRequest(http.MethodGet, "/users/42", nil)
		rec := httptest.NewRecorder()
		newTestRouter(service).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var user types.User
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
		assert.Equal(t, int64(42), user.ID)
	})

	t.Run("NotFound", func(t *testing.T) {
		service := new(MockService)
		service.On("GetUser", mock.Anything, int64(99)).Return(nil, types.ErrNotFound)

		req := httptest.NewRequest(http.MethodGet, "/users/99", nil)
		rec := httptest.NewRecorder()
		newTestRouter(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("NonNumericID", func(t *testing.T) {
		service := new(MockService)

		req := httptest.NewRequest(http.MethodGet, "/users/ada", nil)
		rec := httptest.NewRecorder()
		newTestRouter(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		service.AssertNotCalled(t, "GetUser", mock.Anything, mock.Anything)
	})
}

func TestCreateGroupHandler(t *testing.T) {
	t.Run("Created", func(t *testing.T) {
		service := new(MockService)
		service.On("CreateGroup", mock.Anything, "engineering").
			Return(&types.Group{ID: 5, Name: "engineering"}, nil)

		req := httptest.NewRequest(http.MethodPost, "/groups", strings.NewReader(`{"name":"engineering"}`))
		rec := httptest.NewRecorder()
		newTestRouter(service).ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)
		var group types.Group
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &group))
		assert.Equal(t, int64(5), group.ID)
	})

	t.Run("DuplicateName", func(t *testing.T) {
		service := new(MockService)
		service.On("CreateGroup", mock.Anything, "engineering").Return(nil, types.ErrConflict)

		req := httptest.NewRequest(http.MethodPost, "/groups", strings.NewReader(`{"name":"engineering"}`))
		rec := httptest.NewRecorder()
		newTestRouter(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("BadBody", func(t *testing.T) {
		service := new(MockService)

		req := httptest.NewRequest(http.MethodPost, "/groups", strings.NewReader(`{`))
		rec := httptest.NewRecorder()
		newTestRouter(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMembershipHandlers(t *testing.T) {
	t.Run("AddMember", func(t *testing.T) {
		service := new(MockService)
		service.On("AddUserToGroup", mock.Anything, int64(42), int64(5)).Return(nil)

		req := httptest.NewRequest(http.MethodPut, "/groups/5/users/42", nil)
		rec := httptest.NewRecorder()
		newTestRouter(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		service.AssertExpectations(t)
	})

	t.Run("RemoveMissingMember", func(t *testing.T) {
		service := new(MockService)
		service.On("RemoveUserFromGroup", mock.Anything, int64(42), int64(5)).Return(types.ErrNotFound)

		req := httptest.NewRequest(http.MethodDelete, "/groups/5/users/42", nil)
		rec := httptest.NewRecorder()
		newTestRouter(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("ListGroupMembers", func(t *testing.T) {
		service := new(MockService)
		service.On("GetGroupUsers", mock.Anything, int64(5)).
			Return([]*types.User{{ID: 42}, {ID: 43}}, nil)

		req := httptest.NewRequest(http.MethodGet, "/groups/5/users", nil)
		rec := httptest.NewRecorder()
		newTestRouter(service).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var users []types.User
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
		assert.Len(t, users, 2)
	})

	t.Run("ListUserGroups", func(t *testing.T) {
		service := new(MockService)
		service.On("GetUserGroups", mock.Anything, int64(42)).
			Return([]types.Group{{ID: 5, Name: "engineering"}}, nil)

		req := httptest.NewRequest(http.MethodGet, "/users/42/groups", nil)
		rec := httptest.NewRecorder()
		newTestRouter(service).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var groups []types.Group
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
		require.Len(t, groups, 1)
		assert.Equal(t, "engineering", groups[0].Name)
	})
}
