package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Togather-Foundation/eventbook/internal/api/pagination"
	"github.com/Togather-Foundation/eventbook/internal/domain/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestListUsers(t *testing.T) {
	svc := new(MockUserService)
	handler := NewUsersHandler(svc, "test")
	svc.On("ListUsers", mock.Anything, users.ListFilters{
		Role:   "participant",
		Query:  "ana",
		Limit:  10,
		Offset: 20,
	}).Return([]users.User{*sampleUser()}, int64(21), nil)

	w := httptest.NewRecorder()
	handler.List(w, asAdmin(httptest.NewRequest(http.MethodGet, "/users?role=participant&q=ana&limit=10&offset=20", nil)))

	require.Equal(t, http.StatusOK, w.Code)
	var page pagination.Page[UserResponse]
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
	assert.Equal(t, int64(21), page.Total)
	assert.Equal(t, 10, page.Limit)
	assert.Equal(t, 20, page.Offset)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "ana@example.com", page.Items[0].Email)
	svc.AssertExpectations(t)
}

func TestListUsers_InvalidLimit(t *testing.T) {
	svc := new(MockUserService)
	handler := NewUsersHandler(svc, "test")

	w := httptest.NewRecorder()
	handler.List(w, asAdmin(httptest.NewRequest(http.MethodGet, "/users?limit=500", nil)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "ListUsers", mock.Anything, mock.Anything)
}

func TestCreateUser(t *testing.T) {
	svc := new(MockUserService)
	handler := NewUsersHandler(svc, "test")
	created := sampleUser()
	created.Permissions = []string{"events:write"}
	svc.On("CreateUser", mock.Anything, mock.MatchedBy(func(p users.CreateUserParams) bool {
		return p.Email == "ana@example.com" && len(p.Permissions) == 1 && p.Permissions[0] == "events:write"
	})).Return(created, nil)

	w := httptest.NewRecorder()
	handler.Create(w, asAdmin(jsonRequest(http.MethodPost, "/users",
		`{"email":"ana@example.com","password":"correct horse","firstName":"Ana","permissions":["events:write"]}`)))

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/users/"+testUserID, w.Header().Get("Location"))
	assert.Contains(t, w.Body.String(), `"permissions":["events:write"]`)
	svc.AssertExpectations(t)
}

func TestGetUser(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		setup      func(*MockUserService)
		wantStatus int
	}{
		{
			name: "found",
			id:   testUserID,
			setup: func(m *MockUserService) {
				m.On("GetUser", mock.Anything, testUserID).Return(sampleUser(), nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "missing",
			id:   testUserID,
			setup: func(m *MockUserService) {
				m.On("GetUser", mock.Anything, testUserID).Return(nil, users.ErrUserNotFound)
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "malformed id",
			id:         "not-a-uuid",
			setup:      func(*MockUserService) {},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockUserService)
			tt.setup(svc)
			handler := NewUsersHandler(svc, "test")

			w := httptest.NewRecorder()
			handler.Get(w, asAdmin(withPath(httptest.NewRequest(http.MethodGet, "/users/"+tt.id, nil), "id", tt.id)))

			assert.Equal(t, tt.wantStatus, w.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestUpdateUser_PassesActor(t *testing.T) {
	svc := new(MockUserService)
	handler := NewUsersHandler(svc, "test")
	svc.On("UpdateUser", mock.Anything, testAdminID, mock.MatchedBy(func(p users.UpdateUserParams) bool {
		return p.Role != nil && *p.Role == "participant"
	}), testAdminID).Return(nil, users.ErrCannotDemoteSelf)

	req := jsonRequest(http.MethodPatch, "/users/"+testAdminID, `{"role":"participant"}`)
	w := httptest.NewRecorder()
	handler.Update(w, asAdmin(withPath(req, "id", testAdminID)))

	assert.Equal(t, http.StatusConflict, w.Code)
	svc.AssertExpectations(t)
}

func TestDeleteUser(t *testing.T) {
	svc := new(MockUserService)
	handler := NewUsersHandler(svc, "test")
	svc.On("DeleteUser", mock.Anything, testUserID, testAdminID).Return(nil)
	svc.On("DeleteUser", mock.Anything, testAdminID, testAdminID).Return(users.ErrCannotDeleteSelf)

	w := httptest.NewRecorder()
	handler.Delete(w, asAdmin(withPath(httptest.NewRequest(http.MethodDelete, "/users/"+testUserID, nil), "id", testUserID)))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	handler.Delete(w, asAdmin(withPath(httptest.NewRequest(http.MethodDelete, "/users/"+testAdminID, nil), "id", testAdminID)))
	assert.Equal(t, http.StatusConflict, w.Code)
}
