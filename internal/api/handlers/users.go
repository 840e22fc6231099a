package handlers

import (
	"net/http"

	"github.com/Togather-Foundation/eventbook/internal/api/middleware"
	"github.com/Togather-Foundation/eventbook/internal/api/pagination"
	"github.com/Togather-Foundation/eventbook/internal/domain/users"
)

// UsersHandler serves the admin user management endpoints under /users.
type UsersHandler struct {
	users UserService
	env   string
}

func NewUsersHandler(userService UserService, env string) *UsersHandler {
	return &UsersHandler{users: userService, env: env}
}

func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := pagination.Parse(r.URL.Query())
	if err != nil {
		writeMapped(w, r, err, h.env, mapUserError)
		return
	}

	items, total, err := h.users.ListUsers(r.Context(), users.ListFilters{
		Role:   queryValue(r, "role"),
		Query:  queryValue(r, "q"),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		writeMapped(w, r, err, h.env, mapUserError)
		return
	}

	writeJSON(w, http.StatusOK, pagination.NewPage(pagination.Map(items, newUserResponse), total, page))
}

func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req users.CreateUserParams
	if !decodeJSON(w, r, &req, h.env) {
		return
	}

	user, err := h.users.CreateUser(r.Context(), req)
	if err != nil {
		writeMapped(w, r, err, h.env, mapUserError)
		return
	}

	w.Header().Set("Location", "/users/"+user.ID)
	writeJSON(w, http.StatusCreated, newUserResponse(*user))
}

func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", users.ErrUserNotFound, h.env)
	if !ok {
		return
	}

	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		writeMapped(w, r, err, h.env, mapUserError)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(*user))
}

func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", users.ErrUserNotFound, h.env)
	if !ok {
		return
	}
	var req users.UpdateUserParams
	if !decodeJSON(w, r, &req, h.env) {
		return
	}

	user, err := h.users.UpdateUser(r.Context(), id, req, middleware.UserID(r))
	if err != nil {
		writeMapped(w, r, err, h.env, mapUserError)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(*user))
}

func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", users.ErrUserNotFound, h.env)
	if !ok {
		return
	}

	if err := h.users.DeleteUser(r.Context(), id, middleware.UserID(r)); err != nil {
		writeMapped(w, r, err, h.env, mapUserError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
