package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/api/middleware"
	"github.com/Togather-Foundation/eventbook/internal/api/problem"
	"github.com/Togather-Foundation/eventbook/internal/auth"
	"github.com/Togather-Foundation/eventbook/internal/domain/users"
	"github.com/rs/zerolog"
)

// UserService is the account API the auth and users handlers depend on.
type UserService interface {
	Register(ctx context.Context, params users.RegisterParams) (*users.User, error)
	Authenticate(ctx context.Context, email, password string) (*users.User, error)
	GetUser(ctx context.Context, id string) (*users.User, error)
	ListUsers(ctx context.Context, filters users.ListFilters) ([]users.User, int64, error)
	CreateUser(ctx context.Context, params users.CreateUserParams) (*users.User, error)
	UpdateProfile(ctx context.Context, id string, params users.ProfileParams) (*users.User, error)
	UpdateUser(ctx context.Context, id string, params users.UpdateUserParams, actorID string) (*users.User, error)
	ChangePassword(ctx context.Context, id, currentPassword, newPassword string) error
	DeleteUser(ctx context.Context, id, actorID string) error
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, id string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	Generate(p auth.Principal) (string, error)
	Expiry() time.Duration
}

// AuthHandler serves /auth.
type AuthHandler struct {
	users  UserService
	tokens TokenIssuer
	env    string
}

func NewAuthHandler(userService UserService, tokens TokenIssuer, env string) *AuthHandler {
	return &AuthHandler{users: userService, tokens: tokens, env: env}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"tokenType"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      UserResponse `json:"user"`
}

type acceptedResponse struct {
	Status string `json:"status"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req users.RegisterParams
	if !decodeJSON(w, r, &req, h.env) {
		return
	}

	user, err := h.users.Register(r.Context(), req)
	if err != nil {
		writeMapped(w, r, err, h.env, mapUserError)
		return
	}

	h.respondWithToken(w, r, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req, h.env) {
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeMapped(w, r, err, h.env, mapUserError)
		return
	}

	zerolog.Ctx(r.Context()).Info().Str("user_id", user.ID).Msg("user logged in")
	h.respondWithToken(w, r, http.StatusOK, user)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, r *http.Request, status int, user *users.User) {
	token, err := h.tokens.Generate(auth.Principal{
		UserID:      user.ID,
		Email:       user.Email,
		Role:        user.Role,
		Permissions: user.Permissions,
	})
	if err != nil {
		problem.ServerError(w, r, err, h.env)
		return
	}

	writeJSON(w, status, TokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: time.Now().Add(h.tokens.Expiry()).UTC(),
		User:      newUserResponse(*user),
	})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUser(r.Context(), middleware.UserID(r))
	if err != nil {
		writeMapped(w, r, err, h.env, mapUserError)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(*user))
}

func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req users.ProfileParams
	if !decodeJSON(w, r, &req, h.env) {
		return
	}

	user, err := h.users.UpdateProfile(r.Context(), middleware.UserID(r), req)
	if err != nil {
		writeMapped(w, r, err, h.env, mapUserError)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(*user))
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req, h.env) {
		return
	}

	if err := h.users.ChangePassword(r.Context(), middleware.UserID(r), req.CurrentPassword, req.NewPassword); err != nil {
		writeMapped(w, r, err, h.env, mapUserError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req, h.env) {
		return
	}

	if err := h.users.VerifyEmail(r.Context(), req.Token); err != nil {
		writeMapped(w, r, err, h.env, mapUserError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	if err := h.users.ResendVerification(r.Context(), middleware.UserID(r)); err != nil {
		writeMapped(w, r, err, h.env, mapUserError)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
}

// ForgotPassword always answers 202 so callers cannot probe which emails have
// accounts. Failures are logged.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeJSON(w, r, &req, h.env) {
		return
	}

	if err := h.users.RequestPasswordReset(r.Context(), req.Email); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("password reset request failed")
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req, h.env) {
		return
	}

	if err := h.users.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeMapped(w, r, err, h.env, mapUserError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
