package users

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/auth"
	"github.com/Togather-Foundation/eventbook/internal/sanitize"
	"github.com/Togather-Foundation/eventbook/internal/validation"
	"github.com/rs/zerolog"
)

const (
	VerificationTokenExpiry = 48 * time.Hour
	ResetTokenExpiry        = time.Hour

	DefaultListLimit = 50
	MaxListLimit     = 200
)

// dummyHash keeps Authenticate's timing similar for unknown emails.
const dummyHash = "$2a$12$C6UzMDM.H6dfI/f/IKcEeO1xTq2JHd6Zk0rXjCzlV2yq9v2Qk4B8G"

type RegisterParams struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"max=100"`
}

type CreateUserParams struct {
	Email       string   `json:"email" validate:"required,email,max=254"`
	Password    string   `json:"password" validate:"required,min=8,max=72"`
	FirstName   string   `json:"firstName" validate:"required,max=100"`
	LastName    string   `json:"lastName" validate:"max=100"`
	Role        string   `json:"role" validate:"omitempty,oneof=admin participant"`
	Permissions []string `json:"permissions" validate:"dive,oneof=events:write bookings:manage users:manage audit:read"`
}

type ProfileParams struct {
	FirstName *string `json:"firstName" validate:"omitempty,min=1,max=100"`
	LastName  *string `json:"lastName" validate:"omitempty,max=100"`
}

type UpdateUserParams struct {
	FirstName   *string   `json:"firstName" validate:"omitempty,min=1,max=100"`
	LastName    *string   `json:"lastName" validate:"omitempty,max=100"`
	Role        *string   `json:"role" validate:"omitempty,oneof=admin participant"`
	Permissions *[]string `json:"permissions" validate:"omitempty,dive,oneof=events:write bookings:manage users:manage audit:read"`
}

// Service handles accounts, credentials and account tokens.
type Service struct {
	repo    Repository
	mail    MailQueue
	baseURL string
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, mail MailQueue, baseURL string, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		mail:    mail,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With().Str("component", "users").Logger(),
		now:     time.Now,
	}
}

// Register creates a participant account and queues a verification email.
// Queueing failures are logged, not returned.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*User, error) {
	params.Email = NormalizeEmail(params.Email)
	if err := validation.Struct(params); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(params.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.Create(ctx, CreateParams{
		Email:        params.Email,
		PasswordHash: hash,
		FirstName:    sanitize.Text(params.FirstName),
		LastName:     sanitize.Text(params.LastName),
		Role:         string(auth.RoleParticipant),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", user.ID).Msg("user registered")
	s.sendVerification(ctx, user)
	return user, nil
}

// Authenticate checks credentials and records the login time.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = auth.CheckPassword(dummyHash, password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.repo.RecordLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record login")
	} else {
		user.LastLoginAt = &now
	}
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, filters ListFilters) ([]User, int64, error) {
	if filters.Limit <= 0 {
		filters.Limit = DefaultListLimit
	}
	if filters.Limit > MaxListLimit {
		filters.Limit = MaxListLimit
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}
	if filters.Role != "" && !auth.ValidRole(filters.Role) {
		return nil, 0, validation.Field("role", "must be one of: admin, participant")
	}
	filters.Query = strings.TrimSpace(filters.Query)
	return s.repo.List(ctx, filters)
}

// CreateUser is the admin path: role and permissions are caller-controlled and
// the account starts verified.
func (s *Service) CreateUser(ctx context.Context, params CreateUserParams) (*User, error) {
	params.Email = NormalizeEmail(params.Email)
	if err := validation.Struct(params); err != nil {
		return nil, err
	}
	role := string(auth.NormalizeRole(params.Role))

	hash, err := auth.HashPassword(params.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.Create(ctx, CreateParams{
		Email:        params.Email,
		PasswordHash: hash,
		FirstName:    sanitize.Text(params.FirstName),
		LastName:     sanitize.Text(params.LastName),
		Role:         role,
		Permissions:  dedupe(params.Permissions),
	})
	if err != nil {
		return nil, err
	}
	if err := s.repo.MarkEmailVerified(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("mark verified: %w", err)
	}
	user.EmailVerified = true

	s.logger.Info().Str("user_id", user.ID).Str("role", role).Msg("user created")
	return user, nil
}

func (s *Service) UpdateProfile(ctx context.Context, id string, params ProfileParams) (*User, error) {
	if err := validation.Struct(params); err != nil {
		return nil, err
	}
	return s.repo.Update(ctx, id, UpdateParams{
		FirstName: sanitizePtr(params.FirstName),
		LastName:  sanitizePtr(params.LastName),
	})
}

// UpdateUser applies admin changes. actorID is the admin making the change.
func (s *Service) UpdateUser(ctx context.Context, id string, params UpdateUserParams, actorID string) (*User, error) {
	if err := validation.Struct(params); err != nil {
		return nil, err
	}

	update := UpdateParams{
		FirstName: sanitizePtr(params.FirstName),
		LastName:  sanitizePtr(params.LastName),
	}
	if params.Role != nil {
		role := string(auth.NormalizeRole(*params.Role))
		if id == actorID && role != string(auth.RoleAdmin) {
			return nil, ErrCannotDemoteSelf
		}
		update.Role = &role
	}
	if params.Permissions != nil {
		perms := dedupe(*params.Permissions)
		update.Permissions = &perms
	}

	user, err := s.repo.Update(ctx, id, update)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", id).Str("actor_id", actorID).Msg("user updated")
	return user, nil
}

func (s *Service) ChangePassword(ctx context.Context, id, currentPassword, newPassword string) error {
	if err := validatePassword("newPassword", newPassword); err != nil {
		return err
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := auth.CheckPassword(user.PasswordHash, currentPassword); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.repo.SetPassword(ctx, id, hash)
}

// DeleteUser removes an account with its bookings. Seats held by active
// bookings go back to their events.
func (s *Service) DeleteUser(ctx context.Context, id, actorID string) error {
	if id == actorID {
		return ErrCannotDeleteSelf
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", id).Str("actor_id", actorID).Msg("user deleted")
	return nil
}

// VerifyEmail consumes a verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}
	user, err := s.repo.GetByVerificationToken(ctx, auth.HashToken(token))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	if user.VerificationExpiresAt == nil || s.now().After(*user.VerificationExpiresAt) {
		return ErrInvalidToken
	}
	return s.repo.MarkEmailVerified(ctx, user.ID)
}

// ResendVerification issues a fresh verification token for an unverified user.
func (s *Service) ResendVerification(ctx context.Context, id string) error {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return nil
	}
	s.sendVerification(ctx, user)
	return nil
}

// RequestPasswordReset queues a reset link email. Unknown emails succeed
// silently so the endpoint cannot be used to enumerate accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}

	token, hash, err := auth.NewOpaqueToken()
	if err != nil {
		return err
	}
	if err := s.repo.SetResetToken(ctx, user.ID, hash, s.now().Add(ResetTokenExpiry)); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}
	if s.mail != nil {
		link := s.link("/reset-password", token)
		if err := s.mail.QueuePasswordReset(ctx, user.Email, user.FullName(), link); err != nil {
			s.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to queue password reset email")
		}
	}
	return nil
}

// ResetPassword consumes a reset token and sets a new password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword("password", newPassword); err != nil {
		return err
	}
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}
	user, err := s.repo.GetByResetToken(ctx, auth.HashToken(token))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	if user.ResetExpiresAt == nil || s.now().After(*user.ResetExpiresAt) {
		return ErrInvalidToken
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.repo.SetPassword(ctx, user.ID, hash)
}

// EnsureAdmin creates an admin account for email unless one already exists.
func (s *Service) EnsureAdmin(ctx context.Context, email, password, firstName, lastName string) (bool, error) {
	_, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return false, fmt.Errorf("check admin user: %w", err)
	}
	_, err = s.CreateUser(ctx, CreateUserParams{
		Email:     email,
		Password:  password,
		FirstName: firstName,
		LastName:  lastName,
		Role:      string(auth.RoleAdmin),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) sendVerification(ctx context.Context, user *User) {
	token, hash, err := auth.NewOpaqueToken()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to generate verification token")
		return
	}
	if err := s.repo.SetVerificationToken(ctx, user.ID, hash, s.now().Add(VerificationTokenExpiry)); err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to store verification token")
		return
	}
	if s.mail == nil {
		return
	}
	if err := s.mail.QueueVerification(ctx, user.Email, user.FullName(), s.link("/verify-email", token)); err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to queue verification email")
	}
}

func (s *Service) link(path, token string) string {
	return s.baseURL + path + "?token=" + url.QueryEscape(token)
}

func validatePassword(field, password string) error {
	if len(password) < 8 {
		return validation.Field(field, "must be at least 8 characters")
	}
	// bcrypt ignores input past 72 bytes
	if len(password) > 72 {
		return validation.Field(field, "must be at most 72 characters")
	}
	return nil
}

func sanitizePtr(value *string) *string {
	if value == nil {
		return nil
	}
	clean := sanitize.Text(strings.TrimSpace(*value))
	return &clean
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
