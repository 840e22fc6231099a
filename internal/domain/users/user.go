package users

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email is already taken")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrCannotDeleteSelf   = errors.New("cannot delete your own account")
	ErrCannotDemoteSelf   = errors.New("cannot remove your own admin role")
)

type User struct {
	ID                    string
	Email                 string
	PasswordHash          string
	FirstName             string
	LastName              string
	Role                  string
	Permissions           []string
	EmailVerified         bool
	VerificationExpiresAt *time.Time
	ResetExpiresAt        *time.Time
	LastLoginAt           *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// CreateParams is what the repository persists for a new user.
type CreateParams struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         string
	Permissions  []string
}

// UpdateParams carries optional field changes. Nil fields are left as is.
type UpdateParams struct {
	FirstName   *string
	LastName    *string
	Role        *string
	Permissions *[]string
}

type ListFilters struct {
	Role   string
	Query  string
	Limit  int
	Offset int
}

type Repository interface {
	Create(ctx context.Context, params CreateParams) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByVerificationToken(ctx context.Context, tokenHash string) (*User, error)
	GetByResetToken(ctx context.Context, tokenHash string) (*User, error)
	List(ctx context.Context, filters ListFilters) ([]User, int64, error)
	Update(ctx context.Context, id string, params UpdateParams) (*User, error)
	SetPassword(ctx context.Context, id, passwordHash string) error
	SetVerificationToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	MarkEmailVerified(ctx context.Context, id string) error
	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	RecordLogin(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// MailQueue hands account emails to background delivery. Links carry the
// plaintext token.
type MailQueue interface {
	QueueVerification(ctx context.Context, to, name, link string) error
	QueuePasswordReset(ctx context.Context, to, name, link string) error
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
