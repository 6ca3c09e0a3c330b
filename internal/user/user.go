// Package user manages administrative principals: creation, password
// authentication, and rotation. Passwords are hashed with bcrypt via
// golang.org/x/crypto.
package user

import (
	"context"

	"github.com/google/uuid"
	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/persistence"
	"golang.org/x/crypto/bcrypt"
)

// Manager owns the lifecycle of User records.
type Manager struct {
	repo persistence.UserRepository
}

// New constructs a Manager.
func New(repo persistence.UserRepository) *Manager {
	return &Manager{repo: repo}
}

// CreateParams is the input to Create.
type CreateParams struct {
	Name               string
	Password           string
	Role               persistence.Role
	MustChangePassword bool
}

// Create provisions a new user with a bcrypt-hashed password.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*persistence.User, error) {
	if p.Name == "" {
		return nil, apierror.New(apierror.Validation, "name is required").WithField("name", "required")
	}
	if len(p.Password) < 8 {
		return nil, apierror.New(apierror.Validation, "password must be at least 8 characters").WithField("password", "too short")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apierror.Wrap(apierror.Internal, err, "hash password")
	}

	u := &persistence.User{
		UserID:             uuid.NewString(),
		Name:               p.Name,
		Role:               p.Role,
		PasswordHash:       string(hash),
		MustChangePassword: p.MustChangePassword,
	}
	if err := m.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate verifies a plaintext password against the stored bcrypt
// hash, returning apierror(Unauthenticated) on any mismatch or missing
// user — never distinguishing the two to a caller.
func (m *Manager) Authenticate(ctx context.Context, name, password string) (*persistence.User, error) {
	u, err := m.repo.GetByName(ctx, name)
	if err != nil {
		if apierror.KindOf(err) == apierror.NotFound {
			return nil, apierror.New(apierror.Unauthenticated, "invalid credentials")
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, apierror.New(apierror.Unauthenticated, "invalid credentials")
	}
	return u, nil
}

// ChangePassword rehashes a user's password and clears MustChangePassword.
func (m *Manager) ChangePassword(ctx context.Context, userID, newPassword string) error {
	if len(newPassword) < 8 {
		return apierror.New(apierror.Validation, "password must be at least 8 characters").WithField("password", "too short")
	}

	u, err := m.repo.Get(ctx, userID)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return apierror.Wrap(apierror.Internal, err, "hash password")
	}

	u.PasswordHash = string(hash)
	u.MustChangePassword = false
	return m.repo.Update(ctx, u)
}

// Get returns a user by ID.
func (m *Manager) Get(ctx context.Context, userID string) (*persistence.User, error) {
	return m.repo.Get(ctx, userID)
}

// Delete removes a user.
func (m *Manager) Delete(ctx context.Context, userID string) error {
	return m.repo.Delete(ctx, userID)
}
