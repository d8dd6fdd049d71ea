package service

import (
	"context"
	"errors"
	"strings"

	"reportapp/internal/core"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAdminUsername = "admin"
	defaultAdminPassword = "admin"
)

type AuthService struct {
	users  core.UserRepository
	tokens *TokenService
}

func NewAuthService(users core.UserRepository, tokens *TokenService) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
	}
}

// LoginResult is returned to the client after a successful login.
type LoginResult struct {
	Token              string `json:"token"`
	Role               string `json:"role"`
	MustChangePassword bool   `json:"must_change_password"`
}

// EnsureAdmin seeds admin/admin when the users table is empty. The seeded
// account must change its password on first login.
func (s *AuthService) EnsureAdmin(ctx context.Context) (bool, error) {
	count, err := s.users.Count(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(defaultAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return false, err
	}
	err = s.users.Create(ctx, &core.User{
		Username:           defaultAdminUsername,
		PasswordHash:       string(hash),
		Role:               core.RoleAdmin,
		MustChangePassword: true,
	})
	return err == nil, err
}

// Login checks credentials and returns a signed token.
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}

	token, err := s.tokens.Issue(user.Username, user.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, Role: user.Role, MustChangePassword: user.MustChangePassword}, nil
}

var errInvalidCredentials = core.Unauthorized("Invalid credentials")

// Authenticate resolves a bearer token to its claims.
func (s *AuthService) Authenticate(token string) (*Claims, error) {
	return s.tokens.Parse(token)
}

func (s *AuthService) ListUsers(ctx context.Context) ([]core.User, error) {
	return s.users.GetAll(ctx)
}

func (s *AuthService) CountUsers(ctx context.Context) (int, error) {
	return s.users.Count(ctx)
}

func (s *AuthService) CreateUser(ctx context.Context, username, password, role string) (*core.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, core.Invalid("Username and password are required")
	}
	role = normalizeRole(role)

	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return nil, core.Conflict("User '%s' already exists", username)
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &core.User{Username: username, PasswordHash: string(hash), Role: role}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateUser changes username and role, and the password when one is given.
// Setting a password clears the forced-change flag.
func (s *AuthService) UpdateUser(ctx context.Context, id int64, username, password, role string) (*core.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if username = strings.TrimSpace(username); username != "" && username != u.Username {
		if other, err := s.users.GetByUsername(ctx, username); err == nil && other.ID != u.ID {
			return nil, core.Conflict("Username '%s' is already taken", username)
		} else if err != nil && !errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		u.Username = username
	}
	newRole := normalizeRole(role)
	if role == "" {
		newRole = u.Role
	}
	if u.Role == core.RoleAdmin && newRole != core.RoleAdmin {
		if err := s.ensureOtherAdmin(ctx, "Cannot remove admin role from the last admin user"); err != nil {
			return nil, err
		}
	}
	u.Role = newRole

	u.PasswordHash = ""
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = string(hash)
		u.MustChangePassword = false
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	u.PasswordHash = ""
	return u, nil
}

// DeleteUser removes the account and returns it. The last admin account
// cannot be removed.
func (s *AuthService) DeleteUser(ctx context.Context, id int64) (*core.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role == core.RoleAdmin {
		if err := s.ensureOtherAdmin(ctx, "Cannot delete the last admin user"); err != nil {
			return nil, err
		}
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return nil, err
	}
	u.PasswordHash = ""
	return u, nil
}

func (s *AuthService) ensureOtherAdmin(ctx context.Context, msg string) error {
	admins, err := s.users.CountByRole(ctx, core.RoleAdmin)
	if err != nil {
		return err
	}
	if admins <= 1 {
		return core.Invalid("%s", msg)
	}
	return nil
}

// ChangePassword sets a new password for username and clears the
// forced-change flag.
func (s *AuthService) ChangePassword(ctx context.Context, username, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return core.Invalid("New password is required")
	}
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	u.MustChangePassword = false
	return s.users.Update(ctx, u)
}

// ResetPassword resets a user's password by username
func (s *AuthService) ResetPassword(ctx context.Context, username, newPassword string) error {
	if _, err := s.users.GetByUsername(ctx, username); err != nil {
		return errors.New("user not found: " + username)
	}
	return s.ChangePassword(ctx, username, newPassword)
}

func normalizeRole(role string) string {
	if strings.EqualFold(strings.TrimSpace(role), core.RoleAdmin) {
		return core.RoleAdmin
	}
	return core.RoleUser
}
