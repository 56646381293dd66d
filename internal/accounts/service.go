// Package accounts implements sign-in and the privileged user-management
// operations behind the admin console.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"

	"portal/api/internal/rbac"
	"portal/api/internal/store"
	"portal/api/internal/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrSelfDelete         = errors.New("cannot delete own account")
	ErrValidation         = errors.New("validation failed")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// UserStore defines the storage interface for account management
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	DeleteUser(ctx context.Context, userID string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	UpsertUserRole(ctx context.Context, userID, role string) error
	ListCompanies(ctx context.Context) ([]store.Company, error)
}

// Service provides account management
type Service struct {
	store UserStore
}

// NewService creates a new accounts service
func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignIn authenticates a user by email and password.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if email == "" || password == "" {
		return store.User{}, fmt.Errorf("%w: email and password are required", ErrValidation)
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}

	return user, nil
}

// CreateUserRequest contains the fields for a new identity
type CreateUserRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
}

// CreateUser creates a new identity with a role row. Validation runs
// before any side effect. The default role is client.
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (store.User, error) {
	if err := validateEmail(req.Email); err != nil {
		return store.User{}, err
	}
	if err := validatePassword(req.Password); err != nil {
		return store.User{}, err
	}

	role := req.Role
	if role == "" {
		role = string(rbac.RoleClient)
	}
	if !rbac.Valid(role) {
		return store.User{}, fmt.Errorf("%w: unknown role %q", ErrValidation, req.Role)
	}

	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return store.User{}, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Email:        req.Email,
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         role,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	if err := s.store.UpsertUserRole(ctx, user.ID, role); err != nil {
		return store.User{}, fmt.Errorf("assign role: %w", err)
	}

	return user, nil
}

// DeleteUser removes an identity addressed by email or id. The caller
// may never delete itself. A target that is already gone is reported as
// not found; partial leftovers from an earlier failed delete are cleaned
// up without complaint.
func (s *Service) DeleteUser(ctx context.Context, callerID, email, userID string) error {
	if email == "" && userID == "" {
		return fmt.Errorf("%w: email or userId is required", ErrValidation)
	}

	var user store.User
	var err error
	if userID != "" {
		user, err = s.store.GetUserByID(ctx, userID)
	} else {
		user, err = s.store.GetUserByEmail(ctx, email)
	}
	if err != nil {
		return ErrUserNotFound
	}

	if user.ID == callerID {
		return ErrSelfDelete
	}

	if err := s.store.DeleteUser(ctx, user.ID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// UpdatePassword sets a new password for an existing identity.
func (s *Service) UpdatePassword(ctx context.Context, email, password string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := validatePassword(password); err != nil {
		return err
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return ErrUserNotFound
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, user.ID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// ResetPassword sets a password for an email, creating the identity with
// the client role when it does not exist yet.
func (s *Service) ResetPassword(ctx context.Context, email, password string) (created bool, err error) {
	if err := validateEmail(email); err != nil {
		return false, err
	}
	if err := validatePassword(password); err != nil {
		return false, err
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err != nil {
		_, err := s.CreateUser(ctx, CreateUserRequest{Email: email, Password: password})
		if err != nil {
			return false, err
		}
		return true, nil
	}

	if err := s.UpdatePassword(ctx, email, password); err != nil {
		return false, err
	}
	return false, nil
}

// AssignRole adds a role row to an existing identity.
func (s *Service) AssignRole(ctx context.Context, userID, role string) error {
	if userID == "" {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if !rbac.Valid(role) {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return ErrUserNotFound
	}
	if err := s.store.UpsertUserRole(ctx, userID, role); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// BootstrapAdmin creates or updates an identity and grants it a role.
// Authorization is the caller's problem: this path is reached through a
// shared server secret, not a session, because no admin may exist yet.
func (s *Service) BootstrapAdmin(ctx context.Context, req CreateUserRequest) (store.User, error) {
	if err := validateEmail(req.Email); err != nil {
		return store.User{}, err
	}
	if err := validatePassword(req.Password); err != nil {
		return store.User{}, err
	}
	role := req.Role
	if role == "" {
		role = string(rbac.RoleAdmin)
	}
	if !rbac.Valid(role) {
		return store.User{}, fmt.Errorf("%w: unknown role %q", ErrValidation, req.Role)
	}

	existing, err := s.store.GetUserByEmail(ctx, req.Email)
	if err == nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return store.User{}, fmt.Errorf("hash password: %w", err)
		}
		if err := s.store.UpdateUserPassword(ctx, existing.ID, string(hash)); err != nil {
			return store.User{}, fmt.Errorf("update password: %w", err)
		}
		if err := s.store.UpsertUserRole(ctx, existing.ID, role); err != nil {
			return store.User{}, fmt.Errorf("assign role: %w", err)
		}
		existing.Role = role
		return existing, nil
	}

	return s.CreateUser(ctx, CreateUserRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      role,
	})
}

// GetUser returns one identity by id.
func (s *Service) GetUser(ctx context.Context, userID string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, ErrUserNotFound
	}
	return user, nil
}

// EnsureCompanyUsers makes sure every company has a portal identity with
// the client role, creating missing ones with the default password.
// Existing identities are left untouched, so the call is idempotent.
func (s *Service) EnsureCompanyUsers(ctx context.Context, defaultPassword string) (created []string, err error) {
	companies, err := s.store.ListCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}

	created = make([]string, 0)
	for _, company := range companies {
		if _, err := s.store.GetUserByEmail(ctx, company.Email); err == nil {
			continue
		}
		if _, err := s.CreateUser(ctx, CreateUserRequest{
			Email:    company.Email,
			Password: defaultPassword,
		}); err != nil {
			return created, fmt.Errorf("provision %s: %w", company.Email, err)
		}
		created = append(created, company.Email)
	}
	return created, nil
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: invalid email format", ErrValidation)
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrValidation)
	}
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}
	return nil
}
