// Package users manages staff accounts. Roles are recorded for display and
// reporting; nothing in the system enforces them.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"vendify/internal/domain"
	"vendify/internal/gateway"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

var (
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactive           = errors.New("account is inactive")
)

type Patch struct {
	Name     *string `json:"name,omitempty"`
	Role     *string `json:"role,omitempty"`
	Status   *string `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
	BranchID *string `json:"branchId,omitempty"`
	Password *string `json:"password,omitempty" validate:"omitempty,min=8"`
}

type Service struct {
	gw     *gateway.Gateway
	logger *zap.Logger
}

func NewService(gw *gateway.Gateway, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{gw: gw, logger: logger.Named("users")}
}

func (s *Service) Create(ctx context.Context, input domain.UserInput) (domain.User, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Name = strings.TrimSpace(input.Name)
	input.Role = strings.ToLower(strings.TrimSpace(input.Role))
	if err := domain.Validate(input); err != nil {
		return domain.User{}, err
	}

	existing, err := s.gw.Users().Find(ctx, domain.BranchScope{}, gateway.Filters{Where: map[string]string{"email": input.Email}})
	if err != nil {
		return domain.User{}, fmt.Errorf("check existing users: %w", err)
	}
	if len(existing) > 0 {
		return domain.User{}, ErrDuplicateEmail
	}

	hash, err := hashPassword(input.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	created, err := s.gw.Users().Create(ctx, domain.BranchScope{}, domain.User{
		Name:         input.Name,
		Email:        input.Email,
		Role:         input.Role,
		Status:       StatusActive,
		PasswordHash: hash,
		BranchID:     input.BranchID,
	})
	if err != nil {
		return domain.User{}, err
	}
	s.logger.Info("user created", zap.String("user_id", created.ID), zap.String("role", created.Role))
	return redact(created), nil
}

func (s *Service) List(ctx context.Context) []domain.User {
	list := s.gw.Users().List(ctx, domain.BranchScope{}, gateway.Filters{})
	for i := range list {
		list[i] = redact(list[i])
	}
	return list
}

func (s *Service) Get(ctx context.Context, id string) (domain.User, error) {
	u, err := s.gw.Users().Get(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	return redact(u), nil
}

func (s *Service) Update(ctx context.Context, id string, patch Patch) (domain.User, error) {
	if err := domain.Validate(patch); err != nil {
		return domain.User{}, err
	}
	fields := map[string]any{}
	if patch.Name != nil {
		fields["name"] = strings.TrimSpace(*patch.Name)
	}
	if patch.Role != nil {
		fields["role"] = strings.ToLower(strings.TrimSpace(*patch.Role))
	}
	if patch.Status != nil {
		fields["status"] = *patch.Status
	}
	if patch.BranchID != nil {
		fields["branchId"] = *patch.BranchID
	}
	if patch.Password != nil {
		hash, err := hashPassword(*patch.Password)
		if err != nil {
			return domain.User{}, fmt.Errorf("hash password: %w", err)
		}
		fields["passwordHash"] = hash
	}

	updated, err := s.gw.Users().Update(ctx, domain.BranchScope{}, id, fields)
	if err != nil {
		return domain.User{}, err
	}
	return redact(updated), nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.gw.Users().Delete(ctx, domain.BranchScope{}, id)
}

// Authenticate checks an email and password pair.
func (s *Service) Authenticate(ctx context.Context, email string, password string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	found, err := s.gw.Users().Find(ctx, domain.BranchScope{}, gateway.Filters{Where: map[string]string{"email": email}})
	if err != nil {
		return domain.User{}, err
	}
	if len(found) == 0 || !verifyPassword(found[0].PasswordHash, password) {
		return domain.User{}, ErrInvalidCredentials
	}
	if found[0].Status == StatusInactive {
		return domain.User{}, ErrInactive
	}
	return redact(found[0]), nil
}

func redact(u domain.User) domain.User {
	u.PasswordHash = ""
	return u
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
