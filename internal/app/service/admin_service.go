package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wra13107/digital-memorial-landing/internal/common"
	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
	"github.com/wra13107/digital-memorial-landing/internal/domain/repository"
	"github.com/wra13107/digital-memorial-landing/internal/metrics"
)

// AdminService backs the user management endpoints. Callers must already
// have passed the admin role gate.
type AdminService struct {
	users   repository.UserRepository
	auth    *AuthService
	metrics metrics.Recorder
	logger  *slog.Logger
}

func NewAdminService(users repository.UserRepository, auth *AuthService, rec metrics.Recorder, logger *slog.Logger) *AdminService {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminService{users: users, auth: auth, metrics: rec, logger: logger}
}

type AdminUpdateUserRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Role  *string `json:"role,omitempty"`
}

type AdminCreateUserRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username,omitempty"`
	Role      string `json:"role,omitempty"`
}

func (s *AdminService) ListUsers(ctx context.Context) ([]*model.User, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *AdminService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.users.GetUserByID(ctx, id)
}

func parseRoleField(raw string) (model.Role, error) {
	role, ok := model.ParseRole(raw)
	if !ok {
		return "", &common.ValidationError{Field: "role", Message: "must be one of: user, admin"}
	}
	return role, nil
}

func (s *AdminService) UpdateUser(ctx context.Context, actorID, id int64, req AdminUpdateUserRequest) (*model.User, error) {
	var upd model.UserUpdate
	if req.Name != nil {
		name, err := validateName("name", *req.Name, true)
		if err != nil {
			return nil, err
		}
		upd.Name = &name
	}
	if req.Email != nil {
		email, err := validateEmail(*req.Email)
		if err != nil {
			return nil, err
		}
		upd.Email = &email
	}
	if req.Role != nil {
		role, err := parseRoleField(*req.Role)
		if err != nil {
			return nil, err
		}
		upd.Role = &role
	}
	if upd.Empty() {
		return nil, &common.ValidationError{Field: "body", Message: "no fields to update"}
	}

	if err := s.users.UpdateUser(ctx, id, upd); err != nil {
		return nil, fmt.Errorf("update user %d: %w", id, err)
	}
	s.logger.Info("user updated by admin", "admin_id", actorID, "user_id", id, "role_changed", upd.Role != nil)
	return s.users.GetUserByID(ctx, id)
}

func (s *AdminService) DeleteUser(ctx context.Context, actorID, id int64) error {
	if err := s.users.DeleteUserAccount(ctx, id); err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	s.logger.Info("user deleted by admin", "admin_id", actorID, "user_id", id)
	return nil
}

func (s *AdminService) CreateUser(ctx context.Context, actorID int64, req AdminCreateUserRequest) (*model.User, error) {
	in, err := s.newUser(ctx, req)
	if err != nil {
		return nil, err
	}

	user, err := s.users.CreateLocalUser(ctx, *in)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.metrics.RecordRegistration()
	s.logger.Info("user created by admin", "admin_id", actorID, "user_id", user.ID, "role", user.Role)
	return user, nil
}

func (s *AdminService) newUser(ctx context.Context, req AdminCreateUserRequest) (*model.NewLocalUser, error) {
	role := model.DefaultRole
	if req.Role != "" {
		parsed, err := parseRoleField(req.Role)
		if err != nil {
			return nil, err
		}
		role = parsed
	}

	in, err := s.auth.newLocalUser(ctx, req.Email, req.Password, req.FirstName, req.LastName, req.Username)
	if err != nil {
		return nil, err
	}
	in.Role = role
	return in, nil
}

// EnsureAdmin creates the bootstrap administrator with a verified address
// unless the email is already registered. created is false when an existing
// admin was found; an existing non-admin account is a conflict. The row and
// its verified flag are written in one transaction.
func (s *AdminService) EnsureAdmin(ctx context.Context, req AdminCreateUserRequest) (user *model.User, created bool, err error) {
	email, err := validateEmail(req.Email)
	if err != nil {
		return nil, false, err
	}
	existing, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if !existing.IsAdmin() {
			return nil, false, fmt.Errorf("%s belongs to a non-admin account: %w", email, common.ErrConflict)
		}
		return existing, false, nil
	case !errors.Is(err, common.ErrNotFound):
		return nil, false, fmt.Errorf("load user: %w", err)
	}

	req.Role = string(model.RoleAdmin)
	in, err := s.newUser(ctx, req)
	if err != nil {
		return nil, false, err
	}

	err = s.users.WithTx(ctx, func(ctx context.Context, repo repository.UserRepository) error {
		u, err := repo.CreateLocalUser(ctx, *in)
		if err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		if err := repo.MarkEmailAsVerified(ctx, u.ID); err != nil {
			return fmt.Errorf("verify admin email: %w", err)
		}
		u.EmailVerified = true
		user = u
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	s.metrics.RecordRegistration()
	s.logger.Info("bootstrap admin created", "user_id", user.ID)
	return user, true, nil
}
