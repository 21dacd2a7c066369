package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wra13107/digital-memorial-landing/internal/common"
	"github.com/wra13107/digital-memorial-landing/internal/common/security"
	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
	"github.com/wra13107/digital-memorial-landing/internal/domain/repository"
	"github.com/wra13107/digital-memorial-landing/internal/metrics"
)

type AuthService struct {
	users    repository.UserRepository
	hasher   *security.PasswordHasher
	sessions *security.TokenService
	account  *AccountService
	metrics  metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

func NewAuthService(users repository.UserRepository, hasher *security.PasswordHasher, sessions *security.TokenService,
	account *AccountService, rec metrics.Recorder, logger *slog.Logger, now func() time.Time) *AuthService {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		users:    users,
		hasher:   hasher,
		sessions: sessions,
		account:  account,
		metrics:  rec,
		logger:   logger,
		now:      now,
	}
}

type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Patronymic string `json:"patronymic,omitempty"`
	Username   string `json:"username,omitempty"`
	BirthDate  string `json:"birthDate,omitempty"`
	DeathDate  string `json:"deathDate,omitempty"`
}

type LoginRequest struct {
	Login    string `json:"login"` // email or username
	Password string `json:"password"`
}

type UpdateProfileRequest struct {
	FirstName  *string `json:"firstName,omitempty"`
	LastName   *string `json:"lastName,omitempty"`
	Patronymic *string `json:"patronymic,omitempty"`
	BirthDate  *string `json:"birthDate,omitempty"`
	DeathDate  *string `json:"deathDate,omitempty"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// AuthResult is a signed-in user and the session token to put in the cookie.
type AuthResult struct {
	User  *model.User
	Token string
}

func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	in, err := s.newLocalUser(ctx, req.Email, req.Password, req.FirstName, req.LastName, req.Username)
	if err != nil {
		return nil, err
	}
	if req.Patronymic != "" {
		patronymic, err := validateName("patronymic", req.Patronymic, false)
		if err != nil {
			return nil, err
		}
		if patronymic != "" {
			in.Patronymic = &patronymic
		}
	}
	if in.BirthDate, err = parseDate("birthDate", req.BirthDate); err != nil {
		return nil, err
	}
	if in.DeathDate, err = parseDate("deathDate", req.DeathDate); err != nil {
		return nil, err
	}
	if err := validateLifeDates(in.BirthDate, in.DeathDate); err != nil {
		return nil, err
	}

	user, err := s.users.CreateLocalUser(ctx, *in)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.metrics.RecordRegistration()
	s.logger.Info("user registered", "user_id", user.ID)

	if s.account != nil {
		if err := s.account.SendEmailVerification(ctx, user); err != nil {
			s.logger.Error("failed to issue email verification", "user_id", user.ID, "error", err)
		}
	}

	token, err := s.sessions.Issue(user.ID, user.EmailAddress(), user.IsAdmin())
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// newLocalUser validates the common signup fields and hashes the password.
func (s *AuthService) newLocalUser(ctx context.Context, rawEmail, password, rawFirst, rawLast, rawUsername string) (*model.NewLocalUser, error) {
	email, err := validateEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	if err := validatePassword("password", password); err != nil {
		return nil, err
	}
	firstName, err := validateName("firstName", rawFirst, true)
	if err != nil {
		return nil, err
	}
	lastName, err := validateName("lastName", rawLast, true)
	if err != nil {
		return nil, err
	}
	username, err := validateUsername(rawUsername)
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return &model.NewLocalUser{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		FirstName:    firstName,
		LastName:     lastName,
		Role:         model.DefaultRole,
	}, nil
}

// Login accepts an email or a username. Every failure is ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	login := strings.TrimSpace(req.Login)
	if login == "" || req.Password == "" {
		return nil, &common.ValidationError{Field: "login", Message: "login and password are required"}
	}

	user, err := s.lookupLogin(ctx, login)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("find user: %w", err)
		}
		// Same bcrypt cost whether or not the account exists.
		s.hasher.VerifyDummy(ctx, req.Password)
		s.metrics.RecordLogin(false)
		return nil, common.ErrInvalidCredentials
	}

	if user.PasswordHash == nil || !s.hasher.Verify(ctx, req.Password, *user.PasswordHash) {
		s.metrics.RecordLogin(false)
		return nil, common.ErrInvalidCredentials
	}

	signedIn := s.now().UTC()
	if err := s.users.TouchLastSignedIn(ctx, user.ID, signedIn); err != nil {
		s.logger.Warn("failed to record sign-in time", "user_id", user.ID, "error", err)
	} else {
		user.LastSignedIn = signedIn
	}

	token, err := s.sessions.Issue(user.ID, user.EmailAddress(), user.IsAdmin())
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	s.metrics.RecordLogin(true)
	return &AuthResult{User: user, Token: token}, nil
}

func (s *AuthService) lookupLogin(ctx context.Context, login string) (*model.User, error) {
	user, err := s.users.GetUserByEmail(ctx, model.NormalizeEmail(login))
	if err == nil || !errors.Is(err, common.ErrNotFound) {
		return user, err
	}
	username := model.NormalizeUsername(login)
	if username == "" {
		return nil, common.ErrNotFound
	}
	return s.users.GetUserByUsername(ctx, username)
}

// UserForClaims resolves verified session claims to the current user record.
// A user deleted since the token was issued yields (nil, nil).
func (s *AuthService) UserForClaims(ctx context.Context, claims *security.Claims) (*model.User, error) {
	if claims == nil {
		return nil, nil
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session user: %w", err)
	}
	return user, nil
}

func (s *AuthService) Profile(ctx context.Context, userID int64) (*model.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

// UpdateProfile changes the caller's own personal fields. The display name
// follows first and last name.
func (s *AuthService) UpdateProfile(ctx context.Context, userID int64, req UpdateProfileRequest) (*model.User, error) {
	current, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var upd model.UserUpdate
	firstName, lastName := current.FirstName, current.LastName
	if req.FirstName != nil {
		if firstName, err = validateName("firstName", *req.FirstName, true); err != nil {
			return nil, err
		}
		upd.FirstName = &firstName
	}
	if req.LastName != nil {
		if lastName, err = validateName("lastName", *req.LastName, true); err != nil {
			return nil, err
		}
		upd.LastName = &lastName
	}
	if upd.FirstName != nil || upd.LastName != nil {
		name := model.DisplayName(firstName, lastName)
		upd.Name = &name
	}
	if req.Patronymic != nil {
		patronymic, err := validateName("patronymic", *req.Patronymic, false)
		if err != nil {
			return nil, err
		}
		upd.Patronymic = &patronymic
	}

	birth, death := current.BirthDate, current.DeathDate
	if req.BirthDate != nil {
		if upd.BirthDate, err = parseDate("birthDate", *req.BirthDate); err != nil {
			return nil, err
		}
		upd.ClearBirthDate = upd.BirthDate == nil
		birth = upd.BirthDate
	}
	if req.DeathDate != nil {
		if upd.DeathDate, err = parseDate("deathDate", *req.DeathDate); err != nil {
			return nil, err
		}
		upd.ClearDeathDate = upd.DeathDate == nil
		death = upd.DeathDate
	}
	if err := validateLifeDates(birth, death); err != nil {
		return nil, err
	}

	if err := s.users.UpdateUser(ctx, userID, upd); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return s.users.GetUserByID(ctx, userID)
}

// ChangePassword requires the current password. A pending reset token is
// dropped since it is no longer needed.
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, req ChangePasswordRequest) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.PasswordHash == nil || !s.hasher.Verify(ctx, req.CurrentPassword, *user.PasswordHash) {
		return &common.ValidationError{Field: "currentPassword", Message: "is incorrect"}
	}
	if err := validatePassword("newPassword", req.NewPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(ctx, req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.users.WithTx(ctx, func(ctx context.Context, tx repository.UserRepository) error {
		if err := tx.UpdateUserPassword(ctx, userID, hash); err != nil {
			return err
		}
		return tx.ClearToken(ctx, model.PurposePasswordReset, userID)
	})
}

func (s *AuthService) DeleteAccount(ctx context.Context, userID int64) error {
	if err := s.users.DeleteUserAccount(ctx, userID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	s.logger.Info("account deleted", "user_id", userID)
	return nil
}
