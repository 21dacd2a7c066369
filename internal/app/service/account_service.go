package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wra13107/digital-memorial-landing/internal/common"
	"github.com/wra13107/digital-memorial-landing/internal/common/security"
	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
	"github.com/wra13107/digital-memorial-landing/internal/domain/repository"
)

// AccountService runs the email verification and password reset flows.
type AccountService struct {
	users   repository.UserRepository
	hasher  *security.PasswordHasher
	tokens  *SingleUseTokens
	mail    MailQueue
	baseURL string
	logger  *slog.Logger
}

func NewAccountService(users repository.UserRepository, hasher *security.PasswordHasher, tokens *SingleUseTokens,
	mail MailQueue, baseURL string, logger *slog.Logger) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	if mail == nil {
		mail = LogMailQueue{Logger: logger}
	}
	return &AccountService{
		users:   users,
		hasher:  hasher,
		tokens:  tokens,
		mail:    mail,
		baseURL: baseURL,
		logger:  logger,
	}
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type VerifyEmailRequest struct {
	Token string `json:"token"`
}

// SendEmailVerification issues a verification token for u and queues the link.
func (s *AccountService) SendEmailVerification(ctx context.Context, u *model.User) error {
	if u.EmailVerified {
		return common.ErrAlreadyVerified
	}
	if u.EmailAddress() == "" {
		return &common.ValidationError{Field: "email", Message: "account has no email address"}
	}

	purpose := model.PurposeEmailVerification
	raw, _, err := s.tokens.Issue(ctx, purpose, u.ID)
	if err != nil {
		return err
	}
	link := tokenLink(s.baseURL, "/verify-email", raw)
	s.enqueue(ctx, verificationMail(u, link, s.tokens.TTL(purpose)), u.ID)
	return nil
}

// ResendVerification replaces the pending verification token of userID.
func (s *AccountService) ResendVerification(ctx context.Context, userID int64) error {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	return s.SendEmailVerification(ctx, u)
}

// VerifyEmail consumes a verification token and marks its owner verified.
func (s *AccountService) VerifyEmail(ctx context.Context, req VerifyEmailRequest) error {
	userID, err := s.tokens.Redeem(ctx, model.PurposeEmailVerification, req.Token,
		func(ctx context.Context, tx repository.UserRepository, userID int64) error {
			return tx.MarkEmailAsVerified(ctx, userID)
		})
	if err != nil {
		return err
	}
	s.logger.Info("email verified", "user_id", userID)
	return nil
}

// ForgotPassword queues a reset link when the address belongs to a password
// account. It reports success either way.
func (s *AccountService) ForgotPassword(ctx context.Context, req ForgotPasswordRequest) error {
	email, err := validateEmail(req.Email)
	if err != nil {
		return err
	}

	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.logger.Debug("password reset requested for unknown address")
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}
	if u.PasswordHash == nil || u.LoginMethod != model.LoginMethodLocal {
		s.logger.Debug("password reset requested for non-password account", "user_id", u.ID)
		return nil
	}

	purpose := model.PurposePasswordReset
	raw, _, err := s.tokens.Issue(ctx, purpose, u.ID)
	if err != nil {
		return err
	}
	link := tokenLink(s.baseURL, "/reset-password", raw)
	s.enqueue(ctx, passwordResetMail(u, link, s.tokens.TTL(purpose)), u.ID)
	return nil
}

// ResetPassword consumes a reset token and stores the new password hash in
// the same transaction.
func (s *AccountService) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if req.Token == "" {
		return common.ErrTokenInvalidOrExpired
	}
	if err := validatePassword("newPassword", req.NewPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(ctx, req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	userID, err := s.tokens.Redeem(ctx, model.PurposePasswordReset, req.Token,
		func(ctx context.Context, tx repository.UserRepository, userID int64) error {
			return tx.UpdateUserPassword(ctx, userID, hash)
		})
	if err != nil {
		return err
	}
	s.logger.Info("password reset completed", "user_id", userID)
	return nil
}

// enqueue hands mail to the queue. Delivery problems never fail the request.
func (s *AccountService) enqueue(ctx context.Context, job model.MailJob, userID int64) {
	if err := s.mail.Enqueue(ctx, job); err != nil {
		s.logger.Error("failed to enqueue mail", "kind", job.Kind, "user_id", userID, "error", err)
	}
}
