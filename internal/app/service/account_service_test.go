package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wra13107/digital-memorial-landing/internal/common"
	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
	"github.com/wra13107/digital-memorial-landing/internal/domain/repository"
)

func TestResetPassword_SecondRedemptionFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "CorrectHorse9!")

	require.NoError(t, env.account.ForgotPassword(ctx, ForgotPasswordRequest{Email: "alice@example.com"}))
	raw := env.mail.lastToken(t, MailKindPasswordReset)

	require.NoError(t, env.account.ResetPassword(ctx, ResetPasswordRequest{Token: raw, NewPassword: "FreshPassword1"}))

	stored, err := env.users.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Nil(t, stored.PasswordResetToken)
	assert.Nil(t, stored.PasswordResetExpiry)

	err = env.account.ResetPassword(ctx, ResetPasswordRequest{Token: raw, NewPassword: "OtherPassword2"})
	assert.ErrorIs(t, err, common.ErrTokenInvalidOrExpired)

	_, err = env.auth.Login(ctx, LoginRequest{Login: "alice@example.com", Password: "FreshPassword1"})
	assert.NoError(t, err)
}

func TestResetPassword_ExpiredTokenLeavesHashUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "CorrectHorse9!")

	before, err := env.users.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)

	require.NoError(t, env.account.ForgotPassword(ctx, ForgotPasswordRequest{Email: "alice@example.com"}))
	raw := env.mail.lastToken(t, MailKindPasswordReset)

	env.clock.Advance(24*time.Hour + time.Second)

	err = env.account.ResetPassword(ctx, ResetPasswordRequest{Token: raw, NewPassword: "FreshPassword1"})
	assert.ErrorIs(t, err, common.ErrTokenInvalidOrExpired)

	after, err := env.users.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, *before.PasswordHash, *after.PasswordHash)
}

func TestResetPassword_ReissueInvalidatesPrevious(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "CorrectHorse9!")

	require.NoError(t, env.account.ForgotPassword(ctx, ForgotPasswordRequest{Email: "alice@example.com"}))
	first := env.mail.lastToken(t, MailKindPasswordReset)
	require.NoError(t, env.account.ForgotPassword(ctx, ForgotPasswordRequest{Email: "alice@example.com"}))
	second := env.mail.lastToken(t, MailKindPasswordReset)
	require.NotEqual(t, first, second)

	err := env.account.ResetPassword(ctx, ResetPasswordRequest{Token: first, NewPassword: "FreshPassword1"})
	assert.ErrorIs(t, err, common.ErrTokenInvalidOrExpired)
	assert.NoError(t, env.account.ResetPassword(ctx, ResetPasswordRequest{Token: second, NewPassword: "FreshPassword1"}))
}

func TestResetPassword_InvalidPasswordKeepsToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "CorrectHorse9!")
	require.NoError(t, env.account.ForgotPassword(ctx, ForgotPasswordRequest{Email: "alice@example.com"}))
	raw := env.mail.lastToken(t, MailKindPasswordReset)

	err := env.account.ResetPassword(ctx, ResetPasswordRequest{Token: raw, NewPassword: "short"})
	assert.ErrorIs(t, err, common.ErrValidation)

	assert.NoError(t, env.account.ResetPassword(ctx, ResetPasswordRequest{Token: raw, NewPassword: "LongEnough1"}))
}

func TestResetPassword_UnknownOrEmptyToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, env.account.ResetPassword(ctx, ResetPasswordRequest{Token: "", NewPassword: "LongEnough1"}),
		common.ErrTokenInvalidOrExpired)
	assert.ErrorIs(t, env.account.ResetPassword(ctx, ResetPasswordRequest{Token: "deadbeef", NewPassword: "LongEnough1"}),
		common.ErrTokenInvalidOrExpired)
}

func TestResetPassword_ConcurrentRedemptionSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "CorrectHorse9!")
	require.NoError(t, env.account.ForgotPassword(ctx, ForgotPasswordRequest{Email: "alice@example.com"}))
	raw := env.mail.lastToken(t, MailKindPasswordReset)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.account.ResetPassword(ctx, ResetPasswordRequest{Token: raw, NewPassword: "FreshPassword1"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, common.ErrTokenInvalidOrExpired)
	}
	assert.Equal(t, 1, succeeded)
}

func TestForgotPassword_UnknownEmailIsSilent(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.account.ForgotPassword(context.Background(), ForgotPasswordRequest{Email: "ghost@example.com"}))
	assert.Equal(t, 0, env.mail.count(MailKindPasswordReset))
}

func TestForgotPassword_InvalidEmail(t *testing.T) {
	env := newTestEnv(t)

	err := env.account.ForgotPassword(context.Background(), ForgotPasswordRequest{Email: "nope"})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestForgotPassword_LinkUsesBaseURL(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "CorrectHorse9!")

	require.NoError(t, env.account.ForgotPassword(context.Background(), ForgotPasswordRequest{Email: "ALICE@example.com"}))
	job := env.mail.jobs[len(env.mail.jobs)-1]
	assert.Equal(t, MailKindPasswordReset, job.Kind)
	assert.Contains(t, job.Text, "https://memorial.example/reset-password?token=")
	assert.Contains(t, job.HTML, `href="https://memorial.example/reset-password?token=`)
}

func TestVerifyEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "alice@example.com", "CorrectHorse9!")
	raw := env.mail.lastToken(t, MailKindVerification)

	require.NoError(t, env.account.VerifyEmail(ctx, VerifyEmailRequest{Token: raw}))

	stored, err := env.users.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, stored.EmailVerified)
	assert.Nil(t, stored.EmailVerificationToken)

	assert.ErrorIs(t, env.account.VerifyEmail(ctx, VerifyEmailRequest{Token: raw}), common.ErrTokenInvalidOrExpired)
}

func TestVerifyEmail_Expired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "alice@example.com", "CorrectHorse9!")
	raw := env.mail.lastToken(t, MailKindVerification)

	env.clock.Advance(25 * time.Hour)
	assert.ErrorIs(t, env.account.VerifyEmail(ctx, VerifyEmailRequest{Token: raw}), common.ErrTokenInvalidOrExpired)

	stored, err := env.users.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, stored.EmailVerified)
}

func TestResendVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "alice@example.com", "CorrectHorse9!")
	first := env.mail.lastToken(t, MailKindVerification)

	require.NoError(t, env.account.ResendVerification(ctx, u.ID))
	second := env.mail.lastToken(t, MailKindVerification)
	assert.Equal(t, 2, env.mail.count(MailKindVerification))

	assert.ErrorIs(t, env.account.VerifyEmail(ctx, VerifyEmailRequest{Token: first}), common.ErrTokenInvalidOrExpired)
	require.NoError(t, env.account.VerifyEmail(ctx, VerifyEmailRequest{Token: second}))

	err := env.account.ResendVerification(ctx, u.ID)
	assert.ErrorIs(t, err, common.ErrAlreadyVerified)
	assert.ErrorIs(t, err, common.ErrBadRequest)
}

func TestSingleUseTokens_FailedActionKeepsTokenPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "alice@example.com", "CorrectHorse9!")

	tokens := env.account.tokens
	raw, expiry, err := tokens.Issue(ctx, model.PurposePasswordReset, u.ID)
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(24*time.Hour), expiry)

	_, err = tokens.Redeem(ctx, model.PurposePasswordReset, raw,
		func(context.Context, repository.UserRepository, int64) error { return errBoom })
	assert.True(t, errors.Is(err, errBoom))

	id, err := tokens.Redeem(ctx, model.PurposePasswordReset, raw,
		func(context.Context, repository.UserRepository, int64) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)
}

func TestSingleUseTokens_UnconfiguredPurpose(t *testing.T) {
	env := newTestEnv(t)
	tokens := NewSingleUseTokens(env.users, nil, env.clock.Now, nil)

	_, _, err := tokens.Issue(context.Background(), model.PurposePasswordReset, 1)
	assert.Error(t, err)
}

func TestValidFor(t *testing.T) {
	assert.Equal(t, "24 hours", validFor(24*time.Hour))
	assert.Equal(t, "1 hour", validFor(time.Hour))
	assert.Equal(t, "90 minutes", validFor(90*time.Minute))
	assert.Equal(t, "30s", validFor(30*time.Second))
}
