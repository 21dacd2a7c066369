package model

import "time"

// TokenPurpose selects which single-use token slot on the user record is used.
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "email_verification"
	PurposePasswordReset     TokenPurpose = "password_reset"
)

func (p TokenPurpose) Valid() bool {
	return p == PurposeEmailVerification || p == PurposePasswordReset
}

// PendingToken reports the stored digest and expiry for purpose, if any.
func (u *User) PendingToken(purpose TokenPurpose) (digest *string, expiry *time.Time) {
	switch purpose {
	case PurposeEmailVerification:
		return u.EmailVerificationToken, u.EmailVerificationExpiry
	case PurposePasswordReset:
		return u.PasswordResetToken, u.PasswordResetExpiry
	}
	return nil, nil
}

// SetPendingToken stores digest and expiry for purpose; nil values clear the slot.
func (u *User) SetPendingToken(purpose TokenPurpose, digest *string, expiry *time.Time) {
	switch purpose {
	case PurposeEmailVerification:
		u.EmailVerificationToken, u.EmailVerificationExpiry = digest, expiry
	case PurposePasswordReset:
		u.PasswordResetToken, u.PasswordResetExpiry = digest, expiry
	}
}
