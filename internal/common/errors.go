package common

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound        = errors.New("requested resource not found")
	ErrUnauthorized    = errors.New("authentication required")
	ErrForbidden       = errors.New("forbidden access")
	ErrBadRequest      = errors.New("bad request")
	ErrConflict        = errors.New("resource conflict") // e.g., email already registered
	ErrInternalServer  = errors.New("internal server error")
	ErrValidation      = errors.New("validation failed")
	ErrTooManyRequests = errors.New("too many requests")

	// Login failures never say whether the identity exists.
	ErrInvalidCredentials = errors.New("invalid email/username or password")
	// Session token failed signature or expiry check.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired session token")
	// Verification/reset token absent, consumed or past expiry.
	ErrTokenInvalidOrExpired = errors.New("invalid or expired token")

	ErrEmailTaken    error = &kindError{msg: "user with this email already exists", kind: ErrConflict}
	ErrUsernameTaken error = &kindError{msg: "user with this username already exists", kind: ErrConflict}

	ErrAlreadyVerified error = &kindError{msg: "email address is already verified", kind: ErrBadRequest}
)

// kindError is a sentinel with its own public text that still matches a broader kind.
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

var publicErrors = []error{
	ErrEmailTaken,
	ErrUsernameTaken,
	ErrAlreadyVerified,
	ErrInvalidCredentials,
	ErrInvalidOrExpiredToken,
	ErrTokenInvalidOrExpired,
	ErrUnauthorized,
	ErrForbidden,
	ErrConflict,
	ErrNotFound,
	ErrValidation,
	ErrBadRequest,
	ErrTooManyRequests,
}

// ForbiddenError is an ErrForbidden that carries an instruction for the user.
type ForbiddenError struct {
	Instruction string
}

func (e *ForbiddenError) Error() string { return e.Instruction }

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// ValidationError is an ErrValidation with the offending field in its message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// HTTPStatusFromError maps domain errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrInvalidOrExpiredToken) {
		return http.StatusUnauthorized
	}
	if errors.Is(err, ErrForbidden) {
		return http.StatusForbidden
	}
	if errors.Is(err, ErrBadRequest) || errors.Is(err, ErrValidation) || errors.Is(err, ErrTokenInvalidOrExpired) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrConflict) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrTooManyRequests) {
		return http.StatusTooManyRequests
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" { // Unique violation
			return http.StatusConflict
		}
	}

	return http.StatusInternalServerError
}

// PublicMessage returns the text that may be shown to a client for err.
// Anything that is not a known domain error collapses to a generic message.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var forbidden *ForbiddenError
	if errors.As(err, &forbidden) {
		return forbidden.Instruction
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return validation.Error()
	}
	for _, known := range publicErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict.Error()
	}
	return ErrInternalServer.Error()
}

// Errorf creates a new error with formatting, useful for wrapping.
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
