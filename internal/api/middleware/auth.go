package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/jwtauth/v5"

	"github.com/wra13107/digital-memorial-landing/internal/common"
	"github.com/wra13107/digital-memorial-landing/internal/common/security"
	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
)

type contextKey string

const userCtxKey contextKey = "user"

// VerifyEmailInstruction is shown when a verified address is required.
const VerifyEmailInstruction = "Please verify your email address before creating a memorial. " +
	"Check your inbox for the verification link or request a new one."

// SessionResolver loads the user behind verified session claims. A nil user
// with a nil error means the account no longer exists.
type SessionResolver interface {
	UserForClaims(ctx context.Context, claims *security.Claims) (*model.User, error)
}

// Identify reads the session cookie and attaches the user to the request
// context. A missing, invalid or expired token leaves the request anonymous.
func Identify(tokens *security.TokenService, resolver SessionResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	verify := jwtauth.Verify(tokens.JWTAuth(), security.TokenFromCookie)
	return func(next http.Handler) http.Handler {
		return verify(attachUser(resolver, logger, next))
	}
}

func attachUser(resolver SessionResolver, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := security.ClaimsFromToken(token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		user, err := resolver.UserForClaims(r.Context(), claims)
		if err != nil {
			logger.Error("failed to load session user", "user_id", claims.UserID, "error", err)
			common.RespondWithDomainError(w, err)
			return
		}
		if user == nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// UserFromContext returns the signed-in user, or nil for anonymous requests.
func UserFromContext(ctx context.Context) *model.User {
	user, _ := ctx.Value(userCtxKey).(*model.User)
	return user
}

// CheckAuthenticated fails with ErrUnauthorized for anonymous callers.
func CheckAuthenticated(user *model.User) error {
	if user == nil {
		return common.ErrUnauthorized
	}
	return nil
}

// CheckRole requires an authenticated user whose role is one of roles.
func CheckRole(user *model.User, roles ...model.Role) error {
	if err := CheckAuthenticated(user); err != nil {
		return err
	}
	for _, role := range roles {
		if user.Role == role {
			return nil
		}
	}
	return common.ErrForbidden
}

// CheckVerifiedEmail requires an authenticated user with a verified address.
func CheckVerifiedEmail(user *model.User) error {
	if err := CheckAuthenticated(user); err != nil {
		return err
	}
	if !user.EmailVerified {
		return &common.ForbiddenError{Instruction: VerifyEmailInstruction}
	}
	return nil
}

func gate(check func(*model.User) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := check(UserFromContext(r.Context())); err != nil {
				common.RespondWithDomainError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func RequireAuth(next http.Handler) http.Handler {
	return gate(CheckAuthenticated)(next)
}

func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return gate(func(u *model.User) error { return CheckRole(u, roles...) })
}

func AdminOnly(next http.Handler) http.Handler {
	return RequireRole(model.RoleAdmin)(next)
}

func RequireVerifiedEmail(next http.Handler) http.Handler {
	return gate(CheckVerifiedEmail)(next)
}
