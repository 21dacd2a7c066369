package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wra13107/digital-memorial-landing/internal/api/middleware"
	"github.com/wra13107/digital-memorial-landing/internal/app/service"
	"github.com/wra13107/digital-memorial-landing/internal/common"
	"github.com/wra13107/digital-memorial-landing/internal/common/security"
)

const forgotPasswordMessage = "If an account exists for that address, a reset link has been sent."

type AuthHandler struct {
	authService    *service.AuthService
	accountService *service.AccountService
	limit          func(http.Handler) http.Handler
}

// NewAuthHandler wires the auth endpoints. limit guards the credential
// endpoints and may be nil.
func NewAuthHandler(authService *service.AuthService, accountService *service.AccountService,
	limit func(http.Handler) http.Handler) *AuthHandler {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	return &AuthHandler{authService: authService, accountService: accountService, limit: limit}
}

func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(limited chi.Router) {
		limited.Use(h.limit)
		limited.Post("/register", h.register)
		limited.Post("/login", h.login)
		limited.Post("/forgot-password", h.forgotPassword)
		limited.Post("/reset-password", h.resetPassword)
	})
	r.Post("/logout", h.logout)
	r.Get("/me", h.me)
	r.Post("/verify-email", h.verifyEmail)

	r.Group(func(authed chi.Router) {
		authed.Use(middleware.RequireAuth)
		authed.Get("/profile", h.getProfile)
		authed.Put("/profile", h.updateProfile)
		authed.Post("/resend-verification", h.resendVerification)
		authed.Post("/change-password", h.changePassword)
		authed.Delete("/account", h.deleteAccount)
	})
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.authService.Register(r.Context(), req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	http.SetCookie(w, security.SessionCookie(res.Token))
	common.RespondWithJSON(w, http.StatusCreated, userResponse{User: res.User})
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.authService.Login(r.Context(), req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	http.SetCookie(w, security.SessionCookie(res.Token))
	common.RespondWithJSON(w, http.StatusOK, userResponse{User: res.User})
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, security.ClearSessionCookie())
	common.RespondWithJSON(w, http.StatusOK, successResponse{Success: true})
}

// me answers {"user": null} for anonymous callers rather than 401.
func (h *AuthHandler) me(w http.ResponseWriter, r *http.Request) {
	common.RespondWithJSON(w, http.StatusOK, userResponse{User: middleware.UserFromContext(r.Context())})
}

func (h *AuthHandler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req service.ForgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.accountService.ForgotPassword(r.Context(), req); err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, successResponse{Success: true, Message: forgotPasswordMessage})
}

func (h *AuthHandler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req service.ResetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.accountService.ResetPassword(r.Context(), req); err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, successResponse{Success: true, Message: "Password has been reset."})
}

func (h *AuthHandler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req service.VerifyEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.accountService.VerifyEmail(r.Context(), req); err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, successResponse{Success: true, Message: "Email verified."})
}

func (h *AuthHandler) getProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	profile, err := h.authService.Profile(r.Context(), user.ID)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, userResponse{User: profile})
}

func (h *AuthHandler) updateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req service.UpdateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.authService.UpdateProfile(r.Context(), user.ID, req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, userResponse{User: updated})
}

func (h *AuthHandler) resendVerification(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.accountService.ResendVerification(r.Context(), user.ID); err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, successResponse{Success: true, Message: "Verification email sent."})
}

func (h *AuthHandler) changePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req service.ChangePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.authService.ChangePassword(r.Context(), user.ID, req); err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *AuthHandler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.authService.DeleteAccount(r.Context(), user.ID); err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	http.SetCookie(w, security.ClearSessionCookie())
	common.RespondWithJSON(w, http.StatusOK, successResponse{Success: true})
}
