package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wra13107/digital-memorial-landing/internal/api/middleware"
	"github.com/wra13107/digital-memorial-landing/internal/app/service"
	"github.com/wra13107/digital-memorial-landing/internal/common"
	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
)

type AdminHandler struct {
	adminService *service.AdminService
}

func NewAdminHandler(adminService *service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

type usersResponse struct {
	Users []*model.User `json:"users"`
}

func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.AdminOnly)
	r.Get("/users", h.listUsers)
	r.Post("/users", h.createUser)
	r.Get("/users/{id}", h.getUser)
	r.Patch("/users/{id}", h.updateUser)
	r.Delete("/users/{id}", h.deleteUser)
}

func (h *AdminHandler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.adminService.ListUsers(r.Context())
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	if users == nil {
		users = []*model.User{}
	}
	common.RespondWithJSON(w, http.StatusOK, usersResponse{Users: users})
}

func (h *AdminHandler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	user, err := h.adminService.GetUser(r.Context(), id)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, userResponse{User: user})
}

func (h *AdminHandler) createUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req service.AdminCreateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.adminService.CreateUser(r.Context(), actor.ID, req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, userResponse{User: user})
}

func (h *AdminHandler) updateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req service.AdminUpdateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.adminService.UpdateUser(r.Context(), actor.ID, id, req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, userResponse{User: user})
}

func (h *AdminHandler) deleteUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.adminService.DeleteUser(r.Context(), actor.ID, id); err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, successResponse{Success: true})
}
