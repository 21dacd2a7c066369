package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wra13107/digital-memorial-landing/internal/api/middleware"
	"github.com/wra13107/digital-memorial-landing/internal/common"
	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads the request body into dst and answers 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			common.RespondWithError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}

// currentUser returns the authenticated caller or answers 401.
func currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user := middleware.UserFromContext(r.Context())
	if err := middleware.CheckAuthenticated(user); err != nil {
		common.RespondWithDomainError(w, err)
		return nil, false
	}
	return user, true
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		common.RespondWithDomainError(w, &common.ValidationError{Field: name, Message: "must be a positive integer"})
		return 0, false
	}
	return id, true
}

type userResponse struct {
	User *model.User `json:"user"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
