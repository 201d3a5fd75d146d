package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ivankudzin/tgaccounts/internal/services/accounts"
	authsvc "github.com/ivankudzin/tgaccounts/internal/services/auth"
	"github.com/ivankudzin/tgaccounts/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/tgaccounts/internal/transport/http/errors"
)

type UsersHandler struct {
	service *accounts.Service
	logger  *zap.Logger
}

func NewUsersHandler(service *accounts.Service, logger *zap.Logger) *UsersHandler {
	return &UsersHandler{service: service, logger: logger}
}

func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		reportInternal(r.Context(), h.logger, err, "list users failed")
		writeInternal(w, "INTERNAL_ERROR", "internal server error")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.UsersResponse{
		Success: true,
		Users:   dto.FromUsers(users),
	})
}

func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}

	user, err := h.service.GetUser(r.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			writeNotFound(w, "USER_NOT_FOUND", "user not found")
			return
		}
		reportInternal(r.Context(), h.logger, err, "load current user failed")
		writeInternal(w, "INTERNAL_ERROR", "internal server error")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.MeResponse{
		Success: true,
		User:    dto.FromUser(user),
	})
}
