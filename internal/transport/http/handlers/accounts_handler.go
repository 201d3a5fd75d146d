package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ivankudzin/tgaccounts/internal/services/accounts"
	authsvc "github.com/ivankudzin/tgaccounts/internal/services/auth"
	"github.com/ivankudzin/tgaccounts/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/tgaccounts/internal/transport/http/errors"
)

type tokenIssuer interface {
	StartSession(ctx context.Context, userID int64) (authsvc.Tokens, error)
}

type AccountsHandler struct {
	service         *accounts.Service
	tokens          tokenIssuer
	exposeResetCode bool
	logger          *zap.Logger
}

func NewAccountsHandler(service *accounts.Service, exposeResetCode bool, logger *zap.Logger) *AccountsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountsHandler{
		service:         service,
		exposeResetCode: exposeResetCode,
		logger:          logger,
	}
}

// AttachTokens makes Login return access and refresh tokens.
func (h *AccountsHandler) AttachTokens(tokens tokenIssuer) {
	h.tokens = tokens
}

func (h *AccountsHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	userID, err := h.service.Register(r.Context(), req.FullName, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, accounts.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "full_name, email and password are required")
		case errors.Is(err, accounts.ErrConflict):
			writeBadRequest(w, "EMAIL_TAKEN", "a user with this email already exists")
		default:
			h.internal(w, r, err, "register failed")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.RegisterResponse{
		Success: true,
		Message: "Registration successful",
		UserID:  userID,
	})
}

func (h *AccountsHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	user, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, accounts.ErrAuth) {
			writeUnauthorized(w, "INVALID_CREDENTIALS", "invalid email or password")
			return
		}
		h.internal(w, r, err, "login failed")
		return
	}

	res := dto.LoginResponse{
		Success: true,
		Message: "Login successful",
		User:    dto.FromUser(user),
	}
	if h.tokens != nil {
		issued, err := h.tokens.StartSession(r.Context(), user.ID)
		if err != nil {
			h.internal(w, r, err, "issue tokens failed")
			return
		}
		res.AccessToken = issued.AccessToken
		res.RefreshToken = issued.RefreshToken
		res.ExpiresInSec = expiresInSec(issued.AccessExpiresAt)
	}

	httperrors.Write(w, http.StatusOK, res)
}

func (h *AccountsHandler) RequestTelegramLink(w http.ResponseWriter, r *http.Request) {
	var req dto.EmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	link, err := h.service.RequestTelegramLink(r.Context(), req.Email)
	if err != nil {
		var limited *accounts.RateLimitError
		switch {
		case errors.As(err, &limited):
			httperrors.WriteRateLimited(w, "too many code requests, try again later", limited.RetryAfterSec)
		case errors.Is(err, accounts.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "email is required")
		case errors.Is(err, accounts.ErrNotFound):
			writeBadRequest(w, "USER_NOT_FOUND", "user not found, finish registration first")
		default:
			h.internal(w, r, err, "request telegram link failed")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.TelegramLinkResponse{
		Success:      true,
		LinkCode:     link.Code,
		Instructions: link.Instructions,
		Message:      "Telegram link code issued",
		ExpiresAt:    link.ExpiresAt,
	})
}

func (h *AccountsHandler) ConfirmTelegramLink(w http.ResponseWriter, r *http.Request) {
	var req dto.ConfirmTelegramLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	res, err := h.service.ConfirmTelegramLink(r.Context(), req.LinkCode, int64(req.TelegramChatID))
	if err != nil {
		if !writeCodeError(w, err) {
			h.internal(w, r, err, "confirm telegram link failed")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.ConfirmTelegramLinkResponse{
		Success: true,
		Message: "Telegram linked successfully",
		Email:   res.Email,
		Name:    res.Name,
	})
}

// RequestPasswordReset reports business failures with success:false and
// HTTP 200 so the form can show them inline.
func (h *AccountsHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req dto.EmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	reset, err := h.service.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		var limited *accounts.RateLimitError
		switch {
		case errors.As(err, &limited):
			httperrors.WriteRateLimited(w, "too many code requests, try again later", limited.RetryAfterSec)
		case errors.Is(err, accounts.ErrValidation):
			writeSoftFailure(w, "VALIDATION_ERROR", "email is required")
		case errors.Is(err, accounts.ErrNotFound):
			writeSoftFailure(w, "USER_NOT_FOUND", "no user with this email")
		case errors.Is(err, accounts.ErrNotLinked):
			writeSoftFailure(w, "TELEGRAM_NOT_LINKED", "link Telegram to this account first")
		case errors.Is(err, accounts.ErrNotifier):
			h.logger.Warn("reset code delivery failed", zap.Error(err))
			writeSoftFailure(w, "DELIVERY_FAILED", "could not deliver the code to Telegram, try again later")
		default:
			h.internal(w, r, err, "request password reset failed")
		}
		return
	}

	res := dto.PasswordResetResponse{
		Success: true,
		Message: "Reset code sent to Telegram",
	}
	if h.exposeResetCode {
		res.Code = reset.Code
	}
	httperrors.Write(w, http.StatusOK, res)
}

func (h *AccountsHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ResetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		if !writeCodeError(w, err) {
			h.internal(w, r, err, "reset password failed")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.MessageResponse{
		Success: true,
		Message: "Password changed",
	})
}

func (h *AccountsHandler) internal(w http.ResponseWriter, r *http.Request, err error, message string) {
	reportInternal(r.Context(), h.logger, err, message)
	writeInternal(w, "INTERNAL_ERROR", "internal server error")
}

// writeCodeError maps code lookup failures to 400s. It reports false when
// err is not one of them.
func writeCodeError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, accounts.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "request validation failed")
	case errors.Is(err, accounts.ErrNotFound):
		writeBadRequest(w, "CODE_NOT_FOUND", "code not found")
	case errors.Is(err, accounts.ErrCodeUsed):
		writeBadRequest(w, "CODE_USED", "code already used")
	case errors.Is(err, accounts.ErrCodeExpired):
		writeBadRequest(w, "CODE_EXPIRED", "code expired")
	default:
		return false
	}
	return true
}
