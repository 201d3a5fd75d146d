package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ivankudzin/tgaccounts/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/tgaccounts/internal/transport/http/errors"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	env   string
	store pinger
	now   func() time.Time
}

func NewHealthHandler(env string, store pinger) *HealthHandler {
	return &HealthHandler{env: env, store: store, now: time.Now}
}

// Handle always answers 200; a failing store is reported in the body only.
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	storeStatus := "ok"
	if h.store == nil {
		storeStatus = "unavailable"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			storeStatus = "unavailable"
		}
	}

	httperrors.Write(w, http.StatusOK, dto.HealthResponse{
		Status:      "OK",
		Message:     "Server is running",
		Timestamp:   h.now().UTC(),
		Environment: h.env,
		Store:       storeStatus,
	})
}
