package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	sentryinfra "github.com/ivankudzin/tgaccounts/internal/infra/sentry"
	httperrors "github.com/ivankudzin/tgaccounts/internal/transport/http/errors"
)

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.New(code, message))
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusUnauthorized, httperrors.New(code, message))
}

func writeNotFound(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusNotFound, httperrors.New(code, message))
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.New(code, message))
}

// writeSoftFailure reports an expected business failure with HTTP 200.
func writeSoftFailure(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusOK, httperrors.New(code, message))
}

// reportInternal logs err and forwards it to Sentry before the 500 is written.
func reportInternal(ctx context.Context, log *zap.Logger, err error, message string) {
	if log != nil {
		log.Error(message, zap.Error(err))
	}
	sentryinfra.CaptureError(ctx, err, message)
}

func expiresInSec(at time.Time) int64 {
	sec := int64(time.Until(at).Seconds())
	if sec < 0 {
		return 0
	}
	return sec
}
