package errors

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// APIError is the failure envelope every endpoint uses.
type APIError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

type RateLimitError struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	Code          string `json:"code"`
	RetryAfterSec int64  `json:"retry_after_sec"`
}

func New(code, message string) APIError {
	return APIError{Success: false, Error: message, Code: code}
}

func Write(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func WriteRateLimited(w http.ResponseWriter, message string, retryAfterSec int64) {
	if retryAfterSec > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSec, 10))
	}
	Write(w, http.StatusTooManyRequests, RateLimitError{
		Success:       false,
		Error:         message,
		Code:          "RATE_LIMITED",
		RetryAfterSec: retryAfterSec,
	})
}
