package api

import (
	"encoding/json"
	"net/http"

	apperrors "git-metrics/internal/errors"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// statusFor maps an error kind onto an HTTP status and error code.
func statusFor(kind apperrors.Kind) (int, string) {
	switch kind {
	case apperrors.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case apperrors.KindInvalidInput:
		return http.StatusBadRequest, "INVALID_INPUT"
	case apperrors.KindConcurrentSyncRejected:
		return http.StatusConflict, "SYNC_IN_PROGRESS"
	case apperrors.KindStorageConflict:
		return http.StatusConflict, "STORAGE_CONFLICT"
	case apperrors.KindAuthenticationFailed:
		return http.StatusUnauthorized, "AUTHENTICATION_FAILED"
	case apperrors.KindRateLimited:
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case apperrors.KindNetworkError, apperrors.KindMalformedResponse:
		return http.StatusBadGateway, "PROVIDER_UNAVAILABLE"
	case apperrors.KindCanceled:
		return http.StatusServiceUnavailable, "CANCELED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// fail writes err as an error response. Internal errors are logged and their details hidden.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(apperrors.KindOf(err))
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondWithError(w, status, code, "Internal server error")
		return
	}
	respondWithError(w, status, code, err.Error())
}
