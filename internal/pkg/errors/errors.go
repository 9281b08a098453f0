package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

// ErrLastOwner signals that an operation would leave an organization with no
// owner.
var ErrLastOwner = stderrors.New("organization would be left without an owner")

type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthenticated   = "UNAUTHENTICATED"
	ErrCodeNoOrgSelected     = "NO_ORGANIZATION_SELECTED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidToken      = "INVALID_TOKEN"
	ErrCodeExpiredToken      = "EXPIRED_TOKEN"
	ErrCodeUsedToken         = "USED_TOKEN"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeUnavailable       = "UNAVAILABLE"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

func WriteError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
		Details: details,
	})
}

// WriteStoreError reports a backing-store failure. Infrastructure errors are
// surfaced as 503 UNAVAILABLE so transports can retry; they are never mapped
// onto authorization outcomes.
func WriteStoreError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("backing store failure")
	WriteError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "Store unavailable", nil)
}
