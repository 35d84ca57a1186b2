package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/coverbridge/auth-service/internal/auth"
	"github.com/coverbridge/auth-service/internal/identity"
	"github.com/coverbridge/auth-service/internal/rate"
	"github.com/coverbridge/auth-service/internal/token"
)

// errorBody is the wire shape of every non-2xx response. Code values are
// stable contract; messages are for humans and may change.
type errorBody struct {
	Code              string            `json:"code"`
	Message           string            `json:"message"`
	Fields            map[string]string `json:"fields,omitempty"`
	RetryAfterSeconds int               `json:"retryAfterSeconds,omitempty"`
}

type statusBody struct {
	Status string `json:"status"`
}

var statusOK = statusBody{Status: "ok"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

// writeServiceError maps a service error onto the wire contract. Anything
// unmapped is an internal fault: logged in full, reported as nothing.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *auth.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Code:    "validation_failed",
			Message: "request validation failed",
			Fields:  verr.Fields,
		})
		return
	}

	var locked *auth.LockedError
	if errors.As(err, &locked) {
		retry := int(locked.RetryAfter.Seconds())
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, http.StatusLocked, errorBody{
			Code:              "account_locked",
			Message:           "account temporarily locked",
			RetryAfterSeconds: retry,
		})
		return
	}

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
	case errors.Is(err, auth.ErrMFARequired):
		writeError(w, http.StatusUnauthorized, "mfa_required", "a one-time code is required")
	case errors.Is(err, auth.ErrMFAInvalid):
		writeError(w, http.StatusUnauthorized, "mfa_invalid", "invalid one-time code")
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, http.StatusLocked, "account_locked", "account temporarily locked")
	case errors.Is(err, auth.ErrAccountDisabled):
		writeError(w, http.StatusForbidden, "account_disabled", "account is not active")
	case errors.Is(err, auth.ErrMFANotEnabled):
		writeError(w, http.StatusBadRequest, "mfa_not_enabled", "multi-factor login is not enabled")
	case errors.Is(err, auth.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission_denied", "permission denied")
	case errors.Is(err, auth.ErrResetInvalid), errors.Is(err, auth.ErrVerificationInvalid):
		writeError(w, http.StatusBadRequest, "invalid_token", "invalid or expired token")
	case errors.Is(err, identity.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "conflict", "username already taken")
	case errors.Is(err, identity.ErrEmailTaken):
		writeError(w, http.StatusConflict, "conflict", "email already registered")
	case errors.Is(err, identity.ErrNotVerified):
		writeError(w, http.StatusConflict, "conflict", "email address is not verified")
	case errors.Is(err, identity.ErrNotFound):
		// Only the admin routes surface this; public flows answer with
		// generic refusals long before.
		writeError(w, http.StatusNotFound, "not_found", "identity not found")
	case errors.Is(err, token.ErrExpired), errors.Is(err, token.ErrSignature),
		errors.Is(err, token.ErrMalformed), errors.Is(err, token.ErrWrongType):
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
	case errors.Is(err, rate.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
	default:
		s.logger.Error("unhandled service error",
			zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
