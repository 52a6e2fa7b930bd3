// Package httpserver provides the chi-based HTTP edge: routing, middleware,
// JSON response helpers, request validation, and typed-error mapping.
package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/agentpassport/passport/internal/apierror"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// errorBody is the fixed error envelope from spec.md §6/§9.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type envelope struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"request_id"`
}

// codeStatus maps a stable error code to its HTTP status, owned solely by
// the edge layer per Design Note 9 (no switch duplicated in handlers).
var codeStatus = map[string]int{
	apierror.CodeAgentNotFound:        http.StatusNotFound,
	apierror.CodeHandleTaken:          http.StatusBadRequest,
	apierror.CodeInvalidPublicKey:     http.StatusBadRequest,
	apierror.CodeChallengeNotFound:    http.StatusNotFound,
	apierror.CodeChallengeExpired:     http.StatusBadRequest,
	apierror.CodeChallengeAlreadyUsed: http.StatusBadRequest,
	apierror.CodeInvalidSignature:     http.StatusUnauthorized,
	apierror.CodeNoActiveKeys:         http.StatusBadRequest,
	apierror.CodeAgentSuspended:       http.StatusForbidden,
	apierror.CodeInvalidToken:         http.StatusUnauthorized,
	apierror.CodeTokenExpired:         http.StatusUnauthorized,
	apierror.CodeUnauthorized:         http.StatusUnauthorized,
	apierror.CodeForbidden:            http.StatusForbidden,
	apierror.CodeRateLimited:          http.StatusTooManyRequests,
	apierror.CodeValidationError:      http.StatusBadRequest,
	apierror.CodeInternalError:        http.StatusInternalServerError,
	apierror.CodeKeyNotFound:          http.StatusNotFound,
	apierror.CodeKeyAlreadyRevoked:    http.StatusBadRequest,
	apierror.CodeAppNotFound:          http.StatusNotFound,
	apierror.CodeAppSuspended:         http.StatusForbidden,
	apierror.CodeRedisUnavailable:     http.StatusServiceUnavailable,
}

// statusForKind is the fallback mapping by Kind when a code isn't in the table.
var statusForKind = map[apierror.Kind]int{
	apierror.KindValidation: http.StatusBadRequest,
	apierror.KindAuth:       http.StatusUnauthorized,
	apierror.KindAuthz:      http.StatusForbidden,
	apierror.KindNotFound:   http.StatusNotFound,
	apierror.KindConflict:   http.StatusBadRequest,
	apierror.KindRateLimit:  http.StatusTooManyRequests,
	apierror.KindInternal:   http.StatusInternalServerError,
}

// RespondAPIError maps a typed error (or any error) to the fixed envelope
// and writes it. In production, unmapped/internal messages are replaced by
// a fixed string.
func RespondAPIError(w http.ResponseWriter, r *http.Request, err error, production bool) {
	ae, ok := apierror.As(err)
	if !ok {
		ae = apierror.Internal(apierror.CodeInternalError, "internal error")
	}

	status, ok := codeStatus[ae.Code]
	if !ok {
		status, ok = statusForKind[ae.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
	}

	message := ae.Message
	if status == http.StatusInternalServerError && production {
		message = "an internal error occurred"
	}

	if status == http.StatusTooManyRequests && w.Header().Get("Retry-After") == "" {
		w.Header().Set("Retry-After", "1")
	}

	Respond(w, status, envelope{
		Error:     errorBody{Code: ae.Code, Message: message, Details: ae.Details},
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// RespondError writes an ad hoc error using a code string directly, for
// handlers that haven't constructed a typed apierror.Error.
func RespondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	Respond(w, status, envelope{
		Error:     errorBody{Code: code, Message: message},
		RequestID: RequestIDFromContext(r.Context()),
	})
}
