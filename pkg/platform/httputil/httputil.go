// Package httputil centralizes JSON envelopes and domain error translation for
// HTTP handlers. Keeping it in one place ensures every endpoint speaks the
// same error dialect.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "trustgate/pkg/domain-errors"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to an HTTP status and JSON envelope.
// Internal errors omit the description so infrastructure details never leak
// to clients; everything else includes the message for field-level feedback.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := toHTTPStatus(code)

	body := map[string]string{"error": string(code)}
	if status < http.StatusInternalServerError {
		if msg := dErrors.MessageOf(err); msg != "" {
			body["error_description"] = msg
		}
	}
	WriteJSON(w, status, body)
}

// DecodeAndPrepare decodes the JSON request body into T and writes a
// bad-request envelope on failure. The bool result reports whether the
// handler should proceed.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, requestID string) (T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(r.Context(), "failed to decode request body",
			"request_id", requestID,
			"path", r.URL.Path,
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		var zero T
		return zero, false
	}
	return req, true
}

func toHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput,
		dErrors.CodeInvalidAsset, dErrors.CodeIncompleteSubmission:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden, dErrors.CodeNotClaimOwner:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeActiveRequestExists,
		dErrors.CodeAlreadyClaimed, dErrors.CodeStaleWrite,
		dErrors.CodeInvalidTransition:
		return http.StatusConflict
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeAnalysisUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
