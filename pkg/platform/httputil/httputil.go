// Package httputil centralizes JSON request decoding and domain error
// translation so every handler produces the same wire envelopes.
package httputil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "liaison/pkg/domain-errors"
)

// statusByCode maps domain error codes to HTTP statuses. Retryable
// collaborator outages map to 503 so clients can back off and retry;
// non-retryable failures map to 4xx/5xx that discourage blind retry.
var statusByCode = map[dErrors.Code]int{
	dErrors.CodeValidation:           http.StatusBadRequest,
	dErrors.CodeInvalidPayload:       http.StatusBadRequest,
	dErrors.CodeUninitializedSession: http.StatusBadRequest,
	dErrors.CodeUnauthorized:         http.StatusUnauthorized,
	dErrors.CodeNotFound:             http.StatusNotFound,
	dErrors.CodeUnmatchedCallback:    http.StatusNotFound,
	dErrors.CodeAmbiguous:            http.StatusConflict,
	dErrors.CodeSessionConflict:      http.StatusConflict,
	dErrors.CodeSessionClosed:        http.StatusGone,
	dErrors.CodeExchangeRejected:     http.StatusUnprocessableEntity,
	dErrors.CodeKeyUnavailable:       http.StatusBadGateway,
	dErrors.CodeCallbackTimeout:      http.StatusGatewayTimeout,
	dErrors.CodeDirectoryUnavailable: http.StatusServiceUnavailable,
	dErrors.CodeQueueUnavailable:     http.StatusServiceUnavailable,
	dErrors.CodeInternal:             http.StatusInternalServerError,
}

// ToHTTPStatus translates a domain error code into an HTTP status.
func ToHTTPStatus(code dErrors.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteError writes a JSON error envelope for a domain error. Internal error
// details never leave the process; every other code includes its message as
// error_description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal {
		body["error_description"] = dErrors.MessageOf(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ToHTTPStatus(code))
	_ = json.NewEncoder(w).Encode(body)
}

// WriteJSON writes a success payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// DecodeAndPrepare decodes a JSON request body into T, writing a validation
// error and logging on failure. The bool result tells the handler whether to
// continue.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "failed to decode request body",
				"request_id", requestID,
				"error", err,
			)
		}
		WriteError(w, dErrors.New(dErrors.CodeValidation, "malformed JSON request body"))
		return req, false
	}
	return req, true
}
