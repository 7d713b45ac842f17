package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"rxsearch/internal/fault"
	"rxsearch/internal/logging"
)

// =============================================================================
// ENVELOPE
// =============================================================================

// errorEnvelope is the failure shape shared by every endpoint.
type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// retryAfterSeconds is advertised on 503s so clients back off instead of
// hammering a tripped breaker.
const retryAfterSeconds = 2

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorBody(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorEnvelope{
		Success: false,
		Error:   errorBody{Kind: kind, Message: message},
	})
}

// writeError maps a fault kind onto an HTTP status and renders the failure
// envelope. Unclassified errors are treated as internal and the detail stays
// in the log, not the response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := fault.KindOf(err)
	status := statusFor(kind)

	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}

	writeErrorBody(w, status, string(kind), publicMessage(kind, err))
}

func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.InvalidInput:
		return http.StatusBadRequest
	case fault.NotFound:
		return http.StatusNotFound
	case fault.UpstreamTransient, fault.UpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage picks what the client sees. Internal failures get a generic
// line; classified failures surface their cause, which fault constructors
// already phrase for users.
func publicMessage(kind fault.Kind, err error) string {
	switch kind {
	case fault.Internal, fault.InvalidLLMResponse:
		return "internal error"
	case fault.UpstreamTransient, fault.UpstreamUnavailable:
		return "a dependency is unavailable, retry shortly"
	}
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Err != nil {
		return fe.Err.Error()
	}
	return string(kind)
}
