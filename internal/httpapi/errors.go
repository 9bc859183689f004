package httpapi

import (
	"encoding/json"
	"net/http"

	"nexd/internal/fault"
	"nexd/pkg/types"
)

// statusForErr maps the engine's error taxonomy onto HTTP status codes.
func statusForErr(err error) int {
	switch {
	case fault.IsInvalidArgument(err):
		return http.StatusBadRequest
	case fault.IsResourceExhausted(err):
		return http.StatusTooManyRequests
	case fault.IsProviderError(err):
		return http.StatusBadGateway
	case fault.IsNoRouteAvailable(err), fault.IsServiceUnavailable(err):
		return http.StatusServiceUnavailable
	case fault.IsTimeout(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
