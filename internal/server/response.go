package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
)

// writeJSON writes data as a JSON body with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("http_response_encode_failed", slog.String("error", err.Error()))
	}
}

// writeError writes err in the structured error format with a status
// derived from its code.
func writeError(w http.ResponseWriter, err error) {
	body, jerr := serrors.FormatJSON(err)
	if jerr != nil {
		body = []byte(`{"code":"` + serrors.ErrCodeInternal + `"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	_, _ = w.Write(body)
}

// statusFor maps error codes to HTTP status codes. A failed search engine
// is an upstream failure, so 502.
func statusFor(err error) int {
	switch serrors.GetCode(err) {
	case serrors.ErrCodeQueryEmpty, serrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case serrors.ErrCodeFileNotFound:
		return http.StatusNotFound
	case serrors.ErrCodeSearchFailed, serrors.ErrCodeNetworkUnavailable:
		return http.StatusBadGateway
	case serrors.ErrCodeNetworkTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
