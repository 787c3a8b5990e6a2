package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	apperrors "github.com/florianilch/notion-clipper/internal/errors"
	"github.com/florianilch/notion-clipper/internal/service"
)

// writeJSON writes a JSON response with the given status code.
// Logs encoding failures internally using the provided context.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	// Headers and status are written before encoding to avoid buffering.
	// If encoding fails, the client may receive a partial response.
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeRequestError reports a request the bridge could not turn into a
// message. The body has the same shape as a failed service result.
func writeRequestError(ctx context.Context, w http.ResponseWriter, status int) {
	writeJSON(ctx, w, service.Result{
		Success: false,
		Error:   http.StatusText(status),
		Code:    apperrors.CodeInvalidRequest,
	}, status)
}
