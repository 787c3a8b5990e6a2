package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/florianilch/notion-clipper/internal/observability/middleware"
	"github.com/florianilch/notion-clipper/internal/service"
)

// MessageHandler runs one service message.
type MessageHandler interface {
	Handle(ctx context.Context, msg service.Message) service.Result
}

// Compile-time check that the service satisfies MessageHandler
var _ MessageHandler = (*service.Service)(nil)

// messagesHandler decodes a service message from the request body and writes
// the result. Handled messages always answer 200; success is in the body.
func messagesHandler(h MessageHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var msg service.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				slog.WarnContext(ctx, "request exceeds size limit", "limit_bytes", maxBytesErr.Limit)
				writeRequestError(ctx, w, http.StatusRequestEntityTooLarge)
				return
			}
			slog.WarnContext(ctx, "failed to decode message", "error", err)
			writeRequestError(ctx, w, http.StatusBadRequest)
			return
		}

		middleware.SetLogAttrs(ctx, slog.String("message_type", string(msg.Type)))

		res := h.Handle(ctx, msg)
		if !res.Success {
			middleware.SetLogAttrs(ctx, slog.String("error_code", string(res.Code)))
		}
		writeJSON(ctx, w, res, http.StatusOK)
	}
}
