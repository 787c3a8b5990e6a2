// Package nativemsg implements the browser native messaging host protocol:
// each message is a JSON document preceded by its length as a 32-bit
// unsigned integer in native byte order, exchanged over stdin and stdout.
package nativemsg

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	apperrors "github.com/florianilch/notion-clipper/internal/errors"
	"github.com/florianilch/notion-clipper/internal/service"
)

const (
	// MaxIncoming is the largest message the browser sends to a host.
	MaxIncoming = 64 << 20

	// MaxOutgoing is the largest message a host may send to the browser.
	MaxOutgoing = 1 << 20
)

// ErrTooLarge is returned for frames exceeding the protocol limits.
var ErrTooLarge = errors.New("native message too large")

// ReadMessage reads one framed message. It returns io.EOF when r ends
// cleanly between messages.
func ReadMessage(r io.Reader) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.NativeEndian, &size); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading message length: %w", err)
	}
	if size > MaxIncoming {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading message body: %w", err)
	}
	return buf, nil
}

// WriteMessage marshals v and writes it as one framed message.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	if len(data) > MaxOutgoing {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	frame := make([]byte, 4+len(data))
	binary.NativeEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Handler runs one service message.
type Handler interface {
	Handle(ctx context.Context, msg service.Message) service.Result
}

// Serve answers messages from r on w until r ends or ctx is done. Messages
// are handled one at a time, in order.
func Serve(ctx context.Context, r io.Reader, w io.Writer, h Handler) error {
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, r, w, h)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// A read blocked on stdin cannot be interrupted; the process
		// exits shortly after.
		return ctx.Err()
	}
}

func serve(ctx context.Context, r io.Reader, w io.Writer, h Handler) error {
	for {
		data, err := ReadMessage(r)
		if errors.Is(err, io.EOF) {
			slog.DebugContext(ctx, "native messaging input closed")
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		res := handle(ctx, h, data)
		if err := WriteMessage(w, res); err != nil {
			if !errors.Is(err, ErrTooLarge) {
				return err
			}
			slog.WarnContext(ctx, "result exceeds native messaging limit", "error", err)
			if err := WriteMessage(w, service.Result{
				Error: "response too large",
				Code:  apperrors.CodeInternal,
			}); err != nil {
				return err
			}
		}
	}
}

func handle(ctx context.Context, h Handler, data []byte) service.Result {
	var msg service.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.WarnContext(ctx, "failed to decode native message", "error", err)
		return service.Result{
			Error: "malformed message",
			Code:  apperrors.CodeInvalidRequest,
		}
	}
	return h.Handle(ctx, msg)
}
