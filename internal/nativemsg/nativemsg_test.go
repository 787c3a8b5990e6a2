package nativemsg

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/florianilch/notion-clipper/internal/errors"
	"github.com/florianilch/notion-clipper/internal/service"
)

func frame(t *testing.T, payload string) []byte {
	t.Helper()
	buf := make([]byte, 4, 4+len(payload))
	binary.NativeEndian.PutUint32(buf, uint32(len(payload)))
	return append(buf, payload...)
}

func TestReadWriteMessage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, map[string]string{"type": "GET_STATUS"}))

	assert.Equal(t, uint32(buf.Len()-4), binary.NativeEndian.Uint32(buf.Bytes()[:4]))

	data, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"GET_STATUS"}`, string(data))

	_, err = ReadMessage(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadMessage_Errors(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader([]byte{1, 2}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)

	truncated := frame(t, `{"type":"GET_STATUS"}`)
	_, err = ReadMessage(bytes.NewReader(truncated[:len(truncated)-3]))
	assert.Error(t, err)

	huge := make([]byte, 4)
	binary.NativeEndian.PutUint32(huge, MaxIncoming+1)
	_, err = ReadMessage(bytes.NewReader(huge))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestWriteMessage_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	err := WriteMessage(&buf, strings.Repeat("x", MaxOutgoing))
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Zero(t, buf.Len())
}

type echoHandler struct {
	types []service.Type
}

func (e *echoHandler) Handle(_ context.Context, msg service.Message) service.Result {
	e.types = append(e.types, msg.Type)
	if msg.Type == "BIG" {
		return service.Result{Success: true, PageID: strings.Repeat("p", MaxOutgoing)}
	}
	return service.Result{Success: true, Workspace: string(msg.Type)}
}

func readResults(t *testing.T, r io.Reader) []service.Result {
	t.Helper()
	var out []service.Result
	for {
		data, err := ReadMessage(r)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		var res service.Result
		require.NoError(t, json.Unmarshal(data, &res))
		out = append(out, res)
	}
}

func TestServe(t *testing.T) {
	var in bytes.Buffer
	in.Write(frame(t, `{"type":"GET_STATUS"}`))
	in.Write(frame(t, `not json`))
	in.Write(frame(t, `{"type":"BIG"}`))
	in.Write(frame(t, `{"type":"REFRESH"}`))

	h := &echoHandler{}
	var out bytes.Buffer
	require.NoError(t, Serve(context.Background(), &in, &out, h))

	assert.Equal(t, []service.Type{"GET_STATUS", "BIG", "REFRESH"}, h.types)

	results := readResults(t, &out)
	require.Len(t, results, 4)
	assert.Equal(t, "GET_STATUS", results[0].Workspace)
	assert.Equal(t, apperrors.CodeInvalidRequest, results[1].Code)
	assert.False(t, results[2].Success)
	assert.Equal(t, apperrors.CodeInternal, results[2].Code)
	assert.Equal(t, "REFRESH", results[3].Workspace)
}

func TestServe_ContextCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Serve(ctx, pr, io.Discard, &echoHandler{})
	assert.ErrorIs(t, err, context.Canceled)
}
