package sse

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_RoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	require.NoError(t, w.Send(EventSnapshot, map[string]any{"exists": true, "version": 3}))
	require.NoError(t, w.Heartbeat())
	require.NoError(t, w.Send(EventError, map[string]string{"code": "NOT_FOUND"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	r := NewReader(rec.Body)

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventSnapshot, ev.Type)
	assert.JSONEq(t, `{"exists":true,"version":3}`, string(ev.Data))

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventHeartbeat, ev.Type)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventError, ev.Type)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_Format(t *testing.T) {
	stream := strings.Join([]string{
		": comment before anything",
		"",
		"data: one",
		"data: two",
		"",
		"event: snapshot",
		"id: 7",
		"data:{\"a\":1}",
		"",
		"event: truncated",
		"data: never terminated",
	}, "\n")

	r := NewReader(strings.NewReader(stream))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "message", ev.Type)
	assert.Equal(t, "one\ntwo", string(ev.Data))

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "snapshot", ev.Type)
	assert.Equal(t, `{"a":1}`, string(ev.Data))

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF, "an unterminated event is dropped")
}

func TestReader_LargeEvent(t *testing.T) {
	big := strings.Repeat("x", 200*1024)
	r := NewReader(strings.NewReader("event: snapshot\ndata: " + big + "\n\n"))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Len(t, ev.Data, len(big))
}
