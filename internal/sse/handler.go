// Package sse writes and reads Server-Sent Event streams. The emulator uses the
// writer to push document snapshots; the remote replica client uses the reader
// to follow them.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Event types on a document stream.
const (
	EventSnapshot  = "snapshot"
	EventError     = "error"
	EventHeartbeat = "heartbeat"
)

// HeartbeatInterval keeps idle streams alive through proxies.
const HeartbeatInterval = 30 * time.Second

const writeTimeout = 60 * time.Second

// Writer sends events on one SSE response.
type Writer struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	logger *slog.Logger
}

// NewWriter sets the SSE headers and flushes them to the client.
func NewWriter(w http.ResponseWriter, logger *slog.Logger) (*Writer, error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	rc := http.NewResponseController(w)
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("streaming not supported: %w", err)
	}
	return &Writer{w: w, rc: rc, logger: logger}, nil
}

// Send writes one event with a JSON payload and flushes it.
func (s *Writer) Send(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	// event: <type>
	// data: <json>
	// (blank line)
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		return err
	}

	// Reset after each successful write so hung clients are dropped.
	if err := s.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Debug("failed to set write deadline", slog.String("error", err.Error()))
	}
	return nil
}

// Heartbeat writes an empty heartbeat event.
func (s *Writer) Heartbeat() error {
	return s.Send(EventHeartbeat, struct{}{})
}
