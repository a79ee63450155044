package sse

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// maxEventSize bounds a single data line. Catalog snapshots grow with the
// number of books, so the scanner default of 64 KiB is too small.
const maxEventSize = 8 << 20

// Event is one decoded event from a stream.
type Event struct {
	Type string
	Data []byte
}

// Reader decodes events from an SSE body.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &Reader{scanner: scanner}
}

// Next blocks until a full event arrives. It returns io.EOF when the stream
// ends cleanly. Comment lines and unknown fields are skipped; multiple data
// lines are joined with newlines.
func (r *Reader) Next() (Event, error) {
	var (
		ev      Event
		data    bytes.Buffer
		hasData bool
	)
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if hasData || ev.Type != "" {
				if ev.Type == "" {
					ev.Type = "message"
				}
				ev.Data = data.Bytes()
				return ev, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Type = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}
