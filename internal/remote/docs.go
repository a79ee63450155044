package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/heybooks/heybooks-sync/internal/docstore"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
	"github.com/heybooks/heybooks-sync/internal/sse"
)

const familyDocs = "docs"

// Reconnect is the backoff between attempts to reopen an interrupted document stream.
type Reconnect struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// JitterFactor is the maximum jitter as a fraction of the delay.
	JitterFactor float64
}

// DefaultReconnect starts at half a second and caps at 30 seconds.
func DefaultReconnect() Reconnect {
	return Reconnect{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}
}

// Delay returns the wait before the given 0-based attempt.
func (r Reconnect) Delay(attempt int) time.Duration {
	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}
	if r.JitterFactor > 0 {
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}
	return time.Duration(delay)
}

// Docs is a docstore.Backend over the document API.
//
// Writes are single attempts. A watch that loses its stream reports a
// ListenFailed event and reattaches with backoff; snapshots replayed by the
// new stream that are not newer than the last delivered one are dropped.
type Docs struct {
	client    *Client
	hub       *docstore.Hub
	reconnect Reconnect
}

var _ docstore.Backend = (*Docs)(nil)

// NewDocs creates a document backend on client.
func NewDocs(client *Client, reconnect Reconnect) *Docs {
	return &Docs{
		client:    client,
		hub:       docstore.NewHub(client.logger),
		reconnect: reconnect,
	}
}

func docPath(addr docstore.Address) string {
	return "/v1/docs" + escape(addr.Collection, addr.ID)
}

// Get fetches the current snapshot.
func (d *Docs) Get(ctx context.Context, addr docstore.Address) (docstore.Snapshot, error) {
	if err := addr.Validate(); err != nil {
		return docstore.Snapshot{}, err
	}
	var snap docstore.Snapshot
	err := d.client.do(ctx, request{method: http.MethodGet, path: docPath(addr), family: familyDocs}, &snap)
	return snap, err
}

// Set overwrites the document.
func (d *Docs) Set(ctx context.Context, addr docstore.Address, doc docstore.Document) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	if doc == nil {
		doc = docstore.Document{}
	}
	return d.client.doJSON(ctx, request{method: http.MethodPut, path: docPath(addr), family: familyDocs}, doc, nil)
}

// Update sends the patches as one write.
func (d *Docs) Update(ctx context.Context, addr docstore.Address, patches ...docstore.Patch) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	for _, p := range patches {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	body := struct {
		Patches []docstore.Patch `json:"patches"`
	}{Patches: patches}
	return d.client.doJSON(ctx, request{method: http.MethodPatch, path: docPath(addr), family: familyDocs}, body, nil)
}

// Watch opens the document stream. Failing to open the first stream is
// returned synchronously; later interruptions arrive as events.
func (d *Docs) Watch(ctx context.Context, addr docstore.Address) (<-chan docstore.Event, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	body, err := d.openStream(ctx, addr)
	if err != nil {
		return nil, err
	}

	events, offer := d.hub.Subscribe(ctx, addr)
	go d.pump(ctx, addr, body, offer)
	return events, nil
}

// Watchers returns how many local watches are attached to addr.
func (d *Docs) Watchers(addr docstore.Address) int {
	return d.hub.Watchers(addr)
}

// Close ends every watch.
func (d *Docs) Close() {
	d.hub.Close()
}

func (d *Docs) openStream(ctx context.Context, addr docstore.Address) (io.ReadCloser, error) {
	req, err := d.client.newRequest(ctx, request{method: http.MethodGet, path: docPath(addr) + "/stream", family: familyDocs})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := d.client.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream %s: %w", addr, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		return nil, decodeResponse(resp.StatusCode, body, nil)
	}
	return resp.Body, nil
}

// pump reads streams for addr until ctx ends, reopening interrupted ones.
func (d *Docs) pump(ctx context.Context, addr docstore.Address, body io.ReadCloser, offer func(docstore.Event)) {
	logger := d.client.logger.With("address", addr.String())
	attempt := 0

	for {
		err := d.readStream(body, offer, func() { attempt = 0 })
		body.Close()
		if ctx.Err() != nil {
			logger.Debug("document stream closed")
			return
		}
		offer(docstore.Event{Err: domainerrors.ListenFailed(err, "document stream interrupted")})
		logger.Warn("document stream interrupted", "error", err)

		for {
			delay := d.reconnect.Delay(attempt)
			attempt++
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			body, err = d.openStream(ctx, addr)
			if err == nil {
				logger.Info("document stream reattached", "attempts", attempt)
				break
			}
			if ctx.Err() != nil {
				return
			}
			offer(docstore.Event{Err: domainerrors.ListenFailed(err, "document stream unavailable")})
			logger.Debug("document stream reopen failed", "attempt", attempt, "error", err)
		}
	}
}

// readStream forwards events until the stream ends. onSnapshot runs after
// every delivered snapshot.
func (d *Docs) readStream(body io.Reader, offer func(docstore.Event), onSnapshot func()) error {
	events := sse.NewReader(body)
	for {
		ev, err := events.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}

		switch ev.Type {
		case sse.EventSnapshot:
			var snap docstore.Snapshot
			if err := json.Unmarshal(ev.Data, &snap); err != nil {
				offer(docstore.Event{Err: domainerrors.ListenFailed(err, "malformed snapshot")})
				continue
			}
			offer(docstore.Event{Snapshot: snap})
			onSnapshot()
		case sse.EventError:
			var env envelope
			if err := json.Unmarshal(ev.Data, &env); err != nil || env.Code == "" {
				env.Code = string(domainerrors.CodeListenFailed)
			}
			offer(docstore.Event{Err: env.asError(http.StatusOK)})
		case sse.EventHeartbeat:
		default:
			d.client.logger.Debug("ignoring stream event", "type", ev.Type)
		}
	}
}
