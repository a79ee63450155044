package docstore

import (
	"context"
	"log/slog"
	"sync"

	"github.com/heybooks/heybooks-sync/internal/id"
)

// Hub fans document snapshots out to watchers. Each watcher holds at most one
// undelivered event; a newer snapshot replaces an undelivered older one, and a
// snapshot older than the last one delivered is dropped.
type Hub struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	watchers map[Address]map[string]*watcher
}

type watcher struct {
	id   string
	mu   sync.Mutex
	ch   chan Event
	seen uint64
	any  bool // whether a snapshot was queued yet
	done bool
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, watchers: make(map[Address]map[string]*watcher)}
}

// Subscribe registers a watcher on addr. The caller must push the current
// snapshot through Publish (or the returned offer func) after registering, so
// that no write between read and registration is lost. The channel closes
// when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, addr Address) (<-chan Event, func(Event)) {
	w := &watcher{id: id.MustGenerate(id.PrefixWatcher), ch: make(chan Event, 1)}

	h.mu.Lock()
	set, ok := h.watchers[addr]
	if !ok {
		set = make(map[string]*watcher)
		h.watchers[addr] = set
	}
	set[w.id] = w
	total := len(set)
	h.mu.Unlock()

	h.logger.Debug("watcher registered", "address", addr.String(), "watcher_id", w.id, "watchers", total)

	go func() {
		<-ctx.Done()
		h.remove(addr, w)
	}()

	return w.ch, w.offer
}

// Publish delivers snap to every watcher of its address.
func (h *Hub) Publish(snap Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, w := range h.watchers[snap.Address] {
		w.offer(Event{Snapshot: snap})
	}
}

// Fail delivers an asynchronous error to every watcher of addr.
func (h *Hub) Fail(addr Address, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, w := range h.watchers[addr] {
		w.offer(Event{Err: err})
	}
}

// Watchers returns how many watchers are registered on addr.
func (h *Hub) Watchers(addr Address) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers[addr])
}

// Close ends every watch.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for addr, set := range h.watchers {
		for _, w := range set {
			w.close()
		}
		delete(h.watchers, addr)
	}
}

func (h *Hub) remove(addr Address, w *watcher) {
	h.mu.Lock()
	if set, ok := h.watchers[addr]; ok {
		delete(set, w.id)
		if len(set) == 0 {
			delete(h.watchers, addr)
		}
	}
	h.mu.Unlock()
	w.close()
	h.logger.Debug("watcher removed", "address", addr.String(), "watcher_id", w.id)
}

func (w *watcher) offer(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return
	}
	if ev.Err != nil {
		// Errors never displace a pending snapshot.
		select {
		case w.ch <- ev:
		default:
		}
		return
	}
	if w.any && ev.Snapshot.Version <= w.seen {
		return
	}
	w.any = true
	w.seen = ev.Snapshot.Version
	select {
	case w.ch <- ev:
		return
	default:
	}
	// Replace the stale undelivered event.
	select {
	case <-w.ch:
	default:
	}
	w.ch <- ev
}

func (w *watcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.done = true
		close(w.ch)
	}
}
