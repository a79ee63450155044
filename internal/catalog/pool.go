package catalog

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
)

// DefaultWorkers bounds concurrent background writes.
const DefaultWorkers = 4

// Pool runs background tasks on a bounded set of goroutines.
//
// Tasks submitted under the same key run one at a time in submission order;
// tasks under different keys run concurrently. Each replica document gets its
// own key, so writes to one replica never wait on the other.
type Pool struct {
	group  *errgroup.Group
	logger *slog.Logger

	mu       sync.Mutex
	lanes    map[string]*lane
	closed   bool
	inflight sync.WaitGroup // one count per submitted task
}

type lane struct {
	queue []func()
}

// NewPool creates a pool running at most workers tasks at once.
func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	g := new(errgroup.Group)
	g.SetLimit(workers)
	return &Pool{group: g, logger: logger, lanes: make(map[string]*lane)}
}

// Submit queues task on the lane for key. It never blocks the caller.
func (p *Pool) Submit(key string, task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return domainerrors.Internal("worker pool closed")
	}
	p.inflight.Add(1)
	if l, ok := p.lanes[key]; ok {
		l.queue = append(l.queue, task)
		p.mu.Unlock()
		return nil
	}
	l := &lane{queue: []func(){task}}
	p.lanes[key] = l
	p.mu.Unlock()

	drain := func() error {
		p.drain(key, l)
		return nil
	}
	if !p.group.TryGo(drain) {
		// All slots busy: wait for one off the caller's goroutine.
		go p.group.Go(drain)
	}
	return nil
}

// drain runs the lane until it is empty, then retires it.
func (p *Pool) drain(key string, l *lane) {
	for {
		p.mu.Lock()
		if len(l.queue) == 0 {
			delete(p.lanes, key)
			p.mu.Unlock()
			return
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		p.mu.Unlock()

		p.run(key, task)
	}
}

func (p *Pool) run(key string, task func()) {
	defer p.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background task panicked",
				"lane", key,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	task()
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.inflight.Wait()
}

// Close stops accepting tasks and waits for the queued ones.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Wait()
	_ = p.group.Wait()
}
