package catalog

import (
	"context"
	"errors"
	"sync"
)

// Outcome is the result of one catalog mutation, step by step. The two
// replica writes are independent: one may succeed while the other fails,
// and nothing is rolled back.
type Outcome struct {
	Upload  error // asset upload, for flows that relocate a picture
	Global  error // write to the global catalog document
	Owner   error // write to the owner's profile document
	Cleanup error // best-effort deletion of a superseded asset
}

// Err joins every step error.
func (o Outcome) Err() error {
	return errors.Join(o.Upload, o.Global, o.Owner, o.Cleanup)
}

// Consistent reports whether both replicas ended in the same state,
// that is both writes succeeded or both failed.
func (o Outcome) Consistent() bool {
	return (o.Global == nil) == (o.Owner == nil)
}

// Pending tracks a mutation whose writes run in the background.
type Pending struct {
	mu      sync.Mutex
	outcome Outcome
	done    chan struct{}
	once    sync.Once
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Done closes when every step has finished.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the mutation finishes or ctx ends. The mutation keeps
// running in the background if ctx ends first.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.done:
		return p.Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Outcome returns the outcome so far.
func (p *Pending) Outcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

func (p *Pending) record(fn func(*Outcome)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.outcome)
}

func (p *Pending) finish() {
	p.once.Do(func() { close(p.done) })
}
