// Package memdoc is an in-memory document store.
package memdoc

import (
	"context"
	"log/slog"
	"sync"

	"github.com/heybooks/heybooks-sync/internal/docstore"
)

type entry struct {
	version uint64
	data    docstore.Document
}

// Store keeps documents in a map. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	docs map[docstore.Address]entry
	hub  *docstore.Hub
}

// New creates an empty store.
func New(logger *slog.Logger) *Store {
	return &Store{
		docs: make(map[docstore.Address]entry),
		hub:  docstore.NewHub(logger),
	}
}

// Get returns the current snapshot of addr. A missing document is not an error.
func (s *Store) Get(_ context.Context, addr docstore.Address) (docstore.Snapshot, error) {
	if err := addr.Validate(); err != nil {
		return docstore.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(addr), nil
}

// Set overwrites the document.
func (s *Store) Set(_ context.Context, addr docstore.Address, doc docstore.Document) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	e := s.docs[addr]
	e.version++
	e.data = doc.Clone()
	s.docs[addr] = e
	snap := s.snapshot(addr)
	s.mu.Unlock()

	s.hub.Publish(snap)
	return nil
}

// Update applies patches atomically, creating the document if needed.
func (s *Store) Update(_ context.Context, addr docstore.Address, patches ...docstore.Patch) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	e := s.docs[addr]
	next, err := docstore.Apply(e.data, patches...)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	e.version++
	e.data = next
	s.docs[addr] = e
	snap := s.snapshot(addr)
	s.mu.Unlock()

	s.hub.Publish(snap)
	return nil
}

// Watch streams snapshots of addr until ctx ends.
func (s *Store) Watch(ctx context.Context, addr docstore.Address) (<-chan docstore.Event, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	ch, offer := s.hub.Subscribe(ctx, addr)

	s.mu.RLock()
	snap := s.snapshot(addr)
	s.mu.RUnlock()
	offer(docstore.Event{Snapshot: snap})

	return ch, nil
}

// Fail injects an asynchronous error into every watcher of addr.
func (s *Store) Fail(addr docstore.Address, err error) {
	s.hub.Fail(addr, err)
}

// Watchers reports how many watches are open on addr.
func (s *Store) Watchers(addr docstore.Address) int {
	return s.hub.Watchers(addr)
}

// Close ends every watch.
func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

func (s *Store) snapshot(addr docstore.Address) docstore.Snapshot {
	e, ok := s.docs[addr]
	if !ok {
		return docstore.Snapshot{Address: addr}
	}
	return docstore.Snapshot{Address: addr, Exists: true, Version: e.version, Data: e.data.Clone()}
}
