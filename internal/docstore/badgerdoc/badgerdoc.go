// Package badgerdoc is a document store persisted in Badger.
package badgerdoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/heybooks/heybooks-sync/internal/docstore"
)

const (
	docPrefix = "doc:"

	// Transactions touching the same document may conflict; the loser re-reads.
	maxConflictRetries = 8
)

// record is the persisted form of one document.
type record struct {
	Version uint64            `json:"version"`
	Data    docstore.Document `json:"data"`
}

// Store wraps a Badger database.
type Store struct {
	db     *badger.DB
	hub    *docstore.Hub
	logger *slog.Logger
}

// Open opens (or creates) the database at path. An empty path opens an in-memory database.
func Open(path string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts.SyncWrites = true
		opts.CompactL0OnClose = true
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	logger.Info("document database opened", "path", path)
	return &Store{db: db, hub: docstore.NewHub(logger), logger: logger}, nil
}

// OpenReadOnly opens an existing database for inspection. Writes fail.
func OpenReadOnly(path string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &Store{db: db, hub: docstore.NewHub(logger), logger: logger}, nil
}

// Close ends every watch and closes the database.
func (s *Store) Close() error {
	s.hub.Close()
	s.logger.Info("closing document database")
	return s.db.Close()
}

// Ping fails once the database is closed.
func (s *Store) Ping() error {
	if s.db.IsClosed() {
		return errors.New("document database is closed")
	}
	return nil
}

// Get returns the current snapshot of addr.
func (s *Store) Get(_ context.Context, addr docstore.Address) (docstore.Snapshot, error) {
	if err := addr.Validate(); err != nil {
		return docstore.Snapshot{}, err
	}
	var snap docstore.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		snap, err = read(txn, addr)
		return err
	})
	return snap, err
}

// Set overwrites the document.
func (s *Store) Set(ctx context.Context, addr docstore.Address, doc docstore.Document) error {
	return s.write(ctx, addr, func(docstore.Document) (docstore.Document, error) {
		return doc.Clone(), nil
	})
}

// Update applies patches in one transaction, creating the document if needed.
func (s *Store) Update(ctx context.Context, addr docstore.Address, patches ...docstore.Patch) error {
	return s.write(ctx, addr, func(current docstore.Document) (docstore.Document, error) {
		return docstore.Apply(current, patches...)
	})
}

// Watch streams snapshots of addr until ctx ends.
func (s *Store) Watch(ctx context.Context, addr docstore.Address) (<-chan docstore.Event, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	ch, offer := s.hub.Subscribe(ctx, addr)

	snap, err := s.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	offer(docstore.Event{Snapshot: snap})
	return ch, nil
}

// Scan calls fn with every document of collection, in key order. An empty
// collection scans every document.
func (s *Store) Scan(ctx context.Context, collection string, fn func(docstore.Snapshot) error) error {
	prefix := []byte(docPrefix)
	if collection != "" {
		prefix = []byte(docPrefix + collection + "/")
	}
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			addr, err := docstore.ParseAddress(string(item.Key()[len(docPrefix):]))
			if err != nil {
				s.logger.Warn("skipping malformed document key", "key", string(item.Key()))
				continue
			}
			var rec record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("failed to decode %s: %w", addr, err)
			}
			if err := fn(docstore.Snapshot{Address: addr, Exists: true, Version: rec.Version, Data: rec.Data}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) write(ctx context.Context, addr docstore.Address, mutate func(docstore.Document) (docstore.Document, error)) error {
	if err := addr.Validate(); err != nil {
		return err
	}

	var snap docstore.Snapshot
	var err error
	for range maxConflictRetries {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			current, err := read(txn, addr)
			if err != nil {
				return err
			}
			next, err := mutate(current.Data)
			if err != nil {
				return err
			}
			rec := record{Version: current.Version + 1, Data: next}
			raw, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to marshal document: %w", err)
			}
			if err := txn.Set(key(addr), raw); err != nil {
				return err
			}
			snap = docstore.Snapshot{Address: addr, Exists: true, Version: rec.Version, Data: next}
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		s.logger.Debug("document write conflict, retrying", "address", addr.String())
	}
	if err != nil {
		return err
	}

	s.hub.Publish(snap)
	return nil
}

func read(txn *badger.Txn, addr docstore.Address) (docstore.Snapshot, error) {
	item, err := txn.Get(key(addr))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return docstore.Snapshot{Address: addr}, nil
	}
	if err != nil {
		return docstore.Snapshot{}, err
	}

	var rec record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return docstore.Snapshot{}, fmt.Errorf("failed to decode %s: %w", addr, err)
	}
	return docstore.Snapshot{Address: addr, Exists: true, Version: rec.Version, Data: rec.Data}, nil
}

func key(addr docstore.Address) []byte {
	return []byte(docPrefix + addr.String())
}
