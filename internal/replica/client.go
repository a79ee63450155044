// Package replica reads and writes the two remote copies of the catalog:
// the global catalog document and each owner's profile document.
package replica

import (
	"context"
	"log/slog"
	"sync"

	"github.com/heybooks/heybooks-sync/internal/docstore"
	"github.com/heybooks/heybooks-sync/internal/domain"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
)

// CatalogAddress is the single document holding every published book.
func CatalogAddress() docstore.Address {
	return docstore.Address{Collection: domain.CatalogCollection, ID: domain.CatalogDocument}
}

// ProfileAddress is the profile document owned by identity.
func ProfileAddress(identity domain.Identity) docstore.Address {
	return OwnerAddress(identity.UserID)
}

// OwnerAddress is the profile document of any user, for read-only use.
func OwnerAddress(userID string) docstore.Address {
	return docstore.Address{Collection: domain.UsersCollection, ID: userID}
}

// ArrayOp selects the array patch.
type ArrayOp int

const (
	Union ArrayOp = iota
	Remove
)

// OpFor maps a catalog action to its array operation.
func OpFor(a domain.Action) ArrayOp {
	if a == domain.Remove {
		return Remove
	}
	return Union
}

// Client wraps a docstore backend with the error taxonomy of the sync layer.
// It never retries.
type Client struct {
	backend docstore.Backend
	logger  *slog.Logger
}

// NewClient creates a client over backend.
func NewClient(backend docstore.Backend, logger *slog.Logger) *Client {
	return &Client{backend: backend, logger: logger}
}

// ReadOnce fetches addr. A missing document fails with NotFound.
func (c *Client) ReadOnce(ctx context.Context, addr docstore.Address) (docstore.Snapshot, error) {
	snap, err := c.backend.Get(ctx, addr)
	if err != nil {
		return docstore.Snapshot{}, domainerrors.Wrapf(err, domainerrors.CodeOf(err), "read %s", addr)
	}
	if !snap.Exists {
		return docstore.Snapshot{}, domainerrors.NotFoundf("document %s not found", addr)
	}
	return snap, nil
}

// PatchArrayField unions or removes value in an array field with set semantics.
func (c *Client) PatchArrayField(ctx context.Context, addr docstore.Address, field string, op ArrayOp, value any) error {
	var (
		p   docstore.Patch
		err error
	)
	if op == Remove {
		p, err = docstore.ArrayRemove(field, value)
	} else {
		p, err = docstore.ArrayUnion(field, value)
	}
	if err != nil {
		return domainerrors.WriteFailed(err, "encode patch")
	}
	return c.update(ctx, addr, p)
}

// ReplaceArrayElement swaps the element whose key property matches value's.
// The replacement is atomic within the document; absent elements are not added.
func (c *Client) ReplaceArrayElement(ctx context.Context, addr docstore.Address, field, key string, value any) error {
	p, err := docstore.ArrayReplace(field, key, value)
	if err != nil {
		return domainerrors.WriteFailed(err, "encode patch")
	}
	return c.update(ctx, addr, p)
}

// SetFields overwrites the named scalar fields in one write.
func (c *Client) SetFields(ctx context.Context, addr docstore.Address, fields map[string]any) error {
	patches := make([]docstore.Patch, 0, len(fields))
	for name, v := range fields {
		p, err := docstore.SetField(name, v)
		if err != nil {
			return domainerrors.WriteFailed(err, "encode patch")
		}
		patches = append(patches, p)
	}
	return c.update(ctx, addr, patches...)
}

// Create writes value as the whole document at addr.
func (c *Client) Create(ctx context.Context, addr docstore.Address, value any) error {
	doc, err := docstore.Encode(value)
	if err != nil {
		return domainerrors.WriteFailed(err, "encode document")
	}
	if err := c.backend.Set(ctx, addr, doc); err != nil {
		c.logger.Warn("document create failed", "address", addr.String(), "error", err)
		return domainerrors.WriteFailed(err, "create "+addr.String())
	}
	return nil
}

func (c *Client) update(ctx context.Context, addr docstore.Address, patches ...docstore.Patch) error {
	if err := c.backend.Update(ctx, addr, patches...); err != nil {
		c.logger.Warn("document update failed", "address", addr.String(), "error", err)
		return domainerrors.WriteFailed(err, "update "+addr.String())
	}
	return nil
}

// Subscribe opens a watch on addr. Setup failures return ListenFailed.
// The subscription lives until Close, independent of ctx.
func (c *Client) Subscribe(ctx context.Context, addr docstore.Address) (*Subscription, error) {
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events, err := c.backend.Watch(watchCtx, addr)
	if err != nil {
		cancel()
		return nil, domainerrors.ListenFailed(err, "subscribe "+addr.String())
	}

	s := &Subscription{
		addr:      addr,
		snapshots: make(chan docstore.Snapshot, 1),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
	go s.pump(events, c.logger)

	c.logger.Debug("subscription opened", "address", addr.String())
	return s, nil
}

// Subscription is a cancellable stream of snapshots for one document.
// Snapshots is conflating: a reader that falls behind sees only the newest.
type Subscription struct {
	addr      docstore.Address
	snapshots chan docstore.Snapshot
	errs      chan error
	done      chan struct{}
	cancel    context.CancelFunc
	once      sync.Once
}

// Address returns the watched document.
func (s *Subscription) Address() docstore.Address { return s.addr }

// Snapshots returns the snapshot stream. It closes after Close.
func (s *Subscription) Snapshots() <-chan docstore.Snapshot { return s.snapshots }

// Errors returns asynchronous ListenFailed errors. They do not end the subscription.
func (s *Subscription) Errors() <-chan error { return s.errs }

// Done closes once the subscription has fully stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

func (s *Subscription) pump(events <-chan docstore.Event, logger *slog.Logger) {
	defer func() {
		close(s.snapshots)
		close(s.errs)
		close(s.done)
	}()

	var last uint64
	var seen bool
	for ev := range events {
		if ev.Err != nil {
			logger.Warn("subscription error", "address", s.addr.String(), "error", ev.Err)
			select {
			case s.errs <- domainerrors.ListenFailed(ev.Err, "listen "+s.addr.String()):
			default:
			}
			continue
		}
		if seen && ev.Snapshot.Version < last {
			continue
		}
		seen, last = true, ev.Snapshot.Version

		select {
		case s.snapshots <- ev.Snapshot:
			continue
		default:
		}
		select {
		case <-s.snapshots:
		default:
		}
		s.snapshots <- ev.Snapshot
	}
}
