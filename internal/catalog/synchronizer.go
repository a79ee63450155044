// Package catalog keeps the global catalog replica, the owner replicas and
// the local observable cache in step.
package catalog

import (
	"context"
	"log/slog"
	"sync"

	"github.com/heybooks/heybooks-sync/internal/assets"
	"github.com/heybooks/heybooks-sync/internal/connectivity"
	"github.com/heybooks/heybooks-sync/internal/docstore"
	"github.com/heybooks/heybooks-sync/internal/domain"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
	"github.com/heybooks/heybooks-sync/internal/i18n"
	"github.com/heybooks/heybooks-sync/internal/notify"
	"github.com/heybooks/heybooks-sync/internal/observable"
	"github.com/heybooks/heybooks-sync/internal/replica"
	"github.com/heybooks/heybooks-sync/internal/search"
	"github.com/heybooks/heybooks-sync/internal/session"
	"github.com/heybooks/heybooks-sync/internal/validation"
)

// Options configures a Synchronizer. Index and Dispatcher are optional.
type Options struct {
	Replica    *replica.Client
	Session    *session.Session
	Gate       *connectivity.Gate
	Reporter   *notify.Reporter
	Relocator  *assets.Relocator
	Index      *search.Index
	Dispatcher Dispatcher
	Validator  *validation.Validator
	Workers    int
	Logger     *slog.Logger
}

// Synchronizer subscribes the local cache to the remote replicas and runs
// catalog mutations against both replicas.
type Synchronizer struct {
	replica    *replica.Client
	session    *session.Session
	gate       *connectivity.Gate
	reporter   *notify.Reporter
	relocator  *assets.Relocator
	index      *search.Index
	dispatcher Dispatcher
	validator  *validation.Validator
	pool       *Pool
	logger     *slog.Logger

	state *observable.Value[State]

	mu       sync.Mutex // guards listings and orders cache writes against teardown
	listings [listingCount]subscription
}

type subscription struct {
	sub *replica.Subscription
	gen uint64
}

// New creates a synchronizer and registers its cache reset as a sign-out hook.
func New(opts Options) *Synchronizer {
	if opts.Dispatcher == nil {
		opts.Dispatcher = Inline{}
	}
	if opts.Validator == nil {
		opts.Validator = validation.New()
	}
	s := &Synchronizer{
		replica:    opts.Replica,
		session:    opts.Session,
		gate:       opts.Gate,
		reporter:   opts.Reporter,
		relocator:  opts.Relocator,
		index:      opts.Index,
		dispatcher: opts.Dispatcher,
		validator:  opts.Validator,
		pool:       NewPool(opts.Workers, opts.Logger),
		logger:     opts.Logger,
		state:      observable.New(State{}),
	}
	if s.session != nil {
		s.session.OnSignOut(s.reset)
	}
	return s
}

// State returns the current cache.
func (s *Synchronizer) State() State {
	return s.state.Get()
}

// Watch streams cache changes. The channel is conflating.
func (s *Synchronizer) Watch() (<-chan State, func()) {
	return s.state.Subscribe()
}

// BooksByOwner returns the cached catalog books owned by ownerID.
func (s *Synchronizer) BooksByOwner(ownerID string) []domain.Book {
	return s.State().BooksByOwner(ownerID)
}

// Search runs a full-text query over the cached catalog.
func (s *Synchronizer) Search(ctx context.Context, query string) ([]domain.Book, error) {
	if s.index == nil {
		return nil, domainerrors.Internal("search is not configured")
	}
	res, err := s.index.Search(ctx, search.DefaultParams(query))
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "search catalog")
	}

	st := s.State()
	books := make([]domain.Book, 0, len(res.Hits))
	for _, id := range res.IDs() {
		if b, ok := st.Book(id); ok {
			books = append(books, b)
		}
	}
	return books, nil
}

// SubscribeCatalog follows the global catalog document.
func (s *Synchronizer) SubscribeCatalog(ctx context.Context) error {
	return s.subscribe(ctx, CatalogListing, replica.CatalogAddress())
}

// SubscribeProfile follows the signed-in user's profile document.
func (s *Synchronizer) SubscribeProfile(ctx context.Context) error {
	if err := s.gate.Require(ctx); err != nil {
		return err
	}
	identity, err := s.session.RequireIdentity()
	if err != nil {
		s.reporter.Error(err)
		return err
	}
	return s.open(ctx, ProfileListing, replica.ProfileAddress(identity))
}

// SubscribeOwner follows another user's profile, read-only.
func (s *Synchronizer) SubscribeOwner(ctx context.Context, userID string) error {
	if err := s.gate.Require(ctx); err != nil {
		return err
	}
	if userID == "" {
		err := domainerrors.Validation("owner is required")
		s.reporter.Error(err)
		return err
	}
	return s.open(ctx, OwnerListing, replica.OwnerAddress(userID))
}

// Unsubscribe closes the subscription of l. Pending snapshots are discarded;
// the cached data stays.
func (s *Synchronizer) Unsubscribe(l Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked(l)
}

// Close ends every subscription and waits for background writes.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	for l := range listingCount {
		s.detachLocked(l)
	}
	s.mu.Unlock()
	s.pool.Close()
}

// Wait blocks until every background write submitted so far has finished.
func (s *Synchronizer) Wait() {
	s.pool.Wait()
}

func (s *Synchronizer) subscribe(ctx context.Context, l Listing, addr docstore.Address) error {
	if err := s.gate.Require(ctx); err != nil {
		return err
	}
	return s.open(ctx, l, addr)
}

// open assumes the gate already passed.
func (s *Synchronizer) open(ctx context.Context, l Listing, addr docstore.Address) error {
	s.mu.Lock()
	s.detachLocked(l)
	gen := s.listings[l].gen
	s.mu.Unlock()
	s.post(func() { s.setLoadAt(l, gen, domain.Loading) })

	sub, err := s.replica.Subscribe(ctx, addr)
	if err != nil {
		s.post(func() {
			s.setLoadAt(l, gen, domain.Error)
			s.reporter.Error(err)
		})
		return err
	}

	s.mu.Lock()
	if s.listings[l].gen != gen {
		// Superseded by a reopen or a sign-out while subscribing.
		s.mu.Unlock()
		sub.Close()
		s.logger.Debug("listing superseded", "listing", l.String(), "address", addr.String())
		return nil
	}
	s.listings[l].sub = sub
	s.mu.Unlock()

	s.logger.Debug("listing subscribed", "listing", l.String(), "address", addr.String())
	go s.pump(l, gen, sub)
	return nil
}

// detachLocked closes the subscription of l and invalidates its generation.
func (s *Synchronizer) detachLocked(l Listing) {
	if cur := s.listings[l].sub; cur != nil {
		cur.Close()
		s.listings[l].sub = nil
	}
	s.listings[l].gen++
}

func (s *Synchronizer) pump(l Listing, gen uint64, sub *replica.Subscription) {
	snaps, errs := sub.Snapshots(), sub.Errors()
	for snaps != nil || errs != nil {
		select {
		case snap, ok := <-snaps:
			if !ok {
				snaps = nil
				continue
			}
			s.post(func() { s.deliver(l, gen, snap) })
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.post(func() {
				if s.current(l, gen) {
					s.reporter.Error(err)
				}
			})
		}
	}
	s.logger.Debug("listing pump stopped", "listing", l.String())
}

func (s *Synchronizer) current(l Listing, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listings[l].sub != nil && s.listings[l].gen == gen
}

type catalogDocument struct {
	ListOfBooks []domain.Book `json:"listOfBooks"`
}

// deliver applies a snapshot to the cache unless its subscription was closed.
func (s *Synchronizer) deliver(l Listing, gen uint64, snap docstore.Snapshot) {
	s.mu.Lock()
	if s.listings[l].sub == nil || s.listings[l].gen != gen {
		s.mu.Unlock()
		return
	}

	var (
		books []domain.Book
		user  domain.User
		err   error
	)
	if l == CatalogListing {
		var doc catalogDocument
		err = snap.Decode(&doc)
		books = doc.ListOfBooks
	} else {
		user.UserID = snap.Address.ID
		err = snap.Decode(&user)
	}
	if err != nil {
		s.state.Update(func(st State) State { return st.withLoad(l, domain.Error) })
		s.mu.Unlock()
		s.reporter.Error(domainerrors.ListenFailed(err, "decode "+snap.Address.String()))
		return
	}

	st := s.state.Update(func(st State) State {
		switch l {
		case CatalogListing:
			st = st.withBooks(books)
			st.empty[l] = len(books) == 0
		case ProfileListing:
			st.Profile = user
			st.empty[l] = len(user.ListOfBooks) == 0
		case OwnerListing:
			st.Owner = user
			st.empty[l] = len(user.ListOfBooks) == 0
		}
		return st.withLoad(l, domain.Loaded)
	})
	if l == CatalogListing && s.index != nil {
		if err := s.index.Sync(st.Books); err != nil {
			s.logger.Warn("search index sync failed", "error", err)
		}
	}
	s.mu.Unlock()

	if !snap.Exists {
		s.reporter.Info(i18n.NoResults)
	}
}

// setLoadAt sets the load state of l unless the listing moved past gen.
func (s *Synchronizer) setLoadAt(l Listing, gen uint64, ls domain.LoadState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listings[l].gen != gen {
		return
	}
	s.state.Update(func(st State) State { return st.withLoad(l, ls) })
}

// reset runs on sign-out: every subscription is closed and the cache
// returns to its defaults. Work already queued on the dispatcher for the
// closed subscriptions is discarded by its generation check.
func (s *Synchronizer) reset() {
	s.mu.Lock()
	for l := range listingCount {
		s.detachLocked(l)
	}
	s.mu.Unlock()

	s.post(func() {
		s.state.Set(State{})
		if s.index != nil {
			if err := s.index.Sync(nil); err != nil {
				s.logger.Warn("search index reset failed", "error", err)
			}
		}
		s.logger.Debug("catalog cache reset")
	})
}

func (s *Synchronizer) post(fn func()) {
	s.dispatcher.Post(fn)
}
