package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/heybooks/heybooks-sync/internal/assets"
	"github.com/heybooks/heybooks-sync/internal/connectivity"
	"github.com/heybooks/heybooks-sync/internal/docstore"
	"github.com/heybooks/heybooks-sync/internal/docstore/memdoc"
	"github.com/heybooks/heybooks-sync/internal/domain"
	"github.com/heybooks/heybooks-sync/internal/i18n"
	"github.com/heybooks/heybooks-sync/internal/logger"
	"github.com/heybooks/heybooks-sync/internal/notify"
	"github.com/heybooks/heybooks-sync/internal/replica"
	"github.com/heybooks/heybooks-sync/internal/search"
	"github.com/heybooks/heybooks-sync/internal/session"
)

// Messages as rendered in English.
const (
	msgOffline    = "Device not connected"
	msgNoResults  = "No results"
	msgSaveFailed = "Your change could not be saved"
	msgSyncFailed = "Could not load the latest changes"
	msgUpload     = "The picture could not be uploaded"
	msgValidation = "Please fill out all the required fields!"
	msgForbidden  = "You are not allowed to do that"
	msgNotSigned  = "Please sign in first"
)

const assetsURL = "http://assets.test"

// countingBackend counts every call that reaches the store and can inject failures.
type countingBackend struct {
	docstore.Backend

	calls atomic.Int32

	mu         sync.Mutex
	failUpdate map[docstore.Address]error
	slowUpdate map[docstore.Address]time.Duration
	onUpdate   func(docstore.Address)
	failWatch  error
}

func (b *countingBackend) Get(ctx context.Context, addr docstore.Address) (docstore.Snapshot, error) {
	b.calls.Add(1)
	return b.Backend.Get(ctx, addr)
}

func (b *countingBackend) Set(ctx context.Context, addr docstore.Address, doc docstore.Document) error {
	b.calls.Add(1)
	return b.Backend.Set(ctx, addr, doc)
}

func (b *countingBackend) Update(ctx context.Context, addr docstore.Address, patches ...docstore.Patch) error {
	b.calls.Add(1)
	b.mu.Lock()
	err := b.failUpdate[addr]
	delay := b.slowUpdate[addr]
	hook := b.onUpdate
	b.mu.Unlock()
	if hook != nil {
		hook(addr)
	}
	if err != nil {
		return err
	}
	time.Sleep(delay)
	return b.Backend.Update(ctx, addr, patches...)
}

func (b *countingBackend) Watch(ctx context.Context, addr docstore.Address) (<-chan docstore.Event, error) {
	b.calls.Add(1)
	b.mu.Lock()
	err := b.failWatch
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return b.Backend.Watch(ctx, addr)
}

func (b *countingBackend) failUpdates(addr docstore.Address, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failUpdate == nil {
		b.failUpdate = make(map[docstore.Address]error)
	}
	b.failUpdate[addr] = err
}

func (b *countingBackend) slowUpdates(addr docstore.Address, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.slowUpdate == nil {
		b.slowUpdate = make(map[docstore.Address]time.Duration)
	}
	b.slowUpdate[addr] = d
}

// fakeProvider signs everyone in as u1.
type fakeProvider struct {
	verified bool
}

func (f *fakeProvider) creds(email string) session.Credentials {
	return session.Credentials{
		Identity:    domain.Identity{UserID: "u1", Email: email, EmailVerified: f.verified},
		AccessToken: "token-u1",
	}
}

func (f *fakeProvider) CreateAccount(_ context.Context, reg domain.Registration) (session.Credentials, error) {
	return f.creds(reg.Email), nil
}

func (f *fakeProvider) SignIn(_ context.Context, c domain.Credentials) (session.Credentials, error) {
	return f.creds(c.Email), nil
}

func (f *fakeProvider) SendEmailVerification(context.Context, string) error { return nil }
func (f *fakeProvider) SendPasswordReset(context.Context, string) error     { return nil }
func (f *fakeProvider) SignOut(context.Context, string) error               { return nil }

func (f *fakeProvider) Reload(context.Context, string) (domain.Identity, error) {
	return f.creds("ada@example.com").Identity, nil
}

// failingAssets refuses every upload.
type failingAssets struct{ assets.Store }

func (failingAssets) Put(context.Context, assets.Path, []byte, string) (string, error) {
	return "", errors.New("bucket unavailable")
}

type fixture struct {
	sync     *Synchronizer
	session  *session.Session
	provider *fakeProvider
	store    *memdoc.Store
	backend  *countingBackend
	replica  *replica.Client
	files    *assets.FileStore
	probe    *connectivity.Static
	notes    *notify.Recorder
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	wrap       func(*assets.FileStore) assets.Store
	search     bool
	dispatcher Dispatcher
}

// withAssetStore replaces the asset store the relocator sees. The fixture's
// file store is still created and handed to wrap.
func withAssetStore(wrap func(*assets.FileStore) assets.Store) fixtureOption {
	return func(c *fixtureConfig) { c.wrap = wrap }
}

func withSearch() fixtureOption {
	return func(c *fixtureConfig) { c.search = true }
}

func withDispatcher(d Dispatcher) fixtureOption {
	return func(c *fixtureConfig) { c.dispatcher = d }
}

func setupTest(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	files, err := assets.NewFileStore(t.TempDir(), assetsURL)
	require.NoError(t, err)
	var cfg fixtureConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	var store assets.Store = files
	if cfg.wrap != nil {
		store = cfg.wrap(files)
	}

	log := logger.Discard()
	notes := &notify.Recorder{}
	reporter := notify.NewReporter(notes, i18n.NewPrinter("en"), log)
	probe := connectivity.NewStatic(true)
	gate := connectivity.NewGate(probe, reporter, log)

	docs := memdoc.New(log)
	t.Cleanup(func() { _ = docs.Close() })
	backend := &countingBackend{Backend: docs}
	client := replica.NewClient(backend, log)

	provider := &fakeProvider{verified: true}
	sess := session.New(session.Options{
		Provider: provider,
		Replica:  client,
		Gate:     gate,
		Reporter: reporter,
		Logger:   log,
		Timeout:  time.Second,
	})

	var index *search.Index
	if cfg.search {
		index, err = search.New(search.Options{Logger: log})
		require.NoError(t, err)
		t.Cleanup(func() { _ = index.Close() })
	}

	s := New(Options{
		Replica:    client,
		Session:    sess,
		Gate:       gate,
		Reporter:   reporter,
		Relocator:  assets.NewRelocator(store, nil, log),
		Index:      index,
		Dispatcher: cfg.dispatcher,
		Workers:    4,
		Logger:     log,
	})
	t.Cleanup(s.Close)

	return &fixture{
		sync:     s,
		session:  sess,
		provider: provider,
		store:    docs,
		backend:  backend,
		replica:  client,
		files:    files,
		probe:    probe,
		notes:    notes,
	}
}

func (f *fixture) signIn(t *testing.T) {
	t.Helper()
	require.NoError(t, f.session.SignIn(context.Background(), domain.Credentials{Email: "ada@example.com", Password: "secret1"}))
}

// books reads the listOfBooks field of addr straight from the store.
func (f *fixture) books(t *testing.T, addr docstore.Address) []domain.Book {
	t.Helper()
	snap, err := f.store.Get(context.Background(), addr)
	require.NoError(t, err)
	var doc catalogDocument
	require.NoError(t, snap.Decode(&doc))
	return doc.ListOfBooks
}

func (f *fixture) waitFor(t *testing.T, pred func(State) bool) State {
	t.Helper()
	require.Eventually(t, func() bool { return pred(f.sync.State()) }, 5*time.Second, 5*time.Millisecond)
	return f.sync.State()
}

func wait(t *testing.T, p *Pending) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := p.Wait(ctx)
	require.NoError(t, err)
	return out
}

func dune() domain.Book {
	return domain.Book{
		ID:         "book-dune",
		Title:      "Dune",
		Authors:    "Herbert",
		Categories: []string{"Science Fiction"},
		PageCount:  412,
		OwnerID:    "u1",
	}
}

var (
	catalogAddr = replica.CatalogAddress()
	profileAddr = replica.OwnerAddress("u1")
)
