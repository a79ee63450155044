package replica

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heybooks/heybooks-sync/internal/docstore"
	"github.com/heybooks/heybooks-sync/internal/docstore/memdoc"
	"github.com/heybooks/heybooks-sync/internal/domain"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
	"github.com/heybooks/heybooks-sync/internal/logger"
)

// failingBackend rejects every call.
type failingBackend struct{ err error }

func (f failingBackend) Get(context.Context, docstore.Address) (docstore.Snapshot, error) {
	return docstore.Snapshot{}, f.err
}
func (f failingBackend) Set(context.Context, docstore.Address, docstore.Document) error { return f.err }
func (f failingBackend) Update(context.Context, docstore.Address, ...docstore.Patch) error {
	return f.err
}
func (f failingBackend) Watch(context.Context, docstore.Address) (<-chan docstore.Event, error) {
	return nil, f.err
}

func dune() domain.Book {
	return domain.Book{ID: "book-1", Title: "Dune", Authors: "Herbert", Categories: []string{"Science Fiction"}, PageCount: 412, OwnerID: "u1"}
}

func setupTest(t *testing.T) (*Client, *memdoc.Store) {
	t.Helper()
	store := memdoc.New(logger.Discard())
	t.Cleanup(func() { _ = store.Close() })
	return NewClient(store, logger.Discard()), store
}

func nextSnapshot(t *testing.T, s *Subscription) docstore.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-s.Snapshots():
		require.True(t, ok)
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot")
		return docstore.Snapshot{}
	}
}

func TestAddresses(t *testing.T) {
	assert.Equal(t, "data/books", CatalogAddress().String())
	assert.Equal(t, "users/u1", ProfileAddress(domain.Identity{UserID: "u1"}).String())
	assert.Equal(t, Remove, OpFor(domain.Remove))
	assert.Equal(t, Union, OpFor(domain.Add))
}

func TestReadOnce_NotFound(t *testing.T) {
	c, _ := setupTest(t)

	_, err := c.ReadOnce(context.Background(), OwnerAddress("ghost"))
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestPatchArrayField_SetSemantics(t *testing.T) {
	c, _ := setupTest(t)
	ctx := context.Background()
	addr := CatalogAddress()

	require.NoError(t, c.PatchArrayField(ctx, addr, domain.FieldListOfBooks, Union, dune()))
	require.NoError(t, c.PatchArrayField(ctx, addr, domain.FieldListOfBooks, Union, dune()))

	snap, err := c.ReadOnce(ctx, addr)
	require.NoError(t, err)
	var doc struct {
		ListOfBooks []domain.Book `json:"listOfBooks"`
	}
	require.NoError(t, snap.Decode(&doc))
	assert.Len(t, doc.ListOfBooks, 1)

	require.NoError(t, c.PatchArrayField(ctx, addr, domain.FieldListOfBooks, Remove, dune()))
	require.NoError(t, c.PatchArrayField(ctx, addr, domain.FieldListOfBooks, Remove, dune()))
	snap, err = c.ReadOnce(ctx, addr)
	require.NoError(t, err)
	doc.ListOfBooks = nil
	require.NoError(t, snap.Decode(&doc))
	assert.Empty(t, doc.ListOfBooks)
}

func TestReplaceArrayElement(t *testing.T) {
	c, _ := setupTest(t)
	ctx := context.Background()
	addr := CatalogAddress()
	require.NoError(t, c.PatchArrayField(ctx, addr, domain.FieldListOfBooks, Union, dune()))

	updated := dune()
	updated.ThumbnailURL = "http://assets/u1/bookPictures/dune.jpg"
	require.NoError(t, c.ReplaceArrayElement(ctx, addr, domain.FieldListOfBooks, domain.BookKey, updated))

	snap, err := c.ReadOnce(ctx, addr)
	require.NoError(t, err)
	var doc struct {
		ListOfBooks []domain.Book `json:"listOfBooks"`
	}
	require.NoError(t, snap.Decode(&doc))
	require.Len(t, doc.ListOfBooks, 1)
	assert.Equal(t, updated.ThumbnailURL, doc.ListOfBooks[0].ThumbnailURL)
}

func TestWriteFailuresAreWriteFailed(t *testing.T) {
	c := NewClient(failingBackend{err: errors.New("permission denied")}, logger.Discard())
	ctx := context.Background()

	assert.ErrorIs(t, c.PatchArrayField(ctx, CatalogAddress(), domain.FieldListOfBooks, Union, dune()), domainerrors.ErrWriteFailed)
	assert.ErrorIs(t, c.SetFields(ctx, OwnerAddress("u1"), map[string]any{domain.FieldBio: "x"}), domainerrors.ErrWriteFailed)
	assert.ErrorIs(t, c.Create(ctx, OwnerAddress("u1"), domain.User{UserID: "u1"}), domainerrors.ErrWriteFailed)
	assert.ErrorIs(t, c.ReplaceArrayElement(ctx, CatalogAddress(), domain.FieldListOfBooks, domain.BookKey, dune()), domainerrors.ErrWriteFailed)
}

func TestSubscribe_SetupFailureIsListenFailed(t *testing.T) {
	c := NewClient(failingBackend{err: errors.New("unavailable")}, logger.Discard())

	_, err := c.Subscribe(context.Background(), CatalogAddress())
	assert.ErrorIs(t, err, domainerrors.ErrListenFailed)
}

func TestSubscribe_MissingThenUpdates(t *testing.T) {
	c, _ := setupTest(t)
	ctx := context.Background()

	sub, err := c.Subscribe(ctx, CatalogAddress())
	require.NoError(t, err)
	defer sub.Close()

	first := nextSnapshot(t, sub)
	assert.False(t, first.Exists)

	require.NoError(t, c.PatchArrayField(ctx, CatalogAddress(), domain.FieldListOfBooks, Union, dune()))
	second := nextSnapshot(t, sub)
	assert.True(t, second.Exists)
}

func TestSubscribe_OutlivesSetupContext(t *testing.T) {
	c, _ := setupTest(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := c.Subscribe(ctx, CatalogAddress())
	require.NoError(t, err)
	defer sub.Close()
	nextSnapshot(t, sub)
	cancel()

	require.NoError(t, c.PatchArrayField(context.Background(), CatalogAddress(), domain.FieldListOfBooks, Union, dune()))
	assert.True(t, nextSnapshot(t, sub).Exists)
}

func TestSubscribe_AsyncErrorsKeepSubscriptionAlive(t *testing.T) {
	c, store := setupTest(t)
	ctx := context.Background()

	sub, err := c.Subscribe(ctx, CatalogAddress())
	require.NoError(t, err)
	defer sub.Close()
	nextSnapshot(t, sub)

	store.Fail(CatalogAddress(), errors.New("permission denied"))
	select {
	case err := <-sub.Errors():
		assert.ErrorIs(t, err, domainerrors.ErrListenFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("no error delivered")
	}

	require.NoError(t, c.PatchArrayField(ctx, CatalogAddress(), domain.FieldListOfBooks, Union, dune()))
	assert.True(t, nextSnapshot(t, sub).Exists)
}

func TestSubscribe_CloseAndRestart(t *testing.T) {
	c, store := setupTest(t)
	ctx := context.Background()

	sub, err := c.Subscribe(ctx, CatalogAddress())
	require.NoError(t, err)
	sub.Close()
	sub.Close()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
	assert.Eventually(t, func() bool { return store.Watchers(CatalogAddress()) == 0 }, 2*time.Second, 10*time.Millisecond)

	again, err := c.Subscribe(ctx, CatalogAddress())
	require.NoError(t, err)
	defer again.Close()
	nextSnapshot(t, again)
}
