// Package docstoretest holds behaviour checks shared by every docstore.Backend.
package docstoretest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heybooks/heybooks-sync/internal/docstore"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
)

// Wait bounds how long a check waits for a watched snapshot.
const Wait = 5 * time.Second

type book struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Run exercises b against the Backend contract.
func Run(t *testing.T, newBackend func(t *testing.T) docstore.Backend) {
	t.Run("get missing document", func(t *testing.T) {
		b := newBackend(t)
		snap, err := b.Get(context.Background(), docstore.Address{Collection: "data", ID: "books"})
		require.NoError(t, err)
		assert.False(t, snap.Exists)
	})

	t.Run("update creates document and bumps version", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		addr := docstore.Address{Collection: "data", ID: "books"}

		require.NoError(t, b.Update(ctx, addr, mustUnion(t, book{ID: "b1", Title: "Dune"})))
		require.NoError(t, b.Update(ctx, addr, mustUnion(t, book{ID: "b1", Title: "Dune"})))

		snap, err := b.Get(ctx, addr)
		require.NoError(t, err)
		assert.True(t, snap.Exists)
		assert.Equal(t, uint64(2), snap.Version)
		assert.Len(t, Books(t, snap), 1)
	})

	t.Run("set overwrites", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		addr := docstore.Address{Collection: "users", ID: "u1"}

		require.NoError(t, b.Set(ctx, addr, docstore.Document{"name": json.RawMessage(`"Ada"`), "bio": json.RawMessage(`"x"`)}))
		require.NoError(t, b.Set(ctx, addr, docstore.Document{"name": json.RawMessage(`"Grace"`)}))

		snap, err := b.Get(ctx, addr)
		require.NoError(t, err)
		assert.JSONEq(t, `"Grace"`, string(snap.Data["name"]))
		assert.NotContains(t, snap.Data, "bio")
	})

	t.Run("invalid patch rejected", func(t *testing.T) {
		b := newBackend(t)
		err := b.Update(context.Background(), docstore.Address{Collection: "data", ID: "books"},
			docstore.Patch{Field: "listOfBooks", Op: "bogus", Value: json.RawMessage(`1`)})
		assert.Error(t, err)
	})

	t.Run("watch delivers initial and later snapshots", func(t *testing.T) {
		b := newBackend(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		addr := docstore.Address{Collection: "data", ID: "books"}

		events, err := b.Watch(ctx, addr)
		require.NoError(t, err)

		first := Next(t, events)
		assert.False(t, first.Exists)

		require.NoError(t, b.Update(ctx, addr, mustUnion(t, book{ID: "b1", Title: "Dune"})))
		snap := Until(t, events, func(s docstore.Snapshot) bool { return s.Exists })
		assert.Len(t, Books(t, snap), 1)
	})

	t.Run("watch closes when context ends", func(t *testing.T) {
		b := newBackend(t)
		ctx, cancel := context.WithCancel(context.Background())

		events, err := b.Watch(ctx, docstore.Address{Collection: "data", ID: "books"})
		require.NoError(t, err)
		Next(t, events)
		cancel()

		deadline := time.After(Wait)
		for {
			select {
			case _, ok := <-events:
				if !ok {
					return
				}
			case <-deadline:
				t.Fatal("watch channel not closed after cancel")
			}
		}
	})

	t.Run("concurrent unions all land", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		addr := docstore.Address{Collection: "data", ID: "books"}

		var wg sync.WaitGroup
		for _, id := range []string{"b1", "b2", "b3", "b4", "b5", "b6"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, b.Update(ctx, addr, mustUnion(t, book{ID: id})))
			}()
		}
		wg.Wait()

		snap, err := b.Get(ctx, addr)
		require.NoError(t, err)
		assert.Len(t, Books(t, snap), 6)
		assert.Equal(t, uint64(6), snap.Version)
	})

	t.Run("guarded replace of a foreign element leaves the document untouched", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		addr := docstore.Address{Collection: "data", ID: "books"}
		type owned struct {
			ID    string `json:"id"`
			Owner string `json:"userID"`
		}

		union, err := docstore.ArrayUnion("listOfBooks", owned{ID: "b1", Owner: "alice"})
		require.NoError(t, err)
		require.NoError(t, b.Update(ctx, addr, union))

		replace, err := docstore.ArrayReplace("listOfBooks", "id", owned{ID: "b1", Owner: "bob"})
		require.NoError(t, err)
		replace.Guard = &docstore.Guard{Key: "id", OwnerField: "userID", Owner: "bob"}
		assert.ErrorIs(t, b.Update(ctx, addr, replace), domainerrors.ErrForbidden)

		snap, err := b.Get(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), snap.Version)
		assert.JSONEq(t, `[{"id":"b1","userID":"alice"}]`, string(snap.Data["listOfBooks"]))
	})
}

// Next returns the next snapshot event, failing on errors and timeouts.
func Next(t *testing.T, events <-chan docstore.Event) docstore.Snapshot {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "watch channel closed")
		require.NoError(t, ev.Err)
		return ev.Snapshot
	case <-time.After(Wait):
		t.Fatal("timed out waiting for snapshot")
		return docstore.Snapshot{}
	}
}

// Until reads snapshots until one satisfies pred.
func Until(t *testing.T, events <-chan docstore.Event, pred func(docstore.Snapshot) bool) docstore.Snapshot {
	t.Helper()
	deadline := time.After(Wait)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "watch channel closed")
			if ev.Err == nil && pred(ev.Snapshot) {
				return ev.Snapshot
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching snapshot")
			return docstore.Snapshot{}
		}
	}
}

// Books decodes the listOfBooks field of snap.
func Books(t *testing.T, snap docstore.Snapshot) []book {
	t.Helper()
	var out []book
	if raw, ok := snap.Data["listOfBooks"]; ok {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return out
}

func mustUnion(t *testing.T, b book) docstore.Patch {
	t.Helper()
	p, err := docstore.ArrayUnion("listOfBooks", b)
	require.NoError(t, err)
	return p
}
