package memdoc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heybooks/heybooks-sync/internal/docstore"
	"github.com/heybooks/heybooks-sync/internal/docstore/docstoretest"
	"github.com/heybooks/heybooks-sync/internal/logger"
)

func TestBackendContract(t *testing.T) {
	docstoretest.Run(t, func(t *testing.T) docstore.Backend {
		s := New(logger.Discard())
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestWatch_LatestOnly(t *testing.T) {
	s := New(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr := docstore.Address{Collection: "data", ID: "books"}

	events, err := s.Watch(ctx, addr)
	require.NoError(t, err)

	// Nobody reads while three writes land; only the newest survives.
	for _, title := range []string{"a", "b", "c"} {
		p, err := docstore.SetField("title", title)
		require.NoError(t, err)
		require.NoError(t, s.Update(ctx, addr, p))
	}

	snap := docstoretest.Next(t, events)
	assert.Equal(t, uint64(3), snap.Version)
	assert.JSONEq(t, `"c"`, string(snap.Data["title"]))
}

func TestWatch_FailDoesNotDisplaceSnapshot(t *testing.T) {
	s := New(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr := docstore.Address{Collection: "data", ID: "books"}

	events, err := s.Watch(ctx, addr)
	require.NoError(t, err)
	s.Fail(addr, errors.New("permission denied"))

	ev := <-events
	assert.NoError(t, ev.Err)

	s.Fail(addr, errors.New("permission denied"))
	ev = <-events
	assert.EqualError(t, ev.Err, "permission denied")
}

func TestWatchers(t *testing.T) {
	s := New(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	addr := docstore.Address{Collection: "users", ID: "u1"}

	_, err := s.Watch(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Watchers(addr))

	cancel()
	assert.Eventually(t, func() bool { return s.Watchers(addr) == 0 }, docstoretest.Wait, 10*time.Millisecond)
}

func TestInvalidAddress(t *testing.T) {
	s := New(logger.Discard())
	_, err := s.Get(context.Background(), docstore.Address{Collection: "users"})
	assert.Error(t, err)
}
