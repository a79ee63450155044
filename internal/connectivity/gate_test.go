package connectivity

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
	"github.com/heybooks/heybooks-sync/internal/i18n"
	"github.com/heybooks/heybooks-sync/internal/logger"
	"github.com/heybooks/heybooks-sync/internal/notify"
)

func newGate(p Probe) (*Gate, *notify.Recorder) {
	rec := &notify.Recorder{}
	return NewGate(p, notify.NewReporter(rec, i18n.NewPrinter("en"), logger.Discard()), logger.Discard()), rec
}

func TestGate_RequireOffline(t *testing.T) {
	gate, rec := newGate(NewStatic(false))

	err := gate.Require(context.Background())

	assert.ErrorIs(t, err, domainerrors.ErrOffline)
	assert.Equal(t, []string{"Device not connected"}, rec.Texts())
}

func TestGate_RequireOnline(t *testing.T) {
	gate, rec := newGate(NewStatic(true))

	assert.NoError(t, gate.Require(context.Background()))
	assert.Empty(t, rec.Messages())
}

func TestGate_IsOnlineHasNoSideEffects(t *testing.T) {
	probe := NewStatic(false)
	gate, rec := newGate(probe)

	assert.False(t, gate.IsOnline(context.Background()))
	probe.Set(true)
	assert.True(t, gate.IsOnline(context.Background()))
	assert.Empty(t, rec.Messages())
}

func TestDialProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	assert.True(t, NewDialProbe(ln.Addr().String(), time.Second).Online(context.Background()))

	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	assert.False(t, NewDialProbe(addr, 200*time.Millisecond).Online(context.Background()))
	assert.False(t, NewDialProbe("", time.Second).Online(context.Background()))
}

func TestProbeFunc(t *testing.T) {
	calls := 0
	gate, _ := newGate(ProbeFunc(func(context.Context) bool { calls++; return true }))

	require.NoError(t, gate.Require(context.Background()))
	assert.Equal(t, 1, calls)
}
