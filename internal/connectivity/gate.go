// Package connectivity answers whether the device can currently reach the network.
package connectivity

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/net/proxy"

	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
	"github.com/heybooks/heybooks-sync/internal/i18n"
	"github.com/heybooks/heybooks-sync/internal/notify"
)

// Probe reports current reachability. It must not block past ctx.
type Probe interface {
	Online(ctx context.Context) bool
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) bool

// Online calls f.
func (f ProbeFunc) Online(ctx context.Context) bool { return f(ctx) }

// Static is a probe whose answer is set explicitly.
type Static struct {
	online atomic.Bool
}

// NewStatic creates a static probe with the given initial answer.
func NewStatic(online bool) *Static {
	s := &Static{}
	s.online.Store(online)
	return s
}

// Set changes the answer.
func (s *Static) Set(online bool) { s.online.Store(online) }

// Online returns the current answer.
func (s *Static) Online(context.Context) bool { return s.online.Load() }

// DialProbe considers the device online when a TCP connection to Address succeeds.
// Dialing honours ALL_PROXY and NO_PROXY.
type DialProbe struct {
	address string
	timeout time.Duration
	dialer  proxy.ContextDialer
}

// NewDialProbe creates a probe that dials address within timeout.
func NewDialProbe(address string, timeout time.Duration) *DialProbe {
	direct := &net.Dialer{Timeout: timeout}
	d, ok := proxy.FromEnvironmentUsing(direct).(proxy.ContextDialer)
	if !ok {
		d = direct
	}
	return &DialProbe{address: address, timeout: timeout, dialer: d}
}

// Online dials the configured address.
func (p *DialProbe) Online(ctx context.Context) bool {
	if p.address == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Gate guards every remote operation.
type Gate struct {
	probe    Probe
	reporter *notify.Reporter
	logger   *slog.Logger
}

// NewGate creates a gate over probe.
func NewGate(probe Probe, reporter *notify.Reporter, logger *slog.Logger) *Gate {
	return &Gate{probe: probe, reporter: reporter, logger: logger}
}

// IsOnline is a pure query with no side effects.
func (g *Gate) IsOnline(ctx context.Context) bool {
	return g.probe.Online(ctx)
}

// Require returns nil when online. Otherwise it shows exactly one
// "device not connected" message and returns an Offline error.
func (g *Gate) Require(ctx context.Context) error {
	if g.probe.Online(ctx) {
		return nil
	}
	g.logger.Debug("operation refused, device offline")
	g.reporter.Info(i18n.DeviceNotConnected)
	return domainerrors.ErrOffline
}
