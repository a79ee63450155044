package providers

import (
	"sync/atomic"

	"github.com/samber/do/v2"

	"github.com/heybooks/heybooks-sync/internal/assets"
	"github.com/heybooks/heybooks-sync/internal/catalog"
	"github.com/heybooks/heybooks-sync/internal/config"
	"github.com/heybooks/heybooks-sync/internal/connectivity"
	"github.com/heybooks/heybooks-sync/internal/i18n"
	"github.com/heybooks/heybooks-sync/internal/logger"
	"github.com/heybooks/heybooks-sync/internal/notify"
	"github.com/heybooks/heybooks-sync/internal/remote"
	"github.com/heybooks/heybooks-sync/internal/replica"
	"github.com/heybooks/heybooks-sync/internal/session"
	"github.com/heybooks/heybooks-sync/internal/validation"
)

// SessionRef breaks the cycle between the remote client, which needs the
// current token, and the session, which needs the remote client.
type SessionRef struct {
	session atomic.Pointer[session.Session]
}

// Token returns the bearer token of the signed-in session, or "".
func (r *SessionRef) Token() string {
	if s := r.session.Load(); s != nil {
		return s.AccessToken()
	}
	return ""
}

// ProvideSessionRef provides the empty session reference.
func ProvideSessionRef(i do.Injector) (*SessionRef, error) {
	return &SessionRef{}, nil
}

// RemoteHandle groups the HTTP clients of the catalog store.
type RemoteHandle struct {
	Client *remote.Client
	Docs   *remote.Docs
	Auth   *remote.AuthClient
	Assets *remote.AssetClient
}

// Shutdown implements do.Shutdownable.
func (h *RemoteHandle) Shutdown() error {
	h.Docs.Close()
	h.Client.Close()
	return nil
}

// ProvideRemote provides the catalog store clients.
func ProvideRemote(i do.Injector) (*RemoteHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	ref := do.MustInvoke[*SessionRef](i)
	log := do.MustInvoke[*logger.Logger](i)

	client, err := remote.New(remote.Options{
		BaseURL: cfg.Client.RemoteURL,
		Token:   ref.Token,
		Logger:  log.WithComponent("remote"),
	})
	if err != nil {
		return nil, err
	}

	return &RemoteHandle{
		Client: client,
		Docs:   remote.NewDocs(client, remote.DefaultReconnect()),
		Auth:   remote.NewAuthClient(client),
		Assets: remote.NewAssetClient(client),
	}, nil
}

// ProvideReporter provides the localized notification reporter.
func ProvideReporter(i do.Injector) (*notify.Reporter, error) {
	cfg := do.MustInvoke[*config.Config](i)
	notifier := do.MustInvoke[notify.Notifier](i)
	log := do.MustInvoke[*logger.Logger](i)

	return notify.NewReporter(notifier, i18n.NewPrinter(cfg.App.Locale), log.WithComponent("notify")), nil
}

// ProvideGate provides the connectivity gate, probing the store's address.
func ProvideGate(i do.Injector) (*connectivity.Gate, error) {
	cfg := do.MustInvoke[*config.Config](i)
	reporter := do.MustInvoke[*notify.Reporter](i)
	log := do.MustInvoke[*logger.Logger](i)

	probe := connectivity.NewDialProbe(cfg.Client.ProbeAddress, cfg.Client.ProbeTimeout)
	return connectivity.NewGate(probe, reporter, log.WithComponent("connectivity")), nil
}

// ProvideValidator provides the shared input validator.
func ProvideValidator(i do.Injector) (*validation.Validator, error) {
	return validation.New(), nil
}

// ProvideReplica provides the replica client.
func ProvideReplica(i do.Injector) (*replica.Client, error) {
	handle := do.MustInvoke[*RemoteHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return replica.NewClient(handle.Docs, log.WithComponent("replica")), nil
}

// ProvideSession provides the credential session and publishes it to the SessionRef.
func ProvideSession(i do.Injector) (*session.Session, error) {
	cfg := do.MustInvoke[*config.Config](i)
	handle := do.MustInvoke[*RemoteHandle](i)
	ref := do.MustInvoke[*SessionRef](i)
	log := do.MustInvoke[*logger.Logger](i)

	s := session.New(session.Options{
		Provider:  handle.Auth,
		Replica:   do.MustInvoke[*replica.Client](i),
		Gate:      do.MustInvoke[*connectivity.Gate](i),
		Reporter:  do.MustInvoke[*notify.Reporter](i),
		Validator: do.MustInvoke[*validation.Validator](i),
		Logger:    log.WithComponent("session"),
		Timeout:   cfg.Auth.OperationTimeout,
	})
	ref.session.Store(s)
	return s, nil
}

// ProvideRelocator provides the asset relocator.
func ProvideRelocator(i do.Injector) (*assets.Relocator, error) {
	handle := do.MustInvoke[*RemoteHandle](i)
	normalizer := do.MustInvoke[*assets.Normalizer](i)
	log := do.MustInvoke[*logger.Logger](i)

	return assets.NewRelocator(handle.Assets, normalizer, log.WithComponent("assets")), nil
}

// DispatcherHandle wraps the UI loop with shutdown capability.
type DispatcherHandle struct {
	*catalog.Loop
}

// Shutdown implements do.Shutdownable.
func (h *DispatcherHandle) Shutdown() error {
	h.Close()
	return nil
}

// ProvideDispatcher provides the loop every cache mutation runs on.
func ProvideDispatcher(i do.Injector) (*DispatcherHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return &DispatcherHandle{Loop: catalog.NewLoop(log.WithComponent("dispatcher"))}, nil
}

// SynchronizerHandle wraps the synchronizer with shutdown capability.
type SynchronizerHandle struct {
	*catalog.Synchronizer
}

// Shutdown implements do.Shutdownable.
func (h *SynchronizerHandle) Shutdown() error {
	h.Close()
	return nil
}

// ProvideSynchronizer provides the catalog synchronizer.
func ProvideSynchronizer(i do.Injector) (*SynchronizerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	index := do.MustInvoke[*SearchIndexHandle](i)
	dispatcher := do.MustInvoke[*DispatcherHandle](i)

	s := catalog.New(catalog.Options{
		Replica:    do.MustInvoke[*replica.Client](i),
		Session:    do.MustInvoke[*session.Session](i),
		Gate:       do.MustInvoke[*connectivity.Gate](i),
		Reporter:   do.MustInvoke[*notify.Reporter](i),
		Relocator:  do.MustInvoke[*assets.Relocator](i),
		Index:      index.Index,
		Dispatcher: dispatcher.Loop,
		Validator:  do.MustInvoke[*validation.Validator](i),
		Workers:    cfg.Client.Workers,
		Logger:     log.WithComponent("catalog"),
	})
	return &SynchronizerHandle{Synchronizer: s}, nil
}
