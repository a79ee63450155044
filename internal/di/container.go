// Package di provides dependency injection configuration for the HeyBooks binaries.
package di

import (
	"github.com/samber/do/v2"

	"github.com/heybooks/heybooks-sync/internal/auth"
	"github.com/heybooks/heybooks-sync/internal/config"
	"github.com/heybooks/heybooks-sync/internal/connectivity"
	"github.com/heybooks/heybooks-sync/internal/di/providers"
	"github.com/heybooks/heybooks-sync/internal/logger"
	"github.com/heybooks/heybooks-sync/internal/notify"
	"github.com/heybooks/heybooks-sync/internal/session"
)

// NewServerContainer configures the catalog store emulator.
func NewServerContainer(cfg *config.Config) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.ProvideValue(injector, cfg)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideAuthKey)

	// Database layer
	do.Provide(injector, providers.ProvideDocumentStore)
	do.Provide(injector, providers.ProvideAccountStore)

	// Storage layer
	do.Provide(injector, providers.ProvideFileStore)

	// Auth layer
	do.Provide(injector, providers.ProvideTokenService)
	do.Provide(injector, providers.ProvideOutbox)
	do.Provide(injector, providers.ProvideAuthService)

	// Workers
	do.Provide(injector, providers.ProvideTokenCleanupJob)

	// Server
	do.Provide(injector, providers.ProvideAPIServer)
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// BootstrapServer initializes all emulator services and starts the HTTP server.
func BootstrapServer(injector *do.RootScope) error {
	steps := []func() error{
		invoke[*logger.Logger](injector),
		invoke[providers.AuthKey](injector),
		invoke[*providers.DocumentStoreHandle](injector),
		invoke[*providers.AccountStoreHandle](injector),
		invoke[*auth.Service](injector),
		invoke[*providers.TokenCleanupJob](injector),
		invoke[*providers.HTTPServerHandle](injector),
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// NewClientContainer configures the catalog client. Notifications are shown through notifier.
func NewClientContainer(cfg *config.Config, notifier notify.Notifier) *do.RootScope {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, notifier)
	do.Provide(injector, providers.ProvideLogger)

	// Remote
	do.Provide(injector, providers.ProvideSessionRef)
	do.Provide(injector, providers.ProvideRemote)
	do.Provide(injector, providers.ProvideReplica)

	// Sync layer
	do.Provide(injector, providers.ProvideReporter)
	do.Provide(injector, providers.ProvideGate)
	do.Provide(injector, providers.ProvideValidator)
	do.Provide(injector, providers.ProvideSession)
	do.Provide(injector, providers.ProvideNormalizer)
	do.Provide(injector, providers.ProvideRelocator)
	do.Provide(injector, providers.ProvideSearchIndex)
	do.Provide(injector, providers.ProvideDispatcher)
	do.Provide(injector, providers.ProvideSynchronizer)

	return injector
}

// Client is the resolved client graph.
type Client struct {
	Logger       *logger.Logger
	Gate         *connectivity.Gate
	Session      *session.Session
	Synchronizer *providers.SynchronizerHandle
	Remote       *providers.RemoteHandle
	Dispatcher   *providers.DispatcherHandle
}

// BootstrapClient resolves the client graph.
func BootstrapClient(injector *do.RootScope) (*Client, error) {
	sync, err := do.Invoke[*providers.SynchronizerHandle](injector)
	if err != nil {
		return nil, err
	}
	return &Client{
		Logger:       do.MustInvoke[*logger.Logger](injector),
		Gate:         do.MustInvoke[*connectivity.Gate](injector),
		Session:      do.MustInvoke[*session.Session](injector),
		Synchronizer: sync,
		Remote:       do.MustInvoke[*providers.RemoteHandle](injector),
		Dispatcher:   do.MustInvoke[*providers.DispatcherHandle](injector),
	}, nil
}

func invoke[T any](injector do.Injector) func() error {
	return func() error {
		_, err := do.Invoke[T](injector)
		return err
	}
}
