// Package main provides the entry point for catalogd, the development
// emulator of the catalog store: documents, identity and assets behind one HTTP API.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/heybooks/heybooks-sync/internal/config"
	"github.com/heybooks/heybooks-sync/internal/di"
	"github.com/heybooks/heybooks-sync/internal/logger"
)

func main() {
	cfg, err := config.LoadConfig("catalogd", os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	// Create DI container
	injector := di.NewServerContainer(cfg)

	// Bootstrap all services
	if err := di.BootstrapServer(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap catalogd: %v\n", err)
		os.Exit(1)
	}

	log := do.MustInvoke[*logger.Logger](injector)
	log.Info("catalogd ready", "port", cfg.Server.Port, "data_path", cfg.Store.DataPath)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down catalogd gracefully...")

	// The container shuts services down in reverse dependency order:
	// HTTP server, API, token cleanup, then both databases.
	if err := injector.Shutdown(); err != nil {
		log.Error("Shutdown error", "error", err)
	}

	log.Info("catalogd stopped")
}
