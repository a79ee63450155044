package providers

import "time"

const (
	// shutdownTimeout is the maximum time to wait for graceful shutdown of services.
	shutdownTimeout = 30 * time.Second

	// tokenCleanupInterval is how often expired one-time tokens and revocations are purged.
	tokenCleanupInterval = time.Hour
)
