package providers

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/heybooks/heybooks-sync/internal/logger"
)

// TokenCleanupJob runs periodic cleanup of expired one-time tokens and revocations.
type TokenCleanupJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown implements do.Shutdownable.
func (j *TokenCleanupJob) Shutdown() error {
	j.cancel()
	<-j.done
	return nil
}

// ProvideTokenCleanupJob provides the periodic token cleanup job.
func ProvideTokenCleanupJob(i do.Injector) (*TokenCleanupJob, error) {
	accounts := do.MustInvoke[*AccountStoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	ctx, cancel := context.WithCancel(context.Background())
	job := &TokenCleanupJob{cancel: cancel, done: make(chan struct{})}

	purge := func(phase string) {
		count, err := accounts.PurgeExpired(ctx, time.Now())
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("Token cleanup failed", "phase", phase, "error", err)
			}
			return
		}
		if count > 0 {
			log.Info("Token cleanup completed", "phase", phase, "deleted", count)
		}
	}

	go func() {
		defer close(job.done)
		ticker := time.NewTicker(tokenCleanupInterval)
		defer ticker.Stop()

		purge("startup")
		for {
			select {
			case <-ticker.C:
				purge("periodic")
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("Token cleanup job started")

	return job, nil
}
