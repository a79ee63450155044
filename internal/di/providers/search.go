package providers

import (
	"github.com/samber/do/v2"

	"github.com/heybooks/heybooks-sync/internal/logger"
	"github.com/heybooks/heybooks-sync/internal/search"
)

// SearchIndexHandle wraps the search index with shutdown capability.
type SearchIndexHandle struct {
	*search.Index
}

// Shutdown implements do.Shutdownable.
func (h *SearchIndexHandle) Shutdown() error {
	return h.Close()
}

// ProvideSearchIndex provides the in-memory catalog search index. The index
// is rebuilt from every catalog snapshot, so it is never persisted.
func ProvideSearchIndex(i do.Injector) (*SearchIndexHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)

	index, err := search.New(search.Options{Logger: log.WithComponent("search")})
	if err != nil {
		return nil, err
	}

	return &SearchIndexHandle{Index: index}, nil
}
