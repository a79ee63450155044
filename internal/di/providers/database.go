package providers

import (
	"github.com/samber/do/v2"

	"github.com/heybooks/heybooks-sync/internal/config"
	"github.com/heybooks/heybooks-sync/internal/docstore/badgerdoc"
	"github.com/heybooks/heybooks-sync/internal/logger"
)

// DocumentStoreHandle wraps the document database with shutdown capability.
type DocumentStoreHandle struct {
	*badgerdoc.Store
}

// Shutdown implements do.Shutdownable.
func (h *DocumentStoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideDocumentStore provides the document database.
func ProvideDocumentStore(i do.Injector) (*DocumentStoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	db, err := badgerdoc.Open(cfg.DocumentsPath(), log.WithComponent("documents"))
	if err != nil {
		return nil, err
	}

	return &DocumentStoreHandle{Store: db}, nil
}
