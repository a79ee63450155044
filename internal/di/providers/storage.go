package providers

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/heybooks/heybooks-sync/internal/assets"
	"github.com/heybooks/heybooks-sync/internal/config"
	"github.com/heybooks/heybooks-sync/internal/logger"
)

// ProvideFileStore provides the binary asset store served by the emulator.
func ProvideFileStore(i do.Injector) (*assets.FileStore, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	files, err := assets.NewFileStore(cfg.AssetsPath(), cfg.Server.PublicURL)
	if err != nil {
		return nil, fmt.Errorf("asset storage: %w", err)
	}

	log.Info("Asset storage initialized", "path", cfg.AssetsPath(), "public_url", cfg.Server.PublicURL)

	return files, nil
}

// ProvideNormalizer provides the image normalizer used before uploads.
func ProvideNormalizer(i do.Injector) (*assets.Normalizer, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return assets.NewNormalizer(cfg.Assets.MaxDimension, cfg.Assets.JPEGQuality), nil
}
