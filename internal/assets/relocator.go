package assets

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
)

// maxUploadBytes caps what the relocator will read from a caller.
const maxUploadBytes = 20 << 20

// Relocator uploads local images to the binary store and deletes superseded ones.
// Each call makes exactly one attempt.
type Relocator struct {
	store      Store
	normalizer *Normalizer
	logger     *slog.Logger
}

// NewRelocator creates a relocator. A nil normalizer uploads bytes unchanged.
func NewRelocator(store Store, normalizer *Normalizer, logger *slog.Logger) *Relocator {
	return &Relocator{store: store, normalizer: normalizer, logger: logger}
}

// Upload stores src at dest and returns the public URL. When a normalizer is
// configured the stored file is a JPEG and dest's extension becomes .jpg.
func (r *Relocator) Upload(ctx context.Context, src io.Reader, dest Path) (string, error) {
	if err := dest.Validate(); err != nil {
		return "", err
	}

	data, err := io.ReadAll(io.LimitReader(src, maxUploadBytes+1))
	if err != nil {
		return "", domainerrors.UploadFailed(err, "read image")
	}
	if len(data) == 0 {
		return "", domainerrors.Validation("image is empty")
	}
	if len(data) > maxUploadBytes {
		return "", domainerrors.Validationf("image exceeds %d bytes", maxUploadBytes)
	}

	contentType := ""
	if r.normalizer != nil {
		if data, err = r.normalizer.Normalize(data); err != nil {
			return "", err
		}
		contentType = ContentTypeJPEG
		dest.FileName = withExtension(dest.FileName, ".jpg")
	}

	url, err := r.store.Put(ctx, dest, data, contentType)
	if err != nil {
		r.logger.Warn("asset upload failed", "path", dest.String(), "error", err)
		return "", domainerrors.UploadFailed(err, "upload "+dest.String())
	}
	r.logger.Debug("asset uploaded", "path", dest.String(), "bytes", len(data))
	return url, nil
}

// Delete removes the asset at target.
func (r *Relocator) Delete(ctx context.Context, target Path) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, target); err != nil {
		r.logger.Warn("asset delete failed", "path", target.String(), "error", err)
		return domainerrors.DeleteFailed(err, "delete "+target.String())
	}
	return nil
}

// Owned resolves url to a path when the store produced it and it belongs to ownerID.
func (r *Relocator) Owned(url, ownerID string) (Path, bool) {
	if url == "" {
		return Path{}, false
	}
	p, ok := r.store.PathOf(url)
	if !ok || p.OwnerID != ownerID {
		return Path{}, false
	}
	return p, true
}

func withExtension(name, ext string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = name
	}
	return base + ext
}
