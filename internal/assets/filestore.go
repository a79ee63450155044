package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
)

// Store is the remote binary store boundary.
type Store interface {
	// Put writes data at p and returns its public URL.
	Put(ctx context.Context, p Path, data []byte, contentType string) (string, error)
	// Delete removes p. Deleting a missing asset succeeds.
	Delete(ctx context.Context, p Path) error
	// PathOf maps a URL returned by Put back to its path.
	PathOf(url string) (Path, bool)
}

// FileStore keeps assets on the local filesystem under a base directory and
// serves them below a public base URL. Safe for concurrent use.
type FileStore struct {
	basePath  string
	publicURL string
	mu        sync.RWMutex
}

// NewFileStore creates the base directory if needed.
func NewFileStore(basePath, publicURL string) (*FileStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create assets directory: %w", err)
	}
	return &FileStore{basePath: basePath, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

// Put writes data and returns {publicURL}/{path}.
func (s *FileStore) Put(_ context.Context, p Path, data []byte, _ string) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", domainerrors.Validation("asset data cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	full := s.filePath(p)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create asset directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write asset: %w", err)
	}
	return s.URL(p), nil
}

// Delete removes the asset. Missing files are not an error.
func (s *FileStore) Delete(_ context.Context, p Path) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath(p)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	return nil
}

// Get reads the asset bytes.
func (s *FileStore) Get(p Path) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.filePath(p))
	if os.IsNotExist(err) {
		return nil, domainerrors.NotFoundf("asset %s not found", p)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read asset: %w", err)
	}
	return data, nil
}

// ETag returns the quoted hex SHA-256 of data.
func ETag(data []byte) string {
	sum := sha256.Sum256(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// URL returns the public URL of p.
func (s *FileStore) URL(p Path) string {
	return s.publicURL + "/assets/" + p.String()
}

// PathOf maps a URL produced by this store back to its path.
func (s *FileStore) PathOf(url string) (Path, bool) {
	return PathUnder(s.publicURL+"/assets/", url)
}

func (s *FileStore) filePath(p Path) string {
	return filepath.Join(s.basePath, p.OwnerID, p.Category, p.FileName)
}

// PathUnder parses url as an asset path when it starts with prefix.
func PathUnder(prefix, url string) (Path, bool) {
	rest, ok := strings.CutPrefix(url, prefix)
	if !ok {
		return Path{}, false
	}
	p, err := ParsePath(rest)
	return p, err == nil
}
