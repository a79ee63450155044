package search

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/heybooks/heybooks-sync/internal/domain"
	"github.com/heybooks/heybooks-sync/internal/logger"
)

// Index wraps a Bleve index of catalog books.
//
// Thread safety: all public methods are safe for concurrent use.
type Index struct {
	index  bleve.Index
	path   string
	logger *slog.Logger

	mu      sync.RWMutex // guards index swaps during Rebuild
	indexed map[string]struct{}
	idsMu   sync.Mutex
}

// Options configures the search index.
type Options struct {
	DataPath string       // Directory for index storage; empty keeps it in memory
	Logger   *slog.Logger // Discarded if nil
}

// mappingVersion is bumped whenever the mapping changes so on-disk indexes are rebuilt.
const mappingVersion = "1"

// New creates or opens an index. An existing on-disk index with an outdated
// mapping or that fails to open is removed and recreated.
func New(opts Options) (*Index, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	if opts.DataPath == "" {
		index, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		return &Index{index: index, logger: log, indexed: make(map[string]struct{})}, nil
	}

	indexPath := filepath.Join(opts.DataPath, "catalog.bleve")
	versionPath := filepath.Join(opts.DataPath, "catalog.version")

	var index bleve.Index
	needsRebuild := false

	if _, statErr := os.Stat(indexPath); statErr == nil {
		existing, readErr := os.ReadFile(versionPath)
		if readErr != nil || string(existing) != mappingVersion {
			log.Info("search mapping version changed, will rebuild",
				"old_version", string(existing),
				"new_version", mappingVersion,
			)
			needsRebuild = true
		} else if opened, err := bleve.Open(indexPath); err != nil {
			log.Warn("failed to open existing index, will recreate", "path", indexPath, "error", err)
			needsRebuild = true
		} else {
			index = opened
		}
	}

	if needsRebuild {
		if err := os.RemoveAll(indexPath); err != nil {
			return nil, fmt.Errorf("remove old index: %w", err)
		}
	}

	if index == nil {
		created, err := bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		index = created
		if err := os.WriteFile(versionPath, []byte(mappingVersion), 0o644); err != nil {
			log.Warn("failed to write search version file", "error", err)
		}
		log.Info("created search index", "path", indexPath, "mapping_version", mappingVersion)
	}

	ids, err := storedIDs(index)
	if err != nil {
		_ = index.Close()
		return nil, err
	}
	return &Index{index: index, path: indexPath, logger: log, indexed: ids}, nil
}

// storedIDs lists the IDs already present in a reopened index.
func storedIDs(index bleve.Index) (map[string]struct{}, error) {
	count, err := index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	ids := make(map[string]struct{}, count)
	if count == 0 {
		return ids, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(count), 0, false)
	res, err := index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	for _, hit := range res.Hits {
		ids[hit.ID] = struct{}{}
	}
	return ids, nil
}

// Close releases the index.
func (s *Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// IndexDocuments indexes docs in batches.
func (s *Index) IndexDocuments(docs []*Document) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const batchSize = 500

	for i := 0; i < len(docs); i += batchSize {
		end := min(i+batchSize, len(docs))

		batch := s.index.NewBatch()
		for _, doc := range docs[i:end] {
			if err := batch.Index(doc.ID, doc.ToMap()); err != nil {
				return fmt.Errorf("batch index %s: %w", doc.ID, err)
			}
		}
		if err := s.index.Batch(batch); err != nil {
			return fmt.Errorf("commit batch %d-%d: %w", i, end, err)
		}
	}

	s.idsMu.Lock()
	for _, doc := range docs {
		s.indexed[doc.ID] = struct{}{}
	}
	s.idsMu.Unlock()
	return nil
}

// DeleteDocuments removes ids from the index.
func (s *Index) DeleteDocuments(ids []string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch := s.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := s.index.Batch(batch); err != nil {
		return err
	}

	s.idsMu.Lock()
	for _, id := range ids {
		delete(s.indexed, id)
	}
	s.idsMu.Unlock()
	return nil
}

// Sync makes the index hold exactly books: everything is (re)indexed and
// documents no longer in the list are deleted.
func (s *Index) Sync(books []domain.Book) error {
	keep := make(map[string]struct{}, len(books))
	docs := make([]*Document, 0, len(books))
	for _, b := range books {
		if b.ID == "" {
			continue
		}
		keep[b.ID] = struct{}{}
		docs = append(docs, FromBook(b))
	}

	s.idsMu.Lock()
	var stale []string
	for id := range s.indexed {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	s.idsMu.Unlock()

	if len(stale) > 0 {
		if err := s.DeleteDocuments(stale); err != nil {
			return fmt.Errorf("delete stale documents: %w", err)
		}
	}
	if err := s.IndexDocuments(docs); err != nil {
		return err
	}
	s.logger.Debug("search index synced", "books", len(docs), "removed", len(stale))
	return nil
}

// DocumentCount returns the number of indexed books.
func (s *Index) DocumentCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.DocCount()
}

// Rebuild drops every document and starts from an empty index.
func (s *Index) Rebuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}

	var (
		index bleve.Index
		err   error
	)
	if s.path == "" {
		index, err = bleve.NewMemOnly(buildIndexMapping())
	} else {
		if err := os.RemoveAll(s.path); err != nil {
			return fmt.Errorf("remove index: %w", err)
		}
		index, err = bleve.New(s.path, buildIndexMapping())
	}
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	s.index = index
	s.idsMu.Lock()
	s.indexed = make(map[string]struct{})
	s.idsMu.Unlock()
	s.logger.Info("rebuilt search index", "path", s.path)
	return nil
}
