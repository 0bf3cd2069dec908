// Package bankservice coordinates the storage, cache, and index layers into
// the operation surface consumed by the application shell.
package bankservice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sm-moshi/aimemory-sub003/internal/apperr"
	"github.com/sm-moshi/aimemory-sub003/internal/cache"
	"github.com/sm-moshi/aimemory-sub003/internal/fileops"
	"github.com/sm-moshi/aimemory-sub003/internal/index"
	"github.com/sm-moshi/aimemory-sub003/internal/models"
	"github.com/sm-moshi/aimemory-sub003/internal/search"
	"github.com/sm-moshi/aimemory-sub003/internal/streaming"
)

// HealthReport is the outcome of a health check. Issues stay human-readable:
// a partially failed check still reports whatever it could determine.
type HealthReport struct {
	Healthy bool     `json:"healthy"`
	Issues  []string `json:"issues"`
}

// Service owns one memory bank: guarded file operations, streaming reads, a
// fingerprint-checked content cache, and the metadata index.
type Service struct {
	ops    *fileops.Ops
	reader *streaming.Reader
	cache  *cache.Cache
	idx    *index.Manager
	logger *slog.Logger
}

// NewService wires the engine together.
func NewService(ops *fileops.Ops, reader *streaming.Reader, contentCache *cache.Cache, idx *index.Manager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ops: ops, reader: reader, cache: contentCache, idx: idx, logger: logger}
}

// Index exposes the metadata index manager for event subscription.
func (s *Service) Index() *index.Manager { return s.idx }

// InitializeStorage ensures the bank's directory layout and index storage
// exist, loading or rebuilding the persisted index.
func (s *Service) InitializeStorage(ctx context.Context) error {
	if err := s.idx.Initialize(ctx); err != nil {
		return fmt.Errorf("bankservice: initialize storage: %w", err)
	}
	return nil
}

// ReadDocument returns the content of rel, served from cache while the
// file's modification fingerprint is unchanged.
func (s *Service) ReadDocument(ctx context.Context, rel string) ([]byte, error) {
	info, err := s.ops.Stat(ctx, rel)
	if err != nil {
		return nil, err
	}
	fp := fileops.Fingerprint(info)

	if content, ok := s.cache.Get(rel, fp); ok {
		return content, nil
	}

	res, err := s.reader.Read(ctx, rel, nil)
	if err != nil {
		return nil, err
	}
	s.cache.Set(rel, res.Content, fp)
	return res.Content, nil
}

// WriteDocument stores content at rel, refreshes the cache, and updates the
// document's index entry.
func (s *Service) WriteDocument(ctx context.Context, rel string, content []byte) error {
	if err := s.ops.Write(ctx, rel, content); err != nil {
		return err
	}
	if info, err := s.ops.Stat(ctx, rel); err == nil {
		s.cache.Set(rel, content, fileops.Fingerprint(info))
	} else {
		s.cache.Invalidate(rel)
	}
	if err := s.idx.UpdateEntry(ctx, rel); err != nil {
		return fmt.Errorf("bankservice: updating index for %s failed: %w", rel, err)
	}
	return nil
}

// DeleteDocument removes rel from disk, cache, and index.
func (s *Service) DeleteDocument(ctx context.Context, rel string) error {
	if err := s.ops.Remove(ctx, rel); err != nil {
		return err
	}
	s.cache.Invalidate(rel)
	return s.idx.RemoveEntry(ctx, rel)
}

// ListDocuments returns a snapshot of every indexed entry.
func (s *Service) ListDocuments() []models.MetadataIndexEntry {
	return s.idx.Index()
}

// Search runs a filter/search/sort/paginate query over the current snapshot.
func (s *Service) Search(opts models.SearchOptions) models.SearchResult {
	return search.Query(s.idx.Index(), opts)
}

// RebuildIndex runs a full rebuild. force additionally drops the whole
// content cache so subsequent reads re-read from disk.
func (s *Service) RebuildIndex(ctx context.Context, force bool) (models.IndexRebuildResult, error) {
	if force {
		s.cache.InvalidateAll()
	}
	return s.idx.BuildIndex(ctx)
}

// GetEntryMetadata returns the index entry for rel.
func (s *Service) GetEntryMetadata(rel string) (models.MetadataIndexEntry, error) {
	entry, ok := s.idx.Entry(rel)
	if !ok {
		return models.MetadataIndexEntry{}, fmt.Errorf("bankservice: %s: %w", rel, apperr.ErrNotFound)
	}
	return entry, nil
}

// GetIndexStats aggregates the current index contents.
func (s *Service) GetIndexStats(ctx context.Context) models.IndexStats {
	return s.idx.Stats(ctx)
}

// CacheStats returns content cache counters.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// CheckHealth verifies the bank root and persisted index are present and
// readable. It always produces a summary, listing every issue it found.
func (s *Service) CheckHealth(ctx context.Context) HealthReport {
	var issues []string

	if err := s.ops.Access(ctx, "."); err != nil {
		issues = append(issues, fmt.Sprintf("bank root not accessible: %v", err))
	}

	entries := s.idx.Index()
	for _, e := range entries {
		if err := s.ops.Access(ctx, e.RelativePath); err != nil {
			issues = append(issues, fmt.Sprintf("indexed document missing: %s", e.RelativePath))
		}
	}

	if s.idx.State() != index.StateReady {
		issues = append(issues, "metadata index not ready")
	}

	return HealthReport{Healthy: len(issues) == 0, Issues: issues}
}
