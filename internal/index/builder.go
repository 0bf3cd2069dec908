package index

import (
	"context"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/sm-moshi/aimemory-sub003/internal/checksum"
	"github.com/sm-moshi/aimemory-sub003/internal/fileops"
	"github.com/sm-moshi/aimemory-sub003/internal/models"
	"github.com/sm-moshi/aimemory-sub003/internal/parser"
)

// Directories never descended into during a rebuild, beyond dot-prefixed ones.
var skipDirs = map[string]struct{}{
	"node_modules": {},
	"vendor":       {},
}

// BuildIndex walks the bank root and fully repopulates the index. Per-file
// failures are collected in the result and never abort the build. A second
// rebuild attempted while one is running fails immediately with
// ErrBuildInProgress.
func (m *Manager) BuildIndex(ctx context.Context) (models.IndexRebuildResult, error) {
	if !m.building.CompareAndSwap(false, true) {
		return models.IndexRebuildResult{}, &fileops.Error{
			Code: fileops.CodeBuildInProgress,
			Op:   "build",
			Err:  ErrBuildInProgress,
		}
	}
	defer m.building.Store(false)

	start := time.Now()
	result := models.IndexRebuildResult{}
	var entries []models.MetadataIndexEntry

	root := m.ops.Root()
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			// Unreadable subtrees count as processed so the totals still
			// reconcile: processed = indexed + errored.
			result.FilesProcessed++
			result.FilesErrored++
			result.Errors = append(result.Errors, models.FileError{Path: p, Message: err.Error()})
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if p != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if _, skip := skipDirs[name]; skip {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !m.matchesPattern(rel) {
			return nil
		}

		result.FilesProcessed++
		entry, buildErr := m.buildEntry(ctx, rel)
		if buildErr != nil {
			result.FilesErrored++
			result.Errors = append(result.Errors, models.FileError{Path: rel, Message: buildErr.Error()})
			m.logger.Warn("index: skipping document",
				slog.String("path", rel),
				slog.String("error", buildErr.Error()))
			return nil
		}
		result.FilesIndexed++
		entries = append(entries, entry)
		return nil
	})
	if walkErr != nil {
		return result, &fileops.Error{Code: fileops.CodeReadFile, Op: "build", Err: walkErr}
	}

	m.mu.Lock()
	m.entries = entries
	persistErr := m.persistLocked(ctx)
	m.mu.Unlock()

	result.Duration = time.Since(start)
	if persistErr != nil {
		m.emit(Event{Kind: EventError, Err: persistErr})
		return result, persistErr
	}

	m.logger.Info("index: rebuild complete",
		slog.Int("processed", result.FilesProcessed),
		slog.Int("indexed", result.FilesIndexed),
		slog.Int("errored", result.FilesErrored),
		slog.Duration("duration", result.Duration))
	m.emit(Event{Kind: EventRebuilt})
	return result, nil
}

func (m *Manager) matchesPattern(rel string) bool {
	for _, pattern := range m.cfg.Patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// buildEntry stats, reads, and parses one document and derives its index
// entry. Declared frontmatter fields win over inferred ones.
func (m *Manager) buildEntry(ctx context.Context, rel string) (models.MetadataIndexEntry, error) {
	info, err := m.ops.Stat(ctx, rel)
	if err != nil {
		return models.MetadataIndexEntry{}, err
	}
	res, err := m.reader.Read(ctx, rel, nil)
	if err != nil {
		return models.MetadataIndexEntry{}, err
	}
	parsed, err := parser.Parse(res.Content)
	if err != nil {
		return models.MetadataIndexEntry{}, &fileops.Error{Code: fileops.CodeParse, Op: "parse", Path: rel, Err: err}
	}

	fm := parsed.Frontmatter
	entry := models.MetadataIndexEntry{
		RelativePath: rel,
		Type:         resolveType(fm, rel),
		Title:        parsed.Title,
		Created:      info.ModTime(),
		Updated:      info.ModTime(),
		Metrics:      models.ComputeMetrics(res.Content, parsed.Body),
		Checksum:     checksum.Sum(res.Content),
		LastIndexed:  time.Now(),
	}
	if fm != nil {
		entry.ID = fm.ID
		entry.Description = fm.Description
		entry.Tags = fm.Tags
		if !fm.Created.IsZero() {
			entry.Created = fm.Created
		}
		if !fm.Updated.IsZero() {
			entry.Updated = fm.Updated
		}
	}

	outcome := m.validator.Validate(entry.Type, fm)
	entry.ValidationStatus = outcome.Status
	entry.ValidationErrors = outcome.Errors
	entry.SchemaUsed = outcome.SchemaUsed

	return entry, nil
}

// resolveType prefers the declared frontmatter type; otherwise the first path
// segment, or the filename stem for documents in the bank root.
func resolveType(fm *parser.Frontmatter, rel string) string {
	if fm != nil && fm.Type != "" {
		return fm.Type
	}
	if dir := path.Dir(rel); dir != "." {
		return strings.Split(dir, "/")[0]
	}
	base := path.Base(rel)
	return strings.TrimSuffix(base, path.Ext(base))
}

func indexDir(rel string) string {
	dir := path.Dir(rel)
	if dir == "." {
		return ""
	}
	return dir
}
