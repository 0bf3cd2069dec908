// Package index maintains the persisted metadata index over the memory bank:
// one entry per document, rebuilt in bulk or updated per path, persisted as a
// pretty-printed JSON array, with change events for interested listeners.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sm-moshi/aimemory-sub003/internal/fileops"
	"github.com/sm-moshi/aimemory-sub003/internal/models"
	"github.com/sm-moshi/aimemory-sub003/internal/schema"
	"github.com/sm-moshi/aimemory-sub003/internal/search"
	"github.com/sm-moshi/aimemory-sub003/internal/streaming"
)

// Manager states.
const (
	StateUninitialized int32 = iota
	StateLoading
	StateReady
)

// EventKind identifies an index change notification.
type EventKind string

const (
	EventRebuilt      EventKind = "index_rebuilt"
	EventEntryAdded   EventKind = "entry_added"
	EventEntryUpdated EventKind = "entry_updated"
	EventEntryRemoved EventKind = "entry_removed"
	EventError        EventKind = "index_error"
)

// Event is delivered to subscribed listeners after index mutations.
type Event struct {
	Kind EventKind
	Path string
	Err  error
}

// Listener receives index events. Listener failures are isolated: a panic in
// one listener is recovered and logged without affecting the others.
type Listener func(Event)

// Config tunes the manager. Zero values fall back to defaults.
type Config struct {
	IndexRelPath string        // persisted index location, relative to the bank root
	Patterns     []string      // doublestar globs selecting indexable documents
	AutoRebuild  bool          // enable debounced rebuilds via TriggerAutoRebuild
	Debounce     time.Duration // quiet period before an auto rebuild fires
	MaxAge       time.Duration // persisted index older than this forces a rebuild; 0 = never
}

func (c *Config) applyDefaults() {
	if c.IndexRelPath == "" {
		c.IndexRelPath = ".membank-index/metadata.json"
	}
	if len(c.Patterns) == 0 {
		c.Patterns = []string{"**/*.md"}
	}
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
}

// Manager owns the in-memory entry array and its on-disk persistence.
//
// Only one full rebuild may run at a time (the building guard). Targeted
// UpdateEntry/RemoveEntry calls are not serialized against an in-flight
// rebuild: both take the entries lock only around the splice and persist, so
// the last write to the persisted file wins. That relaxed behaviour is a
// deliberate product decision, not an oversight.
type Manager struct {
	cfg       Config
	ops       *fileops.Ops
	reader    *streaming.Reader
	validator *schema.Validator
	logger    *slog.Logger

	state    atomic.Int32
	building atomic.Bool

	mu      sync.Mutex
	entries []models.MetadataIndexEntry

	lmu       sync.Mutex
	listeners []Listener

	tmu      sync.Mutex
	debounce *time.Timer
}

// NewManager creates a Manager over the bank served by ops. ops and reader
// carry the path guard, so they are mandatory.
func NewManager(ops *fileops.Ops, reader *streaming.Reader, validator *schema.Validator, logger *slog.Logger, cfg Config) *Manager {
	if ops == nil || reader == nil {
		panic("index: fileops and streaming reader are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = schema.New("")
	}
	cfg.applyDefaults()
	return &Manager{
		cfg:       cfg,
		ops:       ops,
		reader:    reader,
		validator: validator,
		logger:    logger,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() int32 { return m.state.Load() }

// Building reports whether a full rebuild is in flight.
func (m *Manager) Building() bool { return m.building.Load() }

// Subscribe registers a listener for index events.
func (m *Manager) Subscribe(l Listener) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Initialize ensures the index directory exists and loads the persisted
// index, falling back to a full rebuild when it is missing, corrupt, or
// older than the configured maximum age.
func (m *Manager) Initialize(ctx context.Context) error {
	m.state.Store(StateLoading)

	if dir := indexDir(m.cfg.IndexRelPath); dir != "" {
		if err := m.ops.Mkdir(ctx, dir, true); err != nil {
			m.emit(Event{Kind: EventError, Err: err})
			return err
		}
	}

	if err := m.load(ctx); err != nil {
		m.logger.Info("index: no usable persisted index, rebuilding",
			slog.String("error", err.Error()))
		if _, buildErr := m.BuildIndex(ctx); buildErr != nil {
			return buildErr
		}
		m.state.Store(StateReady)
		return nil
	}

	if m.stale(ctx) {
		m.logger.Info("index: persisted index is stale, rebuilding")
		if _, err := m.BuildIndex(ctx); err != nil {
			return err
		}
	}
	m.state.Store(StateReady)
	return nil
}

// load reads and decodes the persisted index into memory.
func (m *Manager) load(ctx context.Context) error {
	data, err := m.ops.Read(ctx, m.cfg.IndexRelPath)
	if err != nil {
		return err
	}
	var entries []models.MetadataIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return &fileops.Error{Code: fileops.CodeParse, Op: "load", Path: m.cfg.IndexRelPath, Err: err}
	}
	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()
	m.logger.Info("index: loaded persisted index", slog.Int("entries", len(entries)))
	return nil
}

// stale reports whether the persisted index file is older than MaxAge.
func (m *Manager) stale(ctx context.Context) bool {
	if m.cfg.MaxAge <= 0 {
		return false
	}
	info, err := m.ops.Stat(ctx, m.cfg.IndexRelPath)
	if err != nil {
		return true
	}
	return time.Since(info.ModTime()) > m.cfg.MaxAge
}

// UpdateEntry re-derives metadata for exactly one document, replacing or
// appending its entry and persisting the index. Unlike the bulk build, a
// missing target is an error, never a silent skip.
func (m *Manager) UpdateEntry(ctx context.Context, rel string) error {
	entry, err := m.buildEntry(ctx, rel)
	if err != nil {
		return fmt.Errorf("index: update %s: %w", rel, err)
	}

	m.mu.Lock()
	kind := EventEntryAdded
	replaced := false
	for i := range m.entries {
		if m.entries[i].RelativePath == entry.RelativePath {
			m.entries[i] = entry
			kind = EventEntryUpdated
			replaced = true
			break
		}
	}
	if !replaced {
		m.entries = append(m.entries, entry)
	}
	err = m.persistLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		m.emit(Event{Kind: EventError, Err: err})
		return err
	}

	m.emit(Event{Kind: kind, Path: entry.RelativePath})
	return nil
}

// RemoveEntry deletes the entry for rel if present and persists. Removing an
// unindexed path is a no-op and emits nothing.
func (m *Manager) RemoveEntry(ctx context.Context, rel string) error {
	m.mu.Lock()
	found := false
	for i := range m.entries {
		if m.entries[i].RelativePath == rel {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			found = true
			break
		}
	}
	var err error
	if found {
		err = m.persistLocked(ctx)
	}
	m.mu.Unlock()
	if err != nil {
		m.emit(Event{Kind: EventError, Err: err})
		return err
	}
	if found {
		m.emit(Event{Kind: EventEntryRemoved, Path: rel})
	}
	return nil
}

// Index returns a deep copy of the current entries.
func (m *Manager) Index() []models.MetadataIndexEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.MetadataIndexEntry, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Clone()
	}
	return out
}

// Entry returns a copy of the entry for rel, if indexed.
func (m *Manager) Entry(rel string) (models.MetadataIndexEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.RelativePath == rel {
			return e.Clone(), true
		}
	}
	return models.MetadataIndexEntry{}, false
}

// Stats aggregates the current index contents. The persisted file's mtime
// stands in for the last build time.
func (m *Manager) Stats(ctx context.Context) models.IndexStats {
	entries := m.Index()

	stats := models.IndexStats{
		TotalFiles:   len(entries),
		ByValidation: make(map[string]int),
		ByType:       search.TypeFrequency(entries),
		ByTag:        search.TagFrequency(entries),
	}
	for _, e := range entries {
		stats.TotalSize += e.Metrics.SizeBytes
		stats.TotalLines += e.Metrics.LineCount
		stats.ByValidation[string(e.ValidationStatus)]++
	}
	if info, err := m.ops.Stat(ctx, m.cfg.IndexRelPath); err == nil {
		stats.LastBuild = info.ModTime()
	}
	return stats
}

// TriggerAutoRebuild coalesces bursts of change notifications into a single
// rebuild fired after the quiet period. Each call replaces the pending timer;
// the handle is cleared before the rebuild runs so the rebuild itself can
// re-arm debouncing.
func (m *Manager) TriggerAutoRebuild() {
	if !m.cfg.AutoRebuild {
		return
	}
	m.tmu.Lock()
	defer m.tmu.Unlock()
	if m.debounce != nil {
		m.debounce.Stop()
	}
	m.debounce = time.AfterFunc(m.cfg.Debounce, func() {
		m.tmu.Lock()
		m.debounce = nil
		m.tmu.Unlock()
		if _, err := m.BuildIndex(context.Background()); err != nil {
			m.logger.Warn("index: auto rebuild failed", slog.String("error", err.Error()))
		}
	})
}

// Close cancels any pending auto-rebuild.
func (m *Manager) Close() {
	m.tmu.Lock()
	defer m.tmu.Unlock()
	if m.debounce != nil {
		m.debounce.Stop()
		m.debounce = nil
	}
}

// persistLocked writes the whole index with stable two-space indentation,
// ordered by insertion. Callers hold m.mu and emit index_error themselves on
// failure, after releasing the lock.
func (m *Manager) persistLocked(ctx context.Context) error {
	entries := m.entries
	if entries == nil {
		entries = []models.MetadataIndexEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return &fileops.Error{Code: fileops.CodeParse, Op: "persist", Path: m.cfg.IndexRelPath, Err: err}
	}
	return m.ops.Write(ctx, m.cfg.IndexRelPath, data)
}

// emit delivers an event to every listener, isolating failures per listener.
func (m *Manager) emit(ev Event) {
	m.lmu.Lock()
	listeners := append([]Listener(nil), m.listeners...)
	m.lmu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("index: listener panicked",
						slog.String("event", string(ev.Kind)),
						slog.Any("panic", r))
				}
			}()
			l(ev)
		}()
	}
}

// ErrBuildInProgress reports a rejected concurrent rebuild.
var ErrBuildInProgress = errors.New("index build already in progress")
