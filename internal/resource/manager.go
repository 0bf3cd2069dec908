// Package resource tracks lifecycle-managed handles (watchers, subscriptions,
// temp artifacts) and reclaims them when idle or at shutdown.
package resource

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Resource is one managed handle. Cleanup must be idempotent: the periodic
// sweep may race a concurrent touch, so a resource can be reclaimed shortly
// after its last use.
type Resource struct {
	ID           string
	Type         string
	Active       bool
	CreatedAt    time.Time
	LastAccessed time.Time
	cleanup      func() error
}

// Manager registers resources, touches them on use, and sweeps idle ones on
// a timer.
type Manager struct {
	idleTimeout time.Duration
	logger      *slog.Logger

	mu        sync.Mutex
	resources map[string]*Resource

	cron    *cron.Cron
	entryID cron.EntryID
}

// New creates a Manager reclaiming resources idle longer than idleTimeout,
// checked every sweepInterval.
func New(idleTimeout, sweepInterval time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	m := &Manager{
		idleTimeout: idleTimeout,
		logger:      logger,
		resources:   make(map[string]*Resource),
		cron:        cron.New(),
	}
	id, err := m.cron.AddFunc("@every "+sweepInterval.String(), m.Sweep)
	if err != nil {
		// "@every <duration>" with a positive duration always parses.
		panic("resource: schedule sweep: " + err.Error())
	}
	m.entryID = id
	m.cron.Start()
	return m
}

// Register tracks a new resource and returns its generated id.
func (m *Manager) Register(resType string, cleanup func() error) string {
	now := time.Now()
	r := &Resource{
		ID:           uuid.NewString(),
		Type:         resType,
		Active:       true,
		CreatedAt:    now,
		LastAccessed: now,
		cleanup:      cleanup,
	}
	m.mu.Lock()
	m.resources[r.ID] = r
	m.mu.Unlock()

	m.logger.Debug("resource: registered",
		slog.String("id", r.ID),
		slog.String("type", resType))
	return r.ID
}

// Touch marks a resource as recently used. Unknown ids are ignored.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resources[id]; ok {
		r.LastAccessed = time.Now()
	}
}

// Reclaim runs a resource's cleanup and forgets it. Reclaiming an unknown id
// is a no-op.
func (m *Manager) Reclaim(id string) error {
	m.mu.Lock()
	r, ok := m.resources[id]
	if ok {
		delete(m.resources, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.cleanupResource(r)
}

// Sweep reclaims every resource idle longer than the configured threshold.
func (m *Manager) Sweep() {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	var idle []*Resource
	for id, r := range m.resources {
		if r.LastAccessed.Before(cutoff) {
			idle = append(idle, r)
			delete(m.resources, id)
		}
	}
	m.mu.Unlock()

	for _, r := range idle {
		if err := m.cleanupResource(r); err != nil {
			m.logger.Warn("resource: sweep cleanup failed",
				slog.String("id", r.ID),
				slog.String("error", err.Error()))
		} else {
			m.logger.Debug("resource: swept idle",
				slog.String("id", r.ID),
				slog.String("type", r.Type))
		}
	}
}

// Active returns the number of live resources.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resources)
}

// Get returns a copy of the resource record, if tracked.
func (m *Manager) Get(id string) (Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resources[id]; ok {
		return *r, true
	}
	return Resource{}, false
}

// Shutdown stops the sweeper and reclaims everything. It waits for all
// cleanups to finish and keeps going past individual failures, returning the
// first error encountered.
func (m *Manager) Shutdown() error {
	ctx := m.cron.Stop()
	<-ctx.Done()

	m.mu.Lock()
	remaining := make([]*Resource, 0, len(m.resources))
	for _, r := range m.resources {
		remaining = append(remaining, r)
	}
	m.resources = make(map[string]*Resource)
	m.mu.Unlock()

	var firstErr error
	for _, r := range remaining {
		if err := m.cleanupResource(r); err != nil {
			m.logger.Warn("resource: shutdown cleanup failed",
				slog.String("id", r.ID),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *Manager) cleanupResource(r *Resource) error {
	r.Active = false
	if r.cleanup == nil {
		return nil
	}
	return r.cleanup()
}
