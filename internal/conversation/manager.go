// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"
)

// DefaultSessionID is used when a request names no session. It is never evicted.
const DefaultSessionID = "default"

// Errors returned by Manager.
var (
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrTooManySessions  = errors.New("too many active sessions")
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Config holds configuration for the session manager.
type Config struct {
	// IdleTTL evicts sessions idle for longer than this (0 disables eviction).
	IdleTTL time.Duration

	// SweepInterval is how often Run checks for idle sessions.
	SweepInterval time.Duration

	// MaxSessions bounds the number of live sessions (0 means unlimited).
	MaxSessions int
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		IdleTTL:       2 * time.Hour,
		SweepInterval: 5 * time.Minute,
		MaxSessions:   1000,
	}
}

// PreambleFunc returns the system preamble for a new session.
type PreambleFunc func() string

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager owns the conversation stores, one per session id.
type Manager struct {
	cfg      Config
	preamble PreambleFunc

	mu     sync.Mutex
	stores map[string]*Store

	// beforeLock runs in Acquire between lookup and turn lock. Tests only.
	beforeLock func(*Store)
}

// NewManager creates a manager. The default session is created eagerly so it
// is seeded with the preamble current at startup.
func NewManager(cfg Config, preamble PreambleFunc) *Manager {
	if preamble == nil {
		preamble = func() string { return "" }
	}
	m := &Manager{
		cfg:      cfg,
		preamble: preamble,
		stores:   make(map[string]*Store),
	}
	m.stores[DefaultSessionID] = NewStore(DefaultSessionID, preamble())
	return m
}

// ValidateID checks a caller-supplied session id. Empty means the default.
func ValidateID(id string) error {
	if id == "" || sessionIDPattern.MatchString(id) {
		return nil
	}
	return fmt.Errorf("%w: must be 1-64 letters, digits, '-' or '_'", ErrInvalidSessionID)
}

// Get returns the store for id, creating it if needed.
func (m *Manager) Get(id string) (*Store, error) {
	if id == "" {
		id = DefaultSessionID
	}
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[id]; ok {
		return s, nil
	}
	if m.cfg.MaxSessions > 0 && len(m.stores) >= m.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	s := NewStore(id, m.preamble())
	m.stores[id] = s
	slog.Debug("SESSION_CREATED", "session", id)
	return s, nil
}

// Acquire returns the store for id with its turn lock held. A store evicted
// between lookup and lock is released and the lookup retried, so the caller
// always holds a registered store. The caller must call unlock.
func (m *Manager) Acquire(id string) (s *Store, unlock func(), err error) {
	for {
		s, err = m.Get(id)
		if err != nil {
			return nil, nil, err
		}
		if m.beforeLock != nil {
			m.beforeLock(s)
		}
		unlock = s.LockTurn()

		m.mu.Lock()
		live := m.stores[s.ID()] == s
		m.mu.Unlock()
		if live {
			return s, unlock, nil
		}
		unlock()
		slog.Debug("SESSION_REACQUIRE", "session", s.ID())
	}
}

// Lookup returns an existing store without creating one.
func (m *Manager) Lookup(id string) (*Store, bool) {
	if id == "" {
		id = DefaultSessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[id]
	return s, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}

// IDs returns the live session ids, sorted.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.stores))
	for id := range m.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// =============================================================================
// EVICTION
// =============================================================================

// EvictIdle removes sessions idle since before now-IdleTTL. The default
// session and sessions with a turn in flight are kept.
func (m *Manager) EvictIdle(now time.Time) int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, s := range m.stores {
		if id == DefaultSessionID || !s.LastActivity().Before(cutoff) {
			continue
		}
		if !s.tryLockTurn() {
			continue
		}
		delete(m.stores, id)
		s.turnMu.Unlock()
		evicted++
	}
	if evicted > 0 {
		slog.Info("SESSIONS_EVICTED", "count", evicted, "remaining", len(m.stores))
	}
	return evicted
}

// Run sweeps idle sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m.cfg.IdleTTL <= 0 {
		<-ctx.Done()
		return nil
	}
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.EvictIdle(now)
		}
	}
}
