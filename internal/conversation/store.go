// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeranaias/chatportal/internal/model"
)

// ErrWrongRole is returned when AppendUser is given a non-user message.
var ErrWrongRole = errors.New("message has wrong role")

// =============================================================================
// STORE
// =============================================================================

// Store is the ordered, append-only message log of one session. The first
// message is always the system preamble it was created with.
type Store struct {
	id      string
	created time.Time

	mu           sync.RWMutex
	messages     []model.Message
	lastActivity time.Time

	// turnMu serializes whole turns (append user, call provider, append reply).
	turnMu sync.Mutex
}

// NewStore creates a store seeded with a single system message.
func NewStore(id, preamble string) *Store {
	now := time.Now()
	return &Store{
		id:           id,
		created:      now,
		lastActivity: now,
		messages:     []model.Message{model.NewSystemMessage(preamble)},
	}
}

// ID returns the session id.
func (s *Store) ID() string {
	return s.id
}

// CreatedAt returns when the store was created.
func (s *Store) CreatedAt() time.Time {
	return s.created
}

// LastActivity returns the time of the last append.
func (s *Store) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// AppendUser appends a user message and returns its stored copy.
func (s *Store) AppendUser(msg model.Message) (model.Message, error) {
	if msg.Role != model.RoleUser {
		return model.Message{}, fmt.Errorf("%w: AppendUser got %q", ErrWrongRole, msg.Role)
	}
	return s.append(msg), nil
}

// AppendAssistant appends an assistant reply.
func (s *Store) AppendAssistant(text string) model.Message {
	return s.append(model.NewAssistantMessage(text))
}

func (s *Store) append(msg model.Message) model.Message {
	stored := msg.Clone()
	if stored.ID == "" || stored.Timestamp.IsZero() {
		fresh := model.NewMessage(stored.Role, stored.Parts...)
		if stored.ID == "" {
			stored.ID = fresh.ID
		}
		if stored.Timestamp.IsZero() {
			stored.Timestamp = fresh.Timestamp
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, stored)
	s.lastActivity = time.Now()
	return stored.Clone()
}

// Snapshot returns a deep copy of the log. Callers may modify it freely.
func (s *Store) Snapshot() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages, including the system preamble.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Preamble returns the system message the store was seeded with.
func (s *Store) Preamble() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages[0].Text()
}

// LockTurn blocks until no other turn is running on this store and returns
// the function that releases it.
func (s *Store) LockTurn() (unlock func()) {
	s.turnMu.Lock()
	return s.turnMu.Unlock
}

// tryLockTurn reports whether the store is idle, holding the lock if so.
func (s *Store) tryLockTurn() bool {
	return s.turnMu.TryLock()
}
