// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import "fmt"

// ============================================================================
// TURN STATE
// ============================================================================

// State is the lifecycle position of a single turn.
type State int

const (
	// StateIdle is a turn that has not contacted a provider yet.
	StateIdle State = iota

	// StateAwaitingProvider is a turn blocked on the provider call.
	StateAwaitingProvider

	// StateCompleted is a turn whose reply was appended.
	StateCompleted

	// StateFailed is a turn that ended in an error.
	StateFailed
)

var stateNames = [...]string{
	StateIdle:             "Idle",
	StateAwaitingProvider: "AwaitingProvider",
	StateCompleted:        "Completed",
	StateFailed:           "Failed",
}

// String returns the state name.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsTerminal reports whether no further transition is allowed.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether s -> next is a legal edge.
// Idle may fail directly (validation, request build) without a provider call.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateIdle:
		return next == StateAwaitingProvider || next == StateFailed || next == StateCompleted
	case StateAwaitingProvider:
		return next == StateCompleted || next == StateFailed
	default:
		return false
	}
}
