// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package bringup

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when the link is asked to move between states
// that are not adjacent in the bring-up cycle.
var ErrInvalidState = errors.New("invalid link state")

// State is the position of the link in its bring-up cycle.
type State int

const (
	// StateIdle indicates no attempt has been made.
	StateIdle State = iota
	// StateStarting indicates both ends are being launched.
	StateStarting
	// StateVerifying indicates the responder is being checked for association.
	StateVerifying
	// StateUp indicates the link is live and both ends are left running.
	StateUp
	// StateDown indicates the last attempt failed and its processes were killed.
	StateDown
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateVerifying:
		return "Verifying"
	case StateUp:
		return "Up"
	case StateDown:
		return "Down"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StateIdle, StateDown:
		return to == StateStarting
	case StateStarting:
		return to == StateVerifying || to == StateDown
	case StateVerifying:
		return to == StateUp || to == StateDown
	case StateUp:
		return to == StateDown
	default:
		return false
	}
}
