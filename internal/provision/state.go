// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package provision

import "fmt"

// State is the lifecycle state of an experiment handle.
type State int

const (
	// StateNotStarted indicates allocation has not completed.
	StateNotStarted State = iota
	// StateReady indicates the hosts are allocated and reachable.
	StateReady
	// StateInUse indicates at least one stage has run against the hosts.
	StateInUse
	// StateTerminated indicates the experiment has been released.
	StateTerminated
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateReady:
		return "Ready"
	case StateInUse:
		return "InUse"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Usable reports whether stages may run against the hosts.
func (s State) Usable() bool {
	return s == StateReady || s == StateInUse
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StateNotStarted:
		return to == StateReady || to == StateTerminated
	case StateReady:
		return to == StateInUse || to == StateTerminated
	case StateInUse:
		return to == StateTerminated
	default:
		return false
	}
}
