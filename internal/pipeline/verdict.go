// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package pipeline

import (
	"errors"
	"fmt"
)

// Verdict is the final outcome of a run. Its numeric value is the process
// exit code.
type Verdict int

const (
	// VerdictSucceeded means every stage passed.
	VerdictSucceeded Verdict = iota
	// VerdictFailed means the run started but a stage failed.
	VerdictFailed
	// VerdictNotStarted means the experiment could not be allocated.
	VerdictNotStarted
)

// String returns a string representation of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictSucceeded:
		return "Succeeded"
	case VerdictFailed:
		return "Failed"
	case VerdictNotStarted:
		return "NotStarted"
	default:
		return fmt.Sprintf("Unknown(%d)", v)
	}
}

// ExitCode maps the verdict to the process exit status.
func (v Verdict) ExitCode() int {
	switch v {
	case VerdictSucceeded, VerdictFailed, VerdictNotStarted:
		return int(v)
	default:
		return int(VerdictFailed)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Failure classes. Every error returned through Summary.Err wraps one of them.
var (
	ErrAllocation     = errors.New("allocation failure")
	ErrStageExecution = errors.New("stage execution failure")
	ErrVerification   = errors.New("verification failure")
	ErrProbe          = errors.New("probe failure")
)
