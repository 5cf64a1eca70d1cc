// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package bringup brings up a point-to-point link between an initiator and a
// responder with bounded retries.
//
// Each attempt launches the initiator, waits a settle delay, launches the
// responder, waits again and then verifies association on the responder. A
// failed attempt kills both ends and runs the teardown tasks before the next
// attempt, so no stale process keeps holding the radio hardware.
package bringup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/specialistvlad/hilrunner/internal/ctxlog"
	"github.com/specialistvlad/hilrunner/internal/stage"
)

// DefaultMaxAttempts bounds the retry loop.
const DefaultMaxAttempts = 10

// ErrExhausted is returned when no attempt brought the link up.
var ErrExhausted = errors.New("link did not come up")

// Process is one end of the link left running in the background.
type Process interface {
	// Stop kills the process forcefully and returns its stage result.
	Stop() stage.Result
}

// Launcher starts a background task.
type Launcher interface {
	Launch(ctx context.Context, stageName string, task stage.Task) (Process, error)
}

// Verifier checks whether the link is associated.
type Verifier interface {
	Verify(ctx context.Context, attempt int) (bool, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, attempt int) (bool, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, attempt int) (bool, error) { return f(ctx, attempt) }

// TaskRunner runs a one-shot task. stage.Runner satisfies it.
type TaskRunner interface {
	Run(ctx context.Context, stageName string, task stage.Task) stage.Result
}

// Config describes the link.
type Config struct {
	MaxAttempts     int
	InitiatorSettle time.Duration
	ResponderSettle time.Duration
	Initiator       stage.Task
	Responder       stage.Task
	// Teardown tasks run on fresh sessions after both ends were killed.
	Teardown []stage.Task
}

// Result summarises the retry loop.
type Result struct {
	Up          bool           `yaml:"up"`
	Attempts    int            `yaml:"attempts"`
	Teardowns   int            `yaml:"teardowns"`
	LastFailure string         `yaml:"last_failure,omitempty"`
	Stages      []stage.Result `yaml:"stages,omitempty"`
}

// Link drives the bring-up state machine.
type Link struct {
	cfg      Config
	launcher Launcher
	verifier Verifier
	runner   TaskRunner
	// Wait implements the settle delays. It must return early with the
	// context's error once ctx is done.
	Wait func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	state  State
	procs  []Process
	result Result
}

// New creates an idle link. runner may be nil when there are no teardown tasks.
func New(cfg Config, launcher Launcher, verifier Verifier, runner TaskRunner) *Link {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Link{cfg: cfg, launcher: launcher, verifier: verifier, runner: runner, Wait: Sleep}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Result returns a snapshot of the retry bookkeeping.
func (l *Link) Result() Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.result
	r.Stages = append([]stage.Result(nil), l.result.Stages...)
	return r
}

func (l *Link) transition(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transitionLocked(to)
}

// transitionLocked is transition for callers that hold l.mu.
func (l *Link) transitionLocked(to State) error {
	if !isAllowedTransition(l.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, l.state, to)
	}
	l.state = to
	return nil
}

// BringUp runs attempts until the link is up or the attempts are exhausted.
// On success both ends keep running until Teardown. A link that is already up
// or mid-attempt is refused with ErrInvalidState.
func (l *Link) BringUp(ctx context.Context) (Result, error) {
	logger := ctxlog.FromContext(ctx).With("stage", "bringup")
	maxAttempts := l.cfg.MaxAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		l.mu.Lock()
		if err := l.transitionLocked(StateStarting); err != nil {
			l.mu.Unlock()
			return l.Result(), fmt.Errorf("cannot bring up link: %w", err)
		}
		l.result.Attempts = attempt
		l.mu.Unlock()
		logger.Info("▶️ Trying to establish link", "attempt", fmt.Sprintf("%d/%d", attempt, maxAttempts))

		up, reason := l.attempt(ctx, attempt)
		if up {
			l.mu.Lock()
			err := l.transitionLocked(StateUp)
			l.result.Up = err == nil
			l.mu.Unlock()
			if err == nil {
				logger.Info("✅ Link is up", "attempt", attempt)
				return l.Result(), nil
			}
			reason = err.Error()
		}

		logger.Warn("Link attempt failed", "attempt", attempt, "reason", reason)
		l.mu.Lock()
		err := l.transitionLocked(StateDown)
		l.result.LastFailure = reason
		l.mu.Unlock()
		l.teardown(ctx, attempt)
		if err != nil {
			return l.Result(), fmt.Errorf("link bring-up aborted on attempt %d: %w", attempt, err)
		}

		if ctx.Err() != nil {
			return l.Result(), fmt.Errorf("link bring-up cancelled on attempt %d: %w", attempt, ctx.Err())
		}
	}

	logger.Error("Failed to establish link", "attempts", maxAttempts)
	return l.Result(), fmt.Errorf("%w after %d attempts: %s", ErrExhausted, maxAttempts, l.Result().LastFailure)
}

// attempt launches both ends and verifies the link. The link is already in
// StateStarting.
func (l *Link) attempt(ctx context.Context, attempt int) (bool, string) {
	name := fmt.Sprintf("bringup-%d", attempt)

	if err := l.launch(ctx, name, l.cfg.Initiator); err != nil {
		return false, err.Error()
	}
	if err := l.Wait(ctx, l.cfg.InitiatorSettle); err != nil {
		return false, err.Error()
	}
	if err := l.launch(ctx, name, l.cfg.Responder); err != nil {
		return false, err.Error()
	}
	if err := l.Wait(ctx, l.cfg.ResponderSettle); err != nil {
		return false, err.Error()
	}

	if err := l.transition(StateVerifying); err != nil {
		return false, err.Error()
	}
	ok, err := l.verifier.Verify(ctx, attempt)
	if err != nil {
		return false, "verification failed: " + err.Error()
	}
	if !ok {
		return false, "association signal not observed"
	}
	return true, ""
}

func (l *Link) launch(ctx context.Context, name string, task stage.Task) error {
	p, err := l.launcher.Launch(ctx, name, task)
	if err != nil {
		return fmt.Errorf("failed to launch %s: %w", task.Role, err)
	}
	l.mu.Lock()
	l.procs = append(l.procs, p)
	l.mu.Unlock()
	return nil
}

// teardown kills every live process, newest first, and runs the teardown
// tasks. It counts as one teardown even when nothing had started.
func (l *Link) teardown(ctx context.Context, attempt int) {
	logger := ctxlog.FromContext(ctx).With("stage", "bringup")
	logger.Info("🔥 Tearing down link", "attempt", attempt)

	l.mu.Lock()
	procs := l.procs
	l.procs = nil
	l.result.Teardowns++
	l.mu.Unlock()

	var results []stage.Result
	for i := len(procs) - 1; i >= 0; i-- {
		results = append(results, procs[i].Stop())
	}

	if l.runner != nil {
		tctx := context.WithoutCancel(ctx)
		name := fmt.Sprintf("teardown-%d", attempt)
		for _, task := range l.cfg.Teardown {
			if res := l.runner.Run(tctx, name, task); !res.OK {
				logger.Warn("Teardown task failed", "role", task.Role, "reason", res.Message)
			}
		}
	}

	l.mu.Lock()
	l.result.Stages = append(l.result.Stages, results...)
	l.mu.Unlock()
}

// Teardown stops a live link. It does nothing when no process is running,
// so it is safe to call from every exit path.
func (l *Link) Teardown(ctx context.Context) error {
	l.mu.Lock()
	live := len(l.procs) > 0
	attempt := l.result.Attempts
	l.mu.Unlock()
	if !live {
		return nil
	}
	l.teardown(ctx, attempt)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateUp {
		// A running attempt moves itself to StateDown.
		return nil
	}
	return l.transitionLocked(StateDown)
}
