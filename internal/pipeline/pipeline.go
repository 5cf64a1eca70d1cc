// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package pipeline composes allocation, parallel stages, link bring-up and
// the connectivity probe into one run with a three-way verdict.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/specialistvlad/hilrunner/internal/bringup"
	"github.com/specialistvlad/hilrunner/internal/ctxlog"
	"github.com/specialistvlad/hilrunner/internal/inspect"
	"github.com/specialistvlad/hilrunner/internal/provision"
	"github.com/specialistvlad/hilrunner/internal/stage"
)

// Phase names reported while a run is in progress.
const (
	PhaseIdle     = "idle"
	PhaseAllocate = "allocate"
	PhaseSetup    = "setup"
	PhaseBuild    = "build"
	PhaseBringUp  = "bringup"
	PhaseProbe    = "probe"
	PhaseFinalize = "finalize"
	PhaseDone     = "done"
)

// finalizeTimeout bounds cleanup and reporting after the run ended.
const finalizeTimeout = 5 * time.Minute

// Probe is the one-shot connectivity check. The run succeeds only if the
// captured artifact does not contain FailureMarker.
type Probe struct {
	Task          stage.Task
	FailureMarker inspect.Pattern
}

// Summary is everything known about a finished run.
type Summary struct {
	RunID      string          `yaml:"run_id"`
	Experiment string          `yaml:"experiment"`
	Verdict    Verdict         `yaml:"verdict"`
	Failure    string          `yaml:"failure,omitempty"`
	Started    time.Time       `yaml:"started"`
	Finished   time.Time       `yaml:"finished"`
	Stages     []stage.Result  `yaml:"stages"`
	BringUp    *bringup.Result `yaml:"bringup,omitempty"`
	Err        error           `yaml:"-"`
}

// Reporter receives the summary during Finalize.
type Reporter interface {
	Report(ctx context.Context, s Summary) error
}

// Pipeline holds every collaborator of one run. Nothing is shared between
// runs.
type Pipeline struct {
	RunID     string
	Handle    *provision.Handle
	Runner    *stage.Runner
	Group     *stage.Group
	Setup     stage.Stage
	Build     stage.Stage
	Link      *bringup.Link
	Probe     Probe
	Inspector inspect.Inspector
	Reporters []Reporter

	mu       sync.Mutex
	phase    string
	summary  Summary
	cleanups cleanupStack
}

// Phase returns the phase currently executing.
func (p *Pipeline) Phase() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase == "" {
		return PhaseIdle
	}
	return p.phase
}

func (p *Pipeline) setPhase(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
}

func (p *Pipeline) record(results ...stage.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summary.Stages = append(p.summary.Stages, results...)
}

// Run executes the stages in order, stopping at the first failure, and then
// always finalizes. The returned summary carries the verdict.
func (p *Pipeline) Run(ctx context.Context) Summary {
	ctx = ctxlog.With(ctx, "run_id", p.RunID, "experiment", p.Handle.Name())
	logger := ctxlog.FromContext(ctx)

	p.mu.Lock()
	p.summary = Summary{RunID: p.RunID, Experiment: p.Handle.Name(), Started: time.Now()}
	p.mu.Unlock()

	logger.Info("▶️ Starting pipeline")
	verdict, err := p.run(ctx)

	p.mu.Lock()
	p.summary.Verdict = verdict
	p.summary.Err = err
	if err != nil {
		p.summary.Failure = err.Error()
	}
	p.mu.Unlock()

	p.finalize(ctx)
	return p.summary
}

func (p *Pipeline) run(ctx context.Context) (Verdict, error) {
	p.setPhase(PhaseAllocate)
	// Terminate is a no-op unless allocation reached Ready.
	p.cleanups.push("terminate experiment", p.Handle.Terminate)
	if err := p.Handle.AllocateAndWait(ctx); err != nil {
		return VerdictNotStarted, fmt.Errorf("%w: %w", ErrAllocation, err)
	}

	for _, s := range []struct {
		phase string
		stage stage.Stage
	}{{PhaseSetup, p.Setup}, {PhaseBuild, p.Build}} {
		p.setPhase(s.phase)
		res := p.Group.Run(ctx, s.stage)
		p.record(res.Results...)
		if !res.Passed() {
			return VerdictFailed, fmt.Errorf("%w: %s failed on %s", ErrStageExecution, s.stage.Name, roles(res.Failed()))
		}
	}

	p.setPhase(PhaseBringUp)
	p.cleanups.push("tear down link", p.Link.Teardown)
	up, err := p.Link.BringUp(ctx)
	p.mu.Lock()
	p.summary.BringUp = &up
	p.mu.Unlock()
	if err != nil {
		return VerdictFailed, fmt.Errorf("%w: %w", ErrVerification, err)
	}

	p.setPhase(PhaseProbe)
	return p.probe(ctx)
}

// probe runs the connectivity check and tears the link down on either outcome.
func (p *Pipeline) probe(ctx context.Context) (Verdict, error) {
	logger := ctxlog.FromContext(ctx)
	res := p.Runner.Run(ctx, PhaseProbe, p.Probe.Task)

	if err := p.Link.Teardown(ctx); err != nil {
		logger.Error("Failed to tear down link after probe", "error", err)
	}
	p.mu.Lock()
	up := p.Link.Result()
	p.summary.BringUp = &up
	p.mu.Unlock()

	if !res.OK {
		p.record(res)
		return VerdictFailed, fmt.Errorf("%w: %s", ErrProbe, res.Message)
	}
	lost, err := p.Inspector.Contains(p.Probe.FailureMarker, res.Artifact)
	if err != nil {
		p.record(res)
		return VerdictFailed, fmt.Errorf("%w: %w", ErrProbe, err)
	}
	res.Verified = !lost
	p.record(res)
	if lost {
		logger.Error("Probe reported no delivery", "artifact", res.Artifact)
		return VerdictFailed, fmt.Errorf("%w: %s found in %s", ErrProbe, p.Probe.FailureMarker, res.Artifact)
	}
	logger.Info("✅ Probe succeeded", "artifact", res.Artifact)
	return VerdictSucceeded, nil
}

// finalize runs the cleanup stack and the reporters. Nothing here can change
// the verdict.
func (p *Pipeline) finalize(ctx context.Context) {
	p.setPhase(PhaseFinalize)
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	logger := ctxlog.FromContext(fctx)

	p.cleanups.run(fctx)

	p.mu.Lock()
	p.summary.Finished = time.Now()
	summary := p.summary
	p.mu.Unlock()

	for _, r := range p.Reporters {
		if err := r.Report(fctx, summary); err != nil {
			logger.Error("Reporter failed", "error", err)
		}
	}

	p.setPhase(PhaseDone)
	attrs := []any{"verdict", summary.Verdict, "duration", summary.Finished.Sub(summary.Started)}
	if summary.Err != nil {
		attrs = append(attrs, "reason", summary.Err)
	}
	logger.Info("🏁 Pipeline finished", attrs...)
}

func roles(results []stage.Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Role)
	}
	return out
}
