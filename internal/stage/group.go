// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package stage

import (
	"context"
	"sync"
	"time"

	"github.com/specialistvlad/hilrunner/internal/ctxlog"
	"github.com/specialistvlad/hilrunner/internal/inspect"
)

// Group runs every task of a stage concurrently and inspects the results.
type Group struct {
	Runner    *Runner
	Inspector inspect.Inspector
}

// GroupResult is the joined outcome of one stage.
type GroupResult struct {
	Stage   string
	Results []Result
}

// Passed is the conjunction over every member and both checks.
func (g GroupResult) Passed() bool {
	if len(g.Results) == 0 {
		return false
	}
	for _, r := range g.Results {
		if !r.Passed() {
			return false
		}
	}
	return true
}

// Failed returns the members that did not pass.
func (g GroupResult) Failed() []Result {
	var out []Result
	for _, r := range g.Results {
		if !r.Passed() {
			out = append(out, r)
		}
	}
	return out
}

// Run launches one worker per task and waits for all of them. A failing
// member does not cancel the others. Inspection starts only after the join.
func (g *Group) Run(ctx context.Context, s Stage) GroupResult {
	logger := ctxlog.FromContext(ctx).With("stage", s.Name)
	logger.Info("▶️ Starting stage", "tasks", len(s.Tasks))
	start := time.Now()

	results := make([]Result, len(s.Tasks))
	var wg sync.WaitGroup
	for i, task := range s.Tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			results[i] = g.Runner.Run(ctx, s.Name, task)
		}(i, task)
	}
	wg.Wait()

	for i := range results {
		results[i] = g.verify(ctx, s, results[i])
	}

	out := GroupResult{Stage: s.Name, Results: results}
	if out.Passed() {
		logger.Info("✅ Finished stage", "duration", time.Since(start))
	} else {
		for _, r := range out.Failed() {
			logger.Error("Stage failed on role", "role", r.Role, "completed", r.OK, "verified", r.Verified, "artifact", r.Artifact)
		}
	}
	return out
}

func (g *Group) verify(ctx context.Context, s Stage, r Result) Result {
	found, err := g.Inspector.Contains(s.Marker, r.Artifact)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Artifact inspection failed", "role", r.Role, "artifact", r.Artifact, "error", err)
		if r.Message == "" {
			r.Message = err.Error()
		}
		return r
	}
	r.Verified = found
	if !found && r.Message == "" {
		r.Message = "marker " + s.Marker.String() + " not found in " + r.Artifact
	}
	return r
}
