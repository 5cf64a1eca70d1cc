// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/specialistvlad/hilrunner/internal/archive"
	"github.com/specialistvlad/hilrunner/internal/bringup"
	"github.com/specialistvlad/hilrunner/internal/ctxlog"
	"github.com/specialistvlad/hilrunner/internal/inspect"
	"github.com/specialistvlad/hilrunner/internal/pipeline"
	"github.com/specialistvlad/hilrunner/internal/provision"
	"github.com/specialistvlad/hilrunner/internal/report"
	"github.com/specialistvlad/hilrunner/internal/stage"
)

// Run executes one pipeline run and returns its summary. An error is returned
// only when the run could not be assembled; the summary then carries
// VerdictNotStarted.
func (a *App) Run(ctx context.Context) (pipeline.Summary, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()
	a.logger.Debug("App.Run method started.")

	runID := uuid.NewString()
	p, err := a.buildPipeline(ctx, runID)
	if err != nil {
		return pipeline.Summary{RunID: runID, Experiment: a.model.Experiment.Name, Verdict: pipeline.VerdictNotStarted, Err: err}, err
	}

	a.mu.Lock()
	a.pipeline = p
	a.mu.Unlock()

	a.healthCheckServer()
	defer func() {
		_ = a.closeHealthCheckServer()
	}()

	summary := p.Run(ctx)
	a.logger.Debug("App.Run method finished.", "verdict", summary.Verdict)
	return summary, nil
}

// buildPipeline wires the loaded model into a fresh pipeline. Nothing built
// here outlives the run.
func (a *App) buildPipeline(ctx context.Context, runID string) (*pipeline.Pipeline, error) {
	logger := ctxlog.FromContext(ctx)
	m := a.model

	dir := filepath.Join(a.config.ArtifactsDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}
	logger.Debug("Artifacts directory ready.", "path", dir)

	handle := provision.NewHandle(m.Experiment, m.Roles, a.provisioner)
	runner := &stage.Runner{Hosts: handle, Dialer: a.dialer, ArtifactsDir: dir}
	insp := inspect.FileInspector{}

	link := bringup.New(m.BringUp, bringup.RunnerLauncher{Runner: runner}, &bringup.AssociationCheck{
		Runner:    runner,
		Inspector: insp,
		Task:      m.Verify.Task,
		Interface: m.Verify.Interface,
		Address:   m.Verify.Address,
	}, runner)
	if a.wait != nil {
		link.Wait = a.wait
	}

	reporters := []pipeline.Reporter{&report.Writer{Dir: dir}}
	if a.archive != nil {
		arch, err := archive.New(*a.archive, dir)
		if err != nil {
			return nil, fmt.Errorf("failed to configure artifact archive: %w", err)
		}
		reporters = append(reporters, arch)
	}
	reporters = append(reporters, a.reporters...)

	return &pipeline.Pipeline{
		RunID:     runID,
		Handle:    handle,
		Runner:    runner,
		Group:     &stage.Group{Runner: runner, Inspector: insp},
		Setup:     m.Setup,
		Build:     m.Build,
		Link:      link,
		Probe:     m.Probe,
		Inspector: insp,
		Reporters: reporters,
	}, nil
}
