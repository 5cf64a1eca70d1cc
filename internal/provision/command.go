// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/specialistvlad/hilrunner/internal/ctxlog"
)

// CommandConfig describes the external commands driving a provider CLI. Each
// command receives HILRUNNER_EXPERIMENT, HILRUNNER_PROJECT and
// HILRUNNER_PROFILE in its environment.
type CommandConfig struct {
	Start     []string
	Status    []string
	Terminate []string

	PollInterval time.Duration
	WaitTimeout  time.Duration
}

// runFunc executes argv and returns combined output.
type runFunc func(ctx context.Context, env []string, argv []string) ([]byte, error)

// CommandProvisioner implements Provisioner by shelling out. The status command
// must print an Allocation as JSON.
type CommandProvisioner struct {
	cfg CommandConfig
	run runFunc
	req Request
}

var _ Provisioner = (*CommandProvisioner)(nil)

// terminalStatuses end polling without reaching ready.
var terminalStatuses = map[string]bool{
	"failed":     true,
	"terminated": true,
	"canceled":   true,
}

// NewCommandProvisioner validates cfg and applies defaults.
func NewCommandProvisioner(cfg CommandConfig) (*CommandProvisioner, error) {
	if len(cfg.Start) == 0 || len(cfg.Status) == 0 || len(cfg.Terminate) == 0 {
		return nil, errors.New("command provisioner requires start, status and terminate commands")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = time.Hour
	}
	return &CommandProvisioner{cfg: cfg, run: execRun}, nil
}

func execRun(ctx context.Context, env []string, argv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

func (p *CommandProvisioner) env(req Request) []string {
	return []string{
		"HILRUNNER_EXPERIMENT=" + req.Name,
		"HILRUNNER_PROJECT=" + req.Project,
		"HILRUNNER_PROFILE=" + req.Profile,
	}
}

func (p *CommandProvisioner) exec(ctx context.Context, req Request, argv []string) ([]byte, error) {
	out, err := p.run(ctx, p.env(req), argv)
	if err != nil {
		return out, fmt.Errorf("%s failed: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// AllocateAndWait implements Provisioner. If the experiment never becomes
// ready it is released before returning.
func (p *CommandProvisioner) AllocateAndWait(ctx context.Context, req Request) (Allocation, error) {
	logger := ctxlog.FromContext(ctx).With("experiment", req.Name)
	p.req = req

	if _, err := p.exec(ctx, req, p.cfg.Start); err != nil {
		return Allocation{}, fmt.Errorf("start experiment: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		alloc, err := p.status(waitCtx, req)
		switch {
		case err != nil:
			logger.Warn("Experiment status unavailable", "error", err)
		case alloc.Status == StatusReady:
			return alloc, nil
		case terminalStatuses[alloc.Status]:
			p.release(ctx, req)
			return alloc, nil
		default:
			logger.Debug("Waiting for experiment", "status", alloc.Status)
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			p.release(ctx, req)
			return Allocation{}, fmt.Errorf("%w: gave up after %s: %w", ErrNotReady, p.cfg.WaitTimeout, waitCtx.Err())
		}
	}
}

func (p *CommandProvisioner) status(ctx context.Context, req Request) (Allocation, error) {
	out, err := p.exec(ctx, req, p.cfg.Status)
	if err != nil {
		return Allocation{}, err
	}
	var alloc Allocation
	if err := json.Unmarshal(out, &alloc); err != nil {
		return Allocation{}, fmt.Errorf("parse experiment status: %w", err)
	}
	alloc.Status = strings.ToLower(strings.TrimSpace(alloc.Status))
	return alloc, nil
}

// release runs the terminate command on a context that outlives ctx.
func (p *CommandProvisioner) release(ctx context.Context, req Request) {
	logger := ctxlog.FromContext(ctx).With("experiment", req.Name)
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()
	if _, err := p.exec(rctx, req, p.cfg.Terminate); err != nil {
		logger.Error("Failed to release experiment that never became ready", "error", err)
	}
}

// Terminate implements Provisioner.
func (p *CommandProvisioner) Terminate(ctx context.Context, name string) error {
	req := p.req
	req.Name = name
	_, err := p.exec(ctx, req, p.cfg.Terminate)
	return err
}
