// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package bringup

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/hilrunner/internal/inspect"
	"github.com/specialistvlad/hilrunner/internal/stage"
)

// RunnerLauncher launches background tasks through a stage.Runner.
type RunnerLauncher struct {
	Runner *stage.Runner
}

// Launch implements Launcher.
func (l RunnerLauncher) Launch(ctx context.Context, stageName string, task stage.Task) (Process, error) {
	bg, err := l.Runner.Start(ctx, stageName, task)
	if err != nil {
		return nil, err
	}
	return bg, nil
}

// AssociationCheck runs a one-shot command on the responder and requires both
// the interface and the address to appear in the same captured output.
type AssociationCheck struct {
	Runner    TaskRunner
	Inspector inspect.Inspector
	Task      stage.Task
	Interface inspect.Pattern
	Address   inspect.Pattern
}

// Verify implements Verifier.
func (c *AssociationCheck) Verify(ctx context.Context, attempt int) (bool, error) {
	res := c.Runner.Run(ctx, fmt.Sprintf("verify-%d", attempt), c.Task)
	if !res.OK {
		return false, errors.New(res.Message)
	}
	hasInterface, err := c.Inspector.Contains(c.Interface, res.Artifact)
	if err != nil {
		return false, err
	}
	hasAddress, err := c.Inspector.Contains(c.Address, res.Artifact)
	if err != nil {
		return false, err
	}
	return hasInterface && hasAddress, nil
}
