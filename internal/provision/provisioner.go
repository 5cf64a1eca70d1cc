// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package provision

import (
	"context"
	"errors"

	"github.com/specialistvlad/hilrunner/internal/remote"
)

// StatusReady is the only provider status that lets the pipeline proceed.
const StatusReady = "ready"

var (
	// ErrNotReady is returned when the provider reported a status other than
	// ready, or when hosts are requested from a handle that is not usable.
	ErrNotReady = errors.New("experiment not ready")
	// ErrInvalidState is returned for a lifecycle call made in the wrong state.
	ErrInvalidState = errors.New("invalid experiment state")
)

// Request identifies the experiment to allocate.
type Request struct {
	Name    string
	Project string
	Profile string
}

// Allocation is what the provider returned once it stopped waiting.
type Allocation struct {
	Status string `json:"status"`
	// Nodes maps provider node names to connection descriptors.
	Nodes map[string]remote.Descriptor `json:"nodes"`
}

// Provisioner allocates and releases remote hosts.
type Provisioner interface {
	// AllocateAndWait starts the experiment and blocks until the provider
	// reports a settled status. A non-ready status is not an error here.
	AllocateAndWait(ctx context.Context, req Request) (Allocation, error)
	// Terminate releases the experiment.
	Terminate(ctx context.Context, name string) error
}
