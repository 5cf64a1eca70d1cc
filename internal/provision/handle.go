// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package provision

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/specialistvlad/hilrunner/internal/ctxlog"
	"github.com/specialistvlad/hilrunner/internal/remote"
)

// Handle owns the lifecycle of one provisioned experiment. All transitions go
// through explicit methods that check the current state.
type Handle struct {
	req   Request
	roles map[string]string // role -> provider node name
	prov  Provisioner

	mu    sync.Mutex
	state State
	hosts map[string]remote.Descriptor // role -> descriptor
}

// NewHandle creates a handle in StateNotStarted. roles maps each pipeline
// role to the provider's node name.
func NewHandle(req Request, roles map[string]string, prov Provisioner) *Handle {
	r := make(map[string]string, len(roles))
	for k, v := range roles {
		r[k] = v
	}
	return &Handle{req: req, roles: r, prov: prov}
}

// Name returns the experiment name.
func (h *Handle) Name() string { return h.req.Name }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) transition(from, to State) error {
	if h.state != from {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidState, from, h.state)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
	}
	h.state = to
	return nil
}

// AllocateAndWait asks the provider for the experiment and moves the handle to
// StateReady when every role has a host. Any other outcome leaves the handle
// in StateNotStarted; a ready experiment that lacks a role's node is released
// first.
func (h *Handle) AllocateAndWait(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx).With("experiment", h.req.Name)

	h.mu.Lock()
	if h.state != StateNotStarted {
		defer h.mu.Unlock()
		return fmt.Errorf("%w: cannot allocate experiment in state %s", ErrInvalidState, h.state)
	}
	h.mu.Unlock()

	logger.Info("▶️ Allocating experiment", "project", h.req.Project, "profile", h.req.Profile)
	alloc, err := h.prov.AllocateAndWait(ctx, h.req)
	if err != nil {
		return fmt.Errorf("failed to allocate experiment %s: %w", h.req.Name, err)
	}
	if alloc.Status != StatusReady {
		return fmt.Errorf("%w: experiment %s reported status %q", ErrNotReady, h.req.Name, alloc.Status)
	}

	hosts := make(map[string]remote.Descriptor, len(h.roles))
	for _, role := range sortedKeys(h.roles) {
		node := h.roles[role]
		d, ok := alloc.Nodes[node]
		if !ok {
			logger.Warn("Experiment is missing a node, releasing it", "role", role, "node", node)
			h.release(ctx, logger)
			return fmt.Errorf("%w: experiment %s has no node %q for role %s", ErrNotReady, h.req.Name, node, role)
		}
		if d.Node == "" {
			d.Node = node
		}
		hosts[role] = d
	}

	h.mu.Lock()
	if h.state == StateTerminated {
		h.mu.Unlock()
		logger.Warn("Experiment became ready after termination, releasing it")
		h.release(ctx, logger)
		return fmt.Errorf("%w: handle terminated during allocation", ErrInvalidState)
	}
	defer h.mu.Unlock()
	if err := h.transition(StateNotStarted, StateReady); err != nil {
		return err
	}
	h.hosts = hosts
	logger.Info("✅ Experiment ready", "nodes", len(hosts))
	return nil
}

// release deallocates an experiment the handle will never use.
func (h *Handle) release(ctx context.Context, logger *slog.Logger) {
	if err := h.prov.Terminate(context.WithoutCancel(ctx), h.req.Name); err != nil {
		logger.Error("Failed to release experiment", "error", err)
	}
}

// Host returns the descriptor for role and marks the handle in use.
func (h *Handle) Host(role string) (remote.Descriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.state.Usable() {
		return remote.Descriptor{}, fmt.Errorf("%w: experiment %s is %s", ErrNotReady, h.req.Name, h.state)
	}
	d, ok := h.hosts[role]
	if !ok {
		return remote.Descriptor{}, fmt.Errorf("unknown role %q", role)
	}
	if h.state == StateReady {
		_ = h.transition(StateReady, StateInUse)
	}
	return d, nil
}

// Terminate releases the experiment if it was ever allocated. Calling it again,
// or on a handle that never reached StateReady, does nothing.
func (h *Handle) Terminate(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateTerminated:
		return nil
	case StateNotStarted:
		h.state = StateTerminated
		return nil
	}

	logger := ctxlog.FromContext(ctx).With("experiment", h.req.Name)
	logger.Info("🔥 Terminating experiment", "state", h.state)
	// The handle is terminated even if the provider call fails; a second
	// attempt would only repeat the same request.
	from := h.state
	_ = h.transition(from, StateTerminated)
	if err := h.prov.Terminate(ctx, h.req.Name); err != nil {
		return fmt.Errorf("failed to terminate experiment %s: %w", h.req.Name, err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
