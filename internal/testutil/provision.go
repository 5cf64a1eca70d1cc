// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package testutil

import (
	"context"
	"sync"

	"github.com/specialistvlad/hilrunner/internal/provision"
	"github.com/specialistvlad/hilrunner/internal/remote"
)

// FakeProvisioner returns a canned allocation and counts calls.
type FakeProvisioner struct {
	Allocation provision.Allocation
	Err        error

	mu        sync.Mutex
	allocates int
	terminals []string
}

var _ provision.Provisioner = (*FakeProvisioner)(nil)

// ReadyProvisioner serves the two default nodes "enb1" and "rue1".
func ReadyProvisioner() *FakeProvisioner {
	return &FakeProvisioner{Allocation: provision.Allocation{
		Status: provision.StatusReady,
		Nodes: map[string]remote.Descriptor{
			"enb1": {Node: "enb1", Host: "10.10.0.1"},
			"rue1": {Node: "rue1", Host: "10.10.0.2"},
		},
	}}
}

// AllocateAndWait implements provision.Provisioner.
func (p *FakeProvisioner) AllocateAndWait(context.Context, provision.Request) (provision.Allocation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allocates++
	return p.Allocation, p.Err
}

// Terminate implements provision.Provisioner.
func (p *FakeProvisioner) Terminate(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminals = append(p.terminals, name)
	return nil
}

// Allocates returns how many times AllocateAndWait was called.
func (p *FakeProvisioner) Allocates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocates
}

// Terminations returns the names passed to Terminate.
func (p *FakeProvisioner) Terminations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.terminals...)
}
