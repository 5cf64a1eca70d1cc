// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package provision

import (
	"context"

	"github.com/specialistvlad/hilrunner/internal/remote"
)

// StaticProvisioner serves a fixed set of already running hosts. Terminate
// leaves them untouched.
type StaticProvisioner struct {
	Nodes map[string]remote.Descriptor
}

var _ Provisioner = (*StaticProvisioner)(nil)

// AllocateAndWait implements Provisioner.
func (p *StaticProvisioner) AllocateAndWait(_ context.Context, _ Request) (Allocation, error) {
	nodes := make(map[string]remote.Descriptor, len(p.Nodes))
	for name, d := range p.Nodes {
		if d.Node == "" {
			d.Node = name
		}
		nodes[name] = d
	}
	return Allocation{Status: StatusReady, Nodes: nodes}, nil
}

// Terminate implements Provisioner.
func (p *StaticProvisioner) Terminate(context.Context, string) error { return nil }
