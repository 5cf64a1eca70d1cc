// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package provision

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRun replays status outputs and records every command.
type scriptedRun struct {
	mu       sync.Mutex
	statuses []string
	calls    []string
	envs     [][]string
}

func (s *scriptedRun) run(_ context.Context, env []string, argv []string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, argv[0])
	s.envs = append(s.envs, env)
	if argv[0] != "status" {
		return nil, nil
	}
	if len(s.statuses) == 0 {
		return []byte("boom"), errors.New("exit status 1")
	}
	out := s.statuses[0]
	if len(s.statuses) > 1 {
		s.statuses = s.statuses[1:]
	}
	return []byte(out), nil
}

func newTestProvisioner(t *testing.T, statuses ...string) (*CommandProvisioner, *scriptedRun) {
	t.Helper()
	p, err := NewCommandProvisioner(CommandConfig{
		Start:        []string{"start"},
		Status:       []string{"status"},
		Terminate:    []string{"terminate"},
		PollInterval: time.Millisecond,
		WaitTimeout:  200 * time.Millisecond,
	})
	require.NoError(t, err)
	s := &scriptedRun{statuses: statuses}
	p.run = s.run
	return p, s
}

func TestCommandProvisioner_PollsUntilReady(t *testing.T) {
	p, s := newTestProvisioner(t,
		`{"status":"provisioning"}`,
		`not json`,
		`{"status":"Ready","nodes":{"enb1":{"host":"pc01.emulab.net","user":"oai"}}}`,
	)
	req := Request{Name: "oai-nos1-x", Project: "PowderProfiles", Profile: "oai-nos1-wired"}

	alloc, err := p.AllocateAndWait(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, alloc.Status)
	assert.Equal(t, "pc01.emulab.net", alloc.Nodes["enb1"].Host)
	assert.Equal(t, []string{"start", "status", "status", "status"}, s.calls)
	assert.Contains(t, s.envs[0], "HILRUNNER_EXPERIMENT=oai-nos1-x")
	assert.Contains(t, s.envs[0], "HILRUNNER_PROFILE=oai-nos1-wired")

	require.NoError(t, p.Terminate(context.Background(), req.Name))
	assert.Equal(t, "terminate", s.calls[len(s.calls)-1])
}

func TestCommandProvisioner_ReleasesFailedExperiment(t *testing.T) {
	p, s := newTestProvisioner(t, `{"status":"failed"}`)

	alloc, err := p.AllocateAndWait(context.Background(), Request{Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, "failed", alloc.Status)
	assert.Equal(t, []string{"start", "status", "terminate"}, s.calls)
}

func TestCommandProvisioner_GivesUp(t *testing.T) {
	p, s := newTestProvisioner(t, `{"status":"provisioning"}`)

	_, err := p.AllocateAndWait(context.Background(), Request{Name: "x"})
	require.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, "terminate", s.calls[len(s.calls)-1])
}

func TestCommandProvisioner_StartFails(t *testing.T) {
	p, err := NewCommandProvisioner(CommandConfig{Start: []string{"start"}, Status: []string{"status"}, Terminate: []string{"terminate"}})
	require.NoError(t, err)
	p.run = func(context.Context, []string, []string) ([]byte, error) {
		return []byte("quota exceeded\n"), errors.New("exit status 3")
	}
	_, err = p.AllocateAndWait(context.Background(), Request{Name: "x"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "quota exceeded"))
}

func TestNewCommandProvisioner_RequiresCommands(t *testing.T) {
	_, err := NewCommandProvisioner(CommandConfig{Start: []string{"start"}})
	require.Error(t, err)
}
