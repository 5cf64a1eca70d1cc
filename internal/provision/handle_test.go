// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package provision_test

import (
	"context"
	"errors"
	"testing"

	"github.com/specialistvlad/hilrunner/internal/provision"
	"github.com/specialistvlad/hilrunner/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var roles = map[string]string{"nodeA": "enb1", "nodeB": "rue1"}

func newHandle(p provision.Provisioner) *provision.Handle {
	return provision.NewHandle(provision.Request{Name: "oai-nos1-abc1234", Project: "PowderProfiles", Profile: "oai-nos1-wired"}, roles, p)
}

func TestHandle_Lifecycle(t *testing.T) {
	ctx := context.Background()
	prov := testutil.ReadyProvisioner()
	h := newHandle(prov)
	assert.Equal(t, provision.StateNotStarted, h.State())

	_, err := h.Host("nodeA")
	require.ErrorIs(t, err, provision.ErrNotReady)

	require.NoError(t, h.AllocateAndWait(ctx))
	assert.Equal(t, provision.StateReady, h.State())

	d, err := h.Host("nodeB")
	require.NoError(t, err)
	assert.Equal(t, "rue1", d.Node)
	assert.Equal(t, "10.10.0.2", d.Host)
	assert.Equal(t, provision.StateInUse, h.State())

	_, err = h.Host("nodeC")
	require.Error(t, err)

	require.ErrorIs(t, h.AllocateAndWait(ctx), provision.ErrInvalidState)

	require.NoError(t, h.Terminate(ctx))
	assert.Equal(t, provision.StateTerminated, h.State())
	_, err = h.Host("nodeA")
	require.ErrorIs(t, err, provision.ErrNotReady)
}

func TestHandle_TerminateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	prov := testutil.ReadyProvisioner()
	h := newHandle(prov)
	require.NoError(t, h.AllocateAndWait(ctx))

	require.NoError(t, h.Terminate(ctx))
	require.NoError(t, h.Terminate(ctx))
	assert.Equal(t, []string{"oai-nos1-abc1234"}, prov.Terminations(), "exactly one external deallocation")
}

func TestHandle_TerminateWithoutAllocation(t *testing.T) {
	ctx := context.Background()

	t.Run("never allocated", func(t *testing.T) {
		prov := testutil.ReadyProvisioner()
		h := newHandle(prov)
		require.NoError(t, h.Terminate(ctx))
		require.NoError(t, h.Terminate(ctx))
		assert.Empty(t, prov.Terminations())
		assert.Equal(t, 0, prov.Allocates())
	})

	t.Run("allocation error", func(t *testing.T) {
		prov := &testutil.FakeProvisioner{Err: errors.New("no resources")}
		h := newHandle(prov)
		require.Error(t, h.AllocateAndWait(ctx))
		assert.Equal(t, provision.StateNotStarted, h.State())
		require.NoError(t, h.Terminate(ctx))
		assert.Empty(t, prov.Terminations())
	})

	t.Run("not ready status", func(t *testing.T) {
		prov := testutil.ReadyProvisioner()
		prov.Allocation.Status = "failed"
		h := newHandle(prov)
		require.ErrorIs(t, h.AllocateAndWait(ctx), provision.ErrNotReady)
		require.NoError(t, h.Terminate(ctx))
		assert.Empty(t, prov.Terminations())
	})
}

func TestHandle_ReleasesIncompleteExperiment(t *testing.T) {
	ctx := context.Background()
	prov := testutil.ReadyProvisioner()
	delete(prov.Allocation.Nodes, "rue1")
	h := newHandle(prov)

	err := h.AllocateAndWait(ctx)
	require.ErrorIs(t, err, provision.ErrNotReady)
	assert.Contains(t, err.Error(), "rue1")
	assert.Equal(t, provision.StateNotStarted, h.State())
	assert.Equal(t, []string{"oai-nos1-abc1234"}, prov.Terminations(), "allocated experiment is released")

	require.NoError(t, h.Terminate(ctx))
	assert.Len(t, prov.Terminations(), 1)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "NotStarted", provision.StateNotStarted.String())
	assert.Equal(t, "InUse", provision.StateInUse.String())
	assert.Equal(t, "Unknown(42)", provision.State(42).String())
	assert.True(t, provision.StateReady.Usable())
	assert.False(t, provision.StateTerminated.Usable())
}

func TestStaticProvisioner(t *testing.T) {
	p := &provision.StaticProvisioner{Nodes: testutil.ReadyProvisioner().Allocation.Nodes}
	h := newHandle(p)
	require.NoError(t, h.AllocateAndWait(context.Background()))
	d, err := h.Host("nodeA")
	require.NoError(t, err)
	assert.Equal(t, "10.10.0.1:22", d.Addr())
	require.NoError(t, h.Terminate(context.Background()))
}

func TestNewName(t *testing.T) {
	a := provision.NewName("oai-nos1-")
	b := provision.NewName("oai-nos1-")
	assert.Regexp(t, `^oai-nos1-[a-z0-9]{7}$`, a)
	assert.NotEqual(t, a, b)
}
