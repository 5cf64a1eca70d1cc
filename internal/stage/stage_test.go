// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package stage_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/hilrunner/internal/ctxlog"
	"github.com/specialistvlad/hilrunner/internal/inspect"
	"github.com/specialistvlad/hilrunner/internal/remote"
	"github.com/specialistvlad/hilrunner/internal/stage"
	"github.com/specialistvlad/hilrunner/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hosts is a fixed role map.
type hosts map[string]remote.Descriptor

func (h hosts) Host(role string) (remote.Descriptor, error) {
	d, ok := h[role]
	if !ok {
		return remote.Descriptor{}, fmt.Errorf("unknown role %q", role)
	}
	return d, nil
}

var twoHosts = hosts{
	"nodeA": {Node: "enb1", Host: "10.10.0.1"},
	"nodeB": {Node: "rue1", Host: "10.10.0.2"},
}

func setupTask(role string) stage.Task {
	return stage.Task{
		Role: role,
		Commands: []remote.Command{
			{Line: "cd /local/repository"},
			{
				Line:    "stdbuf -o0 ./bin/setup.sh 2>&1 | stdbuf -o0 tee /tmp/setup.log",
				Expect:  inspect.Literal("Host setup complete!"),
				Timeout: 30 * time.Minute,
			},
		},
		RemoteLog: "/tmp/setup.log",
	}
}

var setupStage = stage.Stage{
	Name:   "setup",
	Marker: inspect.Literal("Host setup complete"),
	Tasks:  []stage.Task{setupTask("nodeA"), setupTask("nodeB")},
}

// hostBehaviour scripts one host for the setup stage.
type hostBehaviour struct {
	completes bool // the expected line appears in the session
	logged    bool // the fetched log carries the marker
}

func setupResponder(behaviour map[string]hostBehaviour) testutil.Responder {
	return func(node, line string) testutil.Reply {
		if !strings.Contains(line, "setup.sh") {
			return testutil.Reply{}
		}
		b := behaviour[node]
		out := "installing packages\n"
		if b.completes {
			out += "Host setup complete!\n"
		}
		log := "installing packages\n"
		if b.logged {
			log += "Host setup complete!\n"
		}
		return testutil.Reply{Output: out, Files: map[string]string{"/tmp/setup.log": log}}
	}
}

func newGroup(t *testing.T, d remote.Dialer) (*stage.Group, string) {
	t.Helper()
	dir := t.TempDir()
	r := &stage.Runner{Hosts: twoHosts, Dialer: d, ArtifactsDir: dir, CloseGrace: time.Second}
	return &stage.Group{Runner: r, Inspector: inspect.FileInspector{}}, dir
}

func testContext(t *testing.T) context.Context {
	logger, _ := testutil.NewLogger(t)
	return ctxlog.WithLogger(context.Background(), logger)
}

func TestGroup_FourWayConjunction(t *testing.T) {
	ok := hostBehaviour{completes: true, logged: true}
	testCases := []struct {
		name     string
		enb, rue hostBehaviour
		passed   bool
		failed   string
	}{
		{name: "all good", enb: ok, rue: ok, passed: true},
		{name: "nodeA did not complete", enb: hostBehaviour{logged: true}, rue: ok, failed: "nodeA"},
		{name: "nodeA log lacks marker", enb: hostBehaviour{completes: true}, rue: ok, failed: "nodeA"},
		{name: "nodeB did not complete", enb: ok, rue: hostBehaviour{logged: true}, failed: "nodeB"},
		{name: "nodeB log lacks marker", enb: ok, rue: hostBehaviour{completes: true}, failed: "nodeB"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := testutil.NewFakeDialer(nil, setupResponder(map[string]hostBehaviour{"enb1": tc.enb, "rue1": tc.rue}))
			g, _ := newGroup(t, d)

			res := g.Run(testContext(t), setupStage)

			require.Len(t, res.Results, 2)
			assert.Equal(t, tc.passed, res.Passed())
			if tc.passed {
				assert.Empty(t, res.Failed())
				return
			}
			failed := res.Failed()
			require.Len(t, failed, 1)
			assert.Equal(t, tc.failed, failed[0].Role)
			assert.NotEmpty(t, failed[0].Message)
		})
	}
}

func TestGroup_FailureDoesNotCancelOtherMember(t *testing.T) {
	d := testutil.NewFakeDialer(nil, setupResponder(map[string]hostBehaviour{
		"enb1": {},
		"rue1": {completes: true, logged: true},
	}))
	g, dir := newGroup(t, d)

	res := g.Run(testContext(t), setupStage)
	require.False(t, res.Passed())

	// nodeB still ran to completion and its log is intact.
	assert.True(t, res.Results[1].OK)
	assert.True(t, res.Results[1].Verified)
	data, err := os.ReadFile(stage.ArtifactPath(dir, "setup", "nodeB"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Host setup complete!")

	// nodeA's log was still fetched after its command timed out.
	var enbFetches int
	for _, e := range d.Trace.Filter("fetch", "/tmp/setup.log") {
		if e.Node == "enb1" {
			enbFetches++
		}
	}
	assert.Equal(t, 1, enbFetches)
}

func TestGroup_EmptyStageFails(t *testing.T) {
	g, _ := newGroup(t, testutil.NewFakeDialer(nil, nil))
	assert.False(t, g.Run(testContext(t), stage.Stage{Name: "noop", Marker: inspect.Literal("x")}).Passed())
}

func TestRunner_WritesExactlyOneArtifact(t *testing.T) {
	testCases := []struct {
		name    string
		task    stage.Task
		dialer  func() *testutil.FakeDialer
		wantOK  bool
		wantLog string
		wantMsg string
	}{
		{
			name: "remote log fetched",
			task: setupTask("nodeA"),
			dialer: func() *testutil.FakeDialer {
				return testutil.NewFakeDialer(nil, setupResponder(map[string]hostBehaviour{"enb1": {completes: true, logged: true}}))
			},
			wantOK:  true,
			wantLog: "Host setup complete!",
		},
		{
			name: "fetch fails so transcript is kept",
			task: stage.Task{Role: "nodeA", Commands: []remote.Command{{Line: "ifconfig"}}, RemoteLog: "/tmp/missing.log"},
			dialer: func() *testutil.FakeDialer {
				return testutil.NewFakeDialer(nil, func(_, line string) testutil.Reply {
					return testutil.Reply{Output: "oaitun_ue1: flags=4305\n"}
				})
			},
			wantOK:  true,
			wantLog: "oaitun_ue1",
		},
		{
			name: "session cannot open",
			task: setupTask("nodeA"),
			dialer: func() *testutil.FakeDialer {
				d := testutil.NewFakeDialer(nil, nil)
				d.OpenErr = func(string) error { return errors.New("connection refused") }
				return d
			},
			wantMsg: "connection refused",
		},
		{
			name:    "unknown role",
			task:    stage.Task{Role: "nodeC"},
			dialer:  func() *testutil.FakeDialer { return testutil.NewFakeDialer(nil, nil) },
			wantMsg: "unknown role",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			r := &stage.Runner{Hosts: twoHosts, Dialer: tc.dialer(), ArtifactsDir: dir}

			res := r.Run(testContext(t), "verify", tc.task)

			assert.Equal(t, tc.wantOK, res.OK)
			assert.Contains(t, res.Message, tc.wantMsg)
			assert.Equal(t, stage.ArtifactPath(dir, "verify", tc.task.Role), res.Artifact)
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "verify_"+tc.task.Role+".log", entries[0].Name())
			data, err := os.ReadFile(res.Artifact)
			require.NoError(t, err)
			assert.Contains(t, string(data), tc.wantLog)
		})
	}
}

func TestRunner_StopsAtFirstFailingCommand(t *testing.T) {
	trace := testutil.NewTrace(nil)
	d := testutil.NewFakeDialer(trace, func(_, line string) testutil.Reply {
		if line == "false" {
			return testutil.Reply{Err: errors.New("exit 1")}
		}
		return testutil.Reply{}
	})
	r := &stage.Runner{Hosts: twoHosts, Dialer: d, ArtifactsDir: t.TempDir()}

	res := r.Run(testContext(t), "build", stage.Task{Role: "nodeB", Commands: []remote.Command{
		{Line: "true"}, {Line: "false"}, {Line: "never"},
	}})

	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "command 1")
	assert.Equal(t, 0, trace.Count("exec", "never"))
	assert.Equal(t, 1, trace.Count("close", "5s"), "session closed with the default grace")
}

func TestBackground_StopKillsAndCollects(t *testing.T) {
	trace := testutil.NewTrace(nil)
	d := testutil.NewFakeDialer(trace, func(_, line string) testutil.Reply {
		if strings.Contains(line, "lte-softmodem") {
			return testutil.Reply{Output: "[PHY] RU 0 rf device ready\n", Hang: true, Files: map[string]string{"/tmp/enb.log": "RU 0 rf device ready\n"}}
		}
		return testutil.Reply{}
	})
	dir := t.TempDir()
	r := &stage.Runner{Hosts: twoHosts, Dialer: d, ArtifactsDir: dir}

	bg, err := r.Start(testContext(t), "bringup-1", stage.Task{
		Role:      "nodeA",
		Commands:  []remote.Command{{Line: "cd /local/openairinterface5g/"}, {Line: "sudo -E ./lte-softmodem -O /local/enb.conf", Expect: inspect.Literal("unexpectedline")}},
		RemoteLog: "/tmp/enb.log",
	})
	require.NoError(t, err)

	select {
	case <-bg.Done():
		t.Fatal("background task exited on its own")
	case <-time.After(20 * time.Millisecond):
	}

	res := bg.Stop()
	assert.True(t, res.OK)
	assert.Equal(t, res, bg.Stop(), "second stop returns the first result")
	assert.Equal(t, 1, trace.Count("close", "0s"), "killed without grace")

	data, err := os.ReadFile(stage.ArtifactPath(dir, "bringup-1", "nodeA"))
	require.NoError(t, err)
	assert.Equal(t, "RU 0 rf device ready\n", string(data))
}

func TestRunner_ArtifactHoldsOnlyHostOutput(t *testing.T) {
	d := testutil.NewFakeDialer(nil, func(_, line string) testutil.Reply {
		if strings.HasPrefix(line, "false") {
			return testutil.Reply{Output: "grep: no match\n", Err: errors.New("exit 1")}
		}
		return testutil.Reply{Output: "3: oaitun_ue1: <POINTOPOINT,UP> mtu 1500\n"}
	})
	r := &stage.Runner{Hosts: twoHosts, Dialer: d, ArtifactsDir: t.TempDir()}

	res := r.Run(testContext(t), "verify", stage.Task{Role: "nodeB", Commands: []remote.Command{
		{Line: "ip addr show oaitun_ue1 | grep 10.0.1.2"},
		{Line: "false 10.0.1.2"},
	}})
	require.False(t, res.OK)
	assert.Contains(t, res.Message, "false 10.0.1.2")

	data, err := os.ReadFile(res.Artifact)
	require.NoError(t, err)
	assert.Equal(t, "3: oaitun_ue1: <POINTOPOINT,UP> mtu 1500\ngrep: no match\n", string(data))

	found, err := inspect.FileInspector{}.Contains(inspect.Literal("10.0.1.2"), res.Artifact)
	require.NoError(t, err)
	assert.False(t, found, "command text must not satisfy the check")
}

func TestBackground_LeadingCommandsRunBeforeStartReturns(t *testing.T) {
	trace := testutil.NewTrace(nil)
	d := testutil.NewFakeDialer(trace, func(_, line string) testutil.Reply {
		if strings.Contains(line, "lte-softmodem") {
			return testutil.Reply{Hang: true}
		}
		return testutil.Reply{}
	})
	r := &stage.Runner{Hosts: twoHosts, Dialer: d, ArtifactsDir: t.TempDir()}

	var hooked bool
	bg, err := r.Start(testContext(t), "bringup-1", stage.Task{Role: "nodeA", Commands: []remote.Command{
		{Line: "cd /local/openairinterface5g/"},
		{Line: "source oaienv"},
		{Line: "sudo -E ./lte-softmodem -O /local/enb.conf", Expect: inspect.Literal("unexpectedline"), OnSent: func() { hooked = true }},
	}})
	require.NoError(t, err)
	defer bg.Stop()

	var lines []string
	for _, e := range trace.Filter("exec", "") {
		lines = append(lines, e.Detail)
	}
	assert.Equal(t, []string{"cd /local/openairinterface5g/", "source oaienv", "sudo -E ./lte-softmodem -O /local/enb.conf"}, lines)
	assert.True(t, hooked, "caller's own hook still runs")
}

func TestBackground_StartWaitsForDispatch(t *testing.T) {
	release := make(chan struct{})
	d := &gatedDialer{release: release}
	r := &stage.Runner{Hosts: twoHosts, Dialer: d, ArtifactsDir: t.TempDir()}

	started := make(chan *stage.Background, 1)
	go func() {
		bg, err := r.Start(testContext(t), "bringup-1", stage.Task{Role: "nodeB", Commands: []remote.Command{
			{Line: "sudo ./lte-uesoftmodem -C 2685000000", Expect: inspect.Literal("unexpectedline")},
		}})
		assert.NoError(t, err)
		started <- bg
	}()

	select {
	case <-started:
		t.Fatal("Start returned before the command was sent")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	select {
	case bg := <-started:
		res := bg.Stop()
		assert.True(t, res.OK)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after the command was sent")
	}
}

func TestBackground_LeadingFailureReturnsError(t *testing.T) {
	trace := testutil.NewTrace(nil)
	d := testutil.NewFakeDialer(trace, func(_, line string) testutil.Reply {
		if strings.HasPrefix(line, "cd") {
			return testutil.Reply{Output: "no such directory\n", Err: errors.New("exit 1")}
		}
		return testutil.Reply{Hang: true}
	})
	dir := t.TempDir()
	r := &stage.Runner{Hosts: twoHosts, Dialer: d, ArtifactsDir: dir, CloseGrace: time.Second}

	bg, err := r.Start(testContext(t), "bringup-1", stage.Task{Role: "nodeA", Commands: []remote.Command{
		{Line: "cd /local/openairinterface5g/"},
		{Line: "sudo -E ./lte-softmodem -O /local/enb.conf", Expect: inspect.Literal("unexpectedline")},
	}})
	require.Error(t, err)
	assert.Nil(t, bg)
	assert.Contains(t, err.Error(), "command 0")
	assert.Equal(t, 0, trace.Count("exec", "lte-softmodem"))
	assert.Equal(t, 1, trace.Count("close", "1s"))

	data, err := os.ReadFile(stage.ArtifactPath(dir, "bringup-1", "nodeA"))
	require.NoError(t, err)
	assert.Equal(t, "no such directory\n", string(data))
}

// gatedDialer opens sessions that only send a command once release is
// closed, then keep it running until the session is closed.
type gatedDialer struct {
	release chan struct{}
}

func (d *gatedDialer) Open(context.Context, remote.Descriptor) (remote.Session, error) {
	return &gatedSession{release: d.release, closed: make(chan struct{})}, nil
}

type gatedSession struct {
	release   chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *gatedSession) Exec(ctx context.Context, cmd remote.Command) (string, error) {
	select {
	case <-s.release:
	case <-s.closed:
		return "", remote.ErrSessionClosed
	}
	cmd.Sent()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.closed:
		return "", remote.ErrSessionClosed
	}
}

func (s *gatedSession) Fetch(context.Context, string, string) error { return errors.New("no remote log") }

func (s *gatedSession) Close(time.Duration) error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
