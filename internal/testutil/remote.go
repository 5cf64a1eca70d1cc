// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/specialistvlad/hilrunner/internal/remote"
)

// Reply scripts how a fake host reacts to one command line.
type Reply struct {
	Output string
	// Files are written on the host, keyed by remote path.
	Files map[string]string
	// Hang keeps the command running until the session closes, unless its
	// expected pattern already matched Output.
	Hang bool
	Err  error
}

// Responder decides the reply for a line run on node.
type Responder func(node, line string) Reply

// FakeDialer hands out scripted in-memory sessions and records every call.
type FakeDialer struct {
	Respond Responder
	Trace   *Trace
	// OpenErr, when set, can refuse sessions per node.
	OpenErr func(node string) error

	mu    sync.Mutex
	files map[string]map[string]string
}

var _ remote.Dialer = (*FakeDialer)(nil)

// NewFakeDialer creates a dialer whose events go to trace.
func NewFakeDialer(trace *Trace, respond Responder) *FakeDialer {
	if trace == nil {
		trace = NewTrace(nil)
	}
	return &FakeDialer{Respond: respond, Trace: trace, files: map[string]map[string]string{}}
}

// Open implements remote.Dialer.
func (d *FakeDialer) Open(_ context.Context, desc remote.Descriptor) (remote.Session, error) {
	if d.OpenErr != nil {
		if err := d.OpenErr(desc.Node); err != nil {
			d.Trace.Add(desc.Node, "open-failed", err.Error())
			return nil, err
		}
	}
	d.Trace.Add(desc.Node, "open", desc.Addr())
	return &FakeSession{dialer: d, node: desc.Node, closed: make(chan struct{})}, nil
}

// SetFile places a file on node.
func (d *FakeDialer) SetFile(node, path, content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.files[node] == nil {
		d.files[node] = map[string]string{}
	}
	d.files[node][path] = content
}

// File reads a file from node.
func (d *FakeDialer) File(node, path string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	content, ok := d.files[node][path]
	return content, ok
}

// FakeSession is a scripted remote.Session.
type FakeSession struct {
	dialer    *FakeDialer
	node      string
	closeOnce sync.Once
	closed    chan struct{}
}

// Exec implements remote.Session.
func (s *FakeSession) Exec(ctx context.Context, cmd remote.Command) (string, error) {
	select {
	case <-s.closed:
		return "", remote.ErrSessionClosed
	default:
	}
	s.dialer.Trace.Add(s.node, "exec", cmd.Line)
	cmd.Sent()

	var reply Reply
	if s.dialer.Respond != nil {
		reply = s.dialer.Respond(s.node, cmd.Line)
	}
	for path, content := range reply.Files {
		s.dialer.SetFile(s.node, path, content)
	}
	if reply.Err != nil {
		return reply.Output, reply.Err
	}

	matched := !cmd.Expect.IsZero() && cmd.Expect.MatchString(reply.Output)
	switch {
	case matched:
		return reply.Output, nil
	case reply.Hang:
		select {
		case <-ctx.Done():
			return reply.Output, ctx.Err()
		case <-s.closed:
			return reply.Output, remote.ErrSessionClosed
		}
	case cmd.Expect.IsZero():
		return reply.Output, nil
	default:
		return reply.Output, fmt.Errorf("%w: %s after %s", remote.ErrPatternTimeout, cmd.Expect, cmd.Timeout)
	}
}

// Fetch implements remote.Session.
func (s *FakeSession) Fetch(_ context.Context, remotePath, localPath string) error {
	s.dialer.Trace.Add(s.node, "fetch", remotePath)
	content, ok := s.dialer.File(s.node, remotePath)
	if !ok {
		return fmt.Errorf("failed to fetch %s: no such file", remotePath)
	}
	return os.WriteFile(localPath, []byte(content), 0o644)
}

// Close implements remote.Session.
func (s *FakeSession) Close(grace time.Duration) error {
	s.closeOnce.Do(func() {
		s.dialer.Trace.Add(s.node, "close", grace.String())
		close(s.closed)
	})
	return nil
}
