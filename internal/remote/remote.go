// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package remote defines the contract of the remote-shell transport: a
// session that runs command lines on one host, waits for expected output,
// retrieves files and closes. Concrete transports live in other packages.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/specialistvlad/hilrunner/internal/inspect"
)

var (
	// ErrPatternTimeout is returned when the expected pattern did not appear
	// before the command timeout elapsed.
	ErrPatternTimeout = errors.New("expected pattern not seen before timeout")
	// ErrSessionClosed is returned when a session is used after Close, or the
	// remote shell exited while a command was waiting.
	ErrSessionClosed = errors.New("remote session closed")
)

// Descriptor is everything needed to reach one provisioned host.
type Descriptor struct {
	// Node is the provisioner's name for the host, e.g. "enb1".
	Node string `json:"node" yaml:"node"`
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port,omitempty" yaml:"port,omitempty"`
	User string `json:"user,omitempty" yaml:"user,omitempty"`
}

// Addr returns host:port, defaulting to port 22.
func (d Descriptor) Addr() string {
	port := d.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(port))
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	if d.User == "" {
		return fmt.Sprintf("%s(%s)", d.Node, d.Addr())
	}
	return fmt.Sprintf("%s(%s@%s)", d.Node, d.User, d.Addr())
}

// Command is one line to run in a session.
type Command struct {
	// Line is passed verbatim to the remote shell.
	Line string
	// Expect, when set, makes Exec return as soon as the pattern appears in
	// output produced after the line was sent. When unset Exec waits for the
	// line to finish.
	Expect inspect.Pattern
	// Timeout bounds the wait. Zero means no bound other than the context.
	Timeout time.Duration
	// OnSent, when set, is called once the line has been handed to the
	// remote shell and before Exec starts waiting for output.
	OnSent func()
}

// Sent calls OnSent if it is set.
func (c Command) Sent() {
	if c.OnSent != nil {
		c.OnSent()
	}
}

// Session is an open interactive command channel to one host. Shell state
// (working directory, environment) persists across Exec calls.
type Session interface {
	// Exec runs cmd and returns the output it produced. On timeout the
	// output captured so far is returned together with ErrPatternTimeout.
	Exec(ctx context.Context, cmd Command) (string, error)
	// Fetch copies remotePath on the host to localPath.
	Fetch(ctx context.Context, remotePath, localPath string) error
	// Close ends the session, giving the remote shell up to grace to exit
	// before the channel is killed. Close is safe to call more than once.
	Close(grace time.Duration) error
}

// Dialer opens sessions.
type Dialer interface {
	Open(ctx context.Context, d Descriptor) (Session, error)
}
