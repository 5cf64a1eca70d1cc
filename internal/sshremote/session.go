// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package sshremote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/hilrunner/internal/inspect"
	"github.com/specialistvlad/hilrunner/internal/remote"
	"golang.org/x/crypto/ssh"
)

// Session is a shell running on a remote host.
type Session struct {
	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser
	out    *outputBuffer

	// execMu serialises commands; Close does not take it.
	execMu    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	exited    chan struct{}
}

var _ remote.Session = (*Session)(nil)

func startSession(client *ssh.Client, pty bool) (*Session, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, err
	}
	if pty {
		modes := ssh.TerminalModes{ssh.ECHO: 0, ssh.TTY_OP_ISPEED: 14400, ssh.TTY_OP_OSPEED: 14400}
		if err := sess.RequestPty("xterm", 50, 200, modes); err != nil {
			_ = sess.Close()
			return nil, fmt.Errorf("pty request failed: %w", err)
		}
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	out := newOutputBuffer()
	sess.Stdout = out
	sess.Stderr = out
	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		return nil, err
	}

	s := &Session{
		client: client,
		sess:   sess,
		stdin:  stdin,
		out:    out,
		exited: make(chan struct{}),
	}
	go func() {
		_ = sess.Wait()
		close(s.exited)
	}()
	return s, nil
}

// Exec implements remote.Session.
func (s *Session) Exec(ctx context.Context, cmd remote.Command) (string, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	if s.closed.Load() {
		return "", remote.ErrSessionClosed
	}

	start := s.out.Len()
	line := cmd.Line
	want := cmd.Expect
	var marker string
	if want.IsZero() {
		marker = "__hilrunner_done_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		line += "\necho " + marker
		want = inspect.Literal(marker)
	}
	if _, err := io.WriteString(s.stdin, line+"\n"); err != nil {
		return "", fmt.Errorf("failed to send command: %w", err)
	}
	cmd.Sent()

	out, err := s.wait(ctx, start, want, cmd.Timeout)
	if marker != "" {
		out = strings.TrimSuffix(strings.Replace(out, marker, "", 1), "\n")
	}
	return out, err
}

func (s *Session) wait(ctx context.Context, start int, want inspect.Pattern, timeout time.Duration) (string, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		out, changed := s.out.since(start)
		if want.MatchString(out) {
			return out, nil
		}
		select {
		case <-changed:
		case <-expired:
			return out, fmt.Errorf("%w: %s after %s", remote.ErrPatternTimeout, want, timeout)
		case <-ctx.Done():
			return out, ctx.Err()
		case <-s.exited:
			out, _ = s.out.since(start)
			if want.MatchString(out) {
				return out, nil
			}
			return out, remote.ErrSessionClosed
		}
	}
}

// Fetch implements remote.Session by streaming the file over a separate
// channel on the same connection.
func (s *Session) Fetch(ctx context.Context, remotePath, localPath string) error {
	if s.closed.Load() {
		return remote.ErrSessionClosed
	}
	fs, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open fetch channel: %w", err)
	}
	defer fs.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	var stderr bytes.Buffer
	fs.Stdout = f
	fs.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- fs.Run("cat -- " + shellQuote(remotePath)) }()
	select {
	case err = <-done:
	case <-ctx.Done():
		_ = fs.Signal(ssh.SIGKILL)
		_ = fs.Close()
		<-done
		err = ctx.Err()
	}

	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(localPath)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("failed to fetch %s: %w: %s", remotePath, err, msg)
		}
		return fmt.Errorf("failed to fetch %s: %w", remotePath, err)
	}
	return nil
}

// Close implements remote.Session. With a positive grace the shell is asked
// to exit first; whatever is still running afterwards is killed.
func (s *Session) Close(grace time.Duration) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if grace > 0 {
			_, _ = io.WriteString(s.stdin, "exit\n")
			_ = s.stdin.Close()
			select {
			case <-s.exited:
			case <-time.After(grace):
			}
		}
		select {
		case <-s.exited:
		default:
			_ = s.sess.Signal(ssh.SIGKILL)
		}
		_ = s.sess.Close()
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
