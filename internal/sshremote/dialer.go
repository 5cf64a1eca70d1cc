// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package sshremote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/specialistvlad/hilrunner/internal/ctxlog"
	"github.com/specialistvlad/hilrunner/internal/remote"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config controls how sessions authenticate and connect.
type Config struct {
	// User is the login used when a descriptor carries none.
	User string
	// PrivateKeyPath selects key-file authentication. When empty the agent
	// at SSH_AUTH_SOCK is used.
	PrivateKeyPath string
	// KnownHostsPath defaults to ~/.ssh/known_hosts.
	KnownHostsPath string
	// Insecure skips host key verification entirely.
	Insecure bool
	// PTY requests a pseudo-terminal for the shell, for hosts whose sudo
	// configuration requires one.
	PTY bool

	DialTimeout       time.Duration
	MaxRetries        int
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 15 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialRetryDelay <= 0 {
		c.InitialRetryDelay = 2 * time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 30 * time.Second
	}
	return c
}

// retryDelay returns the backoff before retry number attempt (0-based):
// initial, 2x initial, 4x initial, capped at MaxRetryDelay.
func (c Config) retryDelay(attempt int) time.Duration {
	delay := c.InitialRetryDelay * time.Duration(1<<uint(attempt))
	if delay <= 0 || delay > c.MaxRetryDelay {
		delay = c.MaxRetryDelay
	}
	return delay
}

// Dialer opens SSH shell sessions.
type Dialer struct {
	cfg      Config
	auth     []ssh.AuthMethod
	hostKeys ssh.HostKeyCallback
}

var _ remote.Dialer = (*Dialer)(nil)

// NewDialer loads credentials and host keys once for all sessions.
func NewDialer(cfg Config) (*Dialer, error) {
	cfg = cfg.withDefaults()
	auth, err := authMethods(cfg.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	hostKeys, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}
	return &Dialer{cfg: cfg, auth: auth, hostKeys: hostKeys}, nil
}

func authMethods(keyPath string) ([]ssh.AuthMethod, error) {
	if keyPath != "" {
		info, err := os.Stat(keyPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("ssh key file not found: %s", keyPath)
			}
			return nil, fmt.Errorf("ssh key file error: %w", err)
		}
		if info.Mode().Perm()&0o077 != 0 {
			return nil, fmt.Errorf("ssh key file %s has insecure permissions %o (should be 0600 or stricter)", keyPath, info.Mode().Perm())
		}
		pem, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssh key %s: %w", keyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, errors.New("no ssh private key configured and SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ssh agent: %w", err)
	}
	return []ssh.AuthMethod{ssh.PublicKeysCallback(agent.NewClient(conn).Signers)}, nil
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.Insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := cfg.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts %s: %w", path, err)
	}
	return cb, nil
}

// Open dials the host, retrying transport failures with exponential backoff,
// and starts a shell on it.
func (d *Dialer) Open(ctx context.Context, desc remote.Descriptor) (remote.Session, error) {
	logger := ctxlog.FromContext(ctx).With("node", desc.Node, "addr", desc.Addr())

	user := desc.User
	if user == "" {
		user = d.cfg.User
	}
	clientCfg := &ssh.ClientConfig{
		User:            user,
		Auth:            d.auth,
		HostKeyCallback: d.hostKeys,
		Timeout:         d.cfg.DialTimeout,
	}

	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled after %d attempts: %w", attempt, ctx.Err())
		}

		conn, err := (&net.Dialer{Timeout: d.cfg.DialTimeout}).DialContext(ctx, "tcp", desc.Addr())
		if err != nil {
			lastErr = err
			if attempt == d.cfg.MaxRetries {
				break
			}
			delay := d.cfg.retryDelay(attempt)
			logger.Warn("SSH connection failed, retrying",
				"attempt", attempt+1,
				"max_retries", d.cfg.MaxRetries,
				"delay", delay,
				"error", err,
			)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
		}

		// Handshake failures (auth, host key) are not transient.
		c, chans, reqs, err := ssh.NewClientConn(conn, desc.Addr(), clientCfg)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("ssh handshake with %s failed: %w", desc, err)
		}
		client := ssh.NewClient(c, chans, reqs)
		s, err := startSession(client, d.cfg.PTY)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to start shell on %s: %w", desc, err)
		}
		logger.Debug("SSH session opened", "user", user)
		return s, nil
	}
	return nil, fmt.Errorf("failed to connect to %s after %d attempts: %w", desc, d.cfg.MaxRetries+1, lastErr)
}
