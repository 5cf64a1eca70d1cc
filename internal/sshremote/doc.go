// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package sshremote implements remote.Dialer over SSH using
// golang.org/x/crypto/ssh.
//
// Each session runs one long-lived shell fed through stdin, so working
// directory and environment changes made by one command are visible to the
// next. Output from stdout and stderr is collected into a single buffer that
// command waits match against. A command without an expected pattern is
// followed by a unique marker echo and completes when the marker is read back.
package sshremote
