// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package stage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/specialistvlad/hilrunner/internal/ctxlog"
	"github.com/specialistvlad/hilrunner/internal/remote"
)

// HostResolver maps a role to an open-able host. provision.Handle satisfies it
// and refuses roles while the experiment is not usable.
type HostResolver interface {
	Host(role string) (remote.Descriptor, error)
}

// DefaultCloseGrace is how long a finished session may take to exit.
const DefaultCloseGrace = 5 * time.Second

// Runner executes tasks over remote sessions.
type Runner struct {
	Hosts        HostResolver
	Dialer       remote.Dialer
	ArtifactsDir string
	CloseGrace   time.Duration
}

func (r *Runner) closeGrace() time.Duration {
	if r.CloseGrace > 0 {
		return r.CloseGrace
	}
	return DefaultCloseGrace
}

// transcript collects what the session printed, for the fallback artifact.
// Command lines and errors stay out of it so that an inspected artifact only
// ever matches on host output.
type transcript struct {
	b strings.Builder
}

func (t *transcript) add(out string) {
	if out == "" {
		return
	}
	t.b.WriteString(out)
	if !strings.HasSuffix(out, "\n") {
		t.b.WriteByte('\n')
	}
}

// Run executes task as part of stage and blocks until its command sequence
// finishes or fails. A failing command stops the sequence; the artifact is
// still written.
func (r *Runner) Run(ctx context.Context, stage string, task Task) Result {
	ctx = ctxlog.With(ctx, "stage", stage, "role", task.Role)
	logger := ctxlog.FromContext(ctx)
	res := Result{Stage: stage, Role: task.Role, Artifact: ArtifactPath(r.ArtifactsDir, stage, task.Role)}
	var tr transcript

	logger.Info("▶️ Starting stage task", "commands", len(task.Commands))
	start := time.Now()

	sess, err := r.open(ctx, task.Role)
	if err != nil {
		res.Message = err.Error()
		r.writeTranscript(ctx, res.Artifact, &tr)
		logger.Error("Stage task could not start", "error", err)
		return res
	}

	res.OK, res.Message = r.execAll(ctx, sess, task, &tr)
	r.collect(ctx, sess, task.RemoteLog, res.Artifact, &tr)
	if err := sess.Close(r.closeGrace()); err != nil {
		logger.Warn("Failed to close session", "error", err)
	}

	if res.OK {
		logger.Info("✅ Finished stage task", "duration", time.Since(start), "artifact", res.Artifact)
	} else {
		logger.Error("Stage task failed", "duration", time.Since(start), "reason", res.Message, "artifact", res.Artifact)
	}
	return res
}

func (r *Runner) open(ctx context.Context, role string) (remote.Session, error) {
	host, err := r.Hosts.Host(role)
	if err != nil {
		return nil, fmt.Errorf("no host for role %s: %w", role, err)
	}
	sess, err := r.Dialer.Open(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("failed to open session to %s: %w", host, err)
	}
	return sess, nil
}

func (r *Runner) execAll(ctx context.Context, sess remote.Session, task Task, tr *transcript) (bool, string) {
	for i, cmd := range task.Commands {
		if ok, msg := r.exec(ctx, sess, i, cmd, tr); !ok {
			return false, msg
		}
	}
	return true, ""
}

func (r *Runner) exec(ctx context.Context, sess remote.Session, i int, cmd remote.Command, tr *transcript) (bool, string) {
	ctxlog.FromContext(ctx).Debug("Running command", "index", i, "line", cmd.Line, "expect", cmd.Expect.String())
	out, err := sess.Exec(ctx, cmd)
	tr.add(out)
	if err != nil {
		return false, fmt.Sprintf("command %d (%s): %v", i, cmd.Line, err)
	}
	return true, ""
}

// collect writes the artifact from the remote log, or the transcript when
// there is no remote log to fetch.
func (r *Runner) collect(ctx context.Context, sess remote.Session, remoteLog, artifact string, tr *transcript) {
	if remoteLog == "" {
		r.writeTranscript(ctx, artifact, tr)
		return
	}
	logger := ctxlog.FromContext(ctx)
	// A cancelled run still gets its log.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	if err := sess.Fetch(fctx, remoteLog, artifact); err != nil {
		logger.Warn("Failed to fetch remote log, keeping transcript", "remote_log", remoteLog, "error", err)
		r.writeTranscript(ctx, artifact, tr)
	}
}

func (r *Runner) writeTranscript(ctx context.Context, artifact string, tr *transcript) {
	if err := os.WriteFile(artifact, []byte(tr.b.String()), 0o644); err != nil {
		ctxlog.FromContext(ctx).Error("Failed to write artifact", "artifact", artifact, "error", err)
	}
}
