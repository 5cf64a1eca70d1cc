// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package stage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/specialistvlad/hilrunner/internal/ctxlog"
	"github.com/specialistvlad/hilrunner/internal/remote"
)

// Background is a task whose last command keeps running until it is stopped,
// such as a radio softmodem.
type Background struct {
	r     *Runner
	ctx   context.Context
	stage string
	task  Task
	sess  remote.Session
	tr    transcript

	done     chan struct{}
	ok       bool
	message  string
	stopOnce sync.Once
	result   Result
}

// Start opens a session for task, runs every command but the last to
// completion and returns once the last one has been sent to the host. That
// command keeps running until Stop. A failing leading command ends the task:
// its artifact is collected and the error returned, as when the session
// cannot be opened.
func (r *Runner) Start(ctx context.Context, stage string, task Task) (*Background, error) {
	ctx = ctxlog.With(ctx, "stage", stage, "role", task.Role)
	logger := ctxlog.FromContext(ctx)
	artifact := ArtifactPath(r.ArtifactsDir, stage, task.Role)

	sess, err := r.open(ctx, task.Role)
	if err != nil {
		r.writeTranscript(ctx, artifact, &transcript{})
		return nil, err
	}

	b := &Background{r: r, ctx: ctx, stage: stage, task: task, sess: sess, done: make(chan struct{})}
	logger.Info("▶️ Starting background task", "commands", len(task.Commands))
	if len(task.Commands) == 0 {
		b.ok = true
		close(b.done)
		return b, nil
	}

	last := len(task.Commands) - 1
	for i, cmd := range task.Commands[:last] {
		if ok, msg := r.exec(ctx, sess, i, cmd, &b.tr); !ok {
			logger.Error("Background task could not start", "reason", msg)
			r.collect(ctx, sess, task.RemoteLog, artifact, &b.tr)
			if err := sess.Close(r.closeGrace()); err != nil {
				logger.Warn("Failed to close session", "error", err)
			}
			return nil, errors.New(msg)
		}
	}

	sent := make(chan struct{})
	var sentOnce sync.Once
	cmd := task.Commands[last]
	next := cmd.OnSent
	cmd.OnSent = func() {
		if next != nil {
			next()
		}
		sentOnce.Do(func() { close(sent) })
	}
	go func() {
		defer close(b.done)
		b.ok, b.message = r.exec(ctx, sess, last, cmd, &b.tr)
	}()

	// A command that fails before it is sent ends the goroutine instead.
	select {
	case <-sent:
	case <-b.done:
	case <-ctx.Done():
	}
	return b, nil
}

// Role returns the role the task runs on.
func (b *Background) Role() string { return b.task.Role }

// Done is closed once the command sequence returned on its own or was killed.
func (b *Background) Done() <-chan struct{} { return b.done }

// Stop kills the session without grace, waits for the command sequence to
// unwind and collects the artifact over a fresh session. It is safe to call
// more than once; later calls return the first result.
func (b *Background) Stop() Result {
	b.stopOnce.Do(func() {
		logger := ctxlog.FromContext(b.ctx)
		exited := false
		select {
		case <-b.done:
			exited = true
		default:
		}

		logger.Info("🔥 Killing background task")
		if err := b.sess.Close(0); err != nil {
			logger.Warn("Failed to close session", "error", err)
		}
		<-b.done

		res := Result{Stage: b.stage, Role: b.task.Role, Artifact: ArtifactPath(b.r.ArtifactsDir, b.stage, b.task.Role)}
		// Still running when stopped is the expected outcome.
		res.OK = !exited
		if exited {
			res.Message = "exited before it was stopped: " + b.message
			if b.ok {
				res.Message = "exited before it was stopped"
			}
		}
		b.collectFresh(&res)
		b.result = res
	})
	return b.result
}

// collectFresh re-opens the host to fetch the remote log, since the task's own
// session is already gone.
func (b *Background) collectFresh(res *Result) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(b.ctx), time.Minute)
	defer cancel()
	if b.task.RemoteLog == "" {
		b.r.writeTranscript(ctx, res.Artifact, &b.tr)
		return
	}
	sess, err := b.r.open(ctx, b.task.Role)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to reopen session for fetch, keeping transcript", "error", err)
		b.r.writeTranscript(ctx, res.Artifact, &b.tr)
		return
	}
	b.r.collect(ctx, sess, b.task.RemoteLog, res.Artifact, &b.tr)
	_ = sess.Close(b.r.closeGrace())
}
