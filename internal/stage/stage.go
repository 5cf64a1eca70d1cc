// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package stage

import (
	"path/filepath"

	"github.com/specialistvlad/hilrunner/internal/inspect"
	"github.com/specialistvlad/hilrunner/internal/remote"
)

// Task is the work one role performs.
type Task struct {
	Role     string
	Commands []remote.Command
	// RemoteLog is fetched into the artifact after the commands ran. When it
	// is empty, or the fetch fails, the session transcript is written instead.
	RemoteLog string
}

// Stage is a set of tasks run together and checked against one marker.
type Stage struct {
	Name   string
	Marker inspect.Pattern
	Tasks  []Task
}

// Result is the immutable outcome of one task.
type Result struct {
	Stage    string `yaml:"stage"`
	Role     string `yaml:"role"`
	Artifact string `yaml:"artifact"`
	// OK reports whether the command sequence ran to completion.
	OK bool `yaml:"ok"`
	// Verified reports whether the artifact contained the stage marker. It is
	// only set by a Group's inspection pass.
	Verified bool   `yaml:"verified"`
	Message  string `yaml:"message,omitempty"`
}

// Passed reports whether both checks hold.
func (r Result) Passed() bool { return r.OK && r.Verified }

// ArtifactName is the deterministic local file name for a stage and role.
func ArtifactName(stage, role string) string {
	return stage + "_" + role + ".log"
}

// ArtifactPath joins ArtifactName onto dir.
func ArtifactPath(dir, stage, role string) string {
	return filepath.Join(dir, ArtifactName(stage, role))
}
