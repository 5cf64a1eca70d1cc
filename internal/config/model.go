// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package config

import (
	"github.com/specialistvlad/hilrunner/internal/bringup"
	"github.com/specialistvlad/hilrunner/internal/inspect"
	"github.com/specialistvlad/hilrunner/internal/pipeline"
	"github.com/specialistvlad/hilrunner/internal/provision"
	"github.com/specialistvlad/hilrunner/internal/remote"
	"github.com/specialistvlad/hilrunner/internal/sshremote"
	"github.com/specialistvlad/hilrunner/internal/stage"
)

// Provisioner kinds.
const (
	ProvisionerCommand = "command"
	ProvisionerStatic  = "static"
)

// Stage names the pipeline requires.
const (
	StageSetup = "setup"
	StageBuild = "build"
)

// Model is the unified representation of a pipeline definition.
type Model struct {
	Experiment provision.Request
	// Variables holds the resolved value of every declared variable, as text.
	Variables map[string]string
	// Roles maps role names to provider node names.
	Roles       map[string]string
	SSH         sshremote.Config
	Provisioner Provisioner
	Setup       stage.Stage
	Build       stage.Stage
	BringUp     bringup.Config
	Verify      Verify
	Probe       pipeline.Probe
}

// Provisioner selects and configures how hosts are obtained.
type Provisioner struct {
	Kind    string
	Command provision.CommandConfig
	Static  map[string]remote.Descriptor
}

// Verify is the association check run on the responder.
type Verify struct {
	Task      stage.Task
	Interface inspect.Pattern
	Address   inspect.Pattern
}
