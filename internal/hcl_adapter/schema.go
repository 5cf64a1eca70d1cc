// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package hcl_adapter

import "github.com/hashicorp/hcl/v2"

// variablesRoot is decoded first, without an evaluation context.
type variablesRoot struct {
	Variables []*Variable `hcl:"variable,block"`
	Remain    hcl.Body    `hcl:",remain"`
}

// Variable is a `variable "name" {}` block.
type Variable struct {
	Name        string         `hcl:"name,label"`
	Type        hcl.Expression `hcl:"type,optional"`
	Default     hcl.Expression `hcl:"default,optional"`
	Description string         `hcl:"description,optional"`
}

// experimentRoot is decoded second, with only `var` in scope.
type experimentRoot struct {
	Experiment *Experiment `hcl:"experiment,block"`
	Remain     hcl.Body    `hcl:",remain"`
}

// Experiment is the `experiment {}` block.
type Experiment struct {
	Project    string `hcl:"project"`
	Profile    string `hcl:"profile"`
	NamePrefix string `hcl:"name_prefix,optional"`
}

// pipelineRoot holds everything else, decoded with `var` and `experiment` in
// scope.
type pipelineRoot struct {
	Roles       []*Role      `hcl:"role,block"`
	SSH         *SSH         `hcl:"ssh,block"`
	Provisioner *Provisioner `hcl:"provisioner,block"`
	Stages      []*Stage     `hcl:"stage,block"`
	BringUp     *BringUp     `hcl:"bringup,block"`
	Probe       *Probe       `hcl:"probe,block"`
}

// Role is a `role "nodeA" { node = "enb1" }` block.
type Role struct {
	Name string `hcl:"name,label"`
	Node string `hcl:"node"`
}

// SSH is the `ssh {}` block.
type SSH struct {
	User        string `hcl:"user,optional"`
	PrivateKey  string `hcl:"private_key,optional"`
	KnownHosts  string `hcl:"known_hosts,optional"`
	Insecure    bool   `hcl:"insecure,optional"`
	PTY         bool   `hcl:"pty,optional"`
	DialTimeout string `hcl:"dial_timeout,optional"`
	Retries     *int   `hcl:"retries,optional"`
}

// Provisioner is a `provisioner "command" {}` or `provisioner "static" {}` block.
type Provisioner struct {
	Kind         string   `hcl:"kind,label"`
	Start        []string `hcl:"start,optional"`
	Status       []string `hcl:"status,optional"`
	Terminate    []string `hcl:"terminate,optional"`
	PollInterval string   `hcl:"poll_interval,optional"`
	WaitTimeout  string   `hcl:"wait_timeout,optional"`
	Nodes        []*Node  `hcl:"node,block"`
}

// Node is a fixed host inside a static provisioner.
type Node struct {
	Name string `hcl:"name,label"`
	Host string `hcl:"host"`
	Port int    `hcl:"port,optional"`
	User string `hcl:"user,optional"`
}

// Command is a `command {}` block inside a task.
type Command struct {
	Run         string `hcl:"run"`
	Expect      string `hcl:"expect,optional"`
	ExpectRegex string `hcl:"expect_regex,optional"`
	Timeout     string `hcl:"timeout,optional"`
}

// Task is the work of one role, labelled by the role name.
type Task struct {
	Role      string     `hcl:"role,label"`
	RemoteLog string     `hcl:"remote_log,optional"`
	Commands  []*Command `hcl:"command,block"`
}

// Stage is a `stage "setup" {}` block.
type Stage struct {
	Name          string  `hcl:"name,label"`
	SuccessMarker string  `hcl:"success_marker,optional"`
	SuccessRegex  string  `hcl:"success_regex,optional"`
	Tasks         []*Task `hcl:"task,block"`
}

// BringUp is the `bringup {}` block.
type BringUp struct {
	MaxAttempts     *int    `hcl:"max_attempts,optional"`
	InitiatorSettle string  `hcl:"initiator_settle,optional"`
	ResponderSettle string  `hcl:"responder_settle,optional"`
	Initiator       *Task   `hcl:"initiator,block"`
	Responder       *Task   `hcl:"responder,block"`
	Verify          *Verify `hcl:"verify,block"`
	Teardown        []*Task `hcl:"teardown,block"`
}

// Verify is the association check, labelled by the role it runs on.
type Verify struct {
	Role      string     `hcl:"role,label"`
	Interface string     `hcl:"interface"`
	Address   string     `hcl:"address"`
	RemoteLog string     `hcl:"remote_log,optional"`
	Commands  []*Command `hcl:"command,block"`
}

// Probe is the `probe "nodeB" {}` block.
type Probe struct {
	Role          string     `hcl:"role,label"`
	FailureMarker string     `hcl:"failure_marker"`
	RemoteLog     string     `hcl:"remote_log,optional"`
	Commands      []*Command `hcl:"command,block"`
}
