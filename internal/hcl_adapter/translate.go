// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package hcl_adapter

import (
	"fmt"
	"maps"
	"slices"

	"github.com/specialistvlad/hilrunner/internal/bringup"
	"github.com/specialistvlad/hilrunner/internal/config"
	"github.com/specialistvlad/hilrunner/internal/inspect"
	"github.com/specialistvlad/hilrunner/internal/provision"
	"github.com/specialistvlad/hilrunner/internal/remote"
	"github.com/specialistvlad/hilrunner/internal/sshremote"
	"github.com/specialistvlad/hilrunner/internal/stage"
)

// translate converts the decoded HCL structs into the format-agnostic model
// and validates cross references between blocks.
func translate(root *pipelineRoot) (*config.Model, error) {
	model := &config.Model{}

	roles, err := translateRoles(root.Roles)
	if err != nil {
		return nil, err
	}
	model.Roles = roles

	if root.SSH != nil {
		if model.SSH, err = translateSSH(root.SSH); err != nil {
			return nil, err
		}
	}

	if root.Provisioner == nil {
		return nil, fmt.Errorf("a provisioner block is required")
	}
	if model.Provisioner, err = translateProvisioner(root.Provisioner, roles); err != nil {
		return nil, err
	}

	stages := map[string]stage.Stage{}
	for _, s := range root.Stages {
		if _, dup := stages[s.Name]; dup {
			return nil, fmt.Errorf("stage %q is declared more than once", s.Name)
		}
		st, err := translateStage(s, roles)
		if err != nil {
			return nil, err
		}
		stages[s.Name] = st
	}
	for name := range stages {
		if name != config.StageSetup && name != config.StageBuild {
			return nil, fmt.Errorf("unknown stage %q, expected %q or %q", name, config.StageSetup, config.StageBuild)
		}
	}
	for _, name := range []string{config.StageSetup, config.StageBuild} {
		if _, ok := stages[name]; !ok {
			return nil, fmt.Errorf("stage %q is required", name)
		}
	}
	model.Setup = stages[config.StageSetup]
	model.Build = stages[config.StageBuild]

	if root.BringUp == nil {
		return nil, fmt.Errorf("a bringup block is required")
	}
	if model.BringUp, model.Verify, err = translateBringUp(root.BringUp, roles); err != nil {
		return nil, err
	}

	if root.Probe == nil {
		return nil, fmt.Errorf("a probe block is required")
	}
	if model.Probe.Task, err = translateTask("probe", root.Probe.Role, root.Probe.RemoteLog, root.Probe.Commands, roles); err != nil {
		return nil, err
	}
	if root.Probe.FailureMarker == "" {
		return nil, fmt.Errorf("probe: failure_marker must not be empty")
	}
	model.Probe.FailureMarker = inspect.Literal(root.Probe.FailureMarker)

	return model, nil
}

func translateRoles(in []*Role) (map[string]string, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("at least one role block is required")
	}
	roles := make(map[string]string, len(in))
	nodes := make(map[string]string, len(in))
	for _, r := range in {
		if _, dup := roles[r.Name]; dup {
			return nil, fmt.Errorf("role %q is declared more than once", r.Name)
		}
		if r.Node == "" {
			return nil, fmt.Errorf("role %q: node must not be empty", r.Name)
		}
		if other, dup := nodes[r.Node]; dup {
			return nil, fmt.Errorf("roles %q and %q both use node %q", other, r.Name, r.Node)
		}
		roles[r.Name] = r.Node
		nodes[r.Node] = r.Name
	}
	return roles, nil
}

func translateSSH(in *SSH) (sshremote.Config, error) {
	cfg := sshremote.Config{
		User:           in.User,
		PrivateKeyPath: in.PrivateKey,
		KnownHostsPath: in.KnownHosts,
		Insecure:       in.Insecure,
		PTY:            in.PTY,
	}
	var err error
	if cfg.DialTimeout, err = parseDuration("ssh", "dial_timeout", in.DialTimeout, 0); err != nil {
		return cfg, err
	}
	if in.Retries != nil {
		if *in.Retries < 0 {
			return cfg, fmt.Errorf("ssh: retries must not be negative")
		}
		cfg.MaxRetries = *in.Retries
	}
	return cfg, nil
}

func translateProvisioner(in *Provisioner, roles map[string]string) (config.Provisioner, error) {
	out := config.Provisioner{Kind: in.Kind}
	var err error
	switch in.Kind {
	case config.ProvisionerCommand:
		if len(in.Nodes) > 0 {
			return out, fmt.Errorf("provisioner %q: node blocks are only valid for %q", in.Kind, config.ProvisionerStatic)
		}
		out.Command = provision.CommandConfig{
			Start:     in.Start,
			Status:    in.Status,
			Terminate: in.Terminate,
		}
		if len(in.Start) == 0 || len(in.Status) == 0 || len(in.Terminate) == 0 {
			return out, fmt.Errorf("provisioner %q: start, status and terminate are required", in.Kind)
		}
		if out.Command.PollInterval, err = parseDuration("provisioner", "poll_interval", in.PollInterval, 0); err != nil {
			return out, err
		}
		if out.Command.WaitTimeout, err = parseDuration("provisioner", "wait_timeout", in.WaitTimeout, 0); err != nil {
			return out, err
		}
	case config.ProvisionerStatic:
		out.Static = make(map[string]remote.Descriptor, len(in.Nodes))
		for _, n := range in.Nodes {
			if _, dup := out.Static[n.Name]; dup {
				return out, fmt.Errorf("provisioner %q: node %q is declared more than once", in.Kind, n.Name)
			}
			if n.Host == "" {
				return out, fmt.Errorf("provisioner %q: node %q has no host", in.Kind, n.Name)
			}
			out.Static[n.Name] = remote.Descriptor{Node: n.Name, Host: n.Host, Port: n.Port, User: n.User}
		}
		for role, node := range roles {
			if _, ok := out.Static[node]; !ok {
				return out, fmt.Errorf("provisioner %q: no node %q for role %q", in.Kind, node, role)
			}
		}
	default:
		return out, fmt.Errorf("unknown provisioner kind %q, expected %q or %q", in.Kind, config.ProvisionerCommand, config.ProvisionerStatic)
	}
	return out, nil
}

func translateStage(in *Stage, roles map[string]string) (stage.Stage, error) {
	where := fmt.Sprintf("stage %q", in.Name)
	marker, err := parsePattern(where, "success_marker", in.SuccessMarker, "success_regex", in.SuccessRegex)
	if err != nil {
		return stage.Stage{}, err
	}
	if marker.IsZero() {
		return stage.Stage{}, fmt.Errorf("%s: one of success_marker or success_regex is required", where)
	}
	out := stage.Stage{Name: in.Name, Marker: marker}
	seen := map[string]bool{}
	for _, t := range in.Tasks {
		if seen[t.Role] {
			return stage.Stage{}, fmt.Errorf("%s: more than one task for role %q", where, t.Role)
		}
		seen[t.Role] = true
		task, err := translateTask(where, t.Role, t.RemoteLog, t.Commands, roles)
		if err != nil {
			return stage.Stage{}, err
		}
		out.Tasks = append(out.Tasks, task)
	}
	for _, role := range slices.Sorted(maps.Keys(roles)) {
		if !seen[role] {
			return stage.Stage{}, fmt.Errorf("%s: no task for role %q", where, role)
		}
	}
	return out, nil
}

func translateBringUp(in *BringUp, roles map[string]string) (bringup.Config, config.Verify, error) {
	var (
		cfg    bringup.Config
		verify config.Verify
		err    error
	)
	if in.MaxAttempts != nil {
		if *in.MaxAttempts < 1 {
			return cfg, verify, fmt.Errorf("bringup: max_attempts must be at least 1")
		}
		cfg.MaxAttempts = *in.MaxAttempts
	}
	if cfg.InitiatorSettle, err = parseDuration("bringup", "initiator_settle", in.InitiatorSettle, 0); err != nil {
		return cfg, verify, err
	}
	if cfg.ResponderSettle, err = parseDuration("bringup", "responder_settle", in.ResponderSettle, 0); err != nil {
		return cfg, verify, err
	}

	if in.Initiator == nil || in.Responder == nil {
		return cfg, verify, fmt.Errorf("bringup: initiator and responder blocks are required")
	}
	if in.Initiator.Role == in.Responder.Role {
		return cfg, verify, fmt.Errorf("bringup: initiator and responder must run on different roles")
	}
	if cfg.Initiator, err = translateTask("bringup initiator", in.Initiator.Role, in.Initiator.RemoteLog, in.Initiator.Commands, roles); err != nil {
		return cfg, verify, err
	}
	if cfg.Responder, err = translateTask("bringup responder", in.Responder.Role, in.Responder.RemoteLog, in.Responder.Commands, roles); err != nil {
		return cfg, verify, err
	}
	for _, t := range in.Teardown {
		task, err := translateTask("bringup teardown", t.Role, t.RemoteLog, t.Commands, roles)
		if err != nil {
			return cfg, verify, err
		}
		cfg.Teardown = append(cfg.Teardown, task)
	}

	if in.Verify == nil {
		return cfg, verify, fmt.Errorf("bringup: a verify block is required")
	}
	v := in.Verify
	if verify.Task, err = translateTask("bringup verify", v.Role, v.RemoteLog, v.Commands, roles); err != nil {
		return cfg, verify, err
	}
	if v.Interface == "" || v.Address == "" {
		return cfg, verify, fmt.Errorf("bringup verify: interface and address must not be empty")
	}
	verify.Interface = inspect.Literal(v.Interface)
	verify.Address = inspect.Literal(v.Address)
	return cfg, verify, nil
}

func translateTask(where, role, remoteLog string, commands []*Command, roles map[string]string) (stage.Task, error) {
	if _, ok := roles[role]; !ok {
		return stage.Task{}, fmt.Errorf("%s: unknown role %q", where, role)
	}
	where = fmt.Sprintf("%s task %q", where, role)
	if len(commands) == 0 {
		return stage.Task{}, fmt.Errorf("%s: at least one command is required", where)
	}
	task := stage.Task{Role: role, RemoteLog: remoteLog}
	for i, c := range commands {
		cmd, err := translateCommand(fmt.Sprintf("%s command %d", where, i+1), c)
		if err != nil {
			return stage.Task{}, err
		}
		task.Commands = append(task.Commands, cmd)
	}
	return task, nil
}

func translateCommand(where string, in *Command) (remote.Command, error) {
	if in.Run == "" {
		return remote.Command{}, fmt.Errorf("%s: run must not be empty", where)
	}
	expect, err := parsePattern(where, "expect", in.Expect, "expect_regex", in.ExpectRegex)
	if err != nil {
		return remote.Command{}, err
	}
	timeout, err := parseDuration(where, "timeout", in.Timeout, 0)
	if err != nil {
		return remote.Command{}, err
	}
	return remote.Command{Line: in.Run, Expect: expect, Timeout: timeout}, nil
}
