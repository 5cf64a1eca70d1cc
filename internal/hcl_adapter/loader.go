// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package hcl_adapter

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/hilrunner/internal/config"
	"github.com/specialistvlad/hilrunner/internal/ctxlog"
	"github.com/specialistvlad/hilrunner/internal/fsutil"
	"github.com/specialistvlad/hilrunner/internal/provision"
)

// DefaultNamePrefix is used when the experiment block sets no name_prefix.
const DefaultNamePrefix = "hil-"

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

var _ config.Loader = (*Loader)(nil)

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads a pipeline from a single .hcl file or from every .hcl file under
// a directory. Decoding happens in three passes so that later blocks can
// reference var.* and experiment.*.
func (l *Loader) Load(ctx context.Context, path string, opts config.Options) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path", path)

	files, err := l.findAllHCLFiles(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl files found at %s", path)
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	parser := hclparse.NewParser()
	parsed := make([]*hcl.File, 0, len(files))
	for _, file := range files {
		f, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		parsed = append(parsed, f)
	}
	body := hcl.MergeFiles(parsed)

	var vars variablesRoot
	if diags := gohcl.DecodeBody(body, nil, &vars); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode variables: %w", diags)
	}
	values, err := resolveVariables(ctx, vars.Variables, opts.Vars)
	if err != nil {
		return nil, err
	}

	var exp experimentRoot
	if diags := gohcl.DecodeBody(vars.Remain, varsContext(values), &exp); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode experiment: %w", diags)
	}
	if exp.Experiment == nil {
		return nil, fmt.Errorf("an experiment block is required")
	}
	req := provision.Request{
		Name:    opts.ExperimentName,
		Project: exp.Experiment.Project,
		Profile: exp.Experiment.Profile,
	}
	if req.Name == "" {
		prefix := exp.Experiment.NamePrefix
		if prefix == "" {
			prefix = DefaultNamePrefix
		}
		req.Name = provision.NewName(prefix)
	}

	var root pipelineRoot
	if diags := gohcl.DecodeBody(exp.Remain, pipelineContext(values, req), &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode pipeline: %w", diags)
	}

	model, err := translate(&root)
	if err != nil {
		return nil, err
	}
	model.Experiment = req
	model.Variables = stringValues(values)

	logger.Debug("HCL loading complete.",
		"experiment", req.Name,
		"roles", len(model.Roles),
		"variables", len(model.Variables),
	)
	return model, nil
}

// findAllHCLFiles returns path itself, or every .hcl file below it when path
// is a directory.
func (l *Loader) findAllHCLFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error accessing path %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	return fsutil.FindFilesByExtension(path, ".hcl")
}
