// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package config

import "context"

// Options are run-time inputs that a pipeline file can reference.
type Options struct {
	// ExperimentName overrides the generated name.
	ExperimentName string
	// Vars override variable defaults. They take precedence over
	// HILRUNNER_VAR_<NAME> environment variables.
	Vars map[string]string
}

// Loader is the interface for a format-specific pipeline loader.
type Loader interface {
	// Load reads the pipeline definition at path and translates it into the
	// format-agnostic model.
	Load(ctx context.Context, path string, opts Options) (*Model, error)
}
