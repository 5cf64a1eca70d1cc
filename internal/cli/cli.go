// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/specialistvlad/hilrunner/internal/app"
	"github.com/specialistvlad/hilrunner/internal/env"
)

// ExitUsage is the exit code for invalid arguments or configuration. It
// matches the not-started verdict: no experiment was touched.
const ExitUsage = 2

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// varsFlag collects repeated --var name=value flags.
type varsFlag map[string]string

func (v varsFlag) String() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+v[k])
	}
	return strings.Join(parts, ",")
}

func (v varsFlag) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	v[strings.TrimSpace(name)] = value
	return nil
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
// Defaults for the logging and artifact flags come from HILRUNNER_*
// environment variables.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("hilrunner", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
hilrunner - Provision a testbed experiment, build and bring up a radio link, and probe it.

Usage:
  hilrunner [options] [PIPELINE_PATH]

Arguments:
  PIPELINE_PATH
    Path to a single .hcl file or a directory containing .hcl files.

Exit codes:
  0  the pipeline succeeded
  1  a stage, the link bring-up or the probe failed
  2  the experiment could not be started, or the arguments are invalid

Options:
`)
		flagSet.PrintDefaults()
	}

	vars := varsFlag{}
	configFlag := flagSet.String("config", "", "Path to the pipeline file or directory.")
	cFlag := flagSet.String("c", "", "Path to the pipeline file or directory (shorthand).")
	artifactsFlag := flagSet.String("artifacts-dir", env.String("HILRUNNER_ARTIFACTS_DIR", "artifacts"), "Directory receiving one sub-directory of artifacts per run.")
	experimentFlag := flagSet.String("experiment-name", env.String("HILRUNNER_EXPERIMENT_NAME", ""), "Experiment name. Generated from the pipeline's name_prefix when empty.")
	flagSet.Var(vars, "var", "Set a pipeline variable as name=value. Repeatable.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", env.String("HILRUNNER_LOG_FORMAT", "text"), "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", env.String("HILRUNNER_LOG_LEVEL", "info"), "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *configFlag != "" {
		path = *configFlag
	} else if *cFlag != "" {
		path = *cFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Pipeline path determined.", "path", path)

	if path == "" {
		slog.Debug("No pipeline path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: ExitUsage, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: ExitUsage, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	var pipelineVars map[string]string
	if len(vars) > 0 {
		pipelineVars = vars
	}
	config, err := app.NewConfig(app.Config{
		ConfigPath:      path,
		ArtifactsDir:    *artifactsFlag,
		ExperimentName:  *experimentFlag,
		Vars:            pipelineVars,
		HealthcheckPort: *healthPortFlag,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
