// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package report writes the run summary as YAML next to the artifacts.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/specialistvlad/hilrunner/internal/ctxlog"
	"github.com/specialistvlad/hilrunner/internal/pipeline"
	"gopkg.in/yaml.v3"
)

// FileName is the report's name inside the artifacts directory.
const FileName = "report.yaml"

// Writer implements pipeline.Reporter.
type Writer struct {
	Dir string
}

var _ pipeline.Reporter = (*Writer)(nil)

// Path returns where the report is written.
func (w *Writer) Path() string { return filepath.Join(w.Dir, FileName) }

// Report implements pipeline.Reporter.
func (w *Writer) Report(ctx context.Context, s pipeline.Summary) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(w.Path(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	ctxlog.FromContext(ctx).Debug("Report written.", "path", w.Path())
	return nil
}

// Read loads a report written by Writer.
func Read(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return out, nil
}
