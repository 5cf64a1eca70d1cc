// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/specialistvlad/hilrunner/internal/archive"
	"github.com/specialistvlad/hilrunner/internal/config"
	"github.com/specialistvlad/hilrunner/internal/ctxlog"
	"github.com/specialistvlad/hilrunner/internal/pipeline"
	"github.com/specialistvlad/hilrunner/internal/provision"
	"github.com/specialistvlad/hilrunner/internal/remote"
	"github.com/specialistvlad/hilrunner/internal/sshremote"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config
	model  *config.Model

	dialer      remote.Dialer
	provisioner provision.Provisioner
	reporters   []pipeline.Reporter
	archive     *archive.Config
	wait        func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	ctx        context.Context
	pipeline   *pipeline.Pipeline
	httpServer *http.Server
}

// Option customises an App. Options exist so tests can replace the network
// facing collaborators.
type Option func(*App)

// WithDialer replaces the SSH dialer.
func WithDialer(d remote.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithProvisioner replaces the provisioner selected by the pipeline file.
func WithProvisioner(p provision.Provisioner) Option {
	return func(a *App) { a.provisioner = p }
}

// WithReporters adds reporters that run after the built-in ones.
func WithReporters(r ...pipeline.Reporter) Option {
	return func(a *App) { a.reporters = append(a.reporters, r...) }
}

// WithWait replaces the settle-delay wait of the bring-up loop.
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(a *App) { a.wait = wait }
}

// NewApp is the constructor for the main application. It loads the pipeline
// definition and prepares every collaborator that does not depend on a run.
func NewApp(outW io.Writer, appConfig *Config, loader config.Loader, opts ...Option) (*App, error) {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	a := &App{outW: outW, logger: logger, config: appConfig, ctx: ctx}
	for _, opt := range opts {
		opt(a)
	}

	model, err := loader.Load(ctx, appConfig.ConfigPath, config.Options{
		ExperimentName: appConfig.ExperimentName,
		Vars:           appConfig.Vars,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	a.model = model
	logger.Debug("Configuration loaded and translated into unified model.", "experiment", model.Experiment.Name)

	if a.dialer == nil {
		d, err := sshremote.NewDialer(model.SSH)
		if err != nil {
			return nil, fmt.Errorf("failed to configure ssh: %w", err)
		}
		a.dialer = d
	}

	if a.provisioner == nil {
		p, err := newProvisioner(model.Provisioner)
		if err != nil {
			return nil, err
		}
		a.provisioner = p
	}
	logger.Debug("Provisioner configured.", "kind", model.Provisioner.Kind)

	archiveCfg, enabled, err := archive.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to configure artifact archive: %w", err)
	}
	if enabled {
		a.archive = &archiveCfg
		logger.Debug("Artifact archive enabled.", "endpoint", archiveCfg.Endpoint, "bucket", archiveCfg.Bucket)
	}

	return a, nil
}

// Model returns the loaded pipeline definition. This is primarily for testing.
func (a *App) Model() *config.Model {
	return a.model
}

func newProvisioner(cfg config.Provisioner) (provision.Provisioner, error) {
	switch cfg.Kind {
	case config.ProvisionerCommand:
		p, err := provision.NewCommandProvisioner(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("failed to configure provisioner: %w", err)
		}
		return p, nil
	case config.ProvisionerStatic:
		return &provision.StaticProvisioner{Nodes: cfg.Static}, nil
	default:
		return nil, fmt.Errorf("unknown provisioner kind %q", cfg.Kind)
	}
}
