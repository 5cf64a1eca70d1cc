// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/specialistvlad/hilrunner/internal/app"
	"github.com/specialistvlad/hilrunner/internal/cli"
	"github.com/specialistvlad/hilrunner/internal/hcl_adapter"
	"github.com/specialistvlad/hilrunner/internal/pipeline"
)

// main is the entrypoint for the hilrunner application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdout, os.Args[1:])
	stop()

	if err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error
// handling. A verdict other than success is returned as an ExitError carrying
// the verdict's exit code.
func run(ctx context.Context, outW io.Writer, args []string) error {
	appConfig, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	hilApp, err := app.NewApp(outW, appConfig, hcl_adapter.NewLoader())
	if err != nil {
		return &cli.ExitError{Code: cli.ExitUsage, Message: err.Error()}
	}

	summary, err := hilApp.Run(ctx)
	if err != nil {
		return &cli.ExitError{Code: pipeline.VerdictNotStarted.ExitCode(), Message: err.Error()}
	}
	if summary.Verdict != pipeline.VerdictSucceeded {
		msg := fmt.Sprintf("pipeline %s", summary.Verdict)
		if summary.Err != nil {
			msg = fmt.Sprintf("%s: %v", msg, summary.Err)
		}
		return &cli.ExitError{Code: summary.Verdict.ExitCode(), Message: msg}
	}
	return nil
}
