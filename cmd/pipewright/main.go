package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pipewright/pipewright/internal/app"
	"github.com/pipewright/pipewright/internal/cli"
	"github.com/pipewright/pipewright/internal/report"
)

// main is the entrypoint for the pipewright application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error
// handling.
func run(outW io.Writer, args []string) error {
	appConfig, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	// Ctrl-C cancels the run; in-flight instances observe the context and
	// pending ones resolve cancelled.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipewrightApp, err := app.NewApp(outW, appConfig)
	if err != nil {
		return err
	}

	runReport, err := pipewrightApp.Run(ctx)
	if err != nil {
		return err
	}

	body, err := runReport.JSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(outW, string(body))

	switch runReport.Status {
	case report.StatusFailure:
		return &cli.ExitError{Code: 1, Message: "run failed"}
	case report.StatusCancelled:
		return &cli.ExitError{Code: 130, Message: "run cancelled"}
	}
	return nil
}
