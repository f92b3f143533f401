package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/pipewright/pipewright/internal/actions"
	"github.com/pipewright/pipewright/internal/ctxlog"
	"github.com/pipewright/pipewright/internal/gate"
	"github.com/pipewright/pipewright/internal/model"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	pipeline *model.Pipeline
	runCtx   *model.RunContext
	registry *actions.Registry
	gate     *gate.Gate
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and action
// registry, or an error when the pipeline definition or trigger is invalid.
func NewApp(outW io.Writer, config *Config, modules ...actions.Module) (*App, error) {
	logger := newLogger(config.LogLevel, config.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	pipeline, err := model.LoadPipeline(ctx, config.PipelinePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline definition: %w", err)
	}
	logger.Debug("Pipeline definition loaded.",
		"jobs", len(pipeline.Jobs), "environments", len(pipeline.Environments))

	runCtx, err := model.NewRunContext(
		model.EventKind(config.Event), config.Branch, config.TargetBranch,
		config.SHA, config.Inputs)
	if err != nil {
		return nil, fmt.Errorf("invalid run trigger: %w", err)
	}

	reg := actions.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All action modules registered.", "count", len(modules))

	return &App{
		outW:     outW,
		logger:   logger,
		config:   config,
		pipeline: pipeline,
		runCtx:   runCtx,
		registry: reg,
		gate:     gate.New(),
	}, nil
}

// Registry returns the application's action registry. This is primarily for
// testing.
func (a *App) Registry() *actions.Registry {
	return a.registry
}

// Gate returns the application's environment gate, so tests can substitute
// the deployer.
func (a *App) Gate() *gate.Gate {
	return a.gate
}
