package app

import (
	"context"
	"fmt"

	"github.com/pipewright/pipewright/internal/ctxlog"
	"github.com/pipewright/pipewright/internal/plan"
	"github.com/pipewright/pipewright/internal/report"
	"github.com/pipewright/pipewright/internal/runner"
	"github.com/pipewright/pipewright/internal/scheduler"
)

// Run executes the pipeline for the configured trigger and returns the run
// report. The report is returned even when the run failed; the error is
// non-nil only for configuration faults or internal errors.
func (a *App) Run(ctx context.Context) (*report.Run, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	var server *reportServer
	if a.config.ReportPort > 0 {
		server = a.startReportServer(a.config.ReportPort)
	}

	a.logger.Debug("Compiling execution plan...")
	p, err := plan.Compile(ctx, a.pipeline, a.runCtx, a.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to compile plan: %w", err)
	}
	a.logger.Info("Execution plan compiled.", "summary", p.Describe())

	if len(p.Instances) == 0 {
		a.logger.Warn("No job instances in plan, execution not required.")
		run := report.NewRun(string(a.runCtx.Event()), a.runCtx.Branch(), a.runCtx.SHA())
		run.Finalize()
		return run, nil
	}

	sched := &scheduler.Scheduler{
		Runner: &runner.InstanceRunner{
			Registry: a.registry,
			Context:  a.runCtx,
		},
		Gate:    a.gate,
		Workers: a.config.WorkerCount,
	}

	a.logger.Info("🚀 Starting concurrent execution...")
	run, err := sched.Execute(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("execution failed: %w", err)
	}
	a.logger.Info("🏁 Execution finished.", "status", run.Status)

	if server != nil {
		server.publish(run)
	}
	return run, nil
}
