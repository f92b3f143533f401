// Package scheduler executes a compiled plan with bounded concurrency.
//
// The dispatcher keeps a ready list ordered by declaration index and admits
// instances through a worker semaphore, so two runs of the same definition
// with the same worker count start instances in the same order. Dependency
// resolution happens on the dispatcher goroutine only; workers just execute
// and report back on a channel, which keeps the graph bookkeeping free of
// locks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/pipewright/pipewright/internal/condition"
	"github.com/pipewright/pipewright/internal/ctxlog"
	"github.com/pipewright/pipewright/internal/gate"
	"github.com/pipewright/pipewright/internal/model"
	"github.com/pipewright/pipewright/internal/plan"
	"github.com/pipewright/pipewright/internal/report"
	"github.com/pipewright/pipewright/internal/runner"
)

// Scheduler drives plan execution.
type Scheduler struct {
	Runner *runner.InstanceRunner
	Gate   *gate.Gate
	// Workers bounds the number of concurrently running instances.
	Workers int
}

// Execute runs the plan to completion and returns the archived run report.
// The report is always returned, even when the run failed or was cancelled;
// the error is non-nil only for internal faults, never for job failures.
func (s *Scheduler) Execute(ctx context.Context, p *plan.Plan) (*report.Run, error) {
	logger := ctxlog.FromContext(ctx)
	workers := s.Workers
	if workers < 1 {
		workers = 1
	}
	logger.Info("▶️ Starting run.", "instances", len(p.Instances), "workers", workers)

	run := report.NewRun(string(p.Context.Event()), p.Context.Branch(), p.Context.SHA())

	var ready []*plan.JobInstance
	for _, inst := range p.Instances {
		if len(inst.Deps) == 0 {
			ready = append(ready, inst)
		}
	}
	sortByOrder(ready)

	done := make(chan *plan.JobInstance, len(p.Instances))
	sem := make(chan struct{}, workers)
	outstanding := 0
	cancelled := false

	finish := func(inst *plan.JobInstance) {
		ready = append(ready, s.resolveDependents(ctx, inst)...)
		sortByOrder(ready)
	}

	for len(ready) > 0 || outstanding > 0 {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
			s.cancelPending(p)
			ready = nil
		}

		// Resolve skips synchronously; they never occupy a worker.
		if len(ready) > 0 {
			next := ready[0]
			if next.State().Terminal() {
				ready = ready[1:]
				finish(next)
				continue
			}
			if next.PreSkipped {
				ready = ready[1:]
				next.SetState(plan.Skipped)
				next.SetReason("condition evaluated to false")
				logger.Info("Skipping instance, condition is false.", "instance", next.ID)
				finish(next)
				continue
			}

			select {
			case sem <- struct{}{}:
				ready = ready[1:]
				next.SetState(plan.Running)
				next.MarkStarted()
				outstanding++
				go func(inst *plan.JobInstance) {
					s.runInstance(ctx, p, inst)
					<-sem
					done <- inst
				}(next)
				continue
			case inst := <-done:
				outstanding--
				finish(inst)
				continue
			case <-ctx.Done():
				continue
			}
		}

		select {
		case inst := <-done:
			outstanding--
			finish(inst)
		case <-ctx.Done():
			// Loop back to mark pending instances cancelled; outstanding
			// workers observe the context themselves.
			if !cancelled {
				continue
			}
			inst := <-done
			outstanding--
			finish(inst)
		}
	}

	for _, inst := range p.Instances {
		run.Instances = append(run.Instances, inst.Archive())
	}
	run.Finalize()
	logger.Info("🏁 Run finished.", "status", run.Status)
	return run, nil
}

// runInstance executes one instance on a worker goroutine and settles its
// terminal state. Graph bookkeeping stays with the dispatcher.
func (s *Scheduler) runInstance(ctx context.Context, p *plan.Plan, inst *plan.JobInstance) {
	logger := ctxlog.FromContext(ctx).With("instance", inst.ID)
	defer inst.MarkFinished()

	var env *model.Environment
	if name := inst.Spec.Environment; name != "" {
		env, _ = p.Pipeline.Environment(name)
		// The promotion rule gates the whole instance: a mismatch skips it
		// before any step runs.
		if !env.AuthorizedBy(p.Context) {
			inst.SetState(plan.Skipped)
			inst.SetReason(fmt.Sprintf("promotion rule for environment %q does not match this run", name))
			logger.Info("Skipping instance, promotion rule does not match.")
			return
		}
	}

	if err := s.Runner.Run(ctx, inst); err != nil {
		s.settleFailure(ctx, inst, err)
		return
	}

	if env != nil {
		res, err := s.Gate.Promote(ctx, env, p.Context.SHA(), p.Context)
		if err != nil {
			s.settleFailure(ctx, inst, err)
			return
		}
		if res.Skipped {
			inst.SetState(plan.Skipped)
			inst.SetReason(res.Reason)
			return
		}
	}

	inst.SetState(plan.Success)
	logger.Info("✅ Instance succeeded.")
}

func (s *Scheduler) settleFailure(ctx context.Context, inst *plan.JobInstance, err error) {
	logger := ctxlog.FromContext(ctx).With("instance", inst.ID)
	if errors.Is(err, context.Canceled) {
		inst.SetState(plan.Cancelled)
		inst.SetReason("run cancelled")
		logger.Warn("Instance cancelled.")
		return
	}
	inst.RecordError(err)
	inst.SetState(plan.Failure)
	logger.Error("Instance failed.", "error", err)
}

// resolveDependents propagates one terminal instance to its dependents and
// returns those that became eligible to run.
func (s *Scheduler) resolveDependents(ctx context.Context, inst *plan.JobInstance) []*plan.JobInstance {
	logger := ctxlog.FromContext(ctx)
	var eligible []*plan.JobInstance

	for _, dep := range inst.Dependents {
		if dep.DecrementDepCount() != 0 {
			continue
		}
		if dep.State().Terminal() {
			continue
		}

		// All dependencies are terminal now; decide run vs skip.
		if dep.DeferredCondition {
			ok, err := condition.Evaluate(dep.Spec.Condition,
				condition.Scope(s.Runner.Context, dep.Matrix, dep.NeedsStatuses()))
			if err != nil {
				dep.RecordError(err)
				dep.SetState(plan.Failure)
				eligible = append(eligible, dep)
				continue
			}
			if !ok {
				dep.SetState(plan.Skipped)
				dep.SetReason("condition evaluated to false")
				logger.Info("Skipping instance, deferred condition is false.", "instance", dep.ID)
				eligible = append(eligible, dep)
				continue
			}
			eligible = append(eligible, dep)
			continue
		}

		if bad := firstUnsuccessfulDep(dep); bad != nil {
			dep.SetState(plan.Skipped)
			dep.SetReason(fmt.Sprintf("dependency %q resolved %s", bad.ID, bad.State()))
			logger.Info("Skipping instance, dependency did not succeed.",
				"instance", dep.ID, "dependency", bad.ID)
		}
		eligible = append(eligible, dep)
	}

	sortByOrder(eligible)
	return eligible
}

// firstUnsuccessfulDep returns the lowest-order dependency that did not
// succeed, or nil when all succeeded. Deterministic so skip reasons are
// stable across runs.
func firstUnsuccessfulDep(inst *plan.JobInstance) *plan.JobInstance {
	var bad *plan.JobInstance
	for _, dep := range inst.Deps {
		if dep.State() == plan.Success {
			continue
		}
		if bad == nil || dep.Order < bad.Order {
			bad = dep
		}
	}
	return bad
}

// cancelPending marks every instance that has not started as cancelled.
func (s *Scheduler) cancelPending(p *plan.Plan) {
	for _, inst := range p.Instances {
		if inst.State() == plan.Pending {
			if inst.SetState(plan.Cancelled) {
				inst.SetReason("run cancelled")
			}
		}
	}
}

func sortByOrder(instances []*plan.JobInstance) {
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Order < instances[j].Order
	})
}
