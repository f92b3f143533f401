// Package runner executes the steps of a single job instance. Steps run
// strictly sequentially; a step never starts before its predecessor has
// fully resolved, including retries. Concurrency exists only between
// instances, never inside one.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/pipewright/pipewright/internal/actions"
	"github.com/pipewright/pipewright/internal/condition"
	"github.com/pipewright/pipewright/internal/ctxlog"
	"github.com/pipewright/pipewright/internal/model"
	"github.com/pipewright/pipewright/internal/plan"
	"github.com/pipewright/pipewright/internal/report"
)

// StepError reports a step that exhausted its attempts and failed.
type StepError struct {
	Job      string
	Step     string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("job %q step %q failed after %d attempts: %v", e.Job, e.Step, e.Attempts, e.Err)
	}
	return fmt.Sprintf("job %q step %q failed: %v", e.Job, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// InstanceRunner executes job instances against a run context and an action
// registry. It is safe for concurrent use: all per-instance state lives in
// the instance itself.
type InstanceRunner struct {
	Registry *actions.Registry
	Context  *model.RunContext

	// DefaultTimeout bounds steps that declare no timeout of their own.
	// Zero means unbounded.
	DefaultTimeout time.Duration
}

// Run executes the instance's steps in order. It returns the first
// non-ignored step failure; the instance's step results are recorded either
// way. The caller owns the instance state transition.
func (r *InstanceRunner) Run(ctx context.Context, inst *plan.JobInstance) error {
	logger := ctxlog.FromContext(ctx).With("instance", inst.ID)
	scope := condition.Scope(r.Context, inst.Matrix, inst.NeedsStatuses())

	for _, step := range inst.Spec.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		logger.Debug("Starting step.", "step", step.Name)
		res, err := r.runStep(ctx, inst, step, scope)
		inst.AppendStep(res)

		if err != nil {
			if step.IgnoreFailure {
				logger.Warn("Step failed but is marked ignore_failure, continuing.",
					"step", step.Name, "error", err)
				continue
			}
			inst.SetReason(failureReason(res, err))
			return err
		}
		logger.Debug("Step finished.", "step", step.Name, "duration", res.Duration)
	}
	return nil
}

// runStep resolves the step's templates and executes it, honoring the retry
// policy. The returned StepResult reflects the final attempt.
func (r *InstanceRunner) runStep(ctx context.Context, inst *plan.JobInstance, step *model.StepSpec, scope *hcl.EvalContext) (report.StepResult, error) {
	res := report.StepResult{
		Name:    step.Name,
		Status:  report.StatusFailure,
		Ignored: step.IgnoreFailure,
	}
	started := time.Now()
	defer func() { res.Duration = time.Since(started) }()

	dir, err := condition.EvalString(step.Dir, scope)
	if err != nil {
		res.Output = err.Error()
		return res, &StepError{Job: inst.Spec.Name, Step: step.Name, Attempts: 1, Err: err}
	}
	stepEnv, err := condition.EvalStringMap(step.Env, scope)
	if err != nil {
		res.Output = err.Error()
		return res, &StepError{Job: inst.Spec.Name, Step: step.Name, Attempts: 1, Err: err}
	}
	env := r.mergedEnv(inst, stepEnv)

	attempts := 1
	policy := step.Retry
	if policy != nil {
		attempts = policy.Attempts
	}

	var (
		output   string
		exitCode int
		runErr   error
	)
	attempted := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		attempted = attempt
		output, exitCode, runErr = r.executeOnce(ctx, inst, step, scope, dir, env)
		if runErr == nil {
			break
		}
		if ctx.Err() != nil {
			// Cancellation is not retriable.
			runErr = ctx.Err()
			break
		}
		if attempt < attempts {
			if err := sleepBackoff(ctx, policy, attempt); err != nil {
				runErr = err
				break
			}
		}
	}

	res.Output = output
	res.ExitCode = exitCode
	if runErr != nil {
		return res, &StepError{Job: inst.Spec.Name, Step: step.Name, Attempts: attempted, Err: runErr}
	}
	res.Status = report.StatusSuccess
	return res, nil
}

// executeOnce performs one attempt of the step: a shell command for `run`
// steps, a registry dispatch for `uses` steps.
func (r *InstanceRunner) executeOnce(ctx context.Context, inst *plan.JobInstance, step *model.StepSpec, scope *hcl.EvalContext, dir string, env []string) (string, int, error) {
	timeout := step.Timeout
	if timeout == 0 {
		timeout = r.DefaultTimeout
	}
	stepCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if step.Uses != "" {
		return r.dispatchAction(stepCtx, step, scope, dir, env)
	}

	cmd, err := condition.EvalString(step.Run, scope)
	if err != nil {
		return err.Error(), -1, err
	}
	return runShell(stepCtx, cmd, dir, env, timeout)
}

// dispatchAction evaluates the `with` parameters and invokes the registered
// action function.
func (r *InstanceRunner) dispatchAction(ctx context.Context, step *model.StepSpec, scope *hcl.EvalContext, dir string, env []string) (string, int, error) {
	fn, ok := r.Registry.Lookup(step.Uses)
	if !ok {
		// Unreachable after plan compilation, but fail loudly if a caller
		// bypassed Compile.
		return "", -1, fmt.Errorf("action %q is not registered", step.Uses)
	}

	with, err := condition.EvalStringMap(step.With, scope)
	if err != nil {
		return err.Error(), -1, err
	}

	envMap := make(map[string]string, len(env))
	for _, kv := range env {
		if k, v, found := strings.Cut(kv, "="); found {
			envMap[k] = v
		}
	}

	out, err := fn(ctx, &actions.Input{With: with, Env: envMap, Dir: dir})
	if err != nil {
		return out, 1, err
	}
	return out, 0, nil
}

// runShell executes the command through `sh -c`, capturing combined output.
func runShell(ctx context.Context, command, dir string, env []string, timeout time.Duration) (string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = env

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := buf.String()
	if err == nil {
		return output, 0, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return output, -1, fmt.Errorf("step timed out after %s", timeout)
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		return output, code, fmt.Errorf("command exited with code %d", code)
	}
	return output, -1, err
}

// mergedEnv assembles the step's process environment: the host environment,
// the run context, the matrix binding, then the step's own env, later layers
// overriding earlier ones.
func (r *InstanceRunner) mergedEnv(inst *plan.JobInstance, stepEnv map[string]string) []string {
	env := os.Environ()
	env = append(env,
		"PIPEWRIGHT_EVENT="+string(r.Context.Event()),
		"PIPEWRIGHT_BRANCH="+r.Context.Branch(),
		"PIPEWRIGHT_SHA="+r.Context.SHA(),
	)
	if tb := r.Context.TargetBranch(); tb != "" {
		env = append(env, "PIPEWRIGHT_TARGET_BRANCH="+tb)
	}
	for _, axis := range inst.Spec.Matrix {
		env = append(env, fmt.Sprintf("MATRIX_%s=%s",
			strings.ToUpper(axis.Name), inst.Matrix[axis.Name]))
	}
	for k, v := range stepEnv {
		env = append(env, k+"="+v)
	}
	return env
}

// failureReason condenses a failed step into the report-facing explanation.
func failureReason(res report.StepResult, err error) string {
	out := strings.TrimSpace(res.Output)
	if out == "" {
		return err.Error()
	}
	const maxReason = 512
	if len(out) > maxReason {
		out = out[len(out)-maxReason:]
	}
	return fmt.Sprintf("step %q: %s", res.Name, out)
}
