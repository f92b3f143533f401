package plan

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pipewright/pipewright/internal/model"
	"github.com/pipewright/pipewright/internal/report"
)

// Status is the execution state of a JobInstance. Transitions only move
// forward: pending → skipped | cancelled | running → success | failure.
type Status int32

const (
	Pending Status = iota
	Running
	Success
	Failure
	Skipped
	Cancelled
)

// String returns the report-facing name of the status.
func (s Status) String() string {
	switch s {
	case Pending:
		return string(report.StatusPending)
	case Running:
		return string(report.StatusRunning)
	case Success:
		return string(report.StatusSuccess)
	case Failure:
		return string(report.StatusFailure)
	case Skipped:
		return string(report.StatusSkipped)
	case Cancelled:
		return string(report.StatusCancelled)
	}
	return "unknown"
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case Success, Failure, Skipped, Cancelled:
		return true
	}
	return false
}

// JobInstance is one concrete, schedulable expansion of a JobSpec after
// matrix fan-out. Instances of the same spec are fully independent: failure
// of one never cancels its siblings.
type JobInstance struct {
	// ID is the unique identifier, e.g. "build[component=frontend]".
	ID string
	// Order is the stable declaration index used as the scheduling
	// tie-break among simultaneously eligible instances.
	Order int

	Spec   *model.JobSpec
	Matrix map[string]string

	// Deps and Dependents are resolved graph edges, keyed by instance ID.
	Deps       map[string]*JobInstance
	Dependents map[string]*JobInstance

	// depCount tracks unresolved dependencies; an instance becomes eligible
	// when it reaches zero.
	depCount atomic.Int32
	state    atomic.Int32

	// PreSkipped marks an instance whose compile-time condition evaluated
	// to false; the scheduler resolves it to skipped without running it.
	PreSkipped bool
	// DeferredCondition marks a condition that references upstream job
	// outcomes and therefore must be evaluated at run time.
	DeferredCondition bool

	mu         sync.Mutex
	err        error
	reason     string
	steps      []report.StepResult
	startedAt  time.Time
	finishedAt time.Time
}

// State returns the current status.
func (ji *JobInstance) State() Status {
	return Status(ji.state.Load())
}

// SetState transitions the instance forward. Attempts to leave a terminal
// state are ignored, which keeps concurrent skip/cancel races harmless.
func (ji *JobInstance) SetState(s Status) bool {
	for {
		current := ji.state.Load()
		if Status(current).Terminal() {
			return false
		}
		if ji.state.CompareAndSwap(current, int32(s)) {
			return true
		}
	}
}

// DecrementDepCount resolves one dependency and returns the remainder.
func (ji *JobInstance) DecrementDepCount() int32 {
	return ji.depCount.Add(-1)
}

// SetInitialCounters primes the dependency counter from the resolved edges.
func (ji *JobInstance) SetInitialCounters() {
	ji.depCount.Store(int32(len(ji.Deps)))
}

// RecordError stores the failure cause; first writer wins.
func (ji *JobInstance) RecordError(err error) {
	ji.mu.Lock()
	defer ji.mu.Unlock()
	if ji.err == nil {
		ji.err = err
	}
}

// Err returns the recorded failure cause, if any.
func (ji *JobInstance) Err() error {
	ji.mu.Lock()
	defer ji.mu.Unlock()
	return ji.err
}

// SetReason records the report-facing explanation (first failing step
// output, gate failure, or the upstream job that caused a skip).
func (ji *JobInstance) SetReason(reason string) {
	ji.mu.Lock()
	defer ji.mu.Unlock()
	if ji.reason == "" {
		ji.reason = reason
	}
}

// AppendStep records one step result.
func (ji *JobInstance) AppendStep(res report.StepResult) {
	ji.mu.Lock()
	defer ji.mu.Unlock()
	ji.steps = append(ji.steps, res)
}

// MarkStarted stamps the execution start time.
func (ji *JobInstance) MarkStarted() {
	ji.mu.Lock()
	defer ji.mu.Unlock()
	ji.startedAt = time.Now().UTC()
}

// MarkFinished stamps the execution end time.
func (ji *JobInstance) MarkFinished() {
	ji.mu.Lock()
	defer ji.mu.Unlock()
	ji.finishedAt = time.Now().UTC()
}

// NeedsStatuses returns the terminal states of the instance's dependencies
// aggregated per JobSpec name, for deferred condition evaluation. A spec
// whose instances diverge reports "failure" if any instance failed, else
// "skipped" if any was skipped or cancelled, else "success".
func (ji *JobInstance) NeedsStatuses() map[string]string {
	perJob := make(map[string][]Status)
	for _, dep := range ji.Deps {
		perJob[dep.Spec.Name] = append(perJob[dep.Spec.Name], dep.State())
	}

	out := make(map[string]string, len(perJob))
	for job, states := range perJob {
		agg := Success
		for _, s := range states {
			switch s {
			case Failure:
				agg = Failure
			case Skipped, Cancelled:
				if agg != Failure {
					agg = Skipped
				}
			}
		}
		out[job] = agg.String()
	}
	return out
}

// Archive converts the instance into its report record.
func (ji *JobInstance) Archive() report.Instance {
	ji.mu.Lock()
	defer ji.mu.Unlock()

	inst := report.Instance{
		ID:         ji.ID,
		Job:        ji.Spec.Name,
		Status:     report.Status(ji.State().String()),
		StartedAt:  ji.startedAt,
		FinishedAt: ji.finishedAt,
		Steps:      ji.steps,
		Reason:     ji.reason,
	}
	if len(ji.Matrix) > 0 {
		inst.Matrix = make(map[string]string, len(ji.Matrix))
		for k, v := range ji.Matrix {
			inst.Matrix[k] = v
		}
	}
	if inst.Reason == "" && ji.err != nil {
		inst.Reason = ji.err.Error()
	}
	return inst
}

// instanceID builds the canonical instance identifier from the spec name and
// matrix binding, axes in declaration order.
func instanceID(spec *model.JobSpec, binding map[string]string) string {
	if len(binding) == 0 {
		return spec.Name
	}
	parts := make([]string, 0, len(binding))
	for _, axis := range spec.Matrix {
		parts = append(parts, fmt.Sprintf("%s=%s", axis.Name, binding[axis.Name]))
	}
	return fmt.Sprintf("%s[%s]", spec.Name, strings.Join(parts, ","))
}
