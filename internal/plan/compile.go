// Package plan compiles a pipeline definition and a run context into an
// executable plan: matrix-expanded JobInstances connected by resolved
// dependency edges. Name-based "needs" references are resolved here exactly
// once, so the scheduler never performs a name lookup during execution.
package plan

import (
	"context"
	"fmt"

	"github.com/pipewright/pipewright/internal/actions"
	"github.com/pipewright/pipewright/internal/condition"
	"github.com/pipewright/pipewright/internal/ctxlog"
	"github.com/pipewright/pipewright/internal/model"
)

// Plan is the compiled, immutable execution plan for one run.
type Plan struct {
	// Instances holds every JobInstance in declaration order (job order in
	// the definition, then matrix expansion order).
	Instances []*JobInstance

	Pipeline *model.Pipeline
	Context  *model.RunContext

	byName map[string][]*JobInstance
}

// InstancesOf returns the expanded instances of a JobSpec name.
func (p *Plan) InstancesOf(name string) []*JobInstance {
	return p.byName[name]
}

// Compile validates the pipeline against the run context and produces the
// execution plan. Every error it returns is a ConfigurationError: nothing
// has executed and nothing will.
func Compile(ctx context.Context, pipeline *model.Pipeline, rc *model.RunContext, registry *actions.Registry) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Compile: starting plan compilation.", "jobs", len(pipeline.Jobs))

	if err := validateReferences(pipeline, rc, registry); err != nil {
		return nil, err
	}
	if err := detectCycles(pipeline); err != nil {
		return nil, err
	}

	p := &Plan{
		Pipeline: pipeline,
		Context:  rc,
		byName:   make(map[string][]*JobInstance),
	}

	// First pass: expand every job into instances, in declaration order.
	order := 0
	for _, spec := range pipeline.Jobs {
		instances := Expand(spec)
		for _, inst := range instances {
			inst.Order = order
			order++
		}
		p.byName[spec.Name] = instances
		p.Instances = append(p.Instances, instances...)
	}
	logger.Debug("Compile: matrix expansion complete.", "instances", len(p.Instances))

	// Second pass: resolve needs into direct edges. A dependency on a
	// matrix job depends on all of its expanded instances.
	for _, inst := range p.Instances {
		for _, need := range inst.Spec.Needs {
			for _, dep := range p.byName[need] {
				inst.Deps[dep.ID] = dep
				dep.Dependents[inst.ID] = inst
			}
		}
	}

	// Third pass: prime counters and settle compile-time conditions.
	for _, inst := range p.Instances {
		inst.SetInitialCounters()

		expr := inst.Spec.Condition
		if expr == nil {
			continue
		}
		if condition.ReferencesNeeds(expr) {
			inst.DeferredCondition = true
			continue
		}
		ok, err := condition.Evaluate(expr, condition.Scope(rc, inst.Matrix, nil))
		if err != nil {
			return nil, configErrorf("job %q: %v", inst.Spec.Name, err)
		}
		if !ok {
			inst.PreSkipped = true
		}
	}

	logger.Debug("Compile: plan compilation successful.")
	return p, nil
}

// validateReferences checks every name-based reference in the definition:
// needs targets, step actions, target environments, and condition variables.
func validateReferences(pipeline *model.Pipeline, rc *model.RunContext, registry *actions.Registry) error {
	for _, spec := range pipeline.Jobs {
		for _, need := range spec.Needs {
			if _, ok := pipeline.Job(need); !ok {
				return configErrorf("job %q needs undeclared job %q", spec.Name, need)
			}
			if need == spec.Name {
				return configErrorf("job %q cannot need itself", spec.Name)
			}
		}
		if spec.Environment != "" {
			if _, ok := pipeline.Environment(spec.Environment); !ok {
				return configErrorf("job %q targets undeclared environment %q", spec.Name, spec.Environment)
			}
		}
		for _, step := range spec.Steps {
			if step.Uses != "" && !registry.Has(step.Uses) {
				return configErrorf("job %q step %q uses unknown action %q (registered: %v)",
					spec.Name, step.Name, step.Uses, registry.Names())
			}
		}
		if spec.Condition != nil {
			if err := condition.Validate(spec.Condition, spec, rc); err != nil {
				return configErrorf("job %q: %v", spec.Name, err)
			}
		}
	}

	// Cross-environment ordering must reference a declared environment.
	for _, env := range pipeline.Environments {
		if env.RequiresPromoted != "" {
			if _, ok := pipeline.Environment(env.RequiresPromoted); !ok {
				return configErrorf("environment %q requires undeclared environment %q", env.Name, env.RequiresPromoted)
			}
		}
	}
	return nil
}

// detectCycles checks the needs relation for circular dependencies using
// classic three-color DFS and names a cycle member on failure.
func detectCycles(pipeline *model.Pipeline) error {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)

	var visit func(spec *model.JobSpec) error
	visit = func(spec *model.JobSpec) error {
		visiting[spec.Name] = true
		for _, need := range spec.Needs {
			dep, _ := pipeline.Job(need)
			if visiting[dep.Name] {
				return &CyclicDependencyError{Job: dep.Name}
			}
			if !visited[dep.Name] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		delete(visiting, spec.Name)
		visited[spec.Name] = true
		return nil
	}

	for _, spec := range pipeline.Jobs {
		if !visited[spec.Name] {
			if err := visit(spec); err != nil {
				return err
			}
		}
	}
	return nil
}

// Describe returns a short human-readable summary for logs.
func (p *Plan) Describe() string {
	return fmt.Sprintf("%d jobs expanded into %d instances", len(p.Pipeline.Jobs), len(p.Instances))
}
