package plan

import (
	"github.com/pipewright/pipewright/internal/model"
)

// Expand produces the concrete JobInstances for one JobSpec. A job with no
// matrix axes yields exactly one instance. Multiple axes expand as the
// cartesian product in declaration order, first axis varying slowest.
// Expansion happens once at plan compilation, before any step executes, so
// total work is known up front.
func Expand(spec *model.JobSpec) []*JobInstance {
	if len(spec.Matrix) == 0 {
		return []*JobInstance{{
			ID:         spec.Name,
			Spec:       spec,
			Deps:       make(map[string]*JobInstance),
			Dependents: make(map[string]*JobInstance),
		}}
	}

	bindings := cartesian(spec.Matrix)
	instances := make([]*JobInstance, 0, len(bindings))
	for _, binding := range bindings {
		instances = append(instances, &JobInstance{
			ID:         instanceID(spec, binding),
			Spec:       spec,
			Matrix:     binding,
			Deps:       make(map[string]*JobInstance),
			Dependents: make(map[string]*JobInstance),
		})
	}
	return instances
}

// cartesian enumerates every combination of axis values. The first-declared
// axis varies slowest so the produced order mirrors the declaration.
func cartesian(axes []model.MatrixAxis) []map[string]string {
	combos := []map[string]string{{}}
	for _, axis := range axes {
		next := make([]map[string]string, 0, len(combos)*len(axis.Values))
		for _, combo := range combos {
			for _, value := range axis.Values {
				extended := make(map[string]string, len(combo)+1)
				for k, v := range combo {
					extended[k] = v
				}
				extended[axis.Name] = value
				next = append(next, extended)
			}
		}
		combos = next
	}
	return combos
}
