// Package condition evaluates boolean trigger expressions over a run scope.
//
// Conditions are ordinary HCL expressions, so the parsed expression tree,
// short-circuit boolean combinators, and comparison operators all come from
// the HCL runtime. This package contributes two things: the scope (which
// variables a condition may reference) and static validation, so that an
// unparseable condition or a reference to an unknown job is a configuration
// error at plan-compile time, never a run-time fault.
//
// Evaluation is pure and total: the same expression against the same scope
// always yields the same boolean.
package condition

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/pipewright/pipewright/internal/model"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// contextFields are the attributes available under the `context` root.
var contextFields = map[string]struct{}{
	"event":         {},
	"branch":        {},
	"target_branch": {},
	"sha":           {},
}

// Scope assembles the evaluation context for a condition or step template.
// matrix and needs may be nil when the expression is evaluated before
// expansion or before any dependency has resolved.
func Scope(rc *model.RunContext, matrix map[string]string, needs map[string]string) *hcl.EvalContext {
	vars := map[string]cty.Value{
		"context": cty.ObjectVal(map[string]cty.Value{
			"event":         cty.StringVal(string(rc.Event())),
			"branch":        cty.StringVal(rc.Branch()),
			"target_branch": cty.StringVal(rc.TargetBranch()),
			"sha":           cty.StringVal(rc.SHA()),
		}),
		"inputs": stringMapVal(rc.Inputs()),
		"matrix": stringMapVal(matrix),
	}

	needsVars := make(map[string]cty.Value, len(needs))
	for job, status := range needs {
		needsVars[job] = cty.ObjectVal(map[string]cty.Value{
			"status": cty.StringVal(status),
		})
	}
	if len(needsVars) > 0 {
		vars["needs"] = cty.ObjectVal(needsVars)
	} else {
		vars["needs"] = cty.EmptyObjectVal
	}

	return &hcl.EvalContext{Variables: vars}
}

func stringMapVal(m map[string]string) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	vals := make(map[string]cty.Value, len(m))
	for k, v := range m {
		vals[k] = cty.StringVal(v)
	}
	return cty.ObjectVal(vals)
}

// Evaluate resolves the expression against the scope and requires a boolean
// result. Dispatch inputs the trigger did not provide evaluate as empty
// strings, so `inputs.environment == "staging"` is simply false on a push
// run rather than an error.
func Evaluate(expr hcl.Expression, scope *hcl.EvalContext) (bool, error) {
	scope = padMissingInputs(expr, scope)
	val, diags := expr.Value(scope)
	if diags.HasErrors() {
		return false, fmt.Errorf("condition evaluation failed: %w", diags)
	}
	boolVal, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("condition must be a boolean, got %s", val.Type().FriendlyName())
	}
	if boolVal.IsNull() {
		return false, fmt.Errorf("condition evaluated to null")
	}
	return boolVal.True(), nil
}

// ReferencesNeeds reports whether the expression mentions any upstream job
// outcome. Such conditions are deferred to run time; everything else is
// decidable at compile time.
func ReferencesNeeds(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	for _, traversal := range expr.Variables() {
		if traversal.RootName() == "needs" {
			return true
		}
	}
	return false
}

// Validate statically checks every variable reference in the expression.
// job is the spec the condition is attached to; its needs set bounds which
// jobs may be referenced under `needs`. rc bounds the valid dispatch inputs.
func Validate(expr hcl.Expression, job *model.JobSpec, rc *model.RunContext) error {
	if expr == nil {
		return nil
	}

	needsSet := make(map[string]struct{}, len(job.Needs))
	for _, n := range job.Needs {
		needsSet[n] = struct{}{}
	}
	axisSet := make(map[string]struct{}, len(job.Matrix))
	for _, axis := range job.Matrix {
		axisSet[axis.Name] = struct{}{}
	}

	for _, traversal := range expr.Variables() {
		root := traversal.RootName()
		switch root {
		case "context":
			attr, ok := traversalAttr(traversal)
			if !ok {
				continue
			}
			if _, known := contextFields[attr]; !known {
				return fmt.Errorf("condition references unknown context field %q", attr)
			}
		case "inputs":
			// Any input name is legal; absent inputs evaluate as "".
		case "matrix":
			attr, ok := traversalAttr(traversal)
			if !ok {
				continue
			}
			if _, known := axisSet[attr]; !known {
				return fmt.Errorf("condition references undeclared matrix axis %q", attr)
			}
		case "needs":
			attr, ok := traversalAttr(traversal)
			if !ok {
				continue
			}
			if _, known := needsSet[attr]; !known {
				return fmt.Errorf("condition references job %q which is not in the needs set", attr)
			}
		default:
			return fmt.Errorf("condition references unknown variable %q", root)
		}
	}
	return nil
}

// padMissingInputs returns a scope whose inputs object additionally carries
// an empty string for every input the expression references but the trigger
// did not provide.
func padMissingInputs(expr hcl.Expression, scope *hcl.EvalContext) *hcl.EvalContext {
	current := scope.Variables["inputs"]
	padded := map[string]cty.Value{}
	if !current.IsNull() && current.Type().IsObjectType() {
		for it := current.ElementIterator(); it.Next(); {
			k, v := it.Element()
			padded[k.AsString()] = v
		}
	}

	missing := false
	for _, traversal := range expr.Variables() {
		if traversal.RootName() != "inputs" {
			continue
		}
		attr, ok := traversalAttr(traversal)
		if !ok {
			continue
		}
		if _, exists := padded[attr]; !exists {
			padded[attr] = cty.StringVal("")
			missing = true
		}
	}
	if !missing {
		return scope
	}

	vars := make(map[string]cty.Value, len(scope.Variables))
	for k, v := range scope.Variables {
		vars[k] = v
	}
	vars["inputs"] = cty.ObjectVal(padded)
	return &hcl.EvalContext{Variables: vars}
}

// traversalAttr extracts the first attribute after the root, e.g. "branch"
// from context.branch.
func traversalAttr(traversal hcl.Traversal) (string, bool) {
	if len(traversal) < 2 {
		return "", false
	}
	attr, ok := traversal[1].(hcl.TraverseAttr)
	if !ok {
		return "", false
	}
	return attr.Name, true
}
