package condition

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// EvalString resolves a step template expression (run command, working
// directory) to a string against the scope. A nil or absent expression
// yields the empty string.
func EvalString(expr hcl.Expression, scope *hcl.EvalContext) (string, error) {
	if expr == nil {
		return "", nil
	}
	scope = padMissingInputs(expr, scope)
	val, diags := expr.Value(scope)
	if diags.HasErrors() {
		return "", fmt.Errorf("expression evaluation failed: %w", diags)
	}
	if val.IsNull() {
		return "", nil
	}
	strVal, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", fmt.Errorf("expression must be a string, got %s", val.Type().FriendlyName())
	}
	return strVal.AsString(), nil
}

// EvalStringMap resolves a map-valued expression (step env, action `with`
// parameters) to a string map. A nil or absent expression yields nil.
func EvalStringMap(expr hcl.Expression, scope *hcl.EvalContext) (map[string]string, error) {
	if expr == nil {
		return nil, nil
	}
	scope = padMissingInputs(expr, scope)
	val, diags := expr.Value(scope)
	if diags.HasErrors() {
		return nil, fmt.Errorf("expression evaluation failed: %w", diags)
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, fmt.Errorf("expression must be a map, got %s", val.Type().FriendlyName())
	}

	out := make(map[string]string)
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		strVal, err := convert.Convert(v, cty.String)
		if err != nil || strVal.IsNull() {
			return nil, fmt.Errorf("map value for %q must be a string", k.AsString())
		}
		out[k.AsString()] = strVal.AsString()
	}
	return out, nil
}
