// SPDX-License-Identifier: MIT
package model

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// staticStringList evaluates an expression with no scope and requires a list
// or tuple of strings. Used for attributes that must be known at parse time,
// such as matrix axis values and needs lists.
func staticStringList(expr hcl.Expression) ([]string, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("must be a static list of strings: %w", diags)
	}
	if val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	if !ty.IsTupleType() && !ty.IsListType() {
		return nil, fmt.Errorf("must be a list of strings, got %s", ty.FriendlyName())
	}

	var out []string
	for it := val.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		str, err := convert.Convert(elem, cty.String)
		if err != nil {
			return nil, fmt.Errorf("list element is not a string: %w", err)
		}
		out = append(out, str.AsString())
	}
	return out, nil
}

// staticStringMap evaluates an expression with no scope and requires an
// object or map of strings.
func staticStringMap(expr hcl.Expression) (map[string]string, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("must be a static map of strings: %w", diags)
	}
	if val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("must be a map of strings, got %s", ty.FriendlyName())
	}

	out := make(map[string]string)
	for it := val.ElementIterator(); it.Next(); {
		key, elem := it.Element()
		str, err := convert.Convert(elem, cty.String)
		if err != nil {
			return nil, fmt.Errorf("map value for %q is not a string: %w", key.AsString(), err)
		}
		out[key.AsString()] = str.AsString()
	}
	return out, nil
}
