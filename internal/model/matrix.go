// SPDX-License-Identifier: MIT
//
// This file defines matrix axes: named dimensions that fan a single job
// definition into multiple parallel instances.
//
// Why preserve declaration order?
//
// Expansion is the cartesian product of all axes declared on a job, with the
// first-declared axis varying slowest. Stable ordering keeps the produced
// instance sequence — and therefore scheduling and reporting — reproducible
// across identical runs.
package model

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
)

// MatrixAxis is one named dimension with an ordered set of discrete values.
type MatrixAxis struct {
	Name   string
	Values []string
}

// parseMatrixBlock decodes a `matrix` block into ordered axes. Axis values
// must be static string lists; anything else is a definition error.
func parseMatrixBlock(block *hcl.Block) ([]MatrixAxis, error) {
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("matrix block: %w", diags)
	}

	ordered := make([]*hcl.Attribute, 0, len(attrs))
	for _, attr := range attrs {
		ordered = append(ordered, attr)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Range.Start.Byte < ordered[j].Range.Start.Byte
	})

	axes := make([]MatrixAxis, 0, len(ordered))
	for _, attr := range ordered {
		values, err := staticStringList(attr.Expr)
		if err != nil {
			return nil, fmt.Errorf("matrix axis %q: %w", attr.Name, err)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("matrix axis %q: value list must not be empty", attr.Name)
		}
		axes = append(axes, MatrixAxis{Name: attr.Name, Values: values})
	}
	return axes, nil
}
