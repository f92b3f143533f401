// SPDX-License-Identifier: MIT
//
// This file defines the JobSpec structure and the parser for `job` blocks.
//
// Why keep `needs` as plain names here?
//
// The model records the user's stringly-typed references exactly as written.
// Resolving them into direct graph edges happens once at plan compile time;
// keeping the model free of graph concerns means a definition can be parsed,
// inspected, and validated without building an execution plan.
package model

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
)

// JobSpec is a named unit of work: ordered steps, a dependency set, an
// optional trigger condition, optional matrix axes, and an optional target
// environment. Never mutated at run time.
type JobSpec struct {
	Name  string
	Steps []*StepSpec

	// Needs lists the job names this job depends on.
	Needs []string

	// Condition is the raw `when` expression; nil means always run.
	Condition hcl.Expression

	// Matrix holds the declared axes in declaration order; empty for
	// non-matrix jobs.
	Matrix []MatrixAxis

	// Environment names the target environment for deploy jobs; empty
	// otherwise.
	Environment string

	FSInformation *FSInfo
}

// hclJob represents a single `job` block for initial decoding.
type hclJob struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

// jobBodySchema defines the expected structure of a job block's body.
var jobBodySchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "needs"},
		{Name: "when"},
		{Name: "environment"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "matrix"},
		{Type: "step", LabelNames: []string{"name"}},
	},
}

// newJobFromHCL parses one job block into a JobSpec.
func newJobFromHCL(parsed *hclJob, filePath string) (*JobSpec, error) {
	content, diags := parsed.Body.Content(jobBodySchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("job %q: %w", parsed.Name, diags)
	}

	job := &JobSpec{
		Name:          parsed.Name,
		FSInformation: NewFSInfo(filePath),
	}

	if attr, ok := content.Attributes["needs"]; ok {
		needs, err := staticStringList(attr.Expr)
		if err != nil {
			return nil, fmt.Errorf("job %q: needs %w", parsed.Name, err)
		}
		job.Needs = needs
	}
	if attr, ok := content.Attributes["when"]; ok {
		job.Condition = attr.Expr
	}
	if attr, ok := content.Attributes["environment"]; ok {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("job %q: environment must be a static string: %w", parsed.Name, diags)
		}
		job.Environment = val.AsString()
	}

	var matrixSeen bool
	for _, block := range content.Blocks {
		switch block.Type {
		case "matrix":
			if matrixSeen {
				return nil, fmt.Errorf("job %q: duplicate matrix block", parsed.Name)
			}
			matrixSeen = true
			axes, err := parseMatrixBlock(block)
			if err != nil {
				return nil, fmt.Errorf("job %q: %w", parsed.Name, err)
			}
			job.Matrix = axes
		case "step":
			step, err := newStepFromHCL(&hclStep{Name: block.Labels[0], Body: block.Body}, filePath)
			if err != nil {
				return nil, fmt.Errorf("job %q: %w", parsed.Name, err)
			}
			job.Steps = append(job.Steps, step)
		}
	}

	return job, nil
}
