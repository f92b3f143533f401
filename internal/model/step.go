// SPDX-License-Identifier: MIT
//
// This file defines the StepSpec structure, the atomic unit of work within a
// job, and its parser.
//
// Why exactly one of `run` or `uses`?
//
// A step either executes a shell command or dispatches to a named action
// registered in Go. Keeping the two mutually exclusive makes every step's
// execution path unambiguous at parse time, so the runner never has to guess.
package model

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
)

// RetryPolicy bounds step retries with exponential backoff. Retries are
// exhausted before the step is marked failed; nothing outside this policy
// ever silently retries a step.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Factor   float64
	Max      time.Duration
}

// StepSpec is one ordered unit of execution inside a JobSpec.
type StepSpec struct {
	Name string

	// Run is the shell command expression; nil when Uses is set. Kept as an
	// expression so it can reference matrix and context values.
	Run hcl.Expression
	// Uses names a registered action; empty when Run is set.
	Uses string
	// With carries action parameters as an unevaluated map expression.
	With hcl.Expression

	Dir hcl.Expression
	Env hcl.Expression

	Timeout time.Duration
	// IgnoreFailure suppresses failure propagation for this step only. The
	// failed StepResult is still recorded in the report.
	IgnoreFailure bool
	Retry         *RetryPolicy

	FSInformation *FSInfo
}

// hclStep represents a single `step` block for initial decoding.
type hclStep struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

// hclStepBody is the decode target for a step block's body.
type hclStepBody struct {
	Run           hcl.Expression `hcl:"run,optional"`
	Uses          *string        `hcl:"uses,optional"`
	With          hcl.Expression `hcl:"with,optional"`
	Dir           hcl.Expression `hcl:"dir,optional"`
	Env           hcl.Expression `hcl:"env,optional"`
	Timeout       *string        `hcl:"timeout,optional"`
	IgnoreFailure *bool          `hcl:"ignore_failure,optional"`
	Retry         *hclRetry      `hcl:"retry,block"`
}

type hclRetry struct {
	Attempts int      `hcl:"attempts"`
	Initial  *string  `hcl:"initial,optional"`
	Factor   *float64 `hcl:"factor,optional"`
	Max      *string  `hcl:"max,optional"`
}

// newStepFromHCL parses one step block into a StepSpec.
func newStepFromHCL(parsed *hclStep, filePath string) (*StepSpec, error) {
	var body hclStepBody
	if diags := gohcl.DecodeBody(parsed.Body, nil, &body); diags.HasErrors() {
		return nil, fmt.Errorf("step %q: %w", parsed.Name, diags)
	}

	step := &StepSpec{
		Name:          parsed.Name,
		With:          body.With,
		Dir:           body.Dir,
		Env:           body.Env,
		FSInformation: NewFSInfo(filePath),
	}

	hasRun := !exprIsEmpty(body.Run)
	hasUses := body.Uses != nil && *body.Uses != ""
	if hasRun == hasUses {
		return nil, fmt.Errorf("step %q: exactly one of 'run' or 'uses' must be set", parsed.Name)
	}
	if hasRun {
		step.Run = body.Run
	} else {
		step.Uses = *body.Uses
	}
	if !exprIsEmpty(body.With) && !hasUses {
		return nil, fmt.Errorf("step %q: 'with' requires 'uses'", parsed.Name)
	}

	if body.Timeout != nil {
		d, err := time.ParseDuration(*body.Timeout)
		if err != nil {
			return nil, fmt.Errorf("step %q: invalid timeout: %w", parsed.Name, err)
		}
		step.Timeout = d
	}
	if body.IgnoreFailure != nil {
		step.IgnoreFailure = *body.IgnoreFailure
	}

	if body.Retry != nil {
		policy, err := newRetryPolicy(body.Retry)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", parsed.Name, err)
		}
		step.Retry = policy
	}

	return step, nil
}

func newRetryPolicy(raw *hclRetry) (*RetryPolicy, error) {
	if raw.Attempts < 1 {
		return nil, fmt.Errorf("retry attempts must be at least 1, got %d", raw.Attempts)
	}
	policy := &RetryPolicy{
		Attempts: raw.Attempts,
		Initial:  time.Second,
		Factor:   2.0,
		Max:      time.Minute,
	}
	if raw.Initial != nil {
		d, err := time.ParseDuration(*raw.Initial)
		if err != nil {
			return nil, fmt.Errorf("invalid retry initial: %w", err)
		}
		policy.Initial = d
	}
	if raw.Factor != nil {
		policy.Factor = *raw.Factor
	}
	if raw.Max != nil {
		d, err := time.ParseDuration(*raw.Max)
		if err != nil {
			return nil, fmt.Errorf("invalid retry max: %w", err)
		}
		policy.Max = d
	}
	return policy, nil
}

// exprIsEmpty reports whether an optional expression attribute was absent.
// gohcl fills absent hcl.Expression fields with a null literal expression.
func exprIsEmpty(expr hcl.Expression) bool {
	if expr == nil {
		return true
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		// Not statically evaluable means the attribute was present.
		return false
	}
	return val.IsNull()
}
