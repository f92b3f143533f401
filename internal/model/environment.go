// SPDX-License-Identifier: MIT
//
// This file defines the Environment structure and the parser for
// `environment` blocks.
//
// Why scope secrets to the environment?
//
// Secret and variable bindings live on the environment itself and are handed
// only to the gate that promotes into it. There is no ambient global secret
// bag: a job that does not target the environment can never observe its
// secrets, and a promotion-rule mismatch resolves before any secret is read.
package model

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
)

// SmokeProbe is one ordered post-deploy verification probe.
type SmokeProbe struct {
	Name    string
	Path    string
	Expect  int
	Timeout time.Duration
}

// Environment describes a deployment target guarded by a gate.
type Environment struct {
	Name string

	// Branches lists source branches whose pushes authorize promotion.
	Branches []string
	// Dispatch maps manual-dispatch input names to required values; a
	// workflow_dispatch run matching every entry authorizes promotion.
	Dispatch map[string]string

	BaseURL     string
	DeployURL   string
	Manifest    string
	SecretsFile string
	Vars        map[string]string

	RolloutTimeout time.Duration
	Probes         []SmokeProbe

	// RequiresPromoted names an environment whose successful promotion of
	// the same artifact must precede this one (e.g. staging before
	// production). Bypassed by a manual dispatch targeting this environment
	// directly.
	RequiresPromoted string

	FSInformation *FSInfo
}

// hclEnvironment represents a single `environment` block for initial decoding.
type hclEnvironment struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

type hclEnvironmentBody struct {
	Branches         []string       `hcl:"branches,optional"`
	Dispatch         hcl.Expression `hcl:"dispatch,optional"`
	BaseURL          string         `hcl:"base_url,optional"`
	DeployURL        string         `hcl:"deploy_url,optional"`
	Manifest         string         `hcl:"manifest,optional"`
	SecretsFile      string         `hcl:"secrets_file,optional"`
	Vars             hcl.Expression `hcl:"vars,optional"`
	RolloutTimeout   *string        `hcl:"rollout_timeout,optional"`
	RequiresPromoted string         `hcl:"requires_promoted,optional"`
	Smoke            []*hclSmoke    `hcl:"smoke,block"`
}

type hclSmoke struct {
	Name    string  `hcl:"name,label"`
	Path    string  `hcl:"path"`
	Expect  *int    `hcl:"expect,optional"`
	Timeout *string `hcl:"timeout,optional"`
}

// defaultRolloutTimeout bounds how long a gate polls for workload readiness
// when the environment does not declare its own limit.
const defaultRolloutTimeout = 2 * time.Minute

const defaultProbeTimeout = 10 * time.Second

// newEnvironmentFromHCL parses one environment block.
func newEnvironmentFromHCL(parsed *hclEnvironment, filePath string) (*Environment, error) {
	var body hclEnvironmentBody
	if diags := gohcl.DecodeBody(parsed.Body, nil, &body); diags.HasErrors() {
		return nil, fmt.Errorf("environment %q: %w", parsed.Name, diags)
	}

	env := &Environment{
		Name:             parsed.Name,
		Branches:         body.Branches,
		BaseURL:          body.BaseURL,
		DeployURL:        body.DeployURL,
		Manifest:         body.Manifest,
		SecretsFile:      body.SecretsFile,
		RolloutTimeout:   defaultRolloutTimeout,
		RequiresPromoted: body.RequiresPromoted,
		FSInformation:    NewFSInfo(filePath),
	}

	dispatch, err := staticStringMap(body.Dispatch)
	if err != nil {
		return nil, fmt.Errorf("environment %q: dispatch %w", parsed.Name, err)
	}
	env.Dispatch = dispatch

	vars, err := staticStringMap(body.Vars)
	if err != nil {
		return nil, fmt.Errorf("environment %q: vars %w", parsed.Name, err)
	}
	env.Vars = vars

	if body.RolloutTimeout != nil {
		d, err := time.ParseDuration(*body.RolloutTimeout)
		if err != nil {
			return nil, fmt.Errorf("environment %q: invalid rollout_timeout: %w", parsed.Name, err)
		}
		env.RolloutTimeout = d
	}

	for _, raw := range body.Smoke {
		probe := SmokeProbe{
			Name:    raw.Name,
			Path:    raw.Path,
			Expect:  200,
			Timeout: defaultProbeTimeout,
		}
		if raw.Expect != nil {
			probe.Expect = *raw.Expect
		}
		if raw.Timeout != nil {
			d, err := time.ParseDuration(*raw.Timeout)
			if err != nil {
				return nil, fmt.Errorf("environment %q: smoke %q: invalid timeout: %w", parsed.Name, raw.Name, err)
			}
			probe.Timeout = d
		}
		env.Probes = append(env.Probes, probe)
	}

	return env, nil
}

// AuthorizedBy checks the environment's promotion rule against the run
// context: a listed source branch matches, or a workflow_dispatch run
// matches every declared dispatch input.
func (e *Environment) AuthorizedBy(rc *RunContext) bool {
	for _, b := range e.Branches {
		if b == rc.Branch() {
			return true
		}
	}
	if len(e.Dispatch) > 0 && rc.Event() == EventDispatch {
		for name, want := range e.Dispatch {
			got, ok := rc.Input(name)
			if !ok || got != want {
				return false
			}
		}
		return true
	}
	return false
}

// DirectDispatchTarget reports whether the run is a manual dispatch aimed
// straight at this environment, which bypasses cross-environment ordering.
func (e *Environment) DirectDispatchTarget(rc *RunContext) bool {
	if rc.Event() != EventDispatch || len(e.Dispatch) == 0 {
		return false
	}
	for name, want := range e.Dispatch {
		got, ok := rc.Input(name)
		if !ok || got != want {
			return false
		}
	}
	return true
}
