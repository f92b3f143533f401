// SPDX-License-Identifier: MIT
package model

import "fmt"

// EventKind enumerates the kinds of events that can trigger a run.
type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
	EventDispatch    EventKind = "workflow_dispatch"
)

// RunContext describes the triggering event of a run. It is created once at
// run start and is immutable for the lifetime of the run; all fields are
// unexported so no caller can mutate shared state mid-run.
type RunContext struct {
	event        EventKind
	branch       string
	targetBranch string
	sha          string
	inputs       map[string]string
}

// NewRunContext validates the event kind and returns an immutable context.
// The inputs map is copied so later mutation by the caller has no effect.
func NewRunContext(event EventKind, branch, targetBranch, sha string, inputs map[string]string) (*RunContext, error) {
	switch event {
	case EventPush, EventPullRequest, EventDispatch:
	default:
		return nil, fmt.Errorf("unknown event kind %q", event)
	}

	copied := make(map[string]string, len(inputs))
	for k, v := range inputs {
		copied[k] = v
	}

	return &RunContext{
		event:        event,
		branch:       branch,
		targetBranch: targetBranch,
		sha:          sha,
		inputs:       copied,
	}, nil
}

// Event returns the kind of event that triggered the run.
func (rc *RunContext) Event() EventKind { return rc.event }

// Branch returns the source branch of the run.
func (rc *RunContext) Branch() string { return rc.branch }

// TargetBranch returns the target branch for pull_request events.
func (rc *RunContext) TargetBranch() string { return rc.targetBranch }

// SHA returns the commit the run was triggered for.
func (rc *RunContext) SHA() string { return rc.sha }

// Input returns the value of a manual-dispatch input, if present.
func (rc *RunContext) Input(name string) (string, bool) {
	v, ok := rc.inputs[name]
	return v, ok
}

// Inputs returns a copy of all manual-dispatch inputs.
func (rc *RunContext) Inputs() map[string]string {
	out := make(map[string]string, len(rc.inputs))
	for k, v := range rc.inputs {
		out[k] = v
	}
	return out
}
