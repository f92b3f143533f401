package app_test

import (
	"testing"

	"github.com/pipewright/pipewright/internal/report"
	"github.com/pipewright/pipewright/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestIntegration_PushRunsFullGraph(t *testing.T) {
	t.Parallel()

	spy := &testutil.SpyModule{}
	result := testutil.RunPipeline(t, map[string]string{
		"main.hcl": `
			job "lint" {
				step "vet" { run = "true" }
			}
			job "test" {
				needs = ["lint"]
				matrix {
					suite = ["unit", "e2e"]
				}
				step "run" {
					uses = "spy"
					with = { suite = matrix.suite }
				}
			}
		`,
	}, testutil.Trigger{Event: "push", Branch: "main"}, spy)

	require.NoError(t, result.Err)
	require.Equal(t, report.StatusSuccess, result.Report.Status)
	require.Len(t, result.Report.Instances, 3)
	require.Equal(t, 2, spy.CallCount(), "one spy call per matrix instance")

	suites := map[string]bool{}
	for _, call := range spy.Calls() {
		suites[call["suite"]] = true
	}
	require.True(t, suites["unit"])
	require.True(t, suites["e2e"])
}

func TestIntegration_DefinitionSpansDirectories(t *testing.T) {
	t.Parallel()

	result := testutil.RunPipeline(t, map[string]string{
		"jobs/build.hcl": `
			job "build" {
				step "s" { uses = "noop" }
			}
		`,
		"jobs/release.hcl": `
			job "release" {
				needs = ["build"]
				step "s" { uses = "noop" }
			}
		`,
	}, testutil.Trigger{Event: "push", Branch: "main"})

	require.NoError(t, result.Err)
	require.Equal(t, report.StatusSuccess, result.Report.Status)
	require.Len(t, result.Report.Instances, 2)
}

func TestIntegration_CycleIsAConfigurationError(t *testing.T) {
	t.Parallel()

	result := testutil.RunPipeline(t, map[string]string{
		"main.hcl": `
			job "a" {
				needs = ["b"]
				step "s" { uses = "noop" }
			}
			job "b" {
				needs = ["a"]
				step "s" { uses = "noop" }
			}
		`,
	}, testutil.Trigger{Event: "push", Branch: "main"})

	require.Error(t, result.Err)
	require.Contains(t, result.Err.Error(), "cyclic dependency")
	require.Nil(t, result.Report, "nothing executes on a configuration error")
}

func TestIntegration_DispatchInputGatesJob(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"main.hcl": `
			job "deploy_check" {
				when = inputs.environment == "staging"
				step "s" { uses = "spy" }
			}
		`,
	}

	// Dispatch run with the matching input executes the job.
	spy := &testutil.SpyModule{}
	result := testutil.RunPipeline(t, files, testutil.Trigger{
		Event:  "workflow_dispatch",
		Branch: "main",
		Inputs: map[string]string{"environment": "staging"},
	}, spy)
	require.NoError(t, result.Err)
	require.Equal(t, report.StatusSuccess, result.Instance(t, "deploy_check").Status)
	require.Equal(t, 1, spy.CallCount())

	// A push run has no inputs; the job skips instead of erroring.
	spy = &testutil.SpyModule{}
	result = testutil.RunPipeline(t, files, testutil.Trigger{
		Event: "push", Branch: "main",
	}, spy)
	require.NoError(t, result.Err)
	require.Equal(t, report.StatusSkipped, result.Instance(t, "deploy_check").Status)
	require.Zero(t, spy.CallCount())
}

func TestIntegration_FailurePropagatesToReport(t *testing.T) {
	t.Parallel()

	spy := &testutil.SpyModule{}
	result := testutil.RunPipeline(t, map[string]string{
		"main.hcl": `
			job "build" {
				step "s" { uses = "fail" }
			}
			job "publish" {
				needs = ["build"]
				step "s" { uses = "spy" }
			}
		`,
	}, testutil.Trigger{Event: "push", Branch: "main"}, spy)

	require.NoError(t, result.Err, "job failure is reported, not returned as an error")
	require.Equal(t, report.StatusFailure, result.Report.Status)
	require.Equal(t, report.StatusFailure, result.Instance(t, "build").Status)
	require.Equal(t, report.StatusSkipped, result.Instance(t, "publish").Status)
	require.Zero(t, spy.CallCount())

	build := result.Instance(t, "build")
	require.NotEmpty(t, build.Reason)
}
