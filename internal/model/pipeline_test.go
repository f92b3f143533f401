package model

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writePipeline materializes HCL files in a temp dir and loads them.
func writePipeline(t *testing.T, files map[string]string) (*Pipeline, error) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return LoadPipeline(context.Background(), dir)
}

func TestLoadPipeline_FullDefinition(t *testing.T) {
	t.Parallel()

	pipeline, err := writePipeline(t, map[string]string{
		"main.hcl": `
			job "lint" {
				step "vet" {
					run = "go vet ./..."
				}
			}

			job "test" {
				needs = ["lint"]
				matrix {
					go_version = ["1.23", "1.24"]
				}
				step "unit" {
					run     = "go test ./..."
					timeout = "5m"
					env = {
						GO_VERSION = matrix.go_version
					}
				}
			}

			job "deploy" {
				needs       = ["test"]
				environment = "staging"
				step "push" {
					uses = "artifact_push"
					with = {
						registry = "http://registry.internal"
						name     = "app"
						file     = "app.tar.gz"
					}
				}
			}

			environment "staging" {
				branches        = ["develop"]
				base_url        = "https://staging.example.com"
				deploy_url      = "https://deployer.staging.internal"
				manifest        = "deploy/staging.yaml"
				rollout_timeout = "5m"

				smoke "api-health" {
					path   = "/healthz"
					expect = 200
				}
			}
		`,
	})
	require.NoError(t, err)
	require.Len(t, pipeline.Jobs, 3)
	require.Len(t, pipeline.Environments, 1)

	lint, ok := pipeline.Job("lint")
	require.True(t, ok)
	require.Len(t, lint.Steps, 1)
	require.Empty(t, lint.Needs)
	require.Nil(t, lint.Condition)

	test, ok := pipeline.Job("test")
	require.True(t, ok)
	require.Equal(t, []string{"lint"}, test.Needs)
	require.Len(t, test.Matrix, 1)
	require.Equal(t, "go_version", test.Matrix[0].Name)
	require.Equal(t, []string{"1.23", "1.24"}, test.Matrix[0].Values)
	require.Equal(t, 5*time.Minute, test.Steps[0].Timeout)

	deploy, ok := pipeline.Job("deploy")
	require.True(t, ok)
	require.Equal(t, "staging", deploy.Environment)
	require.Equal(t, "artifact_push", deploy.Steps[0].Uses)
	require.Nil(t, deploy.Steps[0].Run)

	env, ok := pipeline.Environment("staging")
	require.True(t, ok)
	require.Equal(t, []string{"develop"}, env.Branches)
	require.Equal(t, 5*time.Minute, env.RolloutTimeout)
	require.Len(t, env.Probes, 1)
	require.Equal(t, "api-health", env.Probes[0].Name)
	require.Equal(t, 200, env.Probes[0].Expect)
	require.Equal(t, 10*time.Second, env.Probes[0].Timeout)
}

func TestLoadPipeline_SpansMultipleFiles(t *testing.T) {
	t.Parallel()

	pipeline, err := writePipeline(t, map[string]string{
		"a_jobs.hcl": `
			job "build" {
				step "compile" { run = "make build" }
			}
		`,
		"b_envs.hcl": `
			environment "staging" {
				branches   = ["develop"]
				deploy_url = "https://deployer.internal"
			}
		`,
	})
	require.NoError(t, err)
	require.Len(t, pipeline.Jobs, 1)
	require.Len(t, pipeline.Environments, 1)
}

func TestLoadPipeline_DuplicateJobFails(t *testing.T) {
	t.Parallel()

	_, err := writePipeline(t, map[string]string{
		"a.hcl": `job "build" {
			step "s" { run = "true" }
		}`,
		"b.hcl": `job "build" {
			step "s" { run = "true" }
		}`,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), `duplicate job "build"`)
}

func TestLoadPipeline_StepRunAndUsesMutuallyExclusive(t *testing.T) {
	t.Parallel()

	_, err := writePipeline(t, map[string]string{
		"main.hcl": `
			job "build" {
				step "s" {
					run  = "true"
					uses = "noop"
				}
			}
		`,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "exactly one of 'run' or 'uses'")

	_, err = writePipeline(t, map[string]string{
		"main.hcl": `job "build" {
			step "s" {}
		}`,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "exactly one of 'run' or 'uses'")
}

func TestLoadPipeline_WithRequiresUses(t *testing.T) {
	t.Parallel()

	_, err := writePipeline(t, map[string]string{
		"main.hcl": `
			job "build" {
				step "s" {
					run  = "true"
					with = { key = "value" }
				}
			}
		`,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "'with' requires 'uses'")
}

func TestLoadPipeline_MatrixAxesKeepDeclarationOrder(t *testing.T) {
	t.Parallel()

	pipeline, err := writePipeline(t, map[string]string{
		"main.hcl": `
			job "test" {
				matrix {
					os      = ["linux", "darwin"]
					arch    = ["amd64"]
					variant = ["debug", "release"]
				}
				step "s" { run = "true" }
			}
		`,
	})
	require.NoError(t, err)

	job, _ := pipeline.Job("test")
	require.Len(t, job.Matrix, 3)
	require.Equal(t, "os", job.Matrix[0].Name)
	require.Equal(t, "arch", job.Matrix[1].Name)
	require.Equal(t, "variant", job.Matrix[2].Name)
}

func TestLoadPipeline_EmptyMatrixAxisFails(t *testing.T) {
	t.Parallel()

	_, err := writePipeline(t, map[string]string{
		"main.hcl": `
			job "test" {
				matrix {
					os = []
				}
				step "s" { run = "true" }
			}
		`,
	})
	require.Error(t, err)
}

func TestLoadPipeline_RetryBlock(t *testing.T) {
	t.Parallel()

	pipeline, err := writePipeline(t, map[string]string{
		"main.hcl": `
			job "flaky" {
				step "s" {
					run = "curl https://example.com"
					retry {
						attempts = 3
						initial  = "500ms"
						factor   = 3.0
					}
				}
			}
		`,
	})
	require.NoError(t, err)

	job, _ := pipeline.Job("flaky")
	policy := job.Steps[0].Retry
	require.NotNil(t, policy)
	require.Equal(t, 3, policy.Attempts)
	require.Equal(t, 500*time.Millisecond, policy.Initial)
	require.Equal(t, 3.0, policy.Factor)
	require.Equal(t, time.Minute, policy.Max)
}

func TestNewRunContext_RejectsUnknownEvent(t *testing.T) {
	t.Parallel()

	_, err := NewRunContext("schedule", "main", "", "abc", nil)
	require.Error(t, err)

	rc, err := NewRunContext(EventPush, "main", "", "abc", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, EventPush, rc.Event())
	v, ok := rc.Input("k")
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestEnvironment_AuthorizedBy(t *testing.T) {
	t.Parallel()

	env := &Environment{
		Name:     "staging",
		Branches: []string{"develop"},
		Dispatch: map[string]string{"environment": "staging"},
	}

	push, err := NewRunContext(EventPush, "develop", "", "abc", nil)
	require.NoError(t, err)
	require.True(t, env.AuthorizedBy(push))

	otherBranch, err := NewRunContext(EventPush, "main", "", "abc", nil)
	require.NoError(t, err)
	require.False(t, env.AuthorizedBy(otherBranch))

	dispatch, err := NewRunContext(EventDispatch, "main", "", "abc",
		map[string]string{"environment": "staging"})
	require.NoError(t, err)
	require.True(t, env.AuthorizedBy(dispatch))
	require.True(t, env.DirectDispatchTarget(dispatch))

	wrongInput, err := NewRunContext(EventDispatch, "main", "", "abc",
		map[string]string{"environment": "production"})
	require.NoError(t, err)
	require.False(t, env.AuthorizedBy(wrongInput))
	require.False(t, env.DirectDispatchTarget(wrongInput))
}
