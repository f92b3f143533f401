// Package testutil provides the shared harness for integration tests: it
// materializes an HCL pipeline definition in a temp directory, runs the app
// against a synthetic trigger, and hands back the run report and logs.
package testutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pipewright/pipewright/internal/actions"
	"github.com/pipewright/pipewright/internal/app"
	"github.com/pipewright/pipewright/internal/report"
	"github.com/stretchr/testify/require"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// Trigger describes the synthetic run trigger for a test.
type Trigger struct {
	Event        string
	Branch       string
	TargetBranch string
	SHA          string
	Inputs       map[string]string
}

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	Report    *report.Run
	LogOutput string
	Err       error
	App       *app.App
}

// Instance returns the archived record for an instance ID, failing the test
// when the run never produced it.
func (r *HarnessResult) Instance(t *testing.T, id string) report.Instance {
	t.Helper()
	require.NotNil(t, r.Report, "run produced no report")
	for _, inst := range r.Report.Instances {
		if inst.ID == id {
			return inst
		}
	}
	t.Fatalf("instance %q not found in report (have %d instances)", id, len(r.Report.Instances))
	return report.Instance{}
}

// WriteFiles materializes the given relative-path -> content map under a
// fresh temp directory and returns the directory.
func WriteFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	tmpDir := t.TempDir()
	for name, content := range files {
		filePath := filepath.Join(tmpDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
		require.NoError(t, os.WriteFile(filePath, []byte(content), 0o644))
	}
	return tmpDir
}

// RunPipeline runs the files as a pipeline for the trigger using a default
// background context.
func RunPipeline(t *testing.T, files map[string]string, trigger Trigger, modules ...actions.Module) *HarnessResult {
	t.Helper()
	return RunPipelineWithContext(context.Background(), t, files, trigger, modules...)
}

// RunPipelineWithContext is RunPipeline with a caller-provided context, for
// cancellation tests.
func RunPipelineWithContext(ctx context.Context, t *testing.T, files map[string]string, trigger Trigger, modules ...actions.Module) *HarnessResult {
	t.Helper()

	tmpDir := WriteFiles(t, files)

	if trigger.Event == "" {
		trigger.Event = "push"
	}
	if trigger.SHA == "" {
		trigger.SHA = "cafebabe"
	}

	appConfig := &app.Config{
		PipelinePath: tmpDir,
		Event:        trigger.Event,
		Branch:       trigger.Branch,
		TargetBranch: trigger.TargetBranch,
		SHA:          trigger.SHA,
		Inputs:       trigger.Inputs,
		LogLevel:     "debug",
		LogFormat:    "text",
		WorkerCount:  4,
	}

	logBuffer := &SafeBuffer{}
	if len(modules) == 0 {
		modules = []actions.Module{&NoopModule{}}
	}

	testApp, err := app.NewApp(logBuffer, appConfig, modules...)
	if err != nil {
		return &HarnessResult{LogOutput: logBuffer.String(), Err: err}
	}

	runReport, runErr := testApp.Run(ctx)

	if os.Getenv("PIPEWRIGHT_TEST_LOGS") == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
	}

	return &HarnessResult{
		Report:    runReport,
		LogOutput: logBuffer.String(),
		Err:       runErr,
		App:       testApp,
	}
}
