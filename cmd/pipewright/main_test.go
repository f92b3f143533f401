package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pipewright/pipewright/internal/cli"
	"github.com/stretchr/testify/require"
)

func TestRun_InvalidDefinitionReturnsError(t *testing.T) {
	t.Parallel()

	invalidHCL := `
		job "build" {
			step "compile" {
		// Missing closing brace here
	`
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "main.hcl")
	require.NoError(t, os.WriteFile(filePath, []byte(invalidHCL), 0o600))

	out := &bytes.Buffer{}
	err := run(out, []string{filePath})

	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse")
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	// The "-h" (help) flag should cause cli.Parse to return `shouldExit=true`.
	out := &bytes.Buffer{}
	err := run(out, []string{"-h"})

	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(out, []string{"--this-is-not-a-valid-flag"})

	require.Error(t, err)
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}

func TestRun_FailedRunExitsNonZero(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	src := `
		job "build" {
			step "s" { run = "exit 7" }
		}
	`
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "main.hcl"), []byte(src), 0o600))

	out := &bytes.Buffer{}
	err := run(out, []string{tempDir})

	require.Error(t, err)
	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 1, exitErr.Code)

	// The run report is printed regardless of the outcome.
	require.Contains(t, out.String(), `"status": "failure"`)
}

func TestRun_SuccessfulRunPrintsReport(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	src := `
		job "build" {
			step "s" { run = "echo done" }
		}
	`
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "main.hcl"), []byte(src), 0o600))

	out := &bytes.Buffer{}
	err := run(out, []string{"-branch", "main", "-sha", "abc123", tempDir})
	require.NoError(t, err)
	require.Contains(t, out.String(), `"status": "success"`)
	require.Contains(t, out.String(), `"sha": "abc123"`)
}
