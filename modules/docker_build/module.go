// Package docker_build provides the docker_build action. The container
// toolchain is deliberately opaque: the action shells out to the docker CLI
// rather than binding an SDK, so the host's builder configuration applies
// unchanged.
package docker_build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/pipewright/pipewright/internal/actions"
)

// Module registers the docker_build action.
type Module struct{}

// Register implements actions.Module.
func (m *Module) Register(r *actions.Registry) {
	r.Register("docker_build", build)
}

func build(ctx context.Context, in *actions.Input) (string, error) {
	tag, err := in.Param("tag")
	if err != nil {
		return "", err
	}
	buildContext := in.With["context"]
	if buildContext == "" {
		buildContext = "."
	}

	args := []string{"build", "-t", tag}
	if dockerfile := in.With["dockerfile"]; dockerfile != "" {
		args = append(args, "-f", dockerfile)
	}
	args = append(args, buildContext)

	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Dir = in.Dir
	cmd.Env = os.Environ()
	for k, v := range in.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return buf.String(), fmt.Errorf("docker build failed: %w", err)
	}
	return buf.String(), nil
}
