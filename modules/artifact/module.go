// Package artifact provides the artifact_push and artifact_pull actions
// against a SHA-addressed HTTP artifact registry. Artifacts are immutable:
// pushing a tag that already exists is refused, so a SHA can never silently
// point at different bytes between stages.
package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pipewright/pipewright/internal/actions"
)

// Module registers the artifact actions.
type Module struct {
	// Client overrides the HTTP client, primarily for tests.
	Client *http.Client
}

// Register implements actions.Module.
func (m *Module) Register(r *actions.Registry) {
	client := m.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	r.Register("artifact_push", pushFunc(client))
	r.Register("artifact_pull", pullFunc(client))
}

// artifactURL builds <registry>/artifacts/<name>/<sha>.
func artifactURL(in *actions.Input) (string, error) {
	registry, err := in.Param("registry")
	if err != nil {
		return "", err
	}
	name, err := in.Param("name")
	if err != nil {
		return "", err
	}
	sha := in.With["sha"]
	if sha == "" {
		// Default to the run's artifact SHA from the injected environment.
		sha = in.Env["PIPEWRIGHT_SHA"]
	}
	if sha == "" {
		return "", fmt.Errorf("missing required parameter %q", "sha")
	}
	return url.JoinPath(registry, "artifacts", name, sha)
}

func pushFunc(client *http.Client) actions.Func {
	return func(ctx context.Context, in *actions.Input) (string, error) {
		target, err := artifactURL(in)
		if err != nil {
			return "", err
		}
		file, err := in.Param("file")
		if err != nil {
			return "", err
		}
		path := file
		if !filepath.IsAbs(path) && in.Dir != "" {
			path = filepath.Join(in.Dir, file)
		}

		// Immutability check: an existing artifact under this SHA wins.
		head, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
		if err != nil {
			return "", err
		}
		resp, err := client.Do(head)
		if err != nil {
			return "", fmt.Errorf("artifact registry unreachable: %w", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return "", fmt.Errorf("artifact already exists at %s, refusing to overwrite", target)
		}

		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("opening artifact file: %w", err)
		}
		defer f.Close()

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, f)
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		if info, err := f.Stat(); err == nil {
			req.ContentLength = info.Size()
		}

		resp, err = client.Do(req)
		if err != nil {
			return "", fmt.Errorf("artifact push failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return "", fmt.Errorf("artifact push returned status %d", resp.StatusCode)
		}
		return fmt.Sprintf("pushed %s to %s", file, target), nil
	}
}

func pullFunc(client *http.Client) actions.Func {
	return func(ctx context.Context, in *actions.Input) (string, error) {
		target, err := artifactURL(in)
		if err != nil {
			return "", err
		}
		dest, err := in.Param("dest")
		if err != nil {
			return "", err
		}
		path := dest
		if !filepath.IsAbs(path) && in.Dir != "" {
			path = filepath.Join(in.Dir, dest)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("artifact pull failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("artifact pull returned status %d for %s", resp.StatusCode, target)
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		f, err := os.Create(path)
		if err != nil {
			return "", fmt.Errorf("creating destination file: %w", err)
		}
		defer f.Close()
		n, err := io.Copy(f, resp.Body)
		if err != nil {
			return "", fmt.Errorf("writing artifact: %w", err)
		}
		return fmt.Sprintf("pulled %d bytes from %s", n, target), nil
	}
}
