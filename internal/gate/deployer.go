package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pipewright/pipewright/internal/model"
)

// Workload is one deployable unit reported by the target's rollout endpoint.
type Workload struct {
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

// Deployer abstracts the deployment target so gate logic can be tested
// against an httptest server or a stub.
type Deployer interface {
	// Apply submits the rendered manifest to the target.
	Apply(ctx context.Context, env *model.Environment, manifest []byte, secrets map[string]string) error
	// RolloutStatus reports the current readiness of the target's workloads.
	RolloutStatus(ctx context.Context, env *model.Environment) ([]Workload, error)
	// Probe performs one smoke probe against the environment's base URL.
	Probe(ctx context.Context, env *model.Environment, probe model.SmokeProbe) error
}

// httpDeployer talks to a deployment target over plain HTTP: POST the
// manifest to <deploy_url>/apply, GET <deploy_url>/rollout for status.
type httpDeployer struct {
	client *http.Client
}

// NewHTTPDeployer creates the standard HTTP deployer. A nil client gets a
// sensible default timeout.
func NewHTTPDeployer(client *http.Client) Deployer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &httpDeployer{client: client}
}

func (d *httpDeployer) Apply(ctx context.Context, env *model.Environment, manifest []byte, secrets map[string]string) error {
	endpoint, err := url.JoinPath(env.DeployURL, "apply")
	if err != nil {
		return fmt.Errorf("invalid deploy_url %q: %w", env.DeployURL, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(manifest))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-yaml")
	// Secrets travel as headers so the manifest itself stays free of them.
	for k, v := range secrets {
		req.Header.Set("X-Env-"+headerName(k), v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("apply request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("apply returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (d *httpDeployer) RolloutStatus(ctx context.Context, env *model.Environment) ([]Workload, error) {
	endpoint, err := url.JoinPath(env.DeployURL, "rollout")
	if err != nil {
		return nil, fmt.Errorf("invalid deploy_url %q: %w", env.DeployURL, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rollout status returned %d", resp.StatusCode)
	}

	var workloads []Workload
	if err := json.NewDecoder(resp.Body).Decode(&workloads); err != nil {
		return nil, fmt.Errorf("decoding rollout status: %w", err)
	}
	return workloads, nil
}

func (d *httpDeployer) Probe(ctx context.Context, env *model.Environment, probe model.SmokeProbe) error {
	endpoint, err := url.JoinPath(env.BaseURL, probe.Path)
	if err != nil {
		return fmt.Errorf("invalid probe path %q: %w", probe.Path, err)
	}
	probeCtx, cancel := context.WithTimeout(ctx, probe.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != probe.Expect {
		return fmt.Errorf("expected status %d, got %d", probe.Expect, resp.StatusCode)
	}
	return nil
}

// headerName converts an env-style secret name (DB_PASSWORD) into a header
// suffix (Db-Password).
func headerName(name string) string {
	parts := strings.Split(strings.ToLower(name), "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "-")
}
