// Package http_check provides the http_check action: a single HTTP status
// probe against an arbitrary URL.
package http_check

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pipewright/pipewright/internal/actions"
)

// Module registers the http_check action.
type Module struct {
	Client *http.Client
}

// Register implements actions.Module.
func (m *Module) Register(r *actions.Registry) {
	client := m.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	r.Register("http_check", checkFunc(client))
}

func checkFunc(client *http.Client) actions.Func {
	return func(ctx context.Context, in *actions.Input) (string, error) {
		target, err := in.Param("url")
		if err != nil {
			return "", err
		}
		expect := http.StatusOK
		if raw, ok := in.With["expect"]; ok && raw != "" {
			expect, err = strconv.Atoi(raw)
			if err != nil {
				return "", fmt.Errorf("invalid expect value %q: %w", raw, err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("check request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != expect {
			return "", fmt.Errorf("%s returned status %d, expected %d", target, resp.StatusCode, expect)
		}
		return fmt.Sprintf("%s returned %d", target, resp.StatusCode), nil
	}
}
