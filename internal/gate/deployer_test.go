package gate

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pipewright/pipewright/internal/model"
	"github.com/stretchr/testify/require"
)

func TestHTTPDeployer_Apply(t *testing.T) {
	t.Parallel()

	var gotBody string
	var gotSecret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/apply", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotSecret = r.Header.Get("X-Env-Db-Password")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	env := &model.Environment{Name: "staging", DeployURL: srv.URL}
	d := NewHTTPDeployer(srv.Client())

	err := d.Apply(context.Background(), env, []byte("image: app:sha\n"),
		map[string]string{"DB_PASSWORD": "hunter2"})
	require.NoError(t, err)
	require.Equal(t, "image: app:sha\n", gotBody)
	require.Equal(t, "hunter2", gotSecret)
}

func TestHTTPDeployer_ApplyRejectedStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "manifest invalid", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	d := NewHTTPDeployer(srv.Client())
	err := d.Apply(context.Background(), &model.Environment{DeployURL: srv.URL}, []byte("x"), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "422")
	require.Contains(t, err.Error(), "manifest invalid")
}

func TestHTTPDeployer_RolloutStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rollout", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"name":"web","ready":true},{"name":"worker","ready":false}]`)
	}))
	defer srv.Close()

	d := NewHTTPDeployer(srv.Client())
	workloads, err := d.RolloutStatus(context.Background(), &model.Environment{DeployURL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, []Workload{
		{Name: "web", Ready: true},
		{Name: "worker", Ready: false},
	}, workloads)
}

func TestHTTPDeployer_Probe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	env := &model.Environment{Name: "staging", BaseURL: srv.URL}
	d := NewHTTPDeployer(srv.Client())

	ok := model.SmokeProbe{Name: "health", Path: "/healthz", Expect: 200, Timeout: time.Second}
	require.NoError(t, d.Probe(context.Background(), env, ok))

	bad := model.SmokeProbe{Name: "api", Path: "/api", Expect: 200, Timeout: time.Second}
	err := d.Probe(context.Background(), env, bad)
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected status 200, got 503")
}
