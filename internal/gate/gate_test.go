package gate

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pipewright/pipewright/internal/model"
	"github.com/stretchr/testify/require"
)

// stubDeployer records calls and returns scripted results.
type stubDeployer struct {
	mu          sync.Mutex
	applied     [][]byte
	secrets     []map[string]string
	rollout     []Workload
	rolloutErr  error
	probeErr    error
	probeCalled []string
}

func (d *stubDeployer) Apply(ctx context.Context, env *model.Environment, manifest []byte, secrets map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applied = append(d.applied, manifest)
	d.secrets = append(d.secrets, secrets)
	return nil
}

func (d *stubDeployer) RolloutStatus(ctx context.Context, env *model.Environment) ([]Workload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rollout, d.rolloutErr
}

func (d *stubDeployer) Probe(ctx context.Context, env *model.Environment, probe model.SmokeProbe) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probeCalled = append(d.probeCalled, probe.Name)
	return d.probeErr
}

func (d *stubDeployer) applyCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.applied)
}

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func stagingEnv(t *testing.T, manifest string) *model.Environment {
	t.Helper()
	return &model.Environment{
		Name:           "staging",
		Branches:       []string{"develop"},
		BaseURL:        "https://staging.example.com",
		DeployURL:      "https://deployer.internal",
		Manifest:       manifest,
		RolloutTimeout: 200 * time.Millisecond,
	}
}

func pushContext(t *testing.T, branch string) *model.RunContext {
	t.Helper()
	rc, err := model.NewRunContext(model.EventPush, branch, "", "abc123", nil)
	require.NoError(t, err)
	return rc
}

func readyDeployer() *stubDeployer {
	return &stubDeployer{rollout: []Workload{{Name: "web", Ready: true}}}
}

func newTestGate(d Deployer) *Gate {
	return &Gate{Deployer: d, Ledger: NewLedger()}
}

func TestPromote_RuleMismatchSkipsWithZeroSideEffects(t *testing.T) {
	t.Parallel()

	deployer := readyDeployer()
	g := newTestGate(deployer)

	// The secrets file does not exist; a mismatch must never try to read it.
	env := stagingEnv(t, "does-not-exist.yaml")
	env.SecretsFile = "does-not-exist.env"

	res, err := g.Promote(context.Background(), env, "abc123", pushContext(t, "feature/x"))
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.False(t, res.Deployed)
	require.Contains(t, res.Reason, "promotion rule")
	require.Zero(t, deployer.applyCount(), "no apply on rule mismatch")
}

func TestPromote_SuccessRecordsLedger(t *testing.T) {
	t.Parallel()

	manifest := writeManifest(t, "image: registry/app:latest\n")
	deployer := readyDeployer()
	g := newTestGate(deployer)

	res, err := g.Promote(context.Background(), stagingEnv(t, manifest), "abc123", pushContext(t, "develop"))
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.True(t, res.Deployed)
	require.True(t, g.Ledger.Promoted("staging", "abc123"))

	require.Equal(t, 1, deployer.applyCount())
	require.Contains(t, string(deployer.applied[0]), "registry/app:abc123")
}

func TestPromote_RolloutTimeoutKind(t *testing.T) {
	t.Parallel()

	manifest := writeManifest(t, "image: app\n")
	deployer := &stubDeployer{rollout: []Workload{{Name: "web", Ready: false}}}
	g := newTestGate(deployer)

	res, err := g.Promote(context.Background(), stagingEnv(t, manifest), "abc123", pushContext(t, "develop"))
	require.Error(t, err)

	var gateErr *GateFailure
	require.ErrorAs(t, err, &gateErr)
	require.Equal(t, KindRolloutTimeout, gateErr.Kind)

	// The manifest was applied before the rollout stalled.
	require.NotNil(t, res)
	require.True(t, res.Deployed)
	require.False(t, g.Ledger.Promoted("staging", "abc123"))
}

func TestPromote_SmokeFailureKindIsDistinct(t *testing.T) {
	t.Parallel()

	manifest := writeManifest(t, "image: app\n")
	deployer := readyDeployer()
	deployer.probeErr = context.DeadlineExceeded
	g := newTestGate(deployer)

	env := stagingEnv(t, manifest)
	env.Probes = []model.SmokeProbe{
		{Name: "health", Path: "/healthz", Expect: 200, Timeout: time.Second},
	}

	res, err := g.Promote(context.Background(), env, "abc123", pushContext(t, "develop"))
	require.Error(t, err)

	var gateErr *GateFailure
	require.ErrorAs(t, err, &gateErr)
	require.Equal(t, KindSmokeTest, gateErr.Kind)
	require.Contains(t, gateErr.Error(), "health")

	// The failed smoke leaves the applied manifest in place.
	require.NotNil(t, res)
	require.True(t, res.Deployed)
	require.False(t, g.Ledger.Promoted("staging", "abc123"))
}

func TestPromote_SmokeProbesRunInOrderAndStopAtFirstFailure(t *testing.T) {
	t.Parallel()

	manifest := writeManifest(t, "image: app\n")
	deployer := readyDeployer()
	g := newTestGate(deployer)

	env := stagingEnv(t, manifest)
	env.Probes = []model.SmokeProbe{
		{Name: "first", Path: "/a", Expect: 200, Timeout: time.Second},
		{Name: "second", Path: "/b", Expect: 200, Timeout: time.Second},
	}

	_, err := g.Promote(context.Background(), env, "abc123", pushContext(t, "develop"))
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, deployer.probeCalled)
}

func TestPromote_RequiresPromotedUpstream(t *testing.T) {
	t.Parallel()

	manifest := writeManifest(t, "image: app\n")
	deployer := readyDeployer()
	g := newTestGate(deployer)

	prod := &model.Environment{
		Name:             "production",
		Branches:         []string{"main"},
		DeployURL:        "https://deployer.internal",
		Manifest:         manifest,
		RolloutTimeout:   200 * time.Millisecond,
		RequiresPromoted: "staging",
	}

	_, err := g.Promote(context.Background(), prod, "abc123", pushContext(t, "main"))
	require.Error(t, err)
	var gateErr *GateFailure
	require.ErrorAs(t, err, &gateErr)
	require.Equal(t, KindMissingPromotion, gateErr.Kind)
	require.Zero(t, deployer.applyCount())

	// After staging records the same SHA, production goes through.
	g.Ledger.Record("staging", "abc123")
	res, err := g.Promote(context.Background(), prod, "abc123", pushContext(t, "main"))
	require.NoError(t, err)
	require.True(t, res.Deployed)
}

func TestPromote_DirectDispatchBypassesLedger(t *testing.T) {
	t.Parallel()

	manifest := writeManifest(t, "image: app\n")
	deployer := readyDeployer()
	g := newTestGate(deployer)

	prod := &model.Environment{
		Name:             "production",
		Dispatch:         map[string]string{"environment": "production"},
		DeployURL:        "https://deployer.internal",
		Manifest:         manifest,
		RolloutTimeout:   200 * time.Millisecond,
		RequiresPromoted: "staging",
	}

	rc, err := model.NewRunContext(model.EventDispatch, "main", "", "abc123",
		map[string]string{"environment": "production"})
	require.NoError(t, err)

	res, err := g.Promote(context.Background(), prod, "abc123", rc)
	require.NoError(t, err)
	require.True(t, res.Deployed)
}

func TestPromote_SecretsHandedToDeployer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	secretsPath := filepath.Join(dir, "staging.env")
	require.NoError(t, os.WriteFile(secretsPath, []byte("DB_PASSWORD=hunter2\nAPI_KEY=k\n"), 0o600))
	manifest := writeManifest(t, "image: app\n")

	deployer := readyDeployer()
	g := newTestGate(deployer)

	env := stagingEnv(t, manifest)
	env.SecretsFile = secretsPath
	env.Vars = map[string]string{"REGION": "eu-west-1", "API_KEY": "override"}

	_, err := g.Promote(context.Background(), env, "abc123", pushContext(t, "develop"))
	require.NoError(t, err)

	require.Len(t, deployer.secrets, 1)
	require.Equal(t, "hunter2", deployer.secrets[0]["DB_PASSWORD"])
	require.Equal(t, "eu-west-1", deployer.secrets[0]["REGION"])
	require.Equal(t, "override", deployer.secrets[0]["API_KEY"], "vars override secrets on collision")
}

func TestRenderManifest_PinsAllImages(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, `
apiVersion: apps/v1
kind: Deployment
spec:
  template:
    spec:
      containers:
        - name: web
          image: registry.internal:5000/app:latest
        - name: sidecar
          image: registry.internal/helper
`)

	out, err := renderManifest(path, "deadbeef")
	require.NoError(t, err)
	require.Contains(t, string(out), "registry.internal:5000/app:deadbeef")
	require.Contains(t, string(out), "registry.internal/helper:deadbeef")
	require.NotContains(t, string(out), ":latest")
}

func TestRenderManifest_MultiDocument(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, "image: a:v1\n---\nimage: b:v2\n")
	out, err := renderManifest(path, "sha1")
	require.NoError(t, err)
	require.Contains(t, string(out), "a:sha1")
	require.Contains(t, string(out), "b:sha1")
}

func TestRenderManifest_MissingFileFails(t *testing.T) {
	t.Parallel()

	_, err := renderManifest(filepath.Join(t.TempDir(), "nope.yaml"), "sha")
	require.Error(t, err)
}

// overlapDeployer fails the test if two Apply calls ever overlap.
type overlapDeployer struct {
	stubDeployer
	inflight int32
	overlap  bool
}

func (d *overlapDeployer) Apply(ctx context.Context, env *model.Environment, manifest []byte, secrets map[string]string) error {
	d.mu.Lock()
	d.inflight++
	if d.inflight > 1 {
		d.overlap = true
	}
	d.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	d.mu.Lock()
	d.inflight--
	d.mu.Unlock()
	return nil
}

func TestPromote_SameEnvironmentSerializes(t *testing.T) {
	t.Parallel()

	manifest := writeManifest(t, "image: app\n")
	deployer := &overlapDeployer{}
	deployer.rollout = []Workload{{Name: "web", Ready: true}}
	g := newTestGate(deployer)

	env := stagingEnv(t, manifest)
	rc := pushContext(t, "develop")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Promote(context.Background(), env, "abc123", rc)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.False(t, deployer.overlap, "promotions to one environment must not overlap")
}

func TestLedger(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	require.False(t, l.Promoted("staging", "abc"))
	l.Record("staging", "abc")
	require.True(t, l.Promoted("staging", "abc"))
	require.False(t, l.Promoted("staging", "def"))
	require.False(t, l.Promoted("production", "abc"))
}
