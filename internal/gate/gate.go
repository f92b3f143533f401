// Package gate guards promotion into deployment environments. A gate checks
// the environment's promotion rule against the run context, binds the
// environment's secrets, applies a pinned manifest to the deployment target,
// waits for rollout, and verifies the result with ordered smoke probes.
//
// A rule mismatch is not a failure: the promotion resolves skipped with zero
// side effects, before any secret is read or any request leaves the process.
package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pipewright/pipewright/internal/ctxlog"
	"github.com/pipewright/pipewright/internal/model"
)

// FailureKind distinguishes the reportable gate failure modes.
type FailureKind string

const (
	KindRolloutTimeout   FailureKind = "rollout-timeout"
	KindSmokeTest        FailureKind = "smoke-test"
	KindMissingPromotion FailureKind = "missing-promotion"
	KindDeploy           FailureKind = "deploy"
	KindSecrets          FailureKind = "secrets"
	KindManifest         FailureKind = "manifest"
)

// GateFailure is a promotion that was authorized but did not complete.
type GateFailure struct {
	Env  string
	Kind FailureKind
	Err  error
}

func (e *GateFailure) Error() string {
	return fmt.Sprintf("gate %q failed (%s): %v", e.Env, e.Kind, e.Err)
}

func (e *GateFailure) Unwrap() error { return e.Err }

// Result is the outcome of a Promote call.
type Result struct {
	Env string
	// Skipped is true when the promotion rule did not authorize the run.
	// No side effect has occurred in that case.
	Skipped bool
	// Reason explains a skip in report-facing terms.
	Reason string
	// Deployed is true once the manifest was applied, even if a later smoke
	// probe failed; an applied manifest is never rolled back automatically.
	Deployed bool
}

// Gate promotes artifacts into environments. Concurrent promotions to the
// same environment serialize on a per-environment lock; distinct
// environments never contend.
type Gate struct {
	Deployer Deployer
	Ledger   *Ledger

	locks sync.Map // env name -> *sync.Mutex
}

// New creates a Gate with an HTTP deployer and a fresh promotion ledger.
func New() *Gate {
	return &Gate{
		Deployer: NewHTTPDeployer(nil),
		Ledger:   NewLedger(),
	}
}

func (g *Gate) lockFor(env string) *sync.Mutex {
	mu, _ := g.locks.LoadOrStore(env, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Promote runs the full gate sequence for one environment and artifact SHA.
// The error, when non-nil, is always a *GateFailure.
func (g *Gate) Promote(ctx context.Context, env *model.Environment, sha string, rc *model.RunContext) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("environment", env.Name, "sha", sha)

	// Rule check comes first so a mismatch has zero side effects.
	if !env.AuthorizedBy(rc) {
		logger.Info("Promotion rule does not match run context, skipping gate.")
		return &Result{
			Env:     env.Name,
			Skipped: true,
			Reason:  fmt.Sprintf("promotion rule for environment %q does not match this run", env.Name),
		}, nil
	}

	if env.RequiresPromoted != "" && !env.DirectDispatchTarget(rc) {
		if !g.Ledger.Promoted(env.RequiresPromoted, sha) {
			return nil, &GateFailure{
				Env:  env.Name,
				Kind: KindMissingPromotion,
				Err: fmt.Errorf("artifact %s has no recorded promotion to %q",
					sha, env.RequiresPromoted),
			}
		}
	}

	mu := g.lockFor(env.Name)
	mu.Lock()
	defer mu.Unlock()

	secrets, err := bindSecrets(env)
	if err != nil {
		return nil, &GateFailure{Env: env.Name, Kind: KindSecrets, Err: err}
	}

	manifest, err := renderManifest(env.Manifest, sha)
	if err != nil {
		return nil, &GateFailure{Env: env.Name, Kind: KindManifest, Err: err}
	}

	logger.Info("🚀 Applying manifest to deployment target.")
	if err := g.Deployer.Apply(ctx, env, manifest, secrets); err != nil {
		return nil, &GateFailure{Env: env.Name, Kind: KindDeploy, Err: err}
	}
	res := &Result{Env: env.Name, Deployed: true}

	if err := g.awaitRollout(ctx, env); err != nil {
		return res, err
	}

	if err := g.runSmokeProbes(ctx, env); err != nil {
		return res, err
	}

	g.Ledger.Record(env.Name, sha)
	logger.Info("✅ Promotion complete.")
	return res, nil
}

// awaitRollout polls the deployment target until every workload reports
// ready or the environment's rollout timeout elapses.
func (g *Gate) awaitRollout(ctx context.Context, env *model.Environment) error {
	logger := ctxlog.FromContext(ctx).With("environment", env.Name)
	deadline := time.Now().Add(env.RolloutTimeout)

	// Poll at a tenth of the timeout, clamped so short timeouts still get a
	// handful of polls and long ones don't hammer the target.
	interval := env.RolloutTimeout / 10
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > 2*time.Second {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		workloads, err := g.Deployer.RolloutStatus(ctx, env)
		if err == nil {
			pending := 0
			for _, w := range workloads {
				if !w.Ready {
					pending++
				}
			}
			if pending == 0 {
				logger.Debug("All workloads ready.", "workloads", len(workloads))
				return nil
			}
			logger.Debug("Waiting for rollout.", "pending", pending)
		} else {
			logger.Debug("Rollout status poll failed, will retry.", "error", err)
		}

		if time.Now().After(deadline) {
			return &GateFailure{
				Env:  env.Name,
				Kind: KindRolloutTimeout,
				Err:  fmt.Errorf("rollout did not complete within %s", env.RolloutTimeout),
			}
		}
		select {
		case <-ctx.Done():
			return &GateFailure{Env: env.Name, Kind: KindRolloutTimeout, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// runSmokeProbes executes the environment's probes in declaration order,
// stopping at the first mismatch.
func (g *Gate) runSmokeProbes(ctx context.Context, env *model.Environment) error {
	logger := ctxlog.FromContext(ctx).With("environment", env.Name)
	for _, probe := range env.Probes {
		logger.Debug("Running smoke probe.", "probe", probe.Name, "path", probe.Path)
		if err := g.Deployer.Probe(ctx, env, probe); err != nil {
			return &GateFailure{
				Env:  env.Name,
				Kind: KindSmokeTest,
				Err:  fmt.Errorf("smoke probe %q: %w", probe.Name, err),
			}
		}
	}
	return nil
}
