// Package executor applies scaling decisions against the cluster gateway,
// enforcing the cluster-safety gate, per-container cooldown, and a bound
// on concurrently outstanding resize calls.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/kontainerops/lxc-autoscaler/pkg/aggregator"
	"github.com/kontainerops/lxc-autoscaler/pkg/clockutil"
	"github.com/kontainerops/lxc-autoscaler/pkg/decision"
	"github.com/kontainerops/lxc-autoscaler/pkg/gateway"
	"github.com/kontainerops/lxc-autoscaler/pkg/log"
	"github.com/kontainerops/lxc-autoscaler/pkg/metrics"
	"github.com/kontainerops/lxc-autoscaler/pkg/types"
)

// SafetyConfig is the cluster-safety gate's threshold configuration.
type SafetyConfig struct {
	MaxConcurrentOperations int
	MaxCPUSafetyPct         float64
	MaxMemSafetyPct         float64
	EnableHostProtection    bool
	DryRun                  bool
}

// Executor applies ScalingDecisions, owning the active-operation and
// history maps. Collect and apply run within the same EvaluateAndApply
// call, but each apply runs in its own goroutine and registers/removes its
// active-operation entry and records its history there, under mu.
type Executor struct {
	gw    gateway.Gateway
	agg   *aggregator.Aggregator
	clock clockutil.Clock
	cfg   SafetyConfig

	mu              sync.Mutex
	activeOps       map[int]struct{}
	history         map[int]*types.ScalingHistory
	lastGateClosed  bool
	lastGateMessage string

	sem    *semaphore.Weighted
	logger zerolog.Logger
}

// New constructs an Executor. cfg.MaxConcurrentOperations must be >= 1.
func New(gw gateway.Gateway, agg *aggregator.Aggregator, clock clockutil.Clock, cfg SafetyConfig) *Executor {
	limit := cfg.MaxConcurrentOperations
	if limit <= 0 {
		limit = 1
	}
	return &Executor{
		gw:        gw,
		agg:       agg,
		clock:     clock,
		cfg:       cfg,
		activeOps: make(map[int]struct{}),
		history:   make(map[int]*types.ScalingHistory),
		sem:       semaphore.NewWeighted(int64(limit)),
		logger:    log.WithComponent("executor"),
	}
}

// Result summarizes one EvaluateAndApply call.
type Result struct {
	Evaluated int
	Scaled    int
	Decisions []types.ScalingDecision
}

// EvaluateAndApply collects fresh telemetry, evaluates every enabled
// policy, and applies every non-none decision subject to the cluster
// safety gate and concurrency bound.
func (e *Executor) EvaluateAndApply(ctx context.Context, policies []types.ContainerPolicy) (Result, error) {
	if err := e.agg.Collect(ctx, policies); err != nil {
		return Result{}, fmt.Errorf("collect telemetry: %w", err)
	}

	snapshot := e.agg.Snapshot()
	if !e.safetyGateOpen(snapshot) {
		metrics.ClusterUnsafeTotal.Inc()
		e.logger.Warn().Msg("cluster safety gate closed, skipping tick")
		return Result{}, nil
	}

	result := Result{}
	now := e.clock.Now()

	var wg sync.WaitGroup
	var resultMu sync.Mutex

	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		result.Evaluated++

		cm, tracked := e.agg.Container(p.VMID)
		avg := e.agg.Average(p.VMID, p.EvaluationPeriods)

		e.mu.Lock()
		_, hasActive := e.activeOps[p.VMID]
		hist := e.historyFor(p.VMID)
		e.mu.Unlock()

		d := decision.Evaluate(decision.Input{
			Policy:      p,
			Metrics:     cm,
			Tracked:     tracked,
			Average:     avg,
			Snapshot:    snapshot,
			History:     hist,
			HasActiveOp: hasActive,
			Now:         now,
		})

		metrics.DecisionsTotal.WithLabelValues(string(d.Action), string(d.Reason)).Inc()

		resultMu.Lock()
		result.Decisions = append(result.Decisions, d)
		resultMu.Unlock()

		if !d.RequiresScaling() {
			continue
		}

		wg.Add(1)
		go func(d types.ScalingDecision) {
			defer wg.Done()
			e.apply(ctx, d)
			resultMu.Lock()
			result.Scaled++
			resultMu.Unlock()
		}(d)
	}
	wg.Wait()

	return result, nil
}

func (e *Executor) safetyGateOpen(snapshot types.ClusterSnapshot) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cfg.EnableHostProtection {
		e.lastGateClosed = false
		return true
	}

	for _, nm := range snapshot.NodeMetrics {
		if nm.CPUPct > e.cfg.MaxCPUSafetyPct || nm.MemPct > e.cfg.MaxMemSafetyPct {
			e.lastGateClosed = true
			e.lastGateMessage = fmt.Sprintf("node %s over safety threshold", nm.NodeName)
			return false
		}
	}
	if snapshot.CPUAvailablePct() < 10 || snapshot.MemAvailablePct() < 10 {
		e.lastGateClosed = true
		e.lastGateMessage = "cluster available capacity below 10%"
		return false
	}

	e.lastGateClosed = false
	e.lastGateMessage = ""
	return true
}

// UpdateSafetyConfig swaps in a new safety configuration, applied from the
// next EvaluateAndApply call onward. Used for SIGHUP config reloads. The
// concurrency bound is sized once in New; a changed
// MaxConcurrentOperations is stored but does not resize it.
func (e *Executor) UpdateSafetyConfig(cfg SafetyConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

func (e *Executor) historyFor(vmid int) types.ScalingHistory {
	h, ok := e.history[vmid]
	if !ok {
		return types.ScalingHistory{VMID: vmid}
	}
	return *h
}

// apply runs the seven-step application sequence for one decision.
func (e *Executor) apply(ctx context.Context, d types.ScalingDecision) {
	e.mu.Lock()
	dryRun := e.cfg.DryRun
	e.mu.Unlock()

	if dryRun {
		log.WithContainer(e.logger, d.VMID, d.Node).Info().
			Str("action", string(d.Action)).Str("reason", string(d.Reason)).
			Msg("dry run: would apply scaling decision")
		d.Reason = types.ReasonDryRun
		op := types.ScalingOperation{Decision: d, StartedAt: e.clock.Now()}
		completed := e.clock.Now()
		success := true
		op.CompletedAt = &completed
		op.Success = &success
		e.recordOperation(d.VMID, op)
		return
	}

	e.mu.Lock()
	e.activeOps[d.VMID] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.activeOps, d.VMID)
		e.mu.Unlock()
	}()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.finishOperation(d, e.clock.Now(), false, err)
		return
	}
	defer e.sem.Release(1)

	timer := metrics.NewTimer()
	cores := d.CurrentCores
	memMB := int64(d.CurrentMemMB)
	if d.TargetCores != nil {
		cores = *d.TargetCores
	}
	if d.TargetMemMB != nil {
		memMB = int64(*d.TargetMemMB)
	}
	req := gateway.ResizeRequest{Cores: &cores, MemoryMB: &memMB}

	err := e.gw.Resize(ctx, d.Node, d.VMID, req)
	timer.ObserveDuration(metrics.ScalingOperationDuration)
	if err != nil {
		metrics.GatewayErrorsTotal.WithLabelValues("Resize", errKind(err)).Inc()
	}
	e.finishOperation(d, e.clock.Now(), err == nil, err)
}

func (e *Executor) finishOperation(d types.ScalingDecision, completedAt time.Time, success bool, err error) {
	outcome := "success"
	op := types.ScalingOperation{Decision: d, StartedAt: completedAt, CompletedAt: &completedAt}
	s := success
	op.Success = &s
	if !success {
		outcome = "failure"
		if err != nil {
			op.Error = err.Error()
		}
	}
	metrics.ScalingOperationsTotal.WithLabelValues(string(d.Action), outcome).Inc()
	e.recordOperation(d.VMID, op)
}

func (e *Executor) recordOperation(vmid int, op types.ScalingOperation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.history[vmid]
	if !ok {
		h = &types.ScalingHistory{VMID: vmid}
		e.history[vmid] = h
	}
	h.Record(op)
}

// Status exposes in-process diagnostics read by the health/metrics surface.
type Status struct {
	ActiveOperations int
	TrackedHistories int
	GateClosed       bool
	GateMessage      string
}

// Status returns a snapshot of the executor's current state.
func (e *Executor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		ActiveOperations: len(e.activeOps),
		TrackedHistories: len(e.history),
		GateClosed:       e.lastGateClosed,
		GateMessage:      e.lastGateMessage,
	}
}

// History returns the scaling history for vmid, or false if none recorded.
func (e *Executor) History(vmid int) (types.ScalingHistory, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.history[vmid]
	if !ok {
		return types.ScalingHistory{}, false
	}
	return *h, true
}

// PingGateway reports whether the cluster gateway answers a health ping.
func (e *Executor) PingGateway(ctx context.Context) (bool, string) {
	if err := e.gw.HealthPing(ctx); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// AggregatorHealth reports whether the aggregator's most recent telemetry
// collection succeeded.
func (e *Executor) AggregatorHealth() (bool, string) {
	return e.agg.HealthCheck()
}

// DryEvaluate runs the decision pipeline against the aggregator's currently
// cached telemetry for every enabled policy, without collecting fresh
// telemetry and without applying any resulting decision. It exists purely
// to confirm the read-evaluate path still functions between collection
// cycles, mirroring the health probe's dry-run evaluation.
func (e *Executor) DryEvaluate(policies []types.ContainerPolicy) (bool, string) {
	snapshot := e.agg.Snapshot()
	now := e.clock.Now()

	evaluated := 0
	for _, p := range policies {
		if !p.Enabled {
			continue
		}

		cm, tracked := e.agg.Container(p.VMID)
		avg := e.agg.Average(p.VMID, p.EvaluationPeriods)

		e.mu.Lock()
		_, hasActive := e.activeOps[p.VMID]
		hist := e.historyFor(p.VMID)
		e.mu.Unlock()

		decision.Evaluate(decision.Input{
			Policy:      p,
			Metrics:     cm,
			Tracked:     tracked,
			Average:     avg,
			Snapshot:    snapshot,
			History:     hist,
			HasActiveOp: hasActive,
			Now:         now,
		})
		evaluated++
	}

	return true, fmt.Sprintf("dry-evaluated %d container(s)", evaluated)
}

func errKind(err error) string {
	if ge, ok := err.(*gateway.Error); ok {
		return string(ge.Kind)
	}
	return "unknown"
}
