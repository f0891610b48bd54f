package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kontainerops/lxc-autoscaler/pkg/aggregator"
	"github.com/kontainerops/lxc-autoscaler/pkg/clockutil"
	"github.com/kontainerops/lxc-autoscaler/pkg/gateway"
	"github.com/kontainerops/lxc-autoscaler/pkg/gateway/simgateway"
	"github.com/kontainerops/lxc-autoscaler/pkg/types"
)

func seedCluster(gw *simgateway.Gateway, cpuBusy bool) {
	gw.AddNode(simgateway.Node{Name: "node-a", Online: true, CPUFrac: 0.2, MemUsed: 1 << 30, MemTotal: 4 << 30, CPUCores: 8})
	if cpuBusy {
		gw.AddNode(simgateway.Node{Name: "node-b", Online: true, CPUFrac: 0.97, MemUsed: 1 << 30, MemTotal: 4 << 30, CPUCores: 8})
	}
	now := time.Now()
	points := make([]gateway.SamplePoint, 0, 3)
	for i := 0; i < 3; i++ {
		points = append(points, gateway.SamplePoint{
			Time: now.Add(time.Duration(i) * time.Minute), CPUFraction: 0.83, MemBytes: 400 << 20, MemMaxBytes: 2048 << 20,
		})
	}
	gw.AddContainer(simgateway.Container{
		VMID: 101, Node: "node-a", Hostname: "web-1", Status: "running", Cores: 2, MemoryMB: 2048, Series: points,
	})
}

func policy101() types.ContainerPolicy {
	return types.ContainerPolicy{
		VMID:    101,
		Enabled: true,
		Thresholds: types.Thresholds{
			CPUUp: 80, CPUDown: 30, MemUp: 85, MemDown: 40,
		},
		Limits: types.Limits{
			MinCores: 1, MaxCores: 4, CPUStep: 1,
			MinMemMB: 512, MaxMemMB: 8192, MemStepMB: 256,
		},
		CooldownSeconds:   300,
		EvaluationPeriods: 3,
	}
}

func newExecutor(gw *simgateway.Gateway, clock clockutil.Clock, cfg SafetyConfig) *Executor {
	agg := aggregator.New(gw, clock)
	return New(gw, agg, clock, cfg)
}

func defaultSafety() SafetyConfig {
	return SafetyConfig{MaxConcurrentOperations: 3, MaxCPUSafetyPct: 95, MaxMemSafetyPct: 95, EnableHostProtection: true}
}

// fillWindow collects telemetry until p's evaluation window is one sample
// short. Each Collect appends one sample, so the collection inside the next
// EvaluateAndApply completes the window.
func fillWindow(t *testing.T, e *Executor, p types.ContainerPolicy) {
	t.Helper()
	for i := 1; i < p.EvaluationPeriods; i++ {
		require.NoError(t, e.agg.Collect(context.Background(), []types.ContainerPolicy{p}))
	}
}

func TestEvaluateAndApply_ScalesUp(t *testing.T) {
	gw := simgateway.New()
	seedCluster(gw, false)
	clock := clockutil.NewFake(time.Now())
	e := newExecutor(gw, clock, defaultSafety())
	fillWindow(t, e, policy101())

	result, err := e.EvaluateAndApply(context.Background(), []types.ContainerPolicy{policy101()})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Evaluated)
	assert.Equal(t, 1, result.Scaled)
	require.Len(t, result.Decisions, 1)
	assert.Equal(t, types.ActionUpCPU, result.Decisions[0].Action)

	resizes := gw.Resizes()
	require.Len(t, resizes, 1)
	require.NotNil(t, resizes[0].Cores)
	assert.Equal(t, 3, *resizes[0].Cores)
	require.NotNil(t, resizes[0].MemoryMB)
}

func TestEvaluateAndApply_ClusterSafetyGateBlocks(t *testing.T) {
	gw := simgateway.New()
	seedCluster(gw, true) // node-b over 95% cpu
	clock := clockutil.NewFake(time.Now())
	e := newExecutor(gw, clock, defaultSafety())

	result, err := e.EvaluateAndApply(context.Background(), []types.ContainerPolicy{policy101()})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Evaluated)
	assert.Equal(t, 0, result.Scaled)
	assert.Empty(t, gw.Resizes())

	status := e.Status()
	assert.True(t, status.GateClosed)
}

func TestEvaluateAndApply_CooldownSuppressesSecondCall(t *testing.T) {
	gw := simgateway.New()
	seedCluster(gw, false)
	clock := clockutil.NewFake(time.Now())
	e := newExecutor(gw, clock, defaultSafety())
	fillWindow(t, e, policy101())

	_, err := e.EvaluateAndApply(context.Background(), []types.ContainerPolicy{policy101()})
	require.NoError(t, err)
	require.Len(t, gw.Resizes(), 1)

	clock.Advance(30 * time.Second) // well within the 300s cooldown
	result, err := e.EvaluateAndApply(context.Background(), []types.ContainerPolicy{policy101()})
	require.NoError(t, err)

	assert.Equal(t, types.ReasonCooldown, result.Decisions[0].Reason)
	assert.Len(t, gw.Resizes(), 1, "cooldown should suppress the second resize call")
}

func TestEvaluateAndApply_DryRunNeverCallsGateway(t *testing.T) {
	gw := simgateway.New()
	seedCluster(gw, false)
	clock := clockutil.NewFake(time.Now())
	cfg := defaultSafety()
	cfg.DryRun = true
	e := newExecutor(gw, clock, cfg)
	fillWindow(t, e, policy101())

	result, err := e.EvaluateAndApply(context.Background(), []types.ContainerPolicy{policy101()})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Scaled)
	assert.Empty(t, gw.Resizes())

	hist, ok := e.History(101)
	require.True(t, ok)
	assert.Equal(t, 1, hist.OpCount)
	assert.Equal(t, 1, hist.SuccessCount)
}

func TestPingGateway_ReportsGatewayFailure(t *testing.T) {
	gw := simgateway.New()
	gw.FailNextCall("HealthPing", gateway.NewError(gateway.ErrTimeout, "HealthPing", "simulated timeout", nil))
	clock := clockutil.NewFake(time.Now())
	e := newExecutor(gw, clock, defaultSafety())

	healthy, msg := e.PingGateway(context.Background())
	assert.False(t, healthy)
	assert.NotEmpty(t, msg)
}

func TestPingGateway_HealthyByDefault(t *testing.T) {
	gw := simgateway.New()
	clock := clockutil.NewFake(time.Now())
	e := newExecutor(gw, clock, defaultSafety())

	healthy, msg := e.PingGateway(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, msg)
}

func TestAggregatorHealth_ReflectsAggregatorState(t *testing.T) {
	gw := simgateway.New()
	seedCluster(gw, false)
	clock := clockutil.NewFake(time.Now())
	e := newExecutor(gw, clock, defaultSafety())

	require.NoError(t, e.agg.Collect(context.Background(), []types.ContainerPolicy{policy101()}))

	healthy, _ := e.AggregatorHealth()
	assert.True(t, healthy)
}

func TestDryEvaluate_DoesNotCallGateway(t *testing.T) {
	gw := simgateway.New()
	seedCluster(gw, false)
	clock := clockutil.NewFake(time.Now())
	e := newExecutor(gw, clock, defaultSafety())

	require.NoError(t, e.agg.Collect(context.Background(), []types.ContainerPolicy{policy101()}))

	healthy, msg := e.DryEvaluate([]types.ContainerPolicy{policy101()})
	assert.True(t, healthy)
	assert.Contains(t, msg, "1")
	assert.Empty(t, gw.Resizes(), "a dry evaluation must never apply a resize")

	hist, ok := e.History(101)
	assert.False(t, ok, "a dry evaluation must never record a scaling operation")
	_ = hist
}

func TestDryEvaluate_SkipsDisabledPolicies(t *testing.T) {
	gw := simgateway.New()
	seedCluster(gw, false)
	clock := clockutil.NewFake(time.Now())
	e := newExecutor(gw, clock, defaultSafety())

	p := policy101()
	p.Enabled = false

	healthy, msg := e.DryEvaluate([]types.ContainerPolicy{p})
	assert.True(t, healthy)
	assert.Contains(t, msg, "0")
}

func TestEvaluateAndApply_RecordsHistoryOnFailure(t *testing.T) {
	gw := simgateway.New()
	seedCluster(gw, false)
	gw.FailNextCall("Resize", gateway.NewError(gateway.ErrOperationFailed, "Resize", "simulated failure", nil))
	clock := clockutil.NewFake(time.Now())
	e := newExecutor(gw, clock, defaultSafety())
	fillWindow(t, e, policy101())

	_, err := e.EvaluateAndApply(context.Background(), []types.ContainerPolicy{policy101()})
	require.NoError(t, err)

	hist, ok := e.History(101)
	require.True(t, ok)
	assert.Equal(t, 1, hist.OpCount)
	assert.Equal(t, 1, hist.FailureCount)
	assert.Equal(t, 0, hist.SuccessCount)
	assert.NotNil(t, hist.LastScalingTime, "failure still records last_scaling_time to prevent retry storms")
}
