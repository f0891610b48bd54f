package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kontainerops/lxc-autoscaler/pkg/aggregator"
	"github.com/kontainerops/lxc-autoscaler/pkg/clockutil"
	"github.com/kontainerops/lxc-autoscaler/pkg/executor"
	"github.com/kontainerops/lxc-autoscaler/pkg/gateway/simgateway"
	"github.com/kontainerops/lxc-autoscaler/pkg/metrics"
	"github.com/kontainerops/lxc-autoscaler/pkg/types"
)

func emptyPolicies() []types.ContainerPolicy { return nil }

func TestController_RunStopsOnCancel(t *testing.T) {
	gw := simgateway.New()
	gw.AddNode(simgateway.Node{Name: "node-a", Online: true, CPUFrac: 0.1, MemUsed: 1 << 30, MemTotal: 4 << 30})
	clock := clockutil.NewFake(time.Now())
	agg := aggregator.New(gw, clock)
	exec := executor.New(gw, agg, clock, executor.SafetyConfig{MaxConcurrentOperations: 1, MaxCPUSafetyPct: 95, MaxMemSafetyPct: 95, EnableHostProtection: true})

	c := New(exec, emptyPolicies, clock, MinMonitoringInterval, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Let the first cycle run, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not stop after cancellation")
	}

	status := c.Status()
	assert.GreaterOrEqual(t, status.CyclesTotal, 1)
	assert.Equal(t, 0, status.CyclesFailed)
}

func TestProbeHealth_UpdatesAllThreeComponents(t *testing.T) {
	gw := simgateway.New()
	gw.AddNode(simgateway.Node{Name: "node-a", Online: true, CPUFrac: 0.1, MemUsed: 1 << 30, MemTotal: 4 << 30})
	clock := clockutil.NewFake(time.Now())
	agg := aggregator.New(gw, clock)
	exec := executor.New(gw, agg, clock, executor.SafetyConfig{MaxConcurrentOperations: 1, MaxCPUSafetyPct: 95, MaxMemSafetyPct: 95, EnableHostProtection: true})

	c := New(exec, emptyPolicies, clock, MinMonitoringInterval, time.Second)
	c.probeHealth(context.Background())

	health := metrics.GetHealth()
	assert.Equal(t, "healthy", health.Components["gateway"])
	assert.NotEqual(t, "pending", health.Components["aggregator"], "aggregator health must come from a real collection, not startup registration")
	assert.NotEqual(t, "pending", health.Components["executor"], "executor health must come from a real dry evaluation, not startup registration")
}

func TestNew_ClampsMinimumInterval(t *testing.T) {
	gw := simgateway.New()
	clock := clockutil.NewFake(time.Now())
	agg := aggregator.New(gw, clock)
	exec := executor.New(gw, agg, clock, executor.SafetyConfig{MaxConcurrentOperations: 1})

	c := New(exec, emptyPolicies, clock, time.Second, 0)
	assert.Equal(t, MinMonitoringInterval, c.interval)
	assert.Equal(t, 30*time.Second, c.resourceCheckInterval)
}
