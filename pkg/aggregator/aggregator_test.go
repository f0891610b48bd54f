package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kontainerops/lxc-autoscaler/pkg/clockutil"
	"github.com/kontainerops/lxc-autoscaler/pkg/gateway"
	"github.com/kontainerops/lxc-autoscaler/pkg/gateway/simgateway"
	"github.com/kontainerops/lxc-autoscaler/pkg/types"
)

func policy(vmid int, enabled bool) types.ContainerPolicy {
	return types.ContainerPolicy{
		VMID:    vmid,
		Enabled: enabled,
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

func seedNode(gw *simgateway.Gateway, name string, cores int) {
	gw.AddNode(simgateway.Node{Name: name, Online: true, CPUFrac: 0.4, MemUsed: 2 << 30, MemTotal: 4 << 30, CPUCores: cores})
}

func seedRunningContainer(gw *simgateway.Gateway, vmid int, node string, n int) {
	now := time.Now()
	points := make([]gateway.SamplePoint, 0, n)
	for i := 0; i < n; i++ {
		points = append(points, gateway.SamplePoint{
			Time: now.Add(time.Duration(i) * time.Minute), CPUFraction: 0.5, MemBytes: 512 << 20, MemMaxBytes: 2048 << 20,
		})
	}
	gw.AddContainer(simgateway.Container{
		VMID: vmid, Node: node, Hostname: "web", Status: "running", Cores: 2, MemoryMB: 2048, Series: points,
	})
}

func TestCollect_TracksRunningContainer(t *testing.T) {
	gw := simgateway.New()
	seedNode(gw, "node-a", 8)
	seedRunningContainer(gw, 101, "node-a", 1)
	clock := clockutil.NewFake(time.Now())
	a := New(gw, clock)

	err := a.Collect(context.Background(), []types.ContainerPolicy{policy(101, true)})
	require.NoError(t, err)

	cm, ok := a.Container(101)
	require.True(t, ok)
	assert.Equal(t, "node-a", cm.HostingNode)
	assert.Equal(t, types.RuntimeStatusRunning, cm.RuntimeStatus)
	require.NotNil(t, cm.CurrentSample)
	assert.Equal(t, 1, a.TrackedCount())
}

func TestCollect_DisabledPolicySkipped(t *testing.T) {
	gw := simgateway.New()
	seedNode(gw, "node-a", 8)
	seedRunningContainer(gw, 101, "node-a", 1)
	clock := clockutil.NewFake(time.Now())
	a := New(gw, clock)

	err := a.Collect(context.Background(), []types.ContainerPolicy{policy(101, false)})
	require.NoError(t, err)

	_, ok := a.Container(101)
	assert.False(t, ok)
}

func TestCollect_NotFoundRemovesTrackedContainer(t *testing.T) {
	gw := simgateway.New()
	seedNode(gw, "node-a", 8)
	seedRunningContainer(gw, 101, "node-a", 1)
	clock := clockutil.NewFake(time.Now())
	a := New(gw, clock)

	require.NoError(t, a.Collect(context.Background(), []types.ContainerPolicy{policy(101, true)}))
	_, ok := a.Container(101)
	require.True(t, ok)

	gw.AddContainer(simgateway.Container{VMID: 101, Node: "", Status: "running"})
	require.NoError(t, a.Collect(context.Background(), []types.ContainerPolicy{policy(101, true)}))

	_, ok = a.Container(101)
	assert.False(t, ok, "FindContainerNode returning empty node must evict the tracked container")
}

func TestCollect_RingBufferEvictsAtCapacity(t *testing.T) {
	gw := simgateway.New()
	seedNode(gw, "node-a", 8)
	seedRunningContainer(gw, 101, "node-a", 1)
	clock := clockutil.NewFake(time.Now())
	a := New(gw, clock)

	for i := 0; i < types.MaxRingBufferLen+10; i++ {
		require.NoError(t, a.Collect(context.Background(), []types.ContainerPolicy{policy(101, true)}))
	}

	cm, ok := a.Container(101)
	require.True(t, ok)
	assert.LessOrEqual(t, len(cm.RingBuffer), types.MaxRingBufferLen)
}

func TestAverage_RequiresFullWindow(t *testing.T) {
	gw := simgateway.New()
	seedNode(gw, "node-a", 8)
	seedRunningContainer(gw, 101, "node-a", 1)
	clock := clockutil.NewFake(time.Now())
	a := New(gw, clock)

	require.NoError(t, a.Collect(context.Background(), []types.ContainerPolicy{policy(101, true)}))
	assert.Nil(t, a.Average(101, 3), "only one sample collected so far, window of 3 is unmet")

	require.NoError(t, a.Collect(context.Background(), []types.ContainerPolicy{policy(101, true)}))
	require.NoError(t, a.Collect(context.Background(), []types.ContainerPolicy{policy(101, true)}))
	avg := a.Average(101, 3)
	require.NotNil(t, avg)
}

func TestAverage_UnknownContainerReturnsNil(t *testing.T) {
	gw := simgateway.New()
	clock := clockutil.NewFake(time.Now())
	a := New(gw, clock)
	assert.Nil(t, a.Average(999, 1))
	assert.Nil(t, a.Peak(999, 1))
}

func TestSnapshot_TotalCPUCoresKnownWhenNodeReportsCores(t *testing.T) {
	gw := simgateway.New()
	seedNode(gw, "node-a", 8)
	seedNode(gw, "node-b", 4)
	clock := clockutil.NewFake(time.Now())
	a := New(gw, clock)

	require.NoError(t, a.Collect(context.Background(), nil))

	snap := a.Snapshot()
	assert.True(t, snap.TotalCPUCoresKnown)
	assert.Equal(t, 12, snap.TotalCPUCores)
}

func TestSnapshot_TotalCPUCoresUnknownWhenAbsent(t *testing.T) {
	gw := simgateway.New()
	gw.AddNode(simgateway.Node{Name: "node-a", Online: true, CPUFrac: 0.3, MemUsed: 1 << 30, MemTotal: 4 << 30})
	clock := clockutil.NewFake(time.Now())
	a := New(gw, clock)

	require.NoError(t, a.Collect(context.Background(), nil))

	snap := a.Snapshot()
	assert.False(t, snap.TotalCPUCoresKnown)
}

func TestSnapshot_EmptyWhenNoNodesCollected(t *testing.T) {
	gw := simgateway.New()
	clock := clockutil.NewFake(time.Now())
	a := New(gw, clock)

	require.NoError(t, a.Collect(context.Background(), nil))
	snap := a.Snapshot()
	assert.Empty(t, snap.NodeMetrics)
}

func TestCollect_NodeListFailureReportsUnhealthy(t *testing.T) {
	gw := simgateway.New()
	gw.FailNextCall("ListNodes", gateway.NewError(gateway.ErrOperationFailed, "ListNodes", "simulated failure", nil))
	clock := clockutil.NewFake(time.Now())
	a := New(gw, clock)

	err := a.Collect(context.Background(), nil)
	require.Error(t, err)

	healthy, msg := a.HealthCheck()
	assert.False(t, healthy)
	assert.NotEmpty(t, msg)
}

func TestCollect_OfflineNodeSkipped(t *testing.T) {
	gw := simgateway.New()
	gw.AddNode(simgateway.Node{Name: "node-a", Online: false, CPUCores: 8})
	clock := clockutil.NewFake(time.Now())
	a := New(gw, clock)

	require.NoError(t, a.Collect(context.Background(), nil))
	assert.Empty(t, a.Nodes())
}
