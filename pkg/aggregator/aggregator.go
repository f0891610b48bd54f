// Package aggregator collects per-node and per-container telemetry from the
// cluster gateway once per control tick and maintains the bounded
// ring-buffer history the decision engine evaluates against.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/kontainerops/lxc-autoscaler/pkg/clockutil"
	"github.com/kontainerops/lxc-autoscaler/pkg/gateway"
	"github.com/kontainerops/lxc-autoscaler/pkg/log"
	"github.com/kontainerops/lxc-autoscaler/pkg/metrics"
	"github.com/kontainerops/lxc-autoscaler/pkg/types"
)

// ContainerFanoutLimit bounds how many containers are collected
// concurrently within one Collect call.
const ContainerFanoutLimit = 5

// TimeseriesTimeframe and TimeseriesAggregation are the arguments passed to
// Gateway.GetContainerTimeseries on every collection.
const (
	TimeseriesTimeframe   = "hour"
	TimeseriesAggregation = "average"
)

// Aggregator owns the per-vmid ring buffers and the latest per-node
// snapshot. All mutation happens from Collect, invoked by the control
// thread; readers (Average, Peak, Nodes) take the read lock.
type Aggregator struct {
	gw    gateway.Gateway
	clock clockutil.Clock

	mu                 sync.RWMutex
	containers         map[int]*types.ContainerMetrics
	nodes              map[string]types.NodeMetrics
	nodeCores          map[string]int // 0 = unknown; populated from gateway.NodeStatus.CPUCores
	lastCollectionTime time.Time
	healthy            bool
	healthMessage      string

	containerFanout *semaphore.Weighted
	logger          zerolog.Logger
}

// New constructs an Aggregator backed by gw, using clock for
// LastCollectionTime stamps.
func New(gw gateway.Gateway, clock clockutil.Clock) *Aggregator {
	return &Aggregator{
		gw:              gw,
		clock:           clock,
		containers:      make(map[int]*types.ContainerMetrics),
		nodes:           make(map[string]types.NodeMetrics),
		nodeCores:       make(map[string]int),
		containerFanout: semaphore.NewWeighted(ContainerFanoutLimit),
		logger:          log.WithComponent("aggregator"),
	}
}

// Collect runs one full collection cycle against the enabled policies.
func (a *Aggregator) Collect(ctx context.Context, policies []types.ContainerPolicy) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CollectionDuration)

	if err := a.collectNodes(ctx); err != nil {
		return err
	}
	a.collectContainers(ctx, policies)

	a.mu.Lock()
	a.lastCollectionTime = a.clock.Now()
	a.mu.Unlock()
	return nil
}

func (a *Aggregator) collectNodes(ctx context.Context) error {
	nodeList, err := a.gw.ListNodes(ctx)
	if err != nil {
		a.mu.Lock()
		a.healthy = false
		a.healthMessage = err.Error()
		a.mu.Unlock()
		return err
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := make(map[string]types.NodeMetrics, len(nodeList))
	freshCores := make(map[string]int, len(nodeList))

	for _, n := range nodeList {
		if n.Status != "online" {
			continue
		}
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := a.gw.GetNodeStatus(ctx, n.Name)
			if err != nil {
				metrics.CollectionErrorsTotal.WithLabelValues("node").Inc()
				a.logger.Warn().Err(err).Str("node", n.Name).Msg("node status collection failed")
				return
			}
			memUsedGB := float64(status.MemUsed) / (1 << 30)
			memTotalGB := float64(status.MemTotal) / (1 << 30)
			memPct := 0.0
			if status.MemTotal > 0 {
				memPct = float64(status.MemUsed) / float64(status.MemTotal) * 100
			}
			nm := types.NodeMetrics{
				NodeName:    n.Name,
				CPUPct:      status.CPUFraction * 100,
				MemPct:      memPct,
				MemUsedGB:   memUsedGB,
				MemTotalGB:  memTotalGB,
				Uptime:      status.Uptime,
				LoadAverage: status.LoadAvg,
			}
			mu.Lock()
			fresh[n.Name] = nm
			freshCores[n.Name] = status.CPUCores
			mu.Unlock()
		}()
	}
	wg.Wait()

	a.mu.Lock()
	a.nodes = fresh
	a.nodeCores = freshCores
	a.healthy = true
	a.healthMessage = ""
	a.mu.Unlock()
	return nil
}

func (a *Aggregator) collectContainers(ctx context.Context, policies []types.ContainerPolicy) {
	var wg sync.WaitGroup
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.containerFanout.Acquire(ctx, 1); err != nil {
				return
			}
			defer a.containerFanout.Release(1)
			a.collectContainer(ctx, p)
		}()
	}
	wg.Wait()
}

func (a *Aggregator) collectContainer(ctx context.Context, p types.ContainerPolicy) {
	node, err := a.gw.FindContainerNode(ctx, p.VMID)
	if err != nil {
		a.logContainerError(p.VMID, err)
		return
	}
	if node == "" {
		a.removeContainer(p.VMID)
		return
	}

	var status gateway.ContainerStatus
	var cfg gateway.ContainerConfig
	var series []gateway.SamplePoint
	var statusErr, cfgErr, seriesErr error

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		status, statusErr = a.gw.GetContainerStatus(ctx, node, p.VMID)
	}()
	go func() {
		defer wg.Done()
		cfg, cfgErr = a.gw.GetContainerConfig(ctx, node, p.VMID)
	}()
	go func() {
		defer wg.Done()
		series, seriesErr = a.gw.GetContainerTimeseries(ctx, node, p.VMID, TimeseriesTimeframe, TimeseriesAggregation)
	}()
	wg.Wait()

	for _, err := range []error{statusErr, cfgErr, seriesErr} {
		if err == nil {
			continue
		}
		if gateway.IsKind(err, gateway.ErrNotFound) {
			a.removeContainer(p.VMID)
			return
		}
		a.logContainerError(p.VMID, err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cm, ok := a.containers[p.VMID]
	if !ok {
		cm = &types.ContainerMetrics{VMID: p.VMID}
		a.containers[p.VMID] = cm
	}
	cm.HostingNode = node
	cm.Name = cfg.Hostname
	cm.RuntimeStatus = types.RuntimeStatus(status.RuntimeStatus)
	cm.Uptime = status.Uptime

	if cm.RuntimeStatus != types.RuntimeStatusRunning {
		return
	}
	if len(series) == 0 {
		return
	}
	latest := series[len(series)-1]
	cm.Append(sampleFromPoint(latest, cfg))
}

func sampleFromPoint(p gateway.SamplePoint, cfg gateway.ContainerConfig) types.Sample {
	const mb = 1 << 20
	memPct := 0.0
	if p.MemMaxBytes > 0 {
		memPct = float64(p.MemBytes) / float64(p.MemMaxBytes) * 100
	}
	cores := cfg.Cores
	if cores <= 0 {
		cores = 1
	}
	return types.Sample{
		Timestamp:   p.Time,
		CPUUsagePct: p.CPUFraction * 100,
		MemUsagePct: memPct,
		MemUsedMB:   p.MemBytes / mb,
		MemTotalMB:  p.MemMaxBytes / mb,
		Cores:       cores,
	}
}

func (a *Aggregator) removeContainer(vmid int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.containers, vmid)
}

func (a *Aggregator) logContainerError(vmid int, err error) {
	metrics.CollectionErrorsTotal.WithLabelValues("container").Inc()
	log.WithVMID(vmid).Warn().Err(err).Msg("container collection failed")
}

// Container returns the tracked metrics record for vmid, or false if it is
// not currently tracked.
func (a *Aggregator) Container(vmid int) (types.ContainerMetrics, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cm, ok := a.containers[vmid]
	if !ok {
		return types.ContainerMetrics{}, false
	}
	return *cm, true
}

// Average returns the average view over the last n samples for vmid, or
// nil if fewer than n samples are buffered or vmid is untracked.
func (a *Aggregator) Average(vmid, n int) *types.Sample {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cm, ok := a.containers[vmid]
	if !ok {
		return nil
	}
	return cm.Average(n)
}

// Peak returns the peak view over the last n samples for vmid, or nil if
// fewer than n samples are buffered or vmid is untracked.
func (a *Aggregator) Peak(vmid, n int) *types.Sample {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cm, ok := a.containers[vmid]
	if !ok {
		return nil
	}
	return cm.Peak(n)
}

// Nodes returns a copy of the latest per-node snapshot.
func (a *Aggregator) Nodes() map[string]types.NodeMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]types.NodeMetrics, len(a.nodes))
	for k, v := range a.nodes {
		out[k] = v
	}
	return out
}

// LastCollectionTime reports when Collect last completed.
func (a *Aggregator) LastCollectionTime() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastCollectionTime
}

// TrackedCount returns how many containers are currently tracked.
func (a *Aggregator) TrackedCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.containers)
}

// HealthCheck reports whether the most recent node collection succeeded.
func (a *Aggregator) HealthCheck() (bool, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.healthy, a.healthMessage
}

// Snapshot builds a ClusterSnapshot from the current node metrics.
func (a *Aggregator) Snapshot() types.ClusterSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := types.ClusterSnapshot{}
	if len(a.nodes) == 0 {
		return snap
	}

	var cpuSum, memSum float64
	coreTotal := 0
	coresKnown := false
	for name, nm := range a.nodes {
		snap.NodeMetrics = append(snap.NodeMetrics, nm)
		cpuSum += nm.CPUPct
		memSum += nm.MemPct
		if cores := a.nodeCores[name]; cores > 0 {
			coreTotal += cores
			coresKnown = true
		}
	}
	snap.AvgCPUPct = cpuSum / float64(len(a.nodes))
	snap.AvgMemPct = memSum / float64(len(a.nodes))
	snap.TotalCPUCores = coreTotal
	snap.TotalCPUCoresKnown = coresKnown
	return snap
}
