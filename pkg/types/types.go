// Package types defines the core data model shared by every package in the
// autoscaling control loop: container policy, telemetry samples, cluster
// snapshots, and scaling decisions. These types are plain values — no
// package in this module mutates another package's types concurrently;
// ownership of the mutable collections built from them (ring buffers,
// history maps) belongs to pkg/aggregator and pkg/executor respectively.
package types

import "time"

// ContainerPolicy is the operator-declared, per-container scaling
// configuration. It is immutable within a control-loop cycle.
type ContainerPolicy struct {
	VMID       int
	Enabled    bool
	Thresholds Thresholds
	Limits     Limits

	CooldownSeconds   int
	EvaluationPeriods int
}

// Thresholds are percentage bounds that trigger scale-up/scale-down
// decisions. Invariant: CPUUp > CPUDown and MemUp > MemDown.
type Thresholds struct {
	CPUUp   float64
	CPUDown float64
	MemUp   float64
	MemDown float64
}

// Limits bound the cores/memory a container may be resized to and the step
// size of each resize. Invariant: Min < Max and steps are positive.
type Limits struct {
	MinCores  int
	MaxCores  int
	CPUStep   int
	MinMemMB  int
	MaxMemMB  int
	MemStepMB int
}

// Sample is one telemetry point for a single container.
type Sample struct {
	Timestamp   time.Time
	CPUUsagePct float64
	MemUsagePct float64
	MemUsedMB   int64
	MemTotalMB  int64
	Cores       int
}

// RuntimeStatus mirrors the cluster management API's reported container
// state. Only RuntimeStatusRunning containers are eligible for scaling.
type RuntimeStatus string

const (
	RuntimeStatusRunning RuntimeStatus = "running"
	RuntimeStatusStopped RuntimeStatus = "stopped"
	RuntimeStatusPaused  RuntimeStatus = "paused"
	RuntimeStatusUnknown RuntimeStatus = "unknown"
)

// ContainerMetrics is the per-vmid rolling telemetry record owned by the
// Metrics Aggregator. RingBuffer is bounded to MaxRingBufferLen entries,
// oldest evicted first, and is always ordered non-decreasing by timestamp.
type ContainerMetrics struct {
	VMID          int
	HostingNode   string
	Name          string
	RuntimeStatus RuntimeStatus
	Uptime        time.Duration
	CurrentSample *Sample
	RingBuffer    []Sample
}

// MaxRingBufferLen is the maximum number of samples retained per container.
const MaxRingBufferLen = 100

// Append adds a sample to the ring buffer, evicting the oldest entry once
// the buffer exceeds MaxRingBufferLen.
func (m *ContainerMetrics) Append(s Sample) {
	m.CurrentSample = &s
	m.RingBuffer = append(m.RingBuffer, s)
	if len(m.RingBuffer) > MaxRingBufferLen {
		m.RingBuffer = m.RingBuffer[len(m.RingBuffer)-MaxRingBufferLen:]
	}
}

// Average returns the arithmetic mean of CPUUsagePct and MemUsagePct over
// the last n samples, with Cores/MemTotalMB taken from the most recent
// sample in the window. Returns nil if fewer than n samples are buffered.
func (m *ContainerMetrics) Average(n int) *Sample {
	if n <= 0 || len(m.RingBuffer) < n {
		return nil
	}
	window := m.RingBuffer[len(m.RingBuffer)-n:]
	var cpuSum, memSum float64
	for _, s := range window {
		cpuSum += s.CPUUsagePct
		memSum += s.MemUsagePct
	}
	latest := window[len(window)-1]
	return &Sample{
		Timestamp:   latest.Timestamp,
		CPUUsagePct: cpuSum / float64(n),
		MemUsagePct: memSum / float64(n),
		MemUsedMB:   latest.MemUsedMB,
		MemTotalMB:  latest.MemTotalMB,
		Cores:       latest.Cores,
	}
}

// Peak returns the maximum CPUUsagePct and MemUsagePct over the last n
// samples, with Cores/MemTotalMB taken from the most recent sample in the
// window. Returns nil if fewer than n samples are buffered.
func (m *ContainerMetrics) Peak(n int) *Sample {
	if n <= 0 || len(m.RingBuffer) < n {
		return nil
	}
	window := m.RingBuffer[len(m.RingBuffer)-n:]
	var cpuPeak, memPeak float64
	for _, s := range window {
		if s.CPUUsagePct > cpuPeak {
			cpuPeak = s.CPUUsagePct
		}
		if s.MemUsagePct > memPeak {
			memPeak = s.MemUsagePct
		}
	}
	latest := window[len(window)-1]
	return &Sample{
		Timestamp:   latest.Timestamp,
		CPUUsagePct: cpuPeak,
		MemUsagePct: memPeak,
		MemUsedMB:   latest.MemUsedMB,
		MemTotalMB:  latest.MemTotalMB,
		Cores:       latest.Cores,
	}
}

// NodeMetrics is the most recently collected status of a physical or
// virtual host in the cluster.
type NodeMetrics struct {
	NodeName    string
	CPUPct      float64
	MemPct      float64
	MemUsedGB   float64
	MemTotalGB  float64
	Uptime      time.Duration
	LoadAverage [3]float64
}

// ClusterSnapshot aggregates node metrics into cluster-wide totals and
// availability figures consumed by the cluster-safety gate.
type ClusterSnapshot struct {
	NodeMetrics []NodeMetrics

	AvgCPUPct float64
	AvgMemPct float64

	// TotalCPUCores is the sum of real per-node core counts when the
	// Gateway exposes them. The source system derived this from
	// len(load_average), which is always 3 and therefore meaningless;
	// that proxy is not replicated here (see DESIGN.md). When no node
	// status carries a real core count, TotalCPUCoresKnown is false and
	// TotalCPUCores must not be used.
	TotalCPUCores      int
	TotalCPUCoresKnown bool
}

// CPUAvailablePct returns the cluster-wide spare CPU capacity, clamped to
// zero.
func (c ClusterSnapshot) CPUAvailablePct() float64 {
	avail := 100 - c.AvgCPUPct
	if avail < 0 {
		return 0
	}
	return avail
}

// MemAvailablePct returns the cluster-wide spare memory capacity, clamped
// to zero.
func (c ClusterSnapshot) MemAvailablePct() float64 {
	avail := 100 - c.AvgMemPct
	if avail < 0 {
		return 0
	}
	return avail
}

// ScalingAction identifies the kind of resize a ScalingDecision proposes.
type ScalingAction string

const (
	ActionNone    ScalingAction = "none"
	ActionUpCPU   ScalingAction = "up_cpu"
	ActionDownCPU ScalingAction = "down_cpu"
	ActionUpMem   ScalingAction = "up_mem"
	ActionDownMem ScalingAction = "down_mem"
)

// ScalingReason explains why a ScalingDecision was made.
type ScalingReason string

const (
	ReasonCPUHigh          ScalingReason = "cpu_high"
	ReasonCPULow           ScalingReason = "cpu_low"
	ReasonMemHigh          ScalingReason = "mem_high"
	ReasonMemLow           ScalingReason = "mem_low"
	ReasonAtBound          ScalingReason = "at_bound"
	ReasonInsufficientData ScalingReason = "insufficient_data"
	ReasonCooldown         ScalingReason = "cooldown"
	ReasonNotRunning       ScalingReason = "not_running"
	ReasonClusterUnsafe    ScalingReason = "cluster_unsafe"
	ReasonNoAction         ScalingReason = "no_action"
	ReasonDryRun           ScalingReason = "dry_run"
)

// ScalingDecision is the Decision Engine's pure output: a single proposed
// (or refused) resize for one container.
type ScalingDecision struct {
	VMID   int
	Node   string
	Action ScalingAction
	Reason ScalingReason

	CurrentCores int
	CurrentMemMB int
	TargetCores  *int
	TargetMemMB  *int
	ObservedCPU  *float64
	ObservedMem  *float64
	Timestamp    time.Time
}

// RequiresScaling reports whether the decision proposes an actual resize.
func (d ScalingDecision) RequiresScaling() bool {
	return d.Action != ActionNone
}

// String renders a short human-readable summary, used in log lines.
func (d ScalingDecision) String() string {
	if !d.RequiresScaling() {
		return "container " + itoa(d.VMID) + ": no scaling (" + string(d.Reason) + ")"
	}
	switch d.Action {
	case ActionUpCPU, ActionDownCPU:
		return "container " + itoa(d.VMID) + ": " + string(d.Action) + " " +
			itoa(d.CurrentCores) + " -> " + itoa(*d.TargetCores) + " cores (" + string(d.Reason) + ")"
	case ActionUpMem, ActionDownMem:
		return "container " + itoa(d.VMID) + ": " + string(d.Action) + " " +
			itoa(d.CurrentMemMB) + " -> " + itoa(*d.TargetMemMB) + " MB (" + string(d.Reason) + ")"
	default:
		return "container " + itoa(d.VMID) + ": " + string(d.Action) + " (" + string(d.Reason) + ")"
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ScalingOperation is an in-flight or completed application of a decision.
type ScalingOperation struct {
	Decision    ScalingDecision
	StartedAt   time.Time
	CompletedAt *time.Time
	Success     *bool
	Error       string
}

// IsCompleted reports whether the operation has finished (successfully or
// not).
func (o ScalingOperation) IsCompleted() bool {
	return o.CompletedAt != nil
}

// ScalingHistory tracks per-vmid scaling outcomes, used solely to evaluate
// cooldown and expose diagnostics. It is in-memory only and does not
// survive a daemon restart.
type ScalingHistory struct {
	VMID            int
	LastScalingTime *time.Time
	LastAction      ScalingAction
	OpCount         int
	SuccessCount    int
	FailureCount    int
}

// Record folds a completed operation into the history. Incomplete
// operations are ignored.
func (h *ScalingHistory) Record(op ScalingOperation) {
	if !op.IsCompleted() {
		return
	}
	h.LastScalingTime = op.CompletedAt
	h.LastAction = op.Decision.Action
	h.OpCount++
	if op.Success != nil && *op.Success {
		h.SuccessCount++
	} else {
		h.FailureCount++
	}
}

// CooldownRemaining returns how much time remains before the container
// leaves cooldown, clamped to zero. A history with no prior scaling action
// is never in cooldown.
func (h ScalingHistory) CooldownRemaining(cooldownSeconds int, now time.Time) time.Duration {
	if h.LastScalingTime == nil {
		return 0
	}
	elapsed := now.Sub(*h.LastScalingTime)
	remaining := time.Duration(cooldownSeconds)*time.Second - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// InCooldown reports whether the container is still within its cooldown
// window.
func (h ScalingHistory) InCooldown(cooldownSeconds int, now time.Time) bool {
	return h.CooldownRemaining(cooldownSeconds, now) > 0
}
