// Package decision implements the pure, synchronous scaling decision
// function. It holds no state and performs no I/O; every output is
// determined entirely by its inputs.
package decision

import (
	"time"

	"github.com/kontainerops/lxc-autoscaler/pkg/types"
)

// Input bundles everything Evaluate needs to produce one decision.
type Input struct {
	Policy      types.ContainerPolicy
	Metrics     types.ContainerMetrics
	Tracked     bool
	Average     *types.Sample
	Snapshot    types.ClusterSnapshot
	History     types.ScalingHistory
	HasActiveOp bool
	Now         time.Time
}

// Evaluate runs the preflight short-circuits and priority-ordered
// threshold evaluation described for the control loop's core scaling
// logic, returning exactly one ScalingDecision.
func Evaluate(in Input) types.ScalingDecision {
	base := types.ScalingDecision{
		VMID:      in.Policy.VMID,
		Node:      in.Metrics.HostingNode,
		Action:    types.ActionNone,
		Timestamp: in.Now,
	}

	if !in.Tracked {
		base.Reason = types.ReasonInsufficientData
		return base
	}
	if in.Metrics.RuntimeStatus != types.RuntimeStatusRunning {
		base.Reason = types.ReasonNotRunning
		return base
	}
	if in.HasActiveOp {
		base.Reason = types.ReasonCooldown
		return base
	}
	if in.History.InCooldown(in.Policy.CooldownSeconds, in.Now) {
		base.Reason = types.ReasonCooldown
		return base
	}
	if in.Average == nil {
		base.Reason = types.ReasonInsufficientData
		return base
	}

	avg := in.Average
	base.CurrentCores = avg.Cores
	base.CurrentMemMB = int(avg.MemTotalMB)
	cpuPct, memPct := avg.CPUUsagePct, avg.MemUsagePct
	base.ObservedCPU = &cpuPct
	base.ObservedMem = &memPct

	th := in.Policy.Thresholds
	lim := in.Policy.Limits

	switch {
	case cpuPct >= th.CPUUp:
		target := min(avg.Cores+lim.CPUStep, lim.MaxCores)
		return withCoresTarget(base, target, avg.Cores, types.ActionUpCPU, types.ReasonCPUHigh)

	case memPct >= th.MemUp:
		target := min(int(avg.MemTotalMB)+lim.MemStepMB, lim.MaxMemMB)
		return withMemTarget(base, target, int(avg.MemTotalMB), types.ActionUpMem, types.ReasonMemHigh)

	case cpuPct <= th.CPUDown:
		target := max(avg.Cores-lim.CPUStep, lim.MinCores)
		return withCoresTarget(base, target, avg.Cores, types.ActionDownCPU, types.ReasonCPULow)

	case memPct <= th.MemDown:
		target := max(int(avg.MemTotalMB)-lim.MemStepMB, lim.MinMemMB)
		return withMemTarget(base, target, int(avg.MemTotalMB), types.ActionDownMem, types.ReasonMemLow)

	default:
		base.Reason = types.ReasonNoAction
		return base
	}
}

func withCoresTarget(base types.ScalingDecision, target, current int, action types.ScalingAction, reason types.ScalingReason) types.ScalingDecision {
	if target == current {
		base.Reason = types.ReasonAtBound
		return base
	}
	base.Action = action
	base.Reason = reason
	t := target
	base.TargetCores = &t
	return base
}

func withMemTarget(base types.ScalingDecision, target, current int, action types.ScalingAction, reason types.ScalingReason) types.ScalingDecision {
	if target == current {
		base.Reason = types.ReasonAtBound
		return base
	}
	base.Action = action
	base.Reason = reason
	t := target
	base.TargetMemMB = &t
	return base
}
