// Package controller drives the periodic control loop: it ticks the
// executor at the configured monitoring interval and runs an independent
// health-probe goroutine that never perturbs the main loop.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kontainerops/lxc-autoscaler/pkg/clockutil"
	"github.com/kontainerops/lxc-autoscaler/pkg/executor"
	"github.com/kontainerops/lxc-autoscaler/pkg/log"
	"github.com/kontainerops/lxc-autoscaler/pkg/metrics"
	"github.com/kontainerops/lxc-autoscaler/pkg/types"
)

// MinMonitoringInterval is the minimum permitted tick period.
const MinMonitoringInterval = 30 * time.Second

// PolicySource returns the current set of container policies, allowing a
// SIGHUP reload to swap in a new set before the next tick without
// restarting the controller.
type PolicySource func() []types.ContainerPolicy

// Controller drives Executor.EvaluateAndApply at a fixed interval and
// exposes cycle counters for the health/metrics surface.
type Controller struct {
	exec     *executor.Executor
	policies PolicySource
	clock    clockutil.Clock
	interval time.Duration

	resourceCheckInterval time.Duration

	mu             sync.Mutex
	cyclesTotal    int
	cyclesFailed   int
	lastCycleStart time.Time
	lastResult     executor.Result

	logger zerolog.Logger
}

// New constructs a Controller. interval is clamped to MinMonitoringInterval.
func New(exec *executor.Executor, policies PolicySource, clock clockutil.Clock, interval, resourceCheckInterval time.Duration) *Controller {
	if interval < MinMonitoringInterval {
		interval = MinMonitoringInterval
	}
	if resourceCheckInterval <= 0 {
		resourceCheckInterval = 30 * time.Second
	}
	return &Controller{
		exec:                  exec,
		policies:              policies,
		clock:                 clock,
		interval:              interval,
		resourceCheckInterval: resourceCheckInterval,
		logger:                log.WithComponent("controller"),
	}
}

// Run blocks, driving ticks until ctx is canceled. It always returns nil;
// cancellation is the only exit path.
func (c *Controller) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.runHealthProbe(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		default:
		}

		start := c.clock.Now()
		c.mu.Lock()
		c.lastCycleStart = start
		c.mu.Unlock()

		result, err := c.exec.EvaluateAndApply(ctx, c.policies())
		duration := c.clock.Now().Sub(start)
		metrics.CycleDuration.Observe(duration.Seconds())
		metrics.CyclesTotal.Inc()

		c.mu.Lock()
		c.cyclesTotal++
		if err != nil {
			c.cyclesFailed++
			metrics.CyclesFailedTotal.Inc()
		} else {
			c.lastResult = result
		}
		c.mu.Unlock()

		if err != nil {
			c.logger.Error().Err(err).Msg("control loop cycle failed")
		} else {
			c.logger.Info().Int("evaluated", result.Evaluated).Int("scaled", result.Scaled).Msg("control loop cycle completed")
		}

		sleep := c.interval - duration
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-time.After(sleep):
		}
	}
}

// runHealthProbe pings the gateway and runs a dry evaluation of the current
// policy set on every tick, reporting both plus the aggregator's last
// collection outcome to the health/metrics surface. It runs once
// immediately so readiness reflects reality as soon as possible after
// startup, rather than waiting a full resourceCheckInterval.
func (c *Controller) runHealthProbe(ctx context.Context) {
	c.probeHealth(ctx)

	ticker := time.NewTicker(c.resourceCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeHealth(ctx)
		}
	}
}

func (c *Controller) probeHealth(ctx context.Context) {
	gwHealthy, gwMsg := c.exec.PingGateway(ctx)
	metrics.UpdateGateway(gwHealthy, gwMsg)
	if !gwHealthy {
		c.logger.Warn().Str("message", gwMsg).Msg("health probe detected degraded gateway")
	}

	aggHealthy, aggMsg := c.exec.AggregatorHealth()
	metrics.UpdateAggregator(aggHealthy, aggMsg)
	if !aggHealthy {
		c.logger.Warn().Str("message", aggMsg).Msg("health probe detected degraded aggregator")
	}

	execHealthy, execMsg := c.exec.DryEvaluate(c.policies())
	metrics.UpdateExecutor(execHealthy, execMsg)
	if !execHealthy {
		c.logger.Warn().Str("message", execMsg).Msg("health probe dry evaluation failed")
	}
}

// Status reports cycle counters for the health/metrics surface.
type Status struct {
	CyclesTotal    int
	CyclesFailed   int
	LastCycleStart time.Time
	LastEvaluated  int
	LastScaled     int
}

// Status returns a snapshot of the controller's cycle counters.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		CyclesTotal:    c.cyclesTotal,
		CyclesFailed:   c.cyclesFailed,
		LastCycleStart: c.lastCycleStart,
		LastEvaluated:  c.lastResult.Evaluated,
		LastScaled:     c.lastResult.Scaled,
	}
}
