package gateway

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrencyLimit is the recommended fairness bound on outbound
// Gateway calls in flight at any instant.
const DefaultConcurrencyLimit = 10

// LimitedGateway decorates a Gateway with a bounded-concurrency guard so
// no caller can overwhelm the cluster management API with outbound
// requests, regardless of how many goroutines call it concurrently.
type LimitedGateway struct {
	inner Gateway
	sem   *semaphore.Weighted
}

// NewLimitedGateway wraps inner, limiting it to at most limit concurrent
// outbound calls. A non-positive limit falls back to DefaultConcurrencyLimit.
func NewLimitedGateway(inner Gateway, limit int) *LimitedGateway {
	if limit <= 0 {
		limit = DefaultConcurrencyLimit
	}
	return &LimitedGateway{inner: inner, sem: semaphore.NewWeighted(int64(limit))}
}

func (g *LimitedGateway) acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

func (g *LimitedGateway) release() { g.sem.Release(1) }

func (g *LimitedGateway) ListNodes(ctx context.Context) ([]NodeInfo, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, NewError(ErrTimeout, "ListNodes", "concurrency limit wait canceled", err)
	}
	defer g.release()
	return g.inner.ListNodes(ctx)
}

func (g *LimitedGateway) ListContainers(ctx context.Context, node string) ([]ContainerInfo, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, NewError(ErrTimeout, "ListContainers", "concurrency limit wait canceled", err)
	}
	defer g.release()
	return g.inner.ListContainers(ctx, node)
}

func (g *LimitedGateway) FindContainerNode(ctx context.Context, vmid int) (string, error) {
	if err := g.acquire(ctx); err != nil {
		return "", NewError(ErrTimeout, "FindContainerNode", "concurrency limit wait canceled", err)
	}
	defer g.release()
	return g.inner.FindContainerNode(ctx, vmid)
}

func (g *LimitedGateway) GetContainerStatus(ctx context.Context, node string, vmid int) (ContainerStatus, error) {
	if err := g.acquire(ctx); err != nil {
		return ContainerStatus{}, NewError(ErrTimeout, "GetContainerStatus", "concurrency limit wait canceled", err)
	}
	defer g.release()
	return g.inner.GetContainerStatus(ctx, node, vmid)
}

func (g *LimitedGateway) GetContainerConfig(ctx context.Context, node string, vmid int) (ContainerConfig, error) {
	if err := g.acquire(ctx); err != nil {
		return ContainerConfig{}, NewError(ErrTimeout, "GetContainerConfig", "concurrency limit wait canceled", err)
	}
	defer g.release()
	return g.inner.GetContainerConfig(ctx, node, vmid)
}

func (g *LimitedGateway) GetContainerTimeseries(ctx context.Context, node string, vmid int, timeframe, aggregation string) ([]SamplePoint, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, NewError(ErrTimeout, "GetContainerTimeseries", "concurrency limit wait canceled", err)
	}
	defer g.release()
	return g.inner.GetContainerTimeseries(ctx, node, vmid, timeframe, aggregation)
}

func (g *LimitedGateway) GetNodeStatus(ctx context.Context, node string) (NodeStatus, error) {
	if err := g.acquire(ctx); err != nil {
		return NodeStatus{}, NewError(ErrTimeout, "GetNodeStatus", "concurrency limit wait canceled", err)
	}
	defer g.release()
	return g.inner.GetNodeStatus(ctx, node)
}

func (g *LimitedGateway) Resize(ctx context.Context, node string, vmid int, req ResizeRequest) error {
	if err := g.acquire(ctx); err != nil {
		return NewError(ErrTimeout, "Resize", "concurrency limit wait canceled", err)
	}
	defer g.release()
	return g.inner.Resize(ctx, node, vmid, req)
}

func (g *LimitedGateway) HealthPing(ctx context.Context) error {
	if err := g.acquire(ctx); err != nil {
		return NewError(ErrTimeout, "HealthPing", "concurrency limit wait canceled", err)
	}
	defer g.release()
	return g.inner.HealthPing(ctx)
}

// WithTimeout is a small helper callers use to build the caller-supplied
// per-call timeout context required by the core design (default 30s).
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 30 * time.Second
	}
	return context.WithTimeout(parent, d)
}

var _ Gateway = (*LimitedGateway)(nil)
