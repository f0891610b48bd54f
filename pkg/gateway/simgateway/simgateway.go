// Package simgateway is an in-memory gateway.Gateway used as the daemon
// entry point's Gateway and by the test suite, standing in for the
// cluster management API's HTTP transport (explicitly out of scope for
// this module — see SPEC_FULL.md §4.1).
package simgateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kontainerops/lxc-autoscaler/pkg/gateway"
)

// Node is a simulated cluster host.
type Node struct {
	Name     string
	Online   bool
	CPUFrac  float64
	MemUsed  int64
	MemTotal int64
	LoadAvg  [3]float64
	CPUCores int
}

// Container is a simulated container hosted on a node.
type Container struct {
	VMID     int
	Node     string
	Hostname string
	Status   string // "running", "stopped", ...
	Cores    int
	MemoryMB int64
	Uptime   time.Duration

	// Series is the container's telemetry history, oldest first;
	// GetContainerTimeseries returns a copy and does not consume it.
	Series []gateway.SamplePoint
}

// Gateway is a concurrency-safe in-memory Gateway implementation.
type Gateway struct {
	mu         sync.RWMutex
	nodes      map[string]*Node
	containers map[int]*Container
	resizes    []ResizeCall
	failNext   map[string]*gateway.Error
}

// ResizeCall records one invocation of Resize, for test assertions.
type ResizeCall struct {
	ID       string
	Node     string
	VMID     int
	Cores    *int
	MemoryMB *int64
	At       time.Time
}

// New returns an empty simulated gateway.
func New() *Gateway {
	return &Gateway{
		nodes:      make(map[string]*Node),
		containers: make(map[int]*Container),
		failNext:   make(map[string]*gateway.Error),
	}
}

// AddNode registers a simulated node.
func (g *Gateway) AddNode(n Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := n
	g.nodes[n.Name] = &cp
}

// AddContainer registers a simulated container.
func (g *Gateway) AddContainer(c Container) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := c
	g.containers[c.VMID] = &cp
}

// FailNextCall arranges for the named operation's next call to fail with
// err. The operation names match the *gateway.Error.Op values used by
// this package (e.g. "Resize", "GetNodeStatus").
func (g *Gateway) FailNextCall(op string, err *gateway.Error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext[op] = err
}

func (g *Gateway) takeFailure(op string) *gateway.Error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.failNext[op]; ok {
		delete(g.failNext, op)
		return err
	}
	return nil
}

// Resizes returns every Resize call observed so far, in call order.
func (g *Gateway) Resizes() []ResizeCall {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]ResizeCall, len(g.resizes))
	copy(out, g.resizes)
	return out
}

func (g *Gateway) ListNodes(ctx context.Context) ([]gateway.NodeInfo, error) {
	if err := g.takeFailure("ListNodes"); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]gateway.NodeInfo, 0, len(g.nodes))
	for _, n := range g.nodes {
		status := "offline"
		if n.Online {
			status = "online"
		}
		out = append(out, gateway.NodeInfo{Name: n.Name, Status: status})
	}
	return out, nil
}

func (g *Gateway) ListContainers(ctx context.Context, node string) ([]gateway.ContainerInfo, error) {
	if err := g.takeFailure("ListContainers"); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []gateway.ContainerInfo
	for _, c := range g.containers {
		if c.Node == node {
			out = append(out, gateway.ContainerInfo{VMID: c.VMID, Name: c.Hostname})
		}
	}
	return out, nil
}

func (g *Gateway) FindContainerNode(ctx context.Context, vmid int) (string, error) {
	if err := g.takeFailure("FindContainerNode"); err != nil {
		return "", err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.containers[vmid]
	if !ok {
		return "", nil
	}
	return c.Node, nil
}

func (g *Gateway) GetContainerStatus(ctx context.Context, node string, vmid int) (gateway.ContainerStatus, error) {
	if err := g.takeFailure("GetContainerStatus"); err != nil {
		return gateway.ContainerStatus{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.containers[vmid]
	if !ok {
		return gateway.ContainerStatus{}, gateway.NewError(gateway.ErrNotFound, "GetContainerStatus", fmt.Sprintf("container %d not found", vmid), nil)
	}
	return gateway.ContainerStatus{RuntimeStatus: c.Status, Uptime: c.Uptime}, nil
}

func (g *Gateway) GetContainerConfig(ctx context.Context, node string, vmid int) (gateway.ContainerConfig, error) {
	if err := g.takeFailure("GetContainerConfig"); err != nil {
		return gateway.ContainerConfig{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.containers[vmid]
	if !ok {
		return gateway.ContainerConfig{}, gateway.NewError(gateway.ErrNotFound, "GetContainerConfig", fmt.Sprintf("container %d not found", vmid), nil)
	}
	return gateway.ContainerConfig{Cores: c.Cores, MemoryMB: c.MemoryMB, Hostname: c.Hostname}, nil
}

func (g *Gateway) GetContainerTimeseries(ctx context.Context, node string, vmid int, timeframe, aggregation string) ([]gateway.SamplePoint, error) {
	if err := g.takeFailure("GetContainerTimeseries"); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.containers[vmid]
	if !ok {
		return nil, gateway.NewError(gateway.ErrNotFound, "GetContainerTimeseries", fmt.Sprintf("container %d not found", vmid), nil)
	}
	out := make([]gateway.SamplePoint, len(c.Series))
	copy(out, c.Series)
	return out, nil
}

func (g *Gateway) GetNodeStatus(ctx context.Context, node string) (gateway.NodeStatus, error) {
	if err := g.takeFailure("GetNodeStatus"); err != nil {
		return gateway.NodeStatus{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[node]
	if !ok {
		return gateway.NodeStatus{}, gateway.NewError(gateway.ErrNotFound, "GetNodeStatus", fmt.Sprintf("node %s not found", node), nil)
	}
	return gateway.NodeStatus{
		CPUFraction: n.CPUFrac,
		MemUsed:     n.MemUsed,
		MemTotal:    n.MemTotal,
		LoadAvg:     n.LoadAvg,
		CPUCores:    n.CPUCores,
	}, nil
}

func (g *Gateway) Resize(ctx context.Context, node string, vmid int, req gateway.ResizeRequest) error {
	if err := g.takeFailure("Resize"); err != nil {
		return err
	}
	if req.Cores == nil && req.MemoryMB == nil {
		return gateway.NewError(gateway.ErrOperationFailed, "Resize", "at least one of cores or memory_mb must be set", nil)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.containers[vmid]
	if !ok {
		return gateway.NewError(gateway.ErrNotFound, "Resize", fmt.Sprintf("container %d not found", vmid), nil)
	}
	if req.Cores != nil {
		c.Cores = *req.Cores
	}
	if req.MemoryMB != nil {
		c.MemoryMB = *req.MemoryMB
	}
	g.resizes = append(g.resizes, ResizeCall{
		ID: uuid.NewString(), Node: node, VMID: vmid,
		Cores: req.Cores, MemoryMB: req.MemoryMB, At: time.Now(),
	})
	return nil
}

func (g *Gateway) HealthPing(ctx context.Context) error {
	if err := g.takeFailure("HealthPing"); err != nil {
		return err
	}
	return nil
}

var _ gateway.Gateway = (*Gateway)(nil)
