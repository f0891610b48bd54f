// Package gateway defines the abstract Cluster Gateway the control loop
// consumes: read-only telemetry and the single write operation (resize).
// The concrete HTTP transport, authentication, and retry behavior of a
// real cluster-management API are explicitly out of scope for this
// module; callers provide a Gateway implementation (see simgateway for an
// in-memory one used by the daemon entry point and tests).
package gateway

import (
	"context"
	"time"
)

// NodeInfo is the minimal per-node listing returned by ListNodes.
type NodeInfo struct {
	Name   string
	Status string // "online" or anything else
}

// ContainerInfo is the minimal per-container listing returned by
// ListContainers, filtered to container-type workloads.
type ContainerInfo struct {
	VMID int
	Name string
}

// ContainerStatus is the runtime status of one container.
type ContainerStatus struct {
	RuntimeStatus string
	Uptime        time.Duration
}

// ContainerConfig is the configured shape of one container.
type ContainerConfig struct {
	Cores    int
	MemoryMB int64
	Hostname string
}

// SamplePoint is one point of a container's time-series usage history, as
// reported by the cluster management API's telemetry endpoint.
type SamplePoint struct {
	Time        time.Time
	CPUFraction float64 // 0.0-1.0+
	MemBytes    int64
	MemMaxBytes int64
}

// NodeStatus is the live status of one node.
type NodeStatus struct {
	CPUFraction float64 // 0.0-1.0+
	MemUsed     int64
	MemTotal    int64
	Uptime      time.Duration
	LoadAvg     [3]float64
	// CPUCores is the node's real core count, when the management API
	// reports it. Zero means unknown; callers must not treat zero as a
	// real measurement (see ClusterSnapshot.TotalCPUCoresKnown).
	CPUCores int
}

// ResizeRequest applies new targets to a container. At least one of Cores
// or MemoryMB must be set; resize calls are expected to be idempotent at
// the target values.
type ResizeRequest struct {
	Cores    *int
	MemoryMB *int64
}

// Gateway is every operation the control loop needs from the cluster
// management API.
type Gateway interface {
	ListNodes(ctx context.Context) ([]NodeInfo, error)
	ListContainers(ctx context.Context, node string) ([]ContainerInfo, error)
	FindContainerNode(ctx context.Context, vmid int) (string, error) // "" if not found
	GetContainerStatus(ctx context.Context, node string, vmid int) (ContainerStatus, error)
	GetContainerConfig(ctx context.Context, node string, vmid int) (ContainerConfig, error)
	GetContainerTimeseries(ctx context.Context, node string, vmid int, timeframe, aggregation string) ([]SamplePoint, error)
	GetNodeStatus(ctx context.Context, node string) (NodeStatus, error)
	Resize(ctx context.Context, node string, vmid int, req ResizeRequest) error
	HealthPing(ctx context.Context) error
}

// ErrKind is the closed set of ways a Gateway call can fail.
type ErrKind string

const (
	ErrConnection     ErrKind = "connection"
	ErrAuth           ErrKind = "auth"
	ErrNotFound       ErrKind = "not_found"
	ErrTimeout        ErrKind = "timeout"
	ErrRateLimited    ErrKind = "rate_limited"
	ErrOperationFailed ErrKind = "operation_failed"
)

// Error is a typed Gateway failure. It never leaks transport details
// (HTTP status codes, connection internals) to callers beyond Kind and a
// human-readable Message.
type Error struct {
	Kind    ErrKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return e.Op + ": " + e.Message
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrKind) bool {
	ge, ok := err.(*Error)
	return ok && ge.Kind == kind
}

// NewError constructs a typed Gateway error.
func NewError(kind ErrKind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}
