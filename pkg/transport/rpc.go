package transport

import (
    "context"

    "github.com/amirimatin/go-gossip/pkg/membership"
)

// StatusFunc returns a JSON-encoded status payload for management /status.
// Using []byte avoids import cycles on cluster types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// MembersFunc returns the local membership view.
type MembersFunc func(ctx context.Context) ([]membership.NodeRecord, error)

// MetadataRequest carries a metadata patch for the serving node.
type MetadataRequest struct {
    Metadata membership.Metadata `json:"metadata"`
}

// MetadataResponse reports the node's version after the update.
type MetadataResponse struct {
    Accepted bool   `json:"accepted"`
    Version  uint64 `json:"version,omitempty"`
    Error    string `json:"error,omitempty"`
}

type MetadataFunc func(ctx context.Context, req MetadataRequest) (MetadataResponse, error)

// LeaveRequest asks the serving node to leave. ID must match the node's own ID.
type LeaveRequest struct {
    ID string `json:"id"`
}

// LeaveResponse indicates whether the leave was accepted.
type LeaveResponse struct {
    Accepted bool   `json:"accepted"`
    Error    string `json:"error,omitempty"`
}

type LeaveFunc func(ctx context.Context, req LeaveRequest) (LeaveResponse, error)

// HealthFunc returns nil while the node is serving.
type HealthFunc func(ctx context.Context) error

// Handlers bundles what a management server exposes. Nil handlers answer
// with an "unavailable" error.
type Handlers struct {
    Status   StatusFunc
    Members  MembersFunc
    Metadata MetadataFunc
    Leave    LeaveFunc
    Health   HealthFunc
}

// RPCServer exposes management endpoints of one node.
type RPCServer interface {
    Start(ctx context.Context, h Handlers) error
    Addr() string
    Stop(ctx context.Context) error
}

// RPCClient calls management endpoints using the chosen protocol
// (HTTP/JSON or gRPC JSON codec).
type RPCClient interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    GetMembers(ctx context.Context, addr string) ([]membership.NodeRecord, error)
    PostMetadata(ctx context.Context, addr string, req MetadataRequest) (MetadataResponse, error)
    PostLeave(ctx context.Context, addr string, req LeaveRequest) (LeaveResponse, error)
}
