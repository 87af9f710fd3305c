package grpc

import (
    "context"
    "crypto/tls"
    "net"
    "sync"
    "time"

    "go.uber.org/zap"
    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-gossip/internal/logutil"
    "github.com/amirimatin/go-gossip/pkg/membership"
    "github.com/amirimatin/go-gossip/pkg/observability/tracing"
    "github.com/amirimatin/go-gossip/pkg/transport"
)

const serviceName = "gossip.v1.Management"

// Server implements transport.RPCServer over gRPC using a JSON codec.
type Server struct {
    bind   string
    logger *zap.Logger
    tls    *tls.Config

    mu     sync.Mutex
    addr   string
    lis    net.Listener
    srv    *grpc.Server
    health *health.Server
}

func NewServer(bind string, logger *zap.Logger) *Server {
    return &Server{bind: bind, addr: bind, logger: logutil.OrNop(logger).Named("grpc")}
}

// UseTLS serves over TLS; call before Start.
func (s *Server) UseTLS(cfg *tls.Config) { s.tls = cfg }

// internal request/response types used over gRPC JSON codec
type empty struct{}
type statusBlob struct{ Data []byte `json:"data"` }
type membersReply struct{ Members []membership.NodeRecord `json:"members"` }

// managementServer defines the methods we expose.
type managementServer interface {
    Status(ctx context.Context, in *empty) (*statusBlob, error)
    Members(ctx context.Context, in *empty) (*membersReply, error)
    UpdateMetadata(ctx context.Context, in *transport.MetadataRequest) (*transport.MetadataResponse, error)
    Leave(ctx context.Context, in *transport.LeaveRequest) (*transport.LeaveResponse, error)
}

type mgmtImpl struct{ h transport.Handlers }

func (m *mgmtImpl) Status(ctx context.Context, _ *empty) (*statusBlob, error) {
    if m.h.Status == nil { return nil, errUnsupported("status") }
    ctx, end := tracing.StartSpan(ctx, "grpc.status")
    defer end()
    b, err := m.h.Status(ctx)
    if err != nil { return nil, err }
    return &statusBlob{Data: b}, nil
}

func (m *mgmtImpl) Members(ctx context.Context, _ *empty) (*membersReply, error) {
    if m.h.Members == nil { return nil, errUnsupported("members") }
    ctx, end := tracing.StartSpan(ctx, "grpc.members")
    defer end()
    out, err := m.h.Members(ctx)
    if err != nil { return nil, err }
    return &membersReply{Members: out}, nil
}

func (m *mgmtImpl) UpdateMetadata(ctx context.Context, in *transport.MetadataRequest) (*transport.MetadataResponse, error) {
    if in == nil { in = &transport.MetadataRequest{} }
    if m.h.Metadata == nil { return &transport.MetadataResponse{Error: "metadata not supported"}, nil }
    ctx, end := tracing.StartSpan(ctx, "grpc.metadata")
    defer end()
    out, err := m.h.Metadata(ctx, *in)
    if err != nil { return &transport.MetadataResponse{Error: err.Error()}, nil }
    return &out, nil
}

func (m *mgmtImpl) Leave(ctx context.Context, in *transport.LeaveRequest) (*transport.LeaveResponse, error) {
    if in == nil { in = &transport.LeaveRequest{} }
    if m.h.Leave == nil { return &transport.LeaveResponse{Error: "leave not supported"}, nil }
    ctx, end := tracing.StartSpan(ctx, "grpc.leave")
    defer end()
    out, err := m.h.Leave(ctx, *in)
    if err != nil { return &transport.LeaveResponse{Error: err.Error()}, nil }
    return &out, nil
}

// Service descriptor and handlers (hand-written, no codegen required)
var _Management_serviceDesc = grpc.ServiceDesc{
    ServiceName: serviceName,
    HandlerType: (*managementServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "Status", Handler: unary("Status", func(s managementServer, ctx context.Context, in *empty) (any, error) { return s.Status(ctx, in) })},
        {MethodName: "Members", Handler: unary("Members", func(s managementServer, ctx context.Context, in *empty) (any, error) { return s.Members(ctx, in) })},
        {MethodName: "UpdateMetadata", Handler: unary("UpdateMetadata", func(s managementServer, ctx context.Context, in *transport.MetadataRequest) (any, error) { return s.UpdateMetadata(ctx, in) })},
        {MethodName: "Leave", Handler: unary("Leave", func(s managementServer, ctx context.Context, in *transport.LeaveRequest) (any, error) { return s.Leave(ctx, in) })},
    },
}

// unary adapts a typed method to grpc's untyped handler signature.
func unary[Req any](method string, call func(managementServer, context.Context, *Req) (any, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
    return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
        in := new(Req)
        if err := dec(in); err != nil { return nil, err }
        if interceptor == nil { return call(srv.(managementServer), ctx, in) }
        info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
        handler := func(ctx context.Context, req any) (any, error) {
            return call(srv.(managementServer), ctx, req.(*Req))
        }
        return interceptor(ctx, in, info, handler)
    }
}

func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    // management calls arrive with content-subtype "json" and use the
    // registered JSON codec; the health service keeps protobuf
    opts := []grpc.ServerOption{
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tls != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tls))) }
    srv := grpc.NewServer(opts...)
    hs := health.NewServer()
    healthpb.RegisterHealthServer(srv, hs)
    srv.RegisterService(&_Management_serviceDesc, &mgmtImpl{h: h})

    s.mu.Lock()
    s.lis, s.srv, s.health = lis, srv, hs
    s.addr = lis.Addr().String()
    s.mu.Unlock()

    go s.reportHealth(ctx, h.Health, hs)
    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
            s.logger.Error("server error", zap.Error(err))
        }
    }()
    s.logger.Info("management server listening", zap.String("addr", s.Addr()))
    return nil
}

// reportHealth mirrors the node's health into the grpc health service.
func (s *Server) reportHealth(ctx context.Context, fn transport.HealthFunc, hs *health.Server) {
    set := func() {
        st := healthpb.HealthCheckResponse_SERVING
        if fn != nil && fn(ctx) != nil { st = healthpb.HealthCheckResponse_NOT_SERVING }
        hs.SetServingStatus("", st)
        hs.SetServingStatus(serviceName, st)
    }
    set()
    t := time.NewTicker(time.Second)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            set()
        }
    }
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.addr
}

func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv, lis, hs := s.srv, s.lis, s.health
    s.srv, s.lis, s.health = nil, nil, nil
    s.mu.Unlock()
    if srv == nil { return nil }
    if hs != nil { hs.Shutdown() }
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    case <-time.After(2 * time.Second):
        srv.Stop()
    }
    if lis != nil { _ = lis.Close() }
    return nil
}

var _ transport.RPCServer = (*Server)(nil)
