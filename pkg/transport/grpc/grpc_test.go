package grpc

import (
    "context"
    "errors"
    "sync/atomic"
    "testing"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials/insecure"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-gossip/internal/testcerts"
    "github.com/amirimatin/go-gossip/pkg/membership"
    "github.com/amirimatin/go-gossip/pkg/security/tlsconfig"
    "github.com/amirimatin/go-gossip/pkg/transport"
)

func handlers(healthy *atomic.Bool) transport.Handlers {
    return transport.Handlers{
        Status: func(context.Context) ([]byte, error) { return []byte(`{"id":"a"}`), nil },
        Members: func(context.Context) ([]membership.NodeRecord, error) {
            return []membership.NodeRecord{{NodeID: "a", Addr: "a:7946", Status: membership.StatusSuspected, Version: 4}}, nil
        },
        Metadata: func(_ context.Context, req transport.MetadataRequest) (transport.MetadataResponse, error) {
            if len(req.Metadata) == 0 { return transport.MetadataResponse{}, errors.New("empty patch") }
            return transport.MetadataResponse{Accepted: true, Version: 5}, nil
        },
        Health: func(context.Context) error {
            if healthy.Load() { return nil }
            return errors.New("down")
        },
    }
}

func startServer(t *testing.T, h transport.Handlers, mut func(*Server)) *Server {
    t.Helper()
    s := NewServer("127.0.0.1:0", nil)
    if mut != nil { mut(s) }
    ctx, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)
    if err := s.Start(ctx, h); err != nil { t.Fatal(err) }
    t.Cleanup(func() { _ = s.Stop(context.Background()) })
    return s
}

func TestManagementService(t *testing.T) {
    var healthy atomic.Bool
    healthy.Store(true)
    s := startServer(t, handlers(&healthy), nil)
    c := NewClient(2 * time.Second)
    defer c.Close()
    ctx := context.Background()

    raw, err := c.GetStatus(ctx, s.Addr())
    if err != nil || string(raw) != `{"id":"a"}` { t.Fatalf("status %q, %v", raw, err) }
    ms, err := c.GetMembers(ctx, s.Addr())
    if err != nil || len(ms) != 1 || ms[0].Status != membership.StatusSuspected { t.Fatalf("members %v, %v", ms, err) }
    resp, err := c.PostMetadata(ctx, s.Addr(), transport.MetadataRequest{Metadata: membership.Metadata{"k": membership.String("v")}})
    if err != nil || !resp.Accepted || resp.Version != 5 { t.Fatalf("metadata %+v, %v", resp, err) }
    if _, err := c.PostMetadata(ctx, s.Addr(), transport.MetadataRequest{}); err == nil || err.Error() != "empty patch" {
        t.Fatalf("expected handler error, got %v", err)
    }
    if _, err := c.PostLeave(ctx, s.Addr(), transport.LeaveRequest{ID: "a"}); err == nil { t.Fatalf("leave without handler accepted") }
    if c.cm.Len() != 1 { t.Fatalf("expected one cached connection, got %d", c.cm.Len()) }
}

func TestUnimplementedStatus(t *testing.T) {
    s := startServer(t, transport.Handlers{}, nil)
    c := NewClient(2 * time.Second)
    defer c.Close()
    _, err := c.GetStatus(context.Background(), s.Addr())
    if status.Code(err) != codes.Unimplemented { t.Fatalf("expected Unimplemented, got %v", err) }
}

func TestHealthService(t *testing.T) {
    var healthy atomic.Bool
    s := startServer(t, handlers(&healthy), nil)
    cc, err := grpc.NewClient(s.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
    if err != nil { t.Fatal(err) }
    defer cc.Close()
    hc := healthpb.NewHealthClient(cc)
    waitFor := func(want healthpb.HealthCheckResponse_ServingStatus) {
        t.Helper()
        deadline := time.Now().Add(3 * time.Second)
        for {
            ctx, cancel := context.WithTimeout(context.Background(), time.Second)
            resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
            cancel()
            if err == nil && resp.GetStatus() == want { return }
            if time.Now().After(deadline) { t.Fatalf("health never became %v (last %v, %v)", want, resp.GetStatus(), err) }
            time.Sleep(50 * time.Millisecond)
        }
    }
    waitFor(healthpb.HealthCheckResponse_NOT_SERVING)
    healthy.Store(true)
    waitFor(healthpb.HealthCheckResponse_SERVING)
}

func TestConnManagerEvictsIdle(t *testing.T) {
    var healthy atomic.Bool
    s := startServer(t, handlers(&healthy), nil)
    c := NewClient(2 * time.Second)
    defer c.Close()
    if _, err := c.GetStatus(context.Background(), s.Addr()); err != nil { t.Fatal(err) }
    c.cm.evictIdle(time.Now().Add(time.Hour))
    if c.cm.Len() != 0 { t.Fatalf("idle connection not evicted") }
    if _, err := c.GetStatus(context.Background(), s.Addr()); err != nil { t.Fatalf("redial after eviction: %v", err) }
}

func TestTLS(t *testing.T) {
    f := testcerts.Write(t)
    opts := tlsconfig.Options{Enable: true, CAFile: f.CA, CertFile: f.Cert, KeyFile: f.Key}
    scfg, err := opts.Server()
    if err != nil { t.Fatal(err) }
    ccfg, err := opts.Client()
    if err != nil { t.Fatal(err) }
    var healthy atomic.Bool
    s := startServer(t, handlers(&healthy), func(s *Server) { s.UseTLS(scfg) })

    c := NewClient(2 * time.Second).UseTLS(ccfg)
    defer c.Close()
    if _, err := c.GetStatus(context.Background(), s.Addr()); err != nil { t.Fatalf("tls status: %v", err) }

    plain := NewClient(300 * time.Millisecond)
    defer plain.Close()
    if _, err := plain.GetStatus(context.Background(), s.Addr()); err == nil { t.Fatalf("plaintext client accepted") }
}
