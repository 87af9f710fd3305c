package cluster

import (
    "context"
    "encoding/json"
    "errors"
    "strings"
    "testing"
    "time"

    "github.com/amirimatin/go-gossip/pkg/discovery"
    "github.com/amirimatin/go-gossip/pkg/discovery/static"
    "github.com/amirimatin/go-gossip/pkg/gossip"
    "github.com/amirimatin/go-gossip/pkg/membership"
    "github.com/amirimatin/go-gossip/pkg/transport"
    "github.com/amirimatin/go-gossip/pkg/transport/httpjson"
    "github.com/amirimatin/go-gossip/pkg/transport/inmem"
)

func newNode(t *testing.T, net *inmem.Network, id string) *gossip.Node {
    t.Helper()
    ep, err := net.Endpoint(id + ":7946")
    if err != nil { t.Fatal(err) }
    n, err := gossip.New(gossip.Config{
        NodeID:           id,
        Transport:        ep,
        RoundInterval:    20 * time.Millisecond,
        DetectorInterval: 20 * time.Millisecond,
        SuspicionTimeout: 300 * time.Millisecond,
        FailureTimeout:   900 * time.Millisecond,
    })
    if err != nil { t.Fatal(err) }
    return n
}

func waitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
    t.Helper()
    deadline := time.Now().Add(timeout)
    for time.Now().Before(deadline) {
        if cond() { return }
        time.Sleep(10 * time.Millisecond)
    }
    t.Fatalf("timed out waiting for %s", what)
}

func TestValidate(t *testing.T) {
    if _, err := New(Options{}); err != ErrNilNode { t.Fatalf("expected ErrNilNode, got %v", err) }
}

func TestStatusOfStoppedNode(t *testing.T) {
    net := inmem.NewNetwork(inmem.Options{})
    c, err := New(Options{Node: newNode(t, net, "a")})
    if err != nil { t.Fatal(err) }
    st, err := c.Status(context.Background())
    if err != nil { t.Fatal(err) }
    if st.Running || st.Healthy { t.Fatalf("unstarted node reported running/healthy: %+v", st) }
    if len(st.Warnings) == 0 || st.Warnings[0] != "node is not running" { t.Fatalf("warnings %v", st.Warnings) }
    if st.Counts["ALIVE"] != 0 || st.Counts["DEAD"] != 0 || len(st.Members) != 1 { t.Fatalf("status %+v", st) }
    if err := c.Handlers().Health(context.Background()); err != ErrNotReady { t.Fatalf("health %v", err) }
}

func TestClusterOverManagementAPI(t *testing.T) {
    net := inmem.NewNetwork(inmem.Options{})
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    srv := httpjson.NewServer("127.0.0.1:0", nil)
    a, err := New(Options{Node: newNode(t, net, "a"), RPCServer: srv})
    if err != nil { t.Fatal(err) }
    if err := a.Start(ctx); err != nil { t.Fatal(err) }
    defer a.Close()

    b, err := New(Options{Node: newNode(t, net, "b"), Discovery: static.New("a:7946"), RejoinInterval: 50 * time.Millisecond})
    if err != nil { t.Fatal(err) }
    if err := b.Start(ctx); err != nil { t.Fatal(err) }
    defer b.Close()

    waitUntil(t, 3*time.Second, "b to learn a's management address", func() bool {
        r, ok := b.Node().Member("a")
        if !ok { return false }
        v, ok := r.Metadata[MetaMgmtAddr].Str()
        return ok && v == srv.Addr()
    })

    cli := httpjson.NewClient(time.Second)
    raw, err := cli.GetStatus(ctx, srv.Addr())
    if err != nil { t.Fatal(err) }
    var st Status
    if err := json.Unmarshal(raw, &st); err != nil { t.Fatal(err) }
    if st.ID != "a" || !st.Running || st.MgmtAddr != srv.Addr() || st.Counts["ALIVE"] != 1 {
        t.Fatalf("status %+v", st)
    }

    members, err := cli.GetMembers(ctx, srv.Addr())
    if err != nil || len(members) != 2 { t.Fatalf("members %v, %v", members, err) }

    resp, err := cli.PostMetadata(ctx, srv.Addr(), transport.MetadataRequest{Metadata: membership.Metadata{"zone": membership.String("eu-1")}})
    if err != nil || !resp.Accepted || resp.Version < 3 { t.Fatalf("metadata %+v, %v", resp, err) }
    waitUntil(t, 3*time.Second, "b to see zone", func() bool {
        r, _ := b.Node().Member("a")
        v, _ := r.Metadata["zone"].Str()
        return v == "eu-1"
    })

    big := membership.Metadata{"blob": membership.String(strings.Repeat("x", 11*1024))}
    resp, err = cli.PostMetadata(ctx, srv.Addr(), transport.MetadataRequest{Metadata: big})
    if err == nil || resp.Accepted || !strings.Contains(resp.Error, "exceeds limit") { t.Fatalf("oversized metadata %+v, %v", resp, err) }

    lr, err := cli.PostLeave(ctx, srv.Addr(), transport.LeaveRequest{ID: "b"})
    if err == nil || lr.Accepted || lr.Error != ErrNotSelf.Error() { t.Fatalf("foreign leave %+v, %v", lr, err) }

    lr, err = cli.PostLeave(ctx, srv.Addr(), transport.LeaveRequest{ID: "a"})
    if err != nil || !lr.Accepted { t.Fatalf("leave %+v, %v", lr, err) }
    waitUntil(t, 3*time.Second, "b to see a DEAD", func() bool {
        r, _ := b.Node().Member("a")
        return r.Status == membership.StatusDead
    })
    waitUntil(t, 3*time.Second, "a to stop", func() bool { return !a.Node().Running() })
}

func TestStartContextStopsCluster(t *testing.T) {
    net := inmem.NewNetwork(inmem.Options{})
    ctx, cancel := context.WithCancel(context.Background())
    c, err := New(Options{Node: newNode(t, net, "solo")})
    if err != nil { t.Fatal(err) }
    if err := c.Start(ctx); err != nil { t.Fatal(err) }
    cancel()
    waitUntil(t, 2*time.Second, "cluster stop", func() bool { return !c.Node().Running() })
    if err := c.Start(context.Background()); err != ErrStopped { t.Fatalf("restart after stop: %v", err) }
}

func TestStopDoesNotWaitForDiscovery(t *testing.T) {
    net := inmem.NewNetwork(inmem.Options{})
    entered := make(chan struct{})
    slow := discovery.Func(func(ctx context.Context) ([]string, error) {
        close(entered)
        <-ctx.Done()
        return nil, ctx.Err()
    })
    c, err := New(Options{Node: newNode(t, net, "a"), Discovery: slow, DiscoveryTimeout: time.Minute})
    if err != nil { t.Fatal(err) }

    started := make(chan error, 1)
    go func() { started <- c.Start(context.Background()) }()
    select {
    case <-entered:
    case <-time.After(2 * time.Second):
        t.Fatalf("discovery never called")
    }

    stopped := make(chan error, 1)
    go func() { stopped <- c.Stop(context.Background()) }()
    select {
    case err := <-stopped:
        if err != nil { t.Fatalf("stop: %v", err) }
    case <-time.After(2 * time.Second):
        t.Fatalf("Stop blocked behind a pending discovery lookup")
    }
    select {
    case err := <-started:
        if err != nil && !errors.Is(err, ErrStopped) { t.Fatalf("start: %v", err) }
    case <-time.After(2 * time.Second):
        t.Fatalf("Start did not return after Stop")
    }
    if c.Node().Running() { t.Fatalf("node still running") }
}
