package gossip

import (
    "context"
    "errors"
    "path/filepath"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"

    "github.com/amirimatin/go-gossip/pkg/membership"
    "github.com/amirimatin/go-gossip/pkg/transport"
    "github.com/amirimatin/go-gossip/pkg/transport/inmem"
)

func TestConfigValidate(t *testing.T) {
    ep, _ := inmem.NewNetwork(inmem.Options{}).Endpoint("x:1")
    cases := []struct {
        name string
        cfg  Config
    }{
        {"empty id", Config{Transport: ep}},
        {"nil transport", Config{NodeID: "a"}},
        {"failure before suspicion", Config{NodeID: "a", Transport: ep, SuspicionTimeout: 2 * time.Second, FailureTimeout: time.Second}},
        {"metadata over limit", Config{NodeID: "a", Transport: ep, Metadata: membership.Metadata{"x": membership.String(strings.Repeat("x", 20000))}}},
    }
    for _, tc := range cases {
        if err := tc.cfg.Validate(); err == nil { t.Errorf("%s: expected error", tc.name) }
    }
    if err := (Config{NodeID: "a", Transport: ep}).Validate(); err != nil { t.Fatalf("valid config: %v", err) }
}

func TestUpdateMetadata(t *testing.T) {
    c := newCluster(t, inmem.Options{})
    a := c.add("a", nil)
    if v := a.Local().Version; v != 1 { t.Fatalf("initial version %d", v) }
    if err := a.UpdateMetadata(membership.Metadata{"health": membership.String("ok")}); err != nil { t.Fatal(err) }
    if v := a.Local().Version; v != 2 { t.Fatalf("version after update %d", v) }

    err := a.UpdateMetadata(membership.Metadata{"blob": membership.String(strings.Repeat("z", 12*1024))})
    var tooLarge *membership.MetadataTooLargeError
    if !errors.As(err, &tooLarge) { t.Fatalf("expected MetadataTooLargeError, got %v", err) }
    if !strings.HasSuffix(err.Error(), "KB exceeds limit of 10KB") { t.Fatalf("message %q", err.Error()) }
    local := a.Local()
    if local.Version != 2 || len(local.Metadata) != 1 { t.Fatalf("rejected update leaked: %v", local) }
}

func TestThreeNodeMetadataPropagation(t *testing.T) {
    c := newCluster(t, inmem.Options{})
    fanout2 := func(cfg *Config) { cfg.Fanout = 2 }
    a := c.add("a", fanout2)
    b := c.add("b", fanout2)
    cc := c.add("c", fanout2)
    ctx := context.Background()
    if err := b.Join(ctx, []string{a.Addr()}); err != nil { t.Fatal(err) }
    if err := cc.Join(ctx, []string{a.Addr()}); err != nil { t.Fatal(err) }
    c.deliver()
    if len(a.Members()) != 3 { t.Fatalf("seed knows %d members", len(a.Members())) }

    if err := a.UpdateMetadata(membership.Metadata{"health": membership.String("degraded")}); err != nil { t.Fatal(err) }
    if a.Local().Version != 2 { t.Fatalf("version=%d", a.Local().Version) }
    for i := 0; i < 3; i++ { c.round() }

    for _, n := range []*Node{b, cc} {
        r, ok := n.Member("a")
        if !ok { t.Fatalf("%s does not know a", n.ID()) }
        if r.Version != 2 { t.Fatalf("%s sees a at version %d", n.ID(), r.Version) }
        if s, _ := r.Metadata["health"].Str(); s != "degraded" || len(r.Metadata) != 1 {
            t.Fatalf("%s sees a metadata %v", n.ID(), r.Metadata)
        }
        if len(n.Members()) != 3 { t.Fatalf("%s knows %d members", n.ID(), len(n.Members())) }
    }
}

func TestCrashDetectionAndRecovery(t *testing.T) {
    c := newCluster(t, inmem.Options{})
    fast := func(cfg *Config) {
        cfg.RoundInterval = 20 * time.Millisecond
        cfg.DetectorInterval = 20 * time.Millisecond
        cfg.SuspicionTimeout = 300 * time.Millisecond
        cfg.FailureTimeout = 900 * time.Millisecond
    }
    var mu sync.Mutex
    seen := map[membership.Status]bool{}
    a := c.add("a", func(cfg *Config) {
        fast(cfg)
        cfg.OnMemberStatusChange = func(rec membership.NodeRecord, _, to membership.Status) {
            if rec.NodeID != "c" { return }
            mu.Lock()
            seen[to] = true
            mu.Unlock()
        }
    })
    b := c.add("b", fast)
    cc := c.add("c", fast)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    for _, n := range c.nodes {
        if err := n.Start(ctx); err != nil { t.Fatal(err) }
    }
    if err := b.Join(ctx, []string{a.Addr()}); err != nil { t.Fatal(err) }
    if err := cc.Join(ctx, []string{a.Addr()}); err != nil { t.Fatal(err) }
    waitUntil(t, 3*time.Second, "full mesh", func() bool {
        for _, n := range c.nodes {
            if len(n.Members()) != 3 { return false }
            for _, m := range n.Members() {
                if m.Status != membership.StatusAlive { return false }
            }
        }
        return true
    })

    c.net.Disconnect(cc.Addr())
    waitUntil(t, 5*time.Second, "c declared DEAD", func() bool {
        return statusOf(a, "c") == membership.StatusDead && statusOf(b, "c") == membership.StatusDead
    })
    mu.Lock()
    if !seen[membership.StatusSuspected] || !seen[membership.StatusDead] {
        t.Fatalf("expected SUSPECTED then DEAD callbacks, got %v", seen)
    }
    mu.Unlock()
    if a.HealthScore() < 1 { t.Fatalf("health score %d", a.HealthScore()) }

    c.net.Reconnect(cc.Addr())
    waitUntil(t, 5*time.Second, "c revived", func() bool {
        return statusOf(a, "c") == membership.StatusAlive && statusOf(b, "c") == membership.StatusAlive &&
            statusOf(cc, "a") == membership.StatusAlive
    })
}

func TestRevivalWithinOneRound(t *testing.T) {
    clk := newFakeClock()
    c := newCluster(t, inmem.Options{})
    var events []Event
    a := c.add("a", func(cfg *Config) { cfg.Clock = clk.Now })
    c.add("b", func(cfg *Config) { cfg.Clock = clk.Now })
    c.seedAll()
    sub := a.Subscribe(context.Background())

    clk.Advance(5 * time.Second)
    if ch := a.fd.Scan(); len(ch) != 1 || ch[0].To != membership.StatusSuspected { t.Fatalf("scan at 5s: %v", ch) }
    clk.Advance(5 * time.Second)
    if ch := a.fd.Scan(); len(ch) != 1 || ch[0].To != membership.StatusDead { t.Fatalf("scan at 10s: %v", ch) }
    if statusOf(a, "b") != membership.StatusDead { t.Fatalf("b not dead") }

    // b is DEAD for a, so only b's round can reach a
    c.round()
    if statusOf(a, "b") != membership.StatusAlive { t.Fatalf("b not revived after one round: %v", statusOf(a, "b")) }

    for len(events) < 3 {
        select {
        case ev := <-sub:
            if ev.Type == EventStatusChange { events = append(events, ev) }
        case <-time.After(time.Second):
            t.Fatalf("missing events, got %v", events)
        }
    }
    want := []membership.Status{membership.StatusSuspected, membership.StatusDead, membership.StatusAlive}
    for i, ev := range events {
        if ev.To != want[i] || ev.Member.NodeID != "b" { t.Fatalf("event %d = %+v", i, ev) }
    }
}

func TestGracefulLeave(t *testing.T) {
    c := newCluster(t, inmem.Options{})
    var changed []membership.Status
    a := c.add("a", func(cfg *Config) {
        cfg.OnMemberStatusChange = func(_ membership.NodeRecord, _, to membership.Status) { changed = append(changed, to) }
    })
    b := c.add("b", nil)
    c.seedAll()

    if err := b.Leave(context.Background()); err != nil { t.Fatalf("leave: %v", err) }
    c.deliver()
    r, _ := a.Member("b")
    if r.Status != membership.StatusDead || r.Version != 2 { t.Fatalf("a sees b as %v", r) }
    if len(changed) != 1 || changed[0] != membership.StatusDead { t.Fatalf("callbacks %v", changed) }
    if err := b.UpdateMetadata(membership.Metadata{"x": membership.Bool(true)}); !errors.Is(err, ErrLeft) || !errors.Is(err, membership.ErrLeft) {
        t.Fatalf("expected ErrLeft, got %v", err)
    }
    if err := b.Join(context.Background(), []string{a.Addr()}); !errors.Is(err, ErrLeft) {
        t.Fatalf("expected ErrLeft on join, got %v", err)
    }
    if err := b.Leave(context.Background()); err != nil { t.Fatalf("second leave: %v", err) }
}

func TestLifecycle(t *testing.T) {
    c := newCluster(t, inmem.Options{})
    a := c.add("a", nil)
    if a.Running() || a.HealthScore() != -1 { t.Fatalf("fresh node reports running") }
    ctx := context.Background()
    if err := a.Start(ctx); err != nil { t.Fatal(err) }
    if err := a.Start(ctx); err != nil { t.Fatalf("second start: %v", err) }
    if a.HealthScore() != 0 { t.Fatalf("health score %d", a.HealthScore()) }
    if err := a.Join(ctx, []string{a.Addr(), " "}); err != nil { t.Fatalf("join self only: %v", err) }
    if err := a.Stop(); err != nil { t.Fatal(err) }
    if err := a.Stop(); err != nil { t.Fatalf("second stop: %v", err) }
    if err := a.Start(ctx); !errors.Is(err, ErrStopped) { t.Fatalf("expected ErrStopped, got %v", err) }
    if err := c.eps[0].Send("x:1", []byte("x")); !errors.Is(err, transport.ErrClosed) {
        t.Fatalf("transport not closed: %v", err)
    }
}

func TestStartContextStopsNode(t *testing.T) {
    c := newCluster(t, inmem.Options{})
    a := c.add("a", nil)
    ctx, cancel := context.WithCancel(context.Background())
    if err := a.Start(ctx); err != nil { t.Fatal(err) }
    cancel()
    waitUntil(t, 2*time.Second, "node stopped", func() bool { return a.isClosed() && !a.Running() })
}

func TestRestartContinuesVersion(t *testing.T) {
    store := raft.NewInmemStore()
    c := newCluster(t, inmem.Options{})
    a := c.add("a", func(cfg *Config) { cfg.Store = store })
    _ = a.UpdateMetadata(membership.Metadata{"k": membership.String("v1")})
    _ = a.UpdateMetadata(membership.Metadata{"k": membership.String("v2")})
    if err := a.Leave(context.Background()); err != nil { t.Fatal(err) }

    ep, _ := c.net.Endpoint("a2:7946")
    again, err := New(Config{NodeID: "a", Transport: ep, Store: store})
    if err != nil { t.Fatal(err) }
    defer again.Stop()
    self := again.Local()
    if self.Version != 5 { t.Fatalf("restarted version=%d want 5", self.Version) }
    if self.Status != membership.StatusAlive { t.Fatalf("restarted status=%v", self.Status) }
    if s, _ := self.Metadata["k"].Str(); s != "v2" { t.Fatalf("metadata not restored: %v", self.Metadata) }

    ep2, _ := c.net.Endpoint("other:7946")
    other, err := New(Config{NodeID: "other", Transport: ep2, Store: store})
    if err != nil { t.Fatal(err) }
    defer other.Stop()
    if v := other.Local().Version; v != 1 { t.Fatalf("state of a different node id applied: %d", v) }
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
    path := filepath.Join(t.TempDir(), "gossip.db")
    open := func() *raftboltdb.BoltStore {
        s, err := raftboltdb.NewBoltStore(path)
        if err != nil { t.Fatalf("open bolt: %v", err) }
        return s
    }
    c := newCluster(t, inmem.Options{})
    s1 := open()
    a := c.add("a", func(cfg *Config) { cfg.Store = s1 })
    if err := a.UpdateMetadata(membership.Metadata{"zone": membership.String("z1")}); err != nil { t.Fatal(err) }
    _ = a.Stop()
    _ = s1.Close()

    s2 := open()
    defer s2.Close()
    ep, _ := c.net.Endpoint("a-again:7946")
    again, err := New(Config{NodeID: "a", Transport: ep, Store: s2})
    if err != nil { t.Fatal(err) }
    defer again.Stop()
    if v := again.Local().Version; v != 3 { t.Fatalf("version=%d want 3", v) }
}

func TestRefutationAfterRestartWithoutStore(t *testing.T) {
    c := newCluster(t, inmem.Options{})
    a := c.add("a", nil)
    b := c.add("b", nil)
    c.seedAll()
    for i := 0; i < 3; i++ { _ = b.UpdateMetadata(membership.Metadata{"n": membership.Int(int64(i))}) }
    c.round()
    if r, _ := a.Member("b"); r.Version != 4 { t.Fatalf("a sees b v%d", r.Version) }

    _ = b.Stop()
    ep, _ := c.net.Endpoint("b2:7946")
    b2, err := New(Config{NodeID: "b", Transport: ep, Seed: 9})
    if err != nil { t.Fatal(err) }
    c.nodes[1], c.eps[1] = b2, ep
    t.Cleanup(func() { _ = b2.Stop() })
    if err := b2.Join(context.Background(), []string{a.Addr()}); err != nil { t.Fatal(err) }
    c.deliver()
    c.round()
    if v := b2.Local().Version; v != 5 { t.Fatalf("b2 did not refute: v%d", v) }
    r, _ := a.Member("b")
    if r.Version != 5 || r.Addr != "b2:7946" { t.Fatalf("a sees %v", r) }
}
