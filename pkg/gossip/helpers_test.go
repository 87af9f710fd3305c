package gossip

import (
    "context"
    "sync"
    "testing"
    "time"

    "github.com/amirimatin/go-gossip/pkg/membership"
    "github.com/amirimatin/go-gossip/pkg/transport/inmem"
)

type fakeClock struct {
    mu  sync.Mutex
    now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
    c.mu.Lock()
    c.now = c.now.Add(d)
    c.mu.Unlock()
}

// cluster is a set of nodes on one in-memory network.
type cluster struct {
    t     *testing.T
    net   *inmem.Network
    nodes []*Node
    eps   []*inmem.Endpoint
}

func newCluster(t *testing.T, opts inmem.Options) *cluster {
    return &cluster{t: t, net: inmem.NewNetwork(opts)}
}

func (c *cluster) add(id string, mut func(*Config)) *Node {
    c.t.Helper()
    ep, err := c.net.Endpoint(id + ":7946")
    if err != nil { c.t.Fatalf("endpoint: %v", err) }
    cfg := Config{NodeID: id, Transport: ep, Seed: int64(len(c.nodes) + 1)}
    if mut != nil { mut(&cfg) }
    n, err := New(cfg)
    if err != nil { c.t.Fatalf("new node %s: %v", id, err) }
    c.nodes = append(c.nodes, n)
    c.eps = append(c.eps, ep)
    c.t.Cleanup(func() { _ = n.Stop() })
    return n
}

// deliver hands every queued datagram to its node until the network is quiet.
// Only for nodes that were not started.
func (c *cluster) deliver() {
    ctx := context.Background()
    for {
        moved := false
        for i, n := range c.nodes {
            for c.eps[i].Pending() > 0 {
                pkt, ok := <-c.eps[i].Packets()
                if !ok { break }
                n.dissem.Handle(ctx, pkt)
                moved = true
            }
        }
        if !moved { return }
    }
}

// round runs one lock-step gossip round: every node sends, then all
// datagrams are delivered.
func (c *cluster) round() {
    ctx := context.Background()
    for _, n := range c.nodes {
        if n.Running() || n.isClosed() { continue }
        n.dissem.Round(ctx)
    }
    c.deliver()
}

// seedAll makes every node know every other node.
func (c *cluster) seedAll() {
    all := make([]membership.NodeRecord, 0, len(c.nodes))
    for _, n := range c.nodes { all = append(all, n.Local()) }
    for _, n := range c.nodes { n.table.Merge("", all) }
}

func (n *Node) isClosed() bool {
    n.mu.Lock()
    defer n.mu.Unlock()
    return n.stopped
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

func statusOf(n *Node, id string) membership.Status {
    r, ok := n.Member(id)
    if !ok { return membership.Status(255) }
    return r.Status
}
