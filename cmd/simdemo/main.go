// Command simdemo runs an in-process cluster over a lossy in-memory network
// and reports how fast membership, metadata and failures converge.
package main

import (
    "context"
    "flag"
    "fmt"
    "os"
    "os/signal"
    "syscall"
    "time"

    "go.uber.org/zap"

    "github.com/amirimatin/go-gossip/pkg/gossip"
    "github.com/amirimatin/go-gossip/internal/logutil"
    "github.com/amirimatin/go-gossip/pkg/membership"
    "github.com/amirimatin/go-gossip/pkg/transport/inmem"
)

func main() {
    var (
        nodes  = flag.Int("n", 50, "number of nodes")
        drop   = flag.Float64("drop", 0.05, "datagram loss probability")
        burst  = flag.Float64("burst-drop", 0.3, "loss probability while the metadata update spreads")
        fanout = flag.Int("fanout", gossip.DefaultFanout, "peers contacted per round")
        round  = flag.Duration("round", 100*time.Millisecond, "gossip round interval")
        wait   = flag.Duration("timeout", 30*time.Second, "give up on a phase after this long")
    )
    flag.Parse()

    log := logutil.NewWith(false, "warn")
    defer func() { _ = log.Sync() }()
    ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer cancel()

    net := inmem.NewNetwork(inmem.Options{DropRate: *drop, QueueSize: 4096})
    all := make([]*gossip.Node, 0, *nodes)
    defer func() {
        for _, n := range all { _ = n.Stop() }
    }()
    for i := 0; i < *nodes; i++ {
        id := fmt.Sprintf("sim-%03d", i)
        ep, err := net.Endpoint(id)
        if err != nil { log.Fatal("endpoint", zap.Error(err)) }
        n, err := gossip.New(gossip.Config{
            NodeID:              id,
            Transport:           ep,
            Fanout:              *fanout,
            RoundInterval:       *round,
            SuspicionTimeout:    10 * *round,
            FailureTimeout:      30 * *round,
            AntiEntropyInterval: 20 * *round,
            DetectorInterval:    *round,
            Logger:              log,
        })
        if err != nil { log.Fatal("node", zap.Error(err)) }
        if err := n.Start(ctx); err != nil { log.Fatal("start", zap.Error(err)) }
        all = append(all, n)
        if i > 0 {
            if err := n.Join(ctx, []string{all[0].Addr()}); err != nil { log.Warn("join", zap.String("node", id), zap.Error(err)) }
        }
    }
    fmt.Printf("started %d nodes (fanout=%d, round=%s, drop=%.0f%%)\n", *nodes, *fanout, *round, *drop*100)

    phase(ctx, "membership", *wait, func() int {
        return count(all, func(n *gossip.Node) bool {
            for _, m := range all {
                if r, ok := n.Member(m.ID()); !ok || r.Status != membership.StatusAlive { return false }
            }
            return true
        })
    }, len(all))

    // the update has to spread through a burst of heavier loss
    net.SetDropRate(*burst)
    origin := all[0]
    if err := origin.UpdateMetadata(membership.Metadata{"rev": membership.Int(1)}); err != nil { log.Fatal("metadata", zap.Error(err)) }
    want := origin.Local().Version
    phase(ctx, "metadata", *wait, func() int {
        return count(all, func(n *gossip.Node) bool {
            r, ok := n.Member(origin.ID())
            return ok && r.Version >= want
        })
    }, len(all))
    net.SetDropRate(*drop)

    victim := all[len(all)-1]
    net.Disconnect(victim.Addr())
    _ = victim.Stop()
    others := all[:len(all)-1]
    phase(ctx, "failure detection", *wait, func() int {
        return count(others, func(n *gossip.Node) bool {
            r, ok := n.Member(victim.ID())
            return ok && r.Status == membership.StatusDead
        })
    }, len(others))

    sent, delivered := net.Stats()
    fmt.Printf("datagrams: sent=%d delivered=%d\n", sent, delivered)
}

// phase polls progress until it reaches total, the timeout expires or ctx ends.
func phase(ctx context.Context, name string, timeout time.Duration, progress func() int, total int) {
    start := time.Now()
    t := time.NewTicker(50 * time.Millisecond)
    defer t.Stop()
    for {
        got := progress()
        if got == total {
            fmt.Printf("%-18s converged in %s\n", name, time.Since(start).Round(time.Millisecond))
            return
        }
        if time.Since(start) > timeout {
            fmt.Printf("%-18s incomplete after %s (%d/%d)\n", name, timeout, got, total)
            return
        }
        select {
        case <-ctx.Done():
            return
        case <-t.C:
        }
    }
}

func count(ns []*gossip.Node, ok func(*gossip.Node) bool) int {
    c := 0
    for _, n := range ns {
        if ok(n) { c++ }
    }
    return c
}
