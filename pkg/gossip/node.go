package gossip

import (
    "context"
    "fmt"
    "strings"
    "sync"

    "go.opentelemetry.io/otel/attribute"
    "go.uber.org/zap"

    "github.com/amirimatin/go-gossip/pkg/membership"
    obsmetrics "github.com/amirimatin/go-gossip/pkg/observability/metrics"
    "github.com/amirimatin/go-gossip/pkg/observability/tracing"
    "github.com/amirimatin/go-gossip/pkg/transport"
    "github.com/amirimatin/go-gossip/pkg/wire"
)

// Node is one gossip participant. It owns a membership table and runs four
// loops against it: gossip rounds, the receive loop, failure detection and
// anti-entropy. Many nodes may live in one process.
type Node struct {
    cfg   Config
    log   *zap.Logger
    table *membership.Table
    tr    transport.Transport
    store localStore
    bus   eventBus

    out    *pusher
    dissem *Disseminator
    fd     *FailureDetector
    ae     *AntiEntropy

    mu      sync.Mutex
    started bool
    stopped bool
    left    bool
    cancel  context.CancelFunc
    wg      sync.WaitGroup
}

// New validates cfg and assembles a node. Nothing runs until Start.
func New(cfg Config) (*Node, error) {
    if err := cfg.Validate(); err != nil { return nil, err }
    cfg = cfg.withDefaults()
    log := cfg.Logger.Named("gossip").With(zap.String("node", cfg.NodeID))

    store := localStore{s: cfg.Store}
    prev, err := store.load()
    if err != nil { return nil, err }

    table := membership.NewTable(membership.TableOptions{
        SelfID:           cfg.NodeID,
        Addr:             cfg.Transport.Addr(),
        Metadata:         cfg.Metadata,
        MaxMetadataBytes: cfg.MaxMetadataBytes,
        Clock:            cfg.Clock,
    })
    if prev.Found && prev.NodeID == cfg.NodeID {
        // a restart is a new incarnation and must supersede everything the
        // previous one sent, including its leave
        var md membership.Metadata
        if len(cfg.Metadata) == 0 { md = prev.Metadata }
        self := table.Restore(prev.Version+1, md)
        log.Info("restored local state", zap.Uint64("version", self.Version))
    }
    if err := store.save(table.Local()); err != nil { return nil, err }

    n := &Node{cfg: cfg, log: log, table: table, tr: cfg.Transport, store: store}
    codec := wire.NewCodec(cfg.MaxMessageBytes, cfg.Compress)
    rng := &lockedRand{r: cfg.Rand}
    events := &notifier{cfg: cfg, bus: &n.bus, table: table, log: log}
    n.out = &pusher{table: table, codec: codec, tr: cfg.Transport, log: log}
    n.dissem = &Disseminator{
        table:    table,
        tr:       cfg.Transport,
        codec:    codec,
        out:      n.out,
        rng:      rng,
        events:   events,
        store:    store,
        fanout:   cfg.Fanout,
        interval: cfg.RoundInterval,
        log:      log,
    }
    n.fd = &FailureDetector{
        table:     table,
        events:    events,
        suspicion: cfg.SuspicionTimeout,
        failure:   cfg.FailureTimeout,
        interval:  cfg.DetectorInterval,
    }
    n.ae = &AntiEntropy{table: table, out: n.out, rng: rng, interval: cfg.AntiEntropyInterval, log: log}
    return n, nil
}

// Start launches the background loops. Cancelling ctx stops the node.
func (n *Node) Start(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    switch {
    case n.stopped:
        return ErrStopped
    case n.started:
        return nil
    }
    obsmetrics.Register()
    rctx, cancel := context.WithCancel(context.Background())
    n.cancel = cancel
    n.started = true
    loops := []func(context.Context){n.dissem.Listen, n.dissem.Run, n.fd.Run, n.ae.Run}
    n.wg.Add(len(loops))
    for _, loop := range loops {
        go func(run func(context.Context)) {
            defer n.wg.Done()
            run(rctx)
        }(loop)
    }
    go func() {
        select {
        case <-ctx.Done():
            _ = n.Stop()
        case <-rctx.Done():
        }
    }()
    n.log.Info("gossip node started",
        zap.String("addr", n.tr.Addr()),
        zap.Duration("round", n.cfg.RoundInterval),
        zap.Int("fanout", n.cfg.Fanout),
        zap.Int("max_datagram", n.out.codec.MaxBytes()))
    return nil
}

// Stop cancels the loops, waits for them and closes the transport. It is
// safe to call more than once.
func (n *Node) Stop() error {
    n.mu.Lock()
    if n.stopped {
        n.mu.Unlock()
        return nil
    }
    n.stopped = true
    cancel := n.cancel
    n.mu.Unlock()

    if cancel != nil { cancel() }
    n.wg.Wait()
    err := n.tr.Close()
    n.log.Info("gossip node stopped")
    return err
}

func (n *Node) running() error {
    n.mu.Lock()
    defer n.mu.Unlock()
    switch {
    case n.left:
        return ErrLeft
    case n.stopped:
        return ErrStopped
    case !n.started:
        return ErrNotStarted
    }
    return nil
}

// Join announces this node to the seed addresses, which answer with their
// full state. The seeds are also remembered as a fallback for rounds with no
// live peer. An empty seed list (first node of a cluster) is not an error.
// Replies are only processed once the node is started.
func (n *Node) Join(ctx context.Context, seeds []string) error {
    n.mu.Lock()
    left, stopped := n.left, n.stopped
    n.mu.Unlock()
    switch {
    case left:
        return ErrLeft
    case stopped:
        return ErrStopped
    }
    if err := ctx.Err(); err != nil { return err }
    _, end := tracing.StartSpan(ctx, "gossip.join", attribute.Int("seeds", len(seeds)))
    defer end()
    self := n.tr.Addr()
    var targets []string
    for _, s := range seeds {
        s = strings.TrimSpace(s)
        if s != "" && s != self { targets = append(targets, s) }
    }
    n.dissem.SetSeeds(targets)
    if len(targets) == 0 { return nil }
    sent, _ := n.out.push(targets, kindJoin, true)
    if sent == 0 { return fmt.Errorf("%w: tried %s", ErrNoSeeds, strings.Join(targets, ",")) }
    n.log.Info("join sent", zap.Strings("seeds", targets))
    return nil
}

// Leave marks the local node DEAD under a new version, pushes that to every
// known peer and stops the node.
func (n *Node) Leave(ctx context.Context) error {
    n.mu.Lock()
    switch {
    case n.left:
        n.mu.Unlock()
        return nil
    case n.stopped:
        n.mu.Unlock()
        return ErrStopped
    }
    n.left = true
    n.mu.Unlock()

    _, end := tracing.StartSpan(ctx, "gossip.leave")
    rec := n.table.MarkLeft()
    if err := n.store.save(rec); err != nil { n.log.Error("persist local state", zap.Error(err)) }
    var addrs []string
    for _, p := range n.table.Peers(func(r membership.NodeRecord) bool { return r.Addr != "" }) {
        addrs = append(addrs, p.Addr)
    }
    sent, _ := n.out.push(addrs, kindLeave, false)
    end()
    n.log.Info("left cluster", zap.Uint64("version", rec.Version), zap.Int("notified", sent))
    return n.Stop()
}

// UpdateMetadata merges patch into the local metadata and bumps the local
// version. Oversized results fail with *membership.MetadataTooLargeError and
// change nothing.
func (n *Node) UpdateMetadata(patch membership.Metadata) error {
    n.mu.Lock()
    left := n.left
    n.mu.Unlock()
    if left { return ErrLeft }
    rec, err := n.table.UpdateLocal(patch)
    if err != nil { return err }
    obsmetrics.MetadataUpdates.Inc()
    if err := n.store.save(rec); err != nil { n.log.Error("persist local state", zap.Error(err)) }
    n.log.Debug("local metadata updated", zap.Uint64("version", rec.Version), zap.Strings("keys", patch.Keys()))
    return nil
}

// Members returns every known record, including self and DEAD nodes,
// sorted by node ID.
func (n *Node) Members() []membership.NodeRecord { return n.table.Snapshot() }

// Member returns the record for id.
func (n *Node) Member(id string) (membership.NodeRecord, bool) { return n.table.Get(id) }

// Local returns the local record.
func (n *Node) Local() membership.NodeRecord { return n.table.Local() }

func (n *Node) ID() string   { return n.cfg.NodeID }
func (n *Node) Addr() string { return n.tr.Addr() }

// Running reports whether the loops are active.
func (n *Node) Running() bool { return n.running() == nil }

// HealthScore is the number of peers currently not ALIVE, or -1 when the
// node is not running.
func (n *Node) HealthScore() int {
    if !n.Running() { return -1 }
    c := n.table.Counts()
    return c[membership.StatusSuspected] + c[membership.StatusDead]
}

var _ membership.HealthReporter = (*Node)(nil)
