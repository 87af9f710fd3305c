package gossip

import (
    "context"
    "errors"
    "sync"
    "time"

    "go.opentelemetry.io/otel/attribute"
    "go.uber.org/zap"

    "github.com/amirimatin/go-gossip/pkg/membership"
    obsmetrics "github.com/amirimatin/go-gossip/pkg/observability/metrics"
    "github.com/amirimatin/go-gossip/pkg/observability/tracing"
    "github.com/amirimatin/go-gossip/pkg/transport"
    "github.com/amirimatin/go-gossip/pkg/wire"
)

// Disseminator runs gossip rounds and merges whatever arrives. Every
// datagram carries the sender's full view, so a push to a peer is also a
// pull for that peer when it merges.
type Disseminator struct {
    table    *membership.Table
    tr       transport.Transport
    codec    *wire.Codec
    out      *pusher
    rng      *lockedRand
    events   *notifier
    store    localStore
    fanout   int
    interval time.Duration
    log      *zap.Logger

    mu    sync.Mutex
    seeds []string
}

// SetSeeds records the addresses used when no live peer is known.
func (d *Disseminator) SetSeeds(seeds []string) {
    d.mu.Lock()
    d.seeds = append([]string(nil), seeds...)
    d.mu.Unlock()
}

func (d *Disseminator) seedAddrs() []string {
    d.mu.Lock()
    defer d.mu.Unlock()
    self := d.tr.Addr()
    out := make([]string, 0, len(d.seeds))
    for _, s := range d.seeds {
        if s != self { out = append(out, s) }
    }
    return out
}

// Run executes a round every interval until ctx is done.
func (d *Disseminator) Run(ctx context.Context) {
    t := time.NewTicker(d.interval)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            d.Round(ctx)
        }
    }
}

// Round bumps the local heartbeat and pushes the full state to up to fanout
// random non-DEAD peers. With no eligible peer the round goes to the seeds
// instead, flagged as a join so they answer. It returns the number of
// datagrams sent.
func (d *Disseminator) Round(ctx context.Context) int {
    ctx, end := tracing.StartSpan(ctx, "gossip.round")
    defer end()
    start := time.Now()

    peers := d.table.Peers(func(r membership.NodeRecord) bool {
        return r.Status != membership.StatusDead && r.Addr != ""
    })
    var targets []string
    for _, i := range d.rng.choose(len(peers), d.fanout) {
        targets = append(targets, peers[i].Addr)
    }
    kind, join := kindGossip, false
    if len(targets) == 0 {
        targets = d.seedAddrs()
        kind, join = kindJoin, true
    }
    d.table.BumpHeartbeat()
    sent, _ := d.out.push(targets, kind, join)

    elapsed := time.Since(start)
    obsmetrics.Rounds.Inc()
    obsmetrics.RoundDuration.Observe(elapsed.Seconds())
    tracing.Annotate(ctx, attribute.Int("targets", len(targets)), attribute.Int("sent", sent))
    if elapsed > roundBudget {
        d.log.Warn("slow gossip round", zap.Duration("elapsed", elapsed), zap.Int("peers", len(peers)))
    }
    return sent
}

// Listen feeds received datagrams into Handle until ctx is done or the
// transport closes.
func (d *Disseminator) Listen(ctx context.Context) {
    packets := d.tr.Packets()
    for {
        select {
        case <-ctx.Done():
            return
        case pkt, ok := <-packets:
            if !ok { return }
            d.Handle(ctx, pkt)
        }
    }
}

// Handle decodes one datagram and merges it. Bad datagrams are dropped and
// counted; they never stop the receive loop.
func (d *Disseminator) Handle(ctx context.Context, pkt transport.Packet) membership.MergeResult {
    msg, err := d.codec.Decode(pkt.Payload)
    if err != nil {
        reason := "malformed"
        if errors.Is(err, wire.ErrMessageTooLarge) { reason = "too_large" }
        obsmetrics.DroppedMessages.WithLabelValues(reason).Inc()
        d.log.Warn("dropping datagram", zap.String("from", pkt.From), zap.Int("bytes", len(pkt.Payload)), zap.Error(err))
        return membership.MergeResult{}
    }
    if msg.SenderID == d.table.SelfID() {
        obsmetrics.DroppedMessages.WithLabelValues("self").Inc()
        return membership.MergeResult{}
    }
    obsmetrics.MessagesReceived.Inc()

    _, end := tracing.StartSpan(ctx, "gossip.merge", attribute.String("sender", msg.SenderID), attribute.Int("records", len(msg.Records)))
    start := time.Now()
    res := d.table.Merge(msg.SenderID, msg.Records)
    elapsed := time.Since(start)
    end()
    obsmetrics.Merges.Inc()
    obsmetrics.MergeDuration.Observe(elapsed.Seconds())
    if elapsed > mergeBudget {
        d.log.Warn("slow merge", zap.Duration("elapsed", elapsed), zap.Int("records", len(msg.Records)))
    }

    if res.Refuted {
        self := d.table.Local()
        obsmetrics.Refutations.Inc()
        d.log.Info("refuted stale view of local node", zap.String("from", msg.SenderID), zap.Uint64("version", self.Version))
        if err := d.store.save(self); err != nil { d.log.Error("persist local state", zap.Error(err)) }
    }
    d.events.merged(res)

    if msg.Join {
        reply := replyAddr(msg, pkt.From)
        if reply != "" { d.out.push([]string{reply}, kindJoinReply, false) }
    }
    return res
}

// replyAddr prefers the address the sender advertises for itself.
func replyAddr(msg wire.Message, from string) string {
    for _, r := range msg.Records {
        if r.NodeID == msg.SenderID && r.Addr != "" { return r.Addr }
    }
    return from
}
