package gossip

import (
    "context"
    "time"

    "go.opentelemetry.io/otel/attribute"
    "go.uber.org/zap"

    "github.com/amirimatin/go-gossip/pkg/membership"
    obsmetrics "github.com/amirimatin/go-gossip/pkg/observability/metrics"
    "github.com/amirimatin/go-gossip/pkg/observability/tracing"
)

// AntiEntropy periodically sends the whole table to one random peer of any
// status, repairing divergence that regular rounds missed (including with
// peers this node currently believes DEAD).
type AntiEntropy struct {
    table    *membership.Table
    out      *pusher
    rng      *lockedRand
    interval time.Duration
    log      *zap.Logger
}

func (a *AntiEntropy) Run(ctx context.Context) {
    t := time.NewTicker(a.interval)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            a.Exchange(ctx)
        }
    }
}

// Exchange performs one full-state push. It returns the chosen peer, or ""
// when no peer is known.
func (a *AntiEntropy) Exchange(ctx context.Context) string {
    ctx, end := tracing.StartSpan(ctx, "gossip.antientropy")
    defer end()
    peers := a.table.Peers(func(r membership.NodeRecord) bool { return r.Addr != "" })
    pick := a.rng.choose(len(peers), 1)
    if len(pick) == 0 { return "" }
    peer := peers[pick[0]]
    sent, bytes := a.out.push([]string{peer.Addr}, kindAntiEntropy, false)
    obsmetrics.AntiEntropyBytes.Add(float64(bytes))
    tracing.Annotate(ctx, attribute.String("peer", peer.NodeID), attribute.Int("bytes", bytes))
    a.log.Debug("anti-entropy exchange", zap.String("peer", peer.NodeID), zap.Stringer("status", peer.Status), zap.Int("sent", sent), zap.Int("bytes", bytes))
    return peer.Addr
}
