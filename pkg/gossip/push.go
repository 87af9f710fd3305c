package gossip

import (
    "go.uber.org/zap"

    "github.com/amirimatin/go-gossip/pkg/membership"
    obsmetrics "github.com/amirimatin/go-gossip/pkg/observability/metrics"
    "github.com/amirimatin/go-gossip/pkg/transport"
    "github.com/amirimatin/go-gossip/pkg/wire"
)

const (
    kindGossip      = "gossip"
    kindJoin        = "join"
    kindJoinReply   = "join_reply"
    kindAntiEntropy = "antientropy"
    kindLeave       = "leave"
)

// pusher encodes the full table once and sends it to a set of addresses.
// The table lock is only held while taking the snapshot.
type pusher struct {
    table *membership.Table
    codec *wire.Codec
    tr    transport.Transport
    log   *zap.Logger
}

// push returns the number of datagrams handed to the transport and their
// total size.
func (p *pusher) push(addrs []string, kind string, join bool) (int, int) {
    if len(addrs) == 0 { return 0, 0 }
    msg := wire.Message{SenderID: p.table.SelfID(), Join: join, Records: p.table.Snapshot()}
    payload, pruned, err := p.codec.Encode(msg)
    if err != nil {
        p.log.Error("encode state", zap.String("kind", kind), zap.Error(err))
        return 0, 0
    }
    if pruned > 0 {
        obsmetrics.PrunedRecords.Add(float64(pruned))
        p.log.Debug("pruned records to fit datagram", zap.Int("pruned", pruned), zap.Int("bytes", len(payload)))
    }
    sent := 0
    for _, addr := range addrs {
        if err := p.tr.Send(addr, payload); err != nil {
            obsmetrics.SendErrors.Inc()
            p.log.Warn("send failed", zap.String("to", addr), zap.String("kind", kind), zap.Int("bytes", len(payload)), zap.Error(err))
            continue
        }
        sent++
    }
    obsmetrics.MessagesSent.WithLabelValues(kind).Add(float64(sent))
    obsmetrics.BytesSent.WithLabelValues(kind).Add(float64(sent * len(payload)))
    return sent, sent * len(payload)
}
