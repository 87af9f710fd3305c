package gossip

import (
    "context"
    "sync"
    "time"

    "go.uber.org/zap"

    "github.com/amirimatin/go-gossip/pkg/membership"
    obsmetrics "github.com/amirimatin/go-gossip/pkg/observability/metrics"
)

type EventType string

const (
    EventMemberJoin     EventType = "member_join"
    EventStatusChange   EventType = "status_change"
    EventMetadataUpdate EventType = "metadata_update"
)

// Event describes one membership change. From and To are set for status changes.
type Event struct {
    Type   EventType
    At     time.Time
    Member membership.NodeRecord
    From   membership.Status
    To     membership.Status
}

// Subscribe returns a channel of events. The returned channel is buffered and
// closed automatically when ctx is done. Events may be dropped if the consumer
// is too slow (best-effort delivery) to avoid back-pressuring internals.
func (n *Node) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    n.bus.add(ch)
    go func() {
        <-ctx.Done()
        n.bus.remove(ch)
        close(ch)
    }()
    return ch
}

// internal event bus
type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    if e.subs == nil { e.subs = make(map[chan Event]struct{}) }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    if e.subs != nil { delete(e.subs, ch) }
    e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
    e.mu.Lock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
            // drop if receiver is slow
        }
    }
    e.mu.Unlock()
}

// notifier fans table changes out to callbacks, subscribers and metrics.
// It is always called after the table lock has been released.
type notifier struct {
    cfg   Config
    bus   *eventBus
    table *membership.Table
    log   *zap.Logger
}

func (n *notifier) merged(res membership.MergeResult) {
    now := n.cfg.Clock()
    for _, r := range res.Joined {
        n.log.Info("member joined", zap.String("node", r.NodeID), zap.String("addr", r.Addr), zap.Stringer("status", r.Status))
        if n.cfg.OnMemberJoin != nil { n.cfg.OnMemberJoin(r) }
        n.bus.publish(Event{Type: EventMemberJoin, At: now, Member: r, To: r.Status})
    }
    for _, r := range res.MetadataUpdated {
        n.log.Debug("member metadata updated", zap.String("node", r.NodeID), zap.Uint64("version", r.Version))
        if n.cfg.OnMetadataUpdate != nil { n.cfg.OnMetadataUpdate(r) }
        n.bus.publish(Event{Type: EventMetadataUpdate, At: now, Member: r})
    }
    n.statusChanged(res.StatusChanged)
    if len(res.Joined) > 0 || len(res.StatusChanged) > 0 { n.gauges() }
}

func (n *notifier) statusChanged(changes []membership.StatusChange) {
    if len(changes) == 0 { return }
    now := n.cfg.Clock()
    for _, c := range changes {
        lvl := n.log.Info
        if c.To != membership.StatusAlive { lvl = n.log.Warn }
        lvl("member status changed",
            zap.String("node", c.Record.NodeID),
            zap.Stringer("from", c.From),
            zap.Stringer("to", c.To))
        obsmetrics.StatusTransitions.WithLabelValues(c.From.String(), c.To.String()).Inc()
        if n.cfg.OnMemberStatusChange != nil { n.cfg.OnMemberStatusChange(c.Record, c.From, c.To) }
        n.bus.publish(Event{Type: EventStatusChange, At: now, Member: c.Record, From: c.From, To: c.To})
    }
    n.gauges()
}

func (n *notifier) gauges() {
    for st, cnt := range n.table.Counts() {
        obsmetrics.Members.WithLabelValues(st.String()).Set(float64(cnt))
    }
}
