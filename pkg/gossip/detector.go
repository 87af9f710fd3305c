package gossip

import (
    "context"
    "time"

    "github.com/amirimatin/go-gossip/pkg/membership"
)

// FailureDetector ages silent peers: SUSPECTED after the suspicion timeout,
// DEAD after the failure timeout, both counted from the last time fresh
// information about the peer arrived. Revival happens in merge.
type FailureDetector struct {
    table     *membership.Table
    events    *notifier
    suspicion time.Duration
    failure   time.Duration
    interval  time.Duration
}

func (f *FailureDetector) Run(ctx context.Context) {
    t := time.NewTicker(f.interval)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            f.Scan()
        }
    }
}

// Scan applies one aging pass and reports the transitions it made.
func (f *FailureDetector) Scan() []membership.StatusChange {
    changes := f.table.Age(f.suspicion, f.failure)
    f.events.statusChanged(changes)
    return changes
}
