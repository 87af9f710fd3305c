package cluster

import (
    "context"
    "fmt"

    "github.com/amirimatin/go-gossip/pkg/membership"
)

// Status is the JSON document served by management /status.
type Status struct {
    ID        string `json:"id"`
    Addr      string `json:"addr"`
    MgmtAddr  string `json:"mgmtAddr,omitempty"`
    Running   bool   `json:"running"`
    // Healthy is false when the node is stopped, a peer is SUSPECTED or
    // every known peer is DEAD.
    Healthy   bool   `json:"healthy"`
    Version   uint64 `json:"version"`
    Heartbeat uint64 `json:"heartbeat"`
    // Counts holds the number of peers per status, self excluded.
    Counts  map[string]int          `json:"counts"`
    Members []membership.NodeRecord `json:"members"`
    // Warnings contains non-fatal observations such as suspected peers.
    Warnings []string `json:"warnings,omitempty"`
}

// Status returns a snapshot of the local node and its membership view.
func (c *Cluster) Status(ctx context.Context) (*Status, error) {
    if err := ctx.Err(); err != nil { return nil, err }
    n := c.opts.Node
    self := n.Local()
    members := n.Members()
    s := &Status{
        ID:        n.ID(),
        Addr:      n.Addr(),
        Running:   n.Running(),
        Version:   self.Version,
        Heartbeat: self.Heartbeat,
        Counts:    map[string]int{},
        Members:   members,
    }
    if c.opts.RPCServer != nil { s.MgmtAddr = c.opts.RPCServer.Addr() }
    for _, st := range []membership.Status{membership.StatusAlive, membership.StatusSuspected, membership.StatusDead} {
        s.Counts[st.String()] = 0
    }
    for _, m := range members {
        if m.NodeID == s.ID { continue }
        s.Counts[m.Status.String()]++
    }
    alive := s.Counts[membership.StatusAlive.String()]
    suspected := s.Counts[membership.StatusSuspected.String()]
    dead := s.Counts[membership.StatusDead.String()]
    if !s.Running { s.Warnings = append(s.Warnings, "node is not running") }
    if suspected > 0 { s.Warnings = append(s.Warnings, fmt.Sprintf("%d suspected peer(s)", suspected)) }
    if dead > 0 && alive == 0 && suspected == 0 { s.Warnings = append(s.Warnings, "no live peers") }
    s.Healthy = s.Running && suspected == 0 && !(dead > 0 && alive == 0)
    return s, nil
}
