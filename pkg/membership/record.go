package membership

import (
    "fmt"
    "strings"
    "time"
)

// Status is a node's liveness as observed locally.
type Status uint8

const (
    StatusAlive Status = iota
    StatusSuspected
    StatusDead
)

func (s Status) String() string {
    switch s {
    case StatusAlive:
        return "ALIVE"
    case StatusSuspected:
        return "SUSPECTED"
    case StatusDead:
        return "DEAD"
    }
    return fmt.Sprintf("Status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) {
    if s > StatusDead { return nil, fmt.Errorf("membership: unknown status %d", uint8(s)) }
    return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
    st, err := ParseStatus(string(b))
    if err != nil { return err }
    *s = st
    return nil
}

// ParseStatus accepts ALIVE, SUSPECTED or DEAD (case-insensitive).
func ParseStatus(s string) (Status, error) {
    switch strings.ToUpper(strings.TrimSpace(s)) {
    case "ALIVE":
        return StatusAlive, nil
    case "SUSPECTED":
        return StatusSuspected, nil
    case "DEAD":
        return StatusDead, nil
    }
    return 0, fmt.Errorf("membership: unknown status %q", s)
}

// NodeRecord is one node's membership entry. Version and Heartbeat are only
// ever advanced by the owning node; LastUpdated is local bookkeeping and is
// never transmitted.
type NodeRecord struct {
    NodeID      string    `json:"nodeId"`
    Addr        string    `json:"addr,omitempty"`
    Status      Status    `json:"status"`
    Metadata    Metadata  `json:"metadata"`
    Version     uint64    `json:"version"`
    Heartbeat   uint64    `json:"heartbeat"`
    LastUpdated time.Time `json:"-"`
}

// Clone returns a deep copy of r.
func (r NodeRecord) Clone() NodeRecord {
    r.Metadata = r.Metadata.Clone()
    return r
}

func (r NodeRecord) String() string {
    return fmt.Sprintf("%s@%s %s v%d hb%d", r.NodeID, r.Addr, r.Status, r.Version, r.Heartbeat)
}
