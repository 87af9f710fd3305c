package membership

import (
    "bytes"
    "strings"
)

// Compare orders two records for the same node: higher Version wins, then
// higher Heartbeat, then the lexicographically greater NodeID, then the
// greater canonical metadata encoding, and finally DEAD over any live
// status. SUSPECTED and ALIVE rank equal since both are stored as ALIVE on
// receipt. It returns -1, 0 or +1.
func Compare(a, b NodeRecord) int {
    switch {
    case a.Version != b.Version:
        if a.Version > b.Version { return 1 }
        return -1
    case a.Heartbeat != b.Heartbeat:
        if a.Heartbeat > b.Heartbeat { return 1 }
        return -1
    case a.NodeID != b.NodeID:
        return strings.Compare(a.NodeID, b.NodeID)
    }
    if !a.Metadata.Equal(b.Metadata) {
        ea, _ := a.Metadata.Encode()
        eb, _ := b.Metadata.Encode()
        if c := bytes.Compare(ea, eb); c != 0 { return c }
    }
    return deadRank(a.Status) - deadRank(b.Status)
}

// Supersedes reports whether remote should replace local.
func Supersedes(remote, local NodeRecord) bool { return Compare(remote, local) > 0 }

func deadRank(s Status) int {
    if s == StatusDead { return 1 }
    return 0
}
