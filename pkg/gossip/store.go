package gossip

import (
    "encoding/json"
    "errors"
    "fmt"

    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"

    "github.com/amirimatin/go-gossip/pkg/membership"
)

var (
    keyLocalID       = []byte("gossip.local.id")
    keyLocalVersion  = []byte("gossip.local.version")
    keyLocalMetadata = []byte("gossip.local.metadata")
)

// localStore persists what a restarted node needs to keep its version
// counter moving forward. A nil store is valid and does nothing.
type localStore struct {
    s raft.StableStore
}

type persisted struct {
    NodeID   string
    Version  uint64
    Metadata membership.Metadata
    Found    bool
}

func isNotFound(err error) bool {
    // raft.InmemStore reports a plain "not found" error
    return errors.Is(err, raftboltdb.ErrKeyNotFound) || (err != nil && err.Error() == "not found")
}

func (l localStore) load() (persisted, error) {
    var p persisted
    if l.s == nil { return p, nil }
    id, err := l.s.Get(keyLocalID)
    if err != nil && !isNotFound(err) { return p, fmt.Errorf("gossip: load node id: %w", err) }
    p.NodeID = string(id)
    v, err := l.s.GetUint64(keyLocalVersion)
    if err != nil && !isNotFound(err) { return p, fmt.Errorf("gossip: load version: %w", err) }
    p.Version = v
    p.Found = v > 0
    raw, err := l.s.Get(keyLocalMetadata)
    if err != nil && !isNotFound(err) { return p, fmt.Errorf("gossip: load metadata: %w", err) }
    if len(raw) > 0 {
        if err := json.Unmarshal(raw, &p.Metadata); err != nil { return p, fmt.Errorf("gossip: decode metadata: %w", err) }
    }
    return p, nil
}

func (l localStore) save(rec membership.NodeRecord) error {
    if l.s == nil { return nil }
    md, err := rec.Metadata.Encode()
    if err != nil { return err }
    if err := l.s.Set(keyLocalID, []byte(rec.NodeID)); err != nil { return fmt.Errorf("gossip: save node id: %w", err) }
    if err := l.s.Set(keyLocalMetadata, md); err != nil { return fmt.Errorf("gossip: save metadata: %w", err) }
    if err := l.s.SetUint64(keyLocalVersion, rec.Version); err != nil { return fmt.Errorf("gossip: save version: %w", err) }
    return nil
}

// PersistedNodeID returns the node ID saved in s by a previous run, or ""
// when there is none. It lets a restarted process keep its identity.
func PersistedNodeID(s raft.StableStore) (string, error) {
    p, err := localStore{s: s}.load()
    if err != nil { return "", err }
    return p.NodeID, nil
}
