package membership

import (
    "sort"
    "sync"
    "time"
)

// TableOptions configures a Table.
type TableOptions struct {
    // SelfID and Addr identify the locally owned record.
    SelfID string
    Addr   string
    // Metadata is the initial local metadata.
    Metadata Metadata
    // MaxMetadataBytes bounds the encoded local metadata (default 10240).
    MaxMetadataBytes int
    // Clock returns the current time (default time.Now).
    Clock func() time.Time
}

// StatusChange describes one status transition applied to the table.
type StatusChange struct {
    Record NodeRecord
    From   Status
    To     Status
}

// MergeResult lists what a Merge changed so callers can notify outside the lock.
type MergeResult struct {
    Joined          []NodeRecord
    StatusChanged   []StatusChange
    MetadataUpdated []NodeRecord
    // Refuted is set when the local record had to be bumped above a
    // newer remote view of itself.
    Refuted bool
    // Applied counts remote records that were inserted or replaced.
    Applied int
}

// Empty reports whether the merge changed nothing observable.
func (r MergeResult) Empty() bool {
    return len(r.Joined) == 0 && len(r.StatusChanged) == 0 && len(r.MetadataUpdated) == 0 && !r.Refuted
}

// Table is the node-local view of cluster membership: exactly one record per
// node ID, including the local node. All methods are safe for concurrent use
// and return deep copies.
type Table struct {
    mu      sync.RWMutex
    self    string
    maxMeta int
    now     func() time.Time
    records map[string]*NodeRecord
}

// NewTable creates a table holding only the local record (version 1,
// heartbeat 0, ALIVE).
func NewTable(opts TableOptions) *Table {
    if opts.MaxMetadataBytes <= 0 { opts.MaxMetadataBytes = DefaultMaxMetadataBytes }
    if opts.Clock == nil { opts.Clock = time.Now }
    t := &Table{
        self:    opts.SelfID,
        maxMeta: opts.MaxMetadataBytes,
        now:     opts.Clock,
        records: make(map[string]*NodeRecord),
    }
    t.records[opts.SelfID] = &NodeRecord{
        NodeID:      opts.SelfID,
        Addr:        opts.Addr,
        Status:      StatusAlive,
        Metadata:    opts.Metadata.Clone(),
        Version:     1,
        LastUpdated: opts.Clock(),
    }
    return t
}

func (t *Table) SelfID() string { return t.self }

// Now returns the table's clock reading.
func (t *Table) Now() time.Time { return t.now() }

func (t *Table) Len() int {
    t.mu.RLock()
    defer t.mu.RUnlock()
    return len(t.records)
}

func (t *Table) Get(id string) (NodeRecord, bool) {
    t.mu.RLock()
    defer t.mu.RUnlock()
    r, ok := t.records[id]
    if !ok { return NodeRecord{}, false }
    return r.Clone(), true
}

func (t *Table) Local() NodeRecord {
    t.mu.RLock()
    defer t.mu.RUnlock()
    return t.records[t.self].Clone()
}

// Snapshot returns every record sorted by node ID.
func (t *Table) Snapshot() []NodeRecord {
    t.mu.RLock()
    defer t.mu.RUnlock()
    out := make([]NodeRecord, 0, len(t.records))
    for _, r := range t.records { out = append(out, r.Clone()) }
    sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
    return out
}

// Peers returns non-self records accepted by include (nil accepts all),
// sorted by node ID.
func (t *Table) Peers(include func(NodeRecord) bool) []NodeRecord {
    t.mu.RLock()
    defer t.mu.RUnlock()
    out := make([]NodeRecord, 0, len(t.records))
    for id, r := range t.records {
        if id == t.self { continue }
        if include != nil && !include(*r) { continue }
        out = append(out, r.Clone())
    }
    sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
    return out
}

// Counts returns the number of non-self records per status.
func (t *Table) Counts() map[Status]int {
    t.mu.RLock()
    defer t.mu.RUnlock()
    out := map[Status]int{StatusAlive: 0, StatusSuspected: 0, StatusDead: 0}
    for id, r := range t.records {
        if id == t.self { continue }
        out[r.Status]++
    }
    return out
}

// UpdateLocal shallow-merges patch into the local metadata and increments
// the local version. If the merged metadata encodes to more than the limit
// a *MetadataTooLargeError is returned and nothing changes.
func (t *Table) UpdateLocal(patch Metadata) (NodeRecord, error) {
    t.mu.Lock()
    defer t.mu.Unlock()
    self := t.records[t.self]
    if self.Status == StatusDead { return NodeRecord{}, ErrLeft }
    merged := self.Metadata.Merge(patch)
    size, err := merged.Size()
    if err != nil { return NodeRecord{}, err }
    if size > t.maxMeta { return NodeRecord{}, &MetadataTooLargeError{Size: size, Limit: t.maxMeta} }
    self.Metadata = merged
    self.Version++
    self.LastUpdated = t.now()
    return self.Clone(), nil
}

// BumpHeartbeat increments the local heartbeat.
func (t *Table) BumpHeartbeat() NodeRecord {
    t.mu.Lock()
    defer t.mu.Unlock()
    self := t.records[t.self]
    self.Heartbeat++
    self.LastUpdated = t.now()
    return self.Clone()
}

// MarkLeft marks the local record DEAD with a new version so the departure
// supersedes every earlier view of this node.
func (t *Table) MarkLeft() NodeRecord {
    t.mu.Lock()
    defer t.mu.Unlock()
    self := t.records[t.self]
    if self.Status != StatusDead {
        self.Status = StatusDead
        self.Version++
        self.LastUpdated = t.now()
    }
    return self.Clone()
}

// Restore installs persisted local state. The version never moves backwards.
func (t *Table) Restore(version uint64, md Metadata) NodeRecord {
    t.mu.Lock()
    defer t.mu.Unlock()
    self := t.records[t.self]
    if version > self.Version { self.Version = version }
    if md != nil { self.Metadata = md.Clone() }
    return self.Clone()
}

// Merge applies remote records received from senderID.
//
// An unknown record is inserted; a known one is replaced only when the remote
// copy supersedes it. Either way the stored status follows receipt: ALIVE,
// unless the remote record itself says DEAD. Records about the local node
// are never adopted; a superseding one makes the local node refute it by
// jumping its version past the remote one. Finally the sender itself is
// marked ALIVE, since a datagram from it is proof of life.
func (t *Table) Merge(senderID string, remote []NodeRecord) MergeResult {
    var res MergeResult
    t.mu.Lock()
    defer t.mu.Unlock()
    now := t.now()
    senderLeft := false
    for i := range remote {
        r := &remote[i]
        if r.NodeID == "" { continue }
        if r.NodeID == t.self {
            if t.refuteLocked(*r) { res.Refuted = true }
            continue
        }
        if r.NodeID == senderID && r.Status == StatusDead { senderLeft = true }
        local, ok := t.records[r.NodeID]
        if !ok {
            rec := r.Clone()
            rec.Status = statusOnReceipt(r.Status)
            rec.LastUpdated = now
            t.records[rec.NodeID] = &rec
            res.Applied++
            res.Joined = append(res.Joined, rec.Clone())
            continue
        }
        if !Supersedes(*r, *local) { continue }
        prev := local.Status
        metaChanged := !local.Metadata.Equal(r.Metadata)
        local.Metadata = r.Metadata.Clone()
        local.Version = r.Version
        local.Heartbeat = r.Heartbeat
        if r.Addr != "" { local.Addr = r.Addr }
        local.Status = statusOnReceipt(r.Status)
        local.LastUpdated = now
        res.Applied++
        if metaChanged { res.MetadataUpdated = append(res.MetadataUpdated, local.Clone()) }
        if prev != local.Status {
            res.StatusChanged = append(res.StatusChanged, StatusChange{Record: local.Clone(), From: prev, To: local.Status})
        }
    }
    if senderID != "" && senderID != t.self && !senderLeft {
        if s, ok := t.records[senderID]; ok {
            s.LastUpdated = now
            if s.Status != StatusAlive {
                prev := s.Status
                s.Status = StatusAlive
                res.StatusChanged = append(res.StatusChanged, StatusChange{Record: s.Clone(), From: prev, To: StatusAlive})
            }
        }
    }
    return res
}

func (t *Table) refuteLocked(r NodeRecord) bool {
    self := t.records[t.self]
    if self.Status == StatusDead || !Supersedes(r, *self) { return false }
    self.Version = r.Version + 1
    if r.Heartbeat > self.Heartbeat { self.Heartbeat = r.Heartbeat }
    self.LastUpdated = t.now()
    return true
}

func statusOnReceipt(s Status) Status {
    if s == StatusDead { return StatusDead }
    return StatusAlive
}

// Age moves silent peers through ALIVE -> SUSPECTED -> DEAD. Silence is
// measured from LastUpdated. DEAD records are left alone.
func (t *Table) Age(suspicion, failure time.Duration) []StatusChange {
    t.mu.Lock()
    defer t.mu.Unlock()
    now := t.now()
    var out []StatusChange
    for id, r := range t.records {
        if id == t.self || r.Status == StatusDead { continue }
        silent := now.Sub(r.LastUpdated)
        next := r.Status
        switch {
        case silent >= failure:
            next = StatusDead
        case silent >= suspicion:
            next = StatusSuspected
        }
        if next == r.Status { continue }
        prev := r.Status
        r.Status = next
        out = append(out, StatusChange{Record: r.Clone(), From: prev, To: next})
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Record.NodeID < out[j].Record.NodeID })
    return out
}
