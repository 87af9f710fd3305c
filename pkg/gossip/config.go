package gossip

import (
    "errors"
    "math/rand"
    "time"

    "github.com/hashicorp/raft"
    "go.uber.org/zap"

    "github.com/amirimatin/go-gossip/pkg/membership"
    "github.com/amirimatin/go-gossip/pkg/transport"
    "github.com/amirimatin/go-gossip/pkg/wire"
)

const (
    DefaultRoundInterval       = time.Second
    DefaultFanout              = 3
    DefaultSuspicionTimeout    = 5 * time.Second
    DefaultFailureTimeout      = 10 * time.Second
    DefaultAntiEntropyInterval = 60 * time.Second
    DefaultDetectorInterval    = time.Second

    roundBudget = 100 * time.Millisecond
    mergeBudget = 50 * time.Millisecond
)

// Config assembles a Node. Zero values fall back to the defaults above.
type Config struct {
    // NodeID is the unique, immutable identifier of this node.
    NodeID string
    // Transport carries datagrams. The node closes it on Stop.
    Transport transport.Transport
    // Metadata is the initial local metadata.
    Metadata membership.Metadata

    RoundInterval       time.Duration
    Fanout              int
    SuspicionTimeout    time.Duration
    FailureTimeout      time.Duration
    AntiEntropyInterval time.Duration
    DetectorInterval    time.Duration
    MaxMetadataBytes    int
    // MaxMessageBytes caps encoded datagrams. It is lowered to the
    // transport's own limit when the transport is a transport.Limiter.
    MaxMessageBytes int
    // Compress gzips outgoing datagrams. Receivers accept both forms.
    Compress bool

    // Rand drives peer selection. When nil a source seeded from Seed is
    // used, or from the clock when Seed is zero.
    Rand *rand.Rand
    Seed int64
    // Clock drives failure detection (default time.Now).
    Clock func() time.Time
    // Store persists the local version and metadata across restarts.
    Store raft.StableStore
    Logger *zap.Logger

    // Callbacks run on the goroutine that observed the change and must not block.
    OnMemberJoin         func(rec membership.NodeRecord)
    OnMemberStatusChange func(rec membership.NodeRecord, from, to membership.Status)
    OnMetadataUpdate     func(rec membership.NodeRecord)
}

func (c Config) withDefaults() Config {
    if c.RoundInterval <= 0 { c.RoundInterval = DefaultRoundInterval }
    if c.Fanout <= 0 { c.Fanout = DefaultFanout }
    if c.SuspicionTimeout <= 0 { c.SuspicionTimeout = DefaultSuspicionTimeout }
    if c.FailureTimeout <= 0 { c.FailureTimeout = DefaultFailureTimeout }
    if c.AntiEntropyInterval <= 0 { c.AntiEntropyInterval = DefaultAntiEntropyInterval }
    if c.DetectorInterval <= 0 { c.DetectorInterval = DefaultDetectorInterval }
    if c.MaxMetadataBytes <= 0 { c.MaxMetadataBytes = membership.DefaultMaxMetadataBytes }
    if c.MaxMessageBytes <= 0 { c.MaxMessageBytes = wire.DefaultMaxMessageBytes }
    if limit := transport.MaxPayload(c.Transport); limit > 0 && c.MaxMessageBytes > limit { c.MaxMessageBytes = limit }
    if c.Clock == nil { c.Clock = time.Now }
    if c.Logger == nil { c.Logger = zap.NewNop() }
    if c.Rand == nil {
        seed := c.Seed
        if seed == 0 { seed = time.Now().UnixNano() }
        c.Rand = rand.New(rand.NewSource(seed))
    }
    return c
}

// Validate checks a Config after defaults have been applied.
func (c Config) Validate() error {
    c = c.withDefaults()
    if c.NodeID == "" { return errors.New("gossip: empty NodeID") }
    if c.Transport == nil { return errors.New("gossip: nil Transport") }
    if c.FailureTimeout <= c.SuspicionTimeout {
        return errors.New("gossip: FailureTimeout must be greater than SuspicionTimeout")
    }
    if c.MaxMetadataBytes >= c.MaxMessageBytes {
        return errors.New("gossip: MaxMetadataBytes must be smaller than MaxMessageBytes")
    }
    if size, err := c.Metadata.Size(); err != nil {
        return err
    } else if size > c.MaxMetadataBytes {
        return &membership.MetadataTooLargeError{Size: size, Limit: c.MaxMetadataBytes}
    }
    return nil
}
