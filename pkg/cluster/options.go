package cluster

import (
    "io"
    "time"

    "go.uber.org/zap"

    "github.com/amirimatin/go-gossip/pkg/discovery"
    "github.com/amirimatin/go-gossip/pkg/gossip"
    "github.com/amirimatin/go-gossip/pkg/transport"
)

// MetaMgmtAddr is the metadata key under which a node advertises its
// management endpoint, so tooling can reach any member from a members list.
const MetaMgmtAddr = "mgmt"

// Options carries the components assembled into a Cluster. Instances are
// typically produced by bootstrap.Config.
type Options struct {
    // Node is the gossip node to run (required).
    Node *gossip.Node
    // Discovery provides join seeds. Nil means this node starts alone and
    // waits to be joined.
    Discovery discovery.Discovery
    // Registrar, when set, publishes the node's gossip address for others
    // to discover. It is closed on Stop.
    Registrar discovery.Registrar
    // RPCServer is the optional management endpoint.
    RPCServer transport.RPCServer
    Logger    *zap.Logger
    // Closers are closed last on Stop, e.g. the node's on-disk store.
    Closers []io.Closer

    // RejoinInterval is how often an isolated node (no peer that is not
    // DEAD) refreshes its seeds and joins again. Default 10s; negative
    // disables.
    RejoinInterval time.Duration
    // DiscoveryTimeout bounds one seed lookup (default 5s).
    DiscoveryTimeout time.Duration
}

func (o Options) withDefaults() Options {
    if o.Logger == nil { o.Logger = zap.NewNop() }
    if o.RejoinInterval == 0 { o.RejoinInterval = 10 * time.Second }
    if o.DiscoveryTimeout <= 0 { o.DiscoveryTimeout = 5 * time.Second }
    return o
}

// Validate performs static checks only; it is safe to call before New.
func (o Options) Validate() error {
    if o.Node == nil { return ErrNilNode }
    return nil
}
