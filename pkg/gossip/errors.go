package gossip

import (
    "errors"

    "github.com/amirimatin/go-gossip/pkg/membership"
)

var (
    ErrNotStarted = errors.New("gossip: node not started")
    ErrStopped    = errors.New("gossip: node stopped")
    ErrNoSeeds    = errors.New("gossip: no reachable seed")
)

// ErrLeft is returned by operations on a node that has left the cluster.
var ErrLeft = membership.ErrLeft
