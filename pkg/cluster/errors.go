package cluster

import "errors"

var (
    ErrNilNode  = errors.New("cluster: nil Node")
    ErrNotSelf  = errors.New("cluster: request targets another node")
    ErrStopped  = errors.New("cluster: stopped")
    ErrNotReady = errors.New("cluster: node not running")
)
