package cluster

import (
    "context"
    "encoding/json"
    "errors"
    "sync"
    "time"

    "go.uber.org/zap"

    "github.com/amirimatin/go-gossip/pkg/gossip"
    "github.com/amirimatin/go-gossip/pkg/membership"
    obsmetrics "github.com/amirimatin/go-gossip/pkg/observability/metrics"
    "github.com/amirimatin/go-gossip/pkg/observability/tracing"
    "github.com/amirimatin/go-gossip/pkg/transport"
)

// Facade is the high-level API for embedding a gossip member.
type Facade interface {
    Start(ctx context.Context) error
    Status(ctx context.Context) (*Status, error)
    UpdateMetadata(ctx context.Context, patch membership.Metadata) error
    Leave(ctx context.Context) error
    Stop(ctx context.Context) error
}

// Cluster runs a gossip node together with seed discovery, optional
// self-registration and an optional management endpoint.
type Cluster struct {
    opts Options
    log  *zap.Logger

    mu      sync.Mutex
    started bool
    closed  bool
    cancel  context.CancelFunc
    wg      sync.WaitGroup
}

var _ Facade = (*Cluster)(nil)

// New validates options. It performs no network activity.
func New(opts Options) (*Cluster, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    opts = opts.withDefaults()
    return &Cluster{opts: opts, log: opts.Logger.Named("cluster").With(zap.String("node", opts.Node.ID()))}, nil
}

// Node exposes the underlying gossip node.
func (c *Cluster) Node() *gossip.Node { return c.opts.Node }

// Close is Stop with a background context.
func (c *Cluster) Close() error { return c.Stop(context.Background()) }

// Start launches the node, the management endpoint and the registration,
// then joins whatever seeds discovery returns. A failed join is logged and
// retried while the node stays isolated. Cancelling ctx stops the cluster.
// Registration, discovery and the join run without holding the lock, so a
// concurrent Stop cancels them instead of waiting.
func (c *Cluster) Start(ctx context.Context) error {
    rctx, err := c.startLocal()
    if err != nil || rctx == nil { return err }
    n := c.opts.Node

    if r := c.opts.Registrar; r != nil {
        if err := r.Register(ctx, n.ID(), n.Addr()); err != nil {
            c.mu.Lock()
            if !c.closed { c.abortLocked() }
            c.mu.Unlock()
            return err
        }
    }
    jctx, stopJoin := context.WithCancel(ctx)
    unwatch := context.AfterFunc(rctx, stopJoin)
    if err := c.join(jctx); err != nil { c.log.Warn("initial join failed", zap.Error(err)) }
    unwatch()
    stopJoin()

    c.mu.Lock()
    defer c.mu.Unlock()
    if c.closed { return ErrStopped }
    if c.opts.Discovery != nil && c.opts.RejoinInterval > 0 {
        c.wg.Add(1)
        go func() {
            defer c.wg.Done()
            c.rejoinLoop(rctx)
        }()
    }
    go func() {
        select {
        case <-ctx.Done():
            _ = c.Stop(context.Background())
        case <-rctx.Done():
        }
    }()
    return nil
}

// startLocal starts the node and the management endpoint under the lock.
// It returns a nil context when the cluster was already started.
func (c *Cluster) startLocal() (context.Context, error) {
    c.mu.Lock()
    defer c.mu.Unlock()
    switch {
    case c.closed:
        return nil, ErrStopped
    case c.started:
        return nil, nil
    }
    obsmetrics.Register()
    n := c.opts.Node
    rctx, cancel := context.WithCancel(context.Background())
    if err := n.Start(rctx); err != nil {
        cancel()
        return nil, err
    }
    c.cancel = cancel
    c.started = true

    if s := c.opts.RPCServer; s != nil {
        if err := s.Start(rctx, c.Handlers()); err != nil {
            c.abortLocked()
            return nil, err
        }
        md := membership.Metadata{MetaMgmtAddr: membership.String(s.Addr())}
        if err := n.UpdateMetadata(md); err != nil { c.log.Warn("advertise management address", zap.Error(err)) }
        c.log.Info("management endpoint listening", zap.String("addr", s.Addr()))
    }
    return rctx, nil
}

func (c *Cluster) abortLocked() {
    c.cancel()
    if s := c.opts.RPCServer; s != nil { _ = s.Stop(context.Background()) }
    _ = c.opts.Node.Stop()
    for _, cl := range c.opts.Closers { _ = cl.Close() }
    c.closed = true
}

// join looks seeds up and hands them to the node.
func (c *Cluster) join(ctx context.Context) error {
    if c.opts.Discovery == nil { return nil }
    ctx, end := tracing.StartSpan(ctx, "cluster.join")
    defer end()
    dctx, cancel := context.WithTimeout(ctx, c.opts.DiscoveryTimeout)
    seeds, err := c.opts.Discovery.Seeds(dctx)
    cancel()
    if err != nil { return err }
    if len(seeds) == 0 {
        c.log.Info("no seeds discovered, starting alone")
        return nil
    }
    c.log.Info("joining", zap.Strings("seeds", seeds))
    return c.opts.Node.Join(ctx, seeds)
}

func (c *Cluster) rejoinLoop(ctx context.Context) {
    t := time.NewTicker(c.opts.RejoinInterval)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            if !c.isolated() { continue }
            if err := c.join(ctx); err != nil && !errors.Is(err, context.Canceled) {
                c.log.Debug("rejoin failed", zap.Error(err))
            }
        }
    }
}

// isolated reports whether no peer is currently believed reachable.
func (c *Cluster) isolated() bool {
    for _, m := range c.opts.Node.Members() {
        if m.NodeID != c.opts.Node.ID() && m.Status != membership.StatusDead { return false }
    }
    return true
}

// UpdateMetadata patches the local metadata.
func (c *Cluster) UpdateMetadata(ctx context.Context, patch membership.Metadata) error {
    _, end := tracing.StartSpan(ctx, "cluster.updateMetadata")
    defer end()
    return c.opts.Node.UpdateMetadata(patch)
}

// Leave announces the departure to the cluster and then stops everything.
func (c *Cluster) Leave(ctx context.Context) error {
    if err := c.opts.Node.Leave(ctx); err != nil && !errors.Is(err, gossip.ErrStopped) { return err }
    return c.Stop(ctx)
}

// Stop deregisters, shuts the management endpoint down and stops the node.
// It is safe to call more than once.
func (c *Cluster) Stop(ctx context.Context) error {
    c.mu.Lock()
    if c.closed {
        c.mu.Unlock()
        return nil
    }
    c.closed = true
    cancel := c.cancel
    c.mu.Unlock()

    if cancel != nil { cancel() }
    c.wg.Wait()
    var errs []error
    if r := c.opts.Registrar; r != nil { errs = append(errs, r.Close()) }
    if s := c.opts.RPCServer; s != nil { errs = append(errs, s.Stop(ctx)) }
    errs = append(errs, c.opts.Node.Stop())
    for _, cl := range c.opts.Closers { errs = append(errs, cl.Close()) }
    c.log.Info("cluster stopped")
    return errors.Join(errs...)
}

// Handlers exposes this cluster through a management server.
func (c *Cluster) Handlers() transport.Handlers {
    return transport.Handlers{
        Status: func(ctx context.Context) ([]byte, error) {
            st, err := c.Status(ctx)
            if err != nil { return nil, err }
            return json.Marshal(st)
        },
        Members: func(ctx context.Context) ([]membership.NodeRecord, error) {
            return c.opts.Node.Members(), nil
        },
        Metadata: c.handleMetadata,
        Leave:    c.handleLeave,
        Health: func(ctx context.Context) error {
            if !c.opts.Node.Running() { return ErrNotReady }
            return nil
        },
    }
}

func (c *Cluster) handleMetadata(ctx context.Context, req transport.MetadataRequest) (transport.MetadataResponse, error) {
    if err := c.UpdateMetadata(ctx, req.Metadata); err != nil {
        if membership.IsMetadataTooLarge(err) || errors.Is(err, gossip.ErrLeft) {
            return transport.MetadataResponse{Error: err.Error()}, nil
        }
        return transport.MetadataResponse{}, err
    }
    return transport.MetadataResponse{Accepted: true, Version: c.opts.Node.Local().Version}, nil
}

// handleLeave accepts only requests naming this node (or no node). The
// shutdown runs after the response so the management server can finish
// writing it.
func (c *Cluster) handleLeave(ctx context.Context, req transport.LeaveRequest) (transport.LeaveResponse, error) {
    if req.ID != "" && req.ID != c.opts.Node.ID() {
        return transport.LeaveResponse{Error: ErrNotSelf.Error()}, nil
    }
    if err := c.opts.Node.Leave(ctx); err != nil && !errors.Is(err, gossip.ErrStopped) {
        return transport.LeaveResponse{}, err
    }
    go func() {
        time.Sleep(100 * time.Millisecond)
        if err := c.Stop(context.Background()); err != nil { c.log.Warn("stop after leave", zap.Error(err)) }
    }()
    return transport.LeaveResponse{Accepted: true}, nil
}
