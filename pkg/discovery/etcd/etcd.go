// Package etcd discovers seeds under an etcd key prefix and registers the
// local node there under a lease, so entries of crashed nodes expire.
package etcd

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "sync"
    "time"

    "go.etcd.io/etcd/api/v3/mvccpb"
    clientv3 "go.etcd.io/etcd/client/v3"
    "go.uber.org/zap"

    "github.com/amirimatin/go-gossip/pkg/discovery"
)

const (
    DefaultPrefix = "/gossip/nodes/"
    DefaultTTL    = 10
)

var ErrClosed = errors.New("discovery/etcd: closed")

// Client is the part of *clientv3.Client used here.
type Client interface {
    clientv3.KV
    clientv3.Lease
}

type Options struct {
    Endpoints   []string
    Prefix      string
    // TTL of the registration lease in seconds.
    TTL         int64
    DialTimeout time.Duration
    // Timeout bounds each etcd request.
    Timeout time.Duration
    Logger  *zap.Logger
}

func (o Options) withDefaults() Options {
    if o.Prefix == "" { o.Prefix = DefaultPrefix }
    if !strings.HasSuffix(o.Prefix, "/") { o.Prefix += "/" }
    if o.TTL <= 0 { o.TTL = DefaultTTL }
    if o.DialTimeout <= 0 { o.DialTimeout = 5 * time.Second }
    if o.Timeout <= 0 { o.Timeout = 3 * time.Second }
    if o.Logger == nil { o.Logger = zap.NewNop() }
    return o
}

// Discovery implements discovery.Discovery and discovery.Registrar.
type Discovery struct {
    cli   Client
    owned *clientv3.Client
    opts  Options
    log   *zap.Logger

    mu       sync.Mutex
    closed   bool
    key      string
    lease    clientv3.LeaseID
    stopKeep context.CancelFunc
}

var (
    _ discovery.Discovery = (*Discovery)(nil)
    _ discovery.Registrar = (*Discovery)(nil)
)

// New dials etcd. The client is closed by Close.
func New(opts Options) (*Discovery, error) {
    opts = opts.withDefaults()
    if len(opts.Endpoints) == 0 { return nil, errors.New("discovery/etcd: no endpoints") }
    cli, err := clientv3.New(clientv3.Config{
        Endpoints:   opts.Endpoints,
        DialTimeout: opts.DialTimeout,
        Logger:      opts.Logger.Named("etcd"),
    })
    if err != nil { return nil, fmt.Errorf("discovery/etcd: dial: %w", err) }
    d := NewWithClient(cli, opts)
    d.owned = cli
    return d, nil
}

// NewWithClient uses an existing client, which the caller keeps owning.
func NewWithClient(cli Client, opts Options) *Discovery {
    opts = opts.withDefaults()
    return &Discovery{cli: cli, opts: opts, log: opts.Logger.Named("discovery.etcd")}
}

// Seeds lists every registered address under the prefix.
func (d *Discovery) Seeds(ctx context.Context) ([]string, error) {
    if d.isClosed() { return nil, ErrClosed }
    ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
    defer cancel()
    resp, err := d.cli.Get(ctx, d.opts.Prefix, clientv3.WithPrefix())
    if err != nil { return nil, fmt.Errorf("discovery/etcd: list %s: %w", d.opts.Prefix, err) }
    return seedsFromKVs(d.opts.Prefix, resp.Kvs), nil
}

// Register stores id -> addr under a lease and keeps the lease alive until
// Close. Registering again replaces the previous entry.
func (d *Discovery) Register(ctx context.Context, id, addr string) error {
    if id == "" || addr == "" { return errors.New("discovery/etcd: id and addr are required") }
    d.mu.Lock()
    defer d.mu.Unlock()
    if d.closed { return ErrClosed }
    d.releaseLocked(ctx)

    rctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
    defer cancel()
    lease, err := d.cli.Grant(rctx, d.opts.TTL)
    if err != nil { return fmt.Errorf("discovery/etcd: grant lease: %w", err) }
    key := d.opts.Prefix + id
    if _, err := d.cli.Put(rctx, key, addr, clientv3.WithLease(lease.ID)); err != nil {
        return fmt.Errorf("discovery/etcd: put %s: %w", key, err)
    }
    kctx, stop := context.WithCancel(context.Background())
    ch, err := d.cli.KeepAlive(kctx, lease.ID)
    if err != nil {
        stop()
        return fmt.Errorf("discovery/etcd: keepalive: %w", err)
    }
    d.key, d.lease, d.stopKeep = key, lease.ID, stop
    go d.drain(kctx, key, ch)
    d.log.Info("registered", zap.String("key", key), zap.String("addr", addr), zap.Int64("ttl", d.opts.TTL))
    return nil
}

func (d *Discovery) drain(ctx context.Context, key string, ch <-chan *clientv3.LeaseKeepAliveResponse) {
    for range ch {
    }
    if ctx.Err() == nil { d.log.Warn("registration lease lost", zap.String("key", key)) }
}

// releaseLocked stops the keepalive and revokes the current lease.
func (d *Discovery) releaseLocked(ctx context.Context) {
    if d.stopKeep == nil { return }
    d.stopKeep()
    rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.Timeout)
    defer cancel()
    if _, err := d.cli.Revoke(rctx, d.lease); err != nil {
        d.log.Warn("revoke lease", zap.String("key", d.key), zap.Error(err))
    }
    d.key, d.lease, d.stopKeep = "", 0, nil
}

// Close deregisters the node and closes an owned client.
func (d *Discovery) Close() error {
    d.mu.Lock()
    if d.closed {
        d.mu.Unlock()
        return nil
    }
    d.closed = true
    d.releaseLocked(context.Background())
    d.mu.Unlock()
    if d.owned != nil { return d.owned.Close() }
    return nil
}

func (d *Discovery) isClosed() bool {
    d.mu.Lock()
    defer d.mu.Unlock()
    return d.closed
}

func seedsFromKVs(prefix string, kvs []*mvccpb.KeyValue) []string {
    out := make([]string, 0, len(kvs))
    for _, kv := range kvs {
        if !strings.HasPrefix(string(kv.Key), prefix) { continue }
        out = append(out, strings.TrimSpace(string(kv.Value)))
    }
    return discovery.Normalize(out)
}
