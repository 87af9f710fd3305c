// Package bootstrap assembles a runnable gossip member from flat settings,
// as used by the CLI and by applications embedding the library.
package bootstrap

import (
    "context"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"
    "go.uber.org/zap"

    "github.com/amirimatin/go-gossip/pkg/cluster"
    "github.com/amirimatin/go-gossip/pkg/discovery"
    dDNS "github.com/amirimatin/go-gossip/pkg/discovery/dns"
    dEtcd "github.com/amirimatin/go-gossip/pkg/discovery/etcd"
    dFile "github.com/amirimatin/go-gossip/pkg/discovery/file"
    dStatic "github.com/amirimatin/go-gossip/pkg/discovery/static"
    "github.com/amirimatin/go-gossip/pkg/gossip"
    "github.com/amirimatin/go-gossip/pkg/membership"
    tlsx "github.com/amirimatin/go-gossip/pkg/security/tlsconfig"
    "github.com/amirimatin/go-gossip/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-gossip/pkg/transport/grpc"
    "github.com/amirimatin/go-gossip/pkg/transport/httpjson"
    "github.com/amirimatin/go-gossip/pkg/transport/udp"
)

// StoreFile is the bolt database created inside DataDir.
const StoreFile = "gossip.db"

// Config defines high-level inputs to assemble a node with sensible
// defaults. Zero values fall back to the gossip package defaults.
type Config struct {
    // NodeID defaults to the ID persisted in DataDir, else a new UUID.
    NodeID   string
    Bind     string // gossip UDP host:port (default ":7946")
    Advertise string
    Metadata membership.Metadata

    RoundInterval       time.Duration
    Fanout              int
    SuspicionTimeout    time.Duration
    FailureTimeout      time.Duration
    AntiEntropyInterval time.Duration
    MaxMessageBytes     int
    Compress            bool

    // Discovery settings
    DiscoveryKind string        // "static" (default), "dns", "file" or "etcd"
    SeedsCSV      string        // kind=static; also added to any other kind
    DNSNamesCSV   string        // kind=dns
    DNSPort       int           // kind=dns (A/AAAA)
    DiscRefresh   time.Duration // cache lifetime for dns/file
    FilePath      string        // kind=file
    FileEnv       string        // kind=file
    EtcdEndpointsCSV string     // kind=etcd
    EtcdPrefix       string
    EtcdTTL          int64

    // Management API (status/members/metadata/leave/metrics)
    MgmtAddr  string // empty disables it
    MgmtProto string // "http" (default) or "grpc"

    // TLS (optional) for the management API
    TLSEnable     bool
    TLSCA         string
    TLSCert       string
    TLSKey        string
    TLSServerName string
    TLSSkipVerify bool

    // DataDir holds the local version store; empty keeps it in memory
    // only, so a restart relies on refutation to move past old versions.
    DataDir string

    Logger *zap.Logger

    OnMemberJoin         func(rec membership.NodeRecord)
    OnMemberStatusChange func(rec membership.NodeRecord, from, to membership.Status)
    OnMetadataUpdate     func(rec membership.NodeRecord)
}

func (c Config) tlsOptions() tlsx.Options {
    return tlsx.Options{
        Enable: c.TLSEnable, CAFile: c.TLSCA, CertFile: c.TLSCert, KeyFile: c.TLSKey,
        ServerName: c.TLSServerName, InsecureSkipVerify: c.TLSSkipVerify,
    }
}

// Build assembles a cluster.Cluster from Config without starting it. On
// error every resource opened so far is released.
func Build(cfg Config) (cl *cluster.Cluster, err error) {
    log := cfg.Logger
    if log == nil { log = zap.NewNop() }
    if cfg.Bind == "" { cfg.Bind = ":7946" }

    var closers []io.Closer
    defer func() {
        if err == nil { return }
        for _, c := range closers { _ = c.Close() }
    }()

    var store raft.StableStore
    if cfg.DataDir != "" {
        if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil { return nil, err }
        bs, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, StoreFile))
        if err != nil { return nil, fmt.Errorf("bootstrap: open store: %w", err) }
        closers = append(closers, bs)
        store = bs
        if cfg.NodeID == "" {
            id, err := gossip.PersistedNodeID(bs)
            if err != nil { return nil, err }
            cfg.NodeID = id
        }
    }
    if cfg.NodeID == "" { cfg.NodeID = uuid.NewString() }

    disc, reg, err := buildDiscovery(cfg, log)
    if err != nil { return nil, err }
    if reg != nil { closers = append(closers, reg) }

    srv, err := buildServer(cfg, log)
    if err != nil { return nil, err }

    tr, err := udp.New(udp.Options{Bind: cfg.Bind, Advertise: cfg.Advertise, Logger: log})
    if err != nil { return nil, err }
    closers = append(closers, tr)

    node, err := gossip.New(gossip.Config{
        NodeID:               cfg.NodeID,
        Transport:            tr,
        Metadata:             cfg.Metadata,
        RoundInterval:        cfg.RoundInterval,
        Fanout:               cfg.Fanout,
        SuspicionTimeout:     cfg.SuspicionTimeout,
        FailureTimeout:       cfg.FailureTimeout,
        AntiEntropyInterval:  cfg.AntiEntropyInterval,
        MaxMessageBytes:      cfg.MaxMessageBytes,
        Compress:             cfg.Compress,
        Store:                store,
        Logger:               log,
        OnMemberJoin:         cfg.OnMemberJoin,
        OnMemberStatusChange: cfg.OnMemberStatusChange,
        OnMetadataUpdate:     cfg.OnMetadataUpdate,
    })
    if err != nil { return nil, err }

    opts := cluster.Options{Node: node, Discovery: disc, Registrar: reg, RPCServer: srv, Logger: log}
    if bs, ok := store.(io.Closer); ok { opts.Closers = append(opts.Closers, bs) }
    return cluster.New(opts)
}

func buildDiscovery(cfg Config, log *zap.Logger) (discovery.Discovery, discovery.Registrar, error) {
    static := dStatic.FromCSV(cfg.SeedsCSV)
    switch strings.ToLower(cfg.DiscoveryKind) {
    case "", "static":
        return static, nil, nil
    case "dns":
        opts := dDNS.Options{Names: dStatic.Parse(cfg.DNSNamesCSV), Port: cfg.DNSPort, Refresh: cfg.DiscRefresh, Logger: log}
        return discovery.Multi(static, dDNS.New(opts)), nil, nil
    case "file":
        opts := dFile.Options{Path: cfg.FilePath, Env: cfg.FileEnv, Refresh: cfg.DiscRefresh, Logger: log}
        return discovery.Multi(static, dFile.New(opts)), nil, nil
    case "etcd":
        e, err := dEtcd.New(dEtcd.Options{
            Endpoints: dStatic.Parse(cfg.EtcdEndpointsCSV),
            Prefix:    cfg.EtcdPrefix,
            TTL:       cfg.EtcdTTL,
            Logger:    log,
        })
        if err != nil { return nil, nil, err }
        return discovery.Multi(static, e), e, nil
    }
    return nil, nil, fmt.Errorf("bootstrap: unknown discovery kind %q", cfg.DiscoveryKind)
}

func buildServer(cfg Config, log *zap.Logger) (transport.RPCServer, error) {
    if cfg.MgmtAddr == "" { return nil, nil }
    srvTLS, err := cfg.tlsOptions().Server()
    if err != nil { return nil, err }
    switch strings.ToLower(cfg.MgmtProto) {
    case "", "http":
        s := httpjson.NewServer(cfg.MgmtAddr, log)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        return s, nil
    case "grpc":
        s := mgmtgrpc.NewServer(cfg.MgmtAddr, log)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        return s, nil
    }
    return nil, fmt.Errorf("bootstrap: unknown management protocol %q", cfg.MgmtProto)
}

// ClientConfig selects and secures a management client.
type ClientConfig struct {
    Proto   string // "http" (default) or "grpc"
    Timeout time.Duration
    TLS     tlsx.Options
}

// NewClient builds a management client. The returned closer releases
// cached connections.
func NewClient(cfg ClientConfig) (transport.RPCClient, func(), error) {
    cliTLS, err := cfg.TLS.Client()
    if err != nil { return nil, nil, err }
    switch strings.ToLower(cfg.Proto) {
    case "", "http":
        c := httpjson.NewClient(cfg.Timeout)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        return c, func() {}, nil
    case "grpc":
        c := mgmtgrpc.NewClient(cfg.Timeout)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        return c, c.Close, nil
    }
    return nil, nil, fmt.Errorf("bootstrap: unknown management protocol %q", cfg.Proto)
}

// Run builds and starts the cluster. The caller must Close it.
func Run(ctx context.Context, cfg Config) (*cluster.Cluster, error) {
    cl, err := Build(cfg)
    if err != nil { return nil, err }
    if err := cl.Start(ctx); err != nil { return nil, err }
    return cl, nil
}
