// Package cli provides cobra commands to run a gossip member and to manage
// running members through their management endpoint.
package cli

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "os"
    "os/signal"
    "strings"
    "syscall"
    "text/tabwriter"
    "time"

    "github.com/spf13/cobra"
    "go.uber.org/zap"

    "github.com/amirimatin/go-gossip/pkg/bootstrap"
    "github.com/amirimatin/go-gossip/pkg/gossip"
    "github.com/amirimatin/go-gossip/internal/logutil"
    "github.com/amirimatin/go-gossip/pkg/membership"
    "github.com/amirimatin/go-gossip/pkg/observability/tracing"
    tlsx "github.com/amirimatin/go-gossip/pkg/security/tlsconfig"
    "github.com/amirimatin/go-gossip/pkg/transport"
)

// AddAll attaches run/status/members/set-meta/leave to root.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd(), NewStatusCmd(), NewMembersCmd(), NewSetMetaCmd(), NewLeaveCmd())
}

// NewGossipCommand returns a parent "gossip" command holding all subcommands,
// for services that embed them into their own CLI.
func NewGossipCommand() *cobra.Command {
    parent := &cobra.Command{Use: "gossip", Short: "gossip membership commands"}
    AddAll(parent)
    return parent
}

// NewRunCmd returns the "run" command used to start a member.
func NewRunCmd() *cobra.Command {
    var (
        cfg         bootstrap.Config
        meta        []string
        traceEnable bool
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a gossip member",
        RunE: func(cmd *cobra.Command, args []string) error {
            md, err := ParseMetadata(meta)
            if err != nil { return err }
            cfg.Metadata = md
            ctx, cancel := signalContext()
            defer cancel()

            log := logutil.New()
            defer func() { _ = log.Sync() }()
            if traceEnable {
                shutdown, err := tracing.Setup(true)
                if err != nil {
                    log.Warn("tracing setup failed", zap.Error(err))
                } else {
                    defer func() { _ = shutdown(context.Background()) }()
                }
            }
            cfg.Logger = log
            cfg.OnMemberJoin = func(r membership.NodeRecord) {
                log.Info("member joined", zap.String("member", r.NodeID), zap.String("addr", r.Addr))
            }
            cfg.OnMemberStatusChange = func(r membership.NodeRecord, from, to membership.Status) {
                log.Info("member status changed", zap.String("member", r.NodeID), zap.Stringer("from", from), zap.Stringer("to", to))
            }

            cl, err := bootstrap.Run(ctx, cfg)
            if err != nil { return err }
            defer cl.Close()
            fmt.Fprintf(cmd.OutOrStdout(), "node %s gossiping on %s. Press Ctrl+C to exit.\n", cl.Node().ID(), cl.Node().Addr())
            waitStopped(ctx, cl.Node())
            return nil
        },
    }
    f := cmd.Flags()
    f.StringVar(&cfg.NodeID, "id", "", "node id (default: persisted id, else a new UUID)")
    f.StringVar(&cfg.Bind, "bind", ":7946", "gossip UDP bind address (host:port)")
    f.StringVar(&cfg.Advertise, "advertise", "", "gossip address announced to peers (host:port, optional)")
    f.StringArrayVar(&meta, "meta", nil, "initial metadata key=value (repeatable; JSON values allowed)")
    f.StringVar(&cfg.SeedsCSV, "join", "", "comma-separated seed nodes (host:port)")
    f.StringVar(&cfg.DiscoveryKind, "discovery", "static", "discovery backend: static|dns|file|etcd")
    f.StringVar(&cfg.DNSNamesCSV, "dns-names", "", "comma-separated DNS names or SRV records (e.g., _gossip._udp.example.com)")
    f.IntVar(&cfg.DNSPort, "dns-port", 7946, "port used for A/AAAA lookups")
    f.DurationVar(&cfg.DiscRefresh, "disc-refresh", 5*time.Second, "discovery cache duration")
    f.StringVar(&cfg.FilePath, "file-path", "", "path or glob to a file with seeds (one per line or CSV)")
    f.StringVar(&cfg.FileEnv, "file-env", "", "ENV var name containing CSV seeds; overrides file when set")
    f.StringVar(&cfg.EtcdEndpointsCSV, "etcd-endpoints", "", "comma-separated etcd endpoints")
    f.StringVar(&cfg.EtcdPrefix, "etcd-prefix", "/gossip/nodes/", "etcd key prefix for registrations")
    f.Int64Var(&cfg.EtcdTTL, "etcd-ttl", 10, "etcd registration lease TTL in seconds")
    f.StringVar(&cfg.MgmtAddr, "mgmt-addr", ":17946", "management address (tcp); empty disables it")
    f.StringVar(&cfg.MgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    f.DurationVar(&cfg.RoundInterval, "round", gossip.DefaultRoundInterval, "gossip round interval")
    f.IntVar(&cfg.Fanout, "fanout", gossip.DefaultFanout, "peers contacted per round")
    f.DurationVar(&cfg.SuspicionTimeout, "suspicion", gossip.DefaultSuspicionTimeout, "silence before a peer is SUSPECTED")
    f.DurationVar(&cfg.FailureTimeout, "failure", gossip.DefaultFailureTimeout, "silence before a peer is DEAD")
    f.DurationVar(&cfg.AntiEntropyInterval, "anti-entropy", gossip.DefaultAntiEntropyInterval, "full-state exchange interval")
    f.BoolVar(&cfg.Compress, "compress", false, "gzip outgoing datagrams")
    f.StringVar(&cfg.DataDir, "data", "", "directory for the local version store (restart continuity)")
    f.BoolVar(&cfg.TLSEnable, "tls-enable", false, "enable mTLS for the management endpoint")
    f.StringVar(&cfg.TLSCA, "tls-ca", "", "path to CA cert (PEM)")
    f.StringVar(&cfg.TLSCert, "tls-cert", "", "path to node certificate (PEM)")
    f.StringVar(&cfg.TLSKey, "tls-key", "", "path to node private key (PEM)")
    f.BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    return cmd
}

// clientFlags are shared by every command talking to a management endpoint.
type clientFlags struct {
    addr, proto                           string
    timeout                               time.Duration
    tlsEnable, tlsSkip                    bool
    tlsCA, tlsCert, tlsKey, tlsServerName string
}

func (c *clientFlags) register(cmd *cobra.Command) {
    f := cmd.Flags()
    f.StringVar(&c.addr, "addr", "127.0.0.1:17946", "management address of a node (host:port)")
    f.StringVar(&c.proto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    f.DurationVar(&c.timeout, "timeout", 3*time.Second, "request timeout")
    f.BoolVar(&c.tlsEnable, "tls-enable", false, "enable mTLS for management transport")
    f.StringVar(&c.tlsCA, "tls-ca", "", "path to CA cert (PEM)")
    f.StringVar(&c.tlsCert, "tls-cert", "", "path to client certificate (PEM)")
    f.StringVar(&c.tlsKey, "tls-key", "", "path to client private key (PEM)")
    f.BoolVar(&c.tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    f.StringVar(&c.tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
}

// call runs fn with a client and a context bounded by the timeout.
func (c *clientFlags) call(fn func(ctx context.Context, cli transport.RPCClient) error) error {
    cli, closeFn, err := bootstrap.NewClient(bootstrap.ClientConfig{
        Proto:   c.proto,
        Timeout: c.timeout,
        TLS: tlsx.Options{
            Enable: c.tlsEnable, CAFile: c.tlsCA, CertFile: c.tlsCert, KeyFile: c.tlsKey,
            InsecureSkipVerify: c.tlsSkip, ServerName: c.tlsServerName,
        },
    })
    if err != nil { return err }
    defer closeFn()
    ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
    defer cancel()
    return fn(ctx, cli)
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var cf clientFlags
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch a node's status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            return cf.call(func(ctx context.Context, cli transport.RPCClient) error {
                data, err := cli.GetStatus(ctx, cf.addr)
                if err != nil { return fmt.Errorf("status error: %w", err) }
                out := cmd.OutOrStdout()
                _, _ = out.Write(data)
                if len(data) == 0 || data[len(data)-1] != '\n' { _, _ = out.Write([]byte("\n")) }
                return nil
            })
        },
    }
    cf.register(cmd)
    return cmd
}

// NewMembersCmd returns the "members" command.
func NewMembersCmd() *cobra.Command {
    var (
        cf     clientFlags
        asJSON bool
    )
    cmd := &cobra.Command{
        Use:   "members",
        Short: "List the membership view of a node",
        RunE: func(cmd *cobra.Command, args []string) error {
            return cf.call(func(ctx context.Context, cli transport.RPCClient) error {
                ms, err := cli.GetMembers(ctx, cf.addr)
                if err != nil { return fmt.Errorf("members error: %w", err) }
                if asJSON { return json.NewEncoder(cmd.OutOrStdout()).Encode(ms) }
                return writeMembers(cmd.OutOrStdout(), ms)
            })
        },
    }
    cf.register(cmd)
    cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
    return cmd
}

func writeMembers(w io.Writer, ms []membership.NodeRecord) error {
    tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
    fmt.Fprintln(tw, "ID\tADDR\tSTATUS\tVERSION\tHEARTBEAT\tMETADATA")
    for _, m := range ms {
        md, err := m.Metadata.Encode()
        if err != nil { return err }
        fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", m.NodeID, m.Addr, m.Status, m.Version, m.Heartbeat, md)
    }
    return tw.Flush()
}

// NewSetMetaCmd returns the "set-meta" command.
func NewSetMetaCmd() *cobra.Command {
    var cf clientFlags
    cmd := &cobra.Command{
        Use:   "set-meta key=value [key=value...]",
        Short: "Merge metadata into a node's local record",
        Args:  cobra.MinimumNArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            md, err := ParseMetadata(args)
            if err != nil { return err }
            return cf.call(func(ctx context.Context, cli transport.RPCClient) error {
                resp, err := cli.PostMetadata(ctx, cf.addr, transport.MetadataRequest{Metadata: md})
                if err != nil { return fmt.Errorf("set-meta error: %w", err) }
                return json.NewEncoder(cmd.OutOrStdout()).Encode(resp)
            })
        },
    }
    cf.register(cmd)
    return cmd
}

// NewLeaveCmd returns the "leave" command.
func NewLeaveCmd() *cobra.Command {
    var (
        cf clientFlags
        id string
    )
    cmd := &cobra.Command{
        Use:   "leave",
        Short: "Ask a node to leave the cluster gracefully",
        RunE: func(cmd *cobra.Command, args []string) error {
            return cf.call(func(ctx context.Context, cli transport.RPCClient) error {
                resp, err := cli.PostLeave(ctx, cf.addr, transport.LeaveRequest{ID: id})
                if err != nil { return fmt.Errorf("leave error: %w", err) }
                return json.NewEncoder(cmd.OutOrStdout()).Encode(resp)
            })
        },
    }
    cf.register(cmd)
    cmd.Flags().StringVar(&id, "id", "", "expected node id at --addr; the node refuses when it differs")
    return cmd
}

// ParseMetadata parses key=value pairs. A value that is valid JSON keeps its
// type (numbers, booleans, lists, maps); anything else is a string.
func ParseMetadata(pairs []string) (membership.Metadata, error) {
    md := membership.Metadata{}
    for _, p := range pairs {
        k, v, ok := strings.Cut(p, "=")
        k = strings.TrimSpace(k)
        if !ok || k == "" { return nil, fmt.Errorf("bad metadata %q: want key=value", p) }
        var val membership.Value
        if err := json.Unmarshal([]byte(v), &val); err != nil { val = membership.String(v) }
        md[k] = val
    }
    return md, nil
}

// waitStopped blocks until ctx ends or the node stops on its own, which
// happens after a remote "leave".
func waitStopped(ctx context.Context, n *gossip.Node) {
    t := time.NewTicker(500 * time.Millisecond)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            if !n.Running() { return }
        }
    }
}

func signalContext() (context.Context, context.CancelFunc) {
    return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
