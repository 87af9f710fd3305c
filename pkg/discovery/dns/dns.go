// Package dns resolves seeds from SRV records or A/AAAA host names.
package dns

import (
    "context"
    "errors"
    "net"
    "strconv"
    "strings"
    "sync"
    "time"

    "go.uber.org/zap"

    "github.com/amirimatin/go-gossip/pkg/discovery"
)

// DefaultPort is used for A/AAAA names, which carry no port.
const DefaultPort = 7946

// ErrNoAddresses is returned when no name resolved and nothing is cached.
var ErrNoAddresses = errors.New("discovery/dns: no addresses resolved")

// Resolver is the subset of *net.Resolver used here.
type Resolver interface {
    LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
    LookupHost(ctx context.Context, host string) ([]string, error)
}

// Options configures DNS-based discovery.
type Options struct {
    // Names are SRV records ("_gossip._udp.example.com"), host names, or
    // literal host:port pairs taken as-is.
    Names []string
    // Port for A/AAAA names (default 7946).
    Port int
    // Refresh is the cache lifetime (default 5s).
    Refresh time.Duration
    // Timeout bounds one full resolution pass (default 2s).
    Timeout  time.Duration
    Resolver Resolver
    Logger   *zap.Logger
}

type impl struct {
    opts  Options
    log   *zap.Logger
    mu    sync.Mutex
    last  time.Time
    cache []string
}

// New returns a DNS-backed discovery that caches results for Refresh.
func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    if opts.Timeout <= 0 { opts.Timeout = 2 * time.Second }
    if opts.Port == 0 { opts.Port = DefaultPort }
    if opts.Resolver == nil { opts.Resolver = net.DefaultResolver }
    log := opts.Logger
    if log == nil { log = zap.NewNop() }
    return &impl{opts: opts, log: log.Named("discovery.dns")}
}

func (d *impl) Seeds(ctx context.Context) ([]string, error) {
    d.mu.Lock()
    defer d.mu.Unlock()
    if len(d.cache) > 0 && time.Since(d.last) < d.opts.Refresh {
        return append([]string(nil), d.cache...), nil
    }
    ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
    defer cancel()
    res := d.resolveAll(ctx)
    if len(res) == 0 {
        if len(d.cache) > 0 {
            d.log.Warn("resolution returned nothing, serving cached seeds", zap.Strings("names", d.opts.Names))
            return append([]string(nil), d.cache...), nil
        }
        return nil, ErrNoAddresses
    }
    d.cache, d.last = res, time.Now()
    return append([]string(nil), d.cache...), nil
}

func (d *impl) resolveAll(ctx context.Context) []string {
    var lists [][]string
    for _, name := range d.opts.Names {
        name = strings.TrimSpace(name)
        if name == "" { continue }
        if _, _, err := net.SplitHostPort(name); err == nil && !strings.HasPrefix(name, "_") {
            lists = append(lists, []string{name})
            continue
        }
        if strings.HasPrefix(name, "_") && strings.Contains(name, "._") {
            if recs := d.lookupSRV(ctx, name); len(recs) > 0 {
                lists = append(lists, recs)
                continue
            }
        }
        lists = append(lists, d.lookupHost(ctx, name, d.opts.Port))
    }
    return discovery.Normalize(lists...)
}

func (d *impl) lookupSRV(ctx context.Context, fqdn string) []string {
    svc, proto, domain := parseSRVName(fqdn)
    if svc == "" || proto == "" || domain == "" { return nil }
    _, addrs, err := d.opts.Resolver.LookupSRV(ctx, svc, proto, domain)
    if err != nil {
        d.log.Debug("srv lookup failed", zap.String("name", fqdn), zap.Error(err))
        return nil
    }
    out := make([]string, 0, len(addrs))
    for _, a := range addrs {
        host := strings.TrimSuffix(a.Target, ".")
        out = append(out, net.JoinHostPort(host, strconv.Itoa(int(a.Port))))
    }
    return out
}

func (d *impl) lookupHost(ctx context.Context, host string, port int) []string {
    ips, err := d.opts.Resolver.LookupHost(ctx, host)
    if err != nil {
        d.log.Debug("host lookup failed", zap.String("name", host), zap.Error(err))
        return nil
    }
    out := make([]string, 0, len(ips))
    for _, ip := range ips { out = append(out, net.JoinHostPort(ip, strconv.Itoa(port))) }
    return out
}

// parseSRVName splits "_service._proto.name".
func parseSRVName(fqdn string) (service, proto, name string) {
    parts := strings.SplitN(fqdn, ".", 3)
    if len(parts) < 3 { return "", "", "" }
    return strings.TrimPrefix(parts[0], "_"), strings.TrimPrefix(parts[1], "_"), parts[2]
}
