package udp

import (
    "fmt"
    "net"
    "strconv"
    "sync"
    "sync/atomic"

    "github.com/hashicorp/memberlist"
    "go.uber.org/zap"

    "github.com/amirimatin/go-gossip/internal/logutil"
    obsmetrics "github.com/amirimatin/go-gossip/pkg/observability/metrics"
    "github.com/amirimatin/go-gossip/pkg/transport"
)

// MaxDatagramSize is the largest UDP payload over IPv4: 65535 minus the
// 8-byte UDP and 20-byte IP headers.
const MaxDatagramSize = 65507

// Options configures the UDP transport.
type Options struct {
    // Bind is host:port to listen on. Port 0 picks a free port.
    Bind string
    // Advertise overrides the address announced to peers.
    Advertise string
    // QueueSize bounds received datagrams waiting for the gossip loop
    // (default 1024). Datagrams arriving on a full queue are dropped.
    QueueSize int
    Logger    *zap.Logger
}

// Transport sends and receives gossip datagrams through memberlist's
// NetTransport, which owns the sockets and the 64KB read buffer. The TCP
// stream side of NetTransport is unused; accepted streams are closed.
type Transport struct {
    nt      *memberlist.NetTransport
    addr    string
    packets chan transport.Packet
    log     *zap.Logger

    closing   atomic.Bool
    done      chan struct{}
    wg        sync.WaitGroup
    closeOnce sync.Once
    closeErr  error
}

// New binds the sockets and starts delivering datagrams.
func New(opts Options) (*Transport, error) {
    log := logutil.OrNop(opts.Logger).Named("udp")
    host, portStr, err := net.SplitHostPort(opts.Bind)
    if err != nil { return nil, fmt.Errorf("udp: bind %q: %w", opts.Bind, err) }
    port, err := strconv.Atoi(portStr)
    if err != nil { return nil, fmt.Errorf("udp: bind port %q: %w", portStr, err) }
    if host == "" { host = "0.0.0.0" }
    if opts.QueueSize <= 0 { opts.QueueSize = 1024 }

    nt, err := memberlist.NewNetTransport(&memberlist.NetTransportConfig{
        BindAddrs: []string{host},
        BindPort:  port,
        Logger:    logutil.StdLogger(log, "memberlist"),
    })
    if err != nil { return nil, fmt.Errorf("udp: listen %s: %w", opts.Bind, err) }

    advertise := opts.Advertise
    if advertise == "" {
        boundPort := nt.GetAutoBindPort()
        ip := net.ParseIP(host)
        if ip == nil || ip.IsUnspecified() {
            adIP, adPort, err := nt.FinalAdvertiseAddr("", boundPort)
            if err != nil {
                _ = nt.Shutdown()
                return nil, fmt.Errorf("udp: advertise address: %w", err)
            }
            advertise = net.JoinHostPort(adIP.String(), strconv.Itoa(adPort))
        } else {
            advertise = net.JoinHostPort(host, strconv.Itoa(boundPort))
        }
    }

    t := &Transport{
        nt:      nt,
        addr:    advertise,
        packets: make(chan transport.Packet, opts.QueueSize),
        log:     log,
        done:    make(chan struct{}),
    }
    t.wg.Add(2)
    go t.pump()
    go t.discardStreams()
    log.Info("gossip socket bound", zap.String("bind", net.JoinHostPort(host, strconv.Itoa(nt.GetAutoBindPort()))), zap.String("advertise", advertise))
    return t, nil
}

func (t *Transport) Addr() string { return t.addr }

func (t *Transport) Packets() <-chan transport.Packet { return t.packets }

// MaxPayload implements transport.Limiter.
func (t *Transport) MaxPayload() int { return MaxDatagramSize }

// Send writes one datagram to addr (host:port).
func (t *Transport) Send(addr string, payload []byte) error {
    if t.closing.Load() { return transport.ErrClosed }
    if len(payload) > MaxDatagramSize {
        return fmt.Errorf("%w: %d bytes, limit %d", transport.ErrPayloadTooLarge, len(payload), MaxDatagramSize)
    }
    _, err := t.nt.WriteTo(payload, addr)
    return err
}

// pump moves datagrams from NetTransport to the bounded queue. It keeps
// draining while NetTransport shuts down, since the listener blocks on an
// unbuffered channel until someone reads.
func (t *Transport) pump() {
    defer t.wg.Done()
    for {
        select {
        case p := <-t.nt.PacketCh():
            if t.closing.Load() { continue }
            pkt := transport.Packet{Payload: p.Buf, At: p.Timestamp}
            if p.From != nil { pkt.From = p.From.String() }
            select {
            case t.packets <- pkt:
            default:
                obsmetrics.DroppedMessages.WithLabelValues("queue_full").Inc()
                t.log.Debug("receive queue full, dropping datagram", zap.String("from", pkt.From))
            }
        case <-t.done:
            return
        }
    }
}

func (t *Transport) discardStreams() {
    defer t.wg.Done()
    for {
        select {
        case c := <-t.nt.StreamCh():
            _ = c.Close()
        case <-t.done:
            return
        }
    }
}

// Close shuts the sockets down and closes Packets.
func (t *Transport) Close() error {
    t.closeOnce.Do(func() {
        t.closing.Store(true)
        t.closeErr = t.nt.Shutdown()
        close(t.done)
        t.wg.Wait()
        close(t.packets)
    })
    return t.closeErr
}

var (
    _ transport.Transport = (*Transport)(nil)
    _ transport.Limiter   = (*Transport)(nil)
)
