package inmem

import (
    "fmt"
    "math/rand"
    "sync"
    "time"

    "github.com/amirimatin/go-gossip/pkg/transport"
)

// Options configures a Network.
type Options struct {
    // DropRate is the probability in [0,1] that a datagram is lost.
    DropRate float64
    // Seed makes drops reproducible.
    Seed int64
    // QueueSize bounds each endpoint's receive queue (default 1024).
    QueueSize int
}

// Network is an in-process datagram network. Delivery is immediate but can
// be lossy, partitioned or cut per endpoint, which makes it suitable for
// deterministic simulations of many nodes.
type Network struct {
    mu        sync.RWMutex
    endpoints map[string]*Endpoint
    down      map[string]bool
    blocked   map[[2]string]bool
    dropRate  float64
    queue     int

    rngMu sync.Mutex
    rng   *rand.Rand

    statsMu   sync.Mutex
    sent      int
    delivered int
}

func NewNetwork(opts Options) *Network {
    if opts.QueueSize <= 0 { opts.QueueSize = 1024 }
    return &Network{
        endpoints: make(map[string]*Endpoint),
        down:      make(map[string]bool),
        blocked:   make(map[[2]string]bool),
        dropRate:  opts.DropRate,
        queue:     opts.QueueSize,
        rng:       rand.New(rand.NewSource(opts.Seed)),
    }
}

// Endpoint attaches a new endpoint at addr.
func (n *Network) Endpoint(addr string) (*Endpoint, error) {
    n.mu.Lock()
    defer n.mu.Unlock()
    if _, ok := n.endpoints[addr]; ok { return nil, fmt.Errorf("inmem: address %s in use", addr) }
    ep := &Endpoint{net: n, addr: addr, ch: make(chan transport.Packet, n.queue)}
    n.endpoints[addr] = ep
    return ep, nil
}

// SetDropRate changes the loss probability for datagrams sent from now on.
func (n *Network) SetDropRate(p float64) {
    n.mu.Lock()
    n.dropRate = p
    n.mu.Unlock()
}

// Disconnect silently discards everything sent to or from addr.
func (n *Network) Disconnect(addr string) {
    n.mu.Lock()
    n.down[addr] = true
    n.mu.Unlock()
}

func (n *Network) Reconnect(addr string) {
    n.mu.Lock()
    delete(n.down, addr)
    n.mu.Unlock()
}

// Partition blocks traffic in both directions between every address of a
// and every address of b.
func (n *Network) Partition(a, b []string) {
    n.mu.Lock()
    defer n.mu.Unlock()
    for _, x := range a {
        for _, y := range b {
            n.blocked[[2]string{x, y}] = true
            n.blocked[[2]string{y, x}] = true
        }
    }
}

// Heal removes all partitions.
func (n *Network) Heal() {
    n.mu.Lock()
    n.blocked = make(map[[2]string]bool)
    n.mu.Unlock()
}

// Stats returns the number of datagrams sent and delivered so far.
func (n *Network) Stats() (sent, delivered int) {
    n.statsMu.Lock()
    defer n.statsMu.Unlock()
    return n.sent, n.delivered
}

func (n *Network) lose() bool {
    n.rngMu.Lock()
    defer n.rngMu.Unlock()
    return n.rng.Float64() < n.dropRate
}

func (n *Network) deliver(from, to string, payload []byte) {
    n.mu.RLock()
    defer n.mu.RUnlock()
    n.statsMu.Lock()
    n.sent++
    n.statsMu.Unlock()
    if n.down[from] || n.down[to] || n.blocked[[2]string{from, to}] { return }
    dst, ok := n.endpoints[to]
    if !ok { return }
    if n.dropRate > 0 && n.lose() { return }
    buf := make([]byte, len(payload))
    copy(buf, payload)
    select {
    case dst.ch <- transport.Packet{From: from, Payload: buf, At: time.Now()}:
        n.statsMu.Lock()
        n.delivered++
        n.statsMu.Unlock()
    default:
    }
}

// Endpoint is one node's attachment to a Network.
type Endpoint struct {
    net    *Network
    addr   string
    ch     chan transport.Packet
    closed bool
}

func (e *Endpoint) Addr() string { return e.addr }

func (e *Endpoint) Packets() <-chan transport.Packet { return e.ch }

// Send never blocks and never reports loss, like UDP.
func (e *Endpoint) Send(addr string, payload []byte) error {
    e.net.mu.RLock()
    closed := e.closed
    e.net.mu.RUnlock()
    if closed { return transport.ErrClosed }
    e.net.deliver(e.addr, addr, payload)
    return nil
}

// Pending returns the number of queued, unread datagrams.
func (e *Endpoint) Pending() int { return len(e.ch) }

// Close detaches the endpoint and closes Packets.
func (e *Endpoint) Close() error {
    e.net.mu.Lock()
    defer e.net.mu.Unlock()
    if e.closed { return nil }
    e.closed = true
    delete(e.net.endpoints, e.addr)
    close(e.ch)
    return nil
}

var _ transport.Transport = (*Endpoint)(nil)
