package transport

import (
    "errors"
    "time"
)

var (
    // ErrClosed is returned by Send on a transport that has been closed.
    ErrClosed = errors.New("transport: closed")
    // ErrPayloadTooLarge is returned by Send for a datagram the network
    // cannot carry.
    ErrPayloadTooLarge = errors.New("transport: payload exceeds datagram limit")
)

// Packet is one received datagram.
type Packet struct {
    From    string
    Payload []byte
    At      time.Time
}

// Transport is the unreliable datagram layer gossip runs on. Send is
// fire-and-forget: a nil error means the datagram was handed to the network,
// not that it arrived. Packets is closed once the transport is closed.
type Transport interface {
    // Addr returns the advertised host:port peers should send to.
    Addr() string
    Send(addr string, payload []byte) error
    Packets() <-chan Packet
    Close() error
}

// Limiter is implemented by transports with a hard datagram size.
type Limiter interface {
    MaxPayload() int
}

// MaxPayload returns the datagram limit of t, or 0 when it has none.
func MaxPayload(t Transport) int {
    if l, ok := t.(Limiter); ok { return l.MaxPayload() }
    return 0
}
