package wire

import (
    "bytes"
    "compress/gzip"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "sort"

    "github.com/amirimatin/go-gossip/pkg/membership"
)

// DefaultMaxMessageBytes is the largest datagram the codec will produce or accept.
const DefaultMaxMessageBytes = 64 * 1024

var (
    ErrMessageTooLarge = errors.New("wire: message exceeds size limit")
    ErrMalformed       = errors.New("wire: malformed message")
)

// Message is the single gossip datagram format. Join asks the receiver to
// answer with its full state.
type Message struct {
    SenderID string                  `json:"senderId"`
    Join     bool                    `json:"join,omitempty"`
    Records  []membership.NodeRecord `json:"records"`
}

// Codec turns Messages into bounded datagrams and back.
type Codec struct {
    maxBytes int
    compress bool
}

func NewCodec(maxBytes int, compress bool) *Codec {
    if maxBytes <= 0 { maxBytes = DefaultMaxMessageBytes }
    return &Codec{maxBytes: maxBytes, compress: compress}
}

func (c *Codec) MaxBytes() int { return c.maxBytes }

// Encode serializes msg. When the payload would exceed the limit, records
// that changed least recently are dropped until it fits; the sender's own
// record is always kept. It returns how many records were dropped.
func (c *Codec) Encode(msg Message) ([]byte, int, error) {
    recs := orderForPruning(msg.SenderID, msg.Records)
    enc := func(n int) ([]byte, error) {
        m := Message{SenderID: msg.SenderID, Join: msg.Join, Records: recs[:n]}
        return c.marshal(m)
    }
    full, err := enc(len(recs))
    if err != nil { return nil, 0, err }
    if len(full) <= c.maxBytes { return full, 0, nil }

    min := 0
    if len(recs) > 0 && recs[0].NodeID == msg.SenderID { min = 1 }
    // largest prefix in [min, len) that fits
    lo, hi := min, len(recs)-1
    var best []byte
    for lo <= hi {
        mid := lo + (hi-lo)/2
        b, err := enc(mid)
        if err != nil { return nil, 0, err }
        if len(b) <= c.maxBytes {
            best = b
            lo = mid + 1
        } else {
            hi = mid - 1
        }
    }
    if best == nil { return nil, 0, fmt.Errorf("%w: own record alone is larger than %d bytes", ErrMessageTooLarge, c.maxBytes) }
    return best, len(recs) - hi, nil
}

func (c *Codec) marshal(m Message) ([]byte, error) {
    if m.Records == nil { m.Records = []membership.NodeRecord{} }
    raw, err := json.Marshal(m)
    if err != nil { return nil, fmt.Errorf("wire: encode: %w", err) }
    if !c.compress { return raw, nil }
    var buf bytes.Buffer
    zw := gzip.NewWriter(&buf)
    if _, err := zw.Write(raw); err != nil { return nil, fmt.Errorf("wire: gzip: %w", err) }
    if err := zw.Close(); err != nil { return nil, fmt.Errorf("wire: gzip: %w", err) }
    return buf.Bytes(), nil
}

// orderForPruning puts the sender's record first and the rest by most recent
// local change, so that truncating the tail drops the stalest records.
func orderForPruning(sender string, in []membership.NodeRecord) []membership.NodeRecord {
    out := make([]membership.NodeRecord, len(in))
    copy(out, in)
    sort.SliceStable(out, func(i, j int) bool {
        a, b := out[i], out[j]
        if (a.NodeID == sender) != (b.NodeID == sender) { return a.NodeID == sender }
        if !a.LastUpdated.Equal(b.LastUpdated) { return a.LastUpdated.After(b.LastUpdated) }
        return a.NodeID < b.NodeID
    })
    return out
}

// Decode parses a datagram, transparently handling gzip. Oversized input
// (before or after decompression) yields ErrMessageTooLarge; anything that is
// not a well-formed message yields ErrMalformed.
func (c *Codec) Decode(b []byte) (Message, error) {
    if len(b) > c.maxBytes { return Message{}, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(b)) }
    if len(b) == 0 { return Message{}, fmt.Errorf("%w: empty datagram", ErrMalformed) }
    if IsGzip(b) {
        zr, err := gzip.NewReader(bytes.NewReader(b))
        if err != nil { return Message{}, fmt.Errorf("%w: gzip: %v", ErrMalformed, err) }
        // compressed datagrams may expand; bound what we are willing to inflate
        limit := int64(c.maxBytes) * 16
        raw, err := io.ReadAll(io.LimitReader(zr, limit+1))
        if err != nil { return Message{}, fmt.Errorf("%w: gzip: %v", ErrMalformed, err) }
        if int64(len(raw)) > limit { return Message{}, fmt.Errorf("%w: inflated beyond %d bytes", ErrMessageTooLarge, limit) }
        b = raw
    }
    var m Message
    if err := json.Unmarshal(b, &m); err != nil { return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err) }
    if m.SenderID == "" { return Message{}, fmt.Errorf("%w: missing senderId", ErrMalformed) }
    for i := range m.Records {
        if m.Records[i].NodeID == "" { return Message{}, fmt.Errorf("%w: record %d has no nodeId", ErrMalformed, i) }
        if m.Records[i].Metadata == nil { m.Records[i].Metadata = membership.Metadata{} }
    }
    return m, nil
}

// IsGzip reports whether b starts with the gzip magic bytes.
func IsGzip(b []byte) bool { return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b }
