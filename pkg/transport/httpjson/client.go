package httpjson

import (
    "bytes"
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "time"

    "github.com/amirimatin/go-gossip/pkg/membership"
    "github.com/amirimatin/go-gossip/pkg/transport"
)

// Client is a thin HTTP client for the management API with simple retry
// and exponential backoff.
type Client struct {
    httpc    *http.Client
    attempts int
    scheme   string
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    return &Client{httpc: &http.Client{Timeout: timeout}, attempts: 3, scheme: "http"}
}

// UseTLS switches the client to HTTPS with cfg.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    c.httpc.Transport = &http.Transport{TLSClientConfig: cfg}
    c.scheme = "https"
    return c
}

func (c *Client) url(addr, path string) string { return fmt.Sprintf("%s://%s%s", c.scheme, addr, path) }

// do issues the request up to c.attempts times. A body is re-sent on every
// attempt. A decoded error field (errOf) is returned as the error, on any
// status code.
func (c *Client) do(ctx context.Context, method, url string, in, out any, errOf func() string) ([]byte, error) {
    var body []byte
    if in != nil {
        b, err := json.Marshal(in)
        if err != nil { return nil, err }
        body = b
    }
    var lastErr error
    for attempt := 0; attempt < c.attempts; attempt++ {
        req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
        if err != nil { return nil, err }
        if in != nil { req.Header.Set("Content-Type", "application/json") }
        resp, err := c.httpc.Do(req)
        if err != nil {
            lastErr = err
        } else {
            b, rerr := io.ReadAll(resp.Body)
            resp.Body.Close()
            switch {
            case rerr != nil:
                lastErr = rerr
            case resp.StatusCode == http.StatusOK:
                if out != nil {
                    if err := json.Unmarshal(b, out); err != nil { return b, fmt.Errorf("decode response: %w", err) }
                }
                if errOf != nil && errOf() != "" { return b, errors.New(errOf()) }
                return b, nil
            default:
                if out != nil { _ = json.Unmarshal(b, out) }
                if errOf != nil && errOf() != "" { return b, errors.New(errOf()) }
                lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
                // client errors will not improve on retry
                if resp.StatusCode >= 400 && resp.StatusCode < 500 { return b, lastErr }
            }
        }
        select {
        case <-ctx.Done():
            if lastErr == nil { lastErr = ctx.Err() }
            return nil, lastErr
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return nil, lastErr
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    return c.do(ctx, http.MethodGet, c.url(addr, "/status"), nil, nil, nil)
}

func (c *Client) GetMembers(ctx context.Context, addr string) ([]membership.NodeRecord, error) {
    var out []membership.NodeRecord
    _, err := c.do(ctx, http.MethodGet, c.url(addr, "/members"), nil, &out, nil)
    return out, err
}

func (c *Client) PostMetadata(ctx context.Context, addr string, req transport.MetadataRequest) (transport.MetadataResponse, error) {
    var out transport.MetadataResponse
    _, err := c.do(ctx, http.MethodPost, c.url(addr, "/metadata"), req, &out, func() string { return out.Error })
    return out, err
}

func (c *Client) PostLeave(ctx context.Context, addr string, req transport.LeaveRequest) (transport.LeaveResponse, error) {
    var out transport.LeaveResponse
    _, err := c.do(ctx, http.MethodPost, c.url(addr, "/leave"), req, &out, func() string { return out.Error })
    return out, err
}

var _ transport.RPCClient = (*Client)(nil)
