package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-gossip/pkg/membership"
    "github.com/amirimatin/go-gossip/pkg/transport"
)

// Client calls the management service with cached connections.
type Client struct {
    timeout time.Duration
    cm      *ConnManager
    tls     *tls.Config
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    c := &Client{timeout: timeout}
    c.cm = NewConnManager(30*time.Second, c.dial)
    return c
}

// UseTLS dials with TLS; call before the first request.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    c.tls = cfg
    return c
}

func (c *Client) dial(_ context.Context, target string) (*grpc.ClientConn, error) {
    creds := insecure.NewCredentials()
    if c.tls != nil { creds = credentials.NewTLS(c.tls) }
    return grpc.NewClient(target,
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
        grpc.WithTransportCredentials(creds),
    )
}

// invoke runs one unary call on a managed connection.
func (c *Client) invoke(ctx context.Context, addr, method string, in, out any) error {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.cm.Get(cctx, addr)
    if err != nil { return err }
    defer rel()
    return cc.Invoke(cctx, "/"+serviceName+"/"+method, in, out)
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    out := new(statusBlob)
    if err := c.invoke(ctx, addr, "Status", &empty{}, out); err != nil { return nil, err }
    return out.Data, nil
}

func (c *Client) GetMembers(ctx context.Context, addr string) ([]membership.NodeRecord, error) {
    out := new(membersReply)
    if err := c.invoke(ctx, addr, "Members", &empty{}, out); err != nil { return nil, err }
    return out.Members, nil
}

func (c *Client) PostMetadata(ctx context.Context, addr string, req transport.MetadataRequest) (transport.MetadataResponse, error) {
    var resp transport.MetadataResponse
    if err := c.invoke(ctx, addr, "UpdateMetadata", &req, &resp); err != nil { return resp, err }
    if resp.Error != "" { return resp, errors.New(resp.Error) }
    return resp, nil
}

func (c *Client) PostLeave(ctx context.Context, addr string, req transport.LeaveRequest) (transport.LeaveResponse, error) {
    var resp transport.LeaveResponse
    if err := c.invoke(ctx, addr, "Leave", &req, &resp); err != nil { return resp, err }
    if resp.Error != "" { return resp, errors.New(resp.Error) }
    return resp, nil
}

// Close releases cached connections.
func (c *Client) Close() { c.cm.Close() }

var _ transport.RPCClient = (*Client)(nil)
