package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "net"
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "go.uber.org/zap"

    "github.com/amirimatin/go-gossip/internal/logutil"
    "github.com/amirimatin/go-gossip/pkg/observability/tracing"
    "github.com/amirimatin/go-gossip/pkg/transport"
)

// Server exposes a node's management endpoints over HTTP/JSON:
//
//   GET  /status    JSON status document
//   GET  /members   membership view
//   POST /metadata  metadata patch for this node
//   POST /leave     graceful leave of this node
//   GET  /healthz   200 while serving, 503 otherwise
//   GET  /metrics   Prometheus exposition
type Server struct {
    bind   string
    mu     sync.Mutex
    addr   string
    srv    *http.Server
    logger *zap.Logger
    tls    *tls.Config
}

// NewServer binds to the given TCP address (e.g., ":17946").
func NewServer(bind string, logger *zap.Logger) *Server {
    return &Server{bind: bind, addr: bind, logger: logutil.OrNop(logger).Named("httpjson")}
}

// UseTLS serves HTTPS; call before Start.
func (s *Server) UseTLS(cfg *tls.Config) { s.tls = cfg }

// Handler builds the management mux without starting a listener.
func Handler(h transport.Handlers) http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        if h.Status == nil { http.Error(w, "status not supported", http.StatusNotImplemented); return }
        ctx, end := tracing.StartSpan(r.Context(), "http.status")
        defer end()
        data, err := h.Status(ctx)
        if err != nil { http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError); return }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    })
    mux.HandleFunc("/members", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        if h.Members == nil { http.Error(w, "members not supported", http.StatusNotImplemented); return }
        ctx, end := tracing.StartSpan(r.Context(), "http.members")
        defer end()
        members, err := h.Members(ctx)
        if err != nil { http.Error(w, fmt.Sprintf("members error: %v", err), http.StatusInternalServerError); return }
        writeJSON(w, http.StatusOK, members)
    })
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        if h.Health != nil {
            if err := h.Health(r.Context()); err != nil { http.Error(w, err.Error(), http.StatusServiceUnavailable); return }
        }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())
    mux.HandleFunc("/metadata", func(w http.ResponseWriter, r *http.Request) {
        var req transport.MetadataRequest
        if !decodePost(w, r, h.Metadata != nil, &req) { return }
        ctx, end := tracing.StartSpan(r.Context(), "http.metadata")
        defer end()
        resp, err := h.Metadata(ctx, req)
        if err != nil && resp.Error == "" { resp.Error = err.Error() }
        writeJSON(w, statusFor(err), resp)
    })
    mux.HandleFunc("/leave", func(w http.ResponseWriter, r *http.Request) {
        var req transport.LeaveRequest
        if !decodePost(w, r, h.Leave != nil, &req) { return }
        ctx, end := tracing.StartSpan(r.Context(), "http.leave")
        defer end()
        resp, err := h.Leave(ctx, req)
        if err != nil && resp.Error == "" { resp.Error = err.Error() }
        writeJSON(w, statusFor(err), resp)
    })
    return mux
}

func decodePost(w http.ResponseWriter, r *http.Request, supported bool, into any) bool {
    if r.Method != http.MethodPost { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return false }
    if !supported { http.Error(w, "not supported", http.StatusNotImplemented); return false }
    if err := json.NewDecoder(r.Body).Decode(into); err != nil {
        http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
        return false
    }
    return true
}

func statusFor(err error) int {
    if err != nil { return http.StatusInternalServerError }
    return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

// Start launches the HTTP server. The server is shut down when the context
// is canceled.
func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    if s.tls != nil { ln = tls.NewListener(ln, s.tls) }
    srv := &http.Server{Handler: Handler(h), ReadHeaderTimeout: 5 * time.Second}
    s.mu.Lock()
    s.srv = srv
    s.addr = ln.Addr().String()
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
            s.logger.Error("server error", zap.Error(err))
        }
    }()
    s.logger.Info("management server listening", zap.String("addr", s.Addr()))
    return nil
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.addr
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    return srv.Shutdown(c)
}

var _ transport.RPCServer = (*Server)(nil)
