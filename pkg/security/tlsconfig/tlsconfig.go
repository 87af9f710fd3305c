// Package tlsconfig builds TLS settings for the management endpoints.
// Gossip datagrams themselves are not encrypted.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

// DefaultReload is how long a loaded certificate is reused before the files
// are read again.
const DefaultReload = 10 * time.Second

// Options defines (m)TLS configuration inputs.
type Options struct {
    Enable             bool
    CAFile             string
    CertFile           string
    KeyFile            string
    InsecureSkipVerify bool
    ServerName         string
    // Reload overrides DefaultReload.
    Reload time.Duration
}

// Server returns a server config, or nil when TLS is disabled. The
// certificate is re-read from disk periodically so files can be rotated in
// place. With a CA file, client certificates are required.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" { return nil, errors.New("tlsconfig: server cert/key required when TLS enabled") }
    r := o.reloader()
    if _, err := r.get(); err != nil { return nil, err }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return r.get() }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    return cfg, nil
}

// Client returns a client config, or nil when TLS is disabled. A client
// certificate is presented when CertFile and KeyFile are set.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: o.InsecureSkipVerify} //nolint:gosec
    if o.ServerName != "" { cfg.ServerName = o.ServerName }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    if o.CertFile != "" && o.KeyFile != "" {
        r := o.reloader()
        if _, err := r.get(); err != nil { return nil, err }
        cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return r.get() }
    }
    return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
    ca, err := os.ReadFile(path)
    if err != nil { return nil, err }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(ca) { return nil, fmt.Errorf("tlsconfig: no certificates in %s", path) }
    return pool, nil
}

type reloader struct {
    cert, key string
    ttl       time.Duration

    mu     sync.Mutex
    cached *tls.Certificate
    loaded time.Time
}

func (o Options) reloader() *reloader {
    ttl := o.Reload
    if ttl <= 0 { ttl = DefaultReload }
    return &reloader{cert: o.CertFile, key: o.KeyFile, ttl: ttl}
}

// get returns the cached pair, reloading it once the TTL has passed. A
// failed reload keeps serving the previous certificate.
func (r *reloader) get() (*tls.Certificate, error) {
    r.mu.Lock()
    defer r.mu.Unlock()
    if r.cached != nil && time.Since(r.loaded) < r.ttl { return r.cached, nil }
    cert, err := tls.LoadX509KeyPair(r.cert, r.key)
    if err != nil {
        if r.cached != nil { return r.cached, nil }
        return nil, err
    }
    r.cached, r.loaded = &cert, time.Now()
    return r.cached, nil
}
