package tlsconfig

import (
    "crypto/tls"
    "io"
    "net"
    "os"
    "testing"

    "github.com/amirimatin/go-gossip/internal/testcerts"
)

func TestDisabledReturnsNil(t *testing.T) {
    s, err := Options{}.Server()
    if s != nil || err != nil { t.Fatalf("server %v, %v", s, err) }
    c, err := Options{}.Client()
    if c != nil || err != nil { t.Fatalf("client %v, %v", c, err) }
}

func TestServerRequiresKeyPair(t *testing.T) {
    if _, err := (Options{Enable: true}).Server(); err == nil { t.Fatalf("expected error without cert/key") }
}

func TestBadCAFile(t *testing.T) {
    f := testcerts.Write(t)
    if err := os.WriteFile(f.CA, []byte("junk"), 0o600); err != nil { t.Fatal(err) }
    if _, err := (Options{Enable: true, CAFile: f.CA}).Client(); err == nil { t.Fatalf("expected error for CA without certificates") }
}

func TestMutualTLSHandshake(t *testing.T) {
    f := testcerts.Write(t)
    opts := Options{Enable: true, CAFile: f.CA, CertFile: f.Cert, KeyFile: f.Key, ServerName: "localhost"}
    scfg, err := opts.Server()
    if err != nil { t.Fatal(err) }
    ccfg, err := opts.Client()
    if err != nil { t.Fatal(err) }

    ln, err := tls.Listen("tcp", "127.0.0.1:0", scfg)
    if err != nil { t.Fatal(err) }
    defer ln.Close()
    go func() {
        for {
            c, err := ln.Accept()
            if err != nil { return }
            go func() {
                defer c.Close()
                _, _ = c.Write([]byte("hi"))
            }()
        }
    }()

    conn, err := tls.Dial("tcp", ln.Addr().String(), ccfg)
    if err != nil { t.Fatalf("dial: %v", err) }
    defer conn.Close()
    b, err := io.ReadAll(conn)
    if err != nil || string(b) != "hi" { t.Fatalf("read %q, %v", b, err) }

    // a client without a certificate is refused
    bare := &tls.Config{RootCAs: ccfg.RootCAs, ServerName: "localhost"}
    raw, err := net.Dial("tcp", ln.Addr().String())
    if err != nil { t.Fatal(err) }
    tc := tls.Client(raw, bare)
    defer tc.Close()
    if err := tc.Handshake(); err == nil {
        if _, err := tc.Read(make([]byte, 1)); err == nil { t.Fatalf("unauthenticated client was served") }
    }
}

func TestReloaderKeepsLastGood(t *testing.T) {
    f := testcerts.Write(t)
    r := (Options{CertFile: f.Cert, KeyFile: f.Key, Reload: 1}).reloader()
    first, err := r.get()
    if err != nil { t.Fatal(err) }
    if err := os.Remove(f.Cert); err != nil { t.Fatal(err) }
    again, err := r.get()
    if err != nil || again != first { t.Fatalf("expected cached certificate after failed reload, got %v", err) }
}
