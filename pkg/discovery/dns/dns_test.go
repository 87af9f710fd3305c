package dns

import (
    "context"
    "errors"
    "net"
    "reflect"
    "sync"
    "testing"
    "time"
)

type fakeResolver struct {
    mu    sync.Mutex
    srv   map[string][]*net.SRV
    hosts map[string][]string
    calls int
}

func (f *fakeResolver) LookupSRV(_ context.Context, service, proto, name string) (string, []*net.SRV, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.calls++
    recs, ok := f.srv["_"+service+"._"+proto+"."+name]
    if !ok { return "", nil, errors.New("nxdomain") }
    return "", recs, nil
}

func (f *fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.calls++
    ips, ok := f.hosts[host]
    if !ok { return nil, errors.New("nxdomain") }
    return ips, nil
}

func newFake() *fakeResolver {
    return &fakeResolver{
        srv: map[string][]*net.SRV{
            "_gossip._udp.example.com": {
                {Target: "n2.example.com.", Port: 7001},
                {Target: "n1.example.com.", Port: 7000},
            },
        },
        hosts: map[string][]string{"n3.example.com": {"10.0.0.3", "fd00::3"}},
    }
}

func TestParseSRVName(t *testing.T) {
    s, p, n := parseSRVName("_gossip._udp.example.com")
    if s != "gossip" || p != "udp" || n != "example.com" { t.Fatalf("got (%q,%q,%q)", s, p, n) }
    s, p, n = parseSRVName("bad.srv")
    if s != "" || p != "" || n != "" { t.Fatalf("expected empty parts, got (%q,%q,%q)", s, p, n) }
}

func TestResolveMixedNames(t *testing.T) {
    d := New(Options{
        Names:    []string{"_gossip._udp.example.com", "n3.example.com", "1.2.3.4:7946", "missing.example.com"},
        Resolver: newFake(),
    })
    got, err := d.Seeds(context.Background())
    if err != nil { t.Fatal(err) }
    want := []string{"1.2.3.4:7946", "10.0.0.3:7946", "[fd00::3]:7946", "n1.example.com:7000", "n2.example.com:7001"}
    if !reflect.DeepEqual(got, want) { t.Fatalf("got %#v\nwant %#v", got, want) }
}

func TestCacheAndStaleFallback(t *testing.T) {
    r := newFake()
    d := New(Options{Names: []string{"n3.example.com"}, Port: 9000, Refresh: 20 * time.Millisecond, Resolver: r})
    if _, err := d.Seeds(context.Background()); err != nil { t.Fatal(err) }
    if _, err := d.Seeds(context.Background()); err != nil { t.Fatal(err) }
    if r.calls != 1 { t.Fatalf("expected cached second call, resolver hit %d times", r.calls) }

    r.mu.Lock()
    delete(r.hosts, "n3.example.com")
    r.mu.Unlock()
    time.Sleep(25 * time.Millisecond)
    got, err := d.Seeds(context.Background())
    if err != nil || len(got) != 2 { t.Fatalf("expected stale cache, got %#v, %v", got, err) }
}

func TestNothingResolved(t *testing.T) {
    d := New(Options{Names: []string{"missing.example.com"}, Resolver: newFake()})
    if _, err := d.Seeds(context.Background()); !errors.Is(err, ErrNoAddresses) {
        t.Fatalf("expected ErrNoAddresses, got %v", err)
    }
}
