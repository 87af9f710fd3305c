package file

import (
    "context"
    "os"
    "path/filepath"
    "reflect"
    "testing"
    "time"
)

func seeds(t *testing.T, o Options) []string {
    t.Helper()
    got, err := New(o).Seeds(context.Background())
    if err != nil { t.Fatalf("seeds: %v", err) }
    return got
}

func TestEnvOverridesFile(t *testing.T) {
    f := filepath.Join(t.TempDir(), "seeds.txt")
    if err := os.WriteFile(f, []byte("a:7946\n"), 0o644); err != nil { t.Fatal(err) }
    const envName = "TEST_GOSSIP_SEEDS"
    t.Setenv(envName, "y:8,x:9")

    got := seeds(t, Options{Path: f, Env: envName})
    if want := []string{"x:9", "y:8"}; !reflect.DeepEqual(got, want) { t.Fatalf("got %#v", got) }
}

func TestFileReadAndCacheRefresh(t *testing.T) {
    f := filepath.Join(t.TempDir(), "seeds.txt")
    if err := os.WriteFile(f, []byte("# seeds\na:1\nb:2, b:2\n"), 0o644); err != nil { t.Fatal(err) }

    d := New(Options{Path: f, Refresh: 10 * time.Millisecond})
    got1, _ := d.Seeds(context.Background())
    if want := []string{"a:1", "b:2"}; !reflect.DeepEqual(got1, want) { t.Fatalf("initial %#v", got1) }

    if err := os.WriteFile(f, []byte("b:2\nc:3\n"), 0o644); err != nil { t.Fatal(err) }
    time.Sleep(15 * time.Millisecond)
    got2, _ := d.Seeds(context.Background())
    if want := []string{"b:2", "c:3"}; !reflect.DeepEqual(got2, want) { t.Fatalf("refreshed %#v", got2) }
}

func TestGlobReadsUniqueSorted(t *testing.T) {
    dir := t.TempDir()
    if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a:1\nb:2\n"), 0o644); err != nil { t.Fatal(err) }
    if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b:2\nc:3\n"), 0o644); err != nil { t.Fatal(err) }

    got := seeds(t, Options{Path: filepath.Join(dir, "*.txt")})
    if want := []string{"a:1", "b:2", "c:3"}; !reflect.DeepEqual(got, want) { t.Fatalf("got %#v", got) }
}

func TestMissingFile(t *testing.T) {
    d := New(Options{Path: filepath.Join(t.TempDir(), "nope.txt")})
    if _, err := d.Seeds(context.Background()); err == nil { t.Fatalf("expected error for missing file") }
}

func TestServesCacheAfterRemoval(t *testing.T) {
    f := filepath.Join(t.TempDir(), "seeds.txt")
    if err := os.WriteFile(f, []byte("a:1\n"), 0o644); err != nil { t.Fatal(err) }
    d := New(Options{Path: f, Refresh: time.Millisecond})
    if _, err := d.Seeds(context.Background()); err != nil { t.Fatal(err) }
    if err := os.Remove(f); err != nil { t.Fatal(err) }
    time.Sleep(2 * time.Millisecond)
    got, err := d.Seeds(context.Background())
    if err != nil || len(got) != 1 || got[0] != "a:1" { t.Fatalf("got %#v, %v", got, err) }
}
