// Package file reads seeds from an environment variable or from one or more
// files (a path or a glob), one address per line or comma-separated.
package file

import (
    "bufio"
    "context"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"

    "go.uber.org/zap"

    "github.com/amirimatin/go-gossip/pkg/discovery"
)

// Options configures file/ENV-based discovery.
type Options struct {
    // Path to a seed file, or a glob matching several.
    Path string
    // Env names a variable that overrides the file when non-empty.
    Env string
    // Refresh controls cache staleness; defaults to 5s.
    Refresh time.Duration
    Logger  *zap.Logger
}

type impl struct {
    opts  Options
    log   *zap.Logger
    mu    sync.Mutex
    last  time.Time
    mtime time.Time
    cache []string
}

func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    log := opts.Logger
    if log == nil { log = zap.NewNop() }
    return &impl{opts: opts, log: log.Named("discovery.file")}
}

func (i *impl) Seeds(ctx context.Context) ([]string, error) {
    if err := ctx.Err(); err != nil { return nil, err }
    i.mu.Lock()
    defer i.mu.Unlock()
    if i.opts.Env != "" {
        if v := strings.TrimSpace(os.Getenv(i.opts.Env)); v != "" { return parseSeeds(v), nil }
    }
    if i.opts.Path == "" { return nil, nil }
    now := time.Now()
    stat, err := os.Stat(i.opts.Path)
    if err == nil {
        if stat.ModTime().After(i.mtime) || now.Sub(i.last) >= i.opts.Refresh {
            seeds, err := loadFile(i.opts.Path)
            if err != nil { return i.stale(err) }
            i.cache, i.last, i.mtime = seeds, now, stat.ModTime()
        }
        return append([]string(nil), i.cache...), nil
    }
    matches, gerr := filepath.Glob(i.opts.Path)
    if gerr != nil { return nil, fmt.Errorf("discovery/file: bad pattern %q: %w", i.opts.Path, gerr) }
    if len(matches) == 0 { return i.stale(err) }
    lists := make([][]string, 0, len(matches))
    for _, m := range matches {
        seeds, err := loadFile(m)
        if err != nil {
            i.log.Warn("skipping seed file", zap.String("path", m), zap.Error(err))
            continue
        }
        lists = append(lists, seeds)
    }
    i.cache, i.last = discovery.Normalize(lists...), now
    return append([]string(nil), i.cache...), nil
}

// stale serves the last good list when there is one.
func (i *impl) stale(err error) ([]string, error) {
    if len(i.cache) == 0 { return nil, fmt.Errorf("discovery/file: %w", err) }
    i.log.Warn("seed file unreadable, serving cached seeds", zap.String("path", i.opts.Path), zap.Error(err))
    return append([]string(nil), i.cache...), nil
}

func loadFile(path string) ([]string, error) {
    f, err := os.Open(path)
    if err != nil { return nil, err }
    defer f.Close()
    var seeds []string
    s := bufio.NewScanner(f)
    for s.Scan() {
        line := strings.TrimSpace(s.Text())
        if line == "" || strings.HasPrefix(line, "#") { continue }
        seeds = append(seeds, parseSeeds(line)...)
    }
    if err := s.Err(); err != nil { return nil, err }
    return discovery.Normalize(seeds), nil
}

func parseSeeds(csv string) []string {
    var out []string
    for _, p := range strings.Split(csv, ",") {
        if p = strings.TrimSpace(p); p != "" { out = append(out, p) }
    }
    return discovery.Normalize(out)
}
