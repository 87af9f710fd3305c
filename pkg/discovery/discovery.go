// Package discovery supplies seed addresses for joining a gossip cluster.
package discovery

import (
    "context"
    "sort"
)

// Discovery returns candidate seed addresses ("host:port"). Implementations
// may cache and may return a stale list together with a nil error when a
// refresh fails.
type Discovery interface {
    Seeds(ctx context.Context) ([]string, error)
}

// Registrar publishes the local node so that other nodes can discover it.
type Registrar interface {
    Register(ctx context.Context, id, addr string) error
    Close() error
}

// Func adapts a plain function to Discovery.
type Func func(ctx context.Context) ([]string, error)

func (f Func) Seeds(ctx context.Context) ([]string, error) { return f(ctx) }

// Multi merges the seeds of several sources into one sorted, de-duplicated
// list. A failing source is skipped; the first error is only returned when
// every source failed.
func Multi(sources ...Discovery) Discovery {
    return Func(func(ctx context.Context) ([]string, error) {
        var firstErr error
        failed := 0
        var all [][]string
        for _, s := range sources {
            seeds, err := s.Seeds(ctx)
            if err != nil {
                failed++
                if firstErr == nil { firstErr = err }
                continue
            }
            all = append(all, seeds)
        }
        if len(sources) > 0 && failed == len(sources) { return nil, firstErr }
        return Normalize(all...), nil
    })
}

// Normalize unions lists, dropping empty entries, and sorts the result.
func Normalize(lists ...[]string) []string {
    set := make(map[string]struct{})
    for _, l := range lists {
        for _, s := range l {
            if s != "" { set[s] = struct{}{} }
        }
    }
    if len(set) == 0 { return nil }
    out := make([]string, 0, len(set))
    for s := range set { out = append(out, s) }
    sort.Strings(out)
    return out
}
