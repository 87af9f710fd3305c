package gossip

import (
    "math/rand"
    "sync"
)

// lockedRand shares one *rand.Rand between the gossip and anti-entropy loops.
type lockedRand struct {
    mu sync.Mutex
    r  *rand.Rand
}

// choose returns up to k distinct indexes in [0,n), uniformly at random.
func (l *lockedRand) choose(n, k int) []int {
    if k > n { k = n }
    idx := make([]int, n)
    for i := range idx { idx[i] = i }
    l.mu.Lock()
    defer l.mu.Unlock()
    for i := 0; i < k; i++ {
        j := i + l.r.Intn(n-i)
        idx[i], idx[j] = idx[j], idx[i]
    }
    return idx[:k]
}
