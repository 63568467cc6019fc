package partition

import (
	"hash/fnv"
	"sort"
	"sync"
)

// Count is the fixed number of logical partitions.
// Never changes after initial deployment: stored rows carry their partition id.
const Count = 256

// For returns the partition ID for a key (a dealer id or a scope key).
// Stable and deterministic: the same key always maps to the same partition.
func For(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % Count)
}

// Locks is a fixed set of mutexes striped by partition.
// Two keys share a mutex only when they hash to the same partition.
type Locks struct {
	mu [Count]sync.Mutex
}

// Lock acquires the stripe for key and returns its unlock function.
func (l *Locks) Lock(key string) (unlock func()) {
	m := &l.mu[For(key)]
	m.Lock()
	return m.Unlock
}

// LockAll acquires the stripes of every key in ascending partition order,
// taking each stripe once, and returns a function releasing them all.
func (l *Locks) LockAll(keys ...string) (unlock func()) {
	seen := make(map[int]struct{}, len(keys))
	ids := make([]int, 0, len(keys))
	for _, k := range keys {
		id := For(k)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		l.mu[id].Lock()
	}
	return func() {
		for i := len(ids) - 1; i >= 0; i-- {
			l.mu[ids[i]].Unlock()
		}
	}
}
