package partition

import (
	"strconv"
	"sync"
	"testing"
)

func TestFor_Determinism(t *testing.T) {
	// Same input must always produce the same partition.
	id := For("dealer-abc")
	for i := 0; i < 100; i++ {
		if got := For("dealer-abc"); got != id {
			t.Fatalf("For(\"dealer-abc\") = %d on iteration %d, want %d", got, i, id)
		}
	}
}

func TestFor_Range(t *testing.T) {
	inputs := []string{"", "a", "dealer-1", "sales|d1|2024-01-10|m1", "very-long-dealer-id-that-should-still-hash-correctly"}
	for _, s := range inputs {
		p := For(s)
		if p < 0 || p >= Count {
			t.Errorf("For(%q) = %d, want [0, %d)", s, p, Count)
		}
	}
}

func TestFor_Distribution(t *testing.T) {
	// 1 000 dealers should hit at least 100 distinct partitions.
	seen := make(map[int]struct{})
	for i := 0; i < 1000; i++ {
		seen[For("dealer-"+strconv.Itoa(i))] = struct{}{}
	}
	if len(seen) < 100 {
		t.Errorf("only %d distinct partitions from 1000 inputs, want >= 100", len(seen))
	}
}

func TestLocks_SerializesSameKey(t *testing.T) {
	var (
		locks Locks
		wg    sync.WaitGroup
		total int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("sales|d1|2024-01-10|m1")
			defer unlock()
			total++
		}()
	}
	wg.Wait()
	if total != 50 {
		t.Fatalf("total = %d, want 50", total)
	}
}

func TestLocks_LockAllSharedStripe(t *testing.T) {
	var locks Locks
	// Duplicate keys map to one stripe and must not self-deadlock.
	unlock := locks.LockAll("a", "b", "a", "c")
	unlock()

	unlock = locks.LockAll("a")
	unlock()
}

func TestLocks_LockAllConcurrentOrders(t *testing.T) {
	var (
		locks Locks
		wg    sync.WaitGroup
		total int
	)
	for i := 0; i < 40; i++ {
		keys := []string{"x", "y", "z"}
		if i%2 == 1 {
			keys = []string{"z", "y", "x"}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.LockAll(keys...)
			defer unlock()
			total++
		}()
	}
	wg.Wait()
	if total != 40 {
		t.Fatalf("total = %d, want 40", total)
	}
}
