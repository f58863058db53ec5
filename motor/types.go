package motor

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// StringTable interns strings shared by many records.
type StringTable struct {
	shards [256]*stringTableShard
}

type stringTableShard struct {
	table map[string]string
	mu    sync.RWMutex
}

func NewStringTable() *StringTable {
	st := &StringTable{}
	for i := range st.shards {
		st.shards[i] = &stringTableShard{table: make(map[string]string)}
	}
	return st
}

// uses 256 shards with xxhash distribution to minimize lock contention when several
// recorders share a table
func (st *StringTable) Intern(s string) string {
	if s == "" {
		return ""
	}

	h := xxhash.Sum64String(s)
	shard := st.shards[h%256]

	shard.mu.RLock()
	if interned, exists := shard.table[s]; exists {
		shard.mu.RUnlock()
		return interned
	}
	shard.mu.RUnlock()

	// double-checked locking: check without write lock first, then with write lock to prevent race
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if interned, exists := shard.table[s]; exists {
		return interned
	}

	shard.table[s] = s
	return s
}

// Len returns the number of distinct strings held
func (st *StringTable) Len() int {
	total := 0
	for _, shard := range st.shards {
		shard.mu.RLock()
		total += len(shard.table)
		shard.mu.RUnlock()
	}
	return total
}
