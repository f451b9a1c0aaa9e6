package accounts

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// lockTable serializes mutations per account key through a fixed pool of
// mutex shards. Unrelated accounts proceed in parallel; two accounts
// hashing to the same shard contend, which is harmless for correctness.
type lockTable struct {
	shards []sync.Mutex
}

func newLockTable(shardCount int) *lockTable {
	if shardCount <= 0 {
		shardCount = 512
	}
	return &lockTable{shards: make([]sync.Mutex, shardCount)}
}

// lock acquires the shard for key and returns its unlock func.
func (t *lockTable) lock(key string) func() {
	shard := &t.shards[xxhash.Sum64String(key)%uint64(len(t.shards))]
	shard.Lock()
	return shard.Unlock
}
