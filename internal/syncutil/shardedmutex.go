// Package syncutil provides sharded per-key locks for serializing work on
// negotiations, listings and user quotas without one mutex per entity.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// shardCount bounds lock memory regardless of how many entity IDs are seen.
// Keys that hash to the same shard contend with each other, which is
// harmless for short critical sections.
const shardCount = 256

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// ShardedMutex is a fixed pool of mutexes keyed by string. The zero value
// is ready to use.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex for key and returns the matching unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardFor(key)]
	mu.Lock()
	return mu.Unlock
}
