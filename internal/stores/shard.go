package stores

import (
	"sync"
	"sync/atomic"

	"github.com/spaolacci/murmur3"
)

const shardCount = 64

type shard[V any] struct {
	mu      sync.Mutex
	entries map[string]V
}

// shardedMap spreads keys over independently locked maps so unrelated emails
// never contend on the same mutex.
type shardedMap[V any] struct {
	shards [shardCount]shard[V]
	cursor atomic.Uint32
}

func newShardedMap[V any]() *shardedMap[V] {
	m := &shardedMap[V]{}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]V)
	}
	return m
}

func (m *shardedMap[V]) shardFor(key string) *shard[V] {
	return &m.shards[murmur3.Sum64([]byte(key))%shardCount]
}

func (m *shardedMap[V]) len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// sweepLocked deletes every entry of s for which dead reports true. The
// caller holds s.mu.
func (s *shard[V]) sweepLocked(dead func(V) bool) {
	for k, v := range s.entries {
		if dead(v) {
			delete(s.entries, k)
		}
	}
}

// sweepNext sweeps one shard in round-robin order, skipping skip. Keys that
// are never looked up again still get reclaimed after at most shardCount
// writes. Must not be called while holding any shard lock.
func (m *shardedMap[V]) sweepNext(skip *shard[V], dead func(V) bool) {
	s := &m.shards[m.cursor.Add(1)%shardCount]
	if s == skip {
		return
	}
	s.mu.Lock()
	s.sweepLocked(dead)
	s.mu.Unlock()
}
