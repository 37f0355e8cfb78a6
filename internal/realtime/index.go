package realtime

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// index maps a key (room id or user id) to the set of connections under it.
// Keys are spread over shards so unrelated rooms never share a lock.
type index struct {
	shards [shardCount]shard
}

type shard struct {
	mu sync.RWMutex
	m  map[string]map[*Conn]struct{}
}

func newIndex() *index {
	ix := &index{}
	for i := range ix.shards {
		ix.shards[i].m = make(map[string]map[*Conn]struct{})
	}
	return ix
}

func (ix *index) shard(key string) *shard {
	return &ix.shards[xxhash.Sum64String(key)%shardCount]
}

// add inserts c under key and returns the set size afterwards.
func (ix *index) add(key string, c *Conn) int {
	s := ix.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.m[key]
	if set == nil {
		set = make(map[*Conn]struct{})
		s.m[key] = set
	}
	set[c] = struct{}{}
	return len(set)
}

// remove deletes c from key. It returns the remaining set size and whether c
// was present.
func (ix *index) remove(key string, c *Conn) (int, bool) {
	s := ix.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.m[key]
	if set == nil {
		return 0, false
	}
	if _, ok := set[c]; !ok {
		return len(set), false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(s.m, key)
		return 0, true
	}
	return len(set), true
}

// snapshot copies the connections under key. Callers send outside the lock.
func (ix *index) snapshot(key string) []*Conn {
	s := ix.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.m[key]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func (ix *index) count(key string) int {
	s := ix.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m[key])
}

func (ix *index) keys() int {
	n := 0
	for i := range ix.shards {
		s := &ix.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

func (ix *index) all() []*Conn {
	var out []*Conn
	for i := range ix.shards {
		s := &ix.shards[i]
		s.mu.RLock()
		for _, set := range s.m {
			for c := range set {
				out = append(out, c)
			}
		}
		s.mu.RUnlock()
	}
	return out
}
