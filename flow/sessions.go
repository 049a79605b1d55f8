package flow

import (
	"hash/fnv"
	"sync"
)

const sessionShards = 64

// Sessions tracks the per-identity conversation sessions in memory.
// Unknown identities are idle; state is lost on restart, which only costs a
// user an in-progress prompt, never persisted data.
//
// The map is sharded by identity hash so that concurrent dispatch for
// distinct users does not contend on a single lock. Dispatch for a single
// identity is already linearized upstream (per-sender queues), so the
// tracker only needs shard-level consistency.
type Sessions struct {
	shards [sessionShards]sessionShard
}

type sessionShard struct {
	mu sync.RWMutex
	m  map[string]Session
}

// NewSessions creates an empty tracker.
func NewSessions() *Sessions {
	s := &Sessions{}
	for i := range s.shards {
		s.shards[i].m = make(map[string]Session)
	}
	return s
}

func (s *Sessions) shard(identity string) *sessionShard {
	h := fnv.New32a()
	h.Write([]byte(identity))
	return &s.shards[h.Sum32()%sessionShards]
}

// Get returns the session for identity, idle if never set.
func (s *Sessions) Get(identity string) Session {
	sh := s.shard(identity)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.m[identity]
}

// Set overwrites the session for identity. Setting an idle session removes
// the entry, keeping the maps bounded by the number of users mid-flow.
func (s *Sessions) Set(identity string, sess Session) {
	sh := s.shard(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sess.Idle() {
		delete(sh.m, identity)
		return
	}
	sh.m[identity] = sess
}

// Clear resets identity to idle.
func (s *Sessions) Clear(identity string) {
	s.Set(identity, Session{})
}

// Len returns the number of identities currently mid-flow.
func (s *Sessions) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		n += len(s.shards[i].m)
		s.shards[i].mu.RUnlock()
	}
	return n
}
