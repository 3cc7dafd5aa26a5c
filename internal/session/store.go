// Package session holds the ephemeral per-thread checkpoint layer. A
// checkpoint is a performance optimization only: it may be evicted at any
// time, and the orchestrator reconstructs context from the persistent turn
// log when it is gone.
package session

import (
	"sync"
	"time"

	"github.com/kalambet/campa/internal/intent"
	"github.com/kalambet/campa/internal/llm"
	"github.com/kalambet/campa/internal/retrieval"
)

const (
	defaultTTL      = 30 * time.Minute
	defaultCapacity = 1024
)

// Checkpoint is the latest materialized workflow state for one thread.
// Exactly one exists per active thread; Put overwrites. Recent carries the
// thread's conversational context so a checkpoint hit skips the turn log.
type Checkpoint struct {
	ThreadID   string
	Analysis   intent.Analysis
	Bundle     retrieval.Bundle
	Recent     []llm.Message
	LastStage  string
	LastTurnID int64
	UpdatedAt  time.Time
}

type entry struct {
	cp        Checkpoint
	updatedAt time.Time
}

// Store is an in-process checkpoint cache bounded by TTL and capacity.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*entry
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// NewStore creates a Store. Pass 0 for ttl or capacity to use the defaults
// (30 minutes, 1024 threads).
func NewStore(ttl time.Duration, capacity int) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Store{
		entries:  make(map[string]*entry),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// Get returns the checkpoint for the thread, if present and not expired.
// A miss is not an error; callers fall back to the persistent log.
func (s *Store) Get(threadID string) (Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[threadID]
	if !ok {
		return Checkpoint{}, false
	}
	if s.now().Sub(e.updatedAt) > s.ttl {
		delete(s.entries, threadID)
		return Checkpoint{}, false
	}
	return e.cp, true
}

// Put stores the checkpoint, overwriting any previous one for the thread.
// When the store is at capacity the stalest checkpoint is evicted first.
func (s *Store) Put(threadID string, cp Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cp.ThreadID = threadID
	cp.UpdatedAt = now

	if _, exists := s.entries[threadID]; !exists && len(s.entries) >= s.capacity {
		s.evictStalest()
	}
	s.entries[threadID] = &entry{cp: cp, updatedAt: now}
}

// Drop removes the thread's checkpoint, if any.
func (s *Store) Drop(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, threadID)
}

// Len returns the number of live checkpoints (including not-yet-swept
// expired ones).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictStalest removes the least recently updated entry. Caller holds mu.
func (s *Store) evictStalest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range s.entries {
		if first || e.updatedAt.Before(oldest) {
			oldestKey, oldest = k, e.updatedAt
			first = false
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}
