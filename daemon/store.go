package daemon

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Store is the in-process render cache and job table: two maps
// guarded by a reader/writer lock (reads — job polling, wait-loop,
// preview fetch — vastly outnumber writes), with monotonically
// increasing ids handed out via atomic counters.
type Store struct {
	mu      sync.RWMutex
	renders map[string]*RenderArtifact
	jobs    map[string]*Job

	renderSeq atomic.Uint64
	jobSeq    atomic.Uint64
}

func NewStore() *Store {
	return &Store{
		renders: make(map[string]*RenderArtifact),
		jobs:    make(map[string]*Job),
	}
}

// PutRender assigns a and stores it, returning the new "r_<n>" id.
func (s *Store) PutRender(a *RenderArtifact) string {
	id := fmt.Sprintf("r_%d", s.renderSeq.Add(1))
	a.ID = id
	a.CreatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.renders[id] = a
	return id
}

func (s *Store) GetRender(id string) (*RenderArtifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.renders[id]
	return a, ok
}

// PutJob assigns j a "j_<n>" id, stamps its timestamps, and stores
// it Queued.
func (s *Store) PutJob(j *Job) string {
	id := fmt.Sprintf("j_%d", s.jobSeq.Add(1))
	j.ID = id
	j.Status = JobQueued
	now := time.Now()
	j.CreatedAt = now
	j.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = j
	return id
}

func (s *Store) GetJob(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// UpdateJob applies fn to the stored job record under the write
// lock, stamping UpdatedAt. Returns false if id is unknown.
func (s *Store) UpdateJob(id string, fn func(*Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	fn(j)
	j.UpdatedAt = time.Now()
	return true
}
