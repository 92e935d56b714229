package history

import (
	"context"
	"sync"
	"time"

	"fleetwatch/internal/alerts"
	"fleetwatch/internal/fleet"
)

// MemoryStore keeps history in process memory, pruned by retention. It is the
// default backend for single-node deployments and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	retention   time.Duration
	samples     []HostSample
	transitions []Transition
	now         func() time.Time
}

// NewMemoryStore creates an in-memory store. retention 0 means keep forever.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		retention: retention,
		now:       time.Now,
	}
}

// SaveSnapshot appends one sample per host and prunes expired entries.
func (s *MemoryStore) SaveSnapshot(_ context.Context, snap *fleet.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, SamplesFromSnapshot(snap)...)
	s.prune()
	return nil
}

// SaveEvents appends alert transitions.
func (s *MemoryStore) SaveEvents(_ context.Context, events []alerts.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transitions = append(s.transitions, TransitionsFromEvents(events)...)
	s.prune()
	return nil
}

// HostSamples returns one host's samples since a point in time, oldest first.
func (s *MemoryStore) HostSamples(_ context.Context, host string, since time.Time) ([]HostSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []HostSample
	for _, sample := range s.samples {
		if sample.Host == host && !sample.Timestamp.Before(since) {
			out = append(out, sample)
		}
	}
	return out, nil
}

// RecentTransitions returns the newest transitions, newest first.
func (s *MemoryStore) RecentTransitions(_ context.Context, host string, limit int) ([]Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Transition
	for i := len(s.transitions) - 1; i >= 0; i-- {
		tr := s.transitions[i]
		if host != "" && tr.Host != host {
			continue
		}
		out = append(out, tr)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op for the memory backend.
func (s *MemoryStore) Close(context.Context) error {
	return nil
}

// prune drops entries older than the retention window. Caller holds the lock.
func (s *MemoryStore) prune() {
	if s.retention <= 0 {
		return
	}
	cutoff := s.now().Add(-s.retention)

	firstKept := 0
	for firstKept < len(s.samples) && s.samples[firstKept].Timestamp.Before(cutoff) {
		firstKept++
	}
	if firstKept > 0 {
		s.samples = append([]HostSample(nil), s.samples[firstKept:]...)
	}

	firstKept = 0
	for firstKept < len(s.transitions) && s.transitions[firstKept].At.Before(cutoff) {
		firstKept++
	}
	if firstKept > 0 {
		s.transitions = append([]Transition(nil), s.transitions[firstKept:]...)
	}
}

var _ Store = (*MemoryStore)(nil)
