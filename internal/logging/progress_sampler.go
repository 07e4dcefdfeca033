package logging

import "sync"

// ProgressSampler suppresses repetitive per-file progress logs while still
// emitting when a file crosses a percentage bucket. It is safe for concurrent
// use because optimize-all reports progress for several files at once.
type ProgressSampler struct {
	mu         sync.Mutex
	bucketSize float64
	last       map[string]int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 10%).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, last: make(map[string]int)}
}

// ShouldLog reports whether a progress event for key should be logged. The
// first report for a key always logs; negative percent means unknown and
// never logs.
func (s *ProgressSampler) ShouldLog(key string, percent float64) bool {
	if s == nil {
		return true
	}
	if percent < 0 {
		return false
	}
	bucket := int(percent / s.bucketSize)
	if percent >= 100 {
		bucket = int(100 / s.bucketSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, seen := s.last[key]
	if seen && bucket <= prev {
		return false
	}
	s.last[key] = bucket
	return true
}

// Forget clears the state for key (e.g. when a new optimize run starts).
func (s *ProgressSampler) Forget(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.last, key)
	s.mu.Unlock()
}
