// Package stats holds the running meters the worker reports per epoch.
package stats

import "sync"

// AverageMeter tracks a weighted running average.
type AverageMeter struct {
	mu    sync.Mutex
	sum   float64
	count float64
	last  float64
}

// Update folds in a value with the given weight (typically a batch size).
func (m *AverageMeter) Update(val float64, weight float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = val
	m.sum += val * weight
	m.count += weight
}

// Avg returns the weighted average of all updates since the last Reset.
func (m *AverageMeter) Avg() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		return 0
	}
	return m.sum / m.count
}

// Last returns the most recent value.
func (m *AverageMeter) Last() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Reset clears the meter for a new epoch.
func (m *AverageMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sum, m.count, m.last = 0, 0, 0
}

// StatValue keeps the latest value per epoch with history across epochs.
type StatValue struct {
	mu      sync.Mutex
	current float64
	set     bool
	history []float64
}

// Update records the latest value for the current epoch.
func (s *StatValue) Update(val float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = val
	s.set = true
}

// NewEpoch pushes the current value into history and starts fresh.
func (s *StatValue) NewEpoch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		s.history = append(s.history, s.current)
	}
	s.current = 0
	s.set = false
}

// History returns a copy of the per-epoch values recorded so far.
func (s *StatValue) History() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.history))
	copy(out, s.history)
	return out
}
