// Package entropy provides the seeded stochastic source behind every random
// term in the simulation: price volatility, acquisition quality, investment
// returns, and contract risk rolls. A single seed reproduces a full session.
package entropy

import (
	"math/rand"
	"sync"
)

// Source is a seeded pseudo-random source. Safe for use from the tick loop
// and the HTTP observation handlers.
type Source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource creates a source from a seed.
func NewSource(seed int64) *Source {
	return &Source{rng: rand.New(rand.NewSource(seed))}
}

// Float returns a random float64 in [0, 1).
func (s *Source) Float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Symmetric returns a random float64 in [-1, 1).
func (s *Source) Symmetric() float64 {
	return s.Float()*2 - 1
}

// Range returns a random float64 in [min, max).
func (s *Source) Range(min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + s.Float()*(max-min)
}

// Chance returns true with probability p.
func (s *Source) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return s.Float() < p
}

// Norm returns a normally distributed float64 with the given mean and
// standard deviation.
func (s *Source) Norm(mean, stddev float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.NormFloat64()*stddev + mean
}

// Intn returns a random int in [0, n). n must be positive.
func (s *Source) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}
