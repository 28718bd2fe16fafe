// Package rng provides the injectable random source shared by the simulators.
package rng

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Source is the subset of *rand.Rand used by the simulators.
type Source interface {
	Float64() float64
	NormFloat64() float64
	IntN(n int) int
}

// Locked is a Source safe for concurrent use.
type Locked struct {
	mu sync.Mutex
	r  *rand.Rand
}

// New returns a Locked source seeded with seed. A zero seed picks one from the clock.
func New(seed uint64) *Locked {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Locked{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *Locked) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *Locked) NormFloat64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.NormFloat64()
}

func (l *Locked) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// Uniform returns a value in [lo, hi).
func Uniform(src Source, lo, hi float64) float64 {
	return lo + (hi-lo)*src.Float64()
}

// Gauss returns a normal sample with mean 0 and the given standard deviation.
func Gauss(src Source, sigma float64) float64 {
	return src.NormFloat64() * sigma
}

// IntRange returns an integer in [lo, hi] inclusive.
func IntRange(src Source, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + src.IntN(hi-lo+1)
}
