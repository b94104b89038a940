package rng

import (
	"context"
	"math/rand"
)

// SeededAdapter implements ports.RNGPort with streams derived purely from
// their inputs, so the same (name, iteration, attempt, seed) always yields
// the same sequence.
type SeededAdapter struct{}

// NewSeededAdapter creates the default RNG adapter.
func NewSeededAdapter() *SeededAdapter {
	return &SeededAdapter{}
}

// SeededStream creates a deterministic random number generator for a named operation
func (r *SeededAdapter) SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rand.New(rand.NewSource(int64(mix(uint64(seed), hashString(name))))), nil
}

// IterationStream creates the generator for one resampling iteration.
func (r *SeededAdapter) IterationStream(ctx context.Context, name string, iteration, attempt int, baseSeed int64) (*rand.Rand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := mix(uint64(baseSeed), hashString(name))
	s = mix(s, uint64(iteration))
	s = mix(s, uint64(attempt))
	return rand.New(rand.NewSource(int64(s))), nil
}

// hashString is FNV-1a over the bytes of s.
func hashString(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// mix folds v into seed with the splitmix64 finalizer so nearby iteration
// numbers give unrelated streams.
func mix(seed, v uint64) uint64 {
	z := seed + 0x9e3779b97f4a7c15 + v*0xbf58476d1ce4e5b9
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
