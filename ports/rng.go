package ports

import (
	"context"
	"math/rand"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// SeededStream creates a deterministic random number generator for a named operation
	SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error)

	// IterationStream creates the generator for one resampling iteration.
	// The stream depends only on (name, iteration, attempt, baseSeed), never
	// on the order iterations are scheduled in.
	IterationStream(ctx context.Context, name string, iteration, attempt int, baseSeed int64) (*rand.Rand, error)
}
