package rng

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draw(t *testing.T, a *SeededAdapter, iteration, attempt int, seed int64) []int {
	t.Helper()
	r, err := a.IterationStream(context.Background(), "permutation", iteration, attempt, seed)
	require.NoError(t, err)
	out := make([]int, 8)
	for i := range out {
		out[i] = r.Intn(1000)
	}
	return out
}

func TestIterationStream_Deterministic(t *testing.T) {
	a := NewSeededAdapter()
	assert.Equal(t, draw(t, a, 5, 0, 42), draw(t, a, 5, 0, 42))
}

func TestIterationStream_Distinct(t *testing.T) {
	a := NewSeededAdapter()
	base := draw(t, a, 5, 0, 42)
	assert.NotEqual(t, base, draw(t, a, 6, 0, 42), "iteration must change stream")
	assert.NotEqual(t, base, draw(t, a, 5, 1, 42), "attempt must change stream")
	assert.NotEqual(t, base, draw(t, a, 5, 0, 43), "seed must change stream")
}

func TestIterationStream_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSeededAdapter().IterationStream(ctx, "x", 0, 0, 1)
	assert.Error(t, err)
}
