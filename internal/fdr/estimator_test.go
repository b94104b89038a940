package fdr

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"gopade/domain/stats"
	"gopade/internal/null"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity(v float64) float64 { return v }

func vector(values ...float64) *stats.Vector {
	v := stats.NewVector(len(values))
	for i, x := range values {
		v.Set(i, x, stats.ReasonZeroVariance)
	}
	return v
}

func pooled(t *testing.T, iterations ...[]float64) *null.Full {
	t.Helper()
	acc := null.NewFull(identity)
	for i, values := range iterations {
		require.NoError(t, acc.Add(i, vector(values...)))
	}
	require.NoError(t, acc.Finalize())
	return acc
}

func defaultGrid(t *testing.T) stats.ConfidenceGrid {
	grid, err := stats.NewConfidenceGrid(nil)
	require.NoError(t, err)
	return grid
}

func TestEstimate_HandComputed(t *testing.T) {
	e := NewEstimator(defaultGrid(t))
	results, err := e.Estimate(vector(5, 4, 3, 1), identity, pooled(t, []float64{4.5, 2, 0.5, 0.1}), []string{"a", "b", "c", "d"})
	require.NoError(t, err)

	wantQ := []float64{0, 1.0 / 3, 1.0 / 3, 0.5}
	for i, r := range results {
		assert.True(t, r.Valid)
		assert.InDelta(t, wantQ[i], r.QValue, 1e-12, "feature %s", r.FeatureID)
		assert.InDelta(t, 1-wantQ[i], r.Confidence, 1e-12)
	}
	assert.Equal(t, 7, results[0].Bin)
	assert.Equal(t, 0.99, results[0].Level)
	assert.Equal(t, 1, results[1].Bin)
	assert.Equal(t, 1, results[3].Bin)
	assert.Equal(t, "c", results[2].FeatureID)
}

func TestEstimate_NullDividedByIterations(t *testing.T) {
	e := NewEstimator(defaultGrid(t))
	null := pooled(t, []float64{10, 0}, []float64{0, 0})
	results, err := e.Estimate(vector(10, 0), identity, null, nil)
	require.NoError(t, err)

	// One null value >= 10 over two iterations: 0.5 expected false calls.
	assert.InDelta(t, 0.5, results[0].QValue, 1e-12)
	// Everything is >= 0: (4 / 2) / 2 = 1.
	assert.InDelta(t, 1, results[1].QValue, 1e-12)
}

func TestEstimate_CapsAtOne(t *testing.T) {
	e := NewEstimator(defaultGrid(t))
	results, err := e.Estimate(vector(1), identity, pooled(t, []float64{5, 6, 7}), nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, results[0].QValue)
	assert.Equal(t, 0, results[0].Bin)
}

func TestEstimate_InvalidIsNoResult(t *testing.T) {
	obs := vector(3, math.NaN(), 2)
	obs.Invalidate(2, stats.ReasonNonConvergent)

	e := NewEstimator(defaultGrid(t))
	results, err := e.Estimate(obs, identity, pooled(t, []float64{0, 0, 0}), nil)
	require.NoError(t, err)

	assert.True(t, results[0].Valid)
	assert.Equal(t, 0.0, results[0].QValue, "invalid features do not count toward obs_exceed")
	for _, f := range []int{1, 2} {
		assert.False(t, results[f].Valid)
		assert.Equal(t, stats.NoResult, results[f].Bin)
		assert.True(t, math.IsNaN(results[f].QValue))
	}
	assert.Equal(t, stats.ReasonZeroVariance, results[1].Reason)
	assert.Equal(t, stats.ReasonNonConvergent, results[2].Reason)

	counts := e.LevelCounts(results)
	require.Len(t, counts, len(stats.DefaultConfidenceLevels))
	for _, c := range counts {
		assert.Equal(t, 1, c.Count, "level %v", c.Level)
	}
}

func TestEstimate_TiesShareQValue(t *testing.T) {
	e := NewEstimator(defaultGrid(t))
	results, err := e.Estimate(vector(2, 5, 2, 2), identity, pooled(t, []float64{2, 1, 1, 1}), nil)
	require.NoError(t, err)
	assert.Equal(t, results[0].QValue, results[2].QValue)
	assert.Equal(t, results[0].QValue, results[3].QValue)
	assert.InDelta(t, 0.25, results[0].QValue, 1e-12)
	assert.Equal(t, 0.0, results[1].QValue)
}

func TestEstimate_UsesMagnitude(t *testing.T) {
	e := NewEstimator(defaultGrid(t))
	abs := func(v float64) float64 { return math.Abs(v) }
	acc := null.NewFull(abs)
	require.NoError(t, acc.Add(0, vector(0.1, -0.2, 0.3)))
	require.NoError(t, acc.Finalize())

	results, err := e.Estimate(vector(-9, 0.05, 9), abs, acc, nil)
	require.NoError(t, err)
	assert.Equal(t, 9.0, results[0].Magnitude)
	assert.Equal(t, -9.0, results[0].Statistic)
	assert.Equal(t, results[0].QValue, results[2].QValue)
}

func TestEstimate_MonotoneQValues(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	const features, iterations = 300, 40
	obs := make([]float64, features)
	for f := range obs {
		obs[f] = math.Abs(r.NormFloat64())
		if f < 30 {
			obs[f] += 3
		}
	}
	nulls := make([][]float64, iterations)
	for i := range nulls {
		nulls[i] = make([]float64, features)
		for f := range nulls[i] {
			nulls[i][f] = math.Abs(r.NormFloat64())
		}
	}

	e := NewEstimator(defaultGrid(t))
	results, err := e.Estimate(vector(obs...), identity, pooled(t, nulls...), nil)
	require.NoError(t, err)

	sort.SliceStable(results, func(a, b int) bool { return results[a].Magnitude > results[b].Magnitude })
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i].QValue, results[i-1].QValue, "q must not improve as the threshold relaxes")
		assert.GreaterOrEqual(t, results[i-1].Bin, results[i].Bin)
	}
}

func TestEstimate_EmptyNull(t *testing.T) {
	acc := null.NewFull(identity)
	require.NoError(t, acc.Finalize())
	_, err := NewEstimator(defaultGrid(t)).Estimate(vector(1), identity, acc, nil)
	assert.Error(t, err)
}
