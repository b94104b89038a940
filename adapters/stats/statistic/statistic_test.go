package statistic

import (
	"errors"
	"math"
	"testing"

	"gopade/domain/core"
	"gopade/domain/design"
	"gopade/domain/matrix"
	"gopade/domain/stats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// oneWay builds an unblocked grouping with the given per-level counts,
// samples laid out level by level.
func oneWay(counts ...int) *design.Grouping {
	g := &design.Grouping{Condition: "treatment", BlockFactors: nil}
	blk := design.Block{LevelCounts: append([]int(nil), counts...)}
	for lvl, c := range counts {
		g.Levels = append(g.Levels, string(rune('a'+lvl)))
		for i := 0; i < c; i++ {
			s := len(g.Labels)
			g.Labels = append(g.Labels, lvl)
			g.BlockOf = append(g.BlockOf, 0)
			blk.Samples = append(blk.Samples, s)
		}
	}
	g.Blocks = []design.Block{blk}
	return g
}

// paired builds a grouping of n pairs; sample 2i is level 0 and 2i+1 is
// level 1 of pair i.
func paired(n int) *design.Grouping {
	g := &design.Grouping{Condition: "treatment", Levels: []string{"a", "b"}, BlockFactors: []string{"subject"}, Paired: true}
	for i := 0; i < n; i++ {
		g.Blocks = append(g.Blocks, design.Block{
			Key:         []string{string(rune('p' + i))},
			Samples:     []int{2 * i, 2*i + 1},
			LevelCounts: []int{1, 1},
		})
		g.Labels = append(g.Labels, 0, 1)
		g.BlockOf = append(g.BlockOf, i, i)
	}
	return g
}

func mustMatrix(t *testing.T, rows ...[]float64) *matrix.Matrix {
	t.Helper()
	ids := make([]string, len(rows))
	names := make([]string, len(rows[0]))
	for i := range ids {
		ids[i] = string(rune('A' + i))
	}
	for i := range names {
		names[i] = "s" + string(rune('0'+i))
	}
	m, err := matrix.New(ids, names, rows)
	require.NoError(t, err)
	return m
}

func TestNew(t *testing.T) {
	for _, kind := range stats.Kinds {
		s, err := New(kind, Options{Family: stats.FamilyGaussian, Symmetric: true})
		require.NoError(t, err, kind)
		assert.Equal(t, kind, s.Kind())
		assert.NotEmpty(t, s.Name())
		assert.NotEmpty(t, s.Description())
	}

	_, err := New("wilcoxon", Options{})
	assert.True(t, errors.Is(err, core.ErrUnsupportedKind))

	_, err = New(stats.KindGLM, Options{Family: "gamma"})
	assert.True(t, errors.Is(err, core.ErrUnsupportedFamily))
}

func TestFTest_Compute(t *testing.T) {
	g := oneWay(3, 3)
	m := mustMatrix(t,
		[]float64{1, 2, 3, 4, 5, 6},
		[]float64{5, 5, 5, 5, 5, 5},
		[]float64{1, 1, 1, 2, 2, 2},
		[]float64{1, 2, 3, 3, 2, 1},
		[]float64{1, math.NaN(), 3, 4, 5, 6},
	)
	v := NewFTest(0).Compute(m, g, g.Labels)

	assert.InDelta(t, 13.5, v.Values[0], 1e-9)
	assert.False(t, v.Valid(1))
	assert.Equal(t, stats.ReasonZeroVariance, v.Reasons[1])
	assert.True(t, math.IsInf(v.Values[2], 1), "within-cell variance zero with separated means is infinitely extreme")
	assert.InDelta(t, 0, v.Values[3], 1e-12)
	assert.Equal(t, stats.ReasonNonFinite, v.Reasons[4])
}

func TestFTest_AlphaShrinksDenominator(t *testing.T) {
	g := oneWay(3, 3)
	m := mustMatrix(t, []float64{1, 1, 1, 2, 2, 2})
	v := NewFTest(0.5).Compute(m, g, g.Labels)

	require.True(t, v.Valid(0))
	// between = 1.5, within = 0, denominator = alpha
	assert.InDelta(t, 3.0, v.Values[0], 1e-9)
}

func TestFTest_BlocksAbsorbed(t *testing.T) {
	// Two blocks with a large block offset and an identical condition
	// effect; the block effect must not inflate the statistic.
	g := &design.Grouping{
		Condition: "treatment",
		Levels:    []string{"a", "b"},
		Blocks: []design.Block{
			{Key: []string{"x"}, Samples: []int{0, 1, 2, 3}, LevelCounts: []int{2, 2}},
			{Key: []string{"y"}, Samples: []int{4, 5, 6, 7}, LevelCounts: []int{2, 2}},
		},
		Labels:  design.Labeling{0, 0, 1, 1, 0, 0, 1, 1},
		BlockOf: []int{0, 0, 0, 0, 1, 1, 1, 1},
	}
	shifted := mustMatrix(t, []float64{1, 2, 3, 4, 101, 102, 103, 104})
	plain := mustMatrix(t, []float64{1, 2, 3, 4, 1, 2, 3, 4})

	a := NewFTest(0).Compute(shifted, g, g.Labels)
	b := NewFTest(0).Compute(plain, g, g.Labels)
	assert.InDelta(t, b.Values[0], a.Values[0], 1e-6)
}

func TestFTest_NominalPValue(t *testing.T) {
	g := oneWay(3, 3)
	s := NewFTest(0)
	p := s.NominalPValue(13.5, g)
	assert.Greater(t, p, 0.0)
	assert.Less(t, p, 0.05)
	assert.Equal(t, 0.0, s.NominalPValue(math.Inf(1), g))
	assert.True(t, math.IsNaN(s.NominalPValue(math.NaN(), g)))
}

func TestOneSampleTTest_Compute(t *testing.T) {
	g := paired(3)
	m := mustMatrix(t,
		[]float64{1, 2, 2, 4, 3, 6},
		[]float64{1, 2, 2, 3, 3, 4},
		[]float64{4, 3, 6, 4, 8, 5},
	)
	s := NewOneSampleTTest(0)
	v := s.Compute(m, g, g.Labels)

	assert.InDelta(t, 2*math.Sqrt(3), v.Values[0], 1e-9)
	assert.Equal(t, stats.ReasonZeroVariance, v.Reasons[1], "constant difference must be invalid")
	assert.Less(t, v.Values[2], 0.0)
	assert.Equal(t, math.Abs(v.Values[2]), s.Magnitude(v.Values[2]))

	// Swapping every pair flips the sign.
	swapped := design.Labeling{1, 0, 1, 0, 1, 0}
	w := s.Compute(m, g, swapped)
	assert.InDelta(t, -v.Values[0], w.Values[0], 1e-9)
}

func TestOneSampleTTest_NominalPValue(t *testing.T) {
	g := paired(3)
	s := NewOneSampleTTest(0)
	assert.InDelta(t, s.NominalPValue(2.5, g), s.NominalPValue(-2.5, g), 1e-12)
	assert.InDelta(t, 1.0, s.NominalPValue(0, g), 1e-12)
}

func TestMeansRatio_Compute(t *testing.T) {
	g := oneWay(2, 2)
	m := mustMatrix(t,
		[]float64{2, 2, 4, 4},
		[]float64{4, 4, 2, 2},
		[]float64{0, 0, 4, 4},
		[]float64{-1, -3, 4, 4},
	)

	sym := NewMeansRatio(0, true).Compute(m, g, g.Labels)
	assert.InDelta(t, 2.0, sym.Values[0], 1e-12)
	assert.InDelta(t, 2.0, sym.Values[1], 1e-12)
	assert.Equal(t, stats.ReasonNonPositiveDenominator, sym.Reasons[2])
	assert.Equal(t, stats.ReasonNonPositiveDenominator, sym.Reasons[3])

	s := NewMeansRatio(0, false)
	raw := s.Compute(m, g, g.Labels)
	assert.InDelta(t, 0.5, raw.Values[0], 1e-12)
	assert.InDelta(t, 2.0, raw.Values[1], 1e-12)
	assert.InDelta(t, s.Magnitude(raw.Values[0]), s.Magnitude(raw.Values[1]), 1e-12)
}

func TestMeansRatio_AlphaRescuesZeroMean(t *testing.T) {
	g := oneWay(2, 2)
	m := mustMatrix(t, []float64{0, 0, 4, 4})
	v := NewMeansRatio(1, true).Compute(m, g, g.Labels)
	require.True(t, v.Valid(0))
	assert.InDelta(t, 5.0, v.Values[0], 1e-12)
}

func TestMeansRatio_GeometricMeanAcrossBlocks(t *testing.T) {
	g := &design.Grouping{
		Levels: []string{"a", "b"},
		Blocks: []design.Block{
			{Key: []string{"x"}, Samples: []int{0, 1}, LevelCounts: []int{1, 1}},
			{Key: []string{"y"}, Samples: []int{2, 3}, LevelCounts: []int{1, 1}},
		},
		Labels:  design.Labeling{0, 1, 0, 1},
		BlockOf: []int{0, 0, 1, 1},
	}
	m := mustMatrix(t, []float64{8, 1, 2, 1})
	v := NewMeansRatio(0, false).Compute(m, g, g.Labels)
	assert.InDelta(t, 4.0, v.Values[0], 1e-9)
}

func TestGLM_GaussianMatchesDeviances(t *testing.T) {
	g := oneWay(3, 3)
	m := mustMatrix(t,
		[]float64{1, 2, 3, 4, 5, 6},
		[]float64{5, 5, 5, 5, 5, 5},
		[]float64{1, 1, 1, 2, 2, 2},
	)
	s, err := NewGLM(stats.FamilyGaussian)
	require.NoError(t, err)
	v := s.Compute(m, g, g.Labels)

	assert.InDelta(t, 6*math.Log(17.5/4), v.Values[0], 1e-6)
	assert.Equal(t, stats.ReasonZeroVariance, v.Reasons[1])
	assert.True(t, math.IsInf(v.Values[2], 1))

	p := s.NominalPValue(v.Values[0], g)
	assert.Greater(t, p, 0.0)
	assert.Less(t, p, 0.05)
}

func TestGLM_PoissonAndBinomial(t *testing.T) {
	g := oneWay(4, 4)
	m := mustMatrix(t,
		[]float64{1, 2, 1, 2, 9, 11, 10, 12},
		[]float64{3, 4, 3, 4, 4, 3, 4, 3},
		[]float64{1, 2, -1, 2, 9, 11, 10, 12},
	)

	pois, err := NewGLM(stats.FamilyPoisson)
	require.NoError(t, err)
	v := pois.Compute(m, g, g.Labels)
	require.True(t, v.Valid(0))
	assert.Greater(t, v.Values[0], 10.0)
	assert.InDelta(t, 0, v.Values[1], 1e-6)
	assert.Equal(t, stats.ReasonOutOfDomain, v.Reasons[2])

	bin, err := NewGLM(stats.FamilyBinomial)
	require.NoError(t, err)
	props := mustMatrix(t,
		[]float64{0.1, 0.2, 0.15, 0.1, 0.8, 0.7, 0.9, 0.85},
		[]float64{0.1, 0.2, 1.5, 0.1, 0.8, 0.7, 0.9, 0.85},
	)
	b := bin.Compute(props, g, g.Labels)
	require.True(t, b.Valid(0))
	assert.Greater(t, b.Values[0], 0.0)
	assert.Equal(t, stats.ReasonOutOfDomain, b.Reasons[1])
}

func TestGroupMeans(t *testing.T) {
	g := oneWay(2, 3)
	m := mustMatrix(t, []float64{1, 3, 10, 20, 30})
	means := GroupMeans(m, g)
	require.Len(t, means, 1)
	assert.Equal(t, []float64{2, 20}, means[0])
}

func TestResiduals(t *testing.T) {
	g := oneWay(2, 2)
	m := mustMatrix(t, []float64{1, 3, 10, 20})
	fitted, res := Residuals(m, g)

	assert.Equal(t, []float64{8.5, 8.5, 8.5, 8.5}, fitted[0])
	assert.Equal(t, []float64{-1, 1, -5, 5}, res.Rows[0])
}
