package statistic

import (
	"math"

	"gopade/domain/design"
	"gopade/domain/matrix"
	"gopade/domain/stats"

	"gonum.org/v1/gonum/stat/distuv"
)

// FTest compares the full model (block x condition cell means) with the
// reduced model (block means). With no block factor the reduced model is
// the grand mean and this is one-way ANOVA.
type FTest struct {
	alpha float64
}

// NewFTest creates an F-test. alpha is added to the denominator.
func NewFTest(alpha float64) *FTest {
	return &FTest{alpha: alpha}
}

func (s *FTest) Kind() stats.Kind { return stats.KindFTest }
func (s *FTest) Name() string     { return "F-test" }

func (s *FTest) Description() string {
	return "Ratio of between-condition to pooled within-cell variance, blocks absorbed by the reduced model"
}

func (s *FTest) Requirements() design.Requirements {
	return design.Requirements{MinPerCell: 2, MinLevels: 2, MinBlocks: 1}
}

// Compute evaluates the F statistic for every feature.
func (s *FTest) Compute(m *matrix.Matrix, g *design.Grouping, labels design.Labeling) *stats.Vector {
	full := FullLayout(g, labels)
	reduced := ReducedLayout(g)
	n := reduced.Size()
	pFull, pRed := len(full), len(reduced)
	out := stats.NewVector(m.NumFeatures())

	if pFull <= pRed || n <= pFull {
		for f := 0; f < out.Len(); f++ {
			out.Invalidate(f, stats.ReasonInsufficientData)
		}
		return out
	}
	dfNum := float64(pFull - pRed)
	dfDen := float64(n - pFull)
	included := flatten(reduced)

	for f := 0; f < out.Len(); f++ {
		row := m.Row(f)
		if !finite(row, included) {
			out.Invalidate(f, stats.ReasonNonFinite)
			continue
		}
		scale := reduced.SumSquares(row)
		rssFull := full.RSS(row)
		rssRed := reduced.RSS(row)
		between := rssRed - rssFull
		if between < 0 || nearZero(between, scale) {
			between = 0
		}
		within := rssFull
		if nearZero(within, scale) {
			within = 0
		}

		numer := between / dfNum
		denom := within/dfDen + s.alpha
		switch {
		case denom == 0 && numer == 0:
			out.Invalidate(f, stats.ReasonZeroVariance)
		case denom == 0:
			out.Set(f, math.Inf(1), stats.ReasonNone)
		default:
			out.Set(f, numer/denom, stats.ReasonZeroVariance)
		}
	}
	return out
}

// Magnitude is the F value itself; only the upper tail is extreme.
func (s *FTest) Magnitude(value float64) float64 { return value }

// NominalPValue is the upper tail of F(pFull-pRed, n-pFull).
func (s *FTest) NominalPValue(value float64, g *design.Grouping) float64 {
	full := FullLayout(g, g.Labels)
	n := g.NumIncluded()
	d1 := float64(len(full) - len(g.Blocks))
	d2 := float64(n - len(full))
	if d1 <= 0 || d2 <= 0 || math.IsNaN(value) {
		return math.NaN()
	}
	if math.IsInf(value, 1) {
		return 0
	}
	return distuv.F{D1: d1, D2: d2}.Survival(value)
}

func flatten(l Layout) []int {
	out := make([]int, 0, l.Size())
	for _, grp := range l {
		out = append(out, grp...)
	}
	return out
}
