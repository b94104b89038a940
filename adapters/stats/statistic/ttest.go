package statistic

import (
	"math"

	"gopade/domain/design"
	"gopade/domain/matrix"
	"gopade/domain/stats"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// OneSampleTTest tests whether the within-pair difference (second level
// minus baseline) has mean zero. Each block is one pair.
type OneSampleTTest struct {
	alpha float64
}

// NewOneSampleTTest creates a paired t-test. alpha is added to the
// standard error.
func NewOneSampleTTest(alpha float64) *OneSampleTTest {
	return &OneSampleTTest{alpha: alpha}
}

func (s *OneSampleTTest) Kind() stats.Kind { return stats.KindOneSampleTTest }
func (s *OneSampleTTest) Name() string     { return "one-sample t-test" }

func (s *OneSampleTTest) Description() string {
	return "Student t on per-block paired differences between the two condition levels"
}

func (s *OneSampleTTest) Requirements() design.Requirements {
	return design.Requirements{Paired: true, Levels: 2, MinLevels: 2, MinBlocks: 2}
}

// Compute evaluates t for every feature.
func (s *OneSampleTTest) Compute(m *matrix.Matrix, g *design.Grouping, labels design.Labeling) *stats.Vector {
	out := stats.NewVector(m.NumFeatures())
	pairs := pairsOf(g, labels)
	if pairs == nil {
		for f := 0; f < out.Len(); f++ {
			out.Invalidate(f, stats.ReasonInsufficientData)
		}
		return out
	}

	diffs := make([]float64, len(pairs))
	sqrtN := math.Sqrt(float64(len(pairs)))
	for f := 0; f < out.Len(); f++ {
		row := m.Row(f)
		scale := 0.0
		ok := true
		for i, p := range pairs {
			d := row[p[1]] - row[p[0]]
			if math.IsNaN(d) || math.IsInf(d, 0) {
				ok = false
				break
			}
			diffs[i] = d
			scale += d * d
		}
		if !ok {
			out.Invalidate(f, stats.ReasonNonFinite)
			continue
		}

		mean, sd := stat.MeanStdDev(diffs, nil)
		ss := sd * sd * float64(len(diffs)-1)
		if nearZero(ss, scale) {
			out.Invalidate(f, stats.ReasonZeroVariance)
			continue
		}
		out.Set(f, mean/(sd/sqrtN+s.alpha), stats.ReasonZeroVariance)
	}
	return out
}

// Magnitude is |t|; both tails are extreme.
func (s *OneSampleTTest) Magnitude(value float64) float64 { return math.Abs(value) }

// NominalPValue is the two-sided tail of Student t with pairs-1 degrees
// of freedom.
func (s *OneSampleTTest) NominalPValue(value float64, g *design.Grouping) float64 {
	df := float64(len(g.Blocks) - 1)
	if df <= 0 || math.IsNaN(value) {
		return math.NaN()
	}
	if math.IsInf(value, 0) {
		return 0
	}
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * t.Survival(math.Abs(value))
}

// pairsOf returns, per block, the sample carrying level 0 and the sample
// carrying level 1 under labels, or nil if any block is not a pair.
func pairsOf(g *design.Grouping, labels design.Labeling) [][2]int {
	if g.NumLevels() != 2 {
		return nil
	}
	pairs := make([][2]int, 0, len(g.Blocks))
	for _, cells := range g.Cells(labels) {
		if len(cells[0]) != 1 || len(cells[1]) != 1 {
			return nil
		}
		pairs = append(pairs, [2]int{cells[0][0], cells[1][0]})
	}
	if len(pairs) < 2 {
		return nil
	}
	return pairs
}
