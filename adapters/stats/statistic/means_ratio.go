package statistic

import (
	"math"

	"gopade/domain/design"
	"gopade/domain/matrix"
	"gopade/domain/stats"

	mstats "github.com/montanaflynn/stats"
)

// MeansRatio is the ratio of the baseline level mean to the other level
// mean. With blocks, per-block ratios are combined by geometric mean.
type MeansRatio struct {
	alpha     float64
	symmetric bool
}

// NewMeansRatio creates a means-ratio statistic. alpha is added to both
// means. When symmetric is set, a ratio r below one is reported as 1/r so
// that up and down changes of the same fold are equally extreme.
func NewMeansRatio(alpha float64, symmetric bool) *MeansRatio {
	return &MeansRatio{alpha: alpha, symmetric: symmetric}
}

func (s *MeansRatio) Kind() stats.Kind { return stats.KindMeansRatio }
func (s *MeansRatio) Name() string     { return "means ratio" }

func (s *MeansRatio) Description() string {
	return "Fold change between the two condition level means, geometric mean across blocks"
}

func (s *MeansRatio) Requirements() design.Requirements {
	return design.Requirements{MinPerCell: 1, Levels: 2, MinLevels: 2, MinBlocks: 1}
}

// Compute evaluates the ratio for every feature.
func (s *MeansRatio) Compute(m *matrix.Matrix, g *design.Grouping, labels design.Labeling) *stats.Vector {
	out := stats.NewVector(m.NumFeatures())
	if g.NumLevels() != 2 {
		for f := 0; f < out.Len(); f++ {
			out.Invalidate(f, stats.ReasonInsufficientData)
		}
		return out
	}
	cells := g.Cells(labels)
	ratios := make([]float64, len(cells))

	for f := 0; f < out.Len(); f++ {
		row := m.Row(f)
		reason := stats.ReasonNone
		for b, blk := range cells {
			if len(blk[0]) == 0 || len(blk[1]) == 0 {
				reason = stats.ReasonInsufficientData
				break
			}
			if !finite(row, blk[0]) || !finite(row, blk[1]) {
				reason = stats.ReasonNonFinite
				break
			}
			base := groupMean(row, blk[0]) + s.alpha
			other := groupMean(row, blk[1]) + s.alpha
			if base <= 0 || other <= 0 {
				reason = stats.ReasonNonPositiveDenominator
				break
			}
			ratios[b] = base / other
		}
		if reason != stats.ReasonNone {
			out.Invalidate(f, reason)
			continue
		}

		r := ratios[0]
		if len(ratios) > 1 {
			gm, err := mstats.GeometricMean(ratios)
			if err != nil {
				out.Invalidate(f, stats.ReasonNonPositiveDenominator)
				continue
			}
			r = gm
		}
		if s.symmetric && r < 1 {
			r = 1 / r
		}
		out.Set(f, r, stats.ReasonNonPositiveDenominator)
	}
	return out
}

// Magnitude is the ratio itself when symmetric, otherwise the absolute
// log ratio so that both directions count.
func (s *MeansRatio) Magnitude(value float64) float64 {
	if s.symmetric {
		return value
	}
	return math.Abs(math.Log(value))
}

// NominalPValue is undefined for a ratio of means.
func (s *MeansRatio) NominalPValue(float64, *design.Grouping) float64 { return math.NaN() }
