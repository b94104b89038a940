package statistic

import (
	"fmt"
	"math"

	"gopade/domain/core"
	"gopade/domain/design"
	"gopade/domain/matrix"
	"gopade/domain/stats"
)

// Statistic computes one value per feature from a matrix and a labeling.
// Implementations are pure: they read the matrix and grouping, never
// mutate them, and depend only on which samples carry which level.
type Statistic interface {
	Kind() stats.Kind
	Name() string
	Description() string

	// Requirements is the design structure the statistic needs.
	Requirements() design.Requirements

	// Compute evaluates every feature under labels. Features that cannot
	// be computed are invalidated in the returned vector.
	Compute(m *matrix.Matrix, g *design.Grouping, labels design.Labeling) *stats.Vector

	// Magnitude maps a value to how extreme it is; larger is more extreme.
	Magnitude(value float64) float64

	// NominalPValue is the parametric tail probability of an observed
	// value, or NaN when the statistic has no reference distribution.
	NominalPValue(value float64, g *design.Grouping) float64
}

// Options tune the statistics.
type Options struct {
	Family    stats.Family
	Alpha     float64
	Symmetric bool
}

// New returns the statistic for kind.
func New(kind stats.Kind, opts Options) (Statistic, error) {
	switch kind {
	case stats.KindFTest:
		return NewFTest(opts.Alpha), nil
	case stats.KindOneSampleTTest:
		return NewOneSampleTTest(opts.Alpha), nil
	case stats.KindMeansRatio:
		return NewMeansRatio(opts.Alpha, opts.Symmetric), nil
	case stats.KindGLM:
		return NewGLM(opts.Family)
	}
	return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedKind, kind)
}

// zeroTolerance is the relative size below which a sum of squares is
// treated as exactly zero.
const zeroTolerance = 1e-24

func nearZero(ss, scale float64) bool {
	return ss <= zeroTolerance*scale
}

func finite(row []float64, samples []int) bool {
	for _, s := range samples {
		if math.IsNaN(row[s]) || math.IsInf(row[s], 0) {
			return false
		}
	}
	return true
}
