package statistic

import (
	"gopade/domain/design"
	"gopade/domain/matrix"

	"github.com/montanaflynn/stats"
)

// Layout is a grouping of sample indexes, one slice per group.
type Layout [][]int

// FullLayout groups included samples by (block, level) cell, skipping
// empty cells.
func FullLayout(g *design.Grouping, labels design.Labeling) Layout {
	var out Layout
	for _, block := range g.Cells(labels) {
		for _, cell := range block {
			if len(cell) > 0 {
				out = append(out, cell)
			}
		}
	}
	return out
}

// ReducedLayout groups included samples by block only.
func ReducedLayout(g *design.Grouping) Layout {
	out := make(Layout, 0, len(g.Blocks))
	for _, b := range g.Blocks {
		out = append(out, b.Samples)
	}
	return out
}

// Size is the number of samples in the layout.
func (l Layout) Size() int {
	n := 0
	for _, grp := range l {
		n += len(grp)
	}
	return n
}

// RSS is the residual sum of squares of row around its group means.
func (l Layout) RSS(row []float64) float64 {
	total := 0.0
	for _, grp := range l {
		sum := 0.0
		for _, s := range grp {
			sum += row[s]
		}
		mean := sum / float64(len(grp))
		for _, s := range grp {
			d := row[s] - mean
			total += d * d
		}
	}
	return total
}

// SumSquares is the plain sum of squared values, used as a scale for
// zero tests.
func (l Layout) SumSquares(row []float64) float64 {
	total := 0.0
	for _, grp := range l {
		for _, s := range grp {
			total += row[s] * row[s]
		}
	}
	return total
}

func groupMean(row []float64, grp []int) float64 {
	if len(grp) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range grp {
		sum += row[s]
	}
	return sum / float64(len(grp))
}

// GroupMeans returns, per feature, the mean of each condition level under
// the true labeling. A level with no included samples yields 0.
func GroupMeans(m *matrix.Matrix, g *design.Grouping) [][]float64 {
	groups := g.LevelGroups(g.Labels)
	out := make([][]float64, m.NumFeatures())
	buf := make([]float64, 0, m.NumSamples())
	for f := range out {
		row := m.Row(f)
		means := make([]float64, len(groups))
		for lvl, grp := range groups {
			buf = buf[:0]
			for _, s := range grp {
				buf = append(buf, row[s])
			}
			if mean, err := stats.Mean(buf); err == nil {
				means[lvl] = mean
			}
		}
		out[f] = means
	}
	return out
}

// Residuals splits the data into the null-model prediction (block means)
// and the full-model residuals (value minus its cell mean) under the true
// labeling. Adding resampled residuals back onto the prediction yields
// data with block effects intact and no condition effect.
func Residuals(m *matrix.Matrix, g *design.Grouping) (fitted [][]float64, residuals *matrix.Matrix) {
	cells := g.Cells(g.Labels)
	n := m.NumSamples()
	fitted = make([][]float64, m.NumFeatures())
	rows := make([][]float64, m.NumFeatures())
	for f := range rows {
		row := m.Row(f)
		fit := make([]float64, n)
		res := make([]float64, n)
		for b, blk := range g.Blocks {
			blockMean := groupMean(row, blk.Samples)
			for _, cell := range cells[b] {
				cellMean := groupMean(row, cell)
				for _, s := range cell {
					fit[s] = blockMean
					res[s] = row[s] - cellMean
				}
			}
		}
		fitted[f] = fit
		rows[f] = res
	}
	return fitted, &matrix.Matrix{FeatureIDs: m.FeatureIDs, SampleNames: m.SampleNames, Rows: rows}
}
