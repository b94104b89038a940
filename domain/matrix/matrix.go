package matrix

import (
	"fmt"
	"math"

	"gopade/domain/core"
)

// Matrix is a feature-by-sample table of values. Row order is the stable
// feature order used by every output vector.
type Matrix struct {
	FeatureIDs  []string
	SampleNames []string
	Rows        [][]float64
}

// New builds a matrix and checks that every row has one value per sample.
func New(featureIDs, sampleNames []string, rows [][]float64) (*Matrix, error) {
	if len(featureIDs) != len(rows) {
		return nil, fmt.Errorf("%w: %d feature ids for %d rows", core.ErrDimensionMismatch, len(featureIDs), len(rows))
	}
	for i, row := range rows {
		if len(row) != len(sampleNames) {
			return nil, fmt.Errorf("%w: row %d (%s) has %d values, expected %d",
				core.ErrDimensionMismatch, i, featureIDs[i], len(row), len(sampleNames))
		}
	}
	return &Matrix{FeatureIDs: featureIDs, SampleNames: sampleNames, Rows: rows}, nil
}

// NumFeatures returns the number of rows.
func (m *Matrix) NumFeatures() int { return len(m.Rows) }

// NumSamples returns the number of columns.
func (m *Matrix) NumSamples() int { return len(m.SampleNames) }

// Row returns the values of one feature. Callers must not modify it.
func (m *Matrix) Row(f int) []float64 { return m.Rows[f] }

// Hash fingerprints the matrix contents.
func (m *Matrix) Hash() core.MatrixHash {
	return core.ComputeMatrixHash(m.FeatureIDs, m.SampleNames, m.Rows)
}

// Reorder returns a matrix whose columns follow sampleNames. It fails if a
// requested sample is absent.
func (m *Matrix) Reorder(sampleNames []string) (*Matrix, error) {
	pos := make(map[string]int, len(m.SampleNames))
	for i, s := range m.SampleNames {
		pos[s] = i
	}
	cols := make([]int, len(sampleNames))
	for j, s := range sampleNames {
		i, ok := pos[s]
		if !ok {
			return nil, fmt.Errorf("%w: sample %q not in matrix", core.ErrDimensionMismatch, s)
		}
		cols[j] = i
	}
	rows := make([][]float64, len(m.Rows))
	for f, row := range m.Rows {
		out := make([]float64, len(cols))
		for j, c := range cols {
			out[j] = row[c]
		}
		rows[f] = out
	}
	return &Matrix{FeatureIDs: m.FeatureIDs, SampleNames: append([]string(nil), sampleNames...), Rows: rows}, nil
}

// CountNonFinite returns how many cells are NaN or infinite.
func (m *Matrix) CountNonFinite() int {
	n := 0
	for _, row := range m.Rows {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				n++
			}
		}
	}
	return n
}

// Resampled builds a matrix whose column j holds column cols[j] of m. When
// fitted is non-nil the value is fitted[f][j] + m[f][cols[j]], which is how
// residual bootstrap samples are built.
func (m *Matrix) Resampled(cols []int, fitted [][]float64) *Matrix {
	rows := make([][]float64, len(m.Rows))
	for f, row := range m.Rows {
		out := make([]float64, len(cols))
		for j, c := range cols {
			if c < 0 {
				out[j] = row[j]
				continue
			}
			out[j] = row[c]
			if fitted != nil {
				out[j] += fitted[f][j]
			}
		}
		rows[f] = out
	}
	return &Matrix{FeatureIDs: m.FeatureIDs, SampleNames: m.SampleNames, Rows: rows}
}
