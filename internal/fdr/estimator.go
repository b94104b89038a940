// Package fdr turns an observed statistic vector and a pooled null sample
// into per-feature q-values and confidence bins.
package fdr

import (
	"fmt"
	"math"
	"sort"

	"gopade/domain/stats"
)

// NullSample is the finalized pooled null the estimator reads tail counts
// from.
type NullSample interface {
	CountAtLeast(t float64) (int64, error)
	Iterations() int
}

// Estimator computes q-values against a confidence grid.
type Estimator struct {
	grid stats.ConfidenceGrid
}

// NewEstimator creates an estimator reporting on grid.
func NewEstimator(grid stats.ConfidenceGrid) *Estimator {
	return &Estimator{grid: grid}
}

// Grid returns the confidence grid.
func (e *Estimator) Grid() stats.ConfidenceGrid { return e.grid }

// Estimate ranks valid features by magnitude and, at each observed
// magnitude t, estimates
//
//	FDR(t) = (null >= t / iterations) / (observed >= t)
//
// capped at 1. q-values are the running minimum of FDR taken from the
// least extreme threshold inward, so q never decreases as the threshold
// relaxes. Invalid features are not ranked and get bin NoResult.
func (e *Estimator) Estimate(observed *stats.Vector, magnitude func(float64) float64, null NullSample, featureIDs []string) ([]stats.FeatureResult, error) {
	iterations := null.Iterations()
	if iterations < 1 {
		return nil, fmt.Errorf("fdr: null sample has no iterations")
	}
	n := observed.Len()
	results := make([]stats.FeatureResult, n)
	ranked := make([]int, 0, n)

	for f := 0; f < n; f++ {
		r := stats.FeatureResult{Index: f, Statistic: observed.Values[f], PValue: math.NaN()}
		if f < len(featureIDs) {
			r.FeatureID = featureIDs[f]
		}
		r.Reason = observed.Reasons[f]
		if observed.Valid(f) {
			r.Magnitude = magnitude(observed.Values[f])
			if math.IsNaN(r.Magnitude) {
				r.Reason = stats.ReasonNonFinite
			}
		}
		if r.Reason != stats.ReasonNone {
			r.Magnitude = math.NaN()
			r.QValue = math.NaN()
			r.Confidence = math.NaN()
			r.Bin = stats.NoResult
			r.Level = math.NaN()
		} else {
			r.Valid = true
			ranked = append(ranked, f)
		}
		results[f] = r
	}

	// Most extreme first; ties broken by index so the order is stable.
	sort.SliceStable(ranked, func(a, b int) bool {
		return results[ranked[a]].Magnitude > results[ranked[b]].Magnitude
	})

	raw := make([]float64, len(ranked))
	for i := 0; i < len(ranked); {
		t := results[ranked[i]].Magnitude
		j := i
		for j < len(ranked) && results[ranked[j]].Magnitude == t {
			j++
		}
		// Every feature in [i, j) shares threshold t; j features are >= t.
		nullExceed, err := null.CountAtLeast(t)
		if err != nil {
			return nil, err
		}
		fdr := (float64(nullExceed) / float64(iterations)) / float64(j)
		if fdr > 1 {
			fdr = 1
		}
		for k := i; k < j; k++ {
			raw[k] = fdr
		}
		i = j
	}

	q := 1.0
	for i := len(ranked) - 1; i >= 0; i-- {
		if raw[i] < q {
			q = raw[i]
		}
		r := &results[ranked[i]]
		r.QValue = q
		r.Confidence = 1 - q
		r.Bin, r.Level = e.grid.Bin(r.Confidence)
	}
	return results, nil
}

// LevelCounts reports, for every grid level, how many valid features reach
// at least that confidence.
func (e *Estimator) LevelCounts(results []stats.FeatureResult) []stats.LevelCount {
	out := make([]stats.LevelCount, len(e.grid.Levels))
	for i, l := range e.grid.Levels {
		out[i].Level = l
	}
	for _, r := range results {
		if !r.Valid {
			continue
		}
		for i := 0; i < r.Bin; i++ {
			out[i].Count++
		}
	}
	return out
}
