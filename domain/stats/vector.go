package stats

import "math"

// Reason explains why a feature's statistic could not be computed.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonZeroVariance           Reason = "zero_variance"
	ReasonNonPositiveDenominator Reason = "non_positive_denominator"
	ReasonNonConvergent          Reason = "non_convergent"
	ReasonOutOfDomain            Reason = "out_of_domain"
	ReasonNonFinite              Reason = "non_finite_input"
	ReasonInsufficientData       Reason = "insufficient_data"
)

// Vector holds one statistic value per feature for one labeling. A feature
// with a non-empty reason is invalid and its value is NaN.
type Vector struct {
	Values  []float64
	Reasons []Reason
}

// NewVector allocates a vector for n features, all valid and zero.
func NewVector(n int) *Vector {
	return &Vector{
		Values:  make([]float64, n),
		Reasons: make([]Reason, n),
	}
}

// Len returns the number of features.
func (v *Vector) Len() int { return len(v.Values) }

// Set stores a value, invalidating the feature if the value is NaN.
func (v *Vector) Set(f int, value float64, reasonIfNaN Reason) {
	if math.IsNaN(value) {
		v.Invalidate(f, reasonIfNaN)
		return
	}
	v.Values[f] = value
	v.Reasons[f] = ReasonNone
}

// Invalidate marks feature f as not computable.
func (v *Vector) Invalidate(f int, reason Reason) {
	if reason == ReasonNone {
		reason = ReasonInsufficientData
	}
	v.Values[f] = math.NaN()
	v.Reasons[f] = reason
}

// Valid reports whether feature f carries a usable value.
func (v *Vector) Valid(f int) bool {
	return v.Reasons[f] == ReasonNone
}

// InvalidCount returns how many features are invalid.
func (v *Vector) InvalidCount() int {
	n := 0
	for _, r := range v.Reasons {
		if r != ReasonNone {
			n++
		}
	}
	return n
}

// ReasonCounts tallies invalid features by reason.
func (v *Vector) ReasonCounts() map[Reason]int {
	counts := make(map[Reason]int)
	for _, r := range v.Reasons {
		if r != ReasonNone {
			counts[r]++
		}
	}
	return counts
}
