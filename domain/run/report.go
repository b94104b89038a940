package run

import (
	"time"

	"gopade/domain/design"
	"gopade/domain/stats"
)

// Resampling describes how the null iterations were produced.
type Resampling struct {
	Mode stats.Mode `json:"mode"`
	// Exact is true when every distinct permutation was enumerated.
	Exact bool `json:"exact"`
	// Distinct is the number of distinct permutations the design allows,
	// as a decimal string since it can exceed 64 bits.
	Distinct   string `json:"distinct,omitempty"`
	Iterations int    `json:"iterations"`
	Duplicates int    `json:"duplicates"`
	// Retention is the null retention actually used, which may be binned
	// even when full was requested.
	Retention stats.Retention `json:"retention"`
}

// Report is everything a run produces for reporting and persistence.
type Report struct {
	Manifest   Manifest         `json:"manifest"`
	Config     Config           `json:"config"`
	Design     design.Summary   `json:"design"`
	Warnings   []design.Warning `json:"warnings,omitempty"`
	Resampling Resampling       `json:"resampling"`

	Features []stats.FeatureResult `json:"features"`
	Grid     stats.ConfidenceGrid  `json:"grid"`
	// Observed keeps the raw observed vector, NaN for invalid features.
	Observed *stats.Vector `json:"-"`

	Excluded         int                  `json:"excluded_features"`
	ExcludedByReason map[stats.Reason]int `json:"excluded_by_reason,omitempty"`
	NullExcluded     int64                `json:"null_values_excluded"`
	NullPooled       int64                `json:"null_values_pooled"`
	LevelCounts      []stats.LevelCount   `json:"level_counts"`

	Duration time.Duration `json:"duration"`
}

// Discoveries returns the features whose confidence level reaches level.
func (r *Report) Discoveries(level float64) []stats.FeatureResult {
	var out []stats.FeatureResult
	for _, f := range r.Features {
		if f.Valid && f.Level >= level {
			out = append(out, f)
		}
	}
	return out
}
