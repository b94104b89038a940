package run

import (
	"fmt"
	"strings"

	"gopade/domain/core"
	"gopade/domain/stats"
)

// Config is the run configuration consumed by the engine. It is plain data
// so persistence collaborators can round-trip it.
type Config struct {
	Condition string       `json:"condition"`
	Blocks    []string     `json:"blocks,omitempty"`
	Statistic stats.Kind   `json:"statistic"`
	Family    stats.Family `json:"family,omitempty"`

	Mode       stats.Mode   `json:"mode"`
	Source     stats.Source `json:"source"`
	Iterations int          `json:"iterations"`
	Seed       int64        `json:"seed"`

	// Alpha is added to statistic denominators to stabilize features with
	// tiny variance. Zero disables it.
	Alpha float64 `json:"alpha"`
	// SymmetricRatio reports max(r, 1/r) for means_ratio so condition
	// order does not matter.
	SymmetricRatio bool `json:"symmetric_ratio"`

	Retention         stats.Retention `json:"retention"`
	MaxFullNullValues int             `json:"max_full_null_values"`
	ConfidenceLevels  []float64       `json:"confidence_levels"`

	DedupRetries int `json:"dedup_retries"`
	DedupWindow  int `json:"dedup_window"`
	Workers      int `json:"workers"`
}

// DefaultConfig returns a permutation f-test configuration with 1000
// iterations.
func DefaultConfig() Config {
	return Config{
		Statistic:         stats.KindFTest,
		Family:            stats.FamilyGaussian,
		Mode:              stats.ModePermutation,
		Source:            stats.SourceRaw,
		Iterations:        1000,
		Seed:              42,
		SymmetricRatio:    true,
		Retention:         stats.RetentionFull,
		MaxFullNullValues: 50_000_000,
		ConfidenceLevels:  append([]float64(nil), stats.DefaultConfidenceLevels...),
		DedupRetries:      10,
		Workers:           1,
	}
}

// Validate checks the configuration is complete and self-consistent.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Condition) == "" {
		return core.NewValidationError("condition", "a condition factor is required")
	}
	for _, b := range c.Blocks {
		if b == c.Condition {
			return core.NewValidationError("blocks", fmt.Sprintf("%q is already the condition factor", b))
		}
	}
	if _, err := stats.ParseKind(string(c.Statistic)); err != nil {
		return core.NewValidationError("statistic", err.Error())
	}
	if c.Statistic == stats.KindGLM {
		if _, err := stats.ParseFamily(string(c.Family)); err != nil {
			return core.NewValidationError("family", err.Error())
		}
	}
	if _, err := stats.ParseMode(string(c.Mode)); err != nil {
		return core.NewValidationError("mode", err.Error())
	}
	if _, err := stats.ParseSource(string(c.Source)); err != nil {
		return core.NewValidationError("source", err.Error())
	}
	if c.Source == stats.SourceResiduals && c.Mode != stats.ModeBootstrap {
		return core.NewValidationError("source", "residual resampling requires bootstrap mode")
	}
	if _, err := stats.ParseRetention(string(c.Retention)); err != nil {
		return core.NewValidationError("retention", err.Error())
	}
	if c.Iterations < 1 {
		return core.NewValidationError("iterations", "must be at least 1")
	}
	if c.Alpha < 0 {
		return core.NewValidationError("alpha", "must be non-negative")
	}
	if c.DedupRetries < 0 {
		return core.NewValidationError("dedup_retries", "must be non-negative")
	}
	if _, err := stats.NewConfidenceGrid(c.ConfidenceLevels); err != nil {
		return core.NewValidationError("confidence_levels", err.Error())
	}
	return nil
}

// Hash fingerprints every field that affects results. Workers is left out
// because results do not depend on it.
func (c Config) Hash() core.ConfigHash {
	return core.ComputeConfigHash(map[string]interface{}{
		"condition":       c.Condition,
		"blocks":          strings.Join(c.Blocks, ","),
		"statistic":       c.Statistic,
		"family":          c.Family,
		"mode":            c.Mode,
		"source":          c.Source,
		"iterations":      c.Iterations,
		"seed":            c.Seed,
		"alpha":           c.Alpha,
		"symmetric_ratio": c.SymmetricRatio,
		"retention":       c.Retention,
		"max_full_null":   c.MaxFullNullValues,
		"confidence":      fmt.Sprint(c.ConfidenceLevels),
		"dedup_retries":   c.DedupRetries,
		"dedup_window":    c.DedupWindow,
	})
}
