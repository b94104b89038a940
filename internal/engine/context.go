package engine

import (
	"context"
	"time"

	"gopade/adapters/stats/statistic"
	"gopade/domain/core"
	"gopade/domain/design"
	"gopade/domain/matrix"
	"gopade/domain/run"
	"gopade/domain/stats"
	"gopade/internal"
	"gopade/internal/null"
	"gopade/internal/resampling"
	"gopade/ports"
)

// runContext is the state of one invocation. It is built by prepare and
// only read afterwards, so iteration tasks share it without locking.
type runContext struct {
	id  core.RunID
	cfg run.Config

	matrix *matrix.Matrix
	// source is what bootstrap draws read from: the matrix itself, or the
	// full-model residuals with fitted holding the null-model prediction.
	source *matrix.Matrix
	fitted [][]float64

	schema    *design.Schema
	grouping  *design.Grouping
	statistic statistic.Statistic

	logger  *internal.Logger
	metrics *Metrics
	started time.Time
}

// task computes the statistic vector of one unit.
func (rc *runContext) task(u resampling.Unit) ports.Task {
	return func(ctx context.Context) (*stats.Vector, error) {
		start := time.Now()
		data := rc.matrix
		if u.Columns != nil {
			data = rc.source.Resampled(u.Columns, rc.fitted)
		}
		v := rc.statistic.Compute(data, rc.grouping, u.Labels)
		rc.metrics.observeIteration(string(rc.cfg.Mode), time.Since(start).Seconds())
		return v, nil
	}
}

// newAccumulator picks the null retention. Full retention switches to
// binned when iterations x features would exceed MaxFullNullValues.
func (rc *runContext) newAccumulator(observed *stats.Vector, iterations int) (null.Accumulator, error) {
	retention := rc.cfg.Retention
	total := int64(iterations) * int64(observed.Len())
	if retention == stats.RetentionFull && rc.cfg.MaxFullNullValues > 0 && total > int64(rc.cfg.MaxFullNullValues) {
		rc.logger.Warn("[engine] run=%s %d null values exceed the full-retention limit of %d; using binned retention",
			rc.id, total, rc.cfg.MaxFullNullValues)
		retention = stats.RetentionBinned
	}

	var edges []float64
	if retention == stats.RetentionBinned {
		edges = make([]float64, 0, observed.Len())
		for f, v := range observed.Values {
			if observed.Valid(f) {
				edges = append(edges, rc.statistic.Magnitude(v))
			}
		}
	}
	return null.New(retention, rc.statistic.Magnitude, edges)
}
