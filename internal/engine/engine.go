// Package engine runs one resampling analysis end to end: resolve the
// design, compute the observed statistic, accumulate the null over the
// worker pool and estimate FDR.
package engine

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"gopade/adapters/rng"
	"gopade/adapters/stats/statistic"
	"gopade/domain/core"
	"gopade/domain/design"
	"gopade/domain/matrix"
	"gopade/domain/run"
	"gopade/domain/stats"
	"gopade/internal"
	resolver "gopade/internal/design"
	"gopade/internal/errors"
	"gopade/internal/fdr"
	"gopade/internal/null"
	"gopade/internal/resampling"
	"gopade/internal/worker"
	"gopade/ports"
)

// Engine is stateless between runs; every Run builds its own run context.
type Engine struct {
	rng       ports.RNGPort
	scheduler ports.TaskScheduler
	resolver  *resolver.Resolver
	logger    *internal.Logger
	metrics   *Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithRNG replaces the seeded RNG adapter.
func WithRNG(r ports.RNGPort) Option { return func(e *Engine) { e.rng = r } }

// WithScheduler runs iterations on s instead of a per-run worker pool.
// The engine does not close it.
func WithScheduler(s ports.TaskScheduler) Option { return func(e *Engine) { e.scheduler = s } }

// WithLogger sets the logger.
func WithLogger(l *internal.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics enables prometheus metrics.
func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		rng:      rng.NewSeededAdapter(),
		resolver: resolver.NewResolver(),
		logger:   internal.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Input is what a run consumes: the matrix, its schema and the run
// configuration.
type Input struct {
	Matrix *matrix.Matrix
	Schema *design.Schema
	Config run.Config
}

// Run executes one analysis. Design and configuration problems fail before
// any iteration runs; per-feature problems are reported in the results.
func (e *Engine) Run(ctx context.Context, in Input) (*run.Report, error) {
	start := time.Now()
	rc, err := e.prepare(in)
	if err != nil {
		e.metrics.observeRun(string(in.Config.Statistic), "rejected", time.Since(start).Seconds())
		return nil, err
	}
	rc.logger.Info("[engine] run=%s start: %s statistic=%s mode=%s source=%s iterations=%d seed=%d",
		rc.id, rc.grouping, rc.cfg.Statistic, rc.cfg.Mode, rc.cfg.Source, rc.cfg.Iterations, rc.cfg.Seed)

	report, err := e.execute(ctx, rc)
	status := "ok"
	switch {
	case err != nil && ctx.Err() != nil:
		status = "cancelled"
	case err != nil:
		status = "failed"
	}
	e.metrics.observeRun(string(rc.cfg.Statistic), status, time.Since(start).Seconds())
	if err != nil {
		rc.logger.Error("[engine] run=%s %s: %v", rc.id, status, err)
		return nil, err
	}
	rc.logger.Info("[engine] run=%s done in %s: %d features, %d excluded, %d at >= %.2f confidence",
		rc.id, report.Duration.Round(time.Millisecond), len(report.Features), report.Excluded,
		topCount(report.LevelCounts), topLevel(report.LevelCounts))
	return report, nil
}

func (e *Engine) prepare(in Input) (*runContext, error) {
	cfg := in.Config
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	if in.Matrix == nil || in.Schema == nil {
		return nil, errors.InvalidInput("a matrix and a schema are required")
	}

	m := in.Matrix
	names := in.Schema.SampleNames()
	if !slices.Equal(m.SampleNames, names) {
		aligned, err := m.Reorder(names)
		if err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, err)
		}
		m = aligned
	}

	stat, err := statistic.New(cfg.Statistic, statistic.Options{
		Family:    cfg.Family,
		Alpha:     cfg.Alpha,
		Symmetric: cfg.SymmetricRatio,
	})
	if err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}

	g, err := e.resolver.Resolve(in.Schema, resolver.Request{
		Condition:    cfg.Condition,
		Blocks:       cfg.Blocks,
		Statistic:    string(cfg.Statistic),
		Requirements: stat.Requirements(),
	})
	if err != nil {
		if core.IsDesignError(err) {
			return nil, errors.DesignError(err)
		}
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}

	rc := &runContext{
		id:        core.NewRunID(),
		cfg:       cfg,
		matrix:    m,
		source:    m,
		schema:    in.Schema,
		grouping:  g,
		statistic: stat,
		logger:    e.logger,
		metrics:   e.metrics,
		started:   time.Now(),
	}
	for _, w := range g.Warnings {
		rc.logger.Warn("[engine] run=%s %s: %s", rc.id, w.Kind, w.Message)
	}
	if n := m.CountNonFinite(); n > 0 {
		rc.logger.Warn("[engine] run=%s matrix has %d non-finite values; affected features are excluded", rc.id, n)
	}
	if cfg.Mode == stats.ModeBootstrap && cfg.Source == stats.SourceResiduals {
		rc.fitted, rc.source = statistic.Residuals(m, g)
	}
	return rc, nil
}

func (e *Engine) execute(ctx context.Context, rc *runContext) (*run.Report, error) {
	g := rc.grouping
	observed := rc.statistic.Compute(rc.matrix, g, g.Labels)
	if n := observed.InvalidCount(); n > 0 {
		rc.logger.Info("[engine] run=%s %d of %d features have no observed statistic: %v",
			rc.id, n, observed.Len(), observed.ReasonCounts())
	}

	gen, err := resampling.NewGenerator(g, e.rng, resampling.Options{
		Mode:         rc.cfg.Mode,
		Iterations:   rc.cfg.Iterations,
		Seed:         rc.cfg.Seed,
		DedupRetries: rc.cfg.DedupRetries,
		DedupWindow:  rc.cfg.DedupWindow,
	})
	if err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	if gen.Exact() {
		rc.logger.Info("[engine] run=%s exact test: enumerating all %s distinct permutations", rc.id, gen.Distinct())
	} else if gen.Distinct() != nil {
		rc.logger.Info("[engine] run=%s sampling %d of %s distinct permutations", rc.id, rc.cfg.Iterations, gen.Distinct())
	}

	acc, err := rc.newAccumulator(observed, gen.Iterations())
	if err != nil {
		return nil, err
	}
	if err := e.accumulate(ctx, rc, gen, acc); err != nil {
		return nil, err
	}
	if err := acc.Finalize(); err != nil {
		return nil, errors.Wrap(err, "finalizing null sample")
	}

	grid, err := stats.NewConfidenceGrid(rc.cfg.ConfidenceLevels)
	if err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	est := fdr.NewEstimator(grid)
	results, err := est.Estimate(observed, rc.statistic.Magnitude, acc, rc.matrix.FeatureIDs)
	if err != nil {
		return nil, errors.Wrap(err, "estimating fdr")
	}

	means := statistic.GroupMeans(rc.matrix, g)
	excludedBy := map[stats.Reason]int{}
	for i := range results {
		r := &results[i]
		r.GroupMeans = means[i]
		if r.Valid {
			r.PValue = rc.statistic.NominalPValue(r.Statistic, g)
		} else {
			excludedBy[r.Reason]++
		}
	}
	excluded := 0
	for _, n := range excludedBy {
		excluded += n
	}

	warnings := append(append([]design.Warning(nil), g.Warnings...), gen.Warnings()...)
	for _, w := range gen.Warnings() {
		rc.logger.Warn("[engine] run=%s %s: %s", rc.id, w.Kind, w.Message)
	}

	resamplingInfo := run.Resampling{
		Mode:       rc.cfg.Mode,
		Exact:      gen.Exact(),
		Iterations: acc.Iterations(),
		Duplicates: gen.Duplicates(),
		Retention:  acc.Retention(),
	}
	if d := gen.Distinct(); d != nil {
		resamplingInfo.Distinct = d.String()
	}

	invalid := make(map[string]int, len(excludedBy))
	for reason, n := range excludedBy {
		invalid[string(reason)] = n
	}
	rc.metrics.observeResult(invalid, acc.Pooled(), gen.Duplicates())

	return &run.Report{
		Manifest:         run.NewManifest(rc.id, rc.matrix.Hash(), rc.schema.Hash(), rc.cfg.Hash(), rc.cfg.Seed),
		Config:           rc.cfg,
		Design:           g.Summary(),
		Warnings:         warnings,
		Resampling:       resamplingInfo,
		Features:         results,
		Grid:             grid,
		Observed:         observed,
		Excluded:         excluded,
		ExcludedByReason: excludedBy,
		NullExcluded:     acc.Excluded(),
		NullPooled:       acc.Pooled(),
		LevelCounts:      est.LevelCounts(results),
		Duration:         time.Since(rc.started),
	}, nil
}

type pending struct {
	index  int
	future ports.Future
}

// accumulate streams generated units through the scheduler, keeping at
// most a small window of futures outstanding, and pools each result by
// iteration index.
func (e *Engine) accumulate(ctx context.Context, rc *runContext, gen *resampling.Generator, acc null.Accumulator) error {
	sched := e.scheduler
	workers := rc.cfg.Workers
	if sched == nil {
		pool := worker.NewPool(workers)
		defer pool.Close()
		sched, workers = pool, pool.Size()
	}
	window := 2 * max(workers, 1)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var queue []pending
	awaitOldest := func() error {
		p := queue[0]
		queue = queue[1:]
		v, err := p.future.Await(runCtx)
		if err != nil {
			return err
		}
		rc.logger.Trace("[engine] run=%s iteration %d pooled (%d invalid)", rc.id, p.index, v.InvalidCount())
		return acc.Add(p.index, v)
	}

	err := gen.Generate(runCtx, func(u resampling.Unit) error {
		queue = append(queue, pending{index: u.Index, future: sched.Submit(runCtx, rc.task(u))})
		for len(queue) >= window {
			if err := awaitOldest(); err != nil {
				return err
			}
		}
		return nil
	})
	for err == nil && len(queue) > 0 {
		err = awaitOldest()
	}
	if err == nil {
		return nil
	}

	// Let in-flight tasks wind down; their results are discarded and the
	// accumulator is left as it was.
	cancel()
	for _, p := range queue {
		_, _ = p.future.Await(context.Background())
	}
	if ctx.Err() != nil {
		return errors.Cancelled(fmt.Errorf("%w after %d of %d iterations: %w",
			core.ErrCancelled, acc.Iterations(), gen.Iterations(), ctx.Err()))
	}
	return errors.Wrap(err, "resampling")
}

func topLevel(counts []stats.LevelCount) float64 {
	if len(counts) == 0 {
		return math.NaN()
	}
	return counts[len(counts)-1].Level
}

func topCount(counts []stats.LevelCount) int {
	if len(counts) == 0 {
		return 0
	}
	return counts[len(counts)-1].Count
}
