package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gopade/adapters/excel"
	"gopade/adapters/postgres"
	"gopade/adapters/schemafile"
	"gopade/domain/core"
	"gopade/domain/run"
	"gopade/domain/stats"
	"gopade/internal"
	"gopade/internal/engine"
	"gopade/ports"
)

type runOptions struct {
	dataPath   string
	schemaPath string
	sheet      string

	condition string
	blocks    []string
	statistic string
	family    string
	mode      string
	source    string

	iterations   int
	seed         int64
	workers      int
	alpha        float64
	asymmetric   bool
	retention    string
	maxFullNull  int
	levels       []float64
	dedupRetries int
	dedupWindow  int

	output      string
	jsonOut     string
	top         int
	metricsAddr string
	noSave      bool
}

func newRunCmd(a *app) *cobra.Command {
	var o runOptions

	cmd := &cobra.Command{
		Use:   "run <data-file>",
		Short: "Run the resampling analysis and estimate FDR for every feature",
		Long: `Run the analysis on a feature-by-sample table described by a schema.

Defaults for iterations, seed, workers, retention and confidence levels come
from the PADE_* environment variables; flags override them. When
DATABASE_URL is set the report is saved to PostgreSQL.

Example:
  pade run expr.csv --condition treatment --block batch --stat f_test -n 1000 -o results.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o.dataPath = args[0]
			if o.schemaPath == "" {
				o.schemaPath = defaultSchemaPath(o.dataPath)
			}
			cfg, err := buildRunConfig(cmd, a.cfg.RunDefaults(), o)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("metrics-addr") {
				o.metricsAddr = a.cfg.Server.MetricsAddr
			}
			return a.runAnalysis(cmd.Context(), o, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.schemaPath, "schema", "", "Schema file (default <data-file>.schema.yaml)")
	f.StringVar(&o.sheet, "sheet", "", "Worksheet to read from an xlsx file (default first sheet)")
	f.StringVarP(&o.condition, "condition", "c", "", "Factor whose levels are compared")
	f.StringSliceVarP(&o.blocks, "block", "b", nil, "Blocking factor (repeatable)")
	f.StringVarP(&o.statistic, "stat", "s", string(stats.KindFTest), "Statistic: f_test, one_sample_t_test, means_ratio or glm")
	f.StringVar(&o.family, "glm-family", string(stats.FamilyGaussian), "GLM family: gaussian, binomial or poisson")
	f.StringVar(&o.mode, "mode", string(stats.ModePermutation), "Resampling mode: permutation or bootstrap")
	f.StringVar(&o.source, "sample-from", string(stats.SourceRaw), "Bootstrap source: raw or residuals")
	f.IntVarP(&o.iterations, "iterations", "n", 0, "Number of resampling iterations (default $PADE_ITERATIONS)")
	f.Int64Var(&o.seed, "seed", 0, "Random seed (default $PADE_SEED)")
	f.IntVarP(&o.workers, "workers", "j", 0, "Worker goroutines (default $PADE_WORKERS)")
	f.Float64Var(&o.alpha, "alpha", 0, "Tuning parameter added to statistic denominators")
	f.BoolVar(&o.asymmetric, "asymmetric-ratio", false, "Report means_ratio as base/other instead of max(r, 1/r)")
	f.StringVar(&o.retention, "retention", "", "Null retention: full or binned (default $PADE_NULL_RETENTION)")
	f.IntVar(&o.maxFullNull, "max-full-null", 0, "Switch to binned retention above this many null values")
	f.Float64SliceVar(&o.levels, "levels", nil, "Confidence levels reported (default $PADE_CONFIDENCE_LEVELS)")
	f.IntVar(&o.dedupRetries, "dedup-retries", 0, "Redraws allowed per duplicate permutation (default $PADE_DEDUP_RETRIES)")
	f.IntVar(&o.dedupWindow, "dedup-window", 0, "Recent permutations checked for duplicates, 0 for all")
	f.StringVarP(&o.output, "output", "o", "", "Write per-feature results to this .xlsx, .csv or .tsv file")
	f.StringVar(&o.jsonOut, "json", "", "Write the full report as JSON to this file")
	f.IntVar(&o.top, "top", 10, "Features shown in the summary")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address while running (default $METRICS_ADDR)")
	f.BoolVar(&o.noSave, "no-save", false, "Do not save the report even if DATABASE_URL is set")
	_ = cmd.MarkFlagRequired("condition")
	return cmd
}

// buildRunConfig starts from the environment defaults and applies the
// flags the user set.
func buildRunConfig(cmd *cobra.Command, cfg run.Config, o runOptions) (run.Config, error) {
	changed := cmd.Flags().Changed
	var err error

	cfg.Condition = o.condition
	cfg.Blocks = o.blocks
	if cfg.Statistic, err = stats.ParseKind(o.statistic); err != nil {
		return cfg, err
	}
	if cfg.Family, err = stats.ParseFamily(o.family); err != nil {
		return cfg, err
	}
	if cfg.Mode, err = stats.ParseMode(o.mode); err != nil {
		return cfg, err
	}
	if cfg.Source, err = stats.ParseSource(o.source); err != nil {
		return cfg, err
	}
	if changed("retention") {
		if cfg.Retention, err = stats.ParseRetention(o.retention); err != nil {
			return cfg, err
		}
	}
	if changed("iterations") {
		cfg.Iterations = o.iterations
	}
	if changed("seed") {
		cfg.Seed = o.seed
	}
	if changed("workers") {
		cfg.Workers = o.workers
	}
	if changed("max-full-null") {
		cfg.MaxFullNullValues = o.maxFullNull
	}
	if changed("levels") {
		cfg.ConfidenceLevels = o.levels
	}
	if changed("dedup-retries") {
		cfg.DedupRetries = o.dedupRetries
	}
	cfg.DedupWindow = o.dedupWindow
	cfg.Alpha = o.alpha
	cfg.SymmetricRatio = !o.asymmetric
	return cfg, cfg.Validate()
}

func (a *app) runAnalysis(ctx context.Context, o runOptions, cfg run.Config) error {
	doc, err := schemafile.NewStore(o.schemaPath).LoadSchema(ctx)
	if err != nil {
		return err
	}
	reader := excel.NewDataReader(o.dataPath, excel.WithSheet(o.sheet), excel.WithLogger(a.logger))
	m, err := reader.ReadMatrix(ctx, ports.ColumnLayout{
		FeatureIDColumn: doc.FeatureIDColumn(),
		SampleColumns:   doc.Schema.SampleNames(),
	})
	if err != nil {
		return err
	}
	a.logger.Info("[pade] loaded %d features x %d samples from %s", m.NumFeatures(), m.NumSamples(), o.dataPath)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	eng := engine.New(engine.WithLogger(a.logger), engine.WithMetrics(engine.NewMetrics(reg)))

	var report *run.Report
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	if o.metricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, done, o.metricsAddr, newMetricsRouter(reg), a.logger)
		})
	}
	g.Go(func() error {
		defer close(done)
		var err error
		report, err = eng.Run(gctx, engine.Input{Matrix: m, Schema: doc.Schema, Config: cfg})
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if o.output != "" {
		if err := excel.WriteReport(o.output, report); err != nil {
			return err
		}
		a.logger.Info("[pade] wrote results to %s", o.output)
	}
	if o.jsonOut != "" {
		if err := writeJSON(o.jsonOut, report); err != nil {
			return err
		}
	}
	if err := renderSummary(a.out, report, o.top); err != nil {
		return err
	}

	if o.noSave || !a.cfg.Database.Enabled() {
		return nil
	}
	return a.save(ctx, report)
}

func writeJSON(path string, report *run.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// save connects, migrates and stores the report.
func (a *app) save(ctx context.Context, report *run.Report) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := postgres.Open(ctx, a.cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := postgres.NewMigrator(db, a.logger).Up(ctx); err != nil {
		return err
	}
	return persist(ctx, postgres.NewResultRepository(db), report, a.logger)
}

// fingerprintFinder is implemented by repositories that can look up runs
// with identical inputs.
type fingerprintFinder interface {
	FindByFingerprint(ctx context.Context, fp core.Hash) ([]run.Manifest, error)
}

func persist(ctx context.Context, repo ports.ResultRepository, report *run.Report, logger *internal.Logger) error {
	if f, ok := repo.(fingerprintFinder); ok {
		prior, err := f.FindByFingerprint(ctx, report.Manifest.Fingerprint)
		if err != nil {
			logger.Warn("[pade] fingerprint lookup failed: %v", err)
		}
		for _, m := range prior {
			logger.Info("[pade] run %s had identical inputs and should match this one", m.RunID)
		}
	}
	if err := repo.SaveReport(ctx, report); err != nil {
		return err
	}
	logger.Info("[pade] saved run %s", report.Manifest.RunID)
	return nil
}
