package engine

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"math"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopade/domain/core"
	"gopade/domain/design"
	"gopade/domain/matrix"
	"gopade/domain/run"
	"gopade/domain/stats"
	"gopade/internal"
	"gopade/internal/errors"
	"gopade/internal/testkit"
	"gopade/internal/worker"
)

func twoGroupInput(t *testing.T) Input {
	t.Helper()
	schema, err := testkit.TwoGroup(4, 4).Schema()
	require.NoError(t, err)
	m, err := testkit.Matrix(
		[]float64{10, 10.1, 9.9, 10.05, 1, 1.1, 0.9, 1.05}, // strong separation
		[]float64{5, 7, 6, 8, 8, 6, 7, 5},
		[]float64{3, 4, 5, 6, 6, 5, 4, 3},
		[]float64{1, 2, 3, 4, 4, 3, 2, 1},
		[]float64{2, 9, 4, 7, 7, 4, 9, 2},
		[]float64{1, 9, 5, 3, 3, 5, 9, 1},
	)
	require.NoError(t, err)

	cfg := run.DefaultConfig()
	cfg.Condition = "treatment"
	cfg.Iterations = 100
	return Input{Matrix: m, Schema: schema, Config: cfg}
}

func TestRun_TwoGroupFTest(t *testing.T) {
	report, err := New().Run(context.Background(), twoGroupInput(t))
	require.NoError(t, err)

	// C(8,4) = 70 <= 100, so every labeling is enumerated.
	assert.True(t, report.Resampling.Exact)
	assert.Equal(t, "70", report.Resampling.Distinct)
	assert.Equal(t, 70, report.Resampling.Iterations)
	assert.Equal(t, stats.RetentionFull, report.Resampling.Retention)

	require.Len(t, report.Features, 6)
	strong := report.Features[0]
	assert.True(t, strong.Valid)
	assert.Equal(t, "f001", strong.FeatureID)
	assert.GreaterOrEqual(t, strong.Confidence, 0.9)
	// Only the identity and the full swap reach the observed split.
	assert.LessOrEqual(t, strong.QValue, 2.0/70+1e-12)
	assert.GreaterOrEqual(t, strong.QValue, 1.0/70-1e-12)
	assert.Equal(t, 0.95, strong.Level)
	assert.Less(t, strong.PValue, 0.001)
	assert.InDelta(t, 10.0125, strong.GroupMeans[0], 1e-9)
	assert.InDelta(t, 1.0125, strong.GroupMeans[1], 1e-9)

	for _, f := range report.Features[1:] {
		assert.True(t, f.Valid, f.FeatureID)
		assert.LessOrEqual(t, f.Confidence, 0.5, f.FeatureID)
	}
	assert.Zero(t, report.Excluded)
	require.Len(t, report.Discoveries(0.9), 1)
	assert.Equal(t, "f001", report.Discoveries(0.9)[0].FeatureID)
	assert.Equal(t, 1, report.LevelCounts[len(report.LevelCounts)-2].Count) // 0.95
	assert.NoError(t, report.Manifest.Validate())
}

func TestRun_IsDeterministicAcrossWorkers(t *testing.T) {
	in := twoGroupInput(t)
	m, err := testkit.Synthetic(testkit.TwoGroup(6, 6), 40, 5, 3, 1, 21)
	require.NoError(t, err)
	in.Matrix = m
	in.Schema, err = testkit.TwoGroup(6, 6).Schema()
	require.NoError(t, err)
	in.Config.Iterations = 300 // C(12,6) = 924, so sampled

	in.Config.Workers = 1
	a, err := New().Run(context.Background(), in)
	require.NoError(t, err)
	in.Config.Workers = 8
	b, err := New(WithScheduler(worker.NewPool(3))).Run(context.Background(), in)
	require.NoError(t, err)

	assert.False(t, a.Resampling.Exact)
	assert.Equal(t, a.Manifest.Fingerprint, b.Manifest.Fingerprint)
	assert.NotEqual(t, a.Manifest.RunID, b.Manifest.RunID)
	assert.Equal(t, core.HashFloats(a.Observed.Values), core.HashFloats(b.Observed.Values))
	for i := range a.Features {
		assert.Equal(t, a.Features[i].QValue, b.Features[i].QValue, a.Features[i].FeatureID)
	}
	assert.Equal(t, a.NullPooled, b.NullPooled)
}

func TestRun_BlockedDesignDropsUndersizedBlock(t *testing.T) {
	d := testkit.Design{
		Condition: "treatment", Levels: []string{"control", "treated"},
		Block: "batch", Blocks: []string{"b1", "b2", "b3"},
		Counts: [][]int{{3, 3}, {3, 3}, {1, 1}},
	}
	schema, err := d.Schema()
	require.NoError(t, err)
	m, err := testkit.Synthetic(d, 30, 3, 5, 0.5, 4)
	require.NoError(t, err)

	cfg := run.DefaultConfig()
	cfg.Condition = "treatment"
	cfg.Blocks = []string{"batch"}
	cfg.Iterations = 200
	cfg.Workers = 2

	report, err := New().Run(context.Background(), Input{Matrix: m, Schema: schema, Config: cfg})
	require.NoError(t, err)

	require.Len(t, report.Design.Dropped, 1)
	assert.Equal(t, []string{"b3"}, report.Design.Dropped[0].Key)
	assert.Equal(t, 12, report.Design.Included)
	assert.Equal(t, 2, report.Design.Excluded)
	assert.Len(t, report.Design.Blocks, 2)

	kinds := map[design.WarningKind]bool{}
	for _, w := range report.Warnings {
		kinds[w.Kind] = true
	}
	assert.True(t, kinds[design.WarningBlockDropped])
	assert.True(t, kinds[design.WarningApproximateResampling], "C(6,3)^2 = 400 > 200")
	assert.Equal(t, "400", report.Resampling.Distinct)
	assert.Equal(t, 200, report.Resampling.Iterations)

	for _, f := range report.Features[:3] {
		assert.GreaterOrEqual(t, f.Confidence, 0.9, f.FeatureID)
	}
}

func TestRun_PairedTTestFlagsConstantDifferences(t *testing.T) {
	d := testkit.Paired(6)
	schema, err := d.Schema()
	require.NoError(t, err)
	m, err := testkit.Matrix(
		[]float64{1, 6.1, 2, 6.9, 3, 8.2, 4, 8.8, 5, 10.1, 6, 11},
		[]float64{1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6, 7}, // every difference is 1
		[]float64{4, 3, 2, 5, 6, 6.5, 1, 0, 3, 3.2, 8, 7},
	)
	require.NoError(t, err)

	cfg := run.DefaultConfig()
	cfg.Condition = "treatment"
	cfg.Blocks = []string{"subject"}
	cfg.Statistic = stats.KindOneSampleTTest
	cfg.Iterations = 100

	report, err := New().Run(context.Background(), Input{Matrix: m, Schema: schema, Config: cfg})
	require.NoError(t, err)

	assert.True(t, report.Resampling.Exact)
	assert.Equal(t, 64, report.Resampling.Iterations)

	constant := report.Features[1]
	assert.False(t, constant.Valid)
	assert.Equal(t, stats.ReasonZeroVariance, constant.Reason)
	assert.Equal(t, stats.NoResult, constant.Bin)
	assert.Equal(t, 1, report.Excluded)
	assert.Equal(t, map[stats.Reason]int{stats.ReasonZeroVariance: 1}, report.ExcludedByReason)

	assert.True(t, report.Features[0].Valid)
	assert.Greater(t, report.Features[0].Confidence, report.Features[2].Confidence)
}

func TestRun_ReportWithExcludedFeatureEncodes(t *testing.T) {
	in := twoGroupInput(t)
	m, err := testkit.Matrix(
		[]float64{10, 10.1, 9.9, 10.05, 1, 1.1, 0.9, 1.05},
		[]float64{3, 3, 3, 3, 3, 3, 3, 3},
		[]float64{5, 7, 6, 8, 8, 6, 7, 5},
	)
	require.NoError(t, err)
	in.Matrix = m

	report, err := New().Run(context.Background(), in)
	require.NoError(t, err)
	require.False(t, report.Features[1].Valid)
	assert.Equal(t, stats.ReasonZeroVariance, report.Features[1].Reason)

	data, err := json.MarshalIndent(report, "", "  ")
	require.NoError(t, err)

	var decoded run.Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Features, 3)
	assert.False(t, decoded.Features[1].Valid)
	assert.Equal(t, stats.NoResult, decoded.Features[1].Bin)
	assert.True(t, math.IsNaN(decoded.Features[1].Level))
	assert.Equal(t, report.Features[0].QValue, decoded.Features[0].QValue)
	assert.Equal(t, 1, decoded.Excluded)
}

func TestRun_TracesPooledIterations(t *testing.T) {
	var buf bytes.Buffer
	logger := internal.NewLoggerTo(internal.LogLevelTrace, &buf)
	_, err := New(WithLogger(logger)).Run(context.Background(), twoGroupInput(t))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "[TRACE] [engine] run=")
	assert.Contains(t, buf.String(), "iteration 0 pooled (0 invalid)")
}

func TestRun_MeansRatio(t *testing.T) {
	schema, err := testkit.TwoGroup(2, 2).Schema()
	require.NoError(t, err)
	m, err := testkit.Matrix(
		[]float64{2, 2, 4, 4},
		[]float64{0, 0, 4, 4},
		[]float64{3, 5, 4, 4},
	)
	require.NoError(t, err)

	cfg := run.DefaultConfig()
	cfg.Condition = "treatment"
	cfg.Statistic = stats.KindMeansRatio
	cfg.Iterations = 10

	report, err := New().Run(context.Background(), Input{Matrix: m, Schema: schema, Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, 2.0, report.Features[0].Statistic)
	assert.False(t, report.Features[1].Valid)
	assert.Equal(t, stats.ReasonNonPositiveDenominator, report.Features[1].Reason)
	assert.True(t, math.IsNaN(report.Features[0].PValue))
}

func TestRun_ResidualBootstrap(t *testing.T) {
	d := testkit.Design{
		Condition: "treatment", Levels: []string{"control", "treated"},
		Block: "batch", Blocks: []string{"b1", "b2"},
		Counts: [][]int{{4, 4}, {4, 4}},
	}
	schema, err := d.Schema()
	require.NoError(t, err)
	m, err := testkit.Synthetic(d, 25, 4, 4, 1, 17)
	require.NoError(t, err)

	cfg := run.DefaultConfig()
	cfg.Condition = "treatment"
	cfg.Blocks = []string{"batch"}
	cfg.Mode = stats.ModeBootstrap
	cfg.Source = stats.SourceResiduals
	cfg.Iterations = 150
	cfg.Workers = 4

	report, err := New().Run(context.Background(), Input{Matrix: m, Schema: schema, Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, stats.ModeBootstrap, report.Resampling.Mode)
	assert.False(t, report.Resampling.Exact)
	assert.Empty(t, report.Resampling.Distinct)
	assert.Equal(t, 150, report.Resampling.Iterations)
	assert.Equal(t, int64(150*25), report.NullPooled+report.NullExcluded)
	for _, f := range report.Features[:4] {
		assert.GreaterOrEqual(t, f.Confidence, 0.8, f.FeatureID)
	}
}

func TestRun_BinnedRetentionMatchesFull(t *testing.T) {
	in := twoGroupInput(t)
	m, err := testkit.Synthetic(testkit.TwoGroup(5, 5), 60, 6, 2, 1, 33)
	require.NoError(t, err)
	in.Matrix = m
	in.Schema, err = testkit.TwoGroup(5, 5).Schema()
	require.NoError(t, err)
	in.Config.Iterations = 150

	full, err := New().Run(context.Background(), in)
	require.NoError(t, err)

	in.Config.MaxFullNullValues = 100 // forces the switch
	binned, err := New().Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, stats.RetentionFull, full.Resampling.Retention)
	assert.Equal(t, stats.RetentionBinned, binned.Resampling.Retention)
	for i := range full.Features {
		assert.Equal(t, full.Features[i].QValue, binned.Features[i].QValue, full.Features[i].FeatureID)
	}
}

func TestRun_ReordersMatrixColumnsToSchema(t *testing.T) {
	in := twoGroupInput(t)
	want, err := New().Run(context.Background(), in)
	require.NoError(t, err)

	n := in.Matrix.NumSamples()
	names := make([]string, n)
	rows := make([][]float64, in.Matrix.NumFeatures())
	for j := range names {
		names[j] = in.Matrix.SampleNames[n-1-j]
	}
	for f, row := range in.Matrix.Rows {
		rows[f] = make([]float64, n)
		for j := range row {
			rows[f][j] = row[n-1-j]
		}
	}
	in.Matrix, err = matrix.New(in.Matrix.FeatureIDs, names, rows)
	require.NoError(t, err)

	got, err := New().Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, want.Manifest.MatrixHash, got.Manifest.MatrixHash)
	assert.Equal(t, want.Features[0].QValue, got.Features[0].QValue)
}

func TestRun_Errors(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		in := twoGroupInput(t)
		in.Config.Iterations = 0
		_, err := New().Run(context.Background(), in)
		assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
		assert.True(t, stderrors.Is(err, core.ErrInvalidConfig))
		assert.Equal(t, 1, strings.Count(err.Error(), "must be at least 1"), err.Error())
	})

	t.Run("schema incomplete", func(t *testing.T) {
		in := twoGroupInput(t)
		in.Schema.Samples[3].Assignments = map[string]string{}
		_, err := New().Run(context.Background(), in)
		assert.Equal(t, errors.CodeDesignError, errors.GetCode(err))
		var incomplete *design.SchemaIncompleteError
		require.True(t, stderrors.As(err, &incomplete))
		assert.Equal(t, "s04", incomplete.Sample)
	})

	t.Run("unsupported layout", func(t *testing.T) {
		in := twoGroupInput(t)
		in.Config.Statistic = stats.KindOneSampleTTest
		_, err := New().Run(context.Background(), in)
		assert.True(t, core.IsDesignError(err))
	})

	t.Run("missing sample column", func(t *testing.T) {
		in := twoGroupInput(t)
		in.Matrix.SampleNames = append([]string(nil), in.Matrix.SampleNames...)
		in.Matrix.SampleNames[0] = "other"
		_, err := New().Run(context.Background(), in)
		assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
		assert.True(t, stderrors.Is(err, core.ErrDimensionMismatch))
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := New().Run(ctx, twoGroupInput(t))
		assert.True(t, stderrors.Is(err, core.ErrCancelled))
		assert.True(t, stderrors.Is(err, context.Canceled))
		assert.Equal(t, errors.CodeCancelled, errors.GetCode(err))
	})
}

func TestRun_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	e := New(WithMetrics(metrics))

	_, err := e.Run(context.Background(), twoGroupInput(t))
	require.NoError(t, err)
	in := twoGroupInput(t)
	in.Config.Iterations = 0
	_, _ = e.Run(context.Background(), in)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("f_test", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("f_test", "rejected")))
	assert.Equal(t, 70.0, testutil.ToFloat64(metrics.iterations.WithLabelValues("permutation")))
	assert.Equal(t, float64(70*6), testutil.ToFloat64(metrics.nullPooled))
}
