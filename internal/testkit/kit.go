// Package testkit builds synthetic schemas, matrices and in-memory adapters
// for tests.
package testkit

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"gopade/adapters/rng"
	"gopade/domain/core"
	"gopade/domain/design"
	"gopade/domain/matrix"
	"gopade/domain/run"
	"gopade/ports"
)

// TestKit provides testing utilities and fixtures
type TestKit struct {
	results *InMemoryResultRepository
}

// NewTestKit creates a new test kit instance
func NewTestKit() *TestKit {
	return &TestKit{results: NewInMemoryResultRepository()}
}

// RNGAdapter returns the seeded RNG adapter used in production.
func (t *TestKit) RNGAdapter() ports.RNGPort {
	return rng.NewSeededAdapter()
}

// ResultRepository returns the shared in-memory repository.
func (t *TestKit) ResultRepository() *InMemoryResultRepository {
	return t.results
}

// Design describes a synthetic experiment: per block, the number of
// samples at each condition level.
type Design struct {
	Condition string
	Levels    []string
	Block     string   // block factor name, empty for none
	Blocks    []string // block levels
	Counts    [][]int  // Counts[block][level]
}

// TwoGroup is an unblocked two-level design with n1 control and n2 treated
// samples.
func TwoGroup(n1, n2 int) Design {
	return Design{
		Condition: "treatment",
		Levels:    []string{"control", "treated"},
		Counts:    [][]int{{n1, n2}},
	}
}

// Paired is a two-level design with one sample per level for each of n
// subjects.
func Paired(n int) Design {
	d := Design{Condition: "treatment", Levels: []string{"before", "after"}, Block: "subject"}
	for i := 0; i < n; i++ {
		d.Blocks = append(d.Blocks, fmt.Sprintf("subj%02d", i+1))
		d.Counts = append(d.Counts, []int{1, 1})
	}
	return d
}

// Schema builds the schema of d. Samples are named s01, s02, ... and laid
// out block by block, level by level.
func (d Design) Schema() (*design.Schema, error) {
	var names []string
	type assign struct{ level, block string }
	var assigns []assign
	for b, counts := range d.Counts {
		for lvl, n := range counts {
			for i := 0; i < n; i++ {
				names = append(names, fmt.Sprintf("s%02d", len(names)+1))
				a := assign{level: d.Levels[lvl]}
				if d.Block != "" {
					a.block = d.Blocks[b]
				}
				assigns = append(assigns, a)
			}
		}
	}

	s := design.NewSchema(names...)
	if err := s.AddFactor(d.Condition, d.Levels...); err != nil {
		return nil, err
	}
	if d.Block != "" {
		if err := s.AddFactor(d.Block, d.Blocks...); err != nil {
			return nil, err
		}
	}
	for i, name := range names {
		if err := s.SetFactor(name, d.Condition, assigns[i].level); err != nil {
			return nil, err
		}
		if d.Block != "" {
			if err := s.SetFactor(name, d.Block, assigns[i].block); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// LevelOf returns the condition level index of every sample, in the order
// Schema lays them out.
func (d Design) LevelOf() []int {
	var out []int
	for _, counts := range d.Counts {
		for lvl, n := range counts {
			for i := 0; i < n; i++ {
				out = append(out, lvl)
			}
		}
	}
	return out
}

// Matrix builds a matrix from rows named f001, f002, ... with sample names
// s01, s02, ...
func Matrix(rows ...[]float64) (*matrix.Matrix, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("testkit: no rows")
	}
	ids := make([]string, len(rows))
	for i := range ids {
		ids[i] = fmt.Sprintf("f%03d", i+1)
	}
	names := make([]string, len(rows[0]))
	for i := range names {
		names[i] = fmt.Sprintf("s%02d", i+1)
	}
	return matrix.New(ids, names, rows)
}

// Synthetic draws a matrix for d: every feature is normal noise around
// baseline with standard deviation sd, and the first nDiff features add
// effect to every non-baseline level.
func Synthetic(d Design, features, nDiff int, effect, sd float64, seed int64) (*matrix.Matrix, error) {
	r := rand.New(rand.NewSource(seed))
	levels := d.LevelOf()
	rows := make([][]float64, features)
	for f := range rows {
		row := make([]float64, len(levels))
		for s, lvl := range levels {
			row[s] = 10 + r.NormFloat64()*sd
			if f < nDiff && lvl > 0 {
				row[s] += effect
			}
		}
		rows[f] = row
	}
	return Matrix(rows...)
}

// InMemoryResultRepository is a ports.ResultRepository backed by a map.
type InMemoryResultRepository struct {
	mu      sync.RWMutex
	reports map[core.RunID]*run.Report
}

var _ ports.ResultRepository = (*InMemoryResultRepository)(nil)

// NewInMemoryResultRepository creates an empty repository.
func NewInMemoryResultRepository() *InMemoryResultRepository {
	return &InMemoryResultRepository{reports: map[core.RunID]*run.Report{}}
}

func (s *InMemoryResultRepository) SaveReport(ctx context.Context, report *run.Report) error {
	if err := report.Manifest.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.Manifest.RunID] = report
	return nil
}

func (s *InMemoryResultRepository) GetReport(ctx context.Context, runID core.RunID) (*run.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[runID]
	if !ok {
		return nil, core.NewNotFoundError("report", runID.String())
	}
	return r, nil
}

func (s *InMemoryResultRepository) ListRuns(ctx context.Context, limit, offset int) ([]run.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]run.Manifest, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, r.Manifest)
	}
	// Newest first; RunIDs are v7 UUIDs and sort by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].RunID > out[j].RunID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
