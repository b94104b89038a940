// Package resampling produces the observed labeling and the null
// iterations of a run: exact or sampled within-block permutations, or
// within-block bootstrap draws.
package resampling

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"

	"gopade/domain/design"
	"gopade/domain/stats"
	"gopade/ports"
)

const streamName = "resampling"

// Unit is one resampling iteration. Permutation units carry new labels;
// bootstrap units keep the observed labels and carry Columns, the source
// column for each sample (-1 for samples outside every block).
type Unit struct {
	Index    int
	Observed bool
	Labels   design.Labeling
	Columns  []int
}

// Options configure a generator.
type Options struct {
	Mode       stats.Mode
	Iterations int
	Seed       int64
	// DedupRetries bounds redraws of a permutation already seen.
	DedupRetries int
	// DedupWindow is how many recent permutations are checked for
	// duplicates; zero checks all of them.
	DedupWindow int
}

// Generator emits the units of one run. It is deterministic in
// (grouping, options) and produces units sequentially, so downstream
// scheduling order never affects which labelings are drawn.
type Generator struct {
	grouping *design.Grouping
	rng      ports.RNGPort
	opts     Options

	distinct   *big.Int
	exact      bool
	duplicates int
	emitted    int
}

// NewGenerator prepares a generator. Permutation mode switches to exact
// enumeration when the design admits no more distinct labelings than the
// requested iterations.
func NewGenerator(g *design.Grouping, rng ports.RNGPort, opts Options) (*Generator, error) {
	if opts.Iterations < 1 {
		return nil, fmt.Errorf("resampling: iterations must be positive, got %d", opts.Iterations)
	}
	switch opts.Mode {
	case stats.ModePermutation, stats.ModeBootstrap:
	default:
		return nil, fmt.Errorf("resampling: unknown mode %q", opts.Mode)
	}
	gen := &Generator{grouping: g, rng: rng, opts: opts}
	if opts.Mode == stats.ModePermutation {
		gen.distinct = DistinctPermutations(g)
		gen.exact = gen.distinct.Cmp(big.NewInt(int64(opts.Iterations))) <= 0
	}
	return gen, nil
}

// Observed is the identity unit carrying the true labeling.
func (gen *Generator) Observed() Unit {
	return Unit{Index: -1, Observed: true, Labels: gen.grouping.Labels.Clone()}
}

// Exact reports whether every distinct permutation is enumerated.
func (gen *Generator) Exact() bool { return gen.exact }

// Distinct is the number of distinct permutations, nil in bootstrap mode.
func (gen *Generator) Distinct() *big.Int { return gen.distinct }

// Iterations is the number of null units Generate will emit.
func (gen *Generator) Iterations() int {
	if gen.exact {
		return int(gen.distinct.Int64())
	}
	return gen.opts.Iterations
}

// Duplicates counts sampled permutations accepted after the retry budget
// ran out. Valid once Generate returns.
func (gen *Generator) Duplicates() int { return gen.duplicates }

// Emitted is the number of units handed to emit so far.
func (gen *Generator) Emitted() int { return gen.emitted }

// Warnings describes approximations taken by the last Generate call.
func (gen *Generator) Warnings() []design.Warning {
	var out []design.Warning
	if gen.opts.Mode == stats.ModePermutation && !gen.exact {
		out = append(out, design.Warning{
			Kind: design.WarningApproximateResampling,
			Message: fmt.Sprintf("sampled %d of %s distinct permutations",
				gen.opts.Iterations, gen.distinct.String()),
		})
	}
	if gen.duplicates > 0 {
		out = append(out, design.Warning{
			Kind: design.WarningResamplingExhaustion,
			Message: fmt.Sprintf("accepted %d duplicate permutations after %d retries each",
				gen.duplicates, gen.opts.DedupRetries),
		})
	}
	return out
}

// Generate emits every null unit in order. It stops at the first error
// from emit or when ctx is done.
func (gen *Generator) Generate(ctx context.Context, emit func(Unit) error) error {
	gen.duplicates, gen.emitted = 0, 0
	switch {
	case gen.exact:
		return gen.enumerate(ctx, emit)
	case gen.opts.Mode == stats.ModeBootstrap:
		return gen.bootstrap(ctx, emit)
	default:
		return gen.sample(ctx, emit)
	}
}

func (gen *Generator) send(emit func(Unit) error, u Unit) error {
	if err := emit(u); err != nil {
		return err
	}
	gen.emitted++
	return nil
}

func (gen *Generator) enumerate(ctx context.Context, emit func(Unit) error) error {
	e := newEnumerator(gen.grouping)
	for i := 0; ; i++ {
		labels := e.Next()
		if labels == nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := gen.send(emit, Unit{Index: i, Labels: labels}); err != nil {
			return err
		}
	}
}

func (gen *Generator) sample(ctx context.Context, emit func(Unit) error) error {
	seen := newWindow(gen.opts.DedupWindow)
	for i := 0; i < gen.opts.Iterations; i++ {
		var labels design.Labeling
		for attempt := 0; ; attempt++ {
			r, err := gen.rng.IterationStream(ctx, streamName, i, attempt, gen.opts.Seed)
			if err != nil {
				return err
			}
			labels = gen.permute(r)
			if !seen.Contains(labels.Key()) {
				break
			}
			if attempt >= gen.opts.DedupRetries {
				gen.duplicates++
				break
			}
		}
		seen.Add(labels.Key())
		if err := gen.send(emit, Unit{Index: i, Labels: labels}); err != nil {
			return err
		}
	}
	return nil
}

// permute shuffles condition labels within every block.
func (gen *Generator) permute(r *rand.Rand) design.Labeling {
	labels := gen.grouping.Labels.Clone()
	for _, blk := range gen.grouping.Blocks {
		s := blk.Samples
		r.Shuffle(len(s), func(a, b int) {
			labels[s[a]], labels[s[b]] = labels[s[b]], labels[s[a]]
		})
	}
	return labels
}

func (gen *Generator) bootstrap(ctx context.Context, emit func(Unit) error) error {
	g := gen.grouping
	for i := 0; i < gen.opts.Iterations; i++ {
		r, err := gen.rng.IterationStream(ctx, streamName, i, 0, gen.opts.Seed)
		if err != nil {
			return err
		}
		cols := make([]int, g.NumSamples())
		for s := range cols {
			cols[s] = -1
		}
		for _, blk := range g.Blocks {
			for _, s := range blk.Samples {
				cols[s] = blk.Samples[r.Intn(len(blk.Samples))]
			}
		}
		u := Unit{Index: i, Labels: g.Labels.Clone(), Columns: cols}
		if err := gen.send(emit, u); err != nil {
			return err
		}
	}
	return nil
}

// window remembers the most recent keys, or all keys when size is zero.
type window struct {
	size int
	keys map[string]int
	ring []string
	next int
}

func newWindow(size int) *window {
	return &window{size: size, keys: make(map[string]int)}
}

func (w *window) Contains(k string) bool {
	return w.keys[k] > 0
}

func (w *window) Add(k string) {
	w.keys[k]++
	if w.size <= 0 {
		return
	}
	if len(w.ring) < w.size {
		w.ring = append(w.ring, k)
		return
	}
	old := w.ring[w.next]
	if w.keys[old]--; w.keys[old] == 0 {
		delete(w.keys, old)
	}
	w.ring[w.next] = k
	w.next = (w.next + 1) % w.size
}
