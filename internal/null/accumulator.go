// Package null pools the statistic vectors of the null iterations into the
// tail counts the FDR estimator needs.
package null

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"gopade/domain/core"
	"gopade/domain/stats"
)

// Accumulator collects null statistic magnitudes. Add is safe for
// concurrent use and commutative: the finalized state depends only on the
// set of (iteration, vector) pairs added, never on their order.
type Accumulator interface {
	Add(iteration int, v *stats.Vector) error
	Merge(other Accumulator) error
	Finalize() error

	// CountAtLeast is the number of pooled values with magnitude >= t.
	CountAtLeast(t float64) (int64, error)

	Retention() stats.Retention
	Iterations() int
	Pooled() int64
	// Excluded counts (iteration, feature) values left out as invalid.
	Excluded() int64
}

// Magnitude maps a statistic value to its extremeness.
type Magnitude func(float64) float64

// New builds an accumulator. Binned retention needs the bin edges, which
// should be the observed magnitudes so tail counts at every observed
// threshold stay exact.
func New(retention stats.Retention, magnitude Magnitude, edges []float64) (Accumulator, error) {
	if magnitude == nil {
		magnitude = func(v float64) float64 { return v }
	}
	switch retention {
	case stats.RetentionFull, "":
		return NewFull(magnitude), nil
	case stats.RetentionBinned:
		return NewBinned(magnitude, edges), nil
	}
	return nil, fmt.Errorf("%w: unknown retention %q", core.ErrInvalidConfig, retention)
}

type base struct {
	mu        sync.Mutex
	magnitude Magnitude
	seen      map[int]bool
	pooled    int64
	excluded  int64
	sealed    bool
}

func (b *base) begin(iteration int) error {
	if b.sealed {
		return core.ErrAccumulatorSealed
	}
	if b.seen[iteration] {
		return fmt.Errorf("null: iteration %d added twice", iteration)
	}
	b.seen[iteration] = true
	return nil
}

func (b *base) Iterations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.seen)
}

func (b *base) Pooled() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pooled
}

func (b *base) Excluded() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.excluded
}

// magnitudes returns the valid magnitudes of v and the invalid count.
func (b *base) magnitudes(v *stats.Vector) ([]float64, int64) {
	out := make([]float64, 0, v.Len())
	var invalid int64
	for f, x := range v.Values {
		if !v.Valid(f) {
			invalid++
			continue
		}
		m := b.magnitude(x)
		if math.IsNaN(m) {
			invalid++
			continue
		}
		out = append(out, m)
	}
	return out, invalid
}

// Full retains every pooled magnitude.
type Full struct {
	base
	byIteration map[int][]float64
	sorted      []float64
}

// NewFull creates a full-retention accumulator.
func NewFull(magnitude Magnitude) *Full {
	return &Full{
		base:        base{magnitude: magnitude, seen: map[int]bool{}},
		byIteration: map[int][]float64{},
	}
}

func (a *Full) Retention() stats.Retention { return stats.RetentionFull }

// Add pools one iteration.
func (a *Full) Add(iteration int, v *stats.Vector) error {
	values, invalid := a.magnitudes(v)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(iteration); err != nil {
		return err
	}
	a.byIteration[iteration] = values
	a.pooled += int64(len(values))
	a.excluded += invalid
	return nil
}

// Merge folds another full accumulator into a. Both must be open.
func (a *Full) Merge(other Accumulator) error {
	o, ok := other.(*Full)
	if !ok {
		return fmt.Errorf("null: cannot merge %T into full accumulator", other)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()
	for it, values := range o.byIteration {
		if err := a.begin(it); err != nil {
			return err
		}
		a.byIteration[it] = values
		a.pooled += int64(len(values))
	}
	a.excluded += o.excluded
	return nil
}

// Finalize sorts the pooled values. No more values may be added.
func (a *Full) Finalize() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return core.ErrAccumulatorSealed
	}
	a.sorted = make([]float64, 0, a.pooled)
	for _, values := range a.byIteration {
		a.sorted = append(a.sorted, values...)
	}
	sort.Float64s(a.sorted)
	a.byIteration = nil
	a.sealed = true
	return nil
}

// CountAtLeast counts pooled magnitudes >= t.
func (a *Full) CountAtLeast(t float64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.sealed {
		return 0, core.ErrAccumulatorPending
	}
	return int64(len(a.sorted) - sort.SearchFloat64s(a.sorted, t)), nil
}

// Binned keeps counts between fixed edges. Tail counts are exact at every
// edge; for a threshold between edges they are the count at the next edge
// up, an undercount.
type Binned struct {
	base
	edges  []float64
	counts []int64 // counts[0] is below edges[0]; counts[i+1] is [edges[i], edges[i+1])
	tails  []int64
}

// NewBinned creates a binned accumulator. edges are sorted and
// deduplicated; NaN edges are ignored.
func NewBinned(magnitude Magnitude, edges []float64) *Binned {
	clean := make([]float64, 0, len(edges))
	for _, e := range edges {
		if !math.IsNaN(e) {
			clean = append(clean, e)
		}
	}
	sort.Float64s(clean)
	uniq := clean[:0]
	for i, e := range clean {
		if i == 0 || e != clean[i-1] {
			uniq = append(uniq, e)
		}
	}
	return &Binned{
		base:   base{magnitude: magnitude, seen: map[int]bool{}},
		edges:  uniq,
		counts: make([]int64, len(uniq)+1),
	}
}

func (a *Binned) Retention() stats.Retention { return stats.RetentionBinned }

// Edges returns the bin edges.
func (a *Binned) Edges() []float64 { return a.edges }

func (a *Binned) bin(v float64) int {
	i := sort.SearchFloat64s(a.edges, v)
	if i < len(a.edges) && a.edges[i] == v {
		return i + 1
	}
	return i
}

// Add pools one iteration.
func (a *Binned) Add(iteration int, v *stats.Vector) error {
	values, invalid := a.magnitudes(v)
	local := make(map[int]int64, len(values))
	for _, m := range values {
		local[a.bin(m)]++
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(iteration); err != nil {
		return err
	}
	for i, n := range local {
		a.counts[i] += n
	}
	a.pooled += int64(len(values))
	a.excluded += invalid
	return nil
}

// Merge adds another binned accumulator with identical edges into a.
func (a *Binned) Merge(other Accumulator) error {
	o, ok := other.(*Binned)
	if !ok {
		return fmt.Errorf("null: cannot merge %T into binned accumulator", other)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(o.edges) != len(a.edges) {
		return fmt.Errorf("null: bin edges differ")
	}
	for i := range a.edges {
		if a.edges[i] != o.edges[i] {
			return fmt.Errorf("null: bin edges differ at %d", i)
		}
	}
	for it := range o.seen {
		if err := a.begin(it); err != nil {
			return err
		}
	}
	for i, n := range o.counts {
		a.counts[i] += n
	}
	a.pooled += o.pooled
	a.excluded += o.excluded
	return nil
}

// Finalize computes suffix sums so tail queries are constant time.
func (a *Binned) Finalize() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return core.ErrAccumulatorSealed
	}
	a.tails = make([]int64, len(a.counts)+1)
	for i := len(a.counts) - 1; i >= 0; i-- {
		a.tails[i] = a.tails[i+1] + a.counts[i]
	}
	a.sealed = true
	return nil
}

// CountAtLeast counts pooled magnitudes >= t, exactly when t is an edge.
func (a *Binned) CountAtLeast(t float64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.sealed {
		return 0, core.ErrAccumulatorPending
	}
	i := sort.SearchFloat64s(a.edges, t)
	return a.tails[i+1], nil
}
