package resampling

import (
	"math/big"
	"sort"

	"gopade/domain/design"
)

// DistinctPermutations counts the labelings reachable by permuting
// condition labels within blocks: the product over blocks of
// n! / (n1! n2! ... nk!). Paired two-level designs give 2^blocks.
func DistinctPermutations(g *design.Grouping) *big.Int {
	total := big.NewInt(1)
	var c big.Int
	for _, blk := range g.Blocks {
		remaining := int64(len(blk.Samples))
		for _, n := range blk.LevelCounts {
			c.Binomial(remaining, int64(n))
			total.Mul(total, &c)
			remaining -= int64(n)
		}
	}
	return total
}

// enumerator walks every distinct labeling in canonical order: each block
// steps through the lexicographic permutations of its sorted label
// multiset, and blocks advance like an odometer with the last block
// fastest.
type enumerator struct {
	base    design.Labeling
	samples [][]int
	state   [][]int
	done    bool
}

func newEnumerator(g *design.Grouping) *enumerator {
	e := &enumerator{base: g.Labels.Clone()}
	for _, blk := range g.Blocks {
		e.samples = append(e.samples, blk.Samples)
		labels := make([]int, len(blk.Samples))
		for i, s := range blk.Samples {
			labels[i] = g.Labels[s]
		}
		sort.Ints(labels)
		e.state = append(e.state, labels)
	}
	return e
}

// Next returns the next labeling, or nil once every labeling has been
// produced.
func (e *enumerator) Next() design.Labeling {
	if e.done {
		return nil
	}
	out := e.base.Clone()
	for b, samples := range e.samples {
		for i, s := range samples {
			out[s] = e.state[b][i]
		}
	}
	e.advance()
	return out
}

func (e *enumerator) advance() {
	for b := len(e.state) - 1; b >= 0; b-- {
		if nextPermutation(e.state[b]) {
			return
		}
		// Wrapped around; nextPermutation left it sorted again.
	}
	e.done = true
}

// nextPermutation rearranges a into the next lexicographic permutation of
// its multiset. At the last permutation it restores ascending order and
// returns false.
func nextPermutation(a []int) bool {
	i := len(a) - 2
	for i >= 0 && a[i] >= a[i+1] {
		i--
	}
	if i < 0 {
		reverse(a)
		return false
	}
	j := len(a) - 1
	for a[j] <= a[i] {
		j--
	}
	a[i], a[j] = a[j], a[i]
	reverse(a[i+1:])
	return true
}

func reverse(a []int) {
	for i, j := 0, len(a)-1; i < j; i, j = i+1, j-1 {
		a[i], a[j] = a[j], a[i]
	}
}
