package design

import (
	"fmt"
	"strings"
)

// Excluded marks a sample that takes no part in the statistic, either
// because its block was dropped or its condition level is unused.
const Excluded = -1

// Labeling assigns a condition level index to every sample column.
// Excluded samples carry Excluded.
type Labeling []int

// Clone returns an independent copy.
func (l Labeling) Clone() Labeling {
	return append(Labeling(nil), l...)
}

// Key returns a compact string usable as a map key for duplicate checks.
func (l Labeling) Key() string {
	var b strings.Builder
	b.Grow(len(l))
	for _, v := range l {
		b.WriteByte(byte(v + 1))
	}
	return b.String()
}

// Requirements is the structure a statistic needs from the design.
type Requirements struct {
	Paired     bool // each block holds exactly one sample per condition level
	MinPerCell int  // minimum samples per (block, level) cell, unpaired only
	Levels     int  // exact number of condition levels, 0 for any
	MinLevels  int  // minimum number of condition levels
	MinBlocks  int  // minimum number of retained blocks
}

// Block is a set of samples sharing the same block-factor levels. Resampling
// never moves a sample out of its block.
type Block struct {
	Key         []string `json:"key"`
	Samples     []int    `json:"samples"`
	LevelCounts []int    `json:"level_counts"`
}

// Name renders the block key for diagnostics.
func (b Block) Name() string {
	if len(b.Key) == 0 {
		return "(all)"
	}
	return strings.Join(b.Key, "/")
}

// DroppedBlock records a block excluded for not meeting a cell minimum.
type DroppedBlock struct {
	Key    []string       `json:"key"`
	Counts map[string]int `json:"counts"`
	Reason string         `json:"reason"`
}

// Grouping is the partition of samples into (block, condition level) cells
// derived from a schema for one run. It is read-only once resolved.
type Grouping struct {
	Condition    string         `json:"condition"`
	Levels       []string       `json:"levels"`
	BlockFactors []string       `json:"block_factors"`
	Blocks       []Block        `json:"blocks"`
	Labels       Labeling       `json:"labels"`
	BlockOf      []int          `json:"block_of"`
	Paired       bool           `json:"paired"`
	Dropped      []DroppedBlock `json:"dropped,omitempty"`
	Warnings     []Warning      `json:"warnings,omitempty"`
}

// NumSamples is the number of matrix columns the grouping covers.
func (g *Grouping) NumSamples() int { return len(g.Labels) }

// NumLevels is the number of condition levels in play.
func (g *Grouping) NumLevels() int { return len(g.Levels) }

// NumIncluded counts samples that take part in the statistic.
func (g *Grouping) NumIncluded() int {
	n := 0
	for _, b := range g.Blocks {
		n += len(b.Samples)
	}
	return n
}

// Cells splits samples into [block][level] index lists under labels.
func (g *Grouping) Cells(labels Labeling) [][][]int {
	cells := make([][][]int, len(g.Blocks))
	for b, blk := range g.Blocks {
		cells[b] = make([][]int, len(g.Levels))
		for _, s := range blk.Samples {
			lvl := labels[s]
			if lvl == Excluded {
				continue
			}
			cells[b][lvl] = append(cells[b][lvl], s)
		}
	}
	return cells
}

// LevelGroups splits samples into per-level index lists under labels,
// ignoring blocks.
func (g *Grouping) LevelGroups(labels Labeling) [][]int {
	groups := make([][]int, len(g.Levels))
	for _, blk := range g.Blocks {
		for _, s := range blk.Samples {
			if lvl := labels[s]; lvl != Excluded {
				groups[lvl] = append(groups[lvl], s)
			}
		}
	}
	return groups
}

// BlockSummary reports the effective sample counts of a retained block.
type BlockSummary struct {
	Key    string         `json:"key"`
	Counts map[string]int `json:"counts"`
}

// Summary describes the design actually used, for diagnostic reporting.
type Summary struct {
	Condition    string         `json:"condition"`
	Levels       []string       `json:"levels"`
	BlockFactors []string       `json:"block_factors,omitempty"`
	Paired       bool           `json:"paired"`
	Blocks       []BlockSummary `json:"blocks"`
	Dropped      []DroppedBlock `json:"dropped,omitempty"`
	Included     int            `json:"included_samples"`
	Excluded     int            `json:"excluded_samples"`
}

// Summary reports the effective cells of the grouping.
func (g *Grouping) Summary() Summary {
	s := Summary{
		Condition:    g.Condition,
		Levels:       append([]string(nil), g.Levels...),
		BlockFactors: append([]string(nil), g.BlockFactors...),
		Paired:       g.Paired,
		Dropped:      append([]DroppedBlock(nil), g.Dropped...),
		Included:     g.NumIncluded(),
	}
	s.Excluded = g.NumSamples() - s.Included
	for _, b := range g.Blocks {
		counts := make(map[string]int, len(g.Levels))
		for i, lvl := range g.Levels {
			counts[lvl] = b.LevelCounts[i]
		}
		s.Blocks = append(s.Blocks, BlockSummary{Key: b.Name(), Counts: counts})
	}
	return s
}

// String renders a one-line description for logs.
func (g *Grouping) String() string {
	return fmt.Sprintf("condition=%s levels=%v blocks=%d dropped=%d included=%d/%d",
		g.Condition, g.Levels, len(g.Blocks), len(g.Dropped), g.NumIncluded(), g.NumSamples())
}
