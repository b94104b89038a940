// Package design resolves a schema and run configuration into the sample
// grouping every statistic and resampler works from.
package design

import (
	"fmt"
	"sort"
	"strings"

	"gopade/domain/core"
	"gopade/domain/design"
)

// Request names the factors a run uses and the structure its statistic
// needs.
type Request struct {
	Condition    string
	Blocks       []string
	Statistic    string
	Requirements design.Requirements
}

// Resolver turns a schema into a Grouping.
type Resolver struct{}

// NewResolver creates a resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve validates assignments, builds blocks keyed by block-factor
// levels and applies the statistic's structural requirements. Unpaired
// blocks with an undersized cell are dropped with a warning; the run fails
// only if no block survives.
func (r *Resolver) Resolve(schema *design.Schema, req Request) (*design.Grouping, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	cond, ok := schema.Factor(req.Condition)
	if !ok {
		return nil, fmt.Errorf("condition: %w", unknownFactor(req.Condition))
	}
	for _, b := range req.Blocks {
		if _, ok := schema.Factor(b); !ok {
			return nil, fmt.Errorf("block: %w", unknownFactor(b))
		}
	}

	// Every sample must carry a level for every factor in play.
	used := append([]string{req.Condition}, req.Blocks...)
	for _, smp := range schema.Samples {
		for _, f := range used {
			if v := smp.Assignments[f]; v == "" {
				return nil, &design.SchemaIncompleteError{Sample: smp.Name, Factor: f}
			}
		}
	}

	g := &design.Grouping{
		Condition:    req.Condition,
		BlockFactors: append([]string(nil), req.Blocks...),
		Paired:       req.Requirements.Paired,
		Labels:       make(design.Labeling, schema.NumSamples()),
		BlockOf:      make([]int, schema.NumSamples()),
	}

	// Effective levels are the declared levels some sample carries, in
	// declaration order, so the baseline stays first.
	present := make(map[string]bool)
	for _, smp := range schema.Samples {
		present[smp.Assignments[req.Condition]] = true
	}
	levelIdx := make(map[string]int)
	for _, lvl := range cond.Levels {
		if present[lvl] {
			levelIdx[lvl] = len(g.Levels)
			g.Levels = append(g.Levels, lvl)
		} else {
			g.Warnings = append(g.Warnings, design.Warning{
				Kind:    design.WarningUnusedLevel,
				Message: fmt.Sprintf("level %q of %s has no samples and is ignored", lvl, req.Condition),
			})
		}
	}
	if err := checkLevels(req, len(g.Levels)); err != nil {
		return nil, err
	}

	candidates := groupBlocks(schema, req.Blocks)
	var degenerate []string
	for _, c := range candidates {
		counts := make([]int, len(g.Levels))
		for _, s := range c.samples {
			counts[levelIdx[schema.Samples[s].Assignments[req.Condition]]]++
		}
		reason := cellViolation(req.Requirements, counts)
		if reason == "" {
			g.Blocks = append(g.Blocks, design.Block{Key: c.key, Samples: c.samples, LevelCounts: counts})
			continue
		}
		named := make(map[string]int, len(counts))
		for i, n := range counts {
			named[g.Levels[i]] = n
		}
		blockName := design.Block{Key: c.key}.Name()
		if req.Requirements.Paired {
			degenerate = append(degenerate, fmt.Sprintf("block %s: %s", blockName, reason))
			continue
		}
		g.Dropped = append(g.Dropped, design.DroppedBlock{Key: c.key, Counts: named, Reason: reason})
		g.Warnings = append(g.Warnings, design.Warning{
			Kind:    design.WarningBlockDropped,
			Message: fmt.Sprintf("block %s dropped: %s", blockName, reason),
		})
	}

	if len(degenerate) > 0 {
		return nil, &design.DesignDegenerateError{
			Requirement: "paired statistic needs exactly one sample per condition level in every block",
			Details:     degenerate,
		}
	}
	if len(g.Blocks) == 0 || len(g.Blocks) < req.Requirements.MinBlocks {
		details := make([]string, 0, len(g.Dropped))
		for _, d := range g.Dropped {
			details = append(details, design.Block{Key: d.Key}.Name()+": "+d.Reason)
		}
		return nil, &design.DesignDegenerateError{
			Requirement: fmt.Sprintf("%s needs at least %d usable block(s), %d remain",
				req.Statistic, max(req.Requirements.MinBlocks, 1), len(g.Blocks)),
			Details: details,
		}
	}

	for i := range g.Labels {
		g.Labels[i] = design.Excluded
		g.BlockOf[i] = -1
	}
	for b, blk := range g.Blocks {
		for _, s := range blk.Samples {
			g.Labels[s] = levelIdx[schema.Samples[s].Assignments[req.Condition]]
			g.BlockOf[s] = b
		}
	}
	return g, nil
}

func checkLevels(req Request, n int) error {
	rq := req.Requirements
	if rq.Levels > 0 && n != rq.Levels {
		return &design.UnsupportedLayoutError{
			Statistic: req.Statistic,
			Reason:    fmt.Sprintf("needs exactly %d condition levels, %s has %d", rq.Levels, req.Condition, n),
		}
	}
	if n < rq.MinLevels || n < 2 {
		return &design.UnsupportedLayoutError{
			Statistic: req.Statistic,
			Reason:    fmt.Sprintf("needs at least %d condition levels, %s has %d", max(rq.MinLevels, 2), req.Condition, n),
		}
	}
	return nil
}

// cellViolation describes why a block's level counts fail rq, or "".
func cellViolation(rq design.Requirements, counts []int) string {
	if rq.Paired {
		for _, n := range counts {
			if n != 1 {
				return fmt.Sprintf("level counts %v, want one per level", counts)
			}
		}
		return ""
	}
	minimum := rq.MinPerCell
	if minimum < 1 {
		minimum = 1
	}
	for _, n := range counts {
		if n < minimum {
			return fmt.Sprintf("level counts %v, need at least %d per level", counts, minimum)
		}
	}
	return ""
}

type candidate struct {
	key     []string
	samples []int
}

// groupBlocks partitions samples by their block-factor levels, ordered by
// the factors' declared level order. No block factors yields one block.
func groupBlocks(schema *design.Schema, factors []string) []candidate {
	byKey := make(map[string]*candidate)
	for i, smp := range schema.Samples {
		key := make([]string, len(factors))
		for j, f := range factors {
			key[j] = smp.Assignments[f]
		}
		k := strings.Join(key, "\x00")
		c, ok := byKey[k]
		if !ok {
			c = &candidate{key: key}
			byKey[k] = c
		}
		c.samples = append(c.samples, i)
	}

	out := make([]candidate, 0, len(byKey))
	for _, c := range byKey {
		out = append(out, *c)
	}
	rank := func(c candidate) []int {
		r := make([]int, len(factors))
		for j, f := range factors {
			fac, _ := schema.Factor(f)
			r[j] = fac.LevelIndex(c.key[j])
		}
		return r
	}
	sort.Slice(out, func(a, b int) bool {
		ra, rb := rank(out[a]), rank(out[b])
		for j := range ra {
			if ra[j] != rb[j] {
				return ra[j] < rb[j]
			}
		}
		return false
	})
	return out
}

func unknownFactor(name string) error {
	return fmt.Errorf("%w: %s", core.ErrUnknownFactor, name)
}
