package design

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopade/domain/core"
)

// Factor is a named experimental variable with an ordered set of levels.
// The first level is the baseline.
type Factor struct {
	Name   string   `json:"name" yaml:"name"`
	Levels []string `json:"values" yaml:"values"`
}

// Validate checks the factor has a name and unique, non-empty levels.
func (f Factor) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return core.NewValidationError("factor", "name cannot be empty")
	}
	if len(f.Levels) == 0 {
		return core.NewValidationError("factor "+f.Name, "needs at least one level")
	}
	seen := make(map[string]bool, len(f.Levels))
	for _, lvl := range f.Levels {
		if strings.TrimSpace(lvl) == "" {
			return core.NewValidationError("factor "+f.Name, "levels cannot be empty")
		}
		if seen[lvl] {
			return core.NewValidationError("factor "+f.Name, fmt.Sprintf("duplicate level %q", lvl))
		}
		seen[lvl] = true
	}
	return nil
}

// LevelIndex returns the position of level v, or -1.
func (f Factor) LevelIndex(v string) int {
	for i, lvl := range f.Levels {
		if lvl == v {
			return i
		}
	}
	return -1
}

// Sample is one column of the input matrix together with its factor
// assignments. A factor missing from Assignments is unassigned.
type Sample struct {
	Name        string            `json:"name" yaml:"name"`
	Assignments map[string]string `json:"assignments" yaml:"assignments"`
}

// Schema describes the experiment: factors in declaration order and samples
// in matrix column order.
type Schema struct {
	Factors []Factor `json:"factors"`
	Samples []Sample `json:"samples"`

	sampleIndex map[string]int
}

// NewSchema creates a schema with the given samples and no factors.
func NewSchema(sampleNames ...string) *Schema {
	s := &Schema{Samples: make([]Sample, 0, len(sampleNames))}
	for _, name := range sampleNames {
		s.Samples = append(s.Samples, Sample{Name: name, Assignments: map[string]string{}})
	}
	s.reindex()
	return s
}

func (s *Schema) reindex() {
	s.sampleIndex = make(map[string]int, len(s.Samples))
	for i, smp := range s.Samples {
		s.sampleIndex[smp.Name] = i
	}
}

// AddFactor declares a factor. Existing samples start unassigned for it.
func (s *Schema) AddFactor(name string, levels ...string) error {
	f := Factor{Name: name, Levels: append([]string(nil), levels...)}
	if err := f.Validate(); err != nil {
		return err
	}
	if _, ok := s.Factor(name); ok {
		return core.NewValidationError("factor "+name, "already declared")
	}
	s.Factors = append(s.Factors, f)
	return nil
}

// Factor looks up a factor by name.
func (s *Schema) Factor(name string) (Factor, bool) {
	for _, f := range s.Factors {
		if f.Name == name {
			return f, true
		}
	}
	return Factor{}, false
}

// FactorNames returns the factor names in declaration order.
func (s *Schema) FactorNames() []string {
	names := make([]string, len(s.Factors))
	for i, f := range s.Factors {
		names[i] = f.Name
	}
	return names
}

// SampleNames returns the sample names in column order.
func (s *Schema) SampleNames() []string {
	names := make([]string, len(s.Samples))
	for i, smp := range s.Samples {
		names[i] = smp.Name
	}
	return names
}

// NumSamples returns the number of samples.
func (s *Schema) NumSamples() int {
	return len(s.Samples)
}

// SampleIndex returns the column index of the named sample.
func (s *Schema) SampleIndex(name string) (int, bool) {
	if s.sampleIndex == nil || len(s.sampleIndex) != len(s.Samples) {
		s.reindex()
	}
	i, ok := s.sampleIndex[name]
	return i, ok
}

// SetFactor assigns a level to a sample, rejecting levels the factor does
// not declare.
func (s *Schema) SetFactor(sample, factor, value string) error {
	f, ok := s.Factor(factor)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownFactor, factor)
	}
	if f.LevelIndex(value) < 0 {
		return fmt.Errorf("%w: value %q for factor %q; allowed values are %v",
			core.ErrUnknownLevel, value, factor, f.Levels)
	}
	i, ok := s.SampleIndex(sample)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownSample, sample)
	}
	if s.Samples[i].Assignments == nil {
		s.Samples[i].Assignments = map[string]string{}
	}
	s.Samples[i].Assignments[factor] = value
	return nil
}

// GetFactor returns the level assigned to sample for factor.
func (s *Schema) GetFactor(sample, factor string) (string, bool) {
	i, ok := s.SampleIndex(sample)
	if !ok {
		return "", false
	}
	v, ok := s.Samples[i].Assignments[factor]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// BaselineLevel returns the first level declared for factor.
func (s *Schema) BaselineLevel(factor string) (string, error) {
	f, ok := s.Factor(factor)
	if !ok {
		return "", fmt.Errorf("%w: %s", core.ErrUnknownFactor, factor)
	}
	return f.Levels[0], nil
}

// FactorCombinations lists every combination of levels for the given
// factors, first factor varying slowest.
func (s *Schema) FactorCombinations(factors []string) ([][]string, error) {
	combos := [][]string{{}}
	for _, name := range factors {
		f, ok := s.Factor(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", core.ErrUnknownFactor, name)
		}
		next := make([][]string, 0, len(combos)*len(f.Levels))
		for _, c := range combos {
			for _, lvl := range f.Levels {
				row := append(append([]string(nil), c...), lvl)
				next = append(next, row)
			}
		}
		combos = next
	}
	return combos, nil
}

// SamplesWithAssignments returns the names of samples matching every
// factor/level pair in assignments.
func (s *Schema) SamplesWithAssignments(assignments map[string]string) []string {
	var names []string
	for _, i := range s.IndexesWithAssignments(assignments) {
		names = append(names, s.Samples[i].Name)
	}
	return names
}

// IndexesWithAssignments is SamplesWithAssignments returning column indexes.
func (s *Schema) IndexesWithAssignments(assignments map[string]string) []int {
	var idxs []int
	for i, smp := range s.Samples {
		match := true
		for f, v := range assignments {
			if smp.Assignments[f] != v {
				match = false
				break
			}
		}
		if match {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// Validate checks factors, sample names and that every assignment names a
// declared factor and level. Missing assignments are not an error here; the
// group resolver rejects them only for factors a run uses.
func (s *Schema) Validate() error {
	names := make(map[string]bool, len(s.Factors))
	for _, f := range s.Factors {
		if err := f.Validate(); err != nil {
			return err
		}
		if names[f.Name] {
			return core.NewValidationError("factor "+f.Name, "declared twice")
		}
		names[f.Name] = true
	}
	seen := make(map[string]bool, len(s.Samples))
	for _, smp := range s.Samples {
		if strings.TrimSpace(smp.Name) == "" {
			return core.NewValidationError("sample", "name cannot be empty")
		}
		if seen[smp.Name] {
			return core.NewValidationError("sample "+smp.Name, "declared twice")
		}
		seen[smp.Name] = true
		for factor, value := range smp.Assignments {
			f, ok := s.Factor(factor)
			if !ok {
				return fmt.Errorf("%w: sample %s references %s", core.ErrUnknownFactor, smp.Name, factor)
			}
			if value != "" && f.LevelIndex(value) < 0 {
				return fmt.Errorf("%w: sample %s has %q for factor %s", core.ErrUnknownLevel, smp.Name, value, factor)
			}
		}
	}
	s.reindex()
	return nil
}

// Hash fingerprints factors, samples and assignments. Map keys are
// serialized in sorted order so the hash is stable.
func (s *Schema) Hash() core.SchemaHash {
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return core.SchemaHash(core.NewHash(data))
}
