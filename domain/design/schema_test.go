package design

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopade/domain/core"
)

func newTestSchema(t *testing.T) *Schema {
	t.Helper()
	s := NewSchema("a1", "a2", "b1", "b2")
	require.NoError(t, s.AddFactor("treatment", "control", "drug"))
	require.NoError(t, s.AddFactor("batch", "x", "y"))
	for name, v := range map[string][2]string{
		"a1": {"control", "x"},
		"a2": {"control", "y"},
		"b1": {"drug", "x"},
		"b2": {"drug", "y"},
	} {
		require.NoError(t, s.SetFactor(name, "treatment", v[0]))
		require.NoError(t, s.SetFactor(name, "batch", v[1]))
	}
	return s
}

func TestAddFactor(t *testing.T) {
	s := NewSchema("a")
	require.NoError(t, s.AddFactor("treatment", "control", "drug"))

	err := s.AddFactor("treatment", "x")
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
	assert.Error(t, s.AddFactor("", "x"))
	assert.Error(t, s.AddFactor("empty"))
	assert.Error(t, s.AddFactor("dup", "x", "x"))
	assert.Equal(t, []string{"treatment"}, s.FactorNames())
}

func TestSetFactor(t *testing.T) {
	s := newTestSchema(t)

	assert.True(t, errors.Is(s.SetFactor("a1", "treatment", "placebo"), core.ErrUnknownLevel))
	assert.True(t, errors.Is(s.SetFactor("a1", "dose", "high"), core.ErrUnknownFactor))
	assert.True(t, errors.Is(s.SetFactor("zz", "treatment", "drug"), core.ErrUnknownSample))

	v, ok := s.GetFactor("b2", "treatment")
	assert.True(t, ok)
	assert.Equal(t, "drug", v)
	_, ok = s.GetFactor("b2", "dose")
	assert.False(t, ok)
}

func TestBaselineLevel(t *testing.T) {
	s := newTestSchema(t)
	base, err := s.BaselineLevel("treatment")
	require.NoError(t, err)
	assert.Equal(t, "control", base)

	_, err = s.BaselineLevel("dose")
	assert.True(t, errors.Is(err, core.ErrUnknownFactor))
}

func TestFactorCombinations(t *testing.T) {
	s := newTestSchema(t)
	combos, err := s.FactorCombinations([]string{"treatment", "batch"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"control", "x"}, {"control", "y"},
		{"drug", "x"}, {"drug", "y"},
	}, combos)

	combos, err = s.FactorCombinations(nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{}}, combos)
}

func TestSamplesWithAssignments(t *testing.T) {
	s := newTestSchema(t)
	assert.Equal(t, []string{"b1", "b2"}, s.SamplesWithAssignments(map[string]string{"treatment": "drug"}))
	assert.Equal(t, []string{"a2"}, s.SamplesWithAssignments(map[string]string{"treatment": "control", "batch": "y"}))
	assert.Empty(t, s.SamplesWithAssignments(map[string]string{"batch": "z"}))
	assert.Equal(t, []int{0, 1, 2, 3}, s.IndexesWithAssignments(nil))
}

func TestSchemaValidate(t *testing.T) {
	s := newTestSchema(t)
	require.NoError(t, s.Validate())

	s.Samples[0].Assignments["dose"] = "high"
	assert.True(t, errors.Is(s.Validate(), core.ErrUnknownFactor))

	s = newTestSchema(t)
	s.Samples[1].Assignments["batch"] = "z"
	assert.True(t, errors.Is(s.Validate(), core.ErrUnknownLevel))

	s = newTestSchema(t)
	s.Samples = append(s.Samples, Sample{Name: "a1"})
	assert.Error(t, s.Validate())

	// unassigned is allowed at this layer
	s = newTestSchema(t)
	delete(s.Samples[2].Assignments, "batch")
	assert.NoError(t, s.Validate())
}

func TestSchemaHash(t *testing.T) {
	a, b := newTestSchema(t), newTestSchema(t)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEmpty(t, a.Hash())

	require.NoError(t, b.SetFactor("a1", "batch", "y"))
	assert.NotEqual(t, a.Hash(), b.Hash())
}
