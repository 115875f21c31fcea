package model

import (
	"errors"
	"math"
	"testing"

	"github.com/starford/rpfba/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSmallModel(t *testing.T) *Model {
	t.Helper()
	m := New("small")
	require.NoError(t, m.AddCompartment(&Compartment{ID: "c"}))
	require.NoError(t, m.AddSpecies(&Species{ID: "a", CompartmentID: "c"}))
	require.NoError(t, m.AddSpecies(&Species{ID: "b", CompartmentID: "c"}))
	require.NoError(t, m.AddParameter(&Parameter{ID: "zero", Value: 0, Constant: true}))
	require.NoError(t, m.AddParameter(&Parameter{ID: "ten", Value: 10, Constant: true}))
	require.NoError(t, m.AddReaction(&Reaction{
		ID:             "R1",
		Reactants:      []SpeciesRef{{Species: "a", Stoichiometry: 1}},
		Products:       []SpeciesRef{{Species: "b", Stoichiometry: 1}},
		LowerFluxBound: "zero",
		UpperFluxBound: "ten",
	}))
	return m
}

func TestAddDuplicateID(t *testing.T) {
	m := newSmallModel(t)
	err := m.AddSpecies(&Species{ID: "a", CompartmentID: "c"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrAlreadyExists))
	assert.Len(t, m.AllSpecies(), 2)
}

func TestIDTakenAcrossKinds(t *testing.T) {
	m := newSmallModel(t)
	assert.True(t, m.IDTaken("R1"))
	assert.True(t, m.IDTaken("a"))
	assert.True(t, m.IDTaken("ten"))
	assert.False(t, m.IDTaken("R2"))
}

func TestInsertionOrder(t *testing.T) {
	m := New("order")
	for _, id := range []string{"z", "a", "m"} {
		require.NoError(t, m.AddCompartment(&Compartment{ID: id}))
	}
	var got []string
	for _, c := range m.Compartments() {
		got = append(got, c.ID)
	}
	assert.Equal(t, []string{"z", "a", "m"}, got)
}

func TestBounds(t *testing.T) {
	m := newSmallModel(t)
	lo, up, err := m.Bounds("R1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 10.0, up)

	require.NoError(t, m.AddReaction(&Reaction{ID: "free"}))
	lo, up, err = m.Bounds("free")
	require.NoError(t, err)
	assert.True(t, math.IsInf(lo, -1))
	assert.True(t, math.IsInf(up, 1))

	_, _, err = m.Bounds("missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestActiveObjective(t *testing.T) {
	m := newSmallModel(t)
	assert.Nil(t, m.ActiveObjective())
	assert.ErrorIs(t, m.SetActiveObjective("obj_R1"), apperr.ErrNotFound)

	require.NoError(t, m.AddObjective(&Objective{ID: "obj_R1", Maximize: true,
		FluxObjectives: []*FluxObjective{{Reaction: "R1", Coefficient: 1}}}))
	require.NoError(t, m.SetActiveObjective("obj_R1"))
	require.NotNil(t, m.ActiveObjective())
	assert.Equal(t, "obj_R1", m.ActiveObjective().ID)
}

func TestEnsureGroup(t *testing.T) {
	m := newSmallModel(t)
	g := m.EnsureGroup("rp_pathway")
	g.AddMember("R1")
	g.AddMember("R1")
	assert.Same(t, g, m.EnsureGroup("rp_pathway"))
	assert.Equal(t, []string{"R1"}, m.Group("rp_pathway").Members)
}

func TestCloneIsDeep(t *testing.T) {
	m := newSmallModel(t)
	m.Reaction("R1").Annotations.Set("k", "v", "")
	m.EnsureGroup("g").AddMember("R1")
	require.NoError(t, m.AddObjective(&Objective{ID: "o", FluxObjectives: []*FluxObjective{{Reaction: "R1", Coefficient: 1}}}))

	cp := m.Clone()
	cp.Reaction("R1").Annotations.Set("k", "changed", "")
	cp.Reaction("R1").Reactants[0].Stoichiometry = 5
	cp.Parameter("ten").Value = 99
	cp.Group("g").AddMember("a")
	cp.Objective("o").FluxObjectives[0].Annotations.Set("flux_value", "1", FluxUnits)

	a, _ := m.Reaction("R1").Annotations.Get("k")
	assert.Equal(t, "v", a.Value)
	assert.Equal(t, 1.0, m.Reaction("R1").Reactants[0].Stoichiometry)
	assert.Equal(t, 10.0, m.Parameter("ten").Value)
	assert.Equal(t, []string{"R1"}, m.Group("g").Members)
	assert.False(t, m.Objective("o").FluxObjectives[0].Annotations.Has("flux_value"))
}

func TestValidate(t *testing.T) {
	m := newSmallModel(t)
	require.NoError(t, m.Validate())

	require.NoError(t, m.AddReaction(&Reaction{ID: "bad", Reactants: []SpeciesRef{{Species: "ghost", Stoichiometry: 1}}}))
	m.EnsureGroup("g").AddMember("nothing")
	err := m.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Contains(t, err.Error(), "ghost")
	assert.Contains(t, err.Error(), "nothing")
}

func TestAnnotationsOverwriteInPlace(t *testing.T) {
	var a Annotations
	a.SetFloat("fba_obj", 1.5, FluxUnits)
	a.Set("other", "x", "")
	a.SetFloat("fba_obj", 2, FluxUnits)

	assert.Equal(t, []string{"fba_obj", "other"}, a.Keys())
	f, ok := a.Float("fba_obj")
	require.True(t, ok)
	assert.Equal(t, 2.0, f)

	a.Delete("fba_obj")
	assert.False(t, a.Has("fba_obj"))
	assert.Equal(t, 1, a.Len())

	_, ok = a.Float("other")
	assert.False(t, ok)
}
