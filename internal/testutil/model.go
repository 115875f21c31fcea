package testutil

import (
	"strconv"
	"strings"
	"testing"

	"github.com/starford/rpfba/internal/model"
	"github.com/starford/rpfba/internal/sbml"
)

// Identity keys used by the fixtures.
const (
	GlucoseKey = "WQZGKKKJIJFFOK-GASJEMHNSA-N"
	TargetKey  = "TARGETXXXXXXXX-UHFFFAOYSA-N"
	AcetateKey = "QTBSBXVTEAMEQO-UHFFFAOYSA-M"
)

// ModelBuilder assembles small models for tests. Any failure aborts the test.
type ModelBuilder struct {
	t testing.TB
	m *model.Model
}

// NewModel starts a model with a single MNXC3 compartment.
func NewModel(t testing.TB, id string) *ModelBuilder {
	t.Helper()
	b := &ModelBuilder{t: t, m: model.New(id)}
	b.must(b.m.AddCompartment(&model.Compartment{ID: "MNXC3", Name: "cytosol"}))
	return b
}

func (b *ModelBuilder) must(err error) {
	b.t.Helper()
	if err != nil {
		b.t.Fatal(err)
	}
}

// Species adds a species in MNXC3 carrying an inchikey annotation when key
// is not empty.
func (b *ModelBuilder) Species(id, key string) *ModelBuilder {
	b.t.Helper()
	s := &model.Species{ID: id, Name: id, CompartmentID: "MNXC3"}
	if key != "" {
		s.Annotations.Set("inchikey", key, "")
	}
	b.must(b.m.AddSpecies(s))
	return b
}

// Reaction adds an irreversible reaction from an equation such as
// "2 a + b -> c" or "-> glc".
func (b *ModelBuilder) Reaction(id string, lower, upper float64, equation string) *ModelBuilder {
	b.t.Helper()
	lhs, rhs, ok := strings.Cut(equation, "->")
	if !ok {
		b.t.Fatalf("testutil: equation %q has no arrow", equation)
	}
	r := &model.Reaction{
		ID:             id,
		Name:           id,
		Reactants:      b.side(lhs),
		Products:       b.side(rhs),
		Reversible:     lower < 0,
		LowerFluxBound: b.bound(lower),
		UpperFluxBound: b.bound(upper),
	}
	b.must(b.m.AddReaction(r))
	return b
}

func (b *ModelBuilder) side(s string) []model.SpeciesRef {
	b.t.Helper()
	var refs []model.SpeciesRef
	for _, term := range strings.Split(s, "+") {
		fields := strings.Fields(term)
		switch len(fields) {
		case 0:
		case 1:
			refs = append(refs, model.SpeciesRef{Species: fields[0], Stoichiometry: 1})
		case 2:
			st, err := strconv.ParseFloat(fields[0], 64)
			b.must(err)
			refs = append(refs, model.SpeciesRef{Species: fields[1], Stoichiometry: st})
		default:
			b.t.Fatalf("testutil: bad term %q", term)
		}
	}
	return refs
}

func (b *ModelBuilder) bound(v float64) string {
	id := "fx_" + strings.NewReplacer("-", "neg_", "+", "", ".", "_").Replace(strconv.FormatFloat(v, 'f', -1, 64))
	if b.m.Parameter(id) == nil {
		b.must(b.m.AddParameter(&model.Parameter{ID: id, Value: v, Units: model.FluxUnits, Constant: true}))
	}
	return id
}

// Objective adds a maximizing single-reaction objective and makes it active.
func (b *ModelBuilder) Objective(id, reaction string) *ModelBuilder {
	b.t.Helper()
	b.must(b.m.AddObjective(&model.Objective{
		ID:             id,
		Maximize:       true,
		FluxObjectives: []*model.FluxObjective{{Reaction: reaction, Coefficient: 1}},
	}))
	b.must(b.m.SetActiveObjective(id))
	return b
}

// Group adds a group with the given members.
func (b *ModelBuilder) Group(id string, members ...string) *ModelBuilder {
	b.t.Helper()
	b.must(b.m.AddGroup(&model.Group{ID: id, Members: members}))
	return b
}

// Build validates and returns the model.
func (b *ModelBuilder) Build() *model.Model {
	b.t.Helper()
	b.must(b.m.Validate())
	return b.m
}

// GEM is a two-reaction host: glucose uptake capped at 10 and a biomass
// drain, plus an acetate export. Biomass optimum is 10.
func GEM(t testing.TB) *model.Model {
	t.Helper()
	return NewModel(t, "host").
		Species("glc__64__MNXC3", GlucoseKey).
		Species("ac__64__MNXC3", AcetateKey).
		Reaction("EX_glc", 0, 10, "-> glc__64__MNXC3").
		Reaction("biomass", 0, 1000, "glc__64__MNXC3 ->").
		Reaction("EX_ac", 0, 1000, "ac__64__MNXC3 ->").
		Objective("host_objective", "biomass").
		Build()
}

// Pathway converts glucose to a target compound drained by RP1_sink. The
// pathway's glucose species has its own id and matches the GEM by inchikey.
func Pathway(t testing.TB, id string) *model.Model {
	t.Helper()
	return NewModel(t, id).
		Species("MNXM41__64__MNXC3", GlucoseKey).
		Species("TARGET_0000000001__64__MNXC3", TargetKey).
		Reaction("RP1", 0, 1000, "MNXM41__64__MNXC3 -> TARGET_0000000001__64__MNXC3").
		Reaction("RP1_sink", 0, 1000, "TARGET_0000000001__64__MNXC3 ->").
		Group("rp_pathway", "RP1", "RP1_sink").
		Group("central_species", "MNXM41__64__MNXC3", "TARGET_0000000001__64__MNXC3").
		Group("rp_sink_species", "TARGET_0000000001__64__MNXC3").
		Build()
}

// AcetateSinkPathway drains acetate with a sink that is stoichiometrically
// identical to the GEM's EX_ac, which merging reports as a sink collision.
func AcetateSinkPathway(t testing.TB, id string) *model.Model {
	t.Helper()
	return NewModel(t, id).
		Species("MNXM26__64__MNXC3", AcetateKey).
		Reaction("RP1_sink", 0, 1000, "MNXM26__64__MNXC3 ->").
		Group("rp_pathway", "RP1_sink").
		Group("rp_sink_species", "MNXM26__64__MNXC3").
		Build()
}

// SBML serializes m.
func SBML(t testing.TB, m *model.Model) []byte {
	t.Helper()
	b, err := sbml.WriteBytes(m)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
