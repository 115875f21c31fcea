// Package model is the in-memory metabolic network graph: compartments,
// species, reactions, flux-bound parameters, groups and objectives.
//
// A Model is mutable and not safe for concurrent use. Each job owns its own
// Model; shared models are copied with Clone before mutation.
package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/starford/rpfba/internal/apperr"
)

// Compartment is a cellular location.
type Compartment struct {
	ID   string
	Name string
}

// Species is a chemical entity located in one compartment.
type Species struct {
	ID            string
	Name          string
	CompartmentID string
	Formula       string
	// BoundaryCondition species are excluded from mass balance.
	BoundaryCondition bool
	Annotations       Annotations
}

// SpeciesRef is one participant of a reaction.
type SpeciesRef struct {
	Species       string
	Stoichiometry float64
}

// Reaction converts reactants into products. Flux bounds are references to
// Parameters, following the SBML fbc layout.
type Reaction struct {
	ID             string
	Name           string
	Reactants      []SpeciesRef
	Products       []SpeciesRef
	Reversible     bool
	LowerFluxBound string
	UpperFluxBound string
	Annotations    Annotations
}

// Parameter is a named numeric constant, used for flux bounds.
type Parameter struct {
	ID       string
	Value    float64
	Units    string
	Constant bool
}

// Group is a named ordered set of reaction or species ids.
type Group struct {
	ID          string
	Name        string
	Members     []string
	Annotations Annotations
}

// HasMember reports whether id belongs to the group.
func (g *Group) HasMember(id string) bool {
	for _, m := range g.Members {
		if m == id {
			return true
		}
	}
	return false
}

// AddMember appends id unless already present.
func (g *Group) AddMember(id string) {
	if !g.HasMember(id) {
		g.Members = append(g.Members, id)
	}
}

// FluxObjective is one weighted term of an objective.
type FluxObjective struct {
	Reaction    string
	Coefficient float64
	Annotations Annotations
}

// Objective is a weighted sum of reaction fluxes to maximize or minimize.
type Objective struct {
	ID             string
	Maximize       bool
	FluxObjectives []*FluxObjective
	Annotations    Annotations
}

// Reactions returns the reaction ids of the objective terms in order.
func (o *Objective) Reactions() []string {
	out := make([]string, len(o.FluxObjectives))
	for i, fo := range o.FluxObjectives {
		out[i] = fo.Reaction
	}
	return out
}

// collection keeps entities in insertion order with id lookup.
type collection[T any] struct {
	order []string
	items map[string]*T
}

func (c *collection[T]) add(id string, v *T) bool {
	if c.items == nil {
		c.items = make(map[string]*T)
	}
	if _, ok := c.items[id]; ok {
		return false
	}
	c.order = append(c.order, id)
	c.items[id] = v
	return true
}

func (c *collection[T]) get(id string) *T {
	return c.items[id]
}

func (c *collection[T]) list() []*T {
	out := make([]*T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

func (c *collection[T]) has(id string) bool {
	_, ok := c.items[id]
	return ok
}

// Model is a metabolic network.
type Model struct {
	ID   string
	Name string

	compartments collection[Compartment]
	species      collection[Species]
	reactions    collection[Reaction]
	parameters   collection[Parameter]
	groups       collection[Group]
	objectives   collection[Objective]

	activeObjective string
}

// New returns an empty model.
func New(id string) *Model {
	return &Model{ID: id}
}

// IDTaken reports whether id is used by any entity of the model. SBML
// identifiers share a single namespace across entity kinds.
func (m *Model) IDTaken(id string) bool {
	return m.compartments.has(id) || m.species.has(id) || m.reactions.has(id) ||
		m.parameters.has(id) || m.groups.has(id) || m.objectives.has(id)
}

// AddCompartment inserts c.
func (m *Model) AddCompartment(c *Compartment) error {
	if !m.compartments.add(c.ID, c) {
		return fmt.Errorf("model: compartment %q: %w", c.ID, apperr.ErrAlreadyExists)
	}
	return nil
}

// Compartment returns the compartment with id, or nil.
func (m *Model) Compartment(id string) *Compartment { return m.compartments.get(id) }

// Compartments returns all compartments in insertion order.
func (m *Model) Compartments() []*Compartment { return m.compartments.list() }

// AddSpecies inserts s.
func (m *Model) AddSpecies(s *Species) error {
	if !m.species.add(s.ID, s) {
		return fmt.Errorf("model: species %q: %w", s.ID, apperr.ErrAlreadyExists)
	}
	return nil
}

// Species returns the species with id, or nil.
func (m *Model) Species(id string) *Species { return m.species.get(id) }

// AllSpecies returns all species in insertion order.
func (m *Model) AllSpecies() []*Species { return m.species.list() }

// AddReaction inserts r.
func (m *Model) AddReaction(r *Reaction) error {
	if !m.reactions.add(r.ID, r) {
		return fmt.Errorf("model: reaction %q: %w", r.ID, apperr.ErrAlreadyExists)
	}
	return nil
}

// Reaction returns the reaction with id, or nil.
func (m *Model) Reaction(id string) *Reaction { return m.reactions.get(id) }

// Reactions returns all reactions in insertion order.
func (m *Model) Reactions() []*Reaction { return m.reactions.list() }

// AddParameter inserts p.
func (m *Model) AddParameter(p *Parameter) error {
	if !m.parameters.add(p.ID, p) {
		return fmt.Errorf("model: parameter %q: %w", p.ID, apperr.ErrAlreadyExists)
	}
	return nil
}

// Parameter returns the parameter with id, or nil.
func (m *Model) Parameter(id string) *Parameter { return m.parameters.get(id) }

// Parameters returns all parameters in insertion order.
func (m *Model) Parameters() []*Parameter { return m.parameters.list() }

// AddGroup inserts g.
func (m *Model) AddGroup(g *Group) error {
	if !m.groups.add(g.ID, g) {
		return fmt.Errorf("model: group %q: %w", g.ID, apperr.ErrAlreadyExists)
	}
	return nil
}

// Group returns the group with id, or nil.
func (m *Model) Group(id string) *Group { return m.groups.get(id) }

// Groups returns all groups in insertion order.
func (m *Model) Groups() []*Group { return m.groups.list() }

// EnsureGroup returns the group with id, creating an empty one when missing.
func (m *Model) EnsureGroup(id string) *Group {
	if g := m.groups.get(id); g != nil {
		return g
	}
	g := &Group{ID: id}
	m.groups.add(id, g)
	return g
}

// AddObjective inserts o.
func (m *Model) AddObjective(o *Objective) error {
	if !m.objectives.add(o.ID, o) {
		return fmt.Errorf("model: objective %q: %w", o.ID, apperr.ErrAlreadyExists)
	}
	return nil
}

// Objective returns the objective with id, or nil.
func (m *Model) Objective(id string) *Objective { return m.objectives.get(id) }

// Objectives returns all objectives in insertion order.
func (m *Model) Objectives() []*Objective { return m.objectives.list() }

// SetActiveObjective marks id as the single active objective.
func (m *Model) SetActiveObjective(id string) error {
	if !m.objectives.has(id) {
		return fmt.Errorf("model: objective %q: %w", id, apperr.ErrNotFound)
	}
	m.activeObjective = id
	return nil
}

// ActiveObjective returns the active objective, or nil when none is active.
func (m *Model) ActiveObjective() *Objective {
	if m.activeObjective == "" {
		return nil
	}
	return m.objectives.get(m.activeObjective)
}

// Bounds resolves the numeric flux bounds of a reaction. A missing bound
// parameter means the bound is unconstrained.
func (m *Model) Bounds(reactionID string) (lower, upper float64, err error) {
	r := m.reactions.get(reactionID)
	if r == nil {
		return 0, 0, fmt.Errorf("model: reaction %q: %w", reactionID, apperr.ErrNotFound)
	}
	lower, upper = math.Inf(-1), math.Inf(1)
	if r.LowerFluxBound != "" {
		p := m.parameters.get(r.LowerFluxBound)
		if p == nil {
			return 0, 0, fmt.Errorf("model: lower bound parameter %q of %q: %w", r.LowerFluxBound, reactionID, apperr.ErrNotFound)
		}
		lower = p.Value
	}
	if r.UpperFluxBound != "" {
		p := m.parameters.get(r.UpperFluxBound)
		if p == nil {
			return 0, 0, fmt.Errorf("model: upper bound parameter %q of %q: %w", r.UpperFluxBound, reactionID, apperr.ErrNotFound)
		}
		upper = p.Value
	}
	return lower, upper, nil
}

// Clone returns a deep copy of m. Mutating the copy never affects m.
func (m *Model) Clone() *Model {
	out := New(m.ID)
	out.Name = m.Name
	out.activeObjective = m.activeObjective
	for _, c := range m.Compartments() {
		cp := *c
		out.compartments.add(cp.ID, &cp)
	}
	for _, s := range m.AllSpecies() {
		cp := *s
		cp.Annotations = s.Annotations.Clone()
		out.species.add(cp.ID, &cp)
	}
	for _, r := range m.Reactions() {
		out.reactions.add(r.ID, r.Clone())
	}
	for _, p := range m.Parameters() {
		cp := *p
		out.parameters.add(cp.ID, &cp)
	}
	for _, g := range m.Groups() {
		cp := *g
		cp.Members = append([]string(nil), g.Members...)
		cp.Annotations = g.Annotations.Clone()
		out.groups.add(cp.ID, &cp)
	}
	for _, o := range m.Objectives() {
		out.objectives.add(o.ID, o.Clone())
	}
	return out
}

// Clone returns a deep copy of r.
func (r *Reaction) Clone() *Reaction {
	cp := *r
	cp.Reactants = append([]SpeciesRef(nil), r.Reactants...)
	cp.Products = append([]SpeciesRef(nil), r.Products...)
	cp.Annotations = r.Annotations.Clone()
	return &cp
}

// Clone returns a deep copy of o.
func (o *Objective) Clone() *Objective {
	cp := *o
	cp.Annotations = o.Annotations.Clone()
	cp.FluxObjectives = make([]*FluxObjective, len(o.FluxObjectives))
	for i, fo := range o.FluxObjectives {
		f := *fo
		f.Annotations = fo.Annotations.Clone()
		cp.FluxObjectives[i] = &f
	}
	return &cp
}

// Validate checks referential integrity: reaction participants, species
// compartments, bound parameters, group members, objective terms and the
// active objective must all resolve.
func (m *Model) Validate() error {
	var errs []error
	for _, s := range m.AllSpecies() {
		if s.CompartmentID != "" && !m.compartments.has(s.CompartmentID) {
			errs = append(errs, fmt.Errorf("species %q: compartment %q: %w", s.ID, s.CompartmentID, apperr.ErrNotFound))
		}
	}
	for _, r := range m.Reactions() {
		for _, ref := range append(append([]SpeciesRef(nil), r.Reactants...), r.Products...) {
			if !m.species.has(ref.Species) {
				errs = append(errs, fmt.Errorf("reaction %q: species %q: %w", r.ID, ref.Species, apperr.ErrNotFound))
			}
		}
		for _, pid := range []string{r.LowerFluxBound, r.UpperFluxBound} {
			if pid != "" && !m.parameters.has(pid) {
				errs = append(errs, fmt.Errorf("reaction %q: parameter %q: %w", r.ID, pid, apperr.ErrNotFound))
			}
		}
	}
	for _, g := range m.Groups() {
		for _, id := range g.Members {
			if !m.reactions.has(id) && !m.species.has(id) {
				errs = append(errs, fmt.Errorf("group %q: member %q: %w", g.ID, id, apperr.ErrNotFound))
			}
		}
	}
	for _, o := range m.Objectives() {
		for _, fo := range o.FluxObjectives {
			if !m.reactions.has(fo.Reaction) {
				errs = append(errs, fmt.Errorf("objective %q: reaction %q: %w", o.ID, fo.Reaction, apperr.ErrNotFound))
			}
		}
	}
	if m.activeObjective != "" && !m.objectives.has(m.activeObjective) {
		errs = append(errs, fmt.Errorf("active objective %q: %w", m.activeObjective, apperr.ErrNotFound))
	}
	if len(errs) > 0 {
		return fmt.Errorf("model: validate %q: %w", m.ID, errors.Join(errs...))
	}
	return nil
}
