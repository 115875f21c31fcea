// Package merge inserts a pathway model into a copy of a genome-scale model,
// reconciling species by chemical identity and reactions by stoichiometry.
package merge

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/starford/rpfba/internal/model"
	"github.com/starford/rpfba/internal/objective"
)

// Defaults for Options.
const (
	DefaultCompartmentID      = "MNXC3"
	DefaultPathwayGroupID     = "rp_pathway"
	DefaultSpeciesGroupID     = "central_species"
	DefaultSinkSpeciesGroupID = "rp_sink_species"
)

// DefaultIdentityKeys are the species annotations compared, in order, when
// looking for a GEM equivalent of a pathway species.
var DefaultIdentityKeys = []string{"inchikey", model.MiriamPrefix + "metanetx.chemical"}

// orphanSourceBound is the upper bound of reactions added by FillOrphanSpecies.
const orphanSourceBound = 1000.0

// Options tune a merge.
type Options struct {
	// CompartmentID receives pathway species whose compartment the GEM lacks.
	CompartmentID string
	// PathwayGroupID names the group holding the heterologous reactions. A
	// sink in this group that drains a member of SinkSpeciesGroupID and
	// unifies with a GEM reaction fails the merge. When the pathway has no
	// sink species group, every sink in the pathway group counts.
	PathwayGroupID string
	// SpeciesGroupID and SinkSpeciesGroupID name the central and sink species
	// groups. Their members are translated as species only.
	SpeciesGroupID     string
	SinkSpeciesGroupID string
	IdentityKeys       []string
	// FillOrphanSpecies adds a source reaction for every pathway species that
	// is consumed but never produced in the merged model.
	FillOrphanSpecies bool
}

func (o Options) withDefaults() Options {
	if o.CompartmentID == "" {
		o.CompartmentID = DefaultCompartmentID
	}
	if o.PathwayGroupID == "" {
		o.PathwayGroupID = DefaultPathwayGroupID
	}
	if o.SpeciesGroupID == "" {
		o.SpeciesGroupID = DefaultSpeciesGroupID
	}
	if o.SinkSpeciesGroupID == "" {
		o.SinkSpeciesGroupID = DefaultSinkSpeciesGroupID
	}
	if len(o.IdentityKeys) == 0 {
		o.IdentityKeys = DefaultIdentityKeys
	}
	return o
}

// Result is a merged model and the maps from pathway ids to merged ids.
type Result struct {
	Model     *model.Model
	Species   *RenameMap
	Reactions *RenameMap
	// OrphanSources lists reactions added by FillOrphanSpecies.
	OrphanSources []string
}

// Merge copies gem and inserts pathway into the copy. Neither input is
// modified. Any entity that cannot be placed fails the whole merge with an
// *Error.
func Merge(pathway, gem *model.Model, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	mg := &merger{
		pathway:   pathway,
		merged:    gem.Clone(),
		opts:      opts,
		species:   newRenameMap(),
		reactions: newRenameMap(),
	}
	mg.bounds = objective.New(mg.merged)

	steps := []func() error{
		mg.mapCompartments,
		mg.mergeSpecies,
		mg.mergeReactions,
		mg.mergeGroups,
		mg.mergeObjectives,
	}
	if opts.FillOrphanSpecies {
		steps = append(steps, mg.fillOrphans)
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return &Result{
		Model:         mg.merged,
		Species:       mg.species,
		Reactions:     mg.reactions,
		OrphanSources: mg.orphans,
	}, nil
}

type merger struct {
	pathway *model.Model
	merged  *model.Model
	opts    Options
	bounds  *objective.Manager

	compartments map[string]string
	species      *RenameMap
	reactions    *RenameMap
	orphans      []string
}

func (mg *merger) mapCompartments() error {
	mg.compartments = map[string]string{}
	for _, c := range mg.pathway.Compartments() {
		if mg.merged.Compartment(c.ID) != nil {
			mg.compartments[c.ID] = c.ID
			continue
		}
		if mg.merged.Compartment(mg.opts.CompartmentID) == nil {
			return newError(KindCompartmentMissing, c.ID, "neither %q nor fallback %q exist in the GEM", c.ID, mg.opts.CompartmentID)
		}
		mg.compartments[c.ID] = mg.opts.CompartmentID
	}
	return nil
}

func (mg *merger) compartmentOf(s *model.Species) (string, error) {
	if comp, ok := mg.compartments[s.CompartmentID]; ok {
		return comp, nil
	}
	if mg.merged.Compartment(mg.opts.CompartmentID) == nil {
		return "", newError(KindCompartmentMissing, s.ID, "compartment %q is not declared and fallback %q is missing", s.CompartmentID, mg.opts.CompartmentID)
	}
	return mg.opts.CompartmentID, nil
}

type identity struct {
	compartment string
	key         string
	value       string
}

func normalizeIdentity(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

func identityValues(a *model.Annotations, key string) []string {
	v, ok := a.Get(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v.Value, ",") {
		if n := normalizeIdentity(part); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func (mg *merger) mergeSpecies() error {
	index := map[identity]string{}
	for _, s := range mg.merged.AllSpecies() {
		for _, key := range mg.opts.IdentityKeys {
			for _, v := range identityValues(&s.Annotations, key) {
				id := identity{compartment: s.CompartmentID, key: key, value: v}
				if cur, ok := index[id]; !ok || s.ID < cur {
					index[id] = s.ID
				}
			}
		}
	}

	for _, s := range mg.pathway.AllSpecies() {
		comp, err := mg.compartmentOf(s)
		if err != nil {
			return err
		}
		if gemID, ok := mg.findSpecies(index, s, comp); ok {
			if !mg.species.set(s.ID, gemID) {
				return newError(KindIDCollision, s.ID, "GEM species %q already matched another pathway species", gemID)
			}
			continue
		}
		cp := *s
		cp.Annotations = s.Annotations.Clone()
		cp.CompartmentID = comp
		cp.ID = mg.uniqueID(s.ID)
		if err := mg.merged.AddSpecies(&cp); err != nil {
			return newError(KindIDCollision, s.ID, "%v", err)
		}
		mg.species.set(s.ID, cp.ID)
	}
	return nil
}

func (mg *merger) findSpecies(index map[identity]string, s *model.Species, comp string) (string, bool) {
	for _, key := range mg.opts.IdentityKeys {
		for _, v := range identityValues(&s.Annotations, key) {
			if gemID, ok := index[identity{compartment: comp, key: key, value: v}]; ok {
				return gemID, true
			}
		}
	}
	return "", false
}

// signature canonicalizes a reaction as its reactant and product multisets
// plus directionality.
func signature(reactants, products []model.SpeciesRef, reversible bool) string {
	side := func(refs []model.SpeciesRef) string {
		sum := map[string]float64{}
		for _, r := range refs {
			sum[r.Species] += r.Stoichiometry
		}
		parts := make([]string, 0, len(sum))
		for id, st := range sum {
			parts = append(parts, id+"*"+strconv.FormatFloat(st, 'g', -1, 64))
		}
		sort.Strings(parts)
		return strings.Join(parts, "+")
	}
	return side(reactants) + "=>" + side(products) + "|" + strconv.FormatBool(reversible)
}

func (mg *merger) resolveRefs(reactionID string, refs []model.SpeciesRef) ([]model.SpeciesRef, error) {
	out := make([]model.SpeciesRef, 0, len(refs))
	for _, ref := range refs {
		id, ok := mg.species.Get(ref.Species)
		if !ok {
			return nil, newError(KindUnresolvedSpecies, ref.Species, "referenced by reaction %q but not declared in the pathway", reactionID)
		}
		out = append(out, model.SpeciesRef{Species: id, Stoichiometry: ref.Stoichiometry})
	}
	return out, nil
}

func (mg *merger) mergeReactions() error {
	index := map[string]string{}
	for _, r := range mg.merged.Reactions() {
		sig := signature(r.Reactants, r.Products, r.Reversible)
		if cur, ok := index[sig]; !ok || r.ID < cur {
			index[sig] = r.ID
		}
	}
	pathwayGroup := mg.pathway.Group(mg.opts.PathwayGroupID)
	sinkSpecies := mg.pathway.Group(mg.opts.SinkSpeciesGroupID)

	for _, r := range mg.pathway.Reactions() {
		reactants, err := mg.resolveRefs(r.ID, r.Reactants)
		if err != nil {
			return err
		}
		products, err := mg.resolveRefs(r.ID, r.Products)
		if err != nil {
			return err
		}
		if gemID, ok := index[signature(reactants, products, r.Reversible)]; ok {
			if isSink(r) && pathwayGroup != nil && pathwayGroup.HasMember(r.ID) && drains(r, sinkSpecies) {
				return newError(KindSinkCollision, r.ID, "pathway sink unifies with GEM reaction %q", gemID)
			}
			if !mg.reactions.set(r.ID, gemID) {
				return newError(KindIDCollision, r.ID, "GEM reaction %q already matched another pathway reaction", gemID)
			}
			continue
		}

		lower, upper, err := mg.pathway.Bounds(r.ID)
		if err != nil {
			return newError(KindUnresolvedReaction, r.ID, "%v", err)
		}
		cp := r.Clone()
		cp.ID = mg.uniqueID(r.ID)
		cp.Reactants = reactants
		cp.Products = products
		cp.LowerFluxBound, cp.UpperFluxBound = "", ""
		if err := mg.merged.AddReaction(cp); err != nil {
			return newError(KindIDCollision, r.ID, "%v", err)
		}
		if _, err := mg.bounds.SetReactionBounds(cp.ID, lower, upper); err != nil {
			return newError(KindUnresolvedReaction, r.ID, "%v", err)
		}
		mg.reactions.set(r.ID, cp.ID)
	}
	return nil
}

func isSink(r *model.Reaction) bool {
	return len(r.Reactants) > 0 && len(r.Products) == 0
}

// drains reports whether sink r consumes a member of sinkSpecies. A nil
// group matches every sink.
func drains(r *model.Reaction, sinkSpecies *model.Group) bool {
	if sinkSpecies == nil {
		return true
	}
	for _, ref := range r.Reactants {
		if sinkSpecies.HasMember(ref.Species) {
			return true
		}
	}
	return false
}

func (mg *merger) translate(groupID, id string) (string, bool) {
	if groupID == mg.opts.SpeciesGroupID || groupID == mg.opts.SinkSpeciesGroupID {
		return mg.species.Get(id)
	}
	if to, ok := mg.reactions.Get(id); ok {
		return to, true
	}
	return mg.species.Get(id)
}

func (mg *merger) mergeGroups() error {
	for _, g := range mg.pathway.Groups() {
		target := mg.merged.Group(g.ID)
		if target == nil {
			if mg.merged.IDTaken(g.ID) {
				return newError(KindIDCollision, g.ID, "group id is used by a GEM entity")
			}
			target = &model.Group{ID: g.ID, Name: g.Name, Annotations: g.Annotations.Clone()}
			if err := mg.merged.AddGroup(target); err != nil {
				return newError(KindIDCollision, g.ID, "%v", err)
			}
		}
		for _, member := range g.Members {
			to, ok := mg.translate(g.ID, member)
			if !ok {
				return newError(KindUnresolvedReaction, member, "member of group %q resolves to nothing", g.ID)
			}
			target.AddMember(to)
		}
	}
	return nil
}

// mergeObjectives carries pathway objectives whose id is free in the GEM.
// They are never made active.
func (mg *merger) mergeObjectives() error {
	for _, o := range mg.pathway.Objectives() {
		if mg.merged.IDTaken(o.ID) {
			continue
		}
		cp := o.Clone()
		for _, fo := range cp.FluxObjectives {
			to, ok := mg.reactions.Get(fo.Reaction)
			switch {
			case ok:
				fo.Reaction = to
			case mg.merged.Reaction(fo.Reaction) != nil:
				// A term on a host reaction, as written by an earlier run.
			default:
				return newError(KindUnresolvedReaction, fo.Reaction, "objective %q references an unknown reaction", o.ID)
			}
		}
		if err := mg.merged.AddObjective(cp); err != nil {
			return newError(KindIDCollision, o.ID, "%v", err)
		}
	}
	return nil
}

func (mg *merger) fillOrphans() error {
	produced := map[string]bool{}
	for _, r := range mg.merged.Reactions() {
		for _, p := range r.Products {
			produced[p.Species] = true
		}
		if r.Reversible {
			for _, p := range r.Reactants {
				produced[p.Species] = true
			}
		}
	}
	seen := map[string]bool{}
	for _, pr := range mg.pathway.Reactions() {
		rid, _ := mg.reactions.Get(pr.ID)
		for _, ref := range mg.merged.Reaction(rid).Reactants {
			if produced[ref.Species] || seen[ref.Species] {
				continue
			}
			seen[ref.Species] = true
			src := &model.Reaction{
				ID:       mg.uniqueID(ref.Species + "_orphan_source"),
				Name:     "orphan source of " + ref.Species,
				Products: []model.SpeciesRef{{Species: ref.Species, Stoichiometry: 1}},
			}
			if err := mg.merged.AddReaction(src); err != nil {
				return newError(KindIDCollision, src.ID, "%v", err)
			}
			if _, err := mg.bounds.SetReactionBounds(src.ID, 0, orphanSourceBound); err != nil {
				return newError(KindUnresolvedReaction, src.ID, "%v", err)
			}
			mg.orphans = append(mg.orphans, src.ID)
		}
	}
	return nil
}

// uniqueID returns id when free in the merged model, otherwise the first free
// of id__rp, id__rp_2, id__rp_3 ...
func (mg *merger) uniqueID(id string) string {
	if !mg.merged.IDTaken(id) {
		return id
	}
	candidate := id + "__rp"
	for i := 2; mg.merged.IDTaken(candidate); i++ {
		candidate = id + "__rp_" + strconv.Itoa(i)
	}
	return candidate
}

// String summarises the merge for logs.
func (r *Result) String() string {
	return fmt.Sprintf("species=%d (renamed %d) reactions=%d (renamed %d) orphans=%d",
		r.Species.Len(), len(r.Species.Renamed()), r.Reactions.Len(), len(r.Reactions.Renamed()), len(r.OrphanSources))
}
