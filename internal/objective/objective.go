// Package objective creates and reuses optimization objectives and sets
// reaction flux bounds on a model.
package objective

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/starford/rpfba/internal/apperr"
	"github.com/starford/rpfba/internal/model"
)

// ErrInvalid is returned for malformed objective requests.
var ErrInvalid = errors.New("objective: invalid request")

// DefaultID derives the objective id used when the caller supplies none.
// The same reaction set always yields the same id regardless of order.
func DefaultID(reactionIDs []string) string {
	ids := append([]string(nil), reactionIDs...)
	sort.Strings(ids)
	return "obj_" + strings.Join(ids, "__")
}

// FractionID is the default id of the target objective of a fraction run.
func FractionID(target, source string) string {
	return "obj_" + target + "__restricted_" + source
}

// Manager manipulates objectives and bounds of one model.
type Manager struct {
	m *model.Model
}

// New returns a Manager for m.
func New(m *model.Model) *Manager {
	return &Manager{m: m}
}

// Model returns the managed model.
func (mg *Manager) Model() *model.Model { return mg.m }

// FindOrCreate returns the id of the objective over reactions, creating it
// when missing. An existing objective with the same id is updated in place to
// the requested terms and direction; annotations of unchanged terms survive.
func (mg *Manager) FindOrCreate(reactions []string, coefficients []float64, maximize bool, explicitID string) (string, error) {
	if len(reactions) == 0 {
		return "", fmt.Errorf("%w: no reactions", ErrInvalid)
	}
	if len(reactions) != len(coefficients) {
		return "", fmt.Errorf("%w: %d reactions but %d coefficients", ErrInvalid, len(reactions), len(coefficients))
	}
	for _, rid := range reactions {
		if mg.m.Reaction(rid) == nil {
			return "", fmt.Errorf("objective: reaction %q: %w", rid, apperr.ErrNotFound)
		}
	}
	id := explicitID
	if id == "" {
		id = DefaultID(reactions)
	}

	obj := mg.m.Objective(id)
	if obj == nil {
		if mg.m.IDTaken(id) {
			return "", fmt.Errorf("objective: id %q: %w", id, apperr.ErrAlreadyExists)
		}
		obj = &model.Objective{ID: id}
		if err := mg.m.AddObjective(obj); err != nil {
			return "", fmt.Errorf("objective: %w", err)
		}
	}
	obj.Maximize = maximize

	previous := make(map[string]*model.FluxObjective, len(obj.FluxObjectives))
	for _, fo := range obj.FluxObjectives {
		previous[fo.Reaction] = fo
	}
	terms := make([]*model.FluxObjective, 0, len(reactions))
	for i, rid := range reactions {
		fo, ok := previous[rid]
		if !ok {
			fo = &model.FluxObjective{Reaction: rid}
		}
		fo.Coefficient = coefficients[i]
		terms = append(terms, fo)
	}
	obj.FluxObjectives = terms
	return id, nil
}

// SetActive makes id the model's single active objective.
func (mg *Manager) SetActive(id string) error {
	if err := mg.m.SetActiveObjective(id); err != nil {
		return fmt.Errorf("objective: %w", err)
	}
	return nil
}

// Bounds is a reaction's flux bounds as they were before a change.
type Bounds struct {
	Lower float64
	Upper float64

	lowerParam string
	upperParam string
}

// SetReactionBounds points the reaction's bounds at parameters carrying lower
// and upper, reusing any parameter that already has the value. It returns the
// previous bounds for RestoreBounds.
func (mg *Manager) SetReactionBounds(reactionID string, lower, upper float64) (Bounds, error) {
	r := mg.m.Reaction(reactionID)
	if r == nil {
		return Bounds{}, fmt.Errorf("objective: reaction %q: %w", reactionID, apperr.ErrNotFound)
	}
	if lower > upper {
		return Bounds{}, fmt.Errorf("%w: lower bound %v above upper bound %v", ErrInvalid, lower, upper)
	}
	lo, up, err := mg.m.Bounds(reactionID)
	if err != nil {
		return Bounds{}, fmt.Errorf("objective: %w", err)
	}
	prev := Bounds{Lower: lo, Upper: up, lowerParam: r.LowerFluxBound, upperParam: r.UpperFluxBound}

	lowerID, err := mg.parameterFor(lower)
	if err != nil {
		return Bounds{}, err
	}
	upperID, err := mg.parameterFor(upper)
	if err != nil {
		return Bounds{}, err
	}
	r.LowerFluxBound = lowerID
	r.UpperFluxBound = upperID
	return prev, nil
}

// RestoreBounds puts back bounds returned by SetReactionBounds.
func (mg *Manager) RestoreBounds(reactionID string, prev Bounds) error {
	r := mg.m.Reaction(reactionID)
	if r == nil {
		return fmt.Errorf("objective: reaction %q: %w", reactionID, apperr.ErrNotFound)
	}
	if ok := mg.restorable(prev.lowerParam, prev.Lower) && mg.restorable(prev.upperParam, prev.Upper); ok {
		r.LowerFluxBound = prev.lowerParam
		r.UpperFluxBound = prev.upperParam
		return nil
	}
	_, err := mg.SetReactionBounds(reactionID, prev.Lower, prev.Upper)
	return err
}

// restorable reports whether param still resolves to value. An empty param
// stands for an unconstrained bound.
func (mg *Manager) restorable(param string, value float64) bool {
	if param == "" {
		return math.IsInf(value, 0)
	}
	p := mg.m.Parameter(param)
	return p != nil && p.Value == value
}

// parameterFor returns the id of a parameter holding v, creating one if no
// existing parameter carries that exact value.
func (mg *Manager) parameterFor(v float64) (string, error) {
	for _, p := range mg.m.Parameters() {
		if p.Value == v {
			return p.ID, nil
		}
	}
	base := ParameterID(v)
	id := base
	for i := 1; mg.m.IDTaken(id); i++ {
		id = base + "_" + strconv.Itoa(i)
	}
	if err := mg.m.AddParameter(&model.Parameter{ID: id, Value: v, Units: model.FluxUnits, Constant: true}); err != nil {
		return "", fmt.Errorf("objective: %w", err)
	}
	return id, nil
}

// ParameterID names a bound parameter after its value: B_10, B_7_5,
// B_neg_1000, B_INF.
func ParameterID(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "B_INF"
	case math.IsInf(v, -1):
		return "B_neg_INF"
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	s = strings.Replace(s, "-", "neg_", 1)
	s = strings.Replace(s, ".", "_", 1)
	return "B_" + s
}
