package solver

import (
	"fmt"
	"math"

	"github.com/starford/rpfba/internal/apperr"
	"github.com/starford/rpfba/internal/model"
)

// problem is a linear program in general form:
//
//	minimize   cost . x
//	subject to eq rows:  a . x == rhs
//	           le rows:  a . x <= rhs
//	           lower <= x <= upper
type problem struct {
	cost  []float64
	lower []float64
	upper []float64
	eq    []constraint
	le    []constraint
}

type constraint struct {
	coef map[int]float64
	rhs  float64
}

func (p *problem) addVar(cost, lower, upper float64) int {
	p.cost = append(p.cost, cost)
	p.lower = append(p.lower, lower)
	p.upper = append(p.upper, upper)
	return len(p.cost) - 1
}

// network is the flux balance problem of one model: a variable per
// reaction, in model order.
type network struct {
	problem
	reactions []string
	// objective holds the active objective coefficient per reaction.
	objective []float64
	maximize  bool
}

func buildNetwork(m *model.Model) (*network, error) {
	obj := m.ActiveObjective()
	if obj == nil {
		return nil, ErrNoObjective
	}
	reactions := m.Reactions()
	n := &network{
		reactions: make([]string, len(reactions)),
		objective: make([]float64, len(reactions)),
		maximize:  obj.Maximize,
	}
	index := make(map[string]int, len(reactions))
	balance := map[string]int{}
	for j, r := range reactions {
		lo, up, err := m.Bounds(r.ID)
		if err != nil {
			return nil, fmt.Errorf("solver: %w", err)
		}
		n.reactions[j] = r.ID
		index[r.ID] = j
		n.addVar(0, lo, up)

		add := func(ref model.SpeciesRef, sign float64) error {
			sp := m.Species(ref.Species)
			if sp == nil {
				return fmt.Errorf("solver: reaction %q: species %q: %w", r.ID, ref.Species, apperr.ErrNotFound)
			}
			if sp.BoundaryCondition {
				return nil
			}
			row, ok := balance[sp.ID]
			if !ok {
				row = len(n.eq)
				balance[sp.ID] = row
				n.eq = append(n.eq, constraint{coef: map[int]float64{}})
			}
			n.eq[row].coef[j] += sign * ref.Stoichiometry
			return nil
		}
		for _, ref := range r.Reactants {
			if err := add(ref, -1); err != nil {
				return nil, err
			}
		}
		for _, ref := range r.Products {
			if err := add(ref, 1); err != nil {
				return nil, err
			}
		}
	}
	for _, fo := range obj.FluxObjectives {
		j, ok := index[fo.Reaction]
		if !ok {
			return nil, fmt.Errorf("solver: objective %q: reaction %q: %w", obj.ID, fo.Reaction, apperr.ErrNotFound)
		}
		n.objective[j] += fo.Coefficient
	}
	for j, c := range n.objective {
		if n.maximize {
			n.cost[j] = -c
		} else {
			n.cost[j] = c
		}
	}
	return n, nil
}

// objectiveValue evaluates the active objective at x.
func (n *network) objectiveValue(x []float64) float64 {
	var v float64
	for j, c := range n.objective {
		v += c * x[j]
	}
	return v
}

func (n *network) fluxes(x []float64) map[string]float64 {
	out := make(map[string]float64, len(n.reactions))
	for j, id := range n.reactions {
		out[id] = cleanZero(x[j])
	}
	return out
}

// cleanZero folds round-off residue and negative zero to 0.
func cleanZero(v float64) float64 {
	if math.Abs(v) < 1e-12 {
		return 0
	}
	return v
}
