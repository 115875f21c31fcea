package simservice

import (
	"sort"
	"strings"

	"github.com/starford/rpfba/internal/fba"
	"github.com/starford/rpfba/internal/model"
	"github.com/starford/rpfba/internal/sbml"
)

// ModelInfo summarizes a model and the simulation results stored in it.
type ModelInfo struct {
	ID              string          `json:"id"`
	Compartments    int             `json:"compartments"`
	Species         int             `json:"species"`
	Reactions       int             `json:"reactions"`
	Groups          []GroupInfo     `json:"groups"`
	ActiveObjective string          `json:"active_objective,omitempty"`
	Objectives      []ObjectiveInfo `json:"objectives"`
}

// GroupInfo is a group and the rpfba results annotated on it.
type GroupInfo struct {
	ID      string             `json:"id"`
	Members int                `json:"members"`
	Results map[string]float64 `json:"results,omitempty"`
}

// ObjectiveInfo is one objective and its recorded flux values.
type ObjectiveInfo struct {
	ID               string   `json:"id"`
	Maximize         bool     `json:"maximize"`
	Reactions        []string `json:"reactions"`
	FluxValue        *float64 `json:"flux_value,omitempty"`
	PrimaryFluxValue *float64 `json:"primary_flux_value,omitempty"`
}

// Inspect parses an SBML document and summarizes it.
func Inspect(data []byte) (*ModelInfo, error) {
	m, err := sbml.ReadBytes(data)
	if err != nil {
		return nil, err
	}
	return Describe(m), nil
}

// Describe summarizes m.
func Describe(m *model.Model) *ModelInfo {
	info := &ModelInfo{
		ID:           m.ID,
		Compartments: len(m.Compartments()),
		Species:      len(m.AllSpecies()),
		Reactions:    len(m.Reactions()),
		Groups:       []GroupInfo{},
		Objectives:   []ObjectiveInfo{},
	}
	if o := m.ActiveObjective(); o != nil {
		info.ActiveObjective = o.ID
	}
	for _, g := range m.Groups() {
		gi := GroupInfo{ID: g.ID, Members: len(g.Members)}
		for _, k := range g.Annotations.Keys() {
			if !strings.HasPrefix(k, fba.ResultKeyPrefix) {
				continue
			}
			if v, ok := g.Annotations.Float(k); ok {
				if gi.Results == nil {
					gi.Results = make(map[string]float64)
				}
				gi.Results[k] = v
			}
		}
		info.Groups = append(info.Groups, gi)
	}
	for _, o := range m.Objectives() {
		oi := ObjectiveInfo{ID: o.ID, Maximize: o.Maximize, Reactions: o.Reactions()}
		if v, ok := o.Annotations.Float(fba.KeyFluxValue); ok {
			oi.FluxValue = &v
		}
		if v, ok := o.Annotations.Float(fba.KeyPrimaryFluxValue); ok {
			oi.PrimaryFluxValue = &v
		}
		info.Objectives = append(info.Objectives, oi)
	}
	sort.Slice(info.Objectives, func(i, j int) bool { return info.Objectives[i].ID < info.Objectives[j].ID })
	return info
}
