// Package sbml reads and writes models as SBML Level 3 documents using the
// fbc (version 2) and groups (version 1) packages.
//
// Entity annotations live in the RDF block of each element: free-form keys as
// children of a brsynth block, and MIRIAM cross references ("bqbiol:is") under
// keys prefixed with "miriam:".
package sbml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/starford/rpfba/internal/model"
)

// Read decodes an SBML document into a Model.
func Read(r io.Reader) (*model.Model, error) {
	dec := xml.NewTokenDecoder(&prefixReader{d: xml.NewDecoder(r)})
	var doc xmlSBML
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("sbml: decode: %w", err)
	}
	m, err := fromXML(&doc.Model)
	if err != nil {
		return nil, fmt.Errorf("sbml: %w", err)
	}
	return m, nil
}

// ReadBytes is Read over an in-memory document.
func ReadBytes(b []byte) (*model.Model, error) {
	return Read(bytes.NewReader(b))
}

// Write encodes m as an indented SBML document.
func Write(w io.Writer, m *model.Model) error {
	doc := xmlSBML{
		Xmlns:          nsCore,
		XmlnsFBC:       nsFBC,
		XmlnsGroups:    nsGroups,
		Level:          "3",
		Version:        "1",
		FBCRequired:    "false",
		GroupsRequired: "false",
		Model:          toXML(m),
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("sbml: write header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("sbml: encode: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("sbml: write: %w", err)
	}
	return nil
}

// WriteBytes is Write into a fresh buffer.
func WriteBytes(m *model.Model) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// prefixReader resolves namespaces and renames every element and attribute
// to its canonical prefix, dropping namespace declarations.
type prefixReader struct {
	d *xml.Decoder
}

func (p *prefixReader) Token() (xml.Token, error) {
	tok, err := p.d.Token()
	if err != nil {
		return nil, err
	}
	tok = xml.CopyToken(tok)
	switch t := tok.(type) {
	case xml.StartElement:
		t.Name = canonical(t.Name)
		attrs := make([]xml.Attr, 0, len(t.Attr))
		for _, a := range t.Attr {
			if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
				continue
			}
			a.Name = canonical(a.Name)
			attrs = append(attrs, a)
		}
		t.Attr = attrs
		return t, nil
	case xml.EndElement:
		t.Name = canonical(t.Name)
		return t, nil
	}
	return tok, nil
}

func canonical(n xml.Name) xml.Name {
	if prefix, ok := canonicalPrefix[n.Space]; ok {
		return xml.Name{Local: prefix + ":" + n.Local}
	}
	return xml.Name{Local: n.Local}
}

func fromXML(x *xmlModel) (*model.Model, error) {
	m := model.New(x.ID)
	m.Name = x.Name

	for _, c := range x.Compartments {
		if err := m.AddCompartment(&model.Compartment{ID: c.ID, Name: c.Name}); err != nil {
			return nil, err
		}
	}
	for _, s := range x.Species {
		sp := &model.Species{
			ID:                s.ID,
			Name:              s.Name,
			CompartmentID:     s.Compartment,
			Formula:           s.ChemicalFormula,
			BoundaryCondition: s.BoundaryCondition == "true",
			Annotations:       readAnnotations(s.Annotation),
		}
		if err := m.AddSpecies(sp); err != nil {
			return nil, err
		}
	}
	for _, p := range x.Parameters {
		v, err := parseFloat(p.Value)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.ID, err)
		}
		if err := m.AddParameter(&model.Parameter{ID: p.ID, Value: v, Units: p.Units, Constant: p.Constant != "false"}); err != nil {
			return nil, err
		}
	}
	for _, r := range x.Reactions {
		rx := &model.Reaction{
			ID:             r.ID,
			Name:           r.Name,
			Reversible:     r.Reversible == "true",
			LowerFluxBound: r.LowerFluxBound,
			UpperFluxBound: r.UpperFluxBound,
			Annotations:    readAnnotations(r.Annotation),
		}
		var err error
		if rx.Reactants, err = readRefs(r.Reactants); err != nil {
			return nil, fmt.Errorf("reaction %q: %w", r.ID, err)
		}
		if rx.Products, err = readRefs(r.Products); err != nil {
			return nil, fmt.Errorf("reaction %q: %w", r.ID, err)
		}
		if err := m.AddReaction(rx); err != nil {
			return nil, err
		}
	}
	if x.Objectives != nil {
		for _, o := range x.Objectives.Items {
			obj := &model.Objective{
				ID:          o.ID,
				Maximize:    o.Type != "minimize",
				Annotations: readAnnotations(o.Annotation),
			}
			for _, fo := range o.FluxObjectives {
				coef, err := parseFloat(fo.Coefficient)
				if err != nil {
					return nil, fmt.Errorf("objective %q: %w", o.ID, err)
				}
				obj.FluxObjectives = append(obj.FluxObjectives, &model.FluxObjective{
					Reaction:    fo.Reaction,
					Coefficient: coef,
					Annotations: readAnnotations(fo.Annotation),
				})
			}
			if err := m.AddObjective(obj); err != nil {
				return nil, err
			}
		}
		if x.Objectives.Active != "" {
			if err := m.SetActiveObjective(x.Objectives.Active); err != nil {
				return nil, err
			}
		}
	}
	for _, g := range x.Groups {
		grp := &model.Group{ID: g.ID, Name: g.Name, Annotations: readAnnotations(g.Annotation)}
		for _, mem := range g.Members {
			grp.Members = append(grp.Members, mem.IDRef)
		}
		if err := m.AddGroup(grp); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func readRefs(refs []xmlSpeciesRef) ([]model.SpeciesRef, error) {
	out := make([]model.SpeciesRef, 0, len(refs))
	for _, r := range refs {
		st := 1.0
		if r.Stoichiometry != "" {
			v, err := parseFloat(r.Stoichiometry)
			if err != nil {
				return nil, fmt.Errorf("species %q: %w", r.Species, err)
			}
			st = v
		}
		out = append(out, model.SpeciesRef{Species: r.Species, Stoichiometry: st})
	}
	return out, nil
}

func readAnnotations(x *xmlAnnotation) model.Annotations {
	var a model.Annotations
	if x == nil || x.RDF == nil {
		return a
	}
	for _, d := range x.RDF.Descriptions {
		refs := map[string][]string{}
		var order []string
		for _, li := range d.Is {
			db, id, ok := splitIdentifier(li.Resource)
			if !ok {
				continue
			}
			if _, seen := refs[db]; !seen {
				order = append(order, db)
			}
			refs[db] = append(refs[db], id)
		}
		for _, db := range order {
			a.Set(model.MiriamPrefix+db, strings.Join(refs[db], ","), "")
		}
	}
	if x.RDF.BRSynth != nil {
		for _, it := range x.RDF.BRSynth.Block.Items {
			key := strings.TrimPrefix(it.XMLName.Local, "brsynth:")
			value := it.Value
			if value == "" {
				value = strings.TrimSpace(it.Text)
			}
			a.Set(key, value, it.Units)
		}
	}
	return a
}

// splitIdentifier parses identifiers.org URIs of the forms
// ".../<db>/<id>" and ".../<DB>:<id>".
func splitIdentifier(uri string) (db, id string, ok bool) {
	const host = "identifiers.org/"
	i := strings.Index(uri, host)
	if i < 0 {
		return "", "", false
	}
	rest := uri[i+len(host):]
	if j := strings.Index(rest, "/"); j > 0 {
		return rest[:j], rest[j+1:], true
	}
	if j := strings.Index(rest, ":"); j > 0 {
		return strings.ToLower(rest[:j]), rest[j+1:], true
	}
	return "", "", false
}

func toXML(m *model.Model) xmlModel {
	x := xmlModel{ID: m.ID, Name: m.Name, Strict: "true"}
	for _, c := range m.Compartments() {
		x.Compartments = append(x.Compartments, xmlCompartment{ID: c.ID, Name: c.Name, Constant: "true"})
	}
	for _, s := range m.AllSpecies() {
		xs := xmlSpecies{
			ID:                    s.ID,
			Name:                  s.Name,
			Compartment:           s.CompartmentID,
			HasOnlySubstanceUnits: "false",
			BoundaryCondition:     strconv.FormatBool(s.BoundaryCondition),
			Constant:              "false",
			ChemicalFormula:       s.Formula,
		}
		xs.MetaID, xs.Annotation = writeAnnotations(s.ID, &s.Annotations)
		x.Species = append(x.Species, xs)
	}
	for _, p := range m.Parameters() {
		x.Parameters = append(x.Parameters, xmlParameter{
			ID:       p.ID,
			Value:    formatFloat(p.Value),
			Units:    p.Units,
			Constant: strconv.FormatBool(p.Constant),
		})
	}
	for _, r := range m.Reactions() {
		xr := xmlReaction{
			ID:             r.ID,
			Name:           r.Name,
			Reversible:     strconv.FormatBool(r.Reversible),
			Fast:           "false",
			LowerFluxBound: r.LowerFluxBound,
			UpperFluxBound: r.UpperFluxBound,
			Reactants:      writeRefs(r.Reactants),
			Products:       writeRefs(r.Products),
		}
		if r.LowerFluxBound == "" || r.UpperFluxBound == "" {
			x.Strict = "false"
		}
		xr.MetaID, xr.Annotation = writeAnnotations(r.ID, &r.Annotations)
		x.Reactions = append(x.Reactions, xr)
	}
	if objs := m.Objectives(); len(objs) > 0 {
		xo := &xmlObjectives{}
		if active := m.ActiveObjective(); active != nil {
			xo.Active = active.ID
		} else {
			xo.Active = objs[0].ID
		}
		for _, o := range objs {
			obj := xmlObjective{ID: o.ID, Type: "maximize"}
			if !o.Maximize {
				obj.Type = "minimize"
			}
			obj.MetaID, obj.Annotation = writeAnnotations(o.ID, &o.Annotations)
			for _, fo := range o.FluxObjectives {
				xf := xmlFluxObjective{Reaction: fo.Reaction, Coefficient: formatFloat(fo.Coefficient)}
				// "." never occurs in an SId, so this cannot clash with an entity metaid.
				xf.MetaID, xf.Annotation = writeAnnotations(o.ID+"."+fo.Reaction, &fo.Annotations)
				obj.FluxObjectives = append(obj.FluxObjectives, xf)
			}
			xo.Items = append(xo.Items, obj)
		}
		x.Objectives = xo
	}
	for _, g := range m.Groups() {
		xg := xmlGroup{ID: g.ID, Name: g.Name, Kind: "collection"}
		xg.MetaID, xg.Annotation = writeAnnotations(g.ID, &g.Annotations)
		for _, id := range g.Members {
			xg.Members = append(xg.Members, xmlMember{IDRef: id})
		}
		x.Groups = append(x.Groups, xg)
	}
	return x
}

func writeRefs(refs []model.SpeciesRef) []xmlSpeciesRef {
	out := make([]xmlSpeciesRef, 0, len(refs))
	for _, r := range refs {
		out = append(out, xmlSpeciesRef{Species: r.Species, Stoichiometry: formatFloat(r.Stoichiometry), Constant: "false"})
	}
	return out
}

// writeAnnotations returns the metaid and annotation element for a, or
// empty values when a holds nothing.
func writeAnnotations(id string, a *model.Annotations) (string, *xmlAnnotation) {
	if a.Len() == 0 {
		return "", nil
	}
	metaID := "meta_" + id
	rdf := &xmlRDF{XmlnsRDF: nsRDF}
	var desc xmlDescription
	block := xmlBRSynthBlock{Xmlns: nsBRSynth}
	for _, k := range a.Keys() {
		v, _ := a.Get(k)
		if db, ok := strings.CutPrefix(k, model.MiriamPrefix); ok {
			for _, ref := range strings.Split(v.Value, ",") {
				desc.Is = append(desc.Is, xmlLi{Resource: "http://identifiers.org/" + db + "/" + ref})
			}
			continue
		}
		block.Items = append(block.Items, xmlBRItem{
			XMLName: xml.Name{Local: "brsynth:" + k},
			Value:   v.Value,
			Units:   v.Units,
		})
	}
	if len(desc.Is) > 0 {
		rdf.XmlnsBQBiol = nsBQBiol
		desc.About = "#" + metaID
		rdf.Descriptions = []xmlDescription{desc}
	}
	if len(block.Items) > 0 {
		rdf.BRSynth = &xmlBRSynth{About: "#" + metaID, Block: block}
	}
	return metaID, &xmlAnnotation{RDF: rdf}
}

func parseFloat(s string) (float64, error) {
	switch strings.TrimSpace(s) {
	case "":
		return 0, nil
	case "INF", "inf":
		return math.Inf(1), nil
	case "-INF", "-inf":
		return math.Inf(-1), nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse number %q: %w", s, err)
	}
	return v, nil
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "INF"
	case math.IsInf(v, -1):
		return "-INF"
	case math.IsNaN(v):
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
