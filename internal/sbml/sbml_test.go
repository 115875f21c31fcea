package sbml

import (
	"bytes"
	"encoding/xml"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/starford/rpfba/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const foreignPrefixes = `<?xml version="1.0" encoding="UTF-8"?>
<sbml xmlns="http://www.sbml.org/sbml/level3/version1/core"
      xmlns:f="http://www.sbml.org/sbml/level3/version1/fbc/version2"
      xmlns:g="http://www.sbml.org/sbml/level3/version1/groups/version1"
      level="3" version="1" f:required="false" g:required="false">
  <model id="iJO_tiny" f:strict="true">
    <listOfCompartments>
      <compartment id="MNXC3" constant="true"/>
    </listOfCompartments>
    <listOfSpecies>
      <species metaid="m_glc" id="glc__64__MNXC3" compartment="MNXC3" boundaryCondition="false" f:chemicalFormula="C6H12O6">
        <annotation>
          <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#" xmlns:bq="http://biomodels.net/biology-qualifiers/">
            <rdf:Description rdf:about="#m_glc">
              <bq:is>
                <rdf:Bag>
                  <rdf:li rdf:resource="http://identifiers.org/metanetx.chemical/MNXM41"/>
                  <rdf:li rdf:resource="https://identifiers.org/CHEBI:4167"/>
                </rdf:Bag>
              </bq:is>
            </rdf:Description>
            <rdf:BRSynth rdf:about="#adding">
              <brsynth:brsynth xmlns:brsynth="http://brsynth.eu">
                <brsynth:inchikey>WQZGKKKJIJFFOK-GASJEMHNSA-N</brsynth:inchikey>
              </brsynth:brsynth>
            </rdf:BRSynth>
          </rdf:RDF>
        </annotation>
      </species>
    </listOfSpecies>
    <listOfParameters>
      <parameter id="B_0" value="0" constant="true"/>
      <parameter id="B_INF" value="INF" constant="true"/>
    </listOfParameters>
    <listOfReactions>
      <reaction id="EX_glc" reversible="false" fast="false" f:lowerFluxBound="B_0" f:upperFluxBound="B_INF">
        <listOfProducts>
          <speciesReference species="glc__64__MNXC3" stoichiometry="1" constant="true"/>
        </listOfProducts>
      </reaction>
    </listOfReactions>
    <f:listOfObjectives f:activeObjective="obj_EX_glc">
      <f:objective f:id="obj_EX_glc" f:type="maximize">
        <f:listOfFluxObjectives>
          <f:fluxObjective f:reaction="EX_glc" f:coefficient="1"/>
        </f:listOfFluxObjectives>
      </f:objective>
    </f:listOfObjectives>
    <g:listOfGroups>
      <g:group g:id="exchange" g:kind="collection">
        <g:listOfMembers>
          <g:member g:idRef="EX_glc"/>
        </g:listOfMembers>
      </g:group>
    </g:listOfGroups>
  </model>
</sbml>
`

func TestReadResolvesForeignPrefixes(t *testing.T) {
	m, err := Read(strings.NewReader(foreignPrefixes))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	sp := m.Species("glc__64__MNXC3")
	require.NotNil(t, sp)
	assert.Equal(t, "C6H12O6", sp.Formula)
	ik, ok := sp.Annotations.Get("inchikey")
	require.True(t, ok)
	assert.Equal(t, "WQZGKKKJIJFFOK-GASJEMHNSA-N", ik.Value)
	mnx, ok := sp.Annotations.Get(model.MiriamPrefix + "metanetx.chemical")
	require.True(t, ok)
	assert.Equal(t, "MNXM41", mnx.Value)
	chebi, ok := sp.Annotations.Get(model.MiriamPrefix + "chebi")
	require.True(t, ok)
	assert.Equal(t, "4167", chebi.Value)

	lo, up, err := m.Bounds("EX_glc")
	require.NoError(t, err)
	assert.Equal(t, 0.0, lo)
	assert.True(t, math.IsInf(up, 1))

	require.NotNil(t, m.ActiveObjective())
	assert.Equal(t, []string{"EX_glc"}, m.ActiveObjective().Reactions())
	assert.Equal(t, []string{"EX_glc"}, m.Group("exchange").Members)
}

func TestWriteThenRead(t *testing.T) {
	m, err := Read(strings.NewReader(foreignPrefixes))
	require.NoError(t, err)

	obj := m.Objective("obj_EX_glc")
	obj.Annotations.SetFloat("flux_value", 7.5, model.FluxUnits)
	obj.FluxObjectives[0].Annotations.SetFloat("flux_value", 7.5, model.FluxUnits)
	m.Reaction("EX_glc").Annotations.SetFloat("fba_obj_EX_glc", 7.5, model.FluxUnits)
	m.Group("exchange").Annotations.SetFloat("fba_obj_EX_glc", 7.5, model.FluxUnits)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, m))
	out := buf.String()
	assert.Contains(t, out, `xmlns:fbc="`+nsFBC+`"`)
	objs := elements(t, out, "objective")
	require.Len(t, objs, 1)
	assert.Equal(t, "obj_EX_glc", objs[0]["id"])
	assert.Equal(t, "maximize", objs[0]["type"])
	assert.Equal(t, "meta_obj_EX_glc", objs[0]["metaid"])
	assert.Contains(t, out, `value="INF"`)

	back, err := Read(&buf)
	require.NoError(t, err)
	require.NoError(t, back.Validate())

	v, ok := back.Reaction("EX_glc").Annotations.Get("fba_obj_EX_glc")
	require.True(t, ok)
	assert.Equal(t, "7.5", v.Value)
	assert.Equal(t, model.FluxUnits, v.Units)

	f, ok := back.Objective("obj_EX_glc").FluxObjectives[0].Annotations.Float("flux_value")
	require.True(t, ok)
	assert.Equal(t, 7.5, f)

	f, ok = back.Group("exchange").Annotations.Float("fba_obj_EX_glc")
	require.True(t, ok)
	assert.Equal(t, 7.5, f)

	sp := back.Species("glc__64__MNXC3")
	assert.Equal(t, sp.Annotations.Keys(), m.Species("glc__64__MNXC3").Annotations.Keys())
}

func TestReadRejectsBadNumbers(t *testing.T) {
	doc := strings.Replace(foreignPrefixes, `value="INF"`, `value="lots"`, 1)
	_, err := Read(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "B_INF")
}

func TestReadRejectsGarbage(t *testing.T) {
	_, err := ReadBytes([]byte("not xml at all <"))
	assert.Error(t, err)
}

func TestMetaIDsStayUnique(t *testing.T) {
	m, err := Read(strings.NewReader(foreignPrefixes))
	require.NoError(t, err)
	m.Objective("obj_EX_glc").Annotations.SetFloat("flux_value", 2, model.FluxUnits)
	// The term of "obj" on EX_glc shares its textual prefix with obj_EX_glc.
	extra := &model.Objective{ID: "obj", Maximize: true,
		FluxObjectives: []*model.FluxObjective{{Reaction: "EX_glc", Coefficient: 1}}}
	extra.FluxObjectives[0].Annotations.SetFloat("flux_value", 1, model.FluxUnits)
	require.NoError(t, m.AddObjective(extra))

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, m))

	seen := map[string]bool{}
	for _, name := range []string{"objective", "fluxObjective"} {
		for _, attrs := range elements(t, buf.String(), name) {
			id, ok := attrs["metaid"]
			if !ok {
				continue
			}
			assert.False(t, seen[id], "duplicate metaid %s", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, 2)

	back, err := Read(&buf)
	require.NoError(t, err)
	f, ok := back.Objective("obj").FluxObjectives[0].Annotations.Float("flux_value")
	require.True(t, ok)
	assert.Equal(t, 1.0, f)
	f, ok = back.Objective("obj_EX_glc").Annotations.Float("flux_value")
	require.True(t, ok)
	assert.Equal(t, 2.0, f)
}

// elements returns the attributes, keyed by local name, of every element
// named local in doc.
func elements(t *testing.T, doc, local string) []map[string]string {
	t.Helper()
	var out []map[string]string
	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != local {
			continue
		}
		attrs := make(map[string]string, len(se.Attr))
		for _, a := range se.Attr {
			attrs[a.Name.Local] = a.Value
		}
		out = append(out, attrs)
	}
}
