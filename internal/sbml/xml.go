package sbml

import "encoding/xml"

// Element and attribute names carry canonical prefixes. The reader rewrites
// whatever prefixes a document declares into these, so the same structs
// serve decoding and encoding.

const (
	nsCore    = "http://www.sbml.org/sbml/level3/version1/core"
	nsFBC     = "http://www.sbml.org/sbml/level3/version1/fbc/version2"
	nsGroups  = "http://www.sbml.org/sbml/level3/version1/groups/version1"
	nsRDF     = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	nsBQBiol  = "http://biomodels.net/biology-qualifiers/"
	nsBRSynth = "http://brsynth.eu"
)

var canonicalPrefix = map[string]string{
	nsFBC:     "fbc",
	nsGroups:  "groups",
	nsRDF:     "rdf",
	nsBQBiol:  "bqbiol",
	nsBRSynth: "brsynth",
}

type xmlSBML struct {
	XMLName        xml.Name `xml:"sbml"`
	Xmlns          string   `xml:"xmlns,attr,omitempty"`
	XmlnsFBC       string   `xml:"xmlns:fbc,attr,omitempty"`
	XmlnsGroups    string   `xml:"xmlns:groups,attr,omitempty"`
	Level          string   `xml:"level,attr"`
	Version        string   `xml:"version,attr"`
	FBCRequired    string   `xml:"fbc:required,attr,omitempty"`
	GroupsRequired string   `xml:"groups:required,attr,omitempty"`
	Model          xmlModel `xml:"model"`
}

type xmlModel struct {
	ID           string           `xml:"id,attr,omitempty"`
	Name         string           `xml:"name,attr,omitempty"`
	Strict       string           `xml:"fbc:strict,attr,omitempty"`
	Compartments []xmlCompartment `xml:"listOfCompartments>compartment"`
	Species      []xmlSpecies     `xml:"listOfSpecies>species"`
	Parameters   []xmlParameter   `xml:"listOfParameters>parameter"`
	Reactions    []xmlReaction    `xml:"listOfReactions>reaction"`
	Objectives   *xmlObjectives   `xml:"fbc:listOfObjectives,omitempty"`
	Groups       []xmlGroup       `xml:"groups:listOfGroups>groups:group"`
}

type xmlCompartment struct {
	ID       string `xml:"id,attr"`
	Name     string `xml:"name,attr,omitempty"`
	Constant string `xml:"constant,attr,omitempty"`
}

type xmlSpecies struct {
	MetaID                string         `xml:"metaid,attr,omitempty"`
	ID                    string         `xml:"id,attr"`
	Name                  string         `xml:"name,attr,omitempty"`
	Compartment           string         `xml:"compartment,attr"`
	HasOnlySubstanceUnits string         `xml:"hasOnlySubstanceUnits,attr,omitempty"`
	BoundaryCondition     string         `xml:"boundaryCondition,attr,omitempty"`
	Constant              string         `xml:"constant,attr,omitempty"`
	ChemicalFormula       string         `xml:"fbc:chemicalFormula,attr,omitempty"`
	Annotation            *xmlAnnotation `xml:"annotation,omitempty"`
}

type xmlParameter struct {
	ID       string `xml:"id,attr"`
	Value    string `xml:"value,attr,omitempty"`
	Units    string `xml:"units,attr,omitempty"`
	Constant string `xml:"constant,attr,omitempty"`
}

type xmlReaction struct {
	MetaID         string          `xml:"metaid,attr,omitempty"`
	ID             string          `xml:"id,attr"`
	Name           string          `xml:"name,attr,omitempty"`
	Reversible     string          `xml:"reversible,attr,omitempty"`
	Fast           string          `xml:"fast,attr,omitempty"`
	LowerFluxBound string          `xml:"fbc:lowerFluxBound,attr,omitempty"`
	UpperFluxBound string          `xml:"fbc:upperFluxBound,attr,omitempty"`
	Annotation     *xmlAnnotation  `xml:"annotation,omitempty"`
	Reactants      []xmlSpeciesRef `xml:"listOfReactants>speciesReference"`
	Products       []xmlSpeciesRef `xml:"listOfProducts>speciesReference"`
}

type xmlSpeciesRef struct {
	Species       string `xml:"species,attr"`
	Stoichiometry string `xml:"stoichiometry,attr,omitempty"`
	Constant      string `xml:"constant,attr,omitempty"`
}

type xmlObjectives struct {
	Active string         `xml:"fbc:activeObjective,attr,omitempty"`
	Items  []xmlObjective `xml:"fbc:objective"`
}

type xmlObjective struct {
	MetaID         string             `xml:"metaid,attr,omitempty"`
	ID             string             `xml:"fbc:id,attr"`
	Type           string             `xml:"fbc:type,attr"`
	Annotation     *xmlAnnotation     `xml:"annotation,omitempty"`
	FluxObjectives []xmlFluxObjective `xml:"fbc:listOfFluxObjectives>fbc:fluxObjective"`
}

type xmlFluxObjective struct {
	MetaID      string         `xml:"metaid,attr,omitempty"`
	Reaction    string         `xml:"fbc:reaction,attr"`
	Coefficient string         `xml:"fbc:coefficient,attr"`
	Annotation  *xmlAnnotation `xml:"annotation,omitempty"`
}

type xmlGroup struct {
	MetaID     string         `xml:"metaid,attr,omitempty"`
	ID         string         `xml:"groups:id,attr"`
	Name       string         `xml:"groups:name,attr,omitempty"`
	Kind       string         `xml:"groups:kind,attr,omitempty"`
	Annotation *xmlAnnotation `xml:"annotation,omitempty"`
	Members    []xmlMember    `xml:"groups:listOfMembers>groups:member"`
}

type xmlMember struct {
	IDRef string `xml:"groups:idRef,attr"`
}

type xmlAnnotation struct {
	RDF *xmlRDF `xml:"rdf:RDF"`
}

type xmlRDF struct {
	XmlnsRDF     string           `xml:"xmlns:rdf,attr,omitempty"`
	XmlnsBQBiol  string           `xml:"xmlns:bqbiol,attr,omitempty"`
	Descriptions []xmlDescription `xml:"rdf:Description"`
	BRSynth      *xmlBRSynth      `xml:"rdf:BRSynth"`
}

type xmlDescription struct {
	About string  `xml:"rdf:about,attr,omitempty"`
	Is    []xmlLi `xml:"bqbiol:is>rdf:Bag>rdf:li"`
}

type xmlLi struct {
	Resource string `xml:"rdf:resource,attr"`
}

type xmlBRSynth struct {
	About string          `xml:"rdf:about,attr,omitempty"`
	Block xmlBRSynthBlock `xml:"brsynth:brsynth"`
}

type xmlBRSynthBlock struct {
	Xmlns string      `xml:"xmlns:brsynth,attr,omitempty"`
	Items []xmlBRItem `xml:",any"`
}

type xmlBRItem struct {
	XMLName xml.Name
	Value   string `xml:"value,attr,omitempty"`
	Units   string `xml:"units,attr,omitempty"`
	Text    string `xml:",chardata"`
}
