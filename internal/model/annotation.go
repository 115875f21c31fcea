package model

import (
	"strconv"
)

// FluxUnits is the unit attached to every flux annotation written by rpfba.
const FluxUnits = "mmol_per_gDW_per_hr"

// MiriamPrefix marks annotation keys holding MIRIAM cross references, e.g.
// "miriam:metanetx.chemical".
const MiriamPrefix = "miriam:"

// Annotation is a single (value, units) pair stored under a namespaced key.
type Annotation struct {
	Value string
	Units string
}

// Annotations is an insertion-ordered key/value map. Writing an existing key
// overwrites the value in place and keeps its position. The zero value is ready to use.
type Annotations struct {
	keys   []string
	values map[string]Annotation
}

// Set writes key, overwriting any existing value.
func (a *Annotations) Set(key, value, units string) {
	if a.values == nil {
		a.values = make(map[string]Annotation)
	}
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = Annotation{Value: value, Units: units}
}

// SetFloat writes a numeric value formatted with the shortest exact representation.
func (a *Annotations) SetFloat(key string, v float64, units string) {
	a.Set(key, strconv.FormatFloat(v, 'g', -1, 64), units)
}

// Get returns the annotation stored under key.
func (a *Annotations) Get(key string) (Annotation, bool) {
	v, ok := a.values[key]
	return v, ok
}

// Float parses the value stored under key. ok is false when the key is
// missing or the value is not a number.
func (a *Annotations) Float(key string) (float64, bool) {
	v, ok := a.values[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.Value, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Has reports whether key is present.
func (a *Annotations) Has(key string) bool {
	_, ok := a.values[key]
	return ok
}

// Delete removes key if present.
func (a *Annotations) Delete(key string) {
	if _, ok := a.values[key]; !ok {
		return
	}
	delete(a.values, key)
	for i, k := range a.keys {
		if k == key {
			a.keys = append(a.keys[:i], a.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (a *Annotations) Keys() []string {
	out := make([]string, len(a.keys))
	copy(out, a.keys)
	return out
}

// Len returns the number of entries.
func (a *Annotations) Len() int {
	return len(a.keys)
}

// CopyFrom overwrites a's entries with every entry of src.
func (a *Annotations) CopyFrom(src *Annotations) {
	for _, k := range src.keys {
		v := src.values[k]
		a.Set(k, v.Value, v.Units)
	}
}

// Clone returns an independent copy.
func (a *Annotations) Clone() Annotations {
	var out Annotations
	out.CopyFrom(a)
	return out
}
