package merge

import "sort"

// RenameMap is a bijection between pathway ids and merged model ids. Ids
// kept unchanged are recorded too, so every merged pathway entity has an
// entry.
type RenameMap struct {
	forward map[string]string
	inverse map[string]string
}

func newRenameMap() *RenameMap {
	return &RenameMap{forward: map[string]string{}, inverse: map[string]string{}}
}

// set records from -> to. It reports false when either side is already
// mapped elsewhere, which would break the bijection.
func (r *RenameMap) set(from, to string) bool {
	if cur, ok := r.forward[from]; ok {
		return cur == to
	}
	if _, ok := r.inverse[to]; ok {
		return false
	}
	r.forward[from] = to
	r.inverse[to] = from
	return true
}

// Get returns the id that from was mapped to.
func (r *RenameMap) Get(from string) (string, bool) {
	to, ok := r.forward[from]
	return to, ok
}

// Inverse returns the map in the opposite direction.
func (r *RenameMap) Inverse() *RenameMap {
	return &RenameMap{forward: r.inverse, inverse: r.forward}
}

// Len returns the number of pairs.
func (r *RenameMap) Len() int { return len(r.forward) }

// Renamed returns the keys whose mapped id differs, sorted.
func (r *RenameMap) Renamed() []string {
	var out []string
	for from, to := range r.forward {
		if from != to {
			out = append(out, from)
		}
	}
	sort.Strings(out)
	return out
}
