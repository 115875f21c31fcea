package merge

import (
	"fmt"

	"github.com/starford/rpfba/internal/apperr"
)

// Kind classifies merge failures.
type Kind string

const (
	KindUnresolvedSpecies  Kind = "unresolved species"
	KindUnresolvedReaction Kind = "unresolved reaction"
	KindIDCollision        Kind = "id collision"
	KindSinkCollision      Kind = "sink collision"
	KindCompartmentMissing Kind = "compartment missing"
)

// Error names the pathway entity that could not be merged. It matches
// apperr.ErrMerge.
type Error struct {
	Kind   Kind
	ID     string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("merge: %s %q: %s", e.Kind, e.ID, e.Reason)
}

func (e *Error) Is(target error) bool {
	return target == apperr.ErrMerge
}

func newError(kind Kind, id, format string, args ...any) *Error {
	return &Error{Kind: kind, ID: id, Reason: fmt.Sprintf(format, args...)}
}
