package merge

import "errors"

// Sentinel errors for the merge engine.
var (
	ErrInconsistentState = errors.New("one side of the merge already violates the no-overlap invariant")
	ErrInconsistentData  = errors.New("cross-store overlap plan found both older and newer opposing overlaps")
	ErrMergeConflict     = errors.New("substrate reported a merge failure other than a record conflict")
	ErrBadSignature      = errors.New("a conflicting record variant failed signature verification")
	ErrOwnerMismatch     = errors.New("a conflicting record's two variants have different owners")
)
