package localstore

import "errors"

// Sentinel errors for the local store. Verification and invariant
// checks never raise past the batch boundary, so update() returns one
// of these rather than panicking.
var (
	ErrInvalidBatch  = errors.New("batch is internally out of order or overlapping")
	ErrOwnerMismatch = errors.New("incoming range overlaps an existing range owned by someone else")
	ErrBadSignature  = errors.New("a signed candidate record failed verification")
)
