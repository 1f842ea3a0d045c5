package replica

import "errors"

// Sentinel errors for the replicated store.
var (
	ErrUnsigned          = errors.New("record has no signature and cannot enter the replicated store")
	ErrBadSignature      = errors.New("record signature did not verify against any registered key")
	ErrOverlapPostImport = errors.New("import produced overlapping ranges and was rolled back")
)
