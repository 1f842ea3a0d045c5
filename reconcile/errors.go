package reconcile

import "errors"

// Sentinel errors for the reconciler.
var (
	ErrDatabaseDirty = errors.New("local store has unexported changes; import refused")
	ErrFatal         = errors.New("a fatal consistency error is set; call ClearErrors to resume")
)
