package reconcile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFatalFlagSetIsStickyAndClearResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fatal.json")
	f := NewFatalFlag(path)

	set, _, _, err := f.IsSet()
	require.NoError(t, err)
	require.False(t, set)

	require.NoError(t, f.Set("merge found InconsistentData", time.Now()))
	set, reason, _, err := f.IsSet()
	require.NoError(t, err)
	require.True(t, set)
	require.Equal(t, "merge found InconsistentData", reason)

	// Setting again while already raised keeps the original reason.
	require.NoError(t, f.Set("a different reason", time.Now()))
	_, reason, _, err = f.IsSet()
	require.NoError(t, err)
	require.Equal(t, "merge found InconsistentData", reason)

	require.NoError(t, f.Clear())
	set, _, _, err = f.IsSet()
	require.NoError(t, err)
	require.False(t, set)
}

func TestFatalFlagSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fatal.json")
	f1 := NewFatalFlag(path)
	require.NoError(t, f1.Set("boom", time.Now()))

	f2 := NewFatalFlag(path)
	set, reason, _, err := f2.IsSet()
	require.NoError(t, err)
	require.True(t, set)
	require.Equal(t, "boom", reason)
}
