package reconcile

import (
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// fatalState is the sticky fatal-error record: once a merge surfaces
// InconsistentData, the worker and peer tasks stop and this flag must
// be cleared by a human-controlled ClearErrors call before anything
// resumes. It survives process restarts, written atomically so a crash
// mid-write can never corrupt it into a false "clear".
type fatalState struct {
	Set    bool      `json:"set"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// FatalFlag guards the sticky fatal-error flag that governs failure
// under concurrency and the InconsistentData policy.
type FatalFlag struct {
	path string
	mu   sync.Mutex
}

// NewFatalFlag returns the sticky flag backed by the file at path. It
// does no I/O itself; every method reads the file, so state persisted by
// a previous process is seen on first use.
func NewFatalFlag(path string) *FatalFlag {
	return &FatalFlag{path: path}
}

func (f *FatalFlag) load() (fatalState, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return fatalState{}, nil
	}
	if err != nil {
		return fatalState{}, err
	}
	var s fatalState
	if err := json.Unmarshal(data, &s); err != nil {
		return fatalState{}, err
	}
	return s, nil
}

func (f *FatalFlag) save(s fatalState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return atomic.WriteFile(f.path, bytes.NewReader(data))
}

// Set raises the sticky flag with reason, recording when it was raised.
// Set is idempotent: a second Set while already raised keeps the first
// reason, since that is the root cause a human needs to see.
func (f *FatalFlag) Set(reason string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, err := f.load()
	if err != nil {
		return err
	}
	if existing.Set {
		return nil
	}
	return f.save(fatalState{Set: true, Reason: reason, At: now})
}

// IsSet reports whether the flag is currently raised, and if so, its
// reason and the time it was raised.
func (f *FatalFlag) IsSet() (bool, string, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.load()
	if err != nil {
		return false, "", time.Time{}, err
	}
	return s.Set, s.Reason, s.At, nil
}

// Clear resets the flag. This is the control surface's `clearerrors`
// operation — a deliberate, human-triggered action, never automatic.
func (f *FatalFlag) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.save(fatalState{})
}
