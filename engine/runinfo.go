package engine

import (
	"sync"

	"github.com/google/uuid"
)

// An IterationRecord describes one completed iteration.
type IterationRecord struct {
	// Iteration is the 1-based iteration counter after the
	// iteration completed.
	Iteration int

	Engine string

	// Duration is the time the iteration took, in seconds.
	Duration float64

	Error ErrorValue
}

// A RunInfoEntry is an IterationRecord as it appears in a
// RunInfo log.
type RunInfoEntry struct {
	// Iterations is the number of entries the log held
	// before this one was appended.
	Iterations int

	IterationRecord
}

// RunInfo is an append-only log of the iterations of a run,
// shared by every engine of one rank.
//
// Engines only append to it. Readers may call Entries from
// any Goroutine.
type RunInfo struct {
	ID uuid.UUID

	lock    sync.Mutex
	entries []RunInfoEntry
}

// NewRunInfo creates an empty log with a random ID.
func NewRunInfo() *RunInfo {
	return &RunInfo{ID: uuid.New()}
}

// Append adds a record to the log.
func (r *RunInfo) Append(rec IterationRecord) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.entries = append(r.entries, RunInfoEntry{
		Iterations:      len(r.entries),
		IterationRecord: rec,
	})
}

// Len gets the number of entries.
func (r *RunInfo) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.entries)
}

// Entries gets a copy of the log.
func (r *RunInfo) Entries() []RunInfoEntry {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]RunInfoEntry{}, r.entries...)
}
