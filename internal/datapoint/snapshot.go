package datapoint

import (
	"sort"
	"time"
)

// Snapshot is the immutable state of every point at the end of one sweep.
// It is shared between subscribers and must not be modified.
type Snapshot struct {
	// Sweep counts completed sweeps since the store started, from 1.
	Sweep uint64

	// At is when the sweep results were applied.
	At time.Time

	readings map[string]Reading
}

// Get returns the reading of a point.
func (s *Snapshot) Get(name string) (Reading, bool) {
	if s == nil {
		return Reading{}, false
	}
	r, ok := s.readings[name]
	return r, ok
}

// Names returns all point names in sorted order.
func (s *Snapshot) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.readings))
	for n := range s.readings {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of points in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.readings)
}

// NewSnapshot builds a snapshot from explicit readings. Consumers use it to
// drive their evaluation in tests and replays.
func NewSnapshot(sweep uint64, at time.Time, readings ...Reading) *Snapshot {
	m := make(map[string]Reading, len(readings))
	for _, r := range readings {
		m[r.Name] = r
	}
	return &Snapshot{Sweep: sweep, At: at, readings: m}
}
