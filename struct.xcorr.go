package scrtdd

import (
	"fmt"

	"github.com/dikadissss/scrtdd/catalog"
)

// XCorrEntry is one differential travel time measured by waveform
// cross-correlation of two matched phases: the lag that maximises the
// correlation, and the coefficient at that lag. The signal processing that
// produces these lives with external collaborators.
type XCorrEntry struct {
	// differential travel time implied by the correlation lag,
	// convention tt(ev1) − tt(ev2), seconds
	Lag   float64
	Coeff float64 // 0-1
}

// XCorr is the table of cross-correlation measurements the driver consumes.
// Lookup is symmetric in the event pair; the lag negates when the order
// flips. Entries below MinCoef are ignored.
type XCorr struct {
	MinCoef float64
	entries map[string]XCorrEntry
}

// NewXCorr returns an empty table whose lookups return only entries with
// coefficient ≥ minCoef; Add stores every entry regardless.
func NewXCorr(minCoef float64) *XCorr {
	return &XCorr{MinCoef: minCoef, entries: make(map[string]XCorrEntry)}
}

func xcKey(evID1, evID2 int, staID string, phase catalog.PhaseType) string {
	return fmt.Sprintf("%d_%d_%s_%c", evID1, evID2, staID, phase)
}

// Add stores one measurement.
func (x *XCorr) Add(evID1, evID2 int, staID string, phase catalog.PhaseType, lag, coeff float64) {
	x.entries[xcKey(evID1, evID2, staID, phase)] = XCorrEntry{Lag: lag, Coeff: coeff}
}

// Get returns the measurement for the pair in the requested order.
func (x *XCorr) Get(evID1, evID2 int, staID string, phase catalog.PhaseType) (XCorrEntry, bool) {
	if x == nil {
		return XCorrEntry{}, false
	}
	if e, ok := x.entries[xcKey(evID1, evID2, staID, phase)]; ok && e.Coeff >= x.MinCoef {
		return e, true
	}
	if e, ok := x.entries[xcKey(evID2, evID1, staID, phase)]; ok && e.Coeff >= x.MinCoef {
		return XCorrEntry{Lag: -e.Lag, Coeff: e.Coeff}, true
	}
	return XCorrEntry{}, false
}

// Len returns the number of stored measurements.
func (x *XCorr) Len() int {
	if x == nil {
		return 0
	}
	return len(x.entries)
}
