// Package scrtdd relocates earthquake catalogs by the double-difference
// method: differential travel times between pairs of neighbouring events,
// observed at common stations from catalog picks and from waveform
// cross-correlation lags, are jointly inverted for hypocenter corrections
// (Waldhauser & Ellsworth 2000). The driver here wires the subsystems
// together: cluster picks the neighbours, ttt supplies travel times and
// takeoff geometry, solv packs and solves the sparse system, catalog holds
// the tables the corrections are applied back to.
package scrtdd

// outer iterations stop once no event moved more than this (km)
const convergenceKM = 0.001
