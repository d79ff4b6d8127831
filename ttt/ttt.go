// Package ttt defines the travel-time contract the relocation driver
// invokes. Real table back-ends (1-D tabular, 3-D grids) live with external
// collaborators; this package carries the interface plus a homogeneous
// constant-velocity model used as the simplest implementation.
package ttt

import "github.com/dikadissss/scrtdd/catalog"

// Result is one travel-time computation. Angles in degrees: azimuth
// clockwise from north, dip positive downward from horizontal.
type Result struct {
	TravelTime float64 // s
	TakeOffAz  float64 // deg
	TakeOffDip float64 // deg
	VelAtSrc   float64 // km/s at the source region
}

// Model computes travel times and takeoff geometry for an event/station/
// phase triple. An error means the request falls outside the model; the
// driver treats that as recoverable (the observation is dropped).
type Model interface {
	Compute(ev *catalog.Event, sta *catalog.Station, phase catalog.PhaseType) (Result, error)
}
