package ttt

import (
	"math"

	"github.com/dikadissss/scrtdd/catalog"
	"github.com/dikadissss/scrtdd/geod"
	"github.com/pkg/errors"
)

// Homogeneous is a straight-ray constant-velocity medium.
type Homogeneous struct {
	VelP, VelS float64 // km/s
}

// Compute returns the straight-ray travel time and takeoff geometry from
// the event to the station in the shared local Cartesian frame.
func (h Homogeneous) Compute(ev *catalog.Event, sta *catalog.Station, phase catalog.PhaseType) (Result, error) {
	v := h.VelP
	if phase == catalog.S {
		v = h.VelS
	}
	if v <= 0 {
		return Result{}, errors.Errorf("ttt: no velocity for phase %c", phase)
	}
	d := geod.Dist3D(ev.X, ev.Y, ev.Z, sta.X, sta.Y, sta.Z)
	if d == 0 {
		return Result{}, errors.New("ttt: zero event-station distance")
	}
	az := math.Atan2(sta.X-ev.X, sta.Y-ev.Y)
	dip := math.Asin((sta.Z - ev.Z) / d) // z positive down: negative dip is upgoing
	return Result{
		TravelTime: d / v,
		TakeOffAz:  geod.Rad2Deg(az),
		TakeOffDip: geod.Rad2Deg(dip),
		VelAtSrc:   v,
	}, nil
}
