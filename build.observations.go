package scrtdd

import (
	"fmt"
	"sort"

	"github.com/dikadissss/scrtdd/catalog"
	"github.com/dikadissss/scrtdd/cluster"
	"github.com/dikadissss/scrtdd/solv"
	"github.com/dikadissss/scrtdd/ttt"
)

// obsParamsCache computes and memoizes the travel-time geometry of every
// (event, station, phase) referenced by an observation. A failed
// travel-time request poisons its key so the observation is dropped once,
// not retried.
type obsParamsCache struct {
	model   ttt.Model
	entries map[string]*obsEntry
	failed  map[string]bool
	keys    []string // insertion order, for deterministic hand-off
}

type obsEntry struct {
	ev       *catalog.Event
	sta      *catalog.Station
	phase    catalog.PhaseType
	free     bool
	tt       ttt.Result
	residual float64 // pick − (origin + tt)
}

func newObsParamsCache(model ttt.Model) *obsParamsCache {
	return &obsParamsCache{
		model:   model,
		entries: make(map[string]*obsEntry),
		failed:  make(map[string]bool),
	}
}

// add ensures geometry exists for (ev, sta, phase); returns false when the
// travel-time model cannot serve the request.
func (o *obsParamsCache) add(ev *catalog.Event, sta *catalog.Station, ph catalog.Phase, free bool) bool {
	key := fmt.Sprintf("%d_%s_%c", ev.ID, sta.ID, ph.Type)
	if o.failed[key] {
		return false
	}
	if _, ok := o.entries[key]; ok {
		return true
	}
	res, err := o.model.Compute(ev, sta, ph.Type)
	if err != nil {
		log.WithField("event", ev.ID).WithField("station", sta.ID).
			Debugf("no travel time for phase %c: %v", ph.Type, err)
		o.failed[key] = true
		return false
	}
	o.entries[key] = &obsEntry{
		ev:       ev,
		sta:      sta,
		phase:    ph.Type,
		free:     free,
		tt:       res,
		residual: ph.Time.Sub(ev.Time).Seconds() - res.TravelTime,
	}
	o.keys = append(o.keys, key)
	return true
}

// addToSolver hands every cached entry to the solver, in insertion order.
func (o *obsParamsCache) addToSolver(sol *solv.Solver) {
	for _, k := range o.keys {
		e := o.entries[k]
		sol.AddObservationParams(e.ev.ID, e.sta.ID, byte(e.phase),
			e.ev.Lat, e.ev.Lon, e.ev.Depth, e.free,
			e.tt.TravelTime, e.residual, e.tt.TakeOffAz, e.tt.TakeOffDip, e.tt.VelAtSrc)
	}
}

// pairSeen dedups event-pair observations across reference events: in
// multi-event mode each pair is visited from both sides.
type pairSeen map[string]bool

func (p pairSeen) insert(ev1, ev2 int, staID string, pt catalog.PhaseType, isXcorr bool) bool {
	lo, hi := ev1, ev2
	if lo > hi {
		lo, hi = hi, lo
	}
	k := fmt.Sprintf("%d_%d_%s_%c_%t", lo, hi, staID, pt, isXcorr)
	if p[k] {
		return false
	}
	p[k] = true
	return true
}

// addObservations feeds the solver all differential times between the
// reference event and its neighbours: catalog travel-time differences
// always, cross-correlation lags where the table has a usable entry.
func (d *driver) addObservations(sol *solv.Solver, neigh *cluster.Neighbours, seen pairSeen) {
	refID := neigh.RefEvID
	ref := d.wrk.Events[refID]

	for _, nID := range neigh.IDs {
		nev := d.wrk.Events[nID]
		picks := append([]cluster.PhasePick(nil), neigh.Phases[nID]...)
		sort.Slice(picks, func(i, j int) bool {
			if picks[i].StationID != picks[j].StationID {
				return picks[i].StationID < picks[j].StationID
			}
			return picks[i].Type < picks[j].Type
		})
		for _, pk := range picks {
			sta := d.wrk.Stations[pk.StationID]
			refPh, ok1 := d.wrk.FindPhase(refID, pk.StationID, pk.Type)
			nPh, ok2 := d.wrk.FindPhase(nID, pk.StationID, pk.Type)
			if !ok1 || !ok2 {
				continue
			}
			if !d.opc.add(ref, sta, refPh, true) || !d.opc.add(nev, sta, nPh, d.free(nID)) {
				d.report.DroppedObs++
				continue
			}

			if seen.insert(refID, nID, pk.StationID, pk.Type, false) {
				// observed travel-time difference under the current origin
				// times
				diff := refPh.Time.Sub(ref.Time).Seconds() - nPh.Time.Sub(nev.Time).Seconds()
				w := (refPh.Weight() + nPh.Weight()) / 2. * d.sopt.AbsTTDiffObsWeight
				sol.AddObservation(refID, nID, pk.StationID, byte(pk.Type), diff, w, false)
				d.report.NumObsPerEvent[refID]++
				d.report.NumObsPerEvent[nID]++
			}

			if xe, ok := d.xc.Get(refID, nID, pk.StationID, pk.Type); ok {
				if d.copt.XcorrMaxEvStaDist > 0 &&
					(d.wrk.EvStaDist(ref, sta) > d.copt.XcorrMaxEvStaDist ||
						d.wrk.EvStaDist(nev, sta) > d.copt.XcorrMaxEvStaDist) {
					continue
				}
				if seen.insert(refID, nID, pk.StationID, pk.Type, true) {
					w := xe.Coeff * xe.Coeff * d.sopt.XcorrObsWeight
					sol.AddObservation(refID, nID, pk.StationID, byte(pk.Type), xe.Lag, w, true)
				}
			}
		}
	}
}
