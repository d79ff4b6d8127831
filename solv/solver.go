package solv

import (
	"fmt"
	"math"

	"github.com/dikadissss/scrtdd/geod"
	"github.com/pkg/errors"
)

// SolverType selects the iterative kernel.
type SolverType string

const (
	TypeLSMR SolverType = "LSMR"
	TypeLSQR SolverType = "LSQR"
)

// ErrSingular reports a system the kernel could not meaningfully invert.
var ErrSingular = errors.New("solv: singular system")

// default tolerances handed to the kernels
const (
	defAtol   = 1e-8
	defBtol   = 1e-8
	defConlim = 1e+10
)

type observation struct {
	ev1, ev2 int // event indices
	phSta    int
	diffTime float64
	weight   float64
	isXcorr  bool
}

// geographic location as supplied with the observation params
type eventCoords struct {
	lat, lon, depth float64
}

type obsParams struct {
	computeEvChanges bool
	travelTime       float64
	residual         float64
	takeOffAzim      float64 // deg
	takeOffDip       float64 // deg
	velAtSrc         float64 // km/s
	dx, dy, dz       float64 // partials, filled by computePartialDerivatives
}

type eventDeltas struct {
	dlat, dlon, ddepth, dtt float64
	dkm                     float64 // Cartesian shift magnitude
}

// ParamStats aggregates per (event, station-phase) observation statistics.
type ParamStats struct {
	StartingTTObs    int
	StartingCCObs    int
	FinalTotalObs    int
	TotalAPrioriW    float64
	TotalFinalW      float64
	TotalResiduals   float64
	PeerEvents       map[int]bool // event ids sharing observations
}

// Solver accumulates double-difference observations and their geometry,
// packs them into a DDSystem and runs one damped least-squares solve. All
// state lives for a single outer iteration; the driver builds a fresh
// Solver once the hypocenters move.
type Solver struct {
	typ SolverType

	evIdx     map[int]int // event id → index
	evID      []int       // index → id
	phStaIdx  map[string]int
	phStaID   []string
	obs       []observation
	obsSeen   map[string]bool
	coords    []eventCoords            // by event index
	params    map[[2]int]*obsParams    // (evIdx, phStaIdx)
	stats     map[[2]int]*ParamStats   // (evIdx, phStaIdx)
	deltas    map[int]eventDeltas      // by event index
	residuals []float64                // post-solve, observation rows
	evResSq   []float64                // per-event residual aggregates
	evResN    []int
	dd        *DDSystem
}

// NewSolver returns an empty solver of the given type.
func NewSolver(typ SolverType) *Solver {
	if typ != TypeLSMR && typ != TypeLSQR {
		panic(errors.Errorf("solv: unknown solver type %q", typ))
	}
	return &Solver{
		typ:      typ,
		evIdx:    make(map[int]int),
		phStaIdx: make(map[string]int),
		obsSeen:  make(map[string]bool),
		params:   make(map[[2]int]*obsParams),
		stats:    make(map[[2]int]*ParamStats),
		deltas:   make(map[int]eventDeltas),
	}
}

func phStaKey(staID string, phase byte) string {
	return staID + "_" + string(phase)
}

func (s *Solver) eventIndex(id int) int {
	if i, ok := s.evIdx[id]; ok {
		return i
	}
	i := len(s.evID)
	s.evIdx[id] = i
	s.evID = append(s.evID, id)
	s.coords = append(s.coords, eventCoords{})
	return i
}

func (s *Solver) phStaIndex(staID string, phase byte) int {
	k := phStaKey(staID, phase)
	if i, ok := s.phStaIdx[k]; ok {
		return i
	}
	i := len(s.phStaID)
	s.phStaIdx[k] = i
	s.phStaID = append(s.phStaID, k)
	return i
}

func (s *Solver) stat(ev, phSta int) *ParamStats {
	k := [2]int{ev, phSta}
	st, ok := s.stats[k]
	if !ok {
		st = &ParamStats{PeerEvents: make(map[int]bool)}
		s.stats[k] = st
	}
	return st
}

// AddObservation registers one double-difference row between two events at
// a common station-phase. Duplicate observations (canonical pair order) and
// non-finite inputs are programmer errors and panic.
func (s *Solver) AddObservation(evID1, evID2 int, staID string, phase byte, diffTime, aPrioriWeight float64, isXcorr bool) {
	if evID1 == evID2 {
		panic(errors.Errorf("solv: observation pairs event %d with itself", evID1))
	}
	if math.IsNaN(diffTime) || math.IsInf(diffTime, 0) || math.IsNaN(aPrioriWeight) {
		panic(errors.New("solv: non-finite observation"))
	}
	lo, hi := evID1, evID2
	if lo > hi {
		lo, hi = hi, lo
	}
	key := fmt.Sprintf("%d_%d_%s_%c_%t", lo, hi, staID, phase, isXcorr)
	if s.obsSeen[key] {
		panic(errors.Errorf("solv: duplicate observation %s", key))
	}
	s.obsSeen[key] = true

	e1, e2 := s.eventIndex(evID1), s.eventIndex(evID2)
	ps := s.phStaIndex(staID, phase)
	s.obs = append(s.obs, observation{
		ev1: e1, ev2: e2, phSta: ps,
		diffTime: diffTime, weight: aPrioriWeight, isXcorr: isXcorr,
	})

	for _, pair := range [2][2]int{{e1, evID2}, {e2, evID1}} {
		st := s.stat(pair[0], ps)
		if isXcorr {
			st.StartingCCObs++
		} else {
			st.StartingTTObs++
		}
		st.TotalAPrioriW += aPrioriWeight
		st.PeerEvents[pair[1]] = true
	}
}

// AddObservationParams supplies the travel-time geometry of one
// (event, station-phase) pair: the event location, predicted travel time,
// residual, takeoff angles (deg) and velocity at the source. When
// computeEvChanges is false the event stays fixed: its index flips to −1 in
// every row that references it.
func (s *Solver) AddObservationParams(evID int, staID string, phase byte,
	evLat, evLon, evDepth float64, computeEvChanges bool,
	travelTime, residual, takeOffAzim, takeOffDip, velAtSrc float64) {

	if math.IsNaN(evLat) || math.IsNaN(evLon) || math.IsNaN(evDepth) ||
		math.IsNaN(travelTime) || math.IsNaN(takeOffAzim) || math.IsNaN(takeOffDip) {
		panic(errors.New("solv: non-finite observation params"))
	}
	if velAtSrc <= 0 {
		panic(errors.Errorf("solv: non-positive source velocity %g", velAtSrc))
	}
	e := s.eventIndex(evID)
	c := &s.coords[e]
	c.lat, c.lon, c.depth = evLat, evLon, evDepth

	ps := s.phStaIndex(staID, phase)
	s.params[[2]int{e, ps}] = &obsParams{
		computeEvChanges: computeEvChanges,
		travelTime:       travelTime,
		residual:         residual,
		takeOffAzim:      takeOffAzim,
		takeOffDip:       takeOffDip,
		velAtSrc:         velAtSrc,
	}
}

// computePartialDerivatives turns the takeoff geometry into travel-time
// partials. The derivative of travel time with respect to a source shift
// is the negated takeoff direction scaled by the slowness at the source.
func (s *Solver) computePartialDerivatives() {
	for e := 0; e < len(s.evID); e++ {
		for ps := 0; ps < len(s.phStaID); ps++ {
			p, ok := s.params[[2]int{e, ps}]
			if !ok {
				continue
			}
			az := geod.Deg2Rad(p.takeOffAzim)
			dip := geod.Deg2Rad(p.takeOffDip)
			slow := 1. / p.velAtSrc
			p.dx = -slow * math.Cos(dip) * math.Sin(az)
			p.dy = -slow * math.Cos(dip) * math.Cos(az)
			p.dz = -slow * math.Sin(dip)
		}
	}
}

// Solve builds the weighted system from the accumulated observations and
// runs the configured kernel. numIterations = 0 lets the kernel pick its
// 4·n default. residualDownWeight > 0 multiplies Tukey-biweight factors
// derived from the current double differences into the observation-row
// weights (never into constraint rows). Returns ErrSingular when the
// kernel reports a defective system; the loaded deltas are then zero.
func (s *Solver) Solve(numIterations int, useTTConstraint bool, dampingFactor, residualDownWeight float64, normalize bool) (IterInfo, error) {
	if len(s.obs) == 0 {
		return IterInfo{}, errors.New("solv: no observations")
	}
	s.computePartialDerivatives()

	// rows survive only when both sides carry travel-time geometry and at
	// least one side is free
	type packed struct {
		obsIdx   int
		e1, e2   int // noEvent when fixed
		d        float64
	}
	rows := make([]packed, 0, len(s.obs))
	for i, o := range s.obs {
		p1, ok1 := s.params[[2]int{o.ev1, o.phSta}]
		p2, ok2 := s.params[[2]int{o.ev2, o.phSta}]
		if !ok1 || !ok2 {
			continue
		}
		e1, e2 := o.ev1, o.ev2
		if !p1.computeEvChanges {
			e1 = noEvent
		}
		if !p2.computeEvChanges {
			e2 = noEvent
		}
		if e1 == noEvent && e2 == noEvent {
			continue
		}
		// diffTime is an observed differential travel time for both
		// sources; the predicted difference at the current hypocenters
		// leaves the double-difference misfit
		d := o.diffTime - (p1.travelTime - p2.travelTime)
		rows = append(rows, packed{obsIdx: i, e1: e1, e2: e2, d: d})
	}
	if len(rows) == 0 {
		return IterInfo{}, errors.New("solv: no usable observations")
	}

	// free events, in index order
	free := make([]int, 0, len(s.evID))
	isFree := make([]bool, len(s.evID))
	for _, r := range rows {
		if r.e1 != noEvent {
			isFree[r.e1] = true
		}
		if r.e2 != noEvent {
			isFree[r.e2] = true
		}
	}
	for e, f := range isFree {
		if f {
			free = append(free, e)
		}
	}
	nTT := 0
	if useTTConstraint {
		nTT = len(free)
	}

	dd := NewDDSystem(len(rows), len(s.evID), len(s.phStaID), nTT)
	var sumW float64
	for r, pk := range rows {
		o := s.obs[pk.obsIdx]
		dd.W[r] = o.weight
		dd.D[r] = pk.d
		dd.EvByObs[0][r] = pk.e1
		dd.EvByObs[1][r] = pk.e2
		dd.PhStaByObs[r] = o.phSta
		sumW += o.weight
		for _, e := range [2]int{o.ev1, o.ev2} {
			p := s.params[[2]int{e, o.phSta}]
			g := dd.g(e, o.phSta)
			g[0], g[1], g[2], g[3] = p.dx, p.dy, p.dz, 1.
		}
	}

	// robust down-weighting from the current double differences
	if residualDownWeight > 0 {
		res := make([]float64, len(rows))
		for r := range rows {
			res[r] = dd.D[r]
		}
		rw := ResidualWeights(res, residualDownWeight)
		for r := range rows {
			dd.W[r] *= rw[r]
		}
	}

	// soft zero prior on the origin-time corrections
	if nTT > 0 {
		ttW := sumW / float64(len(rows)) * .5
		for i, e := range free {
			r := dd.NObs + i
			dd.W[r] = ttW
			dd.D[r] = 0
			dd.EvByObs[0][r] = e
			dd.EvByObs[1][r] = noEvent
			dd.PhStaByObs[r] = 0
		}
	}

	if normalize {
		dd.Normalize()
	}

	// rhs is the weighted data vector
	b := make([]float64, dd.NumRows)
	for r := 0; r < dd.NumRows; r++ {
		b[r] = dd.W[r] * dd.D[r]
	}

	var info IterInfo
	switch s.typ {
	case TypeLSQR:
		info = LSQR(dd, b, dampingFactor, defAtol, defBtol, defConlim, numIterations, dd.M)
	default:
		info = LSMR(dd, b, dampingFactor, defAtol, defBtol, defConlim, numIterations, dd.M)
	}
	dd.Denormalize()
	s.dd = dd

	// zero pivot or a condition estimate past conlim: accept no deltas
	if info.Stop == StopSingular || info.Stop == StopCondLim {
		s.clearDeltas()
		return info, ErrSingular
	}

	rowObs := make([]int, len(rows))
	for r, pk := range rows {
		rowObs[r] = pk.obsIdx
	}
	s.loadResiduals(rowObs)
	s.loadSolutions(free)
	return info, nil
}

func (s *Solver) clearDeltas() {
	s.deltas = make(map[int]eventDeltas)
	s.residuals = nil
}

// loadResiduals evaluates d − G·m per observation row and folds the final
// weights and residuals into the per-phSta and per-event statistics.
func (s *Solver) loadResiduals(rowObs []int) {
	s.residuals = make([]float64, s.dd.NObs)
	s.dd.Residuals(s.residuals)
	s.evResSq = make([]float64, len(s.evID))
	s.evResN = make([]int, len(s.evID))
	for r, oi := range rowObs {
		o := s.obs[oi]
		for _, e := range [2]int{o.ev1, o.ev2} {
			st := s.stat(e, o.phSta)
			if s.dd.W[r] > 0 {
				st.FinalTotalObs++
			}
			st.TotalFinalW += s.dd.W[r]
			st.TotalResiduals += s.residuals[r]
			s.evResSq[e] += s.residuals[r] * s.residuals[r]
			s.evResN[e]++
		}
	}
}

// EventRMS returns the rms of the last solve's double-difference residuals
// over the rows touching the event.
func (s *Solver) EventRMS(evID int) (float64, bool) {
	e, ok := s.evIdx[evID]
	if !ok || s.evResN == nil || s.evResN[e] == 0 {
		return 0, false
	}
	return math.Sqrt(s.evResSq[e] / float64(s.evResN[e])), true
}

// loadSolutions converts the solution vector into per-event hypocentral
// corrections.
func (s *Solver) loadSolutions(free []int) {
	s.deltas = make(map[int]eventDeltas, len(free))
	for _, e := range free {
		dx := s.dd.M[e*4]
		dy := s.dd.M[e*4+1]
		dz := s.dd.M[e*4+2]
		dt := s.dd.M[e*4+3]
		dlat, dlon := geod.DeltaLatLon(s.coords[e].lat, dx, dy)
		s.deltas[e] = eventDeltas{
			dlat: dlat, dlon: dlon, ddepth: dz, dtt: dt,
			dkm: math.Sqrt(dx*dx + dy*dy + dz*dz),
		}
	}
}

// EventChanges returns the hypocentral corrections of one event from the
// last solve. ok is false for fixed or unknown events.
func (s *Solver) EventChanges(evID int) (dlat, dlon, ddepth, dtt float64, ok bool) {
	e, found := s.evIdx[evID]
	if !found {
		return 0, 0, 0, 0, false
	}
	d, found := s.deltas[e]
	if !found {
		return 0, 0, 0, 0, false
	}
	return d.dlat, d.dlon, d.ddepth, d.dtt, true
}

// MaxDelta returns the largest Cartesian hypocenter shift (km) of the last
// solve.
func (s *Solver) MaxDelta() float64 {
	var mx float64
	for _, d := range s.deltas {
		if d.dkm > mx {
			mx = d.dkm
		}
	}
	return mx
}

// Residuals returns the post-solve residuals d − G·m of the observation
// rows, in row order.
func (s *Solver) Residuals() []float64 { return s.residuals }

// ObservedDD returns the double-difference data vector of the last solve,
// in row order.
func (s *Solver) ObservedDD() []float64 {
	if s.dd == nil {
		return nil
	}
	return s.dd.D[:s.dd.NObs]
}

// ObservationStats returns the aggregate statistics of one
// (event, station-phase) pair.
func (s *Solver) ObservationStats(evID int, staID string, phase byte) (ParamStats, bool) {
	e, ok := s.evIdx[evID]
	if !ok {
		return ParamStats{}, false
	}
	ps, ok := s.phStaIdx[phStaKey(staID, phase)]
	if !ok {
		return ParamStats{}, false
	}
	st, ok := s.stats[[2]int{e, ps}]
	if !ok {
		return ParamStats{}, false
	}
	return *st, true
}
