// Package cluster selects, for each target event, the set of neighbouring
// catalog events that yields a well-conditioned double-difference
// subsystem: neighbours must share enough well-weighted phase observations
// with the target and be distributed homogeneously in space, which is
// enforced by sampling from concentric ellipsoidal shells split into
// azimuth/elevation quadrants (Waldhauser 2009).
package cluster

import (
	"math"
	"sort"

	"github.com/dikadissss/scrtdd/catalog"
	"github.com/dikadissss/scrtdd/geod"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// ErrInsufficientNeighbours marks a target event whose surviving neighbour
// count fell below MinNumNeigh. Recoverable: the driver skips the event.
var ErrInsufficientNeighbours = errors.New("cluster: insufficient neighbours")

// DefaultAxisRatio is the vertical-to-horizontal semi-axis ratio of the
// sampling ellipsoids when Options.EllipsoidAxisRatio is unset.
const DefaultAxisRatio = 0.5

// Options controls neighbour selection.
type Options struct {
	MinWeight      float64 // min pick weight (0-1)
	MinEStoIEratio float64 // min epi-station to inter-event distance ratio
	MinESdist      float64 // min event-station distance km
	MaxESdist      float64 // max event-station distance km; <=0 no limit
	MinNumNeigh    int     // min neighbours required
	MaxNumNeigh    int     // max neighbours; 0 = one per non-empty quadrant with ellipsoids, all candidates without
	MinDTperEvt    int     // min differential times per pair (P+S)
	MaxDTperEvt    int     // max differential times per pair; 0 no limit

	NumEllipsoids    int     // 0 = plain nearest-first selection
	MaxEllipsoidSize float64 // km, outermost horizontal semi-axis
	// vertical semi-axis = EllipsoidAxisRatio × horizontal;
	// 0 means DefaultAxisRatio
	EllipsoidAxisRatio float64

	XcorrMaxEvStaDist   float64 // <=0 no limit
	XcorrMaxInterEvDist float64 // <=0 no limit
}

// PhasePick identifies one usable differential-time phase between the
// target and a neighbour.
type PhasePick struct {
	StationID string
	Type      catalog.PhaseType
}

// Neighbours is the selection result for one target event.
type Neighbours struct {
	RefEvID int
	IDs     []int                 // ascending
	Phases  map[int][]PhasePick   // neighbour id → usable station-phases
	NumObs  map[int]int           // neighbour id → surviving observation count
}

// Has reports whether id was selected.
func (n *Neighbours) Has(id int) bool {
	i := sort.SearchInts(n.IDs, id)
	return i < len(n.IDs) && n.IDs[i] == id
}

type candidate struct {
	id      int
	dist    float64 // inter-event km
	numObs  int
	picks   []PhasePick
	x, y, z float64
}

// Select returns the neighbours of refID under opt.
func Select(cat *catalog.Catalog, refID int, opt Options) (*Neighbours, error) {
	ref, ok := cat.Events[refID]
	if !ok {
		panic(errors.Errorf("cluster: unknown event %d", refID))
	}
	if opt.EllipsoidAxisRatio <= 0 {
		opt.EllipsoidAxisRatio = DefaultAxisRatio
	}

	refPicks := usablePicks(cat, refID, opt.MinWeight)

	cands := make([]candidate, 0, len(cat.Events)-1)
	for _, id := range cat.EventIDs() {
		if id == refID {
			continue
		}
		ev := cat.Events[id]
		ie := cat.InterEvDist(ref, ev)
		if opt.XcorrMaxInterEvDist > 0 && ie > opt.XcorrMaxInterEvDist {
			continue
		}
		c := filterCandidate(cat, ref, ev, ie, refPicks, opt)
		if c != nil {
			cands = append(cands, *c)
		}
	}

	var sel []candidate
	if opt.NumEllipsoids == 0 {
		sel = nearestFirst(cands, ref, opt.MaxNumNeigh)
	} else {
		sel = ellipsoidSample(cands, ref, opt)
	}
	if len(sel) < opt.MinNumNeigh {
		return nil, errors.Wrapf(ErrInsufficientNeighbours, "event %d: %d of %d", refID, len(sel), opt.MinNumNeigh)
	}

	out := &Neighbours{
		RefEvID: refID,
		Phases:  make(map[int][]PhasePick, len(sel)),
		NumObs:  make(map[int]int, len(sel)),
	}
	for _, c := range sel {
		out.IDs = append(out.IDs, c.id)
		out.Phases[c.id] = c.picks
		out.NumObs[c.id] = c.numObs
	}
	sort.Ints(out.IDs)
	return out, nil
}

// SelectAll runs Select for every event. Events without enough neighbours
// are returned in skipped rather than failing the call.
func SelectAll(cat *catalog.Catalog, opt Options) (map[int]*Neighbours, map[int]error) {
	sel := make(map[int]*Neighbours)
	skipped := make(map[int]error)
	for _, id := range cat.EventIDs() {
		n, err := Select(cat, id, opt)
		if err != nil {
			skipped[id] = err
			continue
		}
		sel[id] = n
	}
	return sel, skipped
}

type pick struct {
	ph catalog.Phase
	w  float64
}

// usablePicks indexes an event's picks above the weight floor by
// (station, phase type), keeping the best-weighted duplicate.
func usablePicks(cat *catalog.Catalog, evID int, minWeight float64) map[PhasePick]pick {
	out := make(map[PhasePick]pick)
	for _, ph := range cat.Phases[evID] {
		w := ph.Weight()
		if w < minWeight {
			continue
		}
		k := PhasePick{StationID: ph.StationID, Type: ph.Type}
		if prev, ok := out[k]; !ok || w > prev.w {
			out[k] = pick{ph: ph, w: w}
		}
	}
	return out
}

// filterCandidate applies the per-pair observation filters and returns nil
// when the candidate does not survive.
func filterCandidate(cat *catalog.Catalog, ref, ev *catalog.Event, ieDist float64,
	refPicks map[PhasePick]pick, opt Options) *candidate {

	type scored struct {
		k PhasePick
		w float64
	}
	var common []scored
	for k, cp := range usablePicks(cat, ev.ID, opt.MinWeight) {
		rp, ok := refPicks[k]
		if !ok {
			continue
		}
		sta, ok := cat.Stations[k.StationID]
		if !ok {
			continue
		}
		dRef := cat.EvStaDist(ref, sta)
		dCand := cat.EvStaDist(ev, sta)
		if dRef < opt.MinESdist || dCand < opt.MinESdist {
			continue
		}
		if opt.MaxESdist > 0 && (dRef > opt.MaxESdist || dCand > opt.MaxESdist) {
			continue
		}
		if ieDist > 0 && opt.MinEStoIEratio > 0 {
			eRef := geod.Dist2D(ref.X, ref.Y, sta.X, sta.Y)
			eCand := geod.Dist2D(ev.X, ev.Y, sta.X, sta.Y)
			if math.Min(eRef, eCand)/ieDist < opt.MinEStoIEratio {
				continue
			}
		}
		common = append(common, scored{k: k, w: (rp.w + cp.w) / 2.})
	}
	if len(common) < opt.MinDTperEvt {
		return nil
	}
	sort.Slice(common, func(i, j int) bool {
		if common[i].w != common[j].w {
			return common[i].w > common[j].w
		}
		if common[i].k.StationID != common[j].k.StationID {
			return common[i].k.StationID < common[j].k.StationID
		}
		return common[i].k.Type < common[j].k.Type
	})
	if opt.MaxDTperEvt > 0 && len(common) > opt.MaxDTperEvt {
		common = common[:opt.MaxDTperEvt]
	}

	c := &candidate{id: ev.ID, dist: ieDist, numObs: len(common), x: ev.X, y: ev.Y, z: ev.Z}
	for _, s := range common {
		c.picks = append(c.picks, s.k)
	}
	return c
}

// nearestFirst picks the max nearest candidates through a kd-tree over the
// candidate positions. max = 0 keeps all candidates.
func nearestFirst(cands []candidate, ref *catalog.Event, max int) []candidate {
	if max <= 0 || len(cands) <= max {
		out := append([]candidate(nil), cands...)
		sort.Slice(out, func(i, j int) bool {
			if out[i].dist != out[j].dist {
				return out[i].dist < out[j].dist
			}
			return out[i].id < out[j].id
		})
		return out
	}
	byID := make(map[int]candidate, len(cands))
	pts := make(evPoints, len(cands))
	for i, c := range cands {
		byID[c.id] = c
		pts[i] = evPoint{x: c.x, y: c.y, z: c.z, id: c.id}
	}
	t := kdtree.New(pts, false)
	keep := kdtree.NewNKeeper(max)
	t.NearestSet(keep, evPoint{x: ref.X, y: ref.Y, z: ref.Z})

	out := make([]candidate, 0, max)
	for _, h := range keep.Heap {
		if h.Comparable == nil {
			continue
		}
		out = append(out, byID[h.Comparable.(evPoint).id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].dist != out[j].dist {
			return out[i].dist < out[j].dist
		}
		return out[i].id < out[j].id
	})
	return out
}
