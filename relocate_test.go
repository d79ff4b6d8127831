package scrtdd

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/dikadissss/scrtdd/catalog"
	"github.com/dikadissss/scrtdd/geod"
	"github.com/dikadissss/scrtdd/ttt"
	"github.com/maseology/montecarlo/smpln"
	mrg63k3a "github.com/maseology/pnrg/MRG63k3a"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tBase    = time.Date(2019, 11, 3, 7, 30, 0, 0, time.UTC)
	homModel = ttt.Homogeneous{VelP: 6., VelS: 3.46}
)

// buildCatalog places events and stations at Cartesian (x, y, depth) km
// offsets about (46°N, 8°E, 0 km).
func buildCatalog(evPos, staPos [][3]float64) *catalog.Catalog {
	c := catalog.New()
	for i, p := range evPos {
		lat, lon, depth := geod.Unproject(46., 8., 0., p[0], p[1], p[2])
		c.AddEvent(catalog.Event{
			ID: i, Time: tBase.Add(time.Duration(i) * 2 * time.Minute),
			Lat: lat, Lon: lon, Depth: depth,
		})
	}
	for j, p := range staPos {
		lat, lon, _ := geod.Unproject(46., 8., 0., p[0], p[1], 0.)
		c.AddStation(catalog.Station{
			ID:  fmt.Sprintf("XX.S%02d.", j),
			Lat: lat, Lon: lon, Elev: -p[2] * 1000.,
		})
	}
	c.ComputeCartesians()
	return c
}

// addPicks synthesizes arrivals from the current (true) hypocenters.
func addPicks(c *catalog.Catalog, phases []catalog.PhaseType, noise func() float64) {
	staIDs := make([]string, 0, len(c.Stations))
	for id := range c.Stations {
		staIDs = append(staIDs, id)
	}
	sort.Strings(staIDs)
	for _, evID := range c.EventIDs() {
		ev := c.Events[evID]
		for _, staID := range staIDs {
			sta := c.Stations[staID]
			for _, pt := range phases {
				res, err := homModel.Compute(ev, sta, pt)
				if err != nil {
					panic(err)
				}
				dt := res.TravelTime
				if noise != nil {
					dt += noise()
				}
				c.AddPhase(catalog.Phase{
					EventID: evID, StationID: staID,
					Time:             ev.Time.Add(time.Duration(dt * float64(time.Second))),
					LowerUncertainty: .01, UpperUncertainty: .01,
					Type: pt, EvalMode: catalog.Manual,
				})
			}
		}
	}
}

// movEvent rewrites an event's cataloged hypocenter to the given Cartesian
// offset, leaving its picks untouched.
func movEvent(c *catalog.Catalog, id int, x, y, depth float64) {
	lat, lon, dep := geod.Unproject(46., 8., 0., x, y, depth)
	ev := c.Events[id]
	ev.Lat, ev.Lon, ev.Depth = lat, lon, dep
	c.ComputeCartesians()
}

// locErr is the 3-D distance (km) between an event's current hypocenter
// and a true Cartesian position.
func locErr(c *catalog.Catalog, id int, x, y, depth float64) float64 {
	ev := c.Events[id]
	ex, ey, ez := geod.Project(46., 8., 0., ev.Lat, ev.Lon, ev.Depth)
	return geod.Dist3D(ex, ey, ez, x, y, depth)
}

func looseClustering() ClusteringOptions {
	return ClusteringOptions{MinNumNeigh: 1, MinDTperEvt: 1}
}

// three collinear events, one mislocated by ~120 m: the perturbed event is
// pulled back while its neighbours stay put
func TestRelocateCollinearTriplet(t *testing.T) {
	evTrue := [][3]float64{{0, 0, 5}, {.2, 0, 5}, {-.2, 0, 5}}
	c := buildCatalog(evTrue, [][3]float64{{10, 0, 0}, {-10, 0, 0}, {0, 10, 0}, {0, -10, 0}})
	addPicks(c, []catalog.PhaseType{catalog.P}, nil)
	movEvent(c, 0, .05, .05, 5.1)

	sopt := DefaultSolverOptions()
	sopt.AlgoIterations = 3
	out, rep, err := Relocate(c, looseClustering(), sopt, homModel, nil, nil)
	require.NoError(t, err)
	require.Empty(t, rep.Skipped)

	assert.Less(t, locErr(out, 0, 0, 0, 5), .05, "perturbed event pulled back")
	assert.Less(t, locErr(out, 1, .2, 0, 5), .01)
	assert.Less(t, locErr(out, 2, -.2, 0, 5), .01)
	assert.True(t, out.Events[0].Relocated)

	// origin-time corrections stay zero-mean under the constraint
	var sumDt float64
	for _, id := range out.EventIDs() {
		sumDt += out.Events[id].Time.Sub(c.Events[id].Time).Seconds()
	}
	assert.Less(t, math.Abs(sumDt), 1e-5)
}

// noise-free perturbations of every event recover to < 10 m in ≤ 5 outer
// iterations
func TestRelocateConvergesOnExactData(t *testing.T) {
	evTrue := [][3]float64{{0, 0, 5}, {.2, .1, 5.2}, {-.15, .2, 4.9}}
	c := buildCatalog(evTrue, [][3]float64{{10, 0, 0}, {-8, 3, 0}, {2, 12, 0}, {-3, -9, 0}, {7, -7, 0}})
	addPicks(c, []catalog.PhaseType{catalog.P, catalog.S}, nil)
	movEvent(c, 0, .03, 0, 5)
	movEvent(c, 1, .2, .06, 5.2)
	movEvent(c, 2, -.15, .2, 4.95)

	sopt := DefaultSolverOptions()
	sopt.AlgoIterations = 5
	out, rep, err := Relocate(c, looseClustering(), sopt, homModel, nil, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, rep.Iterations, 5)

	for i, p := range evTrue {
		assert.Less(t, locErr(out, i, p[0], p[1], p[2]), .01, "event %d", i)
	}
	assert.Less(t, rep.FinalRMS, rep.StartRMS+1e-12)
}

// a time shift common to every pick cancels in the double differences: the
// origin-time corrections of a close pair agree to < 1 ms
func TestRelocateCommonTimeShift(t *testing.T) {
	evTrue := [][3]float64{{0, 0, 5}, {.5, 0, 5}}
	stas := make([][3]float64, 10)
	for i := range stas {
		a := 2. * math.Pi * float64(i) / 10.
		r := 6. + 2.*float64(i)
		stas[i] = [3]float64{r * math.Sin(a), r * math.Cos(a), 0}
	}
	c := buildCatalog(evTrue, stas)
	addPicks(c, []catalog.PhaseType{catalog.P, catalog.S}, nil) // 20 obs shared

	for evID, phs := range c.Phases {
		for i := range phs {
			phs[i].Time = phs[i].Time.Add(300 * time.Millisecond)
		}
		c.Phases[evID] = phs
	}

	sopt := DefaultSolverOptions()
	sopt.AlgoIterations = 3
	out, _, err := Relocate(c, looseClustering(), sopt, homModel, nil, nil)
	require.NoError(t, err)

	dt0 := out.Events[0].Time.Sub(c.Events[0].Time).Seconds()
	dt1 := out.Events[1].Time.Sub(c.Events[1].Time).Seconds()
	assert.Less(t, math.Abs(dt0-dt1), 1e-3)
	assert.Less(t, locErr(out, 0, 0, 0, 5), .01)
	assert.Less(t, locErr(out, 1, .5, 0, 5), .01)
}

// shifting every origin time by a constant is unobservable: locations are
// unchanged and the shift reappears verbatim in the relocated times
func TestRelocateOriginTimeModeUnobservable(t *testing.T) {
	const shift = .3
	build := func(originShift float64) *catalog.Catalog {
		evTrue := [][3]float64{{0, 0, 5}, {.2, 0, 5}, {-.2, 0, 5}}
		c := buildCatalog(evTrue, [][3]float64{{10, 0, 0}, {-10, 0, 0}, {0, 10, 0}, {0, -10, 0}})
		addPicks(c, []catalog.PhaseType{catalog.P}, nil)
		movEvent(c, 0, .05, .05, 5.1)
		if originShift != 0 {
			for _, id := range c.EventIDs() {
				// shift the origin but not the picks
				c.Events[id].Time = c.Events[id].Time.Add(time.Duration(originShift * float64(time.Second)))
			}
		}
		return c
	}

	sopt := DefaultSolverOptions()
	sopt.TTConstraint = false
	sopt.AlgoIterations = 3

	outA, _, err := Relocate(build(0), looseClustering(), sopt, homModel, nil, nil)
	require.NoError(t, err)
	outB, _, err := Relocate(build(shift), looseClustering(), sopt, homModel, nil, nil)
	require.NoError(t, err)

	for _, id := range outA.EventIDs() {
		a, b := outA.Events[id], outB.Events[id]
		assert.InDelta(t, a.Lat, b.Lat, 1e-7)
		assert.InDelta(t, a.Lon, b.Lon, 1e-7)
		assert.InDelta(t, a.Depth, b.Depth, 1e-4)
		// identical corrections on top of the shifted origins
		assert.InDelta(t, shift, b.Time.Sub(a.Time).Seconds(), 1e-4)
	}
}

// 50 noisy events: the fit reaches the noise floor and locations stay tight
func TestRelocateNoisyCloud(t *testing.T) {
	rng := rand.New(mrg63k3a.New())
	rng.Seed(777)

	const nEv = 50
	sp := smpln.NewLHC(rng, nEv, 3, false)
	evTrue := make([][3]float64, nEv)
	for k := 0; k < nEv; k++ {
		evTrue[k] = [3]float64{
			(sp.U[0][k] - .5) * 5.,
			(sp.U[1][k] - .5) * 5.,
			10. + (sp.U[2][k]-.5)*5.,
		}
	}
	stas := make([][3]float64, 10)
	for i := range stas {
		a := 2. * math.Pi * float64(i) / 10.
		r := 15. + 2.*float64(i)
		stas[i] = [3]float64{r * math.Sin(a), r * math.Cos(a), 0}
	}
	c := buildCatalog(evTrue, stas)
	const sigma = .02
	addPicks(c, []catalog.PhaseType{catalog.P}, func() float64 { return rng.NormFloat64() * sigma })

	copt := ClusteringOptions{MinNumNeigh: 2, MinDTperEvt: 5, MaxNumNeigh: 10}
	sopt := DefaultSolverOptions()
	sopt.AlgoIterations = 5
	out, rep, err := Relocate(c, copt, sopt, homModel, nil, nil)
	require.NoError(t, err)
	require.Empty(t, rep.Skipped)

	errs := make([]float64, nEv)
	for i, p := range evTrue {
		errs[i] = locErr(out, i, p[0], p[1], p[2])
	}
	sort.Float64s(errs)
	assert.Less(t, errs[nEv/2], .15, "median location error (km)")
	assert.Less(t, rep.FinalRMS, 2.*sigma, "post-fit dd rms near the noise floor")
}

func TestRelocateSingleKeepsNeighboursFixed(t *testing.T) {
	evTrue := [][3]float64{{0, 0, 5}, {.2, 0, 5}, {-.2, 0, 5}}
	c := buildCatalog(evTrue, [][3]float64{{10, 0, 0}, {-10, 0, 0}, {0, 10, 0}, {0, -10, 0}})
	addPicks(c, []catalog.PhaseType{catalog.P, catalog.S}, nil)
	movEvent(c, 0, .05, .05, 5.08)

	sopt := DefaultSolverOptions()
	sopt.AlgoIterations = 5
	out, rep, err := RelocateSingle(c, 0, looseClustering(), sopt, homModel, nil, nil)
	require.NoError(t, err)
	require.Empty(t, rep.Skipped)

	assert.Less(t, locErr(out, 0, 0, 0, 5), .02)
	for _, id := range []int{1, 2} {
		assert.Equal(t, c.Events[id].Lat, out.Events[id].Lat, "neighbour %d must not move", id)
		assert.Equal(t, c.Events[id].Depth, out.Events[id].Depth)
		assert.False(t, out.Events[id].Relocated)
	}
}

// cross-correlation lags refine the relative location beyond the picks
func TestRelocateWithXcorr(t *testing.T) {
	evTrue := [][3]float64{{0, 0, 5}, {.3, 0, 5}}
	stas := make([][3]float64, 8)
	for i := range stas {
		a := 2. * math.Pi * float64(i) / 8.
		r := 8. + 3.*float64(i%3)
		stas[i] = [3]float64{r * math.Sin(a), r * math.Cos(a), 0}
	}
	c := buildCatalog(evTrue, stas)
	addPicks(c, []catalog.PhaseType{catalog.P, catalog.S}, nil)
	movEvent(c, 0, .05, -.04, 5.)

	// exact differential travel times from the true geometry
	xc := NewXCorr(.5)
	truth := buildCatalog(evTrue, stas)
	for staID, sta := range truth.Stations {
		for _, pt := range []catalog.PhaseType{catalog.P, catalog.S} {
			r0, err := homModel.Compute(truth.Events[0], sta, pt)
			require.NoError(t, err)
			r1, err := homModel.Compute(truth.Events[1], sta, pt)
			require.NoError(t, err)
			xc.Add(0, 1, staID, pt, r0.TravelTime-r1.TravelTime, .9)
		}
	}

	sopt := DefaultSolverOptions()
	sopt.AlgoIterations = 4
	sopt.XcorrObsWeight = 2.
	out, _, err := Relocate(c, looseClustering(), sopt, homModel, xc, nil)
	require.NoError(t, err)
	assert.Less(t, locErr(out, 0, 0, 0, 5), .02)
	assert.Less(t, locErr(out, 1, .3, 0, 5), .02)
}

type flakyModel struct {
	bad string
}

func (f flakyModel) Compute(ev *catalog.Event, sta *catalog.Station, pt catalog.PhaseType) (ttt.Result, error) {
	if sta.ID == f.bad {
		return ttt.Result{}, errors.Errorf("station %s outside model", sta.ID)
	}
	return homModel.Compute(ev, sta, pt)
}

// a station outside the travel-time model drops its observations but does
// not abort the run
func TestRelocateMissingTravelTimes(t *testing.T) {
	evTrue := [][3]float64{{0, 0, 5}, {.2, 0, 5}, {-.2, 0, 5}}
	c := buildCatalog(evTrue, [][3]float64{{10, 0, 0}, {-10, 0, 0}, {0, 10, 0}, {0, -10, 0}})
	addPicks(c, []catalog.PhaseType{catalog.P, catalog.S}, nil)
	movEvent(c, 0, .04, .02, 5.05)

	sopt := DefaultSolverOptions()
	sopt.AlgoIterations = 4
	out, rep, err := Relocate(c, looseClustering(), sopt, flakyModel{bad: "XX.S02."}, nil, nil)
	require.NoError(t, err)
	assert.Greater(t, rep.DroppedObs, 0)
	assert.Less(t, locErr(out, 0, 0, 0, 5), .03)
}

func TestRelocateStopFlag(t *testing.T) {
	evTrue := [][3]float64{{0, 0, 5}, {.2, 0, 5}}
	c := buildCatalog(evTrue, [][3]float64{{10, 0, 0}, {0, 10, 0}, {-10, 0, 0}})
	addPicks(c, []catalog.PhaseType{catalog.P}, nil)
	movEvent(c, 0, .05, 0, 5)

	out, rep, err := Relocate(c, looseClustering(), DefaultSolverOptions(), homModel, nil,
		func() bool { return true })
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Iterations)
	for _, id := range c.EventIDs() {
		assert.True(t, c.Events[id].Time.Equal(out.Events[id].Time))
	}
}

func TestRelocateAllEventsSkipped(t *testing.T) {
	// single event: nothing to pair with
	c := buildCatalog([][3]float64{{0, 0, 5}}, [][3]float64{{10, 0, 0}})
	addPicks(c, []catalog.PhaseType{catalog.P}, nil)

	out, rep, err := Relocate(c, looseClustering(), DefaultSolverOptions(), homModel, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Len(t, rep.Skipped, 1)
	assert.Equal(t, 0, rep.Iterations)
}

func TestRelocateNilModel(t *testing.T) {
	c := buildCatalog([][3]float64{{0, 0, 5}}, [][3]float64{{10, 0, 0}})
	_, _, err := Relocate(c, looseClustering(), DefaultSolverOptions(), nil, nil, nil)
	assert.Error(t, err)
}

func TestReportString(t *testing.T) {
	rep := newReport()
	rep.Iterations = 3
	rep.Converged = true
	rep.StartRMS, rep.FinalRMS = .05, .01
	rep.NumObsPerEvent[2] = 10
	rep.NumObsPerEvent[1] = 12
	s := rep.String()
	assert.Contains(t, s, "3 iterations")
	assert.Contains(t, s, "1:12")
}
