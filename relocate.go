package scrtdd

import (
	"fmt"
	"sort"

	"github.com/dikadissss/scrtdd/catalog"
	"github.com/dikadissss/scrtdd/cluster"
	"github.com/dikadissss/scrtdd/solv"
	"github.com/dikadissss/scrtdd/ttt"
	"github.com/maseology/mmaths"
	"github.com/maseology/mmio"
	"github.com/maseology/objfunc"
	"github.com/pkg/errors"
)

type driver struct {
	wrk   *catalog.Catalog
	copt  ClusteringOptions
	sopt  SolverOptions
	model ttt.Model
	xc    *XCorr
	stop  func() bool

	neigh  map[int]*cluster.Neighbours
	fixed  map[int]bool
	opc    *obsParamsCache
	report *Report
}

func (d *driver) free(id int) bool { return !d.fixed[id] }

// Relocate runs the multi-event double-difference relocation: every event
// is both a target and a potential neighbour, and all hypocenters are free.
// The input catalog is not modified; the relocated copy is returned with a
// report of the recoverable problems encountered. xc may be nil, stop may
// be nil.
func Relocate(cat *catalog.Catalog, copt ClusteringOptions, sopt SolverOptions, model ttt.Model, xc *XCorr, stop func() bool) (*catalog.Catalog, *Report, error) {
	d, err := newDriver(cat, copt, sopt, model, xc, stop)
	if err != nil {
		return nil, nil, err
	}
	d.wrk.ComputeCartesians()
	sel, skipped := cluster.SelectAll(d.wrk, d.copt)
	for id, serr := range skipped {
		d.report.Skipped[id] = serr
		log.WithField("event", id).Debugf("skipped: %v", serr)
	}
	d.neigh = sel
	if err := d.run(); err != nil {
		return nil, nil, err
	}
	return d.wrk, d.report, nil
}

// RelocateSingle relocates one event against its neighbours, which stay
// fixed (their columns are dropped from the system).
func RelocateSingle(cat *catalog.Catalog, evID int, copt ClusteringOptions, sopt SolverOptions, model ttt.Model, xc *XCorr, stop func() bool) (*catalog.Catalog, *Report, error) {
	if _, ok := cat.Events[evID]; !ok {
		panic(errors.Errorf("scrtdd: unknown event %d", evID))
	}
	d, err := newDriver(cat, copt, sopt, model, xc, stop)
	if err != nil {
		return nil, nil, err
	}
	d.wrk.ComputeCartesians()
	n, serr := cluster.Select(d.wrk, evID, d.copt)
	if serr != nil {
		d.report.Skipped[evID] = serr
		return d.wrk, d.report, nil
	}
	d.neigh = map[int]*cluster.Neighbours{evID: n}
	for _, id := range n.IDs {
		d.fixed[id] = true
	}
	if err := d.run(); err != nil {
		return nil, nil, err
	}
	return d.wrk, d.report, nil
}

func newDriver(cat *catalog.Catalog, copt ClusteringOptions, sopt SolverOptions, model ttt.Model, xc *XCorr, stop func() bool) (*driver, error) {
	if model == nil {
		return nil, errors.New("scrtdd: no travel-time model")
	}
	sopt.setDefaults()
	return &driver{
		wrk:    cat.Copy(),
		copt:   copt,
		sopt:   sopt,
		model:  model,
		xc:     xc,
		stop:   stop,
		fixed:  make(map[int]bool),
		report: newReport(),
	}, nil
}

// run is the outer iteration: rebuild geometry and weights around the
// current hypocenters, solve, apply the corrections, repeat to
// convergence.
func (d *driver) run() error {
	if len(d.neigh) == 0 {
		log.Warn("no relocatable events")
		return nil
	}
	tmr := mmio.NewTimer()
	nIter := d.sopt.AlgoIterations

	refIDs := make([]int, 0, len(d.neigh))
	for id := range d.neigh {
		refIDs = append(refIDs, id)
	}
	sort.Ints(refIDs)

	for it := 1; it <= nIter; it++ {
		if d.stop != nil && d.stop() {
			log.Infof("stop requested at iteration %d", it)
			break
		}
		progress := 0.
		if nIter > 1 {
			progress = float64(it-1) / float64(nIter-1)
		}
		damping := mmaths.LinearTransform(d.sopt.DampingFactorStart, d.sopt.DampingFactorEnd, progress)
		alpha := 0.
		if it >= 2 {
			alpha = mmaths.LinearTransform(d.sopt.DownWeightingByResidualStart, d.sopt.DownWeightingByResidualEnd, progress)
		}

		d.wrk.ComputeCartesians()
		sol := solv.NewSolver(d.sopt.Type)
		d.opc = newObsParamsCache(d.model)
		d.report.NumObsPerEvent = make(map[int]int)
		seen := make(pairSeen)
		for _, id := range refIDs {
			d.addObservations(sol, d.neigh[id], seen)
		}
		d.opc.addToSolver(sol)

		info, err := sol.Solve(d.sopt.SolverIterations, d.sopt.TTConstraint, damping, alpha, d.sopt.L2Normalization)
		if err != nil {
			if errors.Is(err, solv.ErrSingular) {
				log.Warnf("iteration %d: %v; stopping with zero deltas", it, err)
				d.report.Iterations = it
				break
			}
			return errors.Wrapf(err, "iteration %d", it)
		}
		if info.Stop == solv.StopIterLim {
			log.Debugf("iteration %d: solver hit the inner iteration cap, last iterate accepted", it)
		}

		dd := sol.ObservedDD()
		res := sol.Residuals()
		zeros := make([]float64, len(res))
		if it == 1 {
			d.report.StartRMS = objfunc.RMSE(dd, zeros)
			d.report.StartBias = objfunc.Bias(dd, zeros)
		}
		d.report.FinalRMS = objfunc.RMSE(res, zeros)
		d.report.FinalBias = objfunc.Bias(res, zeros)
		if d.sopt.DiagnosticsDir != "" {
			mmio.WriteFloats(fmt.Sprintf("%s/resid-%02d.bin", d.sopt.DiagnosticsDir, it), res)
		}

		for _, id := range d.wrk.EventIDs() {
			if !d.free(id) {
				continue
			}
			if dlat, dlon, ddepth, dtt, ok := sol.EventChanges(id); ok {
				d.wrk.UpdateEvent(id, dlat, dlon, ddepth, dtt)
				if rms, ok := sol.EventRMS(id); ok {
					d.wrk.Events[id].RMS = rms
				}
			}
		}
		maxDelta := sol.MaxDelta()
		d.report.Iterations = it
		log.WithField("iteration", it).
			WithField("rows", len(res)).
			WithField("solverItns", info.Itn).
			Infof("maxDelta %.1fm damping %.2f downweight %.2f rms %.4fs", maxDelta*1000., damping, alpha, d.report.FinalRMS)

		if maxDelta < convergenceKM {
			d.report.Converged = true
			break
		}
	}

	for id, n := range d.neigh {
		ev := d.wrk.Events[id]
		ev.NumNeighbours = len(n.IDs)
		ev.NumObs = d.report.NumObsPerEvent[id]
	}
	tmr.Lap("relocation complete")
	return nil
}
