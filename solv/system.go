// Package solv assembles and solves the double-difference system
//
//	W G m = W d
//
// where G holds the partial derivatives of travel time with respect to the
// hypocentral parameters of each event, m the hypocenter corrections
// (dx,dy,dz,dt per event), d the double differences and W the row weights
// (Waldhauser & Ellsworth 2000). G is sparse by construction: every
// observation row touches exactly two events at one station-phase, so the
// derivatives are stored once per (event, station-phase) pair and rows
// reference them by index.
package solv

import "math"

// sentinel for "no free parameters on this side of the row"
const noEvent = -1

// DDSystem owns the contiguous arrays of one double-difference problem.
type DDSystem struct {
	NObs           int // observation rows
	NEvts          int
	NPhStas        int
	NTTConstraints int // optional origin-time constraint rows, one per event

	NumRows int // NObs + NTTConstraints
	NumCols int // 4 * NEvts

	W         []float64 // row weights
	D         []float64 // double differences + constraint rhs
	M         []float64 // solution, interleaved (dx,dy,dz,dt) per event
	G         []float64 // 4 entries per (event, phSta) pair
	L2NScaler []float64 // per-column norms; identity until Normalize

	EvByObs    [2][]int // event index per row side, noEvent for none
	PhStaByObs []int

	normalized bool
}

// NewDDSystem sizes all buffers. Rows and columns are zeroed; the scaler
// starts as identity.
func NewDDSystem(nObs, nEvts, nPhStas, nTTConstraints int) *DDSystem {
	nr := nObs + nTTConstraints
	nc := 4 * nEvts
	dd := &DDSystem{
		NObs:           nObs,
		NEvts:          nEvts,
		NPhStas:        nPhStas,
		NTTConstraints: nTTConstraints,
		NumRows:        nr,
		NumCols:        nc,
		W:              make([]float64, nr),
		D:              make([]float64, nr),
		M:              make([]float64, nc),
		G:              make([]float64, nEvts*nPhStas*4),
		L2NScaler:      make([]float64, nc),
		EvByObs:        [2][]int{make([]int, nr), make([]int, nr)},
		PhStaByObs:     make([]int, nr),
	}
	for i := range dd.L2NScaler {
		dd.L2NScaler[i] = 1.
	}
	return dd
}

// g returns the 4-vector slice for the (event, phSta) pair.
func (dd *DDSystem) g(ev, phSta int) []float64 {
	off := (ev*dd.NPhStas + phSta) * 4
	return dd.G[off : off+4]
}

// Dims implements Operator.
func (dd *DDSystem) Dims() (rows, cols int) { return dd.NumRows, dd.NumCols }

// AddMul accumulates y += A·x where A = W·G (column-normalized when
// Normalize was called). Row order is fixed so floating-point accumulation
// is reproducible.
func (dd *DDSystem) AddMul(y, x []float64) {
	for r := 0; r < dd.NumRows; r++ {
		w := dd.W[r]
		if w == 0 {
			continue
		}
		var sum float64
		if r < dd.NObs {
			ps := dd.PhStaByObs[r]
			if e1 := dd.EvByObs[0][r]; e1 != noEvent {
				sum += dd.rowDot(e1, ps, x)
			}
			if e2 := dd.EvByObs[1][r]; e2 != noEvent {
				sum -= dd.rowDot(e2, ps, x)
			}
		} else {
			// constraint row pins the origin-time correction of one event
			c := dd.EvByObs[0][r]*4 + 3
			sum = x[c] / dd.L2NScaler[c]
		}
		y[r] += w * sum
	}
}

func (dd *DDSystem) rowDot(ev, phSta int, x []float64) float64 {
	g := dd.g(ev, phSta)
	c := ev * 4
	return g[0]*x[c]/dd.L2NScaler[c] +
		g[1]*x[c+1]/dd.L2NScaler[c+1] +
		g[2]*x[c+2]/dd.L2NScaler[c+2] +
		g[3]*x[c+3]/dd.L2NScaler[c+3]
}

// AddMulT accumulates x += Aᵀ·y.
func (dd *DDSystem) AddMulT(x, y []float64) {
	for r := 0; r < dd.NumRows; r++ {
		wy := dd.W[r] * y[r]
		if wy == 0 {
			continue
		}
		if r < dd.NObs {
			ps := dd.PhStaByObs[r]
			if e1 := dd.EvByObs[0][r]; e1 != noEvent {
				dd.scatter(e1, ps, wy, x)
			}
			if e2 := dd.EvByObs[1][r]; e2 != noEvent {
				dd.scatter(e2, ps, -wy, x)
			}
		} else {
			c := dd.EvByObs[0][r]*4 + 3
			x[c] += wy / dd.L2NScaler[c]
		}
	}
}

func (dd *DDSystem) scatter(ev, phSta int, wy float64, x []float64) {
	g := dd.g(ev, phSta)
	c := ev * 4
	x[c] += wy * g[0] / dd.L2NScaler[c]
	x[c+1] += wy * g[1] / dd.L2NScaler[c+1]
	x[c+2] += wy * g[2] / dd.L2NScaler[c+2]
	x[c+3] += wy * g[3] / dd.L2NScaler[c+3]
}

// Normalize computes the L2 norm of every column of W·G and rescales the
// system so each non-empty column has unit norm. The solution of the
// normalized system is mapped back by Denormalize.
func (dd *DDSystem) Normalize() {
	for i := range dd.L2NScaler {
		dd.L2NScaler[i] = 1.
	}
	norms := make([]float64, dd.NumCols)
	for r := 0; r < dd.NumRows; r++ {
		w := dd.W[r]
		if w == 0 {
			continue
		}
		if r < dd.NObs {
			ps := dd.PhStaByObs[r]
			for side := 0; side < 2; side++ {
				ev := dd.EvByObs[side][r]
				if ev == noEvent {
					continue
				}
				g := dd.g(ev, ps)
				c := ev * 4
				for k := 0; k < 4; k++ {
					v := w * g[k]
					norms[c+k] += v * v
				}
			}
		} else {
			c := dd.EvByObs[0][r]*4 + 3
			norms[c] += w * w
		}
	}
	for c, n := range norms {
		if n > 0 {
			dd.L2NScaler[c] = math.Sqrt(n)
		}
	}
	dd.normalized = true
}

// Denormalize maps the normalized solution back to model units.
func (dd *DDSystem) Denormalize() {
	if !dd.normalized {
		return
	}
	for c := range dd.M {
		dd.M[c] /= dd.L2NScaler[c]
	}
}

// Residuals fills res with d − G·m (unweighted, observation rows only).
func (dd *DDSystem) Residuals(res []float64) {
	for r := 0; r < dd.NObs; r++ {
		var sum float64
		ps := dd.PhStaByObs[r]
		if e1 := dd.EvByObs[0][r]; e1 != noEvent {
			sum += dd.rowDotM(e1, ps)
		}
		if e2 := dd.EvByObs[1][r]; e2 != noEvent {
			sum -= dd.rowDotM(e2, ps)
		}
		res[r] = dd.D[r] - sum
	}
}

// rowDotM is rowDot against the denormalized solution (no scaler).
func (dd *DDSystem) rowDotM(ev, phSta int) float64 {
	g := dd.g(ev, phSta)
	c := ev * 4
	return g[0]*dd.M[c] + g[1]*dd.M[c+1] + g[2]*dd.M[c+2] + g[3]*dd.M[c+3]
}
