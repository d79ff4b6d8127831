package solv

import "math"

// Operator is the matrix-free contract of the iterative solvers: the system
// matrix is only ever touched through its two products.
type Operator interface {
	Dims() (rows, cols int)
	// AddMul accumulates y += A·x.
	AddMul(y, x []float64)
	// AddMulT accumulates x += Aᵀ·y.
	AddMulT(x, y []float64)
}

// StopReason reports why an iterative solve terminated.
type StopReason int

const (
	StopX0 StopReason = iota // b ≈ 0, solution is x = 0
	StopAtol                 // residual small: consistent system solved to atol/btol
	StopLSQ                  // least-squares solved: ‖Aᵀr‖ small enough
	StopCondLim              // condition-number estimate exceeded conlim
	StopMachEps              // hit machine precision
	StopIterLim              // iteration cap reached before tolerance
	StopSingular             // zero pivot in the bidiagonalization
)

func (s StopReason) String() string {
	switch s {
	case StopX0:
		return "x = 0 is the exact solution"
	case StopAtol:
		return "residual tolerance satisfied"
	case StopLSQ:
		return "least-squares tolerance satisfied"
	case StopCondLim:
		return "condition limit exceeded"
	case StopMachEps:
		return "machine precision reached"
	case StopIterLim:
		return "iteration limit reached"
	case StopSingular:
		return "singular system"
	}
	return "unknown"
}

// IterInfo carries the solver's final estimates.
type IterInfo struct {
	Stop   StopReason
	Itn    int
	ANorm  float64 // Frobenius estimate of ‖A‖
	ACond  float64 // condition estimate
	RNorm  float64 // ‖r‖
	ARNorm float64 // ‖Aᵀr‖
	XNorm  float64 // ‖x‖
}

func dnrm2(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

func dscal(v []float64, a float64) {
	for i := range v {
		v[i] *= a
	}
}

func zero(v []float64) {
	for i := range v {
		v[i] = 0
	}
}
