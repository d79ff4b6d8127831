package scrtdd

import (
	"github.com/dikadissss/scrtdd/cluster"
	"github.com/dikadissss/scrtdd/solv"
)

// ClusteringOptions controls neighbour selection; see cluster.Options.
type ClusteringOptions = cluster.Options

// SolverOptions controls the inversion.
type SolverOptions struct {
	Type            solv.SolverType // LSMR or LSQR
	L2Normalization bool            // column-normalize G

	SolverIterations int // inner iteration cap; 0 = 4·n
	AlgoIterations   int // outer iteration cap

	TTConstraint bool // append soft zero-mean priors on the Δt corrections

	// linear schedules across the outer iterations
	DampingFactorStart           float64
	DampingFactorEnd             float64
	DownWeightingByResidualStart float64
	DownWeightingByResidualEnd   float64

	// per-source a-priori weight multipliers
	AbsTTDiffObsWeight float64
	XcorrObsWeight     float64

	// when set, per-iteration residual vectors are dumped here as binary
	// float64 files
	DiagnosticsDir string
}

// DefaultSolverOptions mirrors the defaults of the production
// configuration.
func DefaultSolverOptions() SolverOptions {
	return SolverOptions{
		Type:               solv.TypeLSMR,
		L2Normalization:    true,
		AlgoIterations:     20,
		TTConstraint:       true,
		AbsTTDiffObsWeight: 1.,
		XcorrObsWeight:     1.,
	}
}

// DefaultClusteringOptions mirrors the production defaults: five nested
// ellipsoids of up to 10 km.
func DefaultClusteringOptions() ClusteringOptions {
	return ClusteringOptions{
		MinNumNeigh:      1,
		MinDTperEvt:      1,
		NumEllipsoids:    5,
		MaxEllipsoidSize: 10.,
	}
}

func (o *SolverOptions) setDefaults() {
	if o.Type == "" {
		o.Type = solv.TypeLSMR
	}
	if o.AlgoIterations <= 0 {
		o.AlgoIterations = 20
	}
	if o.AbsTTDiffObsWeight <= 0 {
		o.AbsTTDiffObsWeight = 1.
	}
	if o.XcorrObsWeight <= 0 {
		o.XcorrObsWeight = 1.
	}
}
