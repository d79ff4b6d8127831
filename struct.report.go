package scrtdd

import (
	"fmt"
	"strings"

	"github.com/maseology/mmaths"
)

// Report collects the recoverable problems and summary statistics of one
// relocation run. It is returned alongside the updated catalog; only
// programmer errors abort a run.
type Report struct {
	Iterations int
	Converged  bool

	// RMSE/bias of the double-difference residuals (s) at the first build
	// and after the final solve
	StartRMS, FinalRMS   float64
	StartBias, FinalBias float64

	Skipped    map[int]error // per-event: insufficient neighbours
	DroppedObs int           // observations lost to missing travel times

	NumObsPerEvent map[int]int // double differences contributed per event
}

func newReport() *Report {
	return &Report{
		Skipped:        make(map[int]error),
		NumObsPerEvent: make(map[int]int),
	}
}

// String renders a one-screen run summary.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "relocation: %d iterations, converged=%v\n", r.Iterations, r.Converged)
	fmt.Fprintf(&b, " dd residuals: rms %.4fs -> %.4fs  bias %+.4fs -> %+.4fs\n",
		r.StartRMS, r.FinalRMS, r.StartBias, r.FinalBias)
	fmt.Fprintf(&b, " skipped events: %d  dropped observations: %d\n", len(r.Skipped), r.DroppedObs)
	if len(r.NumObsPerEvent) > 0 {
		ks, vs := mmaths.SortMapInt(r.NumObsPerEvent, false)
		fmt.Fprint(&b, " observations per event:")
		for i, k := range ks {
			fmt.Fprintf(&b, " %d:%d", k, vs[i])
		}
		fmt.Fprintln(&b)
	}
	return b.String()
}
