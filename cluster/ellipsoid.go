package cluster

import (
	"sort"

	"github.com/dikadissss/scrtdd/catalog"
)

// ellipsoidSample draws candidates round-robin from nested ellipsoidal
// shells split into 8 azimuth/elevation quadrants, so the selection stays
// spatially homogeneous around the target instead of clustering on the
// densest patch. Shell semi-axes halve inward from MaxEllipsoidSize; the
// innermost shell is the full inner ball.
func ellipsoidSample(cands []candidate, ref *catalog.Event, opt Options) []candidate {
	n := opt.NumEllipsoids

	// horizontal semi-axis per shell, finest near the target
	ax := make([]float64, n)
	for i := 0; i < n; i++ {
		ax[i] = opt.MaxEllipsoidSize / float64(int(1)<<uint(n-1-i))
	}

	type bin struct{ cands []candidate }
	bins := make([][8]bin, n)

	for _, c := range cands {
		dx, dy, dz := c.x-ref.X, c.y-ref.Y, c.z-ref.Z
		shell := n - 1 // beyond the outermost ellipsoid counts as outermost
		for i := 0; i < n; i++ {
			if insideEllipsoid(dx, dy, dz, ax[i], ax[i]*opt.EllipsoidAxisRatio) {
				shell = i
				break
			}
		}
		q := quadrant(dx, dy, dz)
		bins[shell][q].cands = append(bins[shell][q].cands, c)
	}

	// most-observed first, then nearest, then id
	for i := range bins {
		for q := range bins[i] {
			b := bins[i][q].cands
			sort.Slice(b, func(x, y int) bool {
				if b[x].numObs != b[y].numObs {
					return b[x].numObs > b[y].numObs
				}
				if b[x].dist != b[y].dist {
					return b[x].dist < b[y].dist
				}
				return b[x].id < b[y].id
			})
		}
	}

	max := opt.MaxNumNeigh
	var out []candidate
	for {
		picked := false
		for i := 0; i < n; i++ {
			for q := 0; q < 8; q++ {
				b := &bins[i][q]
				if len(b.cands) == 0 {
					continue
				}
				out = append(out, b.cands[0])
				b.cands = b.cands[1:]
				picked = true
				if max > 0 && len(out) >= max {
					return out
				}
			}
		}
		if !picked || max <= 0 {
			// a single pass when unlimited: one per non-empty quadrant
			return out
		}
	}
}

func insideEllipsoid(dx, dy, dz, horiz, vert float64) bool {
	if horiz <= 0 || vert <= 0 {
		return false
	}
	h := (dx*dx + dy*dy) / (horiz * horiz)
	v := dz * dz / (vert * vert)
	return h+v <= 1.
}

// quadrant bins a relative position by the signs of (dx, dy, dz).
func quadrant(dx, dy, dz float64) int {
	q := 0
	if dx >= 0 {
		q |= 1
	}
	if dy >= 0 {
		q |= 2
	}
	if dz >= 0 {
		q |= 4
	}
	return q
}
