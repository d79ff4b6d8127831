package cluster

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// evPoint is an event position in the local Cartesian frame, carried with
// its catalog id so tree hits map back to events.
type evPoint struct {
	x, y, z float64
	id      int
}

// Compare implements kdtree.Comparable.
func (p evPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(evPoint)
	switch d {
	case 0:
		return p.x - q.x
	case 1:
		return p.y - q.y
	default:
		return p.z - q.z
	}
}

// Dims implements kdtree.Comparable.
func (p evPoint) Dims() int { return 3 }

// Distance implements kdtree.Comparable (squared Euclidean, as the kdtree
// package expects).
func (p evPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(evPoint)
	dx, dy, dz := p.x-q.x, p.y-q.y, p.z-q.z
	return dx*dx + dy*dy + dz*dz
}

// evPoints satisfies kdtree.Interface.
type evPoints []evPoint

func (p evPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p evPoints) Len() int                              { return len(p) }
func (p evPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method.
func (p evPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(evPlane{evPoints: p, Dim: d}, kdtree.MedianOfMedians(evPlane{evPoints: p, Dim: d}))
}

// evPlane implements sort.Interface and kdtree.SortSlicer along one axis.
type evPlane struct {
	evPoints
	kdtree.Dim
}

func (p evPlane) Less(i, j int) bool {
	return p.evPoints[i].Compare(p.evPoints[j], p.Dim) < 0
}
func (p evPlane) Slice(start, end int) kdtree.SortSlicer {
	p.evPoints = p.evPoints[start:end]
	return p
}
func (p evPlane) Swap(i, j int) {
	p.evPoints[i], p.evPoints[j] = p.evPoints[j], p.evPoints[i]
}

var _ sort.Interface = evPlane{}
