package volume

import "fmt"

// Extent holds inclusive voxel index bounds as
// (iMin, iMax, jMin, jMax, kMin, kMax).
type Extent [6]int

// EmptyExtent is the canonical extent containing no voxels.
var EmptyExtent = Extent{0, -1, 0, -1, 0, -1}

// Valid reports whether min <= max on every axis.
func (e Extent) Valid() bool {
	return e[0] <= e[1] && e[2] <= e[3] && e[4] <= e[5]
}

// Dims returns the number of voxels along each axis. Invalid axes report 0.
func (e Extent) Dims() [3]int {
	var d [3]int
	for axis := 0; axis < 3; axis++ {
		n := e[2*axis+1] - e[2*axis] + 1
		if n < 0 {
			n = 0
		}
		d[axis] = n
	}
	return d
}

// NumVoxels returns the total voxel count (0 for an invalid extent).
func (e Extent) NumVoxels() int {
	if !e.Valid() {
		return 0
	}
	d := e.Dims()
	return d[0] * d[1] * d[2]
}

// Contains reports whether (i, j, k) lies inside the extent.
func (e Extent) Contains(i, j, k int) bool {
	return i >= e[0] && i <= e[1] && j >= e[2] && j <= e[3] && k >= e[4] && k <= e[5]
}

// ContainsExtent reports whether o lies entirely inside e.
func (e Extent) ContainsExtent(o Extent) bool {
	if !o.Valid() {
		return true
	}
	return e.Valid() && o[0] >= e[0] && o[1] <= e[1] && o[2] >= e[2] && o[3] <= e[3] && o[4] >= e[4] && o[5] <= e[5]
}

// Union returns the smallest extent covering both. Invalid operands are ignored.
func (e Extent) Union(o Extent) Extent {
	if !e.Valid() {
		return o
	}
	if !o.Valid() {
		return e
	}
	var u Extent
	for axis := 0; axis < 3; axis++ {
		u[2*axis] = min(e[2*axis], o[2*axis])
		u[2*axis+1] = max(e[2*axis+1], o[2*axis+1])
	}
	return u
}

// Intersect returns the overlap of both extents; the result may be invalid.
func (e Extent) Intersect(o Extent) Extent {
	var r Extent
	for axis := 0; axis < 3; axis++ {
		r[2*axis] = max(e[2*axis], o[2*axis])
		r[2*axis+1] = min(e[2*axis+1], o[2*axis+1])
	}
	return r
}

// Expand grows the extent by margin voxels on both sides of each axis.
func (e Extent) Expand(margin [3]int) Extent {
	r := e
	for axis := 0; axis < 3; axis++ {
		r[2*axis] -= margin[axis]
		r[2*axis+1] += margin[axis]
	}
	return r
}

// Clamp limits every bound of e to the bounds of limit.
func (e Extent) Clamp(limit Extent) Extent {
	var r Extent
	for axis := 0; axis < 3; axis++ {
		r[2*axis] = max(limit[2*axis], e[2*axis])
		r[2*axis+1] = min(limit[2*axis+1], e[2*axis+1])
	}
	return r
}

func (e Extent) String() string {
	return fmt.Sprintf("[%d..%d, %d..%d, %d..%d]", e[0], e[1], e[2], e[3], e[4], e[5])
}
