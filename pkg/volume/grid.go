package volume

import (
	"fmt"
	"unsafe"

	"gonum.org/v1/gonum/floats"
)

// Scalar lists the voxel types stored in grids.
type Scalar interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~float32 | ~float64
}

// Grid is a dense voxel buffer over a Geometry. Voxels are stored with i
// varying fastest, then j, then k.
type Grid[T Scalar] struct {
	Geometry Geometry
	Data     []T
}

type (
	// IntensityVolume holds source image intensities.
	IntensityVolume = Grid[float64]

	// LabelVolume holds 0 for unlabeled voxels and index+1 for segment index.
	LabelVolume = Grid[uint16]

	// StrengthVolume holds per-voxel growth confidence in [0, 1].
	StrengthVolume = Grid[float64]

	// BinaryLabelmap holds a single segment as 0/1 (any nonzero is inside).
	BinaryLabelmap = Grid[uint8]
)

// NewGrid allocates a zero-filled grid. The geometry must be valid.
func NewGrid[T Scalar](g Geometry) (*Grid[T], error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Grid[T]{Geometry: g, Data: make([]T, g.Extent.NumVoxels())}, nil
}

// NewGridFromData wraps an existing buffer, checking its length.
func NewGridFromData[T Scalar](g Geometry, data []T) (*Grid[T], error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if len(data) != g.Extent.NumVoxels() {
		return nil, fmt.Errorf("%w: buffer holds %d voxels, extent %v needs %d",
			ErrInvalidGeometry, len(data), g.Extent, g.Extent.NumVoxels())
	}
	return &Grid[T]{Geometry: g, Data: data}, nil
}

// Dims returns the voxel counts along each axis.
func (g *Grid[T]) Dims() [3]int { return g.Geometry.Extent.Dims() }

// Index returns the linear buffer offset of absolute index (i, j, k).
func (g *Grid[T]) Index(i, j, k int) int {
	e := g.Geometry.Extent
	d := e.Dims()
	return (k-e[4])*d[0]*d[1] + (j-e[2])*d[0] + (i - e[0])
}

// Coords converts a linear buffer offset back to an absolute index.
func (g *Grid[T]) Coords(idx int) (i, j, k int) {
	e := g.Geometry.Extent
	d := e.Dims()
	plane := d[0] * d[1]
	k = idx / plane
	rem := idx % plane
	j = rem / d[0]
	i = rem % d[0]
	return i + e[0], j + e[2], k + e[4]
}

// Contains reports whether (i, j, k) is inside the grid extent.
func (g *Grid[T]) Contains(i, j, k int) bool { return g.Geometry.Extent.Contains(i, j, k) }

// At returns the voxel at absolute index (i, j, k). Indices outside the
// extent return the zero value.
func (g *Grid[T]) At(i, j, k int) T {
	if !g.Contains(i, j, k) {
		var zero T
		return zero
	}
	return g.Data[g.Index(i, j, k)]
}

// Set stores v at absolute index (i, j, k); out-of-extent writes are ignored.
func (g *Grid[T]) Set(i, j, k int, v T) {
	if g.Contains(i, j, k) {
		g.Data[g.Index(i, j, k)] = v
	}
}

// Fill sets every voxel to v.
func (g *Grid[T]) Fill(v T) {
	for i := range g.Data {
		g.Data[i] = v
	}
}

// Clone returns a deep copy.
func (g *Grid[T]) Clone() *Grid[T] {
	data := make([]T, len(g.Data))
	copy(data, g.Data)
	return &Grid[T]{Geometry: g.Geometry, Data: data}
}

// SizeBytes returns the size of the voxel buffer.
func (g *Grid[T]) SizeBytes() uint64 {
	var zero T
	return uint64(len(g.Data)) * uint64(unsafe.Sizeof(zero))
}

// Padded returns a copy of g over extent e on the same lattice. Voxels of e
// outside g are set to fill, voxels of g outside e are dropped.
func (g *Grid[T]) Padded(e Extent, fill T) (*Grid[T], error) {
	out, err := NewGrid[T](g.Geometry.WithExtent(e))
	if err != nil {
		return nil, err
	}
	if fill != 0 {
		out.Fill(fill)
	}
	overlap := g.Geometry.Extent.Intersect(e)
	if !overlap.Valid() {
		return out, nil
	}
	for k := overlap[4]; k <= overlap[5]; k++ {
		for j := overlap[2]; j <= overlap[3]; j++ {
			src := g.Index(overlap[0], j, k)
			dst := out.Index(overlap[0], j, k)
			n := overlap[1] - overlap[0] + 1
			copy(out.Data[dst:dst+n], g.Data[src:src+n])
		}
	}
	return out, nil
}

// CheckSameGrid returns a *GeometryMismatchError naming input when other does
// not share g's voxel grid.
func (g *Grid[T]) CheckSameGrid(input string, other Geometry) error {
	if g.Geometry.SameGrid(other) {
		return nil
	}
	return &GeometryMismatchError{Input: input, Expected: g.Geometry, Actual: other}
}

// ScalarRange returns the minimum and maximum intensity. An empty volume
// reports {0, 0}.
func ScalarRange(v *IntensityVolume) [2]float64 {
	if v == nil || len(v.Data) == 0 {
		return [2]float64{}
	}
	return [2]float64{floats.Min(v.Data), floats.Max(v.Data)}
}
