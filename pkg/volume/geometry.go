package volume

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// geometryTolerance is the absolute tolerance used when comparing spacing,
// origin and direction components of two geometries.
const geometryTolerance = 1e-6

// Geometry describes an oriented voxel grid: which indices exist (Extent) and
// how index space maps to world space. Directions holds the unit axis
// directions as columns, so world = Origin + Directions * diag(Spacing) * ijk.
type Geometry struct {
	Extent     Extent
	Spacing    [3]float64
	Origin     [3]float64
	Directions [3][3]float64
}

// IdentityDirections is the axis-aligned direction matrix.
var IdentityDirections = [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// NewGeometry returns an axis-aligned geometry.
func NewGeometry(extent Extent, spacing, origin [3]float64) Geometry {
	return Geometry{
		Extent:     extent,
		Spacing:    spacing,
		Origin:     origin,
		Directions: IdentityDirections,
	}
}

// Validate checks the extent ordering, spacing sign and direction matrix.
func (g Geometry) Validate() error {
	if !g.Extent.Valid() {
		return fmt.Errorf("%w: degenerate extent %v", ErrInvalidGeometry, g.Extent)
	}
	for axis, s := range g.Spacing {
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: spacing[%d] = %v must be positive", ErrInvalidGeometry, axis, s)
		}
	}
	if math.Abs(mat.Det(g.directionMatrix())) < geometryTolerance {
		return fmt.Errorf("%w: singular direction matrix", ErrInvalidGeometry)
	}
	return nil
}

// WithExtent returns a copy of g with a different extent.
func (g Geometry) WithExtent(e Extent) Geometry {
	g.Extent = e
	return g
}

func (g Geometry) directionMatrix() *mat.Dense {
	d := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			d.Set(r, c, g.Directions[r][c])
		}
	}
	return d
}

// ImageToWorld returns the homogeneous 4x4 index-to-world matrix.
func (g Geometry) ImageToWorld() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.Set(r, c, g.Directions[r][c]*g.Spacing[c])
		}
		m.Set(r, 3, g.Origin[r])
	}
	m.Set(3, 3, 1)
	return m
}

// WorldToImage returns the inverse of ImageToWorld.
func (g Geometry) WorldToImage() (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(g.ImageToWorld()); err != nil {
		return nil, fmt.Errorf("%w: image-to-world matrix is not invertible: %v", ErrInvalidGeometry, err)
	}
	return &inv, nil
}

// IndexToWorld maps a continuous index position to world coordinates.
func (g Geometry) IndexToWorld(i, j, k float64) [3]float64 {
	ijk := [3]float64{i, j, k}
	var w [3]float64
	for r := 0; r < 3; r++ {
		w[r] = g.Origin[r]
		for c := 0; c < 3; c++ {
			w[r] += g.Directions[r][c] * g.Spacing[c] * ijk[c]
		}
	}
	return w
}

// IndexTransformTo returns the 4x4 matrix mapping continuous indices of g to
// continuous indices of target.
func (g Geometry) IndexTransformTo(target Geometry) (*mat.Dense, error) {
	w2i, err := target.WorldToImage()
	if err != nil {
		return nil, err
	}
	var m mat.Dense
	m.Mul(w2i, g.ImageToWorld())
	return &m, nil
}

// SameGrid reports whether both geometries describe the same voxels at the
// same world positions.
func (g Geometry) SameGrid(o Geometry) bool {
	if g.Extent != o.Extent {
		return false
	}
	return g.SameLattice(o)
}

// SameLattice reports whether both geometries share spacing, origin and axes,
// regardless of extent. Voxel (i,j,k) then means the same position in both.
func (g Geometry) SameLattice(o Geometry) bool {
	for a := 0; a < 3; a++ {
		if !near(g.Spacing[a], o.Spacing[a]) || !near(g.Origin[a], o.Origin[a]) {
			return false
		}
		for c := 0; c < 3; c++ {
			if !near(g.Directions[a][c], o.Directions[a][c]) {
				return false
			}
		}
	}
	return true
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= geometryTolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// Oversampled derives the fine geometry used for fractional labelmaps: every
// coarse voxel is split into factor^3 sub-voxels whose centres are distributed
// symmetrically around the coarse voxel centre.
func (g Geometry) Oversampled(factor int) (Geometry, error) {
	if factor <= 0 {
		return Geometry{}, InvalidParameter("oversamplingFactor", factor, "must be positive")
	}
	if err := g.Validate(); err != nil {
		return Geometry{}, err
	}
	k := float64(factor)
	shift := -(k - 1) / (2 * k)
	out := g
	out.Origin = g.IndexToWorld(shift, shift, shift)
	for a := 0; a < 3; a++ {
		out.Spacing[a] = g.Spacing[a] / k
		out.Extent[2*a] = factor * g.Extent[2*a]
		out.Extent[2*a+1] = factor*g.Extent[2*a+1] + factor - 1
	}
	return out, nil
}

// Undersampled is the inverse of Oversampled: it returns the coarse geometry
// whose voxels each cover factor^3 voxels of g.
func (g Geometry) Undersampled(factor int) (Geometry, error) {
	if factor <= 0 {
		return Geometry{}, InvalidParameter("oversamplingFactor", factor, "must be positive")
	}
	if err := g.Validate(); err != nil {
		return Geometry{}, err
	}
	k := float64(factor)
	offset := (k - 1) / 2
	out := g
	out.Origin = g.IndexToWorld(offset, offset, offset)
	for a := 0; a < 3; a++ {
		out.Spacing[a] = g.Spacing[a] * k
		out.Extent[2*a] = FloorDiv(g.Extent[2*a], factor)
		out.Extent[2*a+1] = FloorDiv(g.Extent[2*a+1], factor)
	}
	return out, nil
}

// FloorDiv divides rounding toward negative infinity.
func FloorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func (g Geometry) String() string {
	return fmt.Sprintf("extent=%v spacing=%v origin=%v", g.Extent, g.Spacing, g.Origin)
}
