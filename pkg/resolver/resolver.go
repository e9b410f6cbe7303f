// Package resolver determines the working geometry of an auto-complete run:
// the union of the visible segments, grown by a margin and limited to the
// voxels the intensity source can provide.
package resolver

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"

	"segcomplete/pkg/volume"
)

const (
	// DefaultMargin is the number of voxels added around the segments on
	// every side.
	DefaultMargin = 17

	// DefaultMinimumSegments is the number of non-empty visible segments
	// needed for growth to be meaningful.
	DefaultMinimumSegments = 2
)

// latticeTolerance absorbs rounding when a source grid is mapped onto the
// segment lattice.
const latticeTolerance = 1e-6

// Segment is the geometric summary of one segment.
type Segment struct {
	ID string

	// Extent is the effective (tight, non-empty) extent in the reference
	// lattice. An invalid extent marks an empty segment.
	Extent volume.Extent

	Visible bool
}

// Empty reports whether the segment has no voxels.
func (s Segment) Empty() bool { return !s.Extent.Valid() }

// Request collects the inputs of Resolve.
type Request struct {
	// Segments in table order.
	Segments []Segment

	// Reference is the lattice the segment extents are expressed in. Its own
	// extent is ignored.
	Reference volume.Geometry

	// Source is the geometry of the intensity volume. It may use a different
	// lattice than Reference.
	Source volume.Geometry

	Margin          [3]int
	MinimumSegments int

	Fractional         bool
	OversamplingFactor int
}

// DefaultRequest fills the tunables with their defaults.
func DefaultRequest() Request {
	return Request{
		Margin:             [3]int{DefaultMargin, DefaultMargin, DefaultMargin},
		MinimumSegments:    DefaultMinimumSegments,
		OversamplingFactor: 3,
	}
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	// Geometry is the working grid on the reference lattice.
	Geometry volume.Geometry

	// Oversampled is set in fractional mode.
	Oversampled *volume.Geometry

	OversamplingFactor int

	// SegmentIDs lists the visible segments in table order. Segment i
	// receives label i+1 in merged volumes.
	SegmentIDs []string

	// NonEmpty counts the visible segments holding at least one voxel.
	NonEmpty int
}

// Working returns the grid growth runs on: the oversampled geometry in
// fractional mode, Geometry otherwise.
func (r Resolution) Working() volume.Geometry {
	if r.Oversampled != nil {
		return *r.Oversampled
	}
	return r.Geometry
}

// Equal reports whether both resolutions describe the same grids and the
// same segments, so cached buffers built for one can serve the other.
func (r Resolution) Equal(o Resolution) bool {
	if !r.Geometry.SameGrid(o.Geometry) || !slices.Equal(r.SegmentIDs, o.SegmentIDs) {
		return false
	}
	if (r.Oversampled == nil) != (o.Oversampled == nil) {
		return false
	}
	return r.Oversampled == nil || r.Oversampled.SameGrid(*o.Oversampled)
}

// Resolve computes the working geometry. It returns an error matching
// volume.ErrSkipped when there is not enough input to work on.
func Resolve(req Request) (Resolution, error) {
	for axis, m := range req.Margin {
		if m < 0 {
			return Resolution{}, volume.InvalidParameter("margin", req.Margin, fmt.Sprintf("axis %d is negative", axis))
		}
	}
	if req.MinimumSegments < 0 {
		return Resolution{}, volume.InvalidParameter("minimumSegments", req.MinimumSegments, "must not be negative")
	}
	if req.Fractional && req.OversamplingFactor <= 0 {
		return Resolution{}, volume.InvalidParameter("oversamplingFactor", req.OversamplingFactor, "must be positive")
	}

	res := Resolution{}
	union := volume.EmptyExtent
	for _, s := range req.Segments {
		if !s.Visible {
			continue
		}
		res.SegmentIDs = append(res.SegmentIDs, s.ID)
		if s.Empty() {
			continue
		}
		res.NonEmpty++
		union = union.Union(s.Extent)
	}

	if len(res.SegmentIDs) < req.MinimumSegments {
		return Resolution{}, volume.Skipf("at least %d visible segments are required", req.MinimumSegments)
	}
	if !union.Valid() {
		return Resolution{}, volume.Skipf("all visible segments are empty")
	}
	if res.NonEmpty < req.MinimumSegments {
		return Resolution{}, volume.Skipf("at least %d non-empty visible segments are required", req.MinimumSegments)
	}

	bounds, err := SourceBounds(req.Source, req.Reference)
	if err != nil {
		return Resolution{}, err
	}
	extent := union.Expand(req.Margin).Clamp(bounds)
	if !extent.Valid() {
		return Resolution{}, fmt.Errorf("%w: segments %v do not overlap the source volume %v",
			volume.ErrInvalidGeometry, union, bounds)
	}
	res.Geometry = req.Reference.WithExtent(extent)
	if err := res.Geometry.Validate(); err != nil {
		return Resolution{}, err
	}

	if req.Fractional {
		fine, err := res.Geometry.Oversampled(req.OversamplingFactor)
		if err != nil {
			return Resolution{}, err
		}
		res.Oversampled = &fine
		res.OversamplingFactor = req.OversamplingFactor
	}
	return res, nil
}

// SourceBounds returns the extent of reference voxels whose centres lie
// inside the source grid. On a shared lattice this is the source extent.
func SourceBounds(source, reference volume.Geometry) (volume.Extent, error) {
	if err := source.Validate(); err != nil {
		return volume.EmptyExtent, fmt.Errorf("source volume: %w", err)
	}
	if source.SameLattice(reference) {
		return source.Extent, nil
	}
	m, err := source.IndexTransformTo(reference)
	if err != nil {
		return volume.EmptyExtent, err
	}

	lo := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	e := source.Extent
	corner := mat.NewVecDense(4, nil)
	var p mat.VecDense
	for c := 0; c < 8; c++ {
		corner.SetVec(0, float64(e[c&1]))
		corner.SetVec(1, float64(e[2+(c>>1&1)]))
		corner.SetVec(2, float64(e[4+(c>>2&1)]))
		corner.SetVec(3, 1)
		p.MulVec(m, corner)
		for axis := 0; axis < 3; axis++ {
			lo[axis] = math.Min(lo[axis], p.AtVec(axis))
			hi[axis] = math.Max(hi[axis], p.AtVec(axis))
		}
	}

	var out volume.Extent
	for axis := 0; axis < 3; axis++ {
		out[2*axis] = int(math.Ceil(lo[axis] - latticeTolerance))
		out[2*axis+1] = int(math.Floor(hi[axis] + latticeTolerance))
	}
	return out, nil
}

// ExtentInLattice returns the extent of reference voxels that overlap the
// voxels of g. Empty geometries map to volume.EmptyExtent.
func ExtentInLattice(g, reference volume.Geometry) (volume.Extent, error) {
	if !g.Extent.Valid() {
		return volume.EmptyExtent, nil
	}
	if g.SameLattice(reference) {
		return g.Extent, nil
	}
	m, err := g.IndexTransformTo(reference)
	if err != nil {
		return volume.EmptyExtent, err
	}

	lo := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	e := g.Extent
	corner := mat.NewVecDense(4, nil)
	var p mat.VecDense
	for c := 0; c < 8; c++ {
		corner.SetVec(0, float64(e[c&1])+float64(c&1)-0.5)
		corner.SetVec(1, float64(e[2+(c>>1&1)])+float64(c>>1&1)-0.5)
		corner.SetVec(2, float64(e[4+(c>>2&1)])+float64(c>>2&1)-0.5)
		corner.SetVec(3, 1)
		p.MulVec(m, corner)
		for axis := 0; axis < 3; axis++ {
			lo[axis] = math.Min(lo[axis], p.AtVec(axis))
			hi[axis] = math.Max(hi[axis], p.AtVec(axis))
		}
	}

	var out volume.Extent
	for axis := 0; axis < 3; axis++ {
		out[2*axis] = int(math.Floor(lo[axis]-0.5+latticeTolerance)) + 1
		out[2*axis+1] = int(math.Ceil(hi[axis]+0.5-latticeTolerance)) - 1
	}
	return out, nil
}
