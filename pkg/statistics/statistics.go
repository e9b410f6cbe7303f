// Package statistics computes per-segment shape and intensity measurements
// of completed labelmaps, and agreement metrics between two labelmaps.
package statistics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"segcomplete/pkg/volume"
)

// SegmentStatistics holds the measurements of one segment.
// Positions and lengths are in world units (mm); volumes follow from the
// voxel spacing.
type SegmentStatistics struct {
	SegmentID string

	// VoxelCount is the number of voxels inside the segment.
	VoxelCount int

	// VolumeMM3 and VolumeCM3 are the segment volume in cubic millimetres
	// and cubic centimetres.
	VolumeMM3 float64
	VolumeCM3 float64

	// Centroid is the world position of the mean voxel centre.
	Centroid [3]float64

	// PrincipalAxes holds unit vectors along the directions of largest,
	// middle and smallest spread of the voxel centres.
	PrincipalAxes [3][3]float64

	// PrincipalMoments are the variances of the voxel centres along
	// PrincipalAxes, in descending order.
	PrincipalMoments [3]float64

	// OBBDiameter is the size of the oriented bounding box along each
	// principal axis, measured between voxel centres plus one voxel.
	OBBDiameter [3]float64

	// Intensity statistics are only set when an intensity volume was given.
	HasIntensity    bool
	MeanIntensity   float64
	StdDevIntensity float64
	MinIntensity    float64
	MaxIntensity    float64
}

// Compute measures the nonzero voxels of b. intensity may be nil; otherwise
// it must share b's grid.
func Compute(segmentID string, b *volume.BinaryLabelmap, intensity *volume.IntensityVolume) (SegmentStatistics, error) {
	if intensity != nil {
		if err := b.CheckSameGrid("intensity", intensity.Geometry); err != nil {
			return SegmentStatistics{}, err
		}
	}
	acc := newAccumulator(b.Geometry, intensity != nil)
	for v, inside := range b.Data {
		if inside == 0 {
			continue
		}
		i, j, k := b.Coords(v)
		value := 0.0
		if intensity != nil {
			value = intensity.Data[v]
		}
		acc.add(i, j, k, value)
	}
	return acc.finish(segmentID)
}

// ComputeAll measures every label of a merged volume. ids[i] names the
// segment with label i+1.
func ComputeAll(labels *volume.LabelVolume, ids []string, intensity *volume.IntensityVolume) ([]SegmentStatistics, error) {
	if intensity != nil {
		if err := labels.CheckSameGrid("intensity", intensity.Geometry); err != nil {
			return nil, err
		}
	}
	accs := make([]*accumulator, len(ids))
	for n := range accs {
		accs[n] = newAccumulator(labels.Geometry, intensity != nil)
	}
	for v, l := range labels.Data {
		if l == 0 || int(l) > len(ids) {
			continue
		}
		i, j, k := labels.Coords(v)
		value := 0.0
		if intensity != nil {
			value = intensity.Data[v]
		}
		accs[l-1].add(i, j, k, value)
	}

	out := make([]SegmentStatistics, len(ids))
	for n, acc := range accs {
		s, err := acc.finish(ids[n])
		if err != nil {
			return nil, fmt.Errorf("segment %q: %w", ids[n], err)
		}
		out[n] = s
	}
	return out, nil
}

type accumulator struct {
	g         volume.Geometry
	count     int
	positions []float64 // n×3, row-major
	values    []float64
	intensity bool
}

func newAccumulator(g volume.Geometry, intensity bool) *accumulator {
	return &accumulator{g: g, intensity: intensity}
}

func (a *accumulator) add(i, j, k int, value float64) {
	w := a.g.IndexToWorld(float64(i), float64(j), float64(k))
	a.count++
	a.positions = append(a.positions, w[0], w[1], w[2])
	if a.intensity {
		a.values = append(a.values, value)
	}
}

func (a *accumulator) voxelVolume() float64 {
	d := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			d.Set(r, c, a.g.Directions[r][c]*a.g.Spacing[c])
		}
	}
	return math.Abs(mat.Det(d))
}

func (a *accumulator) finish(id string) (SegmentStatistics, error) {
	s := SegmentStatistics{SegmentID: id, VoxelCount: a.count}
	if a.count == 0 {
		return s, nil
	}
	s.VolumeMM3 = float64(a.count) * a.voxelVolume()
	s.VolumeCM3 = s.VolumeMM3 / 1000

	positions := mat.NewDense(a.count, 3, a.positions)
	column := make([]float64, a.count)
	for c := 0; c < 3; c++ {
		s.Centroid[c] = stat.Mean(mat.Col(column, c, positions), nil)
	}

	// Population covariance of the voxel centres; a single voxel has none.
	cov := mat.NewSymDense(3, nil)
	if a.count > 1 {
		stat.CovarianceMatrix(cov, positions, nil)
		n := float64(a.count)
		cov.ScaleSym((n-1)/n, cov)
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return SegmentStatistics{}, fmt.Errorf("principal axes: eigendecomposition failed")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// Values come back ascending.
	for axis := 0; axis < 3; axis++ {
		col := 2 - axis
		s.PrincipalMoments[axis] = math.Max(0, values[col])
		for r := 0; r < 3; r++ {
			s.PrincipalAxes[axis][r] = vectors.At(r, col)
		}
	}
	s.OBBDiameter = a.obbDiameter(s.Centroid, s.PrincipalAxes)

	if a.intensity {
		s.HasIntensity = true
		s.MeanIntensity, s.StdDevIntensity = stat.MeanStdDev(a.values, nil)
		if a.count == 1 {
			s.StdDevIntensity = 0
		}
		s.MinIntensity, s.MaxIntensity = floats.Min(a.values), floats.Max(a.values)
	}
	return s, nil
}

// obbDiameter projects the voxel centres onto each axis. One voxel's extent
// along the axis is added so a single voxel has a nonzero size.
func (a *accumulator) obbDiameter(centroid [3]float64, axes [3][3]float64) [3]float64 {
	var out [3]float64
	for axis := 0; axis < 3; axis++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for p := 0; p < len(a.positions); p += 3 {
			d := 0.0
			for r := 0; r < 3; r++ {
				d += (a.positions[p+r] - centroid[r]) * axes[axis][r]
			}
			lo = math.Min(lo, d)
			hi = math.Max(hi, d)
		}
		voxel := 0.0
		for c := 0; c < 3; c++ {
			step := 0.0
			for r := 0; r < 3; r++ {
				step += a.g.Directions[r][c] * a.g.Spacing[c] * axes[axis][r]
			}
			voxel += math.Abs(step)
		}
		out[axis] = hi - lo + voxel
	}
	return out
}
