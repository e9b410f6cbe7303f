// Package fractional converts between binary labelmaps and fractional
// labelmaps, which store per-voxel occupancy as signed 8-bit values.
//
// A fractional voxel summarises factor^3 voxels of an oversampled binary
// labelmap: with the default scalar range an empty voxel holds -108, a full
// voxel 108 and the surface threshold sits at 0.
package fractional

import (
	"math"

	"segcomplete/pkg/volume"
)

// DefaultOversamplingFactor is the sub-voxel split used by auto-complete.
const DefaultOversamplingFactor = 3

// DefaultParams returns the metadata used for newly created fractional
// labelmaps.
func DefaultParams() volume.FractionalParams {
	return volume.FractionalParams{
		ScalarRange:   [2]float64{-108, 108},
		Threshold:     0,
		Interpolation: volume.LinearInterpolation,
	}
}

// ValidateParams checks that the scalar range is ordered and representable.
func ValidateParams(p volume.FractionalParams) error {
	lo, hi := p.ScalarRange[0], p.ScalarRange[1]
	if !(lo < hi) {
		return volume.InvalidParameter("scalarRange", p.ScalarRange, "minimum must be below maximum")
	}
	if lo < math.MinInt8 || hi > math.MaxInt8 {
		return volume.InvalidParameter("scalarRange", p.ScalarRange, "must fit in a signed 8-bit value")
	}
	if p.Threshold < lo || p.Threshold > hi {
		return volume.InvalidParameter("threshold", p.Threshold, "must lie inside the scalar range")
	}
	return nil
}

// BinaryToFractional summarises an oversampled binary labelmap. The output
// grid is b's geometry undersampled by factor; each output voxel counts how
// many of its factor^3 sub-voxels are inside and maps that fraction linearly
// onto the scalar range. Sub-voxels outside b's extent count as outside.
func BinaryToFractional(b *volume.BinaryLabelmap, factor int, params volume.FractionalParams) (*volume.FractionalLabelmap, error) {
	if factor <= 0 {
		return nil, volume.InvalidParameter("oversamplingFactor", factor, "must be positive")
	}
	if err := ValidateParams(params); err != nil {
		return nil, err
	}
	coarse, err := b.Geometry.Undersampled(factor)
	if err != nil {
		return nil, err
	}
	out, err := volume.NewFractionalLabelmap(coarse, params)
	if err != nil {
		return nil, err
	}

	counts := make([]int, len(out.Data))
	for v, value := range b.Data {
		if value == 0 {
			continue
		}
		i, j, k := b.Coords(v)
		ci := volume.FloorDiv(i, factor)
		cj := volume.FloorDiv(j, factor)
		ck := volume.FloorDiv(k, factor)
		counts[out.Index(ci, cj, ck)]++
	}

	lo, hi := params.ScalarRange[0], params.ScalarRange[1]
	total := float64(factor * factor * factor)
	for v, n := range counts {
		out.Data[v] = encode(lo+float64(n)/total*(hi-lo))
	}
	return out, nil
}

func encode(value float64) int8 {
	value = math.Round(value)
	if value < math.MinInt8 {
		return math.MinInt8
	}
	if value > math.MaxInt8 {
		return math.MaxInt8
	}
	return int8(value)
}

// FractionalToBinary marks every voxel whose value is at or above threshold.
func FractionalToBinary(f *volume.FractionalLabelmap, threshold float64) *volume.BinaryLabelmap {
	out := &volume.BinaryLabelmap{Geometry: f.Geometry, Data: make([]uint8, len(f.Data))}
	for v, value := range f.Data {
		if float64(value) >= threshold {
			out.Data[v] = 1
		}
	}
	return out
}

// Oversample replicates every voxel of b into its factor^3 sub-voxels on the
// oversampled geometry.
func Oversample(b *volume.BinaryLabelmap, factor int) (*volume.BinaryLabelmap, error) {
	fine, err := b.Geometry.Oversampled(factor)
	if err != nil {
		return nil, err
	}
	out, err := volume.NewGrid[uint8](fine)
	if err != nil {
		return nil, err
	}
	for v := range out.Data {
		i, j, k := out.Coords(v)
		out.Data[v] = b.At(volume.FloorDiv(i, factor), volume.FloorDiv(j, factor), volume.FloorDiv(k, factor))
	}
	return out, nil
}

// ValueAsFraction maps a stored value back to an occupancy fraction in [0, 1].
// A degenerate range reports 0.
func ValueAsFraction(params volume.FractionalParams, value float64) float64 {
	lo, hi := params.ScalarRange[0], params.ScalarRange[1]
	if hi <= lo {
		return 0
	}
	f := (value - lo) / (hi - lo)
	return math.Max(0, math.Min(1, f))
}

// Invert swaps inside and outside in place.
func Invert(f *volume.FractionalLabelmap) {
	lo, hi := f.Params.ScalarRange[0], f.Params.ScalarRange[1]
	for v, value := range f.Data {
		f.Data[v] = encode(hi - float64(value) + lo)
	}
}

// EffectiveExtent returns the bounds of voxels with any occupancy.
func EffectiveExtent(f *volume.FractionalLabelmap) volume.Extent {
	if f == nil {
		return volume.EmptyExtent
	}
	e := volume.EmptyExtent
	lo := f.Params.ScalarRange[0]
	for v, value := range f.Data {
		if float64(value) <= lo {
			continue
		}
		i, j, k := f.Coords(v)
		if !e.Valid() {
			e = volume.Extent{i, i, j, j, k, k}
			continue
		}
		e = e.Union(volume.Extent{i, i, j, j, k, k})
	}
	return e
}
