// Package labelmap builds and decomposes multi-label volumes.
//
// A merged label volume assigns every voxel either 0 (unlabeled) or the
// 1-based position of the segment that owns it. When segments overlap, the
// segment listed first keeps the voxel.
package labelmap

import (
	"fmt"
	"math"

	"segcomplete/pkg/interpolation"
	"segcomplete/pkg/volume"
)

// Input is one segment taking part in a merge. Fractional takes precedence
// over Binary when both are set; a segment with neither is treated as empty
// but still consumes its label value.
type Input struct {
	SegmentID  string
	Binary     *volume.BinaryLabelmap
	Fractional *volume.FractionalLabelmap
}

// IsFractional reports whether the input carries a fractional labelmap.
func (in Input) IsFractional() bool { return in.Fractional != nil }

// Merge resamples each input onto geometry and writes label value index+1
// into every occupied voxel that no earlier input has claimed.
func Merge(inputs []Input, geometry volume.Geometry) (*volume.LabelVolume, error) {
	if len(inputs) > math.MaxUint16 {
		return nil, volume.InvalidParameter("segments", len(inputs), "too many segments for a 16-bit label volume")
	}
	merged, err := volume.NewGrid[uint16](geometry)
	if err != nil {
		return nil, fmt.Errorf("cannot allocate merged labelmap: %w", err)
	}

	for index, in := range inputs {
		occupied, err := Occupancy(in, geometry)
		if err != nil {
			return nil, fmt.Errorf("segment %q: %w", in.SegmentID, err)
		}
		if occupied == nil {
			continue
		}
		label := uint16(index + 1)
		for v, inside := range occupied.Data {
			if inside != 0 && merged.Data[v] == 0 {
				merged.Data[v] = label
			}
		}
	}
	return merged, nil
}

// Occupancy resamples a segment onto geometry and returns a 0/1 map of the
// voxels it occupies. Binary labelmaps use nearest-neighbour sampling,
// fractional labelmaps are linearly interpolated and thresholded at their
// declared threshold. A segment with no labelmap returns nil.
func Occupancy(in Input, geometry volume.Geometry) (*volume.BinaryLabelmap, error) {
	switch {
	case in.Fractional != nil:
		f := in.Fractional
		resampled, err := interpolation.Resample(&f.Grid, geometry, volume.LinearInterpolation, int8(f.Params.ScalarRange[0]))
		if err != nil {
			return nil, err
		}
		out, err := volume.NewGrid[uint8](geometry)
		if err != nil {
			return nil, err
		}
		for v, value := range resampled.Data {
			if float64(value) >= f.Params.Threshold {
				out.Data[v] = 1
			}
		}
		return out, nil
	case in.Binary != nil:
		resampled, err := interpolation.Resample(in.Binary, geometry, volume.NearestInterpolation, 0)
		if err != nil {
			return nil, err
		}
		for v, value := range resampled.Data {
			if value != 0 {
				resampled.Data[v] = 1
			}
		}
		return resampled, nil
	default:
		return nil, nil
	}
}

// ExtractLabel returns a binary labelmap marking voxels equal to label.
func ExtractLabel(labels *volume.LabelVolume, label uint16) *volume.BinaryLabelmap {
	out := &volume.BinaryLabelmap{Geometry: labels.Geometry, Data: make([]uint8, len(labels.Data))}
	for v, l := range labels.Data {
		if l == label {
			out.Data[v] = 1
		}
	}
	return out
}

// CountLabels returns the number of voxels holding each label 0..n.
// Labels above n are ignored.
func CountLabels(labels *volume.LabelVolume, n int) []int {
	counts := make([]int, n+1)
	for _, l := range labels.Data {
		if int(l) <= n {
			counts[l]++
		}
	}
	return counts
}

// EffectiveExtent returns the tight bounds of the nonzero voxels of a grid,
// or volume.EmptyExtent when there are none.
func EffectiveExtent[T volume.Scalar](g *volume.Grid[T]) volume.Extent {
	return EffectiveExtentAbove(g, 0)
}

// EffectiveExtentAbove returns the tight bounds of voxels whose value is
// strictly greater than threshold.
func EffectiveExtentAbove[T volume.Scalar](g *volume.Grid[T], threshold T) volume.Extent {
	if g == nil {
		return volume.EmptyExtent
	}
	e := volume.EmptyExtent
	found := false
	for v, value := range g.Data {
		if value <= threshold {
			continue
		}
		i, j, k := g.Coords(v)
		if !found {
			e = volume.Extent{i, i, j, j, k, k}
			found = true
			continue
		}
		e[0], e[1] = min(e[0], i), max(e[1], i)
		e[2], e[3] = min(e[2], j), max(e[3], j)
		e[4], e[5] = min(e[4], k), max(e[5], k)
	}
	return e
}
