package labelmap

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"segcomplete/pkg/volume"
)

// SegmentSeed is the set of voxels a segment contributes as growth seeds,
// stored as linear voxel offsets in the working geometry.
type SegmentSeed struct {
	SegmentID string
	Label     uint16
	Voxels    *roaring.Bitmap
}

// Empty reports whether the seed has no voxels.
func (s SegmentSeed) Empty() bool { return s.Voxels == nil || s.Voxels.IsEmpty() }

// Seeds splits a merged label volume into one seed set per segment. ids[i]
// names the segment with label i+1.
func Seeds(labels *volume.LabelVolume, ids []string) ([]SegmentSeed, error) {
	if uint64(len(labels.Data)) > math.MaxUint32 {
		return nil, volume.InvalidParameter("voxels", len(labels.Data), "seed bitmaps address at most 2^32 voxels")
	}
	seeds := make([]SegmentSeed, len(ids))
	for i, id := range ids {
		seeds[i] = SegmentSeed{SegmentID: id, Label: uint16(i + 1), Voxels: roaring.New()}
	}
	for v, l := range labels.Data {
		if l == 0 || int(l) > len(ids) {
			continue
		}
		seeds[l-1].Voxels.Add(uint32(v))
	}
	for _, s := range seeds {
		s.Voxels.RunOptimize()
	}
	return seeds, nil
}

// NonEmptySeeds counts seeds that hold at least one voxel.
func NonEmptySeeds(seeds []SegmentSeed) int {
	n := 0
	for _, s := range seeds {
		if !s.Empty() {
			n++
		}
	}
	return n
}
