package labelmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segcomplete/pkg/volume"
)

var unit = [3]float64{1, 1, 1}

func binary(t *testing.T, e volume.Extent, voxels ...[3]int) *volume.BinaryLabelmap {
	t.Helper()
	b, err := volume.NewGrid[uint8](volume.NewGeometry(e, unit, [3]float64{}))
	require.NoError(t, err)
	for _, p := range voxels {
		b.Set(p[0], p[1], p[2], 1)
	}
	return b
}

func TestMergeSingleSegmentScenario(t *testing.T) {
	seg := binary(t, volume.Extent{0, 1, 0, 0, 0, 0}, [3]int{0, 0, 0}, [3]int{1, 0, 0})
	geometry := volume.NewGeometry(volume.Extent{0, 1, 0, 0, 0, 0}, unit, [3]float64{})

	merged, err := Merge([]Input{{SegmentID: "a", Binary: seg}}, geometry)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 1}, merged.Data)
}

func TestMergePriority(t *testing.T) {
	e := volume.Extent{0, 3, 0, 0, 0, 0}
	a := binary(t, e, [3]int{0, 0, 0}, [3]int{1, 0, 0}, [3]int{2, 0, 0})
	b := binary(t, e, [3]int{1, 0, 0}, [3]int{2, 0, 0}, [3]int{3, 0, 0})
	geometry := volume.NewGeometry(e, unit, [3]float64{})

	merged, err := Merge([]Input{{SegmentID: "a", Binary: a}, {SegmentID: "b", Binary: b}}, geometry)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 1, 1, 2}, merged.Data)

	// Swapping the order hands the overlap to the other segment.
	swapped, err := Merge([]Input{{SegmentID: "b", Binary: b}, {SegmentID: "a", Binary: a}}, geometry)
	require.NoError(t, err)
	assert.Equal(t, []uint16{2, 1, 1, 1}, swapped.Data)
}

func TestMergeDeterministic(t *testing.T) {
	e := volume.Extent{0, 4, 0, 4, 0, 4}
	a := binary(t, e, [3]int{1, 1, 1}, [3]int{2, 2, 2})
	b := binary(t, volume.Extent{1, 5, 1, 5, 1, 5}, [3]int{2, 2, 2}, [3]int{3, 3, 3})
	geometry := volume.NewGeometry(volume.Extent{0, 5, 0, 5, 0, 5}, unit, [3]float64{})
	inputs := []Input{{SegmentID: "a", Binary: a}, {SegmentID: "b", Binary: b}}

	first, err := Merge(inputs, geometry)
	require.NoError(t, err)
	second, err := Merge(inputs, geometry)
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)
}

func TestMergeInvalidGeometry(t *testing.T) {
	a := binary(t, volume.Extent{0, 1, 0, 0, 0, 0}, [3]int{0, 0, 0})
	_, err := Merge([]Input{{SegmentID: "a", Binary: a}}, volume.NewGeometry(volume.Extent{2, 1, 0, 0, 0, 0}, unit, [3]float64{}))
	assert.ErrorIs(t, err, volume.ErrInvalidGeometry)
}

func TestMergeFractional(t *testing.T) {
	g := volume.NewGeometry(volume.Extent{0, 2, 0, 0, 0, 0}, unit, [3]float64{})
	params := volume.FractionalParams{ScalarRange: [2]float64{-108, 108}, Interpolation: volume.LinearInterpolation}
	f, err := volume.NewFractionalLabelmap(g, params)
	require.NoError(t, err)
	f.Data[0] = 108
	f.Data[1] = 0
	f.Data[2] = -20

	merged, err := Merge([]Input{{SegmentID: "f", Fractional: f}}, g)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 1, 0}, merged.Data)
}

func TestMergeEmptySegmentKeepsLabelNumbering(t *testing.T) {
	e := volume.Extent{0, 1, 0, 0, 0, 0}
	b := binary(t, e, [3]int{1, 0, 0})
	merged, err := Merge([]Input{{SegmentID: "empty"}, {SegmentID: "b", Binary: b}}, volume.NewGeometry(e, unit, [3]float64{}))
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 2}, merged.Data)
}

func TestExtractAndCount(t *testing.T) {
	g := volume.NewGeometry(volume.Extent{0, 4, 0, 0, 0, 0}, unit, [3]float64{})
	labels, err := volume.NewGridFromData(g, []uint16{0, 1, 2, 2, 1})
	require.NoError(t, err)

	assert.Equal(t, []uint8{0, 0, 1, 1, 0}, ExtractLabel(labels, 2).Data)
	assert.Equal(t, []int{1, 2, 2}, CountLabels(labels, 2))
	assert.Equal(t, []int{1, 2}, CountLabels(labels, 1))
}

func TestEffectiveExtent(t *testing.T) {
	b := binary(t, volume.Extent{-2, 5, 0, 5, 0, 5}, [3]int{-1, 2, 3}, [3]int{4, 1, 3})
	assert.Equal(t, volume.Extent{-1, 4, 1, 2, 3, 3}, EffectiveExtent(b))

	empty := binary(t, volume.Extent{0, 1, 0, 1, 0, 1})
	assert.Equal(t, volume.EmptyExtent, EffectiveExtent(empty))
	assert.Equal(t, volume.EmptyExtent, EffectiveExtent[uint8](nil))
}

func TestSeeds(t *testing.T) {
	g := volume.NewGeometry(volume.Extent{0, 5, 0, 0, 0, 0}, unit, [3]float64{})
	labels, err := volume.NewGridFromData(g, []uint16{1, 0, 2, 2, 0, 1})
	require.NoError(t, err)

	seeds, err := Seeds(labels, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, seeds, 3)
	assert.Equal(t, []uint32{0, 5}, seeds[0].Voxels.ToArray())
	assert.Equal(t, []uint32{2, 3}, seeds[1].Voxels.ToArray())
	assert.True(t, seeds[2].Empty())
	assert.Equal(t, 2, NonEmptySeeds(seeds))
}
