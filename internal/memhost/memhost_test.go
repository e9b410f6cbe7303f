package memhost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segcomplete/pkg/fractional"
	"segcomplete/pkg/host"
	"segcomplete/pkg/volume"
)

var lattice = volume.NewGeometry(volume.Extent{0, 3, 0, 0, 0, 0}, [3]float64{1, 1, 1}, [3]float64{})

func binaryOf(t *testing.T, e volume.Extent, values ...uint8) *volume.BinaryLabelmap {
	t.Helper()
	b, err := volume.NewGridFromData(lattice.WithExtent(e), values)
	require.NoError(t, err)
	return b
}

func TestStoreOrderVisibilityAndTimes(t *testing.T) {
	s := NewStore(false)
	notified := 0
	s.Observe(func() { notified++ })

	require.NoError(t, s.AddSegment(host.Segment{ID: "a", Name: "A"}))
	require.NoError(t, s.AddSegment(host.Segment{ID: "b", Name: "B"}))
	assert.Error(t, s.AddSegment(host.Segment{ID: "a"}))
	assert.Equal(t, []string{"a", "b"}, s.SegmentIDs())

	require.NoError(t, s.SetVisible("a", false))
	assert.Equal(t, []string{"b"}, s.VisibleSegmentIDs())
	assert.ErrorIs(t, s.SetVisible("zz", true), ErrUnknownSegment)

	before, _ := s.Segment("b")
	require.NoError(t, s.Modify("b", func(seg *host.Segment) { seg.Name = "Bee" }))
	after, ok := s.Segment("b")
	require.True(t, ok)
	assert.Greater(t, after.ModifiedTime, before.ModifiedTime)
	assert.Equal(t, "Bee", after.Name)

	assert.True(t, s.RemoveSegment("a"))
	assert.False(t, s.RemoveSegment("a"))
	_, ok = s.Segment("a")
	assert.False(t, ok)
	assert.Equal(t, 5, notified)
}

func TestSetLabelmapModes(t *testing.T) {
	s := NewStore(false)
	require.NoError(t, s.AddSegment(host.Segment{ID: "a", Binary: binaryOf(t, volume.Extent{0, 3, 0, 0, 0, 0}, 1, 0, 1, 0)}))

	data := host.Labelmap{Binary: binaryOf(t, volume.Extent{0, 3, 0, 0, 0, 0}, 0, 1, 0, 1)}
	whole := volume.Extent{0, 3, 0, 0, 0, 0}

	require.NoError(t, s.SetLabelmap("a", data, host.MergeMax, whole))
	seg, _ := s.Segment("a")
	assert.Equal(t, []uint8{1, 1, 1, 1}, seg.Binary.Data)

	require.NoError(t, s.SetLabelmap("a", data, host.MergeMin, whole))
	seg, _ = s.Segment("a")
	assert.Equal(t, []uint8{0, 1, 0, 1}, seg.Binary.Data)

	// Replace limited to the first two voxels keeps the rest.
	zeros := host.Labelmap{Binary: binaryOf(t, volume.Extent{0, 3, 0, 0, 0, 0}, 1, 0, 0, 0)}
	require.NoError(t, s.SetLabelmap("a", zeros, host.MergeReplace, volume.Extent{0, 1, 0, 0, 0, 0}))
	seg, _ = s.Segment("a")
	assert.Equal(t, []uint8{1, 0, 0, 1}, seg.Binary.Data)
}

func TestSetLabelmapGrowsExtent(t *testing.T) {
	s := NewStore(false)
	require.NoError(t, s.AddSegment(host.Segment{ID: "a", Binary: binaryOf(t, volume.Extent{0, 1, 0, 0, 0, 0}, 1, 1)}))
	data := host.Labelmap{Binary: binaryOf(t, volume.Extent{2, 3, 0, 0, 0, 0}, 0, 1)}
	require.NoError(t, s.SetLabelmap("a", data, host.MergeReplace, volume.Extent{0, 3, 0, 0, 0, 0}))
	seg, _ := s.Segment("a")
	assert.Equal(t, volume.Extent{0, 3, 0, 0, 0, 0}, seg.Binary.Geometry.Extent)
	assert.Equal(t, []uint8{1, 1, 0, 1}, seg.Binary.Data)
}

func TestSetLabelmapKeepsCoarserLabelmap(t *testing.T) {
	// Coarse voxel i covers fine voxels 3i-1 .. 3i+1.
	coarse := volume.NewGeometry(volume.Extent{0, 3, 0, 0, 0, 0}, [3]float64{3, 1, 1}, [3]float64{})
	existing, err := volume.NewGridFromData(coarse, []uint8{1, 0, 0, 1})
	require.NoError(t, err)
	s := NewStore(false)
	require.NoError(t, s.AddSegment(host.Segment{ID: "a", Binary: existing}))

	data := host.Labelmap{Binary: binaryOf(t, volume.Extent{0, 2, 0, 0, 0, 0}, 0, 1, 0)}
	require.NoError(t, s.SetLabelmap("a", data, host.MergeReplace, volume.Extent{0, 2, 0, 0, 0, 0}))

	seg, _ := s.Segment("a")
	assert.True(t, seg.Binary.Geometry.SameLattice(lattice))
	assert.Equal(t, volume.Extent{-1, 10, 0, 0, 0, 0}, seg.Binary.Geometry.Extent)
	assert.Equal(t, []uint8{1, 0, 1, 0, 0, 0, 0, 0, 0, 1, 1, 1}, seg.Binary.Data)
}

func TestSetLabelmapRejectsWrongRepresentation(t *testing.T) {
	s := NewStore(true)
	require.NoError(t, s.AddSegment(host.Segment{ID: "a"}))
	err := s.SetLabelmap("a", host.Labelmap{Binary: binaryOf(t, volume.Extent{0, 0, 0, 0, 0, 0}, 1)}, host.MergeReplace, volume.Extent{0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, volume.ErrInvalidParameter)
	assert.ErrorIs(t, s.SetLabelmap("zz", host.Labelmap{}, host.MergeReplace, volume.EmptyExtent), volume.ErrInvalidParameter)

	f, err := volume.NewFractionalLabelmap(lattice, fractional.DefaultParams())
	require.NoError(t, err)
	f.Data[2] = 50
	require.NoError(t, s.SetLabelmap("a", host.Labelmap{Fractional: f}, host.MergeReplace, lattice.Extent))
	seg, _ := s.Segment("a")
	require.NotNil(t, seg.Fractional)
	assert.Equal(t, []int8{-108, -108, 50, -108}, seg.Fractional.Data)
	assert.ErrorIs(t, s.SetLabelmap("zz", host.Labelmap{Fractional: f}, host.MergeReplace, lattice.Extent), ErrUnknownSegment)
}

func TestSource(t *testing.T) {
	v, err := volume.NewGridFromData(lattice, []float64{3, -1, 7, 2})
	require.NoError(t, err)
	src := NewSource(v)
	assert.Equal(t, [2]float64{-1, 7}, src.ScalarRange())
	assert.Same(t, v, src.Intensity())
	assert.True(t, src.Geometry().SameGrid(lattice))
}
