package interpolation

import (
	"math"
	"testing"

	"segcomplete/pkg/volume"
)

func newBinary(t *testing.T, g volume.Geometry, inside [][3]int) *volume.BinaryLabelmap {
	t.Helper()
	grid, err := volume.NewGrid[uint8](g)
	if err != nil {
		t.Fatalf("Failed to allocate grid: %v", err)
	}
	for _, p := range inside {
		grid.Set(p[0], p[1], p[2], 1)
	}
	return grid
}

// TestResampleSameLattice verifies that resampling onto a grid sharing the
// source lattice is a crop/pad that keeps voxel values untouched
func TestResampleSameLattice(t *testing.T) {
	src := newBinary(t, volume.NewGeometry(volume.Extent{0, 3, 0, 3, 0, 0}, [3]float64{1, 1, 1}, [3]float64{}),
		[][3]int{{1, 1, 0}, {3, 3, 0}})

	target := src.Geometry.WithExtent(volume.Extent{1, 5, 1, 1, 0, 0})
	out, err := Resample(src, target, volume.NearestInterpolation, 0)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}

	expected := []uint8{1, 0, 0, 0, 0}
	for i, v := range expected {
		if out.Data[i] != v {
			t.Errorf("voxel %d: expected %d, got %d", i, v, out.Data[i])
		}
	}
}

// TestResampleNearestCoarseToFine checks that nearest-neighbour upsampling
// replicates each coarse voxel into its sub-voxels
func TestResampleNearestCoarseToFine(t *testing.T) {
	coarse := volume.NewGeometry(volume.Extent{0, 1, 0, 0, 0, 0}, [3]float64{3, 3, 3}, [3]float64{})
	src := newBinary(t, coarse, [][3]int{{1, 0, 0}})

	fine, err := coarse.Oversampled(3)
	if err != nil {
		t.Fatalf("Oversampled failed: %v", err)
	}
	out, err := Resample(src, fine, volume.NearestInterpolation, 0)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}

	for k := fine.Extent[4]; k <= fine.Extent[5]; k++ {
		for j := fine.Extent[2]; j <= fine.Extent[3]; j++ {
			for i := fine.Extent[0]; i <= fine.Extent[1]; i++ {
				want := uint8(0)
				if i >= 3 {
					want = 1
				}
				if got := out.At(i, j, k); got != want {
					t.Errorf("fine voxel (%d,%d,%d): expected %d, got %d", i, j, k, want, got)
				}
			}
		}
	}
}

// TestResampleLinear checks trilinear blending halfway between two voxels
func TestResampleLinear(t *testing.T) {
	g := volume.NewGeometry(volume.Extent{0, 1, 0, 0, 0, 0}, [3]float64{2, 1, 1}, [3]float64{})
	src, err := volume.NewGridFromData(g, []float64{10, 20})
	if err != nil {
		t.Fatalf("Failed to wrap data: %v", err)
	}

	target := volume.NewGeometry(volume.Extent{0, 2, 0, 0, 0, 0}, [3]float64{1, 1, 1}, [3]float64{})
	out, err := Resample(src, target, volume.LinearInterpolation, -1)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}

	expected := []float64{10, 15, 20}
	for i, v := range expected {
		if math.Abs(out.Data[i]-v) > 1e-9 {
			t.Errorf("voxel %d: expected %.2f, got %.2f", i, v, out.Data[i])
		}
	}
}

// TestResampleOutsideValue checks that target voxels beyond the source take
// the outside value
func TestResampleOutsideValue(t *testing.T) {
	g := volume.NewGeometry(volume.Extent{0, 0, 0, 0, 0, 0}, [3]float64{1, 1, 1}, [3]float64{})
	src, err := volume.NewGridFromData(g, []int8{108})
	if err != nil {
		t.Fatalf("Failed to wrap data: %v", err)
	}

	shifted := volume.NewGeometry(volume.Extent{0, 1, 0, 0, 0, 0}, [3]float64{1, 1, 1}, [3]float64{0.25, 0, 0})
	out, err := Resample(src, shifted, volume.NearestInterpolation, -108)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if out.Data[0] != 108 || out.Data[1] != -108 {
		t.Errorf("expected [108 -108], got %v", out.Data)
	}
}

// TestResampleInvalidTarget verifies geometry validation
func TestResampleInvalidTarget(t *testing.T) {
	g := volume.NewGeometry(volume.Extent{0, 0, 0, 0, 0, 0}, [3]float64{1, 1, 1}, [3]float64{})
	src := newBinary(t, g, nil)
	if _, err := Resample(src, g.WithExtent(volume.EmptyExtent), volume.NearestInterpolation, 0); err == nil {
		t.Error("expected error for degenerate target extent")
	}
}

func BenchmarkResampleLinear(b *testing.B) {
	g := volume.NewGeometry(volume.Extent{0, 63, 0, 63, 0, 31}, [3]float64{1, 1, 1}, [3]float64{})
	src, _ := volume.NewGrid[float64](g)
	for i := range src.Data {
		src.Data[i] = float64(i % 97)
	}
	target := volume.NewGeometry(volume.Extent{0, 127, 0, 127, 0, 63}, [3]float64{0.5, 0.5, 0.5}, [3]float64{0.1, 0, 0})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Resample(src, target, volume.LinearInterpolation, 0); err != nil {
			b.Fatal(err)
		}
	}
}

// TestResampleClampedReplicatesEdges verifies that oversampled voxels just
// outside the source take boundary values instead of the outside value
func TestResampleClampedReplicatesEdges(t *testing.T) {
	src, err := volume.NewGrid[float64](volume.NewGeometry(volume.Extent{0, 3, 0, 3, 0, 3}, [3]float64{1, 1, 1}, [3]float64{}))
	if err != nil {
		t.Fatalf("Failed to allocate grid: %v", err)
	}
	src.Fill(40)
	fine, err := src.Geometry.Oversampled(3)
	if err != nil {
		t.Fatalf("Oversampled failed: %v", err)
	}

	out, err := ResampleClamped(src, fine, volume.LinearInterpolation)
	if err != nil {
		t.Fatalf("ResampleClamped failed: %v", err)
	}
	for v, value := range out.Data {
		if math.Abs(value-40) > 1e-9 {
			i, j, k := out.Coords(v)
			t.Fatalf("voxel (%d,%d,%d): expected 40, got %v", i, j, k, value)
		}
	}

	// Without clamping the corner sub-voxel blends in the outside value.
	blended, err := Resample(src, fine, volume.LinearInterpolation, 0)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if blended.At(0, 0, 0) >= 40 {
		t.Errorf("Expected corner value below 40 without clamping, got %v", blended.At(0, 0, 0))
	}

	// Same lattice, larger extent: the border is replicated.
	wide := src.Geometry.WithExtent(volume.Extent{-2, 5, 0, 3, 0, 3})
	out, err = ResampleClamped(src, wide, volume.NearestInterpolation)
	if err != nil {
		t.Fatalf("ResampleClamped failed: %v", err)
	}
	if out.At(-2, 1, 1) != 40 || out.At(5, 3, 3) != 40 {
		t.Errorf("Expected replicated border, got %v and %v", out.At(-2, 1, 1), out.At(5, 3, 3))
	}
}
