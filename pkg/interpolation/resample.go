// Package interpolation resamples voxel grids between oriented geometries.
package interpolation

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"segcomplete/pkg/volume"
)

// Resample samples src onto target. Target voxels that map outside src take
// the outside value. Nearest mode rounds to the closest source voxel; linear
// mode blends the 8 surrounding source voxels and rounds the result for
// integer voxel types.
func Resample[T volume.Scalar](src *volume.Grid[T], target volume.Geometry, mode volume.Interpolation, outside T) (*volume.Grid[T], error) {
	return resample(src, target, mode, outside, false)
}

// ResampleClamped is Resample with edge replication: positions outside src
// take the value of the closest boundary voxel. Use it for intensities,
// where no outside value is meaningful.
func ResampleClamped[T volume.Scalar](src *volume.Grid[T], target volume.Geometry, mode volume.Interpolation) (*volume.Grid[T], error) {
	return resample(src, target, mode, 0, true)
}

func resample[T volume.Scalar](src *volume.Grid[T], target volume.Geometry, mode volume.Interpolation, outside T, clamp bool) (*volume.Grid[T], error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if err := src.Geometry.Validate(); err != nil {
		return nil, err
	}

	// Same lattice: indices line up, so resampling is a crop/pad.
	if src.Geometry.SameLattice(target) && (!clamp || src.Geometry.Extent.ContainsExtent(target.Extent)) {
		return src.Padded(target.Extent, outside)
	}

	m, err := target.IndexTransformTo(src.Geometry)
	if err != nil {
		return nil, err
	}
	var t [3][4]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			t[r][c] = m.At(r, c)
		}
	}

	out, err := volume.NewGrid[T](target)
	if err != nil {
		return nil, err
	}

	half := 0.5
	integral := T(half) == 0
	e := target.Extent

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(runtime.GOMAXPROCS(0))
	for k := e[4]; k <= e[5]; k++ {
		g.Go(func() error {
			for j := e[2]; j <= e[3]; j++ {
				for i := e[0]; i <= e[1]; i++ {
					fi, fj, fk := float64(i), float64(j), float64(k)
					x := t[0][0]*fi + t[0][1]*fj + t[0][2]*fk + t[0][3]
					y := t[1][0]*fi + t[1][1]*fj + t[1][2]*fk + t[1][3]
					z := t[2][0]*fi + t[2][1]*fj + t[2][2]*fk + t[2][3]

					var v T
					if mode == volume.LinearInterpolation {
						f := trilinear(src, x, y, z, float64(outside), clamp)
						if integral {
							f = math.Round(f)
						}
						v = T(f)
					} else {
						v = nearest(src, x, y, z, outside, clamp)
					}
					out.Data[out.Index(i, j, k)] = v
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// snap rounds a continuous index, absorbing floating point noise so that
// positions landing exactly between voxels resolve the same way everywhere.
func snap(x float64) int {
	return int(math.Floor(x + 0.5 + 1e-9))
}

// clampIndex moves (i, j, k) onto the nearest voxel of e.
func clampIndex(e volume.Extent, i, j, k int) (int, int, int) {
	return min(max(i, e[0]), e[1]), min(max(j, e[2]), e[3]), min(max(k, e[4]), e[5])
}

func nearest[T volume.Scalar](src *volume.Grid[T], x, y, z float64, outside T, clamp bool) T {
	i, j, k := snap(x), snap(y), snap(z)
	if clamp {
		i, j, k = clampIndex(src.Geometry.Extent, i, j, k)
	}
	if !src.Contains(i, j, k) {
		return outside
	}
	return src.Data[src.Index(i, j, k)]
}

func trilinear[T volume.Scalar](src *volume.Grid[T], x, y, z, outside float64, clamp bool) float64 {
	x0, y0, z0 := math.Floor(x), math.Floor(y), math.Floor(z)
	dx, dy, dz := x-x0, y-y0, z-z0
	i0, j0, k0 := int(x0), int(y0), int(z0)

	sample := func(i, j, k int) float64 {
		if clamp {
			i, j, k = clampIndex(src.Geometry.Extent, i, j, k)
		}
		if !src.Contains(i, j, k) {
			return outside
		}
		return float64(src.Data[src.Index(i, j, k)])
	}

	c00 := sample(i0, j0, k0)*(1-dx) + sample(i0+1, j0, k0)*dx
	c10 := sample(i0, j0+1, k0)*(1-dx) + sample(i0+1, j0+1, k0)*dx
	c01 := sample(i0, j0, k0+1)*(1-dx) + sample(i0+1, j0, k0+1)*dx
	c11 := sample(i0, j0+1, k0+1)*(1-dx) + sample(i0+1, j0+1, k0+1)*dx

	c0 := c00*(1-dy) + c10*dy
	c1 := c01*(1-dy) + c11*dy
	return c0*(1-dz) + c1*dz
}
