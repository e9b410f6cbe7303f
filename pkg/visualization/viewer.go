package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"segcomplete/pkg/volume"
)

// DefaultOpacity is the label overlay opacity used by NewViewer.
const DefaultOpacity = 0.6

// Viewer renders slices of a completed label volume, optionally over the
// source intensities.
type Viewer struct {
	// labels holds 0 for background and index+1 for segment index
	labels *volume.LabelVolume

	// intensity is the grayscale background; nil renders black
	intensity *volume.IntensityVolume

	// window maps intensities to gray levels
	window [2]float64

	// colors[i] is the overlay color of label i+1
	colors [][3]float64

	// opacity of the label overlay in [0, 1]
	opacity float64
}

// NewViewer creates a viewer for labels. intensity may be nil; otherwise it
// must share the label grid. colors holds RGB components in [0, 1].
func NewViewer(labels *volume.LabelVolume, intensity *volume.IntensityVolume, colors [][3]float64) (*Viewer, error) {
	if labels == nil {
		return nil, fmt.Errorf("labels are required")
	}
	v := &Viewer{labels: labels, colors: colors, opacity: DefaultOpacity}
	if intensity != nil {
		if err := labels.CheckSameGrid("intensity", intensity.Geometry); err != nil {
			return nil, err
		}
		v.intensity = intensity
		v.window = volume.ScalarRange(intensity)
	}
	return v, nil
}

// SetOpacity sets the overlay opacity, clamped to [0, 1].
func (v *Viewer) SetOpacity(opacity float64) {
	v.opacity = math.Max(0, math.Min(1, opacity))
}

// ParseAxis maps "x", "y" or "z" (any case) to 0, 1 or 2.
func ParseAxis(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return 0, nil
	case "y", "Y":
		return 1, nil
	case "z", "Z":
		return 2, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice renders the plane at absolute index position along axis.
// X slices are laid out as (k, j), Y slices as (i, k), Z slices as (i, j).
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	a, err := ParseAxis(axis)
	if err != nil {
		return nil, err
	}
	e := v.labels.Geometry.Extent
	if position < e[2*a] || position > e[2*a+1] {
		return nil, fmt.Errorf("position %d outside %s range [%d, %d]", position, axis, e[2*a], e[2*a+1])
	}

	// u, w are the image column and row axes
	var u, w int
	switch a {
	case 0:
		u, w = 2, 1
	case 1:
		u, w = 0, 2
	default:
		u, w = 0, 1
	}

	dims := e.Dims()
	img := image.NewRGBA(image.Rect(0, 0, dims[u], dims[w]))
	var ijk [3]int
	ijk[a] = position
	for y := 0; y < dims[w]; y++ {
		ijk[w] = e[2*w] + y
		for x := 0; x < dims[u]; x++ {
			ijk[u] = e[2*u] + x
			img.SetRGBA(x, y, v.voxelColor(ijk[0], ijk[1], ijk[2]))
		}
	}
	return img, nil
}

func (v *Viewer) voxelColor(i, j, k int) color.RGBA {
	gray := 0.0
	if v.intensity != nil {
		if span := v.window[1] - v.window[0]; span > 0 {
			gray = (v.intensity.At(i, j, k) - v.window[0]) / span
		}
	}
	rgb := [3]float64{gray, gray, gray}
	if l := int(v.labels.At(i, j, k)); l > 0 && l <= len(v.colors) {
		for c := 0; c < 3; c++ {
			rgb[c] = (1-v.opacity)*rgb[c] + v.opacity*v.colors[l-1][c]
		}
	}
	return color.RGBA{R: channel(rgb[0]), G: channel(rgb[1]), B: channel(rgb[2]), A: 255}
}

func channel(f float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, f)) * 255))
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis.
// It returns the number of files written.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) (int, error) {
	a, err := ParseAxis(axis)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	e := v.labels.Geometry.Extent
	written := 0
	for pos := e[2*a]; pos <= e[2*a+1]; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return written, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos-e[2*a]))
		if err := v.SaveSlice(img, filename); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}
