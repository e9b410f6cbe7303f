// Package host declares what the segmentation core needs from the
// application hosting it: an intensity volume, a table of segments and a
// place to store results. The core never reaches the host any other way.
package host

import (
	"fmt"

	"segcomplete/pkg/volume"
)

// IntensitySource is the read-only background volume growth is driven by.
type IntensitySource interface {
	Geometry() volume.Geometry
	Intensity() *volume.IntensityVolume
	ScalarRange() [2]float64
}

// Segment is one row of the segment table. Exactly one of Binary and
// Fractional is set, depending on the store's representation; an empty
// segment may carry neither.
type Segment struct {
	ID    string
	Name  string
	Color [3]float64

	Binary     *volume.BinaryLabelmap
	Fractional *volume.FractionalLabelmap

	// ModifiedTime increases every time the labelmap changes.
	ModifiedTime uint64
}

// Labelmap returns whichever representation the segment carries.
func (s Segment) Labelmap() Labelmap {
	return Labelmap{Binary: s.Binary, Fractional: s.Fractional}
}

// SegmentStore is the ordered segment table. Earlier segments win when
// segments overlap.
type SegmentStore interface {
	SegmentIDs() []string
	VisibleSegmentIDs() []string
	Segment(id string) (Segment, bool)

	// Fractional reports whether segments are stored as fractional labelmaps.
	Fractional() bool
}

// MergeMode controls how SetLabelmap combines new data with a segment's
// existing labelmap.
type MergeMode int

const (
	// MergeReplace discards the old labelmap inside the extent.
	MergeReplace MergeMode = iota
	// MergeMax keeps the larger value per voxel.
	MergeMax
	// MergeMin keeps the smaller value per voxel.
	MergeMin
)

func (m MergeMode) String() string {
	switch m {
	case MergeReplace:
		return "replace"
	case MergeMax:
		return "max"
	case MergeMin:
		return "min"
	default:
		return fmt.Sprintf("MergeMode(%d)", int(m))
	}
}

// Labelmap carries either representation of a single segment.
type Labelmap struct {
	Binary     *volume.BinaryLabelmap
	Fractional *volume.FractionalLabelmap
}

// Empty reports whether neither representation is set.
func (l Labelmap) Empty() bool { return l.Binary == nil && l.Fractional == nil }

// Geometry returns the grid of whichever representation is set.
func (l Labelmap) Geometry() (volume.Geometry, bool) {
	switch {
	case l.Fractional != nil:
		return l.Fractional.Geometry, true
	case l.Binary != nil:
		return l.Binary.Geometry, true
	}
	return volume.Geometry{}, false
}

// ResultSink receives completed segments.
type ResultSink interface {
	// SetLabelmap writes data into segment segmentID, limited to extent.
	SetLabelmap(segmentID string, data Labelmap, mode MergeMode, extent volume.Extent) error
}
