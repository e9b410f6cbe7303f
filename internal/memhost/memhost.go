// Package memhost is an in-memory host: an intensity volume and a segment
// table that also accepts results. It backs the command-line tool and tests.
package memhost

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"segcomplete/pkg/host"
	"segcomplete/pkg/interpolation"
	"segcomplete/pkg/resolver"
	"segcomplete/pkg/volume"
)

// ErrUnknownSegment is returned for IDs not present in the store.
var ErrUnknownSegment = errors.New("unknown segment")

// Source serves a fixed intensity volume.
type Source struct {
	volume      *volume.IntensityVolume
	scalarRange [2]float64
}

// NewSource wraps v and records its scalar range.
func NewSource(v *volume.IntensityVolume) *Source {
	return &Source{volume: v, scalarRange: volume.ScalarRange(v)}
}

func (s *Source) Geometry() volume.Geometry          { return s.volume.Geometry }
func (s *Source) Intensity() *volume.IntensityVolume { return s.volume }
func (s *Source) ScalarRange() [2]float64            { return s.scalarRange }

// Store is an ordered segment table. Every change to a segment's labelmap
// bumps its modified time and notifies observers.
type Store struct {
	mu         sync.RWMutex
	order      []string
	segments   map[string]*host.Segment
	hidden     map[string]bool
	fractional bool
	clock      uint64
	observers  []func()
}

// NewStore returns an empty store. fractional selects the representation
// segments are kept in.
func NewStore(fractional bool) *Store {
	return &Store{
		segments:   map[string]*host.Segment{},
		hidden:     map[string]bool{},
		fractional: fractional,
	}
}

// Observe registers f to run after every change. f runs without the store
// lock held.
func (s *Store) Observe(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, f)
}

func (s *Store) notify() {
	s.mu.RLock()
	observers := slices.Clone(s.observers)
	s.mu.RUnlock()
	for _, f := range observers {
		f()
	}
}

// AddSegment appends seg to the table. The segment must carry the store's
// representation or none.
func (s *Store) AddSegment(seg host.Segment) error {
	if seg.ID == "" {
		return fmt.Errorf("%w: segment ID is empty", volume.ErrInvalidParameter)
	}
	if err := s.checkRepresentation(seg.Labelmap()); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.segments[seg.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: segment %q already exists", volume.ErrInvalidParameter, seg.ID)
	}
	s.clock++
	seg.ModifiedTime = s.clock
	s.segments[seg.ID] = &seg
	s.order = append(s.order, seg.ID)
	s.mu.Unlock()

	s.notify()
	return nil
}

// RemoveSegment deletes a segment. It reports whether the segment existed.
func (s *Store) RemoveSegment(id string) bool {
	s.mu.Lock()
	if _, ok := s.segments[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.segments, id)
	delete(s.hidden, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	s.mu.Unlock()

	s.notify()
	return true
}

// SetVisible shows or hides a segment.
func (s *Store) SetVisible(id string, visible bool) error {
	s.mu.Lock()
	if _, ok := s.segments[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownSegment, id)
	}
	s.hidden[id] = !visible
	s.mu.Unlock()

	s.notify()
	return nil
}

// Modify runs f on the segment and bumps its modified time.
func (s *Store) Modify(id string, f func(seg *host.Segment)) error {
	s.mu.Lock()
	seg, ok := s.segments[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownSegment, id)
	}
	f(seg)
	s.clock++
	seg.ModifiedTime = s.clock
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *Store) SegmentIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

func (s *Store) VisibleSegmentIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if !s.hidden[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

// Segment returns a copy of the segment's record. Labelmaps are shared.
func (s *Store) Segment(id string) (host.Segment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seg, ok := s.segments[id]
	if !ok {
		return host.Segment{}, false
	}
	return *seg, true
}

func (s *Store) Fractional() bool { return s.fractional }

func (s *Store) checkRepresentation(l host.Labelmap) error {
	if s.fractional && l.Binary != nil {
		return fmt.Errorf("%w: store holds fractional labelmaps", volume.ErrInvalidParameter)
	}
	if !s.fractional && l.Fractional != nil {
		return fmt.Errorf("%w: store holds binary labelmaps", volume.ErrInvalidParameter)
	}
	return nil
}

// SetLabelmap implements host.ResultSink. Inside extent the segment's
// labelmap is combined with data according to mode; outside it is kept. The
// result lives on data's lattice.
func (s *Store) SetLabelmap(segmentID string, data host.Labelmap, mode host.MergeMode, extent volume.Extent) error {
	if data.Empty() {
		return fmt.Errorf("%w: no labelmap for segment %q", volume.ErrInvalidParameter, segmentID)
	}
	if err := s.checkRepresentation(data); err != nil {
		return err
	}

	s.mu.Lock()
	seg, ok := s.segments[segmentID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownSegment, segmentID)
	}
	var err error
	if data.Fractional != nil {
		var existing *volume.Grid[int8]
		if seg.Fractional != nil {
			existing = &seg.Fractional.Grid
		}
		lo := int8(data.Fractional.Params.ScalarRange[0])
		var merged *volume.Grid[int8]
		merged, err = combine(existing, &data.Fractional.Grid, mode, extent, volume.LinearInterpolation, lo)
		if err == nil {
			seg.Fractional = &volume.FractionalLabelmap{Grid: *merged, Params: data.Fractional.Params}
		}
	} else {
		var merged *volume.BinaryLabelmap
		merged, err = combine(seg.Binary, data.Binary, mode, extent, volume.NearestInterpolation, 0)
		if err == nil {
			seg.Binary = merged
		}
	}
	if err == nil {
		s.clock++
		seg.ModifiedTime = s.clock
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("segment %q: %w", segmentID, err)
	}
	s.notify()
	return nil
}

func combine[T volume.Scalar](existing, data *volume.Grid[T], mode host.MergeMode, extent volume.Extent, interp volume.Interpolation, outside T) (*volume.Grid[T], error) {
	region := data.Geometry.Extent.Intersect(extent)
	target := region
	if existing != nil && existing.Geometry.Extent.Valid() {
		bounds, err := resolver.ExtentInLattice(existing.Geometry, data.Geometry)
		if err != nil {
			return nil, err
		}
		target = target.Union(bounds)
	}
	if !target.Valid() {
		return nil, fmt.Errorf("%w: nothing to write within %v", volume.ErrInvalidGeometry, extent)
	}

	var out *volume.Grid[T]
	var err error
	geometry := data.Geometry.WithExtent(target)
	if existing != nil && existing.Geometry.Extent.Valid() {
		out, err = interpolation.Resample(existing, geometry, interp, outside)
	} else {
		out, err = volume.NewGrid[T](geometry)
		if err == nil && outside != 0 {
			out.Fill(outside)
		}
	}
	if err != nil {
		return nil, err
	}
	if !region.Valid() {
		return out, nil
	}

	for k := region[4]; k <= region[5]; k++ {
		for j := region[2]; j <= region[3]; j++ {
			for i := region[0]; i <= region[1]; i++ {
				v := out.Index(i, j, k)
				d := data.At(i, j, k)
				switch mode {
				case host.MergeMax:
					out.Data[v] = max(out.Data[v], d)
				case host.MergeMin:
					out.Data[v] = min(out.Data[v], d)
				default:
					out.Data[v] = d
				}
			}
		}
	}
	return out, nil
}
