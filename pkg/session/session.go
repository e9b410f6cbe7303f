// Package session runs auto-complete previews against a host.
//
// A Session captures the visible segments and the working geometry the first
// time a preview is computed and reuses them for later updates until it is
// applied, cancelled or reset. Previews are kept in the session until Apply
// writes them back through the host's result sink.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"segcomplete/internal/logging"
	"segcomplete/pkg/config"
	"segcomplete/pkg/fractional"
	"segcomplete/pkg/growcut"
	"segcomplete/pkg/host"
	"segcomplete/pkg/interpolation"
	"segcomplete/pkg/labelmap"
	"segcomplete/pkg/resolver"
	"segcomplete/pkg/volume"
)

// ErrSegmentRemoved is returned when a segment captured by the session no
// longer exists in the store.
var ErrSegmentRemoved = errors.New("input segment was removed")

// Host bundles the collaborators a session talks to.
type Host struct {
	Source   host.IntensitySource
	Segments host.SegmentStore
	Sink     host.ResultSink
}

func (h Host) validate() error {
	if h.Source == nil || h.Segments == nil || h.Sink == nil {
		return fmt.Errorf("%w: host source, segments and sink are required", volume.ErrInvalidParameter)
	}
	return nil
}

// Options configures a session.
type Options struct {
	// Name labels log entries and status messages.
	Name string

	// MinimumSegments is used unless the MinimumSegments parameter is set.
	MinimumSegments int

	// Engine overrides the growth engine built from the parameters.
	Engine growcut.Engine

	// Growth is the base engine configuration; nil means
	// growcut.DefaultOptions. Connectivity and Similarity are taken from the
	// parameters.
	Growth *growcut.Options

	// FractionalParams is written into fractional results.
	FractionalParams volume.FractionalParams

	Logger logrus.FieldLogger

	// OnAutoUpdate is called after every debounced preview.
	OnAutoUpdate func(*Preview, error)
}

// PreviewSegment is the completed labelmap of one segment.
type PreviewSegment struct {
	ID       string
	Name     string
	Color    [3]float64
	Labelmap host.Labelmap
}

// Preview is the result of one auto-complete run.
type Preview struct {
	Resolution resolver.Resolution

	// Labels is the completed merged volume on the working grid.
	Labels *volume.LabelVolume

	// Segments follow Resolution.SegmentIDs.
	Segments []PreviewSegment

	Growth   growcut.Result
	Computed time.Time
}

// Segment returns the preview of segment id.
func (p *Preview) Segment(id string) (PreviewSegment, bool) {
	for _, s := range p.Segments {
		if s.ID == id {
			return s, true
		}
	}
	return PreviewSegment{}, false
}

// Session owns the cached geometry, intensity and preview of one
// auto-complete effect. Methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	host   Host
	params *config.Parameters
	opts   Options
	log    logrus.FieldLogger

	ctx context.Context

	// Captured by the first preview, cleared by reset.
	resolution    *resolver.Resolution
	clipped       *volume.IntensityVolume
	modifiedTimes map[string]uint64
	preview       *Preview

	previewOpacity float64
	timer          *time.Timer
	status         string
}

// New creates a session. params may be nil, in which case defaults apply.
func New(h Host, params *config.Parameters, opts Options) (*Session, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	if params == nil {
		params = config.NewParameters()
	}
	if opts.Name == "" {
		opts.Name = "Auto-complete"
	}
	if opts.MinimumSegments <= 0 {
		opts.MinimumSegments = 1
	}
	if opts.FractionalParams == (volume.FractionalParams{}) {
		opts.FractionalParams = fractional.DefaultParams()
	}
	if err := fractional.ValidateParams(opts.FractionalParams); err != nil {
		return nil, err
	}
	if opts.Growth == nil {
		defaults := growcut.DefaultOptions()
		opts.Growth = &defaults
	}
	log := logging.OrDiscard(opts.Logger).WithField("effect", opts.Name)
	return &Session{
		host:   h,
		params: params,
		opts:   opts,
		log:    log,
		ctx:    context.Background(),
	}, nil
}

// Name returns the effect name.
func (s *Session) Name() string { return s.opts.Name }

// Parameters returns the parameter store the session reads.
func (s *Session) Parameters() *config.Parameters { return s.params }

// Status returns the last user-facing status message.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// CurrentPreview returns the current preview, or nil.
func (s *Session) CurrentPreview() *Preview {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// Active reports whether a preview is held.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview != nil
}

// Preview computes or updates the preview. The first call captures the
// visible segments and working geometry; later calls reuse them. A skipped
// run returns an error matching volume.ErrSkipped and leaves the session
// untouched. Any other error resets the session.
func (s *Session) Preview(ctx context.Context) (*Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previewLocked(ctx)
}

func (s *Session) previewLocked(ctx context.Context) (*Preview, error) {
	s.status = fmt.Sprintf("Running %s auto-complete...", s.opts.Name)
	fractionalMode := s.host.Segments.Fractional()

	if s.preview == nil || s.resolution == nil || s.clipped == nil ||
		(fractionalMode && s.resolution.Oversampled == nil) {
		if err := s.initializeLocked(fractionalMode); err != nil {
			if errors.Is(err, volume.ErrSkipped) {
				var skip *volume.SkipError
				if errors.As(err, &skip) {
					s.status = fmt.Sprintf("Auto-complete operation skipped: %s", skip.Reason)
				}
				s.log.Info(s.status)
				return nil, err
			}
			return nil, s.failLocked("initialize", err)
		}
	}

	p, err := s.computeLocked(ctx, fractionalMode)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.status = fmt.Sprintf("%s auto-complete cancelled", s.opts.Name)
			s.log.WithError(err).Info("Preview cancelled")
			return nil, err
		}
		return nil, s.failLocked("compute", err)
	}
	if s.preview == nil {
		opacity, perr := s.params.Float(config.ParamPreviewOpacity)
		if perr != nil {
			opacity = 0.6
		}
		s.previewOpacity = clampOpacity(opacity)
	}
	s.preview = p
	s.status = fmt.Sprintf("%s auto-complete finished", s.opts.Name)
	return p, nil
}

func (s *Session) failLocked(stage string, err error) error {
	s.log.WithError(err).WithField("stage", stage).Error("Auto-complete failed")
	s.status = fmt.Sprintf("%s auto-complete failed: %v", s.opts.Name, err)
	s.resetLocked()
	return fmt.Errorf("%s: %w", stage, err)
}

// initializeLocked captures segments, resolves the working geometry and clips
// the intensity volume to it. Nothing is stored unless every step succeeds.
func (s *Session) initializeLocked(fractionalMode bool) error {
	margin, err := s.params.Int(config.ParamMargin)
	if err != nil {
		return err
	}
	minimum := s.opts.MinimumSegments
	if s.params.IsSet(config.ParamMinimumSegments) {
		if minimum, err = s.params.Int(config.ParamMinimumSegments); err != nil {
			return err
		}
	}
	factor, err := s.params.Int(config.ParamOversamplingFactor)
	if err != nil {
		return err
	}

	req, times, err := s.buildRequest()
	if err != nil {
		return err
	}
	req.Margin = [3]int{margin, margin, margin}
	req.MinimumSegments = minimum
	req.Fractional = fractionalMode
	req.OversamplingFactor = factor

	res, err := resolver.Resolve(req)
	if err != nil {
		return err
	}

	intensity := s.host.Source.Intensity()
	if intensity == nil {
		return fmt.Errorf("%w: intensity source has no data", volume.ErrInvalidGeometry)
	}
	clipped, err := clipIntensity(intensity, res.Working())
	if err != nil {
		return fmt.Errorf("clip intensity: %w", err)
	}

	s.resetLocked()
	s.resolution = &res
	s.clipped = clipped
	s.modifiedTimes = make(map[string]uint64, len(res.SegmentIDs))
	for _, id := range res.SegmentIDs {
		s.modifiedTimes[id] = times[id]
	}

	s.log.WithFields(logrus.Fields{
		"segments":   len(res.SegmentIDs),
		"nonEmpty":   res.NonEmpty,
		"extent":     res.Geometry.Extent.String(),
		"fractional": fractionalMode,
		"voxels":     humanize.Comma(int64(clipped.Geometry.Extent.NumVoxels())),
		"intensity":  humanize.Bytes(clipped.SizeBytes()),
	}).Info("Auto-complete session initialized")
	return nil
}

// buildRequest summarises the segment table for the resolver. The lattice
// of the first non-empty segment is the reference; without one the source
// lattice is used.
func (s *Session) buildRequest() (resolver.Request, map[string]uint64, error) {
	source := s.host.Source.Geometry()
	req := resolver.Request{Source: source, Reference: source}
	times := map[string]uint64{}

	visible := map[string]bool{}
	for _, id := range s.host.Segments.VisibleSegmentIDs() {
		visible[id] = true
	}

	referenceSet := false
	for _, id := range s.host.Segments.SegmentIDs() {
		seg, ok := s.host.Segments.Segment(id)
		if !ok {
			continue
		}
		times[id] = seg.ModifiedTime
		entry := resolver.Segment{ID: id, Extent: volume.EmptyExtent, Visible: visible[id]}
		if g, extent := effectiveGeometry(seg); extent.Valid() {
			if !referenceSet && entry.Visible {
				req.Reference = g
				referenceSet = true
			}
			mapped, err := resolver.ExtentInLattice(g.WithExtent(extent), req.Reference)
			if err != nil {
				return resolver.Request{}, nil, fmt.Errorf("segment %q: %w", id, err)
			}
			entry.Extent = mapped
		}
		req.Segments = append(req.Segments, entry)
	}
	return req, times, nil
}

// effectiveGeometry returns a segment's grid and the bounds of its occupied
// voxels within it.
func effectiveGeometry(seg host.Segment) (volume.Geometry, volume.Extent) {
	switch {
	case seg.Fractional != nil:
		return seg.Fractional.Geometry, fractional.EffectiveExtent(seg.Fractional)
	case seg.Binary != nil:
		return seg.Binary.Geometry, labelmap.EffectiveExtent(seg.Binary)
	}
	return volume.Geometry{}, volume.EmptyExtent
}

// clipIntensity brings the intensity volume onto the working grid. On the
// source lattice this is a crop; otherwise the volume is resampled linearly,
// replicating the source boundary for samples just outside it.
func clipIntensity(intensity *volume.IntensityVolume, working volume.Geometry) (*volume.IntensityVolume, error) {
	if intensity.Geometry.SameLattice(working) && intensity.Geometry.Extent.ContainsExtent(working.Extent) {
		return intensity.Padded(working.Extent, 0)
	}
	return interpolation.ResampleClamped(intensity, working, volume.LinearInterpolation)
}

func (s *Session) computeLocked(ctx context.Context, fractionalMode bool) (*Preview, error) {
	res := *s.resolution
	working := res.Working()

	inputs := make([]labelmap.Input, 0, len(res.SegmentIDs))
	segments := make([]host.Segment, 0, len(res.SegmentIDs))
	for _, id := range res.SegmentIDs {
		seg, ok := s.host.Segments.Segment(id)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrSegmentRemoved, id)
		}
		segments = append(segments, seg)
		in := labelmap.Input{SegmentID: id}
		if _, extent := effectiveGeometry(seg); extent.Valid() {
			in.Binary, in.Fractional = seg.Binary, seg.Fractional
		}
		inputs = append(inputs, in)
	}

	start := time.Now()
	merged, err := labelmap.Merge(inputs, working)
	if err != nil {
		return nil, fmt.Errorf("merge segments: %w", err)
	}
	seeds, err := labelmap.Seeds(merged, res.SegmentIDs)
	if err != nil {
		return nil, err
	}
	for _, seed := range seeds {
		s.log.WithFields(logrus.Fields{
			"segment": seed.SegmentID,
			"label":   seed.Label,
			"voxels":  humanize.Comma(int64(seed.Voxels.GetCardinality())),
		}).Debug("Seed voxels")
	}

	iterations, err := s.params.Int(config.ParamIterations)
	if err != nil {
		return nil, err
	}
	engine, err := s.engine()
	if err != nil {
		return nil, err
	}
	scalarRange := s.host.Source.ScalarRange()
	grown, err := engine.Grow(ctx, growcut.Input{
		Intensity:   s.clipped,
		SeedLabels:  merged,
		Iterations:  iterations,
		ScalarRange: &scalarRange,
	})
	if err != nil {
		return nil, fmt.Errorf("grow from seeds: %w", err)
	}

	p := &Preview{
		Resolution: res,
		Labels:     grown.Labels,
		Segments:   make([]PreviewSegment, len(segments)),
		Growth:     *grown,
		Computed:   time.Now(),
	}
	for index, seg := range segments {
		binary := labelmap.ExtractLabel(grown.Labels, uint16(index+1))
		out := PreviewSegment{ID: seg.ID, Name: seg.Name, Color: seg.Color}
		if fractionalMode {
			f, err := fractional.BinaryToFractional(binary, res.OversamplingFactor, s.opts.FractionalParams)
			if err != nil {
				return nil, fmt.Errorf("segment %q: %w", seg.ID, err)
			}
			out.Labelmap.Fractional = f
		} else {
			out.Labelmap.Binary = binary
		}
		p.Segments[index] = out
	}

	counts := labelmap.CountLabels(grown.Labels, len(segments))
	s.log.WithFields(logrus.Fields{
		"seeded":     labelmap.NonEmptySeeds(seeds),
		"passes":     grown.Iterations,
		"converged":  grown.Converged,
		"background": humanize.Comma(int64(counts[0])),
		"labels":     humanize.Bytes(grown.Labels.SizeBytes()),
		"elapsed":    time.Since(start).String(),
	}).Info("Auto-complete preview computed")
	return p, nil
}

func (s *Session) engine() (growcut.Engine, error) {
	if s.opts.Engine != nil {
		return s.opts.Engine, nil
	}
	opts := *s.opts.Growth
	connectivity, err := s.params.Int(config.ParamConnectivity)
	if err != nil {
		return nil, err
	}
	opts.Connectivity = growcut.Connectivity(connectivity)
	if opts.Similarity, err = growcut.ParseSimilarity(s.params.Parameter(config.ParamSimilarity)); err != nil {
		return nil, volume.InvalidParameter(config.ParamSimilarity, s.params.Parameter(config.ParamSimilarity), err.Error())
	}
	if opts.Logger == nil {
		opts.Logger = s.log
	}
	return growcut.NewEngine(opts), nil
}

// Apply writes every preview segment back through the sink, replacing the
// segment's labelmap within the working extent. The session is reset before
// the sink is called, so the sink may notify the session of the changes.
//
// Segments that were removed or no longer match the store's representation
// fail the call before anything is written and keep the preview. A sink
// error part way through is not rolled back: earlier segments stay written.
func (s *Session) Apply(ctx context.Context) error {
	s.mu.Lock()
	s.stopTimerLocked()
	if s.preview == nil {
		if _, err := s.previewLocked(ctx); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	p := s.preview
	if err := s.checkApplicableLocked(p); err != nil {
		s.mu.Unlock()
		return err
	}
	s.resetLocked()
	s.mu.Unlock()

	extent := p.Resolution.Geometry.Extent
	for _, seg := range p.Segments {
		if err := s.host.Sink.SetLabelmap(seg.ID, seg.Labelmap, host.MergeReplace, extent); err != nil {
			s.log.WithError(err).WithField("segment", seg.ID).Error("Failed to apply auto-complete result")
			s.setStatus(fmt.Sprintf("%s auto-complete failed: %v", s.opts.Name, err))
			return fmt.Errorf("apply segment %q: %w", seg.ID, err)
		}
	}
	s.log.WithField("segments", len(p.Segments)).Info("Auto-complete result applied")
	s.setStatus(fmt.Sprintf("%s auto-complete applied", s.opts.Name))
	return nil
}

// checkApplicableLocked verifies that every segment of p can still be
// written to the store.
func (s *Session) checkApplicableLocked(p *Preview) error {
	fractionalStore := s.host.Segments.Fractional()
	for _, seg := range p.Segments {
		if _, ok := s.host.Segments.Segment(seg.ID); !ok {
			return fmt.Errorf("%w: %q", ErrSegmentRemoved, seg.ID)
		}
		if seg.Labelmap.Empty() {
			return fmt.Errorf("%w: no result for segment %q", volume.ErrInvalidParameter, seg.ID)
		}
		if (seg.Labelmap.Fractional != nil) != fractionalStore {
			return fmt.Errorf("%w: segment %q does not match the store representation", volume.ErrInvalidParameter, seg.ID)
		}
	}
	return nil
}

func (s *Session) setStatus(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = msg
}

// Cancel discards the preview.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// Reset drops every cached buffer so the next preview starts from scratch.
func (s *Session) Reset() { s.Cancel() }

func (s *Session) resetLocked() {
	s.stopTimerLocked()
	s.resolution = nil
	s.clipped = nil
	s.modifiedTimes = nil
	s.preview = nil
	s.previewOpacity = 0
}
