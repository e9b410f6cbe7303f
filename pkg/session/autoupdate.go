package session

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"segcomplete/pkg/config"
)

// OnSegmentationModified tells the session that the segment table changed.
// While a preview is held and auto-update is on, a change to any captured
// segment schedules a new preview after the configured delay; further changes
// within the delay postpone it. A captured segment that no longer exists
// cancels the session.
func (s *Session) OnSegmentationModified() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.preview == nil || s.resolution == nil {
		return
	}
	if on, err := s.params.Bool(config.ParamAutoUpdate); err != nil || !on {
		return
	}

	updateNeeded := false
	for _, id := range s.resolution.SegmentIDs {
		seg, ok := s.host.Segments.Segment(id)
		if !ok {
			s.log.WithField("segment", id).Debug("Segmentation cancelled because an input segment was deleted")
			s.status = "Auto-complete cancelled: an input segment was deleted"
			s.resetLocked()
			return
		}
		if t, ok := s.modifiedTimes[id]; ok && t == seg.ModifiedTime {
			continue
		}
		s.modifiedTimes[id] = seg.ModifiedTime
		updateNeeded = true
	}
	if !updateNeeded {
		return
	}
	s.scheduleLocked()
}

func (s *Session) autoUpdateDelay() time.Duration {
	sec, err := s.params.Float(config.ParamAutoUpdateDelay)
	if err != nil || sec < 0 {
		sec = 1
	}
	return time.Duration(sec * float64(time.Second))
}

func (s *Session) scheduleLocked() {
	s.stopTimerLocked()
	delay := s.autoUpdateDelay()
	s.log.WithField("delay", delay.String()).Debug("Segmentation update requested")

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timer != t {
			// Stopped or superseded after firing.
			s.mu.Unlock()
			return
		}
		s.timer = nil
		p, err := s.previewLocked(s.ctx)
		callback := s.opts.OnAutoUpdate
		s.mu.Unlock()

		if err != nil {
			s.log.WithError(err).Warn("Automatic preview update failed")
		}
		if callback != nil {
			callback(p, err)
		}
	})
	s.timer = t
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// UpdatePending reports whether a debounced preview is scheduled.
func (s *Session) UpdatePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// SetPreviewOpacity sets the preview opacity; the segmentation is drawn with
// the complement. It has no effect without a preview.
func (s *Session) SetPreviewOpacity(opacity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preview == nil {
		return
	}
	s.previewOpacity = clampOpacity(opacity)
	s.params.SetFloat(config.ParamPreviewOpacity, s.previewOpacity)
	s.log.WithFields(logrus.Fields{"preview": s.previewOpacity}).Debug("Preview opacity changed")
}

// Opacities returns the display opacity of the segmentation and of the
// preview. Without a preview the segmentation is fully opaque.
func (s *Session) Opacities() (segmentation, preview float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preview == nil {
		return 1, 0
	}
	return 1 - s.previewOpacity, s.previewOpacity
}

func clampOpacity(o float64) float64 {
	if o < 0 || math.IsNaN(o) {
		return 0
	}
	if o > 1 {
		return 1
	}
	return o
}
