// Package growcut grows sparse seed labels into a complete multi-label
// segmentation.
//
// Each pass visits every voxel that is neither a seed nor masked. Every
// neighbour offers its label with strength neighbourStrength*similarity, and
// the voxel adopts the strongest offer that beats its own strength. Reads come
// from the current label/strength buffers and writes go to the next ones, so
// voxels of one pass can be updated in any order and in parallel.
package growcut

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"segcomplete/internal/logging"
	"segcomplete/pkg/volume"
)

// DefaultIterations bounds the number of passes when nothing else is set.
const DefaultIterations = 50

// ProgressCallback is called after every pass with the number of voxels the
// pass changed.
type ProgressCallback func(iteration, total, changed int)

// Engine grows seed labels over an intensity volume.
type Engine interface {
	Grow(ctx context.Context, in Input) (*Result, error)
}

// Input is one growth run. All volumes must share the intensity grid.
type Input struct {
	Intensity *volume.IntensityVolume

	// SeedLabels marks seeds with their label; 0 is unlabeled.
	SeedLabels *volume.LabelVolume

	// SeedStrength gives the strength of seed voxels. Nil means 1.0 for every
	// seed. Unlabeled voxels always start at 0.
	SeedStrength *volume.StrengthVolume

	// Mask excludes voxels with a nonzero value from growth. Nil means all
	// voxels take part.
	Mask *volume.BinaryLabelmap

	// Iterations is the maximum number of passes; 0 returns the seeds as is.
	Iterations int

	// ScalarRange overrides the intensity range used by the similarity
	// function. Nil uses the range of Intensity.
	ScalarRange *[2]float64
}

// Result is the outcome of a growth run. Label 0 marks voxels no seed could
// reach; callers treat them as background.
type Result struct {
	Labels   *volume.LabelVolume
	Strength *volume.StrengthVolume

	// Iterations is the number of passes that ran.
	Iterations int

	// Converged is set when a pass changed nothing.
	Converged bool

	// Changed holds the number of voxels updated by each pass.
	Changed []int
}

// Options configures an engine.
type Options struct {
	Connectivity Connectivity
	Similarity   SimilarityKind

	// Sigma is the Gaussian width as a fraction of the intensity range.
	Sigma float64

	// Workers caps the goroutines used per pass; 0 means GOMAXPROCS.
	Workers int

	// StopWhenStable ends the run after the first pass that changes nothing.
	StopWhenStable bool

	Logger   logrus.FieldLogger
	Progress ProgressCallback
}

// DefaultOptions returns 26-connected linear growth that stops once stable.
func DefaultOptions() Options {
	return Options{
		Connectivity:   DefaultConnectivity,
		Similarity:     LinearSimilarity,
		Sigma:          DefaultGaussianSigma,
		StopWhenStable: true,
	}
}

// CPUEngine runs growth on the CPU, splitting each pass over k-planes.
type CPUEngine struct {
	opts    Options
	workers int
	log     logrus.FieldLogger
}

// NewEngine returns a parallel CPU engine.
func NewEngine(opts Options) *CPUEngine {
	if opts.Connectivity == 0 {
		opts.Connectivity = DefaultConnectivity
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &CPUEngine{opts: opts, workers: workers, log: logging.OrDiscard(opts.Logger)}
}

// NewSerialEngine returns an engine that runs every pass on the calling
// goroutine. It produces the same output as NewEngine.
func NewSerialEngine(opts Options) *CPUEngine {
	opts.Workers = 1
	return NewEngine(opts)
}

// Workers reports the number of goroutines used per pass.
func (e *CPUEngine) Workers() int { return e.workers }

// Grow runs at most in.Iterations passes. Preconditions are checked before
// the first pass; ctx is checked between passes and a cancelled run returns
// no result.
func (e *CPUEngine) Grow(ctx context.Context, in Input) (*Result, error) {
	if err := e.validate(in); err != nil {
		return nil, err
	}
	s, err := newState(in, e.opts)
	if err != nil {
		return nil, err
	}

	log := e.log.WithFields(logrus.Fields{
		"extent":       in.Intensity.Geometry.Extent.String(),
		"voxels":       len(s.intensity),
		"iterations":   in.Iterations,
		"connectivity": int(e.opts.Connectivity),
		"similarity":   e.opts.Similarity.String(),
		"workers":      e.workers,
	})
	log.Debug("Starting seeded growth")
	start := time.Now()

	res := &Result{Changed: make([]int, 0, in.Iterations)}
	for it := 0; it < in.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("growth cancelled after %d of %d iterations: %w", it, in.Iterations, err)
		}
		changed := e.pass(s)
		s.swap()
		res.Iterations++
		res.Changed = append(res.Changed, changed)
		if e.opts.Progress != nil {
			e.opts.Progress(it+1, in.Iterations, changed)
		}
		if changed == 0 {
			res.Converged = true
			if e.opts.StopWhenStable {
				break
			}
		}
	}

	g := in.Intensity.Geometry
	res.Labels = &volume.LabelVolume{Geometry: g, Data: s.labels}
	res.Strength = &volume.StrengthVolume{Geometry: g, Data: s.strength}

	log.WithFields(logrus.Fields{
		"passes":    res.Iterations,
		"converged": res.Converged,
		"elapsed":   time.Since(start).String(),
	}).Debug("Seeded growth finished")
	return res, nil
}

func (e *CPUEngine) validate(in Input) error {
	if in.Intensity == nil {
		return volume.InvalidParameter("intensity", nil, "an intensity volume is required")
	}
	if in.SeedLabels == nil {
		return volume.InvalidParameter("seedLabels", nil, "a seed label volume is required")
	}
	if err := in.Intensity.Geometry.Validate(); err != nil {
		return err
	}
	if in.Iterations < 0 {
		return volume.InvalidParameter("iterations", in.Iterations, "must not be negative")
	}
	if !e.opts.Connectivity.valid() {
		return volume.InvalidParameter("connectivity", int(e.opts.Connectivity), "must be 6 or 26")
	}
	if err := in.Intensity.CheckSameGrid("seed labels", in.SeedLabels.Geometry); err != nil {
		return err
	}
	if in.SeedStrength != nil {
		if err := in.Intensity.CheckSameGrid("seed strength", in.SeedStrength.Geometry); err != nil {
			return err
		}
	}
	if in.Mask != nil {
		if err := in.Intensity.CheckSameGrid("mask", in.Mask.Geometry); err != nil {
			return err
		}
	}
	n := in.Intensity.Geometry.Extent.NumVoxels()
	if len(in.Intensity.Data) != n || len(in.SeedLabels.Data) != n ||
		(in.SeedStrength != nil && len(in.SeedStrength.Data) != n) ||
		(in.Mask != nil && len(in.Mask.Data) != n) {
		return fmt.Errorf("%w: buffer length does not match extent %v", volume.ErrInvalidGeometry, in.Intensity.Geometry.Extent)
	}
	return nil
}

// pass computes one iteration into the next buffers and returns the number of
// voxels whose label or strength changed.
func (e *CPUEngine) pass(s *state) int {
	planes := s.dims[2]
	chunks := min(e.workers, planes)
	if chunks <= 1 {
		return s.updatePlanes(0, planes)
	}

	counts := make([]int, chunks)
	var g errgroup.Group
	for c := 0; c < chunks; c++ {
		k0 := c * planes / chunks
		k1 := (c + 1) * planes / chunks
		g.Go(func() error {
			counts[c] = s.updatePlanes(k0, k1)
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

type state struct {
	dims      [3]int
	intensity []float64
	pinned    []bool
	masked    []bool

	labels, nextLabels     []uint16
	strength, nextStrength []float64

	offsets []offset
	deltas  []int
	sim     SimilarityFunc
}

func newState(in Input, opts Options) (*state, error) {
	n := len(in.Intensity.Data)
	s := &state{
		dims:         in.Intensity.Dims(),
		intensity:    in.Intensity.Data,
		pinned:       make([]bool, n),
		labels:       make([]uint16, n),
		nextLabels:   make([]uint16, n),
		strength:     make([]float64, n),
		nextStrength: make([]float64, n),
		offsets:      opts.Connectivity.offsets(),
	}
	if in.Mask != nil {
		s.masked = make([]bool, n)
		for v, m := range in.Mask.Data {
			s.masked[v] = m != 0
		}
	}

	for v, l := range in.SeedLabels.Data {
		if l == 0 {
			continue
		}
		st := 1.0
		if in.SeedStrength != nil {
			st = in.SeedStrength.Data[v]
			if math.IsNaN(st) || st < 0 || st > 1 {
				i, j, k := in.SeedLabels.Coords(v)
				return nil, volume.InvalidParameter("seedStrength", st,
					fmt.Sprintf("seed (%d,%d,%d) must have strength in [0, 1]", i, j, k))
			}
		}
		s.pinned[v] = true
		s.labels[v] = l
		s.strength[v] = st
	}

	dx, dy := s.dims[0], s.dims[1]
	s.deltas = make([]int, len(s.offsets))
	for n, o := range s.offsets {
		s.deltas[n] = o.dk*dx*dy + o.dj*dx + o.di
	}

	scalarRange := volume.ScalarRange(in.Intensity)
	if in.ScalarRange != nil {
		scalarRange = *in.ScalarRange
	}
	s.sim = NewSimilarity(opts.Similarity, scalarRange, opts.Sigma)
	return s, nil
}

func (s *state) swap() {
	s.labels, s.nextLabels = s.nextLabels, s.labels
	s.strength, s.nextStrength = s.nextStrength, s.strength
}

// updatePlanes processes planes [k0, k1). It reads only the current buffers
// and writes only the next buffers within its planes.
func (s *state) updatePlanes(k0, k1 int) int {
	dx, dy, dz := s.dims[0], s.dims[1], s.dims[2]
	plane := dx * dy
	changed := 0
	for k := k0; k < k1; k++ {
		for j := 0; j < dy; j++ {
			v := k*plane + j*dx
			for i := 0; i < dx; i, v = i+1, v+1 {
				label, strength := s.labels[v], s.strength[v]
				if s.pinned[v] || (s.masked != nil && s.masked[v]) {
					s.nextLabels[v], s.nextStrength[v] = label, strength
					continue
				}

				bestLabel, bestStrength := label, strength
				iv := s.intensity[v]
				for n, o := range s.offsets {
					ni, nj, nk := i+o.di, j+o.dj, k+o.dk
					if ni < 0 || ni >= dx || nj < 0 || nj >= dy || nk < 0 || nk >= dz {
						continue
					}
					u := v + s.deltas[n]
					su := s.strength[u]
					// similarity never exceeds 1
					if su <= bestStrength {
						continue
					}
					if c := su * s.sim(iv, s.intensity[u]); c > bestStrength {
						bestLabel, bestStrength = s.labels[u], c
					}
				}

				s.nextLabels[v], s.nextStrength[v] = bestLabel, bestStrength
				if bestLabel != label || bestStrength != strength {
					changed++
				}
			}
		}
	}
	return changed
}
