package growcut

import (
	"fmt"
	"math"
	"strings"
)

// SimilarityKind selects the intensity falloff used to weaken a neighbour's
// strength before it competes for a voxel.
type SimilarityKind int

const (
	// LinearSimilarity is 1 - |a-b|/range, clamped to [0, 1].
	LinearSimilarity SimilarityKind = iota
	// GaussianSimilarity is exp(-(a-b)^2 / (2 sigma^2)) with sigma a fraction
	// of the intensity range.
	GaussianSimilarity
)

// DefaultGaussianSigma is the default sigma, as a fraction of the range.
const DefaultGaussianSigma = 0.1

func (k SimilarityKind) String() string {
	switch k {
	case LinearSimilarity:
		return "linear"
	case GaussianSimilarity:
		return "gaussian"
	default:
		return fmt.Sprintf("SimilarityKind(%d)", int(k))
	}
}

// ParseSimilarity converts a configuration value into a SimilarityKind.
func ParseSimilarity(s string) (SimilarityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "linear":
		return LinearSimilarity, nil
	case "gaussian":
		return GaussianSimilarity, nil
	}
	return 0, fmt.Errorf("unknown similarity %q", s)
}

// SimilarityFunc scores two intensities in [0, 1]; equal intensities score 1.
type SimilarityFunc func(a, b float64) float64

// NewSimilarity builds the scoring function for an intensity range. A
// degenerate range (or sigma) only rewards identical intensities.
func NewSimilarity(kind SimilarityKind, scalarRange [2]float64, sigma float64) SimilarityFunc {
	width := scalarRange[1] - scalarRange[0]
	if !(width > 0) || math.IsInf(width, 0) {
		return exactMatch
	}
	switch kind {
	case GaussianSimilarity:
		if sigma <= 0 {
			sigma = DefaultGaussianSigma
		}
		s := sigma * width
		denom := 2 * s * s
		return func(a, b float64) float64 {
			d := a - b
			return math.Exp(-d * d / denom)
		}
	default:
		return func(a, b float64) float64 {
			f := 1 - math.Abs(a-b)/width
			if f < 0 {
				return 0
			}
			if f > 1 {
				return 1
			}
			return f
		}
	}
}

func exactMatch(a, b float64) float64 {
	if a == b {
		return 1
	}
	return 0
}
