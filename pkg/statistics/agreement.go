package statistics

import "segcomplete/pkg/volume"

// Agreement compares a labelmap against a reference labelmap on the same
// grid.
type Agreement struct {
	// Dice is 2|A∩B| / (|A|+|B|). Two empty labelmaps agree fully.
	Dice float64

	// Jaccard is |A∩B| / |A∪B|.
	Jaccard float64

	// FalsePositive and FalseNegative count voxels only in the labelmap and
	// only in the reference.
	FalsePositive int
	FalseNegative int
}

// Compare measures how well b matches reference.
func Compare(b, reference *volume.BinaryLabelmap) (Agreement, error) {
	if err := reference.CheckSameGrid("labelmap", b.Geometry); err != nil {
		return Agreement{}, err
	}
	var both, onlyB, onlyRef int
	for v := range b.Data {
		inB, inRef := b.Data[v] != 0, reference.Data[v] != 0
		switch {
		case inB && inRef:
			both++
		case inB:
			onlyB++
		case inRef:
			onlyRef++
		}
	}
	a := Agreement{FalsePositive: onlyB, FalseNegative: onlyRef, Dice: 1, Jaccard: 1}
	if union := both + onlyB + onlyRef; union > 0 {
		a.Dice = 2 * float64(both) / float64(2*both+onlyB+onlyRef)
		a.Jaccard = float64(both) / float64(union)
	}
	return a, nil
}
