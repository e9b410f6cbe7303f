package volume

// Interpolation selects how a labelmap is sampled between voxel centres.
type Interpolation int

const (
	NearestInterpolation Interpolation = iota
	LinearInterpolation
)

func (i Interpolation) String() string {
	switch i {
	case NearestInterpolation:
		return "nearest"
	case LinearInterpolation:
		return "linear"
	default:
		return "unknown"
	}
}

// FractionalParams is the metadata stored alongside a fractional labelmap.
type FractionalParams struct {
	// ScalarRange maps occupancy 0 to ScalarRange[0] and 1 to ScalarRange[1].
	ScalarRange [2]float64

	// Threshold is the value at which the segment surface is placed.
	Threshold float64

	// Interpolation is the mode used when resampling or displaying.
	Interpolation Interpolation
}

// FractionalLabelmap stores sub-voxel occupancy as signed 8-bit values.
type FractionalLabelmap struct {
	Grid[int8]
	Params FractionalParams
}

// NewFractionalLabelmap allocates a labelmap filled with the "fully outside"
// value of params.
func NewFractionalLabelmap(g Geometry, params FractionalParams) (*FractionalLabelmap, error) {
	grid, err := NewGrid[int8](g)
	if err != nil {
		return nil, err
	}
	grid.Fill(int8(params.ScalarRange[0]))
	return &FractionalLabelmap{Grid: *grid, Params: params}, nil
}
