package growcut

import "fmt"

// Connectivity is the neighbourhood size used when propagating labels.
type Connectivity int

const (
	Connectivity6  Connectivity = 6
	Connectivity26 Connectivity = 26
)

// DefaultConnectivity is used when Options.Connectivity is zero.
const DefaultConnectivity = Connectivity26

func (c Connectivity) valid() bool { return c == Connectivity6 || c == Connectivity26 }

func (c Connectivity) String() string { return fmt.Sprintf("%d-connected", int(c)) }

type offset struct {
	di, dj, dk int
}

// offsets lists neighbours in a fixed order (k slowest, i fastest) so that
// equal-strength candidates are always resolved the same way.
func (c Connectivity) offsets() []offset {
	var out []offset
	for dk := -1; dk <= 1; dk++ {
		for dj := -1; dj <= 1; dj++ {
			for di := -1; di <= 1; di++ {
				n := abs(di) + abs(dj) + abs(dk)
				if n == 0 {
					continue
				}
				if c == Connectivity6 && n != 1 {
					continue
				}
				out = append(out, offset{di, dj, dk})
			}
		}
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
