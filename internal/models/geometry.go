package models

// Position is the location of a transducer element in meters.
// Y (elevation) only enters the distance formula as a constant offset.
type Position struct {
	X, Y, Z float64
}

// Grid describes the pixel grid of a beamformed image
type Grid struct {
	// X holds the lateral pixel coordinates
	X []float64

	// Z holds the axial pixel coordinates
	Z []float64
}

// Len returns the number of pixels in the grid
func (g Grid) Len() int {
	return len(g.X) * len(g.Z)
}

// Pixels flattens the grid into parallel coordinate slices.
// Z varies slowest so that pixel p maps to image row p/len(X), column p%len(X).
func (g Grid) Pixels() (xs, zs []float64) {
	n := g.Len()
	xs = make([]float64, n)
	zs = make([]float64, n)
	for i, z := range g.Z {
		for j, x := range g.X {
			xs[i*len(g.X)+j] = x
			zs[i*len(g.X)+j] = z
		}
	}
	return xs, zs
}

// Linspace returns n evenly spaced values over [start, stop], endpoint included
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}
