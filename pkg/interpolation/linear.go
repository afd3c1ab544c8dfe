// Package interpolation provides the 1-D linear interpolator used to sample
// RF traces at arbitrary propagation distances.
package interpolation

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrDomain is returned when an interpolation axis is empty or not strictly increasing.
var ErrDomain = errors.New("invalid interpolation axis")

// uniformTolerance is the relative spacing deviation under which an axis is
// treated as uniformly sampled.
const uniformTolerance = 1e-9

// Linear interpolates sampled functions defined over a fixed, strictly
// increasing axis. Queries outside the axis clamp to the first or last
// sample instead of extrapolating.
//
// A Linear is immutable after construction and safe for concurrent use.
type Linear struct {
	axis []float64

	// uniform axes skip the binary search
	uniform bool
	start   float64
	step    float64
}

// NewLinear validates axis and returns an interpolator over it.
// The axis slice is retained and must not be modified afterwards.
func NewLinear(axis []float64) (*Linear, error) {
	if len(axis) == 0 {
		return nil, fmt.Errorf("%w: axis is empty", ErrDomain)
	}
	for i := 1; i < len(axis); i++ {
		if !(axis[i] > axis[i-1]) {
			return nil, fmt.Errorf("%w: axis[%d]=%g is not greater than axis[%d]=%g",
				ErrDomain, i, axis[i], i-1, axis[i-1])
		}
	}

	l := &Linear{axis: axis, start: axis[0]}
	if len(axis) > 1 {
		l.step = (axis[len(axis)-1] - axis[0]) / float64(len(axis)-1)
		l.uniform = true
		for i := 1; i < len(axis); i++ {
			expected := l.start + float64(i)*l.step
			if math.Abs(axis[i]-expected) > uniformTolerance*math.Abs(l.step)*float64(len(axis)) {
				l.uniform = false
				break
			}
		}
	}
	return l, nil
}

// Len returns the number of samples on the axis
func (l *Linear) Len() int {
	return len(l.axis)
}

// At returns the interpolated value of fp at x
func (l *Linear) At(x float64, fp []float64) float64 {
	n := len(l.axis)
	switch {
	case math.IsNaN(x):
		return math.NaN()
	case x <= l.axis[0]:
		return fp[0]
	case x >= l.axis[n-1]:
		return fp[n-1]
	}

	var lo int
	if l.uniform {
		lo = int((x - l.start) / l.step)
		// Rounding can place x just outside [axis[lo], axis[lo+1]]
		if lo > n-2 {
			lo = n - 2
		}
		for lo > 0 && x < l.axis[lo] {
			lo--
		}
		for lo < n-2 && x >= l.axis[lo+1] {
			lo++
		}
	} else {
		lo = sort.SearchFloat64s(l.axis, x) - 1
	}

	x0, x1 := l.axis[lo], l.axis[lo+1]
	return fp[lo] + (fp[lo+1]-fp[lo])*(x-x0)/(x1-x0)
}

// Interp evaluates fp at every point in xs and returns the results
func (l *Linear) Interp(xs, fp []float64) ([]float64, error) {
	dst := make([]float64, len(xs))
	if err := l.Accumulate(dst, xs, fp); err != nil {
		return nil, err
	}
	return dst, nil
}

// Accumulate adds the interpolated value of fp at each xs[i] to dst[i]
func (l *Linear) Accumulate(dst, xs, fp []float64) error {
	if len(fp) != len(l.axis) {
		return fmt.Errorf("%w: function has %d samples, axis has %d",
			ErrDomain, len(fp), len(l.axis))
	}
	if len(dst) != len(xs) {
		return fmt.Errorf("destination length %d does not match query length %d", len(dst), len(xs))
	}
	for i, x := range xs {
		dst[i] += l.At(x, fp)
	}
	return nil
}
