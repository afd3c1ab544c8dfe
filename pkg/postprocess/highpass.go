// Package postprocess applies the filtering steps that turn a beamformed RF
// image into a displayable envelope image.
package postprocess

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// biquad is one second-order (or first-order when b2 = a2 = 0) section in
// direct form II transposed, with a0 normalised to 1.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// Butterworth is a digital high-pass Butterworth filter designed with the
// bilinear transform and realised as a cascade of sections.
type Butterworth struct {
	sections []biquad
}

// NewHighPass designs an order-n Butterworth high-pass filter with the -3 dB
// point at cutoff Hz for data sampled at fs Hz.
func NewHighPass(order int, cutoff, fs float64) (*Butterworth, error) {
	if order < 1 {
		return nil, fmt.Errorf("filter order must be positive, got %d", order)
	}
	if !(cutoff > 0) || !(cutoff < fs/2) {
		return nil, fmt.Errorf("cutoff %g Hz must lie in (0, %g) for sampling rate %g Hz", cutoff, fs/2, fs)
	}

	// Prewarped analog cutoff
	k := math.Tan(math.Pi * cutoff / fs)
	k2 := k * k

	f := &Butterworth{}
	for i := 0; i < order/2; i++ {
		theta := math.Pi * float64(2*i+1) / float64(2*order)
		invQ := 2 * math.Sin(theta)
		norm := 1 / (1 + k*invQ + k2)
		f.sections = append(f.sections, biquad{
			b0: norm,
			b1: -2 * norm,
			b2: norm,
			a1: 2 * (k2 - 1) * norm,
			a2: (1 - k*invQ + k2) * norm,
		})
	}
	if order%2 == 1 {
		norm := 1 / (1 + k)
		f.sections = append(f.sections, biquad{
			b0: norm,
			b1: -norm,
			a1: (k - 1) * norm,
		})
	}
	return f, nil
}

// Filter applies the filter causally to x in place, starting from rest
func (f *Butterworth) Filter(x []float64) {
	for _, s := range f.sections {
		var z1, z2 float64
		for i, in := range x {
			out := s.b0*in + z1
			z1 = s.b1*in - s.a1*out + z2
			z2 = s.b2*in - s.a2*out
			x[i] = out
		}
	}
}

// Gain returns the magnitude response at freq Hz for sampling rate fs
func (f *Butterworth) Gain(freq, fs float64) float64 {
	z := cmplx.Exp(complex(0, -2*math.Pi*freq/fs))
	z2 := z * z
	h := complex(1, 0)
	for _, s := range f.sections {
		num := complex(s.b0, 0) + complex(s.b1, 0)*z + complex(s.b2, 0)*z2
		den := 1 + complex(s.a1, 0)*z + complex(s.a2, 0)*z2
		h *= num / den
	}
	return cmplx.Abs(h)
}

// HighPass filters every column of img (the axial direction) and returns
// the filtered copy.
func HighPass(img *mat.Dense, order int, cutoff, fs float64) (*mat.Dense, error) {
	f, err := NewHighPass(order, cutoff, fs)
	if err != nil {
		return nil, err
	}

	rows, cols := img.Dims()
	out := mat.NewDense(rows, cols, nil)
	column := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(column, j, img)
		f.Filter(column)
		out.SetCol(j, column)
	}
	return out, nil
}
