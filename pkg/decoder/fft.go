package decoder

import (
	"gonum.org/v1/gonum/dsp/fourier"

	"fsabeam/internal/models"
	"fsabeam/internal/parallel"
)

// spectrum holds the non-negative frequency spectrum of a cube, stored as one
// (rows x cols) complex matrix per frequency bin:
// index = (bin*rows + row)*cols + col
type spectrum struct {
	data []complex128
	bins int
	rows int
	cols int
}

func newSpectrum(bins, rows, cols int) *spectrum {
	return &spectrum{
		data: make([]complex128, bins*rows*cols),
		bins: bins,
		rows: rows,
		cols: cols,
	}
}

// bin returns the row-major matrix for frequency bin f.
// The returned slice aliases the spectrum data.
func (s *spectrum) bin(f int) []complex128 {
	size := s.rows * s.cols
	return s.data[f*size : (f+1)*size : (f+1)*size]
}

// retainedBins returns the number of non-negative frequency bins produced by
// a real-input FFT of length n.
func retainedBins(n int) int {
	return n/2 + 1
}

// forwardSpectrum performs a real-input FFT of every (channel, column) trace
// along the time axis. Each worker owns its own FFT plan since plans keep
// internal work buffers.
func forwardSpectrum(c *models.Cube, workers int) *spectrum {
	bins := retainedBins(c.Samples)
	spec := newSpectrum(bins, c.Channels, c.Columns)
	traces := c.Channels * c.Columns

	parallel.Chunks(traces, workers, func(_, start, end int) {
		fft := fourier.NewFFT(c.Samples)
		coeff := make([]complex128, bins)

		for i := start; i < end; i++ {
			ch, col := i%c.Channels, i/c.Channels
			fft.Coefficients(coeff, c.Trace(ch, col))

			for f, v := range coeff {
				spec.data[(f*spec.rows+ch)*spec.cols+col] = v
			}
		}
	})

	return spec
}

// inverseSpectrum rebuilds a real cube of length n from a non-negative
// frequency spectrum. The gonum inverse transform is unnormalized, so every
// sample is scaled by 1/n.
func inverseSpectrum(spec *spectrum, n, workers int) *models.Cube {
	out := models.NewCube(n, spec.rows, spec.cols)
	traces := spec.rows * spec.cols
	scale := 1 / float64(n)

	parallel.Chunks(traces, workers, func(_, start, end int) {
		fft := fourier.NewFFT(n)
		coeff := make([]complex128, spec.bins)

		for i := start; i < end; i++ {
			ch, col := i%spec.rows, i/spec.rows
			for f := range coeff {
				coeff[f] = spec.data[(f*spec.rows+ch)*spec.cols+col]
			}

			trace := out.Trace(ch, col)
			fft.Sequence(trace, coeff)
			for t := range trace {
				trace[t] *= scale
			}
		}
	})

	return out
}
