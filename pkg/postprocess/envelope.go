package postprocess

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

// Analytic returns the analytic signal of x: the inverse FFT of the spectrum
// with negative frequencies removed and positive frequencies doubled.
func Analytic(x []float64) []complex128 {
	n := len(x)
	if n == 0 {
		return nil
	}

	coeff := fourier.NewFFT(n).Coefficients(nil, x)

	spectrum := make([]complex128, n)
	spectrum[0] = coeff[0]
	for k := 1; k < len(coeff); k++ {
		if n%2 == 0 && k == n/2 {
			spectrum[k] = coeff[k]
			continue
		}
		spectrum[k] = 2 * coeff[k]
	}

	// gonum's inverse transform is unnormalized
	out := fourier.NewCmplxFFT(n).Sequence(nil, spectrum)
	scale := complex(1/float64(n), 0)
	for i := range out {
		out[i] *= scale
	}
	return out
}

// Envelope returns the magnitude of the analytic signal down every column of
// img (the axial direction).
func Envelope(img *mat.Dense) *mat.Dense {
	rows, cols := img.Dims()
	out := mat.NewDense(rows, cols, nil)
	column := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(column, j, img)
		for i, v := range Analytic(column) {
			column[i] = cmplx.Abs(v)
		}
		out.SetCol(j, column)
	}
	return out
}
