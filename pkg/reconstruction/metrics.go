package reconstruction

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// halfAmplitudeDB is the level of half the peak amplitude
var halfAmplitudeDB = 20 * math.Log10(0.5)

// StageTiming is the wall time spent in one pipeline stage
type StageTiming struct {
	Name     string
	Duration time.Duration
}

// ImageMetrics summarises a reconstructed image.
type ImageMetrics struct {
	// Peak is the largest absolute pixel value
	Peak float64

	// PeakX and PeakZ locate the peak in meters
	PeakX, PeakZ float64

	// Mean and StdDev are taken over all pixel values
	Mean   float64
	StdDev float64

	// Entropy is the Shannon entropy in bits of the log-compressed image,
	// histogrammed into 256 bins over the dynamic range
	Entropy float64

	// LateralFWHM and AxialFWHM are the -6 dB widths of the main lobe
	// through the peak, in meters
	LateralFWHM float64
	AxialFWHM   float64

	// Stages holds the duration of every pipeline stage in order
	Stages []StageTiming
}

// calculateMetrics computes the metrics of the final image
func (r *Reconstructor) calculateMetrics() error {
	rows, cols := r.image.Dims()
	data := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		data = append(data, r.image.RawRowView(i)...)
	}

	abs := make([]float64, len(data))
	for i, v := range data {
		abs[i] = math.Abs(v)
	}
	peakIdx := floats.MaxIdx(abs)
	peakRow, peakCol := peakIdx/cols, peakIdx%cols

	m := ImageMetrics{
		Peak:  abs[peakIdx],
		PeakX: r.params.Grid.X[peakCol],
		PeakZ: r.params.Grid.Z[peakRow],
	}
	m.Mean, m.StdDev = stat.MeanStdDev(data, nil)
	if len(data) == 1 {
		m.StdDev = 0
	}

	viewer, err := r.viewer()
	if err != nil {
		return err
	}
	db := viewer.LogCompressed()
	m.Entropy = calculateEntropy(db.RawMatrix().Data, -r.params.DynamicRange, 0)

	lateral, err := viewer.ExtractProfile("x", peakRow)
	if err != nil {
		return err
	}
	axial, err := viewer.ExtractProfile("z", peakCol)
	if err != nil {
		return err
	}
	m.LateralFWHM = mainLobeWidth(lateral, r.params.Grid.X, peakCol, halfAmplitudeDB)
	m.AxialFWHM = mainLobeWidth(axial, r.params.Grid.Z, peakRow, halfAmplitudeDB)

	r.metrics = m
	return nil
}

// calculateEntropy computes the Shannon entropy in bits of data
// histogrammed into 256 equal bins over [lo, hi]
func calculateEntropy(data []float64, lo, hi float64) float64 {
	if len(data) == 0 || !(hi > lo) {
		return 0
	}

	const numBins = 256
	hist := make([]float64, numBins)
	binWidth := (hi - lo) / numBins
	for _, v := range data {
		binIdx := int((v - lo) / binWidth)
		if binIdx >= numBins {
			binIdx = numBins - 1
		} else if binIdx < 0 {
			binIdx = 0
		}
		hist[binIdx]++
	}

	floats.Scale(1/float64(len(data)), hist)
	return stat.Entropy(hist) / math.Ln2
}

// mainLobeWidth returns the width of the region around peak where profile
// stays at or above threshold. Crossings are linearly interpolated between
// samples; a lobe that reaches the edge of the grid is cut there.
func mainLobeWidth(profile, coords []float64, peak int, threshold float64) float64 {
	if len(coords) < 2 {
		return 0
	}

	left := coords[0]
	for i := peak; i > 0; i-- {
		if profile[i-1] < threshold {
			left = crossing(coords[i-1], coords[i], profile[i-1], profile[i], threshold)
			break
		}
	}

	right := coords[len(coords)-1]
	for i := peak; i < len(profile)-1; i++ {
		if profile[i+1] < threshold {
			right = crossing(coords[i], coords[i+1], profile[i], profile[i+1], threshold)
			break
		}
	}
	return right - left
}

// crossing interpolates where the line through (x0, y0) and (x1, y1) meets level
func crossing(x0, x1, y0, y1, level float64) float64 {
	if y1 == y0 {
		return x0
	}
	return x0 + (level-y0)/(y1-y0)*(x1-x0)
}
