// Package beamform forms images from synthetic-aperture RF data by
// delay-and-sum beamforming over every transmit/receive element pair.
package beamform

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"fsabeam/internal/models"
	"fsabeam/internal/parallel"
	"fsabeam/pkg/interpolation"
)

// ErrDimensionMismatch is returned when the FSA cube, element positions,
// range axis or pixel grid disagree in size.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Options configures a Beamformer
type Options struct {
	// Workers is the number of goroutines accumulating element pairs; <= 0 uses all CPUs
	Workers int

	// Logger receives debug output; nil disables logging
	Logger *zap.Logger
}

// Beamformer computes delay-and-sum images. It holds no per-call state and
// may be used concurrently.
type Beamformer struct {
	opts   Options
	logger *zap.Logger
}

// pair is one (receive element, transmit element) combination
type pair struct {
	rx, tx int
}

// NewBeamformer creates a beamformer with the given options
func NewBeamformer(opts Options) *Beamformer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Beamformer{opts: opts, logger: logger.Named("beamform")}
}

// Beamform runs a default beamformer using all CPUs.
func Beamform(fsa *models.Cube, rangeAxis []float64, positions []models.Position, x, z []float64) (*mat.Dense, error) {
	return NewBeamformer(Options{}).Beamform(fsa, rangeAxis, positions, x, z)
}

// Beamform forms an image of shape (len(z), len(x)) from fsa
// (time x receive element x transmit element).
//
// rangeAxis maps each time sample to a propagation distance and must be
// strictly increasing. For every ordered element pair the round-trip
// distance to each pixel is looked up on the range axis and the linearly
// interpolated sample is summed into that pixel. Distances beyond either end
// of the axis take the boundary sample.
func (b *Beamformer) Beamform(fsa *models.Cube, rangeAxis []float64, positions []models.Position, x, z []float64) (*mat.Dense, error) {
	if err := validate(fsa, rangeAxis, positions, x, z); err != nil {
		return nil, err
	}

	interp, err := interpolation.NewLinear(rangeAxis)
	if err != nil {
		return nil, fmt.Errorf("invalid range axis: %w", err)
	}

	grid := models.Grid{X: x, Z: z}
	xs, zs := grid.Pixels()
	table := DelayTable(positions, xs, zs)

	// One contiguous distance column per element
	distances := make([][]float64, len(positions))
	for i := range positions {
		distances[i] = mat.Col(nil, i, table)
	}

	n := len(positions)
	pairs := make([]pair, 0, n*n)
	for rx := 0; rx < n; rx++ {
		for tx := 0; tx < n; tx++ {
			pairs = append(pairs, pair{rx: rx, tx: tx})
		}
	}

	start := time.Now()
	sum := b.sumPairs(fsa, interp, distances, pairs, grid.Len())
	b.logger.Debug("accumulated element pairs",
		zap.Int("pairs", len(pairs)),
		zap.Int("pixels", grid.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)

	return mat.NewDense(len(z), len(x), sum), nil
}

// sumPairs accumulates the interpolated contribution of every pair. Each
// worker sums its share of pairs into a private partial image; the partials
// are then added together in worker order.
func (b *Beamformer) sumPairs(fsa *models.Cube, interp *interpolation.Linear, distances [][]float64, pairs []pair, pixels int) []float64 {
	workers := parallel.Workers(b.opts.Workers, len(pairs))
	partials := make([][]float64, workers)

	parallel.Chunks(len(pairs), workers, func(worker, start, end int) {
		partial := make([]float64, pixels)
		roundTrip := make([]float64, pixels)

		for _, p := range pairs[start:end] {
			floats.AddTo(roundTrip, distances[p.rx], distances[p.tx])
			// Lengths are validated up front, Accumulate cannot fail here
			_ = interp.Accumulate(partial, roundTrip, fsa.Trace(p.rx, p.tx))
		}
		partials[worker] = partial
	})

	sum := make([]float64, pixels)
	for _, partial := range partials {
		if partial != nil {
			floats.Add(sum, partial)
		}
	}
	return sum
}

// DelayTable returns the one-way distance from every pixel to every element
// as a (pixel x element) matrix. xs and zs are the flattened pixel
// coordinates; the element elevation enters as a constant offset.
func DelayTable(positions []models.Position, xs, zs []float64) *mat.Dense {
	table := mat.NewDense(len(xs), len(positions), nil)
	for p := range xs {
		row := table.RawRowView(p)
		for i, pos := range positions {
			dx := xs[p] - pos.X
			dz := zs[p] - pos.Z
			row[i] = math.Sqrt(dx*dx + pos.Y*pos.Y + dz*dz)
		}
	}
	return table
}

func validate(fsa *models.Cube, rangeAxis []float64, positions []models.Position, x, z []float64) error {
	if fsa == nil {
		return fmt.Errorf("fsa cube is nil")
	}
	if err := fsa.Validate(); err != nil {
		return fmt.Errorf("invalid fsa cube: %w", err)
	}
	if len(positions) != fsa.Channels || len(positions) != fsa.Columns {
		return fmt.Errorf("%w: %d element positions, fsa cube has %d receive channels and %d transmit elements",
			ErrDimensionMismatch, len(positions), fsa.Channels, fsa.Columns)
	}
	if len(rangeAxis) != fsa.Samples {
		return fmt.Errorf("%w: range axis has %d samples, fsa cube has %d",
			ErrDimensionMismatch, len(rangeAxis), fsa.Samples)
	}
	if len(x) == 0 || len(z) == 0 {
		return fmt.Errorf("%w: pixel grid is empty (%d lateral x %d axial)",
			ErrDimensionMismatch, len(x), len(z))
	}
	return nil
}
