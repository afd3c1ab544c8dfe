package dataset

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"fsabeam/internal/models"
	"fsabeam/internal/parallel"
	"fsabeam/pkg/beamform"
	"fsabeam/pkg/decoder"
)

// SimulationParams describes a synthetic point-target acquisition made with a
// linear array and one focused transmit per element (walking focus).
type SimulationParams struct {
	// Elements is the number of array elements
	Elements int

	// Pitch is the element spacing in meters
	Pitch float64

	// Samples is the number of time samples per trace
	Samples int

	// SamplingFrequency is the RF sampling rate in Hz
	SamplingFrequency float64

	// SpeedOfSound is the propagation speed in m/s
	SpeedOfSound float64

	// StartTime is the time of the first sample in samples
	StartTime float64

	// CenterFrequency is the transmit pulse centre frequency in Hz
	CenterFrequency float64

	// PulseCycles controls the Gaussian envelope width of the pulse
	PulseCycles float64

	// FocusDepth is the transmit focal depth in meters
	FocusDepth float64

	// Targets lists the point reflectors; Y is ignored
	Targets []models.Position

	// Workers is passed to the focusing model
	Workers int
}

// DefaultSimulation returns a small 32 element, 5 MHz configuration with
// three point targets.
func DefaultSimulation() SimulationParams {
	return SimulationParams{
		Elements:          32,
		Pitch:             0.3e-3,
		Samples:           2048,
		SamplingFrequency: 40e6,
		SpeedOfSound:      1540,
		StartTime:         0,
		CenterFrequency:   5e6,
		PulseCycles:       2,
		FocusDepth:        20e-3,
		Targets: []models.Position{
			{X: 0, Z: 15e-3},
			{X: -3e-3, Z: 25e-3},
			{X: 3e-3, Z: 30e-3},
		},
	}
}

// Validate reports the first inconsistent simulation parameter
func (p SimulationParams) Validate() error {
	switch {
	case p.Elements < 1:
		return fmt.Errorf("elements must be positive, got %d", p.Elements)
	case p.Samples < 2:
		return fmt.Errorf("samples must be at least 2, got %d", p.Samples)
	case !(p.SamplingFrequency > 0), !(p.SpeedOfSound > 0), !(p.CenterFrequency > 0):
		return fmt.Errorf("sampling frequency, speed of sound and centre frequency must be positive")
	case !(p.PulseCycles > 0):
		return fmt.Errorf("pulse cycles must be positive, got %g", p.PulseCycles)
	case len(p.Targets) == 0:
		return fmt.Errorf("at least one target is required")
	}
	return nil
}

// Positions returns the element positions of the simulated array, centred on x=0
func (p SimulationParams) Positions() []models.Position {
	aperture := p.Pitch * float64(p.Elements-1)
	xs := models.Linspace(-aperture/2, aperture/2, p.Elements)
	positions := make([]models.Position, p.Elements)
	for i, x := range xs {
		positions[i] = models.Position{X: x}
	}
	return positions
}

// SyntheticAperture builds the analytic element-wise dataset: trace (rx, tx)
// holds one pulse per target at its round-trip sample.
func (p SimulationParams) SyntheticAperture() *models.Cube {
	positions := p.Positions()
	n := len(positions)
	fsa := models.NewCube(p.Samples, n, n)

	xs := make([]float64, len(p.Targets))
	zs := make([]float64, len(p.Targets))
	for i, target := range p.Targets {
		xs[i], zs[i] = target.X, target.Z
	}
	table := beamform.DelayTable(positions, xs, zs)

	sigma := p.PulseCycles / p.CenterFrequency / 2
	parallel.Chunks(n*n, p.Workers, func(_, start, end int) {
		for i := start; i < end; i++ {
			rx, tx := i/n, i%n
			trace := fsa.Trace(rx, tx)
			for target := range p.Targets {
				arrival := (table.At(target, rx)+table.At(target, tx))/p.SpeedOfSound - p.StartTime/p.SamplingFrequency
				for s := range trace {
					tau := float64(s)/p.SamplingFrequency - arrival
					env := tau / sigma
					if env > 4 || env < -4 {
						continue
					}
					trace[s] += math.Exp(-env*env) * math.Cos(2*math.Pi*p.CenterFrequency*tau)
				}
			}
		}
	})
	return fsa
}

// FocalDelays returns the walking-focus transmit delays in samples. Event e
// focuses at (x_e, FocusDepth); elements farther from the focus fire first.
func (p SimulationParams) FocalDelays() *mat.Dense {
	positions := p.Positions()
	n := len(positions)
	delays := mat.NewDense(n, n, nil)
	for e := 0; e < n; e++ {
		row := delays.RawRowView(e)
		farthest := 0.0
		for k, pos := range positions {
			dx := pos.X - positions[e].X
			row[k] = math.Sqrt(dx*dx + p.FocusDepth*p.FocusDepth)
			farthest = math.Max(farthest, row[k])
		}
		for k := range row {
			row[k] = (farthest - row[k]) / p.SpeedOfSound * p.SamplingFrequency
		}
	}
	return delays
}

// Simulate produces a focused-transmit dataset by applying the focusing model
// to the analytic synthetic-aperture data.
func Simulate(p SimulationParams) (*Dataset, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulation parameters: %w", err)
	}

	delays := p.FocalDelays()
	rf, err := decoder.NewDecoder(decoder.Options{Workers: p.Workers}).Encode(p.SyntheticAperture(), delays)
	if err != nil {
		return nil, fmt.Errorf("failed to apply focusing model: %w", err)
	}

	positions := p.Positions()
	rxPositions := make([][]float64, len(positions))
	for i, pos := range positions {
		rxPositions[i] = []float64{pos.X, pos.Y, pos.Z}
	}

	return &Dataset{
		RF:             rf,
		TransmitDelays: delays,
		Acquisition: Acquisition{
			SamplingFrequency: p.SamplingFrequency,
			StartTime:         p.StartTime,
			SpeedOfSound:      p.SpeedOfSound,
			RxPositions:       rxPositions,
		},
	}, nil
}
