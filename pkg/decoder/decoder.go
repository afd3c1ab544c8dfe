// Package decoder recovers a full synthetic-aperture dataset from RF data
// acquired with focused transmit beams.
//
// Every focused transmit event fires all elements with element-specific
// delays, which mixes the individual element responses. In the frequency
// domain the mixing is linear per bin, so the element responses can be
// recovered bin by bin with a phase matrix built from the known delays.
package decoder

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/cblas128"
	"gonum.org/v1/gonum/mat"

	"fsabeam/internal/models"
	"fsabeam/internal/parallel"
)

// ErrDimensionMismatch is returned when the RF cube and delay matrix disagree
// on the number of transmit events or transmit elements.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// PhaseConvention selects which phase matrix multiplies the RF spectrum.
type PhaseConvention int

const (
	// Direct multiplies by H[e,k] = exp(+i*phase). H is applied as is,
	// no inversion is performed.
	Direct PhaseConvention = iota

	// Conjugate multiplies by the elementwise conjugate exp(-i*phase).
	Conjugate
)

func (c PhaseConvention) String() string {
	switch c {
	case Direct:
		return "direct"
	case Conjugate:
		return "conjugate"
	default:
		return fmt.Sprintf("PhaseConvention(%d)", int(c))
	}
}

// ParsePhaseConvention converts a configuration string into a PhaseConvention
func ParsePhaseConvention(s string) (PhaseConvention, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct":
		return Direct, nil
	case "conjugate":
		return Conjugate, nil
	default:
		return Direct, fmt.Errorf("unknown phase convention %q (must be direct or conjugate)", s)
	}
}

// PhaseNormalization selects the divisor D in phase = 2*pi*f/D/2*delay.
type PhaseNormalization int

const (
	// NormalizeByBins divides by the number of retained rFFT bins (n/2+1).
	NormalizeByBins PhaseNormalization = iota

	// NormalizeBySamples divides by the time-sample count n.
	NormalizeBySamples
)

func (p PhaseNormalization) String() string {
	switch p {
	case NormalizeByBins:
		return "bins"
	case NormalizeBySamples:
		return "samples"
	default:
		return fmt.Sprintf("PhaseNormalization(%d)", int(p))
	}
}

// ParsePhaseNormalization converts a configuration string into a PhaseNormalization
func ParsePhaseNormalization(s string) (PhaseNormalization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bins":
		return NormalizeByBins, nil
	case "samples":
		return NormalizeBySamples, nil
	default:
		return NormalizeByBins, fmt.Errorf("unknown phase normalization %q (must be bins or samples)", s)
	}
}

// Options configures a Decoder
type Options struct {
	// Workers is the number of goroutines used per stage; <= 0 uses all CPUs
	Workers int

	// Convention selects the phase matrix sign convention
	Convention PhaseConvention

	// Normalization selects the phase divisor
	Normalization PhaseNormalization

	// Logger receives debug output; nil disables logging
	Logger *zap.Logger
}

// Decoder converts focused-transmit RF cubes into synthetic-aperture cubes.
// A Decoder holds no per-call state and may be used concurrently.
type Decoder struct {
	opts   Options
	logger *zap.Logger
}

// NewDecoder creates a decoder with the given options
func NewDecoder(opts Options) *Decoder {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{opts: opts, logger: logger.Named("decoder")}
}

// Decode runs a default decoder (direct convention, bin normalization, all CPUs).
func Decode(rf *models.Cube, delays *mat.Dense) (*models.Cube, error) {
	return NewDecoder(Options{}).Decode(rf, delays)
}

// Encode runs the forward model of a default decoder.
func Encode(fsa *models.Cube, delays *mat.Dense) (*models.Cube, error) {
	return NewDecoder(Options{}).Encode(fsa, delays)
}

// Decode converts rf (time x receive channel x transmit event) into the
// synthetic-aperture cube (time x receive channel x transmit element) using
// delays (transmit event x transmit element, in samples).
//
// For each rFFT bin f the spectral slice RF_f (channel x event) is right
// multiplied by the phase matrix H_f (event x element). The result keeps the
// input time length exactly.
func (d *Decoder) Decode(rf *models.Cube, delays *mat.Dense) (*models.Cube, error) {
	if err := validateInput("rf", rf, delays, true); err != nil {
		return nil, err
	}
	events, elements := delays.Dims()

	d.logger.Debug("decoding focused transmits",
		zap.Int("samples", rf.Samples),
		zap.Int("channels", rf.Channels),
		zap.Int("events", events),
		zap.Int("elements", elements),
		zap.Stringer("convention", d.opts.Convention),
		zap.Stringer("normalization", d.opts.Normalization),
	)

	in := forwardSpectrum(rf, d.opts.Workers)
	out := newSpectrum(in.bins, rf.Channels, elements)
	d.mix(in, out, rf.Samples, delays, blas.NoTrans)

	return inverseSpectrum(out, rf.Samples, d.opts.Workers), nil
}

// Encode applies the forward focusing model to a synthetic-aperture cube:
// RF_f = FSA_f * H_f^H, where H_f^H is the conjugate transpose of the phase
// matrix Decode would use. It synthesises focused acquisitions from
// element-wise data.
func (d *Decoder) Encode(fsa *models.Cube, delays *mat.Dense) (*models.Cube, error) {
	if err := validateInput("fsa", fsa, delays, false); err != nil {
		return nil, err
	}
	events, _ := delays.Dims()

	in := forwardSpectrum(fsa, d.opts.Workers)
	out := newSpectrum(in.bins, fsa.Channels, events)
	d.mix(in, out, fsa.Samples, delays, blas.ConjTrans)

	return inverseSpectrum(out, fsa.Samples, d.opts.Workers), nil
}

// PhaseMatrix returns H_f for frequency bin f of an n-sample trace as a
// row-major (event x element) slice.
func (d *Decoder) PhaseMatrix(f, n int, delays *mat.Dense) []complex128 {
	events, elements := delays.Dims()
	h := make([]complex128, events*elements)
	d.fillPhase(h, f, d.denominator(n), flatten(delays))
	return h
}

// mix multiplies every bin of in by the phase matrix (op selects H or H^H)
// and stores the product in out. Bins are split across workers; each bin's
// output block is owned by exactly one worker.
func (d *Decoder) mix(in, out *spectrum, n int, delays *mat.Dense, op blas.Transpose) {
	events, elements := delays.Dims()
	dl := flatten(delays)
	denom := d.denominator(n)

	parallel.Chunks(in.bins, d.opts.Workers, func(_, start, end int) {
		h := make([]complex128, events*elements)
		phase := cblas128.General{Rows: events, Cols: elements, Stride: elements, Data: h}

		for f := start; f < end; f++ {
			d.fillPhase(h, f, denom, dl)

			a := cblas128.General{Rows: in.rows, Cols: in.cols, Stride: in.cols, Data: in.bin(f)}
			c := cblas128.General{Rows: out.rows, Cols: out.cols, Stride: out.cols, Data: out.bin(f)}
			cblas128.Gemm(blas.NoTrans, op, 1, a, phase, 0, c)
		}
	})
}

// fillPhase writes exp(+-i * 2*pi*f/denom/2 * delay) for every delay entry
func (d *Decoder) fillPhase(h []complex128, f int, denom float64, delays []float64) {
	sign := 1.0
	if d.opts.Convention == Conjugate {
		sign = -1
	}
	scale := 2 * math.Pi * float64(f) / denom / 2
	for i, delay := range delays {
		sin, cos := math.Sincos(scale * delay)
		h[i] = complex(cos, sign*sin)
	}
}

func (d *Decoder) denominator(n int) float64 {
	if d.opts.Normalization == NormalizeBySamples {
		return float64(n)
	}
	return float64(retainedBins(n))
}

// validateInput checks the cube against the delay matrix. Decoding matches
// cube columns against delay rows (events); encoding against delay columns
// (elements).
func validateInput(name string, c *models.Cube, delays *mat.Dense, decoding bool) error {
	if c == nil {
		return fmt.Errorf("%s cube is nil", name)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid %s cube: %w", name, err)
	}
	if delays == nil || delays.IsEmpty() {
		return fmt.Errorf("%w: transmit delay matrix is empty", ErrDimensionMismatch)
	}

	events, elements := delays.Dims()
	if decoding && c.Columns != events {
		return fmt.Errorf("%w: rf cube has %d transmit events, delay matrix has %d",
			ErrDimensionMismatch, c.Columns, events)
	}
	if !decoding && c.Columns != elements {
		return fmt.Errorf("%w: fsa cube has %d transmit elements, delay matrix has %d",
			ErrDimensionMismatch, c.Columns, elements)
	}
	return nil
}

// flatten copies a possibly strided matrix into a contiguous row-major slice
func flatten(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}
