package decoder

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"fsabeam/internal/models"
)

// createTestCube fills a cube using the given pattern
func createTestCube(samples, channels, columns int, pattern func(t, ch, col int) float64) *models.Cube {
	c := models.NewCube(samples, channels, columns)
	for col := 0; col < columns; col++ {
		for ch := 0; ch < channels; ch++ {
			for t := 0; t < samples; t++ {
				c.Set(t, ch, col, pattern(t, ch, col))
			}
		}
	}
	return c
}

// irregular is a deterministic, non-trivial test signal
func irregular(t, ch, col int) float64 {
	return math.Sin(0.37*float64(t)+1.3*float64(ch)) + 0.5*math.Cos(0.11*float64(t*(col+1))) + 0.1*float64(col)
}

// bandLimited has no energy in the DC or Nyquist bins of a 64-sample trace
func bandLimited(t, ch, _ int) float64 {
	const n = 64
	return math.Cos(2*math.Pi*3*float64(t)/n+float64(ch)) + 0.5*math.Sin(2*math.Pi*7*float64(t)/n)
}

func TestDecodeZeroDelaysSumsEvents(t *testing.T) {
	const samples, channels, events, elements = 32, 3, 4, 5
	rf := createTestCube(samples, channels, events, irregular)
	delays := mat.NewDense(events, elements, nil)

	fsa, err := Decode(rf, delays)
	require.NoError(t, err)
	require.Equal(t, [3]int{samples, channels, elements}, fsa.Shape())

	// With all-zero delays every phase matrix entry is 1, so each element
	// receives the sum of all transmit events.
	for k := 0; k < elements; k++ {
		for ch := 0; ch < channels; ch++ {
			for ti := 0; ti < samples; ti++ {
				want := 0.0
				for e := 0; e < events; e++ {
					want += rf.At(ti, ch, e)
				}
				assert.InDelta(t, want, fsa.At(ti, ch, k), 1e-9)
			}
		}
	}
}

func TestDecodeSingleEventIdentity(t *testing.T) {
	for _, samples := range []int{16, 17} {
		rf := createTestCube(samples, 2, 1, irregular)
		fsa, err := Decode(rf, mat.NewDense(1, 1, []float64{0}))
		require.NoError(t, err)
		assert.InDeltaSlice(t, rf.Data, fsa.Data, 1e-9, "samples=%d", samples)
	}
}

func TestDecodePreservesLength(t *testing.T) {
	for _, samples := range []int{2, 31, 32, 127} {
		rf := createTestCube(samples, 3, 2, irregular)
		delays := mat.NewDense(2, 4, []float64{
			0, 1.5, 3, 4.5,
			4.5, 3, 1.5, 0,
		})

		fsa, err := Decode(rf, delays)
		require.NoError(t, err)
		assert.Equal(t, samples, fsa.Samples)
		assert.Equal(t, 3, fsa.Channels)
		assert.Equal(t, 4, fsa.Columns)
		assert.Len(t, fsa.Data, samples*3*4)
	}
}

func TestDecodeRejectsEventMismatch(t *testing.T) {
	rf := createTestCube(8, 2, 3, irregular)
	_, err := Decode(rf, mat.NewDense(4, 3, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.Contains(t, err.Error(), "3 transmit events")
	assert.Contains(t, err.Error(), "has 4")
}

func TestDecodeRejectsInvalidCube(t *testing.T) {
	_, err := Decode(nil, mat.NewDense(1, 1, nil))
	assert.Error(t, err)

	bad := &models.Cube{Samples: 4, Channels: 1, Columns: 1, Data: []float64{1, 2}}
	_, err = Decode(bad, mat.NewDense(1, 1, nil))
	assert.Error(t, err)
}

func TestEncodeDecodeEnergyBound(t *testing.T) {
	const samples, channels = 64, 3
	rf := createTestCube(samples, channels, 1, bandLimited)
	delays := mat.NewDense(1, 4, []float64{0.3, 1.7, -2.2, 5})
	_, elements := delays.Dims()

	for _, convention := range []PhaseConvention{Direct, Conjugate} {
		d := NewDecoder(Options{Workers: 2, Convention: convention})

		fsa, err := d.Decode(rf, delays)
		require.NoError(t, err)
		back, err := d.Encode(fsa, delays)
		require.NoError(t, err)
		require.Equal(t, rf.Shape(), back.Shape())

		// With a single event H*H^H is the scalar K, so re-encoding returns K*rf.
		var inEnergy, outEnergy float64
		for i, v := range rf.Data {
			assert.InDelta(t, float64(elements)*v, back.Data[i], 1e-9)
			inEnergy += v * v
			outEnergy += back.Data[i] * back.Data[i]
		}
		assert.InDelta(t, float64(elements*elements), outEnergy/inEnergy, 1e-9)
	}
}

func TestEncodeRejectsElementMismatch(t *testing.T) {
	fsa := createTestCube(8, 2, 3, irregular)
	_, err := Encode(fsa, mat.NewDense(2, 4, nil))
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestConjugateEqualsNegatedDelays(t *testing.T) {
	rf := createTestCube(40, 2, 3, irregular)
	delays := mat.NewDense(3, 3, []float64{
		0, 2, 4,
		1, 0, 1,
		4, 2, 0,
	})
	negated := mat.NewDense(3, 3, nil)
	negated.Scale(-1, delays)

	conj, err := NewDecoder(Options{Convention: Conjugate}).Decode(rf, delays)
	require.NoError(t, err)
	direct, err := NewDecoder(Options{Convention: Direct}).Decode(rf, negated)
	require.NoError(t, err)

	assert.InDeltaSlice(t, direct.Data, conj.Data, 1e-12)
}

func TestDecodeIndependentOfWorkerCount(t *testing.T) {
	rf := createTestCube(50, 4, 3, irregular)
	delays := mat.NewDense(3, 4, []float64{
		0, 1, 2, 3,
		3, 2, 1, 0,
		1, 0, 0, 1,
	})

	sequential, err := NewDecoder(Options{Workers: 1}).Decode(rf, delays)
	require.NoError(t, err)
	concurrent, err := NewDecoder(Options{Workers: 5}).Decode(rf, delays)
	require.NoError(t, err)

	assert.InDeltaSlice(t, sequential.Data, concurrent.Data, 1e-12)
}

func TestSampleNormalizationShiftsByHalfDelay(t *testing.T) {
	const samples, bin, delay = 64, 3, 4.0
	rf := createTestCube(samples, 1, 1, func(t, _, _ int) float64 {
		return math.Cos(2 * math.Pi * bin * float64(t) / samples)
	})

	d := NewDecoder(Options{Normalization: NormalizeBySamples})
	fsa, err := d.Decode(rf, mat.NewDense(1, 1, []float64{delay}))
	require.NoError(t, err)

	// exp(+i*pi*f*d/n) advances the trace by d/2 samples
	for ti := 0; ti < samples; ti++ {
		want := math.Cos(2 * math.Pi * bin * (float64(ti) + delay/2) / samples)
		assert.InDelta(t, want, fsa.At(ti, 0, 0), 1e-9)
	}
}

func TestPhaseMatrix(t *testing.T) {
	delays := mat.NewDense(2, 2, []float64{
		0, 1,
		2, -1,
	})

	// 8 samples -> 5 retained bins
	h := NewDecoder(Options{}).PhaseMatrix(2, 8, delays)
	require.Len(t, h, 4)
	assert.InDelta(t, 0.0, cmplx.Abs(h[0]-1), 1e-12)
	assert.InDelta(t, 0.0, cmplx.Abs(h[2]-cmplx.Exp(complex(0, math.Pi*2*2/5))), 1e-12)
	assert.InDelta(t, 0.0, cmplx.Abs(h[3]-cmplx.Exp(complex(0, -math.Pi*2/5))), 1e-12)

	h = NewDecoder(Options{Normalization: NormalizeBySamples, Convention: Conjugate}).PhaseMatrix(2, 8, delays)
	assert.InDelta(t, 0.0, cmplx.Abs(h[1]-cmplx.Exp(complex(0, -math.Pi*2/8))), 1e-12)

	for _, v := range h {
		assert.InDelta(t, 1.0, cmplx.Abs(v), 1e-12)
	}
}

func TestParseOptions(t *testing.T) {
	c, err := ParsePhaseConvention("Conjugate")
	require.NoError(t, err)
	assert.Equal(t, Conjugate, c)
	assert.Equal(t, "conjugate", c.String())

	c, err = ParsePhaseConvention("")
	require.NoError(t, err)
	assert.Equal(t, Direct, c)

	_, err = ParsePhaseConvention("inverse")
	assert.Error(t, err)

	n, err := ParsePhaseNormalization("samples")
	require.NoError(t, err)
	assert.Equal(t, NormalizeBySamples, n)
	assert.Equal(t, "samples", n.String())

	_, err = ParsePhaseNormalization("nyquist")
	assert.Error(t, err)
}
