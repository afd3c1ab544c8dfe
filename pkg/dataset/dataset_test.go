package dataset

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"fsabeam/internal/models"
)

// createTestDataset builds a small consistent dataset with distinct sample values
func createTestDataset(samples, channels, events, elements int) *Dataset {
	rf := models.NewCube(samples, channels, events)
	for t := 0; t < samples; t++ {
		for ch := 0; ch < channels; ch++ {
			for e := 0; e < events; e++ {
				rf.Set(t, ch, e, float64(t*100+ch*10+e))
			}
		}
	}

	delays := mat.NewDense(events, elements, nil)
	for e := 0; e < events; e++ {
		for k := 0; k < elements; k++ {
			delays.Set(e, k, float64(e)+0.5*float64(k))
		}
	}

	positions := make([][]float64, channels)
	for i := range positions {
		positions[i] = []float64{float64(i) * 3e-4, 0, 0}
	}

	return &Dataset{
		RF:             rf,
		TransmitDelays: delays,
		Acquisition: Acquisition{
			SamplingFrequency: 20e6,
			StartTime:         4,
			SpeedOfSound:      1540,
			RxPositions:       positions,
		},
	}
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	ds := createTestDataset(6, 3, 2, 3)
	require.NoError(t, Save(dir, ds))

	loaded, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, ds.RF.Shape(), loaded.RF.Shape())
	assert.Equal(t, ds.RF.Data, loaded.RF.Data)
	assert.True(t, mat.Equal(ds.TransmitDelays, loaded.TransmitDelays))
	assert.Equal(t, ds.Acquisition, loaded.Acquisition)
}

func TestLoadReadsRowMajorArrays(t *testing.T) {
	dir := t.TempDir()
	ds := createTestDataset(2, 2, 2, 2)
	require.NoError(t, Save(dir, ds))

	// The first values on disk vary along the last (transmit event) axis
	values, err := readArray(filepath.Join(dir, "rf.bin"), []int{2, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 10, 11, 100, 101, 110, 111}, values)
}

func TestLoadMissingManifest(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadTruncatedArray(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(dir, createTestDataset(4, 2, 2, 2)))
	require.NoError(t, os.Truncate(filepath.Join(dir, "rf.bin"), 8*5))

	_, err := Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDataset))
}

func TestLoadBadShapes(t *testing.T) {
	dir := t.TempDir()
	manifest := strings.Join([]string{
		"acquisition:",
		"  samplingFrequency: 1",
		"  speedOfSound: 1",
		"rf:",
		"  file: rf.bin",
		"  shape: [4, 2]",
		"transmitDelays:",
		"  file: d.bin",
		"  shape: [2]",
	}, "\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte(manifest), 0644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDataset))
	assert.Contains(t, err.Error(), "rf shape")
	assert.Contains(t, err.Error(), "transmitDelays shape")
}

func TestValidateAggregatesErrors(t *testing.T) {
	ds := createTestDataset(4, 2, 2, 2)
	ds.Acquisition.SamplingFrequency = 0
	ds.Acquisition.SpeedOfSound = -1
	ds.Acquisition.RxPositions = ds.Acquisition.RxPositions[:1]
	ds.TransmitDelays = mat.NewDense(3, 2, nil)

	err := ds.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDataset))
	assert.Len(t, multierr.Errors(ds.Acquisition.Validate()), 2)
	assert.Contains(t, err.Error(), "2 transmit events, delay matrix has 3")
	assert.Contains(t, err.Error(), "2 receive channels, acquisition lists 1")
}

func TestAcquisitionRangeAxis(t *testing.T) {
	a := Acquisition{SamplingFrequency: 40e6, StartTime: 10, SpeedOfSound: 1540}
	r := a.RangeAxis(3)
	require.Len(t, r, 3)
	for i, v := range r {
		assert.InDelta(t, (10+float64(i))/40e6*1540, v, 1e-15)
	}
}

func TestAcquisitionPositions(t *testing.T) {
	a := Acquisition{RxPositions: [][]float64{{1, 2, 3}, {4, 5, 6}}}
	assert.Equal(t, []models.Position{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}, a.Positions())
}

func TestSubsample(t *testing.T) {
	ds := createTestDataset(3, 2, 5, 4)

	same, err := ds.Subsample(1)
	require.NoError(t, err)
	assert.Same(t, ds, same)

	sub, err := ds.Subsample(2)
	require.NoError(t, err)
	require.Equal(t, 3, sub.RF.Columns)
	events, elements := sub.TransmitDelays.Dims()
	assert.Equal(t, 3, events)
	assert.Equal(t, 4, elements)

	for i, e := range []int{0, 2, 4} {
		assert.Equal(t, ds.RF.Trace(1, e), sub.RF.Trace(1, i))
		assert.Equal(t, ds.TransmitDelays.RawRowView(e), sub.TransmitDelays.RawRowView(i))
	}
	require.NoError(t, sub.Validate())

	_, err = ds.Subsample(0)
	assert.Error(t, err)
}

func TestSimulate(t *testing.T) {
	p := DefaultSimulation()
	p.Elements = 8
	p.Samples = 1024
	p.Workers = 2

	ds, err := Simulate(p)
	require.NoError(t, err)
	require.NoError(t, ds.Validate())
	assert.Equal(t, [3]int{1024, 8, 8}, ds.RF.Shape())

	// Walking focus: the element under the focus fires last, the farthest first
	delays := ds.TransmitDelays
	for e := 0; e < 8; e++ {
		row := delays.RowView(e)
		assert.InDelta(t, mat.Max(row), delays.At(e, e), 1e-12)
		assert.InDelta(t, 0.0, mat.Min(row), 1e-12)
		assert.True(t, mat.Max(row) > 0)
	}

	energy := 0.0
	for _, v := range ds.RF.Data {
		energy += v * v
	}
	assert.True(t, energy > 0 && !math.IsNaN(energy))
}

func TestSyntheticAperturePulsePlacement(t *testing.T) {
	p := DefaultSimulation()
	p.Elements = 1
	p.Targets = []models.Position{{Z: 10e-3}}

	fsa := p.SyntheticAperture()
	trace := fsa.Trace(0, 0)

	peak := 0
	for i, v := range trace {
		if v > trace[peak] {
			peak = i
		}
	}
	want := 2 * 10e-3 / p.SpeedOfSound * p.SamplingFrequency
	assert.InDelta(t, want, float64(peak), 1)
}

func TestSimulationValidate(t *testing.T) {
	p := DefaultSimulation()
	p.Targets = nil
	_, err := Simulate(p)
	assert.Error(t, err)
}
