// Package dataset loads and stores focused-transmit acquisitions.
//
// A dataset is a directory holding a YAML manifest (dataset.yaml) and two raw
// arrays of little-endian float64 values in row-major order: the RF cube
// (time x receive channel x transmit event) and the transmit delay matrix
// (transmit event x transmit element, in samples).
package dataset

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"fsabeam/internal/models"
)

// ManifestName is the file name of the manifest inside a dataset directory
const ManifestName = "dataset.yaml"

// ErrInvalidDataset is returned when a manifest or its arrays are inconsistent
var ErrInvalidDataset = errors.New("invalid dataset")

// Acquisition holds the parameters the recording was made with
type Acquisition struct {
	// SamplingFrequency is the RF sampling rate in Hz
	SamplingFrequency float64 `yaml:"samplingFrequency"`

	// StartTime is the time of the first sample, expressed in samples
	StartTime float64 `yaml:"startTime"`

	// SpeedOfSound is the assumed propagation speed in m/s
	SpeedOfSound float64 `yaml:"speedOfSound"`

	// RxPositions lists the (x, y, z) position of every receive element in meters
	RxPositions [][]float64 `yaml:"rxPositions"`
}

// ArrayRef points to a raw float64 array stored next to the manifest
type ArrayRef struct {
	File  string `yaml:"file"`
	Shape []int  `yaml:"shape"`
}

// Manifest is the on-disk description of a dataset
type Manifest struct {
	Acquisition    Acquisition `yaml:"acquisition"`
	RF             ArrayRef    `yaml:"rf"`
	TransmitDelays ArrayRef    `yaml:"transmitDelays"`
}

// Dataset is a loaded acquisition
type Dataset struct {
	// RF is the recorded cube (time x receive channel x transmit event)
	RF *models.Cube

	// TransmitDelays is the (transmit event x transmit element) focal delay matrix in samples
	TransmitDelays *mat.Dense

	// Acquisition holds the recording parameters
	Acquisition Acquisition
}

// Positions converts the receive element coordinates into models.Position values
func (a Acquisition) Positions() []models.Position {
	positions := make([]models.Position, len(a.RxPositions))
	for i, p := range a.RxPositions {
		if len(p) == 3 {
			positions[i] = models.Position{X: p[0], Y: p[1], Z: p[2]}
		}
	}
	return positions
}

// RangeAxis returns the propagation distance of each of n samples:
// r[i] = (StartTime + i) / SamplingFrequency * SpeedOfSound
func (a Acquisition) RangeAxis(n int) []float64 {
	r := make([]float64, n)
	for i := range r {
		r[i] = (a.StartTime + float64(i)) / a.SamplingFrequency * a.SpeedOfSound
	}
	return r
}

// Validate reports every problem with the acquisition parameters
func (a Acquisition) Validate() error {
	var errs error
	if !(a.SamplingFrequency > 0) {
		errs = multierr.Append(errs, fmt.Errorf("samplingFrequency must be positive, got %g", a.SamplingFrequency))
	}
	if !(a.SpeedOfSound > 0) {
		errs = multierr.Append(errs, fmt.Errorf("speedOfSound must be positive, got %g", a.SpeedOfSound))
	}
	if len(a.RxPositions) == 0 {
		errs = multierr.Append(errs, errors.New("rxPositions is empty"))
	}
	for i, p := range a.RxPositions {
		if len(p) != 3 {
			errs = multierr.Append(errs, fmt.Errorf("rxPositions[%d] has %d coordinates, want 3", i, len(p)))
		}
	}
	return errs
}

// Validate checks that the dataset parts agree with each other
func (d *Dataset) Validate() error {
	errs := d.Acquisition.Validate()
	if d.RF == nil {
		errs = multierr.Append(errs, errors.New("rf cube is missing"))
	} else if err := d.RF.Validate(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if d.TransmitDelays == nil || d.TransmitDelays.IsEmpty() {
		errs = multierr.Append(errs, errors.New("transmit delay matrix is missing"))
	}
	if d.RF != nil && d.TransmitDelays != nil && !d.TransmitDelays.IsEmpty() {
		events, _ := d.TransmitDelays.Dims()
		if events != d.RF.Columns {
			errs = multierr.Append(errs, fmt.Errorf("rf cube has %d transmit events, delay matrix has %d",
				d.RF.Columns, events))
		}
	}
	if d.RF != nil && len(d.Acquisition.RxPositions) != d.RF.Channels {
		errs = multierr.Append(errs, fmt.Errorf("rf cube has %d receive channels, acquisition lists %d positions",
			d.RF.Channels, len(d.Acquisition.RxPositions)))
	}
	if errs != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDataset, errs)
	}
	return nil
}

// Subsample keeps every stride-th transmit event, starting with the first.
// A stride of 1 returns the dataset unchanged.
func (d *Dataset) Subsample(stride int) (*Dataset, error) {
	if stride < 1 {
		return nil, fmt.Errorf("transmit stride must be at least 1, got %d", stride)
	}
	if stride == 1 {
		return d, nil
	}

	events, elements := d.TransmitDelays.Dims()
	kept := (events + stride - 1) / stride

	rf := models.NewCube(d.RF.Samples, d.RF.Channels, kept)
	delays := mat.NewDense(kept, elements, nil)
	for i := 0; i < kept; i++ {
		e := i * stride
		for ch := 0; ch < d.RF.Channels; ch++ {
			copy(rf.Trace(ch, i), d.RF.Trace(ch, e))
		}
		delays.SetRow(i, d.TransmitDelays.RawRowView(e))
	}

	return &Dataset{RF: rf, TransmitDelays: delays, Acquisition: d.Acquisition}, nil
}

// Load reads the dataset stored in dir
func Load(dir string) (*Dataset, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("error parsing manifest: %w", err)
	}

	var errs error
	if len(m.RF.Shape) != 3 {
		errs = multierr.Append(errs, fmt.Errorf("rf shape must have 3 dimensions, got %v", m.RF.Shape))
	}
	if len(m.TransmitDelays.Shape) != 2 {
		errs = multierr.Append(errs, fmt.Errorf("transmitDelays shape must have 2 dimensions, got %v", m.TransmitDelays.Shape))
	}
	if errs != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDataset, errs)
	}

	rfValues, err := readArray(filepath.Join(dir, m.RF.File), m.RF.Shape)
	if err != nil {
		return nil, fmt.Errorf("error reading rf array: %w", err)
	}
	delayValues, err := readArray(filepath.Join(dir, m.TransmitDelays.File), m.TransmitDelays.Shape)
	if err != nil {
		return nil, fmt.Errorf("error reading transmit delays: %w", err)
	}

	ds := &Dataset{
		RF:             cubeFromRowMajor(rfValues, m.RF.Shape[0], m.RF.Shape[1], m.RF.Shape[2]),
		TransmitDelays: mat.NewDense(m.TransmitDelays.Shape[0], m.TransmitDelays.Shape[1], delayValues),
		Acquisition:    m.Acquisition,
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Save writes the dataset to dir, creating it if needed
func Save(dir string, ds *Dataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating dataset directory: %w", err)
	}

	events, elements := ds.TransmitDelays.Dims()
	m := Manifest{
		Acquisition:    ds.Acquisition,
		RF:             ArrayRef{File: "rf.bin", Shape: []int{ds.RF.Samples, ds.RF.Channels, ds.RF.Columns}},
		TransmitDelays: ArrayRef{File: "transmit_delays.bin", Shape: []int{events, elements}},
	}

	if err := writeArray(filepath.Join(dir, m.RF.File), cubeToRowMajor(ds.RF)); err != nil {
		return fmt.Errorf("error writing rf array: %w", err)
	}
	delays := make([]float64, 0, events*elements)
	for i := 0; i < events; i++ {
		delays = append(delays, ds.TransmitDelays.RawRowView(i)...)
	}
	if err := writeArray(filepath.Join(dir, m.TransmitDelays.File), delays); err != nil {
		return fmt.Errorf("error writing transmit delays: %w", err)
	}

	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("error marshaling manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestName), data, 0644); err != nil {
		return fmt.Errorf("error writing manifest: %w", err)
	}
	return nil
}

// readArray reads exactly prod(shape) little-endian float64 values
func readArray(path string, shape []int) ([]float64, error) {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("%w: shape %v has a non-positive dimension", ErrInvalidDataset, shape)
		}
		n *= d
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	values := make([]float64, n)
	if err := binary.Read(bufio.NewReader(f), binary.LittleEndian, values); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s holds fewer than the %d values of shape %v",
				ErrInvalidDataset, filepath.Base(path), n, shape)
		}
		return nil, err
	}
	return values, nil
}

func writeArray(path string, values []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, values); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// cubeFromRowMajor reorders a C-ordered (time, channel, column) array into a Cube
func cubeFromRowMajor(values []float64, samples, channels, columns int) *models.Cube {
	c := models.NewCube(samples, channels, columns)
	for t := 0; t < samples; t++ {
		for ch := 0; ch < channels; ch++ {
			row := values[(t*channels+ch)*columns : (t*channels+ch+1)*columns]
			for col, v := range row {
				c.Set(t, ch, col, v)
			}
		}
	}
	return c
}

func cubeToRowMajor(c *models.Cube) []float64 {
	values := make([]float64, len(c.Data))
	for t := 0; t < c.Samples; t++ {
		for ch := 0; ch < c.Channels; ch++ {
			for col := 0; col < c.Columns; col++ {
				values[(t*c.Channels+ch)*c.Columns+col] = c.At(t, ch, col)
			}
		}
	}
	return values
}
