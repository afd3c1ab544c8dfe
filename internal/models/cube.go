package models

import "fmt"

// Cube represents a 3D block of RF samples indexed as
// (time sample, receive channel, column).
//
// The column axis holds transmit events for acquired RF data and transmit
// elements for a decoded synthetic-aperture cube.
type Cube struct {
	// Data holds the samples with the time axis contiguous for every
	// (channel, column) trace: index = (column*Channels + channel)*Samples + t
	Data []float64

	// Samples is the length of the time axis
	Samples int

	// Channels is the number of receive channels
	Channels int

	// Columns is the number of transmit events or transmit elements
	Columns int
}

// NewCube allocates a zeroed cube with the given dimensions
func NewCube(samples, channels, columns int) *Cube {
	return &Cube{
		Data:     make([]float64, samples*channels*columns),
		Samples:  samples,
		Channels: channels,
		Columns:  columns,
	}
}

// Shape returns the cube dimensions in (time, channel, column) order
func (c *Cube) Shape() [3]int {
	return [3]int{c.Samples, c.Channels, c.Columns}
}

// At returns the sample at time t for the given channel and column
func (c *Cube) At(t, channel, column int) float64 {
	return c.Data[c.offset(channel, column)+t]
}

// Set stores v at time t for the given channel and column
func (c *Cube) Set(t, channel, column int, v float64) {
	c.Data[c.offset(channel, column)+t] = v
}

// Trace returns the time series for one (channel, column) pair.
// The returned slice aliases the cube data.
func (c *Cube) Trace(channel, column int) []float64 {
	off := c.offset(channel, column)
	return c.Data[off : off+c.Samples : off+c.Samples]
}

// Clone returns a deep copy of the cube
func (c *Cube) Clone() *Cube {
	out := NewCube(c.Samples, c.Channels, c.Columns)
	copy(out.Data, c.Data)
	return out
}

// Validate checks that the dimensions are positive and agree with the data length
func (c *Cube) Validate() error {
	if c.Samples <= 0 || c.Channels <= 0 || c.Columns <= 0 {
		return fmt.Errorf("cube dimensions must be positive, got %dx%dx%d",
			c.Samples, c.Channels, c.Columns)
	}
	if want := c.Samples * c.Channels * c.Columns; len(c.Data) != want {
		return fmt.Errorf("cube data length %d does not match shape %dx%dx%d",
			len(c.Data), c.Samples, c.Channels, c.Columns)
	}
	return nil
}

func (c *Cube) offset(channel, column int) int {
	return (column*c.Channels + channel) * c.Samples
}
