package visualization

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Viewer renders a beamformed image as a log-compressed B-mode picture.
// Rows of the image are axial samples, columns are lateral positions.
type Viewer struct {
	// image holds the (axial x lateral) envelope or RF image
	image *mat.Dense

	// x and z are the lateral and axial pixel coordinates in meters
	x []float64
	z []float64

	// dynamicRange is the displayed range in dB below the peak
	dynamicRange float64
}

// NewViewer creates a viewer for img sampled on the given grid
func NewViewer(img *mat.Dense, x, z []float64, dynamicRange float64) (*Viewer, error) {
	rows, cols := img.Dims()
	if rows != len(z) || cols != len(x) {
		return nil, fmt.Errorf("image is %dx%d but grid is %dx%d", rows, cols, len(z), len(x))
	}
	if !(dynamicRange > 0) {
		return nil, fmt.Errorf("dynamic range must be positive, got %g", dynamicRange)
	}
	return &Viewer{image: img, x: x, z: z, dynamicRange: dynamicRange}, nil
}

// LogCompressed returns 20*log10(|v|/max|v|) for every pixel, clipped to
// [-dynamicRange, 0]. An all-zero image maps to -dynamicRange everywhere.
func (v *Viewer) LogCompressed() *mat.Dense {
	rows, cols := v.image.Dims()
	out := mat.NewDense(rows, cols, nil)

	peak := 0.0
	for i := 0; i < rows; i++ {
		for _, val := range v.image.RawRowView(i) {
			peak = math.Max(peak, math.Abs(val))
		}
	}

	out.Apply(func(i, j int, val float64) float64 {
		if peak == 0 || val == 0 {
			return -v.dynamicRange
		}
		db := 20 * math.Log10(math.Abs(val)/peak)
		return math.Max(db, -v.dynamicRange)
	}, v.image)
	return out
}

// Render maps the log-compressed image onto 8-bit grey levels:
// -dynamicRange is black and 0 dB is white.
func (v *Viewer) Render() *image.Gray {
	db := v.LogCompressed()
	rows, cols := db.Dims()

	img := image.NewGray(image.Rect(0, 0, cols, rows))
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			level := (db.At(y, x) + v.dynamicRange) / v.dynamicRange * 255
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(math.Max(0, math.Min(255, level))))})
		}
	}
	return img
}

// ExtractProfile returns a line through the log-compressed image: a lateral
// profile at axial index position for axis "x", or an axial profile at
// lateral index position for axis "z".
func (v *Viewer) ExtractProfile(axis string, position int) ([]float64, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	db := v.LogCompressed()
	switch axis {
	case "x", "X":
		if position >= len(v.z) {
			return nil, fmt.Errorf("position %d exceeds axial size %d", position, len(v.z))
		}
		return mat.Row(nil, position, db), nil

	case "z", "Z":
		if position >= len(v.x) {
			return nil, fmt.Errorf("position %d exceeds lateral size %d", position, len(v.x))
		}
		return mat.Col(nil, position, db), nil

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x or z)", axis)
	}
}

// Save renders the image and writes it as PNG, or JPEG when filename ends
// in .jpg or .jpeg
func (v *Viewer) Save(filename string) error {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	img := v.Render()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		return png.Encode(file, img)
	}
}

// SaveArray writes m in gonum's binary matrix format
func SaveArray(m *mat.Dense, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(file)
	if _, err := m.MarshalBinaryTo(w); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode array: %w", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// LoadArray reads a matrix written by SaveArray
func LoadArray(filename string) (*mat.Dense, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var m mat.Dense
	if _, err := m.UnmarshalBinaryFrom(bufio.NewReader(file)); err != nil {
		return nil, fmt.Errorf("failed to decode array: %w", err)
	}
	return &m, nil
}
