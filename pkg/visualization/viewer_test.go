package visualization

import (
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// createTestViewer builds a 3x4 image with a single bright pixel at (1, 2)
func createTestViewer(t *testing.T) *Viewer {
	img := mat.NewDense(3, 4, []float64{
		0.01, 0.01, 0.01, 0.01,
		0.1, 0.01, -10, 0.01,
		0, 1, 0.01, 0.01,
	})
	v, err := NewViewer(img, []float64{0, 1, 2, 3}, []float64{0, 1, 2}, 40)
	require.NoError(t, err)
	return v
}

func TestNewViewerValidatesGrid(t *testing.T) {
	img := mat.NewDense(3, 4, nil)
	_, err := NewViewer(img, []float64{0, 1, 2}, []float64{0, 1, 2}, 40)
	assert.Error(t, err)

	_, err = NewViewer(img, []float64{0, 1, 2, 3}, []float64{0, 1, 2}, 0)
	assert.Error(t, err)
}

func TestLogCompressed(t *testing.T) {
	db := createTestViewer(t).LogCompressed()

	// Peak magnitude is |-10|
	assert.InDelta(t, 0.0, db.At(1, 2), 1e-12)
	assert.InDelta(t, -20.0, db.At(2, 1), 1e-9)
	assert.InDelta(t, -40.0, db.At(1, 0), 1e-9)
	// Below the dynamic range and zero values clip
	assert.Equal(t, -40.0, db.At(0, 0))
	assert.Equal(t, -40.0, db.At(2, 0))
}

func TestLogCompressedAllZero(t *testing.T) {
	v, err := NewViewer(mat.NewDense(2, 2, nil), []float64{0, 1}, []float64{0, 1}, 50)
	require.NoError(t, err)
	db := v.LogCompressed()
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.Equal(t, -50.0, db.At(i, j))
		}
	}
}

func TestRender(t *testing.T) {
	img := createTestViewer(t).Render()
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 3, img.Bounds().Dy())
	assert.Equal(t, uint8(255), img.GrayAt(2, 1).Y)
	assert.Equal(t, uint8(128), img.GrayAt(1, 2).Y)
	assert.Equal(t, uint8(0), img.GrayAt(0, 0).Y)
}

func TestExtractProfile(t *testing.T) {
	v := createTestViewer(t)

	lateral, err := v.ExtractProfile("x", 1)
	require.NoError(t, err)
	require.Len(t, lateral, 4)
	assert.InDelta(t, 0.0, lateral[2], 1e-12)

	axial, err := v.ExtractProfile("z", 1)
	require.NoError(t, err)
	require.Len(t, axial, 3)
	assert.InDelta(t, -20.0, axial[2], 1e-9)

	_, err = v.ExtractProfile("x", 3)
	assert.Error(t, err)
	_, err = v.ExtractProfile("z", 4)
	assert.Error(t, err)
	_, err = v.ExtractProfile("y", 0)
	assert.Error(t, err)
	_, err = v.ExtractProfile("x", -1)
	assert.Error(t, err)
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	v := createTestViewer(t)

	pngPath := filepath.Join(dir, "out", "bmode.png")
	require.NoError(t, v.Save(pngPath))
	f, err := os.Open(pngPath)
	require.NoError(t, err)
	decoded, err := png.Decode(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, 4, decoded.Bounds().Dx())

	jpgPath := filepath.Join(dir, "bmode.jpg")
	require.NoError(t, v.Save(jpgPath))
	f, err = os.Open(jpgPath)
	require.NoError(t, err)
	_, err = jpeg.Decode(f)
	f.Close()
	require.NoError(t, err)
}

func TestSaveLoadArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, SaveArray(m, path))

	loaded, err := LoadArray(path)
	require.NoError(t, err)
	assert.True(t, mat.Equal(m, loaded))

	_, err = LoadArray(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}
