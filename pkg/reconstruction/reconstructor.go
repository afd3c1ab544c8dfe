// Package reconstruction runs the complete imaging pipeline: it decodes a
// focused-transmit acquisition into its synthetic-aperture equivalent,
// beamforms it onto a pixel grid and turns the result into a B-mode image.
package reconstruction

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"fsabeam/internal/metrics"
	"fsabeam/internal/models"
	"fsabeam/pkg/beamform"
	"fsabeam/pkg/dataset"
	"fsabeam/pkg/decoder"
	"fsabeam/pkg/postprocess"
	"fsabeam/pkg/visualization"
)

// Params holds the reconstruction parameters. These control the
// input/output and processing configuration.
type Params struct {
	// DatasetDir is the directory holding the dataset manifest and arrays.
	// Ignored when Dataset is set.
	DatasetDir string

	// Dataset is an already loaded acquisition
	Dataset *dataset.Dataset

	// ImageFile is where the rendered B-mode image is written (PNG or JPEG).
	// Empty skips rendering to disk.
	ImageFile string

	// ArrayFile receives the final image in gonum's binary matrix format.
	// Empty skips it.
	ArrayFile string

	// NumWorkers bounds the goroutines used by decoding and beamforming
	NumWorkers int

	Convention    decoder.PhaseConvention
	Normalization decoder.PhaseNormalization

	// TransmitStride keeps every n-th transmit event; 0 is treated as 1
	TransmitStride int

	// Grid is the pixel grid in meters
	Grid models.Grid

	// HighPassCutoff in Hz; 0 disables the high-pass filter
	HighPassCutoff float64
	HighPassOrder  int

	// Envelope enables Hilbert envelope detection
	Envelope bool

	// DynamicRange of the rendered image in dB
	DynamicRange float64

	// SaveIntermediaryResults determines whether to save intermediary processing results.
	// When enabled, every post-processing stage is written as an array and an image.
	SaveIntermediaryResults bool

	// IntermediaryDir is the directory where intermediary results will be saved.
	// Only used when SaveIntermediaryResults is true.
	IntermediaryDir string

	// Logger receives progress output; nil disables logging
	Logger *zap.Logger

	// Metrics collects counters and stage timings; nil disables collection
	Metrics *metrics.Metrics
}

// Reconstructor handles the imaging process. The steps are:
//  1. Loading the dataset
//  2. Reducing the transmit events
//  3. Decoding focused transmits into a full synthetic aperture
//  4. Delay-and-sum beamforming
//  5. High-pass filtering and envelope detection
//  6. Rendering and saving
//  7. Calculating image metrics
type Reconstructor struct {
	params *Params
	logger *zap.Logger

	// ds is the dataset after transmit reduction
	ds *dataset.Dataset

	// fsa is the decoded synthetic-aperture cube
	fsa *models.Cube

	// image is the final (axial x lateral) image
	image *mat.Dense

	metrics ImageMetrics
	stages  []StageTiming
}

// NewReconstructor creates a new reconstructor instance with the provided parameters.
func NewReconstructor(params *Params) *Reconstructor {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconstructor{
		params: params,
		logger: logger.Named("reconstruction"),
	}
}

// Process runs the complete reconstruction pipeline
func (r *Reconstructor) Process() error {
	if r.params.SaveIntermediaryResults {
		if err := os.MkdirAll(r.params.IntermediaryDir, 0755); err != nil {
			return fmt.Errorf("failed to create intermediary directory: %w", err)
		}
	}
	r.stages = r.stages[:0]

	steps := []struct {
		name   string
		banner string
		run    func() error
	}{
		{"load", "Loading dataset", r.loadDataset},
		{"subsample", "Reducing transmit events", r.subsample},
		{"decode", "Decoding focused transmits", r.decode},
		{"beamform", "Beamforming", r.beamform},
		{"postprocess", "Filtering and envelope detection", r.postProcess},
		{"save", "Saving results", r.save},
		{"metrics", "Calculating image metrics", r.calculateMetrics},
	}

	for i, step := range steps {
		r.logger.Info(fmt.Sprintf("Step %d: %s...", i+1, step.banner))
		start := time.Now()
		if err := step.run(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		r.recordStage(step.name, time.Since(start))
	}

	r.metrics.Stages = append([]StageTiming(nil), r.stages...)
	return nil
}

func (r *Reconstructor) recordStage(name string, d time.Duration) {
	r.stages = append(r.stages, StageTiming{Name: name, Duration: d})
	if r.params.Metrics != nil {
		r.params.Metrics.ObserveStage(name, d)
	}
	r.logger.Debug("stage finished", zap.String("stage", name), zap.Duration("elapsed", d))
}

func (r *Reconstructor) loadDataset() error {
	ds := r.params.Dataset
	if ds == nil {
		var err error
		ds, err = dataset.Load(r.params.DatasetDir)
		if err != nil {
			return err
		}
	} else if err := ds.Validate(); err != nil {
		return err
	}

	r.ds = ds
	events, elements := ds.TransmitDelays.Dims()
	r.logger.Info("Loaded dataset",
		zap.Int("samples", ds.RF.Samples),
		zap.Int("channels", ds.RF.Channels),
		zap.Int("events", events),
		zap.Int("elements", elements),
		zap.Float64("samplingFrequency", ds.Acquisition.SamplingFrequency),
	)
	return nil
}

func (r *Reconstructor) subsample() error {
	stride := r.params.TransmitStride
	if stride == 0 {
		stride = 1
	}
	ds, err := r.ds.Subsample(stride)
	if err != nil {
		return err
	}
	if stride > 1 {
		r.logger.Info("Kept transmit events", zap.Int("stride", stride), zap.Int("events", ds.RF.Columns))
	}
	r.ds = ds
	return nil
}

func (r *Reconstructor) decode() error {
	dec := decoder.NewDecoder(decoder.Options{
		Workers:       r.params.NumWorkers,
		Convention:    r.params.Convention,
		Normalization: r.params.Normalization,
		Logger:        r.logger,
	})

	fsa, err := dec.Decode(r.ds.RF, r.ds.TransmitDelays)
	if err != nil {
		return err
	}
	r.fsa = fsa

	if r.params.Metrics != nil {
		r.params.Metrics.AddDecodedBins(r.ds.RF.Samples/2 + 1)
	}
	return nil
}

func (r *Reconstructor) beamform() error {
	grid := r.params.Grid
	if grid.Len() == 0 {
		return fmt.Errorf("empty imaging grid")
	}

	bf := beamform.NewBeamformer(beamform.Options{
		Workers: r.params.NumWorkers,
		Logger:  r.logger,
	})

	rangeAxis := r.ds.Acquisition.RangeAxis(r.fsa.Samples)
	positions := r.ds.Acquisition.Positions()
	img, err := bf.Beamform(r.fsa, rangeAxis, positions, grid.X, grid.Z)
	if err != nil {
		return err
	}
	r.image = img

	if r.params.Metrics != nil {
		r.params.Metrics.AddBeamformedPairs(len(positions) * len(positions))
		r.params.Metrics.SetPixels(grid.Len())
	}
	return r.saveIntermediaryResult("01_beamformed", img)
}

func (r *Reconstructor) postProcess() error {
	if r.params.HighPassCutoff > 0 {
		filtered, err := postprocess.HighPass(r.image, r.params.HighPassOrder, r.params.HighPassCutoff, r.ds.Acquisition.SamplingFrequency)
		if err != nil {
			return err
		}
		r.image = filtered
		if err := r.saveIntermediaryResult("02_highpass", filtered); err != nil {
			return err
		}
	}

	if r.params.Envelope {
		r.image = postprocess.Envelope(r.image)
		if err := r.saveIntermediaryResult("03_envelope", r.image); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconstructor) save() error {
	if r.params.ImageFile != "" {
		viewer, err := r.viewer()
		if err != nil {
			return err
		}
		if err := viewer.Save(r.params.ImageFile); err != nil {
			return fmt.Errorf("failed to save image: %w", err)
		}
		r.logger.Info("Saved B-mode image", zap.String("file", r.params.ImageFile))
	}

	if r.params.ArrayFile != "" {
		if dir := filepath.Dir(r.params.ArrayFile); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		if err := visualization.SaveArray(r.image, r.params.ArrayFile); err != nil {
			return fmt.Errorf("failed to save image array: %w", err)
		}
		r.logger.Info("Saved image array", zap.String("file", r.params.ArrayFile))
	}
	return nil
}

func (r *Reconstructor) viewer() (*visualization.Viewer, error) {
	return visualization.NewViewer(r.image, r.params.Grid.X, r.params.Grid.Z, r.params.DynamicRange)
}

// saveIntermediaryResult writes img under stage as a raw array and a
// rendered image. It does nothing when intermediary results are disabled.
func (r *Reconstructor) saveIntermediaryResult(stage string, img *mat.Dense) error {
	if !r.params.SaveIntermediaryResults {
		return nil
	}

	stageDir := filepath.Join(r.params.IntermediaryDir, stage)
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return fmt.Errorf("failed to create intermediary directory: %w", err)
	}

	if err := visualization.SaveArray(img, filepath.Join(stageDir, "image.bin")); err != nil {
		return fmt.Errorf("failed to save %s array: %w", stage, err)
	}

	viewer, err := visualization.NewViewer(img, r.params.Grid.X, r.params.Grid.Z, r.params.DynamicRange)
	if err != nil {
		return err
	}
	if err := viewer.Save(filepath.Join(stageDir, "image.png")); err != nil {
		return fmt.Errorf("failed to save %s image: %w", stage, err)
	}
	return nil
}

// GetImage returns the final image, or nil before Process has succeeded
func (r *Reconstructor) GetImage() *mat.Dense {
	return r.image
}

// GetSyntheticAperture returns the decoded cube
func (r *Reconstructor) GetSyntheticAperture() *models.Cube {
	return r.fsa
}

// GetMetrics returns the image metrics of the last run
func (r *Reconstructor) GetMetrics() ImageMetrics {
	return r.metrics
}
