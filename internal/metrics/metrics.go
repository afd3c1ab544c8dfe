// Package metrics collects pipeline counters and stage timings in a private
// Prometheus registry that can be dumped in the text exposition format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fsabeam"

// Metrics holds the collectors for one reconstruction run
type Metrics struct {
	registry *prometheus.Registry

	stageDuration   *prometheus.HistogramVec
	decodedBins     prometheus.Counter
	beamformedPairs prometheus.Counter
	pixels          prometheus.Gauge
}

// New registers the collectors in a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each reconstruction stage",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		decodedBins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decoded_frequency_bins_total",
			Help:      "Frequency bins passed through the focused beam decoder",
		}),
		beamformedPairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beamformed_pairs_total",
			Help:      "Transmit/receive element pairs summed by the beamformer",
		}),
		pixels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "image_pixels",
			Help:      "Pixels in the most recent reconstructed image",
		}),
	}
	m.registry.MustRegister(m.stageDuration, m.decodedBins, m.beamformedPairs, m.pixels)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records the duration of a named stage
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// AddDecodedBins counts decoded frequency bins
func (m *Metrics) AddDecodedBins(n int) {
	m.decodedBins.Add(float64(n))
}

// AddBeamformedPairs counts summed element pairs
func (m *Metrics) AddBeamformedPairs(n int) {
	m.beamformedPairs.Add(float64(n))
}

// SetPixels records the size of the output image
func (m *Metrics) SetPixels(n int) {
	m.pixels.Set(float64(n))
}

// WriteToTextfile writes every collected metric to filename
func (m *Metrics) WriteToTextfile(filename string) error {
	return prometheus.WriteToTextfile(filename, m.registry)
}
