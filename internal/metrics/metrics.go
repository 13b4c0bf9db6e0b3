// Package metrics exposes decoder, loader and cache activity as Prometheus
// collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llehouerou/dcmview/internal/dicom"
	"github.com/llehouerou/dcmview/internal/framecache"
	"github.com/llehouerou/dcmview/internal/loader"
)

const namespace = "dcmview"

var (
	_ dicom.Observer      = (*Metrics)(nil)
	_ loader.Observer     = (*Metrics)(nil)
	_ framecache.Observer = (*Metrics)(nil)
)

// Metrics implements the observer interfaces of the pipeline packages.
type Metrics struct {
	decodeDuration *prometheus.HistogramVec
	decodeErrors   *prometheus.CounterVec
	framesLoaded   prometheus.Counter
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	cacheRejected  prometheus.Counter
	cacheFrames    prometheus.Gauge
	cacheBytes     prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_duration_seconds",
			Help:      "Time spent decoding frames, by backend. Batch decodes count once.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"backend"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Failed frame decodes, by backend.",
		}, []string{"backend"}),
		framesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loader_frames_total",
			Help:      "Frames published by the progressive loader.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Frame cache lookups that found the frame.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Frame cache lookups that missed.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Frames evicted from the cache.",
		}),
		cacheRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_rejected_total",
			Help:      "Frames not cached because they exceed the memory budget.",
		}),
		cacheFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_frames",
			Help:      "Frames currently cached.",
		}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_bytes",
			Help:      "Bytes held by cached frames.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.decodeDuration,
		m.decodeErrors,
		m.framesLoaded,
		m.cacheHits,
		m.cacheMisses,
		m.cacheEvictions,
		m.cacheRejected,
		m.cacheFrames,
		m.cacheBytes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveDecode records one decode.
func (m *Metrics) ObserveDecode(backend string, d time.Duration, err error) {
	if err != nil {
		m.decodeErrors.WithLabelValues(backend).Inc()
		return
	}
	m.decodeDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// FrameLoaded counts a published frame.
func (m *Metrics) FrameLoaded() { m.framesLoaded.Inc() }

// CacheHit counts a cache hit.
func (m *Metrics) CacheHit() { m.cacheHits.Inc() }

// CacheMiss counts a cache miss.
func (m *Metrics) CacheMiss() { m.cacheMisses.Inc() }

// CacheEvicted counts an eviction.
func (m *Metrics) CacheEvicted() { m.cacheEvictions.Inc() }

// CacheRejected counts a frame refused for its size.
func (m *Metrics) CacheRejected() { m.cacheRejected.Inc() }

// CacheSize sets the cache occupancy gauges.
func (m *Metrics) CacheSize(frames int, bytes int64) {
	m.cacheFrames.Set(float64(frames))
	m.cacheBytes.Set(float64(bytes))
}
