package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PairsSampledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framesampler_pairs_sampled_total",
		Help: "Total number of training pairs drawn, by outcome",
	}, []string{"outcome"})

	DrawDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "framesampler_draw_duration_seconds",
		Help:    "Duration of a single pair draw including sequence retries",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	InsufficientTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framesampler_insufficient_total",
		Help: "Total number of draws rejected for lack of qualifying frames",
	})

	RelaxedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framesampler_relaxed_total",
		Help: "Total number of draws that fell back to invisible frames",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framesampler_active_workers",
		Help: "Number of workers currently handling a sampling request",
	})
)
