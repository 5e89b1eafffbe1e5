package kconfig

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("kdts.kconfig")

var (
	reparseCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kdts_kconfig_files_total",
		Help: "Kconfig files processed by mode (full, incremental, reuse)",
	}, []string{"mode"})

	parseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kdts_kconfig_parse_duration_seconds",
		Help:    "Duration of Kconfig repository parses",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"mode"})

	configsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kdts_kconfig_symbols",
		Help: "Number of Kconfig symbols in the last parsed repository",
	})
)
