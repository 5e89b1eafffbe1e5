package dts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("kdts.dts")

var (
	filesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kdts_dts_files_total",
		Help: "Devicetree files processed by mode (full, adopt)",
	}, []string{"mode"})

	reparseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kdts_dts_reparse_duration_seconds",
		Help:    "Duration of devicetree context reparses",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	nodesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kdts_dts_nodes",
		Help: "Number of nodes in the last reparsed devicetree context",
	})
)
