package adminapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ppmgo/ppm/internal/stats"
)

// prometheusGatherer builds a dedicated registry, separate from the JWT-gated
// router, carrying the Statistics Collector plus the standard process/Go
// runtime collectors.
func prometheusGatherer(collector *stats.PrometheusCollector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}
