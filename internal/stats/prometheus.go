package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector adapts a Collector's realtime counters to a
// prometheus.Collector, backing the `GET /metrics` endpoint.
type PrometheusCollector struct {
	stats *Collector

	requests  *prometheus.Desc
	bytes     *prometheus.Desc
	responses *prometheus.Desc
}

// NewPrometheusCollector wraps stats for registration with a
// prometheus.Registry.
func NewPrometheusCollector(stats *Collector) *PrometheusCollector {
	return &PrometheusCollector{
		stats:     stats,
		requests:  prometheus.NewDesc("ppm_requests_total", "Total requests handled since process start.", nil, nil),
		bytes:     prometheus.NewDesc("ppm_bytes_total", "Total response bytes sent to clients since process start.", nil, nil),
		responses: prometheus.NewDesc("ppm_responses_total", "Total responses by status class since process start.", []string{"class"}, nil),
	}
}

func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.requests
	ch <- p.bytes
	ch <- p.responses
}

func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	c := p.stats.Realtime()
	ch <- prometheus.MustNewConstMetric(p.requests, prometheus.CounterValue, float64(c.Requests))
	ch <- prometheus.MustNewConstMetric(p.bytes, prometheus.CounterValue, float64(c.Bytes))
	ch <- prometheus.MustNewConstMetric(p.responses, prometheus.CounterValue, float64(c.Status2xx), "2xx")
	ch <- prometheus.MustNewConstMetric(p.responses, prometheus.CounterValue, float64(c.Status4xx), "4xx")
	ch <- prometheus.MustNewConstMetric(p.responses, prometheus.CounterValue, float64(c.Status5xx), "5xx")
}
