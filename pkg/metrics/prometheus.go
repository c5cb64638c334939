package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusHandler returns an HTTP handler for Prometheus metrics endpoint
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the metrics gathered by registry
func HandlerFor(registry prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
