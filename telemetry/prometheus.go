package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"go.opentelemetry.io/otel"
)

// SetupPrometheus installs an OTEL MeterProvider backed by the
// Prometheus exporter as the process-wide global meter provider (so
// every NewClueMetrics() call records through it) and returns an
// http.Handler serving the scrape endpoint. Grounded on the dropped
// hand-rolled metrics text format in the Tributary-ai reference's
// handleMetrics: that router formats Prometheus lines by hand because it
// has no OTEL bridge available; this module already routes every metric
// through go.opentelemetry.io/otel/metric via ClueMetrics, so the
// idiomatic wiring is otel/exporters/prometheus +
// prometheus/client_golang's registry rather than reimplementing text
// exposition.
func SetupPrometheus() (http.Handler, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
