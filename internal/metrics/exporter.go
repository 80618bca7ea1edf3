package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/statgrid/gridstore-exporter/internal/config"
	"github.com/statgrid/gridstore-exporter/internal/logging"
	"github.com/statgrid/gridstore-exporter/internal/runtime"
)

// Exporter assembles the exposition side: a dedicated Prometheus registry
// holding the runtime collector, the distribution accumulators, and
// optionally the standard Go and process collectors.
type Exporter struct {
	registry  *prometheus.Registry
	collector *RuntimeCollector
	acc       *Accumulators
}

// NewExporter builds the registry and registers everything. Accumulator
// declaration conflicts and duplicate registrations are returned, not
// swallowed.
func NewExporter(
	intro runtime.Introspector,
	store config.EnablementSource,
	cfg *config.Config,
	logger *logging.Logger,
) (*Exporter, error) {
	acc := NewAccumulators()
	collector, err := NewRuntimeCollector(intro, store, acc, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(collector); err != nil {
		return nil, err
	}
	for _, vec := range acc.Collectors() {
		if err := registry.Register(vec); err != nil {
			return nil, err
		}
	}

	if cfg.Metrics.GoCollector {
		if err := registry.Register(collectors.NewGoCollector()); err != nil {
			return nil, err
		}
		if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return nil, err
		}
	}

	return &Exporter{
		registry:  registry,
		collector: collector,
		acc:       acc,
	}, nil
}

// Registry returns the backing registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns the exposition HTTP handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Scrapes returns the number of completed scrape passes.
func (e *Exporter) Scrapes() uint64 {
	return e.collector.Scrapes()
}

// Close tears down the registry binding. The runtime collector holds no
// per-registry state, so this only unregisters; it exists as the
// collector's teardown hook for embedders that cycle registries.
func (e *Exporter) Close() {
	e.registry.Unregister(e.collector)
	for _, vec := range e.acc.Collectors() {
		e.registry.Unregister(vec)
	}
}
