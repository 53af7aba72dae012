// Package metrics exposes enforcement counters to Prometheus.
//
// A Collector owns its registry. Pages record through ForPage so the
// observer-binding gauge stays per page; the coordinator records dispatches
// to closed tabs through DispatchUnreachable.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/zapelm/rule"
)

// Config selects the metric namespace.
type Config struct {
	Namespace string `yaml:"namespace"`
}

// Collector holds every zapelm metric.
type Collector struct {
	registry *prometheus.Registry

	rulesApplied     prometheus.Counter
	removed          *prometheus.CounterVec
	restored         prometheus.Counter
	restoreFailures  prometheus.Counter
	invalidSelectors prometheus.Counter
	bindings         *prometheus.GaugeVec
	pickerRules      *prometheus.CounterVec
	unreachable      prometheus.Counter
}

// New creates a collector registered on registry. A nil registry gets a
// fresh one.
func New(cfg Config, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "zapelm"
	}

	c := &Collector{
		registry: registry,
		rulesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "rules_applied_total",
			Help:      "Enabled rules enforced, summed over every apply pass.",
		}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "elements_removed_total",
			Help:      "Elements removed from mirrored documents.",
		}, []string{"mode"}),
		restored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "elements_restored_total",
			Help:      "Removed elements put back on teardown.",
		}),
		restoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "restore_failures_total",
			Help:      "Removal records dropped because the element could not be reinserted.",
		}),
		invalidSelectors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "invalid_selectors_total",
			Help:      "Rules skipped because their selector does not compile.",
		}),
		bindings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "observer_bindings",
			Help:      "Live insert watches for observe rules.",
		}, []string{"page"}),
		pickerRules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "picker_rules_total",
			Help:      "Picker sessions by outcome.",
		}, []string{"outcome"}),
		unreachable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "dispatch_unreachable_total",
			Help:      "Messages to tabs without a registered page context.",
		}),
	}

	registry.MustRegister(
		c.rulesApplied,
		c.removed,
		c.restored,
		c.restoreFailures,
		c.invalidSelectors,
		c.bindings,
		c.pickerRules,
		c.unreachable,
	)
	return c
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// DispatchUnreachable counts a message dropped because its tab is gone.
func (c *Collector) DispatchUnreachable() { c.unreachable.Inc() }

// ForPage returns the recorder for one page context.
func (c *Collector) ForPage(pageID string) *PageMetrics {
	return &PageMetrics{c: c, page: pageID}
}

// ForgetPage drops the per-page series of a closed page.
func (c *Collector) ForgetPage(pageID string) {
	c.bindings.DeleteLabelValues(pageID)
}

// PageMetrics records the enforcement and picker metrics of one page.
type PageMetrics struct {
	c    *Collector
	page string
}

func (m *PageMetrics) RulesApplied(active int) { m.c.rulesApplied.Add(float64(active)) }

func (m *PageMetrics) Removed(mode rule.ApplyMode, n int) {
	if n <= 0 {
		return
	}
	m.c.removed.WithLabelValues(mode.String()).Add(float64(n))
}

func (m *PageMetrics) Restored(n int) {
	if n <= 0 {
		return
	}
	m.c.restored.Add(float64(n))
}

func (m *PageMetrics) RestoreFailed()   { m.c.restoreFailures.Inc() }
func (m *PageMetrics) InvalidSelector() { m.c.invalidSelectors.Inc() }

func (m *PageMetrics) Bindings(n int) {
	m.c.bindings.WithLabelValues(m.page).Set(float64(n))
}

// PickerOutcome counts a finished picker session: saved, failed, error or
// cancelled.
func (m *PageMetrics) PickerOutcome(outcome string) {
	m.c.pickerRules.WithLabelValues(outcome).Inc()
}
