package filter

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome of the selection of a product
type Outcome string

// Outcomes of the selection
const (
	OutcomeKept             Outcome = "kept"
	OutcomeReplaced         Outcome = "replaced"
	OutcomeSwathMismatch    Outcome = "swath_mismatch"
	OutcomeUnknownSensor    Outcome = "unknown_sensor"
	OutcomeNoReferencePhase Outcome = "no_reference_phase"
	OutcomeLowCoverage      Outcome = "low_coverage"
	OutcomeDuplicate        Outcome = "duplicate"
)

// Metrics of the selection
type Metrics struct {
	Products  *prometheus.CounterVec
	StackSize prometheus.Gauge
}

// NewMetrics registers the metrics of the selection against the registerer,
// defaulting to the global Prometheus registry when nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	products := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "insar_filter_products_total",
		Help: "Number of interferograms processed by the stack selector, labeled by outcome.",
	}, []string{"outcome"})
	if err := reg.Register(products); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("NewMetrics: %w", err)
		}
		if products, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
			return newMetricsFrom(reg, products)
		}
		return nil, fmt.Errorf("NewMetrics: insar_filter_products_total registered with another type")
	}
	return newMetricsFrom(reg, products)
}

func newMetricsFrom(reg prometheus.Registerer, products *prometheus.CounterVec) (*Metrics, error) {
	size := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "insar_filter_stack_size",
		Help: "Number of interferograms in the last filtered stack.",
	})
	if err := reg.Register(size); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("NewMetrics: %w", err)
		}
		existing, ok := are.ExistingCollector.(prometheus.Gauge)
		if !ok {
			return nil, fmt.Errorf("NewMetrics: insar_filter_stack_size registered with another type")
		}
		size = existing
	}
	return &Metrics{Products: products, StackSize: size}, nil
}

func (m *Metrics) count(o Outcome) {
	if m != nil {
		m.Products.WithLabelValues(string(o)).Inc()
	}
}

func (m *Metrics) setStackSize(n int) {
	if m != nil {
		m.StackSize.Set(float64(n))
	}
}
