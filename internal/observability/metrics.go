package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EngineCollector bundles Prometheus metrics for the capacity engine and
// satisfies the engine's MetricsRecorder seam, so the core package can drive
// these series without depending on Prometheus.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	PowerFlows        *prometheus.CounterVec
	PowerFlowDuration *prometheus.HistogramVec
	Probes            *prometheus.CounterVec
	BisectionProbes   prometheus.Histogram
	ScenarioBranches  prometheus.Gauge
	ScenarioTrafos    prometheus.Gauge
}

// NewEngineCollector registers engine Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when
// nil.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	powerFlows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "capacity_power_flows_total",
		Help: "Total number of power-flow solves, labeled by method and convergence.",
	}, []string{"method", "converged"})
	powerFlows, err := registerCounterVec(reg, powerFlows, "capacity_power_flows_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "capacity_power_flow_duration_seconds",
		Help:    "Power-flow solve latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method"})
	durations, err = registerHistogramVec(reg, durations, "capacity_power_flow_duration_seconds")
	if err != nil {
		return nil, err
	}

	probes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "capacity_probes_total",
		Help: "Total number of feasibility probes, labeled by search kind and outcome.",
	}, []string{"kind", "outcome"})
	probes, err = registerCounterVec(reg, probes, "capacity_probes_total")
	if err != nil {
		return nil, err
	}

	bisection := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "capacity_bisection_probes",
		Help:    "Number of feasibility probes spent per bisection search.",
		Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
	})
	bisection, err = registerHistogram(reg, bisection, "capacity_bisection_probes")
	if err != nil {
		return nil, err
	}

	branches, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "capacity_scenario_branches",
		Help: "Number of non-critical branches in the frozen contingency scenario.",
	}), "capacity_scenario_branches")
	if err != nil {
		return nil, err
	}
	trafos, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "capacity_scenario_trafos",
		Help: "Number of non-critical transformers in the frozen contingency scenario.",
	}), "capacity_scenario_trafos")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:          gatherer,
		PowerFlows:        powerFlows,
		PowerFlowDuration: durations,
		Probes:            probes,
		BisectionProbes:   bisection,
		ScenarioBranches:  branches,
		ScenarioTrafos:    trafos,
	}, nil
}

// ObservePowerFlow records one solve attempt.
func (c *EngineCollector) ObservePowerFlow(method string, converged bool, d time.Duration) {
	if c == nil {
		return
	}
	if c.PowerFlows != nil {
		c.PowerFlows.WithLabelValues(method, strconv.FormatBool(converged)).Inc()
	}
	if c.PowerFlowDuration != nil {
		c.PowerFlowDuration.WithLabelValues(method).Observe(d.Seconds())
	}
}

// ObserveProbe records one feasibility probe outcome.
func (c *EngineCollector) ObserveProbe(kind string, feasible bool) {
	if c == nil || c.Probes == nil {
		return
	}
	outcome := "infeasible"
	if feasible {
		outcome = "feasible"
	}
	c.Probes.WithLabelValues(kind, outcome).Inc()
}

// ObserveBisection records how many probes one bisection search used.
func (c *EngineCollector) ObserveBisection(probes int) {
	if c == nil || c.BisectionProbes == nil {
		return
	}
	c.BisectionProbes.Observe(float64(probes))
}

// SetScenarioCounts updates the frozen-scenario size gauges.
func (c *EngineCollector) SetScenarioCounts(branches, trafos int) {
	if c == nil {
		return
	}
	if c.ScenarioBranches != nil {
		c.ScenarioBranches.Set(float64(branches))
	}
	if c.ScenarioTrafos != nil {
		c.ScenarioTrafos.Set(float64(trafos))
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EngineCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
