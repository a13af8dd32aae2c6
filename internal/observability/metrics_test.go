package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestCollectorRecordsPowerFlows(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}

	collector.ObservePowerFlow("full-newton", true, 3*time.Millisecond)
	collector.ObservePowerFlow("full-newton", true, 5*time.Millisecond)
	collector.ObservePowerFlow("fast-decoupled", false, time.Millisecond)

	if got := testutil.ToFloat64(collector.PowerFlows.WithLabelValues("full-newton", "true")); got != 2 {
		t.Fatalf("capacity_power_flows_total{full-newton,true} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.PowerFlows.WithLabelValues("fast-decoupled", "false")); got != 1 {
		t.Fatalf("capacity_power_flows_total{fast-decoupled,false} = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "capacity_power_flow_duration_seconds", map[string]string{
		"method": "full-newton",
	}); count != 2 {
		t.Fatalf("capacity_power_flow_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestCollectorRecordsProbes(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}

	collector.ObserveProbe("load", true)
	collector.ObserveProbe("load", false)
	collector.ObserveProbe("load", false)
	collector.ObserveProbe("gen", true)
	collector.ObserveBisection(5)

	if got := testutil.ToFloat64(collector.Probes.WithLabelValues("load", "infeasible")); got != 2 {
		t.Fatalf("capacity_probes_total{load,infeasible} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Probes.WithLabelValues("gen", "feasible")); got != 1 {
		t.Fatalf("capacity_probes_total{gen,feasible} = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "capacity_bisection_probes", nil); count != 1 {
		t.Fatalf("capacity_bisection_probes sample_count = %d, want 1", count)
	}
}

func TestMetricsHandlerExposesScenarioGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}
	collector.SetScenarioCounts(7, 2)
	collector.ObservePowerFlow("full-newton", true, time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"capacity_power_flows_total",
		"capacity_power_flow_duration_seconds",
		"capacity_scenario_branches",
		"capacity_scenario_trafos",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
	if !strings.Contains(body, "capacity_scenario_branches 7") {
		t.Fatalf("/metrics output missing branch gauge value: %s", body)
	}
	if !strings.Contains(body, "capacity_scenario_trafos 2") {
		t.Fatalf("/metrics output missing trafo gauge value: %s", body)
	}
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector (first): %v", err)
	}
	second, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector (second): %v", err)
	}

	first.ObserveProbe("load", true)
	second.ObserveProbe("load", true)

	if got := testutil.ToFloat64(first.Probes.WithLabelValues("load", "feasible")); got != 2 {
		t.Fatalf("shared counter = %v, want 2", got)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
