package core

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/CoryVegan/pssetools/model"
)

func sampleRows() []BusHeadroom {
	return []BusHeadroom{
		{
			Bus:           model.Bus{Number: 151, Name: "MID", BaseKV: 230},
			ActualLoadMVA: complex(50, 20),
			LoadAvailMVA:  complex(28.125, 13.62),
			LoadLimitingFactor: &LimitingFactor{
				Violations: BranchLoading,
				Element:    &LimitingElement{Kind: ElementBranch, FromBus: 151, ToBus: 152, ID: "1"},
			},
		},
		{
			Bus:           model.Bus{Number: 152, Name: "END", BaseKV: 230},
			ActualLoadMVA: complex(30, 10),
			ActualGenMVA:  complex(20, 5),
			LoadAvailMVA:  complex(100, 48.43),
			GenAvailMVA:   complex(9.375, 0),
			GenLimitingFactor: &LimitingFactor{
				Violations: SwingBusLoading,
			},
		},
	}
}

func TestWriteHeadroomReport(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHeadroomReport(&buf, sampleRows()); err != nil {
		t.Fatalf("WriteHeadroomReport: %v", err)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("got %d rows, want 2", len(decoded))
	}

	first := decoded[0]
	if first["bus"] != float64(151) || first["name"] != "MID" {
		t.Errorf("row identity = %v/%v", first["bus"], first["name"])
	}
	load, ok := first["actual_load_mva"].(map[string]any)
	if !ok || load["mw"] != float64(50) || load["mvar"] != float64(20) {
		t.Errorf("actual_load_mva = %v, want mw 50 / mvar 20", first["actual_load_mva"])
	}

	lf, ok := first["load_limiting_factor"].(map[string]any)
	if !ok {
		t.Fatalf("load_limiting_factor = %v", first["load_limiting_factor"])
	}
	if lf["violations"] != "BRANCH_LOADING" {
		t.Errorf("violations = %v", lf["violations"])
	}
	if lf["element"] != "branch 151-152 (1)" {
		t.Errorf("element = %v", lf["element"])
	}

	// An unbounded side renders as an explicit null, not an absent key.
	second := decoded[1]
	if v, present := second["load_limiting_factor"]; !present || v != nil {
		t.Errorf("feasible bound limiting factor = %v (present %t), want null", v, present)
	}
	genLF, ok := second["gen_limiting_factor"].(map[string]any)
	if !ok {
		t.Fatalf("gen_limiting_factor = %v", second["gen_limiting_factor"])
	}
	if v, present := genLF["element"]; !present || v != nil {
		t.Errorf("intact-network factor element = %v (present %t), want null", v, present)
	}
}

func TestWriteStatsReport(t *testing.T) {
	stats := NewRunStats()
	stats.recordPowerFlow("fast-decoupled", true)
	stats.recordPowerFlow("fast-decoupled", false)
	stats.recordPowerFlow("full-newton", true)
	stats.recordProbe(true)
	stats.recordProbe(false)
	stats.recordViolations(BranchLoading | BusUndervoltage)
	stats.BusesAnalysed = 9

	var buf bytes.Buffer
	if err := WriteStatsReport(&buf, stats); err != nil {
		t.Fatalf("WriteStatsReport: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("stats report is not valid JSON: %v", err)
	}
	if decoded["power_flows"] != float64(3) || decoded["not_converged"] != float64(1) {
		t.Errorf("power flow counters = %v/%v", decoded["power_flows"], decoded["not_converged"])
	}
	byMethod, ok := decoded["power_flows_by_method"].(map[string]any)
	if !ok || byMethod["fast-decoupled"] != float64(2) || byMethod["full-newton"] != float64(1) {
		t.Errorf("power_flows_by_method = %v", decoded["power_flows_by_method"])
	}
	if decoded["probes"] != float64(2) || decoded["feasible_probes"] != float64(1) {
		t.Errorf("probe counters = %v/%v", decoded["probes"], decoded["feasible_probes"])
	}
	counts, ok := decoded["violation_counts"].(map[string]any)
	if !ok || counts["BRANCH_LOADING"] != float64(1) || counts["BUS_UNDERVOLTAGE"] != float64(1) {
		t.Errorf("violation_counts = %v", decoded["violation_counts"])
	}
	if decoded["buses_analysed"] != float64(9) {
		t.Errorf("buses_analysed = %v", decoded["buses_analysed"])
	}
}

func TestWriteStatsReportNilStats(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteStatsReport(&buf, nil); err != nil {
		t.Fatalf("WriteStatsReport(nil): %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("empty stats report is not valid JSON: %v", err)
	}
	if decoded["power_flows"] != float64(0) {
		t.Errorf("power_flows = %v, want 0", decoded["power_flows"])
	}
}

func TestWriteReports(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "reports")
	if err := WriteReports(dir, sampleRows(), NewRunStats()); err != nil {
		t.Fatalf("WriteReports: %v", err)
	}

	for _, name := range []string{HeadroomReportName, StatsReportName} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !json.Valid(data) {
			t.Errorf("%s is not valid JSON", name)
		}
	}
}
