package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CoryVegan/pssetools/caselib"
	"github.com/CoryVegan/pssetools/powerflow"
)

// triangleCaseJSON is a deliberately small end-to-end network: a swing
// source feeding two stations over a triangle, every element rated 100 MVA,
// so single outages reroute rather than island.
const triangleCaseJSON = `{
  "name": "triangle",
  "base_mva": 100,
  "buses": [
    {"number": 1, "name": "SOURCE", "base_kv": 230, "type": 3, "voltage_pu": 1.0},
    {"number": 2, "name": "MILL", "base_kv": 230, "type": 1, "voltage_pu": 1.0},
    {"number": 3, "name": "PLANT", "base_kv": 230, "type": 1, "voltage_pu": 1.0}
  ],
  "loads": [
    {"bus": 2, "id": "1", "mw": 5, "mvar": 2},
    {"bus": 3, "id": "1", "mw": 5, "mvar": 2}
  ],
  "machines": [
    {"bus": 1, "id": "1", "mw": 10, "mvar": 4}
  ],
  "branches": [
    {"from": 1, "to": 2, "id": "1", "r": 0.01, "x": 0.05, "b": 0.02, "rate_mva": 100},
    {"from": 2, "to": 3, "id": "1", "r": 0.02, "x": 0.08, "b": 0.01, "rate_mva": 100}
  ],
  "trafos": [
    {"from": 1, "to": 3, "id": "T1", "r": 0.005, "x": 0.04, "tap": 1.0, "rate_mva": 100}
  ]
}`

func writeCaseFile(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "case.json")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write case: %v", err)
	}
	return path
}

func TestBusesHeadroomEndToEnd(t *testing.T) {
	cfg := HeadroomConfig{
		CaseFile:         writeCaseFile(t, triangleCaseJSON),
		UpperLoadLimitMW: 200,
		UpperGenLimitMW:  50,
	}
	stats := NewRunStats()
	rows, err := BusesHeadroom(context.Background(), cfg, WithStats(stats))
	if err != nil {
		t.Fatalf("BusesHeadroom: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	for i, want := range []int{1, 2, 3} {
		if rows[i].Bus.Number != want {
			t.Errorf("rows[%d].Bus = %d, want %d", i, rows[i].Bus.Number, want)
		}
	}

	// Extra load at the source bus is served locally by the swing machine,
	// so the whole bound fits with no limiting factor.
	src := rows[0]
	if src.ActualLoadMVA != 0 || src.ActualGenMVA != complex(10, 4) {
		t.Errorf("source actuals = %v / %v", src.ActualLoadMVA, src.ActualGenMVA)
	}
	if src.LoadAvailMVA != powerAtFactor(200, 0.9) || src.LoadLimitingFactor != nil {
		t.Errorf("source load headroom = %v (%v), want the full bound", src.LoadAvailMVA, src.LoadLimitingFactor)
	}
	if src.GenAvailMVA != powerAtFactor(50, 0.9) || src.GenLimitingFactor != nil {
		t.Errorf("source gen headroom = %v (%v), want the full bound", src.GenAvailMVA, src.GenLimitingFactor)
	}

	// The remote stations are limited by the 100 MVA elements well before
	// the 200 MW bound.
	for _, row := range rows[1:] {
		if row.ActualLoadMVA != complex(5, 2) {
			t.Errorf("bus %d ActualLoadMVA = %v, want (5+2i)", row.Bus.Number, row.ActualLoadMVA)
		}
		mw := real(row.LoadAvailMVA)
		if mw <= 0 || mw >= 200 {
			t.Errorf("bus %d load headroom = %v MW, want inside (0, 200)", row.Bus.Number, mw)
		}
		if row.LoadLimitingFactor == nil {
			t.Errorf("bus %d has no limiting factor despite a binding limit", row.Bus.Number)
		}
		if row.ActualGenMVA != 0 || row.GenAvailMVA != 0 {
			t.Errorf("bus %d generation side = %v/%v, want zero", row.Bus.Number, row.ActualGenMVA, row.GenAvailMVA)
		}
	}

	if stats.BusesAnalysed != 3 {
		t.Errorf("BusesAnalysed = %d, want 3", stats.BusesAnalysed)
	}
	if stats.PowerFlows == 0 || stats.Probes == 0 {
		t.Errorf("stats not collected: %+v", stats)
	}
	if stats.Duration <= 0 {
		t.Error("run duration not recorded")
	}
}

func TestBusesHeadroomRejectsViolatingBaseCase(t *testing.T) {
	tight := strings.ReplaceAll(triangleCaseJSON, `"rate_mva": 100`, `"rate_mva": 2`)
	cfg := HeadroomConfig{
		CaseFile:         writeCaseFile(t, tight),
		UpperLoadLimitMW: 200,
		UpperGenLimitMW:  50,
	}
	_, err := BusesHeadroom(context.Background(), cfg)
	if !errors.Is(err, ErrBaseCaseViolations) {
		t.Fatalf("BusesHeadroom error = %v, want ErrBaseCaseViolations", err)
	}
	if !strings.Contains(err.Error(), "BRANCH_LOADING") {
		t.Errorf("error %q does not name the violations", err)
	}
}

// convergedFor builds a structurally complete clean solution for n, so a
// scripted solver passes classification.
func convergedFor(n powerflow.Network, m powerflow.Method) *powerflow.Solution {
	v := make([]float64, len(n.Buses()))
	for i := range v {
		v[i] = 1.0
	}
	return &powerflow.Solution{
		Converged:        true,
		Method:           m,
		Iterations:       3,
		BusVoltagePU:     v,
		BusAngleRad:      make([]float64, len(v)),
		BranchLoadingPct: make([]float64, len(n.Branches())),
		TrafoLoadingPct:  make([]float64, len(n.Trafos())),
		SwingPowerMVA:    make([]complex128, len(v)),
	}
}

func TestBusesHeadroomFallsBackToFullNewton(t *testing.T) {
	fake := SolverFunc(func(ctx context.Context, n powerflow.Network, m powerflow.Method, opts powerflow.Options) (*powerflow.Solution, error) {
		if m == powerflow.MethodFastDecoupled {
			return &powerflow.Solution{Converged: false, Method: m, Iterations: opts.MaxIterations, MaxMismatchMVA: 7.5}, nil
		}
		return convergedFor(n, m), nil
	})

	cfg := HeadroomConfig{
		CaseFile:         caselib.DemoCaseName,
		UpperLoadLimitMW: 100,
		UpperGenLimitMW:  80,
	}
	stats := NewRunStats()
	rows, err := BusesHeadroom(context.Background(), cfg, WithSolver(fake), WithStats(stats))
	if err != nil {
		t.Fatalf("BusesHeadroom: %v", err)
	}
	if len(rows) != 9 {
		t.Fatalf("got %d rows, want all 9 demo buses", len(rows))
	}

	// The method probe fails once, everything after runs on full Newton.
	if stats.PowerFlowsByMethod["fast-decoupled"] != 1 {
		t.Errorf("fast-decoupled solves = %d, want exactly the method probe", stats.PowerFlowsByMethod["fast-decoupled"])
	}
	if stats.NotConverged != 1 {
		t.Errorf("NotConverged = %d, want 1", stats.NotConverged)
	}
	if got := stats.PowerFlowsByMethod["full-newton"]; got != stats.PowerFlows-1 {
		t.Errorf("full-newton solves = %d of %d", got, stats.PowerFlows)
	}

	// With every probe clean: method probe + base gate + 11 screening
	// solves + 11 bound probes at 12 solves each (intact plus the full
	// 11-element scenario).
	if stats.PowerFlows != 145 {
		t.Errorf("PowerFlows = %d, want 145", stats.PowerFlows)
	}
	if stats.Probes != 11 || stats.FeasibleProbes != 11 {
		t.Errorf("probes = %d (%d feasible), want 11 feasible bound probes", stats.Probes, stats.FeasibleProbes)
	}

	wantLoad := powerAtFactor(100, 0.9)
	wantGen := powerAtFactor(80, 0.9)
	for _, row := range rows {
		if row.LoadAvailMVA != wantLoad || row.LoadLimitingFactor != nil {
			t.Errorf("bus %d load headroom = %v (%v), want the full bound", row.Bus.Number, row.LoadAvailMVA, row.LoadLimitingFactor)
		}
		generates := row.Bus.Number == 101 || row.Bus.Number == 3001
		if generates && row.GenAvailMVA != wantGen {
			t.Errorf("bus %d gen headroom = %v, want the full bound", row.Bus.Number, row.GenAvailMVA)
		}
		if !generates && row.GenAvailMVA != 0 {
			t.Errorf("bus %d gen headroom = %v, want zero without a machine", row.Bus.Number, row.GenAvailMVA)
		}
	}
}

func TestBusesHeadroomReusesProvidedScenario(t *testing.T) {
	fake := SolverFunc(func(ctx context.Context, n powerflow.Network, m powerflow.Method, opts powerflow.Options) (*powerflow.Solution, error) {
		return convergedFor(n, m), nil
	})
	cfg := HeadroomConfig{
		CaseFile:            caselib.DemoCaseName,
		UpperLoadLimitMW:    100,
		UpperGenLimitMW:     80,
		ContingencyScenario: &ContingencyScenario{},
	}
	stats := NewRunStats()
	if _, err := BusesHeadroom(context.Background(), cfg, WithSolver(fake), WithStats(stats)); err != nil {
		t.Fatalf("BusesHeadroom: %v", err)
	}
	// Method probe + base gate + 11 bound probes against an empty scenario:
	// no screening solves at all.
	if stats.PowerFlows != 13 {
		t.Errorf("PowerFlows = %d, want 13 with screening skipped", stats.PowerFlows)
	}
}

func TestBusesHeadroomInvalidConfig(t *testing.T) {
	cfg := HeadroomConfig{CaseFile: caselib.DemoCaseName, UpperLoadLimitMW: -10, UpperGenLimitMW: 80}
	if _, err := BusesHeadroom(context.Background(), cfg); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("BusesHeadroom error = %v, want ErrConfigInvalid", err)
	}
}

func TestBusesHeadroomMissingCase(t *testing.T) {
	t.Setenv(caselib.EnvCaseDir, t.TempDir())
	cfg := HeadroomConfig{CaseFile: "no-such-case.json", UpperLoadLimitMW: 100, UpperGenLimitMW: 80}
	if _, err := BusesHeadroom(context.Background(), cfg); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("BusesHeadroom error = %v, want os.ErrNotExist", err)
	}
}
