package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Report file names written by WriteReports.
const (
	HeadroomReportName = "headroom.json"
	StatsReportName    = "run_stats.json"
)

// JSON shapes for the report files. Complex powers are rendered as
// mw/mvar pairs so downstream tooling never has to parse Go's complex
// formatting.
type complexJSON struct {
	MW   float64 `json:"mw"`
	Mvar float64 `json:"mvar"`
}

func complexToJSON(v complex128) complexJSON {
	return complexJSON{MW: real(v), Mvar: imag(v)}
}

type limitingFactorJSON struct {
	Violations string  `json:"violations"`
	Element    *string `json:"element"`
}

func limitingFactorToJSON(lf *LimitingFactor) *limitingFactorJSON {
	if lf == nil {
		return nil
	}
	out := &limitingFactorJSON{Violations: lf.Violations.String()}
	if lf.Element != nil {
		s := lf.Element.String()
		out.Element = &s
	}
	return out
}

type busHeadroomJSON struct {
	Bus                int                 `json:"bus"`
	Name               string              `json:"name"`
	BaseKV             float64             `json:"base_kv"`
	ActualLoad         complexJSON         `json:"actual_load_mva"`
	ActualGen          complexJSON         `json:"actual_gen_mva"`
	LoadAvail          complexJSON         `json:"load_avail_mva"`
	LoadLimitingFactor *limitingFactorJSON `json:"load_limiting_factor"`
	GenAvail           complexJSON         `json:"gen_avail_mva"`
	GenLimitingFactor  *limitingFactorJSON `json:"gen_limiting_factor"`
}

type runStatsJSON struct {
	PowerFlows         int            `json:"power_flows"`
	PowerFlowsByMethod map[string]int `json:"power_flows_by_method"`
	NotConverged       int            `json:"not_converged"`
	Probes             int            `json:"probes"`
	FeasibleProbes     int            `json:"feasible_probes"`
	InfeasibleProbes   int            `json:"infeasible_probes"`
	ViolationCounts    map[string]int `json:"violation_counts"`
	LimitingElements   map[string]int `json:"limiting_elements"`
	BusesAnalysed      int            `json:"buses_analysed"`
	StartedAt          time.Time      `json:"started_at"`
	DurationSeconds    float64        `json:"duration_seconds"`
}

// WriteHeadroomReport writes the result rows as an indented JSON array.
func WriteHeadroomReport(w io.Writer, rows []BusHeadroom) error {
	out := make([]busHeadroomJSON, 0, len(rows))
	for _, r := range rows {
		out = append(out, busHeadroomJSON{
			Bus:                r.Bus.Number,
			Name:               r.Bus.Name,
			BaseKV:             r.Bus.BaseKV,
			ActualLoad:         complexToJSON(r.ActualLoadMVA),
			ActualGen:          complexToJSON(r.ActualGenMVA),
			LoadAvail:          complexToJSON(r.LoadAvailMVA),
			LoadLimitingFactor: limitingFactorToJSON(r.LoadLimitingFactor),
			GenAvail:           complexToJSON(r.GenAvailMVA),
			GenLimitingFactor:  limitingFactorToJSON(r.GenLimitingFactor),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// WriteStatsReport writes the run statistics as indented JSON.
func WriteStatsReport(w io.Writer, stats *RunStats) error {
	if stats == nil {
		stats = NewRunStats()
	}
	out := runStatsJSON{
		PowerFlows:         stats.PowerFlows,
		PowerFlowsByMethod: stats.PowerFlowsByMethod,
		NotConverged:       stats.NotConverged,
		Probes:             stats.Probes,
		FeasibleProbes:     stats.FeasibleProbes,
		InfeasibleProbes:   stats.InfeasibleProbes,
		ViolationCounts:    stats.ViolationCounts,
		LimitingElements:   stats.LimitingElements,
		BusesAnalysed:      stats.BusesAnalysed,
		StartedAt:          stats.StartedAt,
		DurationSeconds:    stats.Duration.Seconds(),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// WriteReports writes headroom.json and run_stats.json under dir, creating
// it if needed.
func WriteReports(dir string, rows []BusHeadroom, stats *RunStats) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := writeReportFile(filepath.Join(dir, HeadroomReportName), func(w io.Writer) error {
		return WriteHeadroomReport(w, rows)
	}); err != nil {
		return err
	}
	return writeReportFile(filepath.Join(dir, StatsReportName), func(w io.Writer) error {
		return WriteStatsReport(w, stats)
	})
}

func writeReportFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
