package core

import "time"

// MetricsRecorder receives engine measurements. The observability package
// provides the Prometheus-backed implementation; every call site tolerates a
// nil recorder so the engine runs unobserved in tests.
type MetricsRecorder interface {
	ObservePowerFlow(method string, converged bool, d time.Duration)
	ObserveProbe(kind string, feasible bool)
	ObserveBisection(iterations int)
	SetScenarioCounts(branches, trafos int)
}

// RunStats aggregates counters over one analysis run. The engine is single
// threaded, so the struct is plain; it feeds the run report.
type RunStats struct {
	PowerFlows         int
	PowerFlowsByMethod map[string]int
	NotConverged       int

	Probes           int
	FeasibleProbes   int
	InfeasibleProbes int

	// ViolationCounts counts how often each violation flag was raised,
	// keyed by flag name.
	ViolationCounts map[string]int
	// LimitingElements counts how often each contingency element was the
	// limiting factor, keyed by element description.
	LimitingElements map[string]int

	BusesAnalysed int
	StartedAt     time.Time
	Duration      time.Duration
}

func NewRunStats() *RunStats {
	return &RunStats{
		PowerFlowsByMethod: make(map[string]int),
		ViolationCounts:    make(map[string]int),
		LimitingElements:   make(map[string]int),
	}
}

func (s *RunStats) recordPowerFlow(method string, converged bool) {
	if s == nil {
		return
	}
	if s.PowerFlowsByMethod == nil {
		s.PowerFlowsByMethod = make(map[string]int)
	}
	s.PowerFlows++
	s.PowerFlowsByMethod[method]++
	if !converged {
		s.NotConverged++
	}
}

func (s *RunStats) recordViolations(v Violations) {
	if s == nil {
		return
	}
	if s.ViolationCounts == nil {
		s.ViolationCounts = make(map[string]int)
	}
	for _, name := range v.Names() {
		s.ViolationCounts[name]++
	}
}

func (s *RunStats) recordProbe(feasible bool) {
	if s == nil {
		return
	}
	s.Probes++
	if feasible {
		s.FeasibleProbes++
	} else {
		s.InfeasibleProbes++
	}
}

func (s *RunStats) recordLimiting(lf LimitingFactor) {
	if s == nil || lf.Element == nil {
		return
	}
	if s.LimitingElements == nil {
		s.LimitingElements = make(map[string]int)
	}
	s.LimitingElements[lf.Element.String()]++
}
