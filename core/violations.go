package core

import (
	"context"
	"math/cmplx"
	"strings"
	"time"

	"github.com/CoryVegan/pssetools/internal/logging"
	"github.com/CoryVegan/pssetools/powerflow"
)

// Violations is the set of operating-limit violations found in one solved
// state, as bitflags.
type Violations uint32

const (
	NotConverged Violations = 1 << iota
	BusOvervoltage
	BusUndervoltage
	BranchLoading
	TrafoLoading
	SwingBusLoading
)

// NoViolations is the empty violation set.
const NoViolations Violations = 0

var violationNames = []struct {
	flag Violations
	name string
}{
	{NotConverged, "NOT_CONVERGED"},
	{BusOvervoltage, "BUS_OVERVOLTAGE"},
	{BusUndervoltage, "BUS_UNDERVOLTAGE"},
	{BranchLoading, "BRANCH_LOADING"},
	{TrafoLoading, "TRAFO_LOADING"},
	{SwingBusLoading, "SWING_BUS_LOADING"},
}

// Has reports whether every flag in mask is set.
func (v Violations) Has(mask Violations) bool {
	return v&mask == mask && mask != 0
}

// Names returns the names of the set flags, nil for the empty set.
func (v Violations) Names() []string {
	var out []string
	for _, vn := range violationNames {
		if v&vn.flag != 0 {
			out = append(out, vn.name)
		}
	}
	return out
}

func (v Violations) String() string {
	names := v.Names()
	if len(names) == 0 {
		return "NO_VIOLATIONS"
	}
	return strings.Join(names, "|")
}

// ViolationsLimits holds the operating limits one solved state is checked
// against.
type ViolationsLimits struct {
	MaxVoltagePU        float64 `json:"max_voltage_pu"`
	MinVoltagePU        float64 `json:"min_voltage_pu"`
	MaxBranchLoadingPct float64 `json:"max_branch_loading_pct"`
	MaxTrafoLoadingPct  float64 `json:"max_trafo_loading_pct"`
	MaxSwingBusPowerMVA float64 `json:"max_swing_bus_power_mva"`
}

// NormalLimits returns the default limits for the intact network.
func NormalLimits() ViolationsLimits {
	return ViolationsLimits{
		MaxVoltagePU:        1.1,
		MinVoltagePU:        0.9,
		MaxBranchLoadingPct: 100,
		MaxTrafoLoadingPct:  100,
		MaxSwingBusPowerMVA: 1000,
	}
}

// ContingencyLimits returns the laxer default limits applied under a single
// element outage.
func ContingencyLimits() ViolationsLimits {
	return ViolationsLimits{
		MaxVoltagePU:        1.12,
		MinVoltagePU:        0.88,
		MaxBranchLoadingPct: 120,
		MaxTrafoLoadingPct:  120,
		MaxSwingBusPowerMVA: 1000,
	}
}

// ViolationChecker is the feasibility oracle: one power flow followed by
// classification of the solved state against limits. The engine depends on
// the interface so tests can substitute synthetic oracles.
type ViolationChecker interface {
	Check(ctx context.Context, limits ViolationsLimits) (Violations, error)
}

// Solver abstracts the power-flow implementation the engine drives.
type Solver interface {
	Solve(ctx context.Context, n powerflow.Network, m powerflow.Method, opts powerflow.Options) (*powerflow.Solution, error)
}

// SolverFunc adapts a function to Solver. powerflow.Solve satisfies it
// directly.
type SolverFunc func(ctx context.Context, n powerflow.Network, m powerflow.Method, opts powerflow.Options) (*powerflow.Solution, error)

func (f SolverFunc) Solve(ctx context.Context, n powerflow.Network, m powerflow.Method, opts powerflow.Options) (*powerflow.Solution, error) {
	return f(ctx, n, m, opts)
}

// CaseChecker is the real ViolationChecker: it solves the case with the
// configured method and classifies the applied solution. Non-convergence is
// reported as the NotConverged flag; errors are reserved for structural
// solver failures and context cancellation.
type CaseChecker struct {
	Case    *NetworkCase
	Solver  Solver
	Method  powerflow.Method
	Options powerflow.Options
	Stats   *RunStats
	Metrics MetricsRecorder
	Log     logging.Logger
}

func (cc *CaseChecker) Check(ctx context.Context, limits ViolationsLimits) (Violations, error) {
	log := cc.Log
	if log == nil {
		log = logging.Noop()
	}

	start := time.Now()
	sol, err := cc.Solver.Solve(ctx, cc.Case, cc.Method, cc.Options)
	elapsed := time.Since(start)
	if err != nil {
		cc.Stats.recordPowerFlow(cc.Method.String(), false)
		if cc.Metrics != nil {
			cc.Metrics.ObservePowerFlow(cc.Method.String(), false, elapsed)
		}
		return NoViolations, err
	}

	cc.Stats.recordPowerFlow(cc.Method.String(), sol.Converged)
	if cc.Metrics != nil {
		cc.Metrics.ObservePowerFlow(cc.Method.String(), sol.Converged, elapsed)
	}

	if !sol.Converged {
		log.Debug(ctx, "power flow did not converge",
			logging.String("method", cc.Method.String()),
			logging.Int("iterations", sol.Iterations),
			logging.Float("max_mismatch_mva", sol.MaxMismatchMVA),
		)
		cc.Stats.recordViolations(NotConverged)
		return NotConverged, nil
	}

	cc.Case.ApplySolution(sol)
	v := classifySolvedCase(ctx, cc.Case, limits, log)
	cc.Stats.recordViolations(v)
	return v, nil
}

// classifySolvedCase compares the applied solution state against limits,
// logging each offending element at debug level.
func classifySolvedCase(ctx context.Context, c *NetworkCase, limits ViolationsLimits, log logging.Logger) Violations {
	var v Violations

	for _, b := range c.Buses() {
		if b.VoltagePU > limits.MaxVoltagePU {
			v |= BusOvervoltage
			log.Debug(ctx, "bus overvoltage",
				logging.Int("bus", b.Number),
				logging.Float("voltage_pu", b.VoltagePU),
				logging.Float("limit_pu", limits.MaxVoltagePU),
			)
		}
		if b.VoltagePU < limits.MinVoltagePU {
			v |= BusUndervoltage
			log.Debug(ctx, "bus undervoltage",
				logging.Int("bus", b.Number),
				logging.Float("voltage_pu", b.VoltagePU),
				logging.Float("limit_pu", limits.MinVoltagePU),
			)
		}
	}

	for _, br := range c.Branches() {
		if br.InService && br.LoadingPct > limits.MaxBranchLoadingPct {
			v |= BranchLoading
			log.Debug(ctx, "branch overloaded",
				logging.Int("from_bus", br.FromBus),
				logging.Int("to_bus", br.ToBus),
				logging.String("id", br.ID),
				logging.Float("loading_pct", br.LoadingPct),
			)
		}
	}
	for _, tr := range c.Trafos() {
		if tr.InService && tr.LoadingPct > limits.MaxTrafoLoadingPct {
			v |= TrafoLoading
			log.Debug(ctx, "trafo overloaded",
				logging.Int("from_bus", tr.FromBus),
				logging.Int("to_bus", tr.ToBus),
				logging.String("id", tr.ID),
				logging.Float("loading_pct", tr.LoadingPct),
			)
		}
	}

	for _, sp := range c.SwingPowerMVA() {
		if cmplx.Abs(sp.MVA) > limits.MaxSwingBusPowerMVA {
			v |= SwingBusLoading
			log.Debug(ctx, "swing bus overloaded",
				logging.Int("bus", sp.Bus),
				logging.Float("power_mva", cmplx.Abs(sp.MVA)),
			)
		}
	}
	return v
}
