// core/capacity.go
package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/CoryVegan/pssetools/internal/logging"
	"github.com/CoryVegan/pssetools/model"
	"github.com/CoryVegan/pssetools/powerflow"
	"github.com/CoryVegan/pssetools/progress"
)

// ErrBaseCaseViolations means the network violates the normal limits before
// any injection is applied. The run is aborted with no partial results:
// headroom on top of an already-broken base case is meaningless.
var ErrBaseCaseViolations = errors.New("base case violates normal limits")

// BusHeadroom is one result row: how much extra load and generation a bus
// can take before some limit is hit, alongside what it carries today. A nil
// limiting factor on a non-zero headroom means the upper bound itself was
// feasible.
type BusHeadroom struct {
	Bus           model.Bus
	ActualLoadMVA complex128
	ActualGenMVA  complex128

	LoadAvailMVA       complex128
	LoadLimitingFactor *LimitingFactor

	GenAvailMVA       complex128
	GenLimitingFactor *LimitingFactor
}

// powerSetter is the Set half of a temporary injection scope.
type powerSetter interface {
	Set(mva complex128) error
}

// CapacityAnalyser owns the wiring for one sweep: the case, the feasibility
// checker, the frozen contingency scenario and the aggregation cursors.
// BusesHeadroom builds one; tests construct it directly around a scripted
// checker.
type CapacityAnalyser struct {
	Case     *NetworkCase
	Checker  ViolationChecker
	Scenario *ContingencyScenario
	Loads    *LoadCursor
	Machines *MachineCursor
	Config   HeadroomConfig
	Stats    *RunStats
	Log      logging.Logger
	Metrics  MetricsRecorder
	Progress *progress.Tracker
}

// Run sweeps the selected buses in ascending order and returns one row per
// bus. The cursors make the sweep a single forward pass over the load and
// machine tables, which is why selection is sorted up front.
func (a *CapacityAnalyser) Run(ctx context.Context) ([]BusHeadroom, error) {
	if a.Log == nil {
		a.Log = logging.Noop()
	}
	buses, err := a.selectedBuses()
	if err != nil {
		return nil, err
	}
	a.Progress.SetTotal(len(buses))

	rows := make([]BusHeadroom, 0, len(buses))
	for _, bus := range buses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := a.AnalyseBus(ctx, bus)
		if err != nil {
			return nil, fmt.Errorf("bus %d: %w", bus.Number, err)
		}
		rows = append(rows, row)
		a.Progress.Advance(fmt.Sprintf("bus %d", bus.Number))
	}
	a.Progress.Finish()
	if a.Stats != nil {
		a.Stats.BusesAnalysed = len(rows)
	}
	return rows, nil
}

func (a *CapacityAnalyser) selectedBuses() ([]model.Bus, error) {
	if len(a.Config.SelectedBuses) == 0 {
		return a.Case.Buses(), nil
	}
	want := slices.Clone(a.Config.SelectedBuses)
	slices.Sort(want)
	want = slices.Compact(want)

	out := make([]model.Bus, 0, len(want))
	for _, n := range want {
		b, err := a.Case.Bus(n)
		if err != nil {
			return nil, fmt.Errorf("selected bus %d: %w", n, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// AnalyseBus computes one headroom row. The load search always runs; the
// generation search only runs when the bus actually generates and the load
// search found room, since either condition failing pins the answer at zero
// anyway.
func (a *CapacityAnalyser) AnalyseBus(ctx context.Context, bus model.Bus) (BusHeadroom, error) {
	ctx, span := startSpan(ctx, "Headroom/Bus", attribute.Int("bus", bus.Number))
	defer span.End()

	row := BusHeadroom{
		Bus:           bus,
		ActualLoadMVA: a.Loads.BusMVA(bus.Number),
		ActualGenMVA:  a.Machines.BusMVA(bus.Number),
	}

	load := NewTemporaryBusLoad(a.Case, bus.Number)
	if err := load.Begin(); err != nil {
		return row, err
	}
	avail, lf, err := a.bisect(ctx, load, powerAtFactor(a.Config.UpperLoadLimitMW, a.Config.LoadPowerFactor), "load")
	if endErr := load.End(); err == nil {
		err = endErr
	}
	if err != nil {
		return row, err
	}
	row.LoadAvailMVA = avail
	row.LoadLimitingFactor = lf
	a.Log.Debug(ctx, "load headroom",
		logging.Int("bus", bus.Number),
		logging.Float("mw", real(avail)),
	)

	if row.ActualGenMVA == 0 || row.LoadAvailMVA == 0 {
		return row, nil
	}

	gen := NewTemporaryBusMachine(a.Case, bus.Number)
	if err := gen.Begin(); err != nil {
		return row, err
	}
	avail, lf, err = a.bisect(ctx, gen, powerAtFactor(a.Config.UpperGenLimitMW, a.Config.GenPowerFactor), "gen")
	if endErr := gen.End(); err == nil {
		err = endErr
	}
	if err != nil {
		return row, err
	}
	row.GenAvailMVA = avail
	row.GenLimitingFactor = lf
	a.Log.Debug(ctx, "gen headroom",
		logging.Int("bus", bus.Number),
		logging.Float("mw", real(avail)),
	)
	return row, nil
}

// bisect searches the fixed power-factor ray up to bound. The bound itself
// is probed first: if it passes, the answer is the whole bound and no
// limiting factor applies. Otherwise the interval [0, bound] is halved at
// most MaxIterations-1 times, stopping once its active-power width drops
// under ToleranceMW. The width test runs before each halving, so an
// infeasible bound already narrower than the tolerance settles at zero after
// the single bound probe. The reported limiting factor is the one from the
// most recent infeasible probe, which is not necessarily the tightest bound
// seen.
func (a *CapacityAnalyser) bisect(ctx context.Context, inj powerSetter, bound complex128, kind string) (complex128, *LimitingFactor, error) {
	probes := 0
	defer func() {
		if a.Metrics != nil {
			a.Metrics.ObserveBisection(probes)
		}
	}()

	probe := func(mva complex128) (LimitingFactor, error) {
		probes++
		if err := inj.Set(mva); err != nil {
			return LimitingFactor{}, err
		}
		return a.probeFeasibility(ctx, kind)
	}

	lf, err := probe(bound)
	if err != nil {
		return 0, nil, err
	}
	if lf.Violations == NoViolations {
		return bound, nil, nil
	}

	last := lf
	lower, upper := complex(0, 0), bound
	for it := 1; it < a.Config.MaxIterations; it++ {
		if real(upper)-real(lower) < a.Config.ToleranceMW {
			break
		}
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		mid := (lower + upper) / 2
		lf, err := probe(mid)
		if err != nil {
			return 0, nil, err
		}
		if lf.Violations == NoViolations {
			lower = mid
		} else {
			upper = mid
			last = lf
		}
	}
	return lower, &last, nil
}

// probeFeasibility runs the two-stage check for whatever injection is
// currently applied: intact network against the normal limits first, then
// the contingency scenario against the contingency limits.
func (a *CapacityAnalyser) probeFeasibility(ctx context.Context, kind string) (LimitingFactor, error) {
	v, err := a.Checker.Check(ctx, a.Config.NormalLimits)
	if err != nil {
		return LimitingFactor{}, err
	}
	lf := LimitingFactor{Violations: v}
	if v == NoViolations && a.Scenario != nil {
		lf, err = a.Scenario.Check(ctx, a.Case, a.Checker, a.Config.ContingencyLimits)
		if err != nil {
			return LimitingFactor{}, err
		}
	}

	feasible := lf.Violations == NoViolations
	a.Stats.recordProbe(feasible)
	if !feasible {
		a.Stats.recordLimiting(lf)
	}
	if a.Metrics != nil {
		a.Metrics.ObserveProbe(kind, feasible)
	}
	return lf, nil
}

// powerAtFactor builds the complex probe power for an active-power bound
// along the fixed power-factor ray: Q = P tan(acos(pf)).
func powerAtFactor(mw, pf float64) complex128 {
	return complex(mw, mw*math.Tan(math.Acos(pf)))
}

// ---------- entry point ----------

type runOptions struct {
	log      logging.Logger
	metrics  MetricsRecorder
	progress *progress.Tracker
	solver   Solver
	stats    *RunStats
}

// RunOption customises a BusesHeadroom run.
type RunOption func(*runOptions)

// WithLogger attaches a logger; the default run is silent.
func WithLogger(l logging.Logger) RunOption {
	return func(o *runOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder for power-flow, probe and
// scenario measurements.
func WithMetrics(m MetricsRecorder) RunOption {
	return func(o *runOptions) {
		o.metrics = m
	}
}

// WithProgress attaches a progress tracker advanced once per analysed bus.
func WithProgress(t *progress.Tracker) RunOption {
	return func(o *runOptions) {
		o.progress = t
	}
}

// WithSolver replaces the bundled power-flow solver.
func WithSolver(s Solver) RunOption {
	return func(o *runOptions) {
		if s != nil {
			o.solver = s
		}
	}
}

// WithStats collects run statistics into the given sink.
func WithStats(s *RunStats) RunOption {
	return func(o *runOptions) {
		if s != nil {
			o.stats = s
		}
	}
}

func defaultRunOptions() runOptions {
	return runOptions{
		log:    logging.Noop(),
		solver: SolverFunc(powerflow.Solve),
		stats:  NewRunStats(),
	}
}

// BusesHeadroom opens the named case and computes per-bus load and
// generation headroom for the selected buses (all buses when the selection
// is empty), in ascending bus-number order.
//
// The run is sequential: one case, one solver, buses one at a time. Cancel
// via ctx to stop between probes.
func BusesHeadroom(ctx context.Context, cfg HeadroomConfig, opts ...RunOption) ([]BusHeadroom, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultRunOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c, err := OpenCase(cfg.CaseFile)
	if err != nil {
		return nil, err
	}
	log := o.log.With(logging.String("case", c.Name()))

	ctx, span := startSpan(ctx, "Headroom/Run",
		attribute.String("case", c.Name()),
		attribute.Int("selected_buses", len(cfg.SelectedBuses)),
	)
	defer span.End()

	start := time.Now()
	o.stats.StartedAt = start

	method, err := chooseMethod(ctx, c, o, cfg, log)
	if err != nil {
		return nil, err
	}
	checker := &CaseChecker{
		Case:    c,
		Solver:  o.solver,
		Method:  method,
		Options: cfg.SolverOptions,
		Stats:   o.stats,
		Metrics: o.metrics,
		Log:     log,
	}

	v, err := checker.Check(ctx, cfg.NormalLimits)
	if err != nil {
		return nil, err
	}
	if v != NoViolations {
		return nil, fmt.Errorf("%w: %s", ErrBaseCaseViolations, v)
	}

	scenario := cfg.ContingencyScenario
	if scenario == nil {
		sctx, sspan := startSpan(ctx, "Headroom/ContingencyScreening")
		scenario, err = BuildContingencyScenario(sctx, c, checker, log, o.metrics)
		sspan.End()
		if err != nil {
			return nil, err
		}
	}

	a := &CapacityAnalyser{
		Case:     c,
		Checker:  checker,
		Scenario: scenario,
		Loads:    NewLoadCursor(c),
		Machines: NewMachineCursor(c),
		Config:   cfg,
		Stats:    o.stats,
		Log:      log,
		Metrics:  o.metrics,
		Progress: o.progress,
	}
	rows, err := a.Run(ctx)
	o.stats.Duration = time.Since(start)
	if err != nil {
		return nil, err
	}

	log.Info(ctx, "capacity analysis finished",
		logging.Int("buses", len(rows)),
		logging.Int("power_flows", o.stats.PowerFlows),
		logging.String("method", method.String()),
	)
	return rows, nil
}

// chooseMethod solves the base case once with the fast-decoupled method and
// falls back to full Newton for the whole run when it does not converge.
// The fallback is recovery, not failure: it costs one extra solve and a
// warning.
func chooseMethod(ctx context.Context, c *NetworkCase, o runOptions, cfg HeadroomConfig, log logging.Logger) (powerflow.Method, error) {
	started := time.Now()
	sol, err := o.solver.Solve(ctx, c, powerflow.MethodFastDecoupled, cfg.SolverOptions)
	if err != nil {
		return 0, err
	}
	o.stats.recordPowerFlow(powerflow.MethodFastDecoupled.String(), sol.Converged)
	if o.metrics != nil {
		o.metrics.ObservePowerFlow(powerflow.MethodFastDecoupled.String(), sol.Converged, time.Since(started))
	}
	if sol.Converged {
		return powerflow.MethodFastDecoupled, nil
	}
	c.Reset()
	log.Warn(ctx, "fast-decoupled solve did not converge, using full Newton for this run")
	return powerflow.MethodFullNewton, nil
}
