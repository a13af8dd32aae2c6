// Package powerflow solves the AC power-flow problem for a transmission
// network: given scheduled injections it finds the bus voltages that balance
// the network, then derives element loadings from them. Two methods are
// provided, a fixed-slope fast-decoupled iteration and a full Newton-Raphson.
//
// The solver is deliberately compact: loads and machines are constant-power
// injections, every non-swing bus is treated as PQ, taps are fixed, and the
// matrices are dense. That is sufficient for capacity studies on cases up to
// a few hundred buses.
package powerflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/CoryVegan/pssetools/model"
)

var (
	// ErrNoSwingBus is returned when the case has no bus to balance against.
	ErrNoSwingBus = errors.New("case has no swing bus")
	// ErrUnknownBus is returned when an element references a bus number the
	// case does not contain.
	ErrUnknownBus = errors.New("element references unknown bus")
	// ErrZeroImpedance is returned for a series element with R = X = 0.
	ErrZeroImpedance = errors.New("element has zero series impedance")
	// ErrBadBaseMVA is returned when the system base is not positive.
	ErrBadBaseMVA = errors.New("base MVA must be positive")
)

// Network is what a solvable case must expose. Slices are snapshots in the
// case's deterministic order; Solution slices are parallel to them.
type Network interface {
	Buses() []model.Bus
	Loads() []model.Load
	Machines() []model.Machine
	Branches() []model.Branch
	Trafos() []model.Trafo
	BaseMVA() float64
}

// Method selects the solution algorithm.
type Method int

const (
	// MethodFastDecoupled is the fixed-slope decoupled iteration: the B'
	// and B'' matrices are factorized once per solve and reused. Fast, but
	// it can fail to converge on networks with low X/R ratios.
	MethodFastDecoupled Method = iota
	// MethodFullNewton is the full Newton-Raphson iteration with a fresh
	// Jacobian every step. Slower and robust.
	MethodFullNewton
)

func (m Method) String() string {
	switch m {
	case MethodFastDecoupled:
		return "fast-decoupled"
	case MethodFullNewton:
		return "full-newton"
	default:
		return "unknown"
	}
}

// Options is the solver configuration. Engines pass it through opaquely.
// AdjustTaps and AdjustSwitchedShunts are carried for solvers that support
// them; the bundled methods model fixed taps and no switched shunts.
type Options struct {
	MaxIterations        int     `json:"max_iterations"`
	ToleranceMVA         float64 `json:"tolerance_mva"`
	FlatStart            bool    `json:"flat_start"`
	AdjustTaps           bool    `json:"adjust_taps"`
	AdjustSwitchedShunts bool    `json:"adjust_switched_shunts"`
}

// DefaultOptions returns the solver defaults used when a caller does not
// provide its own.
func DefaultOptions() Options {
	return Options{
		MaxIterations:        30,
		ToleranceMVA:         0.1,
		AdjustTaps:           true,
		AdjustSwitchedShunts: true,
	}
}

func (o Options) normalized() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 30
	}
	if o.ToleranceMVA <= 0 {
		o.ToleranceMVA = 0.1
	}
	return o
}

// Solution is the outcome of one solve. The per-element slices are parallel
// to the Network collections that produced them; loadings are zero for
// out-of-service elements and SwingPowerMVA is zero at non-swing buses.
type Solution struct {
	Converged      bool
	Method         Method
	Iterations     int
	MaxMismatchMVA float64

	BusVoltagePU []float64
	BusAngleRad  []float64

	BranchLoadingPct []float64
	TrafoLoadingPct  []float64

	// SwingPowerMVA is the complex power each swing bus must generate,
	// local load included.
	SwingPowerMVA []complex128
}

// Solve runs one power flow over n with the selected method.
//
// Non-convergence is reported through Solution.Converged, not an error.
// Errors are reserved for structurally unusable cases and for context
// cancellation.
func Solve(ctx context.Context, n Network, m Method, opts Options) (*Solution, error) {
	opts = opts.normalized()

	g, err := buildGrid(n)
	if err != nil {
		return nil, err
	}

	switch m {
	case MethodFullNewton:
		return solveNewton(ctx, g, opts)
	case MethodFastDecoupled:
		return solveFastDecoupled(ctx, g, opts)
	default:
		return nil, fmt.Errorf("unsupported solve method %d", int(m))
	}
}
