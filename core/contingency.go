package core

import (
	"context"
	"fmt"
	"slices"

	"github.com/CoryVegan/pssetools/internal/logging"
	"github.com/CoryVegan/pssetools/model"
)

// ElementKind identifies the kind of a contingency element.
type ElementKind int

const (
	ElementBranch ElementKind = iota
	ElementTrafo
)

func (k ElementKind) String() string {
	switch k {
	case ElementBranch:
		return "branch"
	case ElementTrafo:
		return "trafo"
	default:
		return "unknown"
	}
}

// LimitingElement identifies the contingency element whose outage limited a
// probe.
type LimitingElement struct {
	Kind    ElementKind
	FromBus int
	ToBus   int
	ID      string
}

func (e LimitingElement) String() string {
	return fmt.Sprintf("%s %d-%d (%s)", e.Kind, e.FromBus, e.ToBus, e.ID)
}

// LimitingFactor describes why a probe was infeasible: the violation set and
// the outage it appeared under. A nil Element means the intact network
// itself violated.
type LimitingFactor struct {
	Violations Violations
	Element    *LimitingElement
}

func (lf LimitingFactor) String() string {
	if lf.Element == nil {
		return lf.Violations.String()
	}
	return fmt.Sprintf("%s under outage of %s", lf.Violations, lf.Element)
}

// ContingencyScenario is the frozen set of non-critical elements whose solo
// outages are probed during feasibility checks, branches before trafos.
type ContingencyScenario struct {
	branches []model.Branch
	trafos   []model.Trafo
}

func (s *ContingencyScenario) Len() int {
	return len(s.branches) + len(s.trafos)
}

func (s *ContingencyScenario) Branches() []model.Branch {
	return slices.Clone(s.branches)
}

func (s *ContingencyScenario) Trafos() []model.Trafo {
	return slices.Clone(s.trafos)
}

// BuildContingencyScenario screens every in-service branch and trafo with a
// solo outage against the contingency limits. Elements whose removal leaves
// the base case clean are non-critical and join the scenario; critical
// elements and elements that cannot be disabled are excluded and logged.
// The case is reset to its baseline after the pass.
func BuildContingencyScenario(ctx context.Context, c *NetworkCase, checker ViolationChecker, log logging.Logger, metrics MetricsRecorder) (*ContingencyScenario, error) {
	if log == nil {
		log = logging.Noop()
	}
	s := &ContingencyScenario{}

	for _, br := range c.Branches() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !br.InService {
			continue
		}
		d := NewBranchDisabler(c, br)
		disabled, err := d.Begin()
		if err != nil || !disabled {
			log.Warn(ctx, "branch skipped during screening",
				logging.Int("from_bus", br.FromBus),
				logging.Int("to_bus", br.ToBus),
				logging.String("id", br.ID),
				logging.Err(err),
			)
			if endErr := d.End(); endErr != nil {
				return nil, endErr
			}
			continue
		}
		v, checkErr := checker.Check(ctx, ContingencyLimits())
		if endErr := d.End(); endErr != nil {
			return nil, endErr
		}
		if checkErr != nil {
			return nil, checkErr
		}
		if v == NoViolations {
			s.branches = append(s.branches, br)
			continue
		}
		log.Info(ctx, "critical branch excluded from contingency scenario",
			logging.Int("from_bus", br.FromBus),
			logging.Int("to_bus", br.ToBus),
			logging.String("id", br.ID),
			logging.String("violations", v.String()),
		)
	}

	for _, tr := range c.Trafos() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !tr.InService {
			continue
		}
		d := NewTrafoDisabler(c, tr)
		disabled, err := d.Begin()
		if err != nil || !disabled {
			log.Warn(ctx, "trafo skipped during screening",
				logging.Int("from_bus", tr.FromBus),
				logging.Int("to_bus", tr.ToBus),
				logging.String("id", tr.ID),
				logging.Err(err),
			)
			if endErr := d.End(); endErr != nil {
				return nil, endErr
			}
			continue
		}
		v, checkErr := checker.Check(ctx, ContingencyLimits())
		if endErr := d.End(); endErr != nil {
			return nil, endErr
		}
		if checkErr != nil {
			return nil, checkErr
		}
		if v == NoViolations {
			s.trafos = append(s.trafos, tr)
			continue
		}
		log.Info(ctx, "critical trafo excluded from contingency scenario",
			logging.Int("from_bus", tr.FromBus),
			logging.Int("to_bus", tr.ToBus),
			logging.String("id", tr.ID),
			logging.String("violations", v.String()),
		)
	}

	c.Reset()

	if metrics != nil {
		metrics.SetScenarioCounts(len(s.branches), len(s.trafos))
	}
	log.Info(ctx, "contingency scenario built",
		logging.Int("branches", len(s.branches)),
		logging.Int("trafos", len(s.trafos)),
	)
	return s, nil
}

// Check probes every scenario outage in order under the given limits,
// short-circuiting on the first violating element. An element whose disable
// does not take, because it is already out of service, is skipped: probing
// would measure the intact network and blame this element for whatever it
// finds.
func (s *ContingencyScenario) Check(ctx context.Context, c *NetworkCase, checker ViolationChecker, limits ViolationsLimits) (LimitingFactor, error) {
	for _, br := range s.branches {
		if err := ctx.Err(); err != nil {
			return LimitingFactor{}, err
		}
		d := NewBranchDisabler(c, br)
		disabled, err := d.Begin()
		if err != nil {
			return LimitingFactor{}, err
		}
		if !disabled {
			if endErr := d.End(); endErr != nil {
				return LimitingFactor{}, endErr
			}
			continue
		}
		v, checkErr := checker.Check(ctx, limits)
		if endErr := d.End(); endErr != nil {
			return LimitingFactor{}, endErr
		}
		if checkErr != nil {
			return LimitingFactor{}, checkErr
		}
		if v != NoViolations {
			return LimitingFactor{
				Violations: v,
				Element:    &LimitingElement{Kind: ElementBranch, FromBus: br.FromBus, ToBus: br.ToBus, ID: br.ID},
			}, nil
		}
	}

	for _, tr := range s.trafos {
		if err := ctx.Err(); err != nil {
			return LimitingFactor{}, err
		}
		d := NewTrafoDisabler(c, tr)
		disabled, err := d.Begin()
		if err != nil {
			return LimitingFactor{}, err
		}
		if !disabled {
			if endErr := d.End(); endErr != nil {
				return LimitingFactor{}, endErr
			}
			continue
		}
		v, checkErr := checker.Check(ctx, limits)
		if endErr := d.End(); endErr != nil {
			return LimitingFactor{}, endErr
		}
		if checkErr != nil {
			return LimitingFactor{}, checkErr
		}
		if v != NoViolations {
			return LimitingFactor{
				Violations: v,
				Element:    &LimitingElement{Kind: ElementTrafo, FromBus: tr.FromBus, ToBus: tr.ToBus, ID: tr.ID},
			}, nil
		}
	}

	return LimitingFactor{Violations: NoViolations}, nil
}
