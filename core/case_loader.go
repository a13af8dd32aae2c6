package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/CoryVegan/pssetools/caselib"
	"github.com/CoryVegan/pssetools/model"
)

var (
	ErrCaseInvalid      = errors.New("invalid case")
	ErrDuplicateBus     = errors.New("duplicate bus number")
	ErrDuplicateElement = errors.New("duplicate element")
	ErrNoSwingBus       = errors.New("case has no swing bus")
)

// Wire shapes for the JSON case format. Status fields are pointers so an
// omitted "in_service" defaults to true, matching how case authors think.
type caseFile struct {
	Name     string        `json:"name"`
	BaseMVA  float64       `json:"base_mva"`
	Buses    []caseBus     `json:"buses"`
	Loads    []caseLoad    `json:"loads"`
	Machines []caseMachine `json:"machines"`
	Branches []caseBranch  `json:"branches"`
	Trafos   []caseTrafo   `json:"trafos"`
}

type caseBus struct {
	Number    int     `json:"number"`
	Name      string  `json:"name"`
	BaseKV    float64 `json:"base_kv"`
	Type      int     `json:"type"`
	VoltagePU float64 `json:"voltage_pu"`
}

type caseLoad struct {
	Bus       int     `json:"bus"`
	ID        string  `json:"id"`
	MW        float64 `json:"mw"`
	MVAR      float64 `json:"mvar"`
	InService *bool   `json:"in_service"`
}

type caseMachine struct {
	Bus       int     `json:"bus"`
	ID        string  `json:"id"`
	MW        float64 `json:"mw"`
	MVAR      float64 `json:"mvar"`
	InService *bool   `json:"in_service"`
}

type caseBranch struct {
	From      int     `json:"from"`
	To        int     `json:"to"`
	ID        string  `json:"id"`
	R         float64 `json:"r"`
	X         float64 `json:"x"`
	B         float64 `json:"b"`
	RateMVA   float64 `json:"rate_mva"`
	InService *bool   `json:"in_service"`
}

type caseTrafo struct {
	From      int     `json:"from"`
	To        int     `json:"to"`
	ID        string  `json:"id"`
	R         float64 `json:"r"`
	X         float64 `json:"x"`
	Tap       float64 `json:"tap"`
	RateMVA   float64 `json:"rate_mva"`
	InService *bool   `json:"in_service"`
}

func statusOrDefault(p *bool) bool {
	if p == nil {
		return true
	}
	return *p
}

// LoadCase reads a JSON case, validates it, and returns a NetworkCase with
// its baseline snapshot taken.
func LoadCase(r io.Reader) (*NetworkCase, error) {
	var cf caseFile
	if err := json.NewDecoder(r).Decode(&cf); err != nil {
		return nil, fmt.Errorf("decode case: %w", err)
	}
	return buildCase(cf)
}

// OpenCase resolves a case name via caselib and loads it. The demo case name
// loads the embedded demo network directly.
func OpenCase(name string) (*NetworkCase, error) {
	if name == caselib.DemoCaseName {
		return LoadCase(bytes.NewReader(caselib.DemoCase()))
	}

	path, err := caselib.Resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open case %q: %w", path, err)
	}
	defer f.Close()

	c, err := LoadCase(f)
	if err != nil {
		return nil, fmt.Errorf("case %q: %w", path, err)
	}
	if c.name == "" {
		c.name = filepath.Base(path)
	}
	return c, nil
}

func buildCase(cf caseFile) (*NetworkCase, error) {
	if cf.BaseMVA <= 0 {
		return nil, fmt.Errorf("%w: base MVA must be positive, got %v", ErrCaseInvalid, cf.BaseMVA)
	}
	c := &NetworkCase{name: cf.Name, baseMVA: cf.BaseMVA}

	seenBus := make(map[int]bool, len(cf.Buses))
	for _, b := range cf.Buses {
		if seenBus[b.Number] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateBus, b.Number)
		}
		seenBus[b.Number] = true
		bt := model.BusType(b.Type)
		switch bt {
		case model.BusTypeLoad, model.BusTypeGenerator, model.BusTypeSwing:
		default:
			return nil, fmt.Errorf("%w: bus %d has unknown type %d", ErrCaseInvalid, b.Number, b.Type)
		}
		c.buses = append(c.buses, model.Bus{
			Number:    b.Number,
			Name:      b.Name,
			BaseKV:    b.BaseKV,
			Type:      bt,
			VoltagePU: b.VoltagePU,
		})
	}
	sort.Slice(c.buses, func(i, j int) bool { return c.buses[i].Number < c.buses[j].Number })

	hasSwing := false
	for _, b := range c.buses {
		if b.Type == model.BusTypeSwing {
			hasSwing = true
			break
		}
	}
	if !hasSwing {
		return nil, ErrNoSwingBus
	}

	type elemKey struct {
		bus int
		id  string
	}
	seenLoad := make(map[elemKey]bool, len(cf.Loads))
	for _, l := range cf.Loads {
		if l.ID == "" {
			return nil, fmt.Errorf("%w: load at bus %d", ErrEmptyElementID, l.Bus)
		}
		if !seenBus[l.Bus] {
			return nil, fmt.Errorf("%w: %d referenced by load %q", ErrBusNotFound, l.Bus, l.ID)
		}
		k := elemKey{l.Bus, l.ID}
		if seenLoad[k] {
			return nil, fmt.Errorf("%w: load %q at bus %d", ErrDuplicateElement, l.ID, l.Bus)
		}
		seenLoad[k] = true
		c.loads = append(c.loads, model.Load{
			Bus:       l.Bus,
			ID:        l.ID,
			MVA:       complex(l.MW, l.MVAR),
			InService: statusOrDefault(l.InService),
		})
	}
	sort.Slice(c.loads, func(i, j int) bool {
		if c.loads[i].Bus != c.loads[j].Bus {
			return c.loads[i].Bus < c.loads[j].Bus
		}
		return c.loads[i].ID < c.loads[j].ID
	})

	seenMachine := make(map[elemKey]bool, len(cf.Machines))
	for _, m := range cf.Machines {
		if m.ID == "" {
			return nil, fmt.Errorf("%w: machine at bus %d", ErrEmptyElementID, m.Bus)
		}
		if !seenBus[m.Bus] {
			return nil, fmt.Errorf("%w: %d referenced by machine %q", ErrBusNotFound, m.Bus, m.ID)
		}
		k := elemKey{m.Bus, m.ID}
		if seenMachine[k] {
			return nil, fmt.Errorf("%w: machine %q at bus %d", ErrDuplicateElement, m.ID, m.Bus)
		}
		seenMachine[k] = true
		c.machines = append(c.machines, model.Machine{
			Bus:       m.Bus,
			ID:        m.ID,
			MVA:       complex(m.MW, m.MVAR),
			InService: statusOrDefault(m.InService),
		})
	}
	sort.Slice(c.machines, func(i, j int) bool {
		if c.machines[i].Bus != c.machines[j].Bus {
			return c.machines[i].Bus < c.machines[j].Bus
		}
		return c.machines[i].ID < c.machines[j].ID
	})

	type braKey struct {
		from, to int
		id       string
	}
	seenBranch := make(map[braKey]bool, len(cf.Branches))
	for _, b := range cf.Branches {
		if b.ID == "" {
			return nil, fmt.Errorf("%w: branch %d-%d", ErrEmptyElementID, b.From, b.To)
		}
		if !seenBus[b.From] || !seenBus[b.To] {
			return nil, fmt.Errorf("%w: referenced by branch %d-%d (%s)", ErrBusNotFound, b.From, b.To, b.ID)
		}
		k := braKey{b.From, b.To, b.ID}
		if seenBranch[k] {
			return nil, fmt.Errorf("%w: branch %d-%d (%s)", ErrDuplicateElement, b.From, b.To, b.ID)
		}
		seenBranch[k] = true
		c.branches = append(c.branches, model.Branch{
			FromBus:   b.From,
			ToBus:     b.To,
			ID:        b.ID,
			R:         b.R,
			X:         b.X,
			B:         b.B,
			RateMVA:   b.RateMVA,
			InService: statusOrDefault(b.InService),
		})
	}

	seenTrafo := make(map[braKey]bool, len(cf.Trafos))
	for _, t := range cf.Trafos {
		if t.ID == "" {
			return nil, fmt.Errorf("%w: trafo %d-%d", ErrEmptyElementID, t.From, t.To)
		}
		if !seenBus[t.From] || !seenBus[t.To] {
			return nil, fmt.Errorf("%w: referenced by trafo %d-%d (%s)", ErrBusNotFound, t.From, t.To, t.ID)
		}
		k := braKey{t.From, t.To, t.ID}
		if seenTrafo[k] {
			return nil, fmt.Errorf("%w: trafo %d-%d (%s)", ErrDuplicateElement, t.From, t.To, t.ID)
		}
		seenTrafo[k] = true
		c.trafos = append(c.trafos, model.Trafo{
			FromBus:   t.From,
			ToBus:     t.To,
			ID:        t.ID,
			R:         t.R,
			X:         t.X,
			Tap:       t.Tap,
			RateMVA:   t.RateMVA,
			InService: statusOrDefault(t.InService),
		})
	}

	c.snapshotBaseline()
	return c, nil
}
