package core

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/CoryVegan/pssetools/model"
	"github.com/CoryVegan/pssetools/powerflow"
)

var (
	ErrBusNotFound     = errors.New("bus not found")
	ErrEmptyElementID  = errors.New("empty element ID")
	ErrLoadExists      = errors.New("load already exists")
	ErrLoadNotFound    = errors.New("load not found")
	ErrMachineExists   = errors.New("machine already exists")
	ErrMachineNotFound = errors.New("machine not found")
	ErrBranchNotFound  = errors.New("branch not found")
	ErrTrafoNotFound   = errors.New("trafo not found")
)

// NetworkCase is the loaded study case: element collections plus the state of
// the most recently applied power-flow solution. Mutations preserve the
// ordering invariants the streaming cursors depend on: buses sorted by
// number, loads and machines sorted by (bus, ID); branches and trafos stay in
// file order.
//
// The analysis itself is single-threaded. The mutex protects readers that
// observe a run from outside, such as metrics or progress callbacks.
type NetworkCase struct {
	mu sync.RWMutex

	name    string
	baseMVA float64

	buses    []model.Bus
	loads    []model.Load
	machines []model.Machine
	branches []model.Branch
	trafos   []model.Trafo

	swingMVA map[int]complex128 // solved swing generation by bus number

	baseline caseBaseline
}

// caseBaseline is the as-loaded snapshot Reset restores.
type caseBaseline struct {
	buses    []model.Bus
	loads    []model.Load
	machines []model.Machine
	branches []model.Branch
	trafos   []model.Trafo
}

// BusPower pairs a bus number with a complex power.
type BusPower struct {
	Bus int
	MVA complex128
}

func (c *NetworkCase) snapshotBaseline() {
	c.baseline = caseBaseline{
		buses:    slices.Clone(c.buses),
		loads:    slices.Clone(c.loads),
		machines: slices.Clone(c.machines),
		branches: slices.Clone(c.branches),
		trafos:   slices.Clone(c.trafos),
	}
}

// Reset restores the case to its as-loaded baseline: structural data, element
// statuses, and solution state. It stands in for re-reading the case file.
func (c *NetworkCase) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buses = slices.Clone(c.baseline.buses)
	c.loads = slices.Clone(c.baseline.loads)
	c.machines = slices.Clone(c.baseline.machines)
	c.branches = slices.Clone(c.baseline.branches)
	c.trafos = slices.Clone(c.baseline.trafos)
	c.swingMVA = nil
}

//
// ---------- Readers ----------
//

// Name returns the case name from the file, possibly empty.
func (c *NetworkCase) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *NetworkCase) BaseMVA() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseMVA
}

// Buses returns the buses in ascending bus-number order.
func (c *NetworkCase) Buses() []model.Bus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.buses)
}

// Loads returns the loads sorted by (bus, ID).
func (c *NetworkCase) Loads() []model.Load {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.loads)
}

// Machines returns the machines sorted by (bus, ID).
func (c *NetworkCase) Machines() []model.Machine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.machines)
}

// Branches returns the branches in file order.
func (c *NetworkCase) Branches() []model.Branch {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.branches)
}

// Trafos returns the two-winding transformers in file order.
func (c *NetworkCase) Trafos() []model.Trafo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.trafos)
}

// Bus looks up a single bus by number.
func (c *NetworkCase) Bus(number int) (model.Bus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if i, ok := c.findBusLocked(number); ok {
		return c.buses[i], nil
	}
	return model.Bus{}, fmt.Errorf("%w: %d", ErrBusNotFound, number)
}

// SwingPowerMVA returns the solved swing-bus generation from the most
// recently applied solution, in ascending bus-number order.
func (c *NetworkCase) SwingPowerMVA() []BusPower {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]BusPower, 0, len(c.swingMVA))
	for bus, mva := range c.swingMVA {
		out = append(out, BusPower{Bus: bus, MVA: mva})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bus < out[j].Bus })
	return out
}

//
// ---------- Loads and machines ----------
//

// AddLoad inserts a load at its sorted position.
func (c *NetworkCase) AddLoad(ld model.Load) error {
	if ld.ID == "" {
		return fmt.Errorf("%w: load at bus %d", ErrEmptyElementID, ld.Bus)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.findBusLocked(ld.Bus); !ok {
		return fmt.Errorf("%w: %d", ErrBusNotFound, ld.Bus)
	}
	i, found := c.findLoadLocked(ld.Bus, ld.ID)
	if found {
		return fmt.Errorf("%w: %q at bus %d", ErrLoadExists, ld.ID, ld.Bus)
	}
	c.loads = slices.Insert(c.loads, i, ld)
	return nil
}

// SetLoadMVA updates the power drawn by an existing load.
func (c *NetworkCase) SetLoadMVA(bus int, id string, mva complex128) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, found := c.findLoadLocked(bus, id)
	if !found {
		return fmt.Errorf("%w: %q at bus %d", ErrLoadNotFound, id, bus)
	}
	c.loads[i].MVA = mva
	return nil
}

// RemoveLoad deletes a load.
func (c *NetworkCase) RemoveLoad(bus int, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, found := c.findLoadLocked(bus, id)
	if !found {
		return fmt.Errorf("%w: %q at bus %d", ErrLoadNotFound, id, bus)
	}
	c.loads = slices.Delete(c.loads, i, i+1)
	return nil
}

// AddMachine inserts a machine at its sorted position.
func (c *NetworkCase) AddMachine(mc model.Machine) error {
	if mc.ID == "" {
		return fmt.Errorf("%w: machine at bus %d", ErrEmptyElementID, mc.Bus)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.findBusLocked(mc.Bus); !ok {
		return fmt.Errorf("%w: %d", ErrBusNotFound, mc.Bus)
	}
	i, found := c.findMachineLocked(mc.Bus, mc.ID)
	if found {
		return fmt.Errorf("%w: %q at bus %d", ErrMachineExists, mc.ID, mc.Bus)
	}
	c.machines = slices.Insert(c.machines, i, mc)
	return nil
}

// SetMachineMVA updates the power injected by an existing machine.
func (c *NetworkCase) SetMachineMVA(bus int, id string, mva complex128) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, found := c.findMachineLocked(bus, id)
	if !found {
		return fmt.Errorf("%w: %q at bus %d", ErrMachineNotFound, id, bus)
	}
	c.machines[i].MVA = mva
	return nil
}

// RemoveMachine deletes a machine.
func (c *NetworkCase) RemoveMachine(bus int, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, found := c.findMachineLocked(bus, id)
	if !found {
		return fmt.Errorf("%w: %q at bus %d", ErrMachineNotFound, id, bus)
	}
	c.machines = slices.Delete(c.machines, i, i+1)
	return nil
}

//
// ---------- Branch and trafo status ----------
//

// SetBranchStatus puts a branch in or out of service and returns the
// previous status.
func (c *NetworkCase) SetBranchStatus(from, to int, id string, inService bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.branches {
		br := &c.branches[i]
		if br.FromBus == from && br.ToBus == to && br.ID == id {
			prev := br.InService
			br.InService = inService
			return prev, nil
		}
	}
	return false, fmt.Errorf("%w: %d-%d (%s)", ErrBranchNotFound, from, to, id)
}

// SetTrafoStatus puts a trafo in or out of service and returns the previous
// status.
func (c *NetworkCase) SetTrafoStatus(from, to int, id string, inService bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.trafos {
		tr := &c.trafos[i]
		if tr.FromBus == from && tr.ToBus == to && tr.ID == id {
			prev := tr.InService
			tr.InService = inService
			return prev, nil
		}
	}
	return false, fmt.Errorf("%w: %d-%d (%s)", ErrTrafoNotFound, from, to, id)
}

//
// ---------- Solution state ----------
//

// ApplySolution writes solved voltages, loadings, and swing generation into
// the case. The solution slices are parallel to the case collections.
func (c *NetworkCase) ApplySolution(sol *powerflow.Solution) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.buses {
		if i < len(sol.BusVoltagePU) {
			c.buses[i].VoltagePU = sol.BusVoltagePU[i]
		}
	}
	for i := range c.branches {
		if i < len(sol.BranchLoadingPct) {
			c.branches[i].LoadingPct = sol.BranchLoadingPct[i]
		}
	}
	for i := range c.trafos {
		if i < len(sol.TrafoLoadingPct) {
			c.trafos[i].LoadingPct = sol.TrafoLoadingPct[i]
		}
	}
	c.swingMVA = make(map[int]complex128)
	for i, b := range c.buses {
		if b.Type == model.BusTypeSwing && i < len(sol.SwingPowerMVA) {
			c.swingMVA[b.Number] = sol.SwingPowerMVA[i]
		}
	}
}

//
// ---------- Lookups (callers hold c.mu) ----------
//

func (c *NetworkCase) findBusLocked(number int) (int, bool) {
	i := sort.Search(len(c.buses), func(k int) bool {
		return c.buses[k].Number >= number
	})
	if i < len(c.buses) && c.buses[i].Number == number {
		return i, true
	}
	return i, false
}

func (c *NetworkCase) findLoadLocked(bus int, id string) (int, bool) {
	i := sort.Search(len(c.loads), func(k int) bool {
		l := c.loads[k]
		if l.Bus != bus {
			return l.Bus > bus
		}
		return l.ID >= id
	})
	if i < len(c.loads) && c.loads[i].Bus == bus && c.loads[i].ID == id {
		return i, true
	}
	return i, false
}

func (c *NetworkCase) findMachineLocked(bus int, id string) (int, bool) {
	i := sort.Search(len(c.machines), func(k int) bool {
		m := c.machines[k]
		if m.Bus != bus {
			return m.Bus > bus
		}
		return m.ID >= id
	})
	if i < len(c.machines) && c.machines[i].Bus == bus && c.machines[i].ID == id {
		return i, true
	}
	return i, false
}
