package core

import (
	"errors"
	"fmt"

	"github.com/CoryVegan/pssetools/model"
)

var (
	// ErrMutatorInactive is returned when a temporary mutator is invoked
	// outside an active scope.
	ErrMutatorInactive = errors.New("temporary mutator is not active")
	// ErrMutatorActive is returned when a scope is begun twice.
	ErrMutatorActive = errors.New("temporary mutator is already active")
)

// TemporaryElementID is the ID probe elements are created under. Case files
// must not use it.
const TemporaryElementID = "Tm"

// TemporaryBusLoad injects probe load at one bus. Begin creates a zero-power
// load, Set moves it, End deletes it no matter how the probe went. End is
// a no-op when the scope is inactive so callers can always defer it.
type TemporaryBusLoad struct {
	c      *NetworkCase
	bus    int
	active bool
}

func NewTemporaryBusLoad(c *NetworkCase, bus int) *TemporaryBusLoad {
	return &TemporaryBusLoad{c: c, bus: bus}
}

// Begin creates the probe load with zero power.
func (t *TemporaryBusLoad) Begin() error {
	if t.active {
		return fmt.Errorf("%w: load at bus %d", ErrMutatorActive, t.bus)
	}
	if err := t.c.AddLoad(model.Load{Bus: t.bus, ID: TemporaryElementID, InService: true}); err != nil {
		return err
	}
	t.active = true
	return nil
}

// Set points the probe load at the given power.
func (t *TemporaryBusLoad) Set(mva complex128) error {
	if !t.active {
		return fmt.Errorf("%w: load at bus %d", ErrMutatorInactive, t.bus)
	}
	return t.c.SetLoadMVA(t.bus, TemporaryElementID, mva)
}

// End deletes the probe load unconditionally.
func (t *TemporaryBusLoad) End() error {
	if !t.active {
		return nil
	}
	t.active = false
	return t.c.RemoveLoad(t.bus, TemporaryElementID)
}

// TemporaryBusMachine injects probe generation at one bus, with the same
// scope protocol as TemporaryBusLoad.
type TemporaryBusMachine struct {
	c      *NetworkCase
	bus    int
	active bool
}

func NewTemporaryBusMachine(c *NetworkCase, bus int) *TemporaryBusMachine {
	return &TemporaryBusMachine{c: c, bus: bus}
}

// Begin creates the probe machine with zero power.
func (t *TemporaryBusMachine) Begin() error {
	if t.active {
		return fmt.Errorf("%w: machine at bus %d", ErrMutatorActive, t.bus)
	}
	if err := t.c.AddMachine(model.Machine{Bus: t.bus, ID: TemporaryElementID, InService: true}); err != nil {
		return err
	}
	t.active = true
	return nil
}

// Set points the probe machine at the given power.
func (t *TemporaryBusMachine) Set(mva complex128) error {
	if !t.active {
		return fmt.Errorf("%w: machine at bus %d", ErrMutatorInactive, t.bus)
	}
	return t.c.SetMachineMVA(t.bus, TemporaryElementID, mva)
}

// End deletes the probe machine unconditionally.
func (t *TemporaryBusMachine) End() error {
	if !t.active {
		return nil
	}
	t.active = false
	return t.c.RemoveMachine(t.bus, TemporaryElementID)
}

// BranchDisabler takes one branch out of service for the life of a scope and
// restores the previous status on End.
type BranchDisabler struct {
	c        *NetworkCase
	from, to int
	id       string
	prev     bool
	active   bool
}

func NewBranchDisabler(c *NetworkCase, br model.Branch) *BranchDisabler {
	return &BranchDisabler{c: c, from: br.FromBus, to: br.ToBus, id: br.ID}
}

// Begin records the prior status and disables the branch. The returned flag
// reports whether the scope actually disabled an in-service element.
func (d *BranchDisabler) Begin() (bool, error) {
	if d.active {
		return false, fmt.Errorf("%w: branch %d-%d (%s)", ErrMutatorActive, d.from, d.to, d.id)
	}
	prev, err := d.c.SetBranchStatus(d.from, d.to, d.id, false)
	if err != nil {
		return false, err
	}
	d.prev = prev
	d.active = true
	return prev, nil
}

// End restores the branch to its prior status unconditionally.
func (d *BranchDisabler) End() error {
	if !d.active {
		return nil
	}
	d.active = false
	_, err := d.c.SetBranchStatus(d.from, d.to, d.id, d.prev)
	return err
}

// TrafoDisabler takes one trafo out of service for the life of a scope and
// restores the previous status on End.
type TrafoDisabler struct {
	c        *NetworkCase
	from, to int
	id       string
	prev     bool
	active   bool
}

func NewTrafoDisabler(c *NetworkCase, tr model.Trafo) *TrafoDisabler {
	return &TrafoDisabler{c: c, from: tr.FromBus, to: tr.ToBus, id: tr.ID}
}

// Begin records the prior status and disables the trafo. The returned flag
// reports whether the scope actually disabled an in-service element.
func (d *TrafoDisabler) Begin() (bool, error) {
	if d.active {
		return false, fmt.Errorf("%w: trafo %d-%d (%s)", ErrMutatorActive, d.from, d.to, d.id)
	}
	prev, err := d.c.SetTrafoStatus(d.from, d.to, d.id, false)
	if err != nil {
		return false, err
	}
	d.prev = prev
	d.active = true
	return prev, nil
}

// End restores the trafo to its prior status unconditionally.
func (d *TrafoDisabler) End() error {
	if !d.active {
		return nil
	}
	d.active = false
	_, err := d.c.SetTrafoStatus(d.from, d.to, d.id, d.prev)
	return err
}
