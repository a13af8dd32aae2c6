package core

import (
	"errors"
	"testing"
)

func countLoads(c *NetworkCase, bus int, id string) int {
	n := 0
	for _, l := range c.Loads() {
		if l.Bus == bus && l.ID == id {
			n++
		}
	}
	return n
}

func TestTemporaryBusLoadScope(t *testing.T) {
	c := mustLoadCase(t, threeBusCaseJSON)
	before := len(c.Loads())

	tl := NewTemporaryBusLoad(c, 151)
	if err := tl.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if countLoads(c, 151, TemporaryElementID) != 1 {
		t.Fatal("Begin did not create the probe load")
	}

	if err := tl.Set(complex(25, 12)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	found := false
	for _, l := range c.Loads() {
		if l.Bus == 151 && l.ID == TemporaryElementID {
			found = true
			if l.MVA != complex(25, 12) {
				t.Errorf("probe load MVA = %v, want (25+12i)", l.MVA)
			}
			if !l.InService {
				t.Error("probe load must be in service")
			}
		}
	}
	if !found {
		t.Fatal("probe load vanished after Set")
	}

	if err := tl.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if countLoads(c, 151, TemporaryElementID) != 0 {
		t.Fatal("End did not delete the probe load")
	}
	if got := len(c.Loads()); got != before {
		t.Errorf("got %d loads after scope, want %d", got, before)
	}
}

func TestTemporaryBusLoadProtocolErrors(t *testing.T) {
	c := mustLoadCase(t, threeBusCaseJSON)
	tl := NewTemporaryBusLoad(c, 151)

	if err := tl.Set(complex(1, 0)); !errors.Is(err, ErrMutatorInactive) {
		t.Errorf("Set before Begin error = %v, want ErrMutatorInactive", err)
	}
	if err := tl.End(); err != nil {
		t.Errorf("End before Begin = %v, want nil (defer-safe no-op)", err)
	}

	if err := tl.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tl.Begin(); !errors.Is(err, ErrMutatorActive) {
		t.Errorf("double Begin error = %v, want ErrMutatorActive", err)
	}
	if err := tl.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := tl.End(); err != nil {
		t.Errorf("second End = %v, want nil", err)
	}
}

func TestTemporaryBusLoadUnknownBus(t *testing.T) {
	c := mustLoadCase(t, threeBusCaseJSON)
	tl := NewTemporaryBusLoad(c, 999)

	if err := tl.Begin(); !errors.Is(err, ErrBusNotFound) {
		t.Fatalf("Begin at unknown bus error = %v, want ErrBusNotFound", err)
	}
	// A failed Begin never activates the scope.
	if err := tl.Set(complex(1, 0)); !errors.Is(err, ErrMutatorInactive) {
		t.Errorf("Set after failed Begin error = %v, want ErrMutatorInactive", err)
	}
}

func TestTemporaryBusLoadReusableAfterEnd(t *testing.T) {
	c := mustLoadCase(t, threeBusCaseJSON)
	tl := NewTemporaryBusLoad(c, 151)

	for i := 0; i < 3; i++ {
		if err := tl.Begin(); err != nil {
			t.Fatalf("Begin #%d: %v", i, err)
		}
		if err := tl.Set(complex(float64(i), 0)); err != nil {
			t.Fatalf("Set #%d: %v", i, err)
		}
		if err := tl.End(); err != nil {
			t.Fatalf("End #%d: %v", i, err)
		}
	}
	if countLoads(c, 151, TemporaryElementID) != 0 {
		t.Fatal("probe load left behind after repeated scopes")
	}
}

func TestTemporaryBusMachineScope(t *testing.T) {
	c := mustLoadCase(t, threeBusCaseJSON)
	before := len(c.Machines())

	tm := NewTemporaryBusMachine(c, 152)
	if err := tm.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tm.Set(complex(15, 7)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := tm.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if got := len(c.Machines()); got != before {
		t.Errorf("got %d machines after scope, want %d", got, before)
	}

	if err := tm.Set(complex(1, 0)); !errors.Is(err, ErrMutatorInactive) {
		t.Errorf("Set after End error = %v, want ErrMutatorInactive", err)
	}
}

func TestBranchDisablerRestoresStatus(t *testing.T) {
	c := mustLoadCase(t, threeBusCaseJSON)
	br := c.Branches()[0]

	d := NewBranchDisabler(c, br)
	disabled, err := d.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !disabled {
		t.Fatal("Begin on an in-service branch must report disabled=true")
	}
	if c.Branches()[0].InService {
		t.Fatal("branch still in service inside the scope")
	}

	if err := d.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if !c.Branches()[0].InService {
		t.Fatal("branch not restored after End")
	}
}

func TestBranchDisablerOnOutOfServiceBranch(t *testing.T) {
	c := mustLoadCase(t, threeBusCaseJSON)
	br := c.Branches()[0]
	if _, err := c.SetBranchStatus(br.FromBus, br.ToBus, br.ID, false); err != nil {
		t.Fatalf("SetBranchStatus: %v", err)
	}

	d := NewBranchDisabler(c, br)
	disabled, err := d.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if disabled {
		t.Fatal("Begin on an out-of-service branch must report disabled=false")
	}
	if err := d.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if c.Branches()[0].InService {
		t.Fatal("End must restore the prior (out-of-service) status")
	}
}

func TestTrafoDisablerRestoresStatus(t *testing.T) {
	c := mustLoadCase(t, threeBusCaseJSON)
	tr := c.Trafos()[0]

	d := NewTrafoDisabler(c, tr)
	disabled, err := d.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !disabled {
		t.Fatal("Begin on an in-service trafo must report disabled=true")
	}
	if _, err := d.Begin(); !errors.Is(err, ErrMutatorActive) {
		t.Errorf("double Begin error = %v, want ErrMutatorActive", err)
	}
	if err := d.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if !c.Trafos()[0].InService {
		t.Fatal("trafo not restored after End")
	}
}
