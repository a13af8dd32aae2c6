package core

import (
	"testing"

	"github.com/CoryVegan/pssetools/model"
)

const cursorCaseJSON = `{
  "name": "cursor-case",
  "base_mva": 100,
  "buses": [
    {"number": 1, "type": 3, "voltage_pu": 1.0},
    {"number": 4, "type": 1, "voltage_pu": 1.0},
    {"number": 9, "type": 1, "voltage_pu": 1.0}
  ],
  "loads": [
    {"bus": 1, "id": "1", "mw": 5},
    {"bus": 1, "id": "2", "mw": 3},
    {"bus": 4, "id": "1", "mw": 2},
    {"bus": 9, "id": "1", "mw": 1},
    {"bus": 9, "id": "2", "mw": 100, "in_service": false}
  ],
  "machines": [
    {"bus": 1, "id": "1", "mw": 40, "mvar": 10},
    {"bus": 4, "id": "1", "mw": 7},
    {"bus": 4, "id": "2", "mw": 5, "in_service": false}
  ]
}`

func TestLoadCursorAggregatesPerBus(t *testing.T) {
	c := mustLoadCase(t, cursorCaseJSON)
	lc := NewLoadCursor(c)

	for _, tt := range []struct {
		bus  int
		want complex128
	}{
		{1, complex(8, 0)},
		{4, complex(2, 0)},
		{9, complex(1, 0)},
	} {
		if got := lc.BusMVA(tt.bus); got != tt.want {
			t.Errorf("BusMVA(%d) = %v, want %v", tt.bus, got, tt.want)
		}
	}
}

func TestLoadCursorConsumesSkippedEntries(t *testing.T) {
	c := mustLoadCase(t, cursorCaseJSON)
	lc := NewLoadCursor(c)

	if got := lc.BusMVA(4); got != complex(2, 0) {
		t.Fatalf("BusMVA(4) = %v, want (2+0i)", got)
	}
	// Entries for bus 1 were passed over on the way to 4; a backward query
	// finds nothing.
	if got := lc.BusMVA(1); got != 0 {
		t.Errorf("backward BusMVA(1) = %v, want 0", got)
	}
	if got := lc.BusMVA(9); got != complex(1, 0) {
		t.Errorf("BusMVA(9) after backward query = %v, want (1+0i)", got)
	}
}

func TestLoadCursorQueryBetweenBuses(t *testing.T) {
	c := mustLoadCase(t, cursorCaseJSON)
	lc := NewLoadCursor(c)

	if got := lc.BusMVA(5); got != 0 {
		t.Fatalf("BusMVA(5) = %v, want 0", got)
	}
	if got := lc.BusMVA(9); got != complex(1, 0) {
		t.Errorf("BusMVA(9) = %v, want (1+0i)", got)
	}
}

func TestLoadCursorSnapshotIgnoresLaterMutations(t *testing.T) {
	c := mustLoadCase(t, cursorCaseJSON)
	lc := NewLoadCursor(c)

	if err := c.AddLoad(model.Load{Bus: 4, ID: "9", MVA: complex(50, 0), InService: true}); err != nil {
		t.Fatalf("AddLoad: %v", err)
	}

	if got := lc.BusMVA(4); got != complex(2, 0) {
		t.Errorf("BusMVA(4) = %v, want (2+0i): cursor must see its snapshot only", got)
	}
}

func TestMachineCursorAggregatesPerBus(t *testing.T) {
	c := mustLoadCase(t, cursorCaseJSON)
	mc := NewMachineCursor(c)

	if got := mc.BusMVA(1); got != complex(40, 10) {
		t.Errorf("BusMVA(1) = %v, want (40+10i)", got)
	}
	// The out-of-service 5 MW unit at bus 4 must not count.
	if got := mc.BusMVA(4); got != complex(7, 0) {
		t.Errorf("BusMVA(4) = %v, want (7+0i)", got)
	}
	if got := mc.BusMVA(9); got != 0 {
		t.Errorf("BusMVA(9) = %v, want 0", got)
	}
}
