package core

// powerCursor walks a bus-sorted snapshot of complex powers in one forward
// pass. busMVA must be queried with non-decreasing bus numbers: entries
// passed over are consumed permanently, which is what makes a full sweep
// O(buses + entries) instead of O(buses * entries).
type powerCursor struct {
	entries []busEntry
	i       int
}

type busEntry struct {
	bus int
	mva complex128
}

func (pc *powerCursor) busMVA(number int) complex128 {
	var sum complex128
	for pc.i < len(pc.entries) && pc.entries[pc.i].bus <= number {
		if pc.entries[pc.i].bus == number {
			sum += pc.entries[pc.i].mva
		}
		pc.i++
	}
	return sum
}

// LoadCursor aggregates actual per-bus load for an ascending bus sweep.
type LoadCursor struct {
	powerCursor
}

// NewLoadCursor snapshots the in-service loads of c. Case mutations after
// construction, temporary probe elements included, are invisible to the
// cursor.
func NewLoadCursor(c *NetworkCase) *LoadCursor {
	lc := &LoadCursor{}
	for _, ld := range c.Loads() {
		if ld.InService {
			lc.entries = append(lc.entries, busEntry{ld.Bus, ld.MVA})
		}
	}
	return lc
}

// BusMVA returns the total in-service load at the given bus. Queries must
// use non-decreasing bus numbers.
func (lc *LoadCursor) BusMVA(number int) complex128 {
	return lc.busMVA(number)
}

// MachineCursor aggregates actual per-bus generation for an ascending bus
// sweep.
type MachineCursor struct {
	powerCursor
}

// NewMachineCursor snapshots the in-service machines of c.
func NewMachineCursor(c *NetworkCase) *MachineCursor {
	mc := &MachineCursor{}
	for _, m := range c.Machines() {
		if m.InService {
			mc.entries = append(mc.entries, busEntry{m.Bus, m.MVA})
		}
	}
	return mc
}

// BusMVA returns the total in-service generation at the given bus. Queries
// must use non-decreasing bus numbers.
func (mc *MachineCursor) BusMVA(number int) complex128 {
	return mc.busMVA(number)
}
