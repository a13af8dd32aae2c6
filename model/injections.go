package model

// Load represents a constant-power load connected to a bus. A bus can carry
// several loads distinguished by ID. MVA is the drawn complex power: the real
// part is MW, the imaginary part MVAR.
type Load struct {
	Bus       int
	ID        string
	MVA       complex128
	InService bool
}

// Machine represents a generating unit connected to a bus. MVA is the
// injected complex power. Machines are modeled as constant-power injections;
// voltage setpoints are not part of the model.
type Machine struct {
	Bus       int
	ID        string
	MVA       complex128
	InService bool
}
