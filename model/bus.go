package model

// BusType classifies how a bus participates in the power flow.
// The numeric codes follow the usual case-file convention.
type BusType int

const (
	BusTypeLoad      BusType = 1 // PQ bus, load only
	BusTypeGenerator BusType = 2 // bus with machines attached
	BusTypeSwing     BusType = 3 // swing bus, balances the system
)

func (t BusType) String() string {
	switch t {
	case BusTypeLoad:
		return "load"
	case BusTypeGenerator:
		return "generator"
	case BusTypeSwing:
		return "swing"
	default:
		return "unknown"
	}
}

// Bus represents a network bus. Number is the stable identity used by every
// other element; collections of buses are kept sorted by it.
type Bus struct {
	Number int
	Name   string
	BaseKV float64
	Type   BusType

	// VoltagePU is the per-unit voltage magnitude from the most recently
	// applied power-flow solution. Zero before the first solve.
	VoltagePU float64
}
