package model

// Branch represents a transmission line between two buses, identified by its
// endpoints and a circuit ID. R and X are the series impedance in per unit on
// the system base, B the total line charging susceptance.
type Branch struct {
	FromBus int
	ToBus   int
	ID      string

	R float64
	X float64
	B float64

	// RateMVA is the thermal rating used for loading checks. Zero means
	// unrated: the element never trips a loading violation.
	RateMVA float64

	InService bool

	// LoadingPct is the loading percentage from the most recently applied
	// power-flow solution. Zero before the first solve and for
	// out-of-service elements.
	LoadingPct float64
}

// Trafo represents a two-winding transformer. Tap is the off-nominal turns
// ratio applied on the from side.
type Trafo struct {
	FromBus int
	ToBus   int
	ID      string

	R   float64
	X   float64
	Tap float64

	RateMVA float64

	InService bool

	LoadingPct float64
}
