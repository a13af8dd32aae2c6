package powerflow

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/CoryVegan/pssetools/model"
)

// grid is the assembled numeric form of a Network: a dense admittance
// matrix, per-unit scheduled injections, and the working voltage vector.
type grid struct {
	buses    []model.Bus
	branches []model.Branch
	trafos   []model.Trafo
	base     float64

	n     int
	index map[int]int // bus number -> position in buses

	swing []int // positions of swing buses
	pq    []int // positions of every other bus

	ybus [][]complex128

	loadPU []complex128 // scheduled load per bus
	injPU  []complex128 // net scheduled injection per bus (gen - load)

	v []complex128 // working voltages
}

func buildGrid(n Network) (*grid, error) {
	base := n.BaseMVA()
	if base <= 0 {
		return nil, ErrBadBaseMVA
	}

	buses := n.Buses()
	g := &grid{
		buses:    buses,
		branches: n.Branches(),
		trafos:   n.Trafos(),
		base:     base,
		n:        len(buses),
		index:    make(map[int]int, len(buses)),
	}
	for i, b := range buses {
		g.index[b.Number] = i
	}

	g.ybus = make([][]complex128, g.n)
	for i := range g.ybus {
		g.ybus[i] = make([]complex128, g.n)
	}

	for _, br := range g.branches {
		if !br.InService {
			continue
		}
		i, j, y, err := g.seriesAdmittance(br.FromBus, br.ToBus, br.R, br.X, "branch", br.ID)
		if err != nil {
			return nil, err
		}
		sh := complex(0, br.B/2)
		g.ybus[i][i] += y + sh
		g.ybus[j][j] += y + sh
		g.ybus[i][j] -= y
		g.ybus[j][i] -= y
	}
	for _, tr := range g.trafos {
		if !tr.InService {
			continue
		}
		i, j, y, err := g.seriesAdmittance(tr.FromBus, tr.ToBus, tr.R, tr.X, "trafo", tr.ID)
		if err != nil {
			return nil, err
		}
		t := trafoTap(tr)
		g.ybus[i][i] += y / (t * t)
		g.ybus[j][j] += y
		g.ybus[i][j] -= y / t
		g.ybus[j][i] -= y / t
	}

	g.loadPU = make([]complex128, g.n)
	g.injPU = make([]complex128, g.n)
	for _, ld := range n.Loads() {
		if !ld.InService {
			continue
		}
		i, ok := g.index[ld.Bus]
		if !ok {
			return nil, fmt.Errorf("%w: load %q at bus %d", ErrUnknownBus, ld.ID, ld.Bus)
		}
		pu := ld.MVA / complex(base, 0)
		g.loadPU[i] += pu
		g.injPU[i] -= pu
	}
	for _, mc := range n.Machines() {
		if !mc.InService {
			continue
		}
		i, ok := g.index[mc.Bus]
		if !ok {
			return nil, fmt.Errorf("%w: machine %q at bus %d", ErrUnknownBus, mc.ID, mc.Bus)
		}
		g.injPU[i] += mc.MVA / complex(base, 0)
	}

	for i, b := range buses {
		if b.Type == model.BusTypeSwing {
			g.swing = append(g.swing, i)
		} else {
			g.pq = append(g.pq, i)
		}
	}
	if len(g.swing) == 0 {
		return nil, ErrNoSwingBus
	}
	return g, nil
}

func (g *grid) seriesAdmittance(from, to int, r, x float64, kind, id string) (int, int, complex128, error) {
	i, ok := g.index[from]
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %s %d-%d (%s)", ErrUnknownBus, kind, from, to, id)
	}
	j, ok := g.index[to]
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %s %d-%d (%s)", ErrUnknownBus, kind, from, to, id)
	}
	z := complex(r, x)
	if z == 0 {
		return 0, 0, 0, fmt.Errorf("%w: %s %d-%d (%s)", ErrZeroImpedance, kind, from, to, id)
	}
	return i, j, 1 / z, nil
}

func trafoTap(tr model.Trafo) complex128 {
	if tr.Tap == 0 {
		return 1
	}
	return complex(tr.Tap, 0)
}

// reset seeds the working voltages. Swing buses hold their scheduled
// magnitude even on a flat start; other buses warm-start from the record's
// solved magnitude unless flat is requested.
func (g *grid) reset(flat bool) {
	g.v = make([]complex128, g.n)
	for i, b := range g.buses {
		mag := b.VoltagePU
		if flat || mag <= 0 {
			mag = 1
		}
		if b.Type == model.BusTypeSwing && b.VoltagePU > 0 {
			mag = b.VoltagePU
		}
		g.v[i] = complex(mag, 0)
	}
}

// calcInjections evaluates S_i = V_i * conj(sum_j Y_ij V_j) at the working
// voltages, per unit.
func (g *grid) calcInjections() []complex128 {
	s := make([]complex128, g.n)
	for i := 0; i < g.n; i++ {
		var sum complex128
		row := g.ybus[i]
		for j := 0; j < g.n; j++ {
			if row[j] != 0 {
				sum += row[j] * g.v[j]
			}
		}
		s[i] = g.v[i] * cmplx.Conj(sum)
	}
	return s
}

// mismatch returns the active and reactive power mismatches at the PQ buses
// (in pq order) and the worst absolute mismatch, all per unit.
func (g *grid) mismatch(sCalc []complex128) (dp, dq []float64, worst float64) {
	dp = make([]float64, len(g.pq))
	dq = make([]float64, len(g.pq))
	for k, i := range g.pq {
		d := g.injPU[i] - sCalc[i]
		dp[k] = real(d)
		dq[k] = imag(d)
		if a := math.Abs(dp[k]); a > worst {
			worst = a
		}
		if a := math.Abs(dq[k]); a > worst {
			worst = a
		}
	}
	return dp, dq, worst
}

const divergedMismatchPU = 1e4

func (g *grid) diverged(worst float64) bool {
	if math.IsNaN(worst) || worst > divergedMismatchPU {
		return true
	}
	for _, vi := range g.v {
		if cmplx.IsNaN(vi) || cmplx.IsInf(vi) {
			return true
		}
	}
	return false
}

// solution materializes the outcome at the current working voltages.
func (g *grid) solution(converged bool, m Method, iters int, worstPU float64) *Solution {
	sol := &Solution{
		Converged:      converged,
		Method:         m,
		Iterations:     iters,
		MaxMismatchMVA: worstPU * g.base,
		BusVoltagePU:   make([]float64, g.n),
		BusAngleRad:    make([]float64, g.n),
		SwingPowerMVA:  make([]complex128, g.n),
	}
	for i, vi := range g.v {
		sol.BusVoltagePU[i] = cmplx.Abs(vi)
		sol.BusAngleRad[i] = cmplx.Phase(vi)
	}

	sCalc := g.calcInjections()
	for _, i := range g.swing {
		sol.SwingPowerMVA[i] = (sCalc[i] + g.loadPU[i]) * complex(g.base, 0)
	}

	sol.BranchLoadingPct = make([]float64, len(g.branches))
	for bi, br := range g.branches {
		if !br.InService || br.RateMVA <= 0 {
			continue
		}
		i := g.index[br.FromBus]
		j := g.index[br.ToBus]
		y := 1 / complex(br.R, br.X)
		sh := complex(0, br.B/2)
		iFrom := (g.v[i]-g.v[j])*y + g.v[i]*sh
		iTo := (g.v[j]-g.v[i])*y + g.v[j]*sh
		flow := math.Max(cmplx.Abs(g.v[i]*cmplx.Conj(iFrom)), cmplx.Abs(g.v[j]*cmplx.Conj(iTo))) * g.base
		sol.BranchLoadingPct[bi] = flow / br.RateMVA * 100
	}

	sol.TrafoLoadingPct = make([]float64, len(g.trafos))
	for ti, tr := range g.trafos {
		if !tr.InService || tr.RateMVA <= 0 {
			continue
		}
		i := g.index[tr.FromBus]
		j := g.index[tr.ToBus]
		y := 1 / complex(tr.R, tr.X)
		t := trafoTap(tr)
		iFrom := g.v[i]*y/(t*t) - g.v[j]*y/t
		iTo := g.v[j]*y - g.v[i]*y/t
		flow := math.Max(cmplx.Abs(g.v[i]*cmplx.Conj(iFrom)), cmplx.Abs(g.v[j]*cmplx.Conj(iTo))) * g.base
		sol.TrafoLoadingPct[ti] = flow / tr.RateMVA * 100
	}
	return sol
}
