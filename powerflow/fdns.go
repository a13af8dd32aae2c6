package powerflow

import (
	"context"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// solveFastDecoupled runs the fixed-slope decoupled iteration: B' built from
// series reactances, B'' from the imaginary part of Ybus, both factorized
// once per solve and reused for alternating P-theta and Q-V half steps.
func solveFastDecoupled(ctx context.Context, g *grid, opts Options) (*Solution, error) {
	g.reset(opts.FlatStart)

	m := len(g.pq)
	sCalc := g.calcInjections()
	_, _, worst := g.mismatch(sCalc)
	if m == 0 || worst*g.base < opts.ToleranceMVA {
		return g.solution(true, MethodFastDecoupled, 0, worst), nil
	}

	pos := make(map[int]int, m) // grid position -> PQ slot
	for k, i := range g.pq {
		pos[i] = k
	}

	bp := mat.NewDense(m, m, nil)
	for _, br := range g.branches {
		if !br.InService || br.X == 0 {
			continue
		}
		stampBPrime(bp, pos, g.index[br.FromBus], g.index[br.ToBus], 1/br.X)
	}
	for _, tr := range g.trafos {
		if !tr.InService || tr.X == 0 {
			continue
		}
		stampBPrime(bp, pos, g.index[tr.FromBus], g.index[tr.ToBus], 1/tr.X)
	}

	bpp := mat.NewDense(m, m, nil)
	for a, i := range g.pq {
		for b, j := range g.pq {
			bpp.Set(a, b, -imag(g.ybus[i][j]))
		}
	}

	var luP, luQ mat.LU
	luP.Factorize(bp)
	luQ.Factorize(bpp)

	theta := make([]float64, g.n)
	vm := make([]float64, g.n)
	for i, vi := range g.v {
		vm[i] = cmplx.Abs(vi)
		theta[i] = cmplx.Phase(vi)
	}

	rhs := mat.NewVecDense(m, nil)
	var dx mat.VecDense

	iters := 0
	for iters < opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dp, _, _ := g.mismatch(sCalc)
		for k, i := range g.pq {
			rhs.SetVec(k, dp[k]/vm[i])
		}
		if err := luP.SolveVecTo(&dx, false, rhs); err != nil {
			return g.solution(false, MethodFastDecoupled, iters, worst), nil
		}
		for k, i := range g.pq {
			theta[i] += dx.AtVec(k)
			g.v[i] = cmplx.Rect(vm[i], theta[i])
		}

		sCalc = g.calcInjections()
		_, dq, _ := g.mismatch(sCalc)
		for k, i := range g.pq {
			rhs.SetVec(k, dq[k]/vm[i])
		}
		if err := luQ.SolveVecTo(&dx, false, rhs); err != nil {
			return g.solution(false, MethodFastDecoupled, iters, worst), nil
		}
		for k, i := range g.pq {
			vm[i] += dx.AtVec(k)
			g.v[i] = cmplx.Rect(vm[i], theta[i])
		}
		iters++

		sCalc = g.calcInjections()
		_, _, worst = g.mismatch(sCalc)
		if worst*g.base < opts.ToleranceMVA {
			return g.solution(true, MethodFastDecoupled, iters, worst), nil
		}
		if g.diverged(worst) {
			break
		}
	}
	return g.solution(false, MethodFastDecoupled, iters, worst), nil
}

// stampBPrime adds a series susceptance between two grid positions into the
// PQ submatrix. Terms touching swing buses contribute to the diagonal only.
func stampBPrime(bp *mat.Dense, pos map[int]int, i, j int, b float64) {
	ai, iok := pos[i]
	aj, jok := pos[j]
	if iok {
		bp.Set(ai, ai, bp.At(ai, ai)+b)
	}
	if jok {
		bp.Set(aj, aj, bp.At(aj, aj)+b)
	}
	if iok && jok {
		bp.Set(ai, aj, bp.At(ai, aj)-b)
		bp.Set(aj, ai, bp.At(aj, ai)-b)
	}
}
