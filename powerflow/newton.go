package powerflow

import (
	"context"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// solveNewton runs the full Newton-Raphson iteration: polar mismatch
// equations over the PQ buses with a fresh Jacobian factorized every step.
func solveNewton(ctx context.Context, g *grid, opts Options) (*Solution, error) {
	g.reset(opts.FlatStart)

	m := len(g.pq)
	sCalc := g.calcInjections()
	dp, dq, worst := g.mismatch(sCalc)
	if m == 0 || worst*g.base < opts.ToleranceMVA {
		return g.solution(true, MethodFullNewton, 0, worst), nil
	}

	theta := make([]float64, g.n)
	vm := make([]float64, g.n)
	for i, vi := range g.v {
		vm[i] = cmplx.Abs(vi)
		theta[i] = cmplx.Phase(vi)
	}

	jac := mat.NewDense(2*m, 2*m, nil)
	rhs := mat.NewVecDense(2*m, nil)
	var dx mat.VecDense

	iters := 0
	for iters < opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fillJacobian(g, jac, vm, theta, sCalc)
		for k := 0; k < m; k++ {
			rhs.SetVec(k, dp[k])
			rhs.SetVec(m+k, dq[k])
		}

		var lu mat.LU
		lu.Factorize(jac)
		if err := lu.SolveVecTo(&dx, false, rhs); err != nil {
			return g.solution(false, MethodFullNewton, iters, worst), nil
		}

		for k, i := range g.pq {
			theta[i] += dx.AtVec(k)
			vm[i] += dx.AtVec(m + k)
			g.v[i] = cmplx.Rect(vm[i], theta[i])
		}
		iters++

		sCalc = g.calcInjections()
		dp, dq, worst = g.mismatch(sCalc)
		if worst*g.base < opts.ToleranceMVA {
			return g.solution(true, MethodFullNewton, iters, worst), nil
		}
		if g.diverged(worst) {
			break
		}
	}
	return g.solution(false, MethodFullNewton, iters, worst), nil
}

// fillJacobian assembles [dP/dtheta dP/dV; dQ/dtheta dQ/dV] over the PQ
// buses at the current operating point.
func fillJacobian(g *grid, jac *mat.Dense, vm, theta []float64, sCalc []complex128) {
	m := len(g.pq)
	for a, i := range g.pq {
		pi := real(sCalc[i])
		qi := imag(sCalc[i])
		gii := real(g.ybus[i][i])
		bii := imag(g.ybus[i][i])
		for b, j := range g.pq {
			if i == j {
				jac.Set(a, b, -qi-bii*vm[i]*vm[i])
				jac.Set(a, m+b, pi/vm[i]+gii*vm[i])
				jac.Set(m+a, b, pi-gii*vm[i]*vm[i])
				jac.Set(m+a, m+b, qi/vm[i]-bii*vm[i])
				continue
			}
			y := g.ybus[i][j]
			if y == 0 {
				jac.Set(a, b, 0)
				jac.Set(a, m+b, 0)
				jac.Set(m+a, b, 0)
				jac.Set(m+a, m+b, 0)
				continue
			}
			gij := real(y)
			bij := imag(y)
			sin, cos := math.Sincos(theta[i] - theta[j])
			jac.Set(a, b, vm[i]*vm[j]*(gij*sin-bij*cos))
			jac.Set(a, m+b, vm[i]*(gij*cos+bij*sin))
			jac.Set(m+a, b, -vm[i]*vm[j]*(gij*cos+bij*sin))
			jac.Set(m+a, m+b, vm[i]*(gij*sin-bij*cos))
		}
	}
}
