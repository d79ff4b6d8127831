package solv

import "math"

// LSQR minimizes ‖A·x − b‖² + damp²·‖x‖² by Golub-Kahan bidiagonalization,
// following Paige & Saunders (1982). The matrix is touched only through
// op.AddMul/AddMulT; every working vector is sized here, nothing is
// allocated per iteration.
//
// x must have length cols and is overwritten with the solution. itnlim = 0
// picks the 4·cols default.
func LSQR(op Operator, b []float64, damp, atol, btol, conlim float64, itnlim int, x []float64) IterInfo {
	rows, cols := op.Dims()
	if itnlim <= 0 {
		itnlim = 4 * cols
	}
	var ctol float64
	if conlim > 0 {
		ctol = 1. / conlim
	}

	u := make([]float64, rows)
	v := make([]float64, cols)
	w := make([]float64, cols)
	zero(x)

	copy(u, b)
	beta := dnrm2(u)
	var alpha float64
	if beta > 0 {
		dscal(u, 1./beta)
		op.AddMulT(v, u)
		alpha = dnrm2(v)
	}
	if alpha > 0 {
		dscal(v, 1./alpha)
		copy(w, v)
	}

	arnorm := alpha * beta
	if arnorm == 0 {
		// b = 0 or Aᵀb = 0: x = 0 is already the least-squares solution
		return IterInfo{Stop: StopX0}
	}

	var (
		itn                 int
		anorm, acond        float64
		dampsq              = damp * damp
		ddnorm, res2        float64
		xnorm, xxnorm, zz   float64
		cs2, sn2            = -1., 0.
		rhobar, phibar      = alpha, beta
		bnorm, rnorm        = beta, beta
		istop               = StopIterLim
	)

	for itn < itnlim {
		itn++

		// continue the bidiagonalization:
		//   u = A·v − alpha·u,  v = Aᵀ·u − beta·v
		dscal(u, -alpha)
		op.AddMul(u, v)
		beta = dnrm2(u)
		if beta > 0 {
			dscal(u, 1./beta)
			anorm = math.Sqrt(anorm*anorm + alpha*alpha + beta*beta + dampsq)
			dscal(v, -beta)
			op.AddMulT(v, u)
			alpha = dnrm2(v)
			if alpha > 0 {
				dscal(v, 1./alpha)
			}
		}

		// eliminate the damping parameter
		rhobar1 := math.Sqrt(rhobar*rhobar + dampsq)
		cs1 := rhobar / rhobar1
		sn1 := damp / rhobar1
		psi := sn1 * phibar
		phibar = cs1 * phibar

		// plane rotation zeroing the subdiagonal
		rho := math.Sqrt(rhobar1*rhobar1 + beta*beta)
		if rho == 0 {
			istop = StopSingular
			break
		}
		cs := rhobar1 / rho
		sn := beta / rho
		theta := sn * alpha
		rhobar = -cs * alpha
		phi := cs * phibar
		phibar = sn * phibar
		tau := sn * phi

		// update x and the search direction w
		t1 := phi / rho
		t2 := -theta / rho
		for i := range x {
			wi := w[i]
			x[i] += t1 * wi
			w[i] = v[i] + t2*wi
			ddnorm += (wi / rho) * (wi / rho)
		}

		// estimate ‖x‖
		delta := sn2 * rho
		gambar := -cs2 * rho
		rhs := phi - delta*zz
		zbar := rhs / gambar
		xnorm = math.Sqrt(xxnorm + zbar*zbar)
		gamma := math.Sqrt(gambar*gambar + theta*theta)
		cs2 = gambar / gamma
		sn2 = theta / gamma
		zz = rhs / gamma
		xxnorm += zz * zz

		acond = anorm * math.Sqrt(ddnorm)
		res2 += psi * psi
		rnorm = math.Sqrt(phibar*phibar + res2)
		arnorm = alpha * math.Abs(tau)

		// convergence tests, Paige & Saunders stopping rules 1-3
		test1 := rnorm / bnorm
		test2 := 0.
		if anorm > 0 && rnorm > 0 {
			test2 = arnorm / (anorm * rnorm)
		}
		test3 := 1. / acond
		t := test1 / (1. + anorm*xnorm/bnorm)
		rtol := btol + atol*anorm*xnorm/bnorm

		if 1.+test3 <= 1. {
			istop = StopCondLim
			break
		}
		if 1.+test2 <= 1. {
			istop = StopMachEps
			break
		}
		if 1.+t <= 1. {
			istop = StopMachEps
			break
		}
		if test3 <= ctol {
			istop = StopCondLim
			break
		}
		if test2 <= atol {
			istop = StopLSQ
			break
		}
		if test1 <= rtol {
			istop = StopAtol
			break
		}
	}

	return IterInfo{
		Stop:   istop,
		Itn:    itn,
		ANorm:  anorm,
		ACond:  acond,
		RNorm:  rnorm,
		ARNorm: arnorm,
		XNorm:  xnorm,
	}
}
