package solv

import "math"

// LSMR minimizes ‖A·x − b‖² + damp²·‖x‖² following Fong & Saunders (2011).
// It runs the same Golub-Kahan process as LSQR but applies a second QR
// factorization to the bidiagonal, so the estimate of ‖Aᵀr‖ decreases
// monotonically. That keeps it better behaved on the ill-conditioned
// systems the double-difference problem produces.
//
// x must have length cols and is overwritten. itnlim = 0 picks 4·cols.
func LSMR(op Operator, b []float64, damp, atol, btol, conlim float64, itnlim int, x []float64) IterInfo {
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
	h := make([]float64, cols)
	hbar := make([]float64, cols)
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
	}

	normb := beta
	if alpha*beta == 0 {
		// b = 0 or Aᵀb = 0: x = 0 is already the least-squares solution
		return IterInfo{Stop: StopX0}
	}
	copy(h, v)

	var (
		itn      int
		zetabar  = alpha * beta
		alphabar = alpha
		rho      = 1.
		rhobar   = 1.
		cbar     = 1.
		sbar     = 0.

		// residual-norm estimation state
		betadd      = beta
		betad       = 0.
		rhodold     = 1.
		tautildeold = 0.
		thetatilde  = 0.
		zeta        = 0.
		dd          = 0.

		// norm estimates
		normA2  = alpha * alpha
		maxrbar = 0.
		minrbar = 1e+100

		normA, condA   float64
		normr, normar  float64
		normx          float64
		istop          = StopIterLim
	)
	normr = beta
	normar = alpha * beta

	for itn < itnlim {
		itn++

		// continue the bidiagonalization
		dscal(u, -alpha)
		op.AddMul(u, v)
		beta = dnrm2(u)
		if beta > 0 {
			dscal(u, 1./beta)
			dscal(v, -beta)
			op.AddMulT(v, u)
			alpha = dnrm2(v)
			if alpha > 0 {
				dscal(v, 1./alpha)
			}
		}

		// construct rotation Qhat_{k,2k+1} (eliminates the damping)
		alphahat := math.Sqrt(alphabar*alphabar + damp*damp)
		chat := alphabar / alphahat
		shat := damp / alphahat

		// rotation Q_{k,k+1}
		rhoold := rho
		rho = math.Sqrt(alphahat*alphahat + beta*beta)
		if rho == 0 {
			istop = StopSingular
			break
		}
		c := alphahat / rho
		s := beta / rho
		thetanew := s * alpha
		alphabar = c * alpha

		// rotation Qbar_{k,k+1}
		rhobarold := rhobar
		zetaold := zeta
		thetabar := sbar * rho
		rhotemp := cbar * rho
		rhobar = math.Sqrt(rhotemp*rhotemp + thetanew*thetanew)
		cbar = rhotemp / rhobar
		sbar = thetanew / rhobar
		zeta = cbar * zetabar
		zetabar = -sbar * zetabar

		// update hbar, x, h
		f1 := thetabar * rho / (rhoold * rhobarold)
		f2 := zeta / (rho * rhobar)
		f3 := thetanew / rho
		for i := range x {
			hbar[i] = h[i] - f1*hbar[i]
			x[i] += f2 * hbar[i]
			h[i] = v[i] - f3*h[i]
		}

		// estimate ‖r‖
		betaacute := chat * betadd
		betacheck := -shat * betadd
		betahat := c * betaacute
		betadd = -s * betaacute

		thetatildeold := thetatilde
		rhotildeold := math.Sqrt(rhodold*rhodold + thetabar*thetabar)
		ctildeold := rhodold / rhotildeold
		stildeold := thetabar / rhotildeold
		thetatilde = stildeold * rhobar
		rhodold = ctildeold * rhobar
		betad = -stildeold*betad + ctildeold*betahat

		tautildeold = (zetaold - thetatildeold*tautildeold) / rhotildeold
		taud := (zeta - thetatilde*tautildeold) / rhodold
		dd += betacheck * betacheck
		normr = math.Sqrt(dd + (betad-taud)*(betad-taud) + betadd*betadd)

		// estimate ‖A‖ and cond(A)
		normA2 += beta * beta
		normA = math.Sqrt(normA2)
		normA2 += alpha * alpha
		maxrbar = math.Max(maxrbar, rhobarold)
		if itn > 1 {
			minrbar = math.Min(minrbar, rhobarold)
		}
		condA = math.Max(maxrbar, rhotemp) / math.Min(minrbar, rhotemp)

		normar = math.Abs(zetabar)
		normx = dnrm2(x)

		// stopping rules, Fong & Saunders §4
		test1 := normr / normb
		var test2 float64
		if normA > 0 && normr > 0 {
			test2 = normar / (normA * normr)
		}
		test3 := 1. / condA
		t1 := test1 / (1. + normA*normx/normb)
		rtol := btol + atol*normA*normx/normb

		if itn >= itnlim {
			istop = StopIterLim
			break
		}
		if 1.+test3 <= 1. {
			istop = StopCondLim
			break
		}
		if 1.+test2 <= 1. {
			istop = StopMachEps
			break
		}
		if 1.+t1 <= 1. {
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
		ANorm:  normA,
		ACond:  condA,
		RNorm:  normr,
		ARNorm: normar,
		XNorm:  normx,
	}
}
