package copula

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Gauss-Legendre rule shared by the bivariate normal integral. 24 nodes hold
// the quadrature error well below the tracer's grid resolution for the
// correlation range accepted by NewGaussian.
var glNodes, glWeights = legendreRule(24)

// legendreRule returns the n-point Gauss-Legendre abscissas and weights on
// [-1,1], found by Newton iteration on the three-term Legendre recurrence.
func legendreRule(n int) ([]float64, []float64) {
	x := make([]float64, n)
	w := make([]float64, n)
	for i := 0; i < (n+1)/2; i++ {
		z := math.Cos(math.Pi * (float64(i) + 0.75) / (float64(n) + 0.5))
		var pp float64
		for step := 0; step < 100; step++ {
			p1, p2 := 1.0, 0.0
			for j := 0; j < n; j++ {
				p1, p2 = ((2*float64(j)+1)*z*p1-float64(j)*p2)/(float64(j)+1), p1
			}
			pp = float64(n) * (z*p1 - p2) / (z*z - 1)
			z1 := z
			z -= p1 / pp
			if math.Abs(z-z1) < 1e-15 {
				break
			}
		}
		x[i] = -z
		x[n-1-i] = z
		w[i] = 2 / ((1 - z*z) * pp * pp)
		w[n-1-i] = w[i]
	}
	return x, w
}

// bvnCDF evaluates P(Z1 <= h, Z2 <= k) for standard bivariate normal Z with
// correlation rho, using the Drezner-Wesolowsky single-integral form
//
//	Phi2(h,k,rho) = Phi(h)Phi(k)
//	  + (1/2pi) * Int_0^rho exp(-(h^2 - 2 r h k + k^2)/(2(1-r^2))) / sqrt(1-r^2) dr.
//
// The perfectly dependent limits are returned exactly.
func bvnCDF(h, k, rho float64) float64 {
	if math.IsInf(h, -1) || math.IsInf(k, -1) {
		return 0
	}
	if math.IsInf(h, 1) {
		return distuv.UnitNormal.CDF(k)
	}
	if math.IsInf(k, 1) {
		return distuv.UnitNormal.CDF(h)
	}
	if rho >= 1 {
		return distuv.UnitNormal.CDF(math.Min(h, k))
	}
	if rho <= -1 {
		return math.Max(0, distuv.UnitNormal.CDF(h)+distuv.UnitNormal.CDF(k)-1)
	}

	p := distuv.UnitNormal.CDF(h) * distuv.UnitNormal.CDF(k)
	if rho == 0 {
		return p
	}
	sum := 0.0
	for i, t := range glNodes {
		r := rho * (t + 1) / 2
		om := 1 - r*r
		sum += glWeights[i] * math.Exp(-(h*h-2*r*h*k+k*k)/(2*om)) / math.Sqrt(om)
	}
	p += rho / 2 * sum / (2 * math.Pi)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
