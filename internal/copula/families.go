package copula

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

func init() {
	register(Independence, buildIndependence)
	register(Gaussian, buildGaussian)
	register(Clayton, buildClayton)
	register(Gumbel, buildGumbel)
	register(Frank, buildFrank)
}

// Independence.

type indepCop struct{ dim int }

func (c indepCop) Family() Family    { return Independence }
func (c indepCop) Dim() int          { return c.dim }
func (c indepCop) Params() []float64 { return []float64{} }

func (c indepCop) Sample(n int, rng *rand.Rand) ([][]float64, error) {
	out := make([][]float64, n)
	for i := range out {
		row := make([]float64, c.dim)
		for j := range row {
			row[j] = rng.Float64()
		}
		out[i] = row
	}
	return out, nil
}

func (c indepCop) CDF(u, v float64) float64 { return u * v }

func buildIndependence(dim int, params []float64) (Model, error) {
	if len(params) != 0 {
		return nil, fmt.Errorf("independence takes no parameters, got %d", len(params))
	}
	return indepCop{dim: dim}, nil
}

// Gaussian. Parameters are the strict upper triangle of the correlation
// matrix in row-major order; positive definiteness is checked once at build
// time so sampling cannot fail later.

type gaussCop struct {
	dim    int
	params []float64
	corr   *mat.SymDense
}

func (c gaussCop) Family() Family    { return Gaussian }
func (c gaussCop) Dim() int          { return c.dim }
func (c gaussCop) Params() []float64 { return append([]float64(nil), c.params...) }

func (c gaussCop) Sample(n int, rng *rand.Rand) ([][]float64, error) {
	nd, ok := distmv.NewNormal(make([]float64, c.dim), c.corr, rng)
	if !ok {
		return nil, &SamplingError{Family: Gaussian, N: n, Reason: "correlation matrix is not positive definite"}
	}
	out := make([][]float64, n)
	z := make([]float64, c.dim)
	for i := range out {
		nd.Rand(z)
		row := make([]float64, c.dim)
		for j := range row {
			row[j] = clampOpen(distuv.UnitNormal.CDF(z[j]))
		}
		out[i] = row
	}
	return out, nil
}

func (c gaussCop) CDF(u, v float64) float64 {
	if u <= 0 || v <= 0 {
		return 0
	}
	if u >= 1 && v >= 1 {
		return 1
	}
	if u >= 1 {
		return v
	}
	if v >= 1 {
		return u
	}
	h := distuv.UnitNormal.Quantile(u)
	k := distuv.UnitNormal.Quantile(v)
	return bvnCDF(h, k, c.corr.At(0, 1))
}

func buildGaussian(dim int, params []float64) (Model, error) {
	want := dim * (dim - 1) / 2
	if len(params) != want {
		return nil, fmt.Errorf("gaussian with dim %d takes %d correlations, got %d", dim, want, len(params))
	}
	corr := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		corr.SetSym(i, i, 1)
	}
	k := 0
	for i := 0; i < dim; i++ {
		for j := i + 1; j < dim; j++ {
			rho := params[k]
			if !(rho > -1 && rho < 1) {
				return nil, fmt.Errorf("correlation must lie in (-1,1), got %v", rho)
			}
			corr.SetSym(i, j, rho)
			k++
		}
	}
	if _, ok := distmv.NewNormal(make([]float64, dim), corr, nil); !ok {
		return nil, errors.New("correlation matrix is not positive definite")
	}
	return gaussCop{dim: dim, params: append([]float64(nil), params...), corr: corr}, nil
}

// Clayton, theta > 0, sampled through the gamma frailty representation:
// W ~ Gamma(1/theta, 1), u_j = (1 + E_j/W)^(-1/theta).

type claytonCop struct {
	dim   int
	theta float64
}

func (c claytonCop) Family() Family    { return Clayton }
func (c claytonCop) Dim() int          { return c.dim }
func (c claytonCop) Params() []float64 { return []float64{c.theta} }

func (c claytonCop) Sample(n int, rng *rand.Rand) ([][]float64, error) {
	frailty := distuv.Gamma{Alpha: 1 / c.theta, Beta: 1, Src: rng}
	out := make([][]float64, n)
	for i := range out {
		w := frailty.Rand()
		row := make([]float64, c.dim)
		for j := range row {
			row[j] = clampOpen(math.Pow(1+rng.ExpFloat64()/w, -1/c.theta))
		}
		out[i] = row
	}
	return out, nil
}

func (c claytonCop) CDF(u, v float64) float64 {
	s := math.Pow(u, -c.theta) + math.Pow(v, -c.theta) - 1
	return math.Pow(s, -1/c.theta)
}

func buildClayton(dim int, params []float64) (Model, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("clayton takes one parameter, got %d", len(params))
	}
	if !(params[0] > 0) {
		return nil, fmt.Errorf("theta must be positive, got %v", params[0])
	}
	return claytonCop{dim: dim, theta: params[0]}, nil
}

// Gumbel, theta >= 1, sampled through the positive stable frailty with the
// Chambers-Mallows-Stuck representation. theta == 1 degenerates to
// independence and is sampled directly.

type gumbelCop struct {
	dim   int
	theta float64
}

func (c gumbelCop) Family() Family    { return Gumbel }
func (c gumbelCop) Dim() int          { return c.dim }
func (c gumbelCop) Params() []float64 { return []float64{c.theta} }

func (c gumbelCop) Sample(n int, rng *rand.Rand) ([][]float64, error) {
	if c.theta == 1 {
		return indepCop{dim: c.dim}.Sample(n, rng)
	}
	alpha := 1 / c.theta
	out := make([][]float64, n)
	for i := range out {
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		theta := math.Pi * u
		w := rng.ExpFloat64()
		v := math.Sin(alpha*theta) / math.Pow(math.Sin(theta), 1/alpha) *
			math.Pow(math.Sin((1-alpha)*theta)/w, (1-alpha)/alpha)
		row := make([]float64, c.dim)
		for j := range row {
			row[j] = clampOpen(math.Exp(-math.Pow(rng.ExpFloat64()/v, alpha)))
		}
		out[i] = row
	}
	return out, nil
}

func (c gumbelCop) CDF(u, v float64) float64 {
	s := math.Pow(-math.Log(u), c.theta) + math.Pow(-math.Log(v), c.theta)
	return math.Exp(-math.Pow(s, 1/c.theta))
}

func buildGumbel(dim int, params []float64) (Model, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("gumbel takes one parameter, got %d", len(params))
	}
	if !(params[0] >= 1) {
		return nil, fmt.Errorf("theta must be at least 1, got %v", params[0])
	}
	return gumbelCop{dim: dim, theta: params[0]}, nil
}

// Frank, bivariate only, theta != 0, sampled by conditional inversion.

type frankCop struct {
	theta float64
}

func (c frankCop) Family() Family    { return Frank }
func (c frankCop) Dim() int          { return 2 }
func (c frankCop) Params() []float64 { return []float64{c.theta} }

func (c frankCop) Sample(n int, rng *rand.Rand) ([][]float64, error) {
	out := make([][]float64, n)
	for i := range out {
		u1 := rng.Float64()
		t := rng.Float64()
		a := math.Exp(-c.theta * u1)
		u2 := -math.Log(1+t*(1-math.Exp(-c.theta))/(t*(a-1)-a)) / c.theta
		out[i] = []float64{u1, clampOpen(u2)}
	}
	return out, nil
}

func (c frankCop) CDF(u, v float64) float64 {
	d := math.Exp(-c.theta) - 1
	arg := 1 + (math.Exp(-c.theta*u)-1)*(math.Exp(-c.theta*v)-1)/d
	if arg <= 0 {
		// underflow at extreme theta, where the copula approaches the
		// comonotone bound
		return math.Min(u, v)
	}
	return -math.Log(arg) / c.theta
}

func buildFrank(dim int, params []float64) (Model, error) {
	if dim != 2 {
		return nil, fmt.Errorf("frank is bivariate, got dim %d", dim)
	}
	if len(params) != 1 {
		return nil, fmt.Errorf("frank takes one parameter, got %d", len(params))
	}
	theta := params[0]
	if theta == 0 || math.IsNaN(theta) || math.IsInf(theta, 0) {
		return nil, fmt.Errorf("theta must be a finite non-zero value, got %v", theta)
	}
	return frankCop{theta: theta}, nil
}
