package marginal

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

func init() {
	register(Exponential, fitExponential, buildExponential)
	register(Gamma, fitGamma, buildGamma)
	register(Gaussian, fitGaussian, buildGaussian)
	register(InverseGaussian, fitInverseGaussian, buildInverseGaussian)
	register(Logistic, fitLogistic, buildLogistic)
	register(LogNormal, fitLogNormal, buildLogNormal)
	register(Tweedie, fitTweedie, buildTweedie)
	register(Weibull, fitWeibull, buildWeibull)
	register(BirnbaumSaunders, fitBirnbaumSaunders, buildBirnbaumSaunders)
}

// Exponential, rate parameterization.

type expDist struct{ d distuv.Exponential }

func (e expDist) Family() Family             { return Exponential }
func (e expDist) Params() []float64          { return []float64{e.d.Rate} }
func (e expDist) Quantile(p float64) float64 { return e.d.Quantile(p) }
func (e expDist) CDF(x float64) float64      { return e.d.CDF(x) }

func buildExponential(params []float64) (Distribution, error) {
	if err := requireParams(Exponential, params, 1); err != nil {
		return nil, err
	}
	if params[0] <= 0 {
		return nil, errors.New("rate must be positive")
	}
	return expDist{d: distuv.Exponential{Rate: params[0]}}, nil
}

func fitExponential(xs []float64) (Distribution, error) {
	if err := requirePositive(xs, Exponential); err != nil {
		return nil, err
	}
	return buildExponential([]float64{1 / stat.Mean(xs, nil)})
}

// Gamma, shape/rate parameterization, fitted by moment matching.

type gammaDist struct{ d distuv.Gamma }

func (g gammaDist) Family() Family             { return Gamma }
func (g gammaDist) Params() []float64          { return []float64{g.d.Alpha, g.d.Beta} }
func (g gammaDist) Quantile(p float64) float64 { return g.d.Quantile(p) }
func (g gammaDist) CDF(x float64) float64      { return g.d.CDF(x) }

func buildGamma(params []float64) (Distribution, error) {
	if err := requireParams(Gamma, params, 2); err != nil {
		return nil, err
	}
	if params[0] <= 0 || params[1] <= 0 {
		return nil, errors.New("shape and rate must be positive")
	}
	return gammaDist{d: distuv.Gamma{Alpha: params[0], Beta: params[1]}}, nil
}

func fitGamma(xs []float64) (Distribution, error) {
	if err := requirePositive(xs, Gamma); err != nil {
		return nil, err
	}
	m, v := stat.MeanVariance(xs, nil)
	if v <= 0 {
		return nil, errors.New("sample variance is zero")
	}
	return buildGamma([]float64{m * m / v, m / v})
}

// Gaussian.

type gaussDist struct{ d distuv.Normal }

func (g gaussDist) Family() Family             { return Gaussian }
func (g gaussDist) Params() []float64          { return []float64{g.d.Mu, g.d.Sigma} }
func (g gaussDist) Quantile(p float64) float64 { return g.d.Quantile(p) }
func (g gaussDist) CDF(x float64) float64      { return g.d.CDF(x) }

func buildGaussian(params []float64) (Distribution, error) {
	if err := requireParams(Gaussian, params, 2); err != nil {
		return nil, err
	}
	if params[1] <= 0 {
		return nil, errors.New("sigma must be positive")
	}
	return gaussDist{d: distuv.Normal{Mu: params[0], Sigma: params[1]}}, nil
}

func fitGaussian(xs []float64) (Distribution, error) {
	m, sd := stat.MeanStdDev(xs, nil)
	if sd <= 0 {
		return nil, errors.New("sample standard deviation is zero")
	}
	return buildGaussian([]float64{m, sd})
}

// Inverse Gaussian (Wald), mean/shape parameterization, maximum likelihood
// fit. The CDF keeps the exp(2*lambda/mu) term on the log scale so large
// shape ratios do not overflow.

type invGaussDist struct{ mu, lambda float64 }

func (g invGaussDist) Family() Family    { return InverseGaussian }
func (g invGaussDist) Params() []float64 { return []float64{g.mu, g.lambda} }

func (g invGaussDist) CDF(x float64) float64 {
	if x <= 0 {
		return 0
	}
	s := math.Sqrt(g.lambda / x)
	first := distuv.UnitNormal.CDF(s * (x/g.mu - 1))
	tailPhi := distuv.UnitNormal.CDF(-s * (x/g.mu + 1))
	if tailPhi <= 0 {
		return first
	}
	second := math.Exp(2*g.lambda/g.mu + math.Log(tailPhi))
	f := first + second
	if f > 1 {
		return 1
	}
	return f
}

func (g invGaussDist) Quantile(p float64) float64 {
	return bisectQuantile(g.CDF, p, g.mu)
}

func buildInverseGaussian(params []float64) (Distribution, error) {
	if err := requireParams(InverseGaussian, params, 2); err != nil {
		return nil, err
	}
	if params[0] <= 0 || params[1] <= 0 {
		return nil, errors.New("mean and shape must be positive")
	}
	return invGaussDist{mu: params[0], lambda: params[1]}, nil
}

func fitInverseGaussian(xs []float64) (Distribution, error) {
	if err := requirePositive(xs, InverseGaussian); err != nil {
		return nil, err
	}
	mu := stat.Mean(xs, nil)
	recip := 0.0
	for _, v := range xs {
		recip += 1 / v
	}
	recip /= float64(len(xs))
	invLambda := recip - 1/mu
	if invLambda <= 0 {
		return nil, errors.New("sample is degenerate, shape is unbounded")
	}
	return buildInverseGaussian([]float64{mu, 1 / invLambda})
}

// Logistic, location/scale parameterization, fitted by moment matching.

type logisticDist struct{ mu, s float64 }

func (l logisticDist) Family() Family    { return Logistic }
func (l logisticDist) Params() []float64 { return []float64{l.mu, l.s} }

func (l logisticDist) Quantile(p float64) float64 {
	return l.mu + l.s*math.Log(p/(1-p))
}

func (l logisticDist) CDF(x float64) float64 {
	return 1 / (1 + math.Exp(-(x-l.mu)/l.s))
}

func buildLogistic(params []float64) (Distribution, error) {
	if err := requireParams(Logistic, params, 2); err != nil {
		return nil, err
	}
	if params[1] <= 0 {
		return nil, errors.New("scale must be positive")
	}
	return logisticDist{mu: params[0], s: params[1]}, nil
}

func fitLogistic(xs []float64) (Distribution, error) {
	m, sd := stat.MeanStdDev(xs, nil)
	if sd <= 0 {
		return nil, errors.New("sample standard deviation is zero")
	}
	return buildLogistic([]float64{m, sd * math.Sqrt(3) / math.Pi})
}

// Log-normal, fitted on the log scale.

type logNormDist struct{ d distuv.LogNormal }

func (l logNormDist) Family() Family             { return LogNormal }
func (l logNormDist) Params() []float64          { return []float64{l.d.Mu, l.d.Sigma} }
func (l logNormDist) Quantile(p float64) float64 { return l.d.Quantile(p) }
func (l logNormDist) CDF(x float64) float64      { return l.d.CDF(x) }

func buildLogNormal(params []float64) (Distribution, error) {
	if err := requireParams(LogNormal, params, 2); err != nil {
		return nil, err
	}
	if params[1] <= 0 {
		return nil, errors.New("log-scale sigma must be positive")
	}
	return logNormDist{d: distuv.LogNormal{Mu: params[0], Sigma: params[1]}}, nil
}

func fitLogNormal(xs []float64) (Distribution, error) {
	if err := requirePositive(xs, LogNormal); err != nil {
		return nil, err
	}
	logs := make([]float64, len(xs))
	for i, v := range xs {
		logs[i] = math.Log(v)
	}
	m, sd := stat.MeanStdDev(logs, nil)
	if sd <= 0 {
		return nil, errors.New("log sample standard deviation is zero")
	}
	return buildLogNormal([]float64{m, sd})
}

// Weibull, shape/scale parameterization, fitted by rank regression with
// Blom plotting positions.

type weibullDist struct{ d distuv.Weibull }

func (w weibullDist) Family() Family             { return Weibull }
func (w weibullDist) Params() []float64          { return []float64{w.d.K, w.d.Lambda} }
func (w weibullDist) Quantile(p float64) float64 { return w.d.Quantile(p) }
func (w weibullDist) CDF(x float64) float64      { return w.d.CDF(x) }

func buildWeibull(params []float64) (Distribution, error) {
	if err := requireParams(Weibull, params, 2); err != nil {
		return nil, err
	}
	if params[0] <= 0 || params[1] <= 0 {
		return nil, errors.New("shape and scale must be positive")
	}
	return weibullDist{d: distuv.Weibull{K: params[0], Lambda: params[1]}}, nil
}

func fitWeibull(xs []float64) (Distribution, error) {
	if err := requirePositive(xs, Weibull); err != nil {
		return nil, err
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := float64(len(sorted))
	lx := make([]float64, len(sorted))
	ly := make([]float64, len(sorted))
	for i, v := range sorted {
		f := (float64(i+1) - 0.375) / (n + 0.25)
		lx[i] = math.Log(v)
		ly[i] = math.Log(-math.Log(1 - f))
	}
	intercept, slope := stat.LinearRegression(lx, ly, nil, false)
	if !(slope > 0) {
		return nil, errors.New("rank regression produced a non-positive shape")
	}
	return buildWeibull([]float64{slope, math.Exp(-intercept / slope)})
}

// Birnbaum-Saunders, shape/scale parameterization, fitted by modified
// moments (sample mean and harmonic mean).

type bisaDist struct{ alpha, beta float64 }

func (b bisaDist) Family() Family    { return BirnbaumSaunders }
func (b bisaDist) Params() []float64 { return []float64{b.alpha, b.beta} }

func (b bisaDist) CDF(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := (math.Sqrt(x/b.beta) - math.Sqrt(b.beta/x)) / b.alpha
	return distuv.UnitNormal.CDF(z)
}

func (b bisaDist) Quantile(p float64) float64 {
	az := b.alpha * distuv.UnitNormal.Quantile(p)
	w := (az + math.Sqrt(az*az+4)) / 2
	return b.beta * w * w
}

func buildBirnbaumSaunders(params []float64) (Distribution, error) {
	if err := requireParams(BirnbaumSaunders, params, 2); err != nil {
		return nil, err
	}
	if params[0] <= 0 || params[1] <= 0 {
		return nil, errors.New("shape and scale must be positive")
	}
	return bisaDist{alpha: params[0], beta: params[1]}, nil
}

func fitBirnbaumSaunders(xs []float64) (Distribution, error) {
	if err := requirePositive(xs, BirnbaumSaunders); err != nil {
		return nil, err
	}
	s := stat.Mean(xs, nil)
	recip := 0.0
	for _, v := range xs {
		recip += 1 / v
	}
	r := float64(len(xs)) / recip
	if !(s/r > 1) {
		return nil, errors.New("sample is degenerate, shape is zero")
	}
	alpha := math.Sqrt(2 * (math.Sqrt(s/r) - 1))
	return buildBirnbaumSaunders([]float64{alpha, math.Sqrt(s * r)})
}

// bisectQuantile inverts a monotone CDF on (0, +inf) by doubling out an
// upper bracket from the given scale and bisecting. The caller guarantees
// p is in (0,1).
func bisectQuantile(cdf func(float64) float64, p, scale float64) float64 {
	if !(scale > 0) {
		scale = 1
	}
	hi := scale
	for i := 0; cdf(hi) < p && i < 1100; i++ {
		hi *= 2
	}
	lo := 0.0
	for i := 0; i < 128; i++ {
		mid := (lo + hi) / 2
		if cdf(mid) < p {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}
