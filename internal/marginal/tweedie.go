package marginal

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// defaultTweediePower pins the variance power when fitting from data. Powers
// strictly between 1 and 2 give the compound Poisson-gamma form with a point
// mass at zero, which is the regime of interest for intermittent series.
const defaultTweediePower = 1.5

// tweedieDist is the compound Poisson-gamma representation of a Tweedie
// distribution with 1 < power < 2: a Poisson(lambda) count of gamma jumps
// with shape jumpShape and scale jumpScale.
type tweedieDist struct {
	mu, phi, power float64

	lambda    float64
	jumpShape float64
	jumpScale float64
}

func (t tweedieDist) Family() Family    { return Tweedie }
func (t tweedieDist) Params() []float64 { return []float64{t.mu, t.phi, t.power} }

// MassAtZero returns the point mass P(X = 0).
func (t tweedieDist) MassAtZero() float64 { return math.Exp(-t.lambda) }

func (t tweedieDist) CDF(x float64) float64 {
	if x < 0 {
		return 0
	}
	p0 := math.Exp(-t.lambda)
	if x == 0 {
		return p0
	}
	f := p0
	poisCum := p0
	kMax := int(math.Ceil(t.lambda+10*math.Sqrt(t.lambda))) + 50
	for k := 1; k <= kMax; k++ {
		lg, _ := math.Lgamma(float64(k) + 1)
		pk := math.Exp(float64(k)*math.Log(t.lambda) - t.lambda - lg)
		jump := distuv.Gamma{Alpha: float64(k) * t.jumpShape, Beta: 1 / t.jumpScale}
		f += pk * jump.CDF(x)
		poisCum += pk
		if 1-poisCum < 1e-13 {
			break
		}
	}
	if f > 1 {
		return 1
	}
	return f
}

func (t tweedieDist) Quantile(p float64) float64 {
	if p <= t.MassAtZero() {
		return 0
	}
	return bisectQuantile(t.CDF, p, t.mu)
}

func buildTweedie(params []float64) (Distribution, error) {
	if err := requireParams(Tweedie, params, 3); err != nil {
		return nil, err
	}
	mu, phi, power := params[0], params[1], params[2]
	if mu <= 0 || phi <= 0 {
		return nil, errors.New("mean and dispersion must be positive")
	}
	if power <= 1 || power >= 2 {
		return nil, fmt.Errorf("power must lie strictly between 1 and 2, got %v", power)
	}
	return tweedieDist{
		mu:        mu,
		phi:       phi,
		power:     power,
		lambda:    math.Pow(mu, 2-power) / (phi * (2 - power)),
		jumpShape: (2 - power) / (power - 1),
		jumpScale: phi * (power - 1) * math.Pow(mu, power-1),
	}, nil
}

// fitTweedie matches the mean and variance at a fixed power. Zeros are legal
// observations here, unlike the other positive-support families.
func fitTweedie(xs []float64) (Distribution, error) {
	for _, v := range xs {
		if v < 0 {
			return nil, fmt.Errorf("tweedie requires non-negative observations, found %v", v)
		}
	}
	m, v := stat.MeanVariance(xs, nil)
	if m <= 0 {
		return nil, errors.New("sample mean is zero")
	}
	if v <= 0 {
		return nil, errors.New("sample variance is zero")
	}
	phi := v / math.Pow(m, defaultTweediePower)
	return buildTweedie([]float64{m, phi, defaultTweediePower})
}
