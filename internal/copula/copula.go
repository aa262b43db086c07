// Package copula implements the dependence models used to couple uniform
// margins: independence, Gaussian, and the Clayton, Gumbel and Frank
// Archimedean families. Sampling and joint-CDF evaluation are split into
// separate capabilities because not every family supports both in every
// dimension.
package copula

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
)

// Family identifies a supported copula family.
type Family string

const (
	Independence Family = "independence"
	Gaussian     Family = "gaussian"
	Clayton      Family = "clayton"
	Gumbel       Family = "gumbel"
	Frank        Family = "frank"
)

// Model is a parameterized copula of fixed dimension.
type Model interface {
	Family() Family
	Dim() int
	Params() []float64
}

// Sampler yields joint uniform draws. Rows are independent; every value lies
// in [0,1).
type Sampler interface {
	Model
	Sample(n int, rng *rand.Rand) ([][]float64, error)
}

// CDFer evaluates the bivariate joint CDF C(u,v). Models of dimension
// greater than two evaluate their leading bivariate margin.
type CDFer interface {
	Model
	CDF(u, v float64) float64
}

// SamplingError reports a refused draw request.
type SamplingError struct {
	Family Family
	N      int
	Reason string
}

func (e *SamplingError) Error() string {
	return fmt.Sprintf("cannot draw %d samples from %s copula: %s", e.N, e.Family, e.Reason)
}

// Draw samples n joint uniform rows from the model. It fails with a
// SamplingError when n is not positive or the family has no sampler.
func Draw(m Model, n int, rng *rand.Rand) ([][]float64, error) {
	if n <= 0 {
		return nil, &SamplingError{Family: m.Family(), N: n, Reason: "sample count must be positive"}
	}
	s, ok := m.(Sampler)
	if !ok {
		return nil, &SamplingError{Family: m.Family(), N: n, Reason: "family does not support sampling"}
	}
	return s.Sample(n, rng)
}

type buildFunc func(dim int, params []float64) (Model, error)

var builders = map[Family]buildFunc{}

func register(f Family, build buildFunc) { builders[f] = build }

// Families lists every supported family in stable order.
func Families() []Family {
	out := make([]Family, 0, len(builders))
	for f := range builders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Parse resolves a family name case-insensitively, accepting the common
// aliases ("gauss", "normal", "indep").
func Parse(name string) (Family, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "gauss", "normal":
		key = string(Gaussian)
	case "indep", "independent", "ind":
		key = string(Independence)
	}
	f := Family(key)
	if _, ok := builders[f]; !ok {
		return "", fmt.Errorf("unsupported copula family %q", name)
	}
	return f, nil
}

// New builds a copula of the given family and dimension. Parameter layout is
// family-specific: none for independence, the strict upper triangle of the
// correlation matrix in row-major order for Gaussian, and a single theta for
// the Archimedean families.
func New(f Family, dim int, params []float64) (Model, error) {
	build, ok := builders[f]
	if !ok {
		return nil, fmt.Errorf("unsupported copula family %q", f)
	}
	if dim < 2 {
		return nil, fmt.Errorf("build %s copula: dimension must be at least 2, got %d", f, dim)
	}
	m, err := build(dim, params)
	if err != nil {
		return nil, fmt.Errorf("build %s copula: %w", f, err)
	}
	return m, nil
}

// clampOpen pulls a uniform draw off the closed endpoints. Exponential and
// normal draws can land exactly on 0 or round to 1; downstream tail inverses
// require u strictly below 1.
func clampOpen(u float64) float64 {
	if u >= 1 {
		return math.Nextafter(1, 0)
	}
	if u < 0 {
		return 0
	}
	return u
}
